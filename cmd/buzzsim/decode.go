package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"buzzcode-go/protocol"
)

func newDecodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <frame>",
		Short: "Decode a wire command",
		Long: `Decode one wire frame, e.g.:

  buzzsim decode "BUZZ:5|1000000|2|80|100|235"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := protocol.Decode([]byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("kind: %s\nseq:  %d\nts:   %dus\n", c.Kind, c.Seq, c.TimestampUs)
			if len(c.Data) > 0 {
				fmt.Printf("data: %s\n", strings.Join(c.Data, ", "))
			}
			return nil
		},
	}
}
