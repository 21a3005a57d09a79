// cmd/buzzsim/main.go
//
// Host-side simulator for the buzzer pair. Runs a leader and a follower
// in one process over loopback TCP so the full command path (framing,
// handshake, clock sync, scheduled bursts) can be exercised without
// hardware.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "buzzsim",
		Short:         "buzzcode pair simulator and protocol tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newPatternCommand())
	cmd.AddCommand(newDecodeCommand())
	return cmd
}
