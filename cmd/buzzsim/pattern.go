package main

import (
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"

	"buzzcode-go/pattern"
)

type patternOptions struct {
	Kind    string
	Fingers int
	BurstMs float64
	RestMs  float64
	Jitter  float64
	Mirror  bool
	Count   int
	Seed    int64
}

func newPatternCommand() *cobra.Command {
	opts := &patternOptions{}

	cmd := &cobra.Command{
		Use:   "pattern",
		Short: "Generate and print stimulation patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printPatterns(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "random", "pattern kind (random|sequential|mirrored)")
	cmd.Flags().IntVar(&opts.Fingers, "fingers", 4, "fingers per hand")
	cmd.Flags().Float64Var(&opts.BurstMs, "burst", 100, "burst duration, ms")
	cmd.Flags().Float64Var(&opts.RestMs, "rest", 67, "rest duration, ms")
	cmd.Flags().Float64Var(&opts.Jitter, "jitter", 0, "rest jitter, percent")
	cmd.Flags().BoolVar(&opts.Mirror, "mirror", false, "mirror secondary hand")
	cmd.Flags().IntVar(&opts.Count, "count", 1, "patterns to generate")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 1, "random seed")

	return cmd
}

func printPatterns(opts *patternOptions) error {
	kind, ok := pattern.ParseKind(opts.Kind)
	if !ok {
		return fmt.Errorf("unknown pattern kind %q", opts.Kind)
	}
	params := pattern.Params{
		NumFingers:    opts.Fingers,
		BurstMs:       opts.BurstMs,
		RestMs:        opts.RestMs,
		JitterPercent: opts.Jitter,
		Mirror:        opts.Mirror,
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	for i := 0; i < opts.Count; i++ {
		p, err := pattern.Generate(kind, params, rng)
		if err != nil {
			return err
		}
		fmt.Printf("pattern %d: burst=%.1fms relax=%.1fms\n", i+1, p.BurstMs, p.RelaxMs)
		for s := 0; s < p.Steps(); s++ {
			fmt.Printf("  step %d: primary=%d secondary=%d rest=%.1fms\n",
				s, p.Primary[s], p.Secondary[s], p.RestMs[s])
		}
	}
	return nil
}
