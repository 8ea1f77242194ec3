package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tallyfin/tallyfin/internal/learning"
)

func decayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decay",
		Short: "Decay the weight of unused patterns",
		Long: `Reduce the confidence weight of patterns that have not matched a
transaction recently, so stale merchant patterns gradually lose
influence. Intended to run periodically, e.g. from cron.`,
		RunE: runDecay,
	}

	cmd.Flags().Duration("inactive-for", 90*24*time.Hour, "Decay patterns unused for at least this long")
	cmd.Flags().Float64("factor", learning.DefaultConfig().DecayFactor, "Multiplier applied to decayed pattern weights")

	return cmd
}

func runDecay(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	inactiveFor, _ := cmd.Flags().GetDuration("inactive-for")
	factor, _ := cmd.Flags().GetFloat64("factor")

	eng, _, cleanup, err := initEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := eng.DecayUnusedPatterns(ctx, inactiveFor, factor)
	if err != nil {
		return fmt.Errorf("decay pass failed: %w", err)
	}

	slog.Info("Decay pass complete",
		"examined", result.Examined,
		"decayed", result.Decayed,
		"inactive_for", inactiveFor,
		"factor", factor)

	return nil
}
