package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func patternsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "patterns",
		Aliases: []string{"pattern"},
		Short:   "Manage learned categorization patterns",
	}

	cmd.AddCommand(patternsListCmd())
	cmd.AddCommand(patternsDeactivateCmd())
	cmd.AddCommand(patternsMergeCmd())

	return cmd
}

func patternsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List learned patterns",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			activeOnly, _ := cmd.Flags().GetBool("active")

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			patterns, err := store.ListAllPatterns(ctx)
			if err != nil {
				return fmt.Errorf("failed to list patterns: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tTYPE\tVALUE\tCATEGORY\tWEIGHT\tUSED\tSUCCESS\tACTIVE")

			shown := 0
			for i := range patterns {
				p := &patterns[i]
				if activeOnly && !p.IsActive {
					continue
				}
				shown++
				rate := "-"
				if sr, ok := p.SuccessRate(); ok {
					rate = fmt.Sprintf("%.0f%%", sr*100)
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.2f\t%d\t%s\t%t\n",
					p.ID, p.Type, p.Value, p.CategoryID,
					p.ConfidenceWeight, p.UsageCount, rate, p.IsActive)
			}
			if err := w.Flush(); err != nil {
				return fmt.Errorf("failed to write table: %w", err)
			}

			if shown == 0 {
				slog.Info("No patterns found")
			}
			return nil
		},
	}

	cmd.Flags().Bool("active", false, "Show only active patterns")

	return cmd
}

func patternsDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <pattern-id>",
		Short: "Deactivate a pattern so it no longer matches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			pattern, err := store.GetPattern(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to load pattern %s: %w", args[0], err)
			}

			if !pattern.IsActive {
				slog.Info("Pattern already inactive", "pattern_id", pattern.ID)
				return nil
			}

			pattern.IsActive = false
			if err := store.SavePattern(ctx, pattern); err != nil {
				return fmt.Errorf("failed to save pattern: %w", err)
			}

			slog.Info("Pattern deactivated",
				"pattern_id", pattern.ID,
				"value", pattern.Value)
			return nil
		},
	}
}

func patternsMergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "Merge near-duplicate patterns",
		Long: `Find patterns of the same type and category whose values are nearly
identical and merge each pair into the more established one.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			eng, _, cleanup, err := initEngine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			merged, err := eng.Learner().MergeDuplicates(ctx)
			if err != nil {
				return fmt.Errorf("merge pass failed: %w", err)
			}

			slog.Info("Merge pass complete", "merged", merged)
			return nil
		},
	}
}
