package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/tallyfin/tallyfin/internal/apply"
	"github.com/tallyfin/tallyfin/internal/common"
	"github.com/tallyfin/tallyfin/internal/config"
	"github.com/tallyfin/tallyfin/internal/model"
	"github.com/tallyfin/tallyfin/internal/service"
)

func categorizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categorize",
		Short: "Categorize uncategorized transactions",
		Long: `Run the categorization engine over uncategorized transactions.

Matches above the auto-categorize threshold are assigned directly;
lower-confidence matches are stored as suggestions for review.`,
		RunE: runCategorize,
	}

	cmd.Flags().IntP("limit", "n", 0, "Maximum transactions to process (0 = all)")
	cmd.Flags().BoolP("dry-run", "d", false, "Preview results without saving")

	return cmd
}

func runCategorize(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	limit, _ := cmd.Flags().GetInt("limit")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	eng, store, cleanup, err := initEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	transactions, err := store.GetUncategorized(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to load transactions: %w", err)
	}

	if len(transactions) == 0 {
		slog.Info("No uncategorized transactions found")
		return nil
	}

	slog.Info("Categorizing transactions",
		"count", len(transactions),
		"dry_run", dryRun)

	policy := apply.New(config.EngineConfig().AutoCategorizeThreshold, eng.Learner())

	bar := progressbar.NewOptions(len(transactions),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Categorizing..."),
	)

	var assigned, suggested, noMatch, failed int
	for i := range transactions {
		txn := &transactions[i]
		result := eng.Categorize(ctx, *txn)
		_ = bar.Add(1)

		switch {
		case result.Failed():
			failed++
			common.LogError(fmt.Errorf("%s", result.Error), "Categorization failed",
				common.Fields{"transaction": txn.DisplayName()})
			continue
		case result.Status == model.StatusNoMatch:
			noMatch++
			continue
		}

		if !policy.Apply(result, txn) {
			noMatch++
			continue
		}
		if txn.CategoryID != nil {
			assigned++
		} else {
			suggested++
		}

		if !dryRun {
			// SQLite can report busy under WAL; a short retry rides it out.
			err := common.WithRetry(ctx, func() error {
				return store.SaveTransaction(ctx, txn)
			}, service.RetryOptions{MaxAttempts: 3, InitialDelay: 50 * time.Millisecond})
			if err != nil {
				return fmt.Errorf("failed to save transaction %s: %w", txn.ID, err)
			}
		}
	}
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	common.LogInfo("Categorization complete", common.Fields{
		"assigned":  assigned,
		"suggested": suggested,
		"no_match":  noMatch,
		"failed":    failed,
	})

	return nil
}
