package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tallyfin/tallyfin/internal/common"
)

func learnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learn <transaction-id> <category>",
		Short: "Correct a transaction's category and learn from it",
		Long: `Record the correct category for a transaction and update the
matching patterns: patterns that predicted the wrong category are
weakened, the best pattern for the correct category is reinforced, and
a new pattern is created when none matches well enough.`,
		Args: cobra.ExactArgs(2),
		RunE: runLearn,
	}

	return cmd
}

func runLearn(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	transactionID, categoryName := args[0], args[1]

	eng, store, cleanup, err := initEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	txn, err := store.GetTransactionByID(ctx, transactionID)
	if err != nil {
		return fmt.Errorf("failed to load transaction %s: %w", transactionID, err)
	}

	category, err := store.GetCategoryByName(ctx, categoryName)
	if err != nil {
		return common.NewUserError(fmt.Sprintf("unknown category %q", categoryName), err)
	}

	// The previously assigned or suggested category is the prediction
	// being corrected, if there was one.
	predicted := txn.CategoryID
	if predicted == nil {
		predicted = txn.MLSuggestedCategoryID
	}

	result := eng.LearnFromCorrection(ctx, *txn, category.ID, predicted)
	if !result.Success {
		return fmt.Errorf("learning failed: %s", result.Error)
	}

	txn.CategoryID = &category.ID
	txn.MLSuggestedCategoryID = nil
	txn.CategorizationMethod = "user_correction"
	txn.MLCorrectionCount++
	if err := store.SaveTransaction(ctx, txn); err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}

	slog.Info("Correction learned",
		"transaction", txn.DisplayName(),
		"category", category.Name,
		"patterns_created", result.PatternsCreated,
		"patterns_updated", result.PatternsUpdated,
		"patterns_weakened", result.PatternsWeakened,
		"duration", result.Duration)

	return nil
}
