package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tallyfin/tallyfin/internal/common"
	"github.com/tallyfin/tallyfin/internal/model"
	"github.com/tallyfin/tallyfin/internal/ofx"
)

func importOFXCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-ofx [files...]",
		Short: "Import transactions from OFX/QFX files",
		Long: `Import financial transactions from OFX or QFX (Quicken) files
exported from your bank.

Examples:
  tallyfin import-ofx ~/Downloads/chase_jan_2026.qfx
  tallyfin import-ofx ~/Downloads/*.qfx`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImportOFX,
	}

	cmd.Flags().BoolP("dry-run", "d", false, "Preview import without saving")

	return cmd
}

func runImportOFX(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	var allFiles []string
	for _, pattern := range args {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			if _, err := os.Stat(pattern); err == nil {
				allFiles = append(allFiles, pattern)
			} else {
				slog.Warn("No files found matching pattern", "pattern", pattern)
			}
		} else {
			allFiles = append(allFiles, matches...)
		}
	}

	if len(allFiles) == 0 {
		return fmt.Errorf("no files found to import")
	}

	slog.Info("Importing OFX files",
		"file_count", len(allFiles),
		"dry_run", dryRun)

	parser := ofx.NewParser()
	seen := make(map[string]bool)
	var allTransactions []model.Transaction

	for _, filePath := range allFiles {
		f, err := os.Open(filePath)
		if err != nil {
			common.LogError(err, "Failed to open file", common.Fields{"file": filePath})
			continue
		}

		transactions, err := parser.ParseFile(ctx, f)
		_ = f.Close()
		if err != nil {
			common.LogError(err, "Failed to parse OFX file", common.Fields{"file": filePath})
			continue
		}

		added := 0
		for _, tx := range transactions {
			if !seen[tx.Hash] {
				seen[tx.Hash] = true
				allTransactions = append(allTransactions, tx)
				added++
			}
		}

		slog.Info("Processed file",
			"file", filepath.Base(filePath),
			"transactions", added,
			"duplicates", len(transactions)-added)
	}

	if len(allTransactions) == 0 {
		slog.Warn("No new transactions found")
		return nil
	}

	if dryRun {
		slog.Info("Dry run, nothing saved", "transactions", len(allTransactions))
		return nil
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.SaveTransactions(ctx, allTransactions); err != nil {
		return fmt.Errorf("failed to save transactions: %w", err)
	}

	slog.Info("Import complete", "transactions", len(allTransactions))
	return nil
}
