package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show engine health and activity metrics",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	eng, _, cleanup, err := initEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	m := eng.Metrics(ctx)

	health := "healthy"
	if !eng.Healthy() {
		health = "degraded (pattern store circuit open)"
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Health\t%s\n", health)
	_, _ = fmt.Fprintf(w, "Breaker state\t%s\n", m.BreakerState)
	_, _ = fmt.Fprintf(w, "Categorizations\t%d\n", m.Categorizations)
	_, _ = fmt.Fprintf(w, "  successes\t%d\n", m.Successes)
	_, _ = fmt.Fprintf(w, "  no match\t%d\n", m.NoMatches)
	_, _ = fmt.Fprintf(w, "  failures\t%d\n", m.Failures)
	_, _ = fmt.Fprintf(w, "Cached pattern sets\t%d\n", m.CachedPatterns)
	_, _ = fmt.Fprintf(w, "Patterns\t%d (%d active)\n", m.Learning.TotalPatterns, m.Learning.ActivePatterns)
	_, _ = fmt.Fprintf(w, "Corrections processed\t%d\n", m.Learning.CorrectionsProcessed)
	_, _ = fmt.Fprintf(w, "Score calculations\t%d\n", m.Confidence.Calculations)
	_, _ = fmt.Fprintf(w, "Score cache hit rate\t%.1f%%\n", m.Confidence.CacheHitRate*100)
	_, _ = fmt.Fprintf(w, "Score latency p50/p95/p99\t%s / %s / %s\n",
		m.Confidence.P50Latency, m.Confidence.P95Latency, m.Confidence.P99Latency)
	return w.Flush()
}
