// File: cmd/history.go
package cmd

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/plancheck/internal/observability"
	"github.com/xkilldash9x/plancheck/internal/store"
)

// ErrNoDatabase is returned by commands that need the result database when none is configured.
var ErrNoDatabase = errors.New("no result database configured; set database.url or PLANCHECK_DATABASE_URL")

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	historyCmd := &cobra.Command{
		Use:   "history <plan name>",
		Short: "Show the latest persisted runs of a test plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if cfg.Database().URL == "" {
				return ErrNoDatabase
			}

			components, err := a.factory.Create(ctx, cfg, observability.GetLogger())
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()
			if components.History == nil {
				return ErrNoDatabase
			}

			runs, err := components.History.RecentRuns(ctx, args[0], limit)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), args[0], runs)
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	return historyCmd
}

func printHistory(out io.Writer, planName string, runs []store.RunSummary) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintf(out, "No runs recorded for %q.\n", planName)
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tRUN ID\tPERSONA\tRESULT\tDURATION\tFAILURE")
	for _, r := range runs {
		result, failure := "PASS", ""
		if !r.Passed {
			result = "FAIL"
			failure = fmt.Sprintf("[%s] %s", r.FailedStage, r.FailureMessage)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.UTC().Format(time.DateTime), r.RunID, r.Persona, result,
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond), failure)
	}
	return w.Flush()
}
