// File: cmd/history.go
package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/converge-cli/internal/observability"
)

// newHistoryCmd creates the `history` command, which lists past convergence
// runs recorded against a target URL.
func newHistoryCmd() *cobra.Command {
	var targetURL string

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List past convergence runs for a target URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig()
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return fmt.Errorf("run history requires a database (set CONVERGE_DATABASE_DSN)")
			}

			ctx := cmd.Context()
			logger := observability.GetLogger()

			runStore, cleanup, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			records, err := runStore.GetRunsByTarget(ctx, targetURL)
			if err != nil {
				return fmt.Errorf("failed to load run history: %w", err)
			}
			if len(records) == 0 {
				fmt.Fprintf(os.Stdout, "No runs recorded for %s\n", targetURL)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tVARIATION\tNAME\tSTATE\tITERATIONS\tDURATION\tREASON")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
					r.ID, r.VariationID, r.Name,
					r.Outcome.State, r.Outcome.Iterations,
					r.Outcome.Duration, r.Outcome.Reason)
			}
			return w.Flush()
		},
	}

	historyCmd.Flags().StringVar(&targetURL, "url", "", "URL the runs were recorded against (required)")
	_ = historyCmd.MarkFlagRequired("url")

	return historyCmd
}
