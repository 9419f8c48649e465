package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"agentrelay/internal/history"

	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	var (
		limit     int
		recipient string
		stats     bool
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent delivery results from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.History.Enabled {
				return fmt.Errorf("history is disabled (history.enabled=false)")
			}
			hs, err := history.Open(cfg.History.DBPath, logger)
			if err != nil {
				return err
			}
			defer hs.Close()

			if stats {
				st, err := hs.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(st)
			}

			results, err := hs.Recent(cmd.Context(), limit, recipient)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(results)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "COMPLETED\tID\tFROM\tTO\tOUTCOME\tSTRATEGY/REASON\tATTEMPTS")
			for _, r := range results {
				via := r.Strategy
				if !r.Succeeded() {
					via = string(r.Reason)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
					r.CompletedAt.Local().Format(time.DateTime), shortID(r.MessageID),
					r.Sender, r.Recipient, r.Outcome, via, len(r.Attempts))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of results")
	cmd.Flags().StringVar(&recipient, "to", "", "only results for this recipient")
	cmd.Flags().BoolVar(&stats, "stats", false, "print totals instead of results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}
