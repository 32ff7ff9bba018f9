package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/pkg/review"
)

func newDecisionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Show recent review decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			records, err := review.RecentDecisions(cfg.StateDir, limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no decisions recorded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSTATUS\tESCALATED\tREASON")
			for _, rec := range records {
				status, escalated := "unknown", false
				if rec.Result != nil {
					status = rec.Result.Status
					escalated = rec.Result.ShouldEscalate
				}
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\n",
					rec.Timestamp.Local().Format("2006-01-02 15:04:05"),
					status, escalated, rec.Reason)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of decisions to show")
	return cmd
}
