package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/askdb/internal/history"
)

var (
	historyLimit   int
	historyOutcome string
	historySince   time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent requests",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		hs, closeHistory, err := openHistory(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeHistory()

		opts := history.QueryOptions{Limit: historyLimit, Outcome: historyOutcome}
		if historySince > 0 {
			since := time.Now().Add(-historySince)
			opts.Since = &since
		}
		recs, err := hs.Recent(ctx, opts)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tOUTCOME\tROWS\tELAPSED\tQUESTION")
		for _, r := range recs {
			outcome := r.Outcome
			if r.ErrorClass != "" {
				outcome += " (" + r.ErrorClass + ")"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%dms\t%s\n",
				r.CreatedAt.Local().Format(time.DateTime), outcome, r.Rows, r.ElapsedMS, r.Question)
		}
		return tw.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of requests")
	historyCmd.Flags().StringVar(&historyOutcome, "outcome", "", "Only show success or failed requests")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "Only show requests newer than this (e.g. 24h)")
}
