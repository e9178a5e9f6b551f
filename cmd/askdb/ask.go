package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var askJSON bool

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question and print the reply",
	Example: `  askdb ask "how many customers are there?"
  askdb ask --json "list five customers born before 1980"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		question := strings.Join(args, " ")
		out := cmd.OutOrStdout()

		if askJSON {
			outcome, _ := a.service.TranslateAndExecute(ctx, question)
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"request_id": outcome.RequestID,
				"query":      outcome.Query.Source(),
				"origin":     outcome.Query.Origin,
				"result":     outcome.Result,
			})
		}

		reply := a.service.HandleQuestion(ctx, question)
		fmt.Fprintln(out, reply.Reply)
		if reply.DebugQuery != nil {
			fmt.Fprintf(out, "\nquery: %s\n", *reply.DebugQuery)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the raw result instead of the reply text")
}
