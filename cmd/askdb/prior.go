package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"
)

var priorCmd = &cobra.Command{
	Use:   "prior [question]",
	Short: "Print the grounding payload the model would receive",
	Long: `Sample the database and print the inferred schemas, relationship
candidates and ranked collections for a question. No model is called.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		pd, err := a.assembler.Assemble(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(pd)
	},
}
