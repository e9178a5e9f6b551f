package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/askdb/internal/docstore"
	"github.com/matthewbaird/askdb/internal/policy"
	"github.com/matthewbaird/askdb/internal/schema"
)

var errDrift = errors.New("policy drift detected")

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare the policy with the live database",
	Long: `Sample the database and report policy entries that no longer match it:
collections or fields that were not found, intents that reference unknown
collections or fields, and collections the policy does not cover.

Exits non-zero when drift is found.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		pol, err := loadPolicy(cfg)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		store, err := docstore.Connect(ctx, cfg.Store.URI, cfg.Store.Database, logger)
		if err != nil {
			return err
		}
		defer store.Close(context.Background())

		intro := schema.NewIntrospector(store,
			schema.WithSampleSize(cfg.Sampling.SampleSize),
			schema.WithMaxDepth(cfg.Sampling.MaxDepth),
			schema.WithLogger(logger),
		)
		return runCheck(ctx, cmd.OutOrStdout(), pol, intro)
	},
}

type catalogSource interface {
	Infer(ctx context.Context) (*schema.Catalog, error)
}

func runCheck(ctx context.Context, w io.Writer, pol *policy.Policy, src catalogSource) error {
	cat, err := src.Infer(ctx)
	if err != nil {
		return err
	}

	drift := pol.Drift(cat)
	for _, d := range drift {
		fmt.Fprintln(w, d)
	}
	if len(drift) > 0 {
		return fmt.Errorf("%w: %d problem(s)", errDrift, len(drift))
	}
	fmt.Fprintf(w, "policy matches %d collection(s)\n", cat.Len())
	return nil
}
