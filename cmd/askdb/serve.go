package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matthewbaird/askdb/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat API",
	Long: `Serve POST /chat, GET /healthz, GET /api/schema, GET /api/history and the
streaming endpoint GET /api/ws until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		srv := server.New(server.Config{
			Addr:         cfg.Server.Addr,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}, a.service, a.assembler, a.history, logger)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Run(gctx) })
		g.Go(func() error {
			// Warm-up only: a failure here is reported per request later.
			pd, err := a.assembler.Assemble(gctx, "")
			if err != nil {
				logger.Warn("schema discovery failed at startup", zap.Error(err))
				return nil
			}
			logger.Info("schema discovered", zap.Strings("collections", pd.Collections()))
			return nil
		})
		return g.Wait()
	},
}
