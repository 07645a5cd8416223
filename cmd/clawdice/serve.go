package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/app"
	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local control API, auto-reveal and live feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, err := loadConfig(opts, true)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting service",
		zap.String("service", cfg.Service.Name),
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.Int64("chain_id", cfg.Blockchain.ChainID))

	application := app.New(cfg)
	err = application.Init(ctx)
	if err == nil {
		err = application.Start()
	}
	if err != nil {
		closeApp(application)
		return err
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	logger.Info("service stopped")
	return nil
}
