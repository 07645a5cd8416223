package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trifle-labs/clawdice-frontend-sub000/internal/app"
	"github.com/trifle-labs/clawdice-frontend-sub000/internal/config"
	"github.com/trifle-labs/clawdice-frontend-sub000/pkg/logger"
)

const defaultConfigPath = "config/config.yaml"

type rootOptions struct {
	configPath string
	logLevel   string
}

// newRootCmd 创建 clawdice 根命令
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "clawdice",
		Short:         "Clawdice bet lifecycle client",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newBetCmd(opts),
		newSweepCmd(opts),
		newSessionCmd(opts),
		newOutcomeCmd(opts),
		newHistoryCmd(opts),
	)
	return rootCmd
}

// loadConfig 加载配置并初始化日志
//
// 子命令的结果写 stdout, 日志一律写 stderr。
func loadConfig(opts *rootOptions, service bool) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	lc := &logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: cfg.Service.Name,
		Output:      cfg.Log.Output,
	}
	if !service {
		lc.Format = "console"
		lc.Level = "warn"
	}
	if opts.logLevel != "" {
		lc.Level = opts.logLevel
	}
	if service {
		err = logger.Init(lc)
	} else {
		err = logger.InitWithWriter(lc, os.Stderr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return cfg, nil
}

// openApp 加载配置并初始化组件, 返回的 close 负责释放资源
func openApp(ctx context.Context, opts *rootOptions) (*app.App, func(), error) {
	cfg, err := loadConfig(opts, false)
	if err != nil {
		return nil, nil, err
	}
	application := app.New(cfg)
	if err := application.Init(ctx); err != nil {
		closeApp(application)
		return nil, nil, err
	}
	return application, func() { closeApp(application) }, nil
}

func closeApp(application *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	_ = logger.Sync()
}
