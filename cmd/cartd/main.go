package main

import (
	"fmt"
	"os"

	"github.com/fjod/go_cart/marketcart/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "cartd",
	Short: "Multi-seller shopping cart service",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var (
			envFile bool
			err     error
		)
		cfg, envFile, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger, err = newLogger(cfg.LogLevel)
		if err != nil {
			return err
		}
		if !envFile {
			logger.Debug("no .env file found, using environment")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func main() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(showCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
