package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/balandzin/Weather-API/internal/config"
	"github.com/balandzin/Weather-API/internal/observability"
)

type ctxKey string

const (
	loggerKey ctxKey = "logger"
	configKey ctxKey = "config"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "weather",
	Short: "Weather - current conditions and forecast for a city or your location",
	Long: `Weather fetches current conditions and a multi-day forecast from OpenWeatherMap,
keeps the last forecast for offline viewing, and can follow the device location.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := observability.NewLogger()
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		dir := configDir
		if dir == "" {
			if dir, err = os.Getwd(); err != nil {
				return fmt.Errorf("working directory: %w", err)
			}
		}
		cfg, err := config.LoadDir(dir)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		ctx := context.WithValue(cmd.Context(), loggerKey, logger)
		ctx = context.WithValue(ctx, configKey, cfg)
		cmd.SetContext(ctx)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		_ = observability.FlushTelemetry(cmd.Context(), loggerFrom(cmd))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "dir", "", "project directory holding config/ and .env (default: working directory)")
}

func loggerFrom(cmd *cobra.Command) *zap.Logger {
	logger, _ := cmd.Context().Value(loggerKey).(*zap.Logger)
	return observability.OrNop(logger)
}

func configFrom(cmd *cobra.Command) *config.Config {
	cfg, _ := cmd.Context().Value(configKey).(*config.Config)
	return cfg
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
