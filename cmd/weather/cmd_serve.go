package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	httphandler "github.com/balandzin/Weather-API/internal/http"
	"github.com/balandzin/Weather-API/internal/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve both screens and their commands over HTTP",
	Long: `Serve exposes the current and forecast screens as JSON, accepts refresh and
location permission commands, and streams changes as server-sent events on /events.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := configFrom(cmd)
	logger := loggerFrom(cmd)
	rt, err := newRuntime(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()
	if err := rt.start(cmd.Context()); err != nil {
		return err
	}
	if cfg.DefaultCity != "" {
		if err := rt.controller.Refresh(cmd.Context(), cfg.DefaultCity); err != nil {
			logger.Warn("default city not loaded", zap.String("city", cfg.DefaultCity), zap.Error(err))
		}
	}

	var authorizer httphandler.Authorizer
	if rt.provider != nil {
		authorizer = rt.provider
	}
	handler := httphandler.NewHandler(rt.store, rt.controller, rt.client, authorizer, httphandler.HandlerConfig{
		Location:  cfg.Location(),
		CachePing: rt.cachePing,
	}, logger)

	router := httphandler.NewRouter(handler, httphandler.RouterOptions{
		Limiter:        rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		RequestTimeout: cfg.WeatherAPITimeout,
	}, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-cmd.Context().Done():
	}

	logger.Info("shutting down")
	handler.SetShuttingDown(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	if err := httphandler.WaitForInFlight(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests did not drain", zap.Int64("in_flight", httphandler.InFlightCount()), zap.Error(err))
	}
	if err := observability.FlushTelemetry(shutdownCtx, logger); err != nil {
		logger.Debug("flush telemetry", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}
