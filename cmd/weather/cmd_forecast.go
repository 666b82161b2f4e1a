package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/balandzin/Weather-API/internal/viewstate"
)

var forecastCmd = &cobra.Command{
	Use:     "forecast",
	Short:   "Show the multi-day forecast for a city and save it for offline use",
	Example: `  weather forecast --city Paris`,
	RunE:    runForecast,
}

var cachedCmd = &cobra.Command{
	Use:   "cached",
	Short: "Show the last saved forecast without touching the network",
	RunE:  runCached,
}

func init() {
	forecastCmd.Flags().String("city", "", "city name, sent verbatim (default: refresh.default_city)")
	rootCmd.AddCommand(forecastCmd, cachedCmd)
}

func runForecast(cmd *cobra.Command, args []string) error {
	cfg := configFrom(cmd)
	rt, err := newRuntime(cmd.Context(), cfg, loggerFrom(cmd))
	if err != nil {
		return err
	}
	defer rt.close()

	city, err := cityFlag(cmd, cfg.DefaultCity, cfg.CityMaxLength)
	if err != nil {
		return err
	}
	bundle := <-rt.service.Forecast(cmd.Context(), city)
	if bundle == nil {
		return errNoData
	}
	if err := rt.cache.Save(cmd.Context(), *bundle); err != nil {
		rt.logger.Warn("forecast not saved", zap.Error(err))
	}
	renderForecast(cmd.OutOrStdout(), viewstate.ProjectForecast(bundle, cfg.Location()))
	return nil
}

func runCached(cmd *cobra.Command, args []string) error {
	cfg := configFrom(cmd)
	rt, err := newRuntime(cmd.Context(), cfg, loggerFrom(cmd))
	if err != nil {
		return err
	}
	defer rt.close()

	bundle, ok, err := rt.cache.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("load saved forecast: %w", err)
	}
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "No saved forecast.")
		return nil
	}
	renderForecast(cmd.OutOrStdout(), viewstate.ProjectForecast(&bundle, cfg.Location()))
	return nil
}
