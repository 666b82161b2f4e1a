package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/balandzin/Weather-API/internal/models"
	"github.com/balandzin/Weather-API/internal/validation"
	"github.com/balandzin/Weather-API/internal/viewstate"
)

var errNoData = errors.New("no data: the provider returned nothing usable (see logs)")

var currentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show current conditions for a city or coordinate",
	Example: `  weather current --city London
  weather current --lat 53.9 --lon 27.56`,
	RunE: runCurrent,
}

func init() {
	currentCmd.Flags().String("city", "", "city name, sent verbatim (default: refresh.default_city)")
	currentCmd.Flags().Float64("lat", 0, "latitude")
	currentCmd.Flags().Float64("lon", 0, "longitude")
	currentCmd.MarkFlagsRequiredTogether("lat", "lon")
	currentCmd.MarkFlagsMutuallyExclusive("city", "lat")
	rootCmd.AddCommand(currentCmd)
}

func runCurrent(cmd *cobra.Command, args []string) error {
	cfg := configFrom(cmd)
	rt, err := newRuntime(cmd.Context(), cfg, loggerFrom(cmd))
	if err != nil {
		return err
	}
	defer rt.close()

	var cur *models.CurrentConditions
	if cmd.Flags().Changed("lat") {
		lat, _ := cmd.Flags().GetFloat64("lat")
		lon, _ := cmd.Flags().GetFloat64("lon")
		cur = <-rt.service.CurrentByCoordinate(cmd.Context(), models.Coordinate{Latitude: lat, Longitude: lon})
	} else {
		city, err := cityFlag(cmd, cfg.DefaultCity, cfg.CityMaxLength)
		if err != nil {
			return err
		}
		cur = <-rt.service.CurrentByCity(cmd.Context(), city)
	}
	if cur == nil {
		return errNoData
	}
	renderCurrent(cmd.OutOrStdout(), viewstate.ProjectCurrent(cur))
	return nil
}

// cityFlag returns --city, or fallback when the flag is unset, validated like typed input.
func cityFlag(cmd *cobra.Command, fallback string, maxLen int) (string, error) {
	city, _ := cmd.Flags().GetString("city")
	if !cmd.Flags().Changed("city") {
		city = fallback
	}
	if _, err := validation.ValidateCity(city, maxLen); err != nil {
		if errors.Is(err, validation.ErrEmptyInput) {
			return "", errors.New(viewstate.AlertEmptyInput.Message())
		}
		return "", err
	}
	return city, nil
}
