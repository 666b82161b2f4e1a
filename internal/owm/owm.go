// Package owm holds the OpenWeatherMap JSON shapes shared by the weather client
// and the forecast cache, which persists forecasts in the same wire format.
package owm

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/balandzin/Weather-API/internal/models"
)

// ErrShapeMismatch is returned when a payload is not JSON or lacks a field the
// provider contract declares.
var ErrShapeMismatch = errors.New("payload shape mismatch")

var validate = validator.New()

// Fields are pointers so a missing key can be told apart from a zero value.
type Main struct {
	Temp    *float64 `json:"temp" validate:"required"`
	TempMin *float64 `json:"temp_min" validate:"required"`
	TempMax *float64 `json:"temp_max" validate:"required"`
}

type Condition struct {
	Description *string `json:"description" validate:"required"`
	Icon        *string `json:"icon" validate:"required"`
}

// CurrentResponse is the body of GET /data/2.5/weather.
type CurrentResponse struct {
	Name    *string     `json:"name" validate:"required"`
	Main    *Main       `json:"main" validate:"required"`
	Weather []Condition `json:"weather" validate:"required,dive"`
}

// ForecastItem is one element of the forecast list.
type ForecastItem struct {
	Dt      *int64      `json:"dt" validate:"required"`
	Main    *Main       `json:"main" validate:"required"`
	Weather []Condition `json:"weather" validate:"required,dive"`
}

// ForecastResponse is the body of GET /data/2.5/forecast.
type ForecastResponse struct {
	List []ForecastItem `json:"list" validate:"required,dive"`
}

// DecodeCurrent parses and checks a current-conditions payload.
func DecodeCurrent(data []byte) (models.CurrentConditions, error) {
	var resp CurrentResponse
	if err := decode(data, &resp); err != nil {
		return models.CurrentConditions{}, err
	}
	return models.CurrentConditions{
		LocationName:   *resp.Name,
		Temperature:    *resp.Main.Temp,
		TemperatureMin: *resp.Main.TempMin,
		TemperatureMax: *resp.Main.TempMax,
		Conditions:     toConditions(resp.Weather),
	}, nil
}

// DecodeForecast parses and checks a forecast payload.
func DecodeForecast(data []byte) (models.ForecastBundle, error) {
	var resp ForecastResponse
	if err := decode(data, &resp); err != nil {
		return models.ForecastBundle{}, err
	}
	entries := make([]models.ForecastEntry, 0, len(resp.List))
	for _, item := range resp.List {
		entries = append(entries, models.ForecastEntry{
			Timestamp:      *item.Dt,
			Temperature:    *item.Main.Temp,
			TemperatureMin: *item.Main.TempMin,
			TemperatureMax: *item.Main.TempMax,
			Conditions:     toConditions(item.Weather),
		})
	}
	return models.ForecastBundle{Entries: entries}, nil
}

// EncodeForecast renders a bundle in the provider's forecast shape.
func EncodeForecast(b models.ForecastBundle) ([]byte, error) {
	resp := ForecastResponse{List: make([]ForecastItem, 0, len(b.Entries))}
	for _, e := range b.Entries {
		e := e
		resp.List = append(resp.List, ForecastItem{
			Dt: &e.Timestamp,
			Main: &Main{
				Temp:    &e.Temperature,
				TempMin: &e.TemperatureMin,
				TempMax: &e.TemperatureMax,
			},
			Weather: fromConditions(e.Conditions),
		})
	}
	return json.Marshal(resp)
}

// EncodeCurrent renders current conditions in the provider's shape. Used by test servers.
func EncodeCurrent(c models.CurrentConditions) ([]byte, error) {
	return json.Marshal(CurrentResponse{
		Name: &c.LocationName,
		Main: &Main{
			Temp:    &c.Temperature,
			TempMin: &c.TemperatureMin,
			TempMax: &c.TemperatureMax,
		},
		Weather: fromConditions(c.Conditions),
	})
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	return nil
}

func toConditions(in []Condition) []models.ConditionDetail {
	out := make([]models.ConditionDetail, 0, len(in))
	for _, c := range in {
		out = append(out, models.ConditionDetail{Description: *c.Description, IconCode: *c.Icon})
	}
	return out
}

func fromConditions(in []models.ConditionDetail) []Condition {
	out := make([]Condition, 0, len(in))
	for _, c := range in {
		c := c
		out = append(out, Condition{Description: &c.Description, Icon: &c.IconCode})
	}
	return out
}
