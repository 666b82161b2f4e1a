package models

import (
	"slices"
	"time"
)

// Coordinate is a WGS84 latitude/longitude pair.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ConditionDetail describes one weather condition reported by the provider.
// IconCode is the provider's short pictogram code (e.g. "01d").
type ConditionDetail struct {
	Description string `json:"description"`
	IconCode    string `json:"iconCode"`
}

// CurrentConditions is a snapshot of the weather "now" at a location. Temperatures are °C.
type CurrentConditions struct {
	LocationName   string            `json:"locationName"`
	Temperature    float64           `json:"temperature"`
	TemperatureMin float64           `json:"temperatureMin"`
	TemperatureMax float64           `json:"temperatureMax"`
	Conditions     []ConditionDetail `json:"conditions"`
}

// Primary returns the first condition, if any. The provider may send none.
func (c CurrentConditions) Primary() (ConditionDetail, bool) {
	return primary(c.Conditions)
}

// Clone returns a deep copy.
func (c CurrentConditions) Clone() CurrentConditions {
	c.Conditions = slices.Clone(c.Conditions)
	return c
}

// ForecastEntry is one time-stamped forecast point.
type ForecastEntry struct {
	Timestamp      int64             `json:"timestamp"`
	Temperature    float64           `json:"temperature"`
	TemperatureMin float64           `json:"temperatureMin"`
	TemperatureMax float64           `json:"temperatureMax"`
	Conditions     []ConditionDetail `json:"conditions"`
}

// Time converts the entry timestamp to loc. A nil loc means time.Local.
func (e ForecastEntry) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(e.Timestamp, 0).In(loc)
}

// Primary returns the first condition, if any.
func (e ForecastEntry) Primary() (ConditionDetail, bool) {
	return primary(e.Conditions)
}

func (e ForecastEntry) equal(o ForecastEntry) bool {
	return e.Timestamp == o.Timestamp &&
		e.Temperature == o.Temperature &&
		e.TemperatureMin == o.TemperatureMin &&
		e.TemperatureMax == o.TemperatureMax &&
		slices.Equal(e.Conditions, o.Conditions)
}

// ForecastBundle is the ordered forecast list, chronological as returned by the provider.
type ForecastBundle struct {
	Entries []ForecastEntry `json:"entries"`
}

// Equal reports whether both bundles hold the same entries in the same order.
// A nil and an empty entry list are equal.
func (b ForecastBundle) Equal(o ForecastBundle) bool {
	return slices.EqualFunc(b.Entries, o.Entries, ForecastEntry.equal)
}

// Clone returns a deep copy.
func (b ForecastBundle) Clone() ForecastBundle {
	if b.Entries == nil {
		return ForecastBundle{}
	}
	out := make([]ForecastEntry, len(b.Entries))
	for i, e := range b.Entries {
		e.Conditions = slices.Clone(e.Conditions)
		out[i] = e
	}
	return ForecastBundle{Entries: out}
}

func primary(conds []ConditionDetail) (ConditionDetail, bool) {
	if len(conds) == 0 {
		return ConditionDetail{}, false
	}
	return conds[0], true
}
