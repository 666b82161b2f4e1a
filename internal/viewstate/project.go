package viewstate

import (
	"fmt"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/balandzin/Weather-API/internal/models"
)

// AdviceKind classifies a temperature for the advice line.
type AdviceKind int

const (
	AdviceCold AdviceKind = iota
	AdviceMild
	AdvicePleasant
)

func (k AdviceKind) String() string {
	switch k {
	case AdviceCold:
		return "cold"
	case AdviceMild:
		return "mild"
	default:
		return "pleasant"
	}
}

const (
	adviceCold     = "Temperature is below 0 degrees\nBeware of the cold!"
	adviceMild     = "Please dress warmly!"
	advicePleasant = "Great weather outside!"
)

// ClassifyTemperature buckets t (°C): below 0 is cold, 0 through 15 inclusive is
// mild, above 15 is pleasant.
func ClassifyTemperature(t float64) AdviceKind {
	switch {
	case t < 0:
		return AdviceCold
	case t <= 15:
		return AdviceMild
	default:
		return AdvicePleasant
	}
}

// Advice returns the user-facing advice text for temperature t.
func Advice(t float64) string {
	switch ClassifyTemperature(t) {
	case AdviceCold:
		return adviceCold
	case AdviceMild:
		return adviceMild
	default:
		return advicePleasant
	}
}

// DefaultIcon is the asset shown for codes missing from the table.
const DefaultIcon = "default_image"

var iconAssets = map[string]string{
	"01d": "sun",
	"01n": "moon",
	"02d": "few_clouds",
	"02n": "few_clouds_night",
	"03d": "scattered_clouds",
	"04d": "broken_clouds",
	"09d": "shower_rain",
	"10d": "rain",
	"11d": "thunderstorm",
	"13d": "snow",
	"50d": "mist",
}

// IconAsset maps a provider icon code to a local asset name.
func IconAsset(code string) string {
	if asset, ok := iconAssets[code]; ok {
		return asset
	}
	return DefaultIcon
}

// FormatTemperature renders t truncated toward zero, e.g. "12°C".
func FormatTemperature(t float64) string {
	return fmt.Sprintf("%d°C", int(t))
}

// CurrentView is the current-conditions screen.
type CurrentView struct {
	City        string `json:"city"`
	Temperature string `json:"temperature"`
	Advice      string `json:"advice"`
	AdviceKind  string `json:"adviceKind,omitempty"`
	Icon        string `json:"icon"`
	Description string `json:"description"`
	Populated   bool   `json:"populated"`
}

// ProjectCurrent builds the current screen. A nil c yields an empty view with no advice.
func ProjectCurrent(c *models.CurrentConditions) CurrentView {
	if c == nil {
		return CurrentView{}
	}
	v := CurrentView{
		City:        c.LocationName,
		Temperature: FormatTemperature(c.Temperature),
		Advice:      Advice(c.Temperature),
		AdviceKind:  ClassifyTemperature(c.Temperature).String(),
		Populated:   true,
	}
	if cond, ok := c.Primary(); ok {
		v.Icon = IconAsset(cond.IconCode)
		v.Description = cond.Description
	}
	return v
}

// ForecastRow is one line of the forecast screen.
type ForecastRow struct {
	Time        time.Time `json:"time"`
	Temperature string    `json:"temperature"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	Text        string    `json:"text"`
}

const rowTimeLayout = "02 Jan, 15:04"

// ProjectForecast builds the forecast screen rows in loc (nil means time.Local).
func ProjectForecast(b *models.ForecastBundle, loc *time.Location) []ForecastRow {
	if b == nil {
		return nil
	}
	title := cases.Title(language.Und)
	rows := make([]ForecastRow, 0, len(b.Entries))
	for _, e := range b.Entries {
		row := ForecastRow{
			Time:        e.Time(loc),
			Temperature: FormatTemperature(e.Temperature),
		}
		if cond, ok := e.Primary(); ok {
			row.Description = title.String(cond.Description)
			row.Icon = IconAsset(cond.IconCode)
		}
		row.Text = fmt.Sprintf("%s: %s, %s", row.Time.Format(rowTimeLayout), row.Temperature, row.Description)
		rows = append(rows, row)
	}
	return rows
}
