package aggregator

import (
	"fmt"

	"github.com/pulseboard/data-gateway/internal/upstream"
)

// WeatherSnapshot is the composite weather view: current conditions, the
// derived 7-day forecast, and the next-24-hours series. It is only ever
// returned whole; no partial composite results are exposed.
type WeatherSnapshot struct {
	Current  upstream.CurrentWeather `json:"current"`
	Forecast []ForecastDay           `json:"forecast"`
	Hourly   []HourlySample          `json:"hourly"`
}

// ForecastDay is one derived day of the forecast.
type ForecastDay struct {
	Date        string  `json:"date"` // local calendar day, YYYY-MM-DD
	TempMin     float64 `json:"tempMin"`
	TempMax     float64 `json:"tempMax"`
	TempDay     float64 `json:"tempDay"`
	TempNight   float64 `json:"tempNight"`
	Humidity    float64 `json:"humidity"`
	Pop         float64 `json:"pop"`
	ConditionID int     `json:"conditionId"`
	Condition   string  `json:"condition"`
	Icon        string  `json:"icon"`
}

// HourlySample is one hour of the near-term forecast.
type HourlySample struct {
	Hour        string  `json:"hour"` // local hour of day, two digits
	Temp        float64 `json:"temp"`
	Pop         float64 `json:"pop"`
	ConditionID int     `json:"conditionId"`
	Icon        string  `json:"icon"`
}

// InvalidArgumentError reports a missing or malformed query input, naming
// the offending field.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid argument: %s", e.Field)
	}
	return fmt.Sprintf("invalid argument %s: %s", e.Field, e.Reason)
}
