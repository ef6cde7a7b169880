package weather

import (
	"errors"
	"time"

	"github.com/breatheroute/aqfusion/pkg/geo"
)

// Weather errors.
var (
	ErrProviderUnavailable = errors.New("weather provider unavailable")
	ErrNoData              = errors.New("no weather data in response")
)

// Observation is the weather at a point used as model input.
type Observation struct {
	Location geo.Point `json:"location"`

	// Temperature in Celsius
	Temperature float64 `json:"temperature"`

	// Humidity percentage (0-100)
	Humidity float64 `json:"humidity"`

	// Wind speed in m/s, direction in degrees (0=N, 90=E)
	WindSpeed     float64 `json:"windSpeed"`
	WindDirection float64 `json:"windDirection,omitempty"`

	Condition   Condition `json:"condition"`
	Description string    `json:"description,omitempty"`

	// Source is the name of the provider that produced the observation.
	Source string `json:"source"`

	ObservedAt time.Time `json:"observedAt"`
	FetchedAt  time.Time `json:"fetchedAt"`
}

// Condition represents the general weather condition.
type Condition string

const (
	ConditionClear        Condition = "CLEAR"
	ConditionClouds       Condition = "CLOUDS"
	ConditionRain         Condition = "RAIN"
	ConditionDrizzle      Condition = "DRIZZLE"
	ConditionThunderstorm Condition = "THUNDERSTORM"
	ConditionMist         Condition = "MIST"
	ConditionFog          Condition = "FOG"
	ConditionHaze         Condition = "HAZE"
	ConditionUnknown      Condition = "UNKNOWN"
)

// WindCategory categorizes wind speed by its effect on pollutant dispersion.
type WindCategory string

const (
	WindCalm     WindCategory = "CALM"     // < 1 m/s, pollutants accumulate
	WindLight    WindCategory = "LIGHT"    // 1-3 m/s
	WindModerate WindCategory = "MODERATE" // 3-8 m/s
	WindStrong   WindCategory = "STRONG"   // > 8 m/s
)

// WindCategory returns the dispersion category for the observed wind.
func (o *Observation) WindCategory() WindCategory {
	switch {
	case o.WindSpeed < 1:
		return WindCalm
	case o.WindSpeed < 3:
		return WindLight
	case o.WindSpeed < 8:
		return WindModerate
	default:
		return WindStrong
	}
}
