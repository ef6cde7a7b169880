// Package exposure derives health advice, pollution source attribution and
// route exposure from aggregated air quality.
package exposure

import "math"

// Level is a health advisory band.
type Level string

const (
	LevelGood         Level = "Good"
	LevelSatisfactory Level = "Satisfactory"
	LevelModerate     Level = "Moderate"
	LevelPoor         Level = "Poor"
	LevelVeryPoor     Level = "Very Poor"
	LevelSevere       Level = "Severe"
)

// HealthAdvice is the public advisory for an AQI value.
type HealthAdvice struct {
	AQI          float64 `json:"aqi"`
	Level        Level   `json:"level"`
	Color        string  `json:"color"`
	Message      string  `json:"message"`
	Mask         string  `json:"mask"`
	OutdoorIndex int     `json:"outdoorIndex"`
}

type band struct {
	max    float64
	advice HealthAdvice
}

// bands are inclusive upper bounds. Anything above the last is Severe.
var bands = []band{
	{50, HealthAdvice{
		Level:        LevelGood,
		Color:        "green",
		Message:      "Air quality is good. Enjoy outdoor activities.",
		Mask:         "No mask needed.",
		OutdoorIndex: 10,
	}},
	{100, HealthAdvice{
		Level:        LevelSatisfactory,
		Color:        "light-green",
		Message:      "Air quality is acceptable. Unusually sensitive people should limit prolonged exertion.",
		Mask:         "No mask needed for most people.",
		OutdoorIndex: 8,
	}},
	{200, HealthAdvice{
		Level:        LevelModerate,
		Color:        "yellow",
		Message:      "People with lung or heart disease, children and older adults may feel discomfort.",
		Mask:         "Sensitive groups should wear a mask outdoors.",
		OutdoorIndex: 5,
	}},
	{300, HealthAdvice{
		Level:        LevelPoor,
		Color:        "orange",
		Message:      "Prolonged exposure may cause breathing discomfort. Reduce outdoor exertion.",
		Mask:         "Wear an N95 mask outdoors.",
		OutdoorIndex: 3,
	}},
	{400, HealthAdvice{
		Level:        LevelVeryPoor,
		Color:        "red",
		Message:      "Respiratory illness likely on prolonged exposure. Avoid outdoor activity.",
		Mask:         "N95 mask required outdoors.",
		OutdoorIndex: 1,
	}},
}

var severe = HealthAdvice{
	Level:        LevelSevere,
	Color:        "maroon",
	Message:      "Health emergency. Everyone should stay indoors and keep windows closed.",
	Mask:         "Stay indoors; N95 mask required if going out.",
	OutdoorIndex: 0,
}

// Advise returns the advisory band for aqi. A NaN falls through every band
// and reads as Severe.
func Advise(aqi float64) HealthAdvice {
	out := severe
	for _, b := range bands {
		if aqi <= b.max {
			out = b.advice
			break
		}
	}
	if !math.IsNaN(aqi) {
		out.AQI = aqi
	}
	return out
}
