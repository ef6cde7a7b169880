package airquality

import (
	"math"

	"github.com/breatheroute/aqfusion/pkg/optional"
)

// MaxSubIndex is returned for concentrations above the top breakpoint.
const MaxSubIndex = 500

type breakpoint struct {
	cLow, cHigh float64
	iLow, iHigh float64
}

var pm25Breakpoints = []breakpoint{
	{0, 12, 0, 50},
	{12.1, 35.4, 51, 100},
	{35.5, 55.4, 101, 150},
	{55.5, 150.4, 151, 200},
	{150.5, 250.4, 201, 300},
	{250.5, 350.4, 301, 400},
	{350.5, 500.4, 401, 500},
}

var pm10Breakpoints = []breakpoint{
	{0, 54, 0, 50},
	{55, 154, 51, 100},
	{155, 254, 101, 150},
	{255, 354, 151, 200},
	{355, 424, 201, 300},
	{425, 504, 301, 400},
	{505, 604, 401, 500},
}

// SubIndex converts a pollutant concentration (µg/m³) into its AQI
// sub-index. Only PM2.5 and PM10 have breakpoint tables; other pollutants
// and negative or non-finite concentrations yield an unset value.
func SubIndex(p Pollutant, concentration float64) optional.Float64 {
	var table []breakpoint
	switch p {
	case PollutantPM25:
		table = pm25Breakpoints
	case PollutantPM10:
		table = pm10Breakpoints
	default:
		return optional.None()
	}
	if math.IsNaN(concentration) || math.IsInf(concentration, -1) || concentration < 0 {
		return optional.None()
	}

	for _, bp := range table {
		// Values in the gap between two bands (e.g. 12.05) snap to the upper
		// band's low edge.
		if concentration <= bp.cHigh {
			c := math.Max(concentration, bp.cLow)
			aqi := (bp.iHigh-bp.iLow)/(bp.cHigh-bp.cLow)*(c-bp.cLow) + bp.iLow
			return optional.Of(math.Round(aqi))
		}
	}
	return optional.Of(MaxSubIndex)
}

// StationAQI derives a station AQI from its components as the maximum of the
// available sub-indices. It is unset when no sub-index can be computed.
func StationAQI(c Components) optional.Float64 {
	best := optional.None()
	for _, p := range []Pollutant{PollutantPM25, PollutantPM10} {
		v, ok := c.Get(p).Get()
		if !ok {
			continue
		}
		idx, ok := SubIndex(p, v).Get()
		if !ok {
			continue
		}
		if cur, set := best.Get(); !set || idx > cur {
			best = optional.Of(idx)
		}
	}
	return best
}
