// Package airquality fuses raw monitoring-network readings into sanitized
// station sets and robust city-level aggregates.
package airquality

import (
	"errors"
	"fmt"
	"time"

	"github.com/breatheroute/aqfusion/pkg/geo"
	"github.com/breatheroute/aqfusion/pkg/optional"
)

// Errors.
var (
	ErrProviderUnavailable = errors.New("air quality provider unavailable")
	ErrInsufficientData    = errors.New("no valid readings after sanitization")
	ErrInvalidQuery        = errors.New("invalid aggregation query")
)

// ProviderError describes a failed provider call. It unwraps to
// ErrProviderUnavailable as well as the underlying cause.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{ErrProviderUnavailable, e.Err}
}

// Pollutant identifies a measured pollutant.
type Pollutant string

const (
	PollutantPM25 Pollutant = "pm25"
	PollutantPM10 Pollutant = "pm10"
	PollutantNO2  Pollutant = "no2"
	PollutantO3   Pollutant = "o3"
	PollutantSO2  Pollutant = "so2"
	PollutantCO   Pollutant = "co"
	PollutantNH3  Pollutant = "nh3"
)

// Components holds the per-pollutant values reported by a station. Any of
// them may be missing.
type Components struct {
	PM25 optional.Float64 `json:"pm25"`
	PM10 optional.Float64 `json:"pm10"`
	NO2  optional.Float64 `json:"no2"`
	O3   optional.Float64 `json:"o3"`
	SO2  optional.Float64 `json:"so2"`
	CO   optional.Float64 `json:"co"`
	NH3  optional.Float64 `json:"nh3"`
}

// Get returns the value for a pollutant.
func (c Components) Get(p Pollutant) optional.Float64 {
	switch p {
	case PollutantPM25:
		return c.PM25
	case PollutantPM10:
		return c.PM10
	case PollutantNO2:
		return c.NO2
	case PollutantO3:
		return c.O3
	case PollutantSO2:
		return c.SO2
	case PollutantCO:
		return c.CO
	case PollutantNH3:
		return c.NH3
	default:
		return optional.None()
	}
}

// Merge returns c with every missing component filled from other.
func (c Components) Merge(other Components) Components {
	return Components{
		PM25: c.PM25.OrElse(other.PM25),
		PM10: c.PM10.OrElse(other.PM10),
		NO2:  c.NO2.OrElse(other.NO2),
		O3:   c.O3.OrElse(other.O3),
		SO2:  c.SO2.OrElse(other.SO2),
		CO:   c.CO.OrElse(other.CO),
		NH3:  c.NH3.OrElse(other.NH3),
	}
}

// StationReading is one station's report as delivered by a provider. It is
// treated as a value and never mutated once built.
type StationReading struct {
	UID      string     `json:"uid"`
	Name     string     `json:"name"`
	Location *geo.Point `json:"location,omitempty"`

	// RawAQI is the AQI exactly as the provider sent it (may be "-" or empty).
	RawAQI string `json:"-"`

	// AQI is the coerced, bounded AQI. Only set on sanitized readings.
	AQI optional.Float64 `json:"aqi"`

	Components Components `json:"components"`

	// RawTime is the observation time as the provider sent it. ObservedAt is
	// nil when RawTime is empty or could not be parsed.
	RawTime    string     `json:"-"`
	ObservedAt *time.Time `json:"observedAt,omitempty"`
}

// WithFeed returns a copy of r enriched with a per-station feed.
func (r StationReading) WithFeed(f StationFeed) StationReading {
	out := r
	out.Components = f.Components.Merge(r.Components)
	if f.RawTime != "" {
		out.RawTime = f.RawTime
		out.ObservedAt = nil
		if f.ObservedAt != nil {
			t := *f.ObservedAt
			out.ObservedAt = &t
		}
	}
	if out.RawAQI == "" && f.RawAQI != "" {
		out.RawAQI = f.RawAQI
	}
	return out
}

// StationFeed is the detailed per-station payload.
type StationFeed struct {
	UID        string
	RawAQI     string
	Components Components
	RawTime    string
	ObservedAt *time.Time
}

// ExclusionReason explains why a reading was left out of aggregation.
type ExclusionReason string

const (
	ReasonMissingAQI      ExclusionReason = "missing_aqi"
	ReasonUnparseableAQI  ExclusionReason = "unparseable_aqi"
	ReasonInvalidAQI      ExclusionReason = "invalid_aqi"
	ReasonUnparseableTime ExclusionReason = "unparseable_time"
	ReasonStale           ExclusionReason = "stale"
)

// Exclusion pairs a rejected reading with the reason it was rejected.
type Exclusion struct {
	Reading StationReading  `json:"reading"`
	Reason  ExclusionReason `json:"reason"`
	Detail  string          `json:"detail,omitempty"`
}

// SanitizedSet is the output of the sanitizer. Every raw reading ends up in
// exactly one of Readings or Excluded.
type SanitizedSet struct {
	Readings []StationReading `json:"readings"`
	Excluded []Exclusion      `json:"excluded"`
}

// Total returns the number of raw readings the set was built from.
func (s SanitizedSet) Total() int {
	return len(s.Readings) + len(s.Excluded)
}

// Source records which step of the fallback chain produced an aggregate.
type Source string

const (
	SourceDetailed Source = "detailed"
	SourceStale    Source = "stale"
	SourceBasic    Source = "basic"
	SourceEmpty    Source = "empty"
)

// Percentiles are nearest-rank percentiles of the valid AQI values.
type Percentiles struct {
	P10 optional.Float64 `json:"p10"`
	P25 optional.Float64 `json:"p25"`
	P75 optional.Float64 `json:"p75"`
	P90 optional.Float64 `json:"p90"`
}

// AggregationResult is the robust city-level summary of a sanitized set.
// CityAQI equals Median; when ValidCount is zero every numeric field is unset.
type AggregationResult struct {
	CityAQI      optional.Float64 `json:"cityAqi"`
	Median       optional.Float64 `json:"median"`
	Mean         optional.Float64 `json:"mean"`
	TrimmedMean  optional.Float64 `json:"trimmedMean"`
	WeightedMean optional.Float64 `json:"weightedMean"`
	Percentiles  Percentiles      `json:"percentiles"`
	Max          optional.Float64 `json:"max"`
	Min          optional.Float64 `json:"min"`

	ValidCount    int `json:"validCount"`
	ExcludedCount int `json:"excludedCount"`
	StationCount  int `json:"stationCount"`

	Stations []StationReading `json:"stations"`
	Excluded []Exclusion      `json:"excluded,omitempty"`

	Source      Source    `json:"source"`
	ComputedAt  time.Time `json:"computedAt"`
	Diagnostics []string  `json:"diagnostics,omitempty"`
}

// HasData reports whether the result carries any valid readings.
func (r *AggregationResult) HasData() bool {
	return r != nil && r.ValidCount > 0
}

// Station returns the aggregated reading with the given uid.
func (r *AggregationResult) Station(uid string) (StationReading, bool) {
	if r == nil {
		return StationReading{}, false
	}
	for _, s := range r.Stations {
		if s.UID == uid {
			return s, true
		}
	}
	return StationReading{}, false
}
