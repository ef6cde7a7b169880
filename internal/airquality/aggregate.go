package airquality

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/breatheroute/aqfusion/pkg/geo"
	"github.com/breatheroute/aqfusion/pkg/optional"
)

// Aggregation constants.
const (
	// MinTrimSample is the smallest sample the trimmed mean is applied to.
	MinTrimSample = 10

	// DefaultTrimFraction is trimmed from each end of the sorted values.
	DefaultTrimFraction = 0.10

	// WeightFloorKm is added to every station distance so that a station at
	// the reference point does not receive an unbounded weight.
	WeightFloorKm = 0.5
)

// AggregateOptions controls Aggregate.
type AggregateOptions struct {
	// TrimFraction is the share trimmed from each end (default 0.10).
	TrimFraction float64

	// Reference is the point for the distance-weighted mean. When nil the
	// weighted mean is left unset.
	Reference *geo.Point

	// Now stamps ComputedAt.
	Now time.Time

	// Source is copied onto the result.
	Source Source
}

// Aggregate computes robust statistics over a sanitized set. The city AQI is
// the median: a single malfunctioning sensor reporting an implausible spike
// moves the mean but not the median. With no valid readings the result has
// every numeric field unset and diagnostics only.
func Aggregate(set SanitizedSet, opts AggregateOptions) *AggregationResult {
	if opts.TrimFraction <= 0 {
		opts.TrimFraction = DefaultTrimFraction
	}

	result := &AggregationResult{
		ValidCount:    len(set.Readings),
		ExcludedCount: len(set.Excluded),
		StationCount:  set.Total(),
		Stations:      set.Readings,
		Excluded:      set.Excluded,
		Source:        opts.Source,
		ComputedAt:    opts.Now,
	}

	values := aqiValues(set.Readings)
	if len(values) == 0 {
		result.Stations = nil
		result.Diagnostics = append(result.Diagnostics,
			fmt.Sprintf("no valid readings: %d stations, %d excluded", result.StationCount, result.ExcludedCount))
		for reason, n := range exclusionCounts(set.Excluded) {
			result.Diagnostics = append(result.Diagnostics, fmt.Sprintf("%s: %d", reason, n))
		}
		sort.Strings(result.Diagnostics[1:])
		return result
	}

	sort.Float64s(values)

	median := Median(values)
	result.CityAQI = optional.Of(median)
	result.Median = optional.Of(median)
	result.Mean = optional.Of(Mean(values))
	result.TrimmedMean = optional.Of(TrimmedMean(values, opts.TrimFraction))
	result.Min = optional.Of(values[0])
	result.Max = optional.Of(values[len(values)-1])
	result.Percentiles = Percentiles{
		P10: optional.Of(Percentile(values, 0.10)),
		P25: optional.Of(Percentile(values, 0.25)),
		P75: optional.Of(Percentile(values, 0.75)),
		P90: optional.Of(Percentile(values, 0.90)),
	}
	if opts.Reference != nil {
		result.WeightedMean = WeightedMean(set.Readings, *opts.Reference)
	}

	return result
}

func aqiValues(readings []StationReading) []float64 {
	values := make([]float64, 0, len(readings))
	for _, r := range readings {
		if v, ok := r.AQI.Get(); ok {
			values = append(values, v)
		}
	}
	return values
}

func exclusionCounts(excluded []Exclusion) map[ExclusionReason]int {
	counts := make(map[ExclusionReason]int)
	for _, e := range excluded {
		counts[e.Reason]++
	}
	return counts
}

// Median returns the median of sorted values. It panics on an empty slice.
func Median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[(n-1)/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Mean returns the arithmetic mean of values.
func Mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// TrimmedMean drops floor(n*p) values from each end of sorted values and
// averages the rest. Samples smaller than MinTrimSample return the plain mean.
func TrimmedMean(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n < MinTrimSample {
		return Mean(sorted)
	}
	k := int(math.Floor(float64(n) * p))
	if 2*k >= n {
		return Mean(sorted)
	}
	return Mean(sorted[k : n-k])
}

// Percentile returns the nearest-rank percentile at index floor(q*(n-1)).
func Percentile(sorted []float64, q float64) float64 {
	idx := int(math.Floor(q * float64(len(sorted)-1)))
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

// WeightedMean is the inverse-distance weighted AQI around ref, with weight
// 1/(d_km + WeightFloorKm). Readings without a location or AQI are skipped.
// Deviations are summed around the first AQI, so equal values return that
// value exactly.
func WeightedMean(readings []StationReading, ref geo.Point) optional.Float64 {
	var base, num, den float64
	seen := false
	for _, r := range readings {
		aqi, ok := r.AQI.Get()
		if !ok || r.Location == nil {
			continue
		}
		if !seen {
			base, seen = aqi, true
		}
		w := 1 / (geo.HaversineKm(*r.Location, ref) + WeightFloorKm)
		num += (aqi - base) * w
		den += w
	}
	if !seen {
		return optional.None()
	}
	return optional.Of(base + num/den)
}
