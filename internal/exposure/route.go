package exposure

import (
	"github.com/breatheroute/aqfusion/internal/airquality"
	"github.com/breatheroute/aqfusion/internal/stations"
	"github.com/breatheroute/aqfusion/pkg/geo"
	"github.com/breatheroute/aqfusion/pkg/optional"
	"github.com/breatheroute/aqfusion/pkg/polyline"
)

// RiskCategory classifies a route's cumulative exposure.
type RiskCategory string

const (
	RiskLow      RiskCategory = "Low"
	RiskModerate RiskCategory = "Moderate"
	RiskHigh     RiskCategory = "High"
)

// Route risk thresholds on summed AQI.
const (
	LowRiskBelow      = 1500.0
	ModerateRiskBelow = 3500.0
)

// Confidence reflects how far a route point is from the station whose AQI
// it was tagged with.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
	ConfidenceCity   Confidence = "CITY"
)

// Confidence distance limits, in km.
const (
	HighConfidenceKm   = 5.0
	MediumConfidenceKm = 15.0
)

// RoutePoint is a sampled point tagged with an AQI.
type RoutePoint struct {
	Point      geo.Point        `json:"point"`
	AQI        optional.Float64 `json:"aqi"`
	StationID  string           `json:"stationId,omitempty"`
	DistanceKm float64          `json:"distanceKm,omitempty"`
	Confidence Confidence       `json:"confidence,omitempty"`
}

// RouteResult is the exposure summary of a route.
type RouteResult struct {
	Exposure      float64          `json:"exposure"`
	Risk          RiskCategory     `json:"risk"`
	PointCount    int              `json:"pointCount"`
	MissingPoints int              `json:"missingPoints"`
	MeanAQI       optional.Float64 `json:"meanAqi"`
	MaxAQI        optional.Float64 `json:"maxAqi"`
	Points        []RoutePoint     `json:"points,omitempty"`
}

// Categorize maps summed route exposure to a risk category.
func Categorize(exposure float64) RiskCategory {
	switch {
	case exposure < LowRiskBelow:
		return RiskLow
	case exposure < ModerateRiskBelow:
		return RiskModerate
	default:
		return RiskHigh
	}
}

// RouteExposure sums the AQI of every tagged point. Points without an AQI
// are counted as missing and contribute nothing.
func RouteExposure(points []RoutePoint) RouteResult {
	res := RouteResult{PointCount: len(points), Points: points}
	var tagged int
	for _, p := range points {
		v, ok := p.AQI.Get()
		if !ok {
			res.MissingPoints++
			continue
		}
		tagged++
		res.Exposure += v
		if m, set := res.MaxAQI.Get(); !set || v > m {
			res.MaxAQI = optional.Of(v)
		}
	}
	if tagged > 0 {
		res.MeanAQI = optional.Of(res.Exposure / float64(tagged))
	}
	res.Risk = Categorize(res.Exposure)
	return res
}

// SampleRoute resamples a path every intervalKm, keeping both ends.
func SampleRoute(path []geo.Point, intervalKm float64) []geo.Point {
	return polyline.Sample(path, intervalKm)
}

// Tagger attaches nearest-station AQI to route points.
type Tagger struct {
	matcher *stations.Matcher
}

// NewTagger creates a tagger resolving stations with m.
func NewTagger(m *stations.Matcher) *Tagger {
	return &Tagger{matcher: m}
}

// TagPoints tags every sample with the AQI of its nearest aggregated station.
// When no station is available the city AQI is used; when that is unset too
// the point stays untagged.
func (t *Tagger) TagPoints(samples []geo.Point, agg *airquality.AggregationResult) []RoutePoint {
	var candidates []stations.Candidate
	var aqis []float64
	var city optional.Float64
	if agg != nil {
		city = agg.CityAQI
		for _, s := range agg.Stations {
			v, ok := s.AQI.Get()
			if !ok || s.Location == nil {
				continue
			}
			candidates = append(candidates, stations.Candidate{ID: s.UID, Name: s.Name, Location: s.Location})
			aqis = append(aqis, v)
		}
	}

	out := make([]RoutePoint, len(samples))
	for i, p := range samples {
		rp := RoutePoint{Point: p}
		if m, ok := t.matcher.Match("", &p, candidates); ok {
			rp.AQI = optional.Of(aqis[m.Index])
			rp.StationID = m.Candidate.ID
			rp.DistanceKm = m.DistanceKm
			rp.Confidence = confidence(m.DistanceKm)
		} else if city.IsSet() {
			rp.AQI = city
			rp.Confidence = ConfidenceCity
		}
		out[i] = rp
	}
	return out
}

func confidence(km float64) Confidence {
	switch {
	case km <= HighConfidenceKm:
		return ConfidenceHigh
	case km <= MediumConfidenceKm:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
