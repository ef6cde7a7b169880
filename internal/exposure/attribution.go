package exposure

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// ErrAttributionFailed is returned by an attributor that could not produce a
// breakdown.
var ErrAttributionFailed = errors.New("source attribution failed")

// Method records which strategy produced a breakdown.
type Method string

const (
	MethodModel     Method = "model"
	MethodHeuristic Method = "heuristic"
)

// SourceBreakdown is the share of pollution attributed to each source, in
// percent.
type SourceBreakdown struct {
	Traffic  float64 `json:"traffic"`
	Stubble  float64 `json:"stubble"`
	Dust     float64 `json:"dust"`
	Industry float64 `json:"industry"`
	Garbage  float64 `json:"garbage"`
	Method   Method  `json:"method"`
}

// Total returns the sum of all shares.
func (b SourceBreakdown) Total() float64 {
	return b.Traffic + b.Stubble + b.Dust + b.Industry + b.Garbage
}

// AttributionInput carries what the attributors need. Missing pollutant
// values are passed as 0.
type AttributionInput struct {
	StationName string
	AQI         float64
	PM25        float64
	PM10        float64
	NO2         float64
	SO2         float64
	CO          float64
	FireCount   float64
	WindSpeed   float64
}

// Attributor splits current pollution into source shares.
type Attributor interface {
	Attribute(ctx context.Context, in AttributionInput) (SourceBreakdown, error)
}

// HeuristicAttributor applies fixed linear coefficients. It never fails.
type HeuristicAttributor struct{}

// Wind above this speed (m/s) disperses traffic, dust and garbage emissions.
const dispersingWind = 5.0

// Attribute implements Attributor.
func (HeuristicAttributor) Attribute(_ context.Context, in AttributionInput) (SourceBreakdown, error) {
	wind := 1.0
	if in.WindSpeed > dispersingWind {
		wind = 0.8
	}

	traffic := (0.4*in.PM25 + 1.2*in.NO2 + 0.8*in.CO) * wind
	stubble := 15 * in.FireCount
	dust := 0.9 * in.PM10 * wind
	industry := 0.5*in.SO2 + 0.3*in.PM25 + 0.2*in.NO2
	garbage := (0.3*in.PM25 + 0.3*in.CO) * wind

	sum := traffic + stubble + dust + industry + garbage
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return SourceBreakdown{Traffic: 20, Stubble: 20, Dust: 20, Industry: 20, Garbage: 20, Method: MethodHeuristic}, nil
	}

	pct := func(v float64) float64 { return v / sum * 100 }
	return SourceBreakdown{
		Traffic:  pct(traffic),
		Stubble:  pct(stubble),
		Dust:     pct(dust),
		Industry: pct(industry),
		Garbage:  pct(garbage),
		Method:   MethodHeuristic,
	}, nil
}

// SourceModel is the model-backed attribution endpoint. Keys are the model's
// category names.
type SourceModel interface {
	SourceShares(ctx context.Context, stationName string, currentAQI float64) (map[string]float64, error)
}

// ModelAttributor asks the model service for the breakdown and maps its
// categories onto ours.
type ModelAttributor struct {
	Model SourceModel
}

// Attribute implements Attributor.
func (a ModelAttributor) Attribute(ctx context.Context, in AttributionInput) (SourceBreakdown, error) {
	if a.Model == nil {
		return SourceBreakdown{}, fmt.Errorf("%w: no model configured", ErrAttributionFailed)
	}
	shares, err := a.Model.SourceShares(ctx, in.StationName, in.AQI)
	if err != nil {
		return SourceBreakdown{}, fmt.Errorf("%w: %w", ErrAttributionFailed, err)
	}

	b := SourceBreakdown{Method: MethodModel}
	for name, v := range shares {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return SourceBreakdown{}, fmt.Errorf("%w: non-finite share for %s", ErrAttributionFailed, name)
		}
		switch name {
		case "traffic":
			b.Traffic = v
		case "agriculture":
			b.Stubble = v
		case "construction":
			b.Dust = v
		case "industry":
			b.Industry = v
		case "others":
			b.Garbage = v
		}
	}
	if b.Total() <= 0 {
		return SourceBreakdown{}, fmt.Errorf("%w: empty breakdown", ErrAttributionFailed)
	}
	return b, nil
}

// FallbackAttributor tries Primary and silently degrades to Fallback.
type FallbackAttributor struct {
	Primary  Attributor
	Fallback Attributor
	Logger   zerolog.Logger
}

// Attribute implements Attributor.
func (a FallbackAttributor) Attribute(ctx context.Context, in AttributionInput) (SourceBreakdown, error) {
	if a.Primary != nil {
		b, err := a.Primary.Attribute(ctx, in)
		if err == nil {
			return b, nil
		}
		a.Logger.Debug().Err(err).Str("station", in.StationName).Msg("primary attribution failed, using fallback")
	}
	return a.Fallback.Attribute(ctx, in)
}
