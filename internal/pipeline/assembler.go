// Package pipeline assembles a model-ready snapshot for one location from the
// pollution, weather, fire and schema sources.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/breatheroute/aqfusion/internal/airquality"
	"github.com/breatheroute/aqfusion/internal/exposure"
	"github.com/breatheroute/aqfusion/internal/features"
	"github.com/breatheroute/aqfusion/internal/fire"
	"github.com/breatheroute/aqfusion/internal/modelservice"
	"github.com/breatheroute/aqfusion/internal/stations"
	"github.com/breatheroute/aqfusion/internal/weather"
	"github.com/breatheroute/aqfusion/pkg/fanout"
	"github.com/breatheroute/aqfusion/pkg/geo"
	"github.com/breatheroute/aqfusion/pkg/optional"
)

// ErrForecastFailed is returned when the model service cannot forecast.
var ErrForecastFailed = errors.New("forecast failed")

// Names of the concurrently queried sources, as reported in Snapshot.Degraded.
const (
	SourcePollution = "pollution"
	SourceWeather   = "weather"
	SourceFire      = "fire"
	SourceSchema    = "schema"
)

// AggregateSource provides the cached city aggregate.
type AggregateSource interface {
	GetAggregate(ctx context.Context, q airquality.Query) (*airquality.AggregationResult, error)
}

// WeatherSource provides current weather at a point.
type WeatherSource interface {
	GetCurrentWeather(ctx context.Context, p geo.Point) (*weather.Observation, error)
}

// FireSource provides a fire detection count for a region.
type FireSource interface {
	Count(ctx context.Context, box geo.BoundingBox) (fire.Count, error)
}

// SchemaSource provides the model's feature schema.
type SchemaSource interface {
	Get(ctx context.Context) (schema []string, fromDefault bool)
}

// Forecaster produces an AQI forecast from a feature vector.
type Forecaster interface {
	Forecast(ctx context.Context, stationName string, vector features.Vector) (*modelservice.Forecast, error)
}

// AssemblerConfig holds the dependencies of an Assembler. Weather, Fire and
// Forecaster are optional.
type AssemblerConfig struct {
	Aggregates AggregateSource
	Weather    WeatherSource
	Fire       FireSource
	Schema     SchemaSource
	Forecaster Forecaster
	Attributor exposure.Attributor

	Catalog *stations.Catalog
	Matcher *stations.Matcher

	// Query is the aggregate query for the city.
	Query airquality.Query

	// FireBounds is the region fires are counted in (default: the query
	// bounds padded by 2 degrees).
	FireBounds geo.BoundingBox

	Logger zerolog.Logger
	Clock  clockwork.Clock
}

// Assembler builds snapshots, forecasts and exposure scores.
type Assembler struct {
	aggregates AggregateSource
	weather    WeatherSource
	fire       FireSource
	schema     SchemaSource
	forecaster Forecaster
	attributor exposure.Attributor
	catalog    *stations.Catalog
	matcher    *stations.Matcher
	query      airquality.Query
	fireBounds geo.BoundingBox
	logger     zerolog.Logger
	clock      clockwork.Clock
}

// NewAssembler creates an Assembler.
func NewAssembler(cfg AssemblerConfig) *Assembler {
	a := &Assembler{
		aggregates: cfg.Aggregates,
		weather:    cfg.Weather,
		fire:       cfg.Fire,
		schema:     cfg.Schema,
		forecaster: cfg.Forecaster,
		attributor: cfg.Attributor,
		catalog:    cfg.Catalog,
		matcher:    cfg.Matcher,
		query:      cfg.Query,
		fireBounds: cfg.FireBounds,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
	}
	if a.fireBounds == (geo.BoundingBox{}) {
		a.fireBounds = cfg.Query.Bounds.Pad(2)
	}
	if a.matcher == nil {
		a.matcher = stations.NewMatcher(stations.MatcherConfig{})
	}
	if a.attributor == nil {
		a.attributor = exposure.HeuristicAttributor{}
	}
	if a.clock == nil {
		a.clock = clockwork.NewRealClock()
	}
	return a
}

// Request selects the location a snapshot is assembled for. Either field may
// be empty. With neither set, or with a name that matches no station, the
// snapshot carries the city AQI and weather at the city center.
type Request struct {
	Station  string     `json:"station,omitempty"`
	Location *geo.Point `json:"location,omitempty"`
}

// Snapshot is everything known about one location at one instant.
type Snapshot struct {
	Request Request `json:"request"`

	// Station is the resolved station, nil when nothing matched.
	Station *stations.Match `json:"station,omitempty"`

	// Reading is the live reading of the resolved station, if any.
	Reading *airquality.StationReading `json:"reading,omitempty"`

	Aggregate *airquality.AggregationResult `json:"-"`
	CityAQI   optional.Float64              `json:"cityAqi"`
	AQISource airquality.Source             `json:"aqiSource"`

	Weather *weather.Observation `json:"weather,omitempty"`
	Fire    *fire.Count          `json:"fire,omitempty"`

	Inputs        features.Inputs `json:"inputs"`
	Features      features.Vector `json:"features"`
	SchemaDefault bool            `json:"schemaDefault"`

	// Degraded lists the sources that failed and were replaced by defaults.
	Degraded []string `json:"degraded,omitempty"`

	AssembledAt time.Time `json:"assembledAt"`
}

// StationName is the name sent to the model service for this snapshot.
func (s *Snapshot) StationName() string {
	if s.Station != nil && s.Station.Candidate.Name != "" {
		return s.Station.Candidate.Name
	}
	return strings.TrimSpace(s.Request.Station)
}

// Assemble queries every source concurrently and builds the feature vector.
// A failing source never fails the snapshot; its inputs stay unset and the
// source is listed in Degraded.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Snapshot, error) {
	if req.Location != nil {
		if err := req.Location.Validate(); err != nil {
			return nil, err
		}
	}

	at := a.weatherPoint(req)

	var (
		agg      *airquality.AggregationResult
		obs      *weather.Observation
		fires    *fire.Count
		schema   []string
		fallback bool
	)

	tasks := []fanout.Task[string]{
		func(ctx context.Context) (string, error) {
			res, err := a.aggregates.GetAggregate(ctx, a.query)
			agg = res
			return SourcePollution, err
		},
		func(ctx context.Context) (string, error) {
			if a.weather == nil {
				return SourceWeather, errors.New("no weather source configured")
			}
			res, err := a.weather.GetCurrentWeather(ctx, at)
			obs = res
			return SourceWeather, err
		},
		func(ctx context.Context) (string, error) {
			if a.fire == nil {
				return SourceFire, errors.New("no fire source configured")
			}
			res, err := a.fire.Count(ctx, a.fireBounds)
			if err == nil {
				fires = &res
			}
			return SourceFire, err
		},
		func(ctx context.Context) (string, error) {
			schema, fallback = a.schema.Get(ctx)
			return SourceSchema, nil
		},
	}

	snap := &Snapshot{Request: req}
	for _, r := range fanout.Run(ctx, len(tasks), tasks) {
		if r.Err != nil {
			a.logger.Warn().Err(r.Err).Str("source", r.Value).Msg("source unavailable, using defaults")
			snap.Degraded = append(snap.Degraded, r.Value)
		}
	}
	if fallback {
		snap.Degraded = append(snap.Degraded, SourceSchema)
	}

	if agg == nil {
		agg = &airquality.AggregationResult{Source: airquality.SourceEmpty}
	}
	if agg.Source == airquality.SourceEmpty && !slices.Contains(snap.Degraded, SourcePollution) {
		snap.Degraded = append(snap.Degraded, SourcePollution)
	}
	snap.Aggregate = agg
	snap.CityAQI = agg.CityAQI
	snap.AQISource = agg.Source
	snap.Weather = obs
	snap.Fire = fires
	snap.SchemaDefault = fallback

	a.resolve(snap, req)
	snap.Inputs = a.inputs(snap)
	snap.Features = features.Build(schema, snap.Inputs)
	snap.AssembledAt = a.clock.Now().UTC()
	return snap, nil
}

// weatherPoint is where weather is observed: the requested location, the
// catalog location of the named station, or the city center.
func (a *Assembler) weatherPoint(req Request) geo.Point {
	if req.Location != nil {
		return *req.Location
	}
	if a.catalog != nil && req.Station != "" {
		if m, ok := a.matcher.Match(req.Station, nil, a.catalog.Candidates()); ok && m.Candidate.Location != nil {
			return *m.Candidate.Location
		}
	}
	return a.query.Bounds.Center()
}

// resolve matches the request against the live stations, then the catalog.
// Only a requested location enables nearest-station matching; an unknown
// name leaves Station nil so the city AQI is used.
func (a *Assembler) resolve(snap *Snapshot, req Request) {
	live := make([]stations.Candidate, 0, len(snap.Aggregate.Stations))
	for _, s := range snap.Aggregate.Stations {
		live = append(live, stations.Candidate{ID: s.UID, Name: s.Name, Location: s.Location})
	}
	if m, ok := a.matcher.Match(req.Station, req.Location, live); ok {
		reading := snap.Aggregate.Stations[m.Index]
		snap.Station = &m
		snap.Reading = &reading
		return
	}
	if a.catalog != nil {
		if m, ok := a.matcher.Match(req.Station, req.Location, a.catalog.Candidates()); ok {
			snap.Station = &m
		}
	}
}

func (a *Assembler) inputs(snap *Snapshot) features.Inputs {
	in := features.Inputs{AQI: snap.CityAQI}
	if r := snap.Reading; r != nil {
		in.AQI = r.AQI.OrElse(snap.CityAQI)
		in.PM25 = r.Components.PM25
		in.PM10 = r.Components.PM10
		in.NO2 = r.Components.NO2
		in.O3 = r.Components.O3
		in.SO2 = r.Components.SO2
		in.CO = r.Components.CO
		in.NH3 = r.Components.NH3
	}
	if w := snap.Weather; w != nil {
		in.Temperature = optional.Of(w.Temperature)
		in.Humidity = optional.Of(w.Humidity)
		in.WindSpeed = optional.Of(w.WindSpeed)
	}
	if f := snap.Fire; f != nil {
		in.FireCount = optional.Of(float64(f.Value))
	}
	return in
}

// ForecastResult is a forecast and the snapshot it was computed from.
type ForecastResult struct {
	Station  string                 `json:"station"`
	Forecast *modelservice.Forecast `json:"forecast"`
	Snapshot *Snapshot              `json:"snapshot"`
}

// Forecast assembles a snapshot and asks the model service for a forecast.
// Model failures are returned wrapped in ErrForecastFailed.
func (a *Assembler) Forecast(ctx context.Context, req Request) (*ForecastResult, error) {
	if a.forecaster == nil {
		return nil, fmt.Errorf("%w: no forecaster configured", ErrForecastFailed)
	}
	snap, err := a.Assemble(ctx, req)
	if err != nil {
		return nil, err
	}
	name := snap.StationName()
	fc, err := a.forecaster.Forecast(ctx, name, snap.Features)
	if err != nil {
		a.logger.Error().Err(err).Str("station", name).Msg("forecast failed")
		return nil, fmt.Errorf("%w: %w", ErrForecastFailed, err)
	}
	return &ForecastResult{Station: name, Forecast: fc, Snapshot: snap}, nil
}

// ScoreResult is the exposure score of a snapshot.
type ScoreResult struct {
	exposure.Score
	Station  string    `json:"station,omitempty"`
	Snapshot *Snapshot `json:"snapshot"`
}

// Score assembles a snapshot and derives health advice and source
// attribution. Attribution failures degrade to the heuristic; a snapshot
// without any AQI yields airquality.ErrInsufficientData.
func (a *Assembler) Score(ctx context.Context, req Request) (*ScoreResult, error) {
	snap, err := a.Assemble(ctx, req)
	if err != nil {
		return nil, err
	}
	in := snap.Inputs
	aqi, ok := in.AQI.Get()
	if !ok {
		return nil, airquality.ErrInsufficientData
	}
	score := exposure.Assess(ctx, a.attributor, exposure.AttributionInput{
		StationName: snap.StationName(),
		AQI:         aqi,
		PM25:        in.PM25.Or(0),
		PM10:        in.PM10.Or(0),
		NO2:         in.NO2.Or(0),
		SO2:         in.SO2.Or(0),
		CO:          in.CO.Or(0),
		FireCount:   in.FireCount.Or(0),
		WindSpeed:   in.WindSpeed.Or(0),
	})
	return &ScoreResult{Score: score, Station: snap.StationName(), Snapshot: snap}, nil
}
