package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/breatheroute/aqfusion/internal/api/models"
	"github.com/breatheroute/aqfusion/internal/api/response"
	"github.com/breatheroute/aqfusion/internal/history"
	"github.com/breatheroute/aqfusion/internal/pipeline"
	"github.com/breatheroute/aqfusion/pkg/geo"
)

// SnapshotService assembles per-location snapshots and derives forecasts and
// exposure scores from them.
type SnapshotService interface {
	Assemble(ctx context.Context, req pipeline.Request) (*pipeline.Snapshot, error)
	Forecast(ctx context.Context, req pipeline.Request) (*pipeline.ForecastResult, error)
	Score(ctx context.Context, req pipeline.Request) (*pipeline.ScoreResult, error)
}

// ForecastHandler handles the feature and forecast endpoints.
type ForecastHandler struct {
	snapshots SnapshotService
	history   history.Repository
	clock     clockwork.Clock
}

// NewForecastHandler creates a new ForecastHandler. repo may be nil, in which
// case forecasts are not recorded.
func NewForecastHandler(snapshots SnapshotService, repo history.Repository, clock clockwork.Clock) *ForecastHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ForecastHandler{snapshots: snapshots, history: repo, clock: clock}
}

// Features handles GET /v1/features.
func (h *ForecastHandler) Features(w http.ResponseWriter, r *http.Request) {
	req, errs := parseSnapshotRequest(r)
	if len(errs) > 0 {
		response.BadRequest(w, r, "invalid location", errs)
		return
	}

	snap, err := h.snapshots.Assemble(r.Context(), req)
	if err != nil {
		writeSnapshotError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, toFeatureSnapshot(snap))
}

// Forecast handles GET /v1/forecast. Model failures map to 502.
func (h *ForecastHandler) Forecast(w http.ResponseWriter, r *http.Request) {
	req, errs := parseSnapshotRequest(r)
	if len(errs) > 0 {
		response.BadRequest(w, r, "invalid location", errs)
		return
	}

	res, err := h.snapshots.Forecast(r.Context(), req)
	if err != nil {
		writeSnapshotError(w, r, err)
		return
	}
	if res.Forecast == nil {
		response.BadGateway(w, r, "forecast model returned no forecast")
		return
	}

	h.record(r.Context(), res)

	out := models.Forecast{
		Station: res.Station,
		Forecast: models.Horizons{
			H6:  res.Forecast.H6.Ptr(),
			H24: res.Forecast.H24.Ptr(),
			H48: res.Forecast.H48.Ptr(),
			H72: res.Forecast.H72.Ptr(),
		},
		GeneratedAt: models.Timestamp(h.clock.Now().UTC()),
	}
	if res.Snapshot != nil {
		out.CurrentAQI = res.Snapshot.Inputs.AQI.Ptr()
		out.Degraded = res.Snapshot.Degraded
	}
	response.JSON(w, r, http.StatusOK, out)
}

// record stores the forecast; failures are logged and never fail the request.
func (h *ForecastHandler) record(ctx context.Context, res *pipeline.ForecastResult) {
	if h.history == nil || res.Snapshot == nil {
		return
	}
	logger := zerolog.Ctx(ctx)
	rec, err := history.NewForecastRecord(res.Station, res.Forecast, res.Snapshot.Features, h.clock.Now().UTC())
	if err != nil {
		logger.Warn().Err(err).Msg("failed to encode forecast record")
		return
	}
	if err := h.history.SaveForecast(ctx, rec); err != nil {
		logger.Warn().Err(err).Str("station", res.Station).Msg("failed to save forecast")
	}
}

func writeSnapshotError(w http.ResponseWriter, r *http.Request, err error) {
	logger := zerolog.Ctx(r.Context())
	switch {
	case errors.Is(err, geo.ErrInvalidCoordinates):
		response.BadRequest(w, r, err.Error(), nil)
	case errors.Is(err, pipeline.ErrForecastFailed):
		logger.Error().Err(err).Msg("forecast failed")
		response.BadGateway(w, r, "forecast model unavailable")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		response.ServiceUnavailable(w, r, "request timed out")
	default:
		logger.Error().Err(err).Msg("snapshot failed")
		response.InternalError(w, r, "failed to assemble snapshot")
	}
}

func toFeatureSnapshot(snap *pipeline.Snapshot) models.FeatureSnapshot {
	out := models.FeatureSnapshot{
		Station:       toMatchedStation(snap.Station),
		AQI:           snap.Inputs.AQI.Ptr(),
		CityAQI:       snap.CityAQI.Ptr(),
		AQISource:     models.AggregateSource(snap.AQISource),
		Features:      make([]models.Feature, 0, len(snap.Features)),
		SchemaDefault: snap.SchemaDefault,
		Degraded:      snap.Degraded,
		AssembledAt:   models.Timestamp(snap.AssembledAt),
	}
	for _, e := range snap.Features {
		out.Features = append(out.Features, models.Feature{Name: e.Name, Value: e.Value})
	}
	if wx := snap.Weather; wx != nil {
		out.Weather = &models.Weather{
			Temperature:   wx.Temperature,
			Humidity:      wx.Humidity,
			WindSpeed:     wx.WindSpeed,
			WindDirection: wx.WindDirection,
			Condition:     string(wx.Condition),
			Source:        wx.Source,
			ObservedAt:    models.Timestamp(wx.ObservedAt),
		}
	}
	if f := snap.Fire; f != nil {
		out.Fire = &models.FireActivity{Count: f.Value, Source: f.Source}
	}
	return out
}
