package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/aqfusion/internal/airquality"
	"github.com/breatheroute/aqfusion/internal/api/models"
	"github.com/breatheroute/aqfusion/internal/api/response"
	"github.com/breatheroute/aqfusion/internal/stations"
)

// AggregateService produces city aggregates.
type AggregateService interface {
	GetAggregate(ctx context.Context, q airquality.Query) (*airquality.AggregationResult, error)
}

// AirQualityHandler handles the real-time air quality endpoints.
type AirQualityHandler struct {
	aggregates AggregateService
	query      airquality.Query
	catalog    *stations.Catalog
	matcher    *stations.Matcher
	maxAge     time.Duration
}

// AirQualityHandlerConfig holds the dependencies of an AirQualityHandler.
type AirQualityHandlerConfig struct {
	Aggregates AggregateService
	Query      airquality.Query
	Catalog    *stations.Catalog
	Matcher    *stations.Matcher

	// MaxAge is the client cache lifetime of detailed aggregates (default: 60s).
	MaxAge time.Duration
}

// NewAirQualityHandler creates a new AirQualityHandler.
func NewAirQualityHandler(cfg AirQualityHandlerConfig) *AirQualityHandler {
	if cfg.Matcher == nil {
		cfg.Matcher = stations.NewMatcher(stations.MatcherConfig{})
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = time.Minute
	}
	return &AirQualityHandler{
		aggregates: cfg.Aggregates,
		query:      cfg.Query,
		catalog:    cfg.Catalog,
		matcher:    cfg.Matcher,
		maxAge:     cfg.MaxAge,
	}
}

// aggregate never fails on provider errors; an empty result is returned instead.
func (h *AirQualityHandler) aggregate(w http.ResponseWriter, r *http.Request) (*airquality.AggregationResult, bool) {
	res, err := h.aggregates.GetAggregate(r.Context(), h.query)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("aggregate query rejected")
		response.InternalError(w, r, "air quality aggregate unavailable")
		return nil, false
	}
	return res, true
}

// Realtime handles GET /v1/air-quality/realtime.
func (h *AirQualityHandler) Realtime(w http.ResponseWriter, r *http.Request) {
	res, ok := h.aggregate(w, r)
	if !ok {
		return
	}
	if res.Source == airquality.SourceDetailed {
		response.Cacheable(w, h.maxAge)
	}
	response.JSON(w, r, http.StatusOK, toRealtime(res))
}

// ListStations handles GET /v1/air-quality/stations. Catalog stations are
// listed in catalog order with their live AQI when the aggregate has one.
func (h *AirQualityHandler) ListStations(w http.ResponseWriter, r *http.Request) {
	res, ok := h.aggregate(w, r)
	if !ok {
		return
	}

	live := make([]stations.Candidate, 0, len(res.Stations))
	for _, s := range res.Stations {
		live = append(live, stations.Candidate{ID: s.UID, Name: s.Name, Location: s.Location})
	}

	out := models.StationList{Source: models.AggregateSource(res.Source), Items: []models.Station{}}
	if h.catalog != nil {
		out.City = h.catalog.City()
		for _, st := range h.catalog.All() {
			item := models.Station{
				StationID: st.ID,
				Name:      st.Name,
				Point:     models.Point{Lat: st.Lat, Lon: st.Lon},
			}
			if m, ok := h.matcher.Match(st.Name, nil, live); ok {
				item.AQI = res.Stations[m.Index].AQI.Ptr()
				item.Live = true
			}
			out.Items = append(out.Items, item)
		}
	}
	response.JSON(w, r, http.StatusOK, out)
}

// MatchStation handles GET /v1/air-quality/stations:match. The target text is
// resolved against the live stations first, then the catalog; lat and lon
// enable nearest-station matching when no name matches.
func (h *AirQualityHandler) MatchStation(w http.ResponseWriter, r *http.Request) {
	req, errs := parseSnapshotRequest(r)
	if len(errs) > 0 {
		response.BadRequest(w, r, "invalid match query", errs)
		return
	}
	if req.Station == "" && req.Location == nil {
		response.BadRequest(w, r, "station or lat and lon are required", []models.FieldError{
			{Field: "station", Message: "required if lat and lon are not provided", Code: "REQUIRED"},
		})
		return
	}

	res, ok := h.aggregate(w, r)
	if !ok {
		return
	}

	live := make([]stations.Candidate, 0, len(res.Stations))
	for _, s := range res.Stations {
		live = append(live, stations.Candidate{ID: s.UID, Name: s.Name, Location: s.Location})
	}

	out := models.StationMatch{Query: req.Station}
	m, found := h.matcher.Match(req.Station, req.Location, live)
	if !found && h.catalog != nil {
		m, found = h.matcher.Match(req.Station, req.Location, h.catalog.Candidates())
	}
	if found {
		out.Matched = true
		out.Station = toMatchedStation(&m)
	}

	zerolog.Ctx(r.Context()).Debug().
		Str("target", strings.TrimSpace(req.Station)).
		Bool("matched", found).
		Msg("station match")
	response.JSON(w, r, http.StatusOK, out)
}
