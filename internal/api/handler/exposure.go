package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/breatheroute/aqfusion/internal/airquality"
	"github.com/breatheroute/aqfusion/internal/api/models"
	"github.com/breatheroute/aqfusion/internal/api/response"
	"github.com/breatheroute/aqfusion/internal/exposure"
	"github.com/breatheroute/aqfusion/pkg/geo"
	"github.com/breatheroute/aqfusion/pkg/polyline"
)

// Route sampling limits.
const (
	DefaultIntervalKm = 0.5
	MinIntervalKm     = 0.05
	MaxRoutePoints    = 2000
	maxRouteBodyBytes = 1 << 20
)

// ExposureHandler handles the health advice, source attribution and route
// exposure endpoints.
type ExposureHandler struct {
	snapshots  SnapshotService
	aggregates AggregateService
	query      airquality.Query
	tagger     *exposure.Tagger
}

// NewExposureHandler creates a new ExposureHandler.
func NewExposureHandler(snapshots SnapshotService, aggregates AggregateService, query airquality.Query, tagger *exposure.Tagger) *ExposureHandler {
	return &ExposureHandler{
		snapshots:  snapshots,
		aggregates: aggregates,
		query:      query,
		tagger:     tagger,
	}
}

// Advice handles GET /v1/exposure/advice.
func (h *ExposureHandler) Advice(w http.ResponseWriter, r *http.Request) {
	req, errs := parseSnapshotRequest(r)
	if len(errs) > 0 {
		response.BadRequest(w, r, "invalid location", errs)
		return
	}

	res, err := h.snapshots.Score(r.Context(), req)
	if err != nil {
		writeScoreError(w, r, err)
		return
	}
	out := models.ExposureAdvice{
		Station:      res.Station,
		Advice:       toAdvice(res.Advice),
		RiskCategory: string(res.Risk),
	}
	if res.Snapshot != nil {
		out.Degraded = res.Snapshot.Degraded
	}
	response.JSON(w, r, http.StatusOK, out)
}

// Sources handles GET /v1/exposure/sources.
func (h *ExposureHandler) Sources(w http.ResponseWriter, r *http.Request) {
	req, errs := parseSnapshotRequest(r)
	if len(errs) > 0 {
		response.BadRequest(w, r, "invalid location", errs)
		return
	}

	res, err := h.snapshots.Score(r.Context(), req)
	if err != nil {
		writeScoreError(w, r, err)
		return
	}
	out := models.ExposureSources{
		Station: res.Station,
		AQI:     res.Advice.AQI,
		Sources: toSources(res.Sources),
	}
	if res.Snapshot != nil {
		out.Degraded = res.Snapshot.Degraded
	}
	response.JSON(w, r, http.StatusOK, out)
}

func writeScoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, airquality.ErrInsufficientData) {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("no AQI available for score")
		response.ServiceUnavailable(w, r, "no air quality data available")
		return
	}
	writeSnapshotError(w, r, err)
}

// Route handles POST /v1/exposure/route. The route is resampled, each sample
// is tagged with the AQI of its nearest live station and the cumulative
// exposure is returned.
func (h *ExposureHandler) Route(w http.ResponseWriter, r *http.Request) {
	var input models.RouteExposureRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRouteBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	path, fieldErrs := routePath(input)
	if len(fieldErrs) > 0 {
		response.BadRequest(w, r, "invalid route", fieldErrs)
		return
	}

	interval := input.IntervalKm
	if interval == 0 {
		interval = DefaultIntervalKm
	}
	if interval < MinIntervalKm {
		response.BadRequest(w, r, "invalid route", []models.FieldError{
			{Field: "intervalKm", Message: fmt.Sprintf("must be at least %g", MinIntervalKm), Code: "OUT_OF_RANGE"},
		})
		return
	}

	lengthKm := polyline.LengthKm(path)
	if int(lengthKm/interval)+2 > MaxRoutePoints {
		response.BadRequest(w, r, "route too long for the sampling interval", []models.FieldError{
			{Field: "intervalKm", Message: fmt.Sprintf("route would exceed %d samples", MaxRoutePoints), Code: "OUT_OF_RANGE"},
		})
		return
	}

	agg, err := h.aggregates.GetAggregate(r.Context(), h.query)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("aggregate query rejected")
		response.InternalError(w, r, "air quality aggregate unavailable")
		return
	}

	samples := exposure.SampleRoute(path, interval)
	tagged := h.tagger.TagPoints(samples, agg)
	res := exposure.RouteExposure(tagged)

	out := models.RouteExposure{
		Exposure:      res.Exposure,
		Risk:          string(res.Risk),
		DistanceKm:    lengthKm,
		PointCount:    res.PointCount,
		MissingPoints: res.MissingPoints,
		MeanAQI:       res.MeanAQI.Ptr(),
		MaxAQI:        res.MaxAQI.Ptr(),
		Source:        models.AggregateSource(agg.Source),
	}
	if input.IncludePoints {
		out.Points = make([]models.RoutePoint, 0, len(tagged))
		for _, p := range tagged {
			out.Points = append(out.Points, toRoutePoint(p))
		}
	}

	zerolog.Ctx(r.Context()).Debug().
		Int("samples", res.PointCount).
		Int("missing", res.MissingPoints).
		Float64("exposure", res.Exposure).
		Msg("route exposure computed")
	response.JSON(w, r, http.StatusOK, out)
}

// routePath decodes the route from the polyline or the point list.
func routePath(input models.RouteExposureRequest) ([]geo.Point, []models.FieldError) {
	switch {
	case input.Polyline != "" && len(input.Points) > 0:
		return nil, []models.FieldError{{Field: "points", Message: "not allowed with polyline", Code: "CONFLICT"}}
	case input.Polyline != "":
		path, err := polyline.Decode(input.Polyline)
		if err != nil {
			return nil, []models.FieldError{{Field: "polyline", Message: err.Error(), Code: "INVALID"}}
		}
		if len(path) == 0 {
			return nil, []models.FieldError{{Field: "polyline", Message: "must contain at least one point", Code: "REQUIRED"}}
		}
		return path, nil
	case len(input.Points) > 0:
		path := make([]geo.Point, 0, len(input.Points))
		var errs []models.FieldError
		for i, p := range input.Points {
			gp := geo.Point{Lat: p.Lat, Lon: p.Lon}
			if err := gp.Validate(); err != nil {
				errs = append(errs, models.FieldError{Field: fmt.Sprintf("points[%d]", i), Message: err.Error(), Code: "OUT_OF_RANGE"})
				continue
			}
			path = append(path, gp)
		}
		return path, errs
	default:
		return nil, []models.FieldError{
			{Field: "polyline", Message: "required if points are not provided", Code: "REQUIRED"},
			{Field: "points", Message: "required if polyline is not provided", Code: "REQUIRED"},
		}
	}
}
