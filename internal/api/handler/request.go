package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/breatheroute/aqfusion/internal/api/models"
	"github.com/breatheroute/aqfusion/internal/pipeline"
	"github.com/breatheroute/aqfusion/pkg/geo"
)

// MaxStationQueryLength bounds the station query parameter.
const MaxStationQueryLength = 128

// parseSnapshotRequest reads the station, lat and lon query parameters.
// lat and lon must be given together.
func parseSnapshotRequest(r *http.Request) (pipeline.Request, []models.FieldError) {
	q := r.URL.Query()
	req := pipeline.Request{Station: strings.TrimSpace(q.Get("station"))}

	var errs []models.FieldError
	if len(req.Station) > MaxStationQueryLength {
		errs = append(errs, models.FieldError{Field: "station", Message: "too long", Code: "TOO_LONG"})
	}

	p, locErrs := parsePoint(q.Get("lat"), q.Get("lon"))
	errs = append(errs, locErrs...)
	req.Location = p
	return req, errs
}

func parsePoint(latRaw, lonRaw string) (*geo.Point, []models.FieldError) {
	latRaw, lonRaw = strings.TrimSpace(latRaw), strings.TrimSpace(lonRaw)
	if latRaw == "" && lonRaw == "" {
		return nil, nil
	}

	var errs []models.FieldError
	lat, latErr := parseCoordinate("lat", latRaw, 90)
	if latErr != nil {
		errs = append(errs, *latErr)
	}
	lon, lonErr := parseCoordinate("lon", lonRaw, 180)
	if lonErr != nil {
		errs = append(errs, *lonErr)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return &geo.Point{Lat: lat, Lon: lon}, nil
}

func parseCoordinate(field, raw string, limit float64) (float64, *models.FieldError) {
	if raw == "" {
		return 0, &models.FieldError{Field: field, Message: "required with lat and lon", Code: "REQUIRED"}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &models.FieldError{Field: field, Message: "must be a number", Code: "INVALID"}
	}
	if v < -limit || v > limit {
		return 0, &models.FieldError{
			Field:   field,
			Message: "must be between -" + strconv.Itoa(int(limit)) + " and " + strconv.Itoa(int(limit)),
			Code:    "OUT_OF_RANGE",
		}
	}
	return v, nil
}
