// Package handler provides HTTP handlers for the aqfusion API.
package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/breatheroute/aqfusion/internal/airquality"
	"github.com/breatheroute/aqfusion/internal/api/models"
	"github.com/breatheroute/aqfusion/internal/api/response"
	"github.com/breatheroute/aqfusion/internal/provider/resilience"
	"github.com/breatheroute/aqfusion/internal/weather"
)

// AggregateCache reports the state of the aggregate cache.
type AggregateCache interface {
	CacheStatus() airquality.CacheStatus
}

// WeatherCache reports weather cache statistics.
type WeatherCache interface {
	CacheStats() weather.CacheStats
}

// SchemaStatus reports whether the model feature schema has been loaded.
type SchemaStatus interface {
	Loaded() bool
}

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OpsConfig holds the dependencies of an OpsHandler. Every status source is
// optional.
type OpsConfig struct {
	Version   string
	BuildTime string

	Aggregates AggregateCache
	Weather    WeatherCache
	Schema     SchemaStatus
	Database   Pinger
	Registry   *resilience.Registry

	Clock clockwork.Clock
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsConfig
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &OpsHandler{cfg: cfg}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.cfg.Clock.Now()),
		Details: map[string]any{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready. The service is ready once the
// database, when configured, answers a ping.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.cfg.Clock.Now()),
	}
	if h.cfg.Database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.cfg.Database.Ping(ctx); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("readiness: database ping failed")
			health.Status = models.HealthStatusFail
			health.Details = map[string]any{"database": err.Error()}
			response.JSON(w, r, http.StatusServiceUnavailable, health)
			return
		}
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - provider and subsystem status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Time:       models.Timestamp(h.cfg.Clock.Now()),
		Subsystems: h.subsystems(r.Context()),
		Providers:  h.providers(),
	}
	status.Status = overall(status)
	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) subsystems(ctx context.Context) []models.SubsystemStatus {
	var out []models.SubsystemStatus

	if h.cfg.Aggregates != nil {
		cs := h.cfg.Aggregates.CacheStatus()
		s := models.SubsystemStatus{Name: "aggregate-cache", Status: models.HealthStatusOK}
		switch {
		case !cs.HasData:
			s.Status = models.HealthStatusDegraded
			s.Detail = strPtr("no aggregate cached")
		case cs.IsExpired:
			s.Status = models.HealthStatusDegraded
			s.Detail = strPtr(fmt.Sprintf("aggregate expired at %s", cs.ExpiresAt.Format(time.RFC3339)))
		default:
			s.Detail = strPtr(fmt.Sprintf("%d valid stations", cs.ValidCount))
		}
		out = append(out, s)
	}

	if h.cfg.Weather != nil {
		stats := h.cfg.Weather.CacheStats()
		out = append(out, models.SubsystemStatus{
			Name:   "weather-cache",
			Status: models.HealthStatusOK,
			Detail: strPtr(fmt.Sprintf("%d/%d fresh entries", stats.FreshEntries, stats.Entries)),
		})
	}

	if h.cfg.Schema != nil {
		s := models.SubsystemStatus{Name: "feature-schema", Status: models.HealthStatusOK}
		if !h.cfg.Schema.Loaded() {
			s.Status = models.HealthStatusDegraded
			s.Detail = strPtr("using default schema")
		}
		out = append(out, s)
	}

	if h.cfg.Database != nil {
		s := models.SubsystemStatus{Name: "database", Status: models.HealthStatusOK}
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := h.cfg.Database.Ping(pingCtx); err != nil {
			s.Status = models.HealthStatusFail
			s.Detail = strPtr(err.Error())
		}
		out = append(out, s)
	}

	return out
}

func (h *OpsHandler) providers() []models.ProviderStatus {
	if h.cfg.Registry == nil {
		return []models.ProviderStatus{}
	}
	health := h.cfg.Registry.All()

	out := make([]models.ProviderStatus, 0, len(health))
	for _, ph := range health {
		ps := models.ProviderStatus{
			Provider:      ph.Name,
			Status:        models.HealthStatusOK,
			LastSuccessAt: models.TimestampPtr(ph.LastSuccessAt),
			LastFailureAt: models.TimestampPtr(ph.LastFailureAt),
			OpenedAt:      models.TimestampPtr(ph.OpenedAt),
		}
		if len(ph.Failures) > 0 {
			ps.Failures = ph.Failures
		}
		switch {
		case ph.Open():
			ps.Status = models.HealthStatusFail
		case ph.HalfOpen():
			ps.Status = models.HealthStatusDegraded
		}
		if ph.LastError != "" {
			ps.Message = strPtr(ph.LastError)
		}
		out = append(out, ps)
	}
	return out
}

// overall fails when any subsystem fails. Provider outages only degrade the
// service since every provider has a fallback.
func overall(s models.SystemStatus) models.HealthStatus {
	status := models.HealthStatusOK
	for _, sub := range s.Subsystems {
		switch sub.Status {
		case models.HealthStatusFail:
			return models.HealthStatusFail
		case models.HealthStatusDegraded:
			status = models.HealthStatusDegraded
		}
	}
	for _, p := range s.Providers {
		if p.Status != models.HealthStatusOK {
			status = models.HealthStatusDegraded
		}
	}
	return status
}

func strPtr(s string) *string {
	return &s
}
