package airquality

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/breatheroute/aqfusion/pkg/optional"
)

// Sanitizer defaults.
const (
	DefaultStaleAfter = 90 * time.Minute
	DefaultAQICeiling = 1000.0
)

// SanitizerConfig holds configuration for the sanitizer.
type SanitizerConfig struct {
	// StaleAfter drops readings observed longer ago than this (default: 90m).
	StaleAfter time.Duration

	// AQICeiling caps a single reading's AQI (default: 1000).
	AQICeiling float64

	// Clock is the time source for staleness checks.
	Clock clockwork.Clock
}

// Sanitizer coerces, validates and filters raw station readings.
type Sanitizer struct {
	staleAfter time.Duration
	ceiling    float64
	clock      clockwork.Clock
}

// NewSanitizer creates a sanitizer, applying defaults for zero values.
func NewSanitizer(cfg SanitizerConfig) *Sanitizer {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.AQICeiling <= 0 {
		cfg.AQICeiling = DefaultAQICeiling
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Sanitizer{
		staleAfter: cfg.StaleAfter,
		ceiling:    cfg.AQICeiling,
		clock:      cfg.Clock,
	}
}

// Sanitize splits raw readings into accepted readings (with AQI coerced and
// capped) and exclusions with a reason. Nothing is dropped silently. A
// reading with a provider time that did not parse is excluded; a reading
// with no time at all is kept.
func (s *Sanitizer) Sanitize(raw []StationReading) SanitizedSet {
	set := SanitizedSet{
		Readings: make([]StationReading, 0, len(raw)),
	}
	now := s.clock.Now()

	for _, r := range raw {
		aqi, reason, detail := s.coerceAQI(r)
		if reason != "" {
			set.Excluded = append(set.Excluded, Exclusion{Reading: r, Reason: reason, Detail: detail})
			continue
		}

		if r.ObservedAt == nil && strings.TrimSpace(r.RawTime) != "" {
			set.Excluded = append(set.Excluded, Exclusion{
				Reading: r,
				Reason:  ReasonUnparseableTime,
				Detail:  fmt.Sprintf("cannot parse time %q", r.RawTime),
			})
			continue
		}

		if r.ObservedAt != nil && now.Sub(*r.ObservedAt) > s.staleAfter {
			set.Excluded = append(set.Excluded, Exclusion{
				Reading: r,
				Reason:  ReasonStale,
				Detail:  fmt.Sprintf("observed %s ago", now.Sub(*r.ObservedAt).Truncate(time.Minute)),
			})
			continue
		}

		clean := r
		clean.AQI = optional.Of(math.Min(aqi, s.ceiling))
		set.Readings = append(set.Readings, clean)
	}

	return set
}

// coerceAQI parses the provider AQI, falling back to the pollutant
// sub-indices when the provider sent no usable number.
func (s *Sanitizer) coerceAQI(r StationReading) (float64, ExclusionReason, string) {
	if v, ok := r.AQI.Get(); ok && r.RawAQI == "" {
		return validateAQI(v)
	}

	raw := strings.TrimSpace(r.RawAQI)
	if raw == "" || raw == "-" {
		if derived, ok := StationAQI(r.Components).Get(); ok {
			return derived, "", ""
		}
		return 0, ReasonMissingAQI, "provider reported no AQI"
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		if derived, ok := StationAQI(r.Components).Get(); ok {
			return derived, "", ""
		}
		return 0, ReasonUnparseableAQI, fmt.Sprintf("cannot parse %q", raw)
	}
	return validateAQI(v)
}

func validateAQI(v float64) (float64, ExclusionReason, string) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, ReasonInvalidAQI, fmt.Sprintf("aqi %v out of range", v)
	}
	return v, "", ""
}
