// Package fire counts active fire detections around the city, a proxy for
// crop-residue burning upwind.
package fire

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/breatheroute/aqfusion/pkg/geo"
)

// Fire errors.
var (
	ErrSourceUnavailable = errors.New("fire source unavailable")
	ErrMalformed         = errors.New("malformed fire data")
)

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Counter returns the number of fire detections inside a bounding box.
type Counter interface {
	Name() string
	FireCount(ctx context.Context, box geo.BoundingBox) (int, error)
}

// Count is a fire count and the source that produced it.
type Count struct {
	Value  int    `json:"value"`
	Source string `json:"source"`
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Primary  Counter
	Fallback Counter // optional
	Logger   zerolog.Logger
}

// Service asks the primary counter and falls back to the secondary one.
type Service struct {
	primary  Counter
	fallback Counter
	logger   zerolog.Logger
}

// NewService creates a fire count service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{primary: cfg.Primary, fallback: cfg.Fallback, logger: cfg.Logger}
}

// Count returns the fire count for box.
func (s *Service) Count(ctx context.Context, box geo.BoundingBox) (Count, error) {
	n, err := s.primary.FireCount(ctx, box)
	if err == nil {
		return Count{Value: n, Source: s.primary.Name()}, nil
	}
	s.logger.Warn().Err(err).Str("provider", s.primary.Name()).Msg("fire count failed")

	if s.fallback == nil {
		return Count{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	n, fbErr := s.fallback.FireCount(ctx, box)
	if fbErr != nil {
		s.logger.Warn().Err(fbErr).Str("provider", s.fallback.Name()).Msg("fallback fire count failed")
		return Count{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, errors.Join(err, fbErr))
	}
	return Count{Value: n, Source: s.fallback.Name()}, nil
}
