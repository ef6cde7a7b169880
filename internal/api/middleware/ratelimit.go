package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/breatheroute/aqfusion/internal/api/models"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	// Requests per window
	RequestLimit int
	// Window duration
	WindowLength time.Duration
}

// PerMinute returns a limit of n requests per minute.
func PerMinute(n int) RateLimitConfig {
	return RateLimitConfig{RequestLimit: n, WindowLength: time.Minute}
}

var (
	// ExpensiveRateLimit applies to endpoints that call the model service or
	// score whole routes (30 req/min).
	ExpensiveRateLimit = PerMinute(30)

	// StandardRateLimit applies to the remaining read endpoints (120 req/min).
	StandardRateLimit = PerMinute(120)
)

// RateLimitByIP creates a rate limiter keyed by client IP (as resolved by
// chi's RealIP middleware). A zero RequestLimit disables limiting.
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.RequestLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(rateLimitExceeded(cfg.WindowLength)),
	)
}

// rateLimitExceeded writes a 429 problem with a Retry-After of one window.
func rateLimitExceeded(window time.Duration) http.HandlerFunc {
	retryAfter := strconv.Itoa(int(window.Seconds()))
	return func(w http.ResponseWriter, r *http.Request) {
		problem := models.NewTooManyRequests(GetRequestID(r.Context()), "Rate limit exceeded. Please try again later.")
		problem.Instance = r.URL.Path
		w.Header().Set("Retry-After", retryAfter)
		problem.Write(w)
	}
}
