package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Logger returns a middleware that logs every request and attaches a
// request-scoped logger to the context, retrievable with zerolog.Ctx.
func Logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newStatusRecorder(w)

			lc := log.With().Str("request_id", GetRequestID(r.Context()))
			if spanCtx := trace.SpanContextFromContext(r.Context()); spanCtx.IsValid() {
				lc = lc.Str("trace_id", spanCtx.TraceID().String()).
					Str("span_id", spanCtx.SpanID().String())
			}
			reqLog := lc.Logger()

			next.ServeHTTP(wrapped, r.WithContext(reqLog.WithContext(r.Context())))

			var event *zerolog.Event
			switch {
			case wrapped.statusCode >= 500:
				event = reqLog.Error()
			case wrapped.statusCode >= 400:
				event = reqLog.Warn()
			default:
				event = reqLog.Info()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", routePattern(r)).
				Int("status", wrapped.statusCode).
				Int64("bytes", wrapped.written).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Str("user_agent", r.UserAgent()).
				Msg("request completed")
		})
	}
}
