package middleware_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/aqfusion/internal/api/middleware"
)

func decodeLogLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestLogger_LogsRequest(t *testing.T) {
	var buf bytes.Buffer

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(zerolog.New(&buf)))
	r.Get("/v1/air-quality/stations/{id}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("response body"))
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/air-quality/stations/2554", http.NoBody)
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("X-Request-Id", "req-abc")
	r.ServeHTTP(httptest.NewRecorder(), req)

	lines := decodeLogLines(t, &buf)
	require.Len(t, lines, 1)
	entry := lines[0]
	assert.Equal(t, "request completed", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "req-abc", entry["request_id"])
	assert.Equal(t, "/v1/air-quality/stations/2554", entry["path"])
	assert.Equal(t, "/v1/air-quality/stations/{id}", entry["route"])
	assert.Equal(t, float64(200), entry["status"])
	assert.Equal(t, float64(13), entry["bytes"])
	assert.Equal(t, "test-agent", entry["user_agent"])
}

func TestLogger_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "info"},
		{http.StatusNotFound, "warn"},
		{http.StatusBadGateway, "error"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			handler := middleware.Logger(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

			lines := decodeLogLines(t, &buf)
			require.Len(t, lines, 1)
			assert.Equal(t, tt.level, lines[0]["level"])
		})
	}
}

func TestLogger_RequestScopedLogger(t *testing.T) {
	var buf bytes.Buffer

	handler := middleware.RequestID(middleware.Logger(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("inside handler")
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("X-Request-Id", "req-scoped")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	lines := decodeLogLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "inside handler", lines[0]["message"])
	assert.Equal(t, "req-scoped", lines[0]["request_id"])
}

func TestLogger_IncludesTraceIDs(t *testing.T) {
	setupTestTracer(t)
	var buf bytes.Buffer

	handler := middleware.Tracing("aqfusion-api")(middleware.Logger(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	lines := decodeLogLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Len(t, lines[0]["trace_id"], 32)
	assert.Len(t, lines[0]["span_id"], 16)
}
