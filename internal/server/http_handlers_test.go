package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel/trace"

	"applyforge/internal/config"
	"applyforge/internal/errors"
)

// newHandlerTestServer builds a server whose AI tasks are configured but have
// no credentials, so every service construction fails without network access.
func newHandlerTestServer(t *testing.T) *Server {
	t.Helper()

	appCfg := &config.Config{}
	appCfg.AI.Provider = "gemini"
	appCfg.AI.Model = "gemini-2.0-flash"
	appCfg.Observability.HealthCheck.Timeout = time.Second

	return &Server{
		Version:        "1.2.3",
		AppConfig:      appCfg,
		MaxRequestSize: 1024,
		Logger:         errors.Discard(),
	}
}

func decodeJSONBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthHandler(t *testing.T) {
	t.Run("degraded without credentials", func(t *testing.T) {
		s := newHandlerTestServer(t)

		rec := httptest.NewRecorder()
		s.healthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		body := decodeJSONBody(t, rec)
		assert.Equal(t, "degraded", body["status"])
		assert.Equal(t, "applyforge", body["service"])
		assert.Equal(t, "1.2.3", body["version"])
		assert.NotContains(t, body, "certificates")

		models, ok := body["ai_models"].(map[string]any)
		require.True(t, ok, "ai_models should be an object")
		breakers, ok := body["circuit_breakers"].(map[string]any)
		require.True(t, ok, "circuit_breakers should be an object")

		for _, task := range []string{"analysis", "customize", "changes", "coverletter"} {
			model, ok := models[task].(map[string]any)
			require.True(t, ok, "task %q should be reported", task)
			assert.Equal(t, false, model["available"])
			assert.Contains(t, model["error"], "Failed to create "+task+" service")

			breaker, ok := breakers[task].(map[string]any)
			require.True(t, ok, "breaker for task %q should be reported", task)
			assert.Equal(t, false, breaker["available"])
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		s := newHandlerTestServer(t)

		rec := httptest.NewRecorder()
		s.healthHandler(rec, httptest.NewRequest(http.MethodPost, "/health", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestStatsHandler(t *testing.T) {
	t.Run("reports server and rate limit state", func(t *testing.T) {
		s := newHandlerTestServer(t)
		s.RateLimit = &config.RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 120,
			BurstCapacity:  5,
			Window:         time.Minute,
			ByAPIKey:       true,
		}
		s.RateLimiter = NewRateLimiter(120, time.Minute, 5, s.Logger)
		t.Cleanup(s.RateLimiter.Close)

		rec := httptest.NewRecorder()
		s.statsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		body := decodeJSONBody(t, rec)
		assert.Equal(t, "applyforge", body["service"])
		assert.Equal(t, "1.2.3", body["version"])
		assert.NotContains(t, body, "pipeline", "no runner means no pipeline block")

		srv, ok := body["server"].(map[string]any)
		require.True(t, ok)
		assert.InDelta(t, 1024, srv["max_request_size_bytes"], 0.001)

		limiting, ok := body["rate_limiting"].(map[string]any)
		require.True(t, ok)
		assert.Contains(t, limiting, "active_limiters")

		limitCfg, ok := body["rate_limit_config"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, true, limitCfg["enabled"])
		assert.InDelta(t, 120, limitCfg["requests_per_min"], 0.001)
		assert.InDelta(t, 5, limitCfg["burst_capacity"], 0.001)
		assert.Equal(t, false, limitCfg["by_ip"])
		assert.Equal(t, true, limitCfg["by_api_key"])
	})

	t.Run("rate limiting disabled", func(t *testing.T) {
		s := newHandlerTestServer(t)

		rec := httptest.NewRecorder()
		s.statsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeJSONBody(t, rec)
		assert.Equal(t, map[string]any{"enabled": false}, body["rate_limiting"])
		assert.NotContains(t, body, "rate_limit_config")
	})

	t.Run("method not allowed", func(t *testing.T) {
		s := newHandlerTestServer(t)

		rec := httptest.NewRecorder()
		s.statsHandler(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/stats", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestParseJSONRequest(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	t.Run("decodes a valid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"ada"}`))
		req.Header.Set("Content-Type", "application/json")

		var got payload
		require.NoError(t, parseJSONRequest(req, &got))
		assert.Equal(t, "ada", got.Name)
	})

	t.Run("rejects wrong content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "text/plain")

		err := parseJSONRequest(req, &payload{})
		require.Error(t, err)
		assert.EqualError(t, err, "content-type must be application/json")
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":`))
		req.Header.Set("Content-Type", "application/json")

		err := parseJSONRequest(req, &payload{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse JSON")
	})

	t.Run("reports the body size limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"far too long for the limit"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Body = http.MaxBytesReader(httptest.NewRecorder(), req.Body, 16)

		err := parseJSONRequest(req, &payload{})
		require.Error(t, err)
		assert.EqualError(t, err, "request body too large (limit is 16 bytes)")
	})
}

func TestWriteJSONResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	span := trace.SpanFromContext(context.Background())

	writeJSONResponse(rec, span, map[string]string{"ok": "yes"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"ok":"yes"}`, rec.Body.String())
}

func TestWriteErrorResponse(t *testing.T) {
	rec := httptest.NewRecorder()

	writeErrorResponse(rec, "Invalid request body", "resumeText field is required", http.StatusBadRequest)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Invalid request body", resp.Error)
	assert.Equal(t, "resumeText field is required", resp.Message)
}
