package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"applyforge/internal/config"
	"applyforge/internal/errors"
)

func newTestLimiter(t *testing.T, perMin, burst int) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(perMin, time.Minute, burst, errors.Discard())
	t.Cleanup(rl.Close)
	return rl
}

func TestRateLimiterAllow(t *testing.T) {
	rl := newTestLimiter(t, 60, 3)

	t.Run("burst is exhausted per key", func(t *testing.T) {
		for i := range 3 {
			assert.True(t, rl.Allow("api:alpha"), "request %d should fit in the burst", i+1)
		}
		assert.False(t, rl.Allow("api:alpha"), "request past the burst should be denied")
	})

	t.Run("keys do not share buckets", func(t *testing.T) {
		assert.True(t, rl.Allow("ip:192.0.2.1"))
	})
}

func TestRateLimiterEviction(t *testing.T) {
	rl := newTestLimiter(t, 60, 2)

	rl.Allow("api:stale")
	rl.Allow("api:fresh")

	// Backdate one bucket past the horizon.
	rl.mu.Lock()
	rl.clients["api:stale"].lastSeen = time.Now().Add(-time.Hour)
	rl.mu.Unlock()

	rl.evictIdle(minEvictionAge)

	rl.mu.Lock()
	_, staleAlive := rl.clients["api:stale"]
	_, freshAlive := rl.clients["api:fresh"]
	rl.mu.Unlock()

	assert.False(t, staleAlive, "idle bucket should be evicted")
	assert.True(t, freshAlive, "active bucket should survive")
}

func TestRateLimiterStats(t *testing.T) {
	rl := newTestLimiter(t, 120, 5)

	rl.Allow("a")
	rl.Allow("b")

	stats := rl.GetStats()
	assert.Equal(t, 2, stats["active_limiters"])
	assert.InDelta(t, 2.0, stats["rate_per_second"], 0.001)
	assert.InDelta(t, 120.0, stats["rate_per_minute"], 0.001)
	assert.Equal(t, 5, stats["burst_capacity"])
}

func TestRateLimiterCloseTwice(t *testing.T) {
	rl := NewRateLimiter(60, time.Minute, 1, nil)
	rl.Close()
	rl.Close()
}

func newRateLimitedServer(t *testing.T, cfg *config.RateLimitConfig) *Server {
	t.Helper()

	s := &Server{
		RateLimit: cfg,
		Logger:    errors.Discard(),
	}
	if cfg != nil && cfg.Enabled {
		s.RateLimiter = NewRateLimiter(cfg.RequestsPerMin, cfg.Window, cfg.BurstCapacity, s.Logger)
		t.Cleanup(s.RateLimiter.Close)
	}
	return s
}

func TestRateLimitMiddleware(t *testing.T) {
	okHandler := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }

	t.Run("throttles a caller past its burst", func(t *testing.T) {
		s := newRateLimitedServer(t, &config.RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 60,
			BurstCapacity:  1,
			Window:         time.Minute,
			ByAPIKey:       true,
		})
		handler := s.rateLimitMiddleware()(okHandler)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", nil)
		req.Header.Set("X-API-Key", "sk-throttled-caller")

		first := httptest.NewRecorder()
		handler(first, req)
		assert.Equal(t, http.StatusNoContent, first.Code)

		second := httptest.NewRecorder()
		handler(second, req)
		require.Equal(t, http.StatusTooManyRequests, second.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(second.Body.Bytes(), &resp))
		assert.Equal(t, "Rate limit exceeded", resp.Error)
		assert.Equal(t, "Too many requests", resp.Message)
	})

	t.Run("callers are throttled independently", func(t *testing.T) {
		s := newRateLimitedServer(t, &config.RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 60,
			BurstCapacity:  1,
			Window:         time.Minute,
			ByAPIKey:       true,
		})
		handler := s.rateLimitMiddleware()(okHandler)

		for _, key := range []string{"sk-first", "sk-second"} {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", nil)
			req.Header.Set("X-API-Key", key)
			handler(rec, req)
			assert.Equal(t, http.StatusNoContent, rec.Code, "fresh key %q should get its own bucket", key)
		}
	})

	t.Run("request without identity is not limited", func(t *testing.T) {
		// ByAPIKey only, so an anonymous request has no bucket key.
		s := newRateLimitedServer(t, &config.RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 60,
			BurstCapacity:  1,
			Window:         time.Minute,
			ByAPIKey:       true,
		})
		handler := s.rateLimitMiddleware()(okHandler)

		for range 3 {
			rec := httptest.NewRecorder()
			handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, http.StatusNoContent, rec.Code)
		}
	})

	t.Run("disabled limiting passes requests through", func(t *testing.T) {
		s := newRateLimitedServer(t, &config.RateLimitConfig{Enabled: false})
		handler := s.rateLimitMiddleware()(okHandler)

		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestRateLimitKey(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.RateLimitConfig
		prepare func(r *http.Request)
		want    string
	}{
		{
			name:    "x-api-key header",
			cfg:     config.RateLimitConfig{ByAPIKey: true},
			prepare: func(r *http.Request) { r.Header.Set("X-API-Key", "sk-alpha") },
			want:    "api:sk-alpha",
		},
		{
			name:    "bearer token fallback",
			cfg:     config.RateLimitConfig{ByAPIKey: true},
			prepare: func(r *http.Request) { r.Header.Set("Authorization", "Bearer sk-bravo") },
			want:    "api:sk-bravo",
		},
		{
			name:    "empty bearer token falls back to ip",
			cfg:     config.RateLimitConfig{ByAPIKey: true, ByIP: true},
			prepare: func(r *http.Request) { r.Header.Set("Authorization", "Bearer ") },
			want:    "ip:192.0.2.1",
		},
		{
			name:    "api key identity preferred over ip",
			cfg:     config.RateLimitConfig{ByAPIKey: true, ByIP: true},
			prepare: func(r *http.Request) { r.Header.Set("X-API-Key", "sk-charlie") },
			want:    "api:sk-charlie",
		},
		{
			name: "ip only",
			cfg:  config.RateLimitConfig{ByIP: true},
			want: "ip:192.0.2.1",
		},
		{
			name: "no strategy yields no key",
			cfg:  config.RateLimitConfig{},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Server{RateLimit: &tt.cfg}

			r := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
			r.RemoteAddr = "192.0.2.1:52144"
			if tt.prepare != nil {
				tt.prepare(r)
			}

			assert.Equal(t, tt.want, s.rateLimitKey(r))
		})
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "forwarded chain wins",
			remoteAddr: "10.0.0.1:34512",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"},
			want:       "203.0.113.7",
		},
		{
			name:       "garbage forwarded entries are skipped",
			remoteAddr: "10.0.0.1:34512",
			headers:    map[string]string{"X-Forwarded-For": "not-an-ip, 203.0.113.9"},
			want:       "203.0.113.9",
		},
		{
			name:       "mapped ipv6 forwarded entry is normalized",
			remoteAddr: "10.0.0.1:34512",
			headers:    map[string]string{"X-Forwarded-For": "::ffff:203.0.113.10"},
			want:       "203.0.113.10",
		},
		{
			name:       "real ip fallback",
			remoteAddr: "10.0.0.1:34512",
			headers:    map[string]string{"X-Forwarded-For": "bogus", "X-Real-IP": "198.51.100.4"},
			want:       "198.51.100.4",
		},
		{
			name:       "socket address without headers",
			remoteAddr: "192.0.2.33:40000",
			want:       "192.0.2.33",
		},
		{
			name:       "socket address without port",
			remoteAddr: "192.0.2.33",
			want:       "192.0.2.33",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}

			assert.Equal(t, tt.want, getClientIP(r))
		})
	}
}

func TestMaskLimitKey(t *testing.T) {
	assert.Equal(t, "api:sk-12345****", maskLimitKey("api:sk-123456789"))
	assert.Equal(t, "api:****", maskLimitKey("api:short"))
	assert.Equal(t, "ip:203.0.113.7", maskLimitKey("ip:203.0.113.7"))
}
