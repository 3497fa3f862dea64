package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"applyforge/internal/errors"
)

// Idle buckets are scanned for eviction on a fixed cadence. The eviction
// horizon never drops below the floor so a briefly quiet caller keeps its
// bucket state across the gap.
const (
	evictionScanInterval = 10 * time.Minute
	minEvictionAge       = 10 * time.Minute
)

// RateLimiter hands out one token bucket per caller key and evicts buckets
// that have gone idle. Keys are produced by rateLimitKey: "api:" plus the
// presented credential, or "ip:" plus the client address.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket

	limit  rate.Limit
	burst  int
	done   chan struct{}
	once   sync.Once
	logger *errors.Logger
}

// clientBucket pairs a token bucket with its last use so idle entries can
// be dropped.
type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a limiter that allows requestsPerMin requests per
// minute per key, with the given burst capacity. Buckets idle for longer
// than window (or the floor, whichever is larger) are evicted by a
// background goroutine; call Close to stop it.
func NewRateLimiter(requestsPerMin int, window time.Duration, burstCapacity int, logger *errors.Logger) *RateLimiter {
	if logger == nil {
		logger = errors.Discard()
	}

	rl := &RateLimiter{
		clients: make(map[string]*clientBucket),
		limit:   rate.Limit(float64(requestsPerMin) / 60.0),
		burst:   burstCapacity,
		done:    make(chan struct{}),
		logger:  logger,
	}

	go rl.evictLoop(evictionScanInterval, max(window, minEvictionAge))

	return rl
}

// Allow consumes one token from the bucket for key, creating the bucket on
// first sight. It reports whether the request may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.bucket(key).Allow()
}

func (rl *RateLimiter) bucket(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.clients[key]
	if !ok {
		entry = &clientBucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// GetStats reports the limiter configuration and the number of live
// buckets, for the stats endpoint.
func (rl *RateLimiter) GetStats() map[string]any {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return map[string]any{
		"active_limiters": len(rl.clients),
		"rate_per_second": float64(rl.limit),
		"rate_per_minute": float64(rl.limit) * 60,
		"burst_capacity":  rl.burst,
	}
}

func (rl *RateLimiter) evictLoop(scanEvery, age time.Duration) {
	ticker := time.NewTicker(scanEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evictIdle(age)
		case <-rl.done:
			return
		}
	}
}

// evictIdle drops buckets not used within age. A caller that returns later
// gets a fresh bucket, which looks the same as one that refilled while
// idle.
func (rl *RateLimiter) evictIdle(age time.Duration) {
	cutoff := time.Now().Add(-age)

	rl.mu.Lock()
	evicted := 0
	for key, entry := range rl.clients {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
			evicted++
		}
	}
	remaining := len(rl.clients)
	rl.mu.Unlock()

	if evicted > 0 {
		rl.logger.Debug("Evicted idle rate limit buckets",
			"evicted", evicted,
			"remaining", remaining)
	}
}

// Close stops the eviction goroutine. Safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.done) })
}

// rateLimitMiddleware wraps a handler with per-caller rate limiting. When
// limiting is disabled it returns the handler untouched.
func (s *Server) rateLimitMiddleware() func(http.HandlerFunc) http.HandlerFunc {
	if s.RateLimiter == nil || s.RateLimit == nil || !s.RateLimit.Enabled {
		return func(next http.HandlerFunc) http.HandlerFunc { return next }
	}

	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			key := s.rateLimitKey(r)
			if key == "" {
				// No usable identity under the configured key strategy.
				next(w, r)
				return
			}

			if !s.RateLimiter.Allow(key) {
				s.Logger.Info("Rate limit exceeded",
					"key", maskLimitKey(key),
					"method", r.Method,
					"path", r.URL.Path)
				writeErrorResponse(w, "Rate limit exceeded", "Too many requests", http.StatusTooManyRequests)
				return
			}

			next(w, r)
		}
	}
}

// rateLimitKey derives the bucket key for a request. API-key identity wins
// over IP identity so authenticated callers behind a shared proxy are not
// throttled as one. An empty key exempts the request.
func (s *Server) rateLimitKey(r *http.Request) string {
	if s.RateLimit.ByAPIKey {
		if key := requestAPIKey(r); key != "" {
			return "api:" + key
		}
	}

	if s.RateLimit.ByIP {
		return "ip:" + getClientIP(r)
	}

	return ""
}

// maskLimitKey hides API-key material before it reaches the logs. IP keys
// pass through unchanged.
func maskLimitKey(key string) string {
	if token, ok := strings.CutPrefix(key, "api:"); ok {
		return "api:" + maskAPIKey(token)
	}
	return key
}

// getClientIP returns the originating client address, preferring proxy
// headers over the socket address.
func getClientIP(r *http.Request) string {
	// X-Forwarded-For accumulates one hop per proxy; the leftmost valid
	// entry is the original client.
	if ip := firstForwardedIP(r.Header.Get("X-Forwarded-For")); ip != "" {
		return ip
	}

	if ip := r.Header.Get("X-Real-IP"); ip != "" && net.ParseIP(ip) != nil {
		return ip
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr without a port, e.g. in tests.
		return r.RemoteAddr
	}
	return host
}

// firstForwardedIP picks the first parseable address from a comma-separated
// header value.
func firstForwardedIP(list string) string {
	for part := range strings.SplitSeq(list, ",") {
		if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
			return ip.String()
		}
	}
	return ""
}
