package server

import (
	"net/http"
	"strings"

	"applyforge/internal/observability"
)

// setupRoutes builds the route table. Health and stats stay unprotected
// for probes; the API endpoints share the full middleware chain.
func (s *Server) setupRoutes(om *observability.ObservabilityManager) *http.ServeMux {
	mux := http.NewServeMux()

	rateLimit := s.createRateLimitMiddleware(om)
	limitBody := s.requestSizeLimitMiddleware()
	protect := func(h http.HandlerFunc) http.HandlerFunc {
		// Rate limiting runs first so over-limit callers are rejected
		// before any authentication work happens.
		return rateLimit(s.authMiddleware(limitBody(h)))
	}

	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/api/v1/stats", s.statsHandler)
	mux.HandleFunc("/api/v1/analyze", protect(s.createAnalyzeHandler(om)))
	mux.HandleFunc("/api/v1/cover-letter", protect(s.createCoverLetterHandler(om)))
	mux.HandleFunc("/api/v1/extract", protect(s.createExtractHandler(om)))

	return mux
}

// authMiddleware rejects requests without a recognized API key. With no
// keys configured the server is open and the middleware passes through.
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.APIKeys) == 0 {
			next(w, r)
			return
		}

		apiKey := requestAPIKey(r)
		if apiKey == "" {
			s.Logger.Info("Authentication failed: missing API key",
				"endpoint", r.URL.Path,
				"client_ip", r.RemoteAddr)
			writeErrorResponse(w, "Missing API key", "X-API-Key header or Authorization Bearer token required", http.StatusUnauthorized)
			return
		}

		if !s.APIKeys[apiKey] {
			s.Logger.Info("Authentication failed: invalid API key",
				"endpoint", r.URL.Path,
				"client_ip", r.RemoteAddr,
				"api_key_prefix", maskAPIKey(apiKey))
			writeErrorResponse(w, "Invalid API key", "Unauthorized access", http.StatusUnauthorized)
			return
		}

		s.Logger.Debug("API authentication successful",
			"endpoint", r.URL.Path,
			"client_ip", r.RemoteAddr,
			"api_key_prefix", maskAPIKey(apiKey))
		next(w, r)
	}
}

// requestSizeLimitMiddleware caps the request body via MaxBytesReader so
// oversized uploads fail at the handler's first read.
func (s *Server) requestSizeLimitMiddleware() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if s.MaxRequestSize > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestSize)
			}
			next(w, r)
		}
	}
}

// requestAPIKey extracts the caller's API key from the X-API-Key header,
// falling back to an Authorization bearer token.
func requestAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// maskAPIKey keeps only a short prefix of key material for log lines.
func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "****"
	}
	return apiKey[:8] + "****"
}
