package server

import (
	"time"

	"applyforge/internal/config"
	"applyforge/internal/errors"
	"applyforge/internal/pipeline"
)

// ErrorResponse is the JSON body returned for failed API requests.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Server carries everything the HTTP API needs at runtime.
type Server struct {
	Host    string
	Port    string
	Version string

	// Full application configuration, needed by observability setup and the
	// Vault-backed TLS path.
	AppConfig *config.Config

	// Pipeline runner shared by all requests; holds the task services and
	// the last-write-wins result store.
	Runner *pipeline.Runner

	TLSConfig          config.TLSConfig
	CertificateManager *CertificateManager

	// API keys accepted by the auth middleware, keyed for O(1) lookup.
	APIKeys map[string]bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Request body size cap in bytes.
	MaxRequestSize int64

	RateLimit   *config.RateLimitConfig
	RateLimiter *RateLimiter

	Logger *errors.Logger
}

// NewServer builds a Server from the loaded configuration. Everything the
// listener needs is derived from appCfg; version carries the build version
// for the health and stats endpoints. The rate limiter is only instantiated
// when rate limiting is enabled.
func NewServer(appCfg *config.Config, version string, logger *errors.Logger) *Server {
	if logger == nil {
		logger = errors.Discard()
	}

	srv := &Server{
		Host:           appCfg.Server.Host,
		Port:           appCfg.Server.Port,
		Version:        version,
		AppConfig:      appCfg,
		TLSConfig:      appCfg.Server.TLS,
		APIKeys:        make(map[string]bool, len(appCfg.Server.APIKeys)),
		ReadTimeout:    appCfg.Server.ReadTimeout,
		WriteTimeout:   appCfg.Server.WriteTimeout,
		IdleTimeout:    appCfg.Server.IdleTimeout,
		MaxRequestSize: appCfg.App.MaxFileSize,
		RateLimit:      &appCfg.Server.RateLimit,
		Logger:         logger,
	}

	for _, key := range appCfg.Server.APIKeys {
		if key != "" {
			srv.APIKeys[key] = true
		}
	}

	if rl := srv.RateLimit; rl.Enabled {
		srv.RateLimiter = NewRateLimiter(rl.RequestsPerMin, rl.Window, rl.BurstCapacity, logger)
	}
	return srv
}
