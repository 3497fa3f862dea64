package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"applyforge/internal/ai"
	"applyforge/internal/config"

	"go.opentelemetry.io/otel/trace"
)

// Certificate expiry thresholds for the health report.
const (
	certCriticalWindow = 24 * time.Hour
	certWarningWindow  = 7 * 24 * time.Hour
)

type taskConfig struct {
	Task   string
	Config config.OperationAIConfig
}

// taskConfigs lists the AI task services the server depends on, in pipeline order.
func (s *Server) taskConfigs() []taskConfig {
	return []taskConfig{
		{"analysis", s.AppConfig.GetAnalysisConfig()},
		{"customize", s.AppConfig.GetCustomizeConfig()},
		{"changes", s.AppConfig.GetChangesConfig()},
		{"coverletter", s.AppConfig.GetCoverLetterConfig()},
	}
}

// healthHandler reports model availability, circuit breaker state and
// certificate status. Any unavailable model or unhealthy certificate turns
// the response into a 503 with status "degraded".
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	models, breakers, healthy := s.aiHealth()
	response := map[string]any{
		"status":           "healthy",
		"service":          "applyforge",
		"version":          s.Version,
		"ai_models":        models,
		"circuit_breakers": breakers,
	}

	if certStatus := s.certificateHealth(); certStatus != nil {
		response["certificates"] = certStatus
		if certHealthy, ok := certStatus["healthy"].(bool); ok && !certHealthy {
			healthy = false
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		response["status"] = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.Logger.LogError(err, "Failed to encode health response")
	}
}

// aiHealth builds a service per pipeline task and probes its model within the
// configured health check timeout. A construction failure shows up under both
// maps so a bad credential is visible next to the breaker report for the same
// task.
func (s *Server) aiHealth() (models, breakers map[string]any, healthy bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.AppConfig.Observability.HealthCheck.Timeout)
	defer cancel()

	models = make(map[string]any, 4)
	breakers = make(map[string]any, 4)
	healthy = true

	for _, tc := range s.taskConfigs() {
		cfg := tc.Config
		service, err := ai.NewService(&cfg, tc.Task, s.Logger)
		if err != nil {
			failure := map[string]any{
				"available": false,
				"error":     fmt.Sprintf("Failed to create %s service: %v", tc.Task, err),
			}
			models[tc.Task] = failure
			breakers[tc.Task] = failure
			healthy = false
			continue
		}

		info := s.probeModel(ctx, service)
		models[tc.Task] = info
		if !info.Available {
			healthy = false
		}

		if provider, ok := service.Provider.(*ai.GeminiProvider); ok {
			breakers[tc.Task] = provider.GetCircuitBreakerStats()
		}
	}

	return models, breakers, healthy
}

// probeModel runs the model availability check under the configured per-model
// timeout. Without one the provider applies its own cap.
func (s *Server) probeModel(ctx context.Context, service *ai.Service) *ai.ModelInfo {
	if d := s.AppConfig.Observability.HealthCheck.AIModelCheckTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return service.GetModelInfo(ctx)
}

// certificateHealth reports certificate expiry, watcher state and reload
// metrics. Returns nil when the server has no certificate manager.
func (s *Server) certificateHealth() map[string]any {
	if s.CertificateManager == nil {
		return nil
	}

	timeToExpiry, err := s.CertificateManager.CheckExpiry()
	if err != nil {
		return map[string]any{
			"healthy": false,
			"error":   fmt.Sprintf("Failed to check certificate expiry: %v", err),
		}
	}

	status := map[string]any{
		"time_to_expiry_hours": int(timeToExpiry.Hours()),
		"time_to_expiry":       timeToExpiry.String(),
	}

	switch {
	case timeToExpiry <= 0:
		status["healthy"] = false
		status["status"] = "expired"
		status["message"] = "Certificate has expired"
	case timeToExpiry <= certCriticalWindow:
		status["healthy"] = false
		status["status"] = "critical"
		status["message"] = "Certificate expires within 24 hours"
	case timeToExpiry <= certWarningWindow:
		status["healthy"] = true
		status["status"] = "warning"
		status["message"] = "Certificate expires within 7 days"
	default:
		status["healthy"] = true
		status["status"] = "ok"
		status["message"] = "Certificate is valid"
	}

	status["auto_reload"] = s.autoReloadStatus()

	if metrics := s.CertificateManager.GetMetrics(); metrics != nil {
		status["metrics"] = map[string]any{
			"reload_count":         metrics.ReloadCount,
			"reload_success_count": metrics.ReloadSuccessCount,
			"reload_failure_count": metrics.ReloadFailureCount,
			"last_reload_time":     metrics.LastReloadTime,
			"last_reload_success":  metrics.LastReloadSuccess,
			"last_reload_error":    metrics.LastReloadError,
		}
	}

	return status
}

// autoReloadStatus describes the reload watchers attached to the certificate
// manager.
func (s *Server) autoReloadStatus() map[string]any {
	if !s.TLSConfig.AutoReload.Enabled {
		return map[string]any{"enabled": false}
	}

	status := map[string]any{
		"enabled":               true,
		"file_watcher_enabled":  s.TLSConfig.AutoReload.FileWatcher.Enabled,
		"vault_watcher_enabled": s.TLSConfig.AutoReload.VaultWatcher.Enabled,
	}
	if fw := s.CertificateManager.fileWatcher; fw != nil {
		status["file_watcher_running"] = fw.IsRunning()
		status["watched_files"] = fw.GetWatchedFiles()
	}
	if vw := s.CertificateManager.vaultWatcher; vw != nil {
		status["vault_watcher_status"] = vw.Status()
	}
	return status
}

// statsHandler reports server configuration and runtime counters.
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]any{
		"service": "applyforge",
		"version": s.Version,
		"server": map[string]any{
			"max_request_size_bytes": s.MaxRequestSize,
		},
	}

	if s.Runner != nil {
		response["pipeline"] = map[string]any{
			"stage":      string(s.Runner.Stage()),
			"has_result": s.Runner.Latest() != nil,
		}
	}

	if s.RateLimiter != nil {
		response["rate_limiting"] = s.RateLimiter.GetStats()
	} else {
		response["rate_limiting"] = map[string]any{"enabled": false}
	}

	if s.RateLimit != nil {
		response["rate_limit_config"] = map[string]any{
			"enabled":          s.RateLimit.Enabled,
			"requests_per_min": s.RateLimit.RequestsPerMin,
			"burst_capacity":   s.RateLimit.BurstCapacity,
			"by_ip":            s.RateLimit.ByIP,
			"by_api_key":       s.RateLimit.ByAPIKey,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.Logger.LogError(err, "Failed to encode stats response")
	}
}

// parseJSONRequest decodes a JSON request body into v. The body is read in
// full first so a MaxBytesReader violation can be reported with its limit.
func parseJSONRequest(r *http.Request, v any) error {
	if r.Header.Get("Content-Type") != "application/json" {
		return fmt.Errorf("content-type must be application/json")
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return fmt.Errorf("request body too large (limit is %d bytes)", maxBytesErr.Limit)
		}
		return fmt.Errorf("failed to read request body: %w", err)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}

	return nil
}

// writeJSONResponse encodes a successful payload, recording encode failures on the span
func writeJSONResponse(w http.ResponseWriter, span trace.Span, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		span.RecordError(err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// writeErrorResponse writes a standardized error payload with the given status.
func writeErrorResponse(w http.ResponseWriter, errText, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// Best effort: the status line is already committed.
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: errText, Message: message})
}
