package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// PrometheusConfig controls the scrape endpoint served for Prometheus.
type PrometheusConfig struct {
	Enabled  bool
	Endpoint string
	Port     string
}

// newPrometheusReader builds the OTel metric reader backed by the default
// Prometheus registry, plus the mux serving the scrape endpoint.
func newPrometheusReader(cfg PrometheusConfig) (sdkmetric.Reader, *http.ServeMux, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	// The exporter registers its collectors with the default registry,
	// which is exactly what promhttp.Handler serves.
	mux := http.NewServeMux()
	mux.Handle(cfg.Endpoint, promhttp.Handler())

	return exporter, mux, nil
}

// startPrometheusServer serves the scrape endpoint on its own listener and
// ties the listener's lifetime to the manager shutdown.
func (om *ObservabilityManager) startPrometheusServer(mux *http.ServeMux) {
	srv := &http.Server{
		Addr:              ":" + om.config.Prometheus.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	om.logger.Info("Prometheus metrics server listening",
		"addr", srv.Addr,
		"path", om.config.Prometheus.Endpoint)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			om.logger.LogError(err, "Prometheus metrics server failed")
		}
	}()

	om.shutdownFuncs = append(om.shutdownFuncs, srv.Shutdown)
}
