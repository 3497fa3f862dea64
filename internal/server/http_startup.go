package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"applyforge/internal/observability"
	"applyforge/internal/pipeline"
)

const (
	// Drain budget for in-flight requests once shutdown begins.
	shutdownGrace = 30 * time.Second
	// Budget for flushing telemetry exporters on the way out.
	telemetryFlush = 5 * time.Second
)

// Start brings up observability, the shared pipeline runner, TLS, and the
// listener, then blocks until ctx is canceled or the listener fails. Signal
// handling lives in main; cancellation is the only shutdown trigger here.
func (s *Server) Start(ctx context.Context) error {
	om, err := observability.NewObservabilityManager(
		observability.NewConfig(s.AppConfig, s.Version),
		s.AppConfig,
		s.Logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer s.flushTelemetry(om)

	// One runner serves all requests so task services, metrics and the
	// last-write-wins result store are shared.
	s.Runner = pipeline.NewRunnerFromConfig(s.AppConfig, s.Logger, om)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.Host, s.Port),
		Handler:      om.HTTPMiddleware()(s.setupRoutes(om)),
		ReadTimeout:  s.ReadTimeout,
		WriteTimeout: s.WriteTimeout,
		IdleTimeout:  s.IdleTimeout,
	}

	vaultClient, err := s.initializeVaultClient()
	if err != nil {
		return err
	}
	if err := s.configureTLS(httpServer, vaultClient, om); err != nil {
		return err
	}

	s.displayServerInfo()
	return s.serveUntilCanceled(ctx, httpServer)
}

func (s *Server) flushTelemetry(om *observability.ObservabilityManager) {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryFlush)
	defer cancel()
	if err := om.Shutdown(ctx); err != nil {
		s.Logger.LogError(err, "Failed to shutdown observability")
	}
}

// serveUntilCanceled runs the listener until ctx is canceled or the listener
// fails outright.
func (s *Server) serveUntilCanceled(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("HTTP server listening",
			"address", srv.Addr,
			"tls_enabled", srv.TLSConfig != nil)
		if err := s.listen(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		s.Logger.Info("Shutdown requested, draining connections")
		return s.shutdown(srv)
	}
}

func (s *Server) listen(srv *http.Server) error {
	if srv.TLSConfig != nil {
		// Key material is already wired into TLSConfig, either as loaded
		// certificates or through GetCertificate, so the file arguments
		// stay empty.
		return srv.ListenAndServeTLS("", "")
	}
	return srv.ListenAndServe()
}

// shutdown drains in-flight requests and releases the background machinery,
// forcing the listener closed if draining exceeds the grace period.
func (s *Server) shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if cm := s.CertificateManager; cm != nil {
		if err := cm.Stop(); err != nil {
			s.Logger.LogError(err, "Failed to stop certificate manager")
		}
	}
	if s.RateLimiter != nil {
		s.RateLimiter.Close()
	}

	if err := srv.Shutdown(ctx); err != nil {
		s.Logger.LogError(err, "Graceful shutdown exceeded the grace period, forcing close")
		return srv.Close()
	}
	s.Logger.Info("Server stopped")
	return nil
}
