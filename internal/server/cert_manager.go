package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"applyforge/internal/config"
	"applyforge/internal/errors"
	"applyforge/internal/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CertificateManager owns the TLS certificate material for the API
// server. Certificates come either from files on disk or from
// Vault-delivered PEM content; reloads swap them in atomically so
// in-flight handshakes never see a half-loaded pair. The manager also
// keeps the expiry gauge current so the health endpoint can surface
// certificate state.
type CertificateManager struct {
	mu sync.RWMutex

	serverCert       *tls.Certificate
	clientCert       *tls.Certificate
	caCertPool       *x509.CertPool
	serverCertExpiry time.Time
	clientCertExpiry time.Time

	fileWatcher  *CertWatcher
	vaultWatcher *VaultWatcher

	config           *config.TLSConfig
	autoReloadConfig *config.AutoReloadConfig
	vaultClient      SecretReader

	reloadCallbacks      []ReloadCallback
	logger               *errors.Logger
	observabilityManager *observability.ObservabilityManager

	renewalPending atomic.Bool
	done           chan struct{}
	stopOnce       sync.Once

	// Reload bookkeeping, guarded by mu.
	metrics CertificateMetrics
}

// ReloadCallback receives the outcome of every certificate reload.
type ReloadCallback func(success bool, err error)

// CertificateMetrics counts reload outcomes. The health endpoint serves a
// snapshot of it per scrape.
type CertificateMetrics struct {
	ReloadCount        int64
	ReloadSuccessCount int64
	ReloadFailureCount int64
	LastReloadTime     time.Time
	LastReloadSuccess  bool
	LastReloadError    string
}

// NewCertificateManager creates a certificate manager for the given TLS
// configuration. The Vault client may be nil when certificates come from
// files only.
func NewCertificateManager(tlsConfig *config.TLSConfig, autoReloadConfig *config.AutoReloadConfig, vaultClient SecretReader, om *observability.ObservabilityManager, logger *errors.Logger) *CertificateManager {
	if logger == nil {
		logger = errors.Discard()
	}
	return &CertificateManager{
		config:               tlsConfig,
		autoReloadConfig:     autoReloadConfig,
		vaultClient:          vaultClient,
		logger:               logger,
		reloadCallbacks:      make([]ReloadCallback, 0),
		observabilityManager: om,
		done:                 make(chan struct{}),
	}
}

// Start performs the initial certificate load and brings up the expiry
// ticker and any configured watchers. A failed initial load aborts
// startup; watcher failures after that point only surface through the
// reload bookkeeping.
func (cm *CertificateManager) Start() error {
	if err := cm.loadCertificates(); err != nil {
		return fmt.Errorf("failed to load initial certificates: %w", err)
	}

	cm.startExpiryTicker()

	if err := cm.startFileWatcher(); err != nil {
		return err
	}
	return cm.startVaultWatcher()
}

// startFileWatcher watches on-disk certificate files when file-based
// sources are configured.
func (cm *CertificateManager) startFileWatcher() error {
	if cm.autoReloadConfig == nil || !cm.autoReloadConfig.FileWatcher.Enabled {
		return nil
	}
	if cm.config.CertFile == "" && cm.config.KeyFile == "" && cm.config.CAFile == "" {
		return nil
	}

	watcher := NewCertWatcher(
		cm.config.CertFile,
		cm.config.KeyFile,
		cm.config.CAFile,
		cm.autoReloadConfig.FileWatcher.DebounceDelay,
		cm.triggerReload,
		cm.logger,
	)
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("failed to start certificate file watcher: %w", err)
	}
	cm.fileWatcher = watcher

	cm.logger.Info("Certificate file watcher started",
		"cert_file", cm.config.CertFile,
		"key_file", cm.config.KeyFile,
		"ca_file", cm.config.CAFile)
	return nil
}

// startVaultWatcher polls Vault for new certificate versions when
// content-based sources are configured.
func (cm *CertificateManager) startVaultWatcher() error {
	if cm.autoReloadConfig == nil || !cm.autoReloadConfig.VaultWatcher.Enabled {
		return nil
	}
	// Vault-delivered certificates live in the content fields.
	if cm.config.CertContent == "" && cm.config.KeyContent == "" && cm.config.CAContent == "" {
		return nil
	}
	if cm.vaultClient == nil {
		cm.logger.Warn("Vault certificate watcher enabled but no Vault client configured")
		return nil
	}

	vw := NewVaultWatcher(
		cm.vaultClient,
		cm.autoReloadConfig.VaultWatcher.SecretPath,
		cm.autoReloadConfig.VaultWatcher.PollInterval,
		cm.applyVaultCertificates,
		cm.logger,
	)
	if err := vw.Start(); err != nil {
		return fmt.Errorf("failed to start Vault certificate watcher: %w", err)
	}
	cm.vaultWatcher = vw

	cm.logger.Info("Vault certificate watcher started",
		"secret_path", cm.autoReloadConfig.VaultWatcher.SecretPath,
		"poll_interval", cm.autoReloadConfig.VaultWatcher.PollInterval)
	return nil
}

// applyVaultCertificates is the Vault watcher callback. New PEM content
// replaces the in-memory configuration before the reload so the next
// load picks it up.
func (cm *CertificateManager) applyVaultCertificates(data *CertificateData, err error) {
	if err != nil {
		cm.logger.LogError(err, "Failed to fetch certificate data from Vault")
		return
	}

	cm.mu.Lock()
	if data.CertContent != "" {
		cm.config.CertContent = data.CertContent
	}
	if data.KeyContent != "" {
		cm.config.KeyContent = data.KeyContent
	}
	if data.CAContent != "" {
		cm.config.CAContent = data.CAContent
	}
	cm.mu.Unlock()

	cm.triggerReload()
}

// Stop shuts down the watchers and the expiry ticker. Safe to call more
// than once.
func (cm *CertificateManager) Stop() error {
	cm.stopOnce.Do(func() { close(cm.done) })

	if cm.fileWatcher != nil {
		if err := cm.fileWatcher.Stop(); err != nil {
			cm.logger.LogError(err, "Failed to stop certificate file watcher")
			return err
		}
	}
	if cm.vaultWatcher != nil {
		if err := cm.vaultWatcher.Stop(); err != nil {
			cm.logger.LogError(err, "Failed to stop Vault certificate watcher")
			return err
		}
	}

	cm.logger.Info("Certificate manager stopped")
	return nil
}

// GetServerCertificate is installed as tls.Config.GetCertificate. An
// expired certificate fails the handshake rather than serving a cert
// clients will reject anyway; a certificate inside its renewal window
// additionally kicks off a background reload.
func (cm *CertificateManager) GetServerCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.serverCert == nil {
		return nil, fmt.Errorf("no server certificate available")
	}

	now := time.Now()
	if now.After(cm.serverCertExpiry) {
		cm.logger.LogError(fmt.Errorf("server certificate expired"), "Server certificate expired",
			"expiry", cm.serverCertExpiry,
			"server_name", hello.ServerName)
		return nil, fmt.Errorf("server certificate expired")
	}

	if cm.autoReloadConfig != nil && cm.autoReloadConfig.PreemptiveRenewal > 0 &&
		now.After(cm.serverCertExpiry.Add(-cm.autoReloadConfig.PreemptiveRenewal)) &&
		cm.renewalPending.CompareAndSwap(false, true) {
		go func() {
			defer cm.renewalPending.Store(false)
			cm.logger.Info("Certificate inside renewal window, reloading",
				"expiry", cm.serverCertExpiry)
			cm.triggerReload()
		}()
	}

	return cm.serverCert, nil
}

// GetClientCertificate returns the certificate presented when this
// process dials out over mutual TLS.
func (cm *CertificateManager) GetClientCertificate() (*tls.Certificate, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if cm.clientCert == nil {
		return nil, fmt.Errorf("no client certificate available")
	}
	if time.Now().After(cm.clientCertExpiry) {
		cm.logger.LogError(fmt.Errorf("client certificate expired"), "Client certificate expired", "expiry", cm.clientCertExpiry)
		return nil, fmt.Errorf("client certificate expired")
	}
	return cm.clientCert, nil
}

// GetCACertPool returns the pool used to verify client certificates.
func (cm *CertificateManager) GetCACertPool() *x509.CertPool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.caCertPool
}

// VerifyPeerCertificate validates the peer's leaf certificate against
// the current CA pool. Installed as tls.Config.VerifyPeerCertificate so
// client verification follows CA reloads without a server restart.
func (cm *CertificateManager) VerifyPeerCertificate(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("no peer certificates provided")
	}

	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("failed to parse peer certificate: %w", err)
	}

	pool := cm.GetCACertPool()
	if pool == nil {
		return fmt.Errorf("no CA certificate pool available")
	}

	if _, err := cert.Verify(x509.VerifyOptions{Roots: pool}); err != nil {
		return fmt.Errorf("peer certificate verification failed: %w", err)
	}
	return nil
}

// ReloadCertificates forces an immediate reload outside the watcher
// paths.
func (cm *CertificateManager) ReloadCertificates() error {
	return cm.loadCertificates()
}

// AddReloadCallback registers a callback invoked after every reload
// attempt.
func (cm *CertificateManager) AddReloadCallback(callback ReloadCallback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.reloadCallbacks = append(cm.reloadCallbacks, callback)
}

// CheckExpiry returns the time remaining until the earliest loaded
// certificate expires.
func (cm *CertificateManager) CheckExpiry() (time.Duration, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	var earliest time.Time
	if !cm.serverCertExpiry.IsZero() {
		earliest = cm.serverCertExpiry
	}
	if !cm.clientCertExpiry.IsZero() && (earliest.IsZero() || cm.clientCertExpiry.Before(earliest)) {
		earliest = cm.clientCertExpiry
	}
	if earliest.IsZero() {
		return 0, fmt.Errorf("no certificates loaded")
	}
	return time.Until(earliest), nil
}

// GetMetrics returns a snapshot of the reload bookkeeping.
func (cm *CertificateManager) GetMetrics() *CertificateMetrics {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	snapshot := cm.metrics
	return &snapshot
}

// loadCertificates builds fresh certificate material and swaps it in
// under the write lock. Callbacks run on their own goroutines so a slow
// listener cannot hold up a reload.
func (cm *CertificateManager) loadCertificates() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	serverCert, serverExpiry, err := cm.loadServerPair()
	if err != nil {
		return err
	}
	caPool, err := cm.loadCAPool()
	if err != nil {
		return err
	}

	cm.serverCert = serverCert
	cm.caCertPool = caPool
	if serverCert != nil {
		cm.serverCertExpiry = serverExpiry
	}
	cm.noteReloadLocked(true, nil)

	for _, cb := range cm.reloadCallbacks {
		go cb(true, nil)
	}

	cm.logger.Info("Certificates loaded",
		"server_cert_expiry", cm.serverCertExpiry,
		"reload_time", cm.metrics.LastReloadTime)
	return nil
}

// loadServerPair builds the server certificate from whichever source is
// configured, Vault-delivered content winning over file paths. Returns a
// nil certificate when neither source is configured.
func (cm *CertificateManager) loadServerPair() (*tls.Certificate, time.Time, error) {
	var (
		cert tls.Certificate
		err  error
	)
	switch {
	case cm.config.CertContent != "" && cm.config.KeyContent != "":
		cert, err = tls.X509KeyPair([]byte(cm.config.CertContent), []byte(cm.config.KeyContent))
	case cm.config.CertFile != "" && cm.config.KeyFile != "":
		cert, err = tls.LoadX509KeyPair(cm.config.CertFile, cm.config.KeyFile)
	default:
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to load server certificate: %w", err)
	}

	var expiry time.Time
	if len(cert.Certificate) > 0 {
		leaf, parseErr := x509.ParseCertificate(cert.Certificate[0])
		if parseErr != nil {
			return nil, time.Time{}, fmt.Errorf("failed to parse server certificate: %w", parseErr)
		}
		expiry = leaf.NotAfter
	}
	return &cert, expiry, nil
}

// loadCAPool builds the client-CA pool for mutual TLS. Returns nil when
// mutual TLS is off or no CA source is configured.
func (cm *CertificateManager) loadCAPool() (*x509.CertPool, error) {
	if cm.config.Mode != config.TLSModeMutual {
		return nil, nil
	}

	var pemData []byte
	switch {
	case cm.config.CAContent != "":
		pemData = []byte(cm.config.CAContent)
	case cm.config.CAFile != "":
		data, err := os.ReadFile(cm.config.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pemData = data
	default:
		return nil, nil
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}
	return pool, nil
}

// triggerReload reloads certificates on behalf of a watcher. Failed
// attempts are retried per the auto-reload configuration; a reload that
// exhausts its retries is recorded as a single failure.
func (cm *CertificateManager) triggerReload() {
	attempts := 1
	var delay time.Duration
	if cm.autoReloadConfig != nil {
		attempts += cm.autoReloadConfig.MaxRetries
		delay = cm.autoReloadConfig.RetryDelay
	}

	var lastErr error
	for i := range attempts {
		if i > 0 && delay > 0 {
			time.Sleep(delay)
		}
		if lastErr = cm.loadCertificates(); lastErr == nil {
			return
		}
		cm.logger.Warn("Certificate reload attempt failed",
			"attempt", i+1,
			"attempts", attempts,
			"error", lastErr)
	}
	cm.reloadFailed(lastErr)
}

// reloadFailed records a reload that exhausted its retries and notifies
// the registered callbacks.
func (cm *CertificateManager) reloadFailed(err error) {
	cm.mu.Lock()
	cm.noteReloadLocked(false, err)
	callbacks := slices.Clone(cm.reloadCallbacks)
	cm.mu.Unlock()

	cm.logger.LogError(err, "Failed to reload certificates")
	for _, cb := range callbacks {
		go cb(false, err)
	}
}

// noteReloadLocked updates the reload counters and emits the OpenTelemetry
// metrics. Caller holds cm.mu.
func (cm *CertificateManager) noteReloadLocked(success bool, err error) {
	cm.metrics.ReloadCount++
	cm.metrics.LastReloadTime = time.Now()
	cm.metrics.LastReloadSuccess = success
	if success {
		cm.metrics.ReloadSuccessCount++
		cm.metrics.LastReloadError = ""
	} else {
		cm.metrics.ReloadFailureCount++
		if err != nil {
			cm.metrics.LastReloadError = err.Error()
		}
	}
	cm.emitReloadMetric(success, err)
}

// emitReloadMetric records one reload outcome on the reload counter and
// refreshes the expiry gauge. Caller holds cm.mu.
func (cm *CertificateManager) emitReloadMetric(success bool, err error) {
	m := cm.otelMetrics()
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("cert_type", "server"),
	}
	if success {
		attrs = append(attrs, attribute.String("status", "success"))
	} else {
		attrs = append(attrs, attribute.String("status", "failure"))
		if err != nil {
			attrs = append(attrs, attribute.String("error", err.Error()))
		}
	}
	m.CertReloadCount.Add(context.Background(), 1, metric.WithAttributes(attrs...))

	cm.emitExpiryMetrics()
}

// emitExpiryMetrics refreshes the seconds-to-expiry gauge for every
// loaded certificate. Caller holds cm.mu.
func (cm *CertificateManager) emitExpiryMetrics() {
	m := cm.otelMetrics()
	if m == nil {
		return
	}

	ctx := context.Background()
	now := time.Now()
	if !cm.serverCertExpiry.IsZero() {
		m.CertExpiryTime.Record(ctx, cm.serverCertExpiry.Sub(now).Seconds(),
			metric.WithAttributes(attribute.String("cert_type", "server")))
	}
	if !cm.clientCertExpiry.IsZero() {
		m.CertExpiryTime.Record(ctx, cm.clientCertExpiry.Sub(now).Seconds(),
			metric.WithAttributes(attribute.String("cert_type", "client")))
	}
}

// otelMetrics returns the certificate instruments, or nil when
// observability is disabled and the instruments were never created.
func (cm *CertificateManager) otelMetrics() *observability.Metrics {
	if cm.observabilityManager == nil {
		return nil
	}
	m := cm.observabilityManager.GetMetrics()
	if m == nil || m.CertReloadCount == nil || m.CertExpiryTime == nil {
		return nil
	}
	return m
}

// startExpiryTicker keeps the expiry gauge current between reloads. The
// interval comes from the auto-reload configuration.
func (cm *CertificateManager) startExpiryTicker() {
	if cm.otelMetrics() == nil {
		return
	}

	interval := time.Minute
	if cm.autoReloadConfig != nil && cm.autoReloadConfig.CheckInterval > 0 {
		interval = cm.autoReloadConfig.CheckInterval
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cm.mu.RLock()
				cm.emitExpiryMetrics()
				cm.mu.RUnlock()
			case <-cm.done:
				return
			}
		}
	}()

	cm.logger.Info("Certificate expiry monitoring started", "interval", interval)
}
