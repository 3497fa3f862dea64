package server

import (
	"fmt"
	"sync"
	"time"

	"applyforge/internal/config"
	"applyforge/internal/errors"
)

// SecretReader is the one Vault operation this package needs: reading a
// versioned KVv2 secret. *config.VaultClient satisfies it; tests substitute
// in-memory fakes.
type SecretReader interface {
	GetSecretV2(path string) (*config.VaultSecret, error)
}

// CertificateData is the PEM material carried by one version of the TLS
// secret.
type CertificateData struct {
	CertContent string
	KeyContent  string
	CAContent   string
}

// VaultReloadCallback receives freshly fetched certificate data, or the error
// that prevented fetching it.
type VaultReloadCallback func(data *CertificateData, err error)

// VaultWatcher polls a KVv2 secret and reports when its version moves.
// Detection is version-based: PEM content is only fetched after the metadata
// version exceeds the last one seen. The watcher is single-use; once stopped
// it cannot be restarted.
type VaultWatcher struct {
	vault    SecretReader
	path     string
	interval time.Duration
	onChange VaultReloadCallback
	logger   *errors.Logger
	done     chan struct{}

	mu          sync.RWMutex
	running     bool
	lastVersion int64
}

// NewVaultWatcher wires a watcher to a secret path. Start must be called
// before anything is polled.
func NewVaultWatcher(vault SecretReader, path string, interval time.Duration, onChange VaultReloadCallback, logger *errors.Logger) *VaultWatcher {
	if logger == nil {
		logger = errors.Discard()
	}
	return &VaultWatcher{
		vault:    vault,
		path:     path,
		interval: interval,
		onChange: onChange,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start records the current secret version as the baseline and begins
// polling.
func (w *VaultWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("vault watcher is already running")
	}
	w.running = true

	// Best effort. Without a baseline the first poll would report the
	// current version as a change and trigger a redundant reload.
	if secret, err := w.vault.GetSecretV2(w.path); err == nil {
		w.lastVersion = secret.Version
	} else {
		w.logger.Warn("Could not prime Vault secret version, first poll will trigger a reload",
			"secret_path", w.path,
			"error", err.Error())
	}

	go w.pollLoop()
	w.logger.Info("Vault watcher started",
		"secret_path", w.path,
		"poll_interval", w.interval,
		"baseline_version", w.lastVersion)
	return nil
}

// Stop terminates the polling loop. Stopping a watcher that never started is
// a no-op.
func (w *VaultWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return nil
	}
	close(w.done)
	w.running = false
	w.logger.Info("Vault watcher stopped")
	return nil
}

func (w *VaultWatcher) pollLoop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.poll()
		case <-w.done:
			return
		}
	}
}

// poll runs one detection cycle. The callback runs on the polling goroutine,
// so a slow certificate reload delays the next cycle instead of stacking
// concurrent reloads.
func (w *VaultWatcher) poll() {
	advanced, version, err := w.versionAdvanced()
	if err != nil {
		w.logger.LogError(err, "Failed to check Vault for updates", "secret_path", w.path)
		return
	}
	if !advanced {
		return
	}
	w.logger.Info("Vault secret changed, fetching new certificate data",
		"secret_path", w.path,
		"version", version)

	data, err := w.fetchCertificateData()
	if err != nil {
		w.logger.LogError(err, "Failed to fetch new certificate data from Vault")
		w.onChange(nil, err)
		return
	}
	w.onChange(data, nil)
}

// versionAdvanced reads the secret's metadata version and reports whether it
// moved past the recorded baseline, updating the baseline when it did.
func (w *VaultWatcher) versionAdvanced() (bool, int64, error) {
	secret, err := w.vault.GetSecretV2(w.path)
	if err != nil {
		return false, 0, fmt.Errorf("failed to read secret: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if secret.Version > w.lastVersion {
		w.lastVersion = secret.Version
		return true, secret.Version, nil
	}
	return false, secret.Version, nil
}

// fetchCertificateData pulls the PEM fields out of the secret. Missing fields
// stay empty; the certificate manager treats empty as "keep what you have".
func (w *VaultWatcher) fetchCertificateData() (*CertificateData, error) {
	secret, err := w.vault.GetSecretV2(w.path)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch new TLS data from vault: %w", err)
	}

	str := func(key string) string {
		v, _ := secret.Data[key].(string)
		return v
	}
	return &CertificateData{
		CertContent: str("cert"),
		KeyContent:  str("key"),
		CAContent:   str("ca"),
	}, nil
}

// Status reports watcher state for the health endpoint.
func (w *VaultWatcher) Status() map[string]any {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return map[string]any{
		"running":       w.running,
		"poll_interval": w.interval.String(),
		"secret_path":   w.path,
		"last_version":  w.lastVersion,
	}
}
