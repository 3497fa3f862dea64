package config

import (
	"fmt"
	"time"
)

// TLS operating modes for the HTTP listener.
const (
	TLSModeDisabled = "disabled"
	TLSModeServer   = "server"
	TLSModeMutual   = "mutual"
)

// TLSConfig configures the listener's TLS behavior. Certificates come either
// from the filesystem (certFile/keyFile) or inline (certContent/keyContent,
// the form the Vault loader fills in); a field may use one source, not both.
type TLSConfig struct {
	Mode     string `mapstructure:"mode"` // disabled, server, or mutual
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`
	CAFile   string `mapstructure:"caFile"` // client CA bundle, mutual mode only

	CertContent string `mapstructure:"certContent"`
	KeyContent  string `mapstructure:"keyContent"`
	CAContent   string `mapstructure:"caContent"`

	MinVersion       string   `mapstructure:"minVersion"`   // "1.2" or "1.3", empty means 1.2
	CipherSuites     []string `mapstructure:"cipherSuites"` // empty means Go defaults
	ClientAuthPolicy string   `mapstructure:"clientAuthPolicy"`

	InsecureSkipVerify bool   `mapstructure:"insecureSkipVerify"` // dev only
	ServerName         string `mapstructure:"serverName"`

	AutoReload AutoReloadConfig `mapstructure:"autoReload"`
}

// AutoReloadConfig controls automatic certificate reloading.
type AutoReloadConfig struct {
	Enabled           bool               `mapstructure:"enabled"`
	CheckInterval     time.Duration      `mapstructure:"checkInterval"`
	PreemptiveRenewal time.Duration      `mapstructure:"preemptiveRenewal"` // renew this long before expiry
	MaxRetries        int                `mapstructure:"maxRetries"`
	RetryDelay        time.Duration      `mapstructure:"retryDelay"`
	FileWatcher       FileWatcherConfig  `mapstructure:"fileWatcher"`
	VaultWatcher      VaultWatcherConfig `mapstructure:"vaultWatcher"`
}

// FileWatcherConfig covers fsnotify-based certificate file watching.
type FileWatcherConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	DebounceDelay time.Duration `mapstructure:"debounceDelay"`
}

// VaultWatcherConfig covers polling Vault for rotated certificates.
type VaultWatcherConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	PollInterval   time.Duration `mapstructure:"pollInterval"`
	AutoRenew      bool          `mapstructure:"autoRenew"`
	RenewThreshold time.Duration `mapstructure:"renewThreshold"`
	SecretPath     string        `mapstructure:"secretPath"`
}

// ValidateTLSConfig checks the server TLS block: the mode must be known, the
// key material that mode needs must be present with one source apiece, and the
// minimum protocol version must be one we can actually configure. Runs as part
// of Config.Validate, before any listener or certificate manager exists.
func (c *Config) ValidateTLSConfig() error {
	tls := c.Server.TLS

	switch tls.Mode {
	case TLSModeDisabled:
		// Key material fields are ignored in disabled mode. Only the
		// version check below still applies.
	case TLSModeServer:
		if err := tls.checkServerKeyPair(TLSModeServer); err != nil {
			return err
		}
	case TLSModeMutual:
		if err := tls.checkServerKeyPair(TLSModeMutual); err != nil {
			return err
		}
		if err := tls.checkClientCA(); err != nil {
			return err
		}
		if err := tls.checkClientAuthPolicy(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid TLS mode: %s (must be 'disabled', 'server', or 'mutual')", tls.Mode)
	}

	switch tls.MinVersion {
	case "", "1.2", "1.3": // empty falls back to 1.2
		return nil
	default:
		return fmt.Errorf("invalid TLS minVersion: %s (must be '1.2' or '1.3')", tls.MinVersion)
	}
}

// checkServerKeyPair verifies the server certificate and private key are both
// configured, each through exactly one source (file path or inline content).
func (tls TLSConfig) checkServerKeyPair(mode string) error {
	if (tls.CertFile == "" && tls.CertContent == "") || (tls.KeyFile == "" && tls.KeyContent == "") {
		return fmt.Errorf("TLS certificate and key are required for %s mode (provide either files or content)", mode)
	}
	if err := singleSource("certFile", tls.CertFile, "certContent", tls.CertContent); err != nil {
		return err
	}
	return singleSource("keyFile", tls.KeyFile, "keyContent", tls.KeyContent)
}

// checkClientCA verifies the CA bundle used to verify client certificates.
// The CA fields only matter in mutual mode; other modes never read them, so
// this is not called there.
func (tls TLSConfig) checkClientCA() error {
	if tls.CAFile == "" && tls.CAContent == "" {
		return fmt.Errorf("CA certificate is required for mutual TLS mode (provide either caFile or caContent)")
	}
	return singleSource("caFile", tls.CAFile, "caContent", tls.CAContent)
}

// checkClientAuthPolicy accepts the policies http_tls.go can map onto
// crypto/tls ClientAuthType values. Empty falls back to require.
func (tls TLSConfig) checkClientAuthPolicy() error {
	switch tls.ClientAuthPolicy {
	case "", "require", "request", "verify":
		return nil
	default:
		return fmt.Errorf("invalid clientAuthPolicy: %s (must be 'require', 'request', or 'verify')", tls.ClientAuthPolicy)
	}
}

// singleSource rejects a field configured through both its file and inline
// variants at once.
func singleSource(fileName, fileVal, contentName, contentVal string) error {
	if fileVal != "" && contentVal != "" {
		return fmt.Errorf("cannot specify both %s and %s - choose one", fileName, contentName)
	}
	return nil
}
