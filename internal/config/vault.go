package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"applyforge/internal/errors"

	"github.com/hashicorp/vault/api"
)

// VaultConfig holds the connection settings for the optional Vault
// integration.
type VaultConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"tokenFile"`
	Namespace string `mapstructure:"namespace"`

	Secrets VaultSecrets `mapstructure:"secrets"`
}

// VaultSecrets names the KVv2 paths secrets are read from. Empty paths are
// skipped during ApplyVaultSecrets.
type VaultSecrets struct {
	// APIKeys points at a secret whose "keys" field holds a comma-separated
	// list. The first entry acts as the primary server API key, the rest as
	// fallbacks.
	APIKeys   string `mapstructure:"apiKeys"`
	GeminiKey string `mapstructure:"geminiKey"`
	TLSCerts  string `mapstructure:"tlsCerts"`
}

// VaultClient wraps the Vault API client with the typed lookups this
// application needs.
type VaultClient struct {
	client *api.Client
	config VaultConfig
	logger *errors.Logger
}

// NewVaultClient connects to Vault according to cfg and verifies the
// connection with a health call. Returns (nil, nil) when the integration is
// disabled.
func NewVaultClient(cfg VaultConfig, logger *errors.Logger) (*VaultClient, error) {
	if logger == nil {
		logger = errors.Discard()
	}
	if !cfg.Enabled {
		logger.Debug("Vault integration disabled")
		return nil, nil
	}

	logger.Debug("Initializing Vault client",
		"address", cfg.Address,
		"namespace", cfg.Namespace,
		"token_file", cfg.TokenFile,
		"has_token", cfg.Token != "")

	apiConfig := api.DefaultConfig()
	if cfg.Address != "" {
		apiConfig.Address = cfg.Address
	}
	client, err := api.NewClient(apiConfig)
	if err != nil {
		logger.LogError(err, "Failed to create Vault client")
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	token, err := cfg.resolveToken(logger)
	if err != nil {
		return nil, err
	}
	client.SetToken(token)
	logger.Debug("Vault token configured", "token_prefix", token[:min(len(token), 8)]+"...")

	health, err := client.Sys().Health()
	if err != nil {
		logger.LogError(err, "Failed to connect to Vault", "address", cfg.Address)
		return nil, fmt.Errorf("failed to connect to vault: %w", err)
	}
	logger.Info("Connected to Vault",
		"address", cfg.Address,
		"version", health.Version,
		"sealed", health.Sealed,
		"cluster_name", health.ClusterName)

	return &VaultClient{client: client, config: cfg, logger: logger}, nil
}

// resolveToken returns the static token or, failing that, the trimmed
// contents of the token file.
func (cfg VaultConfig) resolveToken(logger *errors.Logger) (string, error) {
	token := cfg.Token
	if token == "" && cfg.TokenFile != "" {
		logger.Debug("Reading Vault token from file", "file", cfg.TokenFile)
		raw, err := os.ReadFile(cfg.TokenFile)
		if err != nil {
			logger.LogError(err, "Failed to read Vault token file", "file", cfg.TokenFile)
			return "", fmt.Errorf("failed to read vault token file: %w", err)
		}
		token = strings.TrimSpace(string(raw))
	}
	if token == "" {
		return "", fmt.Errorf("vault token is required when vault is enabled")
	}
	return token, nil
}

// VaultSecret is one secret read from the KVv2 engine.
type VaultSecret struct {
	Data    map[string]any
	Version int64
}

// GetSecretV2 reads a KVv2 secret, returning its data block and version
// counter. The version drives change detection in the certificate watcher.
func (vc *VaultClient) GetSecretV2(path string) (*VaultSecret, error) {
	if vc == nil {
		return nil, fmt.Errorf("vault client not initialized")
	}
	vc.logger.Debug("Reading secret from Vault", "path", path)

	secret, err := vc.client.Logical().Read(path)
	if err != nil {
		vc.logger.LogError(err, "Failed to read secret from Vault", "path", path)
		return nil, fmt.Errorf("failed to read secret from %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		vc.logger.Warn("Secret not found at path", "path", path)
		return nil, fmt.Errorf("secret not found at path: %s", path)
	}

	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("secret at %s is not in KVv2 format (missing 'data' field)", path)
	}
	metadata, ok := secret.Data["metadata"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("secret at %s is not in KVv2 format (missing 'metadata' field)", path)
	}
	version, err := secretVersion(metadata, path)
	if err != nil {
		return nil, err
	}

	return &VaultSecret{Data: data, Version: version}, nil
}

// secretVersion pulls the version counter out of KVv2 metadata. The API
// client decodes JSON numbers as json.Number, but tolerate the shapes mocks
// and older clients hand back.
func secretVersion(metadata map[string]any, path string) (int64, error) {
	raw, ok := metadata["version"]
	if !ok {
		return 0, fmt.Errorf("secret metadata at %s is missing 'version' field", path)
	}

	switch v := raw.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("could not parse secret version at %s: %w", path, err)
		}
		return n, nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("could not parse secret version at %s: %w", path, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected type for version at %s: %T", path, raw)
	}
}

// GetStringSecret reads a single string field from the secret at path.
func (vc *VaultClient) GetStringSecret(path, key string) (string, error) {
	secret, err := vc.GetSecretV2(path)
	if err != nil {
		return "", err
	}
	value, ok := secret.Data[key]
	if !ok {
		return "", fmt.Errorf("key '%s' not found in secret %s", key, path)
	}
	str, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("value for key '%s' is not a string in secret %s", key, path)
	}

	vc.logger.Debug("String secret retrieved from Vault",
		"path", path,
		"key", key,
		"masked_value", maskSecret(str))
	return str, nil
}

// maskSecret keeps the first and last four characters of long values so log
// lines stay correlatable without leaking the secret.
func maskSecret(s string) string {
	switch {
	case len(s) > 8:
		return s[:4] + "****" + s[len(s)-4:]
	case len(s) > 0:
		return "****"
	default:
		return s
	}
}

// GetStringSliceSecret reads a comma-separated string field and splits it
// into trimmed entries.
func (vc *VaultClient) GetStringSliceSecret(path, key string) ([]string, error) {
	value, err := vc.GetStringSecret(path, key)
	if err != nil {
		return nil, err
	}
	if value == "" {
		return []string{}, nil
	}
	parts := strings.Split(value, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts, nil
}

// ApplyVaultSecrets overlays Vault-held secrets onto cfg: server API keys,
// the Gemini key, and TLS key material. A disabled Vault block leaves the
// config untouched. Runs once at startup, after LoadConfig.
func ApplyVaultSecrets(cfg *Config, logger *errors.Logger) error {
	if logger == nil {
		logger = errors.Discard()
	}
	if !cfg.Vault.Enabled {
		logger.Debug("Vault integration disabled, skipping secret loading")
		return nil
	}

	logger.Info("Loading secrets from Vault",
		"api_keys_path", cfg.Vault.Secrets.APIKeys,
		"gemini_key_path", cfg.Vault.Secrets.GeminiKey,
		"tls_certs_path", cfg.Vault.Secrets.TLSCerts)

	client, err := NewVaultClient(cfg.Vault, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize vault client: %w", err)
	}
	if client == nil {
		return nil
	}

	if err := client.applyServerAPIKeys(cfg); err != nil {
		return err
	}
	if err := client.applyAIKey(cfg); err != nil {
		return err
	}
	if err := client.applyTLSMaterial(cfg); err != nil {
		return err
	}

	logger.Info("Successfully applied secrets from Vault")
	return nil
}

// applyServerAPIKeys replaces Server.APIKeys with the list stored in Vault.
// An empty list in Vault leaves the configured keys alone.
func (vc *VaultClient) applyServerAPIKeys(cfg *Config) error {
	path := vc.config.Secrets.APIKeys
	if path == "" {
		return nil
	}

	keys, err := vc.GetStringSliceSecret(path, "keys")
	if err != nil {
		vc.logger.LogError(err, "Failed to load API keys from Vault", "path", path)
		return fmt.Errorf("failed to load API keys from vault: %w", err)
	}
	if len(keys) == 0 {
		vc.logger.Warn("No API keys found in Vault", "path", path)
		return nil
	}

	cfg.Server.APIKeys = keys
	vc.logger.Info("API keys loaded from Vault", "count", len(keys))
	return nil
}

// applyAIKey sets the global Gemini key and fills any per-task key left
// empty. Explicit per-task keys win over the Vault value.
func (vc *VaultClient) applyAIKey(cfg *Config) error {
	path := vc.config.Secrets.GeminiKey
	if path == "" {
		return nil
	}

	key, err := vc.GetStringSecret(path, "api_key")
	if err != nil {
		vc.logger.LogError(err, "Failed to load Gemini API key from Vault", "path", path)
		return fmt.Errorf("failed to load Gemini API key from vault: %w", err)
	}
	if key == "" {
		vc.logger.Warn("Empty Gemini API key found in Vault", "path", path)
		return nil
	}

	cfg.AI.APIKey = key
	for _, taskKey := range []*string{
		&cfg.AI.Analysis.APIKey,
		&cfg.AI.Customize.APIKey,
		&cfg.AI.Changes.APIKey,
		&cfg.AI.CoverLetter.APIKey,
	} {
		if *taskKey == "" {
			*taskKey = key
		}
	}
	vc.logger.Info("Gemini API key loaded from Vault and applied to task configurations")
	return nil
}

// applyTLSMaterial copies PEM content for the server key pair and client CA
// into the TLS config. File-path fields in the secret are rejected before
// anything is copied: Vault stores content, never paths into the server's
// filesystem.
func (vc *VaultClient) applyTLSMaterial(cfg *Config) error {
	path := vc.config.Secrets.TLSCerts
	if path == "" {
		return nil
	}

	secret, err := vc.GetSecretV2(path)
	if err != nil {
		vc.logger.LogError(err, "Failed to load TLS certificates from Vault", "path", path)
		return fmt.Errorf("failed to load TLS certificates from vault: %w", err)
	}

	for _, field := range []string{"cert_file", "key_file", "ca_file"} {
		if _, ok := secret.Data[field]; ok {
			return fmt.Errorf("vault TLS configuration error: '%s' field is no longer supported. Store certificate content in '%s' field instead",
				field, strings.TrimSuffix(field, "_file"))
		}
	}

	targets := []struct {
		key    string
		target *string
	}{
		{"cert", &cfg.Server.TLS.CertContent},
		{"key", &cfg.Server.TLS.KeyContent},
		{"ca", &cfg.Server.TLS.CAContent},
	}
	loaded := 0
	for _, t := range targets {
		if content, ok := secret.Data[t.key].(string); ok && content != "" {
			*t.target = content
			loaded++
		}
	}

	vc.logger.Info("TLS certificates loaded from Vault", "path", path, "certificates_loaded", loaded)
	return nil
}
