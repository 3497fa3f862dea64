package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// The configuration trace runs before the structured logger exists, so it
// is gated by a plain environment variable rather than a config field.
var configDebug = sync.OnceValue(func() bool {
	v := os.Getenv("APPLYFORGE_CONFIG_DEBUG")
	return v != "" && v != "0" && !strings.EqualFold(v, "false")
})

// configLogf writes one line of the configuration loading trace.
func configLogf(format string, args ...any) {
	if configDebug() {
		log.Printf("[CONFIG] "+format, args...)
	}
}

// applyFallbacks fills settings that have legacy environment variables or
// values derived from other settings. Runs after unmarshal and before
// validation.
func (c *Config) applyFallbacks() {
	c.applyAIKeyFallbacks()
	c.applyServerAPIKeyFallbacks()
	c.applyTLSDefaults()
	c.applyObservabilityDefaults()
}

// applyAIKeyFallbacks honors the plain GEMINI_API_KEY variable that was in
// use before the APPLYFORGE_ prefix existed.
func (c *Config) applyAIKeyFallbacks() {
	if c.AI.APIKey != "" {
		return
	}
	if legacy := os.Getenv("GEMINI_API_KEY"); legacy != "" {
		c.AI.APIKey = strings.TrimSpace(legacy)
	}
}

// applyServerAPIKeyFallbacks reads the comma-separated
// APPLYFORGE_SERVER_APIKEYS variable when no keys were configured
// elsewhere.
func (c *Config) applyServerAPIKeyFallbacks() {
	if len(c.Server.APIKeys) > 0 {
		return
	}

	raw := os.Getenv("APPLYFORGE_SERVER_APIKEYS")
	if raw == "" {
		return
	}

	keys := strings.Split(raw, ",")
	for i, key := range keys {
		keys[i] = strings.TrimSpace(key)
	}
	c.Server.APIKeys = keys
}

// applyTLSDefaults picks the usual defaults for fields the TLS validator
// only requires in specific modes.
func (c *Config) applyTLSDefaults() {
	if c.Server.TLS.Mode == TLSModeMutual && c.Server.TLS.ClientAuthPolicy == "" {
		c.Server.TLS.ClientAuthPolicy = "require"
	}

	if c.Server.TLS.MinVersion == "" && c.Server.TLS.Mode != TLSModeDisabled {
		c.Server.TLS.MinVersion = "1.2"
	}
}

// applyObservabilityDefaults derives the instance ID and mirrors debug
// logging into console trace output.
func (c *Config) applyObservabilityDefaults() {
	if c.Observability.ServiceInstance == "" {
		c.Observability.ServiceInstance = serviceInstanceID(c.Observability.ServiceName)
	}

	if c.App.LogLevel == "debug" && !c.Observability.ConsoleOutput {
		c.Observability.ConsoleOutput = true
	}
}

// serviceInstanceID distinguishes replicas by hostname.
func serviceInstanceID(serviceName string) string {
	if hostname, err := os.Hostname(); err == nil {
		return fmt.Sprintf("%s-%s", serviceName, hostname)
	}
	return serviceName + "-1"
}

// Environment variables worth calling out in the trace. Anything with KEY
// in the name is masked.
var traceEnvVars = []string{
	"APPLYFORGE_AI_APIKEY",
	"APPLYFORGE_AI_PROVIDER",
	"APPLYFORGE_AI_MODEL",
	"APPLYFORGE_SERVER_PORT",
	"APPLYFORGE_SERVER_HOST",
	"APPLYFORGE_APP_LOGLEVEL",
	"APPLYFORGE_VAULT_ENABLED",
	"GEMINI_API_KEY", // legacy, unprefixed
}

// logConfigurationSources summarizes where the effective configuration
// came from. Part of the gated configuration trace.
func (c *Config) logConfigurationSources(configFileUsed string) {
	if !configDebug() {
		return
	}

	if configFileUsed == "" {
		configFileUsed = "none (defaults only)"
	}
	configLogf("config file: %s", configFileUsed)

	for _, name := range traceEnvVars {
		value := os.Getenv(name)
		if value == "" {
			continue
		}
		if strings.Contains(name, "KEY") {
			value = "***"
		}
		configLogf("env %s=%s", name, value)
	}

	apiKey := "unset"
	if c.AI.APIKey != "" {
		apiKey = "set"
	}
	configLogf("ai: provider=%s model=%s api_key=%s", c.AI.Provider, c.AI.Model, apiKey)
	configLogf("server: host=%s port=%s tls_mode=%s", c.Server.Host, c.Server.Port, c.Server.TLS.Mode)
	configLogf("app: log_level=%s max_document_size=%d vault=%t observability=%t",
		c.App.LogLevel, c.Extractor.MaxDocumentSize, c.Vault.Enabled, c.Observability.Enabled)

	for _, task := range []struct {
		name string
		op   OperationAIConfig
	}{
		{"analysis", c.AI.Analysis},
		{"customize", c.AI.Customize},
		{"changes", c.AI.Changes},
		{"coverletter", c.AI.CoverLetter},
	} {
		if task.op.Provider == "" && task.op.Model == "" {
			continue
		}
		configLogf("task %s: provider=%s model=%s", task.name, task.op.Provider, task.op.Model)
	}
}
