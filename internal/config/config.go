package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root of the application configuration. Values are resolved
// highest priority first: Vault secrets, the config file, APPLYFORGE_*
// environment variables, then built-in defaults.
type Config struct {
	AI            AIConfig            `mapstructure:"ai"`
	Extractor     ExtractorConfig     `mapstructure:"extractor"`
	Server        ServerConfig        `mapstructure:"server"`
	App           AppConfig           `mapstructure:"app"`
	Vault         VaultConfig         `mapstructure:"vault"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// AIConfig carries the provider settings shared by all generation tasks plus
// a per-task override block for each of them. Use the Get*Config accessors to
// read the effective per-task values; the raw fields here keep the "not set"
// distinction that the fallback logic needs.
type AIConfig struct {
	Provider         string        `mapstructure:"provider"`
	Model            string        `mapstructure:"model"`
	Timeout          time.Duration `mapstructure:"timeout"`
	APIKey           string        `mapstructure:"apiKey"`
	MaxRetries       int           `mapstructure:"maxRetries"`
	Temperature      float32       `mapstructure:"temperature"`
	UseSystemPrompts bool          `mapstructure:"useSystemPrompts"`
	CustomPrompts    PromptConfig  `mapstructure:"customPrompts"`

	Analysis    OperationAIConfig `mapstructure:"analysis"`
	Customize   OperationAIConfig `mapstructure:"customize"`
	Changes     OperationAIConfig `mapstructure:"changes"`
	CoverLetter OperationAIConfig `mapstructure:"coverLetter"`
}

// OperationAIConfig is the per-task override block. Pointer fields
// distinguish "not configured" from an explicit zero so applyOperationDefaults
// can fall back to the global values.
type OperationAIConfig struct {
	Provider         string               `mapstructure:"provider"`
	Model            string               `mapstructure:"model"`
	Timeout          *time.Duration       `mapstructure:"timeout"`
	APIKey           string               `mapstructure:"apiKey"`
	MaxRetries       *int                 `mapstructure:"maxRetries"`
	Temperature      *float32             `mapstructure:"temperature"`
	UseSystemPrompts *bool                `mapstructure:"useSystemPrompts"`
	CustomPrompts    PromptConfig         `mapstructure:"customPrompts"`
	CircuitBreaker   CircuitBreakerConfig `mapstructure:"circuitBreaker"`
}

// CircuitBreakerConfig tunes the per-task breaker in front of the AI provider.
type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	MaxRequests      uint32        `mapstructure:"maxRequests"` // probes allowed while half-open
	Interval         time.Duration `mapstructure:"interval"`    // closed-state count reset period
	Timeout          time.Duration `mapstructure:"timeout"`     // open-state cool-off before half-open
	MinRequests      uint32        `mapstructure:"minRequests"` // samples required before tripping
	FailureThreshold float64       `mapstructure:"failureThreshold"`
}

// PromptConfig groups the prompt overrides for one scope (global or one
// task). Each prompt can be given inline or as a *File path whose content is
// loaded at startup.
type PromptConfig struct {
	SystemPrompts SystemPrompts `mapstructure:"systemPrompts"`
	UserPrompts   UserPrompts   `mapstructure:"userPrompts"`
}

// SystemPrompts are the per-task system instructions.
type SystemPrompts struct {
	Analysis        string `mapstructure:"analysis"`
	AnalysisFile    string `mapstructure:"analysisFile"`
	Customize       string `mapstructure:"customize"`
	CustomizeFile   string `mapstructure:"customizeFile"`
	Changes         string `mapstructure:"changes"`
	ChangesFile     string `mapstructure:"changesFile"`
	CoverLetter     string `mapstructure:"coverLetter"`
	CoverLetterFile string `mapstructure:"coverLetterFile"`
}

// ForTask returns the inline system prompt configured for the given task type.
func (p SystemPrompts) ForTask(task string) string {
	switch task {
	case "analysis":
		return p.Analysis
	case "customize":
		return p.Customize
	case "changes":
		return p.Changes
	case "coverletter":
		return p.CoverLetter
	default:
		return ""
	}
}

// UserPrompts are the per-task user prompt templates; each carries %s
// placeholders that BuildPrompt fills with the resume and job description.
type UserPrompts struct {
	Analysis        string `mapstructure:"analysis"`
	AnalysisFile    string `mapstructure:"analysisFile"`
	Customize       string `mapstructure:"customize"`
	CustomizeFile   string `mapstructure:"customizeFile"`
	Changes         string `mapstructure:"changes"`
	ChangesFile     string `mapstructure:"changesFile"`
	CoverLetter     string `mapstructure:"coverLetter"`
	CoverLetterFile string `mapstructure:"coverLetterFile"`
}

// ForTask returns the inline user prompt template configured for the given
// task type.
func (p UserPrompts) ForTask(task string) string {
	switch task {
	case "analysis":
		return p.Analysis
	case "customize":
		return p.Customize
	case "changes":
		return p.Changes
	case "coverletter":
		return p.CoverLetter
	default:
		return ""
	}
}

// ExtractorConfig bounds PDF text extraction.
type ExtractorConfig struct {
	MaxDocumentSize int64  `mapstructure:"maxDocumentSize"` // bytes
	ValidationMode  string `mapstructure:"validationMode"`  // "relaxed" or "strict"
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout  time.Duration `mapstructure:"idleTimeout"`

	TLS TLSConfig `mapstructure:"tls"`

	// Accepted API keys; an empty list leaves the API endpoints open.
	APIKeys []string `mapstructure:"apiKeys"`

	RateLimit RateLimitConfig `mapstructure:"rateLimit"`
}

// RateLimitConfig tunes the token-bucket request limiter. ByIP and ByAPIKey
// pick the bucket key; when both are set the API key wins.
type RateLimitConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	RequestsPerMin int           `mapstructure:"requestsPerMin"`
	BurstCapacity  int           `mapstructure:"burstCapacity"`
	ByIP           bool          `mapstructure:"byIP"`
	ByAPIKey       bool          `mapstructure:"byAPIKey"`
	Window         time.Duration `mapstructure:"window"`
}

// AppConfig holds CLI-facing settings: logging and output formatting.
type AppConfig struct {
	LogLevel         string   `mapstructure:"logLevel"`
	DefaultFormat    string   `mapstructure:"defaultFormat"`
	SupportedFormats []string `mapstructure:"supportedFormats"`
	MaxFileSize      int64    `mapstructure:"maxFileSize"` // cap for plain-text input files, bytes
}

// LoadConfig builds the effective configuration from defaults, an optional
// config.yaml, and APPLYFORGE_-prefixed environment variables, then
// validates it. Set APPLYFORGE_CONFIG_DEBUG=1 for a loading trace on
// stderr.
func LoadConfig() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("APPLYFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/applyforge/")
	v.AddConfigPath("$HOME/.applyforge")
	v.AddConfigPath(".")
	configLogf("Searching for config.yaml in /etc/applyforge/, $HOME/.applyforge, .")

	configFileUsed := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		configLogf("No config file found, using defaults and environment variables")
	} else {
		configFileUsed = v.ConfigFileUsed()
		configLogf("Loaded config file: %s", configFileUsed)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Fallbacks for legacy environment variables and mode-dependent
	// defaults.
	config.applyFallbacks()

	config.logConfigurationSources(configFileUsed)

	if err := config.validatePromptFiles(); err != nil {
		return nil, fmt.Errorf("prompt file validation failed: %w", err)
	}

	if err := config.loadPromptsFromFiles(); err != nil {
		return nil, fmt.Errorf("failed to load custom prompts from files: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
//
// The AI API key is intentionally not required here: document extraction and
// artifact export work without one, and the AI service reports a missing key
// when a generation task is actually requested.
func (c *Config) Validate() error {
	if c.AI.Timeout <= 0 {
		return fmt.Errorf("AI timeout must be positive")
	}

	if c.Extractor.MaxDocumentSize <= 0 {
		return fmt.Errorf("extractor max document size must be positive")
	}

	switch c.Extractor.ValidationMode {
	case "relaxed", "strict":
	default:
		return fmt.Errorf("invalid extractor validation mode: %s (must be 'relaxed' or 'strict')", c.Extractor.ValidationMode)
	}

	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	validFormats := make(map[string]bool)
	for _, format := range c.App.SupportedFormats {
		validFormats[format] = true
	}
	if !validFormats[c.App.DefaultFormat] {
		return fmt.Errorf("invalid default format: %s", c.App.DefaultFormat)
	}

	if err := c.ValidateTLSConfig(); err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}

	return nil
}
