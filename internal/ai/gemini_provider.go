package ai

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"net/http"
	"time"

	"applyforge/internal/config"
	applyforgeErrors "applyforge/internal/errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/api/googleapi"
	"google.golang.org/genai"
)

// GeminiProvider implements Provider for Google Gemini
type GeminiProvider struct {
	client         *genai.Client
	config         *config.OperationAIConfig
	operationType  string
	circuitBreaker *AICircuitBreaker
	modelBreaker   *ModelCircuitBreaker
	logger         *applyforgeErrors.Logger
}

// Ensure GeminiProvider implements Provider
var _ Provider = (*GeminiProvider)(nil)

// NewGeminiProvider creates a new Gemini provider instance for a specific task.
// The credential is checked exactly once, here, without a network call; the
// constructed provider is reused for the process lifetime.
func NewGeminiProvider(cfg *config.OperationAIConfig, operationType string, logger *applyforgeErrors.Logger) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, applyforgeErrors.NewAIError(applyforgeErrors.ErrCodeMissingAPIKey,
			"No Gemini API key configured for task "+operationType, nil)
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, applyforgeErrors.NewAIError(applyforgeErrors.ErrCodeAIServiceFailed,
			"Failed to create Gemini client", err)
	}

	return &GeminiProvider{
		client:         client,
		config:         cfg,
		operationType:  operationType,
		circuitBreaker: NewAICircuitBreaker(operationType, cfg, logger),
		modelBreaker:   NewModelCircuitBreaker(operationType, cfg, logger),
		logger:         logger,
	}, nil
}

// ModelInfo represents information about the AI model
type ModelInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	Version     string `json:"version,omitempty"`
	Available   bool   `json:"available"`
	Error       string `json:"error,omitempty"`
}

// defaultModelCheckTimeout caps GetModelInfo calls whose context carries no
// deadline of its own.
const defaultModelCheckTimeout = 10 * time.Second

// GetModelInfo checks the readiness and availability of the configured model.
// Callers control the check budget through the context deadline; without one
// the check is capped at defaultModelCheckTimeout.
func (g *GeminiProvider) GetModelInfo(ctx context.Context) *ModelInfo {
	modelInfo := &ModelInfo{
		Name:      g.config.Model,
		Available: false,
	}

	checkCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, defaultModelCheckTimeout)
		defer cancel()
	}

	model, err := g.modelBreaker.ExecuteModel(func() (*genai.Model, error) {
		return g.client.Models.Get(checkCtx, g.config.Model, &genai.GetModelConfig{})
	})
	if err != nil {
		modelInfo.Error = fmt.Sprintf("Failed to get model info: %v", err)
		g.logger.Warn("Model availability check failed",
			"model", g.config.Model,
			"task", g.operationType,
			"error", err.Error())
		return modelInfo
	}

	modelInfo.Available = true
	if model.DisplayName != "" {
		modelInfo.DisplayName = model.DisplayName
	}
	if model.Version != "" {
		modelInfo.Version = model.Version
	}

	g.logger.Debug("Model availability check successful",
		"model", g.config.Model,
		"task", g.operationType,
		"display_name", modelInfo.DisplayName,
		"version", modelInfo.Version)

	return modelInfo
}

// Generate sends one role-"user" turn to the model and returns the raw text of
// the first candidate. Empty content comes back as an empty string, not an
// error; transport and service failures come back as AI_SERVICE_FAILED.
func (g *GeminiProvider) Generate(ctx context.Context, prompt string) (string, *TokenUsage, error) {
	tracer := otel.Tracer("applyforge.ai.gemini")
	ctx, span := tracer.Start(ctx, "gemini."+g.operationType)
	defer span.End()

	span.SetAttributes(
		attribute.String("ai.provider", "gemini"),
		attribute.String("ai.model", g.config.Model),
		attribute.String("ai.task", g.operationType),
		attribute.Float64("ai.temperature", float64(*g.config.Temperature)),
		attribute.Int("input.prompt_length", len(prompt)),
	)

	// Per-task timeout from the task's configuration
	if g.config.Timeout != nil && *g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *g.config.Timeout)
		defer cancel()
	}

	genaiConfig := g.buildGenerateConfig()

	result, err := g.circuitBreaker.Execute(func() (*genai.GenerateContentResponse, error) {
		return g.executeWithRetry(ctx, g.operationType, func() (*genai.GenerateContentResponse, error) {
			return g.client.Models.GenerateContent(ctx, g.config.Model, genai.Text(prompt), genaiConfig)
		})
	})

	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("success", false))
		return "", nil, applyforgeErrors.NewAIError(applyforgeErrors.ErrCodeAIServiceFailed,
			"Failed to generate content for "+g.operationType, err)
	}

	text := result.Text()

	tokenUsage := extractTokenUsage(result)
	if tokenUsage != nil {
		span.SetAttributes(
			attribute.Int64("ai.tokens.input", tokenUsage.InputTokens),
			attribute.Int64("ai.tokens.output", tokenUsage.OutputTokens),
			attribute.Int64("ai.tokens.total", tokenUsage.TotalTokens),
		)
	}

	span.SetAttributes(
		attribute.Bool("success", true),
		attribute.Int("output.text_length", len(text)),
	)
	return text, tokenUsage, nil
}

// buildGenerateConfig creates the generation config for a raw-text request
func (g *GeminiProvider) buildGenerateConfig() *genai.GenerateContentConfig {
	genaiConfig := &genai.GenerateContentConfig{}

	if *g.config.Temperature > 0 {
		genaiConfig.Temperature = g.config.Temperature
	}

	if *g.config.UseSystemPrompts {
		if systemPrompt := g.getSystemPrompt(g.operationType); systemPrompt != "" {
			genaiConfig.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
		}
	}

	return genaiConfig
}

// executeWithRetry runs fn up to MaxRetries+1 times, backing off between
// attempts. Non-retryable errors stop the loop early.
func (g *GeminiProvider) executeWithRetry(ctx context.Context, operation string, fn func() (*genai.GenerateContentResponse, error)) (*genai.GenerateContentResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= *g.config.MaxRetries; attempt++ {
		if attempt > 0 {
			g.logger.Warn("Retrying AI operation",
				"operation", operation,
				"attempt", attempt,
				"max_retries", *g.config.MaxRetries,
				"error", lastErr.Error())

			select {
			case <-time.After(retryBackoff(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := fn()
		if err == nil {
			if attempt > 0 {
				g.logger.Info("AI operation succeeded after retry",
					"operation", operation,
					"successful_attempt", attempt+1,
					"total_attempts", attempt+1)
			}
			return result, nil
		}

		lastErr = err

		if !g.isRetryableError(err) {
			g.logger.Debug("Error is not retryable, stopping retry attempts",
				"operation", operation,
				"error", err.Error())
			break
		}
	}

	g.logger.LogError(lastErr, "AI operation failed after all retry attempts",
		"operation", operation,
		"total_attempts", *g.config.MaxRetries+1)

	return nil, fmt.Errorf("operation '%s' failed after %d retries: %w", operation, *g.config.MaxRetries, lastErr)
}

// retryBackoff returns the delay before the given retry attempt: exponential
// from one second with up to 10% jitter, capped at 30 seconds.
func retryBackoff(attempt int) time.Duration {
	baseDelay := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
	jitterMax := big.NewInt(int64(float64(baseDelay) * 0.1))
	jitterBig, _ := rand.Int(rand.Reader, jitterMax)
	return min(baseDelay+time.Duration(jitterBig.Int64()), 30*time.Second)
}

// isRetryableError reports whether err is worth another attempt. Network
// errors and throttling or 5xx API responses are; everything else, including
// auth and invalid-input failures, is not.
func (g *GeminiProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
	}

	return false
}

// GetCircuitBreakerStats reports both breakers' stats plus a combined health
// flag. The health endpoint serves this map per task.
func (g *GeminiProvider) GetCircuitBreakerStats() map[string]any {
	return map[string]any{
		"ai_operations":    g.circuitBreaker.GetStats(),
		"model_operations": g.modelBreaker.GetModelStats(),
		"overall_healthy":  g.circuitBreaker.IsHealthy() && g.modelBreaker.IsModelHealthy(),
	}
}

// Close implements Provider. The genai client holds no connection state to
// release in single-shot use.
func (g *GeminiProvider) Close() error {
	return nil
}

// getSystemPrompt returns the system prompt for a task, preferring file-loaded
// content, then config values, then the package default.
func (g *GeminiProvider) getSystemPrompt(taskType string) string {
	loaded := config.GetPromptsForOperation(taskType)
	return resolvePrompt(
		loaded.SystemPrompts.ForTask(taskType),
		g.config.CustomPrompts.SystemPrompts.ForTask(taskType),
		DefaultSystemPrompts.ForTask(taskType),
	)
}

// userPromptTemplate returns the user prompt template for a task with the same
// priority order as getSystemPrompt.
func userPromptTemplate(cfg *config.OperationAIConfig, taskType string) string {
	loaded := config.GetPromptsForOperation(taskType)
	return resolvePrompt(
		loaded.UserPrompts.ForTask(taskType),
		cfg.CustomPrompts.UserPrompts.ForTask(taskType),
		DefaultUserPrompts.ForTask(taskType),
	)
}

// resolvePrompt selects the prompt string by priority: file-loaded content,
// then the configuration value, then the package default.
func resolvePrompt(loadedFromFile, fromConfig, fromDefault string) string {
	if loadedFromFile != "" {
		return loadedFromFile
	}
	if fromConfig != "" {
		return fromConfig
	}
	return fromDefault
}

// TokenUsage carries the token accounting Gemini reports per response.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

func extractTokenUsage(result *genai.GenerateContentResponse) *TokenUsage {
	if result == nil || result.UsageMetadata == nil {
		return nil
	}

	usage := result.UsageMetadata
	return &TokenUsage{
		InputTokens:  int64(usage.PromptTokenCount),
		OutputTokens: int64(usage.CandidatesTokenCount),
		TotalTokens:  int64(usage.TotalTokenCount),
	}
}
