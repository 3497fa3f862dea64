package ai

import (
	"context"
	"fmt"

	"applyforge/internal/config"
	"applyforge/internal/errors"
	"applyforge/internal/types"
)

// Service runs one generation task: it renders the task's prompt and hands
// it to the configured provider. Provider is exported so callers can reach
// provider-specific state such as circuit breaker stats.
type Service struct {
	Provider Provider
	task     types.TaskKind
	config   *config.OperationAIConfig
	logger   *errors.Logger
}

// NewService selects the provider named by cfg and wraps it for one task.
// cfg must come from one of the Config.Get*Config accessors so the optional
// fields are populated.
func NewService(cfg *config.OperationAIConfig, operationType string, logger *errors.Logger) (*Service, error) {
	if logger == nil {
		logger = errors.Discard()
	}

	logger.Debug("Initializing AI service",
		"provider", cfg.Provider,
		"task", operationType,
		"model", cfg.Model,
		"temperature", *cfg.Temperature,
		"timeout", *cfg.Timeout,
		"max_retries", *cfg.MaxRetries,
		"use_system_prompts", *cfg.UseSystemPrompts)

	var provider Provider
	var err error
	switch cfg.Provider {
	case "gemini":
		provider, err = NewGeminiProvider(cfg, operationType, logger)
	default:
		return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig,
			fmt.Sprintf("Unsupported AI provider: %s", cfg.Provider), nil)
	}
	if err != nil {
		return nil, err
	}

	return &Service{
		Provider: provider,
		task:     types.TaskKind(operationType),
		config:   cfg,
		logger:   logger,
	}, nil
}

// Task returns the generation task this service runs.
func (s *Service) Task() types.TaskKind {
	return s.task
}

// BuildPrompt renders the task's instruction string for the given inputs,
// honoring per-task template overrides from config and prompt files.
func (s *Service) BuildPrompt(resumeText, jobDescription string) string {
	template := userPromptTemplate(s.config, string(s.task))

	switch s.task {
	case types.TaskAnalysis:
		return buildAnalysisPromptFrom(template, resumeText, jobDescription)
	case types.TaskCustomize:
		return buildCustomizationPromptFrom(template, resumeText, jobDescription)
	case types.TaskChanges:
		return buildSpecificChangesPromptFrom(template, resumeText, jobDescription)
	case types.TaskCoverLetter:
		return buildCoverLetterPromptFrom(template, resumeText, jobDescription)
	default:
		// Unknown task kinds have no prompt contract; treat the template as the prompt
		return template
	}
}

// Generate builds the task prompt and runs it through the provider.
func (s *Service) Generate(ctx context.Context, resumeText, jobDescription string) (string, *TokenUsage, error) {
	prompt := s.BuildPrompt(resumeText, jobDescription)
	return s.Provider.Generate(ctx, prompt)
}

// GetModelInfo reports the provider's model readiness for health checks.
func (s *Service) GetModelInfo(ctx context.Context) *ModelInfo {
	return s.Provider.GetModelInfo(ctx)
}
