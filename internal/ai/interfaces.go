package ai

import (
	"context"
)

// Provider is the generation backend for a single task.
// Generate returns token usage alongside the raw text - callers can ignore it if not needed
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, *TokenUsage, error)
	GetModelInfo(ctx context.Context) *ModelInfo
	Close() error
}
