package ai

import (
	"applyforge/internal/config"
	"applyforge/internal/errors"

	"github.com/sony/gobreaker/v2"
	"google.golang.org/genai"
)

// breaker is the shared circuit breaker core. A nil *breaker means the
// feature is off; every method treats that as a pass-through.
type breaker[T any] struct {
	cb *gobreaker.CircuitBreaker[T]
}

// newBreaker builds a gobreaker instance named for the operation. trip
// decides from the rolling counts when the breaker opens.
func newBreaker[T any](name, operationType string, cfg config.CircuitBreakerConfig, logger *errors.Logger, trip func(gobreaker.Counts) bool) *breaker[T] {
	if logger == nil {
		logger = errors.Discard()
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: trip,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				"name", name,
				"operation_type", operationType,
				"from", from.String(),
				"to", to.String())
		},
	}

	return &breaker[T]{cb: gobreaker.NewCircuitBreaker[T](settings)}
}

func (b *breaker[T]) execute(fn func() (T, error)) (T, error) {
	if b == nil || b.cb == nil {
		return fn()
	}
	return b.cb.Execute(fn)
}

func (b *breaker[T]) healthy() bool {
	if b == nil || b.cb == nil {
		return true
	}
	return b.cb.State() == gobreaker.StateClosed
}

func (b *breaker[T]) stats() map[string]any {
	if b == nil || b.cb == nil {
		return map[string]any{"enabled": false}
	}
	return map[string]any{
		"name":    b.cb.Name(),
		"state":   b.cb.State().String(),
		"counts":  b.cb.Counts(),
		"enabled": true,
	}
}

// AICircuitBreaker guards generation calls against a failing upstream.
// A nil *AICircuitBreaker executes calls unguarded.
type AICircuitBreaker struct {
	core *breaker[*genai.GenerateContentResponse]
}

// NewAICircuitBreaker builds the generation breaker for one operation
// type, tripping on the configured request floor and failure ratio.
// Returns nil when the feature is disabled for the operation.
func NewAICircuitBreaker(operationType string, cfg *config.OperationAIConfig, logger *errors.Logger) *AICircuitBreaker {
	if !cfg.CircuitBreaker.Enabled {
		return nil
	}

	cb := cfg.CircuitBreaker
	trip := func(counts gobreaker.Counts) bool {
		failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
		return counts.Requests >= cb.MinRequests && failureRatio >= cb.FailureThreshold
	}

	return &AICircuitBreaker{
		core: newBreaker[*genai.GenerateContentResponse]("AI-"+operationType, operationType, cb, logger, trip),
	}
}

// Execute runs fn under the breaker, or directly when the breaker is off.
func (cb *AICircuitBreaker) Execute(fn func() (*genai.GenerateContentResponse, error)) (*genai.GenerateContentResponse, error) {
	if cb == nil {
		return fn()
	}
	return cb.core.execute(fn)
}

// GetStats returns the breaker's name, state and rolling counts.
func (cb *AICircuitBreaker) GetStats() map[string]any {
	if cb == nil {
		return map[string]any{"enabled": false}
	}
	return cb.core.stats()
}

// IsHealthy reports whether the breaker is closed (or absent).
func (cb *AICircuitBreaker) IsHealthy() bool {
	return cb == nil || cb.core.healthy()
}

// ModelCircuitBreaker guards model metadata lookups. Lookups matter less
// than generation, so it trips only on a sustained failure rate.
type ModelCircuitBreaker struct {
	core *breaker[*genai.Model]
}

// NewModelCircuitBreaker builds the model lookup breaker for one
// operation type. Returns nil when the feature is disabled.
func NewModelCircuitBreaker(operationType string, cfg *config.OperationAIConfig, logger *errors.Logger) *ModelCircuitBreaker {
	if !cfg.CircuitBreaker.Enabled {
		return nil
	}

	trip := func(counts gobreaker.Counts) bool {
		failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
		return counts.Requests >= 5 && failureRatio >= 0.8
	}

	return &ModelCircuitBreaker{
		core: newBreaker[*genai.Model]("AI-Model-"+operationType, operationType, cfg.CircuitBreaker, logger, trip),
	}
}

// ExecuteModel runs fn under the breaker, or directly when it is off.
func (cb *ModelCircuitBreaker) ExecuteModel(fn func() (*genai.Model, error)) (*genai.Model, error) {
	if cb == nil {
		return fn()
	}
	return cb.core.execute(fn)
}

// GetModelStats returns the breaker's name, state and rolling counts.
func (cb *ModelCircuitBreaker) GetModelStats() map[string]any {
	if cb == nil {
		return map[string]any{"enabled": false}
	}
	return cb.core.stats()
}

// IsModelHealthy reports whether the breaker is closed (or absent).
func (cb *ModelCircuitBreaker) IsModelHealthy() bool {
	return cb == nil || cb.core.healthy()
}
