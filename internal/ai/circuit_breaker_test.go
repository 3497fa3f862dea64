package ai

import (
	"errors"
	"testing"
	"time"

	"applyforge/internal/config"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func breakerConfig() *config.OperationAIConfig {
	return &config.OperationAIConfig{
		CircuitBreaker: config.CircuitBreakerConfig{
			Enabled:          true,
			MaxRequests:      3,
			Interval:         time.Minute,
			Timeout:          time.Minute,
			MinRequests:      2,
			FailureThreshold: 0.5,
		},
	}
}

func TestAICircuitBreakerTripsOnFailures(t *testing.T) {
	cb := NewAICircuitBreaker("trip", breakerConfig(), nil)
	require.NotNil(t, cb)
	assert.Equal(t, "AI-trip", cb.GetStats()["name"])
	assert.Equal(t, "closed", cb.GetStats()["state"])
	assert.True(t, cb.IsHealthy())

	boom := errors.New("upstream failed")
	for range 2 {
		_, err := cb.Execute(func() (*genai.GenerateContentResponse, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)
	}

	assert.False(t, cb.IsHealthy())
	assert.Equal(t, "open", cb.GetStats()["state"])

	called := false
	_, err := cb.Execute(func() (*genai.GenerateContentResponse, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.False(t, called, "open breaker must not invoke the call")
}

func TestIndependentCircuitBreakers(t *testing.T) {
	analysis := NewAICircuitBreaker("analysis", breakerConfig(), nil)
	customize := NewAICircuitBreaker("customize", breakerConfig(), nil)
	coverLetter := NewAICircuitBreaker("coverletter", breakerConfig(), nil)

	assert.Equal(t, "AI-analysis", analysis.GetStats()["name"])
	assert.Equal(t, "AI-customize", customize.GetStats()["name"])
	assert.Equal(t, "AI-coverletter", coverLetter.GetStats()["name"])

	// Tripping one task's breaker leaves the others closed.
	for range 2 {
		_, _ = analysis.Execute(func() (*genai.GenerateContentResponse, error) {
			return nil, errors.New("model unavailable")
		})
	}
	assert.False(t, analysis.IsHealthy())
	assert.True(t, customize.IsHealthy())
	assert.True(t, coverLetter.IsHealthy())
}

func TestModelCircuitBreakerTripsLate(t *testing.T) {
	mb := NewModelCircuitBreaker("analysis", breakerConfig(), nil)
	require.NotNil(t, mb)
	assert.Equal(t, "AI-Model-analysis", mb.GetModelStats()["name"])

	// The generation thresholds do not apply to lookups; five failures
	// are needed before the model breaker opens.
	for i := range 5 {
		_, err := mb.ExecuteModel(func() (*genai.Model, error) {
			return nil, errors.New("lookup failed")
		})
		require.Error(t, err)
		if i < 4 {
			assert.True(t, mb.IsModelHealthy(), "breaker opened after %d failures", i+1)
		}
	}
	assert.False(t, mb.IsModelHealthy())
}

func TestCircuitBreakerDisabled(t *testing.T) {
	cfg := &config.OperationAIConfig{
		CircuitBreaker: config.CircuitBreakerConfig{Enabled: false},
	}

	cb := NewAICircuitBreaker("disabled", cfg, nil)
	require.Nil(t, cb)

	// Nil breakers still execute the call and report healthy.
	resp, err := cb.Execute(func() (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{}, nil
	})
	require.NoError(t, err)
	assert.NotNil(t, resp)
	assert.True(t, cb.IsHealthy())
	assert.Equal(t, map[string]any{"enabled": false}, cb.GetStats())

	mb := NewModelCircuitBreaker("disabled", cfg, nil)
	require.Nil(t, mb)
	model, err := mb.ExecuteModel(func() (*genai.Model, error) {
		return &genai.Model{Name: "models/test"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "models/test", model.Name)
	assert.True(t, mb.IsModelHealthy())
	assert.Equal(t, map[string]any{"enabled": false}, mb.GetModelStats())
}
