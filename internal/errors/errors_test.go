package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorRendering(t *testing.T) {
	cause := stderrors.New("disk on fire")
	err := NewIOError(ErrCodeFileNotReadable, "could not read resume", cause)

	assert.Equal(t, "FILE_NOT_READABLE: could not read resume: disk on fire", err.Error())
	assert.Equal(t, ErrorTypeIO, err.Type)
	assert.ErrorIs(t, err, cause)

	bare := NewValidationError(ErrCodeInvalidRequest, "missing field", nil)
	assert.Equal(t, "INVALID_REQUEST: missing field", bare.Error())
	assert.NoError(t, bare.Unwrap())
}

func TestHasCode(t *testing.T) {
	err := NewAIError(ErrCodeAITimeout, "model stalled", nil)

	assert.True(t, HasCode(err, ErrCodeAITimeout))
	assert.False(t, HasCode(err, ErrCodeAIServiceFailed))

	wrapped := fmt.Errorf("running analysis: %w", err)
	assert.True(t, HasCode(wrapped, ErrCodeAITimeout), "code must survive wrapping")

	assert.False(t, HasCode(stderrors.New("plain"), ErrCodeAITimeout))
	assert.False(t, HasCode(nil, ErrCodeAITimeout))
}

func TestWithContextChains(t *testing.T) {
	err := NewDocumentError(ErrCodeExtractionFailed, "no text layer", nil)
	require.Nil(t, err.Context)

	same := err.WithContext("filename", "resume.pdf").WithContext("pages", 3)
	assert.Same(t, err, same)
	assert.Equal(t, map[string]any{"filename": "resume.pdf", "pages": 3}, err.Context)
}

func TestNewParsesLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		logger, err := New(level)
		require.NoError(t, err, level)
		assert.NotNil(t, logger)
	}

	_, err := New("verbose")
	assert.ErrorContains(t, err, "invalid log level: verbose")
}

// captureHandler records everything it is handed so tests can inspect the
// attributes LogError produced.
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) attrs(t *testing.T, i int) map[string]any {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.Greater(t, len(h.records), i, "expected a log record")

	got := make(map[string]any)
	h.records[i].Attrs(func(a slog.Attr) bool {
		got[a.Key] = a.Value.Any()
		return true
	})
	return got
}

func TestLogErrorFlattensAppError(t *testing.T) {
	h := &captureHandler{}
	logger := &Logger{logger: slog.New(h)}

	err := NewDocumentError(ErrCodeInvalidDocument, "not a PDF", nil).
		WithContext("filename", "resume.txt")
	logger.LogError(err, "Extraction rejected input", "request_id", "r-42")

	attrs := h.attrs(t, 0)
	assert.Equal(t, "Extraction rejected input", h.records[0].Message)
	assert.Equal(t, slog.LevelError, h.records[0].Level)
	assert.Equal(t, "document", fmt.Sprint(attrs["error_type"]))
	assert.Equal(t, "INVALID_DOCUMENT", attrs["error_code"])
	assert.Equal(t, "not a PDF", attrs["error_message"])
	assert.Equal(t, "resume.txt", attrs["filename"])
	assert.Equal(t, "r-42", attrs["request_id"])
}

func TestLogErrorPlainError(t *testing.T) {
	h := &captureHandler{}
	logger := &Logger{logger: slog.New(h)}

	logger.LogError(stderrors.New("connection reset"), "Upstream call failed")

	attrs := h.attrs(t, 0)
	assert.Equal(t, "connection reset", attrs["error"])
	assert.NotContains(t, attrs, "error_code")
}

func TestDiscardDropsEverything(t *testing.T) {
	logger := Discard()
	logger.Info("nobody hears this")
	logger.LogError(stderrors.New("nope"), "still quiet")
}
