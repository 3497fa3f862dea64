package errors

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
)

// Logger is a thin wrapper over slog that knows how to flatten AppError
// metadata into log attributes.
type Logger struct {
	logger *slog.Logger
}

// New builds a JSON logger writing to stdout. Level names follow the config
// file: debug, info, warn, error.
func New(level string) (*Logger, error) {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", level)
	}

	return NewLogger(slogLevel), nil
}

// NewLogger builds a JSON logger at an explicit slog level.
func NewLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return &Logger{logger: slog.New(handler)}
}

// Discard returns a logger that drops everything. Components that treat their
// logger as optional substitute it for nil instead of guarding every call.
func Discard() *Logger {
	return &Logger{logger: slog.New(slog.DiscardHandler)}
}

// LogError emits err at error level. An AppError anywhere in the chain
// contributes its type, code, message, and attached context as attributes.
func (l *Logger) LogError(err error, message string, args ...any) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		logArgs := []any{
			"error_type", appErr.Type,
			"error_code", appErr.Code,
			"error_message", appErr.Message,
		}
		for key, value := range appErr.Context {
			logArgs = append(logArgs, key, value)
		}
		logArgs = append(logArgs, args...)
		l.logger.Error(message, logArgs...)
		return
	}

	l.logger.Error(message, append([]any{"error", err.Error()}, args...)...)
}

func (l *Logger) Info(message string, args ...any) {
	l.logger.Info(message, args...)
}

func (l *Logger) Debug(message string, args ...any) {
	l.logger.Debug(message, args...)
}

func (l *Logger) Warn(message string, args ...any) {
	l.logger.Warn(message, args...)
}
