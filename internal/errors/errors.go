// Package errors defines the application error vocabulary: typed, coded
// errors that survive wrapping, plus the structured logger the rest of the
// codebase reports through.
package errors

import stderrors "errors"

// ErrorType buckets errors by subsystem for logging and HTTP status mapping.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeDocument   ErrorType = "document"
	ErrorTypeAI         ErrorType = "ai"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// Error codes shared across packages. HTTP handlers map these onto status
// codes, so changing one is a wire-visible change.
const (
	ErrCodeFileNotFound      = "FILE_NOT_FOUND"
	ErrCodeFileNotReadable   = "FILE_NOT_READABLE"
	ErrCodeFileWriteFailed   = "FILE_WRITE_FAILED"
	ErrCodeDirCreateFailed   = "DIRECTORY_CREATE_FAILED"
	ErrCodeInvalidInputFile  = "INVALID_INPUT_FILE"
	ErrCodeInvalidOutputFile = "INVALID_OUTPUT_FILE"
	ErrCodeInvalidFormat     = "INVALID_FORMAT"
	ErrCodeInvalidDocument   = "INVALID_DOCUMENT"
	ErrCodeDocumentTooLarge  = "DOCUMENT_TOO_LARGE"
	ErrCodeExtractionFailed  = "EXTRACTION_FAILED"
	ErrCodeAIServiceFailed   = "AI_SERVICE_FAILED"
	ErrCodeAITimeout         = "AI_TIMEOUT"
	ErrCodeMalformedResponse = "MALFORMED_RESPONSE"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeMissingAPIKey     = "MISSING_API_KEY"
	ErrCodeNetworkTimeout    = "NETWORK_TIMEOUT"
	ErrCodeInvalidConfig     = "INVALID_CONFIG"
)

// AppError carries a stable machine-readable code alongside the human-facing
// message and the wrapped cause. Context is extra key/value detail that
// LogError emits as log attributes.
type AppError struct {
	Type    ErrorType
	Code    string
	Message string
	Cause   error
	Context map[string]any
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Code + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithContext attaches a key/value pair that LogError later emits as a log
// attribute.
func (e *AppError) WithContext(key string, value any) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// HasCode reports whether the first AppError in err's chain carries code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

func newError(typ ErrorType, code, message string, cause error) *AppError {
	return &AppError{Type: typ, Code: code, Message: message, Cause: cause}
}

// Typed constructors, one per ErrorType.

func NewValidationError(code, message string, cause error) *AppError {
	return newError(ErrorTypeValidation, code, message, cause)
}

func NewIOError(code, message string, cause error) *AppError {
	return newError(ErrorTypeIO, code, message, cause)
}

func NewDocumentError(code, message string, cause error) *AppError {
	return newError(ErrorTypeDocument, code, message, cause)
}

func NewAIError(code, message string, cause error) *AppError {
	return newError(ErrorTypeAI, code, message, cause)
}

func NewNetworkError(code, message string, cause error) *AppError {
	return newError(ErrorTypeNetwork, code, message, cause)
}

func NewConfigError(code, message string, cause error) *AppError {
	return newError(ErrorTypeConfig, code, message, cause)
}

func NewInternalError(code, message string, cause error) *AppError {
	return newError(ErrorTypeInternal, code, message, cause)
}
