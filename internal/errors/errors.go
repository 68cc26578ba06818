package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// DocIndexError is the structured error type for docindex.
// It carries enough context for retry decisions, logging, and failure reports.
type DocIndexError struct {
	// Code is the unique error code (e.g., "ERR_303_RATE_LIMITED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs
	// (document_id, document_name, chunk_sequence, status, ...).
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// RetryAfter is a provider-specified wait hint (zero if none).
	RetryAfter time.Duration

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *DocIndexError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *DocIndexError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with DocIndexError.
func (e *DocIndexError) Is(target error) bool {
	if t, ok := target.(*DocIndexError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *DocIndexError) WithDetail(key, value string) *DocIndexError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *DocIndexError) WithSuggestion(suggestion string) *DocIndexError {
	e.Suggestion = suggestion
	return e
}

// WithRetryAfter records a provider wait hint.
func (e *DocIndexError) WithRetryAfter(d time.Duration) *DocIndexError {
	e.RetryAfter = d
	return e
}

// New creates a new DocIndexError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *DocIndexError {
	return &DocIndexError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a DocIndexError from an existing error.
// The error's message becomes the DocIndexError message.
func Wrap(code string, err error) *DocIndexError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *DocIndexError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// NetworkError creates a transient network error.
func NetworkError(message string, cause error) *DocIndexError {
	return New(ErrCodeNetworkTimeout, message, cause)
}

// RateLimitedError creates a rate-limit error carrying the provider wait hint.
func RateLimitedError(message string, retryAfter time.Duration) *DocIndexError {
	return New(ErrCodeRateLimited, message, nil).WithRetryAfter(retryAfter)
}

// UnauthorizedError creates a fatal authentication/authorization error.
func UnauthorizedError(message string, cause error) *DocIndexError {
	return New(ErrCodeUnauthorized, message, cause).
		WithSuggestion("check the API key or service principal credentials")
}

// DimensionMismatchError creates the fatal vector-dimension configuration error.
func DimensionMismatchError(expected, got int) *DocIndexError {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", expected, got), nil).
		WithDetail("expected", fmt.Sprint(expected)).
		WithDetail("got", fmt.Sprint(got)).
		WithSuggestion("set embeddings.dimensions to match the deployed model and rerun 'docindex schema'")
}

// SchemaMismatchError creates a fatal schema error.
func SchemaMismatchError(message string, cause error) *DocIndexError {
	return New(ErrCodeSchemaMismatch, message, cause).
		WithSuggestion("run 'docindex schema' before ingesting")
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *DocIndexError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *DocIndexError {
	return New(ErrCodeInternal, message, cause)
}

// IngestionFailed wraps a per-document failure. chunkSeq is omitted when <= 0.
func IngestionFailed(documentID, documentName string, chunkSeq int, cause error) *DocIndexError {
	e := New(ErrCodeIngestionFailed, "document ingestion failed", cause).
		WithDetail("document_id", documentID).
		WithDetail("document_name", documentName)
	if chunkSeq > 0 {
		e.WithDetail("chunk_sequence", fmt.Sprint(chunkSeq))
	}
	// Fatal causes stay fatal so the run aborts.
	if IsFatal(cause) {
		e.Severity = SeverityFatal
	}
	return e
}

// as finds the first DocIndexError in err's chain.
func as(err error) (*DocIndexError, bool) {
	var de *DocIndexError
	if stderrors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
// Returns true if the error chain holds a DocIndexError with Retryable set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if de, ok := as(err); ok {
		return de.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors abort the current run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if de, ok := as(err); ok {
		return de.Severity == SeverityFatal
	}
	return false
}

// RetryAfter returns the provider wait hint carried by err, or zero.
func RetryAfter(err error) time.Duration {
	if de, ok := as(err); ok {
		return de.RetryAfter
	}
	return 0
}

// GetCode extracts the error code from a DocIndexError.
// Returns empty string if not a DocIndexError.
func GetCode(err error) string {
	if de, ok := as(err); ok {
		return de.Code
	}
	return ""
}

// GetCategory extracts the category from a DocIndexError.
func GetCategory(err error) Category {
	if de, ok := as(err); ok {
		return de.Category
	}
	return ""
}

// GetDetail returns a detail value from the first DocIndexError in the chain.
func GetDetail(err error, key string) string {
	if de, ok := as(err); ok && de.Details != nil {
		return de.Details[key]
	}
	return ""
}
