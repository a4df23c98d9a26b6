// Package errors provides structured errors for carsource with error codes, categories, and context.
package errors

import (
	stderr "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aws/smithy-go"
)

// ErrorCode represents a structured error code for carsource operations.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"

	// Connection errors
	ErrCodeConnectionPool ErrorCode = "CONNECTION_POOL"
	ErrCodeNetworkError   ErrorCode = "NETWORK_ERROR"

	// Storage errors
	ErrCodeObjectNotFound ErrorCode = "OBJECT_NOT_FOUND"
	ErrCodeArchiveFormat  ErrorCode = "ARCHIVE_FORMAT"

	// Operation errors
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryConnection    ErrorCategory = "connection"
	CategoryStorage       ErrorCategory = "storage"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// SourceError represents a structured error with context and metadata.
type SourceError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Component != "" {
		if e.Operation != "" {
			msg = fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, msg)
		} else {
			msg = fmt.Sprintf("[%s] %s", e.Component, msg)
		}
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *SourceError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *SourceError with the same code.
func (e *SourceError) Is(target error) bool {
	if t, ok := target.(*SourceError); ok {
		return e.Code == t.Code
	}
	return false
}

// LogValue renders the error as a slog group so handlers emit it as structured fields.
func (e *SourceError) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("code", string(e.Code)),
		slog.String("category", string(e.Category)),
		slog.String("message", e.Message),
	}
	if e.Operation != "" {
		attrs = append(attrs, slog.String("operation", e.Operation))
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, e.Details[k]))
	}
	if e.Cause != nil {
		attrs = append(attrs, slog.Any("cause", Serialize(e.Cause)))
	}
	return slog.GroupValue(attrs...)
}

// NewError creates a new error with default values for the code.
func NewError(code ErrorCode, message string) *SourceError {
	return &SourceError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Retryable: IsRetryableByDefault(code),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case codeStr == string(ErrCodeInvalidConfig) || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "CONNECTION_") || strings.HasPrefix(codeStr, "NETWORK_"):
		return CategoryConnection
	case strings.HasPrefix(codeStr, "OBJECT_") || strings.HasPrefix(codeStr, "ARCHIVE_"):
		return CategoryStorage
	case strings.HasPrefix(codeStr, "OPERATION_") || strings.HasPrefix(codeStr, "RETRY_") ||
		strings.HasPrefix(codeStr, "VALIDATION_"):
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault reports whether repeating the failed call later may
// succeed. A missing object, a malformed archive or bad input will not.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeNetworkError, ErrCodeConnectionPool, ErrCodeRetryExhausted:
		return true
	}
	return false
}

// WithDetail adds detailed information to an error
func (e *SourceError) WithDetail(key string, value interface{}) *SourceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *SourceError) WithComponent(component string) *SourceError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *SourceError) WithOperation(operation string) *SourceError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *SourceError) WithCause(cause error) *SourceError {
	e.Cause = cause
	return e
}

// GetRecommendation returns a user-friendly recommendation for fixing the error
func (e *SourceError) GetRecommendation() string {
	recommendations := map[ErrorCode]string{
		ErrCodeConnectionPool: "The S3 client for this region could not be built. " +
			"Check region, endpoint_url and credential settings.",
		ErrCodeNetworkError: "The S3 request failed. " +
			"Verify network connectivity, credentials and the S3 endpoint.",
		ErrCodeObjectNotFound: "The requested object does not exist in the S3 bucket. " +
			"Verify the object key and bucket name.",
		ErrCodeArchiveFormat: "The object was downloaded but is not a valid CAR file. " +
			"Verify the object was written completely.",
		ErrCodeRetryExhausted: "S3 kept failing for every attempt. " +
			"Consider raising storage.max_retries or storage.retry_delay.",
		ErrCodeInvalidConfig: "Configuration validation failed. " +
			"Check your configuration file syntax and required parameters.",
		ErrCodeConfigLoad: "The configuration file could not be read. " +
			"Check the path given to --config and its YAML syntax.",
	}

	if rec, exists := recommendations[e.Code]; exists {
		return rec
	}

	return "Please check the error message for details."
}

// Recommendation returns the recommendation of the outermost *SourceError in
// err's chain, or "" when there is none.
func Recommendation(err error) string {
	var se *SourceError
	if !stderr.As(err, &se) {
		return ""
	}
	return se.GetRecommendation()
}

// HasCode reports whether any error in err's chain is a *SourceError with the given code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var se *SourceError
		if !stderr.As(err, &se) {
			return false
		}
		if se.Code == code {
			return true
		}
		err = se.Cause
	}
	return false
}

// Serialize flattens err into fields suitable for structured logging.
func Serialize(err error) map[string]interface{} {
	if err == nil {
		return nil
	}

	out := map[string]interface{}{
		"message": err.Error(),
		"type":    fmt.Sprintf("%T", err),
	}

	var se *SourceError
	if stderr.As(err, &se) {
		out["code"] = string(se.Code)
	}

	var apiErr smithy.APIError
	if stderr.As(err, &apiErr) {
		out["api_code"] = apiErr.ErrorCode()
		out["fault"] = apiErr.ErrorFault().String()
	}

	return out
}
