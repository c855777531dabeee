package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorType is the machine-readable category carried by every error the
// token engine propagates.
type ErrorType string

const (
	// ErrTypeConfig covers unknown servers and invalid or incomplete configuration
	ErrTypeConfig ErrorType = "configuration"
	// ErrTypeTokenAcquisition covers network failures, rejected credentials,
	// malformed responses and exhausted retries
	ErrTypeTokenAcquisition ErrorType = "token_acquisition"
	// ErrTypeCircuitOpen is returned without I/O while a breaker is open
	ErrTypeCircuitOpen ErrorType = "circuit_open"
	// ErrTypeRateLimit is returned without I/O when the acquisition budget is spent
	ErrTypeRateLimit ErrorType = "rate_limit"
	// ErrTypeTokenValidation covers signature and claim failures
	ErrTypeTokenValidation ErrorType = "token_validation"
	// ErrTypeInternal represents internal state errors
	ErrTypeInternal ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code,omitempty"`
	RetryAfter time.Duration          `json:"retry_after,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithStatus records the HTTP status returned by the token endpoint
func (e *AppError) WithStatus(status int) *AppError {
	e.StatusCode = status
	return e
}

// WithRetryAfter records a provider-specified delay before the next attempt
func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	e.RetryAfter = d
	return e
}

// AsRetryable marks the error as transient
func (e *AppError) AsRetryable() *AppError {
	e.Retryable = true
	return e
}

// ConfigError creates a new configuration error
func ConfigError(code, msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Code:    code,
		Message: msg,
	}
}

// UnknownServerError reports a server name with no configuration
func UnknownServerError(server string) *AppError {
	return ConfigError(CodeUnknownServer, fmt.Sprintf("server %q is not configured", server)).
		WithContext("server", server)
}

// TokenAcquisitionError creates a non-retryable acquisition error
func TokenAcquisitionError(code, msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeTokenAcquisition,
		Code:    code,
		Message: msg,
		Cause:   cause,
	}
}

// TransientError creates a retryable acquisition error
func TransientError(code, msg string, cause error) *AppError {
	return TokenAcquisitionError(code, msg, cause).AsRetryable()
}

// CircuitOpenError is returned while the breaker for server rejects calls
func CircuitOpenError(server string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeCircuitOpen,
		Code:    CodeCircuitOpen,
		Message: fmt.Sprintf("circuit breaker open for %s", server),
		Cause:   cause,
		Context: map[string]interface{}{"server": server},
	}
}

// RateLimitError creates a new rate limit error
func RateLimitError(identifier string, limit int, window, retryAfter time.Duration) *AppError {
	return &AppError{
		Type:       ErrTypeRateLimit,
		Code:       CodeRateLimited,
		Message:    fmt.Sprintf("rate limit exceeded for %q: %d requests per %s", identifier, limit, window),
		RetryAfter: retryAfter,
	}
}

// TokenValidationError creates a new token validation error
func TokenValidationError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeTokenValidation,
		Code:    CodeTokenValidationFailed,
		Message: msg,
		Cause:   cause,
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Code:    CodeInternalState,
		Message: msg,
		Cause:   cause,
	}
}

// As returns the first AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr, ok := As(err)
	if !ok {
		return false
	}
	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	appErr, ok := As(err)
	if !ok {
		return ErrTypeInternal
	}

	return appErr.Type
}

// CodeOf returns the structured code of err, or "" when it has none
func CodeOf(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ""
}

// IsRetryable reports whether err is a transient failure worth another attempt
func IsRetryable(err error) bool {
	if appErr, ok := As(err); ok {
		return appErr.Retryable
	}
	return false
}

// RetryAfterOf returns the provider-specified delay carried by err, if any
func RetryAfterOf(err error) (time.Duration, bool) {
	if appErr, ok := As(err); ok && appErr.RetryAfter > 0 {
		return appErr.RetryAfter, true
	}
	return 0, false
}
