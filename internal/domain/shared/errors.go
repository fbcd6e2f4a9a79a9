package shared

import (
	"errors"
	"fmt"
)

// Error codes shared by every layer. The HTTP layer maps them to status codes.
const (
	CodeConfiguration  = "CONFIGURATION_ERROR"
	CodeAuthentication = "AUTHENTICATION_ERROR"
	CodeCsrf           = "CSRF_ERROR"
	CodeValidation     = "VALIDATION_ERROR"
	CodeRemoteAPI      = "REMOTE_API_ERROR"
	CodeTimeout        = "TIMEOUT"
	CodeConflict       = "CONFLICT"
	CodeNotFound       = "NOT_FOUND"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	cause   error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any
func (e *DomainError) Unwrap() error {
	return e.cause
}

// Is reports whether target is a DomainError carrying the same code, so that
// errors.Is(err, shared.ErrTimeout) matches any timeout regardless of message.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WrapDomainError creates a domain error that keeps cause in its chain
func WrapDomainError(code, message string, cause error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common domain errors
var (
	ErrConfiguration  = NewDomainError(CodeConfiguration, "ERP credentials are missing or invalid")
	ErrAuthentication = NewDomainError(CodeAuthentication, "ERP authentication failed")
	ErrCsrf           = NewDomainError(CodeCsrf, "Authorization state is invalid or already used")
	ErrValidation     = NewDomainError(CodeValidation, "Invalid input provided")
	ErrRemoteAPI      = NewDomainError(CodeRemoteAPI, "ERP request failed")
	ErrTimeout        = NewDomainError(CodeTimeout, "Deadline exceeded")
	ErrConflict       = NewDomainError(CodeConflict, "Resource already exists")
	ErrNotFound       = NewDomainError(CodeNotFound, "Resource not found")
)

// ConfigurationError reports missing or invalid ERP credentials
func ConfigurationError(message string) *DomainError {
	return NewDomainError(CodeConfiguration, message)
}

// AuthenticationError reports a missing or rejected refresh token
func AuthenticationError(message string, cause error) *DomainError {
	return WrapDomainError(CodeAuthentication, message, cause)
}

// CsrfError reports an unknown or consumed authorization nonce
func CsrfError(message string) *DomainError {
	return NewDomainError(CodeCsrf, message)
}

// ValidationError reports input that cannot be processed
func ValidationError(message string) *DomainError {
	return NewDomainError(CodeValidation, message)
}

// TimeoutError reports an outbound call that hit its deadline
func TimeoutError(operation string, cause error) *DomainError {
	return WrapDomainError(CodeTimeout, operation+" timed out", cause)
}

// ConflictError reports a uniqueness violation
func ConflictError(message string) *DomainError {
	return NewDomainError(CodeConflict, message)
}

// NotFoundError reports a missing local or remote resource
func NotFoundError(message string) *DomainError {
	return NewDomainError(CodeNotFound, message)
}

// RemoteAPIError is a non-success HTTP response from the ERP.
type RemoteAPIError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("%s: ERP responded with status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Is matches ErrRemoteAPI and any other RemoteAPIError.
func (e *RemoteAPIError) Is(target error) bool {
	if _, ok := target.(*RemoteAPIError); ok {
		return true
	}
	var t *DomainError
	return errors.As(target, &t) && t.Code == CodeRemoteAPI
}

// NewRemoteAPIError creates a RemoteAPIError
func NewRemoteAPIError(operation string, statusCode int, body string) *RemoteAPIError {
	return &RemoteAPIError{Operation: operation, StatusCode: statusCode, Body: body}
}

// ErrorCode extracts the domain code of err, or "" when err carries none. A
// DomainError wrapping a RemoteAPIError reports its own code.
func ErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	var remote *RemoteAPIError
	if errors.As(err, &remote) {
		return CodeRemoteAPI
	}
	return ""
}
