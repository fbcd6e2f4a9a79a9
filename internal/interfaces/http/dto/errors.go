package dto

import (
	"net/http"

	"github.com/erp/nfse-bridge/internal/domain/shared"
)

// Error codes of the HTTP layer. Domain codes are passed through unchanged.
const (
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "INTERNAL_ERROR"
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "BAD_REQUEST"
	// ErrCodeUnauthorized is used when the operator bearer token is missing or invalid
	ErrCodeUnauthorized = "UNAUTHORIZED"
	// ErrCodeRequestTooLarge is used when the body exceeds the limit
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"

	// ErrCodeValidation mirrors the domain validation code
	ErrCodeValidation = shared.CodeValidation
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	shared.CodeConfiguration:  http.StatusPreconditionFailed,
	shared.CodeAuthentication: http.StatusUnauthorized,
	shared.CodeCsrf:           http.StatusForbidden,
	shared.CodeValidation:     http.StatusUnprocessableEntity,
	shared.CodeRemoteAPI:      http.StatusBadGateway,
	shared.CodeTimeout:        http.StatusGatewayTimeout,
	shared.CodeConflict:       http.StatusConflict,
	shared.CodeNotFound:       http.StatusNotFound,

	ErrCodeInternal:        http.StatusInternalServerError,
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeUnauthorized:    http.StatusUnauthorized,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
