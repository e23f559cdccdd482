package rest

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the backend, carrying the error
// envelope's code and message when the body had one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("backend %d: %s", e.StatusCode, e.Message)
}

// IsConflict reports whether err is an already-exists conflict (HTTP 409).
// Duplicate conversation creation is resolved by lookup, not surfaced.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// IsAuthError reports whether err means the bearer token was rejected.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
