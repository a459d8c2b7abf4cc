// Package catalog provides a Go client for the Coreason Catalog API.
package catalog

import (
	"errors"
	"fmt"
)

// Error represents an error from the catalog API with the HTTP status code
// and the server's error detail.
type Error struct {
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("catalog: %d: %s", e.StatusCode, e.Detail)
}

// IsInvalid returns true if the error is a 422 (rejected request).
func IsInvalid(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 422
	}
	return false
}

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 429
	}
	return false
}
