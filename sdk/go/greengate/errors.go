// Package greengate provides a Go client for the GreenGate compliance
// screening API.
package greengate

import (
	"errors"
	"fmt"
)

// Error represents an error from the GreenGate API with the HTTP status
// code and the server's error message.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Detail     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("greengate: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 404
	}
	return false
}

// IsInvalidGeometry returns true if the server rejected the submitted
// parcel geometry.
func IsInvalidGeometry(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == "invalid_geometry"
	}
	return false
}

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 401
	}
	return false
}

// IsQuotaExceeded returns true if the monthly plan quota is exhausted.
func IsQuotaExceeded(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == "quota_exceeded"
	}
	return false
}

// IsRateLimited returns true if the error is a 429 (Too Many Requests),
// whether from the sliding window or the plan quota.
func IsRateLimited(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 429
	}
	return false
}

// IsExpired returns true if the referenced report is past its
// verification window (410).
func IsExpired(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 410
	}
	return false
}
