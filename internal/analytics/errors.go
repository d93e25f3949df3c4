package analytics

import (
	"errors"
	"fmt"
)

// ValidationError reports a rejected query parameter. Requests failing
// validation never reach the event store.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

var (
	// ErrNotFound is returned when a campaign does not belong to the tenant.
	ErrNotFound = errors.New("not found")

	// ErrTimeout is returned when the caller's deadline expires or the
	// request is cancelled while aggregate queries are running.
	ErrTimeout = errors.New("request timeout")
)

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
