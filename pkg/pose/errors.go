package pose

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrEmptyFrame is returned when a frame carries no image data.
	ErrEmptyFrame = errors.New("pose: empty frame")

	// ErrClosed is returned when estimating with a closed estimator.
	ErrClosed = errors.New("pose: estimator closed")

	// ErrMalformedResponse is returned when a backend answers with unusable data.
	ErrMalformedResponse = errors.New("pose: malformed response")
)

// EstimateError wraps a backend failure with the backend name.
type EstimateError struct {
	Backend string
	Err     error
}

// Error implements the error interface.
func (e *EstimateError) Error() string {
	return fmt.Sprintf("pose [%s]: %v", e.Backend, e.Err)
}

// Unwrap returns the underlying error.
func (e *EstimateError) Unwrap() error {
	return e.Err
}

// WrapError wraps err with backend context. A nil err stays nil.
func WrapError(backend string, err error) error {
	if err == nil {
		return nil
	}
	return &EstimateError{Backend: backend, Err: err}
}
