package service

import "errors"

var (
	// ErrNotFound is returned by repositories when no row matches.
	ErrNotFound = errors.New("service: not found")

	// ErrRejected signals an illegal RTMP state transition; the media server
	// receives a rejection code.
	ErrRejected = errors.New("service: publish rejected")
)

// ValidationError marks input that can never succeed. The consumer acks and
// drops such envelopes instead of retrying them.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

func Invalid(reason string) error { return &ValidationError{Reason: reason} }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
