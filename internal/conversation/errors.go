// ABOUTME: Validation errors surfaced by the message mutation pipeline
// ABOUTME: Callers match with errors.As for the type or errors.Is for the reason

package conversation

import "errors"

// Validation failure reasons
var (
	ErrSelfMessage      = errors.New("self-messaging not permitted")
	ErrUnknownRecipient = errors.New("recipient does not exist")
	ErrEmptyContent     = errors.New("message content is empty")
	ErrContentTooLong   = errors.New("message content is too long")
)

// ValidationError reports a send request that can never succeed as given.
// It is returned to the caller and must not be retried.
type ValidationError struct {
	Reason error
}

func (e *ValidationError) Error() string {
	return e.Reason.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Reason
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(reason error) error {
	return &ValidationError{Reason: reason}
}
