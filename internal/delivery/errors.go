package delivery

import (
	"errors"
	"fmt"
)

// codeRecipientNotAllowed is the channel error code returned when the
// recipient's number is not on the account's allowed list. An operator has
// to allow-list the recipient out of band; retrying cannot help.
const codeRecipientNotAllowed = 131030

// ErrRecipientNotPermitted marks a non-retryable delivery rejection.
var ErrRecipientNotPermitted = errors.New("delivery: recipient not permitted")

// APIError captures a non-2xx response from the channel API with its
// status and channel-specific error code.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("delivery: channel API status %d (code %d): %s", e.StatusCode, e.Code, e.Message)
}

// Retryable reports whether the error is a server-side failure worth
// retrying.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500
}
