package chat

import "errors"

var (
	// ErrAuthentication ends a connection attempt. See AuthError for the
	// reason sent to the client.
	ErrAuthentication = errors.New("authentication failed")

	// ErrAuthorization is returned when an event targets a user or group the
	// sender has no relationship with. The event is dropped.
	ErrAuthorization = errors.New("not authorized")

	// ErrMalformedEvent is returned for unknown events or payloads missing
	// required fields. The event is dropped.
	ErrMalformedEvent = errors.New("malformed event")

	ErrRateLimited = errors.New("rate limit exceeded")

	ErrNotFriends        = errors.New("you can only message friends")
	ErrContentRequired   = errors.New("content and recipient are required")
	ErrRecipientRequired = errors.New("recipient ID is required")
	ErrContentTooLong    = errors.New("message content is too long")
	ErrMessageNotFound   = errors.New("message not found")
)

// Handshake rejection reasons, part of the client contract.
const (
	ReasonNoToken      = "No token provided"
	ReasonInvalidToken = "Invalid token"
	ReasonAuthError    = "Authentication error"
)

type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *AuthError) Is(target error) bool {
	return target == ErrAuthentication
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
