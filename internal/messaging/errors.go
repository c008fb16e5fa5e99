package messaging

import "errors"

var (
	// ErrValidation means the input shape or length is wrong. Always
	// user-correctable.
	ErrValidation = errors.New("invalid input")

	// ErrForbidden means the requester is not a participant. Reported as a
	// generic forbidden so it never leaks whether the resource exists.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound means the thread or message does not exist.
	ErrNotFound = errors.New("not found")
)
