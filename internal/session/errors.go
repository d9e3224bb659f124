package session

import "github.com/pkg/errors"

var (
	ErrDuplicateName     = errors.New("user name is already in use")
	ErrAlreadyRegistered = errors.New("connection is already registered")
	ErrInvalidName       = errors.New("user name is invalid")

	ErrNotRegistered = errors.New("connection is not registered")
	ErrNotInGroup    = errors.New("connection has not joined any group")
	ErrInvalidGroup  = errors.New("group name is invalid")
	ErrInvalidFile   = errors.New("file name is invalid")

	ErrRecipientGone = errors.New("recipient is no longer connected")
)

// IsValidation reports whether err rejects the caller's input without any
// state change. These are reported with a dedicated failure event.
func IsValidation(err error) bool {
	return errors.Is(err, ErrDuplicateName) ||
		errors.Is(err, ErrAlreadyRegistered) ||
		errors.Is(err, ErrInvalidName)
}

// IsPrecondition reports whether err means the caller is not in the state the
// command requires.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrNotRegistered) ||
		errors.Is(err, ErrNotInGroup) ||
		errors.Is(err, ErrInvalidGroup) ||
		errors.Is(err, ErrInvalidFile)
}

// IsNotFound reports whether err refers to a target that vanished.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecipientGone)
}
