package provider

import (
	"errors"
	"fmt"
)

// Sentinel errors for the gateway's error taxonomy. Adapters wrap these in
// *Error; callers check with errors.Is(err, provider.ErrNotFound).
var (
	ErrBadRequest          = errors.New("provider: bad request")
	ErrMissingParameter    = errors.New("provider: missing parameter")
	ErrMissingCredentials  = errors.New("provider: missing provider credentials")
	ErrInvalidCredentials  = errors.New("provider: invalid provider credentials")
	ErrNotFound            = errors.New("provider: not found")
	ErrFileExists          = errors.New("provider: file exists")
	ErrNotImplemented      = errors.New("provider: not implemented")
	ErrProviderInteraction = errors.New("provider: provider interaction failed")
)

// Error carries a taxonomy sentinel plus a human-readable message and,
// for upstream failures, the causing error. The HTTP boundary maps the
// sentinel to a status code and reason tag.
type Error struct {
	Kind    error // taxonomy sentinel, for errors.Is()
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// NewError wraps a taxonomy sentinel with a message.
func NewError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf wraps a taxonomy sentinel with a formatted message.
func Errorf(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps an upstream cause under a taxonomy sentinel, preserving
// the upstream's own message for the response body.
func WrapError(kind error, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}
