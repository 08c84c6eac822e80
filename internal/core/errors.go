package core

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by services and handlers. Wrap with %w and test with
// errors.Is; handlers map each sentinel to one status code.
var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not found")
	ErrInvalidState   = errors.New("invalid state")
	ErrUpstream       = errors.New("upstream failure")
	ErrPartialFailure = errors.New("partial failure")
)

// InvalidState names the violated precondition.
func InvalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// NotFound names the missing record kind.
func NotFound(kind string) error {
	return fmt.Errorf("%s %w", kind, ErrNotFound)
}

// Upstream classifies a failed call to an external collaborator.
func Upstream(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUpstream, op, err)
}
