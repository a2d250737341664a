package signaling

import (
	"errors"
	"fmt"
)

// Error kinds reported to the originating connection as a callError event.
// None of them is fatal to the process or to the connection.
var (
	ErrCallNotFound = errors.New("signaling: call not found")
	ErrUnauthorized = errors.New("signaling: unauthorized")
	ErrUnreachable  = errors.New("signaling: target unreachable")
	ErrMalformed    = errors.New("signaling: malformed request")
	ErrInvalidState = errors.New("signaling: call not in expected state")

	ErrStopped = errors.New("signaling: coordinator stopped")
)

// CallError carries the client-facing message together with its kind.
type CallError struct {
	Kind    error
	Message string
}

func (e *CallError) Error() string { return e.Message }

func (e *CallError) Unwrap() error { return e.Kind }

func notFound(format string, args ...any) error {
	return &CallError{Kind: ErrCallNotFound, Message: fmt.Sprintf(format, args...)}
}

func unauthorized(format string, args ...any) error {
	return &CallError{Kind: ErrUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func unreachable(format string, args ...any) error {
	return &CallError{Kind: ErrUnreachable, Message: fmt.Sprintf(format, args...)}
}

func malformed(format string, args ...any) error {
	return &CallError{Kind: ErrMalformed, Message: fmt.Sprintf(format, args...)}
}

func invalidState(format string, args ...any) error {
	return &CallError{Kind: ErrInvalidState, Message: fmt.Sprintf(format, args...)}
}

// ErrorKind returns a stable label for metrics and logs.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrCallNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	default:
		return "internal"
	}
}

// clientMessage returns the text sent in callError. Non-CallError values are
// never surfaced verbatim.
func clientMessage(err error) string {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Message
	}
	return "Internal error"
}
