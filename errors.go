package roomcast

import (
	"fmt"
)

// Kind classifies a failure so clients and operators can react to it
// without parsing the message text.
type Kind string

const (
	KindCapacityExceeded Kind = "capacity-exceeded"
	KindUnknownSession   Kind = "unknown-session"
	KindStaleSession     Kind = "stale-session"
	KindInvalidPayload   Kind = "invalid-payload"
	KindHandlerTimeout   Kind = "handler-timeout"
	KindDeliveryFailure  Kind = "delivery-failure"
)

// Error carries a machine-readable kind alongside a human-readable message.
// It is the value sent to the originating client on an "error" envelope.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// Sentinel values for errors.Is comparisons. Two *Error values match when
// their kinds match, regardless of message.
var (
	ErrCapacityExceeded = &Error{Kind: KindCapacityExceeded, Message: "session capacity reached"}
	ErrUnknownSession   = &Error{Kind: KindUnknownSession, Message: "session does not exist"}
	ErrStaleSession     = &Error{Kind: KindStaleSession, Message: "session is not open"}
	ErrInvalidPayload   = &Error{Kind: KindInvalidPayload, Message: "payload rejected"}
	ErrHandlerTimeout   = &Error{Kind: KindHandlerTimeout, Message: "handler deadline exceeded"}
	ErrDeliveryFailure  = &Error{Kind: KindDeliveryFailure, Message: "recipient unreachable"}
)

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches on kind so wrapped and formatted errors still compare against
// the sentinels above.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapError(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: err}
}
