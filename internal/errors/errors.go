package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Error is a structured error with a stable code and an optional
// remediation hint. It is the payload shape CLI and tool callers receive.
type Error struct {
	Code        Kind   `json:"code"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
	Err         error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches two structured errors by Kind so sentinel comparison works.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// JSON renders the error as a structured payload for --json output.
func (e *Error) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// New creates a structured error.
func New(kind Kind, message string) *Error {
	return &Error{Code: kind, Message: message}
}

// Newf creates a structured error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Code: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error.
// Wrapping a context cancellation always yields KindCancelled. A
// deadline expiry keeps the caller's kind: only the caller knows
// whether it was a request timeout or an aborted phase.
func Wrap(kind Kind, message string, err error) *Error {
	if err != nil && errors.Is(err, context.Canceled) {
		kind = KindCancelled
	}
	return &Error{Code: kind, Message: message, Err: err}
}

// WithRemediation returns a copy carrying an operator hint.
func (e *Error) WithRemediation(hint string) *Error {
	dup := *e
	dup.Remediation = hint
	return &dup
}

// KindOf extracts the Kind from any error. A structured error's own
// code wins over context sentinels in its chain, so a classified
// backend timeout stays a timeout. Plain errors map to KindInternal;
// bare context cancellations map to KindCancelled.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsCancelled reports whether err is a cooperative cancellation.
// Cancellation is a successful abort, never surfaced as a failure.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}

// As is a re-export so callers don't need both error packages.
func As(err error, target any) bool { return errors.As(err, target) }

// Is is a re-export so callers don't need both error packages.
func Is(err, target error) bool { return errors.Is(err, target) }
