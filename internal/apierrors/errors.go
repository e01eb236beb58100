// Package apierrors implements the error taxonomy of spec.md §7: a
// small, stable set of Kinds that every control-plane operation
// returns, generalized from the teacher's internal/mediamtx/errors.go
// structured-error pattern (MediaMTXError: Code/Message/Details/Op/Time,
// Is/Unwrap).
package apierrors

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the stable, caller-actionable classification of an error.
type Kind string

const (
	KindNotFound          Kind = "NotFound"
	KindValidationError   Kind = "ValidationError"
	KindConflict          Kind = "Conflict"
	KindSourceUnreachable Kind = "SourceUnreachable"
	KindStreamUnavailable Kind = "StreamUnavailable"
	KindNegotiationFailed Kind = "NegotiationFailed"
	KindDiskExhausted     Kind = "DiskExhausted"
	KindStoreUnavailable  Kind = "StoreUnavailable"
	KindInternal          Kind = "Internal"
	KindDegraded          Kind = "Degraded"
	KindUnauthorized      Kind = "Unauthorized"
)

// Error is the engine's structured error type. It never leaks stack
// traces or internal detail in Message — that belongs in Details,
// which is only surfaced in logs (see §7: "never exposes stack or
// internals").
type Error struct {
	Kind    Kind   `json:"kind"`
	Op      string `json:"op,omitempty"`
	Message string `json:"message"`
	Details string `json:"-"`
	Time    string `json:"time"`
	cause   error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// Is compares by Kind and Op so errors.Is(err, apierrors.New(KindNotFound, "", "")) works
// as a loose "is this kind of error" check when Op is empty.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" && t.Op != e.Op {
		return false
	}
	return t.Kind == e.Kind
}

// MarshalJSON stamps the current time so serialized errors are always
// timestamped at the point of marshaling, matching MediaMTXError's
// custom marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	type Alias Error
	return json.Marshal(&struct {
		*Alias
		Time string `json:"time"`
	}{
		Alias: (*Alias)(e),
		Time:  time.Now().Format(time.RFC3339),
	})
}

// New creates a new *Error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Time: time.Now().Format(time.RFC3339)}
}

// Wrap creates a new *Error of the given kind that wraps cause. Details
// carries cause's message for logging; Message stays a short,
// caller-safe summary.
func Wrap(kind Kind, op, message string, cause error) *Error {
	e := New(kind, op, message)
	if cause != nil {
		e.Details = cause.Error()
		e.cause = cause
	}
	return e
}

// Of reports the Kind of err if it is (or wraps) an *Error, defaulting
// to KindInternal for anything else — matching §7's "fatal and
// logged-only: Internal on unknown invariant violations".
func Of(err error) Kind {
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
