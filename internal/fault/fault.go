// SPDX-License-Identifier: MIT

// Package fault defines the typed error kinds shared by every component.
// A Fault carries a kind (how callers must react), a stable machine code
// (what happened), and a human-readable message. Transient faults may be
// retried; validation, not_found, conflict, unauthorized and locked are
// caller errors and never retried; fatal faults initiate shutdown.
package fault

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a fault for the caller.
type Kind string

const (
	Validation     Kind = "validation"
	NotFound       Kind = "not_found"
	Conflict       Kind = "conflict"
	Unauthorized   Kind = "unauthorized"
	Locked         Kind = "locked"
	Transient      Kind = "transient"
	BusUnavailable Kind = "bus_unavailable"
	Fatal          Kind = "fatal"
)

// Fault is the concrete error type behind every typed error in the server.
type Fault struct {
	Kind    Kind
	Code    string
	Message string

	// RetryAfter is set for Locked faults: how long until the caller may retry.
	RetryAfter time.Duration

	cause error
}

func (f *Fault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", f.Kind, f.Code, f.Message, f.cause)
	}
	return fmt.Sprintf("%s (%s): %s", f.Kind, f.Code, f.Message)
}

func (f *Fault) Unwrap() error { return f.cause }

// Is matches another *Fault by kind, and by code when the target names one.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	if !ok {
		return false
	}
	if t.Kind != f.Kind {
		return false
	}
	return t.Code == "" || t.Code == f.Code
}

// New creates a fault with no wrapped cause.
func New(kind Kind, code, message string) *Fault {
	return &Fault{Kind: kind, Code: code, Message: message}
}

// Newf creates a fault with a formatted message.
func Newf(kind Kind, code, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a fault wrapping an underlying cause.
func Wrap(kind Kind, code, message string, err error) *Fault {
	return &Fault{Kind: kind, Code: code, Message: message, cause: err}
}

// LockedFor creates a locked fault carrying the remaining lockout duration.
func LockedFor(code, message string, remaining time.Duration) *Fault {
	return &Fault{Kind: Locked, Code: code, Message: message, RetryAfter: remaining}
}

// KindOf walks the error chain and returns the kind of the outermost fault,
// or the empty kind when err carries no fault.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// CodeOf returns the stable machine code of the outermost fault, or "".
func CodeOf(err error) string {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return ""
}

// IsKind reports whether err carries a fault of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsTransient reports whether err may be retried with backoff.
func IsTransient(err error) bool {
	return IsKind(err, Transient)
}

// RetryAfterOf returns the remaining lockout duration of a locked fault.
func RetryAfterOf(err error) (time.Duration, bool) {
	var f *Fault
	if errors.As(err, &f) && f.Kind == Locked {
		return f.RetryAfter, true
	}
	return 0, false
}
