// Package apperr defines the error kinds returned by the service layer.
//
// Validation outcomes (NotFound, Unauthorized, Conflict, CapacityExceeded, Invalid) are expected
// control flow and are returned as values. Upstream and LockTimeout wrap infrastructure failures and
// are never retried by the services.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindUnauthorized
	KindConflict
	KindCapacityExceeded
	KindLockTimeout
	KindUpstream
	KindDecode
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	case KindCapacityExceeded:
		return "capacity_exceeded"
	case KindLockTimeout:
		return "lock_timeout"
	case KindUpstream:
		return "upstream_failure"
	case KindDecode:
		return "decode_error"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Error is a classified error with an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrConflict) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrUnauthorized     = &Error{Kind: KindUnauthorized}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrCapacityExceeded = &Error{Kind: KindCapacityExceeded}
	ErrLockTimeout      = &Error{Kind: KindLockTimeout}
	ErrUpstream         = &Error{Kind: KindUpstream}
	ErrDecode           = &Error{Kind: KindDecode}
	ErrInvalid          = &Error{Kind: KindInvalid}
)

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(format string, args ...any) *Error { return New(KindNotFound, format, args...) }

func Unauthorized(format string, args ...any) *Error {
	return New(KindUnauthorized, format, args...)
}

func Conflict(format string, args ...any) *Error { return New(KindConflict, format, args...) }

func CapacityExceeded(format string, args ...any) *Error {
	return New(KindCapacityExceeded, format, args...)
}

func Invalid(format string, args ...any) *Error { return New(KindInvalid, format, args...) }

// Upstream wraps a Docker, console or filesystem failure. A nil err yields nil.
func Upstream(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) && ae.Kind != KindUnknown {
		// Already classified further down; keep the original kind.
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
	}
	return Wrap(KindUpstream, err, format, args...)
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}
