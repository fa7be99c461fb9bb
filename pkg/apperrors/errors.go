package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrQueueFull = errors.New("queue full")
	ErrInternal  = errors.New("internal error")
)

// Kind discriminates errors surfaced to callers of the ANI core.
type Kind string

const (
	KindBadRequest Kind = "bad_request"
	KindQueueFull  Kind = "queue_full"
	KindNotFound   Kind = "not_found"
	KindInternal   Kind = "internal"
)

// Error is a discriminated failure carrying a short human-readable reason.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind-level sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrQueueFull:
		return e.Kind == KindQueueFull
	case ErrInternal:
		return e.Kind == KindInternal
	}
	return false
}

// BadRequest returns a validation failure.
func BadRequest(format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}

// QueueFull returns an admission rejection.
func QueueFull(format string, args ...any) *Error {
	return &Error{Kind: KindQueueFull, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a missing-or-deleted job error.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure. The message is shown to callers, err is not.
func Internal(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
// Errors without a kind are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the caller-facing message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
