package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shiva/traits/internal/repository"
)

// ─── Error taxonomy ─────────────────────────────────────────

// Kind classifies every error the engine reports to callers.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindDuplicateKey
	KindInvalidArgument
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindDuplicateKey:
		return "duplicate_key"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicateKey    = errors.New("duplicate key")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
)

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindDuplicateKey:
		return ErrDuplicateKey
	case KindInvalidArgument:
		return ErrInvalidArgument
	case KindConflict:
		return ErrConflict
	}
	return nil
}

// Error is the engine's error value. errors.Is matches it against the
// sentinel of its Kind as well as the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() []error {
	var out []error
	if s := e.Kind.sentinel(); s != nil {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindOf returns the taxonomy kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func notFound(op, format string, args ...interface{}) error {
	return newError(KindNotFound, op, format, args...)
}

func duplicate(op, format string, args ...interface{}) error {
	return newError(KindDuplicateKey, op, format, args...)
}

func invalid(op, format string, args ...interface{}) error {
	return newError(KindInvalidArgument, op, format, args...)
}

func conflict(op, format string, args ...interface{}) error {
	return newError(KindConflict, op, format, args...)
}

// classifyError maps storage errors into the taxonomy. Errors that are
// already classified pass through unchanged.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}

	switch {
	case errors.Is(err, repository.ErrNotFound):
		return &Error{Kind: KindNotFound, Op: op, Err: err}
	case errors.Is(err, repository.ErrDuplicate):
		return &Error{Kind: KindDuplicateKey, Op: op, Err: err}
	case errors.Is(err, repository.ErrConflict):
		return &Error{Kind: KindConflict, Op: op, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		// Lock wait ran past the transaction deadline.
		return &Error{Kind: KindConflict, Op: op, Msg: "timed out waiting for a lock", Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
