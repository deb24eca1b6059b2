package reservation

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure. Callers map it to a transport status.
type Kind uint8

const (
	KindInvalid Kind = iota + 1
	KindNotFound
	KindConflict
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

func parseKind(s string) Kind {
	switch s {
	case "invalid":
		return KindInvalid
	case "not_found":
		return KindNotFound
	case "conflict":
		return KindConflict
	case "transient":
		return KindTransient
	default:
		return 0
	}
}

var (
	ErrInvalid   = errors.New("invalid request")
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrTransient = errors.New("transient storage failure")
)

// ErrSlotTaken is returned by a Store when inserting an appointment violates
// the one-active-appointment-per-slot constraint.
var ErrSlotTaken = errors.New("slot already has an active appointment")

// Error is a classified engine failure. Message is safe to show to end users.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalid:
		return e.Kind == KindInvalid
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConflict:
		return e.Kind == KindConflict
	case ErrTransient:
		return e.Kind == KindTransient
	}
	return false
}

// replayable reports whether the failure was decided before any write, so the
// same outcome can be stored against an idempotency key.
func (e *Error) replayable() bool {
	if e.Kind != KindNotFound && e.Kind != KindConflict {
		return false
	}
	return !errors.Is(e.Err, ErrSlotTaken)
}

func invalid(msg string) *Error  { return &Error{Kind: KindInvalid, Message: msg} }
func notFound(msg string) *Error { return &Error{Kind: KindNotFound, Message: msg} }
func conflict(msg string) *Error { return &Error{Kind: KindConflict, Message: msg} }

const msgTransient = "Conflito de concorrência, tente novamente"

// storeErr classifies an error coming back from the Store. Retryable storage
// failures become KindTransient; everything else is returned wrapped.
func storeErr(op string, err error) error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, ErrTransient) {
		return &Error{Kind: KindTransient, Message: msgTransient, Err: fmt.Errorf("%s: %w", op, err)}
	}
	return fmt.Errorf("%s: %w", op, err)
}
