package engine

import (
	"errors"
	"fmt"
	"strings"

	"gateline/internal/engine/auth"
	"gateline/internal/repo"
)

// Kind classifies engine failures.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindUnauthorized
	KindInvalidState
	KindGateNotSatisfied
	KindValidation
	KindStoreUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalidState:
		return "invalid_state"
	case KindGateNotSatisfied:
		return "gate_not_satisfied"
	case KindValidation:
		return "validation"
	case KindStoreUnavailable:
		return "store_unavailable"
	}
	return "internal"
}

// Error is returned by every engine operation that fails.
type Error struct {
	Kind  Kind
	Op    string
	Msg   string
	Unmet []string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Msg != "":
		b.WriteString(e.Msg)
	case e.Err != nil:
		b.WriteString(e.Err.Error())
		return b.String()
	default:
		b.WriteString(strings.ReplaceAll(e.Kind.String(), "_", " "))
	}
	if len(e.Unmet) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Unmet, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any engine error of the same kind, so errors.Is(err, ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrUnauthorized     = &Error{Kind: KindUnauthorized}
	ErrInvalidState     = &Error{Kind: KindInvalidState}
	ErrGateNotSatisfied = &Error{Kind: KindGateNotSatisfied}
	ErrValidation       = &Error{Kind: KindValidation}
	ErrStoreUnavailable = &Error{Kind: KindStoreUnavailable}
)

// KindOf returns the kind of an engine error, KindInternal for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// UnmetRequirements returns the gate failures carried by err, if any.
func UnmetRequirements(err error) []string {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindGateNotSatisfied {
		return e.Unmet
	}
	return nil
}

func notFound(op, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func invalidState(op, format string, args ...any) error {
	return &Error{Kind: KindInvalidState, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func gateNotSatisfied(op string, unmet []string) error {
	return &Error{Kind: KindGateNotSatisfied, Op: op, Msg: "gate not satisfied", Unmet: unmet}
}

func unauthorized(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindUnauthorized, Op: op, Err: err}
}

// classify maps a storage or auth failure onto the engine taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *Error
	if errors.As(err, &ee) {
		return err
	}
	var fe auth.ForbiddenError
	switch {
	case errors.As(err, &fe):
		return &Error{Kind: KindUnauthorized, Op: op, Err: err}
	case errors.Is(err, repo.ErrNotFound):
		return &Error{Kind: KindNotFound, Op: op, Err: err}
	case errors.Is(err, repo.ErrConflict):
		return &Error{Kind: KindInvalidState, Op: op, Msg: "concurrent update or duplicate record", Err: err}
	}
	// Timeouts, busy locks and driver failures.
	return &Error{Kind: KindStoreUnavailable, Op: op, Err: err}
}
