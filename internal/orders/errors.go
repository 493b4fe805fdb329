package orders

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindExpired           Kind = "expired"
	KindInsufficientStock Kind = "insufficient_stock"
	KindInvalidState      Kind = "invalid_state"
	KindConflict          Kind = "conflict"
	KindTimeout           Kind = "timeout"
	KindValidation        Kind = "validation"
)

// Error is a rejected operation. Resource and ID name the offending item or order.
type Error struct {
	Kind     Kind
	Resource string
	ID       string
	Msg      string
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %s", e.Resource, e.ID, e.Kind)
	}
	return string(e.Kind)
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrExpired) works
// regardless of which item expired.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrExpired           = &Error{Kind: KindExpired}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrValidation        = &Error{Kind: KindValidation}
)

func ItemNotFound(id string) error {
	return &Error{Kind: KindNotFound, Resource: "item", ID: id, Msg: "item not found: " + id}
}

func OrderNotFound(id string) error {
	return &Error{Kind: KindNotFound, Resource: "order", ID: id, Msg: "order not found: " + id}
}

func ItemExpired(id string) error {
	return &Error{Kind: KindExpired, Resource: "item", ID: id, Msg: "item expired: " + id}
}

func InsufficientStock(id string, want, have int) error {
	return &Error{
		Kind: KindInsufficientStock, Resource: "item", ID: id,
		Msg: fmt.Sprintf("insufficient stock for item %s: requested %d, available %d", id, want, have),
	}
}

func InvalidState(id string, s Status) error {
	return &Error{
		Kind: KindInvalidState, Resource: "order", ID: id,
		Msg: fmt.Sprintf("order %s is %s; only pending orders can be changed", id, s),
	}
}

func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

func Timeout(format string, args ...any) error {
	return &Error{Kind: KindTimeout, Msg: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the caller may safely retry the whole operation.
func Retryable(err error) bool {
	k := KindOf(err)
	return k == KindConflict || k == KindTimeout
}
