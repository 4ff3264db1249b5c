package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors. Typed errors below unwrap to one of these.
var (
	ErrNotFound             = errors.New("not found")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrInvalidCode          = errors.New("invalid confirmation code")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrValidation           = errors.New("validation failed")
)

// NotFoundError reports an unknown entity id.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientQuantityError reports a reservation larger than what is available.
type InsufficientQuantityError struct {
	ParentID  string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("insufficient quantity on %s: have %s, need %s",
		e.ParentID, e.Available.String(), e.Requested.String())
}

func (e *InsufficientQuantityError) Unwrap() error { return ErrInsufficientQuantity }

// TransitionError reports an operation the entity's current state does not permit.
type TransitionError struct {
	Entity string
	ID     string
	From   string
	Op     string
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("cannot %s %s %s in state %s", e.Op, e.Entity, e.ID, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// IsExpected reports whether err is a routine, user-recoverable failure
// (wrong code, not enough quantity, bad input) rather than an integrity problem.
func IsExpected(err error) bool {
	return errors.Is(err, ErrInsufficientQuantity) ||
		errors.Is(err, ErrInvalidCode) ||
		errors.Is(err, ErrValidation)
}
