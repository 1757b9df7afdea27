package domain

import (
	"errors"
	"fmt"
)

// Validation failures, detected before any storage is touched.
var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrScaleExceeded        = errors.New("amount exceeds 4 decimal places")
	ErrSameAccount          = errors.New("source and destination accounts must be different")
	ErrNonPositiveAmount    = errors.New("amount must be greater than zero")
	ErrAmountExceedsMaximum = errors.New("amount exceeds maximum transfer limit")
	ErrInvalidCurrency      = errors.New("currency must be a 3-letter ISO code")
	ErrInvalidAccountType   = errors.New("invalid account type")
)

// Business outcomes.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountInactive     = errors.New("account inactive")
	ErrCurrencyMismatch    = errors.New("cross-currency transfers are not supported")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// Transient storage conditions. Callers may retry.
var (
	ErrLockTimeout     = errors.New("lock wait timeout")
	ErrVersionConflict = errors.New("version conflict")
	ErrDuplicate       = errors.New("duplicate record")
)

// ErrInvalidTransition is the sentinel matched by InvalidTransitionError.
var ErrInvalidTransition = errors.New("invalid state transition")

// InvalidTransitionError reports a transition that is not allowed from the
// transaction's current state.
type InvalidTransitionError struct {
	From       TxStatus
	Transition Transition
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: cannot %s a %s transaction", e.Transition, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ErrorClass groups errors by how callers should react to them.
type ErrorClass string

const (
	ClassValidation ErrorClass = "validation"
	ClassBusiness   ErrorClass = "business"
	ClassTransient  ErrorClass = "transient"
	ClassInvariant  ErrorClass = "invariant"
	ClassUnknown    ErrorClass = "unknown"
)

// Classify maps err onto the error taxonomy. A nil error has no class.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrScaleExceeded),
		errors.Is(err, ErrSameAccount),
		errors.Is(err, ErrNonPositiveAmount),
		errors.Is(err, ErrAmountExceedsMaximum),
		errors.Is(err, ErrInvalidCurrency),
		errors.Is(err, ErrInvalidAccountType):
		return ClassValidation
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrAccountInactive),
		errors.Is(err, ErrCurrencyMismatch),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrTransactionNotFound):
		return ClassBusiness
	case errors.Is(err, ErrLockTimeout),
		errors.Is(err, ErrVersionConflict),
		errors.Is(err, ErrDuplicate):
		return ClassTransient
	case errors.Is(err, ErrInvalidTransition):
		return ClassInvariant
	}
	return ClassUnknown
}

// IsRetryable reports whether the same call may succeed if repeated.
func IsRetryable(err error) bool {
	return Classify(err) == ClassTransient
}
