package domain

import "errors"

// ValidationError is a business-rule violation. The operation that returned it
// left no partial mutation behind.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ConflictError signals that an operation lost a race or ran out of retries.
// Callers may retry the whole operation.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

var (
	ErrIllegalTransition = &ValidationError{Reason: "illegal transition"}
	ErrBelowSoldCount    = &ValidationError{Reason: "target quantity below sold count"}
	ErrPlaceholderExists = &ValidationError{Reason: "untracked product already has a placeholder unit"}
	ErrInvalidQuantity   = &ValidationError{Reason: "invalid quantity"}
	ErrInvalidAdjustment = &ValidationError{Reason: "unknown adjustment type"}
	ErrPurchaseNotDraft  = &ValidationError{Reason: "purchase is not a draft"}
	ErrUnknownTag        = &ValidationError{Reason: "unknown tag"}

	ErrCodeExhausted = &ConflictError{Reason: "identifier uniqueness exhausted"}
)

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrPurchaseNotFound = errors.New("purchase not found")
	ErrLineNotFound     = errors.New("purchase line not found")
	ErrUnitNotFound     = errors.New("unit not found")
)
