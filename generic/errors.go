/*
errors.go - Centralized error types for the absence engine

PURPOSE:
  All error kinds in one place. Callers match them with errors.Is / errors.As;
  the api package maps them to HTTP status codes in a single function.

ERROR CATEGORIES:
  1. Lookup errors - NotFound
  2. Input errors - InvalidDateRange, MissingReason, InvalidPolicy, ...
  3. State errors - InvalidTransition, Forbidden, InsufficientBalance, PolicyInUse

USAGE:
  if errors.Is(err, generic.ErrInsufficientBalance) {
      var ib *generic.InsufficientBalanceError
      errors.As(err, &ib)
  }

SEE ALSO:
  - ledger.go: InsufficientBalanceError
  - request.go: TransitionError
  - api/errors.go: HTTP mapping
*/
package generic

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced policy, balance or request
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidDateRange is returned when a request ends before it starts.
	ErrInvalidDateRange = errors.New("invalid date range: end before start")

	// ErrMissingReason is returned when a request has no (non-blank) reason.
	ErrMissingReason = errors.New("reason is required")

	// ErrInvalidTransition is returned when a request is not in a state that
	// allows the attempted operation.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrForbidden is returned when the caller does not own the request.
	ErrForbidden = errors.New("forbidden")

	// ErrInsufficientBalance is returned when a debit would take a balance
	// below zero under a policy that does not allow it.
	ErrInsufficientBalance = errors.New("insufficient balance")

	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidPolicy   = errors.New("invalid policy")
	ErrPolicyInUse     = errors.New("policy is referenced by balances or requests")
	ErrInvalidDecision = errors.New("decision must be approved or rejected")
	ErrInvalidAmount   = errors.New("amount must be positive")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names what was missing.
type NotFoundError struct {
	Kind string // "policy", "balance", "request"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NotFound builds a *NotFoundError; stores use it for missing rows.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	EmployeeID EmployeeID
	PolicyID   PolicyID
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s, shortfall %s",
		e.Available, e.Requested, e.Shortfall())
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// TransitionError reports a rejected state change.
type TransitionError struct {
	RequestID RequestID
	From      RequestStatus
	To        RequestStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("request %s: cannot move from %s to %s", e.RequestID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidDateRange) ||
		errors.Is(err, ErrMissingReason) ||
		errors.Is(err, ErrInvalidPolicy) ||
		errors.Is(err, ErrInvalidDecision) ||
		errors.Is(err, ErrInvalidAmount)
}

// IsConflict returns true if the error means the target is in the wrong state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrPolicyInUse)
}
