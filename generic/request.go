/*
request.go - Leave request and its state machine

PURPOSE:
  A Request asks for a contiguous range of calendar days under one policy.
  It starts Pending and ends in exactly one terminal state.

STATE MACHINE:
  ┌─────────────────────────────────────────────────────────┐
  │                                                         │
  │              review(approved)   ┌──────────┐            │
  │           ┌──────────────────▶ │ Approved │ (debits)    │
  │           │                     └──────────┘            │
  │  ┌─────────┐ review(rejected)   ┌──────────┐            │
  │  │ Pending │─────────────────▶ │ Rejected │            │
  │  └─────────┘                    └──────────┘            │
  │           │  cancel(owner)      ┌───────────┐           │
  │           └──────────────────▶ │ Cancelled │           │
  │                                 └───────────┘           │
  │                                                         │
  └─────────────────────────────────────────────────────────┘

  Approved, Rejected and Cancelled are terminal. Any operation on a
  terminal request fails with ErrInvalidTransition.

SEE ALSO:
  - leave/workflow.go: Submit, Cancel, Review
  - ledger.go: balance effects of approval
*/
package generic

import (
	"time"
)

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestApproved  RequestStatus = "approved"
	RequestRejected  RequestStatus = "rejected"
	RequestCancelled RequestStatus = "cancelled"
)

func (s RequestStatus) IsTerminal() bool {
	return s == RequestApproved || s == RequestRejected || s == RequestCancelled
}

func (s RequestStatus) Valid() bool {
	return s == RequestPending || s.IsTerminal()
}

// CanTransitionTo reports whether the state machine permits s -> next.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	return s == RequestPending && next.IsTerminal()
}

// =============================================================================
// REQUEST
// =============================================================================

type Request struct {
	ID            RequestID
	EmployeeID    EmployeeID
	PolicyID      PolicyID
	StartDate     Date
	EndDate       Date
	RequestedDays int
	Reason        string
	Status        RequestStatus

	// Review tracking
	ManagerNotes string
	ReviewedBy   string
	ReviewedAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transition moves the request to next, stamping UpdatedAt.
func (r *Request) Transition(next RequestStatus, at time.Time) error {
	if !r.Status.CanTransitionTo(next) {
		return &TransitionError{RequestID: r.ID, From: r.Status, To: next}
	}
	r.Status = next
	r.UpdatedAt = at
	return nil
}

// RequestFilter narrows ListRequests. Zero fields match everything.
type RequestFilter struct {
	EmployeeID EmployeeID
	PolicyID   PolicyID
	Status     RequestStatus
	Limit      int
}
