/*
workflow.go - Leave request lifecycle: submit, cancel, review

PURPOSE:
  Drives a Request through its state machine and applies the balance effect
  of approval. Every state change that depends on a prior read runs inside
  one store transaction, so two reviewers racing on the same request cannot
  both succeed and a failed debit leaves the request pending.

OPERATIONS:
  Submit:  validate range and reason, then check the policy and persist as
           Pending in one transaction. No balance check.
  Cancel:  owner only, Pending only. No balance effect.
  Review:  Pending only. Approve debits requestedDays; Reject does not.

ERROR ORDER:
  Cancel checks existence, then ownership, then state.
  Review checks the decision, then existence, then state, then balance.

NOTIFICATIONS:
  Sent after commit. A failing notifier is logged and ignored; it never
  turns a successful operation into an error.

SEE ALSO:
  - generic/request.go: State machine
  - generic/ledger.go: Debit
  - audit/: Notifier implementations
*/
package leave

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/absence-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// INPUTS
// =============================================================================

type SubmitInput struct {
	EmployeeID generic.EmployeeID
	PolicyID   generic.PolicyID
	StartDate  generic.Date
	EndDate    generic.Date
	Reason     string
}

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

func (d Decision) status() (generic.RequestStatus, bool) {
	switch d {
	case DecisionApproved:
		return generic.RequestApproved, true
	case DecisionRejected:
		return generic.RequestRejected, true
	default:
		return "", false
	}
}

type ReviewInput struct {
	RequestID    generic.RequestID
	Decision     Decision
	ManagerNotes string
	ReviewerID   string
}

// =============================================================================
// WORKFLOW
// =============================================================================

type Workflow struct {
	store  generic.TxStore
	opts   options
	events emitter
	logger *zap.Logger
}

func NewWorkflow(store generic.TxStore, opts ...Option) *Workflow {
	o := buildOptions(opts)
	return &Workflow{
		store:  store,
		opts:   o,
		events: o.emitter("workflow"),
		logger: o.logger.Named("workflow"),
	}
}

// Submit files a new Pending request. Overlapping requests for the same
// employee are accepted. The policy lookup and the insert share one
// transaction, so a concurrent policy delete either sees the request or
// makes Submit fail with NotFound.
func (w *Workflow) Submit(ctx context.Context, in SubmitInput) (*generic.Request, error) {
	if in.EndDate.Before(in.StartDate) {
		return nil, fmt.Errorf("submit %s to %s: %w", in.StartDate, in.EndDate, generic.ErrInvalidDateRange)
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, fmt.Errorf("submit: %w", generic.ErrMissingReason)
	}

	now := w.opts.now()
	req := generic.Request{
		ID:            generic.RequestID(w.opts.newID()),
		EmployeeID:    in.EmployeeID,
		PolicyID:      in.PolicyID,
		StartDate:     in.StartDate,
		EndDate:       in.EndDate,
		RequestedDays: generic.InclusiveDays(in.StartDate, in.EndDate),
		Reason:        reason,
		Status:        generic.RequestPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := w.store.WithTx(ctx, func(tx generic.Store) error {
		if _, err := tx.GetPolicy(ctx, in.PolicyID); err != nil {
			return err
		}
		return tx.CreateRequest(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	w.logger.Info("request submitted",
		zap.String("request_id", string(req.ID)),
		zap.String("employee_id", string(req.EmployeeID)),
		zap.Int("requested_days", req.RequestedDays),
	)
	w.events.emit(ctx, w.event(req, generic.AuditRequestCreated, string(req.EmployeeID), map[string]any{
		"start_date":     req.StartDate.String(),
		"end_date":       req.EndDate.String(),
		"requested_days": req.RequestedDays,
	}))
	return &req, nil
}

// Cancel withdraws a Pending request on behalf of its owner.
func (w *Workflow) Cancel(ctx context.Context, id generic.RequestID, employeeID generic.EmployeeID) (*generic.Request, error) {
	var result *generic.Request
	err := w.store.WithTx(ctx, func(tx generic.Store) error {
		req, err := tx.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if req.EmployeeID != employeeID {
			return fmt.Errorf("request %s belongs to another employee: %w", id, generic.ErrForbidden)
		}
		if err := req.Transition(generic.RequestCancelled, w.opts.now()); err != nil {
			return err
		}
		if err := tx.UpdateRequest(ctx, *req); err != nil {
			return err
		}
		result = req
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cancel: %w", err)
	}

	w.logger.Info("request cancelled", zap.String("request_id", string(id)))
	w.events.emit(ctx, w.event(*result, generic.AuditRequestCancelled, string(employeeID), nil))
	return result, nil
}

// Review approves or rejects a Pending request. Approval debits the
// balance in the same transaction; if the debit fails nothing changes.
func (w *Workflow) Review(ctx context.Context, in ReviewInput) (*generic.Request, error) {
	next, ok := in.Decision.status()
	if !ok {
		return nil, fmt.Errorf("review %q: %w", in.Decision, generic.ErrInvalidDecision)
	}

	var (
		result  *generic.Request
		balance *generic.Balance
	)
	err := w.store.WithTx(ctx, func(tx generic.Store) error {
		req, err := tx.GetRequest(ctx, in.RequestID)
		if err != nil {
			return err
		}
		now := w.opts.now()
		if err := req.Transition(next, now); err != nil {
			return err
		}

		if next == generic.RequestApproved {
			balance, err = w.opts.ledger(tx).Debit(ctx, req.EmployeeID, req.PolicyID,
				decimal.NewFromInt(int64(req.RequestedDays)),
				generic.Memo{ReferenceID: string(req.ID), Reason: req.Reason, Actor: in.ReviewerID},
			)
			if err != nil {
				return err
			}
		}

		req.ManagerNotes = in.ManagerNotes
		req.ReviewedBy = in.ReviewerID
		req.ReviewedAt = &now
		if err := tx.UpdateRequest(ctx, *req); err != nil {
			return err
		}
		result = req
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("review: %w", err)
	}

	action := generic.AuditRequestRejected
	payload := map[string]any{"manager_notes": in.ManagerNotes}
	if next == generic.RequestApproved {
		action = generic.AuditRequestApproved
		payload["requested_days"] = result.RequestedDays
		payload["remaining"] = balance.Remaining.String()
	}
	w.logger.Info("request reviewed",
		zap.String("request_id", string(result.ID)),
		zap.String("status", string(result.Status)),
		zap.String("reviewer_id", in.ReviewerID),
	)
	w.events.emit(ctx, w.event(*result, action, in.ReviewerID, payload))
	return result, nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (w *Workflow) Get(ctx context.Context, id generic.RequestID) (*generic.Request, error) {
	return w.store.GetRequest(ctx, id)
}

func (w *Workflow) ListForEmployee(ctx context.Context, employeeID generic.EmployeeID) ([]generic.Request, error) {
	return w.store.ListRequests(ctx, generic.RequestFilter{EmployeeID: employeeID})
}

// ListPending returns the review queue, oldest first.
func (w *Workflow) ListPending(ctx context.Context) ([]generic.Request, error) {
	return w.store.ListRequests(ctx, generic.RequestFilter{Status: generic.RequestPending})
}

func (w *Workflow) event(req generic.Request, action generic.AuditAction, actor string, payload map[string]any) generic.AuditEntry {
	return generic.AuditEntry{
		ActorID:    actor,
		Action:     action,
		RequestID:  req.ID,
		EmployeeID: req.EmployeeID,
		PolicyID:   req.PolicyID,
		Payload:    payload,
	}
}
