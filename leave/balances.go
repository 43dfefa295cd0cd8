package leave

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/absence-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// BALANCE SERVICE - Ledger reads plus administrative opening/adjustment
// =============================================================================

type BalanceService struct {
	store  generic.TxStore
	ledger *generic.Ledger
	events emitter
	logger *zap.Logger
}

func NewBalanceService(store generic.TxStore, opts ...Option) *BalanceService {
	o := buildOptions(opts)
	return &BalanceService{
		store:  store,
		ledger: o.ledger(store),
		events: o.emitter("balances"),
		logger: o.logger.Named("balances"),
	}
}

type OpenInput struct {
	EmployeeID generic.EmployeeID
	PolicyID   generic.PolicyID
	Opening    *decimal.Decimal // nil uses the policy's DaysPerYear
	Actor      string
}

type AdjustInput struct {
	EmployeeID generic.EmployeeID
	PolicyID   generic.PolicyID
	Delta      decimal.Decimal
	Reason     string
	Actor      string
}

func (bs *BalanceService) Balances(ctx context.Context, employeeID generic.EmployeeID) ([]generic.Balance, error) {
	return bs.ledger.Balances(ctx, employeeID)
}

// Projections returns each balance of the employee alongside the days
// still awaiting review.
func (bs *BalanceService) Projections(ctx context.Context, employeeID generic.EmployeeID) ([]generic.Projection, error) {
	balances, err := bs.ledger.Balances(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	pending, err := bs.store.ListRequests(ctx, generic.RequestFilter{
		EmployeeID: employeeID,
		Status:     generic.RequestPending,
	})
	if err != nil {
		return nil, fmt.Errorf("list pending for %s: %w", employeeID, err)
	}
	return generic.ProjectAll(balances, pending), nil
}

func (bs *BalanceService) Transactions(ctx context.Context, employeeID generic.EmployeeID, policyID generic.PolicyID) ([]generic.Transaction, error) {
	return bs.ledger.Transactions(ctx, employeeID, policyID)
}

// Open assigns a policy to an employee by creating its balance.
func (bs *BalanceService) Open(ctx context.Context, in OpenInput) (*generic.Balance, error) {
	bal, err := bs.ledger.Open(ctx, in.EmployeeID, in.PolicyID, in.Opening,
		generic.Memo{Reason: "policy assigned", Actor: in.Actor})
	if err != nil {
		return nil, err
	}

	bs.logger.Info("balance opened",
		zap.String("employee_id", string(in.EmployeeID)),
		zap.String("policy_id", string(in.PolicyID)),
		zap.String("remaining", bal.Remaining.String()),
	)
	bs.events.emit(ctx, generic.AuditEntry{
		ActorID:    in.Actor,
		Action:     generic.AuditBalanceOpened,
		EmployeeID: in.EmployeeID,
		PolicyID:   in.PolicyID,
		Payload:    map[string]any{"remaining": bal.Remaining.String()},
	})
	return bal, nil
}

// Adjust applies a manual correction to an existing balance.
func (bs *BalanceService) Adjust(ctx context.Context, in AdjustInput) (*generic.Balance, error) {
	bal, err := bs.ledger.Adjust(ctx, in.EmployeeID, in.PolicyID, in.Delta,
		generic.Memo{Reason: in.Reason, Actor: in.Actor})
	if err != nil {
		return nil, err
	}

	bs.logger.Info("balance adjusted",
		zap.String("employee_id", string(in.EmployeeID)),
		zap.String("policy_id", string(in.PolicyID)),
		zap.String("delta", in.Delta.String()),
	)
	bs.events.emit(ctx, generic.AuditEntry{
		ActorID:    in.Actor,
		Action:     generic.AuditManualAdjust,
		EmployeeID: in.EmployeeID,
		PolicyID:   in.PolicyID,
		Payload: map[string]any{
			"delta":     in.Delta.String(),
			"reason":    in.Reason,
			"remaining": bal.Remaining.String(),
		},
	})
	return bal, nil
}
