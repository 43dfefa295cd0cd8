/*
ledger.go - Balance ledger: debit, credit, open, adjust

PURPOSE:
  The Ledger owns every change to a Balance. Each mutation is a
  read-check-write over the balance row plus one appended Transaction,
  executed atomically so concurrent debits can never lose an update or
  jointly overdraw a balance.

CRITICAL INVARIANTS:
  1. A failed operation changes nothing (no balance write, no transaction)
  2. Remaining goes below zero only when the policy allows negative balances
  3. Every successful mutation appends exactly one Transaction

ATOMICITY:
  Built on a TxStore, each mutation runs in its own WithTx. Built on the
  Store handed to a WithTx callback, the mutation joins the caller's
  transaction instead; the workflow uses this to approve a request and
  debit its balance in one unit.

EXAMPLE FLOW:
  1. Assign Annual (20 days/year): Open      -> remaining 20   TxGrant +20
  2. Approve a 3-day request:      Debit 3   -> remaining 17   TxConsumption -3
  3. HR correction:                Adjust +1 -> remaining 18   TxAdjustment +1

SEE ALSO:
  - store.go: Persistence ports
  - leave/workflow.go: Review debits through a transaction-scoped Ledger
*/
package generic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store Store

	// Now and NewID are replaceable for deterministic tests.
	Now   func() time.Time
	NewID func() string
}

func NewLedger(store Store) *Ledger {
	return &Ledger{
		Store: store,
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: uuid.NewString,
	}
}

// atomically runs fn in a fresh transaction when the store supports one,
// otherwise directly on the store (which is then already transaction-scoped).
func (l *Ledger) atomically(ctx context.Context, fn func(Store) error) error {
	if ts, ok := l.Store.(TxStore); ok {
		return ts.WithTx(ctx, fn)
	}
	return fn(l.Store)
}

// =============================================================================
// READS
// =============================================================================

// Balances returns every balance of the employee. Empty, not an error, when
// the employee has none.
func (l *Ledger) Balances(ctx context.Context, employeeID EmployeeID) ([]Balance, error) {
	balances, err := l.Store.ListBalances(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	if balances == nil {
		balances = []Balance{}
	}
	return balances, nil
}

func (l *Ledger) Balance(ctx context.Context, employeeID EmployeeID, policyID PolicyID) (*Balance, error) {
	return l.Store.GetBalance(ctx, employeeID, policyID)
}

// Transactions returns the history behind a balance, oldest first.
func (l *Ledger) Transactions(ctx context.Context, employeeID EmployeeID, policyID PolicyID) ([]Transaction, error) {
	txs, err := l.Store.ListTransactions(ctx, employeeID, policyID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if txs == nil {
		txs = []Transaction{}
	}
	return txs, nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Open creates the (employee, policy) balance. A nil opening uses the
// policy's DaysPerYear.
func (l *Ledger) Open(ctx context.Context, employeeID EmployeeID, policyID PolicyID, opening *decimal.Decimal, memo Memo) (*Balance, error) {
	var result *Balance
	err := l.atomically(ctx, func(s Store) error {
		policy, err := s.GetPolicy(ctx, policyID)
		if err != nil {
			return err
		}
		amount := decimal.NewFromInt(int64(policy.DaysPerYear))
		if opening != nil {
			amount = *opening
		}
		if amount.IsNegative() && !policy.AllowNegativeBalance {
			return fmt.Errorf("%w: opening balance %s on policy %s", ErrInvalidAmount, amount, policyID)
		}

		now := l.Now()
		bal := Balance{
			EmployeeID: employeeID,
			PolicyID:   policyID,
			Remaining:  amount,
			Consumed:   decimal.Zero,
			UpdatedAt:  now,
		}
		if err := s.CreateBalance(ctx, bal); err != nil {
			return err
		}
		if err := l.record(ctx, s, bal, amount, TxGrant, memo, now); err != nil {
			return err
		}
		result = &bal
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open balance %s/%s: %w", employeeID, policyID, err)
	}
	return result, nil
}

// Debit consumes days. Under a policy without AllowNegativeBalance it fails
// with *InsufficientBalanceError when the result would be negative.
func (l *Ledger) Debit(ctx context.Context, employeeID EmployeeID, policyID PolicyID, days decimal.Decimal, memo Memo) (*Balance, error) {
	if !days.IsPositive() {
		return nil, fmt.Errorf("debit %s: %w", days, ErrInvalidAmount)
	}

	var result *Balance
	err := l.atomically(ctx, func(s Store) error {
		policy, err := s.GetPolicy(ctx, policyID)
		if err != nil {
			return err
		}
		bal, err := s.GetBalance(ctx, employeeID, policyID)
		if err != nil {
			return err
		}
		if !bal.CanDebit(days, policy.AllowNegativeBalance) {
			return &InsufficientBalanceError{
				EmployeeID: employeeID,
				PolicyID:   policyID,
				Available:  bal.Remaining,
				Requested:  days,
			}
		}

		now := l.Now()
		bal.Remaining = bal.Remaining.Sub(days)
		bal.Consumed = bal.Consumed.Add(days)
		bal.UpdatedAt = now
		if err := s.SaveBalance(ctx, *bal); err != nil {
			return err
		}
		if err := l.record(ctx, s, *bal, days.Neg(), TxConsumption, memo, now); err != nil {
			return err
		}
		result = bal
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("debit %s/%s: %w", employeeID, policyID, err)
	}
	return result, nil
}

// Credit returns previously consumed days to the balance.
func (l *Ledger) Credit(ctx context.Context, employeeID EmployeeID, policyID PolicyID, days decimal.Decimal, memo Memo) (*Balance, error) {
	if !days.IsPositive() {
		return nil, fmt.Errorf("credit %s: %w", days, ErrInvalidAmount)
	}

	var result *Balance
	err := l.atomically(ctx, func(s Store) error {
		bal, err := s.GetBalance(ctx, employeeID, policyID)
		if err != nil {
			return err
		}

		now := l.Now()
		bal.Remaining = bal.Remaining.Add(days)
		bal.Consumed = bal.Consumed.Sub(days)
		bal.UpdatedAt = now
		if err := s.SaveBalance(ctx, *bal); err != nil {
			return err
		}
		if err := l.record(ctx, s, *bal, days, TxReversal, memo, now); err != nil {
			return err
		}
		result = bal
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("credit %s/%s: %w", employeeID, policyID, err)
	}
	return result, nil
}

// Adjust applies a signed manual correction. Consumed is left alone; a
// negative delta obeys the same floor as Debit.
func (l *Ledger) Adjust(ctx context.Context, employeeID EmployeeID, policyID PolicyID, delta decimal.Decimal, memo Memo) (*Balance, error) {
	if delta.IsZero() {
		return nil, fmt.Errorf("adjust: %w", ErrInvalidAmount)
	}

	var result *Balance
	err := l.atomically(ctx, func(s Store) error {
		policy, err := s.GetPolicy(ctx, policyID)
		if err != nil {
			return err
		}
		bal, err := s.GetBalance(ctx, employeeID, policyID)
		if err != nil {
			return err
		}
		if delta.IsNegative() && !bal.CanDebit(delta.Neg(), policy.AllowNegativeBalance) {
			return &InsufficientBalanceError{
				EmployeeID: employeeID,
				PolicyID:   policyID,
				Available:  bal.Remaining,
				Requested:  delta.Neg(),
			}
		}

		now := l.Now()
		bal.Remaining = bal.Remaining.Add(delta)
		bal.UpdatedAt = now
		if err := s.SaveBalance(ctx, *bal); err != nil {
			return err
		}
		if err := l.record(ctx, s, *bal, delta, TxAdjustment, memo, now); err != nil {
			return err
		}
		result = bal
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("adjust %s/%s: %w", employeeID, policyID, err)
	}
	return result, nil
}

func (l *Ledger) record(ctx context.Context, s Store, bal Balance, delta decimal.Decimal, typ TransactionType, memo Memo, at time.Time) error {
	return s.AppendTransaction(ctx, Transaction{
		ID:          TransactionID(l.NewID()),
		EmployeeID:  bal.EmployeeID,
		PolicyID:    bal.PolicyID,
		Delta:       delta,
		Type:        typ,
		ReferenceID: memo.ReferenceID,
		Reason:      memo.Reason,
		CreatedBy:   memo.Actor,
		CreatedAt:   at,
	})
}
