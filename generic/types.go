/*
Package generic provides the core absence engine: policies, balances, the
request state machine and the persistence ports they share.

PURPOSE:
  Everything in this package is transport- and storage-agnostic. The leave
  package orchestrates it, store/* packages persist it, api exposes it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Typed identifiers: EmployeeID, PolicyID, RequestID, TransactionID
  - Transaction: an immutable ledger entry explaining a balance change
  - Memo: who and why, attached to every ledger mutation

DESIGN PRINCIPLES:
  1. Precision: balances and deltas use decimal.Decimal
  2. Type Safety: distinct ID types so an employee ID is never passed as a policy ID
  3. Auditability: every balance change leaves a Transaction behind

USAGE:
  tx := generic.Transaction{
      EmployeeID: "emp-123",
      PolicyID:   "annual",
      Delta:      decimal.NewFromInt(-3),
      Type:       generic.TxConsumption,
  }

SEE ALSO:
  - policy.go: Leave policy definition
  - balance.go: Running balance per (employee, policy)
  - ledger.go: Debit/credit operations over the store
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type PolicyID string
type RequestID string
type TransactionID string

// =============================================================================
// TRANSACTION - Immutable ledger entry
// =============================================================================

type TransactionType string

const (
	TxGrant       TransactionType = "grant"       // opening balance for a policy assignment
	TxConsumption TransactionType = "consumption" // approved leave
	TxReversal    TransactionType = "reversal"    // days credited back
	TxAdjustment  TransactionType = "adjustment"  // manual correction, either sign
)

// Transaction records a single signed change to a balance. Transactions are
// never updated or deleted; the running Balance row is derived from them.
type Transaction struct {
	ID          TransactionID
	EmployeeID  EmployeeID
	PolicyID    PolicyID
	Delta       decimal.Decimal // positive adds days, negative consumes them
	Type        TransactionType
	ReferenceID string // request ID when the change came from the workflow
	Reason      string
	CreatedBy   string
	CreatedAt   time.Time
}

// Memo carries the context of a ledger mutation into its Transaction.
type Memo struct {
	ReferenceID string
	Reason      string
	Actor       string
}
