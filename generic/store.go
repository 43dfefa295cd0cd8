/*
store.go - Persistence ports for policies, balances, requests and history

PURPOSE:
  Defines the interface between the domain logic and the database.
  Domain code never holds global state; every service receives a Store.
  Implementations exist for memory, SQLite and PostgreSQL.

KEY INTERFACES:
  Store:   Policies, balances, requests and the transaction history
  TxStore: Store + WithTx for all-or-nothing multi-row work
  AuditLog: Append-only audit trail, kept beside the Store

LOOKUP CONTRACT:
  Get, Update, Delete and SaveBalance return an error wrapping ErrNotFound when
  the row does not exist. Create methods return ErrAlreadyExists on a duplicate key.
  List methods return an empty slice, never an error, when nothing matches.

TRANSACTIONS:
  WithTx runs fn against a transaction-scoped Store. If fn returns an error
  nothing it wrote is visible afterwards. Implementations serialize WithTx
  calls that touch the same rows, so a read-check-write inside fn cannot be
  interleaved with another one.

IMPLEMENTATIONS:
  - generic/store/memory.go: In-memory for tests and development
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL

SEE ALSO:
  - ledger.go: Higher-level balance operations over Store
  - storetest/: Conformance suite every implementation runs
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

type PolicyStore interface {
	ListPolicies(ctx context.Context) ([]Policy, error)
	GetPolicy(ctx context.Context, id PolicyID) (*Policy, error)
	CreatePolicy(ctx context.Context, p Policy) error
	UpdatePolicy(ctx context.Context, p Policy) error
	DeletePolicy(ctx context.Context, id PolicyID) error

	// PolicyReferenced reports whether any balance or request uses the policy.
	PolicyReferenced(ctx context.Context, id PolicyID) (bool, error)
}

type BalanceStore interface {
	ListBalances(ctx context.Context, employeeID EmployeeID) ([]Balance, error)
	GetBalance(ctx context.Context, employeeID EmployeeID, policyID PolicyID) (*Balance, error)
	CreateBalance(ctx context.Context, b Balance) error
	SaveBalance(ctx context.Context, b Balance) error
}

type RequestStore interface {
	CreateRequest(ctx context.Context, r Request) error
	GetRequest(ctx context.Context, id RequestID) (*Request, error)
	UpdateRequest(ctx context.Context, r Request) error
	ListRequests(ctx context.Context, filter RequestFilter) ([]Request, error)
}

// TransactionStore is append-only.
type TransactionStore interface {
	AppendTransaction(ctx context.Context, tx Transaction) error

	// ListTransactions returns history oldest first. An empty policyID
	// returns every policy for the employee.
	ListTransactions(ctx context.Context, employeeID EmployeeID, policyID PolicyID) ([]Transaction, error)
}

type Store interface {
	PolicyStore
	BalanceStore
	RequestStore
	TransactionStore
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
// Use this when a decision depends on what was just read (approving a request).
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT LOG - Separate from the ledger, tracks who did what when
// =============================================================================

type AuditEntry struct {
	ID         string
	Timestamp  time.Time
	ActorID    string
	Action     AuditAction
	RequestID  RequestID
	EmployeeID EmployeeID
	PolicyID   PolicyID
	Payload    map[string]any
}

type AuditAction string

const (
	AuditRequestCreated   AuditAction = "request_created"
	AuditRequestApproved  AuditAction = "request_approved"
	AuditRequestRejected  AuditAction = "request_rejected"
	AuditRequestCancelled AuditAction = "request_cancelled"
	AuditPolicyChanged    AuditAction = "policy_changed"
	AuditBalanceOpened    AuditAction = "balance_opened"
	AuditManualAdjust     AuditAction = "manual_adjustment"
)

// AuditLog stores audit entries. Also append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	EmployeeID EmployeeID
	RequestID  RequestID
	Actions    []AuditAction
	From       *time.Time
	To         *time.Time
	Limit      int
}

// Matches reports whether e passes the filter. Stores that cannot push a
// filter into their query language use it to post-filter.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.EmployeeID != "" && e.EmployeeID != f.EmployeeID {
		return false
	}
	if f.RequestID != "" && e.RequestID != f.RequestID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}

// Matches reports whether r passes the filter.
func (f RequestFilter) Matches(r Request) bool {
	if f.EmployeeID != "" && r.EmployeeID != f.EmployeeID {
		return false
	}
	if f.PolicyID != "" && r.PolicyID != f.PolicyID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}
