// Package storetest is the conformance suite shared by every Store
// implementation. Each backend's tests call Run with a constructor.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/absence-engine/generic"
)

// Backend is what a full storage implementation provides.
type Backend interface {
	generic.TxStore
	generic.AuditLog
}

var (
	t0 = time.Date(2025, time.January, 10, 9, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
)

// Run executes every conformance test against stores built by newStore.
// newStore must return an empty store and register its own cleanup.
func Run(t *testing.T, newStore func(t *testing.T) Backend) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s Backend)
	}{
		{"PolicyCRUD", testPolicyCRUD},
		{"PolicyNotFound", testPolicyNotFound},
		{"PolicyReferenced", testPolicyReferenced},
		{"BalanceLifecycle", testBalanceLifecycle},
		{"RequestLifecycle", testRequestLifecycle},
		{"ListRequestsFilter", testListRequestsFilter},
		{"Transactions", testTransactions},
		{"Audit", testAudit},
		{"WithTxCommit", testWithTxCommit},
		{"WithTxRollback", testWithTxRollback},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

// =============================================================================
// FIXTURES
// =============================================================================

func annual() generic.Policy {
	return generic.Policy{ID: "annual", Name: "Annual Leave", DaysPerYear: 20, CreatedAt: t0, UpdatedAt: t0}
}

func pendingRequest(id generic.RequestID, emp generic.EmployeeID) generic.Request {
	return generic.Request{
		ID:            id,
		EmployeeID:    emp,
		PolicyID:      "annual",
		StartDate:     generic.NewDate(2025, time.March, 3),
		EndDate:       generic.NewDate(2025, time.March, 5),
		RequestedDays: 3,
		Reason:        "family trip",
		Status:        generic.RequestPending,
		CreatedAt:     t0,
		UpdatedAt:     t0,
	}
}

// =============================================================================
// TESTS
// =============================================================================

func testPolicyCRUD(t *testing.T, s Backend) {
	ctx := context.Background()

	require.NoError(t, s.CreatePolicy(ctx, annual()))
	require.NoError(t, s.CreatePolicy(ctx, generic.Policy{ID: "sick", Name: "Sick Leave", DaysPerYear: 10, AllowNegativeBalance: true, CreatedAt: t0, UpdatedAt: t0}))
	assert.ErrorIs(t, s.CreatePolicy(ctx, annual()), generic.ErrAlreadyExists)

	got, err := s.GetPolicy(ctx, "sick")
	require.NoError(t, err)
	assert.Equal(t, "Sick Leave", got.Name)
	assert.Equal(t, 10, got.DaysPerYear)
	assert.True(t, got.AllowNegativeBalance)
	assert.True(t, got.CreatedAt.Equal(t0))

	updated := annual()
	updated.DaysPerYear = 25
	updated.UpdatedAt = t1
	require.NoError(t, s.UpdatePolicy(ctx, updated))

	got, err = s.GetPolicy(ctx, "annual")
	require.NoError(t, err)
	assert.Equal(t, 25, got.DaysPerYear)
	assert.True(t, got.UpdatedAt.Equal(t1))

	all, err := s.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, generic.PolicyID("annual"), all[0].ID, "ordered by name")

	require.NoError(t, s.DeletePolicy(ctx, "sick"))
	all, err = s.ListPolicies(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testPolicyNotFound(t *testing.T, s Backend) {
	ctx := context.Background()

	_, err := s.GetPolicy(ctx, "missing")
	assert.True(t, generic.IsNotFound(err))

	var nf *generic.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "policy", nf.Kind)

	assert.True(t, generic.IsNotFound(s.UpdatePolicy(ctx, generic.Policy{ID: "missing", Name: "x"})))
	assert.True(t, generic.IsNotFound(s.DeletePolicy(ctx, "missing")))

	all, err := s.ListPolicies(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func testPolicyReferenced(t *testing.T, s Backend) {
	ctx := context.Background()
	require.NoError(t, s.CreatePolicy(ctx, annual()))

	used, err := s.PolicyReferenced(ctx, "annual")
	require.NoError(t, err)
	assert.False(t, used)

	require.NoError(t, s.CreateRequest(ctx, pendingRequest("req-1", "emp-1")))
	used, err = s.PolicyReferenced(ctx, "annual")
	require.NoError(t, err)
	assert.True(t, used)
}

func testBalanceLifecycle(t *testing.T, s Backend) {
	ctx := context.Background()
	require.NoError(t, s.CreatePolicy(ctx, annual()))

	bal := generic.Balance{
		EmployeeID: "emp-1",
		PolicyID:   "annual",
		Remaining:  decimal.NewFromInt(20),
		Consumed:   decimal.Zero,
		UpdatedAt:  t0,
	}
	require.NoError(t, s.CreateBalance(ctx, bal))
	assert.ErrorIs(t, s.CreateBalance(ctx, bal), generic.ErrAlreadyExists)

	bal.Remaining = decimal.RequireFromString("17.5")
	bal.Consumed = decimal.RequireFromString("2.5")
	bal.UpdatedAt = t1
	require.NoError(t, s.SaveBalance(ctx, bal))

	got, err := s.GetBalance(ctx, "emp-1", "annual")
	require.NoError(t, err)
	assert.True(t, got.Remaining.Equal(decimal.RequireFromString("17.5")), "remaining %s", got.Remaining)
	assert.True(t, got.Consumed.Equal(decimal.RequireFromString("2.5")), "consumed %s", got.Consumed)

	list, err := s.ListBalances(ctx, "emp-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = s.ListBalances(ctx, "emp-unknown")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.GetBalance(ctx, "emp-2", "annual")
	assert.True(t, generic.IsNotFound(err))

	missing := bal
	missing.EmployeeID = "emp-2"
	assert.True(t, generic.IsNotFound(s.SaveBalance(ctx, missing)))
}

func testRequestLifecycle(t *testing.T, s Backend) {
	ctx := context.Background()
	require.NoError(t, s.CreatePolicy(ctx, annual()))

	req := pendingRequest("req-1", "emp-1")
	require.NoError(t, s.CreateRequest(ctx, req))
	assert.ErrorIs(t, s.CreateRequest(ctx, req), generic.ErrAlreadyExists)

	got, err := s.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, generic.RequestPending, got.Status)
	assert.True(t, got.StartDate.Equal(req.StartDate))
	assert.True(t, got.EndDate.Equal(req.EndDate))
	assert.Equal(t, 3, got.RequestedDays)
	assert.Nil(t, got.ReviewedAt)

	reviewedAt := t1
	got.Status = generic.RequestApproved
	got.ManagerNotes = "enjoy"
	got.ReviewedBy = "mgr-1"
	got.ReviewedAt = &reviewedAt
	got.UpdatedAt = t1
	require.NoError(t, s.UpdateRequest(ctx, *got))

	got, err = s.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, generic.RequestApproved, got.Status)
	assert.Equal(t, "enjoy", got.ManagerNotes)
	assert.Equal(t, "mgr-1", got.ReviewedBy)
	require.NotNil(t, got.ReviewedAt)
	assert.True(t, got.ReviewedAt.Equal(t1))

	_, err = s.GetRequest(ctx, "req-missing")
	assert.True(t, generic.IsNotFound(err))
	assert.True(t, generic.IsNotFound(s.UpdateRequest(ctx, pendingRequest("req-missing", "emp-1"))))
}

func testListRequestsFilter(t *testing.T, s Backend) {
	ctx := context.Background()
	require.NoError(t, s.CreatePolicy(ctx, annual()))

	r1 := pendingRequest("req-1", "emp-1")
	r2 := pendingRequest("req-2", "emp-2")
	r2.CreatedAt = t0.Add(time.Minute)
	r3 := pendingRequest("req-3", "emp-1")
	r3.CreatedAt = t0.Add(2 * time.Minute)
	r3.Status = generic.RequestRejected
	for _, r := range []generic.Request{r1, r2, r3} {
		require.NoError(t, s.CreateRequest(ctx, r))
	}

	mine, err := s.ListRequests(ctx, generic.RequestFilter{EmployeeID: "emp-1"})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, generic.RequestID("req-1"), mine[0].ID, "oldest first")

	pending, err := s.ListRequests(ctx, generic.RequestFilter{Status: generic.RequestPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	limited, err := s.ListRequests(ctx, generic.RequestFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := s.ListRequests(ctx, generic.RequestFilter{EmployeeID: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testTransactions(t *testing.T, s Backend) {
	ctx := context.Background()
	require.NoError(t, s.CreatePolicy(ctx, annual()))

	txs := []generic.Transaction{
		{ID: "tx-1", EmployeeID: "emp-1", PolicyID: "annual", Delta: decimal.NewFromInt(20), Type: generic.TxGrant, CreatedAt: t0},
		{ID: "tx-2", EmployeeID: "emp-1", PolicyID: "annual", Delta: decimal.NewFromInt(-3), Type: generic.TxConsumption, ReferenceID: "req-1", Reason: "trip", CreatedBy: "mgr-1", CreatedAt: t1},
		{ID: "tx-3", EmployeeID: "emp-2", PolicyID: "annual", Delta: decimal.NewFromInt(20), Type: generic.TxGrant, CreatedAt: t1},
	}
	for _, tx := range txs {
		require.NoError(t, s.AppendTransaction(ctx, tx))
	}

	got, err := s.ListTransactions(ctx, "emp-1", "annual")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, generic.TransactionID("tx-1"), got[0].ID)
	assert.True(t, got[1].Delta.Equal(decimal.NewFromInt(-3)))
	assert.Equal(t, generic.TxConsumption, got[1].Type)
	assert.Equal(t, "req-1", got[1].ReferenceID)
	assert.Equal(t, "mgr-1", got[1].CreatedBy)

	all, err := s.ListTransactions(ctx, "emp-1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testAudit(t *testing.T, s Backend) {
	ctx := context.Background()

	entries := []generic.AuditEntry{
		{ID: "a-1", Timestamp: t0, ActorID: "emp-1", Action: generic.AuditRequestCreated, RequestID: "req-1", EmployeeID: "emp-1", PolicyID: "annual", Payload: map[string]any{"requested_days": float64(3)}},
		{ID: "a-2", Timestamp: t1, ActorID: "mgr-1", Action: generic.AuditRequestApproved, RequestID: "req-1", EmployeeID: "emp-1", PolicyID: "annual"},
		{ID: "a-3", Timestamp: t1, ActorID: "emp-2", Action: generic.AuditRequestCreated, RequestID: "req-2", EmployeeID: "emp-2", PolicyID: "annual"},
	}
	for _, e := range entries {
		require.NoError(t, s.AppendAudit(ctx, e))
	}

	byRequest, err := s.QueryAudit(ctx, generic.AuditFilter{RequestID: "req-1"})
	require.NoError(t, err)
	require.Len(t, byRequest, 2)
	assert.Equal(t, generic.AuditRequestCreated, byRequest[0].Action)
	assert.Equal(t, float64(3), byRequest[0].Payload["requested_days"])

	created, err := s.QueryAudit(ctx, generic.AuditFilter{Actions: []generic.AuditAction{generic.AuditRequestCreated}})
	require.NoError(t, err)
	assert.Len(t, created, 2)

	from := t1
	later, err := s.QueryAudit(ctx, generic.AuditFilter{From: &from, EmployeeID: "emp-1"})
	require.NoError(t, err)
	require.Len(t, later, 1)
	assert.Equal(t, "a-2", later[0].ID)
}

func testWithTxCommit(t *testing.T, s Backend) {
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx generic.Store) error {
		if err := tx.CreatePolicy(ctx, annual()); err != nil {
			return err
		}
		// Reads inside the transaction see its own writes.
		_, err := tx.GetPolicy(ctx, "annual")
		return err
	})
	require.NoError(t, err)

	_, err = s.GetPolicy(ctx, "annual")
	assert.NoError(t, err)
}

func testWithTxRollback(t *testing.T, s Backend) {
	ctx := context.Background()
	require.NoError(t, s.CreatePolicy(ctx, annual()))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx generic.Store) error {
		if err := tx.CreateRequest(ctx, pendingRequest("req-1", "emp-1")); err != nil {
			return err
		}
		if err := tx.AppendTransaction(ctx, generic.Transaction{ID: "tx-1", EmployeeID: "emp-1", PolicyID: "annual", Delta: decimal.NewFromInt(-1), Type: generic.TxConsumption, CreatedAt: t0}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetRequest(ctx, "req-1")
	assert.True(t, generic.IsNotFound(err), "request write rolled back")

	txs, err := s.ListTransactions(ctx, "emp-1", "")
	require.NoError(t, err)
	assert.Empty(t, txs, "transaction append rolled back")
}
