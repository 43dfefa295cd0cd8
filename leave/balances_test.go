package leave_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/leave"
)

func TestBalanceService_OpenDefaultsToPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	bal, err := f.balances.Open(ctx, leave.OpenInput{EmployeeID: "emp-a", PolicyID: "annual", Actor: "hr"})
	require.NoError(t, err)
	assert.True(t, bal.Remaining.Equal(decimal.NewFromInt(20)))

	all, err := f.balances.Balances(ctx, "emp-a")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestBalanceService_AdjustAndHistory(t *testing.T) {
	// GIVEN: Opened balance of 20 and an approved 3-day request
	// WHEN: HR adds 2 days
	// THEN: Remaining 19 and the history explains it: +20, -3, +2

	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "emp-a", "annual", 20)
	req := f.submit(t, "emp-a", "annual", "2025-03-03", "2025-03-05")
	_, err := f.workflow.Review(ctx, approve(req.ID))
	require.NoError(t, err)

	bal, err := f.balances.Adjust(ctx, leave.AdjustInput{
		EmployeeID: "emp-a", PolicyID: "annual", Delta: decimal.NewFromInt(2), Reason: "carryover", Actor: "hr",
	})
	require.NoError(t, err)
	assert.True(t, bal.Remaining.Equal(decimal.NewFromInt(19)))
	assert.True(t, bal.Consumed.Equal(decimal.NewFromInt(3)))

	txs, err := f.balances.Transactions(ctx, "emp-a", "annual")
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, generic.TxGrant, txs[0].Type)
	assert.Equal(t, generic.TxConsumption, txs[1].Type)
	assert.Equal(t, string(req.ID), txs[1].ReferenceID)
	assert.Equal(t, generic.TxAdjustment, txs[2].Type)

	sum := decimal.Zero
	for _, tx := range txs {
		sum = sum.Add(tx.Delta)
	}
	assert.True(t, sum.Equal(bal.Remaining), "history sums to the balance")
}

func TestBalanceService_Adjust_MissingBalance(t *testing.T) {
	f := newFixture(t)
	_, err := f.balances.Adjust(context.Background(), leave.AdjustInput{
		EmployeeID: "emp-x", PolicyID: "annual", Delta: decimal.NewFromInt(1),
	})
	assert.True(t, generic.IsNotFound(err))
}

func TestBalanceService_Projections(t *testing.T) {
	// GIVEN: A balance of 5 with pending requests of 3 and 4 days, and one rejected
	// WHEN: Asking for projections
	// THEN: Pending days are 7 and the projection is -2; the balance is unchanged

	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "emp-a", "annual", 5)
	f.submit(t, "emp-a", "annual", "2025-03-03", "2025-03-05")
	f.submit(t, "emp-a", "annual", "2025-04-07", "2025-04-10")
	rejected := f.submit(t, "emp-a", "annual", "2025-05-05", "2025-05-05")
	_, err := f.workflow.Review(ctx, leave.ReviewInput{
		RequestID: rejected.ID, Decision: leave.DecisionRejected, ReviewerID: "mgr",
	})
	require.NoError(t, err)

	got, err := f.balances.Projections(ctx, "emp-a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].PendingCount)
	assert.Equal(t, 7, got[0].PendingDays)
	assert.True(t, got[0].Projected.Equal(decimal.NewFromInt(-2)))
	assert.True(t, got[0].Remaining.Equal(decimal.NewFromInt(5)))
}
