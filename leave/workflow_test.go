package leave_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/generic/store"
	"github.com/warp/absence-engine/leave"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type recordingNotifier struct {
	mu     sync.Mutex
	events []generic.AuditEntry
}

func (r *recordingNotifier) Notify(_ context.Context, e generic.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingNotifier) actions() []generic.AuditAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []generic.AuditAction
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, e generic.AuditEntry) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

type fixture struct {
	store    *store.TxMemory
	workflow *leave.Workflow
	balances *leave.BalanceService
	notifier *recordingNotifier
}

func newFixture(t *testing.T, opts ...leave.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	s := store.NewTxMemory()
	require.NoError(t, s.CreatePolicy(ctx, generic.Policy{ID: "annual", Name: "Annual", DaysPerYear: 20}))
	require.NoError(t, s.CreatePolicy(ctx, generic.Policy{ID: "sick", Name: "Sick", DaysPerYear: 10, AllowNegativeBalance: true}))

	n := &recordingNotifier{}
	base := []leave.Option{leave.WithNotifier(n), leave.WithLogger(zaptest.NewLogger(t))}
	opts = append(base, opts...)
	return &fixture{
		store:    s,
		workflow: leave.NewWorkflow(s, opts...),
		balances: leave.NewBalanceService(s, opts...),
		notifier: n,
	}
}

func (f *fixture) open(t *testing.T, emp generic.EmployeeID, policy generic.PolicyID, amount int64) {
	t.Helper()
	opening := decimal.NewFromInt(amount)
	_, err := f.balances.Open(context.Background(), leave.OpenInput{EmployeeID: emp, PolicyID: policy, Opening: &opening, Actor: "hr"})
	require.NoError(t, err)
}

func (f *fixture) submit(t *testing.T, emp generic.EmployeeID, policy generic.PolicyID, start, end string) *generic.Request {
	t.Helper()
	req, err := f.workflow.Submit(context.Background(), leave.SubmitInput{
		EmployeeID: emp,
		PolicyID:   policy,
		StartDate:  generic.MustParseDate(start),
		EndDate:    generic.MustParseDate(end),
		Reason:     "holiday",
	})
	require.NoError(t, err)
	return req
}

func (f *fixture) remaining(t *testing.T, emp generic.EmployeeID, policy generic.PolicyID) decimal.Decimal {
	t.Helper()
	bal, err := f.store.GetBalance(context.Background(), emp, policy)
	require.NoError(t, err)
	return bal.Remaining
}

func approve(id generic.RequestID) leave.ReviewInput {
	return leave.ReviewInput{RequestID: id, Decision: leave.DecisionApproved, ReviewerID: "mgr-1"}
}

func reject(id generic.RequestID) leave.ReviewInput {
	return leave.ReviewInput{RequestID: id, Decision: leave.DecisionRejected, ReviewerID: "mgr-1", ManagerNotes: "busy period"}
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmit_DayCount(t *testing.T) {
	// GIVEN: Valid ranges
	// WHEN: Submitting
	// THEN: requestedDays counts both endpoints and status is pending

	f := newFixture(t)

	same := f.submit(t, "emp-a", "annual", "2025-01-15", "2025-01-15")
	assert.Equal(t, 1, same.RequestedDays)
	assert.Equal(t, generic.RequestPending, same.Status)

	three := f.submit(t, "emp-a", "annual", "2025-01-15", "2025-01-17")
	assert.Equal(t, 3, three.RequestedDays)
}

func TestSubmit_InvertedRange(t *testing.T) {
	f := newFixture(t)

	_, err := f.workflow.Submit(context.Background(), leave.SubmitInput{
		EmployeeID: "emp-a",
		PolicyID:   "annual",
		StartDate:  generic.MustParseDate("2025-01-17"),
		EndDate:    generic.MustParseDate("2025-01-15"),
		Reason:     "holiday",
	})
	assert.ErrorIs(t, err, generic.ErrInvalidDateRange)

	list, err := f.workflow.ListForEmployee(context.Background(), "emp-a")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSubmit_MissingReason(t *testing.T) {
	f := newFixture(t)

	for _, reason := range []string{"", "   ", "\t\n"} {
		_, err := f.workflow.Submit(context.Background(), leave.SubmitInput{
			EmployeeID: "emp-a",
			PolicyID:   "annual",
			StartDate:  generic.MustParseDate("2025-01-15"),
			EndDate:    generic.MustParseDate("2025-01-15"),
			Reason:     reason,
		})
		assert.ErrorIs(t, err, generic.ErrMissingReason, "reason %q", reason)
		assert.ErrorContains(t, err, "submit: ")
	}
}

func TestSubmit_UnknownPolicy_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.workflow.Submit(context.Background(), leave.SubmitInput{
		EmployeeID: "emp-a",
		PolicyID:   "sabbatical",
		StartDate:  generic.MustParseDate("2025-01-15"),
		EndDate:    generic.MustParseDate("2025-01-15"),
		Reason:     "holiday",
	})
	assert.True(t, generic.IsNotFound(err))
}

func TestSubmit_NoBalanceCheck(t *testing.T) {
	// GIVEN: Employee has 1 day left
	// WHEN: Submitting a 10-day request
	// THEN: Accepted as pending; the balance is only checked on approval

	f := newFixture(t)
	f.open(t, "emp-a", "annual", 1)

	req := f.submit(t, "emp-a", "annual", "2025-06-01", "2025-06-10")
	assert.Equal(t, 10, req.RequestedDays)
	assert.True(t, f.remaining(t, "emp-a", "annual").Equal(decimal.NewFromInt(1)))
}

func TestSubmit_OverlappingRequestsAllowed(t *testing.T) {
	f := newFixture(t)

	f.submit(t, "emp-a", "annual", "2025-06-01", "2025-06-05")
	f.submit(t, "emp-a", "annual", "2025-06-03", "2025-06-07")

	list, err := f.workflow.ListForEmployee(context.Background(), "emp-a")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSubmit_TrimsReason(t *testing.T) {
	f := newFixture(t)

	req, err := f.workflow.Submit(context.Background(), leave.SubmitInput{
		EmployeeID: "emp-a",
		PolicyID:   "annual",
		StartDate:  generic.MustParseDate("2025-01-15"),
		EndDate:    generic.MustParseDate("2025-01-15"),
		Reason:     "  dentist  ",
	})
	require.NoError(t, err)
	assert.Equal(t, "dentist", req.Reason)
}

func TestSubmit_YearOneIsAValidDate(t *testing.T) {
	f := newFixture(t)

	req := f.submit(t, "emp-a", "annual", "0001-01-01", "0001-01-03")
	assert.Equal(t, 3, req.RequestedDays)
}

// policyReadHook calls hook on the first policy read made through it,
// inside or outside a transaction.
type policyReadHook struct {
	*store.TxMemory
	once sync.Once
	hook func()
}

func (p *policyReadHook) GetPolicy(ctx context.Context, id generic.PolicyID) (*generic.Policy, error) {
	p.once.Do(p.hook)
	return p.TxMemory.GetPolicy(ctx, id)
}

func (p *policyReadHook) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	return p.TxMemory.WithTx(ctx, func(tx generic.Store) error {
		return fn(&hookedTx{Store: tx, parent: p})
	})
}

type hookedTx struct {
	generic.Store
	parent *policyReadHook
}

func (h *hookedTx) GetPolicy(ctx context.Context, id generic.PolicyID) (*generic.Policy, error) {
	h.parent.once.Do(h.parent.hook)
	return h.Store.GetPolicy(ctx, id)
}

func TestSubmit_PolicyDeleteRacingSubmitIsBlocked(t *testing.T) {
	// GIVEN: A policy delete fired right after Submit has looked the policy up
	// WHEN: Submit finishes
	// THEN: The delete sees the new request and fails with PolicyInUse

	ctx := context.Background()
	mem := store.NewTxMemory()
	require.NoError(t, mem.CreatePolicy(ctx, generic.Policy{ID: "annual", Name: "Annual", DaysPerYear: 20}))
	policies := leave.NewPolicyService(mem)

	deleted := make(chan error, 1)
	hooked := &policyReadHook{TxMemory: mem}
	hooked.hook = func() {
		go func() { deleted <- policies.Delete(ctx, "annual") }()
		// Give the delete a chance to finish before Submit writes.
		select {
		case err := <-deleted:
			deleted <- err
		case <-time.After(50 * time.Millisecond):
		}
	}
	workflow := leave.NewWorkflow(hooked)

	req, err := workflow.Submit(ctx, leave.SubmitInput{
		EmployeeID: "emp-a",
		PolicyID:   "annual",
		StartDate:  generic.MustParseDate("2025-01-15"),
		EndDate:    generic.MustParseDate("2025-01-16"),
		Reason:     "holiday",
	})
	require.NoError(t, err)

	assert.ErrorIs(t, <-deleted, generic.ErrPolicyInUse)
	_, err = mem.GetPolicy(ctx, req.PolicyID)
	assert.NoError(t, err, "the submitted request must not point at a deleted policy")
}

// =============================================================================
// REVIEW
// =============================================================================

func TestReview_ApproveDebitsThenInsufficient(t *testing.T) {
	// GIVEN: Balance 5 under a strict policy
	// WHEN: Approving a 3-day request, then a 4-day request
	// THEN: First leaves 2; second fails with insufficient balance,
	//       stays pending, balance still 2

	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "emp-a", "annual", 5)

	r1 := f.submit(t, "emp-a", "annual", "2025-03-03", "2025-03-05")
	approved, err := f.workflow.Review(ctx, approve(r1.ID))
	require.NoError(t, err)
	assert.Equal(t, generic.RequestApproved, approved.Status)
	assert.Equal(t, "mgr-1", approved.ReviewedBy)
	require.NotNil(t, approved.ReviewedAt)
	assert.True(t, f.remaining(t, "emp-a", "annual").Equal(decimal.NewFromInt(2)))

	r2 := f.submit(t, "emp-a", "annual", "2025-04-01", "2025-04-04")
	_, err = f.workflow.Review(ctx, approve(r2.ID))
	require.ErrorIs(t, err, generic.ErrInsufficientBalance)

	still, err := f.workflow.Get(ctx, r2.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.RequestPending, still.Status)
	assert.Empty(t, still.ReviewedBy)
	assert.True(t, f.remaining(t, "emp-a", "annual").Equal(decimal.NewFromInt(2)))
}

func TestReview_NegativeAllowed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "emp-a", "sick", 2)

	req := f.submit(t, "emp-a", "sick", "2025-02-03", "2025-02-07")
	_, err := f.workflow.Review(ctx, approve(req.ID))
	require.NoError(t, err)
	assert.True(t, f.remaining(t, "emp-a", "sick").Equal(decimal.NewFromInt(-3)))
}

func TestReview_RejectTwice(t *testing.T) {
	// GIVEN: A pending request
	// WHEN: Rejected, then rejected again
	// THEN: Second attempt is an invalid transition; balance untouched

	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "emp-a", "annual", 5)
	req := f.submit(t, "emp-a", "annual", "2025-03-03", "2025-03-05")

	rejected, err := f.workflow.Review(ctx, reject(req.ID))
	require.NoError(t, err)
	assert.Equal(t, generic.RequestRejected, rejected.Status)
	assert.Equal(t, "busy period", rejected.ManagerNotes)

	_, err = f.workflow.Review(ctx, reject(req.ID))
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
	assert.True(t, f.remaining(t, "emp-a", "annual").Equal(decimal.NewFromInt(5)))
}

func TestReview_TerminalStatesAreFinal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "emp-a", "annual", 20)

	approved := f.submit(t, "emp-a", "annual", "2025-03-03", "2025-03-03")
	_, err := f.workflow.Review(ctx, approve(approved.ID))
	require.NoError(t, err)

	rejected := f.submit(t, "emp-a", "annual", "2025-03-04", "2025-03-04")
	_, err = f.workflow.Review(ctx, reject(rejected.ID))
	require.NoError(t, err)

	cancelled := f.submit(t, "emp-a", "annual", "2025-03-05", "2025-03-05")
	_, err = f.workflow.Cancel(ctx, cancelled.ID, "emp-a")
	require.NoError(t, err)

	for _, id := range []generic.RequestID{approved.ID, rejected.ID, cancelled.ID} {
		_, err = f.workflow.Review(ctx, approve(id))
		assert.ErrorIs(t, err, generic.ErrInvalidTransition, "approve %s", id)
		_, err = f.workflow.Review(ctx, reject(id))
		assert.ErrorIs(t, err, generic.ErrInvalidTransition, "reject %s", id)
		_, err = f.workflow.Cancel(ctx, id, "emp-a")
		assert.ErrorIs(t, err, generic.ErrInvalidTransition, "cancel %s", id)
	}
	assert.True(t, f.remaining(t, "emp-a", "annual").Equal(decimal.NewFromInt(19)))
}

func TestReview_InvalidDecision(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t, "emp-a", "annual", "2025-03-03", "2025-03-03")

	_, err := f.workflow.Review(context.Background(), leave.ReviewInput{RequestID: req.ID, Decision: "maybe"})
	assert.ErrorIs(t, err, generic.ErrInvalidDecision)
}

func TestReview_UnknownRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.workflow.Review(context.Background(), approve("nope"))
	assert.True(t, generic.IsNotFound(err))
}

func TestReview_ApproveWithoutBalance_NotFound(t *testing.T) {
	// An approval needs a balance to debit; a missing one aborts the review.
	ctx := context.Background()
	f := newFixture(t)
	req := f.submit(t, "emp-a", "annual", "2025-03-03", "2025-03-03")

	_, err := f.workflow.Review(ctx, approve(req.ID))
	assert.True(t, generic.IsNotFound(err))

	still, err := f.workflow.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.RequestPending, still.Status)
}

func TestReview_ConcurrentReviewers_OneWins(t *testing.T) {
	// GIVEN: One pending request and plenty of balance
	// WHEN: Ten reviewers approve it at the same time
	// THEN: Exactly one succeeds, the others see an invalid transition,
	//       and the balance is debited once

	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "emp-a", "annual", 20)
	req := f.submit(t, "emp-a", "annual", "2025-03-03", "2025-03-05")

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		wins, loses int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.workflow.Review(ctx, approve(req.ID))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, generic.ErrInvalidTransition):
				loses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 9, loses)
	assert.True(t, f.remaining(t, "emp-a", "annual").Equal(decimal.NewFromInt(17)))
}

func TestReview_ConcurrentApprovals_SameBalance(t *testing.T) {
	// GIVEN: Balance 5 and three pending 2-day requests
	// WHEN: All three are approved concurrently
	// THEN: Two succeed, one fails for insufficient balance, remaining 1

	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "emp-a", "annual", 5)
	var ids []generic.RequestID
	for i := 0; i < 3; i++ {
		ids = append(ids, f.submit(t, "emp-a", "annual", "2025-05-01", "2025-05-02").ID)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id generic.RequestID) {
			defer wg.Done()
			_, errs[i] = f.workflow.Review(ctx, approve(id))
		}(i, id)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, generic.ErrInsufficientBalance):
			insufficient++
		}
	}
	assert.Equal(t, 2, ok)
	assert.Equal(t, 1, insufficient)
	assert.True(t, f.remaining(t, "emp-a", "annual").Equal(decimal.NewFromInt(1)))
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancel_PendingHasNoBalanceEffect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "emp-a", "annual", 5)

	req := f.submit(t, "emp-a", "annual", "2025-06-01", "2025-06-10")
	require.Equal(t, 10, req.RequestedDays)

	cancelled, err := f.workflow.Cancel(ctx, req.ID, "emp-a")
	require.NoError(t, err)
	assert.Equal(t, generic.RequestCancelled, cancelled.Status)
	assert.True(t, f.remaining(t, "emp-a", "annual").Equal(decimal.NewFromInt(5)))
}

func TestCancel_OtherEmployee_Forbidden(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := f.submit(t, "emp-b", "annual", "2025-06-01", "2025-06-01")

	_, err := f.workflow.Cancel(ctx, req.ID, "emp-a")
	assert.ErrorIs(t, err, generic.ErrForbidden)

	still, err := f.workflow.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.RequestPending, still.Status)
}

func TestCancel_Unknown_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.workflow.Cancel(context.Background(), "nope", "emp-a")
	assert.True(t, generic.IsNotFound(err))
}

func TestCancel_ForbiddenBeforeInvalidTransition(t *testing.T) {
	// A stranger probing someone's finished request learns only "forbidden".
	ctx := context.Background()
	f := newFixture(t)
	req := f.submit(t, "emp-b", "annual", "2025-06-01", "2025-06-01")
	_, err := f.workflow.Review(ctx, reject(req.ID))
	require.NoError(t, err)

	_, err = f.workflow.Cancel(ctx, req.ID, "emp-a")
	assert.ErrorIs(t, err, generic.ErrForbidden)
}

// =============================================================================
// QUERIES & NOTIFICATIONS
// =============================================================================

func TestListPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "emp-a", "annual", 20)

	a := f.submit(t, "emp-a", "annual", "2025-06-01", "2025-06-01")
	b := f.submit(t, "emp-b", "annual", "2025-06-02", "2025-06-02")
	_, err := f.workflow.Review(ctx, approve(a.ID))
	require.NoError(t, err)

	pending, err := f.workflow.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)
}

func TestNotifications_EmittedAfterEachTransition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "emp-a", "annual", 20)

	a := f.submit(t, "emp-a", "annual", "2025-06-01", "2025-06-01")
	b := f.submit(t, "emp-a", "annual", "2025-06-02", "2025-06-02")
	c := f.submit(t, "emp-a", "annual", "2025-06-03", "2025-06-03")
	_, err := f.workflow.Review(ctx, approve(a.ID))
	require.NoError(t, err)
	_, err = f.workflow.Review(ctx, reject(b.ID))
	require.NoError(t, err)
	_, err = f.workflow.Cancel(ctx, c.ID, "emp-a")
	require.NoError(t, err)

	// A failed review emits nothing.
	_, err = f.workflow.Review(ctx, approve(a.ID))
	require.Error(t, err)

	assert.Equal(t, []generic.AuditAction{
		generic.AuditBalanceOpened,
		generic.AuditRequestCreated,
		generic.AuditRequestCreated,
		generic.AuditRequestCreated,
		generic.AuditRequestApproved,
		generic.AuditRequestRejected,
		generic.AuditRequestCancelled,
	}, f.notifier.actions())
}

func TestNotifierFailure_IsSwallowed(t *testing.T) {
	// GIVEN: A notifier that always fails
	// WHEN: Submitting and approving
	// THEN: Both operations succeed and each failure is logged at warn

	ctx := context.Background()
	core, recorded := observer.New(zap.WarnLevel)

	n := &mockNotifier{}
	n.On("Notify", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	f := newFixture(t, leave.WithNotifier(n), leave.WithLogger(zap.New(core)))
	opening := decimal.NewFromInt(5)
	_, err := f.balances.Open(ctx, leave.OpenInput{EmployeeID: "emp-a", PolicyID: "annual", Opening: &opening})
	require.NoError(t, err)

	req, err := f.workflow.Submit(ctx, leave.SubmitInput{
		EmployeeID: "emp-a",
		PolicyID:   "annual",
		StartDate:  generic.MustParseDate("2025-01-15"),
		EndDate:    generic.MustParseDate("2025-01-16"),
		Reason:     "holiday",
	})
	require.NoError(t, err)

	_, err = f.workflow.Review(ctx, approve(req.ID))
	require.NoError(t, err)

	assert.Equal(t, 3, recorded.FilterMessage("notification failed").Len())
	n.AssertNumberOfCalls(t, "Notify", 3)
	assert.True(t, f.remaining(t, "emp-a", "annual").Equal(decimal.NewFromInt(3)))
}

func TestWithClock_StampsRequests(t *testing.T) {
	fixed := time.Date(2025, time.February, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, leave.WithClock(func() time.Time { return fixed }), leave.WithIDGenerator(func() string { return "req-fixed" }))

	req := f.submit(t, "emp-a", "annual", "2025-03-03", "2025-03-03")
	assert.Equal(t, generic.RequestID("req-fixed"), req.ID)
	assert.True(t, req.CreatedAt.Equal(fixed))
}
