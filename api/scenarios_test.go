package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/absence-engine/generic"
)

func TestScenarios_AllLoad(t *testing.T) {
	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			ts := newTestServer(t)
			rec := ts.do(http.MethodPost, "/api/scenarios/load", ts.admin(), map[string]any{"scenario_id": s.ID})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			policies, err := ts.store.ListPolicies(context.Background())
			require.NoError(t, err)
			assert.NotEmpty(t, policies)
		})
	}
}

func TestScenarios_TeamReview(t *testing.T) {
	// GIVEN: The team-review scenario
	// WHEN: It is loaded
	// THEN: Only Alice's request is pending and Bob's approval consumed 2 days

	ts := newTestServer(t)
	admin := ts.admin()

	rec := ts.do(http.MethodPost, "/api/scenarios/load", admin, map[string]any{"scenario_id": "team-review"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodGet, "/api/requests/pending", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decodeAs[[]RequestDTO](t, rec)
	require.Len(t, pending, 1)
	assert.Equal(t, "emp-alice", pending[0].EmployeeID)

	bal, err := ts.store.GetBalance(context.Background(), "emp-bob", "vacation")
	require.NoError(t, err)
	assert.True(t, bal.Remaining.Equal(decimal.NewFromInt(18)), "remaining = %s", bal.Remaining)

	carol, err := ts.store.ListRequests(context.Background(), generic.RequestFilter{EmployeeID: "emp-carol"})
	require.NoError(t, err)
	require.Len(t, carol, 2)
	assert.Equal(t, generic.RequestRejected, carol[0].Status)
	assert.Equal(t, generic.RequestCancelled, carol[1].Status)

	rec = ts.do(http.MethodGet, "/api/scenarios/current", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	current := decodeAs[map[string]ScenarioDTO](t, rec)
	assert.Equal(t, "team-review", current["scenario"].ID)
}

func TestScenarios_LoadingResetsPreviousData(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.admin()

	for _, id := range []string{"team-review", "negative-balance"} {
		rec := ts.do(http.MethodPost, "/api/scenarios/load", admin, map[string]any{"scenario_id": id})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	policies, err := ts.store.ListPolicies(context.Background())
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.Equal(t, generic.PolicyID("sick"), policies[0].ID)

	_, err = ts.store.GetBalance(context.Background(), "emp-bob", "vacation")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestScenarios_NegativeBalanceApproval(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.admin()
	rec := ts.do(http.MethodPost, "/api/scenarios/load", admin, map[string]any{"scenario_id": "negative-balance"})
	require.Equal(t, http.StatusOK, rec.Code)

	pending := decodeAs[[]RequestDTO](t, ts.do(http.MethodGet, "/api/requests/pending", admin, nil))
	require.Len(t, pending, 1)

	rec = ts.do(http.MethodPost, "/api/requests/"+pending[0].ID+"/review", admin, map[string]any{"decision": "approved"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	bal, err := ts.store.GetBalance(context.Background(), "emp-erin", "sick")
	require.NoError(t, err)
	assert.True(t, bal.Remaining.Equal(decimal.NewFromInt(-3)), "remaining = %s", bal.Remaining)
}

func TestScenarios_UnknownAndCurrentEmpty(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.admin()

	rec := ts.do(http.MethodPost, "/api/scenarios/load", admin, map[string]any{"scenario_id": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, "/api/scenarios/current", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"scenario":null}`, rec.Body.String())

	rec = ts.do(http.MethodGet, "/api/scenarios", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeAs[[]ScenarioDTO](t, rec), len(scenarios))
}
