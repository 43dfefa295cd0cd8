/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for demos. Each scenario creates policies, opens balances and
	files requests through the same services the API uses, so the audit
	trail of a loaded scenario looks like real traffic.

AVAILABLE SCENARIOS:

	single-employee:  One vacation policy, one employee, one pending request
	team-review:      Vacation and sick leave for a team, requests in every state
	negative-balance: Sick leave that may go negative, approval takes it below zero
	low-balance:      Two pending requests that do not both fit the balance

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Create policies
 3. Open balances
 4. Submit requests, then review or cancel some of them

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "team-review"}

ADDING NEW SCENARIOS:
 1. Add an entry to 'scenarios' with ID, name, description and loader

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler and its services
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/leave"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, s *seeder) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "single-employee",
			Name:        "Single Employee",
			Description: "One 20-day vacation policy and one employee with a pending 3-day request",
		},
		load: loadSingleEmployee,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "team-review",
			Name:        "Team Review",
			Description: "Vacation and sick leave for three employees with pending, approved, rejected and cancelled requests",
		},
		load: loadTeamReview,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "negative-balance",
			Name:        "Negative Balance",
			Description: "Sick leave that allows a negative balance; the pending 5-day request exceeds the 2 days left",
		},
		load: loadNegativeBalance,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "low-balance",
			Name:        "Low Balance",
			Description: "Five vacation days and two pending requests of 3 and 4 days; only one can be approved",
		},
		load: loadLowBalance,
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// HANDLERS
// =============================================================================

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, map[string]any{"scenario": nil})
		return
	}
	s, _ := findScenario(current)
	writeJSON(w, http.StatusOK, map[string]any{"scenario": s.ScenarioDTO})
}

func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("unknown scenario %q", req.ScenarioID), nil)
		return
	}

	// One load at a time; a concurrent Reset would interleave with seeding.
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.loadScenario(r.Context(), s); err != nil {
		h.logger.Error("scenario load failed", zap.String("scenario", s.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "failed to load scenario", err.Error())
		return
	}
	h.currentScenario = s.ID
	h.logger.Info("scenario loaded", zap.String("scenario", s.ID))

	writeJSON(w, http.StatusOK, map[string]any{
		"scenario": s.ScenarioDTO,
		"message":  "scenario loaded",
	})
}

func (h *Handler) loadScenario(ctx context.Context, s scenario) error {
	if err := h.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	seed := &seeder{h: h, actor: "scenario-loader"}
	return s.load(leave.ContextWithActor(ctx, seed.actor), seed)
}

// =============================================================================
// SEEDING HELPERS
// =============================================================================

// seeder drives the services so scenario data passes the same rules and
// emits the same events as API traffic.
type seeder struct {
	h     *Handler
	actor string
}

func (s *seeder) policy(ctx context.Context, id, name string, days int, allowNegative bool) error {
	_, err := s.h.policies.Create(ctx, generic.Policy{
		ID:                   generic.PolicyID(id),
		Name:                 name,
		DaysPerYear:          days,
		AllowNegativeBalance: allowNegative,
	})
	return err
}

// open uses the policy's DaysPerYear when opening is negative.
func (s *seeder) open(ctx context.Context, employee, policy string, opening int64) error {
	in := leave.OpenInput{
		EmployeeID: generic.EmployeeID(employee),
		PolicyID:   generic.PolicyID(policy),
		Actor:      s.actor,
	}
	if opening >= 0 {
		d := decimal.NewFromInt(opening)
		in.Opening = &d
	}
	_, err := s.h.balances.Open(ctx, in)
	return err
}

// submit files a request starting offset days from today for days days.
func (s *seeder) submit(ctx context.Context, employee, policy string, offset, days int, reason string) (generic.RequestID, error) {
	start := generic.Today().AddDays(offset)
	req, err := s.h.workflow.Submit(ctx, leave.SubmitInput{
		EmployeeID: generic.EmployeeID(employee),
		PolicyID:   generic.PolicyID(policy),
		StartDate:  start,
		EndDate:    start.AddDays(days - 1),
		Reason:     reason,
	})
	if err != nil {
		return "", err
	}
	return req.ID, nil
}

func (s *seeder) review(ctx context.Context, id generic.RequestID, decision leave.Decision, reviewer, notes string) error {
	_, err := s.h.workflow.Review(ctx, leave.ReviewInput{
		RequestID:    id,
		Decision:     decision,
		ManagerNotes: notes,
		ReviewerID:   reviewer,
	})
	return err
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadSingleEmployee(ctx context.Context, s *seeder) error {
	if err := s.policy(ctx, "vacation", "Vacation", 20, false); err != nil {
		return err
	}
	if err := s.open(ctx, "emp-alice", "vacation", -1); err != nil {
		return err
	}
	_, err := s.submit(ctx, "emp-alice", "vacation", 14, 3, "Long weekend trip")
	return err
}

func loadTeamReview(ctx context.Context, s *seeder) error {
	if err := s.policy(ctx, "vacation", "Vacation", 20, false); err != nil {
		return err
	}
	if err := s.policy(ctx, "sick", "Sick Leave", 10, true); err != nil {
		return err
	}
	for _, emp := range []string{"emp-alice", "emp-bob", "emp-carol"} {
		for _, policy := range []string{"vacation", "sick"} {
			if err := s.open(ctx, emp, policy, -1); err != nil {
				return err
			}
		}
	}

	if _, err := s.submit(ctx, "emp-alice", "vacation", 21, 5, "Family visit"); err != nil {
		return err
	}

	approved, err := s.submit(ctx, "emp-bob", "vacation", 7, 2, "Moving apartments")
	if err != nil {
		return err
	}
	if err := s.review(ctx, approved, leave.DecisionApproved, "mgr-dana", "Enjoy"); err != nil {
		return err
	}

	rejected, err := s.submit(ctx, "emp-carol", "vacation", 3, 4, "Conference")
	if err != nil {
		return err
	}
	if err := s.review(ctx, rejected, leave.DecisionRejected, "mgr-dana", "Release week, please move it"); err != nil {
		return err
	}

	cancelled, err := s.submit(ctx, "emp-carol", "sick", 1, 1, "Dentist")
	if err != nil {
		return err
	}
	_, err = s.h.workflow.Cancel(ctx, cancelled, "emp-carol")
	return err
}

func loadNegativeBalance(ctx context.Context, s *seeder) error {
	if err := s.policy(ctx, "sick", "Sick Leave", 10, true); err != nil {
		return err
	}
	if err := s.open(ctx, "emp-erin", "sick", 2); err != nil {
		return err
	}
	_, err := s.submit(ctx, "emp-erin", "sick", 0, 5, "Recovery after surgery")
	return err
}

func loadLowBalance(ctx context.Context, s *seeder) error {
	if err := s.policy(ctx, "vacation", "Vacation", 20, false); err != nil {
		return err
	}
	if err := s.open(ctx, "emp-frank", "vacation", 5); err != nil {
		return err
	}
	if _, err := s.submit(ctx, "emp-frank", "vacation", 10, 3, "Ski trip"); err != nil {
		return err
	}
	_, err := s.submit(ctx, "emp-frank", "vacation", 30, 4, "Wedding")
	return err
}
