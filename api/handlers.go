/*
handlers.go - HTTP API handlers for the absence engine

PURPOSE:
  Exposes policies, balances and the leave request workflow over REST.
  Handlers parse and validate input, call the leave services and map
  domain errors to HTTP status codes (errors.go).

ENDPOINTS:
  Policies:
    GET    /api/policies                      List policies
    GET    /api/policies/{id}                 Get one policy
    POST   /api/policies                      Create (policies:manage)
    PUT    /api/policies/{id}                 Update (policies:manage)
    DELETE /api/policies/{id}                 Delete (policies:manage)

  Employees (self, or absences:manage):
    GET    /api/employees/{id}/balances       Balances per policy with pending days
    GET    /api/employees/{id}/transactions   Balance history (?policy_id=)
    GET    /api/employees/{id}/requests       The employee's requests

  Requests:
    POST   /api/requests                      Submit for the caller
    GET    /api/requests/pending              Review queue (absences:manage)
    GET    /api/requests/{id}                 Owner, or absences:manage
    POST   /api/requests/{id}/cancel          Owner only
    POST   /api/requests/{id}/review          absences:manage

  Admin:
    POST   /api/admin/balances                Open a balance (balances:manage)
    POST   /api/admin/adjustments             Manual correction (balances:manage)
    GET    /api/audit                         Audit trail (audit:read)

  Scenarios (policies:manage):
    GET    /api/scenarios                     List demo scenarios
    GET    /api/scenarios/current             Last loaded scenario
    POST   /api/scenarios/load                Reset and load a scenario

IDENTITY:
  The caller is the token's employee id. Submit files for the caller,
  Cancel passes the caller to the workflow which enforces ownership, and
  Review records the caller as reviewer.

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Error to status mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/leave"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is the storage the API runs on. Every store in this module
// satisfies it.
type Backend interface {
	generic.TxStore
	generic.AuditLog
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	store     Backend
	policies  *leave.PolicyService
	balances  *leave.BalanceService
	workflow  *leave.Workflow
	logger    *zap.Logger
	validate  *validator.Validate
	startedAt time.Time

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the leave services over store. opts are passed to every
// service (notifier, logger, clock).
func NewHandler(store Backend, logger *zap.Logger, opts ...leave.Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = append([]leave.Option{leave.WithLogger(logger)}, opts...)

	return &Handler{
		store:     store,
		policies:  leave.NewPolicyService(store, opts...),
		balances:  leave.NewBalanceService(store, opts...),
		workflow:  leave.NewWorkflow(store, opts...),
		logger:    logger.Named("http"),
		validate:  newValidator(),
		startedAt: time.Now(),
	}
}

// newValidator reports field errors under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. On failure it has
// already written the response.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

func (h *Handler) caller(r *http.Request) *Claims {
	claims, _ := ClaimsFrom(r.Context())
	return claims
}

// Health reports liveness and, when the store supports it, connectivity.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// =============================================================================
// POLICY HANDLERS
// =============================================================================

func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.policies.List(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(policies, toPolicyDTO))
}

func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.policies.Get(r.Context(), generic.PolicyID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req PolicyRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.policies.Create(r.Context(), generic.Policy{
		ID:                   generic.PolicyID(req.ID),
		Name:                 req.Name,
		DaysPerYear:          *req.DaysPerYear,
		AllowNegativeBalance: req.AllowNegativeBalance,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPolicyDTO(*p))
}

// UpdatePolicy takes the id from the path; a body id is ignored.
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req PolicyRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.policies.Update(r.Context(), generic.Policy{
		ID:                   generic.PolicyID(chi.URLParam(r, "id")),
		Name:                 req.Name,
		DaysPerYear:          *req.DaysPerYear,
		AllowNegativeBalance: req.AllowNegativeBalance,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPolicyDTO(*p))
}

func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.policies.Delete(r.Context(), generic.PolicyID(chi.URLParam(r, "id"))); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// employeeParam returns the {id} path parameter if the caller may read that
// employee's data. Otherwise it writes 403 and returns false.
func (h *Handler) employeeParam(w http.ResponseWriter, r *http.Request) (generic.EmployeeID, bool) {
	id := chi.URLParam(r, "id")
	if !canActFor(r.Context(), id) {
		writeError(w, http.StatusForbidden, "forbidden", "cannot view another employee's data", nil)
		return "", false
	}
	return generic.EmployeeID(id), true
}

func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	employeeID, ok := h.employeeParam(w, r)
	if !ok {
		return
	}
	projections, err := h.balances.Projections(r.Context(), employeeID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(projections, toBalanceProjectionDTO))
}

func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	employeeID, ok := h.employeeParam(w, r)
	if !ok {
		return
	}
	policyID := generic.PolicyID(r.URL.Query().Get("policy_id"))
	txs, err := h.balances.Transactions(r.Context(), employeeID, policyID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(txs, toTransactionDTO))
}

func (h *Handler) ListEmployeeRequests(w http.ResponseWriter, r *http.Request) {
	employeeID, ok := h.employeeParam(w, r)
	if !ok {
		return
	}
	requests, err := h.workflow.ListForEmployee(r.Context(), employeeID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(requests, toRequestDTO))
}

// =============================================================================
// REQUEST WORKFLOW HANDLERS
// =============================================================================

func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !h.decode(w, r, &req) {
		return
	}
	// Formats were validated above.
	start, _ := generic.ParseDate(req.StartDate)
	end, _ := generic.ParseDate(req.EndDate)

	created, err := h.workflow.Submit(r.Context(), leave.SubmitInput{
		EmployeeID: generic.EmployeeID(h.caller(r).EmployeeID),
		PolicyID:   generic.PolicyID(req.PolicyID),
		StartDate:  start,
		EndDate:    end,
		Reason:     req.Reason,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(*created))
}

func (h *Handler) ListPendingRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.workflow.ListPending(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(requests, toRequestDTO))
}

func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.workflow.Get(r.Context(), generic.RequestID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if !canActFor(r.Context(), string(req.EmployeeID)) {
		writeError(w, http.StatusForbidden, "forbidden", "cannot view another employee's request", nil)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.workflow.Cancel(r.Context(),
		generic.RequestID(chi.URLParam(r, "id")),
		generic.EmployeeID(h.caller(r).EmployeeID),
	)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

func (h *Handler) ReviewRequest(w http.ResponseWriter, r *http.Request) {
	var body ReviewRequest
	if !h.decode(w, r, &body) {
		return
	}

	req, err := h.workflow.Review(r.Context(), leave.ReviewInput{
		RequestID:    generic.RequestID(chi.URLParam(r, "id")),
		Decision:     leave.Decision(body.Decision),
		ManagerNotes: body.ManagerNotes,
		ReviewerID:   h.caller(r).EmployeeID,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(*req))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

func (h *Handler) OpenBalance(w http.ResponseWriter, r *http.Request) {
	var req OpenBalanceRequest
	if !h.decode(w, r, &req) {
		return
	}

	bal, err := h.balances.Open(r.Context(), leave.OpenInput{
		EmployeeID: generic.EmployeeID(req.EmployeeID),
		PolicyID:   generic.PolicyID(req.PolicyID),
		Opening:    req.Opening,
		Actor:      h.caller(r).EmployeeID,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBalanceDTO(*bal))
}

func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	bal, err := h.balances.Adjust(r.Context(), leave.AdjustInput{
		EmployeeID: generic.EmployeeID(req.EmployeeID),
		PolicyID:   generic.PolicyID(req.PolicyID),
		Delta:      req.Delta,
		Reason:     req.Reason,
		Actor:      h.caller(r).EmployeeID,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(*bal))
}

// QueryAudit filters the audit trail.
// GET /api/audit?employee_id=&request_id=&action=&from=&to=&limit=
// action may repeat; from and to are RFC3339.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query", err.Error(), nil)
		return
	}
	entries, err := h.store.QueryAudit(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(entries, toAuditEntryDTO))
}

func parseAuditFilter(r *http.Request) (generic.AuditFilter, error) {
	q := r.URL.Query()
	filter := generic.AuditFilter{
		EmployeeID: generic.EmployeeID(q.Get("employee_id")),
		RequestID:  generic.RequestID(q.Get("request_id")),
	}
	for _, a := range q["action"] {
		filter.Actions = append(filter.Actions, generic.AuditAction(a))
	}

	parseTime := func(key string) (*time.Time, error) {
		v := q.Get(key)
		if v == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("%s: expected RFC3339 timestamp", key)
		}
		return &t, nil
	}
	var err error
	if filter.From, err = parseTime("from"); err != nil {
		return filter, err
	}
	if filter.To, err = parseTime("to"); err != nil {
		return filter, err
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return filter, fmt.Errorf("limit: expected a non-negative integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
