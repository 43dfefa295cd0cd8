/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  domain types in generic/.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry go-playground/validator tags. Handlers validate the
  shape (required fields, formats, enums); the domain still enforces its
  own rules, so a blank reason is reported as missing_reason, not as a
  validation failure.

DECIMALS:
  Day amounts are shopspring decimals, serialized as JSON strings ("2.5").

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/absence-engine/generic"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type PolicyRequest struct {
	ID                   string `json:"id" validate:"omitempty,max=64"`
	Name                 string `json:"name" validate:"required,max=200"`
	DaysPerYear          *int   `json:"days_per_year" validate:"required,min=0,max=366"`
	AllowNegativeBalance bool   `json:"allow_negative_balance"`
}

type SubmitRequest struct {
	PolicyID  string `json:"policy_id" validate:"required"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
	Reason    string `json:"reason" validate:"max=2000"`
}

type ReviewRequest struct {
	Decision     string `json:"decision" validate:"required,oneof=approved rejected"`
	ManagerNotes string `json:"manager_notes" validate:"max=2000"`
}

type OpenBalanceRequest struct {
	EmployeeID string           `json:"employee_id" validate:"required"`
	PolicyID   string           `json:"policy_id" validate:"required"`
	Opening    *decimal.Decimal `json:"opening,omitempty"`
}

type AdjustmentRequest struct {
	EmployeeID string          `json:"employee_id" validate:"required"`
	PolicyID   string          `json:"policy_id" validate:"required"`
	Delta      decimal.Decimal `json:"delta"`
	Reason     string          `json:"reason" validate:"required,max=2000"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type PolicyDTO struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	DaysPerYear          int    `json:"days_per_year"`
	AllowNegativeBalance bool   `json:"allow_negative_balance"`
	CreatedAt            string `json:"created_at"`
	UpdatedAt            string `json:"updated_at"`
}

type BalanceDTO struct {
	EmployeeID string          `json:"employee_id"`
	PolicyID   string          `json:"policy_id"`
	Remaining  decimal.Decimal `json:"remaining"`
	Consumed   decimal.Decimal `json:"consumed"`
	UpdatedAt  string          `json:"updated_at"`
}

// BalanceProjectionDTO is a balance plus the days awaiting review.
type BalanceProjectionDTO struct {
	BalanceDTO
	PendingCount int             `json:"pending_count"`
	PendingDays  int             `json:"pending_days"`
	Projected    decimal.Decimal `json:"projected"`
}

type TransactionDTO struct {
	ID          string          `json:"id"`
	EmployeeID  string          `json:"employee_id"`
	PolicyID    string          `json:"policy_id"`
	Delta       decimal.Decimal `json:"delta"`
	Type        string          `json:"type"`
	ReferenceID string          `json:"reference_id,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	CreatedBy   string          `json:"created_by,omitempty"`
	CreatedAt   string          `json:"created_at"`
}

type RequestDTO struct {
	ID            string  `json:"id"`
	EmployeeID    string  `json:"employee_id"`
	PolicyID      string  `json:"policy_id"`
	StartDate     string  `json:"start_date"`
	EndDate       string  `json:"end_date"`
	RequestedDays int     `json:"requested_days"`
	Reason        string  `json:"reason"`
	Status        string  `json:"status"`
	ManagerNotes  string  `json:"manager_notes,omitempty"`
	ReviewedBy    string  `json:"reviewed_by,omitempty"`
	ReviewedAt    *string `json:"reviewed_at,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

type AuditEntryDTO struct {
	ID         string         `json:"id"`
	Timestamp  string         `json:"timestamp"`
	ActorID    string         `json:"actor_id,omitempty"`
	Action     string         `json:"action"`
	RequestID  string         `json:"request_id,omitempty"`
	EmployeeID string         `json:"employee_id,omitempty"`
	PolicyID   string         `json:"policy_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func toPolicyDTO(p generic.Policy) PolicyDTO {
	return PolicyDTO{
		ID:                   string(p.ID),
		Name:                 p.Name,
		DaysPerYear:          p.DaysPerYear,
		AllowNegativeBalance: p.AllowNegativeBalance,
		CreatedAt:            formatTime(p.CreatedAt),
		UpdatedAt:            formatTime(p.UpdatedAt),
	}
}

func toBalanceDTO(b generic.Balance) BalanceDTO {
	return BalanceDTO{
		EmployeeID: string(b.EmployeeID),
		PolicyID:   string(b.PolicyID),
		Remaining:  b.Remaining,
		Consumed:   b.Consumed,
		UpdatedAt:  formatTime(b.UpdatedAt),
	}
}

func toBalanceProjectionDTO(p generic.Projection) BalanceProjectionDTO {
	return BalanceProjectionDTO{
		BalanceDTO:   toBalanceDTO(p.Balance),
		PendingCount: p.PendingCount,
		PendingDays:  p.PendingDays,
		Projected:    p.Projected,
	}
}

func toTransactionDTO(tx generic.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:          string(tx.ID),
		EmployeeID:  string(tx.EmployeeID),
		PolicyID:    string(tx.PolicyID),
		Delta:       tx.Delta,
		Type:        string(tx.Type),
		ReferenceID: tx.ReferenceID,
		Reason:      tx.Reason,
		CreatedBy:   tx.CreatedBy,
		CreatedAt:   formatTime(tx.CreatedAt),
	}
}

func toRequestDTO(r generic.Request) RequestDTO {
	dto := RequestDTO{
		ID:            string(r.ID),
		EmployeeID:    string(r.EmployeeID),
		PolicyID:      string(r.PolicyID),
		StartDate:     r.StartDate.String(),
		EndDate:       r.EndDate.String(),
		RequestedDays: r.RequestedDays,
		Reason:        r.Reason,
		Status:        string(r.Status),
		ManagerNotes:  r.ManagerNotes,
		ReviewedBy:    r.ReviewedBy,
		CreatedAt:     formatTime(r.CreatedAt),
		UpdatedAt:     formatTime(r.UpdatedAt),
	}
	if r.ReviewedAt != nil {
		at := formatTime(*r.ReviewedAt)
		dto.ReviewedAt = &at
	}
	return dto
}

func toAuditEntryDTO(e generic.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:         e.ID,
		Timestamp:  formatTime(e.Timestamp),
		ActorID:    e.ActorID,
		Action:     string(e.Action),
		RequestID:  string(e.RequestID),
		EmployeeID: string(e.EmployeeID),
		PolicyID:   string(e.PolicyID),
		Payload:    e.Payload,
	}
}

func mapSlice[T, D any](items []T, conv func(T) D) []D {
	out := make([]D, len(items))
	for i, item := range items {
		out[i] = conv(item)
	}
	return out
}
