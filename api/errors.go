package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/warp/absence-engine/generic"
	"go.uber.org/zap"
)

// errorStatus maps a domain error to an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, generic.ErrInvalidDateRange):
		return http.StatusBadRequest, "invalid_date_range"
	case errors.Is(err, generic.ErrMissingReason):
		return http.StatusBadRequest, "missing_reason"
	case errors.Is(err, generic.ErrInvalidPolicy):
		return http.StatusBadRequest, "invalid_policy"
	case errors.Is(err, generic.ErrInvalidDecision):
		return http.StatusBadRequest, "invalid_decision"
	case errors.Is(err, generic.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, generic.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, generic.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, generic.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, generic.ErrPolicyInUse):
		return http.StatusConflict, "policy_in_use"
	case errors.Is(err, generic.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeDomainError writes err with its mapped status. Internal errors are
// logged and their text is not sent to the client.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, code, "internal error", nil)
		return
	}

	var details any
	var ib *generic.InsufficientBalanceError
	if errors.As(err, &ib) {
		details = map[string]string{
			"available": ib.Available.String(),
			"requested": ib.Requested.String(),
			"shortfall": ib.Shortfall().String(),
		}
	}
	writeError(w, status, code, err.Error(), details)
}

// writeValidationError reports field failures as {"field": "tag"}.
func writeValidationError(w http.ResponseWriter, err error) {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return
	}

	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fe.Field()] = fe.Tag()
	}
	writeError(w, http.StatusBadRequest, "validation_failed", "validation failed", fields)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}
