package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BALANCE - Running balance per (employee, policy)
// =============================================================================

// Balance is the current state of one employee's entitlement under one policy.
// Remaining may be negative only if the policy allows it.
type Balance struct {
	EmployeeID EmployeeID
	PolicyID   PolicyID
	Remaining  decimal.Decimal
	Consumed   decimal.Decimal // approved days net of reversals
	UpdatedAt  time.Time
}

// CanDebit reports whether days can be taken out of the balance.
func (b Balance) CanDebit(days decimal.Decimal, allowNegative bool) bool {
	if allowNegative {
		return true
	}
	return !b.Remaining.Sub(days).IsNegative()
}
