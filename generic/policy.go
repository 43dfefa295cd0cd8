/*
policy.go - Leave policy definition

PURPOSE:
  A Policy is a named category of leave ("Annual", "Sick") with a yearly
  entitlement and a rule for whether balances under it may go negative.

KEY CONCEPTS:
  - DaysPerYear: the default opening balance when a policy is assigned
  - AllowNegativeBalance: lets approvals overdraw the balance

EXAMPLE:
  policy := Policy{Name: "Annual Leave", DaysPerYear: 20}
  if err := policy.Validate(); err != nil { ... }

SEE ALSO:
  - ledger.go: Debit consults AllowNegativeBalance
  - leave/policies.go: CRUD service
*/
package generic

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// POLICY
// =============================================================================

type Policy struct {
	ID                   PolicyID
	Name                 string
	DaysPerYear          int
	AllowNegativeBalance bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Validate checks the policy's shape. It does not look at references.
func (p Policy) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPolicy)
	}
	if p.DaysPerYear < 0 {
		return fmt.Errorf("%w: days per year must be >= 0, got %d", ErrInvalidPolicy, p.DaysPerYear)
	}
	return nil
}
