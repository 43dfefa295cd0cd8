/*
projection.go - Balance seen together with requests awaiting review

PURPOSE:
  A Balance only moves when a request is approved, so it says nothing about
  days already asked for. A Projection adds the pending requests for the
  same (employee, policy) and answers "what is left if everything pending
  is approved?".

KEY INSIGHT:
  Projected can be negative even under a policy that forbids negative
  balances: submission does not check balances, approval does. The
  projection is informational; it never blocks anything.

EXAMPLE:
  bal remaining 5, pending requests of 3 and 4 days
  → PendingDays 7, Projected -2

SEE ALSO:
  - balance.go: Balance
  - ledger.go: Debit on approval
*/
package generic

import "github.com/shopspring/decimal"

type Projection struct {
	Balance
	PendingCount int
	PendingDays  int
	Projected    decimal.Decimal
}

// Project combines bal with the requests in pending that are Pending and
// belong to the same employee and policy. Others are ignored.
func Project(bal Balance, pending []Request) Projection {
	p := Projection{Balance: bal}
	for _, r := range pending {
		if r.Status != RequestPending || r.EmployeeID != bal.EmployeeID || r.PolicyID != bal.PolicyID {
			continue
		}
		p.PendingCount++
		p.PendingDays += r.RequestedDays
	}
	p.Projected = bal.Remaining.Sub(decimal.NewFromInt(int64(p.PendingDays)))
	return p
}

// ProjectAll projects every balance against one employee's pending requests.
func ProjectAll(balances []Balance, pending []Request) []Projection {
	out := make([]Projection, len(balances))
	for i, b := range balances {
		out[i] = Project(b, pending)
	}
	return out
}

// Overcommitted reports whether approving everything pending would fail
// under a policy that does not allow negative balances.
func (p Projection) Overcommitted() bool {
	return p.Projected.IsNegative()
}
