/*
Package factory turns policy definition files into stored policies and
opening balances.

PURPOSE:
  HR keeps the leave catalog in a file under version control instead of
  clicking it together through the API. The factory parses that file,
  checks it, and applies it through the leave services so every record
  passes the same validation and produces the same audit events as an
  API call.

FILE FORMAT (YAML, or JSON since JSON is valid YAML):
  policies:
    - id: annual
      name: Annual Leave
      days_per_year: 25
    - id: sick
      name: Sick Leave
      days_per_year: 10
      allow_negative_balance: true
  balances:
    - employee_id: emp-alice
      policy_id: annual
    - employee_id: emp-alice
      policy_id: sick
      opening: 4.5

  A balance without opening starts at the policy's days_per_year.

IDEMPOTENCE:
  Apply skips policies and balances that already exist, so the same file
  can be applied on every start. Existing records are never overwritten.

SEE ALSO:
  - leave/policies.go: PolicyService.Create
  - leave/balances.go: BalanceService.Open
  - cmd/server/main.go: Applies store.seed_file at startup
*/
package factory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/absence-engine/generic"
	"github.com/warp/absence-engine/leave"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// FILE SCHEMA
// =============================================================================

type PolicyDefinition struct {
	ID                   string `yaml:"id"`
	Name                 string `yaml:"name"`
	DaysPerYear          int    `yaml:"days_per_year"`
	AllowNegativeBalance bool   `yaml:"allow_negative_balance"`
}

type BalanceDefinition struct {
	EmployeeID string   `yaml:"employee_id"`
	PolicyID   string   `yaml:"policy_id"`
	Opening    *float64 `yaml:"opening,omitempty"`
}

// Catalog is the parsed content of a definition file.
type Catalog struct {
	Policies []PolicyDefinition  `yaml:"policies"`
	Balances []BalanceDefinition `yaml:"balances"`
}

// ErrInvalidCatalog wraps every problem found by Validate.
var ErrInvalidCatalog = errors.New("invalid catalog")

// =============================================================================
// PARSING
// =============================================================================

// Parse decodes a YAML or JSON catalog and validates it.
func Parse(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFile reads and parses the catalog at path.
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Validate checks the catalog on its own. Balances may reference policies
// that are not in the file; those must already exist when Apply runs.
func (c *Catalog) Validate() error {
	var errs []error

	seen := make(map[string]bool, len(c.Policies))
	for i, d := range c.Policies {
		id := strings.TrimSpace(d.ID)
		if id == "" {
			errs = append(errs, fmt.Errorf("policies[%d]: id is required", i))
		} else if seen[id] {
			errs = append(errs, fmt.Errorf("policies[%d]: duplicate id %q", i, id))
		}
		seen[id] = true

		if err := d.policy().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("policies[%d]: %w", i, err))
		}
	}

	type key struct{ emp, policy string }
	opened := make(map[key]bool, len(c.Balances))
	for i, d := range c.Balances {
		if strings.TrimSpace(d.EmployeeID) == "" || strings.TrimSpace(d.PolicyID) == "" {
			errs = append(errs, fmt.Errorf("balances[%d]: employee_id and policy_id are required", i))
			continue
		}
		k := key{d.EmployeeID, d.PolicyID}
		if opened[k] {
			errs = append(errs, fmt.Errorf("balances[%d]: duplicate balance %s/%s", i, d.EmployeeID, d.PolicyID))
		}
		opened[k] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidCatalog, errors.Join(errs...))
	}
	return nil
}

func (d PolicyDefinition) policy() generic.Policy {
	return generic.Policy{
		ID:                   generic.PolicyID(strings.TrimSpace(d.ID)),
		Name:                 d.Name,
		DaysPerYear:          d.DaysPerYear,
		AllowNegativeBalance: d.AllowNegativeBalance,
	}
}

func (d BalanceDefinition) input(actor string) leave.OpenInput {
	in := leave.OpenInput{
		EmployeeID: generic.EmployeeID(d.EmployeeID),
		PolicyID:   generic.PolicyID(d.PolicyID),
		Actor:      actor,
	}
	if d.Opening != nil {
		opening := decimal.NewFromFloat(*d.Opening)
		in.Opening = &opening
	}
	return in
}

// =============================================================================
// APPLYING
// =============================================================================

// PolicyCreator is satisfied by *leave.PolicyService.
type PolicyCreator interface {
	Create(ctx context.Context, p generic.Policy) (*generic.Policy, error)
}

// BalanceOpener is satisfied by *leave.BalanceService.
type BalanceOpener interface {
	Open(ctx context.Context, in leave.OpenInput) (*generic.Balance, error)
}

// Result counts what Apply did.
type Result struct {
	PoliciesCreated int
	PoliciesSkipped int
	BalancesOpened  int
	BalancesSkipped int
}

// Apply creates the catalog's policies, then opens its balances, as actor.
// It stops at the first error other than ErrAlreadyExists; records applied
// before that point stay applied.
func (c *Catalog) Apply(ctx context.Context, policies PolicyCreator, balances BalanceOpener, actor string) (Result, error) {
	var res Result

	for _, d := range c.Policies {
		_, err := policies.Create(ctx, d.policy())
		switch {
		case errors.Is(err, generic.ErrAlreadyExists):
			res.PoliciesSkipped++
		case err != nil:
			return res, fmt.Errorf("policy %s: %w", d.ID, err)
		default:
			res.PoliciesCreated++
		}
	}

	for _, d := range c.Balances {
		_, err := balances.Open(ctx, d.input(actor))
		switch {
		case errors.Is(err, generic.ErrAlreadyExists):
			res.BalancesSkipped++
		case err != nil:
			return res, fmt.Errorf("balance %s/%s: %w", d.EmployeeID, d.PolicyID, err)
		default:
			res.BalancesOpened++
		}
	}

	return res, nil
}
