package leave

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/absence-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// POLICY SERVICE - CRUD over leave policies
// =============================================================================

// PolicyService validates policy shape and refuses to delete a policy that
// balances or requests still point at.
type PolicyService struct {
	store  generic.TxStore
	opts   options
	events emitter
	logger *zap.Logger
}

func NewPolicyService(store generic.TxStore, opts ...Option) *PolicyService {
	o := buildOptions(opts)
	return &PolicyService{
		store:  store,
		opts:   o,
		events: o.emitter("policies"),
		logger: o.logger.Named("policies"),
	}
}

func (ps *PolicyService) List(ctx context.Context) ([]generic.Policy, error) {
	policies, err := ps.store.ListPolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	return policies, nil
}

func (ps *PolicyService) Get(ctx context.Context, id generic.PolicyID) (*generic.Policy, error) {
	return ps.store.GetPolicy(ctx, id)
}

// Create stores a new policy. An empty ID is filled with a UUID.
func (ps *PolicyService) Create(ctx context.Context, p generic.Policy) (*generic.Policy, error) {
	p.Name = strings.TrimSpace(p.Name)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = generic.PolicyID(ps.opts.newID())
	}
	now := ps.opts.now()
	p.CreatedAt, p.UpdatedAt = now, now

	if err := ps.store.CreatePolicy(ctx, p); err != nil {
		return nil, fmt.Errorf("create policy %s: %w", p.ID, err)
	}

	ps.logger.Info("policy created", zap.String("policy_id", string(p.ID)), zap.String("name", p.Name))
	ps.events.emit(ctx, policyEvent(p, "created"))
	return &p, nil
}

// Update replaces name, daysPerYear and allowNegativeBalance of an existing
// policy. Balances already opened keep their amounts.
func (ps *PolicyService) Update(ctx context.Context, p generic.Policy) (*generic.Policy, error) {
	p.Name = strings.TrimSpace(p.Name)
	if err := p.Validate(); err != nil {
		return nil, err
	}

	err := ps.store.WithTx(ctx, func(tx generic.Store) error {
		existing, err := tx.GetPolicy(ctx, p.ID)
		if err != nil {
			return err
		}
		p.CreatedAt = existing.CreatedAt
		p.UpdatedAt = ps.opts.now()
		return tx.UpdatePolicy(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("update policy %s: %w", p.ID, err)
	}

	ps.logger.Info("policy updated", zap.String("policy_id", string(p.ID)))
	ps.events.emit(ctx, policyEvent(p, "updated"))
	return &p, nil
}

// Delete removes a policy nobody references. Otherwise ErrPolicyInUse.
func (ps *PolicyService) Delete(ctx context.Context, id generic.PolicyID) error {
	var deleted generic.Policy
	err := ps.store.WithTx(ctx, func(tx generic.Store) error {
		existing, err := tx.GetPolicy(ctx, id)
		if err != nil {
			return err
		}
		used, err := tx.PolicyReferenced(ctx, id)
		if err != nil {
			return err
		}
		if used {
			return generic.ErrPolicyInUse
		}
		deleted = *existing
		return tx.DeletePolicy(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete policy %s: %w", id, err)
	}

	ps.logger.Info("policy deleted", zap.String("policy_id", string(id)))
	ps.events.emit(ctx, policyEvent(deleted, "deleted"))
	return nil
}

func policyEvent(p generic.Policy, op string) generic.AuditEntry {
	return generic.AuditEntry{
		Action:   generic.AuditPolicyChanged,
		PolicyID: p.ID,
		Payload: map[string]any{
			"op":                     op,
			"name":                   p.Name,
			"days_per_year":          p.DaysPerYear,
			"allow_negative_balance": p.AllowNegativeBalance,
		},
	}
}
