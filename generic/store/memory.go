// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/absence-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	state memoryState
}

type memoryState struct {
	policies     map[generic.PolicyID]generic.Policy
	balances     map[balanceKey]generic.Balance
	requests     map[generic.RequestID]generic.Request
	requestOrder []generic.RequestID
	transactions []generic.Transaction
	audit        []generic.AuditEntry
}

type balanceKey struct {
	EmployeeID generic.EmployeeID
	PolicyID   generic.PolicyID
}

func NewMemory() *Memory {
	return &Memory{state: newMemoryState()}
}

func newMemoryState() memoryState {
	return memoryState{
		policies: make(map[generic.PolicyID]generic.Policy),
		balances: make(map[balanceKey]generic.Balance),
		requests: make(map[generic.RequestID]generic.Request),
	}
}

// Reset drops all data. Used by the demo scenarios.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newMemoryState()
	return nil
}

// =============================================================================
// POLICIES
// =============================================================================

func (m *Memory) ListPolicies(_ context.Context) ([]generic.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listPolicies(), nil
}

func (m *Memory) GetPolicy(_ context.Context, id generic.PolicyID) (*generic.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getPolicy(id)
}

func (m *Memory) CreatePolicy(_ context.Context, p generic.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.createPolicy(p)
}

func (m *Memory) UpdatePolicy(_ context.Context, p generic.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.updatePolicy(p)
}

func (m *Memory) DeletePolicy(_ context.Context, id generic.PolicyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.deletePolicy(id)
}

func (m *Memory) PolicyReferenced(_ context.Context, id generic.PolicyID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.policyReferenced(id), nil
}

func (s *memoryState) listPolicies() []generic.Policy {
	result := make([]generic.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (s *memoryState) getPolicy(id generic.PolicyID) (*generic.Policy, error) {
	p, ok := s.policies[id]
	if !ok {
		return nil, generic.NotFound("policy", string(id))
	}
	return &p, nil
}

func (s *memoryState) createPolicy(p generic.Policy) error {
	if _, ok := s.policies[p.ID]; ok {
		return generic.ErrAlreadyExists
	}
	s.policies[p.ID] = p
	return nil
}

func (s *memoryState) updatePolicy(p generic.Policy) error {
	if _, ok := s.policies[p.ID]; !ok {
		return generic.NotFound("policy", string(p.ID))
	}
	s.policies[p.ID] = p
	return nil
}

func (s *memoryState) deletePolicy(id generic.PolicyID) error {
	if _, ok := s.policies[id]; !ok {
		return generic.NotFound("policy", string(id))
	}
	delete(s.policies, id)
	return nil
}

func (s *memoryState) policyReferenced(id generic.PolicyID) bool {
	for k := range s.balances {
		if k.PolicyID == id {
			return true
		}
	}
	for _, r := range s.requests {
		if r.PolicyID == id {
			return true
		}
	}
	return false
}

// =============================================================================
// BALANCES
// =============================================================================

func (m *Memory) ListBalances(_ context.Context, employeeID generic.EmployeeID) ([]generic.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listBalances(employeeID), nil
}

func (m *Memory) GetBalance(_ context.Context, employeeID generic.EmployeeID, policyID generic.PolicyID) (*generic.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getBalance(employeeID, policyID)
}

func (m *Memory) CreateBalance(_ context.Context, b generic.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.createBalance(b)
}

func (m *Memory) SaveBalance(_ context.Context, b generic.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.saveBalance(b)
}

func (s *memoryState) listBalances(employeeID generic.EmployeeID) []generic.Balance {
	result := []generic.Balance{}
	for k, b := range s.balances {
		if k.EmployeeID == employeeID {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PolicyID < result[j].PolicyID })
	return result
}

func (s *memoryState) getBalance(employeeID generic.EmployeeID, policyID generic.PolicyID) (*generic.Balance, error) {
	b, ok := s.balances[balanceKey{employeeID, policyID}]
	if !ok {
		return nil, generic.NotFound("balance", string(employeeID)+"/"+string(policyID))
	}
	return &b, nil
}

func (s *memoryState) createBalance(b generic.Balance) error {
	k := balanceKey{b.EmployeeID, b.PolicyID}
	if _, ok := s.balances[k]; ok {
		return generic.ErrAlreadyExists
	}
	s.balances[k] = b
	return nil
}

func (s *memoryState) saveBalance(b generic.Balance) error {
	k := balanceKey{b.EmployeeID, b.PolicyID}
	if _, ok := s.balances[k]; !ok {
		return generic.NotFound("balance", string(b.EmployeeID)+"/"+string(b.PolicyID))
	}
	s.balances[k] = b
	return nil
}

// =============================================================================
// REQUESTS
// =============================================================================

func (m *Memory) CreateRequest(_ context.Context, r generic.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.createRequest(r)
}

func (m *Memory) GetRequest(_ context.Context, id generic.RequestID) (*generic.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getRequest(id)
}

func (m *Memory) UpdateRequest(_ context.Context, r generic.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.updateRequest(r)
}

func (m *Memory) ListRequests(_ context.Context, filter generic.RequestFilter) ([]generic.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listRequests(filter), nil
}

func (s *memoryState) createRequest(r generic.Request) error {
	if _, ok := s.requests[r.ID]; ok {
		return generic.ErrAlreadyExists
	}
	s.requests[r.ID] = r
	s.requestOrder = append(s.requestOrder, r.ID)
	return nil
}

func (s *memoryState) getRequest(id generic.RequestID) (*generic.Request, error) {
	r, ok := s.requests[id]
	if !ok {
		return nil, generic.NotFound("request", string(id))
	}
	return &r, nil
}

func (s *memoryState) updateRequest(r generic.Request) error {
	if _, ok := s.requests[r.ID]; !ok {
		return generic.NotFound("request", string(r.ID))
	}
	s.requests[r.ID] = r
	return nil
}

// listRequests returns matches in submission order.
func (s *memoryState) listRequests(filter generic.RequestFilter) []generic.Request {
	result := []generic.Request{}
	for _, id := range s.requestOrder {
		r := s.requests[id]
		if !filter.Matches(r) {
			continue
		}
		result = append(result, r)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result
}

// =============================================================================
// TRANSACTIONS & AUDIT (append-only)
// =============================================================================

func (m *Memory) AppendTransaction(_ context.Context, tx generic.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.transactions = append(m.state.transactions, tx)
	return nil
}

func (m *Memory) ListTransactions(_ context.Context, employeeID generic.EmployeeID, policyID generic.PolicyID) ([]generic.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listTransactions(employeeID, policyID), nil
}

func (s *memoryState) listTransactions(employeeID generic.EmployeeID, policyID generic.PolicyID) []generic.Transaction {
	result := []generic.Transaction{}
	for _, tx := range s.transactions {
		if tx.EmployeeID != employeeID {
			continue
		}
		if policyID != "" && tx.PolicyID != policyID {
			continue
		}
		result = append(result, tx)
	}
	return result
}

func (m *Memory) AppendAudit(_ context.Context, entry generic.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.audit = append(m.state.audit, entry)
	return nil
}

func (m *Memory) QueryAudit(_ context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []generic.AuditEntry{}
	for _, e := range m.state.audit {
		if !filter.Matches(e) {
			continue
		}
		result = append(result, e)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with an exclusive lock, a snapshot,
// and a restore on error. Concurrent WithTx calls therefore run one at a time.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.state.clone()
	view := &txMemoryView{state: &tm.state}

	if err := fn(view); err != nil {
		tm.state = snapshot
		return err
	}
	return nil
}

func (s *memoryState) clone() memoryState {
	c := memoryState{
		policies:     make(map[generic.PolicyID]generic.Policy, len(s.policies)),
		balances:     make(map[balanceKey]generic.Balance, len(s.balances)),
		requests:     make(map[generic.RequestID]generic.Request, len(s.requests)),
		requestOrder: append([]generic.RequestID(nil), s.requestOrder...),
		transactions: append([]generic.Transaction(nil), s.transactions...),
		audit:        append([]generic.AuditEntry(nil), s.audit...),
	}
	for k, v := range s.policies {
		c.policies[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	return c
}

// txMemoryView is the Store handed to WithTx callbacks. The parent lock is
// already held, so it touches state directly. It deliberately has no WithTx.
type txMemoryView struct {
	state *memoryState
}

func (v *txMemoryView) ListPolicies(_ context.Context) ([]generic.Policy, error) {
	return v.state.listPolicies(), nil
}

func (v *txMemoryView) GetPolicy(_ context.Context, id generic.PolicyID) (*generic.Policy, error) {
	return v.state.getPolicy(id)
}

func (v *txMemoryView) CreatePolicy(_ context.Context, p generic.Policy) error {
	return v.state.createPolicy(p)
}

func (v *txMemoryView) UpdatePolicy(_ context.Context, p generic.Policy) error {
	return v.state.updatePolicy(p)
}

func (v *txMemoryView) DeletePolicy(_ context.Context, id generic.PolicyID) error {
	return v.state.deletePolicy(id)
}

func (v *txMemoryView) PolicyReferenced(_ context.Context, id generic.PolicyID) (bool, error) {
	return v.state.policyReferenced(id), nil
}

func (v *txMemoryView) ListBalances(_ context.Context, employeeID generic.EmployeeID) ([]generic.Balance, error) {
	return v.state.listBalances(employeeID), nil
}

func (v *txMemoryView) GetBalance(_ context.Context, employeeID generic.EmployeeID, policyID generic.PolicyID) (*generic.Balance, error) {
	return v.state.getBalance(employeeID, policyID)
}

func (v *txMemoryView) CreateBalance(_ context.Context, b generic.Balance) error {
	return v.state.createBalance(b)
}

func (v *txMemoryView) SaveBalance(_ context.Context, b generic.Balance) error {
	return v.state.saveBalance(b)
}

func (v *txMemoryView) CreateRequest(_ context.Context, r generic.Request) error {
	return v.state.createRequest(r)
}

func (v *txMemoryView) GetRequest(_ context.Context, id generic.RequestID) (*generic.Request, error) {
	return v.state.getRequest(id)
}

func (v *txMemoryView) UpdateRequest(_ context.Context, r generic.Request) error {
	return v.state.updateRequest(r)
}

func (v *txMemoryView) ListRequests(_ context.Context, filter generic.RequestFilter) ([]generic.Request, error) {
	return v.state.listRequests(filter), nil
}

func (v *txMemoryView) AppendTransaction(_ context.Context, tx generic.Transaction) error {
	v.state.transactions = append(v.state.transactions, tx)
	return nil
}

func (v *txMemoryView) ListTransactions(_ context.Context, employeeID generic.EmployeeID, policyID generic.PolicyID) ([]generic.Transaction, error) {
	return v.state.listTransactions(employeeID, policyID), nil
}
