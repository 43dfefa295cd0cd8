package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/warp/absence-engine/generic"
)

// dbtx is satisfied by *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db   dbtx
	lock bool // append FOR UPDATE to single-row reads
}

func (q queries) forUpdate() string {
	if q.lock {
		return " FOR UPDATE"
	}
	return ""
}

// =============================================================================
// POLICY STORE
// =============================================================================

const policyColumns = `id, name, days_per_year, allow_negative_balance, created_at, updated_at`

func (q queries) ListPolicies(ctx context.Context) ([]generic.Policy, error) {
	rows, err := q.db.Query(ctx, `SELECT `+policyColumns+` FROM policies ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer rows.Close()

	policies := []generic.Policy{}
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, *p)
	}
	return policies, rows.Err()
}

func (q queries) GetPolicy(ctx context.Context, id generic.PolicyID) (*generic.Policy, error) {
	row := q.db.QueryRow(ctx, `SELECT `+policyColumns+` FROM policies WHERE id = $1`+q.forUpdate(), id)
	p, err := scanPolicy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, generic.NotFound("policy", string(id))
	}
	return p, err
}

func (q queries) CreatePolicy(ctx context.Context, p generic.Policy) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO policies (`+policyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Name, p.DaysPerYear, p.AllowNegativeBalance, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return generic.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create policy: %w", err)
	}
	return nil
}

func (q queries) UpdatePolicy(ctx context.Context, p generic.Policy) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE policies
		SET name = $1, days_per_year = $2, allow_negative_balance = $3, updated_at = $4
		WHERE id = $5
	`, p.Name, p.DaysPerYear, p.AllowNegativeBalance, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}
	return requireRow(tag, "policy", string(p.ID))
}

func (q queries) DeletePolicy(ctx context.Context, id generic.PolicyID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM policies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	return requireRow(tag, "policy", string(id))
}

func (q queries) PolicyReferenced(ctx context.Context, id generic.PolicyID) (bool, error) {
	var used bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM balances WHERE policy_id = $1)
		    OR EXISTS (SELECT 1 FROM requests WHERE policy_id = $1)
	`, id).Scan(&used)
	if err != nil {
		return false, fmt.Errorf("failed to check policy references: %w", err)
	}
	return used, nil
}

func scanPolicy(row pgx.Row) (*generic.Policy, error) {
	var p generic.Policy
	if err := row.Scan(&p.ID, &p.Name, &p.DaysPerYear, &p.AllowNegativeBalance, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan policy: %w", err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// =============================================================================
// BALANCE STORE
// =============================================================================

const balanceColumns = `employee_id, policy_id, remaining::text, consumed::text, updated_at`

func (q queries) ListBalances(ctx context.Context, employeeID generic.EmployeeID) ([]generic.Balance, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+balanceColumns+` FROM balances WHERE employee_id = $1 ORDER BY policy_id`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	balances := []generic.Balance{}
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, *b)
	}
	return balances, rows.Err()
}

func (q queries) GetBalance(ctx context.Context, employeeID generic.EmployeeID, policyID generic.PolicyID) (*generic.Balance, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+balanceColumns+` FROM balances WHERE employee_id = $1 AND policy_id = $2`+q.forUpdate(),
		employeeID, policyID)
	b, err := scanBalance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, generic.NotFound("balance", string(employeeID)+"/"+string(policyID))
	}
	return b, err
}

func (q queries) CreateBalance(ctx context.Context, b generic.Balance) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO balances (employee_id, policy_id, remaining, consumed, updated_at)
		VALUES ($1, $2, $3::text::numeric, $4::text::numeric, $5)
	`, b.EmployeeID, b.PolicyID, b.Remaining.String(), b.Consumed.String(), b.UpdatedAt)
	if isUniqueViolation(err) {
		return generic.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create balance: %w", err)
	}
	return nil
}

func (q queries) SaveBalance(ctx context.Context, b generic.Balance) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE balances
		SET remaining = $1::text::numeric, consumed = $2::text::numeric, updated_at = $3
		WHERE employee_id = $4 AND policy_id = $5
	`, b.Remaining.String(), b.Consumed.String(), b.UpdatedAt, b.EmployeeID, b.PolicyID)
	if err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return requireRow(tag, "balance", string(b.EmployeeID)+"/"+string(b.PolicyID))
}

func scanBalance(row pgx.Row) (*generic.Balance, error) {
	var (
		b                   generic.Balance
		remaining, consumed string
	)
	if err := row.Scan(&b.EmployeeID, &b.PolicyID, &remaining, &consumed, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan balance: %w", err)
	}
	var err error
	if b.Remaining, err = decimal.NewFromString(remaining); err != nil {
		return nil, fmt.Errorf("corrupt remaining %q: %w", remaining, err)
	}
	if b.Consumed, err = decimal.NewFromString(consumed); err != nil {
		return nil, fmt.Errorf("corrupt consumed %q: %w", consumed, err)
	}
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

// =============================================================================
// REQUEST STORE
// =============================================================================

const requestColumns = `id, employee_id, policy_id, start_date, end_date, requested_days, reason,
	status, manager_notes, reviewed_by, reviewed_at, created_at, updated_at`

func (q queries) CreateRequest(ctx context.Context, r generic.Request) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		r.ID, r.EmployeeID, r.PolicyID, r.StartDate.Time, r.EndDate.Time, r.RequestedDays, r.Reason,
		r.Status, nullable(r.ManagerNotes), nullable(r.ReviewedBy), r.ReviewedAt, r.CreatedAt, r.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return generic.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

func (q queries) GetRequest(ctx context.Context, id generic.RequestID) (*generic.Request, error) {
	row := q.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`+q.forUpdate(), id)
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, generic.NotFound("request", string(id))
	}
	return r, err
}

func (q queries) UpdateRequest(ctx context.Context, r generic.Request) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE requests
		SET status = $1, manager_notes = $2, reviewed_by = $3, reviewed_at = $4, updated_at = $5
		WHERE id = $6
	`, r.Status, nullable(r.ManagerNotes), nullable(r.ReviewedBy), r.ReviewedAt, r.UpdatedAt, r.ID)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	return requireRow(tag, "request", string(r.ID))
}

func (q queries) ListRequests(ctx context.Context, filter generic.RequestFilter) ([]generic.Request, error) {
	var w where
	if filter.EmployeeID != "" {
		w.add("employee_id = $%d", filter.EmployeeID)
	}
	if filter.PolicyID != "" {
		w.add("policy_id = $%d", filter.PolicyID)
	}
	if filter.Status != "" {
		w.add("status = $%d", filter.Status)
	}

	query := `SELECT ` + requestColumns + ` FROM requests` + w.sql() + ` ORDER BY created_at, seq`
	if filter.Limit > 0 {
		query += w.placeholder(" LIMIT $%d", filter.Limit)
	}

	rows, err := q.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	requests := []generic.Request{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

func scanRequest(row pgx.Row) (*generic.Request, error) {
	var (
		r                    generic.Request
		startDate, endDate   time.Time
		managerNotes         *string
		reviewedBy           *string
		reviewedAt           *time.Time
	)
	err := row.Scan(
		&r.ID, &r.EmployeeID, &r.PolicyID, &startDate, &endDate, &r.RequestedDays, &r.Reason,
		&r.Status, &managerNotes, &reviewedBy, &reviewedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan request: %w", err)
	}

	r.StartDate = generic.DateOf(startDate)
	r.EndDate = generic.DateOf(endDate)
	if managerNotes != nil {
		r.ManagerNotes = *managerNotes
	}
	if reviewedBy != nil {
		r.ReviewedBy = *reviewedBy
	}
	if reviewedAt != nil {
		t := reviewedAt.UTC()
		r.ReviewedAt = &t
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

// =============================================================================
// TRANSACTION STORE (append-only)
// =============================================================================

func (q queries) AppendTransaction(ctx context.Context, tx generic.Transaction) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO transactions
		(id, employee_id, policy_id, delta, tx_type, reference_id, reason, created_by, created_at)
		VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7, $8, $9)
	`,
		tx.ID, tx.EmployeeID, tx.PolicyID, tx.Delta.String(), tx.Type,
		nullable(tx.ReferenceID), nullable(tx.Reason), nullable(tx.CreatedBy), tx.CreatedAt,
	)
	if isUniqueViolation(err) {
		return generic.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (q queries) ListTransactions(ctx context.Context, employeeID generic.EmployeeID, policyID generic.PolicyID) ([]generic.Transaction, error) {
	var w where
	w.add("employee_id = $%d", employeeID)
	if policyID != "" {
		w.add("policy_id = $%d", policyID)
	}

	rows, err := q.db.Query(ctx, `
		SELECT id, employee_id, policy_id, delta::text, tx_type, reference_id, reason, created_by, created_at
		FROM transactions`+w.sql()+`
		ORDER BY created_at, seq`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	transactions := []generic.Transaction{}
	for rows.Next() {
		var (
			tx                             generic.Transaction
			delta                          string
			referenceID, reason, createdBy *string
		)
		if err := rows.Scan(&tx.ID, &tx.EmployeeID, &tx.PolicyID, &delta, &tx.Type,
			&referenceID, &reason, &createdBy, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if tx.Delta, err = decimal.NewFromString(delta); err != nil {
			return nil, fmt.Errorf("corrupt delta %q: %w", delta, err)
		}
		tx.ReferenceID = deref(referenceID)
		tx.Reason = deref(reason)
		tx.CreatedBy = deref(createdBy)
		tx.CreatedAt = tx.CreatedAt.UTC()
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (q queries) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	var payload any
	if len(e.Payload) > 0 {
		payload = e.Payload
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO audit_log (id, ts, actor_id, action, request_id, employee_id, policy_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		e.ID, e.Timestamp, nullable(e.ActorID), e.Action,
		nullable(string(e.RequestID)), nullable(string(e.EmployeeID)), nullable(string(e.PolicyID)), payload,
	)
	if isUniqueViolation(err) {
		return generic.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (q queries) QueryAudit(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	var w where
	if filter.EmployeeID != "" {
		w.add("employee_id = $%d", filter.EmployeeID)
	}
	if filter.RequestID != "" {
		w.add("request_id = $%d", filter.RequestID)
	}
	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		w.add("action = ANY($%d)", actions)
	}
	if filter.From != nil {
		w.add("ts >= $%d", *filter.From)
	}
	if filter.To != nil {
		w.add("ts <= $%d", *filter.To)
	}

	query := `SELECT id, ts, actor_id, action, request_id, employee_id, policy_id, payload FROM audit_log` +
		w.sql() + ` ORDER BY ts, seq`
	if filter.Limit > 0 {
		query += w.placeholder(" LIMIT $%d", filter.Limit)
	}

	rows, err := q.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := []generic.AuditEntry{}
	for rows.Next() {
		var (
			e                                      generic.AuditEntry
			actor, requestID, employeeID, policyID *string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &actor, &e.Action, &requestID, &employeeID, &policyID, &e.Payload); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		e.ActorID = deref(actor)
		e.RequestID = generic.RequestID(deref(requestID))
		e.EmployeeID = generic.EmployeeID(deref(employeeID))
		e.PolicyID = generic.PolicyID(deref(policyID))
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// where accumulates AND-ed conditions with numbered placeholders.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.conds = append(w.conds, w.placeholder(cond, arg))
}

func (w *where) placeholder(format string, arg any) string {
	w.args = append(w.args, arg)
	return fmt.Sprintf(format, len(w.args))
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func requireRow(tag pgconn.CommandTag, kind, id string) error {
	if tag.RowsAffected() == 0 {
		return generic.NotFound(kind, id)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
