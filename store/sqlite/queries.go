package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/absence-engine/generic"
)

// timeLayout is fixed width so TEXT ordering equals time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements generic.Store and generic.AuditLog over a dbtx.
type queries struct {
	db dbtx
}

// =============================================================================
// POLICY STORE
// =============================================================================

const policyColumns = `id, name, days_per_year, allow_negative_balance, created_at, updated_at`

func (q queries) ListPolicies(ctx context.Context) ([]generic.Policy, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+policyColumns+` FROM policies ORDER BY name, id`)
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
	row := q.db.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM policies WHERE id = ?`, id)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NotFound("policy", string(id))
	}
	return p, err
}

func (q queries) CreatePolicy(ctx context.Context, p generic.Policy) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO policies (`+policyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.DaysPerYear, p.AllowNegativeBalance, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if isUniqueConstraintError(err) {
		return generic.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create policy: %w", err)
	}
	return nil
}

func (q queries) UpdatePolicy(ctx context.Context, p generic.Policy) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE policies
		SET name = ?, days_per_year = ?, allow_negative_balance = ?, updated_at = ?
		WHERE id = ?
	`, p.Name, p.DaysPerYear, p.AllowNegativeBalance, formatTime(p.UpdatedAt), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}
	return requireRow(res, "policy", string(p.ID))
}

func (q queries) DeletePolicy(ctx context.Context, id generic.PolicyID) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM policies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	return requireRow(res, "policy", string(id))
}

func (q queries) PolicyReferenced(ctx context.Context, id generic.PolicyID) (bool, error) {
	var used bool
	err := q.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM balances WHERE policy_id = ?)
		    OR EXISTS (SELECT 1 FROM requests WHERE policy_id = ?)
	`, id, id).Scan(&used)
	if err != nil {
		return false, fmt.Errorf("failed to check policy references: %w", err)
	}
	return used, nil
}

func scanPolicy(row scanner) (*generic.Policy, error) {
	var (
		p                    generic.Policy
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.DaysPerYear, &p.AllowNegativeBalance, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan policy: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// =============================================================================
// BALANCE STORE
// =============================================================================

const balanceColumns = `employee_id, policy_id, remaining, consumed, updated_at`

func (q queries) ListBalances(ctx context.Context, employeeID generic.EmployeeID) ([]generic.Balance, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+balanceColumns+` FROM balances WHERE employee_id = ? ORDER BY policy_id`, employeeID)
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
	row := q.db.QueryRowContext(ctx,
		`SELECT `+balanceColumns+` FROM balances WHERE employee_id = ? AND policy_id = ?`, employeeID, policyID)
	b, err := scanBalance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NotFound("balance", string(employeeID)+"/"+string(policyID))
	}
	return b, err
}

func (q queries) CreateBalance(ctx context.Context, b generic.Balance) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO balances (`+balanceColumns+`)
		VALUES (?, ?, ?, ?, ?)
	`, b.EmployeeID, b.PolicyID, b.Remaining.String(), b.Consumed.String(), formatTime(b.UpdatedAt))
	if isUniqueConstraintError(err) {
		return generic.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create balance: %w", err)
	}
	return nil
}

func (q queries) SaveBalance(ctx context.Context, b generic.Balance) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE balances SET remaining = ?, consumed = ?, updated_at = ?
		WHERE employee_id = ? AND policy_id = ?
	`, b.Remaining.String(), b.Consumed.String(), formatTime(b.UpdatedAt), b.EmployeeID, b.PolicyID)
	if err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return requireRow(res, "balance", string(b.EmployeeID)+"/"+string(b.PolicyID))
}

func scanBalance(row scanner) (*generic.Balance, error) {
	var (
		b                   generic.Balance
		remaining, consumed string
		updatedAt           string
	)
	if err := row.Scan(&b.EmployeeID, &b.PolicyID, &remaining, &consumed, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

// =============================================================================
// REQUEST STORE
// =============================================================================

const requestColumns = `id, employee_id, policy_id, start_date, end_date, requested_days, reason,
	status, manager_notes, reviewed_by, reviewed_at, created_at, updated_at`

func (q queries) CreateRequest(ctx context.Context, r generic.Request) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO requests (`+requestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.EmployeeID, r.PolicyID, r.StartDate.String(), r.EndDate.String(), r.RequestedDays, r.Reason,
		r.Status, nullString(r.ManagerNotes), nullString(r.ReviewedBy), nullTime(r.ReviewedAt),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return generic.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return nil
}

func (q queries) GetRequest(ctx context.Context, id generic.RequestID) (*generic.Request, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NotFound("request", string(id))
	}
	return r, err
}

func (q queries) UpdateRequest(ctx context.Context, r generic.Request) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE requests
		SET status = ?, manager_notes = ?, reviewed_by = ?, reviewed_at = ?, updated_at = ?
		WHERE id = ?
	`, r.Status, nullString(r.ManagerNotes), nullString(r.ReviewedBy), nullTime(r.ReviewedAt), formatTime(r.UpdatedAt), r.ID)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}
	return requireRow(res, "request", string(r.ID))
}

func (q queries) ListRequests(ctx context.Context, filter generic.RequestFilter) ([]generic.Request, error) {
	var (
		where []string
		args  []any
	)
	if filter.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, filter.EmployeeID)
	}
	if filter.PolicyID != "" {
		where = append(where, "policy_id = ?")
		args = append(args, filter.PolicyID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + requestColumns + ` FROM requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, rowid"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
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

func scanRequest(row scanner) (*generic.Request, error) {
	var (
		r                     generic.Request
		startDate, endDate    string
		managerNotes          sql.NullString
		reviewedBy            sql.NullString
		reviewedAt            sql.NullString
		createdAt, updatedAt  string
	)
	err := row.Scan(
		&r.ID, &r.EmployeeID, &r.PolicyID, &startDate, &endDate, &r.RequestedDays, &r.Reason,
		&r.Status, &managerNotes, &reviewedBy, &reviewedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan request: %w", err)
	}

	if r.StartDate, err = generic.ParseDate(startDate); err != nil {
		return nil, err
	}
	if r.EndDate, err = generic.ParseDate(endDate); err != nil {
		return nil, err
	}
	r.ManagerNotes = managerNotes.String
	r.ReviewedBy = reviewedBy.String
	if reviewedAt.Valid {
		t := parseTime(reviewedAt.String)
		r.ReviewedAt = &t
	}
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

// =============================================================================
// TRANSACTION STORE (append-only)
// =============================================================================

func (q queries) AppendTransaction(ctx context.Context, tx generic.Transaction) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO transactions
		(id, employee_id, policy_id, delta, tx_type, reference_id, reason, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID, tx.EmployeeID, tx.PolicyID, tx.Delta.String(), tx.Type,
		nullString(tx.ReferenceID), nullString(tx.Reason), nullString(tx.CreatedBy), formatTime(tx.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return generic.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (q queries) ListTransactions(ctx context.Context, employeeID generic.EmployeeID, policyID generic.PolicyID) ([]generic.Transaction, error) {
	query := `
		SELECT id, employee_id, policy_id, delta, tx_type, reference_id, reason, created_by, created_at
		FROM transactions
		WHERE employee_id = ?`
	args := []any{employeeID}
	if policyID != "" {
		query += ` AND policy_id = ?`
		args = append(args, policyID)
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	transactions := []generic.Transaction{}
	for rows.Next() {
		var (
			tx                             generic.Transaction
			delta, createdAt               string
			referenceID, reason, createdBy sql.NullString
		)
		if err := rows.Scan(&tx.ID, &tx.EmployeeID, &tx.PolicyID, &delta, &tx.Type,
			&referenceID, &reason, &createdBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if tx.Delta, err = decimal.NewFromString(delta); err != nil {
			return nil, fmt.Errorf("corrupt delta %q: %w", delta, err)
		}
		tx.ReferenceID = referenceID.String
		tx.Reason = reason.String
		tx.CreatedBy = createdBy.String
		tx.CreatedAt = parseTime(createdAt)
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (q queries) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	var payload sql.NullString
	if len(e.Payload) > 0 {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode audit payload: %w", err)
		}
		payload = sql.NullString{String: string(b), Valid: true}
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, ts, actor_id, action, request_id, employee_id, policy_id, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, formatTime(e.Timestamp), nullString(e.ActorID), e.Action,
		nullString(string(e.RequestID)), nullString(string(e.EmployeeID)), nullString(string(e.PolicyID)), payload,
	)
	if isUniqueConstraintError(err) {
		return generic.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (q queries) QueryAudit(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, filter.EmployeeID)
	}
	if filter.RequestID != "" {
		where = append(where, "request_id = ?")
		args = append(args, filter.RequestID)
	}
	if len(filter.Actions) > 0 {
		placeholders := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			placeholders[i] = "?"
			args = append(args, a)
		}
		where = append(where, "action IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.From != nil {
		where = append(where, "ts >= ?")
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "ts <= ?")
		args = append(args, formatTime(*filter.To))
	}

	query := `SELECT id, ts, actor_id, action, request_id, employee_id, policy_id, payload_json FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts, rowid"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	entries := []generic.AuditEntry{}
	for rows.Next() {
		var (
			e                                     generic.AuditEntry
			ts                                    string
			actor, requestID, employeeID, policyID sql.NullString
			payload                               sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &actor, &e.Action, &requestID, &employeeID, &policyID, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp = parseTime(ts)
		e.ActorID = actor.String
		e.RequestID = generic.RequestID(requestID.String)
		e.EmployeeID = generic.EmployeeID(employeeID.String)
		e.PolicyID = generic.PolicyID(policyID.String)
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("corrupt audit payload for %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return generic.NotFound(kind, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
