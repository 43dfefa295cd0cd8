/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements generic.TxStore and generic.AuditLog on database/sql with the
  mattn/go-sqlite3 driver. Suitable for single-node deployments and tests
  (":memory:").

KEY TABLES:
  policies:     Leave policies
  balances:     Running balance per (employee_id, policy_id)
  requests:     Leave requests and their review outcome
  transactions: Append-only history of balance changes
  audit_log:    Append-only audit trail

ENCODING:
  - Decimals are stored as TEXT to keep exact values
  - Calendar dates as TEXT "2006-01-02"
  - Timestamps as fixed-width UTC TEXT so they sort lexically
  - Audit payloads as JSON TEXT

CONCURRENCY:
  The pool is capped at one connection. A WithTx callback owns that
  connection for its whole duration, so read-check-write sequences inside
  it are serialized against every other caller. Code inside a callback
  must only use the Store it was handed.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for crash safety and
  a busy timeout so a second process waits instead of failing.

USAGE:
  store, err := sqlite.New("./data/absence.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/storetest: Conformance suite
  - store/postgres: Same contract on PostgreSQL
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/absence-engine/generic"
)

// Store implements generic.TxStore and generic.AuditLog using SQLite.
type Store struct {
	queries
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: queries{db: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

const schema = `
	CREATE TABLE IF NOT EXISTS policies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		days_per_year INTEGER NOT NULL CHECK (days_per_year >= 0),
		allow_negative_balance INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS balances (
		employee_id TEXT NOT NULL,
		policy_id TEXT NOT NULL REFERENCES policies(id),
		remaining TEXT NOT NULL,
		consumed TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, policy_id)
	);

	CREATE INDEX IF NOT EXISTS idx_balances_policy ON balances(policy_id);

	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		policy_id TEXT NOT NULL REFERENCES policies(id),
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		requested_days INTEGER NOT NULL,
		reason TEXT NOT NULL,
		status TEXT NOT NULL,
		manager_notes TEXT,
		reviewed_by TEXT,
		reviewed_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_employee ON requests(employee_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_requests_policy ON requests(policy_id);

	-- Append-only: no UPDATE or DELETE is ever issued against this table
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		delta TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_employee_policy
		ON transactions(employee_id, policy_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference_id) WHERE reference_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		request_id TEXT,
		employee_id TEXT,
		policy_id TEXT,
		payload_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_request ON audit_log(request_id);
	CREATE INDEX IF NOT EXISTS idx_audit_employee ON audit_log(employee_id, ts);
`

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries{db: sqlTx}}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore is the generic.Store handed to WithTx callbacks. It has no WithTx
// of its own, so a Ledger built on it joins the surrounding transaction.
type txStore struct {
	queries
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{"audit_log", "transactions", "requests", "balances", "policies"}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, table := range tables {
		if _, err := sqlTx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return sqlTx.Commit()
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
