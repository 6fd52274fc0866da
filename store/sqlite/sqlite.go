/*
Package sqlite provides a SQLite-backed implementation of settlement.Store.

PURPOSE:
  Persists agents, capital sessions, ledger entries, reports, payroll,
  installment plans, assignments, config, audit entries and settlement
  runs. Every invariant that spans concurrent writers is enforced here
  by a constraint, never by read-then-write logic in the caller.

CONSTRAINTS:
  idx_one_active_session       at most one active session per agent
  idx_one_report_per_window    at most one non-voided report per (agent, day, slot)
  payroll_records UNIQUE       one payroll record per (agent, day)
  payroll_records.total_cents  generated column: base + over - short - deduction - withdrawal
  installment_payments UNIQUE  one payment per (plan, week) and per (plan, payroll)
  assignments UNIQUE           one assignment per (day, agent)
  daily_reports CHECK          over/short re-derive from counted cash and balance

  Constraint failures are mapped onto settlement.ErrDuplicate and
  settlement.ErrInvariantViolation.

MONEY:
  Stored as integer cents so counters can be incremented atomically
  in SQL (additions_cents = additions_cents + ?).

TIMES:
  Stored as fixed-width UTC text so that lexical order is time order.

CONCURRENCY:
  Uses sync.RWMutex plus a single pooled connection. Multi-statement
  writes run inside one SQL transaction.

USAGE:
  store, err := sqlite.New("./data/settlement.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - settlement/store.go: Interface definitions
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/teller-settlement/settlement"
)

// Store implements settlement.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ settlement.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per-connection, and the
	// store mutex already serializes writers.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
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

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Agents
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		daily_rate_cents INTEGER NOT NULL DEFAULT 0,
		supervisor_id TEXT NOT NULL DEFAULT '',
		submitted_today INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_agents_role
		ON agents(role);

	-- Capital sessions
	CREATE TABLE IF NOT EXISTS capital_sessions (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		supervisor_id TEXT NOT NULL,
		day_key TEXT NOT NULL,
		issued_cents INTEGER NOT NULL,
		additions_cents INTEGER NOT NULL DEFAULT 0,
		remittances_cents INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		completed_at TEXT,
		archived_at TEXT,
		CHECK (issued_cents > 0)
	);

	-- CRITICAL: at most one active session per agent
	CREATE UNIQUE INDEX IF NOT EXISTS idx_one_active_session
		ON capital_sessions(agent_id)
		WHERE status = 'active';

	CREATE INDEX IF NOT EXISTS idx_sessions_agent_created
		ON capital_sessions(agent_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_sessions_status_day
		ON capital_sessions(status, day_key);

	-- Ledger entries (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES capital_sessions(id),
		agent_id TEXT NOT NULL,
		supervisor_id TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		day_key TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL,
		CHECK (amount_cents > 0)
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_day_type
		ON ledger_entries(day_key, entry_type);
	CREATE INDEX IF NOT EXISTS idx_ledger_agent_day
		ON ledger_entries(agent_id, day_key);

	-- Daily reports
	CREATE TABLE IF NOT EXISTS daily_reports (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		supervisor_id TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		day_key TEXT NOT NULL,
		slot TEXT NOT NULL DEFAULT '',
		system_balance_cents INTEGER NOT NULL,
		counted_cash_cents INTEGER NOT NULL,
		over_cents INTEGER NOT NULL DEFAULT 0,
		short_cents INTEGER NOT NULL DEFAULT 0,
		installment_terms INTEGER NOT NULL DEFAULT 1,
		override INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'open',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (over_cents >= 0 AND short_cents >= 0),
		CHECK (over_cents = 0 OR short_cents = 0),
		CHECK (over_cents - short_cents = counted_cash_cents - system_balance_cents),
		CHECK (installment_terms >= 1)
	);

	-- CRITICAL: one live report per agent per window (slot = '' unless
	-- multiple reports per day are enabled)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_one_report_per_window
		ON daily_reports(agent_id, day_key, slot)
		WHERE status != 'voided';

	CREATE INDEX IF NOT EXISTS idx_reports_day_status
		ON daily_reports(day_key, status);

	-- Payroll records
	CREATE TABLE IF NOT EXISTS payroll_records (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		day_key TEXT NOT NULL,
		base_pay_cents INTEGER NOT NULL DEFAULT 0,
		over_cents INTEGER NOT NULL DEFAULT 0,
		short_cents INTEGER NOT NULL DEFAULT 0,
		deduction_cents INTEGER NOT NULL DEFAULT 0,
		withdrawal_cents INTEGER NOT NULL DEFAULT 0,
		total_cents INTEGER GENERATED ALWAYS AS
			(base_pay_cents + over_cents - short_cents - deduction_cents - withdrawal_cents) STORED,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(agent_id, day_key)
	);

	CREATE INDEX IF NOT EXISTS idx_payroll_day
		ON payroll_records(day_key);

	-- Payroll adjustments (append-only)
	CREATE TABLE IF NOT EXISTS payroll_adjustments (
		id TEXT PRIMARY KEY,
		payroll_id TEXT NOT NULL REFERENCES payroll_records(id),
		agent_id TEXT NOT NULL,
		day_key TEXT NOT NULL,
		previous_total_cents INTEGER NOT NULL,
		new_total_cents INTEGER NOT NULL,
		delta_cents INTEGER NOT NULL,
		reason TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_adjustments_payroll
		ON payroll_adjustments(payroll_id, created_at);

	-- Installment plans
	CREATE TABLE IF NOT EXISTS installment_plans (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		origin_payroll_id TEXT NOT NULL DEFAULT '',
		start_day TEXT NOT NULL,
		total_cents INTEGER NOT NULL,
		weekly_cents INTEGER NOT NULL,
		weeks_total INTEGER NOT NULL,
		weeks_paid INTEGER NOT NULL DEFAULT 0,
		paid_cents INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (total_cents > 0),
		CHECK (weeks_total >= 1),
		CHECK (weeks_paid <= weeks_total),
		CHECK (paid_cents <= total_cents)
	);

	CREATE INDEX IF NOT EXISTS idx_plans_agent_status
		ON installment_plans(agent_id, status);
	CREATE INDEX IF NOT EXISTS idx_plans_origin
		ON installment_plans(origin_payroll_id) WHERE origin_payroll_id != '';

	-- Installment payments
	CREATE TABLE IF NOT EXISTS installment_payments (
		id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL REFERENCES installment_plans(id),
		payroll_id TEXT NOT NULL REFERENCES payroll_records(id),
		day_key TEXT NOT NULL,
		week_key TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(plan_id, week_key),
		UNIQUE(plan_id, payroll_id)
	);

	-- Assignments
	CREATE TABLE IF NOT EXISTS assignments (
		id TEXT PRIMARY KEY,
		day_key TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		supervisor_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(day_key, agent_id)
	);

	-- Settlement config (singleton)
	CREATE TABLE IF NOT EXISTS settlement_config (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		reset_hour INTEGER NOT NULL,
		reset_minute INTEGER NOT NULL,
		timezone TEXT NOT NULL,
		updated_by TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		subject TEXT NOT NULL,
		payload_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_created
		ON audit_log(created_at DESC);

	-- Settlement runs (one per day, retried in place)
	CREATE TABLE IF NOT EXISTS settlement_runs (
		id TEXT PRIMARY KEY,
		day_key TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 1,
		steps_json TEXT,
		actor TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		completed_at TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn in a transaction. Callers must hold s.mu.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// =============================================================================
// HELPERS
// =============================================================================

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// mapConstraintError turns SQLite constraint failures into store sentinels.
func mapConstraintError(err error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		if strings.Contains(se.Error(), "idempotency_key") {
			return fmt.Errorf("%w: %v", settlement.ErrDuplicateIdempotencyKey, err)
		}
		return fmt.Errorf("%w: %v", settlement.ErrDuplicate, err)
	case sqlite3.ErrConstraintCheck:
		return fmt.Errorf("%w: %v", settlement.ErrInvariantViolation, err)
	}
	return err
}

// Reset clears every table (for tests and demo resets).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"installment_payments", "installment_plans", "payroll_adjustments", "payroll_records",
		"ledger_entries", "capital_sessions", "daily_reports", "assignments",
		"audit_log", "settlement_runs", "settlement_config", "agents",
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("clear %s: %w", t, err)
			}
		}
		return nil
	})
}
