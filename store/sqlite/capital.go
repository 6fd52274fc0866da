package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/teller-settlement/settlement"
)

const sessionColumns = `id, agent_id, supervisor_id, day_key, issued_cents, additions_cents, remittances_cents,
	status, created_at, completed_at, archived_at`

const entryColumns = `id, session_id, agent_id, supervisor_id, entry_type, amount_cents, day_key, idempotency_key, created_at`

// OpenSession inserts the session and its issue entry atomically. The
// partial unique index rejects a second active session for the agent.
func (s *Store) OpenSession(ctx context.Context, session settlement.CapitalSession, issue settlement.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO capital_sessions (`+sessionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)
		`,
			session.ID, session.AgentID, session.SupervisorID, string(session.Day),
			settlement.ToCents(session.Issued), settlement.ToCents(session.Additions), settlement.ToCents(session.Remittances),
			string(session.Status), formatTime(session.CreatedAt),
		)
		if err != nil {
			return mapConstraintError(err)
		}
		return insertEntry(ctx, tx, issue)
	})
}

// IncrementSession adds entry.Amount to the active session's counter with a
// single UPDATE and appends the entry in the same transaction.
func (s *Store) IncrementSession(ctx context.Context, entry settlement.LedgerEntry) (*settlement.CapitalSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var column string
	switch entry.Type {
	case settlement.EntryAdditional:
		column = "additions_cents"
	case settlement.EntryRemit:
		column = "remittances_cents"
	default:
		return nil, fmt.Errorf("cannot increment session with %q entry", entry.Type)
	}

	var session *settlement.CapitalSession
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE capital_sessions SET `+column+` = `+column+` + ?
			WHERE agent_id = ? AND status = 'active'
			RETURNING `+sessionColumns,
			settlement.ToCents(entry.Amount), entry.AgentID)
		got, err := scanSession(row)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		entry.SessionID = got.ID
		if entry.SupervisorID == "" {
			entry.SupervisorID = got.SupervisorID
		}
		if err := insertEntry(ctx, tx, entry); err != nil {
			return err
		}
		session = &got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// CompleteSession flips active -> completed with a conditional update.
func (s *Store) CompleteSession(ctx context.Context, agentID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE capital_sessions SET status = 'completed', completed_at = ?
		WHERE agent_id = ? AND status = 'active'
	`, formatTime(at), agentID)
	if err != nil {
		return false, fmt.Errorf("failed to complete session: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) ActiveSession(ctx context.Context, agentID string) (*settlement.CapitalSession, error) {
	return s.getSession(ctx, `SELECT `+sessionColumns+` FROM capital_sessions WHERE agent_id = ? AND status = 'active'`, agentID)
}

func (s *Store) LatestSession(ctx context.Context, agentID string) (*settlement.CapitalSession, error) {
	return s.getSession(ctx, `SELECT `+sessionColumns+` FROM capital_sessions WHERE agent_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, agentID)
}

func (s *Store) GetSession(ctx context.Context, id string) (*settlement.CapitalSession, error) {
	return s.getSession(ctx, `SELECT `+sessionColumns+` FROM capital_sessions WHERE id = ?`, id)
}

// ArchiveSessions archives every non-archived session opened on or before through.
func (s *Store) ArchiveSessions(ctx context.Context, through settlement.DayKey, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := formatTime(at)
	res, err := s.db.ExecContext(ctx, `
		UPDATE capital_sessions
		SET status = 'archived', archived_at = ?, completed_at = COALESCE(completed_at, ?)
		WHERE status IN ('active', 'completed') AND day_key <= ?
	`, ts, ts, string(through))
	if err != nil {
		return 0, fmt.Errorf("failed to archive sessions: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListEntries returns an agent's ledger entries for a day in entry order.
func (s *Store) ListEntries(ctx context.Context, agentID string, day settlement.DayKey) ([]settlement.LedgerEntry, error) {
	return s.queryEntries(ctx, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE agent_id = ? AND day_key = ? ORDER BY created_at, id`, agentID, string(day))
}

func (s *Store) ListEntriesByDay(ctx context.Context, day settlement.DayKey, t settlement.EntryType) ([]settlement.LedgerEntry, error) {
	return s.queryEntries(ctx, `SELECT `+entryColumns+` FROM ledger_entries
		WHERE day_key = ? AND entry_type = ? ORDER BY created_at, id`, string(day), string(t))
}

func (s *Store) getSession(ctx context.Context, query string, args ...any) (*settlement.CapitalSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	got, err := scanSession(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &got, nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]settlement.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []settlement.LedgerEntry
	for rows.Next() {
		var (
			e         settlement.LedgerEntry
			typ, day  string
			amount    int64
			key       sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.AgentID, &e.SupervisorID, &typ, &amount, &day, &key, &createdAt); err != nil {
			return nil, err
		}
		e.Type = settlement.EntryType(typ)
		e.Amount = settlement.FromCents(amount)
		e.Day = settlement.DayKey(day)
		e.IdempotencyKey = key.String
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func insertEntry(ctx context.Context, db execer, e settlement.LedgerEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.SessionID, e.AgentID, e.SupervisorID, string(e.Type),
		settlement.ToCents(e.Amount), string(e.Day), nullString(e.IdempotencyKey), formatTime(e.CreatedAt),
	)
	return mapConstraintError(err)
}

func scanSession(row scanner) (settlement.CapitalSession, error) {
	var (
		sess                    settlement.CapitalSession
		day, status, createdAt  string
		issued, added, remitted int64
		completedAt, archivedAt sql.NullString
	)
	err := row.Scan(&sess.ID, &sess.AgentID, &sess.SupervisorID, &day, &issued, &added, &remitted,
		&status, &createdAt, &completedAt, &archivedAt)
	if err != nil {
		return sess, err
	}
	sess.Day = settlement.DayKey(day)
	sess.Issued = settlement.FromCents(issued)
	sess.Additions = settlement.FromCents(added)
	sess.Remittances = settlement.FromCents(remitted)
	sess.Status = settlement.SessionStatus(status)
	sess.CreatedAt = parseTime(createdAt)
	sess.CompletedAt = parseNullTime(completedAt)
	sess.ArchivedAt = parseNullTime(archivedAt)
	return sess, nil
}
