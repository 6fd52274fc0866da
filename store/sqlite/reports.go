package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/teller-settlement/settlement"
)

const reportColumns = `id, agent_id, supervisor_id, session_id, day_key, system_balance_cents, counted_cash_cents,
	over_cents, short_cents, installment_terms, override, status, created_at, updated_at`

// InsertReport stores a new report and completes its capital session in
// the same transaction. The partial unique index on (agent_id, day_key, slot)
// turns a second live report into ErrDuplicate and rolls the completion back.
func (s *Store) InsertReport(ctx context.Context, r settlement.DailyReport, slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE capital_sessions SET status = 'completed', completed_at = ?
			WHERE id = ? AND status = 'active'
		`, formatTime(r.CreatedAt), r.SessionID)
		if err != nil {
			return fmt.Errorf("failed to complete session: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO daily_reports (`+reportColumns+`, slot)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			r.ID, r.AgentID, r.SupervisorID, r.SessionID, string(r.Day),
			settlement.ToCents(r.SystemBalance), settlement.ToCents(r.CountedCash),
			settlement.ToCents(r.Over), settlement.ToCents(r.Short),
			r.InstallmentTerms, boolInt(r.Override), string(r.Status),
			formatTime(r.CreatedAt), formatTime(r.UpdatedAt), slot,
		)
		if err != nil {
			return fmt.Errorf("failed to insert report: %w", mapConstraintError(err))
		}
		return nil
	})
}

// UpdateReport rewrites the mutable fields. The CHECK constraints reject a
// variance that does not re-derive from the inputs.
func (s *Store) UpdateReport(ctx context.Context, r settlement.DailyReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE daily_reports SET
			system_balance_cents = ?, counted_cash_cents = ?, over_cents = ?, short_cents = ?,
			installment_terms = ?, override = ?, status = ?, updated_at = ?
		WHERE id = ?
	`,
		settlement.ToCents(r.SystemBalance), settlement.ToCents(r.CountedCash),
		settlement.ToCents(r.Over), settlement.ToCents(r.Short),
		r.InstallmentTerms, boolInt(r.Override), string(r.Status), formatTime(r.UpdatedAt),
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update report: %w", mapConstraintError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to update report %s: %w", r.ID, settlement.ErrStaleWrite)
	}
	return nil
}

func (s *Store) GetReport(ctx context.Context, id string) (*settlement.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := scanReport(s.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM daily_reports WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return &r, nil
}

func (s *Store) ListReports(ctx context.Context, agentID string, day settlement.DayKey) ([]settlement.DailyReport, error) {
	return s.queryReports(ctx, `SELECT `+reportColumns+` FROM daily_reports
		WHERE agent_id = ? AND day_key = ? AND status != 'voided' ORDER BY created_at, id`, agentID, string(day))
}

// ListReportsByDay returns every report for the day, voided ones included.
func (s *Store) ListReportsByDay(ctx context.Context, day settlement.DayKey) ([]settlement.DailyReport, error) {
	return s.queryReports(ctx, `SELECT `+reportColumns+` FROM daily_reports
		WHERE day_key = ? ORDER BY agent_id, created_at, id`, string(day))
}

// FinalizeReports closes every open report up to and including through.
func (s *Store) FinalizeReports(ctx context.Context, through settlement.DayKey, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE daily_reports SET status = 'finalized', updated_at = ?
		WHERE status = 'open' AND day_key <= ?
	`, formatTime(at), string(through))
	if err != nil {
		return 0, fmt.Errorf("failed to finalize reports: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) queryReports(ctx context.Context, query string, args ...any) ([]settlement.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var reports []settlement.DailyReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

func scanReport(row scanner) (settlement.DailyReport, error) {
	var (
		r                               settlement.DailyReport
		day, status, createdAt, updated string
		balance, counted, over, short   int64
		override                        int
	)
	err := row.Scan(&r.ID, &r.AgentID, &r.SupervisorID, &r.SessionID, &day, &balance, &counted,
		&over, &short, &r.InstallmentTerms, &override, &status, &createdAt, &updated)
	if err != nil {
		return r, err
	}
	r.Day = settlement.DayKey(day)
	r.SystemBalance = settlement.FromCents(balance)
	r.CountedCash = settlement.FromCents(counted)
	r.Over = settlement.FromCents(over)
	r.Short = settlement.FromCents(short)
	r.Override = override == 1
	r.Status = settlement.ReportStatus(status)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updated)
	return r, nil
}
