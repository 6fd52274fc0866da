package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/warp/teller-settlement/settlement"
)

// =============================================================================
// ASSIGNMENTS
// =============================================================================

// CreateAssignment inserts unless (day, agent) is already assigned.
func (s *Store) CreateAssignment(ctx context.Context, a settlement.Assignment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO assignments (id, day_key, agent_id, supervisor_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(day_key, agent_id) DO NOTHING
	`, a.ID, string(a.Day), a.AgentID, a.SupervisorID, string(a.Status), formatTime(a.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to create assignment: %w", mapConstraintError(err))
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) ListAssignments(ctx context.Context, day settlement.DayKey) ([]settlement.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, day_key, agent_id, supervisor_id, status, created_at
		FROM assignments WHERE day_key = ? ORDER BY supervisor_id, agent_id
	`, string(day))
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var out []settlement.Assignment
	for rows.Next() {
		var (
			a                       settlement.Assignment
			dayKey, status, created string
		)
		if err := rows.Scan(&a.ID, &dayKey, &a.AgentID, &a.SupervisorID, &status, &created); err != nil {
			return nil, err
		}
		a.Day = settlement.DayKey(dayKey)
		a.Status = settlement.AssignmentStatus(status)
		a.CreatedAt = parseTime(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

// =============================================================================
// SETTLEMENT CONFIG
// =============================================================================

// GetConfig returns nil, nil until a config has been saved.
func (s *Store) GetConfig(ctx context.Context) (*settlement.SettlementConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		c       settlement.SettlementConfig
		updated string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT reset_hour, reset_minute, timezone, updated_by, updated_at
		FROM settlement_config WHERE id = 1
	`).Scan(&c.ResetHour, &c.ResetMinute, &c.Timezone, &c.UpdatedBy, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

func (s *Store) SaveConfig(ctx context.Context, c settlement.SettlementConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settlement_config (id, reset_hour, reset_minute, timezone, updated_by, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			reset_hour = excluded.reset_hour,
			reset_minute = excluded.reset_minute,
			timezone = excluded.timezone,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at
	`, c.ResetHour, c.ResetMinute, c.Timezone, c.UpdatedBy, formatTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func (s *Store) AppendAudit(ctx context.Context, e settlement.AuditEntry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal audit payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor, action, subject, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.Actor, string(e.Action), e.Subject, string(payload), formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", mapConstraintError(err))
	}
	return nil
}

// ListAudit returns the newest entries first.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]settlement.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor, action, subject, payload_json, created_at
		FROM audit_log ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []settlement.AuditEntry
	for rows.Next() {
		var (
			e               settlement.AuditEntry
			action, created string
			payload         sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Actor, &action, &e.Subject, &payload, &created); err != nil {
			return nil, err
		}
		e.Action = settlement.AuditAction(action)
		e.CreatedAt = parseTime(created)
		if payload.Valid && payload.String != "" && payload.String != "null" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to parse audit payload %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// SETTLEMENT RUNS
// =============================================================================

const runColumns = `id, day_key, status, attempts, steps_json, actor, started_at, completed_at`

// BeginRun upserts the run for the day: a retry reuses the row, bumps
// attempts and clears the previous outcome.
func (s *Store) BeginRun(ctx context.Context, r settlement.SettlementRun) (*settlement.SettlementRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO settlement_runs (id, day_key, status, attempts, steps_json, actor, started_at, completed_at)
		VALUES (?, ?, ?, 1, NULL, ?, ?, NULL)
		ON CONFLICT(day_key) DO UPDATE SET
			status = excluded.status,
			attempts = settlement_runs.attempts + 1,
			steps_json = NULL,
			actor = excluded.actor,
			started_at = excluded.started_at,
			completed_at = NULL
		RETURNING `+runColumns,
		r.ID, string(r.Day), string(r.Status), r.Actor, formatTime(r.StartedAt))
	got, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("failed to begin run: %w", err)
	}
	return &got, nil
}

func (s *Store) FinishRun(ctx context.Context, r settlement.SettlementRun) error {
	steps, err := json.Marshal(r.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal run steps: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		UPDATE settlement_runs SET status = ?, steps_json = ?, completed_at = ?
		WHERE day_key = ?
	`, string(r.Status), string(steps), nullTime(r.CompletedAt), string(r.Day))
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, day settlement.DayKey) (*settlement.SettlementRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	got, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM settlement_runs WHERE day_key = ?`, string(day)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &got, nil
}

// ListRuns returns the most recent days first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]settlement.SettlementRun, error) {
	if limit <= 0 {
		limit = 30
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM settlement_runs ORDER BY day_key DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []settlement.SettlementRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(row scanner) (settlement.SettlementRun, error) {
	var (
		r                  settlement.SettlementRun
		day, status, start string
		steps, completed   sql.NullString
	)
	if err := row.Scan(&r.ID, &day, &status, &r.Attempts, &steps, &r.Actor, &start, &completed); err != nil {
		return r, err
	}
	r.Day = settlement.DayKey(day)
	r.Status = settlement.RunStatus(status)
	r.StartedAt = parseTime(start)
	r.CompletedAt = parseNullTime(completed)
	if steps.Valid && steps.String != "" {
		if err := json.Unmarshal([]byte(steps.String), &r.Steps); err != nil {
			return r, fmt.Errorf("failed to parse run steps: %w", err)
		}
	}
	return r, nil
}
