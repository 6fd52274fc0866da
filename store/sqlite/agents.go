package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/teller-settlement/settlement"
)

const agentColumns = `id, name, role, daily_rate_cents, supervisor_id, submitted_today, created_at, updated_at`

// SaveAgent inserts or updates an agent.
func (s *Store) SaveAgent(ctx context.Context, a settlement.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			daily_rate_cents = excluded.daily_rate_cents,
			supervisor_id = excluded.supervisor_id,
			updated_at = excluded.updated_at
	`,
		a.ID, a.Name, string(a.Role), settlement.ToCents(a.DailyRate), a.SupervisorID,
		boolInt(a.SubmittedToday), formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save agent: %w", mapConstraintError(err))
	}
	return nil
}

// GetAgent returns nil, nil if the agent doesn't exist.
func (s *Store) GetAgent(ctx context.Context, id string) (*settlement.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return &a, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]settlement.Agent, error) {
	return s.queryAgents(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY name, id`)
}

// ListSupervisors returns agents whose role carries supervisor duties.
func (s *Store) ListSupervisors(ctx context.Context) ([]settlement.Agent, error) {
	return s.queryAgents(ctx, `SELECT `+agentColumns+` FROM agents WHERE role IN (?, ?) ORDER BY id`,
		string(settlement.RoleSupervisor), string(settlement.RoleAgentSupervisor))
}

// LinkSupervisor only sets supervisor_id when it is empty.
func (s *Store) LinkSupervisor(ctx context.Context, agentID, supervisorID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET supervisor_id = ? WHERE id = ? AND supervisor_id = ''`,
		supervisorID, agentID)
	if err != nil {
		return false, fmt.Errorf("failed to link supervisor: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) SetSupervisor(ctx context.Context, agentID, supervisorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE agents SET supervisor_id = ? WHERE id = ?`, supervisorID, agentID)
	if err != nil {
		return fmt.Errorf("failed to set supervisor: %w", err)
	}
	return nil
}

func (s *Store) MarkSubmitted(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `UPDATE agents SET submitted_today = 1 WHERE id = ?`, agentID)
	if err != nil {
		return fmt.Errorf("failed to mark submitted: %w", err)
	}
	return nil
}

// ResetSubmissionFlags clears submitted_today and returns how many were set.
func (s *Store) ResetSubmissionFlags(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE agents SET submitted_today = 0 WHERE submitted_today = 1`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset submission flags: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) queryAgents(ctx context.Context, query string, args ...any) ([]settlement.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var agents []settlement.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (settlement.Agent, error) {
	var (
		a                    settlement.Agent
		role                 string
		rate                 int64
		submitted            int
		createdAt, updatedAt string
	)
	if err := row.Scan(&a.ID, &a.Name, &role, &rate, &a.SupervisorID, &submitted, &createdAt, &updatedAt); err != nil {
		return a, err
	}
	a.Role = settlement.Role(role)
	a.DailyRate = settlement.FromCents(rate)
	a.SubmittedToday = submitted == 1
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}
