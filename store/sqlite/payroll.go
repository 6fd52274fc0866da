package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/teller-settlement/settlement"
)

const payrollColumns = `id, agent_id, day_key, base_pay_cents, over_cents, short_cents, deduction_cents,
	withdrawal_cents, total_cents, created_at, updated_at`

const adjustmentColumns = `id, payroll_id, agent_id, day_key, previous_total_cents, new_total_cents, delta_cents,
	reason, actor, created_at`

// EnsurePayroll is an upsert keyed by (agent_id, day_key). The existing row
// wins, except that a zero base pay is filled in from p.
func (s *Store) EnsurePayroll(ctx context.Context, p settlement.PayrollRecord) (*settlement.PayrollRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payroll_records (id, agent_id, day_key, base_pay_cents, over_cents, short_cents,
			deduction_cents, withdrawal_cents, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, day_key) DO UPDATE SET
			base_pay_cents = excluded.base_pay_cents,
			updated_at = excluded.updated_at
		WHERE payroll_records.base_pay_cents = 0 AND excluded.base_pay_cents > 0
	`,
		p.ID, p.AgentID, string(p.Day), settlement.ToCents(p.BasePay),
		settlement.ToCents(p.Over), settlement.ToCents(p.Short),
		settlement.ToCents(p.Deduction), settlement.ToCents(p.Withdrawal),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure payroll: %w", mapConstraintError(err))
	}

	got, err := scanPayroll(s.db.QueryRowContext(ctx,
		`SELECT `+payrollColumns+` FROM payroll_records WHERE agent_id = ? AND day_key = ?`,
		p.AgentID, string(p.Day)))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load payroll: %w", err)
	}
	return &got, got.ID == p.ID, nil
}

func (s *Store) GetPayroll(ctx context.Context, id string) (*settlement.PayrollRecord, error) {
	return s.getPayroll(ctx, `SELECT `+payrollColumns+` FROM payroll_records WHERE id = ?`, id)
}

func (s *Store) FindPayroll(ctx context.Context, agentID string, day settlement.DayKey) (*settlement.PayrollRecord, error) {
	return s.getPayroll(ctx, `SELECT `+payrollColumns+` FROM payroll_records WHERE agent_id = ? AND day_key = ?`, agentID, string(day))
}

func (s *Store) ListPayroll(ctx context.Context, agentID string, from, to settlement.DayKey) ([]settlement.PayrollRecord, error) {
	var (
		where []string
		args  []any
	)
	if agentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, agentID)
	}
	if !from.IsZero() {
		where = append(where, "day_key >= ?")
		args = append(args, string(from))
	}
	if !to.IsZero() {
		where = append(where, "day_key <= ?")
		args = append(args, string(to))
	}
	query := `SELECT ` + payrollColumns + ` FROM payroll_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY day_key, agent_id"

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payroll: %w", err)
	}
	defer rows.Close()

	var records []settlement.PayrollRecord
	for rows.Next() {
		p, err := scanPayroll(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, p)
	}
	return records, rows.Err()
}

// SetVariance overwrites over/short; the total follows through the generated column.
func (s *Store) SetVariance(ctx context.Context, id string, over, short decimal.Decimal, at time.Time) (*settlement.PayrollRecord, error) {
	return s.updatePayroll(ctx, `over_cents = ?, short_cents = ?`, id, at, settlement.ToCents(over), settlement.ToCents(short))
}

func (s *Store) AddWithdrawal(ctx context.Context, id string, amount decimal.Decimal, at time.Time) (*settlement.PayrollRecord, error) {
	return s.updatePayroll(ctx, `withdrawal_cents = withdrawal_cents + ?`, id, at, settlement.ToCents(amount))
}

func (s *Store) AddDeduction(ctx context.Context, id string, amount decimal.Decimal, at time.Time) (*settlement.PayrollRecord, error) {
	return s.updatePayroll(ctx, `deduction_cents = deduction_cents + ?`, id, at, settlement.ToCents(amount))
}

func (s *Store) updatePayroll(ctx context.Context, set, id string, at time.Time, args ...any) (*settlement.PayrollRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	args = append(args, formatTime(at), id)
	got, err := scanPayroll(s.db.QueryRowContext(ctx,
		`UPDATE payroll_records SET `+set+`, updated_at = ? WHERE id = ? RETURNING `+payrollColumns, args...))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payroll %s: %w", id, settlement.ErrStaleWrite)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update payroll: %w", mapConstraintError(err))
	}
	return &got, nil
}

func (s *Store) AppendAdjustment(ctx context.Context, a settlement.PayrollAdjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payroll_adjustments (`+adjustmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.PayrollID, a.AgentID, string(a.Day),
		settlement.ToCents(a.PreviousTotal), settlement.ToCents(a.NewTotal), settlement.ToCents(a.Delta),
		a.Reason, a.Actor, formatTime(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append adjustment: %w", mapConstraintError(err))
	}
	return nil
}

func (s *Store) ListAdjustments(ctx context.Context, payrollID string) ([]settlement.PayrollAdjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+adjustmentColumns+` FROM payroll_adjustments
		WHERE payroll_id = ? ORDER BY created_at, id`, payrollID)
	if err != nil {
		return nil, fmt.Errorf("failed to query adjustments: %w", err)
	}
	defer rows.Close()

	var out []settlement.PayrollAdjustment
	for rows.Next() {
		var (
			a                     settlement.PayrollAdjustment
			day, createdAt        string
			prev, newTotal, delta int64
		)
		if err := rows.Scan(&a.ID, &a.PayrollID, &a.AgentID, &day, &prev, &newTotal, &delta,
			&a.Reason, &a.Actor, &createdAt); err != nil {
			return nil, err
		}
		a.Day = settlement.DayKey(day)
		a.PreviousTotal = settlement.FromCents(prev)
		a.NewTotal = settlement.FromCents(newTotal)
		a.Delta = settlement.FromCents(delta)
		a.CreatedAt = parseTime(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) getPayroll(ctx context.Context, query string, args ...any) (*settlement.PayrollRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, err := scanPayroll(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payroll: %w", err)
	}
	return &p, nil
}

func scanPayroll(row scanner) (settlement.PayrollRecord, error) {
	var (
		p                                               settlement.PayrollRecord
		day, createdAt, updatedAt                       string
		base, over, short, deduction, withdrawal, total int64
	)
	err := row.Scan(&p.ID, &p.AgentID, &day, &base, &over, &short, &deduction, &withdrawal, &total, &createdAt, &updatedAt)
	if err != nil {
		return p, err
	}
	p.Day = settlement.DayKey(day)
	p.BasePay = settlement.FromCents(base)
	p.Over = settlement.FromCents(over)
	p.Short = settlement.FromCents(short)
	p.Deduction = settlement.FromCents(deduction)
	p.Withdrawal = settlement.FromCents(withdrawal)
	p.Total = settlement.FromCents(total)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}
