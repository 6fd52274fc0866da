package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/warp/teller-settlement/settlement"
)

const planColumns = `id, agent_id, origin_payroll_id, start_day, total_cents, weekly_cents, weeks_total,
	weeks_paid, paid_cents, status, created_at, updated_at`

const paymentColumns = `id, plan_id, payroll_id, day_key, week_key, amount_cents, created_at`

func (s *Store) CreatePlan(ctx context.Context, p settlement.InstallmentPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO installment_plans (`+planColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.AgentID, p.OriginPayrollID, string(p.StartDay),
		settlement.ToCents(p.TotalAmount), settlement.ToCents(p.WeeklyAmount),
		p.WeeksTotal, p.WeeksPaid, settlement.ToCents(p.AmountPaid), string(p.Status),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", mapConstraintError(err))
	}
	return nil
}

// GetPlan returns the plan with its payments, or nil, nil.
func (s *Store) GetPlan(ctx context.Context, id string) (*settlement.InstallmentPlan, error) {
	plans, err := s.queryPlans(ctx, `SELECT `+planColumns+` FROM installment_plans WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, nil
	}
	return &plans[0], nil
}

func (s *Store) ListPlans(ctx context.Context, agentID string, status settlement.PlanStatus) ([]settlement.InstallmentPlan, error) {
	var (
		where []string
		args  []any
	)
	if agentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, agentID)
	}
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, string(status))
	}
	query := `SELECT ` + planColumns + ` FROM installment_plans`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	return s.queryPlans(ctx, query+" ORDER BY created_at, id", args...)
}

func (s *Store) ListPlansByOrigin(ctx context.Context, payrollID string) ([]settlement.InstallmentPlan, error) {
	if payrollID == "" {
		return nil, nil
	}
	return s.queryPlans(ctx, `SELECT `+planColumns+` FROM installment_plans
		WHERE origin_payroll_id = ? ORDER BY created_at, id`, payrollID)
}

// ApplyPayment records one installment in a single transaction:
//  1. insert the payment (UNIQUE plan/week and plan/payroll)
//  2. advance the plan, guarded by weeks_paid = expectedWeeksPaid
//  3. add the amount to the payroll deduction
func (s *Store) ApplyPayment(ctx context.Context, pay settlement.InstallmentPayment, expectedWeeksPaid int) (*settlement.InstallmentPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cents := settlement.ToCents(pay.Amount)
	ts := formatTime(pay.CreatedAt)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO installment_payments (`+paymentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, pay.ID, pay.PlanID, pay.PayrollID, string(pay.Day), pay.Week, cents, ts)
		if err != nil {
			return mapConstraintError(err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE installment_plans SET
				weeks_paid = weeks_paid + 1,
				paid_cents = paid_cents + ?,
				status = CASE WHEN weeks_paid + 1 >= weeks_total THEN 'completed' ELSE status END,
				updated_at = ?
			WHERE id = ? AND status = 'active' AND weeks_paid = ?
		`, cents, ts, pay.PlanID, expectedWeeksPaid)
		if err != nil {
			return mapConstraintError(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return settlement.ErrStaleWrite
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE payroll_records SET deduction_cents = deduction_cents + ?, updated_at = ?
			WHERE id = ?
		`, cents, ts, pay.PayrollID)
		if err != nil {
			return mapConstraintError(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("payroll %s: %w", pay.PayrollID, settlement.ErrStaleWrite)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	plans, err := s.queryPlansLocked(ctx, `SELECT `+planColumns+` FROM installment_plans WHERE id = ?`, pay.PlanID)
	if err != nil {
		return nil, err
	}
	if len(plans) == 0 {
		return nil, fmt.Errorf("plan %s vanished after payment", pay.PlanID)
	}
	return &plans[0], nil
}

// CancelPlan is a compare-and-set from active to cancelled.
func (s *Store) CancelPlan(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE installment_plans SET status = 'cancelled', updated_at = ?
		WHERE id = ? AND status = 'active'
	`, formatTime(at), id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel plan: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) queryPlans(ctx context.Context, query string, args ...any) ([]settlement.InstallmentPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryPlansLocked(ctx, query, args...)
}

// queryPlansLocked loads plans and their payments. Callers must hold s.mu.
func (s *Store) queryPlansLocked(ctx context.Context, query string, args ...any) ([]settlement.InstallmentPlan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}

	var plans []settlement.InstallmentPlan
	for rows.Next() {
		var (
			p                               settlement.InstallmentPlan
			start, status, created, updated string
			total, weekly, paid             int64
		)
		if err := rows.Scan(&p.ID, &p.AgentID, &p.OriginPayrollID, &start, &total, &weekly,
			&p.WeeksTotal, &p.WeeksPaid, &paid, &status, &created, &updated); err != nil {
			rows.Close()
			return nil, err
		}
		p.StartDay = settlement.DayKey(start)
		p.TotalAmount = settlement.FromCents(total)
		p.WeeklyAmount = settlement.FromCents(weekly)
		p.AmountPaid = settlement.FromCents(paid)
		p.Status = settlement.PlanStatus(status)
		p.CreatedAt = parseTime(created)
		p.UpdatedAt = parseTime(updated)
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Close before the payment queries: the pool has a single connection.
	rows.Close()

	for i := range plans {
		payments, err := s.queryPayments(ctx, plans[i].ID)
		if err != nil {
			return nil, err
		}
		plans[i].Payments = payments
	}
	return plans, nil
}

func (s *Store) queryPayments(ctx context.Context, planID string) ([]settlement.InstallmentPayment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+paymentColumns+` FROM installment_payments
		WHERE plan_id = ? ORDER BY day_key, id`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var out []settlement.InstallmentPayment
	for rows.Next() {
		var (
			p                  settlement.InstallmentPayment
			day, week, created string
			amount             int64
		)
		if err := rows.Scan(&p.ID, &p.PlanID, &p.PayrollID, &day, &week, &amount, &created); err != nil {
			return nil, err
		}
		p.Day = settlement.DayKey(day)
		p.Week = week
		p.Amount = settlement.FromCents(amount)
		p.CreatedAt = parseTime(created)
		out = append(out, p)
	}
	return out, rows.Err()
}
