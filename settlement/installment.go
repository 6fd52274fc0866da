/*
installment.go - Weekly recovery of shortages from future payroll

PURPOSE:
  An InstallmentPlan takes (part of) a shortage out of the window where
  it happened and recovers it through weekly payroll deductions.

CADENCE:
  At most one payment per plan per ISO week. The payment lands on the
  first payroll record synced in that week whose day is later than the
  plan's start day. The store enforces this with UNIQUE (plan, week) and
  UNIQUE (plan, payroll), so repeated or concurrent syncs of the same
  payroll can never deduct twice.

AMOUNTS:
  weekly = round(total / weeks)
  final  = total - paid so far

  The final payment absorbs rounding, so paid == total exactly when the
  plan completes.

IN-LINE SPREADING:
  A DailyReport with installment terms > 1 already spreads its own short
  across the window's payroll. A plan may not be created against a
  window that uses in-line spreading, so one shortage is never recovered
  by both mechanisms.

SEE ALSO:
  - payroll.go: Calls ApplyWeeklyDeduction on every sync
  - types.go: InstallmentPlan.NextAmount, Deferred
*/
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/warp/teller-settlement/metrics"
)

type PlanInput struct {
	AgentID         string
	OriginPayrollID string
	TotalAmount     decimal.Decimal
	WeeksTotal      int
}

type InstallmentProcessor struct {
	store Store
	now   func() time.Time
}

func NewInstallmentProcessor(store Store, now func() time.Time) *InstallmentProcessor {
	if now == nil {
		now = time.Now
	}
	return &InstallmentProcessor{store: store, now: now}
}

// CreatePlan validates and stores a new active plan. Without an origin
// payroll the plan starts on today.
func (p *InstallmentProcessor) CreatePlan(ctx context.Context, today DayKey, in PlanInput) (*InstallmentPlan, error) {
	if in.AgentID == "" {
		return nil, invalid("agentId", "required")
	}
	if in.WeeksTotal < 1 {
		return nil, invalid("weeksTotal", "must be at least 1")
	}
	if in.WeeksTotal > MaxInstallmentTerms {
		return nil, invalid("weeksTotal", fmt.Sprintf("must be at most %d", MaxInstallmentTerms))
	}
	total, err := positiveAmount("totalAmount", in.TotalAmount)
	if err != nil {
		return nil, err
	}

	agent, err := p.store.GetAgent(ctx, in.AgentID)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	if agent == nil {
		return nil, notFound("agent", in.AgentID)
	}

	start := today
	if in.OriginPayrollID != "" {
		origin, err := p.store.GetPayroll(ctx, in.OriginPayrollID)
		if err != nil {
			return nil, fmt.Errorf("load origin payroll: %w", err)
		}
		if origin == nil {
			return nil, notFound("payroll", in.OriginPayrollID)
		}
		if origin.AgentID != in.AgentID {
			return nil, invalid("originPayrollId", "belongs to a different agent")
		}
		reports, err := p.store.ListReports(ctx, in.AgentID, origin.Day)
		if err != nil {
			return nil, fmt.Errorf("load origin reports: %w", err)
		}
		for _, r := range reports {
			if r.InstallmentTerms > 1 {
				return nil, conflict("payroll", origin.ID, "shortage is already spread by report installment terms")
			}
		}
		if total.GreaterThan(origin.Short) {
			return nil, invalid("totalAmount", fmt.Sprintf("exceeds the uncovered short of %s", origin.Short.StringFixed(2)))
		}
		start = origin.Day
	}

	now := p.now().UTC()
	plan := InstallmentPlan{
		ID:              NewID(),
		AgentID:         in.AgentID,
		OriginPayrollID: in.OriginPayrollID,
		StartDay:        start,
		TotalAmount:     total,
		WeeklyAmount:    RoundMoney(total.Div(decimal.NewFromInt(int64(in.WeeksTotal)))),
		WeeksTotal:      in.WeeksTotal,
		AmountPaid:      zero,
		Status:          PlanActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := p.store.CreatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}
	return &plan, nil
}

// ApplyWeeklyDeduction takes this week's installment from payroll for every
// active plan of the payroll's agent. Plans already paid this week, or
// whose start day is not before the payroll's day, are skipped. Returns the
// payments made and the refreshed payroll record.
func (p *InstallmentProcessor) ApplyWeeklyDeduction(ctx context.Context, payroll *PayrollRecord) ([]InstallmentPayment, *PayrollRecord, error) {
	plans, err := p.store.ListPlans(ctx, payroll.AgentID, PlanActive)
	if err != nil {
		return nil, payroll, fmt.Errorf("load active plans: %w", err)
	}

	var payments []InstallmentPayment
	for _, plan := range plans {
		if !payroll.Day.After(plan.StartDay) {
			continue
		}
		pay := p.payment(plan, payroll)
		if _, err := p.store.ApplyPayment(ctx, pay, plan.WeeksPaid); err != nil {
			if errors.Is(err, ErrDuplicate) || errors.Is(err, ErrStaleWrite) {
				continue
			}
			return payments, payroll, fmt.Errorf("apply installment %s: %w", plan.ID, err)
		}
		metrics.InstallmentPayments.Inc()
		log.Debug().
			Str("component", "payroll").
			Str("plan_id", plan.ID).
			Str("payroll_id", payroll.ID).
			Str("amount", pay.Amount.StringFixed(2)).
			Msg("installment applied")
		payments = append(payments, pay)
	}

	if len(payments) == 0 {
		return nil, payroll, nil
	}
	refreshed, err := p.store.GetPayroll(ctx, payroll.ID)
	if err != nil {
		return payments, payroll, fmt.Errorf("reload payroll: %w", err)
	}
	return payments, refreshed, nil
}

// RecordPayment applies one installment of a specific plan to a specific
// payroll record, outside the automatic weekly cadence of a sync.
func (p *InstallmentProcessor) RecordPayment(ctx context.Context, planID, payrollID string) (*InstallmentPlan, error) {
	if planID == "" {
		return nil, invalid("planId", "required")
	}
	if payrollID == "" {
		return nil, invalid("payrollId", "required")
	}
	plan, err := p.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if plan == nil {
		return nil, notFound("installment plan", planID)
	}
	if plan.Status != PlanActive {
		return nil, conflict("installment plan", planID, fmt.Sprintf("plan is %s", plan.Status))
	}
	payroll, err := p.store.GetPayroll(ctx, payrollID)
	if err != nil {
		return nil, fmt.Errorf("load payroll: %w", err)
	}
	if payroll == nil {
		return nil, notFound("payroll", payrollID)
	}
	if payroll.AgentID != plan.AgentID {
		return nil, invalid("payrollId", "belongs to a different agent")
	}
	if !payroll.Day.After(plan.StartDay) {
		return nil, invalid("payrollId", "payroll precedes the plan start")
	}

	pay := p.payment(*plan, payroll)
	updated, err := p.store.ApplyPayment(ctx, pay, plan.WeeksPaid)
	switch {
	case errors.Is(err, ErrDuplicate):
		return nil, conflict("installment plan", planID, "already paid for week "+pay.Week)
	case errors.Is(err, ErrStaleWrite):
		return nil, conflict("installment plan", planID, "plan changed concurrently")
	case err != nil:
		return nil, fmt.Errorf("apply installment: %w", err)
	}
	metrics.InstallmentPayments.Inc()
	return updated, nil
}

// Cancel stops an active plan. Cancelling an already-cancelled plan is a
// no-op; a completed plan cannot be cancelled.
func (p *InstallmentProcessor) Cancel(ctx context.Context, planID string) (*InstallmentPlan, error) {
	plan, err := p.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if plan == nil {
		return nil, notFound("installment plan", planID)
	}
	switch plan.Status {
	case PlanCancelled:
		return plan, nil
	case PlanCompleted:
		return nil, conflict("installment plan", planID, "plan is already completed")
	}

	ok, err := p.store.CancelPlan(ctx, planID, p.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("cancel plan: %w", err)
	}
	if !ok {
		return nil, conflict("installment plan", planID, "plan changed concurrently")
	}
	return p.store.GetPlan(ctx, planID)
}

func (p *InstallmentProcessor) payment(plan InstallmentPlan, payroll *PayrollRecord) InstallmentPayment {
	return InstallmentPayment{
		ID:        NewID(),
		PlanID:    plan.ID,
		PayrollID: payroll.ID,
		Day:       payroll.Day,
		Week:      payroll.Day.Week(),
		Amount:    plan.NextAmount(),
		CreatedAt: p.now().UTC(),
	}
}
