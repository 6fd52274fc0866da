/*
payroll.go - Payroll aggregation per agent per business day

PURPOSE:
  Folds an agent's reports, deferrals and installment deductions into
  exactly one PayrollRecord per (agent, day). Sync is idempotent: running
  it twice with the same inputs changes nothing and creates nothing.

ALGORITHM (Sync):
  1. Sum over, and the rounded short share of every non-voided report.
  2. Subtract what explicit installment plans deferred out of this window.
  3. EnsurePayroll: insert-or-keep keyed by (agent, day), seeded with the
     agent's base rate.
  4. Write over/short in place. If an existing total moved, append a
     PayrollAdjustment with the previous total and the trigger as reason.
  5. Apply this week's installment deductions.
  6. Notify payroll.updated.

  total = base + over - short - deduction - withdrawal is a generated
  column in the store, so it can never drift from its components.

CONCURRENCY:
  Sync for one agent is serialized through the Locker. Different agents
  sync in parallel.

SEE ALSO:
  - installment.go: Weekly deductions
  - job.go: Seeds next-day payroll and re-syncs finalized reports
*/
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/warp/teller-settlement/metrics"
)

// SyncTrigger names why a sync ran. It becomes the adjustment reason.
type SyncTrigger string

const (
	TriggerCapital         SyncTrigger = "capital"
	TriggerReportSubmitted SyncTrigger = "report_submitted"
	TriggerReportOverride  SyncTrigger = "report_override"
	TriggerReportVoided    SyncTrigger = "report_voided"
	TriggerPlanCreated     SyncTrigger = "plan_created"
	TriggerPlanCancelled   SyncTrigger = "plan_cancelled"
	TriggerSettlement      SyncTrigger = "settlement"
	TriggerManual          SyncTrigger = "manual"
)

const syncLockTTL = 30 * time.Second

type Aggregator struct {
	store    Store
	plans    *InstallmentProcessor
	locker   Locker
	notifier Notifier
	rates    Rates
	now      func() time.Time
}

func NewAggregator(store Store, plans *InstallmentProcessor, locker Locker, notifier Notifier, rates Rates, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{store: store, plans: plans, locker: locker, notifier: notifier, rates: rates, now: now}
}

// Sync recomputes the agent's payroll record for day.
func (a *Aggregator) Sync(ctx context.Context, agentID string, day DayKey, trigger SyncTrigger) (*PayrollRecord, error) {
	if agentID == "" {
		return nil, invalid("agentId", "required")
	}
	if day.IsZero() {
		return nil, invalid("day", "required")
	}

	unlock, err := a.locker.Lock(ctx, "payroll:"+agentID, syncLockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock payroll %s: %w", agentID, err)
	}
	defer a.release(ctx, unlock)

	agent, err := a.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	if agent == nil {
		return nil, notFound("agent", agentID)
	}

	reports, err := a.store.ListReports(ctx, agentID, day)
	if err != nil {
		return nil, fmt.Errorf("load reports: %w", err)
	}
	over, short := zero, zero
	for _, r := range reports {
		over = over.Add(r.Over)
		short = short.Add(r.ShortShare())
	}

	rec, created, err := a.Seed(ctx, *agent, day)
	if err != nil {
		return nil, err
	}

	deferred, err := a.deferred(ctx, rec)
	if err != nil {
		return nil, err
	}
	if deferred.GreaterThan(short) {
		// Report corrections are refused while plans cover more than the
		// short, so this only happens on data written around the engine.
		log.Warn().
			Str("component", "payroll").
			Str("payroll_id", rec.ID).
			Str("short", short.StringFixed(2)).
			Str("deferred", deferred.StringFixed(2)).
			Msg("installment plans defer more than the day's short")
	}
	short = maxDecimal(short.Sub(deferred), zero)

	if !rec.Over.Equal(over) || !rec.Short.Equal(short) {
		prev := rec.Total
		rec, err = a.store.SetVariance(ctx, rec.ID, over, short, a.now().UTC())
		if err != nil {
			return nil, fmt.Errorf("update payroll variance: %w", err)
		}
		if !created && !rec.Total.Equal(prev) {
			if err := a.recordAdjustment(ctx, rec, prev, string(trigger), ""); err != nil {
				return nil, err
			}
		}
	}

	if _, rec, err = a.plans.ApplyWeeklyDeduction(ctx, rec); err != nil {
		return nil, err
	}

	if !rec.Balanced() {
		log.Error().
			Str("component", "payroll").
			Str("payroll_id", rec.ID).
			Str("total", rec.Total.StringFixed(2)).
			Str("expected", rec.ExpectedTotal().StringFixed(2)).
			Msg("payroll total diverges from its components")
	}

	metrics.PayrollSyncs.WithLabelValues(string(trigger)).Inc()
	publish(ctx, a.notifier, Event{Type: EventPayrollUpdated, AgentID: agentID, RecordID: rec.ID, Day: day, At: a.now().UTC()})
	return rec, nil
}

// Seed ensures a payroll record exists for (agent, day) without touching
// an existing one, except to fill in a zero base pay.
func (a *Aggregator) Seed(ctx context.Context, agent Agent, day DayKey) (*PayrollRecord, bool, error) {
	now := a.now().UTC()
	rec, created, err := a.store.EnsurePayroll(ctx, PayrollRecord{
		ID:         NewID(),
		AgentID:    agent.ID,
		Day:        day,
		BasePay:    a.rates.For(agent),
		Over:       zero,
		Short:      zero,
		Deduction:  zero,
		Withdrawal: zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("ensure payroll %s/%s: %w", agent.ID, day, err)
	}
	return rec, created, nil
}

// RecordWithdrawal charges a cash advance against the agent's payroll for day.
func (a *Aggregator) RecordWithdrawal(ctx context.Context, agentID string, day DayKey, amount decimal.Decimal, actor string) (*PayrollRecord, error) {
	return a.charge(ctx, agentID, day, amount, "withdrawal", actor)
}

// RecordDeduction charges a manual deduction against the agent's payroll for day.
func (a *Aggregator) RecordDeduction(ctx context.Context, agentID string, day DayKey, amount decimal.Decimal, actor string) (*PayrollRecord, error) {
	return a.charge(ctx, agentID, day, amount, "deduction", actor)
}

func (a *Aggregator) charge(ctx context.Context, agentID string, day DayKey, amount decimal.Decimal, kind, actor string) (*PayrollRecord, error) {
	if agentID == "" {
		return nil, invalid("agentId", "required")
	}
	if day.IsZero() {
		return nil, invalid("day", "required")
	}
	amount, err := positiveAmount("amount", amount)
	if err != nil {
		return nil, err
	}

	unlock, err := a.locker.Lock(ctx, "payroll:"+agentID, syncLockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock payroll %s: %w", agentID, err)
	}
	defer a.release(ctx, unlock)

	agent, err := a.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	if agent == nil {
		return nil, notFound("agent", agentID)
	}
	rec, _, err := a.Seed(ctx, *agent, day)
	if err != nil {
		return nil, err
	}

	prev := rec.Total
	now := a.now().UTC()
	if kind == "withdrawal" {
		rec, err = a.store.AddWithdrawal(ctx, rec.ID, amount, now)
	} else {
		rec, err = a.store.AddDeduction(ctx, rec.ID, amount, now)
	}
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", kind, err)
	}
	if err := a.recordAdjustment(ctx, rec, prev, kind, actor); err != nil {
		return nil, err
	}

	publish(ctx, a.notifier, Event{Type: EventPayrollUpdated, AgentID: agentID, RecordID: rec.ID, Day: day, At: now})
	return rec, nil
}

// deferred sums what plans originating from rec moved out of its short.
func (a *Aggregator) deferred(ctx context.Context, rec *PayrollRecord) (decimal.Decimal, error) {
	plans, err := a.store.ListPlansByOrigin(ctx, rec.ID)
	if err != nil {
		return zero, fmt.Errorf("load deferring plans: %w", err)
	}
	total := zero
	for _, p := range plans {
		total = total.Add(p.Deferred())
	}
	return total, nil
}

func (a *Aggregator) recordAdjustment(ctx context.Context, rec *PayrollRecord, prev decimal.Decimal, reason, actor string) error {
	adj := PayrollAdjustment{
		ID:            NewID(),
		PayrollID:     rec.ID,
		AgentID:       rec.AgentID,
		Day:           rec.Day,
		PreviousTotal: prev,
		NewTotal:      rec.Total,
		Delta:         rec.Total.Sub(prev),
		Reason:        reason,
		Actor:         actor,
		CreatedAt:     a.now().UTC(),
	}
	if err := a.store.AppendAdjustment(ctx, adj); err != nil {
		return fmt.Errorf("record payroll adjustment: %w", err)
	}
	metrics.PayrollAdjustments.WithLabelValues(reason).Inc()
	log.Info().
		Str("component", "payroll").
		Str("payroll_id", rec.ID).
		Str("agent_id", rec.AgentID).
		Str("day", string(rec.Day)).
		Str("previous", prev.StringFixed(2)).
		Str("new", rec.Total.StringFixed(2)).
		Str("reason", reason).
		Msg("payroll adjusted")
	return nil
}

func (a *Aggregator) release(ctx context.Context, u Unlocker) {
	if err := u.Release(context.WithoutCancel(ctx)); err != nil {
		log.Warn().Err(err).Str("component", "payroll").Msg("release payroll lock")
	}
}
