/*
engine.go - Inbound operations of the settlement engine

PURPOSE:
  Single entry point used by the HTTP layer and the scheduler. The
  Engine resolves the current business day from the persisted
  SettlementConfig, validates input, calls the owning component and
  then runs the side effects every caller expects: payroll re-sync,
  notifications and audit entries.

REQUEST PATH vs BATCH PATH:
  Capital and report operations sync the affected payroll synchronously.
  RunSettlement drives the same Aggregator in batch. Both converge on the
  same (agent, day) records, which is why every write below is either an
  atomic increment or an upsert guarded by a unique key.

SYNC FAILURES:
  When the primary write succeeded but the follow-up sync failed, the
  operation still succeeds and the failure is logged. The next trigger
  (or the settlement run) recomputes the record.

SEE ALSO:
  - capital.go, payroll.go, installment.go, job.go, assignment.go
  - api/handlers.go: HTTP surface
*/
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Options struct {
	// AllowMultipleReports lets an agent file more than one report per day,
	// each against its own capital session.
	AllowMultipleReports bool

	// Rates are the per-role default daily base pay.
	Rates Rates

	// DefaultConfig is used until an admin saves a SettlementConfig.
	DefaultConfig SettlementConfig

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

type Engine struct {
	Store        Store
	Capital      *CapitalLedger
	Installments *InstallmentProcessor
	Payroll      *Aggregator
	Assigner     *AutoAssigner
	Job          *DailyJob

	notifier Notifier
	opts     Options

	mu    sync.Mutex
	hooks []func(SettlementConfig)
}

func NewEngine(store Store, notifier Notifier, locker Locker, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if opts.DefaultConfig.Timezone == "" {
		opts.DefaultConfig.Timezone = "UTC"
	}

	plans := NewInstallmentProcessor(store, opts.Now)
	payroll := NewAggregator(store, plans, locker, notifier, opts.Rates, opts.Now)
	assigner := NewAutoAssigner(store, notifier, opts.Now)
	return &Engine{
		Store:        store,
		Capital:      NewCapitalLedger(store, opts.Now),
		Installments: plans,
		Payroll:      payroll,
		Assigner:     assigner,
		Job:          NewDailyJob(store, payroll, assigner, locker, notifier, opts.Now),
		notifier:     notifier,
		opts:         opts,
	}
}

// =============================================================================
// CONFIG AND CALENDAR
// =============================================================================

// GetConfig returns the persisted config or the default when none is saved.
func (e *Engine) GetConfig(ctx context.Context) (SettlementConfig, error) {
	cfg, err := e.Store.GetConfig(ctx)
	if err != nil {
		return SettlementConfig{}, fmt.Errorf("load settlement config: %w", err)
	}
	if cfg == nil {
		return e.opts.DefaultConfig, nil
	}
	return *cfg, nil
}

// UpdateConfig validates and stores cfg, then notifies OnConfigChange hooks.
func (e *Engine) UpdateConfig(ctx context.Context, cfg SettlementConfig, actor string) (SettlementConfig, error) {
	if err := cfg.Validate(); err != nil {
		return SettlementConfig{}, err
	}
	before, err := e.GetConfig(ctx)
	if err != nil {
		return SettlementConfig{}, err
	}
	cfg.UpdatedBy = actor
	cfg.UpdatedAt = e.opts.Now().UTC()
	if err := e.Store.SaveConfig(ctx, cfg); err != nil {
		return SettlementConfig{}, fmt.Errorf("save settlement config: %w", err)
	}
	e.audit(ctx, actor, AuditConfigUpdated, "settlement_config", map[string]any{"before": before, "after": cfg})

	e.mu.Lock()
	hooks := append([]func(SettlementConfig){}, e.hooks...)
	e.mu.Unlock()
	for _, fn := range hooks {
		fn(cfg)
	}
	return cfg, nil
}

// OnConfigChange registers fn to run after every successful UpdateConfig.
func (e *Engine) OnConfigChange(fn func(SettlementConfig)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = append(e.hooks, fn)
}

func (e *Engine) Calendar(ctx context.Context) (Calendar, error) {
	cfg, err := e.GetConfig(ctx)
	if err != nil {
		return Calendar{}, err
	}
	return NewCalendar(cfg)
}

// Now reads the engine clock.
func (e *Engine) Now() time.Time {
	return e.opts.Now()
}

// Today returns the business day containing the engine clock's now.
func (e *Engine) Today(ctx context.Context) (DayKey, error) {
	cal, err := e.Calendar(ctx)
	if err != nil {
		return "", err
	}
	return cal.DayOf(e.opts.Now()), nil
}

// =============================================================================
// AGENTS
// =============================================================================

// SaveAgent creates or updates an agent. A zero daily rate takes the role default.
func (e *Engine) SaveAgent(ctx context.Context, a Agent, actor string) (*Agent, error) {
	if a.ID == "" {
		return nil, invalid("id", "required")
	}
	if a.Name == "" {
		return nil, invalid("name", "required")
	}
	if !a.Role.Valid() {
		return nil, invalid("role", fmt.Sprintf("unknown role %q", a.Role))
	}
	rate, err := countAmount("dailyRate", a.DailyRate)
	if err != nil {
		return nil, err
	}
	a.DailyRate = rate
	if a.SupervisorID == a.ID {
		return nil, invalid("supervisorId", "an agent cannot supervise itself")
	}
	if a.SupervisorID != "" {
		sup, err := e.Store.GetAgent(ctx, a.SupervisorID)
		if err != nil {
			return nil, fmt.Errorf("load supervisor: %w", err)
		}
		if sup == nil {
			return nil, notFound("supervisor", a.SupervisorID)
		}
	}

	existing, err := e.Store.GetAgent(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	now := e.opts.Now().UTC()
	a.CreatedAt = now
	a.SubmittedToday = false
	if existing != nil {
		a.CreatedAt = existing.CreatedAt
		a.SubmittedToday = existing.SubmittedToday
	}
	a.UpdatedAt = now
	if a.DailyRate.IsZero() {
		a.DailyRate = e.opts.Rates[a.Role]
	}
	a.DailyRate = RoundMoney(a.DailyRate)

	if err := e.Store.SaveAgent(ctx, a); err != nil {
		return nil, fmt.Errorf("save agent: %w", err)
	}
	e.audit(ctx, actor, AuditAgentSaved, a.ID, map[string]any{"before": existing, "after": a})
	return &a, nil
}

func (e *Engine) Agent(ctx context.Context, id string) (*Agent, error) {
	a, err := e.Store.GetAgent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	if a == nil {
		return nil, notFound("agent", id)
	}
	return a, nil
}

// =============================================================================
// CAPITAL
// =============================================================================

func (e *Engine) IssueCapital(ctx context.Context, in CapitalInput) (*CapitalSession, error) {
	day, err := e.Today(ctx)
	if err != nil {
		return nil, err
	}
	s, err := e.Capital.Issue(ctx, day, in)
	if err != nil {
		return nil, err
	}
	e.capitalUpdated(ctx, s)
	e.resync(ctx, s.AgentID, day, TriggerCapital)
	return s, nil
}

func (e *Engine) AddFunds(ctx context.Context, in CapitalInput) (*CapitalSession, error) {
	day, err := e.Today(ctx)
	if err != nil {
		return nil, err
	}
	s, err := e.Capital.AddFunds(ctx, day, in)
	if err != nil {
		return nil, err
	}
	e.capitalUpdated(ctx, s)
	e.resync(ctx, s.AgentID, s.Day, TriggerCapital)
	return s, nil
}

func (e *Engine) RemitFunds(ctx context.Context, in CapitalInput) (*CapitalSession, error) {
	day, err := e.Today(ctx)
	if err != nil {
		return nil, err
	}
	s, err := e.Capital.Remit(ctx, day, in)
	if err != nil {
		return nil, err
	}
	e.capitalUpdated(ctx, s)
	e.resync(ctx, s.AgentID, s.Day, TriggerCapital)
	return s, nil
}

func (e *Engine) CompleteSession(ctx context.Context, agentID string) error {
	if err := e.Capital.Complete(ctx, agentID); err != nil {
		return err
	}
	publish(ctx, e.notifier, Event{Type: EventCapitalUpdated, AgentID: agentID, At: e.opts.Now().UTC()})
	return nil
}

func (e *Engine) capitalUpdated(ctx context.Context, s *CapitalSession) {
	publish(ctx, e.notifier, Event{Type: EventCapitalUpdated, AgentID: s.AgentID, RecordID: s.ID, Day: s.Day, At: e.opts.Now().UTC()})
}

// =============================================================================
// REPORTS
// =============================================================================

type ReportInput struct {
	AgentID          string
	CountedCash      decimal.Decimal
	InstallmentTerms int
}

// SubmitReport records the agent's cash count against the active session's
// balance, completes the session and syncs payroll for the session's day.
func (e *Engine) SubmitReport(ctx context.Context, in ReportInput) (*DailyReport, *PayrollRecord, error) {
	if in.AgentID == "" {
		return nil, nil, invalid("agentId", "required")
	}
	counted, err := countAmount("countedCash", in.CountedCash)
	if err != nil {
		return nil, nil, err
	}
	terms, err := normalizeTerms(in.InstallmentTerms)
	if err != nil {
		return nil, nil, err
	}

	agent, err := e.Agent(ctx, in.AgentID)
	if err != nil {
		return nil, nil, err
	}
	session, err := e.Capital.Active(ctx, in.AgentID)
	if err != nil {
		return nil, nil, err
	}

	expected := session.Balance()
	v := ComputeVariance(expected, counted)
	now := e.opts.Now().UTC()
	r := DailyReport{
		ID:               NewID(),
		AgentID:          in.AgentID,
		SupervisorID:     session.SupervisorID,
		SessionID:        session.ID,
		Day:              session.Day,
		SystemBalance:    RoundMoney(expected),
		CountedCash:      counted,
		Over:             v.Over,
		Short:            v.Short,
		InstallmentTerms: terms,
		Status:           ReportOpen,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	slot := ""
	if e.opts.AllowMultipleReports {
		slot = r.ID
	}
	// Completes the session in the same transaction.
	if err := e.Store.InsertReport(ctx, r, slot); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, nil, conflict("daily report", in.AgentID+"/"+string(r.Day), "already submitted for this day")
		}
		return nil, nil, fmt.Errorf("save report: %w", err)
	}

	if agent.Role.IsSupervisor() {
		if err := e.Store.MarkSubmitted(ctx, agent.ID); err != nil {
			return nil, nil, fmt.Errorf("mark submitted: %w", err)
		}
	}
	e.capitalUpdated(ctx, session)

	rec := e.resync(ctx, in.AgentID, r.Day, TriggerReportSubmitted)
	return &r, rec, nil
}

type OverrideInput struct {
	ReportID         string
	SystemBalance    *decimal.Decimal
	CountedCash      *decimal.Decimal
	InstallmentTerms *int
	Reason           string
	Actor            string
}

// OverrideReport is an admin correction. The variance is always recomputed
// from the corrected inputs; over/short cannot be set directly.
func (e *Engine) OverrideReport(ctx context.Context, in OverrideInput) (*DailyReport, *PayrollRecord, error) {
	if in.ReportID == "" {
		return nil, nil, invalid("reportId", "required")
	}
	if in.SystemBalance == nil && in.CountedCash == nil && in.InstallmentTerms == nil {
		return nil, nil, invalid("", "nothing to override")
	}
	var counted, balance decimal.Decimal
	if in.CountedCash != nil {
		c, err := countAmount("countedCash", *in.CountedCash)
		if err != nil {
			return nil, nil, err
		}
		counted = c
	}
	if in.SystemBalance != nil {
		b, err := countAmount("systemBalance", *in.SystemBalance)
		if err != nil {
			return nil, nil, err
		}
		balance = b
	}

	r, err := e.report(ctx, in.ReportID)
	if err != nil {
		return nil, nil, err
	}
	if r.Status == ReportVoided {
		return nil, nil, conflict("daily report", r.ID, "report is voided")
	}
	before := *r

	if in.SystemBalance != nil {
		r.SystemBalance = balance
	}
	if in.CountedCash != nil {
		r.CountedCash = counted
	}
	if in.InstallmentTerms != nil {
		terms, err := normalizeTerms(*in.InstallmentTerms)
		if err != nil {
			return nil, nil, err
		}
		if terms > 1 {
			if err := e.ensureNoPlans(ctx, r.AgentID, r.Day); err != nil {
				return nil, nil, err
			}
		}
		r.InstallmentTerms = terms
	}
	v := ComputeVariance(r.SystemBalance, r.CountedCash)
	r.Over, r.Short = v.Over, v.Short
	r.Override = true
	r.UpdatedAt = e.opts.Now().UTC()
	if err := e.ensurePlansCovered(ctx, *r); err != nil {
		return nil, nil, err
	}

	if err := e.Store.UpdateReport(ctx, *r); err != nil {
		return nil, nil, fmt.Errorf("update report: %w", err)
	}
	e.audit(ctx, in.Actor, AuditReportOverride, r.ID, map[string]any{"before": before, "after": r, "reason": in.Reason})

	rec := e.resync(ctx, r.AgentID, r.Day, TriggerReportOverride)
	return r, rec, nil
}

// VoidReport removes a report from its day's payroll. Voiding twice is a no-op.
func (e *Engine) VoidReport(ctx context.Context, id, reason, actor string) (*DailyReport, *PayrollRecord, error) {
	r, err := e.report(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if r.Status == ReportVoided {
		return r, nil, nil
	}
	before := *r
	r.Status = ReportVoided
	r.UpdatedAt = e.opts.Now().UTC()
	if err := e.ensurePlansCovered(ctx, *r); err != nil {
		return nil, nil, err
	}
	if err := e.Store.UpdateReport(ctx, *r); err != nil {
		return nil, nil, fmt.Errorf("void report: %w", err)
	}
	e.audit(ctx, actor, AuditReportVoided, r.ID, map[string]any{"before": before, "reason": reason})

	rec := e.resync(ctx, r.AgentID, r.Day, TriggerReportVoided)
	return r, rec, nil
}

func (e *Engine) report(ctx context.Context, id string) (*DailyReport, error) {
	r, err := e.Store.GetReport(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load report: %w", err)
	}
	if r == nil {
		return nil, notFound("daily report", id)
	}
	return r, nil
}

func (e *Engine) ensureNoPlans(ctx context.Context, agentID string, day DayKey) error {
	rec, err := e.Store.FindPayroll(ctx, agentID, day)
	if err != nil {
		return fmt.Errorf("load payroll: %w", err)
	}
	if rec == nil {
		return nil
	}
	plans, err := e.Store.ListPlansByOrigin(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("load plans: %w", err)
	}
	for _, p := range plans {
		if p.Status != PlanCancelled {
			return conflict("payroll", rec.ID, "shortage is already recovered by installment plan "+p.ID)
		}
	}
	return nil
}

// ensurePlansCovered refuses a report change that would leave the day's
// installment plans deferring more than the corrected shortage. The plan
// has to be cancelled first.
func (e *Engine) ensurePlansCovered(ctx context.Context, changed DailyReport) error {
	rec, err := e.Store.FindPayroll(ctx, changed.AgentID, changed.Day)
	if err != nil {
		return fmt.Errorf("load payroll: %w", err)
	}
	if rec == nil {
		return nil
	}
	plans, err := e.Store.ListPlansByOrigin(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("load plans: %w", err)
	}
	deferred, holder := zero, ""
	for _, p := range plans {
		if d := p.Deferred(); d.IsPositive() {
			deferred = deferred.Add(d)
			holder = p.ID
		}
	}
	if deferred.IsZero() {
		return nil
	}

	reports, err := e.Store.ListReports(ctx, changed.AgentID, changed.Day)
	if err != nil {
		return fmt.Errorf("load reports: %w", err)
	}
	short := zero
	for _, r := range reports {
		if r.ID == changed.ID {
			r = changed
		}
		if r.Status == ReportVoided {
			continue
		}
		short = short.Add(r.ShortShare())
	}
	if deferred.GreaterThan(short) {
		return conflict("installment plan", holder, fmt.Sprintf(
			"plans defer %s of this day's short but the corrected short is %s; cancel the plan first",
			deferred.StringFixed(2), short.StringFixed(2)))
	}
	return nil
}

func normalizeTerms(terms int) (int, error) {
	switch {
	case terms == 0:
		return 1, nil
	case terms < 0:
		return 0, invalid("installmentTerms", "must be positive")
	case terms > MaxInstallmentTerms:
		return 0, invalid("installmentTerms", fmt.Sprintf("must be at most %d", MaxInstallmentTerms))
	}
	return terms, nil
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

func (e *Engine) CreatePlan(ctx context.Context, in PlanInput, actor string) (*InstallmentPlan, error) {
	today, err := e.Today(ctx)
	if err != nil {
		return nil, err
	}
	plan, err := e.Installments.CreatePlan(ctx, today, in)
	if err != nil {
		return nil, err
	}
	e.audit(ctx, actor, AuditPlanCreated, plan.ID, map[string]any{"after": plan})
	if plan.OriginPayrollID != "" {
		e.resync(ctx, plan.AgentID, plan.StartDay, TriggerPlanCreated)
	}
	return plan, nil
}

func (e *Engine) RecordPlanPayment(ctx context.Context, planID, payrollID, actor string) (*InstallmentPlan, error) {
	plan, err := e.Installments.RecordPayment(ctx, planID, payrollID)
	if err != nil {
		return nil, err
	}
	e.audit(ctx, actor, AuditPlanPayment, plan.ID, map[string]any{"payrollId": payrollID, "after": plan})
	publish(ctx, e.notifier, Event{Type: EventPayrollUpdated, AgentID: plan.AgentID, RecordID: payrollID, At: e.opts.Now().UTC()})
	return plan, nil
}

// CancelPlan stops a plan. Whatever it had not yet collected returns to the
// origin payroll's short on the follow-up sync.
func (e *Engine) CancelPlan(ctx context.Context, planID, actor string) (*InstallmentPlan, error) {
	if planID == "" {
		return nil, invalid("planId", "required")
	}
	plan, err := e.Installments.Cancel(ctx, planID)
	if err != nil {
		return nil, err
	}
	e.audit(ctx, actor, AuditPlanCancelled, plan.ID, map[string]any{"after": plan})
	if plan.OriginPayrollID != "" {
		e.resync(ctx, plan.AgentID, plan.StartDay, TriggerPlanCancelled)
	}
	return plan, nil
}

// ApplyWeeklyDeduction applies this week's installments to one payroll record.
func (e *Engine) ApplyWeeklyDeduction(ctx context.Context, agentID, payrollID string) ([]InstallmentPayment, *PayrollRecord, error) {
	rec, err := e.Store.GetPayroll(ctx, payrollID)
	if err != nil {
		return nil, nil, fmt.Errorf("load payroll: %w", err)
	}
	if rec == nil {
		return nil, nil, notFound("payroll", payrollID)
	}
	if rec.AgentID != agentID {
		return nil, nil, invalid("payrollId", "belongs to a different agent")
	}
	return e.Installments.ApplyWeeklyDeduction(ctx, rec)
}

// =============================================================================
// PAYROLL
// =============================================================================

type ChargeInput struct {
	AgentID string
	Day     DayKey
	Amount  decimal.Decimal
	Reason  string
	Actor   string
}

func (e *Engine) RecordWithdrawal(ctx context.Context, in ChargeInput) (*PayrollRecord, error) {
	day, err := e.dayOrToday(ctx, in.Day)
	if err != nil {
		return nil, err
	}
	rec, err := e.Payroll.RecordWithdrawal(ctx, in.AgentID, day, in.Amount, in.Actor)
	if err != nil {
		return nil, err
	}
	e.audit(ctx, in.Actor, AuditWithdrawal, rec.ID, map[string]any{"amount": RoundMoney(in.Amount), "reason": in.Reason, "after": rec})
	return rec, nil
}

func (e *Engine) RecordDeduction(ctx context.Context, in ChargeInput) (*PayrollRecord, error) {
	day, err := e.dayOrToday(ctx, in.Day)
	if err != nil {
		return nil, err
	}
	rec, err := e.Payroll.RecordDeduction(ctx, in.AgentID, day, in.Amount, in.Actor)
	if err != nil {
		return nil, err
	}
	e.audit(ctx, in.Actor, AuditDeduction, rec.ID, map[string]any{"amount": RoundMoney(in.Amount), "reason": in.Reason, "after": rec})
	return rec, nil
}

// SyncPayroll recomputes one agent's payroll. A zero day means today.
func (e *Engine) SyncPayroll(ctx context.Context, agentID string, day DayKey) (*PayrollRecord, error) {
	day, err := e.dayOrToday(ctx, day)
	if err != nil {
		return nil, err
	}
	return e.Payroll.Sync(ctx, agentID, day, TriggerManual)
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// RunSettlement settles day. A zero day means the day before today.
func (e *Engine) RunSettlement(ctx context.Context, day DayKey, actor string) (*SettlementRun, error) {
	if day.IsZero() {
		today, err := e.Today(ctx)
		if err != nil {
			return nil, err
		}
		day = today.Prev()
	}
	return e.Job.Run(ctx, day, actor)
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) dayOrToday(ctx context.Context, day DayKey) (DayKey, error) {
	if !day.IsZero() {
		return day, nil
	}
	return e.Today(ctx)
}

func (e *Engine) resync(ctx context.Context, agentID string, day DayKey, trigger SyncTrigger) *PayrollRecord {
	rec, err := e.Payroll.Sync(ctx, agentID, day, trigger)
	if err != nil {
		log.Error().Err(err).
			Str("component", "payroll").
			Str("agent_id", agentID).
			Str("day", string(day)).
			Str("trigger", string(trigger)).
			Msg("payroll sync failed")
		return nil
	}
	return rec
}

func (e *Engine) audit(ctx context.Context, actor string, action AuditAction, subject string, payload map[string]any) {
	if actor == "" {
		actor = "system"
	}
	err := e.Store.AppendAudit(ctx, AuditEntry{
		ID:        NewID(),
		Actor:     actor,
		Action:    action,
		Subject:   subject,
		Payload:   payload,
		CreatedAt: e.opts.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Str("action", string(action)).Str("subject", subject).Msg("audit append failed")
	}
}
