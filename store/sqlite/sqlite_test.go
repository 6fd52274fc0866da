/*
sqlite_test.go - Storage-level invariants

Tests for:
- One active capital session per agent
- One live report per (agent, day, slot) and the variance CHECK
- Report insert and session completion commit together
- Payroll upsert, generated total and atomic counters
- Installment payment uniqueness per week and per payroll
- Assignment and settlement run upserts
- Reset
*/
package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/teller-settlement/settlement"
)

var at = time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC)

const day = settlement.DayKey("2025-03-10")

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func money(s string) decimal.Decimal {
	return settlement.MustMoney(s)
}

func session(id, agent string) (settlement.CapitalSession, settlement.LedgerEntry) {
	s := settlement.CapitalSession{
		ID: id, AgentID: agent, SupervisorID: "sup", Day: day,
		Issued: money("1000"), Additions: money("0"), Remittances: money("0"),
		Status: settlement.SessionActive, CreatedAt: at,
	}
	e := settlement.LedgerEntry{
		ID: "e-" + id, SessionID: id, AgentID: agent, SupervisorID: "sup",
		Type: settlement.EntryIssue, Amount: s.Issued, Day: day, CreatedAt: at,
	}
	return s, e
}

func open(t *testing.T, s *Store, id, agent string) error {
	t.Helper()
	sess, issue := session(id, agent)
	return s.OpenSession(context.Background(), sess, issue)
}

func TestOpenSession_OneActivePerAgent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, open(t, s, "s1", "tel"))

	// WHEN: A second active session is opened
	err := open(t, s, "s2", "tel")

	// THEN: The partial unique index rejects it and nothing is left behind
	require.ErrorIs(t, err, settlement.ErrDuplicate)
	entries, err := s.ListEntries(ctx, "tel", day)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// Once completed, a new session may open
	ok, err := s.CompleteSession(ctx, "tel", at)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, open(t, s, "s2", "tel"))
}

func TestIncrementSession(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, open(t, s, "s1", "tel"))

	got, err := s.IncrementSession(ctx, settlement.LedgerEntry{
		ID: "add-1", AgentID: "tel", Type: settlement.EntryAdditional, Amount: money("250.50"), Day: day, CreatedAt: at,
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, money("250.50").Equal(got.Additions))
	assert.True(t, money("1250.50").Equal(got.Balance()))

	// No active session
	got, err = s.IncrementSession(ctx, settlement.LedgerEntry{
		ID: "add-2", AgentID: "nobody", Type: settlement.EntryRemit, Amount: money("1"), Day: day, CreatedAt: at,
	})
	require.NoError(t, err)
	assert.Nil(t, got)

	// Issue entries cannot increment
	_, err = s.IncrementSession(ctx, settlement.LedgerEntry{ID: "x", AgentID: "tel", Type: settlement.EntryIssue, Amount: money("1")})
	require.Error(t, err)
}

func TestIncrementSession_IdempotencyKey(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, open(t, s, "s1", "tel"))

	entry := settlement.LedgerEntry{
		ID: "r1", AgentID: "tel", Type: settlement.EntryRemit, Amount: money("100"), Day: day,
		IdempotencyKey: "k1", CreatedAt: at,
	}
	_, err := s.IncrementSession(ctx, entry)
	require.NoError(t, err)

	entry.ID = "r2"
	_, err = s.IncrementSession(ctx, entry)
	require.ErrorIs(t, err, settlement.ErrDuplicateIdempotencyKey)

	active, err := s.ActiveSession(ctx, "tel")
	require.NoError(t, err)
	assert.True(t, money("100").Equal(active.Remittances), "rolled back increment")
}

func report(id string, balance, counted, over, short string) settlement.DailyReport {
	return settlement.DailyReport{
		ID: id, AgentID: "tel", Day: day,
		SystemBalance: money(balance), CountedCash: money(counted),
		Over: money(over), Short: money(short),
		InstallmentTerms: 1, Status: settlement.ReportOpen, CreatedAt: at, UpdatedAt: at,
	}
}

func TestReports_Constraints(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	t.Run("variance must re-derive", func(t *testing.T) {
		err := s.InsertReport(ctx, report("bad", "1000", "900", "0", "50"), "")
		require.ErrorIs(t, err, settlement.ErrInvariantViolation)

		err = s.InsertReport(ctx, report("both", "1000", "1000", "10", "10"), "")
		require.ErrorIs(t, err, settlement.ErrInvariantViolation)
	})

	t.Run("one live report per slot", func(t *testing.T) {
		require.NoError(t, s.InsertReport(ctx, report("r1", "1000", "900", "0", "100"), ""))
		err := s.InsertReport(ctx, report("r2", "1000", "1000", "0", "0"), "")
		require.ErrorIs(t, err, settlement.ErrDuplicate)

		// Another slot is allowed
		require.NoError(t, s.InsertReport(ctx, report("r3", "1000", "1000", "0", "0"), "r3"))

		// Voiding frees the default slot
		r1, err := s.GetReport(ctx, "r1")
		require.NoError(t, err)
		r1.Status = settlement.ReportVoided
		require.NoError(t, s.UpdateReport(ctx, *r1))
		require.NoError(t, s.InsertReport(ctx, report("r2", "1000", "1000", "0", "0"), ""))

		live, err := s.ListReports(ctx, "tel", day)
		require.NoError(t, err)
		assert.Len(t, live, 2)
		all, err := s.ListReportsByDay(ctx, day)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("update keeps CHECK", func(t *testing.T) {
		r, err := s.GetReport(ctx, "r2")
		require.NoError(t, err)
		r.Over = money("5")
		require.ErrorIs(t, s.UpdateReport(ctx, *r), settlement.ErrInvariantViolation)
	})

	t.Run("finalize", func(t *testing.T) {
		n, err := s.FinalizeReports(ctx, day, at)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		n, err = s.FinalizeReports(ctx, day, at)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	missing, err := s.GetReport(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func payroll(id, agent string, base string) settlement.PayrollRecord {
	return settlement.PayrollRecord{
		ID: id, AgentID: agent, Day: day, BasePay: money(base),
		Over: money("0"), Short: money("0"), Deduction: money("0"), Withdrawal: money("0"),
		CreatedAt: at, UpdatedAt: at,
	}
}

func TestInsertReport_CompletesSessionAtomically(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, open(t, s, "s1", "tel"))
	require.NoError(t, open(t, s, "s2", "lead"))

	// GIVEN: The default slot for tel is already taken by another session's report
	taken := report("r0", "1000", "1000", "0", "0")
	taken.SessionID = "s2"
	require.NoError(t, s.InsertReport(ctx, taken, ""))

	// WHEN: A report for s1 lands on the same slot
	r := report("r1", "1000", "900", "0", "100")
	r.SessionID = "s1"
	err := s.InsertReport(ctx, r, "")

	// THEN: The insert fails and the session stays active
	require.ErrorIs(t, err, settlement.ErrDuplicate)
	active, err := s.ActiveSession(ctx, "tel")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Nil(t, active.CompletedAt)

	// WHEN: The slot is free again
	r0, err := s.GetReport(ctx, "r0")
	require.NoError(t, err)
	r0.Status = settlement.ReportVoided
	require.NoError(t, s.UpdateReport(ctx, *r0))
	r.CreatedAt = at.Add(time.Hour)
	require.NoError(t, s.InsertReport(ctx, r, ""))

	// THEN: Report and completion commit together
	active, err = s.ActiveSession(ctx, "tel")
	require.NoError(t, err)
	assert.Nil(t, active)
	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, settlement.SessionCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(at.Add(time.Hour)))

	// A second report in another slot leaves the completed session alone
	extra := report("r2", "1000", "1000", "0", "0")
	extra.SessionID = "s1"
	require.NoError(t, s.InsertReport(ctx, extra, "r2"))
	got, err = s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.CompletedAt.Equal(at.Add(time.Hour)))
}

func TestPayroll_EnsureAndGeneratedTotal(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	rec, created, err := s.EnsurePayroll(ctx, payroll("p1", "tel", "0"))
	require.NoError(t, err)
	assert.True(t, created)

	// WHEN: A second seed arrives for the same (agent, day)
	again, created, err := s.EnsurePayroll(ctx, payroll("p2", "tel", "450"))
	require.NoError(t, err)

	// THEN: The first record wins but takes the missing base pay
	assert.False(t, created)
	assert.Equal(t, rec.ID, again.ID)
	assert.True(t, money("450").Equal(again.BasePay))

	// AND: An existing base pay is never overwritten
	again, _, err = s.EnsurePayroll(ctx, payroll("p3", "tel", "999"))
	require.NoError(t, err)
	assert.True(t, money("450").Equal(again.BasePay))

	// AND: The total follows every component
	got, err := s.SetVariance(ctx, rec.ID, money("20"), money("70"), at)
	require.NoError(t, err)
	got, err = s.AddWithdrawal(ctx, rec.ID, money("100"), at)
	require.NoError(t, err)
	got, err = s.AddDeduction(ctx, rec.ID, money("0.50"), at)
	require.NoError(t, err)
	assert.True(t, money("299.50").Equal(got.Total), got.Total.String())
	assert.True(t, got.Balanced())

	_, err = s.AddDeduction(ctx, "missing", money("1"), at)
	require.ErrorIs(t, err, settlement.ErrStaleWrite)

	list, err := s.ListPayroll(ctx, "", day, day)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestApplyPayment_OncePerWeekAndPayroll(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for _, p := range []settlement.PayrollRecord{payroll("mon", "tel", "450"), payroll("tue", "tel", "450")} {
		if p.ID == "tue" {
			p.Day = day.Next()
		}
		_, _, err := s.EnsurePayroll(ctx, p)
		require.NoError(t, err)
	}
	require.NoError(t, s.CreatePlan(ctx, settlement.InstallmentPlan{
		ID: "plan", AgentID: "tel", StartDay: day.Prev(), TotalAmount: money("90"), WeeklyAmount: money("30"),
		WeeksTotal: 3, AmountPaid: money("0"), Status: settlement.PlanActive, CreatedAt: at, UpdatedAt: at,
	}))

	pay := func(id, payrollID string, d settlement.DayKey) settlement.InstallmentPayment {
		return settlement.InstallmentPayment{ID: id, PlanID: "plan", PayrollID: payrollID, Day: d, Week: d.Week(), Amount: money("30"), CreatedAt: at}
	}

	plan, err := s.ApplyPayment(ctx, pay("pay-1", "mon", day), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, plan.WeeksPaid)
	require.Len(t, plan.Payments, 1)

	// Same week, other payroll
	_, err = s.ApplyPayment(ctx, pay("pay-2", "tue", day.Next()), 1)
	require.ErrorIs(t, err, settlement.ErrDuplicate)

	// Stale expected counter
	next := pay("pay-3", "tue", day.Next())
	next.Week = "2025-W12"
	_, err = s.ApplyPayment(ctx, next, 0)
	require.ErrorIs(t, err, settlement.ErrStaleWrite)

	// Rolled back payments leave the payroll untouched
	tue, err := s.FindPayroll(ctx, "tel", day.Next())
	require.NoError(t, err)
	assert.True(t, tue.Deduction.IsZero())
	mon, err := s.GetPayroll(ctx, "mon")
	require.NoError(t, err)
	assert.True(t, money("30").Equal(mon.Deduction))

	ok, err := s.CancelPlan(ctx, "plan", at)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.CancelPlan(ctx, "plan", at)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAssignmentsAndRuns(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a := settlement.Assignment{ID: "a1", Day: day, AgentID: "tel", SupervisorID: "sup", Status: settlement.AssignmentScheduled, CreatedAt: at}
	ok, err := s.CreateAssignment(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok)

	a.ID, a.SupervisorID = "a2", "other"
	ok, err = s.CreateAssignment(ctx, a)
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := s.ListAssignments(ctx, day)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "sup", list[0].SupervisorID)

	run, err := s.BeginRun(ctx, settlement.SettlementRun{ID: "run-1", Day: day, Status: settlement.RunRunning, Actor: "scheduler", StartedAt: at})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Attempts)

	done := at.Add(time.Minute)
	run.Status = settlement.RunPartial
	run.Steps = []settlement.StepResult{{Name: settlement.StepSeedPayroll, Affected: 2, Error: "boom"}}
	run.CompletedAt = &done
	require.NoError(t, s.FinishRun(ctx, *run))

	got, err := s.GetRun(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, settlement.RunPartial, got.Status)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "boom", got.Steps[0].Error)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, done.Equal(*got.CompletedAt))

	// A retry reuses the row
	run, err = s.BeginRun(ctx, settlement.SettlementRun{ID: "run-2", Day: day, Status: settlement.RunRunning, Actor: "admin", StartedAt: done})
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, 2, run.Attempts)
	assert.Empty(t, run.Steps)
	assert.Nil(t, run.CompletedAt)

	missing, err := s.GetRun(ctx, day.Next())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestConfigAndAudit(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	cfg, err := s.GetConfig(ctx)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	want := settlement.SettlementConfig{ResetHour: 3, ResetMinute: 15, Timezone: "Asia/Manila", UpdatedBy: "admin", UpdatedAt: at}
	require.NoError(t, s.SaveConfig(ctx, want))
	want.ResetHour = 4
	require.NoError(t, s.SaveConfig(ctx, want))

	cfg, err = s.GetConfig(ctx)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 4, cfg.ResetHour)
	assert.Equal(t, 15, cfg.ResetMinute)
	assert.Equal(t, "Asia/Manila", cfg.Timezone)

	require.NoError(t, s.AppendAudit(ctx, settlement.AuditEntry{
		ID: "au-1", Actor: "admin", Action: settlement.AuditConfigUpdated, Subject: "settlement_config",
		Payload: map[string]any{"resetHour": 4}, CreatedAt: at,
	}))
	entries, err := s.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, float64(4), entries[0].Payload["resetHour"])
}

func TestAgents_FlagsAndSupervisors(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for _, a := range []settlement.Agent{
		{ID: "sup", Name: "Sup", Role: settlement.RoleSupervisor, CreatedAt: at, UpdatedAt: at},
		{ID: "lead", Name: "Lead", Role: settlement.RoleAgentSupervisor, CreatedAt: at, UpdatedAt: at},
		{ID: "tel", Name: "Tel", Role: settlement.RoleAgent, DailyRate: money("450"), CreatedAt: at, UpdatedAt: at},
	} {
		require.NoError(t, s.SaveAgent(ctx, a))
	}

	sups, err := s.ListSupervisors(ctx)
	require.NoError(t, err)
	assert.Len(t, sups, 2)

	linked, err := s.LinkSupervisor(ctx, "tel", "sup")
	require.NoError(t, err)
	assert.True(t, linked)
	linked, err = s.LinkSupervisor(ctx, "tel", "lead")
	require.NoError(t, err)
	assert.False(t, linked, "an existing link is kept")

	require.NoError(t, s.MarkSubmitted(ctx, "sup"))
	require.NoError(t, s.MarkSubmitted(ctx, "lead"))
	n, err := s.ResetSubmissionFlags(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	tel, err := s.GetAgent(ctx, "tel")
	require.NoError(t, err)
	assert.Equal(t, "sup", tel.SupervisorID)
	assert.True(t, money("450").Equal(tel.DailyRate))

	missing, err := s.GetAgent(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestReset(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAgent(ctx, settlement.Agent{ID: "tel", Name: "Tel", Role: settlement.RoleAgent, CreatedAt: at, UpdatedAt: at}))
	require.NoError(t, open(t, s, "s1", "tel"))
	_, _, err := s.EnsurePayroll(ctx, payroll("p1", "tel", "450"))
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx))

	agents, err := s.ListAgents(ctx)
	require.NoError(t, err)
	assert.Empty(t, agents)
	active, err := s.ActiveSession(ctx, "tel")
	require.NoError(t, err)
	assert.Nil(t, active)
	list, err := s.ListPayroll(ctx, "", "", "")
	require.NoError(t, err)
	assert.Empty(t, list)
}
