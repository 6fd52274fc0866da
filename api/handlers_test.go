/*
handlers_test.go - Tests for the HTTP API

Tests for:
- Agent endpoints and request shape validation
- Capital movements and the daily report flow
- Report override and void
- Withdrawals, deductions and adjustment history
- Installment plan endpoints
- Settlement config, runs, assignments and audit
- Error status mapping (400/404/409)
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/teller-settlement/locker"
	"github.com/warp/teller-settlement/settlement"
	"github.com/warp/teller-settlement/store/sqlite"
)

// =============================================================================
// TEST SERVER
// =============================================================================

// 2025-03-10 is a Monday; the clock sits at 10:00 Manila time.
var testNow = time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC)

const (
	testDay = settlement.DayKey("2025-03-10")
	nextDay = settlement.DayKey("2025-03-11")
)

type testServer struct {
	ctx    context.Context
	engine *settlement.Engine
	store  *sqlite.Store
	locks  *locker.Local
	router http.Handler
}

func newTestServer(t *testing.T, opts RouterOptions) *testServer {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	locks := locker.NewLocal()
	engine := settlement.NewEngine(store, nil, locks, settlement.Options{
		Rates: settlement.Rates{
			settlement.RoleAgent:           decimal.RequireFromString("450"),
			settlement.RoleSupervisor:      decimal.RequireFromString("600"),
			settlement.RoleAgentSupervisor: decimal.RequireFromString("550"),
		},
		DefaultConfig: settlement.SettlementConfig{Timezone: "Asia/Manila"},
		Now:           func() time.Time { return testNow },
	})

	return &testServer{
		ctx:    context.Background(),
		engine: engine,
		store:  store,
		locks:  locks,
		router: NewRouter(NewHandler(engine, nil), opts),
	}
}

// do sends body as JSON; a string body is sent verbatim.
func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "tester")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func requireStatus(t *testing.T, want int, rec *httptest.ResponseRecorder) {
	t.Helper()
	require.Equal(t, want, rec.Code, rec.Body.String())
}

func requireMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

// seedBranch creates a supervisor and a teller holding 1000 in capital.
func (s *testServer) seedBranch(t *testing.T) {
	t.Helper()
	requireStatus(t, http.StatusOK, s.do(t, "POST", "/api/agents", SaveAgentRequest{ID: "sup", Name: "Ana", Role: "supervisor"}))
	requireStatus(t, http.StatusOK, s.do(t, "POST", "/api/agents", SaveAgentRequest{ID: "tel", Name: "Ben", Role: "agent"}))
	requireStatus(t, http.StatusCreated, s.do(t, "POST", "/api/capital/issue", map[string]any{
		"agentId": "tel", "supervisorId": "sup", "amount": "1000",
	}))
}

// submitShort files a 900 count against the seeded 1000.
func (s *testServer) submitShort(t *testing.T) ReportResponse {
	t.Helper()
	rec := s.do(t, "POST", "/api/reports", map[string]any{"agentId": "tel", "countedCash": 900})
	requireStatus(t, http.StatusCreated, rec)
	return decodeAs[ReportResponse](t, rec)
}

// =============================================================================
// AGENTS
// =============================================================================

func TestHealthz(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	rec := s.do(t, "GET", "/healthz", nil)
	requireStatus(t, http.StatusOK, rec)
	assert.Equal(t, "ok", decodeAs[map[string]string](t, rec)["status"])
}

func TestAgents(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	// GIVEN: An empty branch
	rec := s.do(t, "GET", "/api/agents", nil)
	requireStatus(t, http.StatusOK, rec)
	assert.Equal(t, "[]\n", rec.Body.String())

	// WHEN: A supervisor is saved without a rate
	rec = s.do(t, "POST", "/api/agents", SaveAgentRequest{ID: "sup", Name: "Ana", Role: "supervisor"})

	// THEN: The role default applies
	requireStatus(t, http.StatusOK, rec)
	agent := decodeAs[settlement.Agent](t, rec)
	requireMoney(t, "600", agent.DailyRate)

	rec = s.do(t, "GET", "/api/agents/sup", nil)
	requireStatus(t, http.StatusOK, rec)
	assert.Equal(t, "Ana", decodeAs[settlement.Agent](t, rec).Name)

	rec = s.do(t, "GET", "/api/agents", nil)
	assert.Len(t, decodeAs[[]settlement.Agent](t, rec), 1)

	requireStatus(t, http.StatusNotFound, s.do(t, "GET", "/api/agents/ghost", nil))
}

func TestAgents_ValidationErrors(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	tests := []struct {
		name   string
		body   any
		fields map[string]string
	}{
		{"unknown role", SaveAgentRequest{ID: "x", Name: "X", Role: "cashier"}, map[string]string{"role": "oneof"}},
		{"missing id and name", SaveAgentRequest{Role: "agent"}, map[string]string{"id": "required", "name": "required"}},
		{"negative rate", map[string]any{"id": "x", "name": "X", "role": "agent", "dailyRate": "-5"}, map[string]string{"dailyRate": "must not be negative"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, "POST", "/api/agents", tt.body)
			requireStatus(t, http.StatusBadRequest, rec)
			resp := decodeAs[ErrorResponse](t, rec)
			for field := range tt.fields {
				assert.Contains(t, resp.Fields, field)
			}
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		rec := s.do(t, "POST", "/api/agents", `{"id":`)
		requireStatus(t, http.StatusBadRequest, rec)
		assert.Equal(t, "invalid request body", decodeAs[ErrorResponse](t, rec).Error)
	})
}

// =============================================================================
// CAPITAL AND REPORTS
// =============================================================================

func TestCapitalAndReportFlow(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.seedBranch(t)

	// WHEN: Funds move during the day
	rec := s.do(t, "POST", "/api/capital/add", map[string]any{"agentId": "tel", "amount": "200"})
	requireStatus(t, http.StatusOK, rec)
	rec = s.do(t, "POST", "/api/capital/remit", map[string]any{"agentId": "tel", "amount": "100.50"})
	requireStatus(t, http.StatusOK, rec)

	// THEN: The session balance follows
	rec = s.do(t, "GET", "/api/agents/tel/session", nil)
	requireStatus(t, http.StatusOK, rec)
	session := decodeAs[SessionResponse](t, rec)
	requireMoney(t, "1099.50", session.Balance)
	assert.Equal(t, testDay, session.Session.Day)
	assert.Equal(t, "sup", session.Session.SupervisorID)

	rec = s.do(t, "GET", "/api/agents/tel/ledger", nil)
	requireStatus(t, http.StatusOK, rec)
	assert.Len(t, decodeAs[[]settlement.LedgerEntry](t, rec), 3)

	// WHEN: The teller counts 1000
	rec = s.do(t, "POST", "/api/reports", map[string]any{"agentId": "tel", "countedCash": "1000"})

	// THEN: The shortage lands on today's payroll
	requireStatus(t, http.StatusCreated, rec)
	resp := decodeAs[ReportResponse](t, rec)
	requireMoney(t, "99.50", resp.Report.Short)
	requireMoney(t, "0", resp.Report.Over)
	require.NotNil(t, resp.Payroll)
	requireMoney(t, "350.50", resp.Payroll.Total)

	// AND: The session is closed
	requireStatus(t, http.StatusNotFound, s.do(t, "GET", "/api/agents/tel/session", nil))

	rec = s.do(t, "GET", "/api/reports?day=2025-03-10", nil)
	assert.Len(t, decodeAs[[]settlement.DailyReport](t, rec), 1)
	rec = s.do(t, "GET", "/api/reports?agentId=sup", nil)
	assert.Empty(t, decodeAs[[]settlement.DailyReport](t, rec))
}

func TestCapital_Errors(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.seedBranch(t)

	tests := []struct {
		name   string
		path   string
		body   map[string]any
		status int
	}{
		{"second open session", "/api/capital/issue", map[string]any{"agentId": "tel", "supervisorId": "sup", "amount": "5"}, http.StatusConflict},
		{"zero amount", "/api/capital/add", map[string]any{"agentId": "tel", "amount": "0"}, http.StatusBadRequest},
		{"unknown agent", "/api/capital/issue", map[string]any{"agentId": "ghost", "supervisorId": "sup", "amount": "5"}, http.StatusNotFound},
		{"missing agent", "/api/capital/add", map[string]any{"amount": "5"}, http.StatusBadRequest},
		{"no session", "/api/capital/add", map[string]any{"agentId": "sup", "amount": "5"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireStatus(t, tt.status, s.do(t, "POST", tt.path, tt.body))
		})
	}

	requireStatus(t, http.StatusBadRequest, s.do(t, "GET", "/api/agents/tel/ledger?day=10-03-2025", nil))
}

func TestReports_SecondSubmitConflicts(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.seedBranch(t)
	s.submitShort(t)

	requireStatus(t, http.StatusCreated, s.do(t, "POST", "/api/capital/issue", map[string]any{
		"agentId": "tel", "supervisorId": "sup", "amount": "50",
	}))
	rec := s.do(t, "POST", "/api/reports", map[string]any{"agentId": "tel", "countedCash": "50"})
	requireStatus(t, http.StatusConflict, rec)
}

func TestOverrideAndVoidReport(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.seedBranch(t)
	report := s.submitShort(t).Report

	t.Run("reason is required", func(t *testing.T) {
		rec := s.do(t, "POST", "/api/reports/"+report.ID+"/override", map[string]any{"countedCash": "1000"})
		requireStatus(t, http.StatusBadRequest, rec)
		assert.Equal(t, "required", decodeAs[ErrorResponse](t, rec).Fields["reason"])
	})

	t.Run("nothing to override", func(t *testing.T) {
		rec := s.do(t, "POST", "/api/reports/"+report.ID+"/override", map[string]any{"reason": "recount"})
		requireStatus(t, http.StatusBadRequest, rec)
	})

	t.Run("recount clears the shortage", func(t *testing.T) {
		rec := s.do(t, "POST", "/api/reports/"+report.ID+"/override", map[string]any{"countedCash": "1010", "reason": "recount"})
		requireStatus(t, http.StatusOK, rec)
		resp := decodeAs[ReportResponse](t, rec)
		assert.True(t, resp.Report.Override)
		requireMoney(t, "10", resp.Report.Over)
		requireMoney(t, "460", resp.Payroll.Total)
	})

	t.Run("void removes the report from payroll", func(t *testing.T) {
		rec := s.do(t, "DELETE", "/api/reports/"+report.ID+"?reason=duplicate", nil)
		requireStatus(t, http.StatusOK, rec)
		resp := decodeAs[ReportResponse](t, rec)
		assert.Equal(t, settlement.ReportVoided, resp.Report.Status)
		requireMoney(t, "450", resp.Payroll.Total)
	})

	t.Run("voided reports cannot be overridden", func(t *testing.T) {
		rec := s.do(t, "POST", "/api/reports/"+report.ID+"/override", map[string]any{"countedCash": "1", "reason": "late"})
		requireStatus(t, http.StatusConflict, rec)
	})

	requireStatus(t, http.StatusNotFound, s.do(t, "DELETE", "/api/reports/ghost", nil))

	rec := s.do(t, "GET", "/api/audit?limit=2", nil)
	requireStatus(t, http.StatusOK, rec)
	audit := decodeAs[[]settlement.AuditEntry](t, rec)
	require.Len(t, audit, 2)
	assert.Equal(t, settlement.AuditReportVoided, audit[0].Action)
	assert.Equal(t, "tester", audit[0].Actor)
	assert.Equal(t, settlement.AuditReportOverride, audit[1].Action)
}

// =============================================================================
// PAYROLL
// =============================================================================

func TestPayrollCharges(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.seedBranch(t)
	rec := s.submitShort(t).Payroll

	// WHEN: A withdrawal and a deduction are taken
	w := s.do(t, "POST", "/api/agents/tel/withdrawals", map[string]any{"amount": "50", "reason": "advance"})
	requireStatus(t, http.StatusCreated, w)
	requireMoney(t, "300", decodeAs[settlement.PayrollRecord](t, w).Total)

	w = s.do(t, "POST", "/api/agents/tel/deductions", map[string]any{"day": "2025-03-10", "amount": "25"})
	requireStatus(t, http.StatusCreated, w)
	after := decodeAs[settlement.PayrollRecord](t, w)
	requireMoney(t, "275", after.Total)
	requireMoney(t, "25", after.Deduction)
	requireMoney(t, "50", after.Withdrawal)

	// THEN: Both appear in the adjustment history
	w = s.do(t, "GET", "/api/payroll/"+rec.ID+"/adjustments", nil)
	requireStatus(t, http.StatusOK, w)
	reasons := map[string]bool{}
	for _, a := range decodeAs[[]settlement.PayrollAdjustment](t, w) {
		reasons[a.Reason] = true
	}
	assert.True(t, reasons["withdrawal"])
	assert.True(t, reasons["deduction"])

	w = s.do(t, "GET", "/api/agents/tel/payroll?from=2025-03-10&to=2025-03-10", nil)
	requireStatus(t, http.StatusOK, w)
	list := decodeAs[[]settlement.PayrollRecord](t, w)
	require.Len(t, list, 1)
	requireMoney(t, "275", list[0].Total)

	// Errors
	requireStatus(t, http.StatusBadRequest, s.do(t, "POST", "/api/agents/tel/withdrawals", map[string]any{"amount": "-1"}))
	requireStatus(t, http.StatusBadRequest, s.do(t, "POST", "/api/agents/tel/deductions", map[string]any{"day": "March", "amount": "1"}))
	requireStatus(t, http.StatusNotFound, s.do(t, "GET", "/api/payroll/ghost/adjustments", nil))
	requireStatus(t, http.StatusBadRequest, s.do(t, "GET", "/api/agents/tel/payroll?from=2025-03-11&to=2025-03-10", nil))
}

func TestSyncPayroll(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.seedBranch(t)

	// WHEN: Payroll is synced before any report, with and without a body
	rec := s.do(t, "POST", "/api/agents/tel/payroll/sync", nil)
	requireStatus(t, http.StatusOK, rec)
	requireMoney(t, "450", decodeAs[settlement.PayrollRecord](t, rec).Total)

	rec = s.do(t, "POST", "/api/agents/tel/payroll/sync", SyncPayrollRequest{Day: "2025-03-11"})
	requireStatus(t, http.StatusOK, rec)
	assert.Equal(t, nextDay, decodeAs[settlement.PayrollRecord](t, rec).Day)

	requireStatus(t, http.StatusNotFound, s.do(t, "POST", "/api/agents/ghost/payroll/sync", nil))
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

func TestInstallmentEndpoints(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.seedBranch(t)
	origin := s.submitShort(t).Payroll

	// WHEN: The shortage is moved into a 2-week plan
	rec := s.do(t, "POST", "/api/installments", CreatePlanRequest{
		AgentID:         "tel",
		OriginPayrollID: origin.ID,
		TotalAmount:     decimal.RequireFromString("100"),
		WeeksTotal:      2,
	})
	requireStatus(t, http.StatusCreated, rec)
	plan := decodeAs[settlement.InstallmentPlan](t, rec)
	requireMoney(t, "50", plan.WeeklyAmount)
	assert.Equal(t, settlement.PlanActive, plan.Status)

	// THEN: The origin day no longer carries the shortage
	rec = s.do(t, "GET", "/api/agents/tel/payroll", nil)
	list := decodeAs[[]settlement.PayrollRecord](t, rec)
	require.Len(t, list, 1)
	requireMoney(t, "450", list[0].Total)

	rec = s.do(t, "GET", "/api/agents/tel/installments?status=active", nil)
	requireStatus(t, http.StatusOK, rec)
	assert.Len(t, decodeAs[[]settlement.InstallmentPlan](t, rec), 1)

	// AND: Payments cannot come from the origin day itself
	rec = s.do(t, "POST", "/api/installments/"+plan.ID+"/payments", PlanPaymentRequest{PayrollID: origin.ID})
	requireStatus(t, http.StatusBadRequest, rec)
	requireStatus(t, http.StatusBadRequest, s.do(t, "POST", "/api/installments/"+plan.ID+"/payments", map[string]any{}))

	// WHEN: The plan is cancelled twice
	rec = s.do(t, "POST", "/api/installments/"+plan.ID+"/cancel", nil)
	requireStatus(t, http.StatusOK, rec)
	assert.Equal(t, settlement.PlanCancelled, decodeAs[settlement.InstallmentPlan](t, rec).Status)
	requireStatus(t, http.StatusOK, s.do(t, "POST", "/api/installments/"+plan.ID+"/cancel", nil))

	rec = s.do(t, "GET", "/api/agents/tel/installments?status=active", nil)
	assert.Empty(t, decodeAs[[]settlement.InstallmentPlan](t, rec))

	requireStatus(t, http.StatusNotFound, s.do(t, "POST", "/api/installments/ghost/cancel", nil))
	requireStatus(t, http.StatusBadRequest, s.do(t, "POST", "/api/installments", CreatePlanRequest{AgentID: "tel", WeeksTotal: 60}))
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func TestSettlementConfig(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	rec := s.do(t, "GET", "/api/settlement/config", nil)
	requireStatus(t, http.StatusOK, rec)
	cfg := decodeAs[ConfigResponse](t, rec)
	assert.Equal(t, "Asia/Manila", cfg.Timezone)
	assert.Equal(t, testDay, cfg.Today)
	assert.Empty(t, cfg.NextRun)

	t.Run("shape errors", func(t *testing.T) {
		rec := s.do(t, "PUT", "/api/settlement/config", map[string]any{"resetHour": 24, "resetMinute": 0, "timezone": "Asia/Manila"})
		requireStatus(t, http.StatusBadRequest, rec)
		assert.Equal(t, "max", decodeAs[ErrorResponse](t, rec).Fields["resetHour"])

		rec = s.do(t, "PUT", "/api/settlement/config", map[string]any{"resetHour": 1, "timezone": "Asia/Manila"})
		requireStatus(t, http.StatusBadRequest, rec)
		assert.Equal(t, "required", decodeAs[ErrorResponse](t, rec).Fields["resetMinute"])

		rec = s.do(t, "PUT", "/api/settlement/config", map[string]any{"resetHour": 1, "resetMinute": 0, "timezone": "Mars/Olympus"})
		requireStatus(t, http.StatusBadRequest, rec)
	})

	// WHEN: The reset moves past the clock's 10:00
	rec = s.do(t, "PUT", "/api/settlement/config", map[string]any{"resetHour": 12, "resetMinute": 30, "timezone": "Asia/Manila"})

	// THEN: Today becomes the previous business day
	requireStatus(t, http.StatusOK, rec)
	cfg = decodeAs[ConfigResponse](t, rec)
	assert.Equal(t, 12, cfg.ResetHour)
	assert.Equal(t, 30, cfg.ResetMinute)
	assert.Equal(t, "tester", cfg.UpdatedBy)
	assert.Equal(t, testDay.Prev(), cfg.Today)
}

func TestSettlementRun(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	s.seedBranch(t)
	s.submitShort(t)

	// WHEN: Today is settled on demand
	rec := s.do(t, "POST", "/api/settlement/run", RunSettlementRequest{Day: string(testDay)})

	// THEN: The run completes and tomorrow's assignments exist
	requireStatus(t, http.StatusOK, rec)
	run := decodeAs[settlement.SettlementRun](t, rec)
	assert.Equal(t, settlement.RunCompleted, run.Status)
	assert.Equal(t, "tester", run.Actor)
	assert.Len(t, run.Steps, 6)

	rec = s.do(t, "GET", "/api/assignments?day=2025-03-11", nil)
	requireStatus(t, http.StatusOK, rec)
	asg := decodeAs[[]settlement.Assignment](t, rec)
	require.Len(t, asg, 1)
	assert.Equal(t, "tel", asg[0].AgentID)
	assert.Equal(t, "sup", asg[0].SupervisorID)

	rec = s.do(t, "GET", "/api/settlement/runs", nil)
	requireStatus(t, http.StatusOK, rec)
	assert.Len(t, decodeAs[[]settlement.SettlementRun](t, rec), 1)

	// AND: Without a day the previous business day is settled
	rec = s.do(t, "POST", "/api/settlement/run", nil)
	requireStatus(t, http.StatusOK, rec)
	assert.Equal(t, testDay.Prev(), decodeAs[settlement.SettlementRun](t, rec).Day)

	requireStatus(t, http.StatusBadRequest, s.do(t, "POST", "/api/settlement/run", RunSettlementRequest{Day: "yesterday"}))
	requireStatus(t, http.StatusBadRequest, s.do(t, "GET", "/api/settlement/runs?limit=-1", nil))
	requireStatus(t, http.StatusBadRequest, s.do(t, "GET", "/api/audit?limit=abc", nil))
}

func TestSettlementRun_HeldLockConflicts(t *testing.T) {
	s := newTestServer(t, RouterOptions{})

	held, err := s.locks.TryLock(s.ctx, "settlement:"+string(testDay), time.Minute)
	require.NoError(t, err)
	defer held.Release(s.ctx)

	rec := s.do(t, "POST", "/api/settlement/run", RunSettlementRequest{Day: string(testDay)})
	requireStatus(t, http.StatusConflict, rec)
}

// =============================================================================
// ROUTER
// =============================================================================

func TestRouter_MetricsAndCORS(t *testing.T) {
	s := newTestServer(t, RouterOptions{AllowedOrigins: []string{"https://backoffice.example"}})
	requireStatus(t, http.StatusOK, s.do(t, "GET", "/healthz", nil))

	rec := s.do(t, "GET", "/metrics", nil)
	requireStatus(t, http.StatusOK, rec)
	assert.True(t, strings.Contains(rec.Body.String(), "http_request_duration_seconds"))

	req := httptest.NewRequest("OPTIONS", "/api/agents", nil)
	req.Header.Set("Origin", "https://backoffice.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, "https://backoffice.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_ScenariosNotMountedByDefault(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	requireStatus(t, http.StatusNotFound, s.do(t, "GET", "/api/scenarios/", nil))
}
