package settlement_test

import (
	"context"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/teller-settlement/locker"
	"github.com/warp/teller-settlement/settlement"
	"github.com/warp/teller-settlement/store/sqlite"
)

// 2025-03-10 is a Monday; 10:00 in Manila is well inside the business day.
var manila = mustLocation("Asia/Manila")

var mondayMorning = time.Date(2025, 3, 10, 10, 0, 0, 0, manila)

const monday = settlement.DayKey("2025-03-10")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type eventLog struct {
	mu     sync.Mutex
	events []settlement.Event
}

func (l *eventLog) Notify(_ context.Context, e settlement.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) OfType(t settlement.EventType) []settlement.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []settlement.Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	ctx    context.Context
	store  *sqlite.Store
	engine *settlement.Engine
	clock  *fakeClock
	events *eventLog
	locks  *locker.Local
	opts   settlement.Options
}

func newHarness(t *testing.T, mutate ...func(*settlement.Options)) *harness {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := &fakeClock{t: mondayMorning}
	events := &eventLog{}
	locks := locker.NewLocal()
	opts := settlement.Options{
		Rates: settlement.Rates{
			settlement.RoleAgent:           dec("450"),
			settlement.RoleSupervisor:      dec("600"),
			settlement.RoleAgentSupervisor: dec("550"),
			settlement.RoleAdmin:           dec("0"),
		},
		DefaultConfig: settlement.SettlementConfig{Timezone: "Asia/Manila"},
		Now:           clock.Now,
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	return &harness{
		ctx:    context.Background(),
		store:  store,
		engine: settlement.NewEngine(store, events, locks, opts),
		clock:  clock,
		events: events,
		locks:  locks,
		opts:   opts,
	}
}

func dec(s string) decimal.Decimal {
	return settlement.MustMoney(s)
}

func (h *harness) agent(t *testing.T, id string, role settlement.Role) *settlement.Agent {
	t.Helper()
	a, err := h.engine.SaveAgent(h.ctx, settlement.Agent{ID: id, Name: id, Role: role}, "test")
	require.NoError(t, err)
	return a
}

func (h *harness) issue(t *testing.T, agentID, supervisorID, amount string) *settlement.CapitalSession {
	t.Helper()
	s, err := h.engine.IssueCapital(h.ctx, settlement.CapitalInput{
		AgentID:      agentID,
		SupervisorID: supervisorID,
		Amount:       dec(amount),
	})
	require.NoError(t, err)
	return s
}

func (h *harness) submit(t *testing.T, agentID, counted string, terms int) (*settlement.DailyReport, *settlement.PayrollRecord) {
	t.Helper()
	r, rec, err := h.engine.SubmitReport(h.ctx, settlement.ReportInput{
		AgentID:          agentID,
		CountedCash:      dec(counted),
		InstallmentTerms: terms,
	})
	require.NoError(t, err)
	require.NotNil(t, rec)
	return r, rec
}

func (h *harness) payroll(t *testing.T, agentID string, day settlement.DayKey) *settlement.PayrollRecord {
	t.Helper()
	rec, err := h.store.FindPayroll(h.ctx, agentID, day)
	require.NoError(t, err)
	require.NotNil(t, rec, "no payroll for %s on %s", agentID, day)
	return rec
}

func (h *harness) adjustments(t *testing.T, payrollID string) []settlement.PayrollAdjustment {
	t.Helper()
	adj, err := h.store.ListAdjustments(h.ctx, payrollID)
	require.NoError(t, err)
	return adj
}

// requireMoney compares decimals by value so "100" equals "100.00".
func requireMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got.StringFixed(2), msgAndArgs)
}

// requireBalanced checks the payroll identity on a freshly loaded record.
func requireBalanced(t *testing.T, rec *settlement.PayrollRecord) {
	t.Helper()
	require.NotNil(t, rec)
	require.Truef(t, rec.Balanced(), "total %s != expected %s", rec.Total.StringFixed(2), rec.ExpectedTotal().StringFixed(2))
}
