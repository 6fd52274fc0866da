package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/teller-settlement/settlement"
)

func TestScheduler_CatchesUpMissedDay(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	sched := NewSettlementScheduler(s.engine)

	// WHEN: The scheduler starts with no run for yesterday
	require.NoError(t, sched.Start(s.ctx))
	defer sched.Stop()

	// THEN: Yesterday is settled in the background
	require.Eventually(t, func() bool {
		run, err := s.store.GetRun(s.ctx, testDay.Prev())
		return err == nil && run != nil && run.Status == settlement.RunCompleted
	}, 2*time.Second, 10*time.Millisecond)

	run, err := s.store.GetRun(s.ctx, testDay.Prev())
	require.NoError(t, err)
	assert.Equal(t, schedulerActor, run.Actor)

	// AND: The next boundary is tomorrow's midnight in Manila
	assert.True(t, time.Date(2025, 3, 10, 16, 0, 0, 0, time.UTC).Equal(sched.NextRun()), sched.NextRun())
}

func TestScheduler_ReschedulesOnConfigChange(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	sched := NewSettlementScheduler(s.engine)
	require.NoError(t, sched.Start(s.ctx))
	defer sched.Stop()

	// WHEN: An admin moves the reset to 12:00
	_, err := s.engine.UpdateConfig(s.ctx, settlement.SettlementConfig{ResetHour: 12, Timezone: "Asia/Manila"}, "admin")
	require.NoError(t, err)

	// THEN: The timer is re-armed for noon today
	assert.True(t, time.Date(2025, 3, 10, 4, 0, 0, 0, time.UTC).Equal(sched.NextRun()), sched.NextRun())

	// AND: Invalid configs leave the boundary alone
	sched.Reschedule(settlement.SettlementConfig{Timezone: "Mars/Olympus"})
	assert.True(t, time.Date(2025, 3, 10, 4, 0, 0, 0, time.UTC).Equal(sched.NextRun()))
}

func TestScheduler_Disabled(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	sched := NewSettlementScheduler(s.engine)
	sched.Enabled = false

	require.NoError(t, sched.Start(s.ctx))
	sched.Stop()

	assert.True(t, sched.NextRun().IsZero())
	runs, err := s.store.ListRuns(s.ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestScheduler_RunNow(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	sched := NewSettlementScheduler(s.engine)

	run, err := sched.RunNow(s.ctx, "")
	require.NoError(t, err)
	assert.Equal(t, testDay.Prev(), run.Day)
	assert.Equal(t, schedulerActor, run.Actor)
}

func TestConfigEndpoint_ReportsNextRun(t *testing.T) {
	s := newTestServer(t, RouterOptions{})
	sched := NewSettlementScheduler(s.engine)
	router := NewRouter(NewHandler(s.engine, sched), RouterOptions{})
	s.router = router

	rec := s.do(t, "PUT", "/api/settlement/config", map[string]any{"resetHour": 12, "resetMinute": 30, "timezone": "Asia/Manila"})
	requireStatus(t, http.StatusOK, rec)

	next, err := time.Parse(time.RFC3339, decodeAs[ConfigResponse](t, rec).NextRun)
	require.NoError(t, err)
	assert.True(t, time.Date(2025, 3, 10, 4, 30, 0, 0, time.UTC).Equal(next), next)
}
