package settlement_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/teller-settlement/settlement"
)

func TestParseDay(t *testing.T) {
	d, err := settlement.ParseDay("2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, monday, d)

	_, err = settlement.ParseDay("10/03/2025")
	require.Error(t, err)
	assert.True(t, settlement.IsValidation(err))

	_, err = settlement.ParseDay("2025-02-30")
	require.Error(t, err)
}

func TestDayKey_Arithmetic(t *testing.T) {
	assert.Equal(t, settlement.DayKey("2025-03-11"), monday.Next())
	assert.Equal(t, settlement.DayKey("2025-03-09"), monday.Prev())
	assert.Equal(t, settlement.DayKey("2025-03-01"), settlement.DayKey("2025-02-28").Next())
	assert.True(t, monday.Before(monday.Next()))
	assert.True(t, monday.After(monday.Prev()))
	assert.True(t, settlement.DayKey("").IsZero())
}

func TestDayKey_Week(t *testing.T) {
	// Monday through Sunday share an ISO week
	assert.Equal(t, "2025-W11", monday.Week())
	assert.Equal(t, "2025-W11", settlement.DayKey("2025-03-16").Week())
	assert.Equal(t, "2025-W12", settlement.DayKey("2025-03-17").Week())

	// ISO week-year differs from the calendar year at the boundary
	assert.Equal(t, "2025-W01", settlement.DayKey("2024-12-30").Week())
}

func TestCalendar_DayOf(t *testing.T) {
	// GIVEN: Windows reset at 06:30 Manila time
	cal, err := settlement.NewCalendar(settlement.SettlementConfig{ResetHour: 6, ResetMinute: 30, Timezone: "Asia/Manila"})
	require.NoError(t, err)

	tests := []struct {
		name string
		at   time.Time
		want settlement.DayKey
	}{
		{"before reset belongs to previous day", time.Date(2025, 3, 10, 6, 29, 0, 0, manila), "2025-03-09"},
		{"at reset opens the new day", time.Date(2025, 3, 10, 6, 30, 0, 0, manila), "2025-03-10"},
		{"late evening", time.Date(2025, 3, 10, 23, 59, 0, 0, manila), "2025-03-10"},
		{"UTC instant is converted first", time.Date(2025, 3, 9, 22, 45, 0, 0, time.UTC), "2025-03-10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cal.DayOf(tt.at))
		})
	}
}

func TestCalendar_NextReset(t *testing.T) {
	cal, err := settlement.NewCalendar(settlement.SettlementConfig{ResetHour: 6, ResetMinute: 30, Timezone: "Asia/Manila"})
	require.NoError(t, err)

	// WHEN: Asked just before and just after the boundary
	before := cal.NextReset(time.Date(2025, 3, 10, 6, 0, 0, 0, manila))
	after := cal.NextReset(time.Date(2025, 3, 10, 6, 30, 0, 0, manila))

	// THEN: The next boundary is strictly in the future
	assert.True(t, before.Equal(time.Date(2025, 3, 10, 6, 30, 0, 0, manila)))
	assert.True(t, after.Equal(time.Date(2025, 3, 11, 6, 30, 0, 0, manila)))

	// AND: The day closing at a boundary is the one before it
	assert.Equal(t, settlement.DayKey("2025-03-10"), cal.DayOf(after).Prev())
}

func TestCalendar_DSTBoundary(t *testing.T) {
	// GIVEN: A zone that springs forward at 02:00 on 2025-03-09
	cal, err := settlement.NewCalendar(settlement.SettlementConfig{ResetHour: 2, ResetMinute: 30, Timezone: "America/New_York"})
	require.NoError(t, err)
	ny := mustLocation("America/New_York")

	// WHEN: It is 03:15 local on the transition day (02:30 never happened)
	at := time.Date(2025, 3, 9, 3, 15, 0, 0, ny)

	// THEN: Wall-clock comparison still places it in the new day
	assert.Equal(t, settlement.DayKey("2025-03-09"), cal.DayOf(at))
	assert.True(t, cal.NextReset(at).After(at))
}

func TestNewCalendar_RejectsBadConfig(t *testing.T) {
	tests := []settlement.SettlementConfig{
		{ResetHour: 24, Timezone: "UTC"},
		{ResetMinute: 60, Timezone: "UTC"},
		{ResetHour: -1, Timezone: "UTC"},
		{Timezone: ""},
		{Timezone: "Mars/Olympus_Mons"},
	}
	for _, cfg := range tests {
		_, err := settlement.NewCalendar(cfg)
		require.Error(t, err, "%+v", cfg)
		assert.True(t, settlement.IsValidation(err))
	}
}
