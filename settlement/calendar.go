/*
calendar.go - Settlement windows and the daily reset boundary

PURPOSE:
  A settlement window is one business day. It starts at the configured
  reset time (hour:minute in the configured timezone) and ends just
  before the next reset. Every record that belongs to a window carries
  its DayKey ("YYYY-MM-DD", the calendar date on which the window began).

  With reset 03:00 Asia/Manila:
    2025-03-10 02:59 local -> window 2025-03-09
    2025-03-10 03:00 local -> window 2025-03-10

WEEKS:
  Installment deductions are taken at most once per ISO week. DayKey.Week
  returns "YYYY-Www" for that purpose.

SEE ALSO:
  - job.go: Closes the previous window when a reset fires
  - api/scheduler.go: Sleeps until Calendar.NextReset
*/
package settlement

import (
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// DayKey identifies a settlement window.
type DayKey string

// ParseDay validates a "YYYY-MM-DD" string.
func ParseDay(s string) (DayKey, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return "", invalid("day", "expected YYYY-MM-DD")
	}
	return DayKey(t.Format(dayLayout)), nil
}

// Time returns midnight UTC of the key's calendar date.
func (d DayKey) Time() time.Time {
	t, _ := time.Parse(dayLayout, string(d))
	return t
}

func (d DayKey) AddDays(n int) DayKey {
	return DayKey(d.Time().AddDate(0, 0, n).Format(dayLayout))
}

func (d DayKey) Next() DayKey { return d.AddDays(1) }
func (d DayKey) Prev() DayKey { return d.AddDays(-1) }

// Before and After compare lexicographically, which matches calendar
// order for the fixed-width layout.
func (d DayKey) Before(o DayKey) bool { return d < o }
func (d DayKey) After(o DayKey) bool  { return d > o }

func (d DayKey) IsZero() bool   { return d == "" }
func (d DayKey) String() string { return string(d) }

// Week returns the ISO week key, e.g. "2025-W11".
func (d DayKey) Week() string {
	y, w := d.Time().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, w)
}

// =============================================================================
// CALENDAR
// =============================================================================

// Calendar maps instants onto settlement windows.
type Calendar struct {
	Location    *time.Location
	ResetHour   int
	ResetMinute int
}

// NewCalendar builds a calendar from a validated config.
func NewCalendar(cfg SettlementConfig) (Calendar, error) {
	if err := cfg.Validate(); err != nil {
		return Calendar{}, err
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return Calendar{}, invalid("timezone", err.Error())
	}
	return Calendar{Location: loc, ResetHour: cfg.ResetHour, ResetMinute: cfg.ResetMinute}, nil
}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// DayOf returns the window containing t. Wall-clock comparison keeps the
// boundary stable across DST transitions.
func (c Calendar) DayOf(t time.Time) DayKey {
	local := t.In(c.loc())
	y, m, d := local.Date()
	date := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if local.Hour()*60+local.Minute() < c.ResetHour*60+c.ResetMinute {
		date = date.AddDate(0, 0, -1)
	}
	return DayKey(date.Format(dayLayout))
}

// StartOf returns the reset instant that opens window d.
func (c Calendar) StartOf(d DayKey) time.Time {
	t := d.Time()
	return time.Date(t.Year(), t.Month(), t.Day(), c.ResetHour, c.ResetMinute, 0, 0, c.loc())
}

// NextReset returns the first reset boundary strictly after t.
func (c Calendar) NextReset(t time.Time) time.Time {
	return c.StartOf(c.DayOf(t).Next())
}
