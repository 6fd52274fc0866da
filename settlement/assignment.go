package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// DeriveAssignments turns one day's issue entries into assignments for day.
// When several supervisors funded the same agent, the last issuance wins
// (by entry time, then id), so each agent gets exactly one supervisor.
// The result is ordered by supervisor then agent.
func DeriveAssignments(day DayKey, issues []LedgerEntry) []Assignment {
	latest := make(map[string]LedgerEntry)
	for _, e := range issues {
		if e.Type != EntryIssue || e.AgentID == "" || e.SupervisorID == "" {
			continue
		}
		cur, ok := latest[e.AgentID]
		if !ok || issuedAfter(e, cur) {
			latest[e.AgentID] = e
		}
	}

	out := make([]Assignment, 0, len(latest))
	for agentID, e := range latest {
		out = append(out, Assignment{
			Day:          day,
			AgentID:      agentID,
			SupervisorID: e.SupervisorID,
			Status:       AssignmentScheduled,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SupervisorID != out[j].SupervisorID {
			return out[i].SupervisorID < out[j].SupervisorID
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

func issuedAfter(a, b LedgerEntry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// AutoAssigner pairs agents with supervisors for the next business day.
type AutoAssigner struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

func NewAutoAssigner(store Store, notifier Notifier, now func() time.Time) *AutoAssigner {
	if now == nil {
		now = time.Now
	}
	return &AutoAssigner{store: store, notifier: notifier, now: now}
}

// Reassign creates the assignments for closing.Next() derived from the
// closing day's issuance. Pairs already assigned are skipped. Returns the
// number of assignments created; per-agent failures are joined and do not
// stop the remaining agents.
func (a *AutoAssigner) Reassign(ctx context.Context, closing DayKey) (int, error) {
	issues, err := a.store.ListEntriesByDay(ctx, closing, EntryIssue)
	if err != nil {
		return 0, fmt.Errorf("load issuance: %w", err)
	}

	day := closing.Next()
	var errs []error
	created := 0
	for _, asg := range DeriveAssignments(day, issues) {
		asg.ID = NewID()
		asg.CreatedAt = a.now().UTC()
		ok, err := a.store.CreateAssignment(ctx, asg)
		if err != nil {
			errs = append(errs, fmt.Errorf("assign %s: %w", asg.AgentID, err))
			continue
		}
		if !ok {
			continue
		}
		created++
		if err := a.store.SetSupervisor(ctx, asg.AgentID, asg.SupervisorID); err != nil {
			errs = append(errs, fmt.Errorf("link %s to %s: %w", asg.AgentID, asg.SupervisorID, err))
		}
		log.Debug().
			Str("component", "settlement").
			Str("agent_id", asg.AgentID).
			Str("supervisor_id", asg.SupervisorID).
			Str("day", string(day)).
			Msg("agent assigned")
		publish(ctx, a.notifier, Event{Type: EventAssignmentUpdated, AgentID: asg.AgentID, RecordID: asg.ID, Day: day, At: asg.CreatedAt})
	}
	return created, errors.Join(errs...)
}
