package settlement

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventPayrollUpdated      EventType = "payroll.updated"
	EventCapitalUpdated      EventType = "capital.updated"
	EventAssignmentUpdated   EventType = "assignment.updated"
	EventSettlementCompleted EventType = "settlement.completed"
)

// Event tells connected clients which record to reload.
type Event struct {
	Type     EventType `json:"type"`
	AgentID  string    `json:"agentId,omitempty"`
	RecordID string    `json:"recordId,omitempty"`
	Day      DayKey    `json:"day,omitempty"`
	At       time.Time `json:"at"`
}

// Notifier delivers events. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) error { return nil }

// publish never fails the caller; a lost notification only delays a UI refresh.
func publish(ctx context.Context, n Notifier, e Event) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, e); err != nil {
		log.Warn().Err(err).
			Str("event", string(e.Type)).
			Str("agent_id", e.AgentID).
			Msg("notification failed")
	}
}
