/*
capital.go - Capital custody ledger

PURPOSE:
  Tracks the working funds a supervisor entrusts to an agent for one
  business day. Each agent holds at most one active session; every
  movement is an append-only LedgerEntry and the session counters are
  only ever changed by atomic increments in the store.

LIFECYCLE:
  issue            -> active
  report accepted  -> completed
  settlement close -> archived

  A fresh issue is required to reactivate an agent the next day.

BALANCE:
  balance = issued + additions - remittances

  Always recomputed from the session counters. A client-supplied
  balance is never trusted.

SEE ALSO:
  - engine.go: Wraps these operations with notifications and payroll sync
  - store.go: CapitalStore contract
*/
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/teller-settlement/metrics"
)

type CapitalInput struct {
	AgentID        string
	SupervisorID   string
	Amount         decimal.Decimal
	IdempotencyKey string
}

type capitalStore interface {
	CapitalStore
	AgentStore
}

// CapitalLedger owns session creation and capital movements.
type CapitalLedger struct {
	store capitalStore
	now   func() time.Time
}

func NewCapitalLedger(store capitalStore, now func() time.Time) *CapitalLedger {
	if now == nil {
		now = time.Now
	}
	return &CapitalLedger{store: store, now: now}
}

// Issue opens a new active session for the agent. Fails with ConflictError
// if one is already active, and links the agent to the issuing supervisor
// when the agent has none.
func (l *CapitalLedger) Issue(ctx context.Context, day DayKey, in CapitalInput) (*CapitalSession, error) {
	if in.AgentID == "" {
		return nil, invalid("agentId", "required")
	}
	if in.SupervisorID == "" {
		return nil, invalid("supervisorId", "required")
	}
	amount, err := positiveAmount("amount", in.Amount)
	if err != nil {
		return nil, err
	}
	if in.AgentID == in.SupervisorID {
		return nil, invalid("supervisorId", "an agent cannot issue capital to itself")
	}

	agent, err := l.store.GetAgent(ctx, in.AgentID)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	if agent == nil {
		return nil, notFound("agent", in.AgentID)
	}
	sup, err := l.store.GetAgent(ctx, in.SupervisorID)
	if err != nil {
		return nil, fmt.Errorf("load supervisor: %w", err)
	}
	if sup == nil {
		return nil, notFound("supervisor", in.SupervisorID)
	}
	if !sup.Role.IsSupervisor() && sup.Role != RoleAdmin {
		return nil, invalid("supervisorId", fmt.Sprintf("role %q cannot issue capital", sup.Role))
	}

	now := l.now().UTC()
	session := CapitalSession{
		ID:           NewID(),
		AgentID:      in.AgentID,
		SupervisorID: in.SupervisorID,
		Day:          day,
		Issued:       amount,
		Additions:    zero,
		Remittances:  zero,
		Status:       SessionActive,
		CreatedAt:    now,
	}
	entry := LedgerEntry{
		ID:             NewID(),
		SessionID:      session.ID,
		AgentID:        in.AgentID,
		SupervisorID:   in.SupervisorID,
		Type:           EntryIssue,
		Amount:         amount,
		Day:            day,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      now,
	}

	if err := l.store.OpenSession(ctx, session, entry); err != nil {
		switch {
		case errors.Is(err, ErrDuplicateIdempotencyKey):
			return nil, conflict("ledger entry", in.IdempotencyKey, "idempotency key already used")
		case errors.Is(err, ErrDuplicate):
			return nil, conflict("capital session", in.AgentID, "agent already has an active session")
		}
		return nil, fmt.Errorf("open session: %w", err)
	}

	if agent.SupervisorID == "" {
		if _, err := l.store.LinkSupervisor(ctx, in.AgentID, in.SupervisorID); err != nil {
			return nil, fmt.Errorf("link supervisor: %w", err)
		}
	}

	metrics.CapitalOperations.WithLabelValues(string(EntryIssue)).Inc()
	return &session, nil
}

// AddFunds increments the active session's additions.
func (l *CapitalLedger) AddFunds(ctx context.Context, day DayKey, in CapitalInput) (*CapitalSession, error) {
	return l.increment(ctx, day, EntryAdditional, in)
}

// Remit increments the active session's remittances.
func (l *CapitalLedger) Remit(ctx context.Context, day DayKey, in CapitalInput) (*CapitalSession, error) {
	return l.increment(ctx, day, EntryRemit, in)
}

func (l *CapitalLedger) increment(ctx context.Context, day DayKey, t EntryType, in CapitalInput) (*CapitalSession, error) {
	if in.AgentID == "" {
		return nil, invalid("agentId", "required")
	}
	amount, err := positiveAmount("amount", in.Amount)
	if err != nil {
		return nil, err
	}

	entry := LedgerEntry{
		ID:             NewID(),
		AgentID:        in.AgentID,
		SupervisorID:   in.SupervisorID,
		Type:           t,
		Amount:         amount,
		Day:            day,
		IdempotencyKey: in.IdempotencyKey,
		CreatedAt:      l.now().UTC(),
	}
	session, err := l.store.IncrementSession(ctx, entry)
	if err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			return nil, conflict("ledger entry", in.IdempotencyKey, "idempotency key already used")
		}
		return nil, fmt.Errorf("record %s: %w", t, err)
	}
	if session == nil {
		return nil, notFound("active capital session", in.AgentID)
	}

	metrics.CapitalOperations.WithLabelValues(string(t)).Inc()
	return session, nil
}

// Complete marks the active session completed. Completing an agent whose
// latest session is already completed or archived is a no-op.
func (l *CapitalLedger) Complete(ctx context.Context, agentID string) error {
	if agentID == "" {
		return invalid("agentId", "required")
	}
	ok, err := l.store.CompleteSession(ctx, agentID, l.now().UTC())
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	if ok {
		return nil
	}
	latest, err := l.store.LatestSession(ctx, agentID)
	if err != nil {
		return fmt.Errorf("load latest session: %w", err)
	}
	if latest == nil {
		return notFound("capital session", agentID)
	}
	return nil
}

// Active returns the agent's active session or NotFoundError.
func (l *CapitalLedger) Active(ctx context.Context, agentID string) (*CapitalSession, error) {
	s, err := l.store.ActiveSession(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("load active session: %w", err)
	}
	if s == nil {
		return nil, notFound("active capital session", agentID)
	}
	return s, nil
}
