/*
store.go - Persistence and coordination contracts

PURPOSE:
  Defines the interface between the settlement components and the
  database, plus the two coordination seams (Locker, Notifier).

STORAGE-LEVEL INVARIANTS:
  The store, not the caller, is responsible for these. Implementations
  must enforce them with constraints so that concurrent callers cannot
  race past a read-then-write check:
  - at most one active CapitalSession per agent          -> ErrDuplicate
  - at most one non-voided report per (agent, day, slot) -> ErrDuplicate
  - at most one PayrollRecord per (agent, day)           -> EnsurePayroll is idempotent
  - at most one InstallmentPayment per (plan, week)      -> ErrDuplicate
  - at most one Assignment per (day, agent)              -> CreateAssignment returns false
  - payroll total always equals its re-derived value
  - session counters change by atomic increment only

LOOKUPS:
  Get/Find methods return (nil, nil) when the record does not exist.
  Components translate that into a NotFoundError with context.

IMPLEMENTATIONS:
  - store/sqlite: SQLite via mattn/go-sqlite3

SEE ALSO:
  - errors.go: Store error sentinels
*/
package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORES
// =============================================================================

type AgentStore interface {
	SaveAgent(ctx context.Context, a Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgents(ctx context.Context) ([]Agent, error)
	ListSupervisors(ctx context.Context) ([]Agent, error)

	// LinkSupervisor sets the agent's supervisor only if none is set.
	LinkSupervisor(ctx context.Context, agentID, supervisorID string) (bool, error)
	SetSupervisor(ctx context.Context, agentID, supervisorID string) error
	MarkSubmitted(ctx context.Context, agentID string) error
	ResetSubmissionFlags(ctx context.Context) (int, error)
}

type CapitalStore interface {
	// OpenSession creates an active session together with its issue entry.
	// Returns ErrDuplicate if the agent already has an active session.
	OpenSession(ctx context.Context, s CapitalSession, issue LedgerEntry) error

	// IncrementSession atomically adds the entry's amount to the active
	// session's additions or remittances and appends the entry.
	// Returns (nil, nil) when the agent has no active session.
	IncrementSession(ctx context.Context, entry LedgerEntry) (*CapitalSession, error)

	// CompleteSession flips the active session to completed.
	// Returns false when there was no active session.
	CompleteSession(ctx context.Context, agentID string, at time.Time) (bool, error)

	ActiveSession(ctx context.Context, agentID string) (*CapitalSession, error)
	LatestSession(ctx context.Context, agentID string) (*CapitalSession, error)
	GetSession(ctx context.Context, id string) (*CapitalSession, error)
	ArchiveSessions(ctx context.Context, through DayKey, at time.Time) (int, error)

	ListEntries(ctx context.Context, agentID string, day DayKey) ([]LedgerEntry, error)
	ListEntriesByDay(ctx context.Context, day DayKey, t EntryType) ([]LedgerEntry, error)
}

type ReportStore interface {
	// InsertReport stores the report and completes its session atomically.
	// Returns ErrDuplicate when a non-voided report already occupies
	// (agent, day, slot), in which case the session is left untouched.
	InsertReport(ctx context.Context, r DailyReport, slot string) error
	UpdateReport(ctx context.Context, r DailyReport) error
	GetReport(ctx context.Context, id string) (*DailyReport, error)

	// ListReports returns the agent's non-voided reports for a window.
	ListReports(ctx context.Context, agentID string, day DayKey) ([]DailyReport, error)
	ListReportsByDay(ctx context.Context, day DayKey) ([]DailyReport, error)
	FinalizeReports(ctx context.Context, through DayKey, at time.Time) (int, error)
}

type PayrollStore interface {
	// EnsurePayroll inserts p unless (agent, day) exists. An existing
	// record with zero base pay takes p's base pay. The bool reports
	// whether p was inserted.
	EnsurePayroll(ctx context.Context, p PayrollRecord) (*PayrollRecord, bool, error)
	GetPayroll(ctx context.Context, id string) (*PayrollRecord, error)
	FindPayroll(ctx context.Context, agentID string, day DayKey) (*PayrollRecord, error)

	// ListPayroll filters by agent when agentID is non-empty and by an
	// inclusive day range when from/to are non-zero.
	ListPayroll(ctx context.Context, agentID string, from, to DayKey) ([]PayrollRecord, error)

	SetVariance(ctx context.Context, id string, over, short decimal.Decimal, at time.Time) (*PayrollRecord, error)
	AddWithdrawal(ctx context.Context, id string, amount decimal.Decimal, at time.Time) (*PayrollRecord, error)
	AddDeduction(ctx context.Context, id string, amount decimal.Decimal, at time.Time) (*PayrollRecord, error)

	AppendAdjustment(ctx context.Context, a PayrollAdjustment) error
	ListAdjustments(ctx context.Context, payrollID string) ([]PayrollAdjustment, error)
}

type InstallmentStore interface {
	CreatePlan(ctx context.Context, p InstallmentPlan) error
	GetPlan(ctx context.Context, id string) (*InstallmentPlan, error)

	// ListPlans filters by agent and by status when non-empty.
	ListPlans(ctx context.Context, agentID string, status PlanStatus) ([]InstallmentPlan, error)
	ListPlansByOrigin(ctx context.Context, payrollID string) ([]InstallmentPlan, error)

	// ApplyPayment atomically inserts the payment, advances the plan
	// (compare-and-set on expectedWeeksPaid) and adds the amount to the
	// payroll's deduction. ErrDuplicate when the plan already has a payment
	// for that week or payroll; ErrStaleWrite when the plan moved on.
	ApplyPayment(ctx context.Context, pay InstallmentPayment, expectedWeeksPaid int) (*InstallmentPlan, error)

	// CancelPlan flips an active plan to cancelled. False if it was not active.
	CancelPlan(ctx context.Context, id string, at time.Time) (bool, error)
}

type AssignmentStore interface {
	// CreateAssignment returns false when (day, agent) is already assigned.
	CreateAssignment(ctx context.Context, a Assignment) (bool, error)
	ListAssignments(ctx context.Context, day DayKey) ([]Assignment, error)
}

type ConfigStore interface {
	GetConfig(ctx context.Context) (*SettlementConfig, error)
	SaveConfig(ctx context.Context, c SettlementConfig) error
}

type AuditLog interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]AuditEntry, error)
}

type RunStore interface {
	// BeginRun upserts the run for r.Day, resetting it to running and
	// incrementing its attempt counter.
	BeginRun(ctx context.Context, r SettlementRun) (*SettlementRun, error)
	FinishRun(ctx context.Context, r SettlementRun) error
	GetRun(ctx context.Context, day DayKey) (*SettlementRun, error)
	ListRuns(ctx context.Context, limit int) ([]SettlementRun, error)
}

// Store is everything the engine persists.
type Store interface {
	AgentStore
	CapitalStore
	ReportStore
	PayrollStore
	InstallmentStore
	AssignmentStore
	ConfigStore
	AuditLog
	RunStore
}

// =============================================================================
// COORDINATION
// =============================================================================

// Unlocker releases a held lock.
type Unlocker interface {
	Release(ctx context.Context) error
}

// Locker serializes work across goroutines and, with a shared backend,
// across processes.
type Locker interface {
	// Lock blocks until the key is obtained or ctx is done.
	Lock(ctx context.Context, key string, ttl time.Duration) (Unlocker, error)

	// TryLock returns ErrLockHeld immediately if another holder owns key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Unlocker, error)
}
