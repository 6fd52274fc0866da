/*
types.go - Core records of the settlement engine

PURPOSE:
  Plain data shapes shared by every component and by the store.
  Behaviour lives in the component files; the methods here are pure
  derivations (balances, re-derived totals, next installment amount).

RECORDS:
  Agent             - a teller or supervisor with a daily base rate
  CapitalSession    - one custody session: issued, additions, remittances
  LedgerEntry       - one capital movement inside a session
  DailyReport       - end-of-window cash count with its variance
  PayrollRecord     - per agent per window pay line
  PayrollAdjustment - an audited change to a payroll total
  InstallmentPlan   - a short repaid through weekly payroll deductions
  Assignment        - agent to supervisor link for a window
  SettlementRun     - one execution of the daily job for a window

SEE ALSO:
  - calendar.go: DayKey and window boundaries
  - store.go: Persistence contract for these records
*/
package settlement

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AGENTS
// =============================================================================

type Role string

const (
	RoleAgent           Role = "agent"
	RoleSupervisor      Role = "supervisor"
	RoleAgentSupervisor Role = "agent_supervisor"
	RoleAdmin           Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAgent, RoleSupervisor, RoleAgentSupervisor, RoleAdmin:
		return true
	}
	return false
}

// IsSupervisor reports whether the role carries a submission flag and is
// seeded into every window's payroll.
func (r Role) IsSupervisor() bool {
	return r == RoleSupervisor || r == RoleAgentSupervisor
}

type Agent struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Role           Role            `json:"role"`
	DailyRate      decimal.Decimal `json:"dailyRate"`
	SupervisorID   string          `json:"supervisorId,omitempty"`
	SubmittedToday bool            `json:"submittedToday"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Rates resolves an agent's base pay: the agent's own rate when set,
// otherwise the default for its role.
type Rates map[Role]decimal.Decimal

func (r Rates) For(a Agent) decimal.Decimal {
	if a.DailyRate.IsPositive() {
		return RoundMoney(a.DailyRate)
	}
	return RoundMoney(r[a.Role])
}

// =============================================================================
// CAPITAL
// =============================================================================

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionArchived  SessionStatus = "archived"
)

type CapitalSession struct {
	ID           string          `json:"id"`
	AgentID      string          `json:"agentId"`
	SupervisorID string          `json:"supervisorId"`
	Day          DayKey          `json:"day"`
	Issued       decimal.Decimal `json:"issued"`
	Additions    decimal.Decimal `json:"additions"`
	Remittances  decimal.Decimal `json:"remittances"`
	Status       SessionStatus   `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	ArchivedAt   *time.Time      `json:"archivedAt,omitempty"`
}

// Balance is the expected cash on hand: issued + additions - remittances.
func (s CapitalSession) Balance() decimal.Decimal {
	return s.Issued.Add(s.Additions).Sub(s.Remittances)
}

type EntryType string

const (
	EntryIssue      EntryType = "issue"
	EntryAdditional EntryType = "additional"
	EntryRemit      EntryType = "remit"
)

type LedgerEntry struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"sessionId"`
	AgentID        string          `json:"agentId"`
	SupervisorID   string          `json:"supervisorId"`
	Type           EntryType       `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	Day            DayKey          `json:"day"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// =============================================================================
// REPORTS
// =============================================================================

type ReportStatus string

const (
	ReportOpen      ReportStatus = "open"
	ReportFinalized ReportStatus = "finalized"
	ReportVoided    ReportStatus = "voided"
)

// MaxInstallmentTerms caps both in-line short spreading and plan length.
const MaxInstallmentTerms = 52

type DailyReport struct {
	ID               string          `json:"id"`
	AgentID          string          `json:"agentId"`
	SupervisorID     string          `json:"supervisorId"`
	SessionID        string          `json:"sessionId"`
	Day              DayKey          `json:"day"`
	SystemBalance    decimal.Decimal `json:"systemBalance"`
	CountedCash      decimal.Decimal `json:"countedCash"`
	Over             decimal.Decimal `json:"over"`
	Short            decimal.Decimal `json:"short"`
	InstallmentTerms int             `json:"installmentTerms"`
	Override         bool            `json:"override"`
	Status           ReportStatus    `json:"status"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// ShortShare is the part of the short charged to this window's payroll.
func (r DailyReport) ShortShare() decimal.Decimal {
	if r.InstallmentTerms <= 1 {
		return r.Short
	}
	return RoundMoney(r.Short.Div(decimal.NewFromInt(int64(r.InstallmentTerms))))
}

// Consistent reports whether the stored variance re-derives from the inputs.
func (r DailyReport) Consistent() bool {
	return ComputeVariance(r.SystemBalance, r.CountedCash).Matches(r.Over, r.Short)
}

// =============================================================================
// PAYROLL
// =============================================================================

type PayrollRecord struct {
	ID         string          `json:"id"`
	AgentID    string          `json:"agentId"`
	Day        DayKey          `json:"day"`
	BasePay    decimal.Decimal `json:"basePay"`
	Over       decimal.Decimal `json:"over"`
	Short      decimal.Decimal `json:"short"`
	Deduction  decimal.Decimal `json:"deduction"`
	Withdrawal decimal.Decimal `json:"withdrawal"`
	Total      decimal.Decimal `json:"total"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// ExpectedTotal recomputes the total from its components.
func (p PayrollRecord) ExpectedTotal() decimal.Decimal {
	return p.BasePay.Add(p.Over).Sub(p.Short).Sub(p.Deduction).Sub(p.Withdrawal)
}

// Balanced reports whether Total equals ExpectedTotal.
func (p PayrollRecord) Balanced() bool {
	return p.Total.Equal(RoundMoney(p.ExpectedTotal()))
}

type PayrollAdjustment struct {
	ID            string          `json:"id"`
	PayrollID     string          `json:"payrollId"`
	AgentID       string          `json:"agentId"`
	Day           DayKey          `json:"day"`
	PreviousTotal decimal.Decimal `json:"previousTotal"`
	NewTotal      decimal.Decimal `json:"newTotal"`
	Delta         decimal.Decimal `json:"delta"`
	Reason        string          `json:"reason"`
	Actor         string          `json:"actor,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

type PlanStatus string

const (
	PlanActive    PlanStatus = "active"
	PlanCompleted PlanStatus = "completed"
	PlanCancelled PlanStatus = "cancelled"
)

type InstallmentPlan struct {
	ID              string               `json:"id"`
	AgentID         string               `json:"agentId"`
	OriginPayrollID string               `json:"originPayrollId,omitempty"`
	StartDay        DayKey               `json:"startDay"`
	TotalAmount     decimal.Decimal      `json:"totalAmount"`
	WeeklyAmount    decimal.Decimal      `json:"weeklyAmount"`
	WeeksTotal      int                  `json:"weeksTotal"`
	WeeksPaid       int                  `json:"weeksPaid"`
	AmountPaid      decimal.Decimal      `json:"amountPaid"`
	Status          PlanStatus           `json:"status"`
	Payments        []InstallmentPayment `json:"payments,omitempty"`
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

func (p InstallmentPlan) Remaining() decimal.Decimal {
	return p.TotalAmount.Sub(p.AmountPaid)
}

// NextAmount is the weekly amount, except the final week which takes
// whatever rounding left over.
func (p InstallmentPlan) NextAmount() decimal.Decimal {
	if p.WeeksPaid >= p.WeeksTotal-1 {
		return p.Remaining()
	}
	return p.WeeklyAmount
}

// Deferred is the part of the origin short this plan moves out of the
// origin window. A cancelled plan only keeps what it actually collected.
func (p InstallmentPlan) Deferred() decimal.Decimal {
	if p.Status == PlanCancelled {
		return p.AmountPaid
	}
	return p.TotalAmount
}

type InstallmentPayment struct {
	ID        string          `json:"id"`
	PlanID    string          `json:"planId"`
	PayrollID string          `json:"payrollId"`
	Day       DayKey          `json:"day"`
	Week      string          `json:"week"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"createdAt"`
}

// =============================================================================
// ASSIGNMENTS, CONFIG, AUDIT, RUNS
// =============================================================================

type AssignmentStatus string

const AssignmentScheduled AssignmentStatus = "scheduled"

type Assignment struct {
	ID           string           `json:"id"`
	Day          DayKey           `json:"day"`
	AgentID      string           `json:"agentId"`
	SupervisorID string           `json:"supervisorId"`
	Status       AssignmentStatus `json:"status"`
	CreatedAt    time.Time        `json:"createdAt"`
}

type SettlementConfig struct {
	ResetHour   int       `json:"resetHour"`
	ResetMinute int       `json:"resetMinute"`
	Timezone    string    `json:"timezone"`
	UpdatedBy   string    `json:"updatedBy,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (c SettlementConfig) Validate() error {
	if c.ResetHour < 0 || c.ResetHour > 23 {
		return invalid("resetHour", "must be between 0 and 23")
	}
	if c.ResetMinute < 0 || c.ResetMinute > 59 {
		return invalid("resetMinute", "must be between 0 and 59")
	}
	if c.Timezone == "" {
		return invalid("timezone", "required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return invalid("timezone", err.Error())
	}
	return nil
}

type AuditAction string

const (
	AuditSettlementRun  AuditAction = "settlement_run"
	AuditReportOverride AuditAction = "report_override"
	AuditReportVoided   AuditAction = "report_voided"
	AuditWithdrawal     AuditAction = "withdrawal_recorded"
	AuditDeduction      AuditAction = "deduction_recorded"
	AuditPlanCreated    AuditAction = "plan_created"
	AuditPlanPayment    AuditAction = "plan_payment_recorded"
	AuditPlanCancelled  AuditAction = "plan_cancelled"
	AuditConfigUpdated  AuditAction = "config_updated"
	AuditAgentSaved     AuditAction = "agent_saved"
)

type AuditEntry struct {
	ID        string         `json:"id"`
	Actor     string         `json:"actor"`
	Action    AuditAction    `json:"action"`
	Subject   string         `json:"subject"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
)

type StepResult struct {
	Name     string `json:"name"`
	Affected int    `json:"affected"`
	Error    string `json:"error,omitempty"`
}

type SettlementRun struct {
	ID          string       `json:"id"`
	Day         DayKey       `json:"day"`
	Status      RunStatus    `json:"status"`
	Attempts    int          `json:"attempts"`
	Steps       []StepResult `json:"steps"`
	Actor       string       `json:"actor"`
	StartedAt   time.Time    `json:"startedAt"`
	CompletedAt *time.Time   `json:"completedAt,omitempty"`
}
