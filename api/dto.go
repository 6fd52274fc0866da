/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON request bodies and the few response wrappers. Domain
  records (settlement.PayrollRecord, settlement.DailyReport, ...) carry
  their own json tags and are returned as-is.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *Response: Response wrappers

VALIDATION:
  Shape checks (required identifiers, ranges, date layout) use
  go-playground/validator struct tags and run in decode(). Money checks
  (positive amounts) belong to the engine, which reports them as
  settlement.ValidationError.

MONEY:
  Amounts are decimals. Clients may send JSON numbers or strings;
  responses always use strings to avoid float rounding.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/shopspring/decimal"
	"github.com/warp/teller-settlement/settlement"
)

// =============================================================================
// REQUESTS
// =============================================================================

type SaveAgentRequest struct {
	ID           string          `json:"id" validate:"required,max=64"`
	Name         string          `json:"name" validate:"required,max=128"`
	Role         string          `json:"role" validate:"required,oneof=agent supervisor agent_supervisor admin"`
	DailyRate    decimal.Decimal `json:"dailyRate"`
	SupervisorID string          `json:"supervisorId" validate:"omitempty,max=64"`
}

// CapitalRequest is the body of issue, add and remit. SupervisorID is only
// required for issue.
type CapitalRequest struct {
	AgentID        string          `json:"agentId" validate:"required,max=64"`
	SupervisorID   string          `json:"supervisorId" validate:"omitempty,max=64"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotencyKey string          `json:"idempotencyKey" validate:"omitempty,max=128"`
}

type SubmitReportRequest struct {
	AgentID          string          `json:"agentId" validate:"required,max=64"`
	CountedCash      decimal.Decimal `json:"countedCash"`
	InstallmentTerms int             `json:"installmentTerms" validate:"omitempty,min=1,max=52"`
}

type OverrideReportRequest struct {
	SystemBalance    *decimal.Decimal `json:"systemBalance"`
	CountedCash      *decimal.Decimal `json:"countedCash"`
	InstallmentTerms *int             `json:"installmentTerms" validate:"omitempty,min=1,max=52"`
	Reason           string           `json:"reason" validate:"required,max=500"`
}

type ChargeRequest struct {
	Day    string          `json:"day" validate:"omitempty,datetime=2006-01-02"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"max=500"`
}

type SyncPayrollRequest struct {
	Day string `json:"day" validate:"omitempty,datetime=2006-01-02"`
}

type CreatePlanRequest struct {
	AgentID         string          `json:"agentId" validate:"required,max=64"`
	OriginPayrollID string          `json:"originPayrollId" validate:"omitempty,max=64"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	WeeksTotal      int             `json:"weeksTotal" validate:"required,min=1,max=52"`
}

type PlanPaymentRequest struct {
	PayrollID string `json:"payrollId" validate:"required,max=64"`
}

type ConfigRequest struct {
	ResetHour   *int   `json:"resetHour" validate:"required,min=0,max=23"`
	ResetMinute *int   `json:"resetMinute" validate:"required,min=0,max=59"`
	Timezone    string `json:"timezone" validate:"required,timezone"`
}

type RunSettlementRequest struct {
	Day string `json:"day" validate:"omitempty,datetime=2006-01-02"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type SessionResponse struct {
	Session *settlement.CapitalSession `json:"session"`
	Balance decimal.Decimal            `json:"balance"`
}

type ReportResponse struct {
	Report  *settlement.DailyReport   `json:"report"`
	Payroll *settlement.PayrollRecord `json:"payroll,omitempty"`
}

type ConfigResponse struct {
	settlement.SettlementConfig
	Today   settlement.DayKey `json:"today"`
	NextRun string            `json:"nextRun,omitempty"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}
