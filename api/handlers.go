/*
handlers.go - HTTP API handlers for the settlement engine

PURPOSE:
  Exposes settlement.Engine via REST API. Handles HTTP request/response,
  JSON serialization and shape validation, and delegates every business
  rule to the engine.

ENDPOINTS:
  Agents:
    GET    /api/agents                       List agents
    POST   /api/agents                       Create or update an agent
    GET    /api/agents/{id}                  Agent details
    GET    /api/agents/{id}/session          Active capital session
    GET    /api/agents/{id}/ledger?day=      Capital ledger entries

  Capital:
    POST   /api/capital/issue                Open a session
    POST   /api/capital/add                  Add funds to the active session
    POST   /api/capital/remit                Remit funds from the active session

  Reports:
    POST   /api/reports                      Submit the daily cash count
    GET    /api/reports?day=&agentId=        Reports for a day
    POST   /api/reports/{id}/override        Admin correction
    DELETE /api/reports/{id}                 Void a report

  Payroll:
    GET    /api/agents/{id}/payroll          Payroll records (from/to)
    POST   /api/agents/{id}/payroll/sync     Recompute one day
    POST   /api/agents/{id}/withdrawals      Cash withdrawal against pay
    POST   /api/agents/{id}/deductions       Manual deduction
    GET    /api/payroll/{id}/adjustments     Adjustment history
    GET    /api/payroll/export               xlsx export (export.go)

  Installments:
    POST   /api/installments                 Create a plan
    GET    /api/agents/{id}/installments     Agent's plans
    POST   /api/installments/{id}/payments   Record one weekly payment
    POST   /api/installments/{id}/cancel     Cancel a plan

  Settlement:
    GET    /api/assignments?day=             Supervisor assignments
    GET    /api/settlement/config            Reset time and timezone
    PUT    /api/settlement/config            Update (reschedules the job)
    POST   /api/settlement/run               Run the daily job now
    GET    /api/settlement/runs              Run history
    GET    /api/audit?limit=                 Audit log

REQUEST FLOW:
  1. Decode JSON body and validate its shape (validator tags in dto.go)
  2. Call the engine
  3. Serialize the result, or map the error to a status

ERROR HANDLING:
  - 400: settlement.ValidationError, malformed JSON, failed tags
  - 404: settlement.NotFoundError
  - 409: settlement.ConflictError, stale compare-and-set
  - 500: anything else

SECURITY NOTE:
  No authentication. The X-Actor header names the caller in audit
  entries and is trusted as-is.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - settlement/engine.go: Operations called from here
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/warp/teller-settlement/settlement"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Engine    *settlement.Engine
	Scheduler *SettlementScheduler

	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. scheduler may be nil when the
// background job is disabled.
func NewHandler(engine *settlement.Engine, scheduler *SettlementScheduler) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report field errors under their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{Engine: engine, Scheduler: scheduler, validate: v}
}

// =============================================================================
// AGENT ENDPOINTS
// =============================================================================

func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Engine.Store.ListAgents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list agents", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(agents))
}

func (h *Handler) SaveAgent(w http.ResponseWriter, r *http.Request) {
	var req SaveAgentRequest
	if !h.decode(w, r, &req) {
		return
	}
	agent, err := h.Engine.SaveAgent(r.Context(), settlement.Agent{
		ID:           req.ID,
		Name:         req.Name,
		Role:         settlement.Role(req.Role),
		DailyRate:    req.DailyRate,
		SupervisorID: req.SupervisorID,
	}, actorFrom(r))
	if err != nil {
		writeEngineError(w, "failed to save agent", err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.Engine.Agent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, "failed to get agent", err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.Capital.Active(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, "failed to get session", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Session: s, Balance: s.Balance()})
}

func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	day, ok := h.dayParam(w, r, "day")
	if !ok {
		return
	}
	entries, err := h.Engine.Store.ListEntries(ctx, chi.URLParam(r, "id"), day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list ledger entries", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

// =============================================================================
// CAPITAL ENDPOINTS
// =============================================================================

func (h *Handler) IssueCapital(w http.ResponseWriter, r *http.Request) {
	h.capital(w, r, h.Engine.IssueCapital, http.StatusCreated)
}

func (h *Handler) AddFunds(w http.ResponseWriter, r *http.Request) {
	h.capital(w, r, h.Engine.AddFunds, http.StatusOK)
}

func (h *Handler) RemitFunds(w http.ResponseWriter, r *http.Request) {
	h.capital(w, r, h.Engine.RemitFunds, http.StatusOK)
}

type capitalOp func(ctx context.Context, in settlement.CapitalInput) (*settlement.CapitalSession, error)

func (h *Handler) capital(w http.ResponseWriter, r *http.Request, op capitalOp, status int) {
	var req CapitalRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, err := op(r.Context(), settlement.CapitalInput{
		AgentID:        req.AgentID,
		SupervisorID:   req.SupervisorID,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeEngineError(w, "capital operation failed", err)
		return
	}
	writeJSON(w, status, SessionResponse{Session: s, Balance: s.Balance()})
}

// =============================================================================
// REPORT ENDPOINTS
// =============================================================================

func (h *Handler) SubmitReport(w http.ResponseWriter, r *http.Request) {
	var req SubmitReportRequest
	if !h.decode(w, r, &req) {
		return
	}
	report, rec, err := h.Engine.SubmitReport(r.Context(), settlement.ReportInput{
		AgentID:          req.AgentID,
		CountedCash:      req.CountedCash,
		InstallmentTerms: req.InstallmentTerms,
	})
	if err != nil {
		writeEngineError(w, "failed to submit report", err)
		return
	}
	writeJSON(w, http.StatusCreated, ReportResponse{Report: report, Payroll: rec})
}

func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	day, ok := h.dayParam(w, r, "day")
	if !ok {
		return
	}
	var (
		reports []settlement.DailyReport
		err     error
	)
	if agentID := r.URL.Query().Get("agentId"); agentID != "" {
		reports, err = h.Engine.Store.ListReports(ctx, agentID, day)
	} else {
		reports, err = h.Engine.Store.ListReportsByDay(ctx, day)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list reports", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(reports))
}

func (h *Handler) OverrideReport(w http.ResponseWriter, r *http.Request) {
	var req OverrideReportRequest
	if !h.decode(w, r, &req) {
		return
	}
	report, rec, err := h.Engine.OverrideReport(r.Context(), settlement.OverrideInput{
		ReportID:         chi.URLParam(r, "id"),
		SystemBalance:    req.SystemBalance,
		CountedCash:      req.CountedCash,
		InstallmentTerms: req.InstallmentTerms,
		Reason:           req.Reason,
		Actor:            actorFrom(r),
	})
	if err != nil {
		writeEngineError(w, "failed to override report", err)
		return
	}
	writeJSON(w, http.StatusOK, ReportResponse{Report: report, Payroll: rec})
}

func (h *Handler) VoidReport(w http.ResponseWriter, r *http.Request) {
	report, rec, err := h.Engine.VoidReport(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("reason"), actorFrom(r))
	if err != nil {
		writeEngineError(w, "failed to void report", err)
		return
	}
	writeJSON(w, http.StatusOK, ReportResponse{Report: report, Payroll: rec})
}

// =============================================================================
// PAYROLL ENDPOINTS
// =============================================================================

func (h *Handler) ListPayroll(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.rangeParams(w, r)
	if !ok {
		return
	}
	records, err := h.Engine.Store.ListPayroll(r.Context(), chi.URLParam(r, "id"), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list payroll", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(records))
}

func (h *Handler) SyncPayroll(w http.ResponseWriter, r *http.Request) {
	var req SyncPayrollRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	day, err := parseOptionalDay(req.Day)
	if err != nil {
		writeEngineError(w, "invalid day", err)
		return
	}
	rec, err := h.Engine.SyncPayroll(r.Context(), chi.URLParam(r, "id"), day)
	if err != nil {
		writeEngineError(w, "failed to sync payroll", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) RecordWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.charge(w, r, "withdrawal", func(in settlement.ChargeInput) (*settlement.PayrollRecord, error) {
		return h.Engine.RecordWithdrawal(r.Context(), in)
	})
}

func (h *Handler) RecordDeduction(w http.ResponseWriter, r *http.Request) {
	h.charge(w, r, "deduction", func(in settlement.ChargeInput) (*settlement.PayrollRecord, error) {
		return h.Engine.RecordDeduction(r.Context(), in)
	})
}

func (h *Handler) charge(w http.ResponseWriter, r *http.Request, kind string, op func(settlement.ChargeInput) (*settlement.PayrollRecord, error)) {
	var req ChargeRequest
	if !h.decode(w, r, &req) {
		return
	}
	day, err := parseOptionalDay(req.Day)
	if err != nil {
		writeEngineError(w, "invalid day", err)
		return
	}
	rec, err := op(settlement.ChargeInput{
		AgentID: chi.URLParam(r, "id"),
		Day:     day,
		Amount:  req.Amount,
		Reason:  req.Reason,
		Actor:   actorFrom(r),
	})
	if err != nil {
		writeEngineError(w, "failed to record "+kind, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	rec, err := h.Engine.Store.GetPayroll(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get payroll", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "payroll not found", nil)
		return
	}
	adjustments, err := h.Engine.Store.ListAdjustments(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list adjustments", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(adjustments))
}

// =============================================================================
// INSTALLMENT ENDPOINTS
// =============================================================================

func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if !h.decode(w, r, &req) {
		return
	}
	plan, err := h.Engine.CreatePlan(r.Context(), settlement.PlanInput{
		AgentID:         req.AgentID,
		OriginPayrollID: req.OriginPayrollID,
		TotalAmount:     req.TotalAmount,
		WeeksTotal:      req.WeeksTotal,
	}, actorFrom(r))
	if err != nil {
		writeEngineError(w, "failed to create installment plan", err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	status := settlement.PlanStatus(r.URL.Query().Get("status"))
	plans, err := h.Engine.Store.ListPlans(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list installment plans", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(plans))
}

func (h *Handler) RecordPlanPayment(w http.ResponseWriter, r *http.Request) {
	var req PlanPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	plan, err := h.Engine.RecordPlanPayment(r.Context(), chi.URLParam(r, "id"), req.PayrollID, actorFrom(r))
	if err != nil {
		writeEngineError(w, "failed to record installment payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (h *Handler) CancelPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.Engine.CancelPlan(r.Context(), chi.URLParam(r, "id"), actorFrom(r))
	if err != nil {
		writeEngineError(w, "failed to cancel installment plan", err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// =============================================================================
// SETTLEMENT ENDPOINTS
// =============================================================================

func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	day, ok := h.dayParam(w, r, "day")
	if !ok {
		return
	}
	assignments, err := h.Engine.Store.ListAssignments(r.Context(), day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list assignments", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(assignments))
}

func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg, err := h.Engine.GetConfig(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settlement config", err)
		return
	}
	writeJSON(w, http.StatusOK, h.configResponse(r, cfg))
}

func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if !h.decode(w, r, &req) {
		return
	}
	cfg, err := h.Engine.UpdateConfig(r.Context(), settlement.SettlementConfig{
		ResetHour:   *req.ResetHour,
		ResetMinute: *req.ResetMinute,
		Timezone:    req.Timezone,
	}, actorFrom(r))
	if err != nil {
		writeEngineError(w, "failed to update settlement config", err)
		return
	}
	writeJSON(w, http.StatusOK, h.configResponse(r, cfg))
}

func (h *Handler) configResponse(r *http.Request, cfg settlement.SettlementConfig) ConfigResponse {
	resp := ConfigResponse{SettlementConfig: cfg}
	if cal, err := settlement.NewCalendar(cfg); err == nil {
		resp.Today = cal.DayOf(h.now())
	}
	if h.Scheduler != nil {
		if next := h.Scheduler.NextRun(); !next.IsZero() {
			resp.NextRun = next.Format(time.RFC3339)
		}
	}
	return resp
}

func (h *Handler) RunSettlement(w http.ResponseWriter, r *http.Request) {
	var req RunSettlementRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	day, err := parseOptionalDay(req.Day)
	if err != nil {
		writeEngineError(w, "invalid day", err)
		return
	}
	run, err := h.Engine.RunSettlement(r.Context(), day, actorFrom(r))
	if err != nil {
		writeEngineError(w, "settlement run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	runs, err := h.Engine.Store.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list settlement runs", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(runs))
}

func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	entries, err := h.Engine.Store.ListAudit(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list audit log", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads the JSON body into dst and runs its validator tags. On
// failure it writes the 400 response and returns false.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Fields: fields})
			return false
		}
		writeError(w, http.StatusBadRequest, "validation failed", err)
		return false
	}
	return true
}

// dayParam reads an optional YYYY-MM-DD query parameter, defaulting to
// the current business day.
func (h *Handler) dayParam(w http.ResponseWriter, r *http.Request, name string) (settlement.DayKey, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		day, err := h.Engine.Today(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to resolve business day", err)
			return "", false
		}
		return day, true
	}
	day, err := settlement.ParseDay(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name, err)
		return "", false
	}
	return day, true
}

func (h *Handler) rangeParams(w http.ResponseWriter, r *http.Request) (from, to settlement.DayKey, ok bool) {
	var err error
	if from, err = parseOptionalDay(r.URL.Query().Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid from", err)
		return "", "", false
	}
	if to, err = parseOptionalDay(r.URL.Query().Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid to", err)
		return "", "", false
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		writeError(w, http.StatusBadRequest, "invalid range", errors.New("to is before from"))
		return "", "", false
	}
	return from, to, true
}

func (h *Handler) now() time.Time {
	return h.Engine.Now()
}

func parseOptionalDay(raw string) (settlement.DayKey, error) {
	if raw == "" {
		return "", nil
	}
	return settlement.ParseDay(raw)
}

func limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > 1000 {
		writeError(w, http.StatusBadRequest, "invalid limit", err)
		return 0, false
	}
	return n, true
}

// actorFrom names the caller for audit entries.
func actorFrom(r *http.Request) string {
	if actor := strings.TrimSpace(r.Header.Get("X-Actor")); actor != "" {
		return actor
	}
	return "api"
}

// nonNil keeps empty lists as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	var verr *settlement.ValidationError
	switch {
	case errors.As(err, &verr):
		resp := ErrorResponse{Error: message, Details: err.Error()}
		if verr.Field != "" {
			resp.Fields = map[string]string{verr.Field: verr.Reason}
		}
		writeJSON(w, http.StatusBadRequest, resp)
	case settlement.IsValidation(err):
		writeError(w, http.StatusBadRequest, message, err)
	case settlement.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case settlement.IsConflict(err), errors.Is(err, settlement.ErrStaleWrite):
		writeError(w, http.StatusConflict, message, err)
	default:
		log.Error().Err(err).Msg(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
