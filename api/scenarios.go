/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with a small
	branch: supervisors, agents, capital sessions and daily reports. Each
	scenario drives the real engine operations, so payroll records,
	adjustments and audit entries come out exactly as in production.

AVAILABLE SCENARIOS:

	balanced-day:          Issue, top-up, remit, exact count
	shortage-installments: Short count recovered by a 3-week plan
	spread-shortage:       Short count spread over 4 terms in-line
	settlement-run:        Two supervisors, mixed results, daily job run

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create supervisors and agents
 3. Issue capital and move funds
 4. Submit reports (payroll syncs on each submit)
 5. Optionally create plans or run settlement

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "shortage-installments"}

NOTE:

	Scenarios reset the database. Routes are only mounted when
	RouterOptions.Scenarios is set.

SEE ALSO:
  - server.go: Route mounting
  - settlement/engine.go: Operations used by the loaders
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/teller-settlement/settlement"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId" validate:"required"`
}

type scenario struct {
	ScenarioDTO
	load func(ctx context.Context, e *settlement.Engine) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "balanced-day",
			Name:        "Balanced Day",
			Description: "Capital issued, topped up and partly remitted; the count matches the system balance",
		},
		load: loadBalancedDay,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "shortage-installments",
			Name:        "Shortage With Installment Plan",
			Description: "A 300 shortage recovered by a 3-week installment plan",
		},
		load: loadShortageInstallments,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "spread-shortage",
			Name:        "Spread Shortage",
			Description: "A 400 shortage spread over 4 terms on the report itself",
		},
		load: loadSpreadShortage,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "settlement-run",
			Name:        "Settlement Run",
			Description: "Two supervisors, over and short counts, then the daily job settles the day",
		},
		load: loadSettlementRun,
	},
}

// resetter is implemented by stores that can wipe all data.
type resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	out := make([]ScenarioDTO, 0, len(scenarios))
	for _, s := range scenarios {
		out = append(out, s.ScenarioDTO)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s.ScenarioDTO)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads the requested scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	var found *scenario
	for i := range scenarios {
		if scenarios[i].ID == req.ScenarioID {
			found = &scenarios[i]
			break
		}
	}
	if found == nil {
		writeError(w, http.StatusNotFound, "scenario not found", fmt.Errorf("unknown scenario %q", req.ScenarioID))
		return
	}

	store, ok := h.Engine.Store.(resetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "store does not support reset", nil)
		return
	}

	ctx := r.Context()
	if err := store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset database", err)
		return
	}
	if err := found.load(ctx, h.Engine); err != nil {
		writeEngineError(w, "failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = found.ID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": found.ID,
	})
}

// ResetDatabase clears all data without loading a scenario.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	store, ok := h.Engine.Store.(resetter)
	if !ok {
		writeError(w, http.StatusNotImplemented, "store does not support reset", nil)
		return
	}
	if err := store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// LOADERS
// =============================================================================

const scenarioActor = "scenario"

func loadBalancedDay(ctx context.Context, e *settlement.Engine) error {
	if err := saveAgents(ctx, e,
		settlement.Agent{ID: "sup-ana", Name: "Ana Reyes", Role: settlement.RoleSupervisor},
		settlement.Agent{ID: "tel-ben", Name: "Ben Cruz", Role: settlement.RoleAgent},
	); err != nil {
		return err
	}

	if _, err := e.IssueCapital(ctx, settlement.CapitalInput{AgentID: "tel-ben", SupervisorID: "sup-ana", Amount: money("5000")}); err != nil {
		return err
	}
	if _, err := e.AddFunds(ctx, settlement.CapitalInput{AgentID: "tel-ben", Amount: money("1000")}); err != nil {
		return err
	}
	if _, err := e.RemitFunds(ctx, settlement.CapitalInput{AgentID: "tel-ben", Amount: money("500")}); err != nil {
		return err
	}
	_, _, err := e.SubmitReport(ctx, settlement.ReportInput{AgentID: "tel-ben", CountedCash: money("5500")})
	return err
}

func loadShortageInstallments(ctx context.Context, e *settlement.Engine) error {
	if err := saveAgents(ctx, e,
		settlement.Agent{ID: "sup-ana", Name: "Ana Reyes", Role: settlement.RoleSupervisor},
		settlement.Agent{ID: "tel-carl", Name: "Carl Santos", Role: settlement.RoleAgent},
	); err != nil {
		return err
	}

	if _, err := e.IssueCapital(ctx, settlement.CapitalInput{AgentID: "tel-carl", SupervisorID: "sup-ana", Amount: money("5000")}); err != nil {
		return err
	}
	_, rec, err := e.SubmitReport(ctx, settlement.ReportInput{AgentID: "tel-carl", CountedCash: money("4700")})
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("payroll for tel-carl was not synced")
	}
	_, err = e.CreatePlan(ctx, settlement.PlanInput{
		AgentID:         "tel-carl",
		OriginPayrollID: rec.ID,
		TotalAmount:     rec.Short,
		WeeksTotal:      3,
	}, scenarioActor)
	return err
}

func loadSpreadShortage(ctx context.Context, e *settlement.Engine) error {
	if err := saveAgents(ctx, e,
		settlement.Agent{ID: "sup-ana", Name: "Ana Reyes", Role: settlement.RoleSupervisor},
		settlement.Agent{ID: "tel-dina", Name: "Dina Lim", Role: settlement.RoleAgent},
	); err != nil {
		return err
	}

	if _, err := e.IssueCapital(ctx, settlement.CapitalInput{AgentID: "tel-dina", SupervisorID: "sup-ana", Amount: money("2000")}); err != nil {
		return err
	}
	_, _, err := e.SubmitReport(ctx, settlement.ReportInput{AgentID: "tel-dina", CountedCash: money("1600"), InstallmentTerms: 4})
	return err
}

func loadSettlementRun(ctx context.Context, e *settlement.Engine) error {
	if err := saveAgents(ctx, e,
		settlement.Agent{ID: "sup-ana", Name: "Ana Reyes", Role: settlement.RoleSupervisor},
		settlement.Agent{ID: "sup-eli", Name: "Eli Tan", Role: settlement.RoleAgentSupervisor},
		settlement.Agent{ID: "tel-ben", Name: "Ben Cruz", Role: settlement.RoleAgent},
		settlement.Agent{ID: "tel-carl", Name: "Carl Santos", Role: settlement.RoleAgent},
	); err != nil {
		return err
	}

	issues := []settlement.CapitalInput{
		{AgentID: "tel-ben", SupervisorID: "sup-ana", Amount: money("3000")},
		{AgentID: "tel-carl", SupervisorID: "sup-eli", Amount: money("4000")},
		{AgentID: "sup-eli", SupervisorID: "sup-ana", Amount: money("1500")},
	}
	for _, in := range issues {
		if _, err := e.IssueCapital(ctx, in); err != nil {
			return err
		}
	}

	reports := []settlement.ReportInput{
		{AgentID: "tel-ben", CountedCash: money("3250")},
		{AgentID: "tel-carl", CountedCash: money("3900")},
		{AgentID: "sup-eli", CountedCash: money("1500")},
	}
	for _, in := range reports {
		if _, _, err := e.SubmitReport(ctx, in); err != nil {
			return err
		}
	}

	today, err := e.Today(ctx)
	if err != nil {
		return err
	}
	_, err = e.RunSettlement(ctx, today, scenarioActor)
	return err
}

func saveAgents(ctx context.Context, e *settlement.Engine, agents ...settlement.Agent) error {
	for _, a := range agents {
		if _, err := e.SaveAgent(ctx, a, scenarioActor); err != nil {
			return fmt.Errorf("save agent %s: %w", a.ID, err)
		}
	}
	return nil
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
