package api

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/warp/teller-settlement/settlement"
	"github.com/xuri/excelize/v2"
)

const payrollSheet = "Sheet1"

var payrollHeader = []string{
	"Day", "Agent ID", "Agent", "Role", "Base Pay", "Over", "Short", "Deduction", "Withdrawal", "Total",
}

// ExportPayroll streams payroll records in [from, to] as an xlsx workbook.
func (h *Handler) ExportPayroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	from, to, ok := h.rangeParams(w, r)
	if !ok {
		return
	}
	records, err := h.Engine.Store.ListPayroll(ctx, r.URL.Query().Get("agentId"), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list payroll", err)
		return
	}
	agents, err := h.Engine.Store.ListAgents(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list agents", err)
		return
	}

	f, err := payrollWorkbook(records, agents)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build workbook", err)
		return
	}
	defer f.Close()

	name := "payroll"
	if !from.IsZero() {
		name += "-" + string(from)
	}
	if !to.IsZero() {
		name += "-" + string(to)
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.xlsx", name))
	if err := f.Write(w); err != nil {
		log.Error().Err(err).Msg("failed to write payroll workbook")
	}
}

// payrollWorkbook lays out one row per record followed by a totals row.
func payrollWorkbook(records []settlement.PayrollRecord, agents []settlement.Agent) (*excelize.File, error) {
	byID := make(map[string]settlement.Agent, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}

	f := excelize.NewFile()
	for i, title := range payrollHeader {
		if err := setCell(f, i+1, 1, title); err != nil {
			return nil, err
		}
	}

	var sum settlement.PayrollRecord
	for i, rec := range records {
		row := i + 2
		agent := byID[rec.AgentID]
		values := []any{
			string(rec.Day), rec.AgentID, agent.Name, string(agent.Role),
			rec.BasePay.InexactFloat64(), rec.Over.InexactFloat64(), rec.Short.InexactFloat64(),
			rec.Deduction.InexactFloat64(), rec.Withdrawal.InexactFloat64(), rec.Total.InexactFloat64(),
		}
		for col, v := range values {
			if err := setCell(f, col+1, row, v); err != nil {
				return nil, err
			}
		}
		sum.BasePay = sum.BasePay.Add(rec.BasePay)
		sum.Over = sum.Over.Add(rec.Over)
		sum.Short = sum.Short.Add(rec.Short)
		sum.Deduction = sum.Deduction.Add(rec.Deduction)
		sum.Withdrawal = sum.Withdrawal.Add(rec.Withdrawal)
		sum.Total = sum.Total.Add(rec.Total)
	}

	row := len(records) + 2
	footer := []any{
		"Total", "", "", "",
		sum.BasePay.InexactFloat64(), sum.Over.InexactFloat64(), sum.Short.InexactFloat64(),
		sum.Deduction.InexactFloat64(), sum.Withdrawal.InexactFloat64(), sum.Total.InexactFloat64(),
	}
	for col, v := range footer {
		if err := setCell(f, col+1, row, v); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func setCell(f *excelize.File, col, row int, v any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(payrollSheet, cell, v)
}
