/*
job.go - Daily settlement: closes one business day and seeds the next

PURPOSE:
  Runs once per reset boundary for the day that just ended (D).

STEPS:
  finalize_reports        open reports with day <= D become finalized,
                          then every agent that reported on D is re-synced
  reset_submission_flags  supervisors start D+1 with submitted_today = false
  archive_sessions        active/completed sessions with day <= D are archived
  seed_payroll            base-pay-only payroll for D+1 for every agent issued
                          capital on D and for every supervisor
  reassign_agents         assignments for D+1 from D's issuance
  audit                   one AuditEntry with the step results

RE-ENTRANCE:
  Every step is idempotent (conditional updates, insert-or-keep upserts,
  unique keys), so running the job twice for D converges to the state of
  a single clean run. A failing step is recorded on the SettlementRun and
  the remaining steps still execute. Retrying the day re-runs everything.

  Two concurrent runs for the same day are refused through the
  "settlement:<day>" lock.

SEE ALSO:
  - api/scheduler.go: Fires Run at each reset boundary
  - assignment.go: DeriveAssignments
*/
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/warp/teller-settlement/metrics"
)

const runLockTTL = 10 * time.Minute

// Step names recorded on SettlementRun.Steps.
const (
	StepFinalizeReports = "finalize_reports"
	StepResetFlags      = "reset_submission_flags"
	StepArchiveSessions = "archive_sessions"
	StepSeedPayroll     = "seed_payroll"
	StepReassignAgents  = "reassign_agents"
	StepAudit           = "audit"
)

type DailyJob struct {
	store    Store
	payroll  *Aggregator
	assigner *AutoAssigner
	locker   Locker
	notifier Notifier
	now      func() time.Time
}

func NewDailyJob(store Store, payroll *Aggregator, assigner *AutoAssigner, locker Locker, notifier Notifier, now func() time.Time) *DailyJob {
	if now == nil {
		now = time.Now
	}
	return &DailyJob{store: store, payroll: payroll, assigner: assigner, locker: locker, notifier: notifier, now: now}
}

type jobStep struct {
	name string
	run  func(ctx context.Context, day DayKey) (int, error)
}

// Run settles day. The returned run carries per-step results; step
// failures make the run "partial" but are not returned as an error.
func (j *DailyJob) Run(ctx context.Context, day DayKey, actor string) (*SettlementRun, error) {
	if day.IsZero() {
		return nil, invalid("day", "required")
	}
	if actor == "" {
		actor = "system"
	}

	unlock, err := j.locker.TryLock(ctx, "settlement:"+string(day), runLockTTL)
	if errors.Is(err, ErrLockHeld) {
		return nil, conflict("settlement run", string(day), "already in progress")
	}
	if err != nil {
		return nil, fmt.Errorf("lock settlement %s: %w", day, err)
	}
	defer func() {
		if err := unlock.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Str("component", "settlement").Msg("release settlement lock")
		}
	}()

	logger := log.With().Str("component", "settlement").Str("day", string(day)).Logger()

	run, err := j.store.BeginRun(ctx, SettlementRun{
		ID:        NewID(),
		Day:       day,
		Status:    RunRunning,
		Actor:     actor,
		StartedAt: j.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("begin settlement run: %w", err)
	}
	logger.Info().Int("attempt", run.Attempts).Str("actor", actor).Msg("settlement started")

	steps := []jobStep{
		{StepFinalizeReports, j.finalizeReports},
		{StepResetFlags, j.resetFlags},
		{StepArchiveSessions, j.archiveSessions},
		{StepSeedPayroll, j.seedPayroll},
		{StepReassignAgents, j.assigner.Reassign},
	}

	results := make([]StepResult, 0, len(steps)+1)
	for _, s := range steps {
		results = append(results, j.runStep(ctx, logger, s, day))
	}
	results = append(results, j.runStep(ctx, logger, jobStep{StepAudit, func(ctx context.Context, day DayKey) (int, error) {
		return 1, j.store.AppendAudit(ctx, AuditEntry{
			ID:        NewID(),
			Actor:     actor,
			Action:    AuditSettlementRun,
			Subject:   string(day),
			Payload:   map[string]any{"attempt": run.Attempts, "steps": results},
			CreatedAt: j.now().UTC(),
		})
	}}, day))

	run.Steps = results
	run.Status = RunCompleted
	for _, r := range results {
		if r.Error != "" {
			run.Status = RunPartial
		}
	}
	done := j.now().UTC()
	run.CompletedAt = &done
	if err := j.store.FinishRun(ctx, *run); err != nil {
		return nil, fmt.Errorf("finish settlement run: %w", err)
	}

	metrics.SettlementRuns.WithLabelValues(string(run.Status)).Inc()
	logger.Info().Str("status", string(run.Status)).Dur("took", done.Sub(run.StartedAt)).Msg("settlement finished")
	publish(ctx, j.notifier, Event{Type: EventSettlementCompleted, RecordID: run.ID, Day: day, At: done})
	return run, nil
}

func (j *DailyJob) runStep(ctx context.Context, logger zerolog.Logger, s jobStep, day DayKey) StepResult {
	n, err := s.run(ctx, day)
	res := StepResult{Name: s.name, Affected: n}
	if err != nil {
		res.Error = err.Error()
		metrics.SettlementStepFailures.WithLabelValues(s.name).Inc()
		logger.Error().Err(err).Str("step", s.name).Int("affected", n).Msg("settlement step failed")
		return res
	}
	logger.Debug().Str("step", s.name).Int("affected", n).Msg("settlement step done")
	return res
}

func (j *DailyJob) finalizeReports(ctx context.Context, day DayKey) (int, error) {
	n, err := j.store.FinalizeReports(ctx, day, j.now().UTC())
	if err != nil {
		return 0, err
	}
	reports, err := j.store.ListReportsByDay(ctx, day)
	if err != nil {
		return n, err
	}
	seen := make(map[string]bool)
	var errs []error
	for _, r := range reports {
		if seen[r.AgentID] {
			continue
		}
		seen[r.AgentID] = true
		if _, err := j.payroll.Sync(ctx, r.AgentID, day, TriggerSettlement); err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", r.AgentID, err))
		}
	}
	return n, errors.Join(errs...)
}

func (j *DailyJob) resetFlags(ctx context.Context, _ DayKey) (int, error) {
	return j.store.ResetSubmissionFlags(ctx)
}

func (j *DailyJob) archiveSessions(ctx context.Context, day DayKey) (int, error) {
	return j.store.ArchiveSessions(ctx, day, j.now().UTC())
}

func (j *DailyJob) seedPayroll(ctx context.Context, day DayKey) (int, error) {
	issues, err := j.store.ListEntriesByDay(ctx, day, EntryIssue)
	if err != nil {
		return 0, err
	}
	supervisors, err := j.store.ListSupervisors(ctx)
	if err != nil {
		return 0, err
	}

	ids := make([]string, 0, len(issues)+len(supervisors))
	seen := make(map[string]bool)
	for _, e := range issues {
		if !seen[e.AgentID] {
			seen[e.AgentID] = true
			ids = append(ids, e.AgentID)
		}
	}
	for _, s := range supervisors {
		if !seen[s.ID] {
			seen[s.ID] = true
			ids = append(ids, s.ID)
		}
	}

	next := day.Next()
	var errs []error
	created := 0
	for _, id := range ids {
		agent, err := j.store.GetAgent(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", id, err))
			continue
		}
		if agent == nil {
			errs = append(errs, notFound("agent", id))
			continue
		}
		_, ok, err := j.payroll.Seed(ctx, *agent, next)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			created++
		}
	}
	return created, errors.Join(errs...)
}
