/*
scheduler.go - Daily settlement scheduler

PURPOSE:
  Fires the daily settlement job at the configured reset time and
  settles the business day that just closed.

DESIGN:
  - One goroutine owns a timer armed for the next reset boundary
  - The closing day is derived from the boundary, not from the moment the
    timer fired, so a late wake-up still settles the right day
  - Reschedule re-arms the timer when an admin changes the reset time
    (wired through Engine.OnConfigChange)
  - On start, the previous business day is caught up when it has no
    completed run (server was down at reset time)

USAGE:
  scheduler := NewSettlementScheduler(engine)
  scheduler.Start(ctx)
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunSettlement endpoint (manual trigger)
  - settlement/job.go: DailyJob
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/warp/teller-settlement/settlement"
)

const schedulerActor = "scheduler"

// SettlementScheduler runs the daily settlement job at each reset boundary.
type SettlementScheduler struct {
	Engine  *settlement.Engine
	Enabled bool

	logger zerolog.Logger

	mu     sync.Mutex
	cal    settlement.Calendar
	next   time.Time
	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSettlementScheduler creates a scheduler and subscribes it to config changes.
func NewSettlementScheduler(engine *settlement.Engine) *SettlementScheduler {
	s := &SettlementScheduler{
		Engine:  engine,
		Enabled: true,
		logger:  log.With().Str("component", "scheduler").Logger(),
		wake:    make(chan struct{}, 1),
	}
	engine.OnConfigChange(s.Reschedule)
	return s
}

// Start arms the timer and launches the scheduler goroutine.
func (s *SettlementScheduler) Start(ctx context.Context) error {
	if !s.Enabled {
		s.logger.Info().Msg("disabled, not starting")
		return nil
	}

	cfg, err := s.Engine.GetConfig(ctx)
	if err != nil {
		return err
	}
	cal, err := settlement.NewCalendar(cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.arm(cal)
	next := s.next
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info().
		Time("next_run", next).
		Str("timezone", cfg.Timezone).
		Msg("started")
	return nil
}

// Stop cancels any in-flight run and waits for the goroutine to exit.
func (s *SettlementScheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info().Msg("stopped")
}

// Reschedule re-arms the timer for cfg's next reset boundary.
func (s *SettlementScheduler) Reschedule(cfg settlement.SettlementConfig) {
	cal, err := settlement.NewCalendar(cfg)
	if err != nil {
		s.logger.Error().Err(err).Msg("reschedule rejected")
		return
	}

	s.mu.Lock()
	s.arm(cal)
	next := s.next
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	s.logger.Info().Time("next_run", next).Msg("rescheduled")
}

// RunNow settles day immediately. A zero day means the day before today.
func (s *SettlementScheduler) RunNow(ctx context.Context, day settlement.DayKey) (*settlement.SettlementRun, error) {
	return s.Engine.RunSettlement(ctx, day, schedulerActor)
}

// NextRun returns the next armed boundary, or the zero time before Start
// or Reschedule.
func (s *SettlementScheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// arm must be called with s.mu held.
func (s *SettlementScheduler) arm(cal settlement.Calendar) {
	s.cal = cal
	s.next = cal.NextReset(s.Engine.Now())
}

func (s *SettlementScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	s.catchUp(ctx)

	for {
		s.mu.Lock()
		cal, next := s.cal, s.next
		s.mu.Unlock()

		timer := time.NewTimer(next.Sub(s.Engine.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
			continue
		case <-timer.C:
		}

		closing := cal.DayOf(next).Prev()
		s.settle(ctx, closing)

		s.mu.Lock()
		// Only advance if no reschedule replaced the boundary meanwhile.
		if s.next.Equal(next) {
			s.next = cal.NextReset(next)
		}
		s.mu.Unlock()
	}
}

func (s *SettlementScheduler) catchUp(ctx context.Context) {
	s.mu.Lock()
	cal := s.cal
	s.mu.Unlock()

	closing := cal.DayOf(s.Engine.Now()).Prev()
	run, err := s.Engine.Store.GetRun(ctx, closing)
	if err != nil {
		s.logger.Error().Err(err).Str("day", string(closing)).Msg("catch-up check failed")
		return
	}
	if run != nil && run.Status == settlement.RunCompleted {
		return
	}
	s.logger.Info().Str("day", string(closing)).Msg("catching up missed settlement")
	s.settle(ctx, closing)
}

func (s *SettlementScheduler) settle(ctx context.Context, day settlement.DayKey) {
	run, err := s.RunNow(ctx, day)
	if err != nil {
		if settlement.IsConflict(err) {
			s.logger.Info().Str("day", string(day)).Msg("settlement already running elsewhere")
			return
		}
		s.logger.Error().Err(err).Str("day", string(day)).Msg("settlement failed")
		return
	}
	s.logger.Info().
		Str("day", string(day)).
		Str("status", string(run.Status)).
		Int("attempts", run.Attempts).
		Msg("settlement finished")
}
