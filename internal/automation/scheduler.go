package automation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrCycleInProgress = errors.New("automation cycle already running")
	ErrAlreadyStarted  = errors.New("scheduler already started")
)

// Runner is the work the scheduler drives.
type Runner interface {
	RunCycle(ctx context.Context, now time.Time) (CycleResult, error)
	RunFollowUpSweep(ctx context.Context, now time.Time) (FollowUpResult, error)
}

type SchedulerOptions struct {
	AutomationInterval time.Duration
	FollowUpInterval   time.Duration
	// CycleTimeout bounds one run of either sweep.
	CycleTimeout time.Duration
	Now          func() time.Time
}

// Scheduler runs the hourly automation cycle and the daily follow-up sweep on
// independent tickers. A tick that arrives while the previous run of the same
// sweep is still going is dropped; missed ticks are never replayed.
type Scheduler struct {
	runner Runner
	opts   SchedulerOptions

	cycleMu sync.Mutex
	sweepMu sync.Mutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewScheduler(runner Runner, opts SchedulerOptions) *Scheduler {
	if opts.AutomationInterval <= 0 {
		opts.AutomationInterval = time.Hour
	}
	if opts.FollowUpInterval <= 0 {
		opts.FollowUpInterval = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Scheduler{runner: runner, opts: opts}
}

// Start launches both tickers and returns. They run until ctx is cancelled
// or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.loop(ctx, s.opts.AutomationInterval, func(ctx context.Context) {
		if _, err := s.RunCycleNow(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
			log.Error().Err(err).Msg("Automation cycle failed")
		}
	})
	go s.loop(ctx, s.opts.FollowUpInterval, func(ctx context.Context) {
		if _, err := s.RunFollowUpSweepNow(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
			log.Error().Err(err).Msg("Follow-up sweep failed")
		}
	})

	log.Info().
		Dur("automation_interval", s.opts.AutomationInterval).
		Dur("follow_up_interval", s.opts.FollowUpInterval).
		Msg("Scheduler started")
	return nil
}

// Stop cancels the tickers and waits for in-flight runs to return. A running
// cycle finishes the rule it is on before it stops.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	s.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, run func(context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}

// RunCycleNow runs one automation cycle unless one is already running.
func (s *Scheduler) RunCycleNow(ctx context.Context) (CycleResult, error) {
	if !s.cycleMu.TryLock() {
		log.Warn().Msg("Previous automation cycle still running, skipping")
		return CycleResult{}, ErrCycleInProgress
	}
	defer s.cycleMu.Unlock()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.runner.RunCycle(ctx, s.opts.Now())
}

// RunFollowUpSweepNow runs one follow-up sweep unless one is already running.
func (s *Scheduler) RunFollowUpSweepNow(ctx context.Context) (FollowUpResult, error) {
	if !s.sweepMu.TryLock() {
		log.Warn().Msg("Previous follow-up sweep still running, skipping")
		return FollowUpResult{}, ErrCycleInProgress
	}
	defer s.sweepMu.Unlock()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.runner.RunFollowUpSweep(ctx, s.opts.Now())
}

func (s *Scheduler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.CycleTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.CycleTimeout)
	}
	return context.WithCancel(ctx)
}
