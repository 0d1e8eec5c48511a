package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper is what the Scheduler triggers.
type Sweeper interface {
	Run(ctx context.Context) (Summary, error)
}

// Scheduler triggers sweeps on a cron schedule. A trigger that fires while the
// previous sweep is still running is dropped.
type Scheduler struct {
	sweeper      Sweeper
	spec         string
	schedule     cron.Schedule
	runOnStartup bool
	logger       *zap.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	startup sync.WaitGroup
}

// NewScheduler builds a Scheduler; schedule uses robfig/cron syntax, such as
// "@every 6h".
func NewScheduler(sweeper Sweeper, schedule string, runOnStartup bool, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", schedule, err)
	}
	return &Scheduler{
		sweeper:      sweeper,
		spec:         schedule,
		schedule:     sched,
		runOnStartup: runOnStartup,
		logger:       logger,
	}, nil
}

// Start begins scheduling. Sweeps run with a context derived from ctx that
// Stop cancels.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("scheduler already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	clog := cronLogger{sugar: s.logger.Sugar()}
	c := cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	job := c.Schedule(s.schedule, cron.FuncJob(func() { s.runOnce(runCtx) }))
	c.Start()
	s.cron, s.cancel = c, cancel

	if s.runOnStartup {
		wrapped := c.Entry(job).WrappedJob
		s.startup.Add(1)
		go func() {
			defer s.startup.Done()
			wrapped.Run()
		}()
	}
	s.logger.Info("sweep scheduler started", zap.String("schedule", s.spec), zap.Bool("run_on_startup", s.runOnStartup))
	return nil
}

// Stop cancels any running sweep and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	s.startup.Wait()
	s.logger.Info("sweep scheduler stopped")
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.sweeper.Run(ctx); err != nil {
		s.logger.Error("scheduled sweep failed", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.sugar.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
