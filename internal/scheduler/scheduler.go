// Package scheduler drives compounding cycles on an interval and answers
// chat commands.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"Compounder/internal/model"
	"Compounder/internal/notifier"
	"Compounder/internal/recorder"
	"Compounder/internal/strategy"
	"Compounder/internal/valuation"
)

// Runner executes a single compounding cycle.
type Runner interface {
	RunCycle(ctx context.Context) (*model.CycleReport, error)
	Schedule() strategy.Schedule
}

// Notifier delivers formatted messages.
type Notifier interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// HoldingsReporter values the wallet.
type HoldingsReporter interface {
	Holdings(ctx context.Context) (*valuation.Report, error)
}

// StatusSource exposes rotation progress.
type StatusSource interface {
	GetState() model.RotationState
	Remaining(sched strategy.Schedule) int
}

// Scheduler manages the balance poll job.
type Scheduler struct {
	Cron     *cron.Cron
	Recorder recorder.Recorder
	Notifier Notifier
	Valuator HoldingsReporter
	Rotation StatusSource
	Logger   *zap.Logger
	Ctx      context.Context

	// running is held for the duration of a cycle.
	running sync.Mutex

	mu       sync.Mutex
	runner   Runner
	entry    cron.EntryID
	interval time.Duration
	last     *model.CycleReport
}

// NewScheduler creates a new Scheduler. Notifier and Valuator may be nil.
func NewScheduler(ctx context.Context, runner Runner, rec recorder.Recorder, n Notifier, v HoldingsReporter, rot StatusSource, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		Cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		Recorder: rec,
		Notifier: n,
		Valuator: v,
		Rotation: rot,
		Logger:   logger,
		Ctx:      ctx,
		runner:   runner,
	}
}

// Register schedules the balance poll every interval, replacing a previous
// registration.
func (s *Scheduler) Register(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid check interval %s", interval)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.Cron.AddFunc(fmt.Sprintf("@every %s", interval), func() { s.RunNow() })
	if err != nil {
		return fmt.Errorf("register balance poll: %w", err)
	}
	if s.entry != 0 {
		s.Cron.Remove(s.entry)
	}
	s.entry = id
	s.interval = interval
	s.Logger.Info("balance poll scheduled", zap.Duration("interval", interval))
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.Logger.Info("scheduler started")
}

// Stop stops the cron scheduler and waits for a running cycle to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.running.Lock()
	s.running.Unlock()
	s.Logger.Info("scheduler stopped")
}

// Reload swaps in a runner built from fresh configuration and reschedules.
// It waits for a running cycle to finish, then starts a cycle in the
// background.
func (s *Scheduler) Reload(runner Runner, interval time.Duration) error {
	s.running.Lock()
	s.mu.Lock()
	s.runner = runner
	s.mu.Unlock()
	s.running.Unlock()

	if err := s.Register(interval); err != nil {
		return err
	}
	s.Logger.Info("configuration reloaded", zap.String("schedule", runner.Schedule().String()))
	go s.RunNow()
	return nil
}

// RunNow executes a cycle immediately unless one is already running.
func (s *Scheduler) RunNow() {
	s.runCycle()
}

func (s *Scheduler) currentRunner() Runner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runner
}

// Last returns the most recent cycle report seen by this process.
func (s *Scheduler) Last() *model.CycleReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// runCycle reports ran=false when another cycle holds the lock. notified is
// true when the outcome was already pushed to the chat.
func (s *Scheduler) runCycle() (report *model.CycleReport, ran, notified bool) {
	if !s.running.TryLock() {
		s.Logger.Warn("cycle already running, skipping")
		return nil, false, false
	}
	defer s.running.Unlock()

	report, err := s.currentRunner().RunCycle(s.Ctx)
	if report == nil {
		if err != nil {
			s.Logger.Error("cycle aborted", zap.Error(err))
		}
		return nil, true, false
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	if rerr := s.Recorder.RecordCycle(s.Ctx, report); rerr != nil {
		s.Logger.Error("record cycle", zap.String("cycle", report.ID), zap.Error(rerr))
	}
	if err != nil || report.Action != model.ActionNone {
		notified = s.trySend(notifier.FormatCycleReport(report))
	}
	return report, true, notified
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	switch command {
	case "/compound":
		report, ran, notified := s.runCycle()
		switch {
		case !ran:
			return "⏳ A cycle is already running"
		case report == nil:
			return "❌ Cycle aborted before it started"
		case notified:
			return ""
		default:
			return notifier.FormatCycleReport(report)
		}
	case "/holdings":
		if s.Valuator == nil {
			return "Valuation is not configured"
		}
		r, err := s.Valuator.Holdings(ctx)
		if err != nil {
			s.Logger.Error("holdings", zap.Error(err))
			return fmt.Sprintf("❌ Holdings unavailable: %v", err)
		}
		return notifier.FormatHoldings(r)
	case "/status":
		var (
			state     model.RotationState
			remaining int
		)
		sched := s.currentRunner().Schedule()
		if s.Rotation != nil {
			state = s.Rotation.GetState()
			if sched.Rotating() {
				remaining = s.Rotation.Remaining(sched)
			}
		}
		return notifier.FormatStatus(state, sched.String(), remaining, s.lastCycle(ctx))
	default:
		return notifier.FormatHelp()
	}
}

// lastCycle falls back to recorded history after a restart.
func (s *Scheduler) lastCycle(ctx context.Context) *model.CycleReport {
	if last := s.Last(); last != nil {
		return last
	}
	recent, err := s.Recorder.RecentCycles(ctx, 1)
	if err != nil {
		s.Logger.Warn("read recent cycles", zap.Error(err))
		return nil
	}
	if len(recent) == 0 {
		return nil
	}
	return &recent[0]
}

func (s *Scheduler) trySend(text string) bool {
	if s.Notifier == nil {
		return false
	}
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		s.Logger.Error("send notification", zap.Error(err))
		return false
	}
	return true
}

// cronLogger adapts zap to cron's logger interface.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
