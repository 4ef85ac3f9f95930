package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Compounder/internal/model"
	"Compounder/internal/strategy"
	"Compounder/internal/valuation"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   int
	report  model.CycleReport
	err     error
	entered chan struct{}
	release chan struct{}
	sched   strategy.Schedule
}

func newRunner(action model.ActionKind) *fakeRunner {
	sched, _ := strategy.ParseSchedule("ETH 2 BTC")
	return &fakeRunner{report: model.CycleReport{ID: "c1", Target: "ETH", Action: action}, sched: sched}
}

func (f *fakeRunner) RunCycle(context.Context) (*model.CycleReport, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	r := f.report
	r.FinishedAt = time.Now()
	if f.err != nil {
		r.Error = f.err.Error()
	}
	return &r, f.err
}

func (f *fakeRunner) Schedule() strategy.Schedule { return f.sched }

func (f *fakeRunner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeNotifier) SendWithRetry(_ context.Context, text string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	cycles []model.CycleReport
}

func (f *fakeRecorder) RecordCycle(_ context.Context, r *model.CycleReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cycles = append(f.cycles, *r)
	return nil
}

func (f *fakeRecorder) RecordCheckpoint(context.Context, model.Checkpoint) error { return nil }

func (f *fakeRecorder) RecentCycles(_ context.Context, limit int) ([]model.CycleReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.cycles) < limit {
		limit = len(f.cycles)
	}
	return f.cycles[:limit], nil
}

func (f *fakeRecorder) Close() error { return nil }

type fakeRotation struct{ state model.RotationState }

func (f fakeRotation) GetState() model.RotationState { return f.state }

func (f fakeRotation) Remaining(sched strategy.Schedule) int {
	if f.state.Target != sched.Head().Target {
		return sched.Head().Hold
	}
	return sched.Head().Hold - f.state.Held
}

type fakeValuator struct{}

func (fakeValuator) Holdings(context.Context) (*valuation.Report, error) {
	return &valuation.Report{Currency: "usd", Total: decimal.NewFromInt(42)}, nil
}

func TestRunNowRecordsAndNotifiesActions(t *testing.T) {
	runner := newRunner(model.ActionSwap)
	rec := &fakeRecorder{}
	n := &fakeNotifier{}
	s := NewScheduler(context.Background(), runner, rec, n, nil, nil, nil)

	s.RunNow()
	assert.Equal(t, 1, runner.Calls())
	require.Len(t, rec.cycles, 1)
	assert.Equal(t, "c1", rec.cycles[0].ID)
	require.Len(t, n.texts, 1)
	assert.Contains(t, n.texts[0], "Compound cycle")
	assert.Equal(t, "c1", s.Last().ID)
}

func TestQuietCycleIsRecordedNotNotified(t *testing.T) {
	rec := &fakeRecorder{}
	n := &fakeNotifier{}
	s := NewScheduler(context.Background(), newRunner(model.ActionNone), rec, n, nil, nil, nil)

	s.RunNow()
	assert.Len(t, rec.cycles, 1)
	assert.Empty(t, n.texts)
}

func TestFailedCycleIsNotified(t *testing.T) {
	runner := newRunner(model.ActionSwap)
	runner.err = errors.New("pool is locked")
	n := &fakeNotifier{}
	s := NewScheduler(context.Background(), runner, nil, n, nil, nil, nil)

	s.RunNow()
	require.Len(t, n.texts, 1)
	assert.Contains(t, n.texts[0], "Compound failed")
	assert.Contains(t, n.texts[0], "pool is locked")
}

func TestOverlappingCycleIsSkipped(t *testing.T) {
	runner := newRunner(model.ActionSwap)
	runner.entered = make(chan struct{}, 1)
	runner.release = make(chan struct{})
	s := NewScheduler(context.Background(), runner, nil, nil, nil, nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.RunNow()
	}()
	<-runner.entered

	assert.Equal(t, "⏳ A cycle is already running", s.HandleCommand(context.Background(), "/compound"))
	s.RunNow()
	close(runner.release)
	<-done
	assert.Equal(t, 1, runner.Calls())
}

func TestCompoundCommandRepliesWhenNotNotified(t *testing.T) {
	s := NewScheduler(context.Background(), newRunner(model.ActionNone), nil, nil, nil, nil, nil)
	reply := s.HandleCommand(context.Background(), "/compound")
	assert.Contains(t, reply, "below threshold")

	n := &fakeNotifier{}
	s = NewScheduler(context.Background(), newRunner(model.ActionSwap), nil, n, nil, nil, nil)
	assert.Empty(t, s.HandleCommand(context.Background(), "/compound"))
	assert.Len(t, n.texts, 1)
}

func TestStatusFallsBackToHistory(t *testing.T) {
	rec := &fakeRecorder{cycles: []model.CycleReport{{ID: "old", Action: model.ActionLiquidity, FinishedAt: time.Now()}}}
	rot := fakeRotation{state: model.RotationState{Target: "ETH", Held: 1, Compounded: 3}}
	s := NewScheduler(context.Background(), newRunner(model.ActionNone), rec, nil, nil, rot, nil)

	reply := s.HandleCommand(context.Background(), "/status")
	assert.Contains(t, reply, "Schedule: ETH 2 BTC")
	assert.Contains(t, reply, "Active target: ETH (held 1)")
	assert.Contains(t, reply, "Rotates after 1 more cycle(s)")
	assert.Contains(t, reply, "Last cycle: add liquidity ok")
}

func TestHoldingsAndHelp(t *testing.T) {
	s := NewScheduler(context.Background(), newRunner(model.ActionNone), nil, nil, nil, nil, nil)
	assert.Equal(t, "Valuation is not configured", s.HandleCommand(context.Background(), "/holdings"))
	assert.Contains(t, s.HandleCommand(context.Background(), "hello"), "/status")

	s.Valuator = fakeValuator{}
	assert.Contains(t, s.HandleCommand(context.Background(), "/holdings"), "Total: 42.00 USD")
}

func TestRegisterReplacesEntry(t *testing.T) {
	s := NewScheduler(context.Background(), newRunner(model.ActionNone), nil, nil, nil, nil, nil)

	require.Error(t, s.Register(0))
	require.NoError(t, s.Register(time.Minute))
	require.NoError(t, s.Register(2*time.Minute))
	require.Len(t, s.Cron.Entries(), 1)
}

func TestReloadSwapsRunnerAndRunsImmediately(t *testing.T) {
	old := newRunner(model.ActionNone)
	s := NewScheduler(context.Background(), old, nil, nil, nil, nil, nil)
	require.NoError(t, s.Register(time.Minute))

	fresh := newRunner(model.ActionTransfer)
	require.NoError(t, s.Reload(fresh, 5*time.Minute))
	require.Eventually(t, func() bool {
		last := s.Last()
		return last != nil && last.Action == model.ActionTransfer
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, old.Calls())
	assert.Equal(t, 1, fresh.Calls())
	assert.Len(t, s.Cron.Entries(), 1)
}

func TestReloadWaitsForRunningCycle(t *testing.T) {
	old := newRunner(model.ActionNone)
	old.entered = make(chan struct{}, 1)
	old.release = make(chan struct{})
	s := NewScheduler(context.Background(), old, nil, nil, nil, nil, nil)
	require.NoError(t, s.Register(time.Minute))

	go s.RunNow()
	<-old.entered

	fresh := newRunner(model.ActionSwap)
	done := make(chan error, 1)
	go func() { done <- s.Reload(fresh, time.Minute) }()

	select {
	case <-done:
		t.Fatal("reload returned while a cycle was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(old.release)
	require.NoError(t, <-done)
	require.Eventually(t, func() bool { return fresh.Calls() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, old.Calls())
}

func TestStartStop(t *testing.T) {
	runner := newRunner(model.ActionNone)
	s := NewScheduler(context.Background(), runner, nil, nil, nil, nil, nil)
	require.NoError(t, s.Register(time.Second))
	s.Start()

	require.Eventually(t, func() bool { return runner.Calls() > 0 }, 5*time.Second, 50*time.Millisecond)
	s.Stop()
}
