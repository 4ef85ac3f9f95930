// Package engine runs compounding cycles: it reads balances, classifies the
// active target and drives the ledger through the conversion, swap, liquidity
// and transfer steps that achieve it, waiting for every step to confirm.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"Compounder/internal/confirm"
	clierr "Compounder/internal/errors"
	"Compounder/internal/ledger"
	"Compounder/internal/model"
	"Compounder/internal/rotation"
	"Compounder/internal/strategy"
)

// DefaultUnlockDuration is how long the wallet stays unlocked per cycle.
const DefaultUnlockDuration = 5 * time.Minute

// Config is the immutable per-engine configuration.
type Config struct {
	Address         string
	BaseSymbol      string
	ReferenceSymbol string
	Amount          decimal.Decimal
	Reserve         decimal.Decimal
	Passphrase      string
	UnlockDuration  time.Duration
	Schedule        strategy.Schedule
}

// Journal stores checkpoints of ledger-mutating steps.
type Journal interface {
	RecordCheckpoint(ctx context.Context, cp model.Checkpoint) error
}

// TargetPersister writes a rotated schedule back to configuration.
type TargetPersister interface {
	Persist(target string) error
}

// CycleObserver is notified of finished cycles and checkpoints.
type CycleObserver interface {
	ObserveCycle(report *model.CycleReport)
	ObserveCheckpoint(step string, status model.CheckpointStatus)
}

// Engine executes compounding cycles against a ledger gateway.
type Engine struct {
	cfg      Config
	gw       ledger.Gateway
	poller   *confirm.Poller
	logger   *zap.Logger
	journal  Journal
	targets  TargetPersister
	rotation *rotation.Manager
	observer CycleObserver

	mu       sync.Mutex
	schedule strategy.Schedule
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithPoller sets the confirmation poller.
func WithPoller(p *confirm.Poller) Option {
	return func(e *Engine) { e.poller = p }
}

// WithJournal records every checkpoint.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithTargetPersister persists rotated schedules.
func WithTargetPersister(p TargetPersister) Option {
	return func(e *Engine) { e.targets = p }
}

// WithRotation sets the hold counter. Without it counts are kept in memory.
func WithRotation(m *rotation.Manager) Option {
	return func(e *Engine) { e.rotation = m }
}

// WithObserver reports cycles and checkpoints, typically to metrics.
func WithObserver(o CycleObserver) Option {
	return func(e *Engine) { e.observer = o }
}

// New validates cfg and builds an Engine.
func New(cfg Config, gw ledger.Gateway, opts ...Option) (*Engine, error) {
	if gw == nil {
		return nil, errors.New("engine: nil gateway")
	}
	if cfg.Address == "" {
		return nil, clierr.New(clierr.CodeConfig, "wallet address is required")
	}
	if !cfg.Amount.IsPositive() {
		return nil, clierr.New(clierr.CodeConfig, "compound amount must be positive")
	}
	if cfg.Reserve.IsNegative() {
		return nil, clierr.New(clierr.CodeConfig, "reserve must not be negative")
	}
	if len(cfg.Schedule.Entries) == 0 {
		return nil, clierr.New(clierr.CodeConfig, "target is required")
	}
	if cfg.BaseSymbol == "" {
		cfg.BaseSymbol = ledger.DefaultBaseSymbol
	}
	if cfg.UnlockDuration <= 0 {
		cfg.UnlockDuration = DefaultUnlockDuration
	}

	e := &Engine{cfg: cfg, gw: gw, schedule: cfg.Schedule}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.poller == nil {
		e.poller = confirm.NewPoller(confirm.DefaultInterval, 0, e.logger)
	}
	if e.rotation == nil {
		m, err := rotation.NewManager("", e.logger)
		if err != nil {
			return nil, err
		}
		e.rotation = m
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Schedule returns the current target schedule.
func (e *Engine) Schedule() strategy.Schedule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.schedule
}

func (e *Engine) setSchedule(s strategy.Schedule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.schedule = s
}

// withSigning unlocks the wallet, runs fn and locks the wallet again.
// The lock is attempted even when fn failed or ctx was cancelled.
func (e *Engine) withSigning(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err := e.gw.UnlockSigning(ctx, e.cfg.Passphrase, e.cfg.UnlockDuration); err != nil {
		return clierr.Wrap(clierr.CodeAuth, "unlock wallet", err)
	}
	e.logger.Debug("wallet unlocked", zap.Duration("for", e.cfg.UnlockDuration))
	defer func() {
		lockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		if lockErr := e.gw.LockSigning(lockCtx); lockErr != nil {
			e.logger.Error("failed to lock wallet", zap.Error(lockErr))
			if err == nil {
				err = fmt.Errorf("lock wallet: %w", lockErr)
			}
			return
		}
		e.logger.Debug("wallet locked")
	}()
	return fn(ctx)
}

type traceKey struct{}

// trace numbers the checkpoints of one cycle.
type trace struct {
	mu  sync.Mutex
	id  string
	seq int
}

func newTrace() *trace {
	return &trace{id: uuid.NewString()}
}

func withTrace(ctx context.Context, t *trace) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

func traceFrom(ctx context.Context) *trace {
	if t, ok := ctx.Value(traceKey{}).(*trace); ok {
		return t
	}
	return &trace{}
}

func (t *trace) next() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	return t.seq
}

// checkpoint logs a sub-step transition and records it in the journal.
func (e *Engine) checkpoint(ctx context.Context, step, symbol string, amount decimal.Decimal, txid string, status model.CheckpointStatus, note string) {
	t := traceFrom(ctx)
	cp := model.Checkpoint{
		CycleID: t.id,
		Seq:     t.next(),
		Step:    step,
		Symbol:  symbol,
		Amount:  amount,
		TxID:    txid,
		Status:  status,
		Note:    note,
		At:      time.Now(),
	}

	fields := []zap.Field{
		zap.String("cycle", cp.CycleID),
		zap.String("step", step),
		zap.String("symbol", symbol),
		zap.String("amount", amount.String()),
		zap.String("status", string(status)),
	}
	if txid != "" {
		fields = append(fields, zap.String("txid", txid))
	}
	if note != "" {
		fields = append(fields, zap.String("note", note))
	}
	if status == model.CheckpointFailed {
		e.logger.Warn("step failed", fields...)
	} else {
		e.logger.Info("step "+string(status), fields...)
	}

	if e.observer != nil {
		e.observer.ObserveCheckpoint(step, status)
	}
	if e.journal != nil {
		if err := e.journal.RecordCheckpoint(context.WithoutCancel(ctx), cp); err != nil {
			e.logger.Error("failed to record checkpoint", zap.Error(err))
		}
	}
}
