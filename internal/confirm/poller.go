// Package confirm waits for submitted ledger transactions to become visible
// in observed balances.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	clierr "Compounder/internal/errors"
)

// DefaultInterval is the delay between two observations.
const DefaultInterval = 5 * time.Second

// ErrTimeout is returned in the chain when the deadline expires before the
// predicate is satisfied. The submitted transaction stays outstanding.
var ErrTimeout = errors.New("confirmation timeout")

// Observer reads the current value of the balance being watched.
type Observer func(ctx context.Context) (decimal.Decimal, error)

// Predicate tests an observation.
type Predicate func(decimal.Decimal) bool

// AtLeast is satisfied once the balance reached x.
func AtLeast(x decimal.Decimal) Predicate {
	return func(v decimal.Decimal) bool { return v.GreaterThanOrEqual(x) }
}

// Differs is satisfied once the balance moved away from baseline in either direction.
func Differs(baseline decimal.Decimal) Predicate {
	return func(v decimal.Decimal) bool { return !v.Equal(baseline) }
}

// Equals is satisfied once the balance equals x.
func Equals(x decimal.Decimal) Predicate {
	return func(v decimal.Decimal) bool { return v.Equal(x) }
}

// WaitObserver is notified of the duration of every finished wait.
type WaitObserver interface {
	ObserveConfirmation(label string, d time.Duration, err error)
}

// Poller repeatedly observes a balance until a predicate holds.
type Poller struct {
	Interval time.Duration
	// Timeout bounds a single Await. Zero waits until ctx is cancelled.
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics WaitObserver
}

// NewPoller builds a Poller with the given interval and deadline.
func NewPoller(interval, timeout time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{Interval: interval, Timeout: timeout, Logger: logger}
}

// Await sleeps one interval, observes, and returns the first observation that
// satisfies the predicate. Observation errors are logged and retried until the
// deadline. Cancellation aborts only the wait.
func (p *Poller) Await(ctx context.Context, label string, observe Observer, satisfied Predicate) (decimal.Decimal, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	waitCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-waitCtx.Done():
			err := p.expired(ctx, label, waitCtx.Err())
			p.observe(label, start, err)
			return decimal.Zero, err
		case <-ticker.C:
		}

		attempts++
		v, err := observe(waitCtx)
		if err != nil {
			if waitCtx.Err() != nil {
				continue
			}
			logger.Warn("confirmation observe failed", zap.String("wait", label), zap.Int("attempt", attempts), zap.Error(err))
			continue
		}
		if satisfied(v) {
			logger.Debug("confirmation satisfied", zap.String("wait", label), zap.Int("attempts", attempts), zap.String("value", v.String()))
			p.observe(label, start, nil)
			return v, nil
		}
	}
}

func (p *Poller) expired(parent context.Context, label string, cause error) error {
	if parent.Err() != nil {
		return fmt.Errorf("wait for %s: %w", label, parent.Err())
	}
	return clierr.Wrap(clierr.CodeTimeout, fmt.Sprintf("wait for %s", label), fmt.Errorf("%w after %s: %v", ErrTimeout, p.Timeout, cause))
}

func (p *Poller) observe(label string, start time.Time, err error) {
	if p.Metrics != nil {
		p.Metrics.ObserveConfirmation(label, time.Since(start), err)
	}
}
