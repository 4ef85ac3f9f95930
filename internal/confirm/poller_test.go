package confirm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clierr "Compounder/internal/errors"
)

// sequence returns the given values in order and then repeats the last one.
func sequence(values ...string) (Observer, *atomic.Int32) {
	var calls atomic.Int32
	return func(context.Context) (decimal.Decimal, error) {
		i := int(calls.Add(1)) - 1
		if i >= len(values) {
			i = len(values) - 1
		}
		return decimal.RequireFromString(values[i]), nil
	}, &calls
}

func TestAwaitAtLeast(t *testing.T) {
	p := NewPoller(time.Millisecond, time.Second, nil)
	observe, calls := sequence("1", "4.99999999", "5", "7")

	v, err := p.Await(context.Background(), "conversion", observe, AtLeast(decimal.NewFromInt(5)))
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, int32(3), calls.Load())
}

func TestAwaitDiffers(t *testing.T) {
	p := NewPoller(time.Millisecond, time.Second, nil)
	observe, _ := sequence("2", "2", "2.37")

	v, err := p.Await(context.Background(), "swap", observe, Differs(decimal.NewFromInt(2)))
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.RequireFromString("2.37")))
}

func TestAwaitRetriesObserveErrors(t *testing.T) {
	p := NewPoller(time.Millisecond, time.Second, nil)
	var calls atomic.Int32
	observe := func(context.Context) (decimal.Decimal, error) {
		if calls.Add(1) < 3 {
			return decimal.Zero, errors.New("rpc unavailable")
		}
		return decimal.NewFromInt(1), nil
	}

	v, err := p.Await(context.Background(), "flaky", observe, Equals(decimal.NewFromInt(1)))
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, int32(3), calls.Load())
}

func TestAwaitTimeout(t *testing.T) {
	p := NewPoller(time.Millisecond, 20*time.Millisecond, nil)
	observe, _ := sequence("0")

	_, err := p.Await(context.Background(), "never", observe, AtLeast(decimal.NewFromInt(1)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, clierr.Is(err, clierr.CodeTimeout))
}

func TestAwaitCancelled(t *testing.T) {
	p := NewPoller(time.Millisecond, 0, nil)
	observe, _ := sequence("0")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := p.Await(ctx, "cancelled", observe, AtLeast(decimal.NewFromInt(1)))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

type recordingMetrics struct {
	labels []string
	errs   []error
}

func (r *recordingMetrics) ObserveConfirmation(label string, _ time.Duration, err error) {
	r.labels = append(r.labels, label)
	r.errs = append(r.errs, err)
}

func TestAwaitReportsMetrics(t *testing.T) {
	m := &recordingMetrics{}
	p := NewPoller(time.Millisecond, time.Second, nil)
	p.Metrics = m
	observe, _ := sequence("3")

	_, err := p.Await(context.Background(), "swap", observe, AtLeast(decimal.NewFromInt(1)))
	require.NoError(t, err)
	assert.Equal(t, []string{"swap"}, m.labels)
	assert.Nil(t, m.errs[0])
}
