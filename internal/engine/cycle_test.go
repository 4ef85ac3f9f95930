package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Compounder/internal/confirm"
	clierr "Compounder/internal/errors"
	"Compounder/internal/model"
)

func TestScenarioTransferToAddress(t *testing.T) {
	m := newLedger()
	m.Lag = 1
	m.Fee = d("0.0001")
	m.SetSpendable(d("5"))
	m.SetBalance(primary, "DFI", d("6"))
	e := newEngine(t, m, external)

	report, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.ActionTransfer, report.Action)
	assert.True(t, report.Total().Equal(d("11")))

	calls := mutations(m)
	require.Len(t, calls, 2)
	assert.Equal(t, "accounttoutxos", calls[0].Method)
	assert.Equal(t, primary+" 5.1", calls[0].Detail)
	assert.Equal(t, "sendtoaddress", calls[1].Method)
	assert.True(t, m.Sent(external).Equal(d("10")))
	assert.False(t, m.Unlocked())
}

func TestScenarioDirectSwap(t *testing.T) {
	m := newLedger()
	m.Lag = 1
	m.SetBalance(primary, "DFI", d("20"))
	e := newEngine(t, m, "ETH")

	report, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.ActionSwap, report.Action)
	assert.Equal(t, "ETH", report.ReceivedSym)

	calls := mutations(m)
	require.Len(t, calls, 1)
	assert.Equal(t, "poolswap", calls[0].Method)
	assert.Equal(t, primary+" 10@DFI -> "+primary+" ETH", calls[0].Detail)
	assert.True(t, m.Balance(primary, "ETH").Equal(report.Received))
	assert.True(t, report.Received.IsPositive())
}

func TestScenarioProvideLiquidity(t *testing.T) {
	m := newLedger()
	m.SetSpendable(d("1"))
	m.SetBalance(primary, "DFI", d("10"))
	e := newEngine(t, m, "ETH-DFI")

	report, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.ActionLiquidity, report.Action)

	calls := mutations(m)
	require.Len(t, calls, 2)
	assert.Equal(t, "poolswap", calls[0].Method)
	assert.Contains(t, calls[0].Detail, " 5@DFI ")
	assert.Equal(t, "addpoolliquidity", calls[1].Method)
	assert.Contains(t, calls[1].Detail, "5.00000000@DFI")
	assert.True(t, m.Balance(primary, "ETH-DFI").Equal(report.Received))
	assert.True(t, m.Balance(primary, "DFI").IsZero())
}

func TestScenarioInvalidTarget(t *testing.T) {
	m := newLedger()
	m.SetSpendable(d("50"))
	e := newEngine(t, m, "XYZ")

	report, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.ActionInvalid, report.Action)
	assert.Empty(t, report.Error)
	assert.Empty(t, mutations(m))
	assert.NotContains(t, m.Methods(), "walletpassphrase")
}

func TestThresholdSelection(t *testing.T) {
	tests := []struct {
		spendable, account string
		acts               bool
	}{
		{"0", "0", false},
		{"10.1", "0", false},
		{"0", "10.1", false},
		{"5", "5.1", false},
		{"5", "5.10000001", true},
		{"0", "25", true},
		{"30", "0", true},
	}
	for _, tt := range tests {
		m := newLedger()
		m.SetSpendable(d(tt.spendable))
		m.SetBalance(primary, "DFI", d(tt.account))
		e := newEngine(t, m, "ETH")

		report, err := e.RunCycle(context.Background())
		require.NoError(t, err)
		if tt.acts {
			assert.Equal(t, model.ActionSwap, report.Action, "spendable=%s account=%s", tt.spendable, tt.account)
			assert.NotEmpty(t, mutations(m))
		} else {
			assert.Equal(t, model.ActionNone, report.Action, "spendable=%s account=%s", tt.spendable, tt.account)
			assert.Empty(t, mutations(m))
			assert.NotContains(t, m.Methods(), "walletpassphrase")
		}
	}
}

func TestSwapViaReference(t *testing.T) {
	m := newLedger()
	m.SetBalance(primary, "DFI", d("20"))
	e := newEngine(t, m, "TSLA")

	report, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.ActionSwapViaReference, report.Action)

	calls := mutations(m)
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].Detail, "10@DFI -> "+primary+" DUSD")
	assert.Contains(t, calls[1].Detail, "@DUSD -> "+primary+" TSLA")
	assert.True(t, m.Balance(primary, "DUSD").IsZero())
	assert.True(t, m.Balance(primary, "TSLA").Equal(report.Received))
}

func TestLiquidityViaReference(t *testing.T) {
	m := newLedger()
	m.SetBalance(primary, "DFI", d("20"))
	e := newEngine(t, m, "TSLA-DUSD")

	report, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.ActionLiquidityViaReference, report.Action)

	var methods []string
	for _, c := range mutations(m) {
		methods = append(methods, c.Method)
	}
	assert.Equal(t, []string{"poolswap", "poolswap", "addpoolliquidity"}, methods)
	assert.True(t, m.Balance(primary, "TSLA-DUSD").Equal(report.Received))
	assert.True(t, report.Received.IsPositive())
}

func TestCycleConsolidatesFirst(t *testing.T) {
	m := newLedger()
	m.SetBalance(primary, "DFI", d("8"))
	m.SetBalance(other, "DFI", d("4"))
	e := newEngine(t, m, "ETH")

	report, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Consolidated)
	assert.Equal(t, model.ActionSwap, report.Action)

	calls := mutations(m)
	require.Len(t, calls, 2)
	assert.Equal(t, "accounttoaccount", calls[0].Method)
	assert.Equal(t, "poolswap", calls[1].Method)
	assert.True(t, m.Balance(primary, "DFI").Equal(d("2")))
}

func TestRotationPersistsNextTarget(t *testing.T) {
	m := newLedger()
	m.SetBalance(primary, "DFI", d("100"))
	p := &recordingPersister{}
	e := newEngine(t, m, "ETH 2 BTC", WithTargetPersister(p))

	for i := 0; i < 2; i++ {
		report, err := e.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "ETH", report.Target)
	}
	assert.Equal(t, []string{"BTC ETH 2"}, p.targets)
	assert.Equal(t, "BTC", e.Schedule().Head().Target)

	report, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "BTC", report.Target)
	assert.Equal(t, "ETH 2 BTC", report.NextTarget)
	assert.True(t, m.Balance(primary, "BTC").IsPositive())
}

func TestInvalidTargetStillRotates(t *testing.T) {
	m := newLedger()
	m.SetBalance(primary, "DFI", d("100"))
	p := &recordingPersister{}
	e := newEngine(t, m, "XYZ ETH", WithTargetPersister(p))

	report, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.ActionInvalid, report.Action)
	assert.Equal(t, []string{"ETH XYZ"}, p.targets)
}

func TestFailedCycleReleasesSigningAndKeepsTarget(t *testing.T) {
	m := newLedger()
	m.SetBalance(primary, "DFI", d("100"))
	m.FailOn("poolswap", errors.New("pool is locked"))
	p := &recordingPersister{}
	e := newEngine(t, m, "ETH BTC", WithTargetPersister(p))

	report, err := e.RunCycle(context.Background())
	require.Error(t, err)
	assert.True(t, clierr.Is(err, clierr.CodeLedger))
	assert.Contains(t, report.Error, "pool is locked")
	assert.False(t, m.Unlocked())
	assert.Equal(t, "walletlock", m.Methods()[len(m.Methods())-1])
	assert.Empty(t, p.targets)
	assert.Equal(t, "ETH", e.Schedule().Head().Target)
}

func TestWrongPassphrase(t *testing.T) {
	m := newLedger()
	m.SetBalance(primary, "DFI", d("100"))
	e := newEngine(t, m, "ETH")
	e.cfg.Passphrase = "wrong"

	_, err := e.RunCycle(context.Background())
	require.Error(t, err)
	assert.True(t, clierr.Is(err, clierr.CodeAuth))
	assert.Empty(t, mutations(m))
}

func TestConfirmationTimeout(t *testing.T) {
	m := newLedger()
	m.Lag = 1 << 20
	m.SetBalance(primary, "DFI", d("100"))
	e := newEngine(t, m, "ETH", WithPoller(confirm.NewPoller(time.Millisecond, 30*time.Millisecond, nil)))

	report, err := e.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, confirm.ErrTimeout)
	assert.Equal(t, int(clierr.CodeTimeout), clierr.ExitCode(err))
	assert.Equal(t, model.ActionSwap, report.Action)
	assert.False(t, m.Unlocked())
	// the submitted swap is still outstanding on the ledger
	assert.Len(t, mutations(m), 1)
}

func TestCancelAbortsWaitAndLocks(t *testing.T) {
	m := newLedger()
	m.Lag = 1 << 20
	m.SetBalance(primary, "DFI", d("100"))
	e := newEngine(t, m, "ETH", WithPoller(confirm.NewPoller(time.Millisecond, 0, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := e.RunCycle(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, m.Unlocked())
}

type recordingObserver struct {
	cycles      []*model.CycleReport
	checkpoints int
}

func (o *recordingObserver) ObserveCycle(r *model.CycleReport)                { o.cycles = append(o.cycles, r) }
func (o *recordingObserver) ObserveCheckpoint(string, model.CheckpointStatus) { o.checkpoints++ }

func TestObserverSeesEveryCycle(t *testing.T) {
	m := newLedger()
	o := &recordingObserver{}
	e := newEngine(t, m, "ETH", WithObserver(o))

	_, err := e.RunCycle(context.Background())
	require.NoError(t, err)
	m.SetBalance(primary, "DFI", d("11"))
	_, err = e.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, o.cycles, 2)
	assert.Equal(t, model.ActionNone, o.cycles[0].Action)
	assert.Equal(t, model.ActionSwap, o.cycles[1].Action)
	assert.Equal(t, 2, o.checkpoints)
}
