package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Compounder/internal/model"
)

func openTestRecorder(t *testing.T) *SQLiteRecorder {
	t.Helper()
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "data", "compounder.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRecordAndReadCycles(t *testing.T) {
	r := openTestRecorder(t)
	ctx := context.Background()
	start := time.Now().Add(-time.Minute).Truncate(time.Millisecond)

	older := &model.CycleReport{
		ID: "c1", StartedAt: start, FinishedAt: start.Add(time.Second),
		Spendable: decimal.RequireFromString("5"), TokenBalance: decimal.RequireFromString("6"),
		Threshold: decimal.RequireFromString("10.1"), Target: "ETH", Action: model.ActionSwap,
		Received: decimal.RequireFromString("0.00999900"), ReceivedSym: "ETH", NextTarget: "ETH",
	}
	newer := &model.CycleReport{
		ID: "c2", StartedAt: start.Add(30 * time.Second), FinishedAt: start.Add(31 * time.Second),
		Target: "ETH", Action: model.ActionNone, NextTarget: "ETH", Error: "rpc down",
	}
	require.NoError(t, r.RecordCycle(ctx, older))
	require.NoError(t, r.RecordCycle(ctx, newer))

	cycles, err := r.RecentCycles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, "c2", cycles[0].ID)
	assert.Equal(t, "rpc down", cycles[0].Error)
	assert.Equal(t, "c1", cycles[1].ID)
	assert.Equal(t, model.ActionSwap, cycles[1].Action)
	assert.True(t, cycles[1].Received.Equal(older.Received))
	assert.True(t, cycles[1].Total().Equal(decimal.RequireFromString("11")))
	assert.True(t, cycles[1].StartedAt.Equal(start))

	limited, err := r.RecentCycles(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecordCycleReplacesSameID(t *testing.T) {
	r := openTestRecorder(t)
	ctx := context.Background()
	rep := &model.CycleReport{ID: "c1", StartedAt: time.Now(), FinishedAt: time.Now(), Action: model.ActionSwap}
	require.NoError(t, r.RecordCycle(ctx, rep))
	rep.Error = "timeout"
	require.NoError(t, r.RecordCycle(ctx, rep))

	cycles, err := r.RecentCycles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, "timeout", cycles[0].Error)
}

func TestCheckpointsInOrder(t *testing.T) {
	r := openTestRecorder(t)
	ctx := context.Background()
	now := time.Now()
	for i, status := range []model.CheckpointStatus{model.CheckpointSubmitted, model.CheckpointConfirmed} {
		require.NoError(t, r.RecordCheckpoint(ctx, model.Checkpoint{
			CycleID: "c1", Seq: i + 1, Step: model.StepSwap, Symbol: "DFI",
			Amount: decimal.RequireFromString("10"), TxID: "tx", Status: status, At: now,
		}))
	}
	require.NoError(t, r.RecordCheckpoint(ctx, model.Checkpoint{CycleID: "c2", Seq: 1, Amount: decimal.Zero, At: now}))

	cps, err := r.Checkpoints(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, model.CheckpointSubmitted, cps[0].Status)
	assert.Equal(t, model.CheckpointConfirmed, cps[1].Status)
	assert.True(t, cps[1].Amount.Equal(decimal.NewFromInt(10)))
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NewNoopRecorder()
	assert.NoError(t, r.RecordCycle(context.Background(), &model.CycleReport{}))
	cycles, err := r.RecentCycles(context.Background(), 5)
	assert.NoError(t, err)
	assert.Empty(t, cycles)
	assert.NoError(t, r.Close())
}

func TestPostgresRequiresDSN(t *testing.T) {
	_, err := NewPostgresRecorder(context.Background(), "", nil)
	assert.Error(t, err)
}
