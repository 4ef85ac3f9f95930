package recorder

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Compounder/internal/model"
)

// openPostgresRecorder connects to COMPOUNDER_TEST_POSTGRES_DSN and skips the
// test when it is unset.
func openPostgresRecorder(t *testing.T) *PostgresRecorder {
	t.Helper()
	dsn := os.Getenv("COMPOUNDER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("COMPOUNDER_TEST_POSTGRES_DSN not set")
	}
	r, err := NewPostgresRecorder(context.Background(), dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestPostgresRoundTrip(t *testing.T) {
	r := openPostgresRecorder(t)
	ctx := context.Background()

	id := uuid.NewString()
	t.Cleanup(func() {
		_, _ = r.pool.Exec(context.Background(), `DELETE FROM checkpoints WHERE cycle_id = $1`, id)
		_, _ = r.pool.Exec(context.Background(), `DELETE FROM cycles WHERE id = $1`, id)
	})

	// far enough ahead to sort before rows left by other runs
	start := time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
	rep := &model.CycleReport{
		ID: id, StartedAt: start, FinishedAt: start.Add(time.Second),
		Spendable: decimal.RequireFromString("5"), TokenBalance: decimal.RequireFromString("6"),
		Threshold: decimal.RequireFromString("10.1"), Target: "ETH", Action: model.ActionSwap,
		Received: decimal.RequireFromString("0.00999900"), ReceivedSym: "ETH", NextTarget: "ETH",
	}
	require.NoError(t, r.RecordCycle(ctx, rep))
	rep.Error = "timeout"
	require.NoError(t, r.RecordCycle(ctx, rep))

	require.NoError(t, r.RecordCheckpoint(ctx, model.Checkpoint{
		CycleID: id, Seq: 1, Step: model.StepSwap, Symbol: "DFI",
		Amount: decimal.RequireFromString("10"), TxID: "tx", Status: model.CheckpointSubmitted, At: start,
	}))

	cycles, err := r.RecentCycles(ctx, 1)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	got := cycles[0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "timeout", got.Error)
	assert.Equal(t, model.ActionSwap, got.Action)
	assert.True(t, got.Received.Equal(rep.Received), got.Received.String())
	assert.True(t, got.Threshold.Equal(rep.Threshold))
	assert.True(t, got.StartedAt.Equal(start))

	var n int
	require.NoError(t, r.pool.QueryRow(ctx, `SELECT count(*) FROM checkpoints WHERE cycle_id = $1`, id).Scan(&n))
	assert.Equal(t, 1, n)
}
