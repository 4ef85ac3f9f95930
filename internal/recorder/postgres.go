package recorder

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"Compounder/internal/model"
)

// PostgresRecorder persists cycle history to Postgres.
type PostgresRecorder struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresRecorder connects to dsn and creates the tables when missing.
func NewPostgresRecorder(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresRecorder, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	r := &PostgresRecorder{pool: pool, logger: logger}
	if err := r.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("postgres recorder opened")
	return r, nil
}

func (r *PostgresRecorder) migrate(ctx context.Context) error {
	batch := &pgx.Batch{}
	for _, s := range []string{
		`CREATE TABLE IF NOT EXISTS cycles (
			id              TEXT PRIMARY KEY,
			started_at      TIMESTAMPTZ NOT NULL,
			finished_at     TIMESTAMPTZ NOT NULL,
			spendable       NUMERIC,
			token_balance   NUMERIC,
			threshold       NUMERIC,
			target          TEXT,
			action          TEXT,
			received        NUMERIC,
			received_symbol TEXT,
			next_target     TEXT,
			consolidated    INTEGER,
			error           TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles(started_at)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id        BIGSERIAL PRIMARY KEY,
			cycle_id  TEXT NOT NULL,
			seq       INTEGER NOT NULL,
			at        TIMESTAMPTZ NOT NULL,
			step      TEXT,
			symbol    TEXT,
			amount    NUMERIC,
			txid      TEXT,
			status    TEXT,
			note      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_cycle ON checkpoints(cycle_id, seq)`,
	} {
		batch.Queue(s)
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

func (r *PostgresRecorder) RecordCycle(ctx context.Context, rep *model.CycleReport) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO cycles (
			id, started_at, finished_at, spendable, token_balance, threshold,
			target, action, received, received_symbol, next_target, consolidated, error
		) VALUES ($1,$2,$3,$4::numeric,$5::numeric,$6::numeric,$7,$8,$9::numeric,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			action = EXCLUDED.action,
			received = EXCLUDED.received,
			received_symbol = EXCLUDED.received_symbol,
			next_target = EXCLUDED.next_target,
			error = EXCLUDED.error
	`,
		rep.ID, rep.StartedAt, rep.FinishedAt,
		rep.Spendable.String(), rep.TokenBalance.String(), rep.Threshold.String(),
		rep.Target, string(rep.Action), rep.Received.String(), rep.ReceivedSym,
		rep.NextTarget, rep.Consolidated, rep.Error,
	)
	return err
}

func (r *PostgresRecorder) RecordCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO checkpoints (cycle_id, seq, at, step, symbol, amount, txid, status, note)
		VALUES ($1,$2,$3,$4,$5,$6::numeric,$7,$8,$9)
	`,
		cp.CycleID, cp.Seq, cp.At, cp.Step, cp.Symbol,
		cp.Amount.String(), cp.TxID, string(cp.Status), cp.Note,
	)
	return err
}

// RecentCycles returns the latest cycles, newest first.
func (r *PostgresRecorder) RecentCycles(ctx context.Context, limit int) ([]model.CycleReport, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, started_at, finished_at, spendable::text, token_balance::text, threshold::text,
			target, action, received::text, received_symbol, next_target, consolidated, error
		FROM cycles ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CycleReport
	for rows.Next() {
		var (
			rep                                            model.CycleReport
			spendable, tokens, threshold, received, action string
		)
		if err := rows.Scan(&rep.ID, &rep.StartedAt, &rep.FinishedAt, &spendable, &tokens, &threshold,
			&rep.Target, &action, &received, &rep.ReceivedSym, &rep.NextTarget, &rep.Consolidated, &rep.Error); err != nil {
			return nil, err
		}
		rep.Action = model.ActionKind(action)
		if err := parseAmounts(&rep, spendable, tokens, threshold, received); err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

func (r *PostgresRecorder) Close() error {
	r.logger.Info("closing postgres recorder")
	r.pool.Close()
	return nil
}
