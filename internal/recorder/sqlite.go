package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"Compounder/internal/model"
)

// SQLiteRecorder persists cycle history to a SQLite database.
type SQLiteRecorder struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string, logger *zap.Logger) (*SQLiteRecorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so `compounder holdings` can read while the daemon writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, logger: logger}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("sqlite recorder opened", zap.String("path", dbPath))
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cycles (
			id              TEXT PRIMARY KEY,
			started_at      INTEGER NOT NULL,
			finished_at     INTEGER NOT NULL,
			spendable       TEXT,
			token_balance   TEXT,
			threshold       TEXT,
			target          TEXT,
			action          TEXT,
			received        TEXT,
			received_symbol TEXT,
			next_target     TEXT,
			consolidated    INTEGER,
			error           TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles(started_at)`,

		`CREATE TABLE IF NOT EXISTS checkpoints (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id  TEXT NOT NULL,
			seq       INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			step      TEXT,
			symbol    TEXT,
			amount    TEXT,
			txid      TEXT,
			status    TEXT,
			note      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_cycle ON checkpoints(cycle_id, seq)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordCycle(ctx context.Context, rep *model.CycleReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `INSERT OR REPLACE INTO cycles
		(id, started_at, finished_at, spendable, token_balance, threshold,
		 target, action, received, received_symbol, next_target, consolidated, error)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rep.ID, rep.StartedAt.UnixMilli(), rep.FinishedAt.UnixMilli(),
		rep.Spendable.String(), rep.TokenBalance.String(), rep.Threshold.String(),
		rep.Target, string(rep.Action), rep.Received.String(), rep.ReceivedSym,
		rep.NextTarget, rep.Consolidated, rep.Error,
	)
	return err
}

func (r *SQLiteRecorder) RecordCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.ExecContext(ctx, `INSERT INTO checkpoints
		(cycle_id, seq, timestamp, step, symbol, amount, txid, status, note)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		cp.CycleID, cp.Seq, cp.At.UnixMilli(), cp.Step, cp.Symbol,
		cp.Amount.String(), cp.TxID, string(cp.Status), cp.Note,
	)
	return err
}

// RecentCycles returns the latest cycles, newest first.
func (r *SQLiteRecorder) RecentCycles(ctx context.Context, limit int) ([]model.CycleReport, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, started_at, finished_at, spendable, token_balance,
		threshold, target, action, received, received_symbol, next_target, consolidated, error
		FROM cycles ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CycleReport
	for rows.Next() {
		var (
			rep                                            model.CycleReport
			started, finished                              int64
			spendable, tokens, threshold, received, action string
		)
		if err := rows.Scan(&rep.ID, &started, &finished, &spendable, &tokens, &threshold,
			&rep.Target, &action, &received, &rep.ReceivedSym, &rep.NextTarget, &rep.Consolidated, &rep.Error); err != nil {
			return nil, err
		}
		rep.StartedAt = time.UnixMilli(started)
		rep.FinishedAt = time.UnixMilli(finished)
		rep.Action = model.ActionKind(action)
		if err := parseAmounts(&rep, spendable, tokens, threshold, received); err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

// Checkpoints returns the checkpoints of one cycle in order.
func (r *SQLiteRecorder) Checkpoints(ctx context.Context, cycleID string) ([]model.Checkpoint, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT seq, timestamp, step, symbol, amount, txid, status, note
		FROM checkpoints WHERE cycle_id = ? ORDER BY seq`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Checkpoint
	for rows.Next() {
		var (
			cp             model.Checkpoint
			ts             int64
			amount, status string
		)
		if err := rows.Scan(&cp.Seq, &ts, &cp.Step, &cp.Symbol, &amount, &cp.TxID, &status, &cp.Note); err != nil {
			return nil, err
		}
		cp.CycleID = cycleID
		cp.At = time.UnixMilli(ts)
		cp.Status = model.CheckpointStatus(status)
		if cp.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("checkpoint %s/%d amount: %w", cycleID, cp.Seq, err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	r.logger.Info("closing sqlite recorder")
	return r.db.Close()
}

func parseAmounts(rep *model.CycleReport, spendable, tokens, threshold, received string) error {
	targets := []*decimal.Decimal{&rep.Spendable, &rep.TokenBalance, &rep.Threshold, &rep.Received}
	for i, s := range []string{spendable, tokens, threshold, received} {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("cycle %s amount: %w", rep.ID, err)
		}
		*targets[i] = v
	}
	return nil
}
