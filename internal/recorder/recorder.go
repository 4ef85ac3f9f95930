package recorder

import (
	"context"

	"Compounder/internal/model"
)

// Recorder persists cycle history for later inspection.
type Recorder interface {
	RecordCycle(ctx context.Context, r *model.CycleReport) error
	RecordCheckpoint(ctx context.Context, cp model.Checkpoint) error
	RecentCycles(ctx context.Context, limit int) ([]model.CycleReport, error)
	Close() error
}
