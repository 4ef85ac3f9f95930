package recorder

import (
	"context"

	"Compounder/internal/model"
)

// NoopRecorder is a no-op implementation used when no database is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordCycle(context.Context, *model.CycleReport) error    { return nil }
func (n *NoopRecorder) RecordCheckpoint(context.Context, model.Checkpoint) error { return nil }
func (n *NoopRecorder) RecentCycles(context.Context, int) ([]model.CycleReport, error) {
	return nil, nil
}
func (n *NoopRecorder) Close() error { return nil }
