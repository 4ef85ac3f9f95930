package rotation

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"Compounder/internal/model"
	"Compounder/internal/strategy"
)

// Manager counts compounding cycles per target and decides when the schedule rotates.
type Manager struct {
	mu       sync.Mutex
	state    *model.RotationState
	filePath string
	logger   *zap.Logger
}

// NewManager creates a Manager, loading state from disk. An empty filePath keeps state in memory.
func NewManager(filePath string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	state := &model.RotationState{}
	if filePath != "" {
		var err error
		if state, err = LoadState(filePath); err != nil {
			return nil, err
		}
	}
	return &Manager{state: state, filePath: filePath, logger: logger}, nil
}

// GetState returns a copy of the current rotation state.
func (m *Manager) GetState() model.RotationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.state
}

// Advance records one compounding cycle for the head of sched and returns
// the schedule to use next. rotated is true when the head moved to the tail.
func (m *Manager) Advance(sched strategy.Schedule) (next strategy.Schedule, rotated bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	head := sched.Head()
	// The configured target changed under us; start counting afresh.
	if m.state.Target != head.Target {
		m.state.Target = head.Target
		m.state.Held = 0
	}
	m.state.Held++
	m.state.Compounded++
	m.state.LastActionAt = time.Now()

	next = sched
	if sched.Rotating() && m.state.Held >= head.Hold {
		next = sched.Rotate()
		rotated = true
		m.state.Target = next.Head().Target
		m.state.Held = 0
		m.state.Rotations++
	}

	if err := m.save(); err != nil {
		m.logger.Error("failed to save rotation state", zap.Error(err))
	}
	return next, rotated
}

// Remaining returns how many more cycles the head of sched stays active.
func (m *Manager) Remaining(sched strategy.Schedule) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	head := sched.Head()
	if m.state.Target != head.Target {
		return head.Hold
	}
	return head.Hold - m.state.Held
}

func (m *Manager) save() error {
	if m.filePath == "" {
		return nil
	}
	return SaveState(m.filePath, m.state)
}
