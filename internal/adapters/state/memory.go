package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
)

// MemoryLedger implements core.Ledger in process memory.
type MemoryLedger struct {
	mu    sync.RWMutex
	runs  map[core.RunID]*core.WorkflowRun
	execs map[core.RunID]map[core.NodeID]*core.NodeExecution
	// onChange runs after every write while the lock is held.
	onChange func() error
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		runs:  make(map[core.RunID]*core.WorkflowRun),
		execs: make(map[core.RunID]map[core.NodeID]*core.NodeExecution),
	}
}

// CreateRun inserts a run.
func (m *MemoryLedger) CreateRun(_ context.Context, run *core.WorkflowRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[run.ID]; ok {
		return core.ErrValidation(core.CodeInvalidState, "run already exists: "+string(run.ID))
	}
	cp := *run
	m.runs[run.ID] = &cp
	m.execs[run.ID] = make(map[core.NodeID]*core.NodeExecution)
	return m.changed()
}

// FinishRun records the terminal status of a run.
func (m *MemoryLedger) FinishRun(_ context.Context, id core.RunID, status core.RunStatus, completedAt time.Time, duration int64, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return core.ErrNotFound("run", string(id))
	}
	run.Status = status
	run.CompletedAt = &completedAt
	run.Duration = duration
	run.Error = errMsg
	return m.changed()
}

// StartNode inserts a running node row.
func (m *MemoryLedger) StartNode(_ context.Context, exec *core.NodeExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, ok := m.execs[exec.RunID]
	if !ok {
		return core.ErrNotFound("run", string(exec.RunID))
	}
	cp := *exec
	rows[exec.NodeID] = &cp
	return m.changed()
}

// FinishNode upserts the terminal node row.
func (m *MemoryLedger) FinishNode(_ context.Context, exec *core.NodeExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, ok := m.execs[exec.RunID]
	if !ok {
		return core.ErrNotFound("run", string(exec.RunID))
	}
	cp := *exec
	if prev, ok := rows[exec.NodeID]; ok {
		cp.ID = prev.ID
		cp.ExecutedAt = prev.ExecutedAt
		if cp.Inputs == "" {
			cp.Inputs = prev.Inputs
		}
	}
	rows[exec.NodeID] = &cp
	return m.changed()
}

// GetRun returns a run.
func (m *MemoryLedger) GetRun(_ context.Context, id core.RunID) (*core.WorkflowRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, core.ErrNotFound("run", string(id))
	}
	cp := *run
	return &cp, nil
}

// ListNodeExecutions returns the node rows of a run in execution order.
func (m *MemoryLedger) ListNodeExecutions(_ context.Context, id core.RunID) ([]core.NodeExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, ok := m.execs[id]
	if !ok {
		return nil, core.ErrNotFound("run", string(id))
	}
	result := make([]core.NodeExecution, 0, len(rows))
	for _, r := range rows {
		result = append(result, *r)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].ExecutedAt.Equal(result[j].ExecutedAt) {
			return result[i].NodeID < result[j].NodeID
		}
		return result[i].ExecutedAt.Before(result[j].ExecutedAt)
	})
	return result, nil
}

// ListRuns returns the most recent runs of owner, newest first.
func (m *MemoryLedger) ListRuns(_ context.Context, owner string, limit int) ([]core.WorkflowRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []core.WorkflowRun
	for _, r := range m.runs {
		if owner == "" || r.Owner == owner {
			result = append(result, *r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Close is a no-op.
func (m *MemoryLedger) Close() error {
	return nil
}

func (m *MemoryLedger) changed() error {
	if m.onChange == nil {
		return nil
	}
	return m.onChange()
}
