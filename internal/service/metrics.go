package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/events"
)

// MetricsCollector aggregates run and node metrics since process start.
type MetricsCollector struct {
	runs  RunMetrics
	kinds map[string]*KindMetrics
	bus   *events.EventBus
	mu    sync.RWMutex
}

// RunMetrics holds run-level totals.
type RunMetrics struct {
	Started       int           `json:"started"`
	Succeeded     int           `json:"succeeded"`
	Partial       int           `json:"partial"`
	Failed        int           `json:"failed"`
	Active        int           `json:"active"`
	TotalDuration time.Duration `json:"total_duration"`
	LastRunAt     time.Time     `json:"last_run_at,omitempty"`
}

// KindMetrics holds metrics for one node kind.
type KindMetrics struct {
	Kind          string        `json:"kind"`
	Executions    int           `json:"executions"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	Skipped       int           `json:"skipped"`
	Retries       int           `json:"retries"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
}

// Metrics is a point-in-time copy of the collector. EventsDropped counts
// progress events lost by slow subscribers of the tracked bus.
type Metrics struct {
	Runs          RunMetrics    `json:"runs"`
	Nodes         []KindMetrics `json:"nodes"`
	EventsDropped int64         `json:"events_dropped"`
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		kinds: make(map[string]*KindMetrics),
	}
}

// RecordRunStarted counts a run that began executing.
func (m *MetricsCollector) RecordRunStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs.Started++
	m.runs.Active++
	m.runs.LastRunAt = time.Now()
}

// RecordRunCompleted counts a finished run by final status.
func (m *MetricsCollector) RecordRunCompleted(status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.runs.Active > 0 {
		m.runs.Active--
	}
	m.runs.TotalDuration += duration
	switch status {
	case "success":
		m.runs.Succeeded++
	case "partial":
		m.runs.Partial++
	default:
		m.runs.Failed++
	}
}

// RecordNode counts a terminal node transition. Running transitions are
// ignored.
func (m *MetricsCollector) RecordNode(kind, status string, duration time.Duration, retries int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	km, ok := m.kinds[kind]
	if !ok {
		km = &KindMetrics{Kind: kind}
		m.kinds[kind] = km
	}

	switch status {
	case "success":
		km.Succeeded++
	case "failed":
		km.Failed++
	case "skipped":
		km.Skipped++
		return
	default:
		return
	}

	km.Executions++
	km.Retries += retries
	km.TotalDuration += duration
	km.AvgDuration = km.TotalDuration / time.Duration(km.Executions)
	if duration > km.MaxDuration {
		km.MaxDuration = duration
	}
}

// Observe updates the collector from one bus event.
func (m *MetricsCollector) Observe(ev events.Event) {
	switch e := ev.(type) {
	case events.RunStartedEvent:
		m.RecordRunStarted()
	case events.RunCompletedEvent:
		m.RecordRunCompleted(e.Status, e.Duration)
	case events.NodeStatusEvent:
		m.RecordNode(e.NodeType, e.Status, time.Duration(e.Duration)*time.Millisecond, e.Retries)
	}
}

// TrackEvents feeds the collector from bus until ctx ends or the bus closes.
func (m *MetricsCollector) TrackEvents(ctx context.Context, bus *events.EventBus) {
	if bus == nil {
		return
	}
	m.mu.Lock()
	m.bus = bus
	m.mu.Unlock()

	ch := bus.Subscribe(events.TypeRunStarted, events.TypeNodeStatus, events.TypeRunCompleted)
	go func() {
		defer bus.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				m.Observe(ev)
			}
		}
	}()
}

// Snapshot returns a copy of the current metrics, node kinds sorted by name.
func (m *MetricsCollector) Snapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	nodes := make([]KindMetrics, 0, len(m.kinds))
	for _, km := range m.kinds {
		nodes = append(nodes, *km)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Kind < nodes[j].Kind })
	return Metrics{Runs: m.runs, Nodes: nodes, EventsDropped: m.bus.DroppedCount()}
}

// Reset clears all metrics.
func (m *MetricsCollector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.runs = RunMetrics{}
	m.kinds = make(map[string]*KindMetrics)
}
