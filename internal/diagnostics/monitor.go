package diagnostics

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/events"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/logging"
)

// ResourceSnapshot is the state of the nodeflow process at one instant.
type ResourceSnapshot struct {
	Timestamp      time.Time     `json:"timestamp"`
	OpenFDs        int           `json:"open_fds"`
	MaxFDs         int           `json:"max_fds"`
	FDUsagePercent float64       `json:"fd_usage_percent"`
	Goroutines     int           `json:"goroutines"`
	HeapAllocMB    float64       `json:"heap_alloc_mb"`
	StackInUseMB   float64       `json:"stack_in_use_mb"`
	NumGC          uint32        `json:"num_gc"`
	ProcessUptime  time.Duration `json:"process_uptime"`
	RunsStarted    int64         `json:"runs_started"`
	RunsActive     int           `json:"runs_active"`
	NodesExecuting int           `json:"nodes_executing"`
}

// HealthWarning is one limit the process is over.
type HealthWarning struct {
	Level   string  `json:"level"` // warning or critical
	Type    string  `json:"type"`
	Message string  `json:"message"`
	Value   float64 `json:"value"`
	Limit   float64 `json:"limit"`
}

// MonitorConfig configures a ResourceMonitor. A zero limit disables its check.
type MonitorConfig struct {
	Interval           time.Duration
	HistorySize        int
	FDThresholdPercent int
	GoroutineThreshold int
	MemoryThresholdMB  int
	// ActiveRunThreshold flags a backlog of concurrently executing runs.
	ActiveRunThreshold int
	// GoroutineGrowthPerHour flags a steady goroutine climb across the
	// retained history.
	GoroutineGrowthPerHour float64
}

// DefaultMonitorConfig keeps an hour of history at 30s intervals.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:               30 * time.Second,
		HistorySize:            120,
		FDThresholdPercent:     80,
		GoroutineThreshold:     10000,
		MemoryThresholdMB:      4096,
		ActiveRunThreshold:     50,
		GoroutineGrowthPerHour: 500,
	}
}

// limitRule checks one snapshot metric. Values above critical*limit are
// reported as critical.
type limitRule struct {
	kind     string
	limit    float64
	critical float64
	value    func(ResourceSnapshot) float64
	format   string
}

func (c MonitorConfig) rules() []limitRule {
	return []limitRule{
		{"fd", float64(c.FDThresholdPercent), 90.0 / 80.0,
			func(s ResourceSnapshot) float64 { return s.FDUsagePercent }, "descriptor usage at %.1f%% (limit %.0f%%)"},
		{"goroutine", float64(c.GoroutineThreshold), 2,
			func(s ResourceSnapshot) float64 { return float64(s.Goroutines) }, "%.0f goroutines (limit %.0f)"},
		{"memory", float64(c.MemoryThresholdMB), 1.5,
			func(s ResourceSnapshot) float64 { return s.HeapAllocMB }, "heap at %.1f MB (limit %.0f MB)"},
		{"runs", float64(c.ActiveRunThreshold), 2,
			func(s ResourceSnapshot) float64 { return float64(s.RunsActive) }, "%.0f runs executing (limit %.0f)"},
	}
}

// ResourceMonitor samples the process on an interval and keeps a bounded
// history. Run and node counts come from the event bus via TrackRuns.
type ResourceMonitor struct {
	cfg    MonitorConfig
	logger *logging.Logger

	mu      sync.RWMutex
	history []ResourceSnapshot

	runsStarted atomic.Int64
	runsActive  atomic.Int32
	nodesActive atomic.Int32

	stopCh  chan struct{}
	stopped atomic.Bool
	started time.Time
}

// NewResourceMonitor creates a monitor. A nil logger discards warnings.
func NewResourceMonitor(cfg MonitorConfig, logger *logging.Logger) *ResourceMonitor {
	def := DefaultMonitorConfig()
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ResourceMonitor{
		cfg:     cfg,
		logger:  logger,
		history: make([]ResourceSnapshot, 0, cfg.HistorySize),
		stopCh:  make(chan struct{}),
		started: time.Now(),
	}
}

// Start samples once immediately and then every Interval until ctx ends or
// Stop is called. Warnings are logged as they are found.
func (m *ResourceMonitor) Start(ctx context.Context) {
	go func() {
		m.record(m.TakeSnapshot())

		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.record(m.TakeSnapshot())
				for _, w := range m.CheckHealth() {
					m.logger.Warn("resource warning",
						"type", w.Type,
						"level", w.Level,
						"value", w.Value,
						"limit", w.Limit,
					)
				}
			}
		}
	}()
}

// TrackRuns keeps the run and node gauges current from bus until ctx ends
// or the bus closes.
func (m *ResourceMonitor) TrackRuns(ctx context.Context, bus *events.EventBus) {
	if bus == nil {
		return
	}
	ch := bus.Subscribe(events.TypeRunStarted, events.TypeRunCompleted, events.TypeNodeStatus)
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
				m.observe(ev)
			}
		}
	}()
}

func (m *ResourceMonitor) observe(ev events.Event) {
	switch e := ev.(type) {
	case events.RunStartedEvent:
		m.runsStarted.Add(1)
		m.runsActive.Add(1)
	case events.RunCompletedEvent:
		decrement(&m.runsActive)
	case events.NodeStatusEvent:
		switch e.Status {
		case "running":
			m.nodesActive.Add(1)
		case "success", "failed":
			decrement(&m.nodesActive)
		}
	}
}

// decrement lowers g without going negative when events were dropped.
func decrement(g *atomic.Int32) {
	for {
		v := g.Load()
		if v <= 0 || g.CompareAndSwap(v, v-1) {
			return
		}
	}
}

// Stop halts sampling. It is safe to call more than once.
func (m *ResourceMonitor) Stop() {
	if m.stopped.CompareAndSwap(false, true) {
		close(m.stopCh)
	}
}

// TakeSnapshot samples the process now without recording it.
func (m *ResourceMonitor) TakeSnapshot() ResourceSnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	s := ResourceSnapshot{
		Timestamp:      time.Now(),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocMB:    toMB(ms.HeapAlloc),
		StackInUseMB:   toMB(ms.StackInuse),
		NumGC:          ms.NumGC,
		ProcessUptime:  time.Since(m.started),
		RunsStarted:    m.runsStarted.Load(),
		RunsActive:     int(m.runsActive.Load()),
		NodesExecuting: int(m.nodesActive.Load()),
	}
	s.OpenFDs, s.MaxFDs = CountFDs()
	if s.MaxFDs > 0 {
		s.FDUsagePercent = float64(s.OpenFDs) / float64(s.MaxFDs) * 100
	}
	return s
}

func toMB(b uint64) float64 { return float64(b) / (1 << 20) }

func (m *ResourceMonitor) record(s ResourceSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == m.cfg.HistorySize {
		copy(m.history, m.history[1:])
		m.history = m.history[:len(m.history)-1]
	}
	m.history = append(m.history, s)
}

// GetHistory returns a copy of the retained snapshots, oldest first.
func (m *ResourceMonitor) GetHistory() []ResourceSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ResourceSnapshot(nil), m.history...)
}

// GetLatest returns the most recent recorded snapshot.
func (m *ResourceMonitor) GetLatest() (ResourceSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.history) == 0 {
		return ResourceSnapshot{}, false
	}
	return m.history[len(m.history)-1], true
}

// CheckHealth evaluates the latest snapshot, sampling one if none was
// recorded yet, plus goroutine growth across the history.
func (m *ResourceMonitor) CheckHealth() []HealthWarning {
	snap, ok := m.GetLatest()
	if !ok {
		snap = m.TakeSnapshot()
	}
	warnings := m.checkSnapshot(snap)
	if w, ok := m.checkGrowth(m.GetHistory()); ok {
		warnings = append(warnings, w)
	}
	return warnings
}

func (m *ResourceMonitor) checkSnapshot(s ResourceSnapshot) []HealthWarning {
	var warnings []HealthWarning
	for _, r := range m.cfg.rules() {
		if r.limit <= 0 {
			continue
		}
		v := r.value(s)
		if v <= r.limit {
			continue
		}
		level := "warning"
		if v > r.limit*r.critical {
			level = "critical"
		}
		warnings = append(warnings, HealthWarning{
			Level:   level,
			Type:    r.kind,
			Message: fmt.Sprintf(r.format, v, r.limit),
			Value:   v,
			Limit:   r.limit,
		})
	}
	return warnings
}

// minGrowthWindow is the shortest history span a growth rate is computed on.
const minGrowthWindow = 10 * time.Minute

func (m *ResourceMonitor) checkGrowth(history []ResourceSnapshot) (HealthWarning, bool) {
	limit := m.cfg.GoroutineGrowthPerHour
	if limit <= 0 || len(history) < 2 {
		return HealthWarning{}, false
	}
	first, last := history[0], history[len(history)-1]
	span := last.Timestamp.Sub(first.Timestamp)
	if span < minGrowthWindow {
		return HealthWarning{}, false
	}
	rate := float64(last.Goroutines-first.Goroutines) / span.Hours()
	if rate <= limit {
		return HealthWarning{}, false
	}
	return HealthWarning{
		Level:   "warning",
		Type:    "goroutine_growth",
		Message: fmt.Sprintf("goroutines growing at %.0f/hour over %s", rate, span.Round(time.Minute)),
		Value:   rate,
		Limit:   limit,
	}, true
}

// Uptime returns how long the monitor has existed.
func (m *ResourceMonitor) Uptime() time.Duration {
	return time.Since(m.started)
}
