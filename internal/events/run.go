package events

import "time"

// Event is a run progress notification.
type Event interface {
	EventType() string
	Timestamp() time.Time
	RunID() string
}

// BaseEvent carries the fields shared by every event.
type BaseEvent struct {
	Type string    `json:"type"`
	Time time.Time `json:"timestamp"`
	Run  string    `json:"runId"`
}

func (e BaseEvent) EventType() string    { return e.Type }
func (e BaseEvent) Timestamp() time.Time { return e.Time }
func (e BaseEvent) RunID() string        { return e.Run }

// NewBaseEvent stamps an event of eventType for runID with the current time.
func NewBaseEvent(eventType, runID string) BaseEvent {
	return BaseEvent{Type: eventType, Time: time.Now(), Run: runID}
}

// Event type constants for run progress.
const (
	TypeRunStarted   = "run_started"
	TypeNodeStatus   = "node_status"
	TypeRunCompleted = "run_completed"
)

// RunStartedEvent is emitted once a run record exists.
type RunStartedEvent struct {
	BaseEvent
	RunType   string `json:"runType"`
	NodeCount int    `json:"nodeCount"`
}

// NewRunStartedEvent creates a new run started event.
func NewRunStartedEvent(runID, runType string, nodeCount int) RunStartedEvent {
	return RunStartedEvent{
		BaseEvent: NewBaseEvent(TypeRunStarted, runID),
		RunType:   runType,
		NodeCount: nodeCount,
	}
}

// NodeStatusEvent is emitted on every node state transition.
type NodeStatusEvent struct {
	BaseEvent
	NodeID   string `json:"nodeId"`
	NodeType string `json:"nodeType"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration int64  `json:"duration,omitempty"` // milliseconds
	Retries  int    `json:"retries,omitempty"`
}

// NewNodeStatusEvent creates a new node status event.
func NewNodeStatusEvent(runID, nodeID, nodeType, status string) NodeStatusEvent {
	return NodeStatusEvent{
		BaseEvent: NewBaseEvent(TypeNodeStatus, runID),
		NodeID:    nodeID,
		NodeType:  nodeType,
		Status:    status,
	}
}

// RunCompletedEvent is emitted exactly once per run, on the priority channel.
type RunCompletedEvent struct {
	BaseEvent
	Status    string        `json:"status"`
	Duration  time.Duration `json:"duration"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Error     string        `json:"error,omitempty"`
}

// NewRunCompletedEvent creates a new run completed event.
func NewRunCompletedEvent(runID, status string, duration time.Duration) RunCompletedEvent {
	return RunCompletedEvent{
		BaseEvent: NewBaseEvent(TypeRunCompleted, runID),
		Status:    status,
		Duration:  duration,
	}
}
