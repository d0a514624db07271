package core

import (
	"fmt"
	"time"
)

// RunID uniquely identifies a workflow run.
type RunID string

// RunType selects which part of the graph a run executes.
type RunType string

const (
	RunTypeFull    RunType = "full"
	RunTypePartial RunType = "partial"
	RunTypeSingle  RunType = "single"
)

// ParseRunType validates a run type, defaulting to full.
func ParseRunType(s string) (RunType, error) {
	switch RunType(s) {
	case "", RunTypeFull:
		return RunTypeFull, nil
	case RunTypePartial:
		return RunTypePartial, nil
	case RunTypeSingle:
		return RunTypeSingle, nil
	}
	return "", ErrValidation(CodeInvalidRequest, fmt.Sprintf("invalid run type: %q", s))
}

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
	RunStatusPartial RunStatus = "partial"
)

// IsTerminal reports whether the run has concluded.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed || s == RunStatusPartial
}

// NodeStatus is the per-node state machine:
// pending -> running -> success|failed, or pending -> skipped.
type NodeStatus string

const (
	NodeStatusPending NodeStatus = "pending"
	NodeStatusRunning NodeStatus = "running"
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusFailed  NodeStatus = "failed"
	NodeStatusSkipped NodeStatus = "skipped"
)

// IsTerminal reports whether no further transition is possible.
func (s NodeStatus) IsTerminal() bool {
	return s == NodeStatusSuccess || s == NodeStatusFailed || s == NodeStatusSkipped
}

// Blocks reports whether dependents of a node in this state must be skipped.
func (s NodeStatus) Blocks() bool {
	return s == NodeStatusFailed || s == NodeStatusSkipped
}

// WorkflowRun is the lifecycle record of one execution.
type WorkflowRun struct {
	ID          RunID      `json:"id"`
	Owner       string     `json:"owner"`
	WorkflowID  string     `json:"workflowId,omitempty"`
	Status      RunStatus  `json:"status"`
	RunType     RunType    `json:"runType"`
	NodeCount   int        `json:"nodeCount"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Duration    int64      `json:"duration"` // milliseconds
	Error       string     `json:"error,omitempty"`
}

// NodeExecution is the ledger row for one node in one run.
type NodeExecution struct {
	ID         string     `json:"id"`
	RunID      RunID      `json:"runId"`
	NodeID     NodeID     `json:"nodeId"`
	NodeType   NodeKind   `json:"nodeType"`
	Status     NodeStatus `json:"status"`
	Inputs     string     `json:"inputs,omitempty"`  // JSON summary
	Outputs    string     `json:"outputs,omitempty"` // JSON summary
	Error      string     `json:"error,omitempty"`
	Duration   int64      `json:"duration"` // milliseconds
	Retries    int        `json:"retries"`
	ExecutedAt time.Time  `json:"executedAt"`
}

// NodeResult is the in-memory outcome of a node within a run.
type NodeResult struct {
	NodeID   NodeID     `json:"nodeId"`
	Status   NodeStatus `json:"status"`
	Output   string     `json:"output,omitempty"`
	Error    string     `json:"error,omitempty"`
	Duration int64      `json:"duration"` // milliseconds
	Retries  int        `json:"retries,omitempty"`
	Cached   bool       `json:"cached,omitempty"`
}

// RunReport is returned by synchronous execution.
type RunReport struct {
	RunID    RunID                 `json:"runId"`
	Status   RunStatus             `json:"status"`
	Results  map[NodeID]NodeResult `json:"results"`
	Duration int64                 `json:"duration"` // milliseconds
	Error    string                `json:"error,omitempty"`
}

// RunRequest describes a run submission.
type RunRequest struct {
	Owner      string  `json:"owner,omitempty"`
	WorkflowID string  `json:"workflowId,omitempty"`
	RunType    RunType `json:"runType"`
	Graph

	// SelectedNodeIDs restricts a partial run.
	SelectedNodeIDs []NodeID `json:"selectedNodeIds,omitempty"`
	// TargetNodeID is the node re-run in single mode.
	TargetNodeID NodeID `json:"targetNodeId,omitempty"`
	// Snapshot holds outputs observed in earlier runs, keyed by node.
	Snapshot map[NodeID]string `json:"snapshot,omitempty"`
}

// FinalStatus derives the run status from node results: success when every
// node succeeded, failed when none did, partial otherwise.
func FinalStatus(results map[NodeID]NodeResult) RunStatus {
	successes, problems := 0, 0
	for _, r := range results {
		switch r.Status {
		case NodeStatusSuccess:
			successes++
		default:
			problems++
		}
	}
	switch {
	case problems == 0:
		return RunStatusSuccess
	case successes == 0:
		return RunStatusFailed
	default:
		return RunStatusPartial
	}
}
