package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
)

// maxRequestBytes bounds submitted graphs. Image nodes may embed data URLs.
const maxRequestBytes = 32 << 20

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

// Response headers identifying a synchronous run.
const (
	RunIDHeader     = "X-Nodeflow-Run-Id"
	RunStatusHeader = "X-Nodeflow-Run-Status"
)

// SubmitResponse is returned for asynchronous submissions.
type SubmitResponse struct {
	RunID core.RunID `json:"runId"`
}

// SingleRunRequest re-runs one node. Dependencies carry the upstream nodes
// whose outputs the node may need.
type SingleRunRequest struct {
	WorkflowID   string                 `json:"workflowId,omitempty"`
	Node         core.Node              `json:"node"`
	Dependencies []core.Node            `json:"dependencies"`
	Edges        []core.Edge            `json:"edges"`
	Snapshot     map[core.NodeID]string `json:"snapshot,omitempty"`
}

// Request converts the single-node form into a run request.
func (r SingleRunRequest) Request() core.RunRequest {
	nodes := make([]core.Node, 0, len(r.Dependencies)+1)
	nodes = append(nodes, r.Dependencies...)
	nodes = append(nodes, r.Node)
	return core.RunRequest{
		WorkflowID:   r.WorkflowID,
		RunType:      core.RunTypeSingle,
		Graph:        core.Graph{Nodes: nodes, Edges: r.Edges},
		TargetNodeID: r.Node.ID,
		Snapshot:     r.Snapshot,
	}
}

// RunDetail answers a status query.
type RunDetail struct {
	Run            *core.WorkflowRun    `json:"run"`
	Status         core.RunStatus       `json:"status"`
	NodeExecutions []core.NodeExecution `json:"nodeExecutions"`
}

// RunList is the body of the run history endpoint.
type RunList struct {
	Runs []core.WorkflowRun `json:"runs"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return core.ErrValidation(core.CodeInvalidRequest, "request body is empty")
		}
		return core.ErrValidation(core.CodeInvalidRequest, fmt.Sprintf("invalid request body: %v", err)).WithCause(err)
	}
	return nil
}

// handleSubmitRun accepts a graph. With ?sync=true the run executes within
// the request and the per-node results are returned; otherwise the run
// proceeds in the background and only its ID is returned.
func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req core.RunRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.startRun(w, r, req)
}

func (s *Server) handleSubmitSingle(w http.ResponseWriter, r *http.Request) {
	var body SingleRunRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.respondDomainError(w, err)
		return
	}
	if body.Node.ID == "" {
		s.respondDomainError(w, core.ErrValidation(core.CodeInvalidRequest, "node is required"))
		return
	}
	s.startRun(w, r, body.Request())
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request, req core.RunRequest) {
	req.Owner = ownerFrom(r)

	if sync, _ := strconv.ParseBool(r.URL.Query().Get("sync")); sync {
		report, err := s.runs.Execute(r.Context(), req)
		if report == nil {
			s.respondDomainError(w, err)
			return
		}
		w.Header().Set(RunIDHeader, string(report.RunID))
		w.Header().Set(RunStatusHeader, string(report.Status))
		s.respondJSON(w, http.StatusOK, report.Results)
		return
	}

	runID, err := s.runs.Submit(r.Context(), req)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/runs/"+string(runID))
	s.respondJSON(w, http.StatusAccepted, SubmitResponse{RunID: runID})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := s.ledger.ListRuns(r.Context(), ownerFrom(r), limit)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if runs == nil {
		runs = []core.WorkflowRun{}
	}
	s.respondJSON(w, http.StatusOK, RunList{Runs: runs})
}

// handleGetRun answers status polling. Responses carry an ETag so pollers
// can send If-None-Match and receive 304 while nothing changed.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := core.RunID(chi.URLParam(r, "runID"))

	run, err := s.ledger.GetRun(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	// runs of other owners are reported as missing
	if run.Owner != ownerFrom(r) {
		s.respondDomainError(w, core.ErrNotFound("run", string(id)))
		return
	}
	execs, err := s.ledger.ListNodeExecutions(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if execs == nil {
		execs = []core.NodeExecution{}
	}

	body, err := json.Marshal(RunDetail{Run: run, Status: run.Status, NodeExecutions: execs})
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondCached(w, r, body)
}
