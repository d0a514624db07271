package api

import (
	"net/http"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/service"
)

// GraphValidation is the structural report of a graph.
type GraphValidation struct {
	Valid   bool            `json:"valid"`
	Order   []core.NodeID   `json:"order"`
	Waves   [][]core.NodeID `json:"waves"`
	Dropped []core.Edge     `json:"dropped,omitempty"`
}

// ConnectionRequest proposes adding Edge to the graph.
type ConnectionRequest struct {
	core.Graph
	Edge core.Edge `json:"edge"`
}

// ConnectionResponse accepts a proposed edge, with its handle normalized.
type ConnectionResponse struct {
	Allowed bool      `json:"allowed"`
	Edge    core.Edge `json:"edge"`
}

func (s *Server) handleValidateGraph(w http.ResponseWriter, r *http.Request) {
	var g core.Graph
	if err := decodeJSON(w, r, &g); err != nil {
		s.respondDomainError(w, err)
		return
	}

	report, err := service.ValidateGraph(g)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, GraphValidation{
		Valid:   true,
		Order:   report.State.Order,
		Waves:   report.State.Levels,
		Dropped: report.Dropped,
	})
}

// handleCheckConnection runs the connect-time checks on a proposed edge so
// the canvas can refuse it before the graph is ever submitted.
func (s *Server) handleCheckConnection(w http.ResponseWriter, r *http.Request) {
	var req ConnectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondDomainError(w, err)
		return
	}

	if err := service.CheckConnection(req.Graph, req.Edge); err != nil {
		s.respondDomainError(w, err)
		return
	}

	edge := req.Edge
	if target, ok := req.Graph.Index()[edge.Target]; ok {
		edge.TargetHandle = string(core.NormalizeHandle(target.Type, edge.TargetHandle))
	}
	s.respondJSON(w, http.StatusOK, ConnectionResponse{Allowed: true, Edge: edge})
}
