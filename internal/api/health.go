package api

import (
	"net/http"
	"time"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/service"
)

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status   string                        `json:"status"`
	Time     string                        `json:"time"`
	Version  string                        `json:"version"`
	Uptime   string                        `json:"uptime"`
	Process  *diagnostics.ResourceSnapshot `json:"process,omitempty"`
	Warnings []diagnostics.HealthWarning   `json:"warnings,omitempty"`
	Host     *diagnostics.HostMetrics      `json:"host,omitempty"`
}

// handleHealth returns server health. Critical resource warnings degrade
// the status without failing the probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:  "healthy",
		Time:    time.Now().UTC().Format(time.RFC3339),
		Version: s.version,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}

	if s.monitor != nil {
		snap, ok := s.monitor.GetLatest()
		if !ok {
			snap = s.monitor.TakeSnapshot()
		}
		resp.Process = &snap
		resp.Warnings = s.monitor.CheckHealth()
		for _, warn := range resp.Warnings {
			if warn.Level == "critical" {
				resp.Status = "degraded"
			}
		}
	}
	if s.host != nil {
		m := s.host.Collect()
		resp.Host = &m
	}

	s.respondJSON(w, http.StatusOK, resp)
}

// MetricsResponse is the body of /api/v1/metrics. RateLimits is keyed by
// model and omitted when limiting is disabled.
type MetricsResponse struct {
	service.Metrics
	RateLimits map[string]service.RateLimiterStatus `json:"rate_limits,omitempty"`
}

// handleMetrics returns run and node-kind totals since the server started.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.runMetrics == nil {
		s.respondError(w, http.StatusServiceUnavailable, "metrics not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, MetricsResponse{
		Metrics:    s.runMetrics.Snapshot(),
		RateLimits: s.limiters.Status(),
	})
}
