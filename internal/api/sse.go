package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/events"
)

// sseKeepAlive is the interval between comment lines that keep idle
// connections open through proxies.
const sseKeepAlive = 15 * time.Second

var streamableTypes = map[string]bool{
	events.TypeRunStarted:   true,
	events.TypeNodeStatus:   true,
	events.TypeRunCompleted: true,
}

// eventStream writes server-sent events with increasing ids.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	seq     int
}

func (es *eventStream) send(eventType string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	es.seq++
	if _, err := fmt.Fprintf(es.w, "id: %d\nevent: %s\ndata: %s\n\n", es.seq, eventType, payload); err != nil {
		return err
	}
	es.flusher.Flush()
	return nil
}

func (es *eventStream) keepAlive() {
	fmt.Fprint(es.w, ": keep-alive\n\n")
	es.flusher.Flush()
}

// parseEventTypes reads a comma separated ?types= list. Empty means all.
func parseEventTypes(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var types []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if !streamableTypes[t] {
			return nil, fmt.Errorf("unknown event type %q", t)
		}
		types = append(types, t)
	}
	return types, nil
}

// handleSSE streams run events. ?run= restricts the stream to one run and
// ends it after that run completes; ?types= restricts the event types.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	if s.eventBus == nil {
		s.respondError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}
	types, err := parseEventTypes(r.URL.Query().Get("types"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	runID := r.URL.Query().Get("run")

	var ch <-chan events.Event
	if runID != "" {
		ch = s.eventBus.SubscribeForRun(runID, types...)
	} else {
		ch = s.eventBus.Subscribe(types...)
	}
	defer s.eventBus.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	stream := &eventStream{w: w, flusher: flusher}
	logger := s.logger.With("remote_addr", r.RemoteAddr, "run_id", runID)
	logger.Debug("event stream opened")
	if err := stream.send("connected", map[string]string{"status": "connected", "run": runID}); err != nil {
		return
	}

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Debug("event stream closed by client")
			return
		case <-ticker.C:
			stream.keepAlive()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := stream.send(ev.EventType(), ev); err != nil {
				logger.Warn("writing event", "error", err)
				return
			}
			if runID != "" && ev.EventType() == events.TypeRunCompleted {
				return
			}
		}
	}
}
