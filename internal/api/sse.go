package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// sseHeartbeat keeps idle connections open through proxies.
const sseHeartbeat = 15 * time.Second

// handleSSE streams workflow events. The optional run_id query parameter
// limits the stream to one run and types to a comma-separated set of event
// types.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		respondError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	runID := r.URL.Query().Get("run_id")
	var types []string
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}

	ch := s.bus.Subscribe(types...)
	defer s.bus.Unsubscribe(ch)

	ctx := r.Context()
	s.logger.Debug("SSE client connected", "remote_addr", r.RemoteAddr, "run_id", runID)
	s.writeSSE(w, flusher, "connected", map[string]string{"status": "connected"})

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("SSE client disconnected", "remote_addr", r.RemoteAddr, "dropped_events", s.bus.DroppedCount())
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if runID != "" && event.RunID() != runID {
				continue
			}
			s.writeSSE(w, flusher, event.EventType(), event)
		}
	}
}

func (s *Server) writeSSE(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "type", eventType, "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}
