package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// keepAliveInterval is how often the SSE stream emits a comment so
// proxies keep the connection open during quiet periods.
const keepAliveInterval = 15 * time.Second

// handleEvents handles GET /tasks/{id}/events: a text/event-stream feed
// that replays durable events with seq greater than ?since=, then
// delivers live events until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	since, err := sinceParam(r)
	if err != nil {
		s.handleError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, err := s.orch.Subscribe(id, since)
	if err != nil {
		s.handleError(w, err)
		return
	}
	defer s.orch.Unsubscribe(id, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case e, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				s.logger.Error("marshal event", "task", id, "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()

		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
