package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/conductor-dev/conductor/internal/events"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The service sits behind a trusted proxy
		return true
	},
}

// handleWS handles GET /tasks/{id}/ws: the same replay-then-live feed
// as the SSE endpoint, carried over a websocket. One JSON event per
// text message; the ?since= contract is identical.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	since, err := sinceParam(r)
	if err != nil {
		s.handleError(w, err)
		return
	}

	ch, err := s.orch.Subscribe(id, since)
	if err != nil {
		s.handleError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.orch.Unsubscribe(id, ch)
		s.logger.Error("websocket upgrade failed", "task", id, "error", err)
		return
	}

	done := make(chan struct{})
	go s.wsReadPump(conn, done)
	s.wsWritePump(conn, id, ch, done)
}

// wsReadPump drains the connection so pings and close frames are
// processed; incoming messages are ignored, the feed is one-way.
func (s *Server) wsReadPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// wsWritePump delivers events until the client goes away.
func (s *Server) wsWritePump(conn *websocket.Conn, taskID string, ch <-chan events.Event, done chan struct{}) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		s.orch.Unsubscribe(taskID, ch)
		_ = conn.Close()
	}()

	for {
		select {
		case e, open := <-ch:
			if !open {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				s.logger.Error("marshal event", "task", taskID, "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}
