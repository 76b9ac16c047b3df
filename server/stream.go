package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teranos/plumb/execution"
	"github.com/teranos/plumb/logger"
)

const streamWriteWait = 10 * time.Second

// Stream message types
const (
	StreamLog  = "log"
	StreamDone = "done"
)

// StreamMessage is one frame of the execution log stream
type StreamMessage struct {
	Type      string               `json:"type"`
	Entry     *execution.LogEntry  `json:"entry,omitempty"`
	Execution *execution.Execution `json:"execution,omitempty"`
}

// handleStreamExecution pushes log entries of an execution as they are
// written and a final "done" frame once it is terminal.
func (s *Server) handleStreamExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.api.GetExecution(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.logger.Debugw("WebSocket upgrade failed", logger.FieldExecutionID, id, logger.FieldError, err)
		return
	}
	defer conn.Close()

	// Reads only to notice the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	sent := 0
	for {
		e, err := s.api.GetExecution(r.Context(), id)
		if err != nil {
			s.logger.Warnw("Execution stream lost its execution", logger.FieldExecutionID, id, logger.FieldError, err)
			closeStream(conn, websocket.CloseInternalServerErr, "execution unavailable")
			return
		}

		for ; sent < len(e.Logs); sent++ {
			entry := e.Logs[sent]
			if err := writeFrame(conn, StreamMessage{Type: StreamLog, Entry: &entry}); err != nil {
				return
			}
		}

		if e.Status.IsTerminal() {
			summary := e.Clone()
			summary.Logs = nil
			if err := writeFrame(conn, StreamMessage{Type: StreamDone, Execution: summary}); err != nil {
				return
			}
			closeStream(conn, websocket.CloseNormalClosure, string(e.Status))
			return
		}

		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writeFrame(conn *websocket.Conn, msg StreamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(msg)
}

func closeStream(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
}
