package webserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsprackett/gtdash/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteWait = 10 * time.Second

// wsClientMsg is an inbound frame. Only "send" is understood.
type wsClientMsg struct {
	Type   string `json:"type"`
	Target string `json:"target"`
	Text   string `json:"text"`
}

// wsServerMsg is an outbound frame wrapping one stream message.
type wsServerMsg struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const wsNameError = "error"

// handleDispatchWS carries the dispatch stream over a websocket. Outbound
// frames mirror the SSE messages; inbound send frames go through the same
// Send path as POST /api/dispatch.
func (s *Server) handleDispatchWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	client := newStreamClient("ws", s.cfg.ClientBuffer)
	if err := s.deps.Dispatch.Subscribe(client); err != nil {
		s.logger.Warn("webserver: dispatch subscribe failed", "err", err)
		return
	}
	defer s.deps.Dispatch.Unsubscribe(client.ID())

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg wsClientMsg
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			if msg.Type != "send" {
				continue
			}
			// Successful sends come back through the stream itself.
			if _, err := s.deps.Dispatch.Send(r.Context(), msg.Target, msg.Text); err != nil {
				client.Deliver(events.Message{Name: wsNameError, Data: map[string]string{"error": err.Error()}})
			}
		}
	}()

	ticker := time.NewTicker(s.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-readDone:
			return
		case <-client.done:
			return
		case m := <-client.ch:
			if err := writeWS(conn, m); err != nil {
				s.logger.Debug("webserver: ws write failed", "err", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeWS(conn *websocket.Conn, m events.Message) error {
	data, err := m.JSON()
	if err != nil {
		return err
	}
	frame, err := json.Marshal(wsServerMsg{Type: m.Name, Data: data})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}
