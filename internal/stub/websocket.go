package stub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Raviteja77/autodealgenie-sub000/internal/domain"
	"github.com/coder/websocket"
)

// frame mirrors the realtime channel protocol.
type frame struct {
	Type     string          `json:"type"`
	Message  *domain.Message `json:"message,omitempty"`
	IsTyping bool            `json:"is_typing,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// subscriber is one realtime client. Outbound frames go through a buffered
// channel drained by a single writer goroutine, since the connection allows
// one concurrent writer.
type subscriber struct {
	out chan []byte
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDParam(r)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "session ended")

	sub := &subscriber{out: make(chan []byte, 32)}
	s.mu.Lock()
	sess := s.sessionLocked(sessionID)
	sess.subscribers[sub] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(sess.subscribers, sub)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case data := <-sub.out:
				if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
					slog.Debug("Subscriber write failed", "error", err)
					cancel()
					return
				}
			}
		}
	}()

	slog.Info("Realtime subscriber connected", "session_id", sessionID)

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("Realtime subscriber closed", "session_id", sessionID)
			}
			return
		}

		var msg frame
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("Ignoring malformed inbound frame", "error", err)
			continue
		}

		switch msg.Type {
		case "subscribe":
			sub.send(frame{Type: "subscribed"})
		case "ping":
			s.mu.Lock()
			s.pings++
			s.mu.Unlock()
			sub.send(frame{Type: "pong"})
		default:
			slog.Debug("Ignoring inbound frame", "type", msg.Type)
		}
	}
}

// broadcast sends a frame to every realtime subscriber of a session.
// Slow subscribers with a full buffer miss the frame; the client recovers
// via its history sync.
func (s *Server) broadcast(sessionID int64, f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		slog.Debug("Failed to encode frame", "error", err)
		return
	}

	s.mu.Lock()
	sess := s.sessionLocked(sessionID)
	subs := make([]*subscriber, 0, len(sess.subscribers))
	for sub := range sess.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.sendRaw(data)
	}
}

// PushRaw broadcasts arbitrary bytes to a session's realtime subscribers,
// bypassing the frame encoder. Lets tests feed clients garbage and frame
// types the protocol does not define.
func (s *Server) PushRaw(sessionID int64, data []byte) {
	s.mu.Lock()
	sess := s.sessionLocked(sessionID)
	subs := make([]*subscriber, 0, len(sess.subscribers))
	for sub := range sess.subscribers {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.sendRaw(data)
	}
}

func (sub *subscriber) send(f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	sub.sendRaw(data)
}

func (sub *subscriber) sendRaw(data []byte) {
	select {
	case sub.out <- data:
	default:
	}
}
