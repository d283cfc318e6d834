// Package stub provides a fake negotiation backend for integration tests and
// local development. It implements the REST endpoints and the realtime frame
// protocol the channel manager expects, with canned dealer-agent replies.
package stub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Raviteja77/autodealgenie-sub000/internal/domain"
	"github.com/Raviteja77/autodealgenie-sub000/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Server is an in-memory negotiation backend.
type Server struct {
	mu       sync.Mutex
	sessions map[int64]*session
	nextID   int64
	pings    int

	// FailSends makes message sends return 503, for exercising the
	// client's retry and fallback paths.
	failSends bool
}

type session struct {
	messages    []domain.Message
	subscribers map[*subscriber]struct{}
}

// NewServer creates an empty stub backend.
func NewServer() *Server {
	return &Server{sessions: make(map[int64]*session)}
}

// Router returns the HTTP router exposing the REST and realtime endpoints.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	r.Post("/api/sessions/{sessionID}/messages", s.handleSendMessage)
	r.Post("/api/sessions/{sessionID}/info", s.handleSubmitInfo)
	r.Get("/api/sessions/{sessionID}/messages", s.handleGetHistory)
	r.Get("/ws/negotiations/{sessionID}", s.handleWebSocket)

	return r
}

// SubscriberCount reports how many realtime clients a session has.
func (s *Server) SubscriberCount(sessionID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessionLocked(sessionID).subscribers)
}

// PingCount reports how many keep-alive pings clients have sent.
func (s *Server) PingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

// SetFailSends toggles forced send failures.
func (s *Server) SetFailSends(fail bool) {
	s.mu.Lock()
	s.failSends = fail
	s.mu.Unlock()
}

// SeedMessages appends pre-existing history for a session.
func (s *Server) SeedMessages(sessionID int64, msgs ...domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessionLocked(sessionID)
	sess.messages = append(sess.messages, msgs...)
	for _, msg := range msgs {
		if msg.ID > s.nextID {
			s.nextID = msg.ID
		}
	}
}

// PushMessage appends a message and broadcasts it to realtime subscribers,
// simulating server-side activity while a client is connected.
func (s *Server) PushMessage(sessionID int64, role, content string) domain.Message {
	s.mu.Lock()
	msg := s.appendMessageLocked(sessionID, role, content, domain.MessageTypeText, nil)
	s.mu.Unlock()
	s.broadcast(sessionID, frame{Type: "new_message", Message: &msg})
	return msg
}

// SetTyping broadcasts a typing indicator to realtime subscribers.
func (s *Server) SetTyping(sessionID int64, typing bool) {
	s.broadcast(sessionID, frame{Type: "typing_indicator", IsTyping: typing})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	var req struct {
		Message     string `json:"message"`
		MessageType string `json:"message_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	if s.failSends {
		s.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, "negotiation service unavailable")
		return
	}
	userMsg := s.appendMessageLocked(sessionID, domain.RoleUser, req.Message, req.MessageType, nil)
	agentMsg := s.appendMessageLocked(sessionID, domain.RoleAgent, agentReply(req.MessageType, req.Message), domain.MessageTypeText, nil)
	s.mu.Unlock()

	s.broadcast(sessionID, frame{Type: "new_message", Message: &userMsg})
	s.broadcast(sessionID, frame{Type: "new_message", Message: &agentMsg})

	writeJSON(w, http.StatusOK, domain.ChatExchange{UserMessage: userMsg, AgentMessage: agentMsg})
}

func (s *Server) handleSubmitInfo(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	var req struct {
		InfoType       string   `json:"info_type"`
		Content        string   `json:"content"`
		PriceMentioned *float64 `json:"price_mentioned"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s.mu.Lock()
	if s.failSends {
		s.mu.Unlock()
		writeError(w, http.StatusServiceUnavailable, "negotiation service unavailable")
		return
	}
	userMsg := s.appendMessageLocked(sessionID, domain.RoleUser, req.Content, req.InfoType, req.PriceMentioned)
	agentMsg := s.appendMessageLocked(sessionID, domain.RoleAgent, infoReply(req.InfoType), domain.MessageTypeText, nil)
	s.mu.Unlock()

	s.broadcast(sessionID, frame{Type: "new_message", Message: &userMsg})
	s.broadcast(sessionID, frame{Type: "new_message", Message: &agentMsg})

	writeJSON(w, http.StatusOK, domain.ChatExchange{UserMessage: userMsg, AgentMessage: agentMsg})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	s.mu.Lock()
	sess := s.sessionLocked(sessionID)
	msgs := append([]domain.Message(nil), sess.messages...)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string][]domain.Message{"messages": msgs})
}

// sessionLocked returns the session, creating it on first use.
func (s *Server) sessionLocked(sessionID int64) *session {
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &session{subscribers: make(map[*subscriber]struct{})}
		s.sessions[sessionID] = sess
	}
	return sess
}

func (s *Server) appendMessageLocked(sessionID int64, role, content, messageType string, price *float64) domain.Message {
	s.nextID++
	msg := domain.Message{
		ID:             s.nextID,
		SessionID:      sessionID,
		Role:           role,
		Content:        content,
		MessageType:    messageType,
		PriceMentioned: price,
		CreatedAt:      time.Now().UTC(),
	}
	sess := s.sessionLocked(sessionID)
	sess.messages = append(sess.messages, msg)
	return msg
}

func agentReply(messageType, content string) string {
	switch messageType {
	case domain.MessageTypeCounterOffer:
		return "Let me run that number by my manager. We might be able to meet in the middle."
	case domain.MessageTypeQuestion:
		return "Good question. The listing includes a full service history and a 90-day warranty."
	default:
		if strings.Contains(strings.ToLower(content), "price") {
			return "I hear you on the price. What figure did you have in mind?"
		}
		return "Thanks, noted. Anything else I should factor into the deal?"
	}
}

func infoReply(infoType string) string {
	switch infoType {
	case domain.InfoTypeTradeIn:
		return "I've added your trade-in to the worksheet. We'll appraise it before final numbers."
	case domain.InfoTypeFinancing:
		return "Got it, I'll have our finance desk put together options at that term."
	case domain.InfoTypeBudget:
		return "Understood. I'll keep the out-the-door price inside that budget."
	default:
		return "Thanks, I've recorded that detail."
	}
}

func sessionIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "sessionID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid session id %q", raw)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
