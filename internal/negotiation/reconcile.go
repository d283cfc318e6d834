package negotiation

import (
	"context"
	"log/slog"
	"time"

	"github.com/Raviteja77/autodealgenie-sub000/internal/domain"
)

// mergeIncomingLocked inserts a message into the ordered sequence unless a
// message with the same id is already present. Equal timestamps keep
// insertion order. Reports whether the message was added.
func (m *Manager) mergeIncomingLocked(msg domain.Message) bool {
	for _, existing := range m.state.Messages {
		if existing.ID == msg.ID {
			return false
		}
	}
	i := len(m.state.Messages)
	for i > 0 && m.state.Messages[i-1].CreatedAt.After(msg.CreatedAt) {
		i--
	}
	m.state.Messages = append(m.state.Messages, domain.Message{})
	copy(m.state.Messages[i+1:], m.state.Messages[i:])
	m.state.Messages[i] = msg
	return true
}

// mergePairLocked merges the user/agent pair returned by a request/response
// send. Either side may already be present when the realtime push for the
// same turn arrived first.
func (m *Manager) mergePairLocked(ex domain.ChatExchange) []domain.Message {
	var added []domain.Message
	if m.mergeIncomingLocked(ex.UserMessage) {
		added = append(added, ex.UserMessage)
	}
	if m.mergeIncomingLocked(ex.AgentMessage) {
		added = append(added, ex.AgentMessage)
	}
	return added
}

// handleIncoming merges a realtime-pushed message into the store.
func (m *Manager) handleIncoming(g uint64, msg domain.Message) {
	m.mu.Lock()
	if m.gen != g {
		m.mu.Unlock()
		return
	}
	sid := m.state.SessionID
	merged := m.mergeIncomingLocked(msg)
	if merged {
		m.notifyLocked()
	}
	m.mu.Unlock()

	if merged {
		m.persistMessages(sid, msg)
	}
}

// syncHistory fetches the full session history and appends only messages
// strictly newer than the latest known point. It runs after every
// successful (re)connection to recover messages missed while offline; a
// failed fetch is logged, not surfaced, since messages still arrive via
// push or fallback. The cutoff is read at merge time, against the current
// store contents, so a slow fetch cannot clobber later state.
func (m *Manager) syncHistory(g uint64, sid int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	msgs, err := m.client.GetSessionHistory(ctx, sid)
	if err != nil {
		slog.Warn("History sync failed", "error", err, "session_id", sid)
		return
	}

	m.mu.Lock()
	if m.gen != g || m.state.SessionID != sid {
		m.mu.Unlock()
		return
	}
	cutoff := m.lastSyncAt
	if n := len(m.state.Messages); n > 0 {
		cutoff = m.state.Messages[n-1].CreatedAt
	}
	var added []domain.Message
	for _, msg := range msgs {
		if !msg.CreatedAt.After(cutoff) {
			continue
		}
		if m.mergeIncomingLocked(msg) {
			added = append(added, msg)
		}
	}
	m.lastSyncAt = time.Now()
	if len(added) > 0 {
		m.notifyLocked()
	}
	m.mu.Unlock()

	if len(added) > 0 {
		slog.Info("History sync recovered messages", "count", len(added), "session_id", sid)
		m.persistMessages(sid, added...)
	}
}

// persistMessages writes merged messages to the local cache, best effort.
func (m *Manager) persistMessages(sid int64, msgs ...domain.Message) {
	if m.cache == nil || len(msgs) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.cache.SaveMessages(ctx, msgs); err != nil {
			slog.Warn("History cache write failed", "error", err, "session_id", sid)
		}
	}()
}
