package negotiation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Raviteja77/autodealgenie-sub000/internal/api"
	"github.com/Raviteja77/autodealgenie-sub000/internal/domain"
	"github.com/oklog/ulid/v2"
)

// SendMessage delivers one chat message. With a healthy channel it goes
// straight through the request/response API; otherwise it is buffered in the
// outbound queue for later delivery. Failures surface through the state's
// Error field, never as a return value.
func (m *Manager) SendMessage(content, messageType string) {
	if messageType == "" {
		messageType = domain.MessageTypeText
	}

	m.mu.Lock()
	g, sid := m.gen, m.state.SessionID
	if sid == 0 {
		m.setErrorLocked("No active negotiation session.")
		m.notifyLocked()
		m.mu.Unlock()
		return
	}
	if m.state.ConnectionState != domain.StateConnected || m.state.IsUsingFallback {
		m.enqueueLocked(content, messageType)
		drain := m.state.IsUsingFallback && !m.draining
		m.mu.Unlock()
		if drain {
			go m.processQueue(g)
		}
		return
	}
	m.inflight++
	m.syncSendingLocked()
	m.notifyLocked()
	m.mu.Unlock()

	ex, err := m.client.SendChatMessage(context.Background(), sid, api.SendMessageRequest{
		Message:     content,
		MessageType: messageType,
	})

	m.mu.Lock()
	if m.gen == g {
		m.inflight--
		m.syncSendingLocked()
	}
	if m.state.SessionID != sid {
		m.mu.Unlock()
		return
	}
	if err != nil {
		// Direct-path failures are not auto-queued; the user resubmits.
		m.setErrorLocked("Failed to send message. Please try again.")
		m.notifyLocked()
		m.mu.Unlock()
		slog.Error("Direct send failed", "error", err, "session_id", sid)
		return
	}
	added := m.mergePairLocked(*ex)
	m.notifyLocked()
	m.mu.Unlock()

	m.persistMessages(sid, added...)
}

// SendStructuredInfo submits a structured negotiation detail (trade-in,
// financing, budget). These are always sent directly, even in fallback mode:
// they represent an explicit action tied to a moment, so a failure surfaces
// an error instead of queueing.
func (m *Manager) SendStructuredInfo(infoType, content string, priceMentioned *float64) {
	m.mu.Lock()
	g, sid := m.gen, m.state.SessionID
	if sid == 0 {
		m.setErrorLocked("No active negotiation session.")
		m.notifyLocked()
		m.mu.Unlock()
		return
	}
	m.inflight++
	m.syncSendingLocked()
	m.notifyLocked()
	m.mu.Unlock()

	ex, err := m.client.SubmitStructuredInfo(context.Background(), sid, api.StructuredInfoRequest{
		InfoType:       infoType,
		Content:        content,
		PriceMentioned: priceMentioned,
	})

	m.mu.Lock()
	if m.gen == g {
		m.inflight--
		m.syncSendingLocked()
	}
	if m.state.SessionID != sid {
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.setErrorLocked("Failed to submit information. Please try again.")
		m.notifyLocked()
		m.mu.Unlock()
		slog.Error("Structured info submission failed", "error", err, "session_id", sid, "info_type", infoType)
		return
	}
	added := m.mergePairLocked(*ex)
	m.notifyLocked()
	m.mu.Unlock()

	m.persistMessages(sid, added...)
}

// ClearMessageQueue abandons all buffered outbound messages without
// attempting delivery.
func (m *Manager) ClearMessageQueue() {
	m.mu.Lock()
	m.state.MessageQueue = nil
	m.notifyLocked()
	m.mu.Unlock()
}

// enqueueLocked buffers an outbound message, rejecting it with a surfaced
// error once the queue is at capacity.
func (m *Manager) enqueueLocked(content, messageType string) {
	if len(m.state.MessageQueue) >= m.cfg.MaxQueueSize {
		m.setErrorLocked("Message queue is full. Please wait for the connection to recover.")
		m.notifyLocked()
		slog.Warn("Outbound queue full, dropping message",
			"session_id", m.state.SessionID, "cap", m.cfg.MaxQueueSize)
		return
	}
	m.state.MessageQueue = append(m.state.MessageQueue, domain.QueuedMessage{
		ID:          ulid.Make().String(),
		Content:     content,
		MessageType: messageType,
		EnqueuedAt:  time.Now(),
	})
	m.notifyLocked()
}

// processQueue drains the outbound queue over the request/response path,
// strictly FIFO with one send in flight. The draining claim makes drains
// non-reentrant; it is released only by the drain that took it, never by a
// direct send finishing alongside. On a delivery failure the head is retried
// after a fixed delay; once it exceeds the retry ceiling it is dropped with
// a surfaced error and the drain stops, leaving the rest of the queue for
// the next trigger. Triggered after every successful (re)connection and on
// enqueue in fallback mode.
func (m *Manager) processQueue(g uint64) {
	m.mu.Lock()
	if m.gen != g || m.draining || len(m.state.MessageQueue) == 0 {
		m.mu.Unlock()
		return
	}
	m.draining = true
	m.syncSendingLocked()
	m.notifyLocked()
	m.mu.Unlock()

	for {
		m.mu.Lock()
		if m.gen != g {
			m.mu.Unlock()
			return
		}
		if len(m.state.MessageQueue) == 0 {
			m.releaseDrainLocked()
			m.notifyLocked()
			m.mu.Unlock()
			return
		}
		head := m.state.MessageQueue[0]
		sid := m.state.SessionID
		m.mu.Unlock()

		ex, err := m.client.SendChatMessage(context.Background(), sid, api.SendMessageRequest{
			Message:     head.Content,
			MessageType: head.MessageType,
		})

		m.mu.Lock()
		if m.gen != g {
			// The drain's claim was already released by the teardown.
			// A successful delivery for the still-active session is real:
			// the server accepted it, so the entry must leave the queue
			// or the next drain re-sends it.
			if err == nil && m.state.SessionID == sid {
				m.removeQueuedLocked(head.ID)
				added := m.mergePairLocked(*ex)
				m.notifyLocked()
				m.mu.Unlock()
				m.persistMessages(sid, added...)
				return
			}
			m.mu.Unlock()
			return
		}
		if len(m.state.MessageQueue) == 0 || m.state.MessageQueue[0].ID != head.ID {
			// Queue was cleared while the send was in flight.
			m.releaseDrainLocked()
			m.notifyLocked()
			m.mu.Unlock()
			return
		}

		if err == nil {
			m.state.MessageQueue = m.state.MessageQueue[1:]
			added := m.mergePairLocked(*ex)
			remaining := len(m.state.MessageQueue)
			if remaining == 0 {
				m.releaseDrainLocked()
			}
			m.notifyLocked()
			m.mu.Unlock()

			m.persistMessages(sid, added...)
			if remaining == 0 {
				return
			}
			slog.Debug("Queued message delivered", "queued_id", head.ID, "remaining", remaining)
			time.Sleep(m.cfg.QueueDrainDelay)
			continue
		}

		m.state.MessageQueue[0].RetryCount++
		retries := m.state.MessageQueue[0].RetryCount
		if retries >= m.cfg.MaxSendRetries {
			// Drop and stop draining so failures do not compound across
			// the rest of the queue.
			m.state.MessageQueue = m.state.MessageQueue[1:]
			m.releaseDrainLocked()
			m.setErrorLocked(fmt.Sprintf("Failed to send message after %d attempts.", retries))
			m.notifyLocked()
			m.mu.Unlock()
			slog.Error("Dropping queued message after retry ceiling",
				"queued_id", head.ID, "retries", retries, "error", err)
			return
		}
		m.notifyLocked()
		m.mu.Unlock()

		slog.Warn("Queued message delivery failed, retrying",
			"queued_id", head.ID, "retry", retries, "error", err)
		time.Sleep(m.cfg.QueueRetryDelay)
	}
}

func (m *Manager) releaseDrainLocked() {
	m.draining = false
	m.syncSendingLocked()
}

// removeQueuedLocked deletes one queued entry by id, wherever it sits.
func (m *Manager) removeQueuedLocked(id string) {
	for i, q := range m.state.MessageQueue {
		if q.ID == id {
			m.state.MessageQueue = append(m.state.MessageQueue[:i], m.state.MessageQueue[i+1:]...)
			return
		}
	}
}
