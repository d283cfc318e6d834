package negotiation

import (
	"sort"
	"time"

	"github.com/Raviteja77/autodealgenie-sub000/internal/domain"
)

// State is the aggregate session state consumed by the presentation layer.
// The manager is its single writer; consumers read copies via Snapshot.
type State struct {
	SessionID         int64
	Messages          []domain.Message
	IsTyping          bool
	IsSending         bool
	Error             string
	ConnectionState   domain.ConnectionState
	ReconnectAttempts int
	MessageQueue      []domain.QueuedMessage
	IsUsingFallback   bool
}

// Snapshot returns a copy of the current session state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	s.Messages = append([]domain.Message(nil), m.state.Messages...)
	s.MessageQueue = append([]domain.QueuedMessage(nil), m.state.MessageQueue...)
	return s
}

// Updates delivers coalesced change notifications. After receiving, call
// Snapshot for the current state.
func (m *Manager) Updates() <-chan struct{} {
	return m.updates
}

// SetMessages bulk-replaces the message list, e.g. when a screen preloads
// history before the manager takes over. The list is re-sorted so the
// ordering invariant holds regardless of input order.
func (m *Manager) SetMessages(msgs []domain.Message) {
	sorted := append([]domain.Message(nil), msgs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	m.mu.Lock()
	m.state.Messages = sorted
	m.notifyLocked()
	m.mu.Unlock()
}

// ClearError clears the surfaced error immediately.
func (m *Manager) ClearError() {
	m.mu.Lock()
	m.state.Error = ""
	m.stopErrorTimerLocked()
	m.notifyLocked()
	m.mu.Unlock()
}

// setErrorLocked surfaces a user-visible error and arms its auto-expiry.
// A newer error restarts the display window.
func (m *Manager) setErrorLocked(msg string) {
	m.state.Error = msg
	if m.errorTimer != nil {
		m.errorTimer.Stop()
	}
	m.errorTimer = time.AfterFunc(m.cfg.ErrorDisplayDuration, func() {
		m.mu.Lock()
		if m.state.Error == msg {
			m.state.Error = ""
			m.notifyLocked()
		}
		m.mu.Unlock()
	})
}

func (m *Manager) stopErrorTimerLocked() {
	if m.errorTimer != nil {
		m.errorTimer.Stop()
		m.errorTimer = nil
	}
}

func (m *Manager) notifyLocked() {
	select {
	case m.updates <- struct{}{}:
	default:
	}
}
