// Package negotiation implements the client-side negotiation channel
// manager: it owns one realtime channel per session, reconciles messages
// from realtime pushes, request/response replies, and history fetches into a
// single ordered sequence, and queues outbound messages while the channel is
// down.
package negotiation

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Raviteja77/autodealgenie-sub000/internal/api"
	"github.com/Raviteja77/autodealgenie-sub000/internal/domain"
	"github.com/Raviteja77/autodealgenie-sub000/internal/history"
	"github.com/coder/websocket"
)

// APIClient is the request/response collaborator used for sends, structured
// info submissions, and history fetches.
type APIClient interface {
	SendChatMessage(ctx context.Context, sessionID int64, req api.SendMessageRequest) (*domain.ChatExchange, error)
	SubmitStructuredInfo(ctx context.Context, sessionID int64, req api.StructuredInfoRequest) (*domain.ChatExchange, error)
	GetSessionHistory(ctx context.Context, sessionID int64) ([]domain.Message, error)
	WebSocketURL(sessionID int64) (string, error)
}

// Config holds tunables for the channel manager.
type Config struct {
	MaxReconnectAttempts int
	BaseReconnectDelay   time.Duration
	MaxReconnectDelay    time.Duration
	ManualReconnectDelay time.Duration
	HeartbeatInterval    time.Duration
	DialTimeout          time.Duration
	MaxQueueSize         int
	MaxSendRetries       int
	QueueDrainDelay      time.Duration
	QueueRetryDelay      time.Duration
	ErrorDisplayDuration time.Duration
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		MaxReconnectAttempts: 5,
		BaseReconnectDelay:   time.Second,
		MaxReconnectDelay:    10 * time.Second,
		ManualReconnectDelay: 500 * time.Millisecond,
		HeartbeatInterval:    30 * time.Second,
		DialTimeout:          10 * time.Second,
		MaxQueueSize:         50,
		MaxSendRetries:       3,
		QueueDrainDelay:      500 * time.Millisecond,
		QueueRetryDelay:      2 * time.Second,
		ErrorDisplayDuration: 5 * time.Second,
	}
}

// withDefaults fills unset tunables from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if c.BaseReconnectDelay <= 0 {
		c.BaseReconnectDelay = def.BaseReconnectDelay
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if c.ManualReconnectDelay <= 0 {
		c.ManualReconnectDelay = def.ManualReconnectDelay
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = def.MaxQueueSize
	}
	if c.MaxSendRetries <= 0 {
		c.MaxSendRetries = def.MaxSendRetries
	}
	if c.QueueDrainDelay <= 0 {
		c.QueueDrainDelay = def.QueueDrainDelay
	}
	if c.QueueRetryDelay <= 0 {
		c.QueueRetryDelay = def.QueueRetryDelay
	}
	if c.ErrorDisplayDuration <= 0 {
		c.ErrorDisplayDuration = def.ErrorDisplayDuration
	}
	return c
}

// wsFrame is one JSON frame on the realtime channel.
type wsFrame struct {
	Type     string          `json:"type"`
	Message  json.RawMessage `json:"message,omitempty"`
	IsTyping bool            `json:"is_typing,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Manager is the negotiation channel manager. All state mutation happens
// under one mutex; asynchronous completions (dials, timers, network replies)
// are keyed to a generation counter and discarded when the session context
// they were issued for no longer matches.
type Manager struct {
	cfg    Config
	client APIClient
	cache  history.Repository // optional local message cache

	mu             sync.Mutex
	state          State
	gen            uint64
	conn           *websocket.Conn
	connCancel     context.CancelFunc
	reconnectTimer *time.Timer
	errorTimer     *time.Timer
	lastSyncAt     time.Time
	updates        chan struct{}

	// draining marks a queue drain in progress; inflight counts direct
	// sends. They are tracked separately so a direct send finishing cannot
	// release a drain's claim. State.IsSending is derived from both.
	draining bool
	inflight int
}

// NewManager creates a channel manager. cache may be nil to disable local
// history caching.
func NewManager(client APIClient, cache history.Repository, cfg Config) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		client:  client,
		cache:   cache,
		state:   State{ConnectionState: domain.StateDisconnected},
		updates: make(chan struct{}, 1),
	}
}

// SetSessionID establishes the active negotiation session. Changing the
// session tears down the previous connection, queue, and message list, then
// auto-connects. Setting the same id again is a no-op.
func (m *Manager) SetSessionID(id int64) {
	m.mu.Lock()
	if id == m.state.SessionID {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	m.stopErrorTimerLocked()
	m.state = State{SessionID: id, ConnectionState: domain.StateDisconnected}
	m.lastSyncAt = time.Time{}
	m.notifyLocked()
	m.mu.Unlock()

	if id == 0 {
		return
	}
	m.preloadCache(id)
	m.Connect()
}

// Connect opens the realtime channel. It is idempotent: a second call while
// a channel already exists or a dial is in flight does nothing, and so does
// a call without an active session.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.state.SessionID == 0 || m.conn != nil || m.state.ConnectionState == domain.StateConnecting {
		m.mu.Unlock()
		return
	}
	m.stopReconnectTimerLocked()
	m.state.ConnectionState = domain.StateConnecting
	g, sid := m.gen, m.state.SessionID
	m.notifyLocked()
	m.mu.Unlock()

	go m.dial(g, sid)
}

// Disconnect tears down the channel and all pending timers. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.teardownLocked()
	m.notifyLocked()
	m.mu.Unlock()
}

// ManualReconnect resets the automatic-retry budget and re-establishes the
// channel after a short delay. Used when automatic retries are exhausted.
func (m *Manager) ManualReconnect() {
	m.mu.Lock()
	m.teardownLocked()
	m.stopErrorTimerLocked()
	m.state.Error = ""
	m.state.ReconnectAttempts = 0
	m.state.IsUsingFallback = false
	if m.state.SessionID == 0 {
		m.notifyLocked()
		m.mu.Unlock()
		return
	}
	m.state.ConnectionState = domain.StateReconnecting
	g := m.gen
	m.reconnectTimer = time.AfterFunc(m.cfg.ManualReconnectDelay, func() {
		m.reconnect(g)
	})
	m.notifyLocked()
	m.mu.Unlock()
}

// ResetChat returns the manager to its empty initial state and disconnects.
func (m *Manager) ResetChat() {
	m.mu.Lock()
	m.teardownLocked()
	m.stopErrorTimerLocked()
	m.state = State{ConnectionState: domain.StateDisconnected}
	m.lastSyncAt = time.Time{}
	m.notifyLocked()
	m.mu.Unlock()
}

// reconnect transitions a scheduled retry into a fresh dial attempt.
func (m *Manager) reconnect(g uint64) {
	m.mu.Lock()
	if m.gen != g || m.conn != nil {
		m.mu.Unlock()
		return
	}
	m.state.ConnectionState = domain.StateConnecting
	sid := m.state.SessionID
	m.notifyLocked()
	m.mu.Unlock()

	m.dial(g, sid)
}

func (m *Manager) dial(g uint64, sid int64) {
	wsURL, err := m.client.WebSocketURL(sid)
	if err != nil {
		slog.Error("Cannot derive realtime endpoint", "error", err, "session_id", sid)
		m.handleConnectFailure(g)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	cancel()
	if err != nil {
		slog.Warn("Realtime dial failed", "error", err, "session_id", sid)
		m.handleConnectFailure(g)
		return
	}

	m.mu.Lock()
	if m.gen != g || m.state.SessionID != sid || m.conn != nil {
		m.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "stale connection")
		return
	}
	connCtx, connCancel := context.WithCancel(context.Background())
	m.conn = conn
	m.connCancel = connCancel
	m.state.ConnectionState = domain.StateConnected
	m.state.ReconnectAttempts = 0
	m.state.Error = ""
	m.state.IsUsingFallback = false
	m.stopErrorTimerLocked()
	m.notifyLocked()
	m.mu.Unlock()

	slog.Info("Realtime channel connected", "session_id", sid)

	if err := m.writeFrame(conn, wsFrame{Type: "subscribe"}); err != nil {
		slog.Debug("Subscribe handshake write failed", "error", err)
	}

	go m.readLoop(connCtx, conn, g)
	go m.heartbeat(connCtx, conn)
	go m.syncHistory(g, sid)
	go m.processQueue(g)
}

// handleConnectFailure drives the reconnect state machine after a failed
// dial attempt.
func (m *Manager) handleConnectFailure(g uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != g || m.conn != nil {
		return
	}
	m.scheduleReconnectLocked()
	m.notifyLocked()
}

// handleTransportClose drives the reconnect state machine after an
// established channel drops. Closes for connections that have already been
// replaced are ignored.
func (m *Manager) handleTransportClose(conn *websocket.Conn, g uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != g || m.conn != conn {
		return
	}
	m.connCancel()
	_ = m.conn.Close(websocket.StatusNormalClosure, "transport closed")
	m.conn = nil
	m.connCancel = nil
	m.state.IsTyping = false
	m.scheduleReconnectLocked()
	m.notifyLocked()
}

func (m *Manager) scheduleReconnectLocked() {
	if m.state.ReconnectAttempts < m.cfg.MaxReconnectAttempts {
		delay := m.backoffDelay(m.state.ReconnectAttempts)
		m.state.ReconnectAttempts++
		m.state.ConnectionState = domain.StateReconnecting
		g := m.gen
		m.reconnectTimer = time.AfterFunc(delay, func() {
			m.reconnect(g)
		})
		slog.Info("Realtime channel down, reconnect scheduled",
			"attempt", m.state.ReconnectAttempts, "delay", delay)
		return
	}
	m.state.ConnectionState = domain.StateError
	m.state.IsUsingFallback = true
	m.setErrorLocked("Live connection lost. Messages will be delivered directly.")
	slog.Warn("Reconnect attempts exhausted, switching to fallback delivery",
		"attempts", m.state.ReconnectAttempts)
}

// backoffDelay returns the reconnect delay for a 0-indexed attempt:
// min(base * 2^attempt, max).
func (m *Manager) backoffDelay(attempt int) time.Duration {
	delay := m.cfg.BaseReconnectDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= m.cfg.MaxReconnectDelay {
			return m.cfg.MaxReconnectDelay
		}
	}
	if delay > m.cfg.MaxReconnectDelay {
		return m.cfg.MaxReconnectDelay
	}
	return delay
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn, g uint64) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("Realtime channel closed by server")
			} else if ctx.Err() == nil {
				slog.Warn("Realtime read error", "error", err)
			}
			m.handleTransportClose(conn, g)
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			// Malformed frames are swallowed; they must not kill the channel.
			slog.Debug("Dropping malformed realtime frame", "error", err)
			continue
		}
		m.dispatchFrame(frame, g)
	}
}

func (m *Manager) dispatchFrame(frame wsFrame, g uint64) {
	switch frame.Type {
	case "new_message":
		var msg domain.Message
		if err := json.Unmarshal(frame.Message, &msg); err != nil {
			slog.Debug("Dropping malformed message payload", "error", err)
			return
		}
		m.handleIncoming(g, msg)
	case "typing_indicator":
		m.mu.Lock()
		if m.gen == g {
			m.state.IsTyping = frame.IsTyping
			m.notifyLocked()
		}
		m.mu.Unlock()
	case "error":
		m.mu.Lock()
		if m.gen == g {
			m.setErrorLocked(frame.Error)
			m.notifyLocked()
		}
		m.mu.Unlock()
	case "subscribed", "pong":
		// Acknowledgements only.
	default:
		slog.Debug("Ignoring unrecognized realtime frame", "type", frame.Type)
	}
}

// heartbeat sends a keep-alive ping while the channel is open. The
// per-connection context stops it when the connection is torn down.
func (m *Manager) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.writeFrame(conn, wsFrame{Type: "ping"}); err != nil {
				slog.Debug("Heartbeat write failed", "error", err)
				return
			}
		}
	}
}

func (m *Manager) writeFrame(conn *websocket.Conn, frame wsFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.Write(context.Background(), websocket.MessageText, data)
}

// teardownLocked invalidates all outstanding async work, cancels the
// reconnect timer, and closes the channel if open. Leaving any of these
// running would let a timer fire against a stale session.
func (m *Manager) teardownLocked() {
	m.gen++
	m.stopReconnectTimerLocked()
	if m.conn != nil {
		m.connCancel()
		_ = m.conn.Close(websocket.StatusNormalClosure, "client disconnect")
		m.conn = nil
		m.connCancel = nil
	}
	m.draining = false
	m.inflight = 0
	m.state.ConnectionState = domain.StateDisconnected
	m.state.IsSending = false
	m.state.IsTyping = false
}

// syncSendingLocked recomputes the user-visible sending flag from the drain
// claim and the direct-send count.
func (m *Manager) syncSendingLocked() {
	m.state.IsSending = m.draining || m.inflight > 0
}

func (m *Manager) stopReconnectTimerLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *Manager) preloadCache(sid int64) {
	if m.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := m.cache.ListMessages(ctx, sid)
	if err != nil {
		slog.Warn("History cache preload failed", "error", err, "session_id", sid)
		return
	}
	if len(msgs) == 0 {
		return
	}
	m.mu.Lock()
	if m.state.SessionID == sid && len(m.state.Messages) == 0 {
		m.state.Messages = msgs
		m.notifyLocked()
	}
	m.mu.Unlock()
}
