package negotiation

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Raviteja77/autodealgenie-sub000/internal/api"
	"github.com/Raviteja77/autodealgenie-sub000/internal/domain"
	"github.com/Raviteja77/autodealgenie-sub000/internal/stub"
)

// fakeClient is an in-memory APIClient for unit tests. Dialing its
// WebSocketURL always fails, which exercises the reconnect paths.
type fakeClient struct {
	mu         sync.Mutex
	failSends  int           // fail this many sends before succeeding
	gate       chan struct{} // when set, each send blocks until a value arrives
	sendCalls  int
	nextID     int64
	history    []domain.Message
	historyErr error
}

var errSendFailed = errors.New("send failed")

func (f *fakeClient) SendChatMessage(_ context.Context, sessionID int64, req api.SendMessageRequest) (*domain.ChatExchange, error) {
	f.mu.Lock()
	f.sendCalls++
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSends > 0 {
		f.failSends--
		return nil, errSendFailed
	}
	user := f.nextMessageLocked(sessionID, domain.RoleUser, req.Message)
	agent := f.nextMessageLocked(sessionID, domain.RoleAgent, "noted")
	return &domain.ChatExchange{UserMessage: user, AgentMessage: agent}, nil
}

func (f *fakeClient) SubmitStructuredInfo(_ context.Context, sessionID int64, req api.StructuredInfoRequest) (*domain.ChatExchange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.failSends > 0 {
		f.failSends--
		return nil, errSendFailed
	}
	user := f.nextMessageLocked(sessionID, domain.RoleUser, req.Content)
	agent := f.nextMessageLocked(sessionID, domain.RoleAgent, "recorded")
	return &domain.ChatExchange{UserMessage: user, AgentMessage: agent}, nil
}

func (f *fakeClient) GetSessionHistory(_ context.Context, _ int64) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return append([]domain.Message(nil), f.history...), nil
}

func (f *fakeClient) WebSocketURL(int64) (string, error) {
	// Nothing listens here; dials fail fast.
	return "ws://127.0.0.1:1/ws/negotiations/1", nil
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls
}

// nextMessageLocked fabricates a server message with increasing timestamps.
func (f *fakeClient) nextMessageLocked(sessionID int64, role, content string) domain.Message {
	f.nextID++
	return domain.Message{
		ID:        f.nextID,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: baseTime.Add(time.Duration(f.nextID) * time.Second),
	}
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		BaseReconnectDelay:   time.Millisecond,
		MaxReconnectDelay:    4 * time.Millisecond,
		ManualReconnectDelay: time.Millisecond,
		DialTimeout:          100 * time.Millisecond,
		QueueDrainDelay:      time.Millisecond,
		QueueRetryDelay:      time.Millisecond,
		ErrorDisplayDuration: time.Minute,
	}
}

// newTestManager returns a manager with an active session but no connection
// machinery running.
func newTestManager(client APIClient, cfg Config, sessionID int64) *Manager {
	m := NewManager(client, nil, cfg)
	m.mu.Lock()
	m.state.SessionID = sessionID
	m.mu.Unlock()
	return m
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestBackoffSchedule(t *testing.T) {
	m := NewManager(&fakeClient{}, nil, DefaultConfig())

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{5, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := m.backoffDelay(tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestConnectWithoutSessionIsNoop(t *testing.T) {
	m := NewManager(&fakeClient{}, nil, testConfig())

	m.Connect()

	if got := m.Snapshot().ConnectionState; got != domain.StateDisconnected {
		t.Errorf("ConnectionState = %v, want disconnected", got)
	}
}

func TestReconnectExhaustionEntersFallback(t *testing.T) {
	client := &fakeClient{}
	m := newTestManager(client, testConfig(), 7)

	m.Connect()

	waitFor(t, 5*time.Second, func() bool {
		s := m.Snapshot()
		return s.ConnectionState == domain.StateError && s.IsUsingFallback
	})

	s := m.Snapshot()
	if s.ReconnectAttempts != 5 {
		t.Errorf("ReconnectAttempts = %d, want 5", s.ReconnectAttempts)
	}
	if s.Error == "" {
		t.Error("expected a surfaced error after exhausting reconnects")
	}
}

func TestFallbackModeDrainsQueueOnSend(t *testing.T) {
	client := &fakeClient{}
	m := newTestManager(client, testConfig(), 7)
	m.mu.Lock()
	m.state.ConnectionState = domain.StateError
	m.state.IsUsingFallback = true
	m.mu.Unlock()

	m.SendMessage("can you do 18500?", domain.MessageTypeCounterOffer)

	waitFor(t, 2*time.Second, func() bool {
		s := m.Snapshot()
		return len(s.MessageQueue) == 0 && len(s.Messages) == 2
	})
}

func TestDisconnectIsIdempotent(t *testing.T) {
	m := newTestManager(&fakeClient{}, testConfig(), 7)

	m.Disconnect()
	m.Disconnect()

	if got := m.Snapshot().ConnectionState; got != domain.StateDisconnected {
		t.Errorf("ConnectionState = %v, want disconnected", got)
	}
}

func TestErrorAutoClears(t *testing.T) {
	cfg := testConfig()
	cfg.ErrorDisplayDuration = 20 * time.Millisecond
	m := newTestManager(&fakeClient{}, cfg, 7)

	m.mu.Lock()
	m.setErrorLocked("transient failure")
	m.mu.Unlock()

	if m.Snapshot().Error == "" {
		t.Fatal("error should be visible immediately after being set")
	}
	waitFor(t, time.Second, func() bool {
		return m.Snapshot().Error == ""
	})
}

func TestResetChatClearsEverything(t *testing.T) {
	m := newTestManager(&fakeClient{}, testConfig(), 7)
	m.mu.Lock()
	m.mergeIncomingLocked(domain.Message{ID: 1, CreatedAt: baseTime})
	m.setErrorLocked("boom")
	m.state.MessageQueue = append(m.state.MessageQueue, domain.QueuedMessage{ID: "q1"})
	m.mu.Unlock()

	m.ResetChat()

	s := m.Snapshot()
	if s.SessionID != 0 || len(s.Messages) != 0 || len(s.MessageQueue) != 0 || s.Error != "" {
		t.Errorf("state not reset: %+v", s)
	}
	if s.ConnectionState != domain.StateDisconnected {
		t.Errorf("ConnectionState = %v, want disconnected", s.ConnectionState)
	}
}

// Integration tests against the in-repo stub backend.

func newStubManager(t *testing.T, cfg Config) (*Manager, *stub.Server) {
	t.Helper()
	backend := stub.NewServer()
	ts := httptest.NewServer(backend.Router())
	t.Cleanup(ts.Close)

	m := NewManager(api.NewClient(ts.URL), nil, cfg)
	t.Cleanup(m.Disconnect)
	return m, backend
}

func TestConnectReceivesPushedMessage(t *testing.T) {
	m, backend := newStubManager(t, testConfig())

	m.SetSessionID(42)
	waitFor(t, 5*time.Second, func() bool {
		return m.Snapshot().ConnectionState == domain.StateConnected
	})

	backend.PushMessage(42, domain.RoleAgent, "Welcome! Ready to talk numbers?")

	waitFor(t, 5*time.Second, func() bool {
		s := m.Snapshot()
		return len(s.Messages) == 1 && s.Messages[0].ID == 1
	})
}

func TestConnectIsIdempotent(t *testing.T) {
	m, backend := newStubManager(t, testConfig())

	m.SetSessionID(42)
	waitFor(t, 5*time.Second, func() bool {
		return m.Snapshot().ConnectionState == domain.StateConnected
	})

	m.Connect()
	m.Connect()

	// Give any spurious dial time to land.
	time.Sleep(100 * time.Millisecond)
	if got := backend.SubscriberCount(42); got != 1 {
		t.Errorf("SubscriberCount = %d, want 1", got)
	}
}

func TestHistorySyncAfterConnect(t *testing.T) {
	m, backend := newStubManager(t, testConfig())
	backend.SeedMessages(42,
		domain.Message{ID: 1, SessionID: 42, Role: domain.RoleUser, Content: "hi", CreatedAt: baseTime},
		domain.Message{ID: 2, SessionID: 42, Role: domain.RoleAgent, Content: "hello", CreatedAt: baseTime.Add(time.Second)},
	)

	m.SetSessionID(42)

	waitFor(t, 5*time.Second, func() bool {
		return len(m.Snapshot().Messages) == 2
	})
}

func TestTypingIndicator(t *testing.T) {
	m, backend := newStubManager(t, testConfig())

	m.SetSessionID(42)
	waitFor(t, 5*time.Second, func() bool {
		return m.Snapshot().ConnectionState == domain.StateConnected
	})

	backend.SetTyping(42, true)
	waitFor(t, 5*time.Second, func() bool {
		return m.Snapshot().IsTyping
	})

	backend.SetTyping(42, false)
	waitFor(t, 5*time.Second, func() bool {
		return !m.Snapshot().IsTyping
	})
}

func TestMalformedFramesDoNotKillChannel(t *testing.T) {
	m, backend := newStubManager(t, testConfig())

	m.SetSessionID(42)
	waitFor(t, 5*time.Second, func() bool {
		return m.Snapshot().ConnectionState == domain.StateConnected
	})

	backend.PushRaw(42, []byte("{not json at all"))
	backend.PushRaw(42, []byte(`{"type":"price_alert","is_typing":true}`))
	backend.PushRaw(42, []byte(`{"type":"new_message","message":"not an object"}`))

	// The channel must survive all three and keep delivering.
	backend.PushMessage(42, domain.RoleAgent, "still with you")

	waitFor(t, 5*time.Second, func() bool {
		s := m.Snapshot()
		return len(s.Messages) == 1 && s.Messages[0].Content == "still with you"
	})
	s := m.Snapshot()
	if s.ConnectionState != domain.StateConnected {
		t.Errorf("ConnectionState = %v, want connected", s.ConnectionState)
	}
	if s.IsTyping || s.Error != "" {
		t.Errorf("garbage frames leaked into state: typing=%v error=%q", s.IsTyping, s.Error)
	}
}

func TestHeartbeatPingsWhileConnected(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	m, backend := newStubManager(t, cfg)

	m.SetSessionID(42)
	waitFor(t, 5*time.Second, func() bool {
		return backend.PingCount() >= 2
	})

	m.Disconnect()
	time.Sleep(50 * time.Millisecond)
	before := backend.PingCount()
	time.Sleep(50 * time.Millisecond)
	if got := backend.PingCount(); got != before {
		t.Errorf("pings kept flowing after disconnect: %d -> %d", before, got)
	}
}

func TestManualReconnect(t *testing.T) {
	m, backend := newStubManager(t, testConfig())

	m.SetSessionID(42)
	waitFor(t, 5*time.Second, func() bool {
		return m.Snapshot().ConnectionState == domain.StateConnected
	})

	m.ManualReconnect()

	waitFor(t, 5*time.Second, func() bool {
		s := m.Snapshot()
		return s.ConnectionState == domain.StateConnected && s.ReconnectAttempts == 0
	})
	waitFor(t, 5*time.Second, func() bool {
		return backend.SubscriberCount(42) == 1
	})
}

func TestDirectSendMergesExchange(t *testing.T) {
	m, _ := newStubManager(t, testConfig())

	m.SetSessionID(42)
	waitFor(t, 5*time.Second, func() bool {
		return m.Snapshot().ConnectionState == domain.StateConnected
	})

	m.SendMessage("I can do 19000 out the door", domain.MessageTypeCounterOffer)

	waitFor(t, 5*time.Second, func() bool {
		return len(m.Snapshot().Messages) >= 2
	})
	s := m.Snapshot()
	for i := 1; i < len(s.Messages); i++ {
		if s.Messages[i].CreatedAt.Before(s.Messages[i-1].CreatedAt) {
			t.Fatalf("messages out of order at %d: %+v", i, s.Messages)
		}
	}
}

func TestSessionChangeTearsDownOldSession(t *testing.T) {
	m, backend := newStubManager(t, testConfig())

	m.SetSessionID(42)
	waitFor(t, 5*time.Second, func() bool {
		return m.Snapshot().ConnectionState == domain.StateConnected
	})
	backend.PushMessage(42, domain.RoleAgent, "hello 42")
	waitFor(t, 5*time.Second, func() bool {
		return len(m.Snapshot().Messages) == 1
	})

	m.SetSessionID(43)

	waitFor(t, 5*time.Second, func() bool {
		s := m.Snapshot()
		return s.SessionID == 43 && s.ConnectionState == domain.StateConnected
	})
	if got := len(m.Snapshot().Messages); got != 0 {
		t.Errorf("messages from old session survived: %d", got)
	}
	waitFor(t, 5*time.Second, func() bool {
		return backend.SubscriberCount(42) == 0 && backend.SubscriberCount(43) == 1
	})
}
