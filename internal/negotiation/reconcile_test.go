package negotiation

import (
	"errors"
	"testing"
	"time"

	"github.com/Raviteja77/autodealgenie-sub000/internal/domain"
)

func msgAt(id int64, offset time.Duration) domain.Message {
	return domain.Message{ID: id, SessionID: 42, CreatedAt: baseTime.Add(offset)}
}

func messageIDs(m *Manager) []int64 {
	s := m.Snapshot()
	ids := make([]int64, len(s.Messages))
	for i, msg := range s.Messages {
		ids[i] = msg.ID
	}
	return ids
}

func TestMergeIncomingDeduplicates(t *testing.T) {
	m := newTestManager(&fakeClient{}, testConfig(), 42)

	m.mu.Lock()
	first := m.mergeIncomingLocked(msgAt(1, 0))
	second := m.mergeIncomingLocked(msgAt(1, time.Hour))
	m.mu.Unlock()

	if !first || second {
		t.Errorf("merge results = %v, %v; want true, false", first, second)
	}
	if got := len(m.Snapshot().Messages); got != 1 {
		t.Errorf("message count = %d, want 1", got)
	}
}

func TestMergeKeepsTimestampOrder(t *testing.T) {
	m := newTestManager(&fakeClient{}, testConfig(), 42)

	m.mu.Lock()
	m.mergeIncomingLocked(msgAt(3, 30*time.Second))
	m.mergeIncomingLocked(msgAt(1, 10*time.Second))
	m.mergeIncomingLocked(msgAt(4, 40*time.Second))
	m.mergeIncomingLocked(msgAt(2, 20*time.Second))
	m.mu.Unlock()

	want := []int64{1, 2, 3, 4}
	got := messageIDs(m)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestMergeEqualTimestampsKeepInsertionOrder(t *testing.T) {
	m := newTestManager(&fakeClient{}, testConfig(), 42)

	m.mu.Lock()
	m.mergeIncomingLocked(msgAt(10, time.Minute))
	m.mergeIncomingLocked(msgAt(11, time.Minute))
	m.mergeIncomingLocked(msgAt(12, time.Minute))
	m.mu.Unlock()

	got := messageIDs(m)
	want := []int64{10, 11, 12}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestMergePairSkipsMessagesAlreadyPushed(t *testing.T) {
	m := newTestManager(&fakeClient{}, testConfig(), 42)

	// The realtime push for the user's turn arrived before the
	// request/response reply.
	m.mu.Lock()
	m.mergeIncomingLocked(msgAt(1, time.Second))
	added := m.mergePairLocked(domain.ChatExchange{
		UserMessage:  msgAt(1, time.Second),
		AgentMessage: msgAt(2, 2*time.Second),
	})
	m.mu.Unlock()

	if len(added) != 1 || added[0].ID != 2 {
		t.Errorf("added = %+v, want only id 2", added)
	}
	if got := len(m.Snapshot().Messages); got != 2 {
		t.Errorf("message count = %d, want 2", got)
	}
}

func TestSyncHistoryAppendsOnlyNewer(t *testing.T) {
	client := &fakeClient{
		history: []domain.Message{
			msgAt(1, 10*time.Second),
			msgAt(2, 20*time.Second),
			msgAt(3, 30*time.Second),
		},
	}
	m := newTestManager(client, testConfig(), 42)
	m.mu.Lock()
	m.mergeIncomingLocked(msgAt(1, 10*time.Second))
	m.mergeIncomingLocked(msgAt(2, 20*time.Second))
	g := m.gen
	m.mu.Unlock()

	m.syncHistory(g, 42)

	got := messageIDs(m)
	want := []int64{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids = %v, want %v", got, want)
		}
	}
}

func TestSyncHistoryUsesLastSyncTimestampWhenEmpty(t *testing.T) {
	client := &fakeClient{
		history: []domain.Message{
			msgAt(1, 10*time.Second),
			msgAt(2, 20*time.Second),
		},
	}
	m := newTestManager(client, testConfig(), 42)
	m.mu.Lock()
	m.lastSyncAt = baseTime.Add(15 * time.Second)
	g := m.gen
	m.mu.Unlock()

	m.syncHistory(g, 42)

	got := messageIDs(m)
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("ids = %v, want [2]", got)
	}
}

func TestSyncHistoryFailureDoesNotBlockMessages(t *testing.T) {
	client := &fakeClient{historyErr: errors.New("history unavailable")}
	m := newTestManager(client, testConfig(), 42)
	m.mu.Lock()
	g := m.gen
	m.mu.Unlock()

	m.syncHistory(g, 42)

	m.mu.Lock()
	merged := m.mergeIncomingLocked(msgAt(1, time.Second))
	m.mu.Unlock()
	if !merged {
		t.Error("merge should still work after a failed history sync")
	}
}

func TestSyncHistoryDiscardedAfterReset(t *testing.T) {
	client := &fakeClient{history: []domain.Message{msgAt(1, time.Second)}}
	m := newTestManager(client, testConfig(), 42)
	m.mu.Lock()
	g := m.gen
	m.mu.Unlock()

	m.ResetChat()
	m.syncHistory(g, 42)

	if got := len(m.Snapshot().Messages); got != 0 {
		t.Errorf("message count = %d, want 0 after reset", got)
	}
}

func TestSetMessagesSortsInput(t *testing.T) {
	m := newTestManager(&fakeClient{}, testConfig(), 42)

	m.SetMessages([]domain.Message{
		msgAt(2, 20*time.Second),
		msgAt(1, 10*time.Second),
	})

	got := messageIDs(m)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("ids = %v, want [1 2]", got)
	}
}
