package httpapi

import (
	"testing"

	"pkt.systems/querydesk/schema"
)

func TestHubPublishAndReplay(t *testing.T) {
	hub := NewHub(2)
	user := schema.UserID("alice")
	ch, unsub, seq := hub.Subscribe(user)
	defer unsub()
	if seq != 0 {
		t.Fatalf("expected fresh hub seq 0, got %d", seq)
	}
	for _, id := range []schema.TabID{"t1", "t2", "t3"} {
		hub.OnTabEvent(schema.TabEvent{UserID: user, Type: schema.TabEventCreated, Tab: schema.TabSnapshot{ID: id}, ActiveTab: id})
	}
	for want := uint64(1); want <= 3; want++ {
		event := <-ch
		if event.Seq != want || event.Type != StreamTab {
			t.Fatalf("unexpected event: %+v", event)
		}
	}
	replay := hub.Replay(user, 0, 3)
	if len(replay) != 2 || replay[0].TabID != "t2" || replay[1].TabID != "t3" {
		t.Fatalf("expected bounded replay of t2,t3, got %+v", replay)
	}
	if got := hub.Replay(user, 2, 2); len(got) != 0 {
		t.Fatalf("expected empty replay window, got %+v", got)
	}
}

func TestHubScopesUsers(t *testing.T) {
	hub := NewHub(10)
	alice, unsubAlice, _ := hub.Subscribe("alice")
	defer unsubAlice()
	bob, unsubBob, _ := hub.Subscribe("bob")
	defer unsubBob()

	hub.OnHistoryEvent(schema.HistoryEvent{UserID: "bob", History: schema.HistorySnapshot{Histories: []schema.QueryHistory{{Name: "h1"}}}})
	select {
	case event := <-alice:
		t.Fatalf("alice should not see bob's event: %+v", event)
	default:
	}
	event := <-bob
	if event.Type != StreamHistory || event.History == nil || len(event.History.Histories) != 1 {
		t.Fatalf("unexpected history event: %+v", event)
	}
}

func TestHubTerminalClearHasNoItem(t *testing.T) {
	hub := NewHub(10)
	ch, unsub, _ := hub.Subscribe("alice")
	defer unsub()
	hub.OnTerminalEvent(schema.TerminalEvent{UserID: "alice", TabID: "t1", Cleared: true})
	event := <-ch
	if event.Item != nil || !event.Cleared || event.TabID != "t1" {
		t.Fatalf("unexpected clear event: %+v", event)
	}
}

func TestHubUnsubscribeIsIdempotent(t *testing.T) {
	hub := NewHub(10)
	ch, unsub, _ := hub.Subscribe("alice")
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	hub.OnTabEvent(schema.TabEvent{UserID: "alice", Type: schema.TabEventUpdated})
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub(10)
	_, unsub, _ := hub.Subscribe("alice")
	defer unsub()
	for i := 0; i < 300; i++ {
		hub.OnTabEvent(schema.TabEvent{UserID: "alice", Type: schema.TabEventUpdated})
	}
	if got := hub.Replay("alice", 0, 300); len(got) != 10 {
		t.Fatalf("expected 10 retained events, got %d", len(got))
	}
}
