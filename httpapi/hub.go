package httpapi

import (
	"context"
	"sync"
	"time"

	"pkt.systems/querydesk/internal/logx"
	"pkt.systems/querydesk/schema"
)

// Stream event types.
const (
	StreamSnapshot = "snapshot"
	StreamTab      = "tab"
	StreamTerminal = "terminal"
	StreamHistory  = "history"
)

// StreamEvent is sent to SSE clients.
type StreamEvent struct {
	Seq       uint64                  `json:"seq"`
	Type      string                  `json:"type"`
	TabEvent  schema.TabEventType     `json:"tab_event,omitempty"`
	TabID     schema.TabID            `json:"tab_id,omitempty"`
	Tab       *schema.TabSnapshot     `json:"tab,omitempty"`
	ActiveTab schema.TabID            `json:"active_tab,omitempty"`
	Item      *schema.QueryItem       `json:"item,omitempty"`
	Cleared   bool                    `json:"cleared,omitempty"`
	History   *schema.HistorySnapshot `json:"history,omitempty"`
	Snapshot  *SnapshotPayload        `json:"snapshot,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

// SnapshotPayload seeds client state on connect.
type SnapshotPayload struct {
	Tabs      []schema.TabSnapshot                     `json:"tabs"`
	ActiveTab schema.TabID                             `json:"active_tab"`
	Terminals map[schema.TabID]schema.TerminalSnapshot `json:"terminals"`
	History   schema.HistorySnapshot                   `json:"history"`
}

// Hub broadcasts events per user and keeps a bounded replay window.
type Hub struct {
	mu          sync.Mutex
	users       map[schema.UserID]*userHub
	historySize int
	now         func() time.Time
}

// NewHub constructs a hub with the given history size.
func NewHub(historySize int) *Hub {
	if historySize <= 0 {
		historySize = 500
	}
	return &Hub{
		users:       make(map[schema.UserID]*userHub),
		historySize: historySize,
		now:         time.Now,
	}
}

// OnTabEvent implements core.EventSink.
func (h *Hub) OnTabEvent(event schema.TabEvent) {
	log := logx.WithUserTab(context.Background(), event.UserID, event.Tab.ID)
	log.Trace("hub tab event", "type", event.Type, "active", event.ActiveTab)
	tab := event.Tab
	h.publish(event.UserID, StreamEvent{
		Type:      StreamTab,
		TabEvent:  event.Type,
		TabID:     tab.ID,
		Tab:       &tab,
		ActiveTab: event.ActiveTab,
	})
}

// OnTerminalEvent implements core.EventSink.
func (h *Hub) OnTerminalEvent(event schema.TerminalEvent) {
	log := logx.WithUserTab(context.Background(), event.UserID, event.TabID)
	log.Trace("hub terminal event", "item", event.Item.ID, "status", event.Item.Status, "cleared", event.Cleared)
	stream := StreamEvent{
		Type:    StreamTerminal,
		TabID:   event.TabID,
		Cleared: event.Cleared,
	}
	if event.Item.ID != "" {
		item := event.Item
		stream.Item = &item
	}
	h.publish(event.UserID, stream)
}

// OnHistoryEvent implements core.EventSink.
func (h *Hub) OnHistoryEvent(event schema.HistoryEvent) {
	logx.WithUser(context.Background(), event.UserID).Trace("hub history event", "histories", len(event.History.Histories))
	history := event.History
	h.publish(event.UserID, StreamEvent{
		Type:    StreamHistory,
		History: &history,
	})
}

// Subscribe registers a subscriber for a user. It returns the current
// sequence so callers can tell replayed events from live ones.
func (h *Hub) Subscribe(userID schema.UserID) (<-chan StreamEvent, func(), uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	uh := h.getOrCreateUserHubLocked(userID)
	ch := make(chan StreamEvent, 256)
	uh.subs[ch] = struct{}{}
	seq := uh.seq
	log := logx.WithUser(context.Background(), userID)
	log.Info("hub subscribe", "subs", len(uh.subs), "seq", seq)
	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(uh.subs, ch)
			close(ch)
			remaining := len(uh.subs)
			h.mu.Unlock()
			log.Info("hub unsubscribe", "subs", remaining)
		})
	}
	return ch, unsub, seq
}

// Replay returns retained events with after < seq <= upTo.
func (h *Hub) Replay(userID schema.UserID, after, upTo uint64) []StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	uh := h.users[userID]
	if uh == nil {
		return nil
	}
	events := make([]StreamEvent, 0, len(uh.history))
	for _, event := range uh.history {
		if event.Seq > after && event.Seq <= upTo {
			events = append(events, event)
		}
	}
	logx.WithUser(context.Background(), userID).Debug("hub replay", "after", after, "count", len(events))
	return events
}

// publish delivers under the lock so a concurrent unsubscribe cannot close a
// channel mid-send. Slow subscribers lose events instead of blocking.
func (h *Hub) publish(userID schema.UserID, event StreamEvent) {
	h.mu.Lock()
	uh := h.getOrCreateUserHubLocked(userID)
	uh.seq++
	event.Seq = uh.seq
	event.Timestamp = h.now()
	uh.history = append(uh.history, event)
	if len(uh.history) > h.historySize {
		uh.history = uh.history[len(uh.history)-h.historySize:]
	}
	dropped := 0
	for sub := range uh.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	h.mu.Unlock()

	if dropped > 0 {
		logx.WithUser(context.Background(), userID).Warn("hub event dropped", "type", event.Type, "dropped", dropped)
	}
}

func (h *Hub) getOrCreateUserHubLocked(userID schema.UserID) *userHub {
	uh := h.users[userID]
	if uh == nil {
		uh = &userHub{
			subs: make(map[chan StreamEvent]struct{}),
		}
		h.users[userID] = uh
	}
	return uh
}

type userHub struct {
	seq     uint64
	history []StreamEvent
	subs    map[chan StreamEvent]struct{}
}
