package eventbus

import (
	"context"
	"sync"
	"sync/atomic"

	"pkt.systems/querydesk/schema"
	"pkt.systems/pslog"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventTab carries tab lifecycle and query updates.
	EventTab EventType = "tab"
	// EventTerminal carries web terminal item updates.
	EventTerminal EventType = "terminal"
	// EventHistory carries query history refreshes.
	EventHistory EventType = "history"
)

// Event represents a UI-facing event emitted by the core service.
type Event struct {
	Type     EventType
	Tab      schema.TabEvent
	Terminal schema.TerminalEvent
	History  schema.HistoryEvent
}

// Bus fans events out to per-user subscribers. Publishing never blocks: a
// subscriber with a full buffer misses the event.
type Bus struct {
	mu      sync.Mutex
	subs    map[schema.UserID]map[chan Event]struct{}
	log     pslog.Logger
	depth   int
	dropped atomic.Int64
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.UserID]map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the user and returns a channel + cancel.
// Cancel is safe to call more than once.
func (b *Bus) Subscribe(userID schema.UserID) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	userSubs := b.subs[userID]
	if userSubs == nil {
		userSubs = make(map[chan Event]struct{})
		b.subs[userID] = userSubs
	}
	userSubs[ch] = struct{}{}
	count := len(userSubs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.With("user", userID).Debug("eventbus subscribe", "subs", count)
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subs[userID]; subs != nil {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subs, userID)
				}
			}
			close(ch)
			b.mu.Unlock()
			if b.log != nil {
				b.log.With("user", userID).Debug("eventbus unsubscribe")
			}
		})
	}
}

// Dropped returns the number of deliveries skipped because a subscriber was full.
func (b *Bus) Dropped() int64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

// OnTabEvent publishes a tab event.
func (b *Bus) OnTabEvent(event schema.TabEvent) {
	b.publish(event.UserID, Event{Type: EventTab, Tab: event})
}

// OnTerminalEvent publishes a terminal event.
func (b *Bus) OnTerminalEvent(event schema.TerminalEvent) {
	b.publish(event.UserID, Event{Type: EventTerminal, Terminal: event})
}

// OnHistoryEvent publishes a history event.
func (b *Bus) OnHistoryEvent(event schema.HistoryEvent) {
	b.publish(event.UserID, Event{Type: EventHistory, History: event})
}

// publish delivers under the lock so cancel never closes a channel mid-send.
func (b *Bus) publish(userID schema.UserID, event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	dropped := 0
	for sub := range b.subs[userID] {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 {
		b.dropped.Add(int64(dropped))
		if b.log != nil {
			b.log.With("user", userID).Trace("eventbus dropped", "type", event.Type, "count", dropped)
		}
	}
}
