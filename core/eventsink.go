package core

import "pkt.systems/querydesk/schema"

// EventSink receives tab, terminal and history events from the core service.
type EventSink interface {
	OnTabEvent(event schema.TabEvent)
	OnTerminalEvent(event schema.TerminalEvent)
	OnHistoryEvent(event schema.HistoryEvent)
}
