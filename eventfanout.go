package querydesk

import (
	"pkt.systems/querydesk/core"
	"pkt.systems/querydesk/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnTabEvent(event schema.TabEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnTabEvent(event)
	}
}

func (f eventFanout) OnTerminalEvent(event schema.TerminalEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnTerminalEvent(event)
	}
}

func (f eventFanout) OnHistoryEvent(event schema.HistoryEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnHistoryEvent(event)
	}
}
