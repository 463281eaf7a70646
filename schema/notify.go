package schema

// TabEventType describes tab lifecycle or state changes.
type TabEventType string

const (
	// TabEventCreated indicates a tab was created.
	TabEventCreated TabEventType = "created"
	// TabEventClosed indicates a tab was closed.
	TabEventClosed TabEventType = "closed"
	// TabEventSwitched indicates a tab became current.
	TabEventSwitched TabEventType = "switched"
	// TabEventUpdated indicates tab fields changed.
	TabEventUpdated TabEventType = "updated"
	// TabEventQueryStarted indicates an execution was dispatched.
	TabEventQueryStarted TabEventType = "query_started"
	// TabEventQueryResult indicates a result was written back.
	TabEventQueryResult TabEventType = "query_result"
)

// TabEvent represents a change to a tab or tab list.
type TabEvent struct {
	UserID    UserID       `json:"user_id"`
	Type      TabEventType `json:"type"`
	Tab       TabSnapshot  `json:"tab"`
	ActiveTab TabID        `json:"active_tab,omitempty"`
}

// TerminalEvent reports a terminal item change.
type TerminalEvent struct {
	UserID  UserID    `json:"user_id"`
	TabID   TabID     `json:"tab_id"`
	Item    QueryItem `json:"item"`
	Cleared bool      `json:"cleared,omitempty"`
}

// HistoryEvent reports a refreshed history page.
type HistoryEvent struct {
	UserID  UserID          `json:"user_id"`
	History HistorySnapshot `json:"history"`
}
