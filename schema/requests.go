package schema

// Tab lifecycle.

// CreateTabRequest describes a request to create a tab.
type CreateTabRequest struct {
	UserID     UserID
	Label      string
	Statement  string
	Connection ConnectionTarget
}

// CreateTabResponse reports the created tab.
type CreateTabResponse struct {
	Tab TabSnapshot
}

// CloseTabRequest describes a request to close a tab.
type CloseTabRequest struct {
	UserID UserID
	TabID  TabID
}

// CloseTabResponse reports the closed tab and the tab promoted to current.
type CloseTabResponse struct {
	Tab       TabSnapshot
	ActiveTab TabID
}

// SwitchTabRequest describes a request to make a tab current.
type SwitchTabRequest struct {
	UserID UserID
	TabID  TabID
}

// SwitchTabResponse reports the now-current tab.
type SwitchTabResponse struct {
	Tab TabSnapshot
}

// ListTabsRequest describes a request to list tabs.
type ListTabsRequest struct {
	UserID UserID
}

// ListTabsResponse reports tabs in order and the current tab.
type ListTabsResponse struct {
	Tabs      []TabSnapshot
	ActiveTab TabID
}

// GetTabRequest fetches one tab.
type GetTabRequest struct {
	UserID UserID
	TabID  TabID
}

// GetTabResponse reports one tab.
type GetTabResponse struct {
	Tab TabSnapshot
}

// UpdateTabRequest shallow-merges the non-nil fields into a tab.
type UpdateTabRequest struct {
	UserID            UserID
	TabID             TabID
	QueryStatement    *string
	SelectedStatement *string
	Connection        *ConnectionTarget
}

// UpdateTabResponse reports the updated tab.
type UpdateTabResponse struct {
	Tab TabSnapshot
}

// RenameTabRequest describes a tab rename.
type RenameTabRequest struct {
	UserID UserID
	TabID  TabID
	Label  string
}

// RenameTabResponse reports the renamed tab.
type RenameTabResponse struct {
	Tab TabSnapshot
}

// SaveTabRequest marks the tab statement as the saved baseline.
type SaveTabRequest struct {
	UserID UserID
	TabID  TabID
}

// SaveTabResponse reports the saved tab.
type SaveTabResponse struct {
	Tab TabSnapshot
}

// Query execution.

// RunQueryRequest executes a statement for a tab. An empty Statement runs
// the tab selection, or the full tab statement when nothing is selected.
// Zero Limit and empty Format fall back to session preferences, then config.
type RunQueryRequest struct {
	UserID     UserID
	TabID      TabID
	Statement  string
	Connection ConnectionTarget
	Limit      int
	Format     OutputFormat
	Admin      bool
}

// RunQueryResponse reports the execution outcome. Applied is false when a
// newer execution on the same tab superseded this one.
type RunQueryResponse struct {
	QueryID QueryID
	Result  QueryResultSet
	Applied bool
	Tab     TabSnapshot
}

// CancelQueryRequest abandons the in-flight execution of a tab.
type CancelQueryRequest struct {
	UserID UserID
	TabID  TabID
}

// CancelQueryResponse reports whether an execution was in flight.
type CancelQueryResponse struct {
	QueryID  QueryID
	Canceled bool
}

// Terminal mode.

// RunTerminalQueryRequest executes a statement as a new terminal item.
type RunTerminalQueryRequest struct {
	UserID    UserID
	TabID     TabID
	Statement string
	Limit     int
	Format    OutputFormat
	Admin     bool
}

// RunTerminalQueryResponse reports the finished item and the list after it.
type RunTerminalQueryResponse struct {
	Item     QueryItem
	Terminal TerminalSnapshot
}

// GetTerminalRequest fetches a tab's terminal list.
type GetTerminalRequest struct {
	UserID UserID
	TabID  TabID
}

// GetTerminalResponse reports a tab's terminal list.
type GetTerminalResponse struct {
	Terminal TerminalSnapshot
}

// ClearTerminalRequest evicts a tab's terminal list.
type ClearTerminalRequest struct {
	UserID UserID
	TabID  TabID
}

// ClearTerminalResponse is empty.
type ClearTerminalResponse struct{}

// Query history.

// FetchQueryHistoryRequest refreshes the cached history page.
type FetchQueryHistoryRequest struct {
	UserID UserID
}

// FetchQueryHistoryResponse reports the refreshed history page.
type FetchQueryHistoryResponse struct {
	History HistorySnapshot
}

// ListQueryHistoryRequest reads the cached history page.
type ListQueryHistoryRequest struct {
	UserID UserID
}

// ListQueryHistoryResponse reports the cached history page.
type ListQueryHistoryResponse struct {
	History HistorySnapshot
}
