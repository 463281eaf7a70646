package schema

import "time"

// TabSnapshot is a read-only view of tab state for transports.
type TabSnapshot struct {
	ID                TabID            `json:"id"`
	Label             string           `json:"label"`
	IsSaved           bool             `json:"is_saved"`
	SavedAt           time.Time        `json:"saved_at,omitzero"`
	QueryStatement    string           `json:"query_statement"`
	SelectedStatement string           `json:"selected_statement,omitempty"`
	Connection        ConnectionTarget `json:"connection,omitempty"`
	QueryResult       *QueryResultSet  `json:"query_result,omitempty"`
	CurrentQueryID    QueryID          `json:"current_query_id,omitempty"`
	Running           bool             `json:"running"`
	Active            bool             `json:"active"`
}

// TerminalSnapshot is the console-style item list of one tab.
type TerminalSnapshot struct {
	TabID TabID       `json:"tab_id"`
	Items []QueryItem `json:"items"`
}

// HistorySnapshot is the cached page of remote query history.
type HistorySnapshot struct {
	Histories []QueryHistory `json:"histories"`
	Fetching  bool           `json:"fetching"`
}
