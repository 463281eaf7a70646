package schema

import "time"

// QueryHistoryType classifies a history record.
type QueryHistoryType string

const (
	// QueryHistoryQuery is an interactive query execution.
	QueryHistoryQuery QueryHistoryType = "QUERY"
	// QueryHistoryExport is a data export.
	QueryHistoryExport QueryHistoryType = "EXPORT"
)

// QueryHistoryFilterQuery restricts history searches to query executions.
const QueryHistoryFilterQuery = `type == "QUERY"`

// QueryHistoryPageSize is the page size requested on every history fetch.
const QueryHistoryPageSize = 20

// QueryHistory is a server-side record of a past execution.
type QueryHistory struct {
	Name       string           `json:"name"`
	Statement  string           `json:"statement"`
	Connection ConnectionTarget `json:"connection,omitempty"`
	Type       QueryHistoryType `json:"type"`
	Duration   time.Duration    `json:"duration"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// SearchQueryHistoriesRequest asks the history service for one page.
type SearchQueryHistoriesRequest struct {
	PageSize int
	Filter   string
}

// SearchQueryHistoriesResponse is one page of history records.
type SearchQueryHistoriesResponse struct {
	QueryHistories []QueryHistory
}
