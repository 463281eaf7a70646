package schema

import "time"

// UserID identifies a user in the system.
type UserID string

// TabID identifies an editor tab.
type TabID string

// QueryID identifies one dispatched query request.
type QueryID string

// QueryItemID identifies an entry in a terminal query list.
type QueryItemID string

// ConnectionTarget names the database a statement runs against,
// e.g. "instances/prod/databases/app".
type ConnectionTarget string

// QueryItemStatus is the lifecycle state of a terminal query item.
type QueryItemStatus string

const (
	// QueryItemIdle is a composed item that has not been dispatched.
	QueryItemIdle QueryItemStatus = "IDLE"
	// QueryItemRunning is an item with an in-flight request.
	QueryItemRunning QueryItemStatus = "RUNNING"
	// QueryItemSuccess is a finished item whose request succeeded.
	QueryItemSuccess QueryItemStatus = "SUCCESS"
	// QueryItemFailed is a finished item whose request failed.
	QueryItemFailed QueryItemStatus = "FAILED"
)

// Terminal reports whether the status can no longer change.
func (s QueryItemStatus) Terminal() bool {
	return s == QueryItemSuccess || s == QueryItemFailed
}

// QueryItem is one discrete entry of a terminal-mode session.
type QueryItem struct {
	ID        QueryItemID     `json:"id"`
	SQL       string          `json:"sql"`
	Status    QueryItemStatus `json:"status"`
	Result    *QueryResultSet `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// QueryResultSet is the normalized outcome of one execution as seen by a tab.
// On failure Error is set and Results and Advices are empty.
type QueryResultSet struct {
	QueryID     QueryID          `json:"query_id"`
	Statement   string           `json:"statement"`
	Connection  ConnectionTarget `json:"connection,omitempty"`
	Results     []QueryResult    `json:"results"`
	Advices     []Advice         `json:"advices"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at"`
}

// Failed reports whether the execution or any statement in it produced an error.
func (r QueryResultSet) Failed() bool {
	if r.Error != "" {
		return true
	}
	for _, result := range r.Results {
		if result.Error != "" {
			return true
		}
	}
	return false
}
