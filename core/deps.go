package core

import (
	"context"

	"pkt.systems/querydesk/internal/persist"
	"pkt.systems/querydesk/schema"
	"pkt.systems/pslog"
)

// SQLClient executes statements on the remote SQL execution service.
type SQLClient interface {
	Query(ctx context.Context, req schema.QueryRequest) (schema.QueryResponse, error)
}

// HistoryClient searches the remote query-history service.
type HistoryClient interface {
	SearchQueryHistories(ctx context.Context, req schema.SearchQueryHistoriesRequest) (schema.SearchQueryHistoriesResponse, error)
}

// SnapshotStore persists tab state per user across restarts.
type SnapshotStore interface {
	Load(userID schema.UserID) (persist.UserSnapshot, bool, error)
	Save(userID schema.UserID, snapshot persist.UserSnapshot) error
}

// ServiceDeps captures optional dependencies for the core service.
type ServiceDeps struct {
	SQL       SQLClient
	History   HistoryClient
	Snapshots SnapshotStore
	EventSink EventSink
	Logger    pslog.Logger
}
