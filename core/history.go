package core

import (
	"context"
	"sync"

	"pkt.systems/querydesk/schema"
	"pkt.systems/pslog"
)

// QueryHistoryStore caches the first page of remote query history. Each
// fetch replaces the list with the response verbatim.
type QueryHistoryStore struct {
	client HistoryClient

	mu        sync.Mutex
	histories []schema.QueryHistory
	fetching  bool
	fetches   int
}

// NewQueryHistoryStore constructs a history cache over client.
func NewQueryHistoryStore(client HistoryClient) *QueryHistoryStore {
	return &QueryHistoryStore{client: client}
}

// Fetch requests the first page of query-type history. On failure the
// previous list is kept. The fetching flag is cleared on every path.
func (s *QueryHistoryStore) Fetch(ctx context.Context) ([]schema.QueryHistory, error) {
	if s.client == nil {
		return nil, schema.ErrHistoryUnavailable
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.setFetching(true)
	defer s.setFetching(false)

	resp, err := s.client.SearchQueryHistories(ctx, schema.SearchQueryHistoriesRequest{
		PageSize: schema.QueryHistoryPageSize,
		Filter:   schema.QueryHistoryFilterQuery,
	})
	if err != nil {
		remoteErr := AsRemoteError("search_query_histories", err)
		pslog.Ctx(ctx).Warn("history fetch failed", "kind", remoteErr.Kind, "err", remoteErr)
		return nil, remoteErr
	}
	histories := append([]schema.QueryHistory{}, resp.QueryHistories...)
	s.mu.Lock()
	s.histories = histories
	s.fetches++
	s.mu.Unlock()
	pslog.Ctx(ctx).Debug("history fetch ok", "histories", len(histories))
	return append([]schema.QueryHistory(nil), histories...), nil
}

// List returns a copy of the cached page.
func (s *QueryHistoryStore) List() []schema.QueryHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.QueryHistory(nil), s.histories...)
}

// IsFetching reports whether a fetch is in flight.
func (s *QueryHistoryStore) IsFetching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetching
}

// Snapshot returns a transport view of the cache.
func (s *QueryHistoryStore) Snapshot() schema.HistorySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return schema.HistorySnapshot{
		Histories: append([]schema.QueryHistory{}, s.histories...),
		Fetching:  s.fetching,
	}
}

func (s *QueryHistoryStore) setFetching(value bool) {
	s.mu.Lock()
	s.fetching = value
	s.mu.Unlock()
}
