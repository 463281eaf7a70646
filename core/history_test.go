package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"pkt.systems/querydesk/schema"
)

type fakeHistoryClient struct {
	mu       sync.Mutex
	requests []schema.SearchQueryHistoriesRequest
	replies  []fakeHistoryReply
	observe  func()
}

type fakeHistoryReply struct {
	histories []schema.QueryHistory
	err       error
}

func (f *fakeHistoryClient) SearchQueryHistories(_ context.Context, req schema.SearchQueryHistoriesRequest) (schema.SearchQueryHistoriesResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	reply := fakeHistoryReply{}
	if len(f.replies) > 0 {
		reply = f.replies[0]
		f.replies = f.replies[1:]
	}
	observe := f.observe
	f.mu.Unlock()
	if observe != nil {
		observe()
	}
	return schema.SearchQueryHistoriesResponse{QueryHistories: reply.histories}, reply.err
}

func (f *fakeHistoryClient) Requests() []schema.SearchQueryHistoriesRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]schema.SearchQueryHistoriesRequest(nil), f.requests...)
}

func TestHistoryFetchReplacesList(t *testing.T) {
	client := &fakeHistoryClient{replies: []fakeHistoryReply{
		{histories: []schema.QueryHistory{{Name: "h1"}, {Name: "h2"}}},
		{histories: []schema.QueryHistory{{Name: "h3"}}},
	}}
	store := NewQueryHistoryStore(client)
	if _, err := store.Fetch(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, err := store.Fetch(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	list := store.List()
	if len(list) != 1 || list[0].Name != "h3" {
		t.Fatalf("expected last fetch to win, got %+v", list)
	}
	req := client.Requests()[0]
	if req.PageSize != 20 || req.Filter != `type == "QUERY"` {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestHistoryFetchFailureResetsFlag(t *testing.T) {
	client := &fakeHistoryClient{replies: []fakeHistoryReply{
		{histories: []schema.QueryHistory{{Name: "h1"}}},
		{histories: []schema.QueryHistory{{Name: "partial"}}, err: errors.New("unavailable")},
	}}
	store := NewQueryHistoryStore(client)
	var sawFetching bool
	client.observe = func() { sawFetching = store.IsFetching() }
	if _, err := store.Fetch(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !sawFetching {
		t.Fatalf("expected fetching flag during the request")
	}
	_, err := store.Fetch(context.Background())
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if store.IsFetching() {
		t.Fatalf("expected fetching flag cleared after failure")
	}
	list := store.List()
	if len(list) != 1 || list[0].Name != "h1" {
		t.Fatalf("expected previous list untouched, got %+v", list)
	}
}

func TestHistoryFetchWithoutClient(t *testing.T) {
	store := NewQueryHistoryStore(nil)
	if _, err := store.Fetch(context.Background()); !errors.Is(err, schema.ErrHistoryUnavailable) {
		t.Fatalf("expected ErrHistoryUnavailable, got %v", err)
	}
	if store.IsFetching() {
		t.Fatalf("expected fetching flag to stay clear")
	}
}
