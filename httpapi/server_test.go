package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pkt.systems/querydesk/core"
	"pkt.systems/querydesk/internal/sqlmock"
	"pkt.systems/querydesk/schema"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	backend := sqlmock.New()
	t.Cleanup(func() { _ = backend.Close() })
	hub := NewHub(100)
	svc, err := core.NewService(schema.ServiceConfig{
		DefaultConnection:     "instances/test/databases/app",
		DisableHistoryRefresh: true,
	}, core.ServiceDeps{SQL: backend, History: backend, EventSink: hub})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return NewServer(cfg, svc, hub)
}

func doJSON(t *testing.T, handler http.Handler, method, path, user string, body any) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec.Code, out
}

func TestTabsCreateListUpdate(t *testing.T) {
	handler := newTestServer(t, Config{}).Handler()
	code, created := doJSON(t, handler, http.MethodPost, "/api/tabs", "alice", map[string]any{"label": "Report"})
	if code != http.StatusOK {
		t.Fatalf("create: %d %v", code, created)
	}
	tab := created["tab"].(map[string]any)
	tabID := tab["id"].(string)
	if tab["label"] != "Report" || tab["active"] != true {
		t.Fatalf("unexpected tab: %v", tab)
	}

	code, updated := doJSON(t, handler, http.MethodPost, "/api/tabs/update", "alice", map[string]any{
		"tab_id":          tabID,
		"query_statement": "select 1",
	})
	if code != http.StatusOK {
		t.Fatalf("update: %d %v", code, updated)
	}
	if got := updated["tab"].(map[string]any); got["query_statement"] != "select 1" || got["is_saved"] != false {
		t.Fatalf("unexpected updated tab: %v", got)
	}

	code, saved := doJSON(t, handler, http.MethodPost, "/api/tabs/save", "alice", map[string]any{"tab_id": tabID})
	if code != http.StatusOK || saved["tab"].(map[string]any)["is_saved"] != true {
		t.Fatalf("save: %d %v", code, saved)
	}

	code, listed := doJSON(t, handler, http.MethodGet, "/api/tabs", "alice", nil)
	if code != http.StatusOK {
		t.Fatalf("list: %d", code)
	}
	if tabs := listed["tabs"].([]any); len(tabs) != 1 || listed["active_tab"] != tabID {
		t.Fatalf("unexpected list: %v", listed)
	}

	code, _ = doJSON(t, handler, http.MethodGet, "/api/tabs", "bob", nil)
	if code != http.StatusOK {
		t.Fatalf("bob list: %d", code)
	}
}

func TestTabErrorsMapToStatus(t *testing.T) {
	handler := newTestServer(t, Config{}).Handler()
	_, created := doJSON(t, handler, http.MethodPost, "/api/tabs", "alice", map[string]any{})
	tabID := created["tab"].(map[string]any)["id"].(string)

	if code, _ := doJSON(t, handler, http.MethodPost, "/api/tabs/rename", "alice", map[string]any{"tab_id": tabID, "label": "   "}); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank label, got %d", code)
	}
	if code, _ := doJSON(t, handler, http.MethodPost, "/api/tabs/close", "alice", map[string]any{"tab_id": "missing"}); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown tab, got %d", code)
	}
	if code, _ := doJSON(t, handler, http.MethodPost, "/api/tabs/switch", "alice", `{"tab_id":"x","extra":1}`); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", code)
	}
	if code, _ := doJSON(t, handler, http.MethodDelete, "/api/tabs", "alice", nil); code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", code)
	}
}

func TestRequireUser(t *testing.T) {
	handler := newTestServer(t, Config{}).Handler()
	if code, _ := doJSON(t, handler, http.MethodGet, "/api/tabs", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without user, got %d", code)
	}
	if code, _ := doJSON(t, handler, http.MethodGet, "/api/tabs", "Not Valid", nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid user, got %d", code)
	}

	fallback := newTestServer(t, Config{DefaultUser: "local"}).Handler()
	if code, _ := doJSON(t, fallback, http.MethodGet, "/api/tabs", "", nil); code != http.StatusOK {
		t.Fatalf("expected default user to be used, got %d", code)
	}
}

func TestQueryWritesResultToTab(t *testing.T) {
	handler := newTestServer(t, Config{}).Handler()
	_, created := doJSON(t, handler, http.MethodPost, "/api/tabs", "alice", map[string]any{"statement": "select 1 as one"})
	tabID := created["tab"].(map[string]any)["id"].(string)

	code, resp := doJSON(t, handler, http.MethodPost, "/api/query", "alice", map[string]any{"tab_id": tabID, "limit": 10})
	if code != http.StatusOK {
		t.Fatalf("query: %d %v", code, resp)
	}
	if resp["applied"] != true {
		t.Fatalf("expected applied result, got %v", resp)
	}
	result := resp["result"].(map[string]any)
	results := result["results"].([]any)
	rows := results[0].(map[string]any)["rows"].([]any)
	if rows[0].(map[string]any)["one"] != float64(1) {
		t.Fatalf("unexpected rows: %v", rows)
	}
	tab := resp["tab"].(map[string]any)
	if tab["running"] != false || tab["query_result"] == nil {
		t.Fatalf("expected tab to carry the result, got %v", tab)
	}

	if code, _ := doJSON(t, handler, http.MethodPost, "/api/query", "alice", map[string]any{"tab_id": tabID, "format": "xml"}); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad format, got %d", code)
	}
	if code, _ := doJSON(t, handler, http.MethodPost, "/api/query", "alice", map[string]any{"tab_id": tabID, "limit": -1}); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative limit, got %d", code)
	}

	code, canceled := doJSON(t, handler, http.MethodPost, "/api/query/cancel", "alice", map[string]any{"tab_id": tabID})
	if code != http.StatusOK || canceled["canceled"] != false {
		t.Fatalf("expected idle cancel, got %d %v", code, canceled)
	}
}

func TestTerminalRunGetClear(t *testing.T) {
	handler := newTestServer(t, Config{}).Handler()
	_, created := doJSON(t, handler, http.MethodPost, "/api/tabs", "alice", map[string]any{})
	tabID := created["tab"].(map[string]any)["id"].(string)

	code, resp := doJSON(t, handler, http.MethodPost, "/api/terminal", "alice", map[string]any{"tab_id": tabID, "statement": "select 2 as two"})
	if code != http.StatusOK {
		t.Fatalf("terminal run: %d %v", code, resp)
	}
	item := resp["item"].(map[string]any)
	if item["status"] != string(schema.QueryItemSuccess) || item["sql"] != "select 2 as two" {
		t.Fatalf("unexpected item: %v", item)
	}

	code, got := doJSON(t, handler, http.MethodGet, "/api/terminal?tab_id="+tabID, "alice", nil)
	if code != http.StatusOK {
		t.Fatalf("terminal get: %d", code)
	}
	items := got["terminal"].(map[string]any)["items"].([]any)
	if len(items) < 2 {
		t.Fatalf("expected finished item plus prompt, got %v", items)
	}

	if code, _ := doJSON(t, handler, http.MethodDelete, "/api/terminal?tab_id="+tabID, "alice", nil); code != http.StatusOK {
		t.Fatalf("terminal clear: %d", code)
	}
}

func TestHistoryFetch(t *testing.T) {
	handler := newTestServer(t, Config{}).Handler()
	_, created := doJSON(t, handler, http.MethodPost, "/api/tabs", "alice", map[string]any{"statement": "select 3"})
	tabID := created["tab"].(map[string]any)["id"].(string)
	if code, _ := doJSON(t, handler, http.MethodPost, "/api/query", "alice", map[string]any{"tab_id": tabID}); code != http.StatusOK {
		t.Fatalf("query: %d", code)
	}
	code, resp := doJSON(t, handler, http.MethodPost, "/api/history", "alice", nil)
	if code != http.StatusOK {
		t.Fatalf("history fetch: %d %v", code, resp)
	}
	histories := resp["history"].(map[string]any)["histories"].([]any)
	if len(histories) != 1 || histories[0].(map[string]any)["statement"] != "select 3" {
		t.Fatalf("unexpected histories: %v", histories)
	}
	code, listed := doJSON(t, handler, http.MethodGet, "/api/history", "alice", nil)
	if code != http.StatusOK || len(listed["history"].(map[string]any)["histories"].([]any)) != 1 {
		t.Fatalf("expected cached history, got %d %v", code, listed)
	}
}

func TestBasePathRouting(t *testing.T) {
	handler := newTestServer(t, Config{BasePath: "/qd/"}).Handler()
	if code, _ := doJSON(t, handler, http.MethodGet, "/qd/api/tabs", "alice", nil); code != http.StatusOK {
		t.Fatalf("expected prefixed route, got %d", code)
	}
	req := httptest.NewRequest(http.MethodGet, "/qd", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTemporaryRedirect || rec.Header().Get("Location") != "/qd/" {
		t.Fatalf("expected redirect, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestStreamSnapshotThenEvents(t *testing.T) {
	server := newTestServer(t, Config{})
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set(UserHeader, "alice")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	reader := bufio.NewReader(resp.Body)
	first := readStreamEvent(t, reader)
	if first.Type != StreamSnapshot || first.Snapshot == nil {
		t.Fatalf("expected snapshot first, got %+v", first)
	}

	create := httptest.NewRequest(http.MethodPost, "/api/tabs", strings.NewReader(`{"label":"Live"}`))
	create.Header.Set(UserHeader, "alice")
	server.Handler().ServeHTTP(httptest.NewRecorder(), create)

	event := readStreamEvent(t, reader)
	if event.Type != StreamTab || event.TabEvent != schema.TabEventCreated || event.Tab == nil || event.Tab.Label != "Live" {
		t.Fatalf("unexpected live event: %+v", event)
	}
	if event.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", event.Seq)
	}
}

func readStreamEvent(t *testing.T, reader *bufio.Reader) StreamEvent {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		data, ok := strings.CutPrefix(strings.TrimRight(line, "\n"), "data: ")
		if !ok {
			continue
		}
		var event StreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return event
	}
}
