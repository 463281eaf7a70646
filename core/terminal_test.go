package core

import (
	"errors"
	"testing"

	"pkt.systems/querydesk/schema"
)

func TestQueryListByTabIsMemoized(t *testing.T) {
	store := NewWebTerminalStore()
	tab := TabState{ID: "t1", QueryStatement: "select 1"}
	first := store.QueryListByTab(tab)
	second := store.QueryListByTab(TabState{ID: "t1", QueryStatement: "changed"})
	if first != second {
		t.Fatalf("expected the same list instance")
	}
	items := second.Items()
	if len(items) != 1 {
		t.Fatalf("expected one seeded item, got %d", len(items))
	}
	if items[0].SQL != "select 1" || items[0].Status != schema.QueryItemIdle {
		t.Fatalf("unexpected seed item: %+v", items[0])
	}
}

func TestClearQueryListReinitializes(t *testing.T) {
	store := NewWebTerminalStore()
	tab := TabState{ID: "t1", QueryStatement: "select 1"}
	first := store.QueryListByTab(tab)
	first.Append(store.NewQueryItem("select 2", ""))
	if !store.ClearQueryListByTab("t1") {
		t.Fatalf("expected clear to report an evicted list")
	}
	if store.ClearQueryListByTab("t1") {
		t.Fatalf("expected second clear to be a no-op")
	}
	tab.QueryStatement = "select 3"
	second := store.QueryListByTab(tab)
	if first == second {
		t.Fatalf("expected a fresh list after clear")
	}
	items := second.Items()
	if len(items) != 1 || items[0].SQL != "select 3" {
		t.Fatalf("expected reseeded list, got %+v", items)
	}
}

func TestNewQueryItemAssignsFreshIDs(t *testing.T) {
	store := NewWebTerminalStore()
	a := store.NewQueryItem("select 1", "")
	b := store.NewQueryItem("select 1", schema.QueryItemRunning)
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %q and %q", a.ID, b.ID)
	}
	if a.Status != schema.QueryItemIdle || b.Status != schema.QueryItemRunning {
		t.Fatalf("unexpected statuses %s and %s", a.Status, b.Status)
	}
}

func TestQueryItemLifecycle(t *testing.T) {
	store := NewWebTerminalStore()
	list := store.QueryListByTab(TabState{ID: "t1"})
	prompt := list.Prompt("")
	if again := list.Prompt(""); again.ID != prompt.ID {
		t.Fatalf("expected trailing idle item to be reused")
	}
	if _, err := list.Finish(prompt.ID, schema.QueryResultSet{}); !errors.Is(err, schema.ErrQueryItemNotRunning) {
		t.Fatalf("expected ErrQueryItemNotRunning, got %v", err)
	}
	running, err := list.Dispatch(prompt.ID, "select 1")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if running.Status != schema.QueryItemRunning || running.SQL != "select 1" {
		t.Fatalf("unexpected running item: %+v", running)
	}
	failed, err := list.Finish(prompt.ID, schema.QueryResultSet{Error: "boom"})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if failed.Status != schema.QueryItemFailed || failed.Result == nil {
		t.Fatalf("expected failed item with result, got %+v", failed)
	}
	if _, err := list.Finish(prompt.ID, schema.QueryResultSet{}); !errors.Is(err, schema.ErrQueryItemFinalized) {
		t.Fatalf("expected ErrQueryItemFinalized, got %v", err)
	}
	if _, err := list.Dispatch(prompt.ID, ""); !errors.Is(err, schema.ErrQueryItemFinalized) {
		t.Fatalf("expected finished item to reject dispatch, got %v", err)
	}
	next := list.Prompt("")
	if next.ID == prompt.ID || next.Status != schema.QueryItemIdle {
		t.Fatalf("expected a new idle prompt, got %+v", next)
	}
	items := list.Items()
	if len(items) != 2 || items[0].ID != prompt.ID || items[1].ID != next.ID {
		t.Fatalf("expected insertion order to be kept, got %+v", items)
	}
	if items[0].Status != schema.QueryItemFailed {
		t.Fatalf("expected finished item to stay failed")
	}
}

func TestFinishStatementErrorMarksFailed(t *testing.T) {
	list := NewWebTerminalStore().QueryListByTab(TabState{ID: "t1", QueryStatement: "select 1"})
	item, _ := list.Last()
	if _, err := list.Dispatch(item.ID, ""); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	finished, err := list.Finish(item.ID, schema.QueryResultSet{Results: []schema.QueryResult{{Error: "permission denied"}}})
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if finished.Status != schema.QueryItemFailed {
		t.Fatalf("expected per-statement error to fail the item, got %s", finished.Status)
	}
	if _, err := list.Dispatch("missing", ""); !errors.Is(err, schema.ErrQueryItemNotFound) {
		t.Fatalf("expected ErrQueryItemNotFound, got %v", err)
	}
}
