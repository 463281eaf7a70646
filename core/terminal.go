package core

import (
	"strings"
	"sync"
	"time"

	"pkt.systems/querydesk/schema"
)

// WebTerminalStore maps tab ids to their console-style query lists. It keeps
// no reference to the tab beyond its id.
type WebTerminalStore struct {
	mu    sync.Mutex
	lists map[schema.TabID]*QueryList
	now   func() time.Time
}

// NewWebTerminalStore constructs an empty terminal store.
func NewWebTerminalStore() *WebTerminalStore {
	return &WebTerminalStore{
		lists: make(map[schema.TabID]*QueryList),
		now:   time.Now,
	}
}

// QueryListByTab returns the list for a tab, creating it on first access
// seeded with one IDLE item holding the tab statement. Later calls return
// the same list until it is cleared.
func (s *WebTerminalStore) QueryListByTab(tab TabState) *QueryList {
	s.mu.Lock()
	defer s.mu.Unlock()
	if list, ok := s.lists[tab.ID]; ok {
		return list
	}
	list := &QueryList{tabID: tab.ID, now: s.now}
	list.items = append(list.items, s.newItem(tab.QueryStatement, schema.QueryItemIdle))
	s.lists[tab.ID] = list
	return list
}

// Lookup returns the list for a tab without creating it.
func (s *WebTerminalStore) Lookup(tabID schema.TabID) (*QueryList, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.lists[tabID]
	return list, ok
}

// ClearQueryListByTab evicts the list for a tab.
func (s *WebTerminalStore) ClearQueryListByTab(tabID schema.TabID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lists[tabID]; !ok {
		return false
	}
	delete(s.lists, tabID)
	return true
}

// NewQueryItem constructs an item stamped with the store clock.
func (s *WebTerminalStore) NewQueryItem(sql string, status schema.QueryItemStatus) schema.QueryItem {
	return s.newItem(sql, status)
}

func (s *WebTerminalStore) newItem(sql string, status schema.QueryItemStatus) schema.QueryItem {
	return NewQueryItem(sql, status, s.now())
}

// NewQueryItem constructs an item with a fresh id. An empty status means IDLE.
func NewQueryItem(sql string, status schema.QueryItemStatus, at time.Time) schema.QueryItem {
	if status == "" {
		status = schema.QueryItemIdle
	}
	return schema.QueryItem{
		ID:        schema.QueryItemID(newQueryID()),
		SQL:       sql,
		Status:    status,
		CreatedAt: at,
	}
}

// QueryList is the append-only item list of one tab, in insertion order.
type QueryList struct {
	mu    sync.Mutex
	tabID schema.TabID
	items []schema.QueryItem
	now   func() time.Time
}

// TabID returns the owning tab id.
func (l *QueryList) TabID() schema.TabID {
	return l.tabID
}

// Items returns a copy of the items in insertion order.
func (l *QueryList) Items() []schema.QueryItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]schema.QueryItem(nil), l.items...)
}

// Len returns the number of items.
func (l *QueryList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Last returns the newest item.
func (l *QueryList) Last() (schema.QueryItem, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == 0 {
		return schema.QueryItem{}, false
	}
	return l.items[len(l.items)-1], true
}

// Append adds an item at the end. Items without an id get a fresh one.
func (l *QueryList) Append(item schema.QueryItem) schema.QueryItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	if item.ID == "" {
		fresh := NewQueryItem(item.SQL, item.Status, l.now())
		item.ID = fresh.ID
		if item.CreatedAt.IsZero() {
			item.CreatedAt = fresh.CreatedAt
		}
	}
	if item.Status == "" {
		item.Status = schema.QueryItemIdle
	}
	l.items = append(l.items, item)
	return item
}

// Prompt returns the trailing IDLE item, appending one when the list ends
// with a dispatched or finished item.
func (l *QueryList) Prompt(sql string) schema.QueryItem {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.items); n > 0 && l.items[n-1].Status == schema.QueryItemIdle {
		return l.items[n-1]
	}
	item := NewQueryItem(sql, schema.QueryItemIdle, l.now())
	l.items = append(l.items, item)
	return item
}

// Dispatch moves an IDLE item to RUNNING. A non-empty sql replaces the
// composed text.
func (l *QueryList) Dispatch(id schema.QueryItemID, sql string) (schema.QueryItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	item := l.itemLocked(id)
	if item == nil {
		return schema.QueryItem{}, schema.ErrQueryItemNotFound
	}
	if item.Status != schema.QueryItemIdle {
		return *item, schema.ErrQueryItemFinalized
	}
	if strings.TrimSpace(sql) != "" {
		item.SQL = sql
	}
	item.Status = schema.QueryItemRunning
	return *item, nil
}

// Finish moves a RUNNING item to SUCCESS or FAILED depending on result.
// Finished items never change again.
func (l *QueryList) Finish(id schema.QueryItemID, result schema.QueryResultSet) (schema.QueryItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	item := l.itemLocked(id)
	if item == nil {
		return schema.QueryItem{}, schema.ErrQueryItemNotFound
	}
	if item.Status.Terminal() {
		return *item, schema.ErrQueryItemFinalized
	}
	if item.Status != schema.QueryItemRunning {
		return *item, schema.ErrQueryItemNotRunning
	}
	item.Status = schema.QueryItemSuccess
	if result.Failed() {
		item.Status = schema.QueryItemFailed
	}
	item.Result = cloneResultSet(&result)
	return *item, nil
}

// Snapshot returns a transport view of the list.
func (l *QueryList) Snapshot() schema.TerminalSnapshot {
	return schema.TerminalSnapshot{TabID: l.tabID, Items: l.Items()}
}

func (l *QueryList) itemLocked(id schema.QueryItemID) *schema.QueryItem {
	for i := range l.items {
		if l.items[i].ID == id {
			return &l.items[i]
		}
	}
	return nil
}
