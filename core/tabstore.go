package core

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"pkt.systems/querydesk/internal/persist"
	"pkt.systems/querydesk/schema"
)

// TabStore owns the ordered tab collection and the current-tab pointer.
// The current pointer is either empty or the id of a tab in the collection.
type TabStore struct {
	mu           sync.Mutex
	defaultLabel string
	tabs         []*TabState
	current      schema.TabID
	issued       map[schema.TabID]struct{}
	now          func() time.Time
	newID        func() string
}

// NewTabStore constructs an empty store. A blank defaultLabel uses schema.DefaultTabLabel.
func NewTabStore(defaultLabel string) *TabStore {
	defaultLabel = strings.TrimSpace(defaultLabel)
	if defaultLabel == "" {
		defaultLabel = schema.DefaultTabLabel
	}
	return &TabStore{
		defaultLabel: defaultLabel,
		issued:       make(map[schema.TabID]struct{}),
		now:          time.Now,
		newID:        newID,
	}
}

// CreateTab appends a tab, makes it current and returns a copy.
func (s *TabStore) CreateTab(init TabInit) TabState {
	s.mu.Lock()
	defer s.mu.Unlock()
	label := strings.TrimSpace(init.Label)
	if label == "" {
		label = s.defaultLabel
	}
	tab := &TabState{
		ID:         s.nextIDLocked(),
		Label:      label,
		IsSaved:    true,
		Connection: init.Connection,
	}
	if init.Statement != "" {
		tab.QueryStatement = init.Statement
		tab.markSaved(s.now())
	}
	s.tabs = append(s.tabs, tab)
	s.current = tab.ID
	return *tab
}

// CloseTab removes a tab. Unknown ids are a no-op. When the current tab is
// closed the tab now at the same index becomes current, else the last tab.
func (s *TabStore) CloseTab(id schema.TabID) (TabState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return TabState{}, false
	}
	removed := *s.tabs[idx]
	s.tabs = append(s.tabs[:idx], s.tabs[idx+1:]...)
	if s.current == id {
		switch {
		case idx < len(s.tabs):
			s.current = s.tabs[idx].ID
		case len(s.tabs) > 0:
			s.current = s.tabs[len(s.tabs)-1].ID
		default:
			s.current = ""
		}
	}
	return removed, true
}

// SwitchTab makes a tab current. Unknown ids are a no-op.
func (s *TabStore) SwitchTab(id schema.TabID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(id) < 0 {
		return false
	}
	s.current = id
	return true
}

// UpdateTab merges the non-nil patch fields. Setting the statement
// recomputes IsSaved against the saved baseline.
func (s *TabStore) UpdateTab(id schema.TabID, patch TabPatch) (TabState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab := s.tabLocked(id)
	if tab == nil {
		return TabState{}, false
	}
	if patch.QueryStatement != nil {
		tab.setStatement(*patch.QueryStatement)
	}
	if patch.SelectedStatement != nil {
		tab.SelectedStatement = *patch.SelectedStatement
	}
	if patch.Connection != nil {
		tab.Connection = *patch.Connection
	}
	return *tab, true
}

// RenameTab sets a trimmed label. A blank label is rejected and leaves the
// tab unchanged; unknown ids report ok=false.
func (s *TabStore) RenameTab(id schema.TabID, label string) (TabState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab := s.tabLocked(id)
	if tab == nil {
		return TabState{}, false, nil
	}
	normalized, err := schema.NormalizeTabLabel(label)
	if err != nil {
		return *tab, true, err
	}
	tab.Label = normalized
	return *tab, true, nil
}

// MarkSaved records the current statement as the saved baseline.
func (s *TabStore) MarkSaved(id schema.TabID) (TabState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab := s.tabLocked(id)
	if tab == nil {
		return TabState{}, false
	}
	tab.markSaved(s.now())
	return *tab, true
}

// Get returns a copy of one tab.
func (s *TabStore) Get(id schema.TabID) (TabState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab := s.tabLocked(id)
	if tab == nil {
		return TabState{}, false
	}
	return *tab, true
}

// Tabs returns copies of all tabs in order.
func (s *TabStore) Tabs() []TabState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TabState, 0, len(s.tabs))
	for _, tab := range s.tabs {
		out = append(out, *tab)
	}
	return out
}

// Current returns the current tab, if any.
func (s *TabStore) Current() (TabState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab := s.tabLocked(s.current)
	if tab == nil {
		return TabState{}, false
	}
	return *tab, true
}

// CurrentID returns the current tab id or "".
func (s *TabStore) CurrentID() schema.TabID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Len returns the number of open tabs.
func (s *TabStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tabs)
}

// beginQuery issues the next sequence number for a tab and records the
// request id. With markSaved the dispatched statement becomes the baseline.
func (s *TabStore) beginQuery(id schema.TabID, queryID schema.QueryID, markSaved bool) (TabState, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab := s.tabLocked(id)
	if tab == nil {
		return TabState{}, 0, false
	}
	tab.latestSeq++
	tab.CurrentQueryID = queryID
	if markSaved {
		tab.markSaved(s.now())
	}
	return *tab, tab.latestSeq, true
}

// applyResult writes a result back only when seq is the latest issued for
// the tab and has not been abandoned.
func (s *TabStore) applyResult(id schema.TabID, seq uint64, result schema.QueryResultSet) (TabState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab := s.tabLocked(id)
	if tab == nil {
		return TabState{}, false
	}
	if seq != tab.latestSeq || seq <= tab.appliedSeq {
		return *tab, false
	}
	tab.appliedSeq = seq
	tab.QueryResult = cloneResultSet(&result)
	return *tab, true
}

// abandonQuery stops the in-flight execution from writing back.
func (s *TabStore) abandonQuery(id schema.TabID) (schema.QueryID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tab := s.tabLocked(id)
	if tab == nil || tab.latestSeq == tab.appliedSeq {
		return "", false
	}
	tab.appliedSeq = tab.latestSeq
	return tab.CurrentQueryID, true
}

// Export captures the persistable tab state. Query results are not persisted.
func (s *TabStore) Export() persist.UserSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]persist.TabRecord, 0, len(s.tabs))
	for _, tab := range s.tabs {
		record := persist.TabRecord{
			ID:                tab.ID,
			Label:             tab.Label,
			IsSaved:           tab.IsSaved,
			SavedAt:           tab.SavedAt,
			QueryStatement:    tab.QueryStatement,
			SelectedStatement: tab.SelectedStatement,
			Connection:        tab.Connection,
		}
		if tab.hasBaseline {
			baseline := tab.baseline
			record.SavedStatement = &baseline
		}
		records = append(records, record)
	}
	return persist.UserSnapshot{Current: s.current, Tabs: records}
}

// RestoreTabStore rebuilds a store from a snapshot. Records missing an id or
// a label are treated as absent, as are repeated ids. A current pointer that
// does not name a restored tab falls back to the last tab. It returns the
// number of dropped records.
func RestoreTabStore(defaultLabel string, snapshot persist.UserSnapshot) (*TabStore, int) {
	store := NewTabStore(defaultLabel)
	dropped := 0
	for _, record := range snapshot.Tabs {
		id := schema.TabID(strings.TrimSpace(string(record.ID)))
		label := strings.TrimSpace(record.Label)
		if id == "" || label == "" {
			dropped++
			continue
		}
		if _, seen := store.issued[id]; seen {
			dropped++
			continue
		}
		store.issued[id] = struct{}{}
		tab := &TabState{
			ID:                id,
			Label:             label,
			SavedAt:           record.SavedAt,
			QueryStatement:    record.QueryStatement,
			SelectedStatement: record.SelectedStatement,
			Connection:        record.Connection,
		}
		if record.SavedStatement != nil {
			tab.baseline = *record.SavedStatement
			tab.hasBaseline = true
		}
		tab.recomputeSaved()
		store.tabs = append(store.tabs, tab)
	}
	if store.indexLocked(snapshot.Current) >= 0 {
		store.current = snapshot.Current
	} else if len(store.tabs) > 0 {
		store.current = store.tabs[len(store.tabs)-1].ID
	}
	return store, dropped
}

func (s *TabStore) nextIDLocked() schema.TabID {
	for attempt := 0; ; attempt++ {
		id := schema.TabID(s.newID())
		if _, taken := s.issued[id]; !taken {
			s.issued[id] = struct{}{}
			return id
		}
		if attempt > 16 {
			id = schema.TabID(fmt.Sprintf("%s-%d", id, len(s.issued)))
			if _, taken := s.issued[id]; !taken {
				s.issued[id] = struct{}{}
				return id
			}
		}
	}
}

func (s *TabStore) indexLocked(id schema.TabID) int {
	if id == "" {
		return -1
	}
	for i, tab := range s.tabs {
		if tab.ID == id {
			return i
		}
	}
	return -1
}

func (s *TabStore) tabLocked(id schema.TabID) *TabState {
	idx := s.indexLocked(id)
	if idx < 0 {
		return nil
	}
	return s.tabs[idx]
}
