package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"pkt.systems/querydesk/internal/logx"
	"pkt.systems/querydesk/internal/sessionprefs"
	"pkt.systems/querydesk/schema"
	"pkt.systems/pslog"
)

// historyRefreshTimeout bounds the background history refresh after an execution.
const historyRefreshTimeout = 30 * time.Second

// service implements the core service behavior.
type service struct {
	cfg        schema.ServiceConfig
	sql        SQLClient
	history    HistoryClient
	sink       EventSink
	store      SnapshotStore
	logger     pslog.Logger
	mu         sync.Mutex
	workspaces map[schema.UserID]*workspace
	refresh    singleflight.Group
	background sync.WaitGroup
}

// workspace is the per-user application context composing the stores.
type workspace struct {
	tabs     *TabStore
	executor *QueryExecutor
	terminal *WebTerminalStore
	history  *QueryHistoryStore
}

// NewService constructs the core service implementation.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &service{
		cfg:        normalized,
		sql:        deps.SQL,
		history:    deps.History,
		sink:       deps.EventSink,
		store:      deps.Snapshots,
		logger:     logger,
		workspaces: make(map[schema.UserID]*workspace),
	}, nil
}

func (s *service) CreateTab(ctx context.Context, req schema.CreateTabRequest) (schema.CreateTabResponse, error) {
	if ctx == nil {
		return schema.CreateTabResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.CreateTabResponse{}, err
	}
	log := logx.WithUser(ctx, userID)
	ws := s.workspace(userID)
	connection := schema.ConnectionTarget(strings.TrimSpace(string(req.Connection)))
	if connection == "" {
		connection = s.cfg.DefaultConnection
	}
	tab := ws.tabs.CreateTab(TabInit{Label: req.Label, Statement: req.Statement, Connection: connection})
	snapshot := tab.Snapshot(true)
	s.emitTabEvent(schema.TabEvent{UserID: userID, Type: schema.TabEventCreated, Tab: snapshot, ActiveTab: tab.ID})
	s.persistUser(log, userID, ws)
	log.Info("service tab created", "tab", tab.ID, "label", tab.Label, "tabs", ws.tabs.Len())
	return schema.CreateTabResponse{Tab: snapshot}, nil
}

func (s *service) CloseTab(ctx context.Context, req schema.CloseTabRequest) (schema.CloseTabResponse, error) {
	if ctx == nil {
		return schema.CloseTabResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.CloseTabResponse{}, err
	}
	log := logx.WithUserTab(ctx, userID, req.TabID)
	ws := s.workspace(userID)
	if queryID, canceled := ws.executor.Cancel(req.TabID); canceled {
		logx.WithQuery(log, queryID).Debug("service tab close abandoned query")
	}
	removed, ok := ws.tabs.CloseTab(req.TabID)
	if !ok {
		log.Debug("service tab close skipped", "reason", "not found")
		return schema.CloseTabResponse{ActiveTab: ws.tabs.CurrentID()}, schema.ErrTabNotFound
	}
	ws.terminal.ClearQueryListByTab(req.TabID)
	active := ws.tabs.CurrentID()
	snapshot := removed.Snapshot(false)
	s.emitTabEvent(schema.TabEvent{UserID: userID, Type: schema.TabEventClosed, Tab: snapshot, ActiveTab: active})
	s.persistUser(log, userID, ws)
	log.Info("service tab closed", "active", active, "tabs", ws.tabs.Len())
	return schema.CloseTabResponse{Tab: snapshot, ActiveTab: active}, nil
}

func (s *service) SwitchTab(ctx context.Context, req schema.SwitchTabRequest) (schema.SwitchTabResponse, error) {
	if ctx == nil {
		return schema.SwitchTabResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.SwitchTabResponse{}, err
	}
	log := logx.WithUserTab(ctx, userID, req.TabID)
	ws := s.workspace(userID)
	if !ws.tabs.SwitchTab(req.TabID) {
		log.Debug("service tab switch skipped", "reason", "not found")
		return schema.SwitchTabResponse{}, schema.ErrTabNotFound
	}
	tab, _ := ws.tabs.Get(req.TabID)
	snapshot := tab.Snapshot(true)
	s.emitTabEvent(schema.TabEvent{UserID: userID, Type: schema.TabEventSwitched, Tab: snapshot, ActiveTab: tab.ID})
	s.persistUser(log, userID, ws)
	log.Debug("service tab switched")
	return schema.SwitchTabResponse{Tab: snapshot}, nil
}

func (s *service) ListTabs(ctx context.Context, req schema.ListTabsRequest) (schema.ListTabsResponse, error) {
	_ = ctx
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.ListTabsResponse{}, err
	}
	ws := s.workspace(userID)
	active := ws.tabs.CurrentID()
	tabs := ws.tabs.Tabs()
	out := make([]schema.TabSnapshot, 0, len(tabs))
	for _, tab := range tabs {
		out = append(out, tab.Snapshot(tab.ID == active))
	}
	return schema.ListTabsResponse{Tabs: out, ActiveTab: active}, nil
}

func (s *service) GetTab(ctx context.Context, req schema.GetTabRequest) (schema.GetTabResponse, error) {
	_ = ctx
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.GetTabResponse{}, err
	}
	ws := s.workspace(userID)
	tab, ok := ws.tabs.Get(req.TabID)
	if !ok {
		return schema.GetTabResponse{}, schema.ErrTabNotFound
	}
	return schema.GetTabResponse{Tab: tab.Snapshot(tab.ID == ws.tabs.CurrentID())}, nil
}

func (s *service) UpdateTab(ctx context.Context, req schema.UpdateTabRequest) (schema.UpdateTabResponse, error) {
	if ctx == nil {
		return schema.UpdateTabResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.UpdateTabResponse{}, err
	}
	log := logx.WithUserTab(ctx, userID, req.TabID)
	ws := s.workspace(userID)
	tab, ok := ws.tabs.UpdateTab(req.TabID, TabPatch{
		QueryStatement:    req.QueryStatement,
		SelectedStatement: req.SelectedStatement,
		Connection:        req.Connection,
	})
	if !ok {
		log.Debug("service tab update skipped", "reason", "not found")
		return schema.UpdateTabResponse{}, schema.ErrTabNotFound
	}
	snapshot := tab.Snapshot(tab.ID == ws.tabs.CurrentID())
	s.emitTabEvent(schema.TabEvent{UserID: userID, Type: schema.TabEventUpdated, Tab: snapshot, ActiveTab: ws.tabs.CurrentID()})
	s.persistUser(log, userID, ws)
	log.Trace("service tab updated", "is_saved", tab.IsSaved, "statement_len", len(tab.QueryStatement))
	return schema.UpdateTabResponse{Tab: snapshot}, nil
}

func (s *service) RenameTab(ctx context.Context, req schema.RenameTabRequest) (schema.RenameTabResponse, error) {
	if ctx == nil {
		return schema.RenameTabResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.RenameTabResponse{}, err
	}
	log := logx.WithUserTab(ctx, userID, req.TabID)
	ws := s.workspace(userID)
	tab, ok, err := ws.tabs.RenameTab(req.TabID, req.Label)
	if !ok {
		log.Debug("service tab rename skipped", "reason", "not found")
		return schema.RenameTabResponse{}, schema.ErrTabNotFound
	}
	snapshot := tab.Snapshot(tab.ID == ws.tabs.CurrentID())
	if err != nil {
		log.Debug("service tab rename rejected", "err", err)
		return schema.RenameTabResponse{Tab: snapshot}, err
	}
	s.emitTabEvent(schema.TabEvent{UserID: userID, Type: schema.TabEventUpdated, Tab: snapshot, ActiveTab: ws.tabs.CurrentID()})
	s.persistUser(log, userID, ws)
	log.Info("service tab renamed", "label", tab.Label)
	return schema.RenameTabResponse{Tab: snapshot}, nil
}

func (s *service) SaveTab(ctx context.Context, req schema.SaveTabRequest) (schema.SaveTabResponse, error) {
	if ctx == nil {
		return schema.SaveTabResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.SaveTabResponse{}, err
	}
	log := logx.WithUserTab(ctx, userID, req.TabID)
	ws := s.workspace(userID)
	tab, ok := ws.tabs.MarkSaved(req.TabID)
	if !ok {
		return schema.SaveTabResponse{}, schema.ErrTabNotFound
	}
	snapshot := tab.Snapshot(tab.ID == ws.tabs.CurrentID())
	s.emitTabEvent(schema.TabEvent{UserID: userID, Type: schema.TabEventUpdated, Tab: snapshot, ActiveTab: ws.tabs.CurrentID()})
	s.persistUser(log, userID, ws)
	log.Info("service tab saved")
	return schema.SaveTabResponse{Tab: snapshot}, nil
}

func (s *service) RunQuery(ctx context.Context, req schema.RunQueryRequest) (schema.RunQueryResponse, error) {
	if ctx == nil {
		return schema.RunQueryResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.RunQueryResponse{}, err
	}
	baseLog := logx.WithUserTab(ctx, userID, req.TabID)
	ctx = logx.ContextWithUserTabLogger(ctx, baseLog, userID, req.TabID)
	log := baseLog
	ws := s.workspace(userID)

	execution, err := ws.executor.Run(ctx, ExecuteRequest{
		TabID:      req.TabID,
		Statement:  req.Statement,
		Connection: req.Connection,
		Limit:      req.Limit,
		Format:     req.Format,
		Admin:      req.Admin,
		OnDispatch: func(tab TabState) {
			active := ws.tabs.CurrentID()
			s.emitTabEvent(schema.TabEvent{UserID: userID, Type: schema.TabEventQueryStarted, Tab: tab.Snapshot(tab.ID == active), ActiveTab: active})
			s.persistUser(log, userID, ws)
		},
	})
	if err != nil {
		log.Warn("service query rejected", "err", err)
		return schema.RunQueryResponse{}, err
	}
	log = logx.WithQuery(log, execution.QueryID)
	active := ws.tabs.CurrentID()
	snapshot := execution.Tab.Snapshot(execution.Tab.ID == active)
	if execution.Applied {
		s.emitTabEvent(schema.TabEvent{UserID: userID, Type: schema.TabEventQueryResult, Tab: snapshot, ActiveTab: active})
		log.Info("service query finished", "failed", execution.Result.Failed())
	} else {
		log.Debug("service query stale", "seq", execution.Sequence)
	}
	s.scheduleHistoryRefresh(ctx, userID, ws)
	return schema.RunQueryResponse{
		QueryID: execution.QueryID,
		Result:  execution.Result,
		Applied: execution.Applied,
		Tab:     snapshot,
	}, nil
}

func (s *service) CancelQuery(ctx context.Context, req schema.CancelQueryRequest) (schema.CancelQueryResponse, error) {
	if ctx == nil {
		return schema.CancelQueryResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.CancelQueryResponse{}, err
	}
	log := logx.WithUserTab(ctx, userID, req.TabID)
	ws := s.workspace(userID)
	tab, ok := ws.tabs.Get(req.TabID)
	if !ok {
		return schema.CancelQueryResponse{}, schema.ErrTabNotFound
	}
	queryID, canceled := ws.executor.Cancel(req.TabID)
	if !canceled {
		log.Debug("service query cancel skipped", "reason", "idle")
		return schema.CancelQueryResponse{QueryID: tab.CurrentQueryID}, nil
	}
	if updated, ok := ws.tabs.Get(req.TabID); ok {
		active := ws.tabs.CurrentID()
		s.emitTabEvent(schema.TabEvent{UserID: userID, Type: schema.TabEventUpdated, Tab: updated.Snapshot(updated.ID == active), ActiveTab: active})
	}
	logx.WithQuery(log, queryID).Info("service query canceled")
	return schema.CancelQueryResponse{QueryID: queryID, Canceled: true}, nil
}

func (s *service) RunTerminalQuery(ctx context.Context, req schema.RunTerminalQueryRequest) (schema.RunTerminalQueryResponse, error) {
	if ctx == nil {
		return schema.RunTerminalQueryResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.RunTerminalQueryResponse{}, err
	}
	baseLog := logx.WithUserTab(ctx, userID, req.TabID)
	ctx = logx.ContextWithUserTabLogger(ctx, baseLog, userID, req.TabID)
	log := baseLog
	ws := s.workspace(userID)
	tab, ok := ws.tabs.Get(req.TabID)
	if !ok {
		return schema.RunTerminalQueryResponse{}, schema.ErrTabNotFound
	}
	list := ws.terminal.QueryListByTab(tab)
	prompt := list.Prompt("")
	statement := req.Statement
	if strings.TrimSpace(statement) == "" {
		statement = prompt.SQL
	}
	queryReq, err := ws.executor.Prepare(ctx, StatementRequest{
		Statement:  statement,
		Connection: tab.Connection,
		Limit:      req.Limit,
		Format:     req.Format,
		Admin:      req.Admin,
	})
	if err != nil {
		log.Warn("service terminal query rejected", "err", err)
		return schema.RunTerminalQueryResponse{}, err
	}
	item, err := list.Dispatch(prompt.ID, queryReq.Statement)
	if err != nil {
		log.Warn("service terminal dispatch failed", "item", prompt.ID, "err", err)
		return schema.RunTerminalQueryResponse{}, err
	}
	s.emitTerminalEvent(schema.TerminalEvent{UserID: userID, TabID: tab.ID, Item: item})
	log.Debug("service terminal query dispatch", "item", item.ID)

	result := ws.executor.Send(ctx, queryReq)
	item, err = list.Finish(item.ID, result)
	if err != nil {
		log.Warn("service terminal finish failed", "item", item.ID, "err", err)
		return schema.RunTerminalQueryResponse{}, err
	}
	s.emitTerminalEvent(schema.TerminalEvent{UserID: userID, TabID: tab.ID, Item: item})
	next := list.Prompt("")
	s.emitTerminalEvent(schema.TerminalEvent{UserID: userID, TabID: tab.ID, Item: next})
	log.Info("service terminal query finished", "item", item.ID, "status", item.Status, "items", list.Len())
	s.scheduleHistoryRefresh(ctx, userID, ws)
	return schema.RunTerminalQueryResponse{Item: item, Terminal: list.Snapshot()}, nil
}

func (s *service) GetTerminal(ctx context.Context, req schema.GetTerminalRequest) (schema.GetTerminalResponse, error) {
	_ = ctx
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.GetTerminalResponse{}, err
	}
	ws := s.workspace(userID)
	tab, ok := ws.tabs.Get(req.TabID)
	if !ok {
		return schema.GetTerminalResponse{}, schema.ErrTabNotFound
	}
	return schema.GetTerminalResponse{Terminal: ws.terminal.QueryListByTab(tab).Snapshot()}, nil
}

func (s *service) ClearTerminal(ctx context.Context, req schema.ClearTerminalRequest) (schema.ClearTerminalResponse, error) {
	if ctx == nil {
		return schema.ClearTerminalResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.ClearTerminalResponse{}, err
	}
	log := logx.WithUserTab(ctx, userID, req.TabID)
	ws := s.workspace(userID)
	if ws.terminal.ClearQueryListByTab(req.TabID) {
		s.emitTerminalEvent(schema.TerminalEvent{UserID: userID, TabID: req.TabID, Cleared: true})
		log.Debug("service terminal cleared")
	}
	return schema.ClearTerminalResponse{}, nil
}

func (s *service) FetchQueryHistory(ctx context.Context, req schema.FetchQueryHistoryRequest) (schema.FetchQueryHistoryResponse, error) {
	if ctx == nil {
		return schema.FetchQueryHistoryResponse{}, errors.New("missing context")
	}
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.FetchQueryHistoryResponse{}, err
	}
	log := logx.WithUser(ctx, userID)
	ctx = logx.ContextWithUserLogger(ctx, log, userID)
	ws := s.workspace(userID)
	if _, err := ws.history.Fetch(ctx); err != nil {
		return schema.FetchQueryHistoryResponse{History: ws.history.Snapshot()}, err
	}
	snapshot := ws.history.Snapshot()
	s.emitHistoryEvent(schema.HistoryEvent{UserID: userID, History: snapshot})
	log.Debug("service history fetched", "histories", len(snapshot.Histories))
	return schema.FetchQueryHistoryResponse{History: snapshot}, nil
}

func (s *service) ListQueryHistory(ctx context.Context, req schema.ListQueryHistoryRequest) (schema.ListQueryHistoryResponse, error) {
	_ = ctx
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return schema.ListQueryHistoryResponse{}, err
	}
	return schema.ListQueryHistoryResponse{History: s.workspace(userID).history.Snapshot()}, nil
}

// scheduleHistoryRefresh fetches history in the background. Concurrent
// refreshes for one user share a single request.
func (s *service) scheduleHistoryRefresh(ctx context.Context, userID schema.UserID, ws *workspace) {
	if s.cfg.DisableHistoryRefresh || s.history == nil {
		return
	}
	refreshCtx, cancel := detachContext(ctx, historyRefreshTimeout)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer cancel()
		_, _, _ = s.refresh.Do(string(userID), func() (any, error) {
			if _, err := ws.history.Fetch(refreshCtx); err != nil {
				return nil, err
			}
			s.emitHistoryEvent(schema.HistoryEvent{UserID: userID, History: ws.history.Snapshot()})
			return nil, nil
		})
	}()
}

func (s *service) emitTabEvent(event schema.TabEvent) {
	if s.sink == nil {
		return
	}
	s.sink.OnTabEvent(event)
}

func (s *service) emitTerminalEvent(event schema.TerminalEvent) {
	if s.sink == nil {
		return
	}
	s.sink.OnTerminalEvent(event)
}

func (s *service) emitHistoryEvent(event schema.HistoryEvent) {
	if s.sink == nil {
		return
	}
	s.sink.OnHistoryEvent(event)
}

func (s *service) workspace(userID schema.UserID) *workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws := s.workspaces[userID]
	if ws == nil {
		ws = s.newWorkspace(s.loadTabs(userID))
		s.workspaces[userID] = ws
	}
	return ws
}

func (s *service) newWorkspace(tabs *TabStore) *workspace {
	return &workspace{
		tabs:     tabs,
		executor: NewQueryExecutor(s.sql, tabs, s.cfg),
		terminal: NewWebTerminalStore(),
		history:  NewQueryHistoryStore(s.history),
	}
}

func (s *service) loadTabs(userID schema.UserID) *TabStore {
	if s.store == nil {
		return NewTabStore(s.cfg.DefaultTabLabel)
	}
	log := s.logger.With("user", userID)
	snapshot, ok, err := s.store.Load(userID)
	if err != nil || !ok {
		if err != nil {
			log.Warn("service state load failed", "err", err)
		} else {
			log.Debug("service state missing")
		}
		return NewTabStore(s.cfg.DefaultTabLabel)
	}
	tabs, dropped := RestoreTabStore(s.cfg.DefaultTabLabel, snapshot)
	if dropped > 0 {
		log.Warn("service state dropped invalid tabs", "dropped", dropped)
	}
	log.Debug("service state loaded", "tabs", tabs.Len(), "active", tabs.CurrentID())
	return tabs
}

func (s *service) persistUser(log pslog.Logger, userID schema.UserID, ws *workspace) {
	if s.store == nil || ws == nil {
		return
	}
	snapshot := ws.tabs.Export()
	if err := s.store.Save(userID, snapshot); err != nil {
		if log != nil {
			log.Warn("service persist failed", "err", err)
		}
		return
	}
	if log != nil {
		log.Trace("service state persisted", "tabs", len(snapshot.Tabs))
	}
}

// detachContext keeps the logger, log markers and session prefs of ctx on a
// fresh context that outlives the request.
func detachContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	base := context.Background()
	if ctx != nil {
		if logger := pslog.Ctx(ctx); logger != nil {
			base = logx.CopyContextFields(pslog.ContextWithLogger(base, logger), ctx)
		}
		if prefs := sessionprefs.Copy(ctx); prefs != nil {
			base = sessionprefs.WithContext(base, prefs)
		}
	}
	if timeout > 0 {
		return context.WithTimeout(base, timeout)
	}
	return context.WithCancel(base)
}

func normalizeUserID(userID schema.UserID) (schema.UserID, error) {
	if err := schema.ValidateUserID(userID); err != nil {
		return "", schema.ErrInvalidUser
	}
	return userID, nil
}
