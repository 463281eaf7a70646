package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"pkt.systems/querydesk/core"
	"pkt.systems/querydesk/internal/logx"
	"pkt.systems/querydesk/internal/sessionprefs"
	"pkt.systems/querydesk/schema"
	"pkt.systems/pslog"
)

// maxBodyBytes caps request payloads; statements are the largest field.
const maxBodyBytes = 4 << 20

// Server serves the JSON API and the event stream.
type Server struct {
	cfg      Config
	service  core.Service
	hub      *Hub
	basePath string
}

// NewServer constructs an HTTP server.
func NewServer(cfg Config, service core.Service, hub *Hub) *Server {
	if hub == nil {
		hub = NewHub(cfg.HubHistory)
	}
	return &Server{
		cfg:      cfg,
		service:  service,
		hub:      hub,
		basePath: cfg.mountPath(),
	}
}

// Hub returns the event hub the server streams from.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tabs", s.requireUser(s.handleTabs))
	mux.HandleFunc("/api/tabs/close", s.requireUser(s.handleCloseTab))
	mux.HandleFunc("/api/tabs/switch", s.requireUser(s.handleSwitchTab))
	mux.HandleFunc("/api/tabs/rename", s.requireUser(s.handleRenameTab))
	mux.HandleFunc("/api/tabs/update", s.requireUser(s.handleUpdateTab))
	mux.HandleFunc("/api/tabs/save", s.requireUser(s.handleSaveTab))
	mux.HandleFunc("/api/query", s.requireUser(s.handleQuery))
	mux.HandleFunc("/api/query/cancel", s.requireUser(s.handleCancelQuery))
	mux.HandleFunc("/api/terminal", s.requireUser(s.handleTerminal))
	mux.HandleFunc("/api/history", s.requireUser(s.handleHistory))
	mux.HandleFunc("/api/stream", s.requireUser(s.handleStream))

	handler := withRequestLogging(mux, s.lookupUser)
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	root.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != prefix {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, prefix+"/", http.StatusTemporaryRedirect)
	})
	return root
}

type tabsPayload struct {
	Tabs      []schema.TabSnapshot `json:"tabs"`
	ActiveTab schema.TabID         `json:"active_tab"`
}

type tabPayload struct {
	Tab       schema.TabSnapshot `json:"tab"`
	ActiveTab schema.TabID       `json:"active_tab,omitempty"`
}

type queryPayload struct {
	QueryID schema.QueryID        `json:"query_id"`
	Applied bool                  `json:"applied"`
	Result  schema.QueryResultSet `json:"result"`
	Tab     schema.TabSnapshot    `json:"tab"`
}

type terminalPayload struct {
	Item     *schema.QueryItem       `json:"item,omitempty"`
	Terminal schema.TerminalSnapshot `json:"terminal"`
}

type historyPayload struct {
	History schema.HistorySnapshot `json:"history"`
}

type tabIDPayload struct {
	TabID string `json:"tab_id"`
}

// optionsPayload carries per-request execution preferences.
type optionsPayload struct {
	Limit  int    `json:"limit"`
	Format string `json:"format"`
	Admin  bool   `json:"admin"`
}

func (o optionsPayload) prefs() (*sessionprefs.Prefs, error) {
	if o.Limit < 0 {
		return nil, schema.ErrInvalidLimit
	}
	format, err := schema.NormalizeOutputFormat(o.Format)
	if err != nil {
		return nil, err
	}
	prefs := sessionprefs.New()
	prefs.Limit = o.Limit
	prefs.Format = format
	prefs.Admin = o.Admin
	return prefs, nil
}

func (s *Server) handleTabs(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	log := logx.WithUser(r.Context(), userID)
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		resp, err := s.service.ListTabs(ctx, schema.ListTabsRequest{UserID: userID})
		if err != nil {
			log.Warn("http tabs list failed", "err", err)
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, tabsPayload{Tabs: resp.Tabs, ActiveTab: resp.ActiveTab})
		log.Debug("http tabs list ok", "count", len(resp.Tabs))
	case http.MethodPost:
		var payload struct {
			Label      string `json:"label"`
			Statement  string `json:"statement"`
			Connection string `json:"connection"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			log.Warn("http tabs decode failed", "err", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := s.service.CreateTab(ctx, schema.CreateTabRequest{
			UserID:     userID,
			Label:      payload.Label,
			Statement:  payload.Statement,
			Connection: schema.ConnectionTarget(payload.Connection),
		})
		if err != nil {
			log.Warn("http tabs create failed", "err", err)
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, tabPayload{Tab: resp.Tab, ActiveTab: resp.Tab.ID})
		log.Info("http tabs create ok", "tab", resp.Tab.ID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCloseTab(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	var payload tabIDPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http close decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.CloseTab(r.Context(), schema.CloseTabRequest{
		UserID: userID,
		TabID:  schema.TabID(payload.TabID),
	})
	if err != nil {
		log.Warn("http close failed", "tab", payload.TabID, "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, tabPayload{Tab: resp.Tab, ActiveTab: resp.ActiveTab})
	log.Info("http close ok", "tab", resp.Tab.ID, "active", resp.ActiveTab)
}

func (s *Server) handleSwitchTab(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	var payload tabIDPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http switch decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.SwitchTab(r.Context(), schema.SwitchTabRequest{
		UserID: userID,
		TabID:  schema.TabID(payload.TabID),
	})
	if err != nil {
		log.Warn("http switch failed", "tab", payload.TabID, "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, tabPayload{Tab: resp.Tab, ActiveTab: resp.Tab.ID})
	log.Info("http switch ok", "tab", resp.Tab.ID)
}

func (s *Server) handleRenameTab(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	var payload struct {
		TabID string `json:"tab_id"`
		Label string `json:"label"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http rename decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.RenameTab(r.Context(), schema.RenameTabRequest{
		UserID: userID,
		TabID:  schema.TabID(payload.TabID),
		Label:  payload.Label,
	})
	if err != nil {
		log.Warn("http rename failed", "tab", payload.TabID, "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, tabPayload{Tab: resp.Tab})
	log.Info("http rename ok", "tab", resp.Tab.ID)
}

func (s *Server) handleUpdateTab(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	var payload struct {
		TabID             string  `json:"tab_id"`
		QueryStatement    *string `json:"query_statement"`
		SelectedStatement *string `json:"selected_statement"`
		Connection        *string `json:"connection"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http update decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req := schema.UpdateTabRequest{
		UserID:            userID,
		TabID:             schema.TabID(payload.TabID),
		QueryStatement:    payload.QueryStatement,
		SelectedStatement: payload.SelectedStatement,
	}
	if payload.Connection != nil {
		connection := schema.ConnectionTarget(*payload.Connection)
		req.Connection = &connection
	}
	resp, err := s.service.UpdateTab(r.Context(), req)
	if err != nil {
		log.Warn("http update failed", "tab", payload.TabID, "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, tabPayload{Tab: resp.Tab})
	log.Debug("http update ok", "tab", resp.Tab.ID, "saved", resp.Tab.IsSaved)
}

func (s *Server) handleSaveTab(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	var payload tabIDPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http save decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.SaveTab(r.Context(), schema.SaveTabRequest{
		UserID: userID,
		TabID:  schema.TabID(payload.TabID),
	})
	if err != nil {
		log.Warn("http save failed", "tab", payload.TabID, "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, tabPayload{Tab: resp.Tab})
	log.Info("http save ok", "tab", resp.Tab.ID)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	var payload struct {
		TabID      string `json:"tab_id"`
		Statement  string `json:"statement"`
		Connection string `json:"connection"`
		optionsPayload
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http query decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	prefs, err := payload.prefs()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	log = log.With("tab", payload.TabID, "statement_len", len(payload.Statement))
	ctx := sessionprefs.WithContext(r.Context(), prefs)
	resp, err := s.service.RunQuery(ctx, schema.RunQueryRequest{
		UserID:     userID,
		TabID:      schema.TabID(payload.TabID),
		Statement:  payload.Statement,
		Connection: schema.ConnectionTarget(payload.Connection),
	})
	if err != nil {
		log.Warn("http query failed", "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, queryPayload{
		QueryID: resp.QueryID,
		Applied: resp.Applied,
		Result:  resp.Result,
		Tab:     resp.Tab,
	})
	log.Info("http query ok", "query_id", resp.QueryID, "applied", resp.Applied, "failed", resp.Result.Failed())
}

func (s *Server) handleCancelQuery(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	log := logx.WithUser(r.Context(), userID)
	var payload tabIDPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		log.Warn("http cancel decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.service.CancelQuery(r.Context(), schema.CancelQueryRequest{
		UserID: userID,
		TabID:  schema.TabID(payload.TabID),
	})
	if err != nil {
		log.Warn("http cancel failed", "tab", payload.TabID, "err", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"query_id": resp.QueryID, "canceled": resp.Canceled})
	log.Info("http cancel ok", "tab", payload.TabID, "canceled", resp.Canceled)
}

func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	log := logx.WithUser(r.Context(), userID)
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		tabID := schema.TabID(r.URL.Query().Get("tab_id"))
		resp, err := s.service.GetTerminal(ctx, schema.GetTerminalRequest{UserID: userID, TabID: tabID})
		if err != nil {
			log.Warn("http terminal get failed", "tab", tabID, "err", err)
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, terminalPayload{Terminal: resp.Terminal})
		log.Debug("http terminal get ok", "tab", tabID, "items", len(resp.Terminal.Items))
	case http.MethodPost:
		var payload struct {
			TabID     string `json:"tab_id"`
			Statement string `json:"statement"`
			optionsPayload
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			log.Warn("http terminal decode failed", "err", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		prefs, err := payload.prefs()
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		resp, err := s.service.RunTerminalQuery(sessionprefs.WithContext(ctx, prefs), schema.RunTerminalQueryRequest{
			UserID:    userID,
			TabID:     schema.TabID(payload.TabID),
			Statement: payload.Statement,
		})
		if err != nil {
			log.Warn("http terminal run failed", "tab", payload.TabID, "err", err)
			writeError(w, statusFor(err), err)
			return
		}
		item := resp.Item
		writeJSON(w, http.StatusOK, terminalPayload{Item: &item, Terminal: resp.Terminal})
		log.Info("http terminal run ok", "tab", payload.TabID, "item", item.ID, "status", item.Status)
	case http.MethodDelete:
		tabID := schema.TabID(r.URL.Query().Get("tab_id"))
		if _, err := s.service.ClearTerminal(ctx, schema.ClearTerminalRequest{UserID: userID, TabID: tabID}); err != nil {
			log.Warn("http terminal clear failed", "tab", tabID, "err", err)
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		log.Info("http terminal clear ok", "tab", tabID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	log := logx.WithUser(r.Context(), userID)
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		resp, err := s.service.ListQueryHistory(ctx, schema.ListQueryHistoryRequest{UserID: userID})
		if err != nil {
			log.Warn("http history list failed", "err", err)
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, historyPayload{History: resp.History})
		log.Debug("http history list ok", "histories", len(resp.History.Histories))
	case http.MethodPost:
		resp, err := s.service.FetchQueryHistory(ctx, schema.FetchQueryHistoryRequest{UserID: userID})
		if err != nil {
			log.Warn("http history fetch failed", "err", err)
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, historyPayload{History: resp.History})
		log.Info("http history fetch ok", "histories", len(resp.History.Histories))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, userID schema.UserID) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	log := logx.WithUser(r.Context(), userID)
	ctx := r.Context()

	// Subscribe before building the snapshot so nothing published in between is lost.
	ch, unsubscribe, seq := s.hub.Subscribe(userID)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	lastID := parseUint(r.Header.Get("Last-Event-ID"))

	snapshot := s.buildSnapshot(ctx, userID)
	_ = writeSSEvent(w, StreamEvent{
		Type:      StreamSnapshot,
		Snapshot:  &snapshot,
		Timestamp: s.hub.now(),
	})
	flusher.Flush()

	replayCount := 0
	if lastID > 0 && lastID < seq {
		replay := s.hub.Replay(userID, lastID, seq)
		replayCount = len(replay)
		for _, event := range replay {
			_ = writeSSEvent(w, event)
		}
		flusher.Flush()
	}

	log.Info("http stream opened", "last_id", lastID, "replay", replayCount, "tabs", len(snapshot.Tabs))
	for {
		select {
		case <-ctx.Done():
			log.Info("http stream closed")
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			_ = writeSSEvent(w, event)
			flusher.Flush()
		}
	}
}

func (s *Server) buildSnapshot(ctx context.Context, userID schema.UserID) SnapshotPayload {
	snapshot := SnapshotPayload{
		Tabs:      []schema.TabSnapshot{},
		Terminals: make(map[schema.TabID]schema.TerminalSnapshot),
		History:   schema.HistorySnapshot{Histories: []schema.QueryHistory{}},
	}
	resp, err := s.service.ListTabs(ctx, schema.ListTabsRequest{UserID: userID})
	if err != nil {
		return snapshot
	}
	snapshot.Tabs = resp.Tabs
	snapshot.ActiveTab = resp.ActiveTab
	for _, tab := range resp.Tabs {
		terminal, err := s.service.GetTerminal(ctx, schema.GetTerminalRequest{UserID: userID, TabID: tab.ID})
		if err != nil || len(terminal.Terminal.Items) == 0 {
			continue
		}
		snapshot.Terminals[tab.ID] = terminal.Terminal
	}
	if history, err := s.service.ListQueryHistory(ctx, schema.ListQueryHistoryRequest{UserID: userID}); err == nil {
		snapshot.History = history.History
	}
	return snapshot
}

func (s *Server) requireUser(next func(http.ResponseWriter, *http.Request, schema.UserID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// The request logger already carries the user field.
		log := pslog.Ctx(r.Context())
		userID := s.lookupUser(r)
		if userID == "" {
			log.Warn("http user missing")
			writeError(w, http.StatusUnauthorized, fmt.Errorf("%w: set %s", schema.ErrInvalidUser, UserHeader))
			return
		}
		if err := schema.ValidateUserID(userID); err != nil {
			log.Warn("http user invalid", "err", err)
			writeError(w, http.StatusBadRequest, err)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		ctx := logx.ContextWithUserLogger(r.Context(), log, userID)
		next(w, r.WithContext(ctx), userID)
	}
}

func (s *Server) lookupUser(r *http.Request) schema.UserID {
	if s == nil || r == nil {
		return ""
	}
	if value := strings.TrimSpace(r.Header.Get(UserHeader)); value != "" {
		return schema.UserID(value)
	}
	return schema.UserID(strings.TrimSpace(s.cfg.DefaultUser))
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var remote *core.RemoteError
	switch {
	case errors.Is(err, schema.ErrTabNotFound), errors.Is(err, schema.ErrNoTabs), errors.Is(err, schema.ErrQueryItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrInvalidRequest),
		errors.Is(err, schema.ErrInvalidUser),
		errors.Is(err, schema.ErrEmptyStatement),
		errors.Is(err, schema.ErrEmptyTabLabel),
		errors.Is(err, schema.ErrInvalidFormat),
		errors.Is(err, schema.ErrInvalidLimit),
		errors.Is(err, schema.ErrMissingConnection):
		return http.StatusBadRequest
	case errors.Is(err, schema.ErrQueryItemFinalized), errors.Is(err, schema.ErrQueryItemNotRunning):
		return http.StatusConflict
	case errors.Is(err, schema.ErrSQLUnavailable), errors.Is(err, schema.ErrHistoryUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &remote):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeSSEvent(w http.ResponseWriter, event StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.Seq > 0 {
		_, _ = fmt.Fprintf(w, "id: %d\n", event.Seq)
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", event.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", strings.TrimSpace(string(data)))
	return nil
}

func parseUint(value string) uint64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}
