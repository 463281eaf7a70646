package core

import (
	"context"
	"strings"
	"sync"
	"time"

	"pkt.systems/querydesk/internal/logx"
	"pkt.systems/querydesk/internal/sessionprefs"
	"pkt.systems/querydesk/schema"
	"pkt.systems/pslog"
)

// ExecuteRequest runs a statement on behalf of a tab.
type ExecuteRequest struct {
	TabID schema.TabID
	// Statement overrides the tab content. When empty the selection runs,
	// or the whole statement when nothing is selected.
	Statement  string
	Connection schema.ConnectionTarget
	Limit      int
	Format     schema.OutputFormat
	Admin      bool
	// OnDispatch, when set, sees the tab right after the request id is recorded.
	OnDispatch func(tab TabState)
}

// Execution is the outcome of one Run. Stale executions were superseded by
// a newer run on the same tab, or abandoned, and did not touch the tab.
type Execution struct {
	QueryID  schema.QueryID
	Sequence uint64
	Result   schema.QueryResultSet
	Applied  bool
	Stale    bool
	Tab      TabState
}

type inflightQuery struct {
	seq    uint64
	cancel context.CancelFunc
}

// QueryExecutor issues statements to the SQL service and writes results
// back to tabs behind a per-tab sequence guard.
type QueryExecutor struct {
	client SQLClient
	tabs   *TabStore
	cfg    schema.ServiceConfig
	now    func() time.Time

	mu       sync.Mutex
	inflight map[schema.TabID]inflightQuery
}

// NewQueryExecutor constructs an executor over tabs. cfg should already be normalized.
func NewQueryExecutor(client SQLClient, tabs *TabStore, cfg schema.ServiceConfig) *QueryExecutor {
	return &QueryExecutor{
		client:   client,
		tabs:     tabs,
		cfg:      cfg,
		now:      time.Now,
		inflight: make(map[schema.TabID]inflightQuery),
	}
}

// Run validates the request, issues exactly one remote call and applies the
// result when no newer run on the tab has been issued since. Remote failures
// are reported in Execution.Result.Error, never as the returned error.
func (e *QueryExecutor) Run(ctx context.Context, req ExecuteRequest) (Execution, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	tab, ok := e.tabs.Get(req.TabID)
	if !ok {
		return Execution{}, schema.ErrTabNotFound
	}
	statement, fromTab := resolveStatement(req.Statement, tab)
	if statement == "" {
		return Execution{}, schema.ErrEmptyStatement
	}
	connection := req.Connection
	if connection == "" {
		connection = tab.Connection
	}
	queryReq, err := e.buildRequest(ctx, statement, connection, req.Limit, req.Format, req.Admin)
	if err != nil {
		return Execution{}, err
	}

	queryID := schema.QueryID(newQueryID())
	started, seq, ok := e.tabs.beginQuery(req.TabID, queryID, fromTab)
	if !ok {
		return Execution{}, schema.ErrTabNotFound
	}
	if req.OnDispatch != nil {
		req.OnDispatch(started)
	}
	log := logx.WithConnection(logx.WithQuery(pslog.Ctx(ctx), queryID), queryReq.Connection).With("seq", seq)
	log.Debug("executor query dispatch", "statement_len", len(queryReq.Statement), "limit", queryReq.Limit, "format", queryReq.Format)

	runCtx, cancel := context.WithCancel(ctx)
	e.track(req.TabID, seq, cancel)
	result := e.execute(runCtx, queryID, queryReq)
	e.untrack(req.TabID, seq)
	cancel()

	updated, applied := e.tabs.applyResult(req.TabID, seq, result)
	if !applied {
		log.Debug("executor query stale", "latest_query_id", updated.CurrentQueryID)
		return Execution{QueryID: queryID, Sequence: seq, Result: result, Stale: true, Tab: updated}, nil
	}
	if result.Failed() {
		log.Info("executor query failed", "err", result.Error, "duration_ms", result.CompletedAt.Sub(result.StartedAt).Milliseconds())
	} else {
		log.Info("executor query finished", "results", len(result.Results), "advices", len(result.Advices), "duration_ms", result.CompletedAt.Sub(result.StartedAt).Milliseconds())
	}
	return Execution{QueryID: queryID, Sequence: seq, Result: result, Applied: true, Tab: updated}, nil
}

// StatementRequest describes a statement run outside tab bookkeeping, as
// terminal items do.
type StatementRequest struct {
	Statement  string
	Connection schema.ConnectionTarget
	Limit      int
	Format     schema.OutputFormat
	Admin      bool
}

// Prepare validates a statement request and resolves its defaults without
// any network call.
func (e *QueryExecutor) Prepare(ctx context.Context, req StatementRequest) (schema.QueryRequest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	statement := strings.TrimSpace(req.Statement)
	if statement == "" {
		return schema.QueryRequest{}, schema.ErrEmptyStatement
	}
	return e.buildRequest(ctx, statement, req.Connection, req.Limit, req.Format, req.Admin)
}

// Send issues one prepared request and normalizes the outcome. Failures are
// reported in the result's Error field.
func (e *QueryExecutor) Send(ctx context.Context, req schema.QueryRequest) schema.QueryResultSet {
	if ctx == nil {
		ctx = context.Background()
	}
	queryID := schema.QueryID(newQueryID())
	logx.WithQuery(pslog.Ctx(ctx), queryID).Debug("executor statement dispatch", "statement_len", len(req.Statement))
	return e.execute(ctx, queryID, req)
}

// Cancel abandons the in-flight execution of a tab: its result will not be
// applied and its request context is canceled.
func (e *QueryExecutor) Cancel(tabID schema.TabID) (schema.QueryID, bool) {
	queryID, ok := e.tabs.abandonQuery(tabID)
	if !ok {
		return "", false
	}
	e.mu.Lock()
	entry, found := e.inflight[tabID]
	delete(e.inflight, tabID)
	e.mu.Unlock()
	if found && entry.cancel != nil {
		entry.cancel()
	}
	return queryID, true
}

func (e *QueryExecutor) buildRequest(ctx context.Context, statement string, connection schema.ConnectionTarget, limit int, format schema.OutputFormat, admin bool) (schema.QueryRequest, error) {
	if e.client == nil {
		return schema.QueryRequest{}, schema.ErrSQLUnavailable
	}
	if limit < 0 {
		return schema.QueryRequest{}, schema.ErrInvalidLimit
	}
	normalized, err := schema.NormalizeOutputFormat(string(format))
	if err != nil {
		return schema.QueryRequest{}, err
	}
	format = normalized
	prefs := sessionprefs.FromContext(ctx)
	if limit == 0 && prefs != nil && prefs.Limit > 0 {
		limit = prefs.Limit
	}
	if limit == 0 {
		limit = e.cfg.DefaultRowLimit
	}
	if format == schema.FormatNative && prefs != nil {
		format = prefs.Format
	}
	if format == schema.FormatNative {
		format = e.cfg.DefaultFormat
	}
	if prefs != nil && prefs.Admin {
		admin = true
	}
	if connection == "" {
		connection = e.cfg.DefaultConnection
	}
	if connection == "" {
		return schema.QueryRequest{}, schema.ErrMissingConnection
	}
	return schema.QueryRequest{
		Connection: connection,
		Statement:  statement,
		Limit:      limit,
		Format:     format,
		Admin:      admin,
	}, nil
}

func (e *QueryExecutor) execute(ctx context.Context, queryID schema.QueryID, req schema.QueryRequest) schema.QueryResultSet {
	started := e.now()
	resp, err := e.client.Query(ctx, req)
	completed := e.now()
	result := schema.QueryResultSet{
		QueryID:     queryID,
		Statement:   req.Statement,
		Connection:  req.Connection,
		StartedAt:   started,
		CompletedAt: completed,
	}
	if err != nil {
		remoteErr := AsRemoteError("query", err)
		pslog.Ctx(ctx).Warn("executor remote call failed", "query_id", queryID, "kind", remoteErr.Kind, "err", remoteErr)
		result.Error = remoteErr.Error()
		result.Results = []schema.QueryResult{}
		result.Advices = []schema.Advice{}
		return result
	}
	result.Results = append([]schema.QueryResult{}, resp.Results...)
	result.Advices = append([]schema.Advice{}, resp.Advices...)
	return result
}

func (e *QueryExecutor) track(tabID schema.TabID, seq uint64, cancel context.CancelFunc) {
	e.mu.Lock()
	e.inflight[tabID] = inflightQuery{seq: seq, cancel: cancel}
	e.mu.Unlock()
}

func (e *QueryExecutor) untrack(tabID schema.TabID, seq uint64) {
	e.mu.Lock()
	if entry, ok := e.inflight[tabID]; ok && entry.seq == seq {
		delete(e.inflight, tabID)
	}
	e.mu.Unlock()
}

// resolveStatement picks the explicit statement, else the selection, else
// the whole tab statement. fromTab reports whether the tab content was used
// without a selection, which makes it the new saved baseline.
func resolveStatement(explicit string, tab TabState) (string, bool) {
	if trimmed := strings.TrimSpace(explicit); trimmed != "" {
		return trimmed, false
	}
	if trimmed := strings.TrimSpace(tab.SelectedStatement); trimmed != "" {
		return trimmed, false
	}
	return strings.TrimSpace(tab.QueryStatement), true
}
