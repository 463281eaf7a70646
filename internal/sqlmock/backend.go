// Package sqlmock is an in-process SQL service used for local development
// and tests. Each connection target gets its own in-memory SQLite database.
package sqlmock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	// Registers the pure Go "sqlite" driver.
	_ "modernc.org/sqlite"

	"pkt.systems/querydesk/schema"
	"pkt.systems/pslog"
)

// ErrNotReadOnly is reported for mutating statements sent without admin.
var ErrNotReadOnly = errors.New("statement is not read-only; enable admin mode to run it")

// Backend executes statements and records each execution as history.
type Backend struct {
	mu        sync.Mutex
	dbs       map[schema.ConnectionTarget]*sql.DB
	histories []schema.QueryHistory
	now       func() time.Time
	closed    bool
}

// New constructs an empty backend.
func New() *Backend {
	return &Backend{dbs: make(map[schema.ConnectionTarget]*sql.DB), now: time.Now}
}

// Query runs every statement of req in order. Statement failures are
// reported per result; only an unusable connection fails the call.
func (b *Backend) Query(ctx context.Context, req schema.QueryRequest) (schema.QueryResponse, error) {
	if strings.TrimSpace(req.Statement) == "" {
		return schema.QueryResponse{}, schema.ErrEmptyStatement
	}
	if strings.TrimSpace(string(req.Connection)) == "" {
		return schema.QueryResponse{}, schema.ErrMissingConnection
	}
	db, err := b.database(req.Connection)
	if err != nil {
		return schema.QueryResponse{}, err
	}
	log := pslog.Ctx(ctx)
	started := b.now()
	resp := schema.QueryResponse{Results: []schema.QueryResult{}, Advices: []schema.Advice{}}
	var firstErr string
	for _, statement := range SplitStatements(req.Statement) {
		result := b.run(ctx, db, statement, req.Limit, req.Admin)
		if result.Error != "" && firstErr == "" {
			firstErr = result.Error
		}
		if !req.Admin && !readOnly(statement) {
			resp.Advices = append(resp.Advices, schema.Advice{
				Status:  schema.AdviceWarning,
				Title:   "read-only mode",
				Content: fmt.Sprintf("%q was not executed", statement),
			})
		}
		resp.Results = append(resp.Results, result)
	}
	b.record(schema.QueryHistory{
		Name:       "queryHistories/" + uuid.NewString(),
		Statement:  req.Statement,
		Connection: req.Connection,
		Type:       schema.QueryHistoryQuery,
		Duration:   b.now().Sub(started),
		Error:      firstErr,
		CreatedAt:  started,
	})
	log.Debug("sql mock query", "connection", req.Connection, "statements", len(resp.Results), "failed", firstErr != "")
	return resp, nil
}

// SearchQueryHistories returns the newest records first. Only the
// `type == "..."` filter form is understood.
func (b *Backend) SearchQueryHistories(_ context.Context, req schema.SearchQueryHistoriesRequest) (schema.SearchQueryHistoriesResponse, error) {
	kind, err := parseTypeFilter(req.Filter)
	if err != nil {
		return schema.SearchQueryHistoriesResponse{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]schema.QueryHistory, 0, len(b.histories))
	for i := len(b.histories) - 1; i >= 0; i-- {
		history := b.histories[i]
		if kind != "" && history.Type != kind {
			continue
		}
		out = append(out, history)
		if req.PageSize > 0 && len(out) == req.PageSize {
			break
		}
	}
	return schema.SearchQueryHistoriesResponse{QueryHistories: out}, nil
}

// Close closes every database.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	var errs []error
	for target, db := range b.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(b.dbs, target)
	}
	return errors.Join(errs...)
}

func (b *Backend) database(target schema.ConnectionTarget) (*sql.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("sql mock closed")
	}
	if db, ok := b.dbs[target]; ok {
		return db, nil
	}
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, err
	}
	// Every pooled connection would otherwise see its own empty database.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	b.dbs[target] = db
	return db, nil
}

func (b *Backend) record(history schema.QueryHistory) {
	b.mu.Lock()
	b.histories = append(b.histories, history)
	b.mu.Unlock()
}

func (b *Backend) run(ctx context.Context, db *sql.DB, statement string, limit int, admin bool) (result schema.QueryResult) {
	started := b.now()
	result = schema.QueryResult{
		Statement:       statement,
		ColumnNames:     []string{},
		ColumnTypeNames: []string{},
		Rows:            []schema.Row{},
	}
	defer func() { result.Latency = b.now().Sub(started) }()
	if !admin && !readOnly(statement) {
		result.Error = ErrNotReadOnly.Error()
		return result
	}
	rows, err := db.QueryContext(ctx, statement)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer func() { _ = rows.Close() }()
	columns, err := rows.Columns()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.ColumnNames = columns
	if types, err := rows.ColumnTypes(); err == nil {
		for _, columnType := range types {
			result.ColumnTypeNames = append(result.ColumnTypeNames, columnType.DatabaseTypeName())
		}
	}
	for rows.Next() {
		if limit > 0 && len(result.Rows) >= limit {
			break
		}
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			result.Error = err.Error()
			return result
		}
		row := make(schema.Row, len(columns))
		for i, column := range columns {
			row[column] = cellValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		result.Error = err.Error()
	}
	return result
}

func cellValue(value any) any {
	switch v := value.(type) {
	case []byte:
		return string(v)
	default:
		return v
	}
}

var readOnlyPrefixes = []string{"select", "with", "explain", "pragma", "values"}

func readOnly(statement string) bool {
	lowered := strings.ToLower(strings.TrimSpace(statement))
	for _, prefix := range readOnlyPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			return true
		}
	}
	return false
}

func parseTypeFilter(filter string) (schema.QueryHistoryType, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return "", nil
	}
	field, value, ok := strings.Cut(filter, "==")
	if !ok || strings.TrimSpace(field) != "type" {
		return "", fmt.Errorf("%w: unsupported filter %q", schema.ErrInvalidRequest, filter)
	}
	value = strings.Trim(strings.TrimSpace(value), `"`)
	return schema.QueryHistoryType(value), nil
}
