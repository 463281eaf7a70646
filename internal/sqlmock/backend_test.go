package sqlmock

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"pkt.systems/querydesk/schema"
)

const testConnection = schema.ConnectionTarget("instances/dev/databases/app")

func TestSplitStatements(t *testing.T) {
	got := SplitStatements("select 1; select ';' -- trailing; comment\n;  ; select \"a;b\"")
	want := []string{"select 1", "select ';'", "select \"a;b\""}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected split:\nwant: %q\ngot:  %q", want, got)
	}
}

func TestQueryRunsStatementsInOrder(t *testing.T) {
	backend := New()
	defer func() { _ = backend.Close() }()
	ctx := context.Background()
	resp, err := backend.Query(ctx, schema.QueryRequest{
		Connection: testConnection,
		Statement:  "create table t (id integer, name text); insert into t values (1, 'a'), (2, 'b'), (3, 'c'); select id, name from t order by id",
		Limit:      2,
		Admin:      true,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(resp.Results))
	}
	selectResult := resp.Results[2]
	if selectResult.Error != "" {
		t.Fatalf("unexpected error: %s", selectResult.Error)
	}
	if !reflect.DeepEqual(selectResult.ColumnNames, []string{"id", "name"}) {
		t.Fatalf("unexpected columns: %v", selectResult.ColumnNames)
	}
	if len(selectResult.Rows) != 2 {
		t.Fatalf("expected limit to cap rows at 2, got %d", len(selectResult.Rows))
	}
	if selectResult.Rows[1]["name"] != "b" {
		t.Fatalf("unexpected second row: %+v", selectResult.Rows[1])
	}
}

func TestQueryReadOnlyWithoutAdmin(t *testing.T) {
	backend := New()
	defer func() { _ = backend.Close() }()
	resp, err := backend.Query(context.Background(), schema.QueryRequest{
		Connection: testConnection,
		Statement:  "create table t (id integer)",
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp.Results[0].Error != ErrNotReadOnly.Error() {
		t.Fatalf("expected read-only error, got %q", resp.Results[0].Error)
	}
	if len(resp.Advices) != 1 || resp.Advices[0].Status != schema.AdviceWarning {
		t.Fatalf("expected a warning advice, got %+v", resp.Advices)
	}
}

func TestQueryStatementErrorIsPerResult(t *testing.T) {
	backend := New()
	defer func() { _ = backend.Close() }()
	resp, err := backend.Query(context.Background(), schema.QueryRequest{
		Connection: testConnection,
		Statement:  "select * from missing; select 2",
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp.Results[0].Error == "" || resp.Results[1].Error != "" {
		t.Fatalf("expected only the first statement to fail, got %+v", resp.Results)
	}
}

func TestQueryConnectionsAreIsolated(t *testing.T) {
	backend := New()
	defer func() { _ = backend.Close() }()
	ctx := context.Background()
	if _, err := backend.Query(ctx, schema.QueryRequest{Connection: testConnection, Statement: "create table t (id integer)", Admin: true}); err != nil {
		t.Fatalf("create: %v", err)
	}
	resp, err := backend.Query(ctx, schema.QueryRequest{Connection: "instances/dev/databases/other", Statement: "select * from t"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp.Results[0].Error == "" {
		t.Fatalf("expected table to be missing on another connection")
	}
}

func TestQueryValidation(t *testing.T) {
	backend := New()
	defer func() { _ = backend.Close() }()
	if _, err := backend.Query(context.Background(), schema.QueryRequest{Connection: testConnection}); !errors.Is(err, schema.ErrEmptyStatement) {
		t.Fatalf("expected ErrEmptyStatement, got %v", err)
	}
	if _, err := backend.Query(context.Background(), schema.QueryRequest{Statement: "select 1"}); !errors.Is(err, schema.ErrMissingConnection) {
		t.Fatalf("expected ErrMissingConnection, got %v", err)
	}
}

func TestSearchQueryHistories(t *testing.T) {
	backend := New()
	defer func() { _ = backend.Close() }()
	ctx := context.Background()
	for _, statement := range []string{"select 1", "select 2", "select 3"} {
		if _, err := backend.Query(ctx, schema.QueryRequest{Connection: testConnection, Statement: statement}); err != nil {
			t.Fatalf("query: %v", err)
		}
	}
	resp, err := backend.SearchQueryHistories(ctx, schema.SearchQueryHistoriesRequest{
		PageSize: 2,
		Filter:   schema.QueryHistoryFilterQuery,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.QueryHistories) != 2 {
		t.Fatalf("expected page of 2, got %d", len(resp.QueryHistories))
	}
	if resp.QueryHistories[0].Statement != "select 3" || resp.QueryHistories[1].Statement != "select 2" {
		t.Fatalf("expected newest first, got %+v", resp.QueryHistories)
	}
	if _, err := backend.SearchQueryHistories(ctx, schema.SearchQueryHistoriesRequest{Filter: "name = x"}); !errors.Is(err, schema.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for unsupported filter, got %v", err)
	}
}
