package format

import (
	"reflect"
	"testing"
	"time"

	"pkt.systems/querydesk/schema"
)

func TestFormatResultTable(t *testing.T) {
	result := schema.QueryResult{
		ColumnNames: []string{"id", "name"},
		Rows: []schema.Row{
			{"id": float64(1), "name": "alice"},
			{"id": float64(22), "name": nil},
		},
		Latency: 12 * time.Millisecond,
	}
	got := NewPlainRenderer().FormatResult(result)
	want := []string{
		"id | name",
		"---+------",
		"1  | alice",
		"22 | NULL",
		"(2 rows, 12ms)",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected table:\nwant: %q\ngot:  %q", want, got)
	}
}

func TestFormatResultStatementError(t *testing.T) {
	got := NewPlainRenderer().FormatResult(schema.QueryResult{Error: "no such table: t"})
	if len(got) != 1 || got[0] != "error: no such table: t" {
		t.Fatalf("unexpected lines: %q", got)
	}
}

func TestFormatResultWithoutColumns(t *testing.T) {
	got := NewPlainRenderer().FormatResult(schema.QueryResult{Latency: 3 * time.Millisecond})
	if len(got) != 1 || got[0] != "OK (3ms)" {
		t.Fatalf("unexpected lines: %q", got)
	}
}

func TestTruncateLongCells(t *testing.T) {
	renderer := &PlainRenderer{MaxCellWidth: 8}
	if got := renderer.truncate("abcdefghijkl"); got != "abcde..." {
		t.Fatalf("unexpected truncation: %q", got)
	}
	if got := renderer.truncate("short"); got != "short" {
		t.Fatalf("expected short value untouched, got %q", got)
	}
}

func TestFormatResultSetErrorAndAdvices(t *testing.T) {
	renderer := NewPlainRenderer()
	got := renderer.FormatResultSet(&schema.QueryResultSet{Error: "connection refused"})
	if len(got) != 1 || got[0] != "error: connection refused" {
		t.Fatalf("unexpected lines: %q", got)
	}
	got = renderer.FormatResultSet(&schema.QueryResultSet{
		Results: []schema.QueryResult{{Latency: time.Millisecond}},
		Advices: []schema.Advice{{Status: schema.AdviceWarning, Title: "read-only mode", Content: "skipped"}},
	})
	if got[len(got)-1] != "[WARNING] read-only mode: skipped" {
		t.Fatalf("expected advice line, got %q", got)
	}
}

func TestFormatItem(t *testing.T) {
	renderer := NewPlainRenderer()
	got := renderer.FormatItem(schema.QueryItem{SQL: "select 1\nfrom t", Status: schema.QueryItemRunning})
	want := []string{"sql> select 1", "...> from t", "running..."}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected item lines:\nwant: %q\ngot:  %q", want, got)
	}
	idle := renderer.FormatItem(schema.QueryItem{SQL: "", Status: schema.QueryItemIdle})
	if len(idle) != 1 || idle[0] != "sql> " {
		t.Fatalf("unexpected idle prompt: %q", idle)
	}
}

func TestFormatHistory(t *testing.T) {
	renderer := NewPlainRenderer()
	if got := renderer.FormatHistory(nil); len(got) != 1 || got[0] != "no query history" {
		t.Fatalf("unexpected empty history: %q", got)
	}
	got := renderer.FormatHistory([]schema.QueryHistory{{Statement: "select\n  1", Error: "boom", Duration: 2 * time.Millisecond}})
	if len(got) != 1 || got[0] != "[failed] select 1 (2ms)" {
		t.Fatalf("unexpected history line: %q", got)
	}
}
