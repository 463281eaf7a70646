package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"pkt.systems/pslog"
)

func TestWithQueryAddsFields(t *testing.T) {
	capture := &logCapture{}
	logger := pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
	log := WithConnection(WithQuery(logger, "q-1"), "instances/prod/databases/app")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["query_id"] != "q-1" {
		t.Fatalf("expected query_id field, got %+v", entry)
	}
	if entry["connection"] != "instances/prod/databases/app" {
		t.Fatalf("expected connection field, got %+v", entry)
	}
}

func TestWithQueryEmptySkipsField(t *testing.T) {
	capture := &logCapture{}
	logger := pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
	WithQuery(logger, "").Info("hello")

	entry := capture.firstEntry(t)
	if _, ok := entry["query_id"]; ok {
		t.Fatalf("did not expect query_id for empty id")
	}
}

func TestWithUserDeduplicates(t *testing.T) {
	capture := &logCapture{}
	logger := pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
	ctx := ContextWithUserLogger(context.Background(), logger.With("user", "alice"), "alice")
	WithUser(ctx, "alice").Info("hello")

	line := strings.TrimSpace(capture.buf.String())
	if strings.Count(line, `"user"`) != 1 {
		t.Fatalf("expected a single user field, got %s", line)
	}
}

func TestWithUserTabAddsFields(t *testing.T) {
	capture := &logCapture{}
	logger := pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
	ctx := pslog.ContextWithLogger(context.Background(), logger)
	log := WithUserTab(ctx, "alice", "tab1")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["user"] != "alice" {
		t.Fatalf("expected user field, got %+v", entry)
	}
	if entry["tab"] != "tab1" {
		t.Fatalf("expected tab field, got %+v", entry)
	}
}

func TestCopyContextFieldsKeepsMarkers(t *testing.T) {
	capture := &logCapture{}
	logger := pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
	bound := logger.With("user", "alice").With("tab", "tab1")
	src := ContextWithUserTabLogger(context.Background(), bound, "alice", "tab1")
	dst := CopyContextFields(pslog.ContextWithLogger(context.Background(), bound), src)
	WithUserTab(dst, "alice", "tab1").Info("hello")

	line := strings.TrimSpace(capture.buf.String())
	if strings.Count(line, `"user"`) != 1 || strings.Count(line, `"tab"`) != 1 {
		t.Fatalf("expected single user and tab fields, got %s", line)
	}
}

func TestWithUserTabOtherTabAddsField(t *testing.T) {
	capture := &logCapture{}
	logger := pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
	ctx := ContextWithUserLogger(context.Background(), logger.With("user", "alice"), "alice")
	WithUserTab(ctx, "alice", "tab2").Info("hello")

	entry := capture.firstEntry(t)
	if entry["tab"] != "tab2" || entry["user"] != "alice" {
		t.Fatalf("expected user and tab fields, got %+v", entry)
	}
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
