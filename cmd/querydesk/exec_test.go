package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"pkt.systems/querydesk/internal/sqlmock"
	"pkt.systems/querydesk/schema"
)

var execConfig = schema.ServiceConfig{DefaultConnection: "instances/test/databases/app"}

func TestRunExecPrintsTable(t *testing.T) {
	backend := sqlmock.New()
	defer func() { _ = backend.Close() }()
	var out bytes.Buffer
	err := runExec(context.Background(), backend, execConfig, execOptions{
		Statement: "select 1 as id, 'alice' as name",
	}, &out)
	if err != nil {
		t.Fatalf("runExec: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, separator, row and footer, got:\n%s", out.String())
	}
	if !strings.Contains(lines[0], "id") || !strings.Contains(lines[0], "name") || !strings.Contains(lines[2], "alice") {
		t.Fatalf("unexpected table:\n%s", out.String())
	}
}

func TestRunExecReportsFailure(t *testing.T) {
	backend := sqlmock.New()
	defer func() { _ = backend.Close() }()
	var out bytes.Buffer
	err := runExec(context.Background(), backend, execConfig, execOptions{Statement: "drop table users"}, &out)
	if !errors.Is(err, errQueryFailed) {
		t.Fatalf("expected errQueryFailed, got %v", err)
	}
	if !strings.Contains(out.String(), sqlmock.ErrNotReadOnly.Error()) {
		t.Fatalf("expected read-only error in output, got:\n%s", out.String())
	}
}

func TestRunExecAdminAllowsWrites(t *testing.T) {
	backend := sqlmock.New()
	defer func() { _ = backend.Close() }()
	var out bytes.Buffer
	err := runExec(context.Background(), backend, execConfig, execOptions{
		Statement: "create table t (id integer); select count(*) as n from t",
		Admin:     true,
	}, &out)
	if err != nil {
		t.Fatalf("runExec: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "OK (") {
		t.Fatalf("expected DDL acknowledgement, got:\n%s", out.String())
	}
}

func TestResolveStatement(t *testing.T) {
	got, err := resolveStatement([]string{"select 1"}, nil)
	if err != nil || got != "select 1" {
		t.Fatalf("unexpected arg statement %q (%v)", got, err)
	}
	got, err = resolveStatement([]string{"-"}, strings.NewReader("  select 2\n"))
	if err != nil || got != "select 2" {
		t.Fatalf("unexpected stdin statement %q (%v)", got, err)
	}
	if _, err := resolveStatement(nil, strings.NewReader("   ")); !errors.Is(err, schema.ErrEmptyStatement) {
		t.Fatalf("expected ErrEmptyStatement, got %v", err)
	}
}
