package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pkt.systems/querydesk/internal/appconfig"
	"pkt.systems/pslog"
)

func defaultTestConfig(t *testing.T) appconfig.Config {
	t.Helper()
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig: %v", err)
	}
	cfg.StateDir = t.TempDir()
	cfg.Persistence.SQLitePath = filepath.Join(cfg.StateDir, "querydesk.db")
	return cfg
}

func TestOpenSnapshotStoreBackends(t *testing.T) {
	logger := pslog.Ctx(context.Background())
	for _, backend := range []string{appconfig.PersistenceFile, appconfig.PersistenceSQLite} {
		cfg := defaultTestConfig(t)
		cfg.Persistence.Backend = backend
		store, closeStore, err := openSnapshotStore(cfg, logger)
		if err != nil {
			t.Fatalf("%s: open: %v", backend, err)
		}
		if _, ok, err := store.Load("alice"); err != nil || ok {
			t.Fatalf("%s: expected empty store, ok=%v err=%v", backend, ok, err)
		}
		if err := closeStore(); err != nil {
			t.Fatalf("%s: close: %v", backend, err)
		}
	}
	cfg := defaultTestConfig(t)
	cfg.Persistence.Backend = "redis"
	if _, _, err := openSnapshotStore(cfg, logger); err == nil {
		t.Fatalf("expected unsupported backend error")
	}
}

func TestSQLClientConfig(t *testing.T) {
	cfg := defaultTestConfig(t)
	cfg.SQL.Address = "db.internal:9000"
	cfg.Mock.Addr = "/tmp/mock.sock"
	cfg.SQL.QueryTimeoutSeconds = 7
	if got := sqlClientConfig(cfg, false); got.Address != "db.internal:9000" || got.QueryTimeout != 7*time.Second {
		t.Fatalf("unexpected remote config: %+v", got)
	}
	if got := sqlClientConfig(cfg, true); got.Address != "/tmp/mock.sock" {
		t.Fatalf("expected embedded mock address, got %+v", got)
	}
}

func TestServerConfigMapsHTTP(t *testing.T) {
	cfg := defaultTestConfig(t)
	cfg.HTTP.BasePath = "/qd"
	cfg.HTTP.DefaultUser = "local"
	got := serverConfig(cfg)
	if got.HTTP.BasePath != "/qd" || got.HTTP.DefaultUser != "local" || got.SQLMock.Address != cfg.Mock.Addr {
		t.Fatalf("unexpected server config: %+v", got)
	}
	if got.Service.DefaultConnection == "" {
		t.Fatalf("expected default connection to be carried")
	}
}

func TestLoggerOptions(t *testing.T) {
	for _, level := range []string{"", "info", "DEBUG", "trace", "error"} {
		if _, err := loggerOptions(level); err != nil {
			t.Fatalf("loggerOptions(%q): %v", level, err)
		}
	}
	if _, err := loggerOptions("loud"); err == nil {
		t.Fatalf("expected unsupported level error")
	}
}

func TestWithFileLoggingWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "querydesk.log")
	ctx, closer, err := withFileLogging(context.Background(), appconfig.LoggingConfig{
		Level:      "info",
		File:       path,
		MaxSizeMB:  1,
		MaxBackups: 1,
	}, nil)
	if err != nil {
		t.Fatalf("withFileLogging: %v", err)
	}
	pslog.Ctx(ctx).Info("file logging probe")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "file logging probe") {
		t.Fatalf("expected probe in log file, got %q", data)
	}
}

func TestWithFileLoggingDisabled(t *testing.T) {
	ctx := context.Background()
	got, closer, err := withFileLogging(ctx, appconfig.LoggingConfig{}, nil)
	if err != nil || got != ctx {
		t.Fatalf("expected unchanged context, err=%v", err)
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
