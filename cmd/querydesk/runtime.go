package main

import (
	"context"
	"fmt"
	"time"

	"pkt.systems/querydesk"
	"pkt.systems/querydesk/core"
	"pkt.systems/querydesk/httpapi"
	"pkt.systems/querydesk/internal/appconfig"
	"pkt.systems/querydesk/internal/persist"
	"pkt.systems/querydesk/internal/sqlrpc"
	"pkt.systems/pslog"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// openSnapshotStore selects the tab persistence backend.
func openSnapshotStore(cfg appconfig.Config, logger pslog.Logger) (core.SnapshotStore, func() error, error) {
	switch cfg.Persistence.Backend {
	case appconfig.PersistenceSQLite:
		store, err := persist.OpenSQLiteStore(cfg.Persistence.SQLitePath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite state %s: %w", cfg.Persistence.SQLitePath, err)
		}
		logger.Info("persistence selected", "backend", appconfig.PersistenceSQLite, "path", cfg.Persistence.SQLitePath)
		return store, store.Close, nil
	case appconfig.PersistenceFile:
		store, err := persist.NewStoreWithLogger(cfg.StateDir, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("persistence selected", "backend", appconfig.PersistenceFile, "dir", cfg.StateDir)
		return store, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported persistence.backend %q", cfg.Persistence.Backend)
	}
}

// sqlClientConfig returns the client settings. With an embedded mock the
// client talks to the mock listener instead of sql.address.
func sqlClientConfig(cfg appconfig.Config, embedded bool) sqlrpc.Config {
	addr := cfg.SQL.Address
	if embedded {
		addr = cfg.Mock.Addr
	}
	return sqlrpc.Config{
		Address:      addr,
		DialTimeout:  time.Duration(cfg.SQL.DialTimeoutSeconds) * time.Second,
		QueryTimeout: time.Duration(cfg.SQL.QueryTimeoutSeconds) * time.Second,
	}
}

func serverConfig(cfg appconfig.Config) querydesk.ServerConfig {
	return querydesk.ServerConfig{
		Service: cfg.ServiceConfig(),
		HTTP: httpapi.Config{
			Addr:        cfg.HTTP.Addr,
			BasePath:    cfg.HTTP.BasePath,
			DefaultUser: cfg.HTTP.DefaultUser,
			HubHistory:  cfg.HTTP.HubHistory,
		},
		SQLMock: sqlrpc.Config{Address: cfg.Mock.Addr},
	}
}

// waitForSQL pings the SQL service until it answers or the dial timeout passes.
func waitForSQL(ctx context.Context, client *sqlrpc.Client, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for {
		pingCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		err := client.Ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("sql service not ready: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}
