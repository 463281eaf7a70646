package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/querydesk"
	"pkt.systems/querydesk/internal/appconfig"
	"pkt.systems/querydesk/internal/sqlmock"
	"pkt.systems/querydesk/internal/sqlrpc"
	"pkt.systems/pslog"
)

func newSQLMockCmd() *cobra.Command {
	var cfgPath string
	var addr string
	cmd := &cobra.Command{
		Use:   "sql-mock",
		Short: "Serve an in-memory SQLite backed SQL service over gRPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if strings.TrimSpace(addr) != "" {
				cfg.Mock.Addr = addr
			}
			ctx, logFile, err := withFileLogging(cmd.Context(), cfg.Logging, os.Stderr)
			if err != nil {
				return err
			}
			defer func() { _ = logFile.Close() }()
			logger := pslog.Ctx(ctx)

			backend := sqlmock.New()
			defer func() { _ = backend.Close() }()
			server, err := querydesk.New(querydesk.ServerConfig{
				SQLMock: sqlrpc.Config{Address: cfg.Mock.Addr},
			}, querydesk.ServerDeps{SQLMock: backend}, querydesk.WithSQLMock())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("sql mock stop failed", "err", err)
				}
			}()
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "override mock.addr (host:port or unix socket path)")
	return cmd
}
