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
	"pkt.systems/querydesk/core"
	"pkt.systems/querydesk/internal/appconfig"
	"pkt.systems/querydesk/internal/sqlmock"
	"pkt.systems/querydesk/internal/sqlrpc"
	"pkt.systems/pslog"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var httpAddr string
	var noMock bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if strings.TrimSpace(httpAddr) != "" {
				cfg.HTTP.Addr = httpAddr
			}
			embedded := cfg.Mock.Embedded && !noMock

			ctx, logFile, err := withFileLogging(cmd.Context(), cfg.Logging, os.Stderr)
			if err != nil {
				return err
			}
			defer func() { _ = logFile.Close() }()
			logger := pslog.Ctx(ctx)

			store, closeStore, err := openSnapshotStore(cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()

			clientCfg := sqlClientConfig(cfg, embedded)
			client, err := sqlrpc.Dial(ctx, clientCfg)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			opts := []querydesk.ServerOption{querydesk.WithHTTP()}
			deps := querydesk.ServerDeps{
				ServiceDeps: core.ServiceDeps{
					SQL:       client,
					History:   client,
					Snapshots: store,
					Logger:    logger,
				},
			}
			if embedded {
				backend := sqlmock.New()
				defer func() { _ = backend.Close() }()
				deps.SQLMock = backend
				opts = append(opts, querydesk.WithSQLMock())
				logger.Info("sql mock embedded", "addr", cfg.Mock.Addr)
			}
			server, err := querydesk.New(serverConfig(cfg), deps, opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			if err := server.Start(ctx); err != nil {
				return err
			}
			if err := waitForSQL(ctx, client, clientCfg.DialTimeout); err != nil {
				// Queries keep failing as remote errors until the service comes up.
				logger.Warn("sql service unreachable", "addr", clientCfg.Address, "err", err)
			} else {
				logger.Info("sql service ready", "addr", clientCfg.Address)
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "override http.addr")
	cmd.Flags().BoolVar(&noMock, "no-mock", false, "do not start the embedded mock SQL service")
	return cmd
}
