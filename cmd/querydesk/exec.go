package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/querydesk/core"
	"pkt.systems/querydesk/internal/appconfig"
	"pkt.systems/querydesk/internal/format"
	"pkt.systems/querydesk/internal/sessionprefs"
	"pkt.systems/querydesk/internal/sqlmock"
	"pkt.systems/querydesk/internal/sqlrpc"
	"pkt.systems/querydesk/schema"
	"pkt.systems/pslog"
)

// execUser owns the throwaway workspace of a one-shot execution.
const execUser = schema.UserID("exec")

var errQueryFailed = errors.New("query failed")

type execOptions struct {
	Statement  string
	Connection schema.ConnectionTarget
	Limit      int
	Format     schema.OutputFormat
	Admin      bool
}

func newExecCmd() *cobra.Command {
	var cfgPath string
	var connection string
	var limit int
	var formatName string
	var admin bool
	var mock bool
	cmd := &cobra.Command{
		Use:   "exec [statement|-]",
		Short: "Run a statement once and print the result as a table",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			statement, err := resolveStatement(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			outputFormat, err := schema.NormalizeOutputFormat(formatName)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			var client core.SQLClient
			if mock {
				backend := sqlmock.New()
				defer func() { _ = backend.Close() }()
				client = backend
			} else {
				clientCfg := sqlClientConfig(cfg, false)
				rpc, err := sqlrpc.Dial(ctx, clientCfg)
				if err != nil {
					return err
				}
				defer func() { _ = rpc.Close() }()
				if err := waitForSQL(ctx, rpc, clientCfg.DialTimeout); err != nil {
					return err
				}
				client = rpc
			}
			return runExec(ctx, client, cfg.ServiceConfig(), execOptions{
				Statement:  statement,
				Connection: schema.ConnectionTarget(connection),
				Limit:      limit,
				Format:     outputFormat,
				Admin:      admin,
			}, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&connection, "connection", "", "connection target (default service.default_connection)")
	cmd.Flags().IntVar(&limit, "limit", 0, "row limit (default sql.default_limit)")
	cmd.Flags().StringVar(&formatName, "format", "", "result format: json, csv or sql")
	cmd.Flags().BoolVar(&admin, "admin", false, "allow statements that are not read-only")
	cmd.Flags().BoolVar(&mock, "mock", false, "run against an in-process mock SQL engine")
	return cmd
}

func resolveStatement(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", err
	}
	statement := strings.TrimSpace(string(data))
	if statement == "" {
		return "", schema.ErrEmptyStatement
	}
	return statement, nil
}

func runExec(ctx context.Context, client core.SQLClient, cfg schema.ServiceConfig, opts execOptions, out io.Writer) error {
	cfg.DisableHistoryRefresh = true
	service, err := core.NewService(cfg, core.ServiceDeps{SQL: client, Logger: pslog.Ctx(ctx)})
	if err != nil {
		return err
	}
	created, err := service.CreateTab(ctx, schema.CreateTabRequest{
		UserID:     execUser,
		Statement:  opts.Statement,
		Connection: opts.Connection,
	})
	if err != nil {
		return err
	}
	prefs := sessionprefs.New()
	prefs.Limit = opts.Limit
	prefs.Format = opts.Format
	prefs.Admin = opts.Admin
	started := time.Now()
	resp, err := service.RunQuery(sessionprefs.WithContext(ctx, prefs), schema.RunQueryRequest{
		UserID: execUser,
		TabID:  created.Tab.ID,
	})
	if err != nil {
		return err
	}
	pslog.Ctx(ctx).Debug("exec finished", "query_id", resp.QueryID, "duration_ms", time.Since(started).Milliseconds())
	for _, line := range format.NewPlainRenderer().FormatResultSet(&resp.Result) {
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	if resp.Result.Failed() {
		return errQueryFailed
	}
	return nil
}
