package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pkt.systems/querydesk"
	"pkt.systems/querydesk/core"
	"pkt.systems/querydesk/internal/appconfig"
	"pkt.systems/querydesk/internal/eventbus"
	"pkt.systems/querydesk/internal/format"
	"pkt.systems/querydesk/internal/sessionprefs"
	"pkt.systems/querydesk/internal/sqlmock"
	"pkt.systems/querydesk/internal/sqlrpc"
	"pkt.systems/querydesk/schema"
	"pkt.systems/pslog"
)

const (
	consoleUser     = schema.UserID("console")
	consoleTabLabel = "Console"
	consoleHelp     = `\q quit, \h query history, \c clear, \admin on|off, \limit <n>`
)

func newConsoleCmd() *cobra.Command {
	var cfgPath string
	var user string
	var limit int
	var admin bool
	var mock bool
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Interactive terminal-mode SQL session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			userID := resolveConsoleUser(user, cfg)
			if err := schema.ValidateUserID(userID); err != nil {
				return err
			}
			ctx, logFile, err := withFileLogging(cmd.Context(), cfg.Logging, nil)
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

			deps := querydesk.ServerDeps{ServiceDeps: core.ServiceDeps{Snapshots: store, Logger: logger}}
			if mock {
				backend := sqlmock.New()
				defer func() { _ = backend.Close() }()
				deps.ServiceDeps.SQL = backend
				deps.ServiceDeps.History = backend
			} else {
				clientCfg := sqlClientConfig(cfg, false)
				client, err := sqlrpc.Dial(ctx, clientCfg)
				if err != nil {
					return err
				}
				defer func() { _ = client.Close() }()
				if err := waitForSQL(ctx, client, clientCfg.DialTimeout); err != nil {
					return err
				}
				deps.ServiceDeps.SQL = client
				deps.ServiceDeps.History = client
			}
			server, err := querydesk.New(serverConfig(cfg), deps, querydesk.WithEventBus())
			if err != nil {
				return err
			}
			if err := server.Start(ctx); err != nil {
				return err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Stop(stopCtx)
			}()

			interactive := term.IsTerminal(int(os.Stdin.Fd()))
			session := newConsoleSession(server.Service(), server.Events(), userID, cmd.InOrStdin(), cmd.OutOrStdout(), interactive)
			session.prefs.Limit = limit
			session.prefs.Admin = admin
			return session.run(ctx)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVarP(&user, "user", "u", "", "session user (default http.default_user or console)")
	cmd.Flags().IntVar(&limit, "limit", 0, "row limit (default sql.default_limit)")
	cmd.Flags().BoolVar(&admin, "admin", false, "allow statements that are not read-only")
	cmd.Flags().BoolVar(&mock, "mock", false, "run against an in-process mock SQL engine")
	return cmd
}

func resolveConsoleUser(flag string, cfg appconfig.Config) schema.UserID {
	if value := strings.TrimSpace(flag); value != "" {
		return schema.UserID(value)
	}
	if value := strings.TrimSpace(cfg.HTTP.DefaultUser); value != "" {
		return schema.UserID(value)
	}
	return consoleUser
}

// consoleSession reads statements terminated by ';' and renders finished
// terminal items as they arrive on the event bus.
type consoleSession struct {
	service     core.Service
	bus         *eventbus.Bus
	user        schema.UserID
	tabID       schema.TabID
	renderer    *format.PlainRenderer
	in          io.Reader
	out         io.Writer
	interactive bool
	prefs       *sessionprefs.Prefs
	events      <-chan eventbus.Event
}

func newConsoleSession(service core.Service, bus *eventbus.Bus, user schema.UserID, in io.Reader, out io.Writer, interactive bool) *consoleSession {
	return &consoleSession{
		service:     service,
		bus:         bus,
		user:        user,
		renderer:    format.NewPlainRenderer(),
		in:          in,
		out:         out,
		interactive: interactive,
		prefs:       sessionprefs.New(),
	}
}

func (c *consoleSession) run(ctx context.Context) error {
	events, unsubscribe := c.bus.Subscribe(c.user)
	defer unsubscribe()
	c.events = events
	if err := c.openTab(ctx); err != nil {
		return err
	}
	if c.interactive {
		c.println("querydesk console; " + consoleHelp)
	}

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	var pending []string
	c.prompt(false)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if len(pending) == 0 && strings.HasPrefix(trimmed, `\`) {
			quit, err := c.meta(ctx, trimmed)
			if err != nil {
				c.println("error: " + err.Error())
			}
			if quit {
				return nil
			}
			c.prompt(false)
			continue
		}
		if trimmed == "" && len(pending) == 0 {
			c.prompt(false)
			continue
		}
		pending = append(pending, line)
		if !strings.HasSuffix(trimmed, ";") {
			c.prompt(true)
			continue
		}
		c.execute(ctx, strings.Join(pending, "\n"))
		pending = nil
		c.prompt(false)
	}
	if len(pending) > 0 {
		c.execute(ctx, strings.Join(pending, "\n"))
	}
	return scanner.Err()
}

func (c *consoleSession) openTab(ctx context.Context) error {
	listed, err := c.service.ListTabs(ctx, schema.ListTabsRequest{UserID: c.user})
	if err != nil {
		return err
	}
	if listed.ActiveTab != "" {
		c.tabID = listed.ActiveTab
		return nil
	}
	created, err := c.service.CreateTab(ctx, schema.CreateTabRequest{UserID: c.user, Label: consoleTabLabel})
	if err != nil {
		return err
	}
	c.tabID = created.Tab.ID
	return nil
}

func (c *consoleSession) execute(ctx context.Context, statement string) {
	_, err := c.service.RunTerminalQuery(sessionprefs.WithContext(ctx, c.prefs), schema.RunTerminalQueryRequest{
		UserID:    c.user,
		TabID:     c.tabID,
		Statement: statement,
	})
	if err != nil {
		c.println("error: " + err.Error())
		return
	}
	c.drain()
}

// drain renders the finished items already published for this session.
func (c *consoleSession) drain() {
	for {
		select {
		case event, ok := <-c.events:
			if !ok {
				return
			}
			if event.Type != eventbus.EventTerminal || event.Terminal.TabID != c.tabID {
				continue
			}
			item := event.Terminal.Item
			if !item.Status.Terminal() {
				continue
			}
			lines := c.renderer.FormatItem(item)
			if c.interactive {
				lines = c.renderer.FormatResultSet(item.Result)
			}
			for _, line := range lines {
				c.println(line)
			}
		default:
			return
		}
	}
}

func (c *consoleSession) meta(ctx context.Context, command string) (bool, error) {
	fields := strings.Fields(command)
	switch fields[0] {
	case `\q`, `\quit`:
		return true, nil
	case `\?`, `\help`:
		c.println(consoleHelp)
	case `\h`, `\history`:
		resp, err := c.service.FetchQueryHistory(ctx, schema.FetchQueryHistoryRequest{UserID: c.user})
		if err != nil {
			return false, err
		}
		for _, line := range c.renderer.FormatHistory(resp.History.Histories) {
			c.println(line)
		}
	case `\c`, `\clear`:
		if _, err := c.service.ClearTerminal(ctx, schema.ClearTerminalRequest{UserID: c.user, TabID: c.tabID}); err != nil {
			return false, err
		}
		c.drain()
	case `\admin`:
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			return false, errors.New(`usage: \admin on|off`)
		}
		c.prefs.Admin = fields[1] == "on"
		c.println("admin " + fields[1])
	case `\limit`:
		if len(fields) != 2 {
			return false, errors.New(`usage: \limit <n>`)
		}
		limit, err := strconv.Atoi(fields[1])
		if err != nil || limit < 0 {
			return false, schema.ErrInvalidLimit
		}
		c.prefs.Limit = limit
		c.println("limit " + fields[1])
	default:
		return false, fmt.Errorf("unknown command %s; %s", fields[0], consoleHelp)
	}
	return false, nil
}

func (c *consoleSession) prompt(continuation bool) {
	if !c.interactive {
		return
	}
	prefix := "sql> "
	if continuation {
		prefix = "...> "
	}
	_, _ = fmt.Fprint(c.out, prefix)
}

func (c *consoleSession) println(line string) {
	_, _ = fmt.Fprintln(c.out, line)
}
