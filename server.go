package querydesk

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"pkt.systems/querydesk/core"
	"pkt.systems/querydesk/httpapi"
	"pkt.systems/querydesk/internal/eventbus"
	"pkt.systems/querydesk/internal/sqlrpc"
	"pkt.systems/querydesk/schema"
	"pkt.systems/pslog"
)

// Server composes the query session service with its transports.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	// Service returns the core service, or nil when only the mock SQL
	// service is enabled.
	Service() core.Service
	// Events returns the in-process event bus, or nil when disabled.
	Events() *eventbus.Bus
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	Service schema.ServiceConfig
	HTTP    httpapi.Config
	SQLMock sqlrpc.Config
}

// ServerDeps captures dependencies required to build the server.
type ServerDeps struct {
	ServiceDeps core.ServiceDeps
	// SQLMock is served over gRPC when WithSQLMock is set.
	SQLMock sqlrpc.Backend
}

// ServerOption toggles compositor components.
type ServerOption func(*serverOptions)

type serverOptions struct {
	enableHTTP    bool
	enableBus     bool
	enableSQLMock bool
}

// WithHTTP enables the HTTP API server.
func WithHTTP() ServerOption {
	return func(o *serverOptions) { o.enableHTTP = true }
}

// WithEventBus enables the in-process event bus used by terminal clients.
func WithEventBus() ServerOption {
	return func(o *serverOptions) { o.enableBus = true }
}

// WithSQLMock serves deps.SQLMock as the SQL gRPC service.
func WithSQLMock() ServerOption {
	return func(o *serverOptions) { o.enableSQLMock = true }
}

// New constructs a composable querydesk server.
func New(cfg ServerConfig, deps ServerDeps, opts ...ServerOption) (Server, error) {
	options := serverOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if !options.enableHTTP && !options.enableBus && !options.enableSQLMock {
		return nil, errors.New("no services enabled")
	}

	var hub *httpapi.Hub
	var bus *eventbus.Bus
	var service core.Service
	var httpSrv *httpapi.Server
	var mockSrv *sqlrpc.Server
	if options.enableHTTP || options.enableBus {
		if deps.ServiceDeps.SQL == nil {
			return nil, errors.New("sql client dependency is required")
		}
		normalized, err := schema.NormalizeServiceConfig(cfg.Service)
		if err != nil {
			return nil, err
		}
		cfg.Service = normalized

		serviceDeps := deps.ServiceDeps
		if options.enableBus {
			bus = eventbus.New(serviceDeps.Logger)
		}
		if options.enableHTTP {
			hub = httpapi.NewHub(cfg.HTTP.HubHistory)
		}
		sinks := make([]core.EventSink, 0, 3)
		if serviceDeps.EventSink != nil {
			sinks = append(sinks, serviceDeps.EventSink)
		}
		if hub != nil {
			sinks = append(sinks, hub)
		}
		if bus != nil {
			sinks = append(sinks, bus)
		}
		switch len(sinks) {
		case 0:
		case 1:
			serviceDeps.EventSink = sinks[0]
		default:
			serviceDeps.EventSink = eventFanout{sinks: sinks}
		}

		service, err = core.NewService(cfg.Service, serviceDeps)
		if err != nil {
			return nil, err
		}
		if options.enableHTTP {
			httpSrv = httpapi.NewServer(cfg.HTTP, service, hub)
		}
	}

	if options.enableSQLMock {
		if deps.SQLMock == nil {
			return nil, errors.New("sql mock backend dependency is required")
		}
		mockSrv = sqlrpc.NewServer(cfg.SQLMock, deps.SQLMock)
	}

	return &compositeServer{
		cfg:     cfg,
		options: options,
		service: service,
		bus:     bus,
		httpSrv: httpSrv,
		mockSrv: mockSrv,
	}, nil
}

type compositeServer struct {
	cfg     ServerConfig
	options serverOptions
	service core.Service
	bus     *eventbus.Bus
	httpSrv *httpapi.Server
	mockSrv *sqlrpc.Server
	logger  pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	started bool
}

func (s *compositeServer) Service() core.Service {
	return s.service
}

func (s *compositeServer) Events() *eventbus.Bus {
	return s.bus
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.started = true
	s.logger = pslog.Ctx(s.ctx)
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"http", s.options.enableHTTP,
		"bus", s.options.enableBus,
		"sql_mock", s.options.enableSQLMock,
		"http_addr", s.cfg.HTTP.Addr,
		"http_base_path", s.cfg.HTTP.BasePath,
		"sql_mock_addr", s.cfg.SQLMock.Address,
	)
	group, groupCtx := errgroup.WithContext(s.ctx)
	if s.mockSrv != nil {
		group.Go(func() error {
			if err := s.mockSrv.ListenAndServe(groupCtx); err != nil {
				log.Error("sql mock server failed", "err", err)
				return err
			}
			return nil
		})
	}
	if s.httpSrv != nil {
		group.Go(func() error {
			if err := httpapi.ListenAndServe(groupCtx, s.cfg.HTTP.Addr, s.httpSrv.Handler()); err != nil {
				log.Error("http server failed", "err", err)
				return err
			}
			return nil
		})
	}
	go func() {
		err := group.Wait()
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	}()
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	done := s.done
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}
	<-done
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("server stopped", "err", err)
		_ = s.Stop(context.Background())
	}
	return err
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	started := s.started
	log := s.logger
	s.mu.Unlock()
	if !started {
		return nil
	}
	if log == nil {
		log = pslog.Ctx(context.Background())
	}
	log.Info("server stop requested")
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-done:
		log.Info("server stopped")
		return nil
	}
}
