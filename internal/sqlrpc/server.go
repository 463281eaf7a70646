package sqlrpc

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"pkt.systems/querydesk/core"
	"pkt.systems/querydesk/schema"
	"pkt.systems/pslog"
)

// Backend executes SQL and serves history for the gRPC server.
type Backend interface {
	core.SQLClient
	core.HistoryClient
}

// Server exposes a Backend as the SQL gRPC service.
type Server struct {
	cfg     Config
	backend Backend
	logger  pslog.Logger

	mu   sync.Mutex
	addr net.Addr
}

// NewServer constructs a SQL gRPC server.
func NewServer(cfg Config, backend Backend) *Server {
	return &Server{cfg: cfg, backend: backend}
}

// Addr returns the bound listener address once serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ListenAndServe serves until ctx is canceled, then stops gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Address)
	if addr == "" {
		return errors.New("sql service address is required")
	}
	if s.backend == nil {
		return errors.New("sql backend is required")
	}
	if s.logger == nil {
		s.logger = pslog.Ctx(ctx)
	}
	listener, err := listen(addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.addr = listener.Addr()
	s.mu.Unlock()

	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&sqlServiceDesc, s)
	healthServer := health.NewServer()
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	s.logger.Info("sql grpc listening", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- grpcServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		s.logger.Info("sql grpc stopped")
		return nil
	case err := <-errCh:
		return err
	}
}

func listen(addr string) (net.Listener, error) {
	if !isUnixAddress(addr) {
		return net.Listen("tcp", addr)
	}
	path := unixPath(addr)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	_ = os.Remove(path)
	return net.Listen("unix", path)
}

func (s *Server) query(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := fromPBQueryRequest(in)
	log := s.log(ctx).With("connection", req.Connection)
	if strings.TrimSpace(req.Statement) == "" {
		log.Warn("sql query rejected", "reason", "empty statement")
		return nil, status.Error(codes.InvalidArgument, "statement is required")
	}
	log.Debug("sql query start", "statement_len", len(req.Statement), "limit", req.Limit, "format", req.Format)
	resp, err := s.backend.Query(pslog.ContextWithLogger(ctx, log), req)
	if err != nil {
		log.Warn("sql query failed", "err", err)
		return nil, toStatus(err)
	}
	log.Debug("sql query finished", "results", len(resp.Results))
	return toPBQueryResponse(resp), nil
}

func (s *Server) searchQueryHistories(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := fromPBSearchRequest(in)
	log := s.log(ctx)
	resp, err := s.backend.SearchQueryHistories(ctx, req)
	if err != nil {
		log.Warn("sql history failed", "err", err)
		return nil, toStatus(err)
	}
	log.Trace("sql history served", "page_size", req.PageSize, "histories", len(resp.QueryHistories))
	return toPBSearchResponse(resp), nil
}

func (s *Server) log(ctx context.Context) pslog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return pslog.Ctx(ctx)
}

// toStatus maps backend errors onto gRPC codes.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	var remote *core.RemoteError
	if errors.As(err, &remote) {
		switch remote.Kind {
		case core.RemoteErrorUnauthenticated:
			return status.Error(codes.Unauthenticated, remote.Error())
		case core.RemoteErrorPermissionDenied:
			return status.Error(codes.PermissionDenied, remote.Error())
		case core.RemoteErrorInvalidArgument:
			return status.Error(codes.InvalidArgument, remote.Error())
		case core.RemoteErrorUnavailable:
			return status.Error(codes.Unavailable, remote.Error())
		case core.RemoteErrorTimeout:
			return status.Error(codes.DeadlineExceeded, remote.Error())
		case core.RemoteErrorCanceled:
			return status.Error(codes.Canceled, remote.Error())
		}
	}
	switch {
	case errors.Is(err, schema.ErrInvalidRequest), errors.Is(err, schema.ErrEmptyStatement), errors.Is(err, schema.ErrMissingConnection):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

type sqlServiceServer interface {
	query(context.Context, *structpb.Struct) (*structpb.Struct, error)
	searchQueryHistories(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var sqlServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*sqlServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Query", Handler: unaryHandler(queryMethod, sqlServiceServer.query)},
		{MethodName: "SearchQueryHistories", Handler: unaryHandler(searchHistoryMethod, sqlServiceServer.searchQueryHistories)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "querydesk/v1/sql.proto",
}

type unaryMethod func(sqlServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := &structpb.Struct{}
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(sqlServiceServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(server, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
