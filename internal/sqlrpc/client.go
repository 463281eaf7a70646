package sqlrpc

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"pkt.systems/querydesk/core"
	"pkt.systems/querydesk/schema"
	"pkt.systems/pslog"
)

// Client implements core.SQLClient and core.HistoryClient over gRPC.
type Client struct {
	conn         *grpc.ClientConn
	health       healthpb.HealthClient
	queryTimeout time.Duration
}

// Dial creates a client for a Unix socket path or a TCP host:port.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	addr := strings.TrimSpace(cfg.Address)
	if addr == "" {
		return nil, errors.New("sql service address is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	target := "passthrough:///" + addr
	if isUnixAddress(addr) {
		path := unixPath(addr)
		target = "passthrough:///" + path
		opts = append(opts, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			var dialer net.Dialer
			return dialer.DialContext(ctx, "unix", path)
		}))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:         conn,
		health:       healthpb.NewHealthClient(conn),
		queryTimeout: cfg.QueryTimeout,
	}, nil
}

// Close closes the underlying gRPC connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Ping checks that the SQL service reports itself serving.
func (c *Client) Ping(ctx context.Context) error {
	if c.health == nil {
		return errors.New("sql client not initialized")
	}
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return wrapRemoteError("ping", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return core.NewRemoteError(core.RemoteErrorUnavailable, "ping", errors.New("sql service not serving"))
	}
	return nil
}

// Query executes one request against the SQL service.
func (c *Client) Query(ctx context.Context, req schema.QueryRequest) (schema.QueryResponse, error) {
	if c.conn == nil {
		return schema.QueryResponse{}, errors.New("sql client not initialized")
	}
	log := pslog.Ctx(ctx)
	log.Debug("sql grpc query start", "connection", req.Connection, "statement_len", len(req.Statement), "limit", req.Limit, "format", req.Format, "admin", req.Admin)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, queryMethod, toPBQueryRequest(req), out); err != nil {
		logGRPCError(log, "sql grpc query failed", err)
		return schema.QueryResponse{}, wrapRemoteError("query", err)
	}
	resp := fromPBQueryResponse(out)
	log.Trace("sql grpc query finished", "results", len(resp.Results), "advices", len(resp.Advices))
	return resp, nil
}

// SearchQueryHistories fetches one page of history records.
func (c *Client) SearchQueryHistories(ctx context.Context, req schema.SearchQueryHistoriesRequest) (schema.SearchQueryHistoriesResponse, error) {
	if c.conn == nil {
		return schema.SearchQueryHistoriesResponse{}, errors.New("sql client not initialized")
	}
	log := pslog.Ctx(ctx)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, searchHistoryMethod, toPBSearchRequest(req), out); err != nil {
		logGRPCError(log, "sql grpc history failed", err)
		return schema.SearchQueryHistoriesResponse{}, wrapRemoteError("history", err)
	}
	resp := fromPBSearchResponse(out)
	log.Trace("sql grpc history finished", "histories", len(resp.QueryHistories))
	return resp, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.queryTimeout > 0 {
		return context.WithTimeout(ctx, c.queryTimeout)
	}
	return context.WithCancel(ctx)
}

func logGRPCError(log pslog.Logger, msg string, err error) {
	if log == nil || err == nil {
		return
	}
	if st, ok := status.FromError(err); ok {
		log.Warn(msg, "err", err, "code", st.Code().String(), "message", st.Message())
		return
	}
	log.Warn(msg, "err", err)
}

// wrapRemoteError classifies a transport failure. The status message, not
// the decorated gRPC error string, becomes the user-facing text.
func wrapRemoteError(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *core.RemoteError
	if errors.As(err, &existing) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return core.NewRemoteError(core.RemoteErrorCanceled, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewRemoteError(core.RemoteErrorTimeout, op, err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return core.NewRemoteError(core.RemoteErrorUnknown, op, err)
	}
	kind := core.RemoteErrorUnknown
	switch st.Code() {
	case codes.Unauthenticated:
		kind = core.RemoteErrorUnauthenticated
	case codes.PermissionDenied:
		kind = core.RemoteErrorPermissionDenied
	case codes.Unavailable:
		kind = core.RemoteErrorUnavailable
	case codes.InvalidArgument:
		kind = core.RemoteErrorInvalidArgument
	case codes.DeadlineExceeded:
		kind = core.RemoteErrorTimeout
	case codes.Canceled:
		kind = core.RemoteErrorCanceled
	}
	remote := core.NewRemoteError(kind, op, err)
	remote.Message = st.Message()
	return remote
}
