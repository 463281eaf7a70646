package sqlrpc

import (
	"strings"
	"time"
)

// ServiceName is the gRPC service exposed by SQL backends.
const ServiceName = "querydesk.v1.SQLService"

const (
	queryMethod         = "/" + ServiceName + "/Query"
	searchHistoryMethod = "/" + ServiceName + "/SearchQueryHistories"
)

// Config controls the SQL service server/client setup. Address is either an
// absolute Unix socket path or a TCP host:port.
type Config struct {
	Address      string
	DialTimeout  time.Duration
	QueryTimeout time.Duration
}

// isUnixAddress reports whether addr names a Unix domain socket.
func isUnixAddress(addr string) bool {
	return strings.HasPrefix(addr, "/") || strings.HasPrefix(addr, "unix:")
}

func unixPath(addr string) string {
	return strings.TrimPrefix(addr, "unix:")
}
