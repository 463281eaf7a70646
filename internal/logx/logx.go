// Package logx attaches session identifiers to loggers carried on a context.
// A context remembers which identifiers its logger already has, so nested
// helpers never repeat a field.
package logx

import (
	"context"

	"pkt.systems/querydesk/schema"
	"pkt.systems/pslog"
)

type markerKey struct{}

// markers records the identifiers already bound to the context logger.
type markers struct {
	user schema.UserID
	tab  schema.TabID
}

func markersFrom(ctx context.Context) markers {
	if ctx == nil {
		return markers{}
	}
	m, _ := ctx.Value(markerKey{}).(markers)
	return m
}

func withMarkers(ctx context.Context, m markers) context.Context {
	if ctx == nil || m == (markers{}) {
		return ctx
	}
	return context.WithValue(ctx, markerKey{}, m)
}

// WithUser returns the context logger with a user field, unless the
// context logger already carries this user.
func WithUser(ctx context.Context, userID schema.UserID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if userID == "" || markersFrom(ctx).user == userID {
		return log
	}
	return log.With("user", userID)
}

// WithUserTab is WithUser plus a tab field.
func WithUserTab(ctx context.Context, userID schema.UserID, tabID schema.TabID) pslog.Logger {
	log := WithUser(ctx, userID)
	if tabID == "" || markersFrom(ctx).tab == tabID {
		return log
	}
	return log.With("tab", tabID)
}

// WithQuery adds the query id of one execution.
func WithQuery(log pslog.Logger, queryID schema.QueryID) pslog.Logger {
	if queryID == "" {
		return log
	}
	return log.With("query_id", queryID)
}

// WithConnection adds the connection target.
func WithConnection(log pslog.Logger, target schema.ConnectionTarget) pslog.Logger {
	if target == "" {
		return log
	}
	return log.With("connection", target)
}

// ContextWithUserLogger stores log on ctx and marks userID as bound.
func ContextWithUserLogger(ctx context.Context, log pslog.Logger, userID schema.UserID) context.Context {
	m := markersFrom(ctx)
	if userID != "" {
		m.user = userID
	}
	return withMarkers(pslog.ContextWithLogger(ctx, log), m)
}

// ContextWithUserTabLogger stores log on ctx and marks both identifiers as bound.
func ContextWithUserTabLogger(ctx context.Context, log pslog.Logger, userID schema.UserID, tabID schema.TabID) context.Context {
	ctx = ContextWithUserLogger(ctx, log, userID)
	if tabID == "" {
		return ctx
	}
	m := markersFrom(ctx)
	m.tab = tabID
	return withMarkers(ctx, m)
}

// CopyContextFields carries the bound identifiers of src over to dst, for
// work that outlives the request context.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	return withMarkers(dst, markersFrom(src))
}
