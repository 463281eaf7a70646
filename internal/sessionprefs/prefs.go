package sessionprefs

import (
	"context"

	"pkt.systems/querydesk/schema"
)

// Prefs captures per-session execution preferences. Zero values defer to
// the service configuration.
type Prefs struct {
	Limit  int
	Format schema.OutputFormat
	Admin  bool
}

type prefsKey struct{}

// New returns a new Prefs instance with defaults applied.
func New() *Prefs {
	return &Prefs{}
}

// WithContext stores prefs in the context.
func WithContext(ctx context.Context, prefs *Prefs) context.Context {
	if ctx == nil || prefs == nil {
		return ctx
	}
	return context.WithValue(ctx, prefsKey{}, prefs)
}

// FromContext returns the prefs stored in the context, if any.
func FromContext(ctx context.Context) *Prefs {
	if ctx == nil {
		return nil
	}
	if value := ctx.Value(prefsKey{}); value != nil {
		if prefs, ok := value.(*Prefs); ok {
			return prefs
		}
	}
	return nil
}

// Copy returns a detached copy of the prefs stored in ctx, or nil.
func Copy(ctx context.Context) *Prefs {
	prefs := FromContext(ctx)
	if prefs == nil {
		return nil
	}
	out := *prefs
	return &out
}
