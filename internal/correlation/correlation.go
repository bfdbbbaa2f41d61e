// Package correlation carries a per-request correlation ID through
// context.Context, so logs, outbound content-store calls and queued jobs can
// be tied back to the request that caused them.
package correlation

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Header is the HTTP header the ID travels in, inbound and outbound.
const Header = "X-Correlation-Id"

type contextKey struct{}

// NewID returns a fresh random ID.
func NewID() string {
	return uuid.NewString()
}

// WithID returns a copy of ctx carrying id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the ID stored in ctx, or "" if there is none.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Ensure returns ctx unchanged if it already has an ID, otherwise a copy
// with a new one. Background work that does not start from a request uses it.
func Ensure(ctx context.Context) context.Context {
	if FromContext(ctx) != "" {
		return ctx
	}
	return WithID(ctx, NewID())
}

// Attr is the log attribute for the ID in ctx.
func Attr(ctx context.Context) slog.Attr {
	return slog.String("correlation_id", FromContext(ctx))
}
