// Package requestid carries the X-Request-Id of an inbound call through
// the context so logs and error bodies can quote it.
package requestid

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func Get(ctx context.Context) string {
	s, _ := ctx.Value(ctxKey{}).(string)
	return s
}

// Attr is the request_id log attribute; empty outside a request.
func Attr(ctx context.Context) slog.Attr {
	return slog.String("request_id", Get(ctx))
}
