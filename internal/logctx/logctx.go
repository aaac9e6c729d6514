// Package logctx enriches slog records with connection and request context
// carried through context.Context, so every log line emitted under a data
// connection identifies the client without threading fields by hand.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps another slog.Handler, attaching any connection or request
// data present on the record's context.
type Handler struct {
	slog.Handler
}

func NewHandler(inner slog.Handler) Handler {
	return Handler{Handler: inner}
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if cd, ok := ctx.Value(connDataKey{}).(*ConnData); ok {
		r.AddAttrs(slog.Group("conn",
			slog.String("client_id", cd.ClientID),
			slog.String("connection_id", cd.ConnectionID),
			slog.Bool("reconnecting", cd.Reconnecting),
		))
	}

	if rd, ok := ctx.Value(requestDataKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.Uint64("id", rd.ReqID),
			slog.String("kind", rd.Kind),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type connDataKey struct{}

// ConnData identifies one physical stream connection.
type ConnData struct {
	ClientID     string
	ConnectionID string
	Reconnecting bool
}

func WithConnData(ctx context.Context, data *ConnData) context.Context {
	return context.WithValue(ctx, connDataKey{}, data)
}

type requestDataKey struct{}

// RequestData identifies the request currently being dispatched.
type RequestData struct {
	ReqID uint64
	Kind  string
}

func WithRequestData(ctx context.Context, data *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, data)
}
