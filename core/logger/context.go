package logger

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	metaKey ctxKey = iota
	loggerKey
)

// eventMeta is the correlation data copied onto every record logged with the context.
type eventMeta struct {
	rid      string
	platform string
	userID   string
	handler  string
	index    int
	indexed  bool
}

func metaFrom(ctx context.Context) eventMeta {
	if ctx == nil {
		return eventMeta{}
	}
	m, _ := ctx.Value(metaKey).(eventMeta)
	return m
}

func withMeta(ctx context.Context, update func(*eventMeta)) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	m := metaFrom(ctx)
	update(&m)
	return context.WithValue(ctx, metaKey, m)
}

// WithLogger stores log in ctx for FromContext.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, log)
}

// FromContext returns the logger stored by WithLogger, or L.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return L
}

// WithRID attaches a request correlation id.
func WithRID(ctx context.Context, rid string) context.Context {
	return withMeta(ctx, func(m *eventMeta) { m.rid = rid })
}

// WithEventMeta attaches the inbound event identity: source platform, sender
// and position in its delivery batch.
func WithEventMeta(ctx context.Context, platform, userID string, index int) context.Context {
	return withMeta(ctx, func(m *eventMeta) {
		m.platform = platform
		m.userID = userID
		m.index = index
		m.indexed = true
	})
}

// WithHandler names the handler processing the event. Empty names are ignored.
func WithHandler(ctx context.Context, handler string) context.Context {
	if handler == "" {
		if ctx == nil {
			return context.Background()
		}
		return ctx
	}
	return withMeta(ctx, func(m *eventMeta) { m.handler = handler })
}

func RIDFrom(ctx context.Context) string      { return metaFrom(ctx).rid }
func UserIDFrom(ctx context.Context) string   { return metaFrom(ctx).userID }
func PlatformFrom(ctx context.Context) string { return metaFrom(ctx).platform }
func HandlerFrom(ctx context.Context) string  { return metaFrom(ctx).handler }

// EventIndexFrom returns the event's position in its batch, or -1 when unset.
func EventIndexFrom(ctx context.Context) int {
	if m := metaFrom(ctx); m.indexed {
		return m.index
	}
	return -1
}
