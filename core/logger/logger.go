// Package logger provides the process-wide structured logger, its component
// children and the context metadata stamped onto every record.
package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/m3rciful/betbot/core/buildinfo"
	coreconfig "github.com/m3rciful/betbot/core/config"
)

var (
	initOnce sync.Once
	closed   atomic.Bool

	logWriter  *asyncWriter
	logClosers []io.Closer

	levelVar slog.LevelVar

	debugSampler = newRatioSampler(defaultSampleNum, defaultSampleDen)
	forceTrace   bool

	// L is the base logger. It discards output until InitLogger runs.
	L = slog.New(slog.NewTextHandler(io.Discard, nil))

	DB       = L // database connection
	MIG      = L // schema migrations
	HTTP     = L // inbound HTTP traffic
	LINE     = L // LINE webhook, replies and pushes
	TG       = L // Telegram transport
	TWire    = L // process wiring and lifecycle
	Store    = L // record store loads and flushes
	Conv     = L // conversation tracker
	Wager    = L // order state machine
	Dispatch = L // per-event dispatch
	Events   = L // order event publication
)

// InitLogger installs the global logger from cfg. Calls after the first are no-ops.
func InitLogger(cfg *coreconfig.Config) error {
	var err error
	initOnce.Do(func() {
		o := optionsFrom(cfg)
		outputs, closers, openErr := o.openSinks()
		if openErr != nil {
			err = openErr
			return
		}
		levelVar.Set(o.level)
		debugSampler.Set(o.sampleNum, o.sampleDen)
		forceTrace = o.forceTrace

		logClosers = closers
		logWriter = newAsyncWriter(outputs, 64*1024)
		L = slog.New(newStructuredHandler(handlerConfig{
			level:    &levelVar,
			writer:   logWriter,
			format:   o.format,
			keyOrder: o.keyOrder,
		}))
		slog.SetDefault(L)

		for _, c := range []struct {
			dst  **slog.Logger
			name string
		}{
			{&DB, "db"}, {&MIG, "db.migrate"}, {&HTTP, "http"}, {&LINE, "line"},
			{&TG, "tg"}, {&TWire, "tg.wire"}, {&Store, "store"}, {&Conv, "conversation"},
			{&Wager, "wager"}, {&Dispatch, "dispatch"}, {&Events, "events"},
		} {
			*c.dst = L.With("component", c.name)
		}

		logStartup(cfg, o)
	})
	return err
}

func logStartup(cfg *coreconfig.Config, o options) {
	attrs := []slog.Attr{
		slog.String("component", "app"),
		slog.String("event", "startup"),
		slog.String("go_version", runtime.Version()),
		slog.String("build_version", buildinfo.Version),
		slog.String("build_commit", buildinfo.Commit),
		slog.String("build_time", buildinfo.Date),
		slog.String("cfg_profile", o.profile),
	}
	if cfg != nil {
		attrs = append(attrs,
			slog.String("store", cfg.Store.Backend),
			slog.String("conversation", cfg.Conversation.Backend),
			slog.Bool("line", cfg.Line.Enabled),
			slog.Bool("telegram", cfg.Telegram.Enabled),
		)
	}
	L.LogAttrs(context.Background(), slog.LevelInfo, "startup", attrs...)
}

// Shutdown drains buffered output and closes file sinks. Only the first call does work.
func Shutdown() error {
	if closed.Swap(true) {
		return nil
	}
	var errs []error
	if logWriter != nil {
		errs = append(errs, logWriter.Close())
	}
	for _, c := range logClosers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Background is context.Background for call sites without a request context.
func Background() context.Context {
	return context.Background()
}

// LogEvent logs attrs under event using logg, falling back to the context logger.
func LogEvent(ctx context.Context, logg *slog.Logger, level slog.Level, event string, attrs ...slog.Attr) {
	if logg == nil {
		logg = FromContext(ctx)
	}
	if event != "" {
		attrs = append([]slog.Attr{slog.String("event", event)}, attrs...)
	}
	logg.LogAttrs(ctx, level, "", attrs...)
}

// Component returns L scoped to name.
func Component(name string) *slog.Logger {
	if name = strings.TrimSpace(name); name == "" {
		return L
	}
	return L.With("component", name)
}

// Event logs event for component at level.
func Event(ctx context.Context, component string, level slog.Level, event string, attrs ...slog.Attr) {
	LogEvent(ctx, Component(component), level, event, attrs...)
}

func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelDebug, event, attrs...)
}

func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelInfo, event, attrs...)
}

func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelWarn, event, attrs...)
}

func Error(ctx context.Context, component, event string, attrs ...slog.Attr) {
	Event(ctx, component, slog.LevelError, event, attrs...)
}

// ShouldSampleDebug reports whether a high-volume debug record should be
// emitted. TRACE=1 or LOG_TRACE=1 lets every record through.
func ShouldSampleDebug() bool {
	return forceTrace || debugSampler.Allow()
}
