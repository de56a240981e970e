// Package bootstrap brings up the infrastructure shared by every transport:
// logger, record store, conversation tracker and event publisher.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	coreconfig "github.com/m3rciful/betbot/core/config"
	"github.com/m3rciful/betbot/core/conversation"
	coredatabase "github.com/m3rciful/betbot/core/database"
	"github.com/m3rciful/betbot/core/events"
	"github.com/m3rciful/betbot/core/logger"
	"github.com/m3rciful/betbot/core/store"
)

const dbWaitTimeout = 30 * time.Second

// Options control the bootstrap pipeline. Nil hooks fall back to the real implementations.
type Options struct {
	Config *coreconfig.Config

	LoggerInit   func(*coreconfig.Config) error
	Connect      func(context.Context, coreconfig.DatabaseConfig) (*sqlx.DB, error)
	Migrate      func(context.Context, coreconfig.DatabaseConfig) error
	ConnectRedis func(ctx context.Context, addr, password string, db int) (*redis.Client, error)
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	Store   store.Store
	Tracker conversation.Tracker
	// Publisher is nil when kafka is not configured.
	Publisher *events.Publisher

	closers []func() error
}

// Close releases everything Run opened, last opened first.
func (r *Result) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Run initializes the logger, opens and loads the record store, and builds the
// conversation tracker and optional order publisher.
func Run(ctx context.Context, opts Options) (_ *Result, err error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}
	cfg := opts.Config

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	res := &Result{}
	defer func() {
		if err != nil {
			_ = res.Close()
		}
	}()

	if res.Store, err = openStore(ctx, cfg, opts); err != nil {
		return nil, err
	}
	res.closers = append(res.closers, res.Store.Close)

	start := time.Now()
	if err = res.Store.Load(ctx); err != nil {
		return nil, fmt.Errorf("bootstrap: store load failed: %w", err)
	}
	logger.Store.DebugContext(ctx, "store ready",
		slog.String("event", "store.ready"),
		slog.String("backend", cfg.Store.Backend),
		slog.Duration("duration", logger.Took(start)),
	)

	if res.Tracker, err = openTracker(ctx, cfg, opts); err != nil {
		return nil, err
	}
	res.closers = append(res.closers, res.Tracker.Close)

	if cfg.Kafka.Brokers != "" {
		w := events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		res.Publisher = events.NewPublisher(w, cfg.Kafka.Topic)
		res.closers = append(res.closers, res.Publisher.Close)
		logger.Events.InfoContext(ctx, "order events enabled",
			slog.String("event", "events.ready"),
			slog.String("topic", cfg.Kafka.Topic),
		)
	}

	return res, nil
}

func openStore(ctx context.Context, cfg *coreconfig.Config, opts Options) (store.Store, error) {
	if cfg.Store.Backend != coreconfig.StorePostgres {
		return store.NewFileStore(cfg.Store.Path), nil
	}

	connect := opts.Connect
	if connect == nil {
		if err := coredatabase.WaitForPostgres(ctx, coredatabase.KeyValueDSN(cfg.Database), dbWaitTimeout); err != nil {
			return nil, fmt.Errorf("bootstrap: database unreachable: %w", err)
		}
		connect = coredatabase.Connect
	}
	db, err := connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}

	migrate := opts.Migrate
	if migrate == nil {
		migrate = coredatabase.RunMigrations
	}
	if err := migrate(ctx, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
	}
	return store.NewPostgresStore(db), nil
}

func openTracker(ctx context.Context, cfg *coreconfig.Config, opts Options) (conversation.Tracker, error) {
	ttl := time.Duration(cfg.Conversation.TTLSeconds) * time.Second
	if cfg.Conversation.Backend != coreconfig.ConversationRedis {
		return conversation.NewMemoryTracker(cfg.Conversation.MaxUsers, ttl), nil
	}

	connectRedis := opts.ConnectRedis
	if connectRedis == nil {
		connectRedis = conversation.ConnectRedis
	}
	client, err := connectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: redis initialization failed: %w", err)
	}
	return conversation.NewRedisTracker(client, ttl), nil
}
