// Package cmd holds the process entrypoint shared by the betbot binaries.
package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/m3rciful/betbot/core/bootstrap"
	coreconfig "github.com/m3rciful/betbot/core/config"
	"github.com/m3rciful/betbot/core/logger"
	coretelegram "github.com/m3rciful/betbot/core/telegram"
)

// Options describe how to load configuration, bootstrap the app, and run it.
// Nil hooks fall back to the production implementations.
type Options struct {
	ConfigEnvVar      string
	DefaultConfigPath string

	LoadConfig func(path string) (*coreconfig.Config, error)
	Bootstrap  func(ctx context.Context, cfg *coreconfig.Config) (*bootstrap.Result, error)

	ShutdownLogger func() error
	RunTelegram    func(ctx context.Context, opts coretelegram.RunOptions) error
}

// Run loads configuration, bootstraps infrastructure, and serves until SIGINT or SIGTERM.
func Run(opts Options) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return RunContext(ctx, opts)
}

// RunContext is Run with a caller-controlled lifetime.
func RunContext(ctx context.Context, opts Options) error {
	startedAt := time.Now()

	env := opts.ConfigEnvVar
	if env == "" {
		env = "CONFIG_PATH"
	}
	cfgPath := os.Getenv(env)
	if cfgPath == "" {
		cfgPath = opts.DefaultConfigPath
	}
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	loadConfig := opts.LoadConfig
	if loadConfig == nil {
		loadConfig = coreconfig.Load
	}
	log.Printf("loading config: %s", cfgPath)
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("cmd: failed to load config: %w", err)
	}

	boot := opts.Bootstrap
	if boot == nil {
		boot = func(ctx context.Context, cfg *coreconfig.Config) (*bootstrap.Result, error) {
			return bootstrap.Run(ctx, bootstrap.Options{Config: cfg})
		}
	}
	infra, err := boot(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cmd: bootstrap failed: %w", err)
	}

	shutdownLogger := opts.ShutdownLogger
	if shutdownLogger == nil {
		shutdownLogger = logger.Shutdown
	}
	defer func() {
		if err := shutdownLogger(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()
	defer func() {
		if err := infra.Close(); err != nil {
			logger.TWire.Warn("infrastructure close failed",
				slog.String("event", "shutdown"),
				slog.String("err", logger.ErrAttr(err)),
			)
		}
	}()

	app, err := bootstrap.Assemble(cfg, infra)
	if err != nil {
		return fmt.Errorf("cmd: assemble failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.HTTP.Run(gctx)
	})
	if app.Telegram != nil {
		runTelegram := opts.RunTelegram
		if runTelegram == nil {
			runTelegram = coretelegram.RunTelegram
		}
		g.Go(func() error {
			return runTelegram(gctx, *app.Telegram)
		})
	}

	logger.TWire.Info("app ready",
		slog.String("event", "ready"),
		slog.String("listen", app.HTTP.Addr()),
		slog.Bool("line", cfg.Line.Enabled),
		slog.Bool("telegram", cfg.Telegram.Enabled),
		slog.Duration("duration", logger.RoundMS(time.Since(startedAt))),
	)

	err = g.Wait()
	logger.TWire.Info("shutting down...",
		slog.String("event", "shutdown"),
	)
	// Pending order announcements still need the publisher open.
	app.Machine.Wait()
	return err
}
