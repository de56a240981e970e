package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	coreconfig "github.com/m3rciful/betbot/core/config"
	"github.com/m3rciful/betbot/core/logger"
	tghelpers "github.com/m3rciful/betbot/core/telegram/helpers"
	tgsender "github.com/m3rciful/betbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

// Middleware is a named global bot middleware.
type Middleware struct {
	Name string
	Use  tele.MiddlewareFunc
}

// RunOptions controls RunTelegram.
type RunOptions struct {
	Config *coreconfig.Config
	// Events receives every text message and button press.
	Events Dispatcher

	// Dispatcher is the outbound sender; one is built from DispatcherOptions when nil.
	DispatcherOptions tgsender.Options
	Dispatcher        *tgsender.Dispatcher

	Middlewares []Middleware

	DisableWebhookCleanup   bool
	DisableHelperDispatcher bool

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime is handed to lifecycle hooks.
type Runtime struct {
	Bot        *tele.Bot
	Dispatcher *tgsender.Dispatcher
}

// RunTelegram runs the bot until ctx is done. Cancellation is a clean stop.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if opts.Config == nil {
		return errors.New("telegram: nil config provided")
	}
	if opts.Events == nil {
		return errors.New("telegram: nil event dispatcher provided")
	}

	bot, err := newBot(ctx, opts)
	if err != nil {
		return err
	}

	rt := Runtime{Bot: bot, Dispatcher: opts.Dispatcher}
	if rt.Dispatcher == nil {
		rt.Dispatcher = tgsender.NewDispatcher(opts.DispatcherOptions)
	}
	if !opts.DisableHelperDispatcher {
		tghelpers.SetDispatcher(rt.Dispatcher)
	}
	defer func() {
		rt.Dispatcher.Close()
		if !opts.DisableHelperDispatcher {
			tghelpers.SetDispatcher(nil)
		}
	}()

	for _, mw := range opts.Middlewares {
		if mw.Use != nil {
			bot.Use(mw.Use)
		}
	}
	handle := Handler(opts.Events)
	bot.Handle(tele.OnText, handle)
	bot.Handle(&tele.Btn{Unique: CallbackUnique}, handle)
	bot.Handle(tele.OnCallback, handle)

	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			return err
		}
	}

	runErr := serve(ctx, bot)

	if opts.OnStop != nil {
		if err := opts.OnStop(context.WithoutCancel(ctx), rt); err != nil {
			return err
		}
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// newBot builds the bot and, in long-poll mode, drops a stale webhook that
// would otherwise make getUpdates fail.
func newBot(ctx context.Context, opts RunOptions) (*tele.Bot, error) {
	cfg := opts.Config
	poller := newPoller(cfg.Telegram, cfg.Webhook)

	start := time.Now()
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Telegram.Token,
		Poller: poller,
		Client: newAPIClient(),
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: bot initialization failed: %w", err)
	}
	took := slog.Duration("duration", logger.RoundMS(time.Since(start)))

	if wh, ok := poller.(*tele.Webhook); ok {
		logger.TG.InfoContext(ctx, "webhook mode",
			slog.String("event", "mode"),
			slog.String("mode", coreconfig.RunModeWebhook),
			slog.String("listen", wh.Listen),
			slog.String("host", publicHost(wh.Endpoint.PublicURL)),
			took,
		)
		return bot, nil
	}

	logger.TG.InfoContext(ctx, "polling mode",
		slog.String("event", "mode"),
		slog.String("mode", coreconfig.RunModeLongpoll),
		slog.Duration("timeout", poller.(*tele.LongPoller).Timeout),
		took,
	)
	if opts.DisableWebhookCleanup {
		return bot, nil
	}
	if err := bot.RemoveWebhook(false); err != nil {
		logger.TG.WarnContext(ctx, "failed to delete webhook",
			slog.String("event", "delete_webhook"),
			slog.String("status", "fail"),
			slog.String("err", logger.ErrAttr(err)),
		)
	} else {
		logger.TG.DebugContext(ctx, "webhook deleted",
			slog.String("event", "delete_webhook"),
			slog.String("status", "ok"),
		)
	}
	return bot, nil
}

// serve blocks until the poller exits or ctx is done.
func serve(ctx context.Context, bot *tele.Bot) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.Start()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		bot.Stop()
		<-done
		return ctx.Err()
	}
}
