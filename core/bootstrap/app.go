package bootstrap

import (
	"fmt"
	"time"

	coreconfig "github.com/m3rciful/betbot/core/config"
	"github.com/m3rciful/betbot/core/dispatch"
	"github.com/m3rciful/betbot/core/httpapi"
	"github.com/m3rciful/betbot/core/line"
	coretelegram "github.com/m3rciful/betbot/core/telegram"
	tgsender "github.com/m3rciful/betbot/core/telegram/sender"
	"github.com/m3rciful/betbot/core/wager"

	tele "gopkg.in/telebot.v4"
)

// App is the assembled service ready to run.
type App struct {
	Machine    *wager.Machine
	Dispatcher *dispatch.Dispatcher
	HTTP       *httpapi.Server
	// Telegram is nil when the Telegram adapter is disabled.
	Telegram *coretelegram.RunOptions
}

// newLineClient is swapped in tests.
var newLineClient = line.NewClient

// Assemble wires the wager machine to the transports enabled in cfg.
func Assemble(cfg *coreconfig.Config, infra *Result) (*App, error) {
	if cfg == nil || infra == nil {
		return nil, fmt.Errorf("bootstrap: assemble needs config and infrastructure")
	}

	opts := wager.Options{
		EntryCommand: cfg.Conversation.EntryCommand,
		Stocks:       cfg.Conversation.Stocks,
	}
	if infra.Publisher != nil {
		opts.Publisher = infra.Publisher
	}

	var lineClient line.Client
	if cfg.Line.Enabled {
		c, err := newLineClient(cfg.Line.ChannelAccessToken)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: line client: %w", err)
		}
		lineClient = c
		if n := line.NewAdminNotifier(c, cfg.Admin.UserID); n != nil {
			opts.Notifier = n
		}
	}

	machine := wager.New(infra.Store, infra.Tracker, opts)
	disp := dispatch.New(machine, time.Duration(cfg.Conversation.EventTimeoutMS)*time.Millisecond)

	httpOpts := httpapi.Options{Config: cfg, Store: infra.Store}
	if lineClient != nil {
		httpOpts.LineWebhook = line.NewWebhookHandler(cfg.Line.ChannelSecret, lineClient, disp)
	}
	srv, err := httpapi.New(httpOpts)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: http server: %w", err)
	}

	app := &App{Machine: machine, Dispatcher: disp, HTTP: srv}
	if cfg.Telegram.Enabled {
		app.Telegram = &coretelegram.RunOptions{
			Config:            cfg,
			Events:            disp,
			DispatcherOptions: tgsender.Options{MaxRetries: 2},
			Middlewares: coretelegram.DefaultMiddlewares(cfg, func(c tele.Context) error {
				if c.Callback() != nil {
					return c.Respond()
				}
				return nil
			}),
		}
	}
	return app, nil
}
