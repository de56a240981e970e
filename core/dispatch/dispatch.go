// Package dispatch routes platform-neutral chat events into the wager machine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/m3rciful/betbot/core/logger"
	"github.com/m3rciful/betbot/core/metrics"
	"github.com/m3rciful/betbot/core/wager"
)

// Event kinds.
const (
	KindMessage  = "message"
	KindPostback = "postback"
)

// MessageTypeText is the only message type handled.
const MessageTypeText = "text"

// Responder delivers replies for one inbound event.
type Responder interface {
	Reply(ctx context.Context, r *wager.Reply) error
}

// Event is one inbound chat event as seen by the core.
type Event struct {
	Kind        string
	MessageType string
	Text        string
	// Data carries the postback payload.
	Data      string
	UserID    string
	Platform  string
	Responder Responder
}

// Handler is implemented by *wager.Machine.
type Handler interface {
	HandleText(ctx context.Context, platform, userID, text string) (*wager.Reply, error)
	HandlePostback(ctx context.Context, platform, userID, data string) (*wager.Reply, error)
}

// Result summarises one Dispatch call.
type Result struct {
	Handled int
	Dropped int
	Failed  int
}

// ErrPanic wraps a recovered panic from a handler.
var ErrPanic = errors.New("dispatch: handler panic")

const defaultTimeout = 10 * time.Second

// Dispatcher processes event batches in order.
type Dispatcher struct {
	handler Handler
	timeout time.Duration
}

// New returns a Dispatcher giving each event at most timeout to finish.
func New(h Handler, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{handler: h, timeout: timeout}
}

// Dispatch handles events sequentially. A failing event is logged and counted;
// it never stops the rest of the batch.
func (d *Dispatcher) Dispatch(ctx context.Context, events []Event) Result {
	var res Result
	for i, ev := range events {
		if ctx.Err() != nil {
			res.Dropped += len(events) - i
			logger.Dispatch.WarnContext(ctx, "batch abandoned",
				slog.String("event", "dispatch.batch"),
				slog.String("outcome", "cancelled"),
				slog.Int("count", len(events)-i),
			)
			break
		}
		switch outcome := d.one(ctx, i, ev); outcome {
		case "ok", "ignored":
			res.Handled++
		case "dropped":
			res.Dropped++
		default:
			res.Failed++
		}
	}
	return res
}

func (d *Dispatcher) one(parent context.Context, idx int, ev Event) (outcome string) {
	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()
	ctx = logger.WithEventMeta(ctx, ev.Platform, ev.UserID, idx)

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			outcome = "fail"
			logger.Dispatch.ErrorContext(ctx, "handler panic",
				slog.String("event", "dispatch.event"),
				slog.String("kind", ev.Kind),
				slog.String("outcome", outcome),
				slog.String("err", logger.ErrAttr(fmt.Errorf("%w: %v", ErrPanic, rec))),
				slog.String("cause", logger.SanitizeLimit(string(debug.Stack()), 2048)),
			)
		}
		metrics.ObserveEvent(ev.Platform, ev.Kind, outcome, time.Since(start))
	}()

	reply, handled, err := d.route(ctx, ev)
	if !handled {
		if logger.ShouldSampleDebug() {
			logger.Dispatch.DebugContext(ctx, "event dropped",
				slog.String("event", "dispatch.event"),
				slog.String("kind", ev.Kind),
				slog.String("outcome", "dropped"),
			)
		}
		return "dropped"
	}

	outcome = "ok"
	if reply == nil && err == nil {
		outcome = "ignored"
	}
	if reply != nil && ev.Responder != nil {
		if sendErr := ev.Responder.Reply(ctx, reply); sendErr != nil {
			err = errors.Join(err, fmt.Errorf("dispatch: reply: %w", sendErr))
		}
	}
	if err != nil {
		outcome = "fail"
		logger.Dispatch.ErrorContext(ctx, "event failed",
			slog.String("event", "dispatch.event"),
			slog.String("kind", ev.Kind),
			slog.String("outcome", outcome),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", logger.ErrAttr(err)),
		)
		return outcome
	}

	logger.Dispatch.DebugContext(ctx, "event handled",
		slog.String("event", "dispatch.event"),
		slog.String("kind", ev.Kind),
		slog.String("outcome", outcome),
		slog.Duration("duration", logger.Took(start)),
	)
	return outcome
}

// route picks the handler for ev. handled is false for kinds the core does not process.
func (d *Dispatcher) route(ctx context.Context, ev Event) (*wager.Reply, bool, error) {
	switch ev.Kind {
	case KindMessage:
		if ev.MessageType != MessageTypeText {
			return nil, false, nil
		}
		r, err := d.handler.HandleText(ctx, ev.Platform, ev.UserID, ev.Text)
		return r, true, err
	case KindPostback:
		r, err := d.handler.HandlePostback(ctx, ev.Platform, ev.UserID, ev.Data)
		return r, true, err
	}
	return nil, false, nil
}
