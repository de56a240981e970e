package telegram

import (
	"context"
	"errors"

	"github.com/m3rciful/betbot/core/dispatch"
	"github.com/m3rciful/betbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/betbot/core/telegram/helpers"
	"github.com/m3rciful/betbot/core/wager"

	tele "gopkg.in/telebot.v4"
)

// Dispatcher consumes converted chat events.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []dispatch.Event) dispatch.Result
}

var errDispatchFailed = errors.New("telegram: event failed")

// EventFrom converts a text message or an inline button press into a dispatch event.
// Updates of any other shape report false.
func EventFrom(c tele.Context) (dispatch.Event, bool) {
	userID := tghelpers.UserID(c)
	if userID == "" {
		return dispatch.Event{}, false
	}
	ev := dispatch.Event{
		UserID:    userID,
		Platform:  tghelpers.Platform,
		Responder: &chatResponder{c: c},
	}
	if cb, ok := callbacks.From(c); ok {
		ev.Kind = dispatch.KindPostback
		ev.Data = cb.Payload
		return ev, true
	}
	msg := c.Message()
	if msg == nil || msg.Text == "" {
		return dispatch.Event{}, false
	}
	ev.Kind = dispatch.KindMessage
	ev.MessageType = dispatch.MessageTypeText
	ev.Text = msg.Text
	return ev, true
}

// Handler returns a telebot handler feeding every update through d.
// Callback queries are acknowledged whatever the outcome.
func Handler(d Dispatcher) tele.HandlerFunc {
	return func(c tele.Context) error {
		if c.Callback() != nil {
			defer func() { _ = tghelpers.Acknowledge(c) }()
		}
		ev, ok := EventFrom(c)
		if !ok {
			return nil
		}
		ctx := tghelpers.WithHandler(c, ev.Kind)
		if res := d.Dispatch(ctx, []dispatch.Event{ev}); res.Failed > 0 {
			return errDispatchFailed
		}
		return nil
	}
}

type chatResponder struct {
	c tele.Context
}

func (r *chatResponder) Reply(_ context.Context, reply *wager.Reply) error {
	text, markup := Render(reply)
	if text == "" {
		return nil
	}
	return tghelpers.SendWithMarkup(r.c, text, markup)
}
