package line

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"github.com/m3rciful/betbot/core/dispatch"
	"github.com/m3rciful/betbot/core/logger"
	"github.com/m3rciful/betbot/core/wager"
)

// Dispatcher consumes a batch of converted events.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []dispatch.Event) dispatch.Result
}

// WebhookHandler verifies the LINE signature and dispatches every event of the callback.
type WebhookHandler struct {
	secret     string
	client     Client
	dispatcher Dispatcher
}

// NewWebhookHandler returns the POST /webhook handler.
func NewWebhookHandler(channelSecret string, client Client, d Dispatcher) *WebhookHandler {
	return &WebhookHandler{secret: channelSecret, client: client, dispatcher: d}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cb, err := webhook.ParseRequest(h.secret, r)
	if err != nil {
		status := "fail"
		if errors.Is(err, webhook.ErrInvalidSignature) {
			status = "unauthorized"
		}
		logger.LINE.WarnContext(r.Context(), "webhook rejected",
			slog.String("event", "line.webhook"),
			slog.String("status", status),
			slog.Int("http_code", http.StatusBadRequest),
			slog.String("err", logger.ErrAttr(err)),
		)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	events := h.Events(cb)
	// The batch finishes even if LINE drops the connection.
	ctx := context.WithoutCancel(r.Context())
	res := h.dispatcher.Dispatch(ctx, events)

	logger.LINE.InfoContext(r.Context(), "webhook processed",
		slog.String("event", "line.webhook"),
		slog.Int("count", len(cb.Events)),
		slog.Int("handled", res.Handled),
		slog.Int("dropped", res.Dropped),
		slog.Int("failed", res.Failed),
	)
	w.WriteHeader(http.StatusOK)
}

// Events converts a callback into dispatch events, preserving order.
// Events the core cannot act on keep an empty Kind so the dispatcher drops and counts them.
func (h *WebhookHandler) Events(cb *webhook.CallbackRequest) []dispatch.Event {
	out := make([]dispatch.Event, 0, len(cb.Events))
	for _, raw := range cb.Events {
		ev := dispatch.Event{Platform: platform}
		switch e := raw.(type) {
		case webhook.MessageEvent:
			ev.Kind = dispatch.KindMessage
			ev.UserID = userID(e.Source)
			ev.Responder = h.responder(e.ReplyToken)
			if text, ok := e.Message.(webhook.TextMessageContent); ok {
				ev.MessageType = dispatch.MessageTypeText
				ev.Text = text.Text
			}
		case webhook.PostbackEvent:
			ev.Kind = dispatch.KindPostback
			ev.UserID = userID(e.Source)
			ev.Responder = h.responder(e.ReplyToken)
			if e.Postback != nil {
				ev.Data = e.Postback.Data
			}
		}
		out = append(out, ev)
	}
	return out
}

func userID(src webhook.SourceInterface) string {
	switch s := src.(type) {
	case webhook.UserSource:
		return s.UserId
	case webhook.GroupSource:
		return s.UserId
	case webhook.RoomSource:
		return s.UserId
	}
	return ""
}

func (h *WebhookHandler) responder(replyToken string) dispatch.Responder {
	return &replyResponder{client: h.client, token: replyToken}
}

// replyResponder answers through the single-use reply token of one event.
type replyResponder struct {
	client Client
	token  string
}

func (r *replyResponder) Reply(ctx context.Context, reply *wager.Reply) error {
	msgs := Messages(reply)
	if len(msgs) == 0 || r.token == "" {
		return nil
	}
	return r.client.Reply(ctx, r.token, msgs)
}
