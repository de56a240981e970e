// Package middleware holds the telebot middleware chain shared by every update.
package middleware

import (
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/m3rciful/betbot/core/logger"
	"github.com/m3rciful/betbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/betbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// received remembers update ids for a short while so webhook redeliveries
// produce a single receipt line.
var received = expirable.NewLRU[int, struct{}](4096, nil, 10*time.Second)

func firstSeen(updateID int) bool {
	if received.Contains(updateID) {
		return false
	}
	received.Add(updateID, struct{}{})
	return true
}

// LoggerMiddleware stamps the update with its rid, caches the request context
// for downstream helpers and logs a sampled receipt line. Handler errors are
// logged once here.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		upd := c.Update()
		var chatID, userID int64
		if chat := c.Chat(); chat != nil {
			chatID = chat.ID
		}
		if user := c.Sender(); user != nil {
			userID = user.ID
		}
		c.Set("rid", logger.BuildRID(upd.ID, chatID, userID))
		ctx := tghelpers.BuildContext(c)
		start := time.Now()

		if logger.ShouldSampleDebug() && firstSeen(upd.ID) {
			logger.LogEvent(ctx, logger.TG, slog.LevelDebug, "update.received", receipt(c)...)
		}

		err := next(c)
		if err != nil {
			logger.TG.WarnContext(ctx, "update failed",
				slog.String("event", "update.done"),
				slog.String("status", "fail"),
				slog.Duration("duration", logger.Took(start)),
				slog.String("err", logger.ErrAttr(err)),
			)
		}
		return err
	}
}

func receipt(c tele.Context) []slog.Attr {
	attrs := []slog.Attr{slog.String("status", "ok")}
	if cb, ok := callbacks.From(c); ok {
		return append(attrs,
			slog.String("kind", "callback"),
			slog.String("handler", cb.Unique),
			slog.String("payload", logger.SanitizeLimit(cb.Payload, 256)),
		)
	}
	if msg := c.Message(); msg != nil {
		attrs = append(attrs,
			slog.String("kind", "message"),
			slog.String("payload", logger.SanitizeLimit(msg.Text, 256)),
		)
	}
	return attrs
}
