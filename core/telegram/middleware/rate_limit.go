package middleware

import (
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	coreconfig "github.com/m3rciful/betbot/core/config"
	"github.com/m3rciful/betbot/core/logger"
	tghelpers "github.com/m3rciful/betbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

const maxLimitedUsers = 10000

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	// Interval is the minimum spacing between two updates from one user.
	Interval  time.Duration
	Exclude   map[string]struct{}
	OnLimited tele.HandlerFunc
}

// UpdateKind names the update for exclusion matching: callback, message, inline_query or other.
func UpdateKind(upd tele.Update) string {
	switch {
	case upd.Callback != nil:
		return coreconfig.UpdateCallback
	case upd.Message != nil:
		return coreconfig.UpdateMessage
	case upd.Query != nil:
		return "inline_query"
	}
	return "other"
}

// RateLimitMiddleware drops updates from a user arriving faster than one per Interval.
// Limiters for idle users expire so the table stays bounded.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	ttl := max(opts.Interval*10, time.Minute)
	limiters := expirable.NewLRU[int64, *rate.Limiter](maxLimitedUsers, nil, ttl)

	allow := func(userID int64) bool {
		lim, ok := limiters.Get(userID)
		if !ok {
			lim = rate.NewLimiter(rate.Every(opts.Interval), 1)
			limiters.Add(userID, lim)
		}
		return lim.Allow()
	}

	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			if _, skip := opts.Exclude[UpdateKind(c.Update())]; skip {
				return next(c)
			}
			if allow(user.ID) {
				return next(c)
			}

			logger.TG.WarnContext(tghelpers.BuildContext(c), "rate limit",
				slog.String("event", "tg.rate_limit"),
				slog.String("status", "rate_limited"),
			)
			if opts.OnLimited != nil {
				_ = opts.OnLimited(c)
			}
			return nil
		}
	}
}
