package sender

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/m3rciful/betbot/core/logger"
	"github.com/m3rciful/betbot/core/metrics"
	"github.com/m3rciful/betbot/core/telegram/netutil"

	tele "gopkg.in/telebot.v4"
)

const component = "tg.sender"

// execute runs one job to success or to its final failure.
func (d *Dispatcher) execute(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, d.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attempts := d.opts.MaxRetries + 1
	logger.Debug(j.ctx, component, "send.start", j.attrs()...)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = j.run(); err == nil {
			attrs := append(j.attrs(), slog.Int64("duration_ms", logger.RoundMS(time.Since(start)).Milliseconds()))
			if attempt > 1 {
				attrs = append(attrs, slog.Int("attempts", attempt))
				logger.Info(j.ctx, component, "send.retry.success", attrs...)
			} else {
				logger.Debug(j.ctx, component, "send.success", attrs...)
			}
			metrics.Outbound(platform, nil)
			return
		}

		wait, retry := d.backoff(err, attempt)
		if !retry || attempt == attempts {
			break
		}
		logger.Debug(j.ctx, component, "send.retry.backoff",
			append(j.attrs(), slog.Int("attempts", attempt), slog.Int64("backoff_ms", wait.Milliseconds()))...,
		)
		if !sleep(ctx, wait) {
			err = errors.Join(err, ctx.Err())
			break
		}
	}

	d.errs.Add(1)
	metrics.Outbound(platform, err)
	logger.Error(j.ctx, component, "send.fail", append(j.attrs(),
		slog.String("err", sanitizeErrorMessage(err)),
		slog.String("err_code", classifyError(err)),
		slog.Int("attempts", attempts),
		slog.Int64("duration_ms", logger.RoundMS(time.Since(start)).Milliseconds()),
	)...)
}

// backoff decides whether err deserves another attempt and how long to wait.
// A flood error carries the wait Telegram asked for.
func (d *Dispatcher) backoff(err error, attempt int) (time.Duration, bool) {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return time.Duration(max(flood.RetryAfter, 1)) * time.Second, true
	}
	if netutil.ShouldRetry(err) {
		return d.opts.RetryBackoff * time.Duration(attempt), true
	}
	return 0, false
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (j job) attrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 4)
	attrs = append(attrs, slog.String("handler", j.action))
	if j.endpoint != "" {
		attrs = append(attrs, slog.String("method", j.endpoint))
	}
	return attrs
}
