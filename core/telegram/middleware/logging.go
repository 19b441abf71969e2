package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/telegram/callbacks"
	"github.com/m3rciful/flowbot/core/telegram/dispatch"
)

// Logger sets the request id and update metadata on the context, logs a
// sampled receipt line and one summary line per update.
func Logger(next dispatch.UpdateFunc) dispatch.UpdateFunc {
	return func(c *dispatch.Context) error {
		start := time.Now()
		upd := c.Update()
		correspondent, _ := c.CorrespondentID()
		chatID := c.ChatID()

		rid := logger.BuildRID(upd.ID, chatID, correspondent)
		ctx := logger.WithRID(c.Context(), rid)
		ctx = logger.WithUpdateMeta(ctx, upd.ID, correspondent, chatID)
		ctx = logger.WithKind(ctx, string(c.Kind()))
		ctx = logger.WithLogger(ctx, logger.DISP)
		c = c.WithContext(ctx)
		c.Set("rid", rid)

		if logger.ShouldSampleDebug() {
			logger.LogEvent(ctx, logger.DISP, slog.LevelDebug, "update.received", receiptAttrs(c)...)
		}

		err := next(c)

		status, outcome := "ok", "ok"
		switch {
		case err != nil:
			status, outcome = "fail", "fail"
			var pe *dispatch.PanicError
			if errors.As(err, &pe) {
				outcome = "panic"
			}
		case c.Get(limitedKey) != nil:
			status, outcome = "rate_limited", "rate_limited"
		case c.Get(deniedKey) != nil:
			status, outcome = "denied", "ok"
		case c.Matched() == 0:
			status, outcome = "skip", "unmatched"
		}
		attrs := []slog.Attr{
			slog.String("status", status),
			slog.String("outcome", outcome),
			slog.Int("handlers", c.Matched()),
			slog.Duration("duration", logger.Took(start)),
		}
		if sent, edits := Counters(c); sent > 0 || edits > 0 {
			attrs = append(attrs, slog.Int("messages", sent), slog.Int("edits", edits))
		}
		if err != nil {
			attrs = append(attrs, slog.String("err", logger.SanitizeLimit(err.Error(), 256)))
		}
		logger.LogEvent(ctx, logger.DISP, slog.LevelInfo, "update.handled", attrs...)
		return err
	}
}

func receiptAttrs(c *dispatch.Context) []slog.Attr {
	upd := c.Update()
	attrs := []slog.Attr{slog.String("status", "ok")}
	switch {
	case upd.Callback != nil:
		if key := callbacks.Key(upd.Callback); key != "" {
			attrs = append(attrs, slog.String("cb_key", logger.SanitizeLimit(key, 128)))
		}
		if p := callbacks.Payload(upd.Callback); p != "" {
			attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(p, 256)))
		}
	case upd.Message != nil:
		if upd.Message.Sender != nil && upd.Message.Sender.Username != "" {
			attrs = append(attrs, slog.String("username", logger.SanitizeLimit(upd.Message.Sender.Username, 64)))
		}
		if t := upd.Message.Text; t != "" {
			attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(t, 256)))
		}
	case upd.Query != nil:
		if upd.Query.Text != "" {
			attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(upd.Query.Text, 256)))
		}
	}
	return attrs
}
