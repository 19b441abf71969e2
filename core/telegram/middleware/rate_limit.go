package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/telegram/dispatch"
	"github.com/m3rciful/flowbot/core/telegram/netutil"
	"github.com/m3rciful/flowbot/core/telegram/update"
)

const limitedKey = "rate_limited"

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	Interval  time.Duration
	Exclude   map[update.Kind]struct{}
	OnLimited func(c *dispatch.Context) error
	// Now is used in tests; defaults to time.Now.
	Now func() time.Time
}

// RateLimit drops updates arriving from the same correspondent faster than
// opts.Interval. Excluded kinds and updates without a correspondent pass through.
func RateLimit(opts RateLimitOptions) dispatch.Middleware {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	var (
		mu       sync.Mutex
		lastSeen = make(map[int64]time.Time)
	)
	sweep := func(t time.Time) {
		for id, ts := range lastSeen {
			if t.Sub(ts) >= opts.Interval {
				delete(lastSeen, id)
			}
		}
	}
	return func(next dispatch.UpdateFunc) dispatch.UpdateFunc {
		return func(c *dispatch.Context) error {
			id, ok := c.CorrespondentID()
			if !ok || opts.Interval <= 0 {
				return next(c)
			}
			if _, skip := opts.Exclude[c.Kind()]; skip {
				return next(c)
			}

			t := now()
			mu.Lock()
			if last, seen := lastSeen[id]; seen && t.Sub(last) < opts.Interval {
				mu.Unlock()
				c.Set(limitedKey, true)
				logger.LogEvent(c.Context(), logger.TG, slog.LevelWarn, "tg.rate_limit",
					slog.String("status", "rate_limited"),
				)
				if opts.OnLimited != nil {
					if err := opts.OnLimited(c); err != nil {
						logger.LogEvent(c.Context(), logger.TG, slog.LevelWarn, "tg.rate_limit.notify_failed",
							slog.String("status", "fail"),
							slog.String("err", netutil.Redact(err)),
						)
					}
				}
				return nil
			}
			lastSeen[id] = t
			if len(lastSeen) > 4096 {
				sweep(t)
			}
			mu.Unlock()
			return next(c)
		}
	}
}
