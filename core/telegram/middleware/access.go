package middleware

import (
	"log/slog"

	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/telegram/dispatch"
)

const deniedKey = "access_denied"

// AccessOptions defines who may reach downstream handlers.
type AccessOptions struct {
	// Allowed lists permitted correspondents; empty allows everyone.
	Allowed []int64
	// OnReject runs for rejected updates.
	OnReject func(c *dispatch.Context) error
}

// Access stops updates from correspondents missing from opts.Allowed.
func Access(opts AccessOptions) dispatch.Middleware {
	allowed := make(map[int64]struct{}, len(opts.Allowed))
	for _, id := range opts.Allowed {
		allowed[id] = struct{}{}
	}
	return func(next dispatch.UpdateFunc) dispatch.UpdateFunc {
		if len(allowed) == 0 {
			return next
		}
		return func(c *dispatch.Context) error {
			id, ok := c.CorrespondentID()
			if _, permitted := allowed[id]; ok && permitted {
				return next(c)
			}
			c.Set(deniedKey, true)
			logger.LogEvent(c.Context(), logger.TG, slog.LevelWarn, "tg.access_denied",
				slog.String("status", "denied"),
			)
			if opts.OnReject != nil {
				return opts.OnReject(c)
			}
			return nil
		}
	}
}

// AdminOnly wraps action so only adminID may run it. adminID 0 disables the check.
func AdminOnly[T any](adminID int64, action dispatch.Action[T], onReject dispatch.Action[T]) dispatch.Action[T] {
	if adminID == 0 {
		return action
	}
	return func(c *dispatch.Context, payload T) error {
		if id, ok := c.CorrespondentID(); ok && id == adminID {
			return action(c, payload)
		}
		if onReject != nil {
			return onReject(c, payload)
		}
		return nil
	}
}
