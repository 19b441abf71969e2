package middleware

import (
	"log/slog"
	"runtime/debug"

	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/telegram/dispatch"
)

// Recover turns a panic in downstream handlers into a *dispatch.PanicError
// and logs it with the stack. onPanic, if set, runs after logging, e.g. to
// tell the user something went wrong.
func Recover(onPanic func(c *dispatch.Context, v any)) dispatch.Middleware {
	return func(next dispatch.UpdateFunc) dispatch.UpdateFunc {
		return func(c *dispatch.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				stack := debug.Stack()
				logger.LogEvent(c.Context(), logger.TG, slog.LevelError, "tg.panic",
					slog.String("outcome", "panic"),
					slog.Any("err", r),
					slog.String("stack", string(stack)),
				)
				if onPanic != nil {
					func() {
						defer func() { _ = recover() }()
						onPanic(c, r)
					}()
				}
				err = &dispatch.PanicError{Value: r, Stack: stack}
			}()
			return next(c)
		}
	}
}
