package telegram

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/m3rciful/flowbot/core/config"
	"github.com/m3rciful/flowbot/core/telegram/dispatch"
	"github.com/m3rciful/flowbot/core/telegram/middleware"
	"github.com/m3rciful/flowbot/core/telegram/update"
)

// MiddlewareOptions carries the callbacks of the default chain.
type MiddlewareOptions struct {
	// TracerProvider enables a span per update when set.
	TracerProvider trace.TracerProvider
	OnPanic        func(c *dispatch.Context, v any)
	OnLimited      func(c *dispatch.Context) error
	OnReject       func(c *dispatch.Context) error
}

// DefaultMiddlewares builds the shared chain, outermost first: tracing,
// logging, panic recovery, message counters, rate limiting, access control.
func DefaultMiddlewares(cfg *config.Config, opts MiddlewareOptions) []dispatch.Middleware {
	var mws []dispatch.Middleware
	if opts.TracerProvider != nil {
		mws = append(mws, middleware.Trace(opts.TracerProvider))
	}
	mws = append(mws,
		middleware.Logger,
		middleware.Recover(opts.OnPanic),
		middleware.MessageMetrics,
	)
	if cfg == nil {
		return mws
	}

	if interval := time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond; interval > 0 {
		exclude := make(map[update.Kind]struct{}, len(cfg.RateLimit.ExcludeUpdates))
		for _, k := range cfg.RateLimit.ExcludeUpdates {
			exclude[update.Kind(k)] = struct{}{}
		}
		mws = append(mws, middleware.RateLimit(middleware.RateLimitOptions{
			Interval:  interval,
			Exclude:   exclude,
			OnLimited: opts.OnLimited,
		}))
	}
	if len(cfg.Telegram.AllowedUsers) > 0 {
		mws = append(mws, middleware.Access(middleware.AccessOptions{
			Allowed:  cfg.Telegram.AllowedUsers,
			OnReject: opts.OnReject,
		}))
	}
	return mws
}
