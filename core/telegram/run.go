// Package telegram assembles a bot process: the Bot API client, the update
// source, the dispatch engine and the outbound sender.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/config"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/telegram/commands"
	"github.com/m3rciful/flowbot/core/telegram/dispatch"
	"github.com/m3rciful/flowbot/core/telegram/helpers"
	"github.com/m3rciful/flowbot/core/telegram/sender"
)

// NewBot creates the Bot API client described by cfg. The poller is chosen
// later by Run, once every handler is registered.
func NewBot(cfg *config.Config) (*tele.Bot, error) {
	if cfg == nil {
		return nil, errors.New("telegram: nil config provided")
	}
	pollTimeout := time.Duration(cfg.Telegram.LongPollTimeoutSeconds) * time.Second
	if pollTimeout <= 0 {
		pollTimeout = defaultLongPollTimeout
	}

	start := time.Now()
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Telegram.Token,
		Client: NewHTTPClient(HTTPClientOptions{Timeout: pollTimeout + 20*time.Second, Retries: 3}),
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: bot initialization failed: %w", err)
	}
	logger.TG.LogAttrs(context.Background(), slog.LevelInfo, "",
		slog.String("event", "bot.ready"),
		slog.String("username", bot.Me.Username),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return bot, nil
}

// RunOptions controls Run.
type RunOptions struct {
	Config   *config.Config
	Registry *dispatch.Registry
	// Commands, when set, is published as the bot menu on start.
	Commands *commands.Set

	// Middlewares wrap every update. nil selects DefaultMiddlewares(Config).
	Middlewares []dispatch.Middleware
	OnError     func(c *dispatch.Context, err error)

	SenderOptions sender.Options
	Sender        *sender.Dispatcher

	// Poller replaces the source derived from Config.
	Poller tele.Poller

	DisableWebhookCleanup   bool
	DisableHelperDispatcher bool

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime exposes the running components to lifecycle hooks.
type Runtime struct {
	Bot      *tele.Bot
	Engine   *dispatch.Engine
	Sender   *sender.Dispatcher
	Registry *dispatch.Registry
}

// Run serves updates until ctx ends, then drains in-flight work and returns.
// Cancellation is a clean stop and yields nil; a poller that quits on its own
// yields dispatch.ErrSourceStopped.
func Run(ctx context.Context, bot *tele.Bot, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Config == nil {
		return errors.New("telegram: nil config provided")
	}
	cfg := opts.Config
	reg := opts.Registry
	if reg == nil {
		reg = dispatch.NewRegistry()
	}

	poller := opts.Poller
	if poller == nil {
		poller = BuildPoller(PollerOptionsFrom(cfg, reg.AllowedUpdates()))
	}
	logger.TG.LogAttrs(ctx, slog.LevelInfo, "", append([]slog.Attr{slog.String("event", "poller.mode")}, pollerAttrs(poller)...)...)

	if _, polling := poller.(*tele.LongPoller); polling && !opts.DisableWebhookCleanup {
		if err := bot.RemoveWebhook(false); err != nil {
			logger.TG.Warn("failed to delete webhook",
				slog.String("event", "webhook.delete"),
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		} else {
			logger.TG.Info("webhook deleted",
				slog.String("event", "webhook.delete"),
				slog.String("status", "ok"),
			)
		}
	}

	snd := opts.Sender
	if snd == nil {
		snd = sender.NewDispatcher(opts.SenderOptions)
	}
	if !opts.DisableHelperDispatcher {
		helpers.SetDispatcher(snd)
		defer helpers.SetDispatcher(nil)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := snd.Close(closeCtx); err != nil {
			logger.TG.Warn("sender close timed out",
				slog.String("event", "sender.close"),
				slog.String("err", err.Error()),
			)
		}
	}()

	mws := opts.Middlewares
	if mws == nil {
		mws = DefaultMiddlewares(cfg, MiddlewareOptions{})
	}
	engine := dispatch.NewEngine(reg, bot, dispatch.Options{
		Workers:     cfg.Dispatch.Workers,
		Middlewares: mws,
		OnError:     opts.OnError,
	})
	rt := Runtime{Bot: bot, Engine: engine, Sender: snd, Registry: reg}

	if opts.Commands != nil {
		if err := opts.Commands.Publish(bot); err != nil {
			logger.TG.Warn("command menu not published",
				slog.String("event", "commands.publish"),
				slog.String("err", err.Error()),
			)
		}
	}

	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			return fmt.Errorf("telegram: start hook: %w", err)
		}
	}

	runErr := engine.Run(ctx, poller, bot)

	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	if opts.OnStop != nil {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := opts.OnStop(stopCtx, rt); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("telegram: stop hook: %w", err))
		}
	}
	return runErr
}
