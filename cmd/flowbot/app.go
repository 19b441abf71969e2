package main

import (
	"context"
	"fmt"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/admin"
	"github.com/m3rciful/flowbot/core/bootstrap"
	corecmd "github.com/m3rciful/flowbot/core/cmd"
	coreconfig "github.com/m3rciful/flowbot/core/config"
	coretelegram "github.com/m3rciful/flowbot/core/telegram"
	"github.com/m3rciful/flowbot/core/telegram/commands"
	"github.com/m3rciful/flowbot/core/telegram/dispatch"
	"github.com/m3rciful/flowbot/core/telegram/helpers"
	"github.com/m3rciful/flowbot/core/telegram/sender"
	"github.com/m3rciful/flowbot/core/telegram/state"
)

type appConfig struct {
	*coreconfig.Config
}

func (c appConfig) CoreConfig() *coreconfig.Config { return c.Config }

func loadConfig(path string) (corecmd.ConfigCarrier, error) {
	cfg, err := coreconfig.Load(path)
	if err != nil {
		return nil, err
	}
	return appConfig{Config: cfg}, nil
}

type app struct {
	cfg   *coreconfig.Config
	infra *bootstrap.Result
	bot   *tele.Bot
	flow  *flow
	reg   *dispatch.Registry
	cmds  *commands.Set
	admin *admin.Server
}

func newApp(ctx context.Context, carrier corecmd.ConfigCarrier) (_ corecmd.TelegramApp, err error) {
	cfg := carrier.CoreConfig()
	infra, err := bootstrap.Run(ctx, bootstrap.Options{Config: cfg})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = infra.Close(context.WithoutCancel(ctx))
		}
	}()

	store, err := bootstrap.NewStore[profile](infra, newCodec())
	if err != nil {
		return nil, err
	}
	bot, err := coretelegram.NewBot(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:   cfg,
		infra: infra,
		bot:   bot,
		flow:  state.NewMachine(store, state.Options{MaxDepth: cfg.Dispatch.MaxTransitionDepth}),
		reg:   dispatch.NewRegistry(),
		cmds:  commands.NewSet(),
	}
	err = wire(a.reg, a.cmds, a.flow, commands.Options{
		BotUsername: bot.Me.Username,
		AdminID:     cfg.Telegram.AdminID,
		OnAdminReject: func(c *dispatch.Context, _ *tele.Message) error {
			return helpers.Reply(c, "This command is for the bot admin.")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("wire handlers: %w", err)
	}
	return a, nil
}

func (a *app) Bot() *tele.Bot { return a.bot }

func (a *app) TelegramRunOptions() (coretelegram.RunOptions, error) {
	mwOpts := coretelegram.MiddlewareOptions{
		OnLimited: func(c *dispatch.Context) error {
			return helpers.Reply(c, "Slow down a little.")
		},
	}
	if a.infra.TracerProvider != nil {
		mwOpts.TracerProvider = a.infra.TracerProvider
	}

	return coretelegram.RunOptions{
		Config:      a.cfg,
		Registry:    a.reg,
		Commands:    a.cmds,
		Middlewares: coretelegram.DefaultMiddlewares(a.cfg, mwOpts),
		SenderOptions: sender.Options{
			Workers:    a.cfg.Dispatch.SenderWorkers,
			QueueSize:  a.cfg.Dispatch.SenderQueue,
			MaxRetries: a.cfg.Dispatch.SenderRetries,
		},
		OnStart: a.start,
		OnStop:  a.stop,
	}, nil
}

func (a *app) start(ctx context.Context, rt coretelegram.Runtime) error {
	if a.cfg.Admin.Listen == "" {
		return nil
	}
	a.admin = admin.New(admin.Options{
		Listen:    a.cfg.Admin.Listen,
		Inspector: a.flow,
		Engine:    rt.Engine.Stats,
		Sender:    rt.Sender.Stats,
		Checks:    a.infra.Checks,
	})
	return a.admin.Start(ctx)
}

func (a *app) stop(ctx context.Context, _ coretelegram.Runtime) error {
	if a.admin == nil {
		return nil
	}
	return a.admin.Stop(ctx)
}

func (a *app) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return a.infra.Close(ctx)
}
