package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/telegram/callbacks"
	"github.com/m3rciful/flowbot/core/telegram/commands"
	"github.com/m3rciful/flowbot/core/telegram/dispatch"
	"github.com/m3rciful/flowbot/core/telegram/format"
	"github.com/m3rciful/flowbot/core/telegram/helpers"
	"github.com/m3rciful/flowbot/core/telegram/keyboard"
	"github.com/m3rciful/flowbot/core/telegram/state"
	"github.com/m3rciful/flowbot/core/telegram/update"
)

const (
	flowKey = "flow"
	hiKey   = "hi"

	maxAgeAttempts = 3
)

const (
	kindAskName    state.Kind = "ask_name"
	kindAskAge     state.Kind = "ask_age"
	kindRegistered state.Kind = "registered"
)

type askName struct{}

func (askName) Kind() state.Kind { return kindAskName }

type askAge struct {
	Attempts int `json:"attempts"`
}

func (askAge) Kind() state.Kind { return kindAskAge }

type registered struct{}

func (registered) Kind() state.Kind { return kindRegistered }

// profile is the global value carried through the registration flow.
type profile struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

type flow = state.Machine[profile]

func newCodec() *state.Codec {
	c := state.NewCodec()
	state.Register(c, askName{})
	state.Register(c, askAge{})
	state.Register(c, registered{})
	return c
}

func send(c *state.Context[profile], text string, markup ...*tele.ReplyMarkup) error {
	opts := []interface{}{tele.ModeMarkdown}
	if len(markup) > 0 && markup[0] != nil {
		opts = append(opts, markup[0])
	}
	return helpers.SendTo(c.Update(), c.Recipient(), text, opts...)
}

func registerStates(m *flow) {
	nameHook := func(c *state.Context[profile], msg *tele.Message) error {
		name := strings.TrimSpace(msg.Text)
		if name == "" {
			return send(c, "Please send your name as text.")
		}
		c.UpdateGlobal(func(p profile) profile {
			p.Name = name
			return p
		})
		c.SetCurrent(askAge{})
		return nil
	}
	m.Handle(kindAskName, state.HandlerFuncs[profile]{
		OnEnter: func(c *state.Context[profile]) error {
			return send(c, "Please send your name.", keyboard.Cancel(flowKey))
		},
		OnMessage:       nameHook,
		OnEditedMessage: nameHook,
	})

	m.Handle(kindAskAge, state.HandlerFuncs[profile]{
		OnEnter: func(c *state.Context[profile]) error {
			cur, _ := state.CurrentAs[askAge](c)
			if cur.Attempts == 0 {
				return send(c, fmt.Sprintf("Got your name, *%s*! Now, please send your age.",
					format.EscapeMD(c.Global().Name)), keyboard.Cancel(flowKey))
			}
			return send(c, fmt.Sprintf("That is not an age. Attempts left: %d.", maxAgeAttempts-cur.Attempts))
		},
		OnMessage: func(c *state.Context[profile], msg *tele.Message) error {
			age, err := strconv.Atoi(strings.TrimSpace(msg.Text))
			if err == nil && age > 0 && age < 150 {
				c.UpdateGlobal(func(p profile) profile {
					p.Age = age
					return p
				})
				c.SetCurrent(registered{})
				return nil
			}
			cur, _ := state.CurrentAs[askAge](c)
			if cur.Attempts+1 >= maxAgeAttempts {
				c.Finish()
				return send(c, "Too many attempts. Send /start to try again.", keyboard.Remove())
			}
			c.SetCurrent(askAge{Attempts: cur.Attempts + 1})
			return nil
		},
	})

	m.Handle(kindRegistered, state.HandlerFuncs[profile]{
		OnEnter: func(c *state.Context[profile]) error {
			p := c.Global()
			return send(c, fmt.Sprintf("Registration complete! Name: *%s*, Age: *%d*",
				format.EscapeMD(p.Name), p.Age))
		},
	})
}

// wire registers every route of the bot on reg, in priority order: commands,
// callback buttons, the registration flow, then the echo fallback.
func wire(reg *dispatch.Registry, cmds *commands.Set, m *flow, opts commands.Options) error {
	registerStates(m)

	err := errors.Join(
		cmds.Register("/start", commands.Command{
			Description: "Start registration",
			Handler: func(c *dispatch.Context, msg *tele.Message) error {
				id, ok := update.MessageSender(msg)
				if !ok {
					return nil
				}
				return m.Enter(c, id, askName{}, profile{})
			},
		}),
		cmds.Register("/cancel", commands.Command{
			Description: "Cancel registration",
			Aliases:     []string{"stop"},
			Handler: func(c *dispatch.Context, msg *tele.Message) error {
				id, ok := update.MessageSender(msg)
				if !ok {
					return nil
				}
				return cancelFlow(c, m, id)
			},
		}),
		cmds.Register("/whoami", commands.Command{
			Description: "Show your registration",
			Handler: func(c *dispatch.Context, msg *tele.Message) error {
				id, ok := update.MessageSender(msg)
				if !ok {
					return nil
				}
				return whoami(c, m, id)
			},
		}),
		cmds.Register("/reset", commands.Command{
			Description: "Clear a user's state",
			AdminOnly:   true,
			Hidden:      true,
			Handler: func(c *dispatch.Context, msg *tele.Message) error {
				inv, _ := commands.Parse(msg.Text)
				id, err := strconv.ParseInt(inv.Args, 10, 64)
				if err != nil {
					return helpers.Reply(c, "Usage: /reset <user id>")
				}
				if err := m.Clear(c.Context(), id); err != nil {
					return err
				}
				return helpers.Reply(c, fmt.Sprintf("State of %d cleared.", id))
			},
		}),
	)
	if err != nil {
		return err
	}

	router := callbacks.NewRouter()
	err = errors.Join(
		router.Handle(flowKey, func(c *dispatch.Context, cb *tele.Callback) error {
			if callbacks.Payload(cb) != "cancel" || cb.Sender == nil {
				return nil
			}
			return cancelFlow(c, m, cb.Sender.ID)
		}),
		router.Handle(hiKey, func(c *dispatch.Context, cb *tele.Callback) error {
			return helpers.Reply(c, "You said hi!")
		}),
	)
	if err != nil {
		return err
	}

	return errors.Join(
		cmds.Attach(reg, opts),
		router.Attach(reg),
		reg.OnMessage(nil, dispatch.Unhandled(func(c *dispatch.Context, msg *tele.Message) error {
			id, ok := update.MessageSender(msg)
			if !ok {
				return nil
			}
			return m.RouteMessage(c, id, msg)
		})),
		reg.OnEditedMessage(nil, func(c *dispatch.Context, msg *tele.Message) error {
			id, ok := update.MessageSender(msg)
			if !ok {
				return nil
			}
			return m.RouteEditedMessage(c, id, msg)
		}),
		reg.OnMessage(nil, dispatch.Unhandled(echo)),
	)
}

func cancelFlow(c *dispatch.Context, m *flow, id int64) error {
	if !m.InState(c.Context(), id, kindAskName, kindAskAge) {
		return helpers.Reply(c, "Nothing to cancel.")
	}
	if err := m.Clear(c.Context(), id); err != nil {
		return err
	}
	return helpers.Reply(c, "Registration cancelled.", keyboard.Remove())
}

func whoami(c *dispatch.Context, m *flow, id int64) error {
	env, ok, err := m.Get(c.Context(), id)
	if err != nil {
		return err
	}
	if !ok || state.KindOf(env.Current) != kindRegistered {
		return helpers.Reply(c, "You are not registered yet. Send /start.")
	}
	return helpers.ReplyMD(c, fmt.Sprintf("Name: *%s*\nAge: *%d*", format.EscapeMD(env.Global.Name), env.Global.Age))
}

func echo(c *dispatch.Context, msg *tele.Message) error {
	if msg.Text == "" {
		return nil
	}
	name := "there"
	if msg.Sender != nil && msg.Sender.FirstName != "" {
		name = msg.Sender.FirstName
	}
	return helpers.Reply(c, fmt.Sprintf("Hello, %s! You said: %s", name, msg.Text),
		keyboard.Inline([]keyboard.Button{{Text: "Say Hi", Key: hiKey}}))
}
