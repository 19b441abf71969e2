// Package helpers sends replies for dispatched updates, through the async
// sender when one is installed.
package helpers

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/telegram/dispatch"
	"github.com/m3rciful/flowbot/core/telegram/sender"
)

// ErrNoRecipient is returned when the update has no chat to reply to.
var ErrNoRecipient = errors.New("helpers: update has no chat")

// ErrNoAPI is returned when the context carries no API handle.
var ErrNoAPI = errors.New("helpers: no api bound")

var globalDispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher installs the async sender. nil makes sends synchronous.
func SetDispatcher(d *sender.Dispatcher) {
	globalDispatcher.Store(d)
}

func sendAsync(c *dispatch.Context, action, endpoint string, run func(dispatch.API) error) error {
	api := c.API()
	if api == nil {
		return ErrNoAPI
	}
	disp := globalDispatcher.Load()
	if disp == nil {
		return run(api)
	}
	err := disp.Enqueue(c.Context(), sender.Job{
		Action:   action,
		Endpoint: endpoint,
		Run:      func(context.Context) error { return run(api) },
	})
	if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
		logger.Warn(c.Context(), "tg.sender", "queue.fallback",
			slog.String("action", action),
			slog.String("endpoint", endpoint),
			slog.String("err", err.Error()),
		)
		return run(api)
	}
	return err
}

// Chat returns the chat of the update as a send target.
func Chat(c *dispatch.Context) (tele.Recipient, bool) {
	id := c.ChatID()
	if id == 0 {
		return nil, false
	}
	return &tele.Chat{ID: id}, true
}

// SendTo sends what to an explicit recipient.
func SendTo(c *dispatch.Context, to tele.Recipient, what interface{}, opts ...interface{}) error {
	return sendAsync(c, "send", "sendMessage", func(api dispatch.API) error {
		_, err := api.Send(to, what, opts...)
		return err
	})
}

// Reply sends plain text to the chat of the update.
func Reply(c *dispatch.Context, text string, markup ...*tele.ReplyMarkup) error {
	return reply(c, "send.text", text, &tele.SendOptions{ReplyMarkup: first(markup)})
}

// ReplyMD sends Markdown text to the chat of the update.
func ReplyMD(c *dispatch.Context, text string, markup ...*tele.ReplyMarkup) error {
	return reply(c, "send.md", text, &tele.SendOptions{ParseMode: tele.ModeMarkdown, ReplyMarkup: first(markup)})
}

// ReplyMDV2 sends MarkdownV2 text to the chat of the update.
func ReplyMDV2(c *dispatch.Context, text string, markup ...*tele.ReplyMarkup) error {
	return reply(c, "send.mdv2", text, &tele.SendOptions{ParseMode: tele.ModeMarkdownV2, ReplyMarkup: first(markup)})
}

func reply(c *dispatch.Context, action, text string, opts *tele.SendOptions) error {
	to, ok := Chat(c)
	if !ok {
		return ErrNoRecipient
	}
	return sendAsync(c, action, "sendMessage", func(api dispatch.API) error {
		_, err := api.Send(to, text, opts)
		return err
	})
}

// EditMD edits msg in place with Markdown text. Edits are synchronous so the
// caller can fall back to a new message.
func EditMD(c *dispatch.Context, msg tele.Editable, text string, markup ...*tele.ReplyMarkup) error {
	api := c.API()
	if api == nil {
		return ErrNoAPI
	}
	_, err := api.Edit(msg, text, &tele.SendOptions{ParseMode: tele.ModeMarkdown, ReplyMarkup: first(markup)})
	return err
}

// EditOrReplyMD edits the message behind a callback, or replies when that fails.
func EditOrReplyMD(c *dispatch.Context, text string, markup ...*tele.ReplyMarkup) error {
	if cb := c.Update().Callback; cb != nil && cb.Message != nil {
		if err := EditMD(c, cb.Message, text, markup...); err == nil {
			return nil
		}
	}
	return ReplyMD(c, text, markup...)
}

// Answer answers cb with an optional toast text.
func Answer(c *dispatch.Context, cb *tele.Callback, text string) error {
	api := c.API()
	if api == nil {
		return ErrNoAPI
	}
	return api.Respond(cb, &tele.CallbackResponse{Text: text})
}

func first(markup []*tele.ReplyMarkup) *tele.ReplyMarkup {
	if len(markup) > 0 {
		return markup[0]
	}
	return nil
}
