// Package keyboard builds reply and inline keyboards whose buttons carry
// callback data understood by the callbacks package.
package keyboard

import (
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/telegram/callbacks"
)

const defaultCancelText = "❌ Cancel"

// Button is an inline button routed by Key with an optional Payload.
type Button struct {
	Text    string
	Key     string
	Payload string
}

// ForceReply asks the client to answer the message.
func ForceReply() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{ForceReply: true}
}

// Remove hides the reply keyboard.
func Remove() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}

// Reply builds a resized reply keyboard from rows of labels.
func Reply(rows ...[]string) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{ResizeKeyboard: true, OneTimeKeyboard: true}
	keyboard := make([]tele.Row, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tele.Btn, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, markup.Text(label))
		}
		keyboard = append(keyboard, markup.Row(buttons...))
	}
	markup.Reply(keyboard...)
	return markup
}

// Inline builds an inline keyboard from rows of buttons.
func Inline(rows ...[]Button) *tele.ReplyMarkup {
	inline := make([][]tele.InlineButton, len(rows))
	for i, row := range rows {
		r := make([]tele.InlineButton, len(row))
		for j, b := range row {
			r[j] = tele.InlineButton{Text: b.Text, Data: callbacks.Data(b.Key, b.Payload)}
		}
		inline[i] = r
	}
	return &tele.ReplyMarkup{InlineKeyboard: inline}
}

// Grid lays buttons out n per row. n <= 1 puts each button on its own row.
func Grid(buttons []Button, n int) *tele.ReplyMarkup {
	if n < 1 {
		n = 1
	}
	rows := make([][]Button, 0, (len(buttons)+n-1)/n)
	for i := 0; i < len(buttons); i += n {
		rows = append(rows, buttons[i:min(i+n, len(buttons))])
	}
	return Inline(rows...)
}

// Cancel returns a one-button keyboard routed to key. text overrides the label.
func Cancel(key string, text ...string) *tele.ReplyMarkup {
	label := defaultCancelText
	if len(text) > 0 && text[0] != "" {
		label = text[0]
	}
	return Inline([]Button{{Text: label, Key: key, Payload: "cancel"}})
}
