package keyboard

import (
	"testing"

	"github.com/m3rciful/flowbot/core/telegram/callbacks"
)

func TestGridLayout(t *testing.T) {
	m := Grid([]Button{{Text: "1", Key: "n"}, {Text: "2", Key: "n"}, {Text: "3", Key: "n"}}, 2)
	if len(m.InlineKeyboard) != 2 || len(m.InlineKeyboard[0]) != 2 || len(m.InlineKeyboard[1]) != 1 {
		t.Fatalf("layout = %+v", m.InlineKeyboard)
	}
}

func TestCancelDataRoutesByKey(t *testing.T) {
	m := Cancel("flow")
	btn := m.InlineKeyboard[0][0]
	if btn.Text != defaultCancelText {
		t.Fatalf("text = %q", btn.Text)
	}
	key, payload := callbacks.ParseData(btn.Data)
	if key != "flow" || payload != "cancel" {
		t.Fatalf("data = %q -> %q,%q", btn.Data, key, payload)
	}
}

func TestReplyRows(t *testing.T) {
	m := Reply([]string{"yes", "no"}, []string{"later"})
	if len(m.ReplyKeyboard) != 2 || m.ReplyKeyboard[0][1].Text != "no" {
		t.Fatalf("keyboard = %+v", m.ReplyKeyboard)
	}
}
