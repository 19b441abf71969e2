package helpers

import (
	"context"
	"errors"
	"sync"
	"testing"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/telegram/dispatch"
	"github.com/m3rciful/flowbot/core/telegram/sender"
)

type recorder struct {
	mu    sync.Mutex
	texts []string
	to    []int64
}

func (r *recorder) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, what.(string))
	if chat, ok := to.(*tele.Chat); ok {
		r.to = append(r.to, chat.ID)
	}
	return &tele.Message{}, nil
}

func (r *recorder) Edit(tele.Editable, interface{}, ...interface{}) (*tele.Message, error) {
	return nil, errors.New("message is not modified")
}

func (r *recorder) Respond(*tele.Callback, ...*tele.CallbackResponse) error { return nil }

func (r *recorder) Raw(string, interface{}) ([]byte, error) { return nil, nil }

func newCtx(api dispatch.API, upd tele.Update) *dispatch.Context {
	return dispatch.NewContext(context.Background(), api, &upd)
}

func TestReplySync(t *testing.T) {
	SetDispatcher(nil)
	rec := &recorder{}
	c := newCtx(rec, tele.Update{Message: &tele.Message{Chat: &tele.Chat{ID: 77}}})
	if err := Reply(c, "hello"); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if len(rec.texts) != 1 || rec.to[0] != 77 {
		t.Fatalf("sent %v to %v", rec.texts, rec.to)
	}

	if err := Reply(newCtx(rec, tele.Update{}), "x"); !errors.Is(err, ErrNoRecipient) {
		t.Fatalf("err = %v", err)
	}
	if err := Reply(newCtx(nil, tele.Update{Message: &tele.Message{Chat: &tele.Chat{ID: 1}}}), "x"); !errors.Is(err, ErrNoAPI) {
		t.Fatalf("err = %v", err)
	}
}

func TestReplyThroughDispatcher(t *testing.T) {
	d := sender.NewDispatcher(sender.Options{Workers: 1})
	SetDispatcher(d)
	defer SetDispatcher(nil)

	rec := &recorder{}
	c := newCtx(rec, tele.Update{Message: &tele.Message{Chat: &tele.Chat{ID: 5}}})
	if err := ReplyMD(c, "*hi*"); err != nil {
		t.Fatalf("ReplyMD: %v", err)
	}
	_ = d.Close(context.Background())
	if len(rec.texts) != 1 || d.Stats().Sent != 1 {
		t.Fatalf("texts = %v stats = %+v", rec.texts, d.Stats())
	}
}

func TestEditOrReplyFallsBack(t *testing.T) {
	SetDispatcher(nil)
	rec := &recorder{}
	msg := &tele.Message{ID: 3, Chat: &tele.Chat{ID: 9}}
	c := newCtx(rec, tele.Update{Callback: &tele.Callback{Message: msg, Sender: &tele.User{ID: 9}}})
	if err := EditOrReplyMD(c, "menu"); err != nil {
		t.Fatalf("EditOrReplyMD: %v", err)
	}
	if len(rec.texts) != 1 || rec.to[0] != 9 {
		t.Fatalf("fallback reply missing: %v", rec.texts)
	}
}
