package update

import (
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestKindOf(t *testing.T) {
	cases := map[Kind]*tele.Update{
		KindMessage:         {Message: &tele.Message{}},
		KindEditedMessage:   {EditedMessage: &tele.Message{}},
		KindCallbackQuery:   {Callback: &tele.Callback{}},
		KindInlineQuery:     {Query: &tele.Query{}},
		KindPoll:            {Poll: &tele.Poll{}},
		KindChatJoinRequest: {ChatJoinRequest: &tele.ChatJoinRequest{}},

		KindMessageReaction:         {MessageReaction: &tele.MessageReaction{}},
		KindMessageReactionCount:    {MessageReactionCount: &tele.MessageReactionCount{}},
		KindChatBoost:               {Boost: &tele.BoostUpdated{}},
		KindRemovedChatBoost:        {BoostRemoved: &tele.BoostRemoved{}},
		KindBusinessConnection:      {BusinessConnection: &tele.BusinessConnection{}},
		KindBusinessMessage:         {BusinessMessage: &tele.Message{}},
		KindEditedBusinessMessage:   {EditedBusinessMessage: &tele.Message{}},
		KindDeletedBusinessMessages: {DeletedBusinessMessages: &tele.BusinessMessagesDeleted{}},
		KindPurchasedPaidMedia:      {PurchasedPaidMedia: &tele.PaidMediaPurchased{}},
	}
	for want, upd := range cases {
		if got := KindOf(upd); got != want {
			t.Fatalf("KindOf = %q, want %q", got, want)
		}
	}
	if got := KindOf(&tele.Update{ID: 1}); got != "" {
		t.Fatalf("empty update kind = %q", got)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("nil update kind = %q", got)
	}
}

func TestKindValid(t *testing.T) {
	for _, k := range Kinds {
		if !k.Valid() {
			t.Fatalf("%q should be valid", k)
		}
	}
	if len(Kinds) != 23 {
		t.Fatalf("len(Kinds) = %d, want 23", len(Kinds))
	}
	if Kind("message_reactions").Valid() {
		t.Fatal("unsupported kind reported valid")
	}
}

func TestCorrespondentID(t *testing.T) {
	upd := &tele.Update{Message: &tele.Message{
		Sender: &tele.User{ID: 42},
		Chat:   &tele.Chat{ID: -100},
	}}
	id, ok := CorrespondentID(upd)
	if !ok || id != 42 {
		t.Fatalf("CorrespondentID = %d,%v want 42,true", id, ok)
	}
	if got := ChatID(upd); got != -100 {
		t.Fatalf("ChatID = %d, want -100", got)
	}

	post := &tele.Update{ChannelPost: &tele.Message{Chat: &tele.Chat{ID: -7}}}
	id, ok = CorrespondentID(post)
	if !ok || id != -7 {
		t.Fatalf("channel post correspondent = %d,%v want -7,true", id, ok)
	}

	cb := &tele.Update{Callback: &tele.Callback{
		Sender:  &tele.User{ID: 9},
		Message: &tele.Message{Chat: &tele.Chat{ID: 9}},
	}}
	if id, ok := CorrespondentID(cb); !ok || id != 9 {
		t.Fatalf("callback correspondent = %d,%v", id, ok)
	}

	if _, ok := CorrespondentID(&tele.Update{Poll: &tele.Poll{}}); ok {
		t.Fatal("poll must not resolve a correspondent")
	}
}

func TestCorrespondentIDNewerPayloads(t *testing.T) {
	cases := []struct {
		name string
		upd  *tele.Update
		id   int64
		chat int64
	}{
		{"reaction", &tele.Update{MessageReaction: &tele.MessageReaction{
			User: &tele.User{ID: 3}, Chat: &tele.Chat{ID: -30},
		}}, 3, -30},
		{"anonymous reaction", &tele.Update{MessageReaction: &tele.MessageReaction{
			ActorChat: &tele.Chat{ID: -31}, Chat: &tele.Chat{ID: -30},
		}}, -31, -30},
		{"reaction count", &tele.Update{MessageReactionCount: &tele.MessageReactionCount{
			Chat: &tele.Chat{ID: -32},
		}}, -32, -32},
		{"boost", &tele.Update{Boost: &tele.BoostUpdated{
			Chat:  &tele.Chat{ID: -40},
			Boost: &tele.Boost{Source: &tele.BoostSource{Booster: &tele.User{ID: 4}}},
		}}, 4, -40},
		{"boost removed", &tele.Update{BoostRemoved: &tele.BoostRemoved{
			Chat: &tele.Chat{ID: -41},
		}}, -41, -41},
		{"business connection", &tele.Update{BusinessConnection: &tele.BusinessConnection{
			Sender: &tele.User{ID: 5}, UserChatID: 50,
		}}, 5, 50},
		{"business message", &tele.Update{BusinessMessage: &tele.Message{
			Sender: &tele.User{ID: 6}, Chat: &tele.Chat{ID: 60},
		}}, 6, 60},
		{"deleted business messages", &tele.Update{DeletedBusinessMessages: &tele.BusinessMessagesDeleted{
			Chat: &tele.Chat{ID: 70},
		}}, 70, 70},
		{"paid media", &tele.Update{PurchasedPaidMedia: &tele.PaidMediaPurchased{
			From: &tele.User{ID: 8},
		}}, 8, 0},
	}
	for _, c := range cases {
		id, ok := CorrespondentID(c.upd)
		if !ok || id != c.id {
			t.Fatalf("%s: CorrespondentID = %d,%v want %d", c.name, id, ok, c.id)
		}
		if got := ChatID(c.upd); got != c.chat {
			t.Fatalf("%s: ChatID = %d, want %d", c.name, got, c.chat)
		}
	}
}
