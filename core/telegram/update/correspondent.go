package update

import tele "gopkg.in/telebot.v4"

// CorrespondentID derives the user (or, for sender-less payloads, the chat)
// an update belongs to. Anonymous reactions belong to the chat they were made
// on behalf of. It reports false when neither is known, e.g. for polls.
func CorrespondentID(u *tele.Update) (int64, bool) {
	if u == nil {
		return 0, false
	}
	if user := sender(u); user != nil {
		return user.ID, true
	}
	if r := u.MessageReaction; r != nil && r.ActorChat != nil {
		return r.ActorChat.ID, true
	}
	if chat := chat(u); chat != nil {
		return chat.ID, true
	}
	return 0, false
}

// ChatID returns the chat the update was produced in, or 0 when unknown.
func ChatID(u *tele.Update) int64 {
	if c := chat(u); c != nil {
		return c.ID
	}
	return 0
}

// MessageSender returns the id of the user that authored m, falling back to
// the chat id for anonymous channel posts.
func MessageSender(m *tele.Message) (int64, bool) {
	if m == nil {
		return 0, false
	}
	if m.Sender != nil {
		return m.Sender.ID, true
	}
	if m.Chat != nil {
		return m.Chat.ID, true
	}
	return 0, false
}

func sender(u *tele.Update) *tele.User {
	switch {
	case u.Message != nil:
		return u.Message.Sender
	case u.EditedMessage != nil:
		return u.EditedMessage.Sender
	case u.ChannelPost != nil:
		return u.ChannelPost.Sender
	case u.EditedChannelPost != nil:
		return u.EditedChannelPost.Sender
	case u.Callback != nil:
		return u.Callback.Sender
	case u.Query != nil:
		return u.Query.Sender
	case u.InlineResult != nil:
		return u.InlineResult.Sender
	case u.ShippingQuery != nil:
		return u.ShippingQuery.Sender
	case u.PreCheckoutQuery != nil:
		return u.PreCheckoutQuery.Sender
	case u.PollAnswer != nil:
		return u.PollAnswer.Sender
	case u.MyChatMember != nil:
		return u.MyChatMember.Sender
	case u.ChatMember != nil:
		return u.ChatMember.Sender
	case u.ChatJoinRequest != nil:
		return u.ChatJoinRequest.Sender
	case u.MessageReaction != nil:
		return u.MessageReaction.User
	case u.Boost != nil:
		if u.Boost.Boost != nil {
			return booster(u.Boost.Boost.Source)
		}
	case u.BoostRemoved != nil:
		return booster(u.BoostRemoved.Source)
	case u.BusinessConnection != nil:
		return u.BusinessConnection.Sender
	case u.BusinessMessage != nil:
		return u.BusinessMessage.Sender
	case u.EditedBusinessMessage != nil:
		return u.EditedBusinessMessage.Sender
	case u.PurchasedPaidMedia != nil:
		return u.PurchasedPaidMedia.From
	}
	return nil
}

func booster(src *tele.BoostSource) *tele.User {
	if src == nil {
		return nil
	}
	return src.Booster
}

func chat(u *tele.Update) *tele.Chat {
	if u == nil {
		return nil
	}
	switch {
	case u.Message != nil:
		return u.Message.Chat
	case u.EditedMessage != nil:
		return u.EditedMessage.Chat
	case u.ChannelPost != nil:
		return u.ChannelPost.Chat
	case u.EditedChannelPost != nil:
		return u.EditedChannelPost.Chat
	case u.Callback != nil:
		if u.Callback.Message != nil {
			return u.Callback.Message.Chat
		}
	case u.MyChatMember != nil:
		return u.MyChatMember.Chat
	case u.ChatMember != nil:
		return u.ChatMember.Chat
	case u.ChatJoinRequest != nil:
		return u.ChatJoinRequest.Chat
	case u.MessageReaction != nil:
		return u.MessageReaction.Chat
	case u.MessageReactionCount != nil:
		return u.MessageReactionCount.Chat
	case u.Boost != nil:
		return u.Boost.Chat
	case u.BoostRemoved != nil:
		return u.BoostRemoved.Chat
	case u.BusinessConnection != nil:
		if id := u.BusinessConnection.UserChatID; id != 0 {
			return &tele.Chat{ID: id}
		}
	case u.BusinessMessage != nil:
		return u.BusinessMessage.Chat
	case u.EditedBusinessMessage != nil:
		return u.EditedBusinessMessage.Chat
	case u.DeletedBusinessMessages != nil:
		return u.DeletedBusinessMessages.Chat
	}
	return nil
}
