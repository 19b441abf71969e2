// Package update classifies Telegram updates by payload slot.
package update

import tele "gopkg.in/telebot.v4"

// Kind is the wire name of an update payload slot. The same strings are sent
// to Telegram as allowed_updates when subscribing.
type Kind string

const (
	KindMessage            Kind = "message"
	KindEditedMessage      Kind = "edited_message"
	KindChannelPost        Kind = "channel_post"
	KindEditedChannelPost  Kind = "edited_channel_post"
	KindCallbackQuery      Kind = "callback_query"
	KindInlineQuery        Kind = "inline_query"
	KindChosenInlineResult Kind = "chosen_inline_result"
	KindShippingQuery      Kind = "shipping_query"
	KindPreCheckoutQuery   Kind = "pre_checkout_query"
	KindPoll               Kind = "poll"
	KindPollAnswer         Kind = "poll_answer"
	KindMyChatMember       Kind = "my_chat_member"
	KindChatMember         Kind = "chat_member"
	KindChatJoinRequest    Kind = "chat_join_request"

	KindMessageReaction         Kind = "message_reaction"
	KindMessageReactionCount    Kind = "message_reaction_count"
	KindChatBoost               Kind = "chat_boost"
	KindRemovedChatBoost        Kind = "removed_chat_boost"
	KindBusinessConnection      Kind = "business_connection"
	KindBusinessMessage         Kind = "business_message"
	KindEditedBusinessMessage   Kind = "edited_business_message"
	KindDeletedBusinessMessages Kind = "deleted_business_messages"
	KindPurchasedPaidMedia      Kind = "purchased_paid_media"
)

// Kinds lists every supported payload slot.
var Kinds = []Kind{
	KindMessage,
	KindEditedMessage,
	KindChannelPost,
	KindEditedChannelPost,
	KindCallbackQuery,
	KindInlineQuery,
	KindChosenInlineResult,
	KindShippingQuery,
	KindPreCheckoutQuery,
	KindPoll,
	KindPollAnswer,
	KindMyChatMember,
	KindChatMember,
	KindChatJoinRequest,
	KindMessageReaction,
	KindMessageReactionCount,
	KindChatBoost,
	KindRemovedChatBoost,
	KindBusinessConnection,
	KindBusinessMessage,
	KindEditedBusinessMessage,
	KindDeletedBusinessMessages,
	KindPurchasedPaidMedia,
}

// String implements fmt.Stringer.
func (k Kind) String() string { return string(k) }

// Valid reports whether k names a supported payload slot.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// KindOf returns the kind of the first populated payload slot, or "" when
// the update carries none of the supported payloads.
func KindOf(u *tele.Update) Kind {
	if u == nil {
		return ""
	}
	switch {
	case u.Message != nil:
		return KindMessage
	case u.EditedMessage != nil:
		return KindEditedMessage
	case u.ChannelPost != nil:
		return KindChannelPost
	case u.EditedChannelPost != nil:
		return KindEditedChannelPost
	case u.Callback != nil:
		return KindCallbackQuery
	case u.Query != nil:
		return KindInlineQuery
	case u.InlineResult != nil:
		return KindChosenInlineResult
	case u.ShippingQuery != nil:
		return KindShippingQuery
	case u.PreCheckoutQuery != nil:
		return KindPreCheckoutQuery
	case u.Poll != nil:
		return KindPoll
	case u.PollAnswer != nil:
		return KindPollAnswer
	case u.MyChatMember != nil:
		return KindMyChatMember
	case u.ChatMember != nil:
		return KindChatMember
	case u.ChatJoinRequest != nil:
		return KindChatJoinRequest
	case u.MessageReaction != nil:
		return KindMessageReaction
	case u.MessageReactionCount != nil:
		return KindMessageReactionCount
	case u.Boost != nil:
		return KindChatBoost
	case u.BoostRemoved != nil:
		return KindRemovedChatBoost
	case u.BusinessConnection != nil:
		return KindBusinessConnection
	case u.BusinessMessage != nil:
		return KindBusinessMessage
	case u.EditedBusinessMessage != nil:
		return KindEditedBusinessMessage
	case u.DeletedBusinessMessages != nil:
		return KindDeletedBusinessMessages
	case u.PurchasedPaidMedia != nil:
		return KindPurchasedPaidMedia
	}
	return ""
}
