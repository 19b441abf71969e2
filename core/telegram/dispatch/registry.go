package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/telegram/update"
)

var (
	// ErrRegistryFrozen is returned when registering after dispatch has started.
	ErrRegistryFrozen = errors.New("dispatch: registry is frozen")
	// ErrUnknownKind is returned for a kind that names no payload slot.
	ErrUnknownKind = errors.New("dispatch: unknown update kind")
	// ErrInvalidRegistration is returned for a registration without extractor or action.
	ErrInvalidRegistration = errors.New("dispatch: invalid registration")
)

// Extractor pulls a typed payload out of an update; ok is false when the
// update does not carry it.
type Extractor[T any] func(u *tele.Update) (payload T, ok bool)

// Filter decides whether an action wants a payload. A nil Filter accepts everything.
type Filter[T any] func(T) bool

// Action handles a matched payload.
type Action[T any] func(c *Context, payload T) error

// Not negates f.
func Not[T any](f Filter[T]) Filter[T] {
	return func(v T) bool { return f != nil && !f(v) }
}

// All accepts a payload when every filter does.
func All[T any](filters ...Filter[T]) Filter[T] {
	return func(v T) bool {
		for _, f := range filters {
			if f != nil && !f(v) {
				return false
			}
		}
		return true
	}
}

// Any accepts a payload when at least one filter does.
func Any[T any](filters ...Filter[T]) Filter[T] {
	return func(v T) bool {
		for _, f := range filters {
			if f == nil || f(v) {
				return true
			}
		}
		return false
	}
}

// Unhandled wraps action so it is skipped once an earlier action marked the update handled.
func Unhandled[T any](action Action[T]) Action[T] {
	return func(c *Context, payload T) error {
		if c.Handled() {
			return nil
		}
		return action(c, payload)
	}
}

type registration struct {
	kind update.Kind
	name string
	run  func(c *Context) (matched bool, err error)
}

// Registry is the ordered set of handler registrations.
type Registry struct {
	mu     sync.RWMutex
	regs   []registration
	kinds  []update.Kind
	seen   map[update.Kind]struct{}
	frozen atomic.Bool
}

// NewRegistry returns an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{seen: make(map[update.Kind]struct{})}
}

// Register appends a registration for kind. Registrations run in the order they were added.
func Register[T any](r *Registry, kind update.Kind, extract Extractor[T], filter Filter[T], action Action[T]) error {
	if r == nil || extract == nil || action == nil {
		return ErrInvalidRegistration
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if r.frozen.Load() {
		logger.TWire.LogAttrs(context.Background(), slog.LevelWarn, "register.frozen",
			slog.String("kind", string(kind)),
		)
		return ErrRegistryFrozen
	}

	run := func(c *Context) (bool, error) {
		payload, ok := extract(c.Update())
		if !ok {
			return false, nil
		}
		if filter != nil && !filter(payload) {
			return false, nil
		}
		return true, action(c, payload)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return ErrRegistryFrozen
	}
	r.regs = append(r.regs, registration{
		kind: kind,
		name: string(kind) + "#" + strconv.Itoa(len(r.regs)),
		run:  run,
	})
	if _, ok := r.seen[kind]; !ok {
		r.seen[kind] = struct{}{}
		r.kinds = append(r.kinds, kind)
	}
	return nil
}

// Freeze ends the configuration phase. It is safe to call more than once.
func (r *Registry) Freeze() {
	if r.frozen.CompareAndSwap(false, true) {
		logger.TWire.Info("registry frozen",
			slog.String("event", "register.complete"),
			slog.Int("handlers", r.Len()),
			slog.Any("allowed_updates", r.AllowedUpdates()),
		)
	}
}

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool { return r.frozen.Load() }

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.regs)
}

// AllowedUpdates lists the wire names of every registered kind in first-registration order.
func (r *Registry) AllowedUpdates() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.kinds))
	for i, k := range r.kinds {
		out[i] = string(k)
	}
	return out
}

// Handle runs every matching registration for c's update in registration
// order. The first action error stops the chain and is returned.
func (r *Registry) Handle(c *Context) error {
	r.mu.RLock()
	regs := r.regs
	r.mu.RUnlock()

	for i := range regs {
		reg := &regs[i]
		hc := c.WithContext(logger.WithHandler(c.Context(), reg.name))
		matched, err := reg.run(hc)
		if matched {
			c.s.matched.Add(1)
		}
		if err != nil {
			return fmt.Errorf("handler %s: %w", reg.name, err)
		}
	}
	return nil
}

func slot[P any](get func(*tele.Update) *P) Extractor[*P] {
	return func(u *tele.Update) (*P, bool) {
		if u == nil {
			return nil, false
		}
		p := get(u)
		return p, p != nil
	}
}

// OnMessage registers an action for new messages.
func (r *Registry) OnMessage(filter Filter[*tele.Message], action Action[*tele.Message]) error {
	return Register(r, update.KindMessage, slot(func(u *tele.Update) *tele.Message { return u.Message }), filter, action)
}

// OnEditedMessage registers an action for edited messages.
func (r *Registry) OnEditedMessage(filter Filter[*tele.Message], action Action[*tele.Message]) error {
	return Register(r, update.KindEditedMessage, slot(func(u *tele.Update) *tele.Message { return u.EditedMessage }), filter, action)
}

// OnChannelPost registers an action for channel posts.
func (r *Registry) OnChannelPost(filter Filter[*tele.Message], action Action[*tele.Message]) error {
	return Register(r, update.KindChannelPost, slot(func(u *tele.Update) *tele.Message { return u.ChannelPost }), filter, action)
}

// OnEditedChannelPost registers an action for edited channel posts.
func (r *Registry) OnEditedChannelPost(filter Filter[*tele.Message], action Action[*tele.Message]) error {
	return Register(r, update.KindEditedChannelPost, slot(func(u *tele.Update) *tele.Message { return u.EditedChannelPost }), filter, action)
}

// OnCallbackQuery registers an action for inline button presses.
func (r *Registry) OnCallbackQuery(filter Filter[*tele.Callback], action Action[*tele.Callback]) error {
	return Register(r, update.KindCallbackQuery, slot(func(u *tele.Update) *tele.Callback { return u.Callback }), filter, action)
}

// OnInlineQuery registers an action for inline queries.
func (r *Registry) OnInlineQuery(filter Filter[*tele.Query], action Action[*tele.Query]) error {
	return Register(r, update.KindInlineQuery, slot(func(u *tele.Update) *tele.Query { return u.Query }), filter, action)
}

// OnChosenInlineResult registers an action for chosen inline results.
func (r *Registry) OnChosenInlineResult(filter Filter[*tele.InlineResult], action Action[*tele.InlineResult]) error {
	return Register(r, update.KindChosenInlineResult, slot(func(u *tele.Update) *tele.InlineResult { return u.InlineResult }), filter, action)
}

// OnShippingQuery registers an action for shipping queries.
func (r *Registry) OnShippingQuery(filter Filter[*tele.ShippingQuery], action Action[*tele.ShippingQuery]) error {
	return Register(r, update.KindShippingQuery, slot(func(u *tele.Update) *tele.ShippingQuery { return u.ShippingQuery }), filter, action)
}

// OnPreCheckoutQuery registers an action for pre-checkout queries.
func (r *Registry) OnPreCheckoutQuery(filter Filter[*tele.PreCheckoutQuery], action Action[*tele.PreCheckoutQuery]) error {
	return Register(r, update.KindPreCheckoutQuery, slot(func(u *tele.Update) *tele.PreCheckoutQuery { return u.PreCheckoutQuery }), filter, action)
}

// OnPoll registers an action for poll state updates.
func (r *Registry) OnPoll(filter Filter[*tele.Poll], action Action[*tele.Poll]) error {
	return Register(r, update.KindPoll, slot(func(u *tele.Update) *tele.Poll { return u.Poll }), filter, action)
}

// OnPollAnswer registers an action for poll answers.
func (r *Registry) OnPollAnswer(filter Filter[*tele.PollAnswer], action Action[*tele.PollAnswer]) error {
	return Register(r, update.KindPollAnswer, slot(func(u *tele.Update) *tele.PollAnswer { return u.PollAnswer }), filter, action)
}

// OnMyChatMember registers an action for changes of the bot's own membership.
func (r *Registry) OnMyChatMember(filter Filter[*tele.ChatMemberUpdate], action Action[*tele.ChatMemberUpdate]) error {
	return Register(r, update.KindMyChatMember, slot(func(u *tele.Update) *tele.ChatMemberUpdate { return u.MyChatMember }), filter, action)
}

// OnChatMember registers an action for chat member changes.
func (r *Registry) OnChatMember(filter Filter[*tele.ChatMemberUpdate], action Action[*tele.ChatMemberUpdate]) error {
	return Register(r, update.KindChatMember, slot(func(u *tele.Update) *tele.ChatMemberUpdate { return u.ChatMember }), filter, action)
}

// OnChatJoinRequest registers an action for join requests.
func (r *Registry) OnChatJoinRequest(filter Filter[*tele.ChatJoinRequest], action Action[*tele.ChatJoinRequest]) error {
	return Register(r, update.KindChatJoinRequest, slot(func(u *tele.Update) *tele.ChatJoinRequest { return u.ChatJoinRequest }), filter, action)
}

// OnMessageReaction registers an action for reaction changes on a message.
func (r *Registry) OnMessageReaction(filter Filter[*tele.MessageReaction], action Action[*tele.MessageReaction]) error {
	return Register(r, update.KindMessageReaction, slot(func(u *tele.Update) *tele.MessageReaction { return u.MessageReaction }), filter, action)
}

// OnMessageReactionCount registers an action for anonymous reaction counters.
func (r *Registry) OnMessageReactionCount(filter Filter[*tele.MessageReactionCount], action Action[*tele.MessageReactionCount]) error {
	return Register(r, update.KindMessageReactionCount, slot(func(u *tele.Update) *tele.MessageReactionCount { return u.MessageReactionCount }), filter, action)
}

func (r *Registry) OnChatBoost(filter Filter[*tele.BoostUpdated], action Action[*tele.BoostUpdated]) error {
	return Register(r, update.KindChatBoost, slot(func(u *tele.Update) *tele.BoostUpdated { return u.Boost }), filter, action)
}

func (r *Registry) OnRemovedChatBoost(filter Filter[*tele.BoostRemoved], action Action[*tele.BoostRemoved]) error {
	return Register(r, update.KindRemovedChatBoost, slot(func(u *tele.Update) *tele.BoostRemoved { return u.BoostRemoved }), filter, action)
}

// OnBusinessConnection registers an action for business account connections.
func (r *Registry) OnBusinessConnection(filter Filter[*tele.BusinessConnection], action Action[*tele.BusinessConnection]) error {
	return Register(r, update.KindBusinessConnection, slot(func(u *tele.Update) *tele.BusinessConnection { return u.BusinessConnection }), filter, action)
}

// OnBusinessMessage registers an action for messages in connected business chats.
func (r *Registry) OnBusinessMessage(filter Filter[*tele.Message], action Action[*tele.Message]) error {
	return Register(r, update.KindBusinessMessage, slot(func(u *tele.Update) *tele.Message { return u.BusinessMessage }), filter, action)
}

func (r *Registry) OnEditedBusinessMessage(filter Filter[*tele.Message], action Action[*tele.Message]) error {
	return Register(r, update.KindEditedBusinessMessage, slot(func(u *tele.Update) *tele.Message { return u.EditedBusinessMessage }), filter, action)
}

func (r *Registry) OnDeletedBusinessMessages(filter Filter[*tele.BusinessMessagesDeleted], action Action[*tele.BusinessMessagesDeleted]) error {
	return Register(r, update.KindDeletedBusinessMessages, slot(func(u *tele.Update) *tele.BusinessMessagesDeleted { return u.DeletedBusinessMessages }), filter, action)
}

// OnPurchasedPaidMedia registers an action for paid media purchases.
func (r *Registry) OnPurchasedPaidMedia(filter Filter[*tele.PaidMediaPurchased], action Action[*tele.PaidMediaPurchased]) error {
	return Register(r, update.KindPurchasedPaidMedia, slot(func(u *tele.Update) *tele.PaidMediaPurchased { return u.PurchasedPaidMedia }), filter, action)
}
