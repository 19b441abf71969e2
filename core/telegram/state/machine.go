package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/telegram/dispatch"
	"github.com/m3rciful/flowbot/core/telegram/update"
)

var (
	// ErrTransitionLimit is returned when chained transitions exceed Options.MaxDepth.
	// The last entered envelope stays in the store.
	ErrTransitionLimit = errors.New("state: transition limit exceeded")
	// ErrNilState is returned when a nil state is entered.
	ErrNilState = errors.New("state: nil state")
)

// DefaultMaxDepth bounds chained transitions when Options.MaxDepth is zero.
const DefaultMaxDepth = 64

// Options configures a Machine.
type Options struct {
	// MaxDepth is the number of chained transitions one call may settle.
	MaxDepth int
}

// Machine routes correspondents through their state handlers.
//
// All operations on one correspondent id are serialized. Calls made from
// inside a hook for the same id reuse the held lock. The hold ends when the
// routing call returns: a hook context kept past that point, e.g. by a
// spawned goroutine, acquires the lock again like any other caller.
type Machine[G any] struct {
	store    Store[G]
	maxDepth int
	locks    *keyedMutex

	mu       sync.RWMutex
	handlers map[Kind]Handler[G]
}

// NewMachine returns a Machine over store. A nil store selects a MemoryStore.
func NewMachine[G any](store Store[G], opts Options) *Machine[G] {
	if store == nil {
		store = NewMemoryStore[G]()
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	return &Machine[G]{
		store:    store,
		maxDepth: opts.MaxDepth,
		locks:    newKeyedMutex(),
		handlers: make(map[Kind]Handler[G]),
	}
}

// Store returns the backing store.
func (m *Machine[G]) Store() Store[G] { return m.store }

// Handle registers h for kind. A later registration for the same kind replaces it.
func (m *Machine[G]) Handle(kind Kind, h Handler[G]) {
	if kind == "" || h == nil {
		logger.TWire.LogAttrs(context.Background(), slog.LevelWarn, "register.state.skip",
			slog.String("state", string(kind)),
			slog.Bool("handler_nil", h == nil),
		)
		return
	}
	m.mu.Lock()
	_, replaced := m.handlers[kind]
	m.handlers[kind] = h
	m.mu.Unlock()
	logger.TWire.LogAttrs(context.Background(), slog.LevelDebug, "register.state",
		slog.String("state", string(kind)),
		slog.Bool("replaced", replaced),
	)
}

// Kinds returns the kinds with a registered handler, sorted.
func (m *Machine[G]) Kinds() []Kind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kinds := make([]Kind, 0, len(m.handlers))
	for k := range m.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (m *Machine[G]) handler(kind Kind) (Handler[G], bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handlers[kind]
	return h, ok
}

// Get returns the stored envelope of id.
func (m *Machine[G]) Get(ctx context.Context, id int64) (Envelope[G], bool, error) {
	return m.store.Get(ctx, id)
}

// InState reports whether id currently sits in one of kinds. With no kinds it
// reports whether id has any envelope.
func (m *Machine[G]) InState(ctx context.Context, id int64, kinds ...Kind) bool {
	env, ok, err := m.store.Get(ctx, id)
	if err != nil || !ok || env.Current == nil {
		return false
	}
	if len(kinds) == 0 {
		return true
	}
	cur := env.Current.Kind()
	for _, k := range kinds {
		if k == cur {
			return true
		}
	}
	return false
}

// Enter stores {current, global} for id and settles it. uc may be nil when
// the call does not originate from an update.
func (m *Machine[G]) Enter(uc *dispatch.Context, id int64, current State, global G) error {
	if current == nil {
		return ErrNilState
	}
	uc, unlock, err := m.acquire(uc, id)
	if err != nil {
		return err
	}
	defer unlock()
	return m.settle(uc, id, Envelope[G]{Current: current, Global: global}, 0)
}

// SetCurrent moves an existing envelope of id to s. Without an envelope it does nothing.
func (m *Machine[G]) SetCurrent(uc *dispatch.Context, id int64, s State) error {
	if s == nil {
		return ErrNilState
	}
	return m.modify(uc, id, func(env Envelope[G]) Envelope[G] { return env.WithCurrent(s) })
}

// SetGlobal replaces the global value of an existing envelope of id and
// re-enters its current state. Without an envelope it does nothing.
func (m *Machine[G]) SetGlobal(uc *dispatch.Context, id int64, g G) error {
	return m.modify(uc, id, func(env Envelope[G]) Envelope[G] { return env.WithGlobal(g) })
}

func (m *Machine[G]) modify(uc *dispatch.Context, id int64, fn func(Envelope[G]) Envelope[G]) error {
	uc, unlock, err := m.acquire(uc, id)
	if err != nil {
		return err
	}
	defer unlock()
	env, ok, err := m.store.Get(uc.Context(), id)
	if err != nil {
		return fmt.Errorf("load envelope %d: %w", id, err)
	}
	if !ok {
		return nil
	}
	return m.settle(uc, id, fn(env), 0)
}

// Clear deletes the envelope of id.
func (m *Machine[G]) Clear(ctx context.Context, id int64) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, unlock, err := m.locks.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	return m.store.Set(ctx, id, nil)
}

// RouteMessage hands m to the current state of id.
func (m *Machine[G]) RouteMessage(uc *dispatch.Context, id int64, msg *tele.Message) error {
	return m.route(uc, id, "message", func(h Handler[G], sc *Context[G]) (bool, error) {
		mh, ok := h.(MessageHandler[G])
		if !ok || !defines(h, hookMessage) {
			return false, nil
		}
		return true, mh.HandleMessage(sc, msg)
	})
}

// RouteEditedMessage hands an edited m to the current state of id.
func (m *Machine[G]) RouteEditedMessage(uc *dispatch.Context, id int64, msg *tele.Message) error {
	return m.route(uc, id, "edited_message", func(h Handler[G], sc *Context[G]) (bool, error) {
		eh, ok := h.(EditedMessageHandler[G])
		if !ok || !defines(h, hookEditedMessage) {
			return false, nil
		}
		return true, eh.HandleEditedMessage(sc, msg)
	})
}

// RouteCallback hands cb to the current state of id.
func (m *Machine[G]) RouteCallback(uc *dispatch.Context, id int64, cb *tele.Callback) error {
	return m.route(uc, id, "callback_query", func(h Handler[G], sc *Context[G]) (bool, error) {
		ch, ok := h.(CallbackHandler[G])
		if !ok || !defines(h, hookCallback) {
			return false, nil
		}
		return true, ch.HandleCallback(sc, cb)
	})
}

// Attach registers message, edited message and callback routes on reg.
func (m *Machine[G]) Attach(reg *dispatch.Registry) error {
	return errors.Join(
		reg.OnMessage(nil, func(c *dispatch.Context, msg *tele.Message) error {
			id, ok := update.MessageSender(msg)
			if !ok {
				return nil
			}
			return m.RouteMessage(c, id, msg)
		}),
		reg.OnEditedMessage(nil, func(c *dispatch.Context, msg *tele.Message) error {
			id, ok := update.MessageSender(msg)
			if !ok {
				return nil
			}
			return m.RouteEditedMessage(c, id, msg)
		}),
		reg.OnCallbackQuery(nil, func(c *dispatch.Context, cb *tele.Callback) error {
			if cb.Sender == nil {
				return nil
			}
			return m.RouteCallback(c, cb.Sender.ID, cb)
		}),
	)
}

func (m *Machine[G]) acquire(uc *dispatch.Context, id int64) (*dispatch.Context, func(), error) {
	if uc == nil {
		uc = dispatch.NewContext(context.Background(), nil, nil)
	}
	ctx, unlock, err := m.locks.lock(uc.Context(), id)
	if err != nil {
		return nil, nil, err
	}
	if ctx == uc.Context() {
		return uc, unlock, nil
	}
	return uc.WithContext(ctx), unlock, nil
}

// route runs an event hook for the current state of id, then settles the result.
// Missing envelopes and handlers are ignored.
func (m *Machine[G]) route(uc *dispatch.Context, id int64, event string, invoke func(Handler[G], *Context[G]) (bool, error)) error {
	uc, unlock, err := m.acquire(uc, id)
	if err != nil {
		return err
	}
	defer unlock()

	ctx := uc.Context()
	env, ok, err := m.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load envelope %d: %w", id, err)
	}
	if !ok || env.Current == nil {
		return nil
	}
	kind := env.Current.Kind()
	h, ok := m.handler(kind)
	if !ok {
		logger.LogEvent(ctx, logger.FSM, slog.LevelDebug, "state.unhandled",
			slog.String("status", "skip"),
			slog.String("state", string(kind)),
		)
		return nil
	}

	sc := newContext(uc, id, env)
	implemented, err := invoke(h, sc)
	if !implemented {
		return nil
	}
	uc.MarkHandled()
	if err != nil {
		return fmt.Errorf("state %s %s: %w", kind, event, err)
	}
	next, again, err := m.resolve(ctx, id, env, sc)
	if err != nil || !again {
		return err
	}
	m.logTransition(ctx, env.Current, next.Current, 1)
	return m.settle(uc, id, next, 1)
}

// settle stores env, enters its state and follows every transition the hooks stage.
func (m *Machine[G]) settle(uc *dispatch.Context, id int64, env Envelope[G], depth int) error {
	ctx := uc.Context()
	for {
		if env.Current == nil {
			return ErrNilState
		}
		kind := env.Current.Kind()
		if depth > m.maxDepth {
			logger.LogEvent(ctx, logger.FSM, slog.LevelError, "state.limit",
				slog.String("status", "fail"),
				slog.String("state", string(kind)),
				slog.Int("depth", depth),
			)
			return fmt.Errorf("%w: %d transitions for %d ending at %s", ErrTransitionLimit, m.maxDepth, id, kind)
		}
		if err := m.store.Set(ctx, id, &env); err != nil {
			return fmt.Errorf("store envelope %d: %w", id, err)
		}
		h, ok := m.handler(kind)
		if !ok {
			return nil
		}
		sc := newContext(uc, id, env)
		if err := h.Enter(sc); err != nil {
			return fmt.Errorf("state %s enter: %w", kind, err)
		}
		next, again, err := m.resolve(ctx, id, env, sc)
		if err != nil || !again {
			return err
		}
		depth++
		m.logTransition(ctx, env.Current, next.Current, depth)
		env = next
	}
}

// resolve applies what a hook staged on sc, starting from prev. again reports
// that next holds a new current state that must be entered.
func (m *Machine[G]) resolve(ctx context.Context, id int64, prev Envelope[G], sc *Context[G]) (next Envelope[G], again bool, err error) {
	switch {
	case sc.finished:
		logger.LogEvent(ctx, logger.FSM, slog.LevelDebug, "state.finish",
			slog.String("state", string(KindOf(prev.Current))),
		)
		if err := m.store.Set(ctx, id, nil); err != nil {
			return next, false, fmt.Errorf("delete envelope %d: %w", id, err)
		}
		return next, false, nil
	case !sameState(prev.Current, sc.env.Current):
		return sc.env, true, nil
	case sc.globalSet:
		if err := m.store.Set(ctx, id, &sc.env); err != nil {
			return next, false, fmt.Errorf("store envelope %d: %w", id, err)
		}
	}
	return next, false, nil
}

func (m *Machine[G]) logTransition(ctx context.Context, from, to State, depth int) {
	if !logger.ShouldSampleDebug() {
		return
	}
	logger.LogEvent(ctx, logger.FSM, slog.LevelDebug, "state.transition",
		slog.String("from_state", string(KindOf(from))),
		slog.String("to_state", string(KindOf(to))),
		slog.Int("depth", depth),
	)
}

// sameState compares by value for comparable states and deeply otherwise.
func sameState(a, b State) (same bool) {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	if !ta.Comparable() {
		return reflect.DeepEqual(a, b)
	}
	defer func() {
		if recover() != nil {
			same = reflect.DeepEqual(a, b)
		}
	}()
	return a == b
}

// Snapshot is a type-erased view of an envelope.
type Snapshot struct {
	Kind    Kind `json:"kind"`
	Current any  `json:"current"`
	Global  any  `json:"global"`
}

// Inspect returns a Snapshot of the envelope of id.
func (m *Machine[G]) Inspect(ctx context.Context, id int64) (Snapshot, bool, error) {
	env, ok, err := m.store.Get(ctx, id)
	if err != nil || !ok {
		return Snapshot{}, ok, err
	}
	return Snapshot{Kind: KindOf(env.Current), Current: env.Current, Global: env.Global}, true, nil
}
