package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/telegram/update"
)

// API is the outbound Bot API surface handlers may call.
type API interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
	Respond(c *tele.Callback, resp ...*tele.CallbackResponse) error
	Raw(method string, payload interface{}) ([]byte, error)
}

var _ API = (*tele.Bot)(nil)

// ErrNoUpdateContext is returned by From when ctx was not produced by a dispatched unit of work.
var ErrNoUpdateContext = errors.New("dispatch: no update context bound")

type ctxKey struct{}

// shared is the per-update state every copy of a Context points at.
type shared struct {
	handled atomic.Bool
	matched atomic.Int32

	mu     sync.Mutex
	values map[string]any
}

// Context is the execution context of one dispatched update. It is created
// fresh by the engine for every update and passed to each matching action.
type Context struct {
	ctx  context.Context
	api  API
	upd  *tele.Update
	kind update.Kind
	s    *shared
}

// NewContext builds a Context for upd and binds it into ctx so From can find it.
func NewContext(ctx context.Context, api API, upd *tele.Update) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if upd == nil {
		upd = &tele.Update{}
	}
	uc := &Context{
		api:  api,
		upd:  upd,
		kind: update.KindOf(upd),
		s:    &shared{},
	}
	uc.ctx = context.WithValue(ctx, ctxKey{}, uc)
	return uc
}

// Context returns the context.Context of the unit of work.
func (c *Context) Context() context.Context { return c.ctx }

// API returns the outbound API handle.
func (c *Context) API() API { return c.api }

// Update returns the update being processed. Callers must not modify it.
func (c *Context) Update() *tele.Update { return c.upd }

// Kind returns the payload kind of the update.
func (c *Context) Kind() update.Kind { return c.kind }

// CorrespondentID returns the user or chat the update belongs to.
func (c *Context) CorrespondentID() (int64, bool) { return update.CorrespondentID(c.upd) }

// ChatID returns the chat of the update, or 0.
func (c *Context) ChatID() int64 { return update.ChatID(c.upd) }

// MarkHandled flags the update as handled for the rest of the chain.
func (c *Context) MarkHandled() { c.s.handled.Store(true) }

// Handled reports whether an earlier action called MarkHandled.
func (c *Context) Handled() bool { return c.s.handled.Load() }

// Matched returns how many registrations have accepted the update so far.
func (c *Context) Matched() int { return int(c.s.matched.Load()) }

// Set stores a value visible to every later middleware and action of the update.
func (c *Context) Set(key string, val any) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.s.values == nil {
		c.s.values = make(map[string]any)
	}
	c.s.values[key] = val
}

// Get returns a value stored with Set.
func (c *Context) Get(key string) any {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.s.values[key]
}

// WithAPI returns a shallow copy that sends through api. The copy shares
// the handled flag, match counter and value bag with c.
func (c *Context) WithAPI(api API) *Context {
	cp := *c
	cp.api = api
	cp.ctx = context.WithValue(c.ctx, ctxKey{}, &cp)
	return &cp
}

// WithContext returns a shallow copy running under ctx. The copy shares the
// handled flag, match counter and value bag with c.
func (c *Context) WithContext(ctx context.Context) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	cp := *c
	cp.ctx = context.WithValue(ctx, ctxKey{}, &cp)
	return &cp
}

// WithContext binds uc into ctx, e.g. before handing work to another goroutine.
func WithContext(ctx context.Context, uc *Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if uc == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, uc)
}

// From returns the Context bound into ctx.
func From(ctx context.Context) (*Context, error) {
	if ctx != nil {
		if uc, ok := ctx.Value(ctxKey{}).(*Context); ok && uc != nil {
			return uc, nil
		}
	}
	return nil, ErrNoUpdateContext
}

// MustFrom is like From but panics when no Context is bound.
func MustFrom(ctx context.Context) *Context {
	uc, err := From(ctx)
	if err != nil {
		panic(err)
	}
	return uc
}
