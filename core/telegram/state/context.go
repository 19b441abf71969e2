package state

import (
	"context"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/telegram/dispatch"
)

// Context is handed to state hooks. It stages changes to the correspondent's
// envelope; the Machine applies them once the hook returns.
type Context[G any] struct {
	uc  *dispatch.Context
	id  int64
	env Envelope[G]

	globalSet bool
	finished  bool
}

func newContext[G any](uc *dispatch.Context, id int64, env Envelope[G]) *Context[G] {
	return &Context[G]{uc: uc, id: id, env: env}
}

// Context returns the context.Context of the running unit of work.
func (c *Context[G]) Context() context.Context { return c.uc.Context() }

// Update returns the dispatch context of the update being processed.
func (c *Context[G]) Update() *dispatch.Context { return c.uc }

// API returns the outbound API handle. It is nil outside a dispatched update.
func (c *Context[G]) API() dispatch.API { return c.uc.API() }

// CorrespondentID returns the id the envelope belongs to.
func (c *Context[G]) CorrespondentID() int64 { return c.id }

// Recipient returns the correspondent as a send target.
func (c *Context[G]) Recipient() tele.Recipient { return &tele.User{ID: c.id} }

// Current returns the staged current state.
func (c *Context[G]) Current() State { return c.env.Current }

// Global returns the staged global value.
func (c *Context[G]) Global() G { return c.env.Global }

// Envelope returns the staged envelope.
func (c *Context[G]) Envelope() Envelope[G] { return c.env }

// SetCurrent stages a transition to s. A nil s ends the flow and deletes the envelope.
func (c *Context[G]) SetCurrent(s State) {
	if s == nil {
		c.finished = true
		return
	}
	c.finished = false
	c.env = c.env.WithCurrent(s)
}

// UpdateCurrent stages fn applied to the current state.
func (c *Context[G]) UpdateCurrent(fn func(State) State) { c.SetCurrent(fn(c.env.Current)) }

// SetGlobal stages a new global value.
func (c *Context[G]) SetGlobal(g G) {
	c.env = c.env.WithGlobal(g)
	c.globalSet = true
}

// UpdateGlobal stages fn applied to the global value.
func (c *Context[G]) UpdateGlobal(fn func(G) G) { c.SetGlobal(fn(c.env.Global)) }

// Finish ends the flow: the envelope is deleted when the hook returns.
func (c *Context[G]) Finish() { c.finished = true }

// CurrentAs returns the current state as S.
func CurrentAs[S State, G any](c *Context[G]) (S, bool) {
	s, ok := c.env.Current.(S)
	return s, ok
}
