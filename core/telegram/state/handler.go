package state

import tele "gopkg.in/telebot.v4"

// Handler drives one state kind. Enter runs every time the state becomes current.
type Handler[G any] interface {
	Enter(c *Context[G]) error
}

// MessageHandler is implemented by handlers that react to new messages.
type MessageHandler[G any] interface {
	HandleMessage(c *Context[G], m *tele.Message) error
}

// EditedMessageHandler is implemented by handlers that react to edited messages.
type EditedMessageHandler[G any] interface {
	HandleEditedMessage(c *Context[G], m *tele.Message) error
}

// CallbackHandler is implemented by handlers that react to callback queries.
type CallbackHandler[G any] interface {
	HandleCallback(c *Context[G], cb *tele.Callback) error
}

// HandlerFuncs builds a handler from plain functions. Nil fields are no-ops.
type HandlerFuncs[G any] struct {
	OnEnter         func(c *Context[G]) error
	OnMessage       func(c *Context[G], m *tele.Message) error
	OnEditedMessage func(c *Context[G], m *tele.Message) error
	OnCallback      func(c *Context[G], cb *tele.Callback) error
}

type hook int

const (
	hookMessage hook = iota
	hookEditedMessage
	hookCallback
)

// hookSet lets a handler report that an event method it has is a no-op, so
// routing leaves the update unhandled.
type hookSet interface {
	defines(hook) bool
}

func defines(h any, k hook) bool {
	if hs, ok := h.(hookSet); ok {
		return hs.defines(k)
	}
	return true
}

func (h HandlerFuncs[G]) defines(k hook) bool {
	switch k {
	case hookMessage:
		return h.OnMessage != nil
	case hookEditedMessage:
		return h.OnEditedMessage != nil
	case hookCallback:
		return h.OnCallback != nil
	}
	return false
}

func (h HandlerFuncs[G]) Enter(c *Context[G]) error {
	if h.OnEnter == nil {
		return nil
	}
	return h.OnEnter(c)
}

func (h HandlerFuncs[G]) HandleMessage(c *Context[G], m *tele.Message) error {
	if h.OnMessage == nil {
		return nil
	}
	return h.OnMessage(c, m)
}

func (h HandlerFuncs[G]) HandleEditedMessage(c *Context[G], m *tele.Message) error {
	if h.OnEditedMessage == nil {
		return nil
	}
	return h.OnEditedMessage(c, m)
}

func (h HandlerFuncs[G]) HandleCallback(c *Context[G], cb *tele.Callback) error {
	if h.OnCallback == nil {
		return nil
	}
	return h.OnCallback(c, cb)
}
