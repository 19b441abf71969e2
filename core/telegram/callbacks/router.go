package callbacks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/telegram/dispatch"
)

// KeyFilter accepts callbacks whose key is one of keys.
func KeyFilter(keys ...string) dispatch.Filter[*tele.Callback] {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return func(cb *tele.Callback) bool {
		_, ok := set[Key(cb)]
		return ok
	}
}

// Router maps callback keys to actions.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]dispatch.Action[*tele.Callback]
	notFound dispatch.Action[*tele.Callback]
	// AutoRespond answers every routed callback so clients stop the spinner.
	AutoRespond bool
}

// NewRouter returns a router that answers unknown keys with a short notice.
func NewRouter() *Router {
	return &Router{
		handlers:    make(map[string]dispatch.Action[*tele.Callback]),
		AutoRespond: true,
		notFound: func(c *dispatch.Context, cb *tele.Callback) error {
			if c.API() == nil {
				return nil
			}
			return c.API().Respond(cb, &tele.CallbackResponse{Text: "Unsupported action"})
		},
	}
}

// Handle maps key to action. Registering a key twice is an error.
func (r *Router) Handle(key string, action dispatch.Action[*tele.Callback]) error {
	if key == "" || action == nil {
		logger.TWire.LogAttrs(context.Background(), slog.LevelWarn, "register.callback.skip",
			slog.String("key", key),
			slog.Bool("handler_nil", action == nil),
		)
		return errors.New("invalid callback registration")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[key]; exists {
		logger.TWire.LogAttrs(context.Background(), slog.LevelWarn, "register.callback.duplicate",
			slog.String("key", key),
		)
		return fmt.Errorf("callback already registered: %s", key)
	}
	r.handlers[key] = action
	return nil
}

// SetNotFound replaces the fallback for unknown keys. nil silences them.
func (r *Router) SetNotFound(action dispatch.Action[*tele.Callback]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notFound = action
}

// Keys returns the registered keys sorted.
func (r *Router) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Route dispatches cb to the action registered for its key.
func (r *Router) Route(c *dispatch.Context, cb *tele.Callback) error {
	key := Key(cb)
	r.mu.RLock()
	action, ok := r.handlers[key]
	fallback := r.notFound
	r.mu.RUnlock()

	if !ok {
		logger.LogEvent(c.Context(), logger.TG, slog.LevelDebug, "callback.not_found",
			slog.String("status", "skip"),
			slog.String("cb_key", logger.SanitizeLimit(key, 128)),
		)
		if fallback == nil {
			return nil
		}
		return fallback(c, cb)
	}
	c.MarkHandled()
	err := action(c, cb)
	if r.AutoRespond && c.API() != nil {
		if rerr := c.API().Respond(cb); rerr != nil {
			logger.LogEvent(c.Context(), logger.TG, slog.LevelDebug, "callback.respond_failed",
				slog.String("err", rerr.Error()),
			)
		}
	}
	return err
}

// Attach registers the router for callback queries.
func (r *Router) Attach(reg *dispatch.Registry) error {
	return reg.OnCallbackQuery(nil, r.Route)
}
