// Package commands keeps the bot's slash commands and routes messages to them.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/telegram/dispatch"
)

// Command represents a bot command with its handler, description, and metadata.
type Command struct {
	Handler     dispatch.Action[*tele.Message]
	Description string
	AdminOnly   bool
	Hidden      bool
	Aliases     []string
}

// Invocation is a parsed "/name@bot args" message.
type Invocation struct {
	Name    string
	Mention string
	Args    string
}

// Parse extracts the command from text. ok is false when text is not a command.
func Parse(text string) (Invocation, bool) {
	text = strings.TrimSpace(text)
	if len(text) < 2 || text[0] != '/' {
		return Invocation{}, false
	}
	head, args, _ := strings.Cut(text, " ")
	name, mention, _ := strings.Cut(head, "@")
	if name == "/" {
		return Invocation{}, false
	}
	return Invocation{
		Name:    strings.ToLower(name),
		Mention: mention,
		Args:    strings.TrimSpace(args),
	}, true
}

// Set holds the registered commands.
type Set struct {
	mu       sync.RWMutex
	commands map[string]Command
}

// NewSet returns an empty command set.
func NewSet() *Set {
	return &Set{commands: make(map[string]Command)}
}

// Register adds a new command. name must start with '/'.
func (s *Set) Register(name string, cmd Command) error {
	if name == "" || cmd.Handler == nil || cmd.Description == "" {
		logger.TWire.LogAttrs(context.Background(), slog.LevelWarn, "register.command.skip",
			slog.String("name", name),
			slog.String("reason", "invalid"),
		)
		return fmt.Errorf("commands: invalid command %q", name)
	}
	if name[0] != '/' {
		logger.TWire.LogAttrs(context.Background(), slog.LevelWarn, "register.command.skip",
			slog.String("name", name),
			slog.String("reason", "no_slash_prefix"),
		)
		return fmt.Errorf("commands: %q must start with /", name)
	}
	name = strings.ToLower(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.commands[name]; exists {
		logger.TWire.LogAttrs(context.Background(), slog.LevelWarn, "register.command.duplicate",
			slog.String("name", name),
		)
		return fmt.Errorf("commands: %q already registered", name)
	}
	s.commands[name] = cmd
	return nil
}

// List returns the menu entries, optionally leaving out hidden and admin-only commands.
func (s *Set) List(visibleOnly bool) []tele.Command {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []tele.Command
	for name, meta := range s.commands {
		if visibleOnly && (meta.Hidden || meta.AdminOnly) {
			continue
		}
		list = append(list, tele.Command{Text: strings.TrimPrefix(name, "/"), Description: meta.Description})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Text < list[j].Text })
	return list
}

// Lookup finds a command by name or alias and returns its canonical name.
func (s *Set) Lookup(name string) (string, Command, bool) {
	name = strings.ToLower(name)
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cmd, ok := s.commands[name]; ok {
		return name, cmd, true
	}
	for key, cmd := range s.commands {
		for _, alias := range cmd.Aliases {
			if strings.EqualFold(alias, name) || strings.EqualFold("/"+alias, name) {
				return key, cmd, true
			}
		}
	}
	return "", Command{}, false
}

// Options controls how commands are matched and guarded.
type Options struct {
	// BotUsername, when set, makes "/cmd@other_bot" messages ignored.
	BotUsername string
	// AdminID guards AdminOnly commands; 0 lets everyone run them.
	AdminID int64
	// OnAdminReject runs when a non-admin calls an AdminOnly command.
	OnAdminReject dispatch.Action[*tele.Message]
}

// Filter accepts messages that invoke a command known to s.
func (s *Set) Filter(opts Options) dispatch.Filter[*tele.Message] {
	return func(m *tele.Message) bool {
		inv, ok := Parse(m.Text)
		if !ok {
			return false
		}
		if inv.Mention != "" && opts.BotUsername != "" && !strings.EqualFold(inv.Mention, opts.BotUsername) {
			return false
		}
		_, _, found := s.Lookup(inv.Name)
		return found
	}
}

// Attach registers a single message route that runs the matching command.
func (s *Set) Attach(reg *dispatch.Registry, opts Options) error {
	return reg.OnMessage(s.Filter(opts), func(c *dispatch.Context, m *tele.Message) error {
		inv, _ := Parse(m.Text)
		name, cmd, ok := s.Lookup(inv.Name)
		if !ok {
			return nil
		}
		c.MarkHandled()
		c.Set("command", name)
		if cmd.AdminOnly && opts.AdminID != 0 {
			if m.Sender == nil || m.Sender.ID != opts.AdminID {
				logger.LogEvent(c.Context(), logger.TG, slog.LevelWarn, "command.denied",
					slog.String("status", "denied"),
					slog.String("action", name),
				)
				if opts.OnAdminReject != nil {
					return opts.OnAdminReject(c, m)
				}
				return nil
			}
		}
		return cmd.Handler(c, m)
	})
}

// MenuSetter publishes the command menu; *tele.Bot implements it.
type MenuSetter interface {
	SetCommands(opts ...interface{}) error
}

var _ MenuSetter = (*tele.Bot)(nil)

// Publish sets the Telegram command menu to the visible commands.
func (s *Set) Publish(api MenuSetter) error {
	list := s.List(true)
	if err := api.SetCommands(list); err != nil {
		logger.TWire.LogAttrs(context.Background(), slog.LevelError, "register.commands.set_failed",
			slog.String("err", err.Error()),
		)
		return err
	}
	logger.TWire.LogAttrs(context.Background(), slog.LevelInfo, "register.commands.published",
		slog.Int("handlers", len(list)),
	)
	return nil
}
