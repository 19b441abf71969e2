package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/logger"
)

// UpdateFunc processes one update.
type UpdateFunc func(c *Context) error

// Middleware wraps the processing of every update.
type Middleware func(next UpdateFunc) UpdateFunc

// ErrSourceStopped is returned by Run when the poller returns before
// shutdown was requested.
var ErrSourceStopped = errors.New("dispatch: update source stopped unexpectedly")

// PanicError reports a panic raised while processing an update.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Options configures an Engine.
type Options struct {
	// Workers bounds concurrently processed updates; <= 0 means 16.
	Workers int
	// Buffer sizes the channel between the poller and the engine; <= 0 means 100.
	Buffer int
	// Middlewares wrap the registry, outermost first.
	Middlewares []Middleware
	// OnError receives every failed update. Defaults to an ERROR log line.
	OnError func(c *Context, err error)
}

// Stats is a snapshot of engine counters.
type Stats struct {
	Received  uint64 `json:"received"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	InFlight  int64  `json:"in_flight"`
	Workers   int    `json:"workers"`
}

// Engine turns updates into units of work. Each update is processed by its
// own goroutine; the registry runs sequentially inside it.
type Engine struct {
	reg    *Registry
	api    API
	opts   Options
	sem    *semaphore.Weighted
	handle UpdateFunc
	wg     sync.WaitGroup

	received  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	inFlight  atomic.Int64
}

// NewEngine builds an engine over reg. api is handed to every Context.
func NewEngine(reg *Registry, api API, opts Options) *Engine {
	if reg == nil {
		reg = NewRegistry()
	}
	if opts.Workers <= 0 {
		opts.Workers = 16
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 100
	}
	if opts.OnError == nil {
		opts.OnError = logFailure
	}
	h := UpdateFunc(reg.Handle)
	for i := len(opts.Middlewares) - 1; i >= 0; i-- {
		if mw := opts.Middlewares[i]; mw != nil {
			h = mw(h)
		}
	}
	return &Engine{
		reg:    reg,
		api:    api,
		opts:   opts,
		sem:    semaphore.NewWeighted(int64(opts.Workers)),
		handle: h,
	}
}

// Registry returns the registry the engine dispatches to.
func (e *Engine) Registry() *Registry { return e.reg }

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Received:  e.received.Load(),
		Completed: e.completed.Load(),
		Failed:    e.failed.Load(),
		InFlight:  e.inFlight.Load(),
		Workers:   e.opts.Workers,
	}
}

// DispatchBatch starts one unit of work per update, in order. It returns
// once every unit has started, or with ctx's error if ctx ends while waiting
// for a free worker; units already started keep running.
func (e *Engine) DispatchBatch(ctx context.Context, updates []tele.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.reg.Freeze()
	for i := range updates {
		if err := e.dispatch(ctx, updates[i]); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch starts a unit of work for a single update.
func (e *Engine) Dispatch(ctx context.Context, upd tele.Update) error {
	return e.DispatchBatch(ctx, []tele.Update{upd})
}

// Wait blocks until every started unit of work has finished.
func (e *Engine) Wait() { e.wg.Wait() }

func (e *Engine) dispatch(ctx context.Context, upd tele.Update) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	e.received.Add(1)
	e.inFlight.Add(1)
	e.wg.Add(1)
	go e.process(context.WithoutCancel(ctx), upd)
	return nil
}

func (e *Engine) process(ctx context.Context, upd tele.Update) {
	defer e.wg.Done()
	defer e.sem.Release(1)
	defer e.inFlight.Add(-1)

	uc := NewContext(ctx, e.api, &upd)
	if err := e.safeHandle(uc); err != nil {
		e.failed.Add(1)
		e.report(uc, err)
		return
	}
	e.completed.Add(1)
}

func (e *Engine) safeHandle(uc *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return e.handle(uc)
}

// report shields the engine from a panicking OnError.
func (e *Engine) report(uc *Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.DISP.Error("error hook panicked",
				slog.String("event", "update.on_error"),
				slog.Any("err", r),
			)
		}
	}()
	e.opts.OnError(uc, err)
}

func logFailure(c *Context, err error) {
	outcome := "fail"
	var pe *PanicError
	if errors.As(err, &pe) {
		outcome = "panic"
	}
	logger.LogEvent(c.Context(), logger.DISP, slog.LevelError, "update.failed",
		slog.String("status", "fail"),
		slog.String("outcome", outcome),
		slog.Int("update_id", c.Update().ID),
		slog.String("kind", string(c.Kind())),
		slog.String("err", logger.SanitizeLimit(err.Error(), 512)),
	)
}

// Run feeds updates from src into the engine until ctx ends. On shutdown it
// asks src to stop, dispatches whatever src still delivers, and waits for
// in-flight units before returning nil. If src returns on its own, Run drains
// the same way and returns ErrSourceStopped.
func (e *Engine) Run(ctx context.Context, src tele.Poller, bot *tele.Bot) error {
	if src == nil {
		return errors.New("dispatch: nil poller")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	e.reg.Freeze()

	updates := make(chan tele.Update, e.opts.Buffer)
	stop := make(chan struct{})
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		src.Poll(bot, updates, stop)
	}()

	base := context.WithoutCancel(ctx)
	logger.DISP.Info("engine started",
		slog.String("event", "engine.start"),
		slog.Int("workers", e.opts.Workers),
		slog.Any("allowed_updates", e.reg.AllowedUpdates()),
	)

	stopping := ctx.Done()
	requested := false
	for {
		select {
		case upd := <-updates:
			_ = e.dispatch(base, upd)
		case <-stopping:
			stopping = nil
			requested = true
			logger.DISP.Info("engine stopping",
				slog.String("event", "engine.stopping"),
				slog.Int64("in_flight", e.inFlight.Load()),
			)
			go requestStop(stop, pollDone)
		case <-pollDone:
			if err := e.finish(base, updates); err != nil || requested || ctx.Err() != nil {
				return err
			}
			logger.LogEvent(ctx, logger.DISP, slog.LevelError, "engine.source_stopped",
				slog.String("status", "fail"),
			)
			return ErrSourceStopped
		}
	}
}

// requestStop asks the poller to return. Pollers either receive from stop or
// close it themselves, so a send may race with their close.
func requestStop(stop chan struct{}, pollDone <-chan struct{}) {
	defer func() { _ = recover() }()
	select {
	case <-pollDone:
		return
	default:
	}
	select {
	case stop <- struct{}{}:
	case <-pollDone:
	}
}

func (e *Engine) finish(ctx context.Context, updates chan tele.Update) error {
	start := time.Now()
	drained := 0
	for len(updates) > 0 {
		drained++
		_ = e.dispatch(ctx, <-updates)
	}
	e.Wait()
	st := e.Stats()
	logger.DISP.Info("engine stopped",
		slog.String("event", "engine.stop"),
		slog.Int("drained", drained),
		slog.Uint64("received", st.Received),
		slog.Uint64("failed", st.Failed),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return nil
}
