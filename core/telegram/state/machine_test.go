package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/telegram/dispatch"
)

type stepA struct{}

func (stepA) Kind() Kind { return "a" }

type stepB struct{ N int }

func (stepB) Kind() Kind { return "b" }

type listState struct{ Items []string }

func (listState) Kind() Kind { return "list" }

type countingStore struct {
	*MemoryStore[int]
	sets int
}

func (s *countingStore) Set(ctx context.Context, id int64, env *Envelope[int]) error {
	s.sets++
	return s.MemoryStore.Set(ctx, id, env)
}

func msgCtx(from int64, text string) (*dispatch.Context, *tele.Message) {
	msg := &tele.Message{Text: text, Sender: &tele.User{ID: from}}
	upd := tele.Update{Message: msg}
	return dispatch.NewContext(context.Background(), nil, &upd), msg
}

func TestEnterScenarioA(t *testing.T) {
	m := NewMachine[int](nil, Options{})
	var enters int
	m.Handle("a", HandlerFuncs[int]{OnEnter: func(c *Context[int]) error {
		enters++
		c.UpdateGlobal(func(g int) int { return g + 1 })
		return nil
	}})

	if err := m.Enter(nil, 42, stepA{}, 10); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	env, ok, _ := m.Get(context.Background(), 42)
	if !ok || env.Current != (stepA{}) || env.Global != 11 {
		t.Fatalf("stored = %+v, %v", env, ok)
	}
	if enters != 1 {
		t.Fatalf("enters = %d", enters)
	}
}

func TestEnterChainsScenarioB(t *testing.T) {
	m := NewMachine[int](nil, Options{})
	var order []Kind
	m.Handle("a", HandlerFuncs[int]{OnEnter: func(c *Context[int]) error {
		order = append(order, c.Current().Kind())
		c.SetCurrent(stepB{N: 1})
		return nil
	}})
	m.Handle("b", HandlerFuncs[int]{OnEnter: func(c *Context[int]) error {
		order = append(order, c.Current().Kind())
		return nil
	}})

	if err := m.Enter(nil, 1, stepA{}, 0); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order = %v", order)
	}
	env, _, _ := m.Get(context.Background(), 1)
	if env.Current != (stepB{N: 1}) {
		t.Fatalf("current = %#v", env.Current)
	}
}

func TestRouteWithoutEnvelopeScenarioC(t *testing.T) {
	store := NewMemoryStore[int]()
	m := NewMachine[int](store, Options{})
	var called bool
	m.Handle("a", HandlerFuncs[int]{OnMessage: func(*Context[int], *tele.Message) error {
		called = true
		return nil
	}})
	uc, msg := msgCtx(7, "hi")
	if err := m.RouteMessage(uc, 7, msg); err != nil {
		t.Fatalf("RouteMessage: %v", err)
	}
	if called || store.Len() != 0 || uc.Handled() {
		t.Fatalf("called=%v len=%d handled=%v", called, store.Len(), uc.Handled())
	}
}

func TestHandleLastWinsScenarioE(t *testing.T) {
	m := NewMachine[int](nil, Options{})
	var got string
	m.Handle("a", HandlerFuncs[int]{OnEnter: func(*Context[int]) error { got += "X"; return nil }})
	m.Handle("a", HandlerFuncs[int]{OnEnter: func(*Context[int]) error { got += "Y"; return nil }})
	if err := m.Enter(nil, 1, stepA{}, 0); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if got != "Y" {
		t.Fatalf("got %q", got)
	}
	if kinds := m.Kinds(); len(kinds) != 1 {
		t.Fatalf("kinds = %v", kinds)
	}
}

func TestUnchangedStatePersistsOnce(t *testing.T) {
	store := &countingStore{MemoryStore: NewMemoryStore[int]()}
	m := NewMachine[int](store, Options{})
	var enters int
	m.Handle("a", HandlerFuncs[int]{OnEnter: func(*Context[int]) error {
		enters++
		return nil
	}})
	if err := m.Enter(nil, 5, stepA{}, 3); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if store.sets != 1 || enters != 1 {
		t.Fatalf("sets = %d enters = %d", store.sets, enters)
	}
}

func TestRoundTripWithoutHandler(t *testing.T) {
	m := NewMachine[string](nil, Options{})
	if err := m.Enter(nil, 9, stepB{N: 4}, "g"); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if err := m.SetGlobal(nil, 9, "h"); err != nil {
		t.Fatalf("SetGlobal: %v", err)
	}
	env, ok, _ := m.Get(context.Background(), 9)
	if !ok || env.Current != (stepB{N: 4}) || env.Global != "h" {
		t.Fatalf("env = %+v", env)
	}
	if !m.InState(context.Background(), 9, "b") || m.InState(context.Background(), 9, "a") {
		t.Fatal("InState mismatch")
	}
}

func TestSetWithoutEnvelopeIsNoop(t *testing.T) {
	store := NewMemoryStore[int]()
	m := NewMachine[int](store, Options{})
	if err := m.SetCurrent(nil, 3, stepA{}); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	if err := m.SetGlobal(nil, 3, 1); err != nil {
		t.Fatalf("SetGlobal: %v", err)
	}
	if store.Len() != 0 {
		t.Fatal("envelope created without Enter")
	}
	if err := m.Enter(nil, 3, nil, 0); !errors.Is(err, ErrNilState) {
		t.Fatalf("nil state err = %v", err)
	}
}

func TestTransitionLimit(t *testing.T) {
	m := NewMachine[int](nil, Options{MaxDepth: 3})
	var enters int
	m.Handle("a", HandlerFuncs[int]{OnEnter: func(c *Context[int]) error {
		enters++
		c.SetCurrent(stepB{})
		return nil
	}})
	m.Handle("b", HandlerFuncs[int]{OnEnter: func(c *Context[int]) error {
		enters++
		c.SetCurrent(stepA{})
		return nil
	}})
	err := m.Enter(nil, 1, stepA{}, 0)
	if !errors.Is(err, ErrTransitionLimit) {
		t.Fatalf("err = %v", err)
	}
	if enters != 4 {
		t.Fatalf("enters = %d", enters)
	}
	env, _, _ := m.Get(context.Background(), 1)
	if env.Current != (stepB{}) {
		t.Fatalf("last written = %#v", env.Current)
	}
}

func TestRouteMessageTransitions(t *testing.T) {
	m := NewMachine[[]string](nil, Options{})
	m.Handle("a", HandlerFuncs[[]string]{OnMessage: func(c *Context[[]string], msg *tele.Message) error {
		c.UpdateGlobal(func(g []string) []string { return append(g, msg.Text) })
		c.SetCurrent(stepB{N: len(msg.Text)})
		return nil
	}})
	var entered bool
	m.Handle("b", HandlerFuncs[[]string]{OnEnter: func(c *Context[[]string]) error {
		s, ok := CurrentAs[stepB](c)
		entered = ok && s.N == 5
		return nil
	}})
	if err := m.Enter(nil, 2, stepA{}, nil); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	uc, msg := msgCtx(2, "hello")
	if err := m.RouteMessage(uc, 2, msg); err != nil {
		t.Fatalf("RouteMessage: %v", err)
	}
	if !entered || !uc.Handled() {
		t.Fatalf("entered=%v handled=%v", entered, uc.Handled())
	}
	env, _, _ := m.Get(context.Background(), 2)
	if len(env.Global) != 1 || env.Global[0] != "hello" {
		t.Fatalf("global = %v", env.Global)
	}

	// b has no message hook
	uc, msg = msgCtx(2, "ignored")
	if err := m.RouteMessage(uc, 2, msg); err != nil {
		t.Fatalf("RouteMessage: %v", err)
	}
	if uc.Handled() {
		t.Fatal("handler without message hook marked the update")
	}
}

func TestRouteErrorKeepsEnvelope(t *testing.T) {
	m := NewMachine[int](nil, Options{})
	boom := errors.New("boom")
	m.Handle("a", HandlerFuncs[int]{OnCallback: func(c *Context[int], _ *tele.Callback) error {
		c.SetCurrent(stepB{})
		return boom
	}})
	_ = m.Enter(nil, 4, stepA{}, 0)
	upd := tele.Update{Callback: &tele.Callback{Sender: &tele.User{ID: 4}}}
	err := m.RouteCallback(dispatch.NewContext(context.Background(), nil, &upd), 4, upd.Callback)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	env, _, _ := m.Get(context.Background(), 4)
	if env.Current != (stepA{}) {
		t.Fatalf("current = %#v", env.Current)
	}
}

func TestFinishDeletesEnvelope(t *testing.T) {
	store := NewMemoryStore[int]()
	m := NewMachine[int](store, Options{})
	m.Handle("a", HandlerFuncs[int]{OnMessage: func(c *Context[int], _ *tele.Message) error {
		c.Finish()
		return nil
	}})
	_ = m.Enter(nil, 8, stepA{}, 0)
	uc, msg := msgCtx(8, "done")
	if err := m.RouteMessage(uc, 8, msg); err != nil {
		t.Fatalf("RouteMessage: %v", err)
	}
	if store.Len() != 0 {
		t.Fatal("envelope kept after Finish")
	}
	_ = m.Enter(nil, 8, stepA{}, 0)
	if err := m.Clear(context.Background(), 8); err != nil || store.Len() != 0 {
		t.Fatalf("Clear: %v len=%d", err, store.Len())
	}
}

func TestNestedCallsReuseLock(t *testing.T) {
	m := NewMachine[int](nil, Options{})
	m.Handle("a", HandlerFuncs[int]{OnMessage: func(c *Context[int], _ *tele.Message) error {
		return m.Enter(c.Update(), c.CorrespondentID(), stepB{N: 9}, 1)
	}})
	_ = m.Enter(nil, 6, stepA{}, 0)

	done := make(chan error, 1)
	go func() {
		uc, msg := msgCtx(6, "x")
		done <- m.RouteMessage(uc, 6, msg)
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RouteMessage: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nested call deadlocked")
	}
	env, _, _ := m.Get(context.Background(), 6)
	if env.Current != (stepB{N: 9}) {
		t.Fatalf("current = %#v", env.Current)
	}
}

func TestStaleHookContextTakesLock(t *testing.T) {
	m := NewMachine[int](nil, Options{})
	var stale *dispatch.Context
	m.Handle("a", HandlerFuncs[int]{OnMessage: func(c *Context[int], _ *tele.Message) error {
		stale = c.Update()
		return nil
	}})
	_ = m.Enter(nil, 6, stepA{}, 0)
	uc, msg := msgCtx(6, "x")
	if err := m.RouteMessage(uc, 6, msg); err != nil {
		t.Fatalf("RouteMessage: %v", err)
	}
	if stale == nil {
		t.Fatal("hook did not run")
	}

	_, unlock, err := m.locks.lock(context.Background(), 6)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- m.SetCurrent(stale, 6, stepB{N: 3}) }()
	select {
	case <-done:
		unlock()
		t.Fatal("stale hook context bypassed the lock")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("SetCurrent: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SetCurrent never acquired the lock")
	}
	env, _, _ := m.Get(context.Background(), 6)
	if env.Current != (stepB{N: 3}) {
		t.Fatalf("current = %#v", env.Current)
	}
}

func TestSameCorrespondentSerialized(t *testing.T) {
	m := NewMachine[int](nil, Options{})
	m.Handle("a", HandlerFuncs[int]{OnMessage: func(c *Context[int], _ *tele.Message) error {
		g := c.Global()
		time.Sleep(time.Millisecond)
		c.SetGlobal(g + 1)
		return nil
	}})
	_ = m.Enter(nil, 1, stepA{}, 0)

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			uc, msg := msgCtx(1, "+")
			if err := m.RouteMessage(uc, 1, msg); err != nil {
				t.Errorf("RouteMessage: %v", err)
			}
		}()
	}
	wg.Wait()
	env, _, _ := m.Get(context.Background(), 1)
	if env.Global != n {
		t.Fatalf("global = %d, lost updates", env.Global)
	}
	if m.locks.size() != 0 {
		t.Fatalf("locks leaked: %d", m.locks.size())
	}
}

func TestAttachRoutesThroughRegistry(t *testing.T) {
	m := NewMachine[int](nil, Options{})
	var got string
	m.Handle("a", HandlerFuncs[int]{OnMessage: func(_ *Context[int], msg *tele.Message) error {
		got = msg.Text
		return nil
	}})
	_ = m.Enter(nil, 11, stepA{}, 0)

	reg := dispatch.NewRegistry()
	if err := m.Attach(reg); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if kinds := reg.AllowedUpdates(); len(kinds) != 3 {
		t.Fatalf("allowed = %v", kinds)
	}
	uc, _ := msgCtx(11, "ping")
	if err := reg.Handle(uc); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got != "ping" || !uc.Handled() {
		t.Fatalf("got %q handled=%v", got, uc.Handled())
	}
}

func TestSameStateDeepCompare(t *testing.T) {
	a := listState{Items: []string{"x"}}
	if !sameState(a, listState{Items: []string{"x"}}) {
		t.Fatal("equal slices differ")
	}
	if sameState(a, listState{Items: []string{"y"}}) || sameState(a, stepA{}) || sameState(nil, a) {
		t.Fatal("different states compare equal")
	}
}

func TestInspect(t *testing.T) {
	m := NewMachine[int](nil, Options{})
	_ = m.Enter(nil, 3, stepB{N: 2}, 7)
	snap, ok, err := m.Inspect(context.Background(), 3)
	if err != nil || !ok || snap.Kind != "b" || snap.Global != 7 {
		t.Fatalf("snapshot = %+v, %v, %v", snap, ok, err)
	}
}
