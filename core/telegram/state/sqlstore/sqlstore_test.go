package sqlstore

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/m3rciful/flowbot/core/telegram/state"
)

type asking struct {
	Field string `json:"field"`
}

func (asking) Kind() state.Kind { return "asking" }

type done struct{}

func (done) Kind() state.Kind { return "done" }

type profile struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func newDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return db
}

func newCodec() *state.Codec {
	c := state.NewCodec()
	state.Register(c, asking{})
	state.Register(c, done{})
	return c
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New[profile](newDB(t), newCodec(), "bot")

	if _, ok, err := s.Get(ctx, 1); err != nil || ok {
		t.Fatalf("empty Get = %v, %v", ok, err)
	}
	env := state.Envelope[profile]{Current: asking{Field: "age"}, Global: profile{Name: "Ann"}}
	if err := s.Set(ctx, 1, &env); err != nil {
		t.Fatalf("Set: %v", err)
	}
	env = env.WithCurrent(done{}).WithGlobal(profile{Name: "Ann", Age: 30})
	if err := s.Set(ctx, 1, &env); err != nil {
		t.Fatalf("Set upsert: %v", err)
	}
	got, ok, err := s.Get(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if got.Current != (done{}) || got.Global.Age != 30 {
		t.Fatalf("got %+v", got)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Fatalf("count = %d", n)
	}

	if err := s.Set(ctx, 1, nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, 1); ok {
		t.Fatal("envelope survived delete")
	}
}

func TestNamespacesIsolated(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	a := New[profile](db, newCodec(), "a")
	b := New[profile](db, newCodec(), "b")
	env := state.Envelope[profile]{Current: done{}}
	if err := a.Set(ctx, 5, &env); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := b.Get(ctx, 5); ok {
		t.Fatal("namespace b sees namespace a")
	}
}

func TestMachineOverSQLStore(t *testing.T) {
	ctx := context.Background()
	s := New[profile](newDB(t), newCodec(), "")
	m := state.NewMachine[profile](s, state.Options{})
	m.Handle("asking", state.HandlerFuncs[profile]{OnEnter: func(c *state.Context[profile]) error {
		c.SetGlobal(profile{Name: "Bo"})
		c.SetCurrent(done{})
		return nil
	}})
	if err := m.Enter(nil, 9, asking{Field: "name"}, profile{}); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	env, ok, err := s.Get(ctx, 9)
	if err != nil || !ok || env.Current != (done{}) || env.Global.Name != "Bo" {
		t.Fatalf("env = %+v ok=%v err=%v", env, ok, err)
	}
}

func TestUnknownKindFails(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	s := New[profile](db, newCodec(), "x")
	env := state.Envelope[profile]{Current: done{}}
	_ = s.Set(ctx, 1, &env)

	bare := New[profile](db, state.NewCodec(), "x")
	if _, _, err := bare.Get(ctx, 1); err == nil {
		t.Fatal("decoding an unregistered kind should fail")
	}
}
