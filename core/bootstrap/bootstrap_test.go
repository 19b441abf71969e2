package bootstrap

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/flowbot/core/config"
	"github.com/m3rciful/flowbot/core/telegram/state"
	"github.com/m3rciful/flowbot/core/telegram/state/redisstore"
	"github.com/m3rciful/flowbot/core/telegram/state/sqlstore"
)

type waiting struct {
	Step int `json:"step"`
}

func (waiting) Kind() state.Kind { return "waiting" }

type counter struct {
	N int `json:"n"`
}

func noLogger(*coreconfig.Config) error { return nil }

func newCodec() *state.Codec {
	c := state.NewCodec()
	state.Register(c, waiting{})
	return c
}

func roundTrip(t *testing.T, store state.Store[counter]) {
	t.Helper()
	ctx := context.Background()
	if err := store.Set(ctx, 5, &state.Envelope[counter]{Current: waiting{Step: 2}, Global: counter{N: 3}}); err != nil {
		t.Fatalf("set: %v", err)
	}
	env, ok, err := store.Get(ctx, 5)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if env.Current != (waiting{Step: 2}) || env.Global.N != 3 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestRunMemoryBackend(t *testing.T) {
	cfg := &coreconfig.Config{State: coreconfig.StateConfig{Backend: coreconfig.StateBackendMemory}}
	res, err := Run(context.Background(), Options{Config: cfg, LoggerInit: noLogger, DisableTracing: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	defer res.Close(context.Background())

	if res.DB != nil || res.Redis != nil || len(res.Checks) != 0 {
		t.Fatalf("memory backend opened infrastructure: %+v", res)
	}
	store, err := NewStore[counter](res, newCodec())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, ok := store.(*state.MemoryStore[counter]); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
	roundTrip(t, store)
}

func TestRunSQLiteBackendAppliesMigrations(t *testing.T) {
	cfg := &coreconfig.Config{
		State:    coreconfig.StateConfig{Backend: coreconfig.StateBackendSQLite, Namespace: "test"},
		SQLite:   coreconfig.SQLiteConfig{Path: filepath.Join(t.TempDir(), "state", "flow.db")},
		Database: coreconfig.DatabaseConfig{MigrationsDir: "../../migrations"},
	}
	res, err := Run(context.Background(), Options{Config: cfg, LoggerInit: noLogger})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	defer res.Close(context.Background())

	if res.TracerProvider == nil {
		t.Fatalf("tracer provider not installed")
	}
	if err := res.Checks["database"](context.Background()); err != nil {
		t.Fatalf("database check: %v", err)
	}
	store, err := NewStore[counter](res, newCodec())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, ok := store.(*sqlstore.Store[counter]); !ok {
		t.Fatalf("expected sql store, got %T", store)
	}
	roundTrip(t, store)
}

func TestRunSQLiteWithoutMigrationsDir(t *testing.T) {
	cfg := &coreconfig.Config{
		State:    coreconfig.StateConfig{Backend: coreconfig.StateBackendSQLite},
		SQLite:   coreconfig.SQLiteConfig{Path: ":memory:"},
		Database: coreconfig.DatabaseConfig{MigrationsDir: filepath.Join(t.TempDir(), "missing")},
	}
	res, err := Run(context.Background(), Options{Config: cfg, LoggerInit: noLogger, DisableTracing: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	defer res.Close(context.Background())

	store, err := NewStore[counter](res, newCodec())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	roundTrip(t, store)
}

func TestRunRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &coreconfig.Config{
		State: coreconfig.StateConfig{Backend: coreconfig.StateBackendRedis, Namespace: "ns", TTLSeconds: 60},
		Redis: coreconfig.RedisConfig{Addr: mr.Addr(), KeyPrefix: "flowbot"},
	}
	res, err := Run(context.Background(), Options{Config: cfg, LoggerInit: noLogger, DisableTracing: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	defer res.Close(context.Background())

	store, err := NewStore[counter](res, newCodec())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	rs, ok := store.(*redisstore.Store[counter])
	if !ok {
		t.Fatalf("expected redis store, got %T", store)
	}
	roundTrip(t, store)
	if !mr.Exists(rs.Key(5)) {
		t.Fatalf("expected key %s in redis", rs.Key(5))
	}
	if ttl := mr.TTL(rs.Key(5)); ttl <= 0 {
		t.Fatalf("expected ttl on key, got %v", ttl)
	}

	mr.Close()
	if err := res.Checks["redis"](context.Background()); err == nil {
		t.Fatalf("expected redis check to fail after server close")
	}
}

func TestRunPostgresHooksAndCleanup(t *testing.T) {
	cfg := &coreconfig.Config{State: coreconfig.StateConfig{Backend: coreconfig.StateBackendPostgres}}
	boom := errors.New("boom")
	var connected bool
	_, err := Run(context.Background(), Options{
		Config:          cfg,
		LoggerInit:      noLogger,
		DisableTracing:  true,
		MigratePostgres: func(context.Context, coreconfig.DatabaseConfig) error { return boom },
		ConnectPostgres: func(context.Context, coreconfig.DatabaseConfig) (*sqlx.DB, error) {
			connected = true
			return nil, nil
		},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected migration error, got %v", err)
	}
	if connected {
		t.Fatalf("connect must not run after failed migrations")
	}
}

func TestRunLoggerInitFailure(t *testing.T) {
	boom := errors.New("boom")
	_, err := Run(context.Background(), Options{
		Config:     &coreconfig.Config{},
		LoggerInit: func(*coreconfig.Config) error { return boom },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected logger error, got %v", err)
	}
}

func TestNewStoreBeforeRun(t *testing.T) {
	if _, err := NewStore[counter](nil, nil); err == nil {
		t.Fatalf("expected error without result")
	}
}
