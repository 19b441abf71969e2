// Package bootstrap prepares the infrastructure a bot process needs before
// its handlers are wired: logging, tracing and the state store backend.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/m3rciful/flowbot/core/admin"
	coreconfig "github.com/m3rciful/flowbot/core/config"
	coredatabase "github.com/m3rciful/flowbot/core/database"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/telegram/state"
	"github.com/m3rciful/flowbot/core/telegram/state/redisstore"
	"github.com/m3rciful/flowbot/core/telegram/state/sqlstore"
)

// Options control the bootstrap pipeline. Nil hooks select the defaults.
type Options struct {
	Config *coreconfig.Config

	LoggerInit      func(*coreconfig.Config) error
	ConnectPostgres func(context.Context, coreconfig.DatabaseConfig) (*sqlx.DB, error)
	MigratePostgres func(context.Context, coreconfig.DatabaseConfig) error
	// DisableTracing skips installing the global tracer provider.
	DisableTracing bool
}

// Result exposes the infrastructure initialized by Run.
type Result struct {
	Config *coreconfig.Config
	// DB is set for the postgres and sqlite backends.
	DB *sqlx.DB
	// Redis is set for the redis backend.
	Redis redis.UniversalClient
	// TracerProvider is nil when tracing is disabled.
	TracerProvider *sdktrace.TracerProvider
	// Checks are health checks for the admin server.
	Checks map[string]admin.Check

	closers []func(context.Context) error
}

// Run initializes the logger and tracer and opens the configured state backend.
// On failure everything opened so far is closed again.
func Run(ctx context.Context, opts Options) (_ *Result, err error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}
	cfg := opts.Config

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	res := &Result{Config: cfg, Checks: map[string]admin.Check{}}
	defer func() {
		if err != nil {
			_ = res.Close(context.WithoutCancel(ctx))
		}
	}()

	if !opts.DisableTracing {
		tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
		otel.SetTracerProvider(tp)
		res.TracerProvider = tp
		res.closers = append(res.closers, tp.Shutdown)
	}

	start := time.Now()
	switch cfg.State.Backend {
	case coreconfig.StateBackendPostgres:
		err = res.openPostgres(ctx, opts)
	case coreconfig.StateBackendSQLite:
		err = res.openSQLite(ctx)
	case coreconfig.StateBackendRedis:
		err = res.openRedis(ctx)
	case coreconfig.StateBackendMemory, "":
	default:
		err = fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	logger.LogEvent(ctx, logger.STORE, slog.LevelInfo, "state.backend",
		slog.String("status", "ok"),
		slog.String("backend", backendName(cfg)),
		slog.String("namespace", cfg.State.Namespace),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return res, nil
}

func (r *Result) openPostgres(ctx context.Context, opts Options) error {
	migrate := opts.MigratePostgres
	if migrate == nil {
		migrate = coredatabase.MigratePostgres
	}
	if err := migrate(ctx, r.Config.Database); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	connect := opts.ConnectPostgres
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(ctx, r.Config.Database)
	if err != nil {
		return fmt.Errorf("database initialization failed: %w", err)
	}
	r.useDB(db)
	return nil
}

func (r *Result) openSQLite(ctx context.Context) error {
	path := r.Config.SQLite.Path
	dir := r.Config.Database.MigrationsDir
	if dir == "" {
		dir = "migrations"
	}
	if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("sqlite directory: %w", err)
		}
		if err := coredatabase.MigrateSQLite(ctx, path, dir); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		db, err := coredatabase.OpenSQLite(ctx, path)
		if err != nil {
			return err
		}
		r.useDB(db)
		return nil
	}

	db, err := coredatabase.OpenSQLite(ctx, path)
	if err != nil {
		return err
	}
	r.useDB(db)
	if err := sqlstore.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("sqlite schema: %w", err)
	}
	return nil
}

func (r *Result) openRedis(ctx context.Context) error {
	rc := r.Config.Redis
	client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
	r.closers = append(r.closers, func(context.Context) error { return client.Close() })
	r.Redis = client

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.LogEvent(ctx, logger.STORE, slog.LevelError, "redis.connect",
			slog.String("status", "fail"),
			slog.String("host", rc.Addr),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("redis ping %s: %w", rc.Addr, err)
	}
	r.Checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	return nil
}

func (r *Result) useDB(db *sqlx.DB) {
	r.DB = db
	r.closers = append(r.closers, func(context.Context) error { return db.Close() })
	r.Checks["database"] = db.PingContext
}

// Close releases everything Run opened, in reverse order.
func (r *Result) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// NewStore returns the state store for the configured backend. codec must
// know every State the machine enters when the backend is durable.
func NewStore[G any](r *Result, codec *state.Codec) (state.Store[G], error) {
	if r == nil || r.Config == nil {
		return nil, fmt.Errorf("bootstrap: store requested before Run")
	}
	st := r.Config.State
	switch st.Backend {
	case coreconfig.StateBackendPostgres, coreconfig.StateBackendSQLite:
		if r.DB == nil {
			return nil, fmt.Errorf("bootstrap: %s backend has no database", st.Backend)
		}
		return sqlstore.New[G](r.DB, codec, st.Namespace), nil
	case coreconfig.StateBackendRedis:
		if r.Redis == nil {
			return nil, fmt.Errorf("bootstrap: redis backend has no client")
		}
		return redisstore.New[G](r.Redis, codec, redisstore.Options{
			Prefix:    r.Config.Redis.KeyPrefix,
			Namespace: st.Namespace,
			TTL:       st.TTL(),
		}), nil
	default:
		return state.NewMemoryStore[G](), nil
	}
}

func backendName(cfg *coreconfig.Config) string {
	if cfg.State.Backend == "" {
		return coreconfig.StateBackendMemory
	}
	return cfg.State.Backend
}
