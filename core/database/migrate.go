package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/m3rciful/flowbot/core/config"
	"github.com/m3rciful/flowbot/core/logger"
)

// MigratePostgres waits for the server in cfg and applies the migrations in cfg.MigrationsDir.
func MigratePostgres(ctx context.Context, cfg config.DatabaseConfig) error {
	if err := WaitForPostgres(ctx, PostgresDSN(cfg), 30*time.Second); err != nil {
		logger.LogEvent(ctx, logger.MIG, slog.LevelError, "db.migrate",
			slog.String("status", "fail"),
			slog.String("backend", "postgres"),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("database not ready: %w", err)
	}
	return RunMigrations(ctx, cfg.MigrationsDir, PostgresURL(cfg))
}

// MigrateSQLite applies the migrations in dir to the SQLite file at path.
func MigrateSQLite(ctx context.Context, path, dir string) error {
	return RunMigrations(ctx, dir, "sqlite://"+path)
}

// RunMigrations applies all up migrations found in dir to the database at dbURL.
// A relative dir is resolved against the working directory. Cancelling ctx
// stops after the migration in progress.
func RunMigrations(ctx context.Context, dir, dbURL string) error {
	set, err := loadMigrationSet(dir)
	if err != nil {
		return err
	}
	set.logResolved(ctx)

	m, err := migrate.New("file://"+filepath.ToSlash(set.dir), dbURL)
	if err != nil {
		logger.LogEvent(ctx, logger.MIG, slog.LevelError, "db.migrate",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("initialize migrations: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-done:
		}
	}()

	from, _, _ := m.Version()
	start := time.Now()
	err = m.Up()
	took := logger.Took(start)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.LogEvent(ctx, logger.MIG, slog.LevelError, "db.migrate",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
			slog.Duration("duration", took),
		)
		return fmt.Errorf("apply migrations: %w", err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("apply migrations: %w", ctxErr)
	}

	to, _, _ := m.Version()
	applied := set.between(uint64(from), uint64(to))
	if len(applied) > 0 {
		names, cut := logger.SummarizeStrings(applied, 6)
		logger.LogEvent(ctx, logger.MIG, slog.LevelDebug, "db.migrate.apply",
			slog.String("files_preview", names),
			slog.Bool("files_truncated", cut),
		)
	}
	logger.LogEvent(ctx, logger.MIG, slog.LevelInfo, "db.migrate",
		slog.String("status", "ok"),
		slog.Uint64("from_ver", uint64(from)),
		slog.Uint64("to_ver", uint64(to)),
		slog.Int("files", len(applied)),
		slog.Duration("duration", took),
	)
	return nil
}

// migrationSet is the sorted list of up files in one directory.
type migrationSet struct {
	dir   string
	files []string
}

func loadMigrationSet(dir string) (migrationSet, error) {
	if dir == "" {
		dir = "migrations"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return migrationSet{}, fmt.Errorf("resolve migrations dir: %w", err)
	}
	set := migrationSet{dir: abs}
	entries, err := os.ReadDir(abs)
	if err != nil {
		// migrate.New reports the missing source with its own error
		return set, nil
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			set.files = append(set.files, e.Name())
		}
	}
	sort.Strings(set.files)
	return set, nil
}

func (s migrationSet) logResolved(ctx context.Context) {
	attrs := []slog.Attr{
		slog.String("path", s.dir),
		slog.Int("files_total", len(s.files)),
	}
	if preview, cut := logger.SummarizeStrings(s.files, 6); preview != "" {
		attrs = append(attrs, slog.String("files_preview", preview), slog.Bool("files_truncated", cut))
	}
	logger.LogEvent(ctx, logger.MIG, slog.LevelDebug, "db.migrate.resolve", attrs...)
}

// between returns the files with a version in (from, to].
func (s migrationSet) between(from, to uint64) []string {
	var out []string
	for _, f := range s.files {
		if v := parseVersion(f); v > from && v <= to {
			out = append(out, f)
		}
	}
	return out
}

func parseVersion(name string) uint64 {
	head, _, _ := strings.Cut(name, "_")
	v, _ := strconv.ParseUint(head, 10, 64)
	return v
}
