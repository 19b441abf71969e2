// Package sqlstore keeps state envelopes in a SQL table through sqlx.
// PostgreSQL (lib/pq) and SQLite (modernc.org/sqlite) are supported.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/telegram/state"
)

// Schema creates the envelope table. It matches migrations/0001_state_envelopes.up.sql.
const Schema = `
CREATE TABLE IF NOT EXISTS state_envelopes (
    namespace        TEXT      NOT NULL,
    correspondent_id BIGINT    NOT NULL,
    state_kind       TEXT      NOT NULL,
    current_state    TEXT      NOT NULL,
    global_state     TEXT      NOT NULL,
    updated_at       TIMESTAMP NOT NULL,
    PRIMARY KEY (namespace, correspondent_id)
);
CREATE INDEX IF NOT EXISTS state_envelopes_kind_idx ON state_envelopes (namespace, state_kind);
`

type row struct {
	Kind    string `db:"state_kind"`
	Current string `db:"current_state"`
	Global  string `db:"global_state"`
}

// Store is a state.Store backed by the state_envelopes table.
type Store[G any] struct {
	db        *sqlx.DB
	codec     *state.Codec
	namespace string

	getQuery    string
	upsertQuery string
	deleteQuery string
}

// New returns a Store over db. Rows are scoped by namespace so several bots can
// share one table.
func New[G any](db *sqlx.DB, codec *state.Codec, namespace string) *Store[G] {
	if namespace == "" {
		namespace = "default"
	}
	return &Store[G]{
		db:        db,
		codec:     codec,
		namespace: namespace,
		getQuery: db.Rebind(`SELECT state_kind, current_state, global_state
			FROM state_envelopes WHERE namespace = ? AND correspondent_id = ?`),
		upsertQuery: db.Rebind(`INSERT INTO state_envelopes
			(namespace, correspondent_id, state_kind, current_state, global_state, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (namespace, correspondent_id) DO UPDATE SET
				state_kind = excluded.state_kind,
				current_state = excluded.current_state,
				global_state = excluded.global_state,
				updated_at = excluded.updated_at`),
		deleteQuery: db.Rebind(`DELETE FROM state_envelopes WHERE namespace = ? AND correspondent_id = ?`),
	}
}

// EnsureSchema creates the table when migrations are not used.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure state schema: %w", err)
	}
	return nil
}

func (s *Store[G]) Get(ctx context.Context, id int64) (state.Envelope[G], bool, error) {
	var r row
	err := s.db.GetContext(ctx, &r, s.getQuery, s.namespace, id)
	if errors.Is(err, sql.ErrNoRows) {
		return state.Envelope[G]{}, false, nil
	}
	if err != nil {
		s.logFailure(ctx, "get", id, err)
		return state.Envelope[G]{}, false, fmt.Errorf("sqlstore get %d: %w", id, err)
	}
	env, err := state.DecodeEnvelope[G](s.codec, state.Record{
		Kind:    state.Kind(r.Kind),
		Current: []byte(r.Current),
		Global:  []byte(r.Global),
	})
	if err != nil {
		return env, false, fmt.Errorf("sqlstore get %d: %w", id, err)
	}
	return env, true, nil
}

func (s *Store[G]) Set(ctx context.Context, id int64, env *state.Envelope[G]) error {
	if env == nil {
		if _, err := s.db.ExecContext(ctx, s.deleteQuery, s.namespace, id); err != nil {
			s.logFailure(ctx, "delete", id, err)
			return fmt.Errorf("sqlstore delete %d: %w", id, err)
		}
		return nil
	}
	rec, err := state.EncodeEnvelope(s.codec, *env)
	if err != nil {
		return fmt.Errorf("sqlstore set %d: %w", id, err)
	}
	_, err = s.db.ExecContext(ctx, s.upsertQuery,
		s.namespace, id, string(rec.Kind), string(rec.Current), string(rec.Global), time.Now().UTC())
	if err != nil {
		s.logFailure(ctx, "set", id, err)
		return fmt.Errorf("sqlstore set %d: %w", id, err)
	}
	return nil
}

// Count returns the number of envelopes in the namespace.
func (s *Store[G]) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM state_envelopes WHERE namespace = ?`), s.namespace)
	return n, err
}

func (s *Store[G]) logFailure(ctx context.Context, op string, id int64, err error) {
	logger.LogEvent(ctx, logger.STORE, slog.LevelError, "state.store.failed",
		slog.String("status", "fail"),
		slog.String("backend", s.db.DriverName()),
		slog.String("namespace", s.namespace),
		slog.String("action", op),
		slog.Int64("correspondent_id", id),
		slog.String("err", err.Error()),
	)
}
