// Package redisstore keeps state envelopes in Redis as JSON documents.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/telegram/state"
)

// Store is a state.Store over a Redis client. Keys are "<prefix>:<namespace>:<id>".
type Store[G any] struct {
	client redis.UniversalClient
	codec  *state.Codec
	prefix string
	ttl    time.Duration
}

// Options configures a Store.
type Options struct {
	Prefix    string
	Namespace string
	// TTL expires envelopes after the last write. 0 keeps them forever.
	TTL time.Duration
}

// New returns a Store over client.
func New[G any](client redis.UniversalClient, codec *state.Codec, opts Options) *Store[G] {
	if opts.Namespace == "" {
		opts.Namespace = "default"
	}
	prefix := opts.Namespace
	if opts.Prefix != "" {
		prefix = opts.Prefix + ":" + opts.Namespace
	}
	return &Store[G]{client: client, codec: codec, prefix: prefix, ttl: opts.TTL}
}

// Key returns the Redis key holding the envelope of id.
func (s *Store[G]) Key(id int64) string {
	return s.prefix + ":" + strconv.FormatInt(id, 10)
}

func (s *Store[G]) Get(ctx context.Context, id int64) (state.Envelope[G], bool, error) {
	raw, err := s.client.Get(ctx, s.Key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return state.Envelope[G]{}, false, nil
	}
	if err != nil {
		s.logFailure(ctx, "get", id, err)
		return state.Envelope[G]{}, false, fmt.Errorf("redisstore get %d: %w", id, err)
	}
	var rec state.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return state.Envelope[G]{}, false, fmt.Errorf("redisstore unmarshal %d: %w", id, err)
	}
	env, err := state.DecodeEnvelope[G](s.codec, rec)
	if err != nil {
		return env, false, fmt.Errorf("redisstore get %d: %w", id, err)
	}
	return env, true, nil
}

func (s *Store[G]) Set(ctx context.Context, id int64, env *state.Envelope[G]) error {
	if env == nil {
		if err := s.client.Del(ctx, s.Key(id)).Err(); err != nil {
			s.logFailure(ctx, "delete", id, err)
			return fmt.Errorf("redisstore delete %d: %w", id, err)
		}
		return nil
	}
	rec, err := state.EncodeEnvelope(s.codec, *env)
	if err != nil {
		return fmt.Errorf("redisstore set %d: %w", id, err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redisstore marshal %d: %w", id, err)
	}
	if err := s.client.Set(ctx, s.Key(id), data, s.ttl).Err(); err != nil {
		s.logFailure(ctx, "set", id, err)
		return fmt.Errorf("redisstore set %d: %w", id, err)
	}
	return nil
}

// Ping checks the connection.
func (s *Store[G]) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store[G]) logFailure(ctx context.Context, op string, id int64, err error) {
	logger.LogEvent(ctx, logger.STORE, slog.LevelError, "state.store.failed",
		slog.String("status", "fail"),
		slog.String("backend", "redis"),
		slog.String("action", op),
		slog.Int64("correspondent_id", id),
		slog.String("err", err.Error()),
	)
}
