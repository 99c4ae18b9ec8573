// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stacklok/gatehouse/pkg/config"
)

// Operational timeout for every Redis round-trip.
const redisOpTimeout = 2 * time.Second

// defaultKeyPrefix namespaces all session keys.
var defaultKeyPrefix = config.AppName + ":"

// pushScript inserts a hash-per-key entry with a TTL, failing when the value
// already exists. Runs atomically on the server.
var pushScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "data", ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`)

// consumeScript reads and deletes an entry atomically (single-read).
var consumeScript = redis.NewScript(`
local v = redis.call("HGET", KEYS[1], "data")
if v then
  redis.call("DEL", KEYS[1])
end
return v
`)

// RedisStore implements Store on a Redis hash per key with EXPIRE. Keyed
// operations are linearizable on the backing store, which makes consumption
// at-most-once across the whole cluster.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// NewRedisStore connects to Redis and verifies the connection with a PING.
func NewRedisStore(host, password string, logger *slog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         host,
		Password:     password,
		DialTimeout:  redisOpTimeout,
		ReadTimeout:  redisOpTimeout,
		WriteTimeout: redisOpTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, defaultKeyPrefix, logger), nil
}

// NewRedisStoreWithClient wraps a pre-built client. Used by tests with
// miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, prefix: prefix, logger: logger}
}

func (r *RedisStore) key(kind Kind, value string) string {
	return r.prefix + string(kind) + ":" + value
}

// Push implements Store.
func (r *RedisStore) Push(ctx context.Context, kind Kind, value string, session *Session, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	inserted, err := pushScript.Run(ctx, r.client, []string{r.key(kind, value)}, data, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("pushing session: %w", err)
	}
	if inserted == 0 {
		return ErrCodeTaken
	}
	return nil
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, kind Kind, value string, consume bool) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	var raw string
	var err error
	if consume {
		raw, err = consumeScript.Run(ctx, r.client, []string{r.key(kind, value)}).Text()
	} else {
		raw, err = r.client.HGet(ctx, r.key(kind, value), "data").Result()
	}
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &session, nil
}

// Healthy implements Store with a PING round-trip.
func (r *RedisStore) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		r.logger.Warn("redis health check failed", "error", err)
		return false
	}
	return true
}

// Count implements Store by scanning the kind's key prefix. The result is an
// approximation suitable for metrics.
func (r *RedisStore) Count(ctx context.Context, kind Kind) int {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	n := 0
	iter := r.client.Scan(ctx, 0, r.prefix+string(kind)+":*", 0).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn("redis scan failed", "error", err)
	}
	return n
}

// Close implements Store.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

var _ Store = (*RedisStore)(nil)
