// Package coord defines the narrow interface to the shared coordination
// store: TTL key/value entries, ordered sets and publish/subscribe. It
// is the only cross-instance shared resource; every consumer treats a
// store failure as degradation to single-instance behavior, never as a
// reason to fail connection handling.
package coord

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("coord: key not found")

// Handler receives a message published on a subscribed channel.
type Handler func(payload []byte)

// Store is the coordination store contract. All writes through this
// interface are TTL-bounded or rank/age-trimmed by their callers, so
// no background cleanup job is required.
type Store interface {
	// Set writes a value with a TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX writes the value only if the key is absent and reports
	// whether the write happened. Used for dedupe markers where two
	// instances may race on the same trigger.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get reads a value, returning ErrNotFound for missing keys.
	Get(ctx context.Context, key string) (string, error)

	// Del removes a key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// Incr adjusts a counter by delta and returns the new value,
	// refreshing the key TTL when ttl > 0.
	Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// ZAdd inserts a member into an ordered set with the given score,
	// replacing the score of an existing member.
	ZAdd(ctx context.Context, key string, score float64, member string) error

	// ZRevRange returns members between start and stop ranks,
	// highest score first. Negative indexes count from the end, as in
	// Redis.
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// ZRemRangeByRank removes members between start and stop ranks
	// (lowest score first, Redis semantics).
	ZRemRangeByRank(ctx context.Context, key string, start, stop int64) error

	// ZRemRangeByScore removes members with scores in [min, max].
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error

	// Publish sends a payload to every subscriber of the channel,
	// including ones on other instances.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe registers a handler for a channel and returns a
	// cancel function. Handlers run until cancel is called or the
	// context ends.
	Subscribe(ctx context.Context, channel string, handler Handler) (func(), error)

	// Ping reports store reachability, used by health checks.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
