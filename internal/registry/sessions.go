package registry

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/haasonsaas/taskhub/internal/coord"
)

const sessionKeyPrefix = "sessions:"

// sessionTTL bounds counter lifetime so a crashed instance cannot pin
// users online forever. Heartbeats refresh it well before expiry.
const sessionTTL = 10 * time.Minute

// SessionCounter tracks how many connections a user has across all
// instances, using a TTL-bounded counter in the coordination store.
// One instance dropping to zero local connections does not mean the
// user is offline; this counter is the authority. When the store is
// unreachable the local registry count is used instead and the
// degradation is logged.
type SessionCounter struct {
	store  coord.Store
	local  *Registry
	logger *slog.Logger
}

// NewSessionCounter builds a counter over the given store and local
// registry.
func NewSessionCounter(store coord.Store, local *Registry, logger *slog.Logger) *SessionCounter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionCounter{store: store, local: local, logger: logger}
}

// Connected records a new session for the user and returns the global
// session count.
func (c *SessionCounter) Connected(ctx context.Context, userID string) int64 {
	count, err := c.store.Incr(ctx, sessionKeyPrefix+userID, 1, sessionTTL)
	if err != nil {
		c.logger.Warn("session counter unavailable, using local count",
			"user_id", userID, "error", err)
		return int64(len(c.local.ConnectionsFor(userID)))
	}
	return count
}

// Disconnected records a closed session and returns the remaining
// global count. The counter key is removed at zero so absence and
// offline stay equivalent. Callers must unregister the connection
// before calling, so the degraded local fallback counts only the
// connections that remain.
func (c *SessionCounter) Disconnected(ctx context.Context, userID string) int64 {
	count, err := c.store.Incr(ctx, sessionKeyPrefix+userID, -1, sessionTTL)
	if err != nil {
		c.logger.Warn("session counter unavailable, using local count",
			"user_id", userID, "error", err)
		return int64(len(c.local.ConnectionsFor(userID)))
	}
	if count <= 0 {
		if err := c.store.Del(ctx, sessionKeyPrefix+userID); err != nil {
			c.logger.Warn("failed to clear session counter", "user_id", userID, "error", err)
		}
		return 0
	}
	return count
}

// Count re-reads the global session count without mutating it. Used by
// the disconnect path as an idempotent re-verification before a user
// is declared fully offline.
func (c *SessionCounter) Count(ctx context.Context, userID string) int64 {
	value, err := c.store.Get(ctx, sessionKeyPrefix+userID)
	if err != nil {
		if err == coord.ErrNotFound {
			return 0
		}
		c.logger.Warn("session counter unavailable, using local count",
			"user_id", userID, "error", err)
		return int64(len(c.local.ConnectionsFor(userID)))
	}
	count, err := parseCount(value)
	if err != nil {
		return 0
	}
	return count
}

// LocalSessions returns this instance's live connection count for the
// user. It floors the offline decision when the shared counter has
// lost track of connections that are demonstrably still here.
func (c *SessionCounter) LocalSessions(userID string) int {
	return len(c.local.ConnectionsFor(userID))
}

// Refresh extends the counter TTL; called from the presence heartbeat.
// A missing key means the counter was lost (store restart, TTL lapse);
// this instance then re-asserts its own live connections so a later
// disconnect elsewhere cannot drive the count to zero while devices
// remain.
func (c *SessionCounter) Refresh(ctx context.Context, userID string) {
	key := sessionKeyPrefix + userID
	_, err := c.store.Get(ctx, key)
	if errors.Is(err, coord.ErrNotFound) {
		local := int64(len(c.local.ConnectionsFor(userID)))
		if local == 0 {
			return
		}
		if _, err := c.store.Incr(ctx, key, local, sessionTTL); err != nil {
			c.logger.Debug("session counter re-assert failed", "user_id", userID, "error", err)
		}
		return
	}
	if err != nil {
		c.logger.Debug("session counter refresh failed", "user_id", userID, "error", err)
		return
	}
	if _, err := c.store.Incr(ctx, key, 0, sessionTTL); err != nil {
		c.logger.Debug("session counter refresh failed", "user_id", userID, "error", err)
	}
}

func parseCount(value string) (int64, error) {
	return strconv.ParseInt(value, 10, 64)
}
