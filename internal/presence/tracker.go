// Package presence maintains each user's availability in the
// coordination store under a bounded TTL, refreshed by per-connection
// heartbeats, and manages auto-expiring typing indicators. Expiry
// substitutes for deletion: a user whose key lapses is offline.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/taskhub/internal/coord"
	"github.com/haasonsaas/taskhub/internal/registry"
	"github.com/haasonsaas/taskhub/internal/router"
	"github.com/haasonsaas/taskhub/pkg/models"
)

const presenceKeyPrefix = "presence:"

// Config tunes presence liveness.
type Config struct {
	// TTL is the presence key expiry.
	TTL time.Duration
	// HeartbeatInterval refreshes the key before expiry. Must be
	// shorter than TTL.
	HeartbeatInterval time.Duration
	// TypingTimeout auto-clears typing indicators after inactivity.
	TypingTimeout time.Duration
}

// DefaultConfig returns production defaults: 5 minute TTL, 4 minute
// heartbeat, 5 second typing timeout.
func DefaultConfig() Config {
	return Config{
		TTL:               5 * time.Minute,
		HeartbeatInterval: 4 * time.Minute,
		TypingTimeout:     5 * time.Second,
	}
}

// Tracker owns presence state transitions for this instance's
// connections: CONNECTING → ONLINE → heartbeat loop → DISCONNECTED.
type Tracker struct {
	store    coord.Store
	router   *router.Router
	sessions *registry.SessionCounter
	logger   *slog.Logger
	config   Config

	mu         sync.Mutex
	heartbeats map[string]chan struct{} // connection ID → stop signal
	typing     map[typingKey]*typingEntry
}

type typingKey struct {
	userID string
	itemID string
}

type typingEntry struct {
	connID string
	timer  *time.Timer
}

// NewTracker builds a presence tracker. Zero config fields take
// defaults.
func NewTracker(store coord.Store, rt *router.Router, sessions *registry.SessionCounter, config Config, logger *slog.Logger) *Tracker {
	defaults := DefaultConfig()
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.HeartbeatInterval <= 0 || config.HeartbeatInterval >= config.TTL {
		config.HeartbeatInterval = defaults.HeartbeatInterval
		if config.HeartbeatInterval >= config.TTL {
			config.HeartbeatInterval = config.TTL * 4 / 5
		}
	}
	if config.TypingTimeout <= 0 {
		config.TypingTimeout = defaults.TypingTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:      store,
		router:     rt,
		sessions:   sessions,
		logger:     logger,
		config:     config,
		heartbeats: make(map[string]chan struct{}),
		typing:     make(map[typingKey]*typingEntry),
	}
}

// HandleConnect marks the user online, broadcasts the transition to
// every connection (presence is globally observable) and starts the
// connection's heartbeat.
func (t *Tracker) HandleConnect(ctx context.Context, connID string, user *models.User) {
	status := &models.PresenceStatus{
		UserID:       user.ID,
		Status:       models.PresenceOnline,
		LastActivity: time.Now().UTC(),
		Device:       user.Device,
	}
	t.writeStatus(ctx, status)
	t.router.Broadcast(ctx, models.EventPresenceOnline, status)
	t.startHeartbeat(connID, user.ID)
}

// UpdateStatus overwrites the user's presence on explicit client
// request and re-broadcasts it.
func (t *Tracker) UpdateStatus(ctx context.Context, userID string, state models.PresenceState, device string) (*models.PresenceStatus, error) {
	if !models.ValidPresenceState(state) {
		return nil, errors.New("invalid presence status")
	}
	status := &models.PresenceStatus{
		UserID:       userID,
		Status:       state,
		LastActivity: time.Now().UTC(),
		Device:       device,
	}
	t.writeStatus(ctx, status)
	t.router.Broadcast(ctx, models.EventPresenceOnline, status)
	return status, nil
}

// HandleDisconnect cancels the connection's timers and, only when no
// sessions remain anywhere, deletes the presence key and broadcasts
// offline. The connection must already be removed from the registry.
// The session count is re-queried after the decrement as an idempotent
// re-verification, and live local connections floor the decision: a
// shared counter that lost track (store restart, TTL lapse) cannot
// mark a user offline while their devices are demonstrably connected
// here.
func (t *Tracker) HandleDisconnect(ctx context.Context, connID, userID string) {
	t.stopHeartbeat(connID)
	t.clearTypingForConnection(ctx, connID)

	remaining := t.sessions.Disconnected(ctx, userID)
	if remaining > 0 {
		return
	}
	if t.sessions.LocalSessions(userID) > 0 {
		// The next heartbeat re-asserts these connections in the
		// counter.
		return
	}
	if t.sessions.Count(ctx, userID) > 0 {
		// A new device connected while this one was tearing down.
		return
	}
	if err := t.store.Del(ctx, presenceKeyPrefix+userID); err != nil {
		t.logger.Warn("failed to delete presence key", "user_id", userID, "error", err)
	}
	t.router.Broadcast(ctx, models.EventPresenceOffline, map[string]any{"userId": userID})
}

// Status reads a user's presence. A missing or unreadable key is
// reported as offline, matching the expiry model.
func (t *Tracker) Status(ctx context.Context, userID string) *models.PresenceStatus {
	value, err := t.store.Get(ctx, presenceKeyPrefix+userID)
	if err != nil {
		return &models.PresenceStatus{UserID: userID, Status: models.PresenceOffline}
	}
	var status models.PresenceStatus
	if err := json.Unmarshal([]byte(value), &status); err != nil {
		return &models.PresenceStatus{UserID: userID, Status: models.PresenceOffline}
	}
	return &status
}

// Close stops all heartbeats and typing timers, e.g. on shutdown.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for connID, stop := range t.heartbeats {
		close(stop)
		delete(t.heartbeats, connID)
	}
	for key, entry := range t.typing {
		entry.timer.Stop()
		delete(t.typing, key)
	}
}

func (t *Tracker) writeStatus(ctx context.Context, status *models.PresenceStatus) {
	payload, err := json.Marshal(status)
	if err != nil {
		t.logger.Error("failed to encode presence status", "user_id", status.UserID, "error", err)
		return
	}
	if err := t.store.Set(ctx, presenceKeyPrefix+status.UserID, string(payload), t.config.TTL); err != nil {
		// Presence degrades to local-only visibility; the connection
		// keeps working.
		t.logger.Warn("presence write failed", "user_id", status.UserID, "error", err)
	}
}

func (t *Tracker) startHeartbeat(connID, userID string) {
	stop := make(chan struct{})
	t.mu.Lock()
	if existing, ok := t.heartbeats[connID]; ok {
		close(existing)
	}
	t.heartbeats[connID] = stop
	t.mu.Unlock()

	go func() {
		ticker := time.NewTicker(t.config.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				t.refresh(userID)
			}
		}
	}()
}

func (t *Tracker) stopHeartbeat(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if stop, ok := t.heartbeats[connID]; ok {
		close(stop)
		delete(t.heartbeats, connID)
	}
}

// refresh extends the presence TTL and the session counter before the
// 5 minute expiry. Failures are logged, never surfaced to the client.
func (t *Tracker) refresh(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.sessions.Refresh(ctx, userID)

	key := presenceKeyPrefix + userID
	value, err := t.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, coord.ErrNotFound) {
			// Key lapsed (e.g. store restart); the user still has a
			// live connection, so restore online state.
			t.writeStatus(ctx, &models.PresenceStatus{
				UserID:       userID,
				Status:       models.PresenceOnline,
				LastActivity: time.Now().UTC(),
			})
			return
		}
		t.logger.Warn("presence heartbeat failed", "user_id", userID, "error", err)
		return
	}
	if err := t.store.Set(ctx, key, value, t.config.TTL); err != nil {
		t.logger.Warn("presence heartbeat failed", "user_id", userID, "error", err)
	}
}
