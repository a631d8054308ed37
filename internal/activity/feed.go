// Package activity keeps a bounded, per-user, time-ordered log of
// state-changing actions in the coordination store. The feed is
// append-only: items are never updated, and retention is enforced by
// rank trimming (high-volume users) and age expiry (stale data), both
// applied independently.
package activity

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"github.com/haasonsaas/taskhub/internal/coord"
	"github.com/haasonsaas/taskhub/internal/router"
	"github.com/haasonsaas/taskhub/pkg/models"
)

const feedKeyPrefix = "activity:"

// Config bounds the feed.
type Config struct {
	// MaxEntries caps the feed by rank. Defaults to 100.
	MaxEntries int
	// MaxAge expires entries by age. Defaults to 7 days.
	MaxAge time.Duration
	// ReplayLimit is the default Recent page size. Defaults to 50.
	ReplayLimit int
}

// Feed records and replays activity items.
type Feed struct {
	store  coord.Store
	router *router.Router
	logger *slog.Logger
	config Config
	now    func() time.Time
}

// NewFeed builds a feed over the coordination store. Zero config
// fields take defaults.
func NewFeed(store coord.Store, rt *router.Router, config Config, logger *slog.Logger) *Feed {
	if config.MaxEntries <= 0 {
		config.MaxEntries = 100
	}
	if config.MaxAge <= 0 {
		config.MaxAge = 7 * 24 * time.Hour
	}
	if config.ReplayLimit <= 0 {
		config.ReplayLimit = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{store: store, router: rt, logger: logger, config: config, now: time.Now}
}

// Record appends the item, broadcasts it to the user's devices and
// trims the feed to its bounds. A store failure degrades to broadcast
// only: devices connected now still observe the action, replay after
// reconnect will miss it.
func (f *Feed) Record(ctx context.Context, item *models.ActivityItem) {
	if item.Timestamp.IsZero() {
		item.Timestamp = f.now().UTC()
	}

	f.router.Emit(ctx, models.RoomUser(item.UserID), models.EventActivityFeed, item)

	payload, err := json.Marshal(item)
	if err != nil {
		f.logger.Error("failed to encode activity item", "item_id", item.ID, "error", err)
		return
	}
	key := feedKeyPrefix + item.UserID
	score := float64(item.Timestamp.UnixMilli())
	if err := f.store.ZAdd(ctx, key, score, string(payload)); err != nil {
		f.logger.Warn("activity record failed, feed replay will miss this item",
			"user_id", item.UserID, "error", err)
		return
	}
	f.trim(ctx, key)
}

// Recent returns up to limit items, most recent first. It has no side
// effects beyond age trimming and is used to replay history to a newly
// subscribed connection.
func (f *Feed) Recent(ctx context.Context, userID string, limit int) ([]*models.ActivityItem, error) {
	if limit <= 0 || limit > f.config.MaxEntries {
		limit = f.config.ReplayLimit
	}
	key := feedKeyPrefix + userID

	// Age-expire before reading so low-volume users never see entries
	// older than MaxAge.
	cutoff := float64(f.now().Add(-f.config.MaxAge).UnixMilli())
	if err := f.store.ZRemRangeByScore(ctx, key, math.Inf(-1), cutoff); err != nil {
		f.logger.Warn("activity age trim failed", "user_id", userID, "error", err)
	}

	raw, err := f.store.ZRevRange(ctx, key, 0, int64(limit-1))
	if err != nil {
		return nil, err
	}
	items := make([]*models.ActivityItem, 0, len(raw))
	for _, entry := range raw {
		var item models.ActivityItem
		if err := json.Unmarshal([]byte(entry), &item); err != nil {
			f.logger.Warn("skipping undecodable activity entry", "user_id", userID, "error", err)
			continue
		}
		items = append(items, &item)
	}
	return items, nil
}

// trim enforces both retention bounds after a write.
func (f *Feed) trim(ctx context.Context, key string) {
	// Rank bound: drop everything below the newest MaxEntries.
	if err := f.store.ZRemRangeByRank(ctx, key, 0, int64(-f.config.MaxEntries-1)); err != nil {
		f.logger.Warn("activity rank trim failed", "key", key, "error", err)
	}
	// Age bound.
	cutoff := float64(f.now().Add(-f.config.MaxAge).UnixMilli())
	if err := f.store.ZRemRangeByScore(ctx, key, math.Inf(-1), cutoff); err != nil {
		f.logger.Warn("activity age trim failed", "key", key, "error", err)
	}
}
