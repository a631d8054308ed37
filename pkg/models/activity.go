package models

import (
	"time"

	"github.com/google/uuid"
)

// ActivityAction classifies a state-changing action in the feed.
type ActivityAction string

const (
	ActivityCreated   ActivityAction = "created"
	ActivityUpdated   ActivityAction = "updated"
	ActivityCompleted ActivityAction = "completed"
	ActivityDeleted   ActivityAction = "deleted"
	ActivityShared    ActivityAction = "shared"
)

// ActivityItem is one entry in a user's append-only activity feed.
// Items are never updated after creation; retention is enforced by
// rank trimming and age expiry in the feed, not by the item itself.
type ActivityItem struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	Action      ActivityAction `json:"action"`
	EntityType  string         `json:"entityType"`
	EntityID    string         `json:"entityId"`
	EntityTitle string         `json:"entityTitle"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewActivityItem builds a feed entry for a task action.
func NewActivityItem(userID string, action ActivityAction, task *Task) *ActivityItem {
	item := &ActivityItem{
		ID:         uuid.NewString(),
		UserID:     userID,
		Action:     action,
		EntityType: "task",
		Timestamp:  time.Now().UTC(),
	}
	if task != nil {
		item.EntityID = task.ID
		item.EntityTitle = task.Title
	}
	return item
}
