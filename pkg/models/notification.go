package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType classifies a pushed notification.
type NotificationType string

const (
	NotificationReminder    NotificationType = "reminder"
	NotificationExportReady NotificationType = "export_ready"
	NotificationTaskShared  NotificationType = "task_shared"
)

// Notification is delivered, not stored. The only durable trace is a
// short-lived dedupe marker for the reminder path.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Data      map[string]any   `json:"data,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewReminderNotification builds the notification pushed when a task's
// reminder falls inside the scan window.
func NewReminderNotification(task *Task) *Notification {
	data := map[string]any{"taskId": task.ID}
	if task.ReminderAt != nil {
		data["reminderAt"] = task.ReminderAt.UTC().Format(time.RFC3339)
	}
	return &Notification{
		ID:        uuid.NewString(),
		Type:      NotificationReminder,
		Title:     "Reminder",
		Message:   task.Title,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// NewExportReadyNotification builds the on-demand notification emitted
// when a requested export has finished generating.
func NewExportReadyNotification(exportID, filename string) *Notification {
	return &Notification{
		ID:        uuid.NewString(),
		Type:      NotificationExportReady,
		Title:     "Export ready",
		Message:   filename,
		Data:      map[string]any{"exportId": exportID, "filename": filename},
		Timestamp: time.Now().UTC(),
	}
}

// NewTaskSharedNotification builds the on-demand notification emitted
// when another user shares a task with the recipient.
func NewTaskSharedNotification(task *Task, sharedBy string) *Notification {
	return &Notification{
		ID:        uuid.NewString(),
		Type:      NotificationTaskShared,
		Title:     "Task shared with you",
		Message:   task.Title,
		Data:      map[string]any{"taskId": task.ID, "sharedBy": sharedBy},
		Timestamp: time.Now().UTC(),
	}
}
