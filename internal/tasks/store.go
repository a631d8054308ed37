// Package tasks is the boundary to the task-data collaborator: the
// transactional store owning tasks, categories and tags. The
// collaboration core only issues request/response calls against it; no
// transactional coupling with the coordination store is assumed.
package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/taskhub/pkg/models"
)

var (
	ErrNotFound = errors.New("task not found")
	// ErrUnavailable wraps transport-level failures so callers can
	// fail closed with a stable error code.
	ErrUnavailable = errors.New("task store unavailable")
)

// CreateParams describes a new task.
type CreateParams struct {
	Title       string
	Description string
	CategoryID  string
	ReminderAt  *time.Time
	Tags        []string
}

// UpdateParams patches an existing task. Nil fields are left
// unchanged.
type UpdateParams struct {
	Title         *string
	Description   *string
	CategoryID    *string
	Completed     *bool
	ReminderAt    *time.Time
	ClearReminder bool
	Tags          []string
}

// Store is the collaborator interface. Every call is synchronous; the
// bridge broadcasts only after a call returns success.
type Store interface {
	// Create persists a new task for the user and returns it.
	Create(ctx context.Context, userID string, params CreateParams) (*models.Task, error)

	// Get returns a task owned by the user, or ErrNotFound.
	Get(ctx context.Context, userID, taskID string) (*models.Task, error)

	// Update applies a patch and returns the complete updated task.
	Update(ctx context.Context, userID, taskID string, params UpdateParams) (*models.Task, error)

	// Delete removes a task, returning the deleted task for the
	// broadcast payload.
	Delete(ctx context.Context, userID, taskID string) (*models.Task, error)

	// Reorder moves a task to a new position within its list and
	// returns it.
	Reorder(ctx context.Context, userID, taskID string, position int) (*models.Task, error)

	// FindDueReminders returns incomplete tasks whose reminder falls
	// in [from, until], across all users.
	FindDueReminders(ctx context.Context, from, until time.Time) ([]*models.Task, error)
}
