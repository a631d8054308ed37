// Package bridge translates task mutation requests from connections
// into calls against the task-data collaborator and, only after
// confirmed persistence, broadcasts the resulting event and records it
// in the activity feed. Connections never observe an event for a
// mutation that did not durably succeed; on failure the error goes to
// the requesting connection alone.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/haasonsaas/taskhub/internal/activity"
	"github.com/haasonsaas/taskhub/internal/observability"
	"github.com/haasonsaas/taskhub/internal/router"
	"github.com/haasonsaas/taskhub/internal/tasks"
	"github.com/haasonsaas/taskhub/pkg/models"
)

// Stable error codes reported through ack callbacks. Internal details
// never cross the connection boundary.
const (
	CodeInvalidPayload = "invalid_payload"
	CodeNotFound       = "not_found"
	CodeUnavailable    = "unavailable"
	CodeInternal       = "internal"
)

// Error is a client-reportable failure.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// Bridge applies task mutations with persist-then-emit ordering.
type Bridge struct {
	store   tasks.Store
	router  *router.Router
	feed    *activity.Feed
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
}

// Option configures the bridge.
type Option func(*Bridge)

// WithMetrics attaches mutation metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(b *Bridge) { b.metrics = metrics }
}

// WithTracer attaches a tracer spanning each mutation.
func WithTracer(tracer trace.Tracer) Option {
	return func(b *Bridge) {
		if tracer != nil {
			b.tracer = tracer
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a bridge over the task store, router and activity feed.
func New(store tasks.Store, rt *router.Router, feed *activity.Feed, opts ...Option) *Bridge {
	b := &Bridge{
		store:  store,
		router: rt,
		feed:   feed,
		logger: slog.Default(),
		tracer: noop.NewTracerProvider().Tracer("bridge"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Create persists a new task and broadcasts todo:created.
func (b *Bridge) Create(ctx context.Context, userID string, params tasks.CreateParams) (*models.Task, error) {
	if strings.TrimSpace(params.Title) == "" {
		return nil, &Error{Code: CodeInvalidPayload, Message: "title is required"}
	}
	ctx, span := b.startSpan(ctx, "create", userID)
	defer span.End()

	task, err := b.store.Create(ctx, userID, params)
	if err != nil {
		return nil, b.fail(span, "create", err)
	}
	b.succeed(ctx, "create", models.EventTaskCreated, models.ActivityCreated, task)
	return task, nil
}

// Update patches a task and broadcasts todo:updated with the complete
// task object. Completing a task is recorded as a completed action.
func (b *Bridge) Update(ctx context.Context, userID, taskID string, params tasks.UpdateParams) (*models.Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, &Error{Code: CodeInvalidPayload, Message: "task id is required"}
	}
	if params.Title != nil && strings.TrimSpace(*params.Title) == "" {
		return nil, &Error{Code: CodeInvalidPayload, Message: "title cannot be empty"}
	}
	ctx, span := b.startSpan(ctx, "update", userID)
	defer span.End()

	task, err := b.store.Update(ctx, userID, taskID, params)
	if err != nil {
		return nil, b.fail(span, "update", err)
	}
	action := models.ActivityUpdated
	if params.Completed != nil && *params.Completed {
		action = models.ActivityCompleted
	}
	b.succeed(ctx, "update", models.EventTaskUpdated, action, task)
	return task, nil
}

// Delete removes a task and broadcasts todo:deleted.
func (b *Bridge) Delete(ctx context.Context, userID, taskID string) (*models.Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, &Error{Code: CodeInvalidPayload, Message: "task id is required"}
	}
	ctx, span := b.startSpan(ctx, "delete", userID)
	defer span.End()

	task, err := b.store.Delete(ctx, userID, taskID)
	if err != nil {
		return nil, b.fail(span, "delete", err)
	}
	b.succeed(ctx, "delete", models.EventTaskDeleted, models.ActivityDeleted, task)
	return task, nil
}

// Reorder moves a task and broadcasts todo:reordered.
func (b *Bridge) Reorder(ctx context.Context, userID, taskID string, position int) (*models.Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, &Error{Code: CodeInvalidPayload, Message: "task id is required"}
	}
	if position < 0 {
		return nil, &Error{Code: CodeInvalidPayload, Message: "position cannot be negative"}
	}
	ctx, span := b.startSpan(ctx, "reorder", userID)
	defer span.End()

	task, err := b.store.Reorder(ctx, userID, taskID, position)
	if err != nil {
		return nil, b.fail(span, "reorder", err)
	}
	b.succeed(ctx, "reorder", models.EventTaskReordered, models.ActivityUpdated, task)
	return task, nil
}

// succeed runs the post-persistence side effects: broadcast to the
// user's room, then record the activity item. The two writes are not
// atomic with persistence; the ordering bounds the inconsistency to
// "event not yet seen", never "event seen for unpersisted data".
func (b *Bridge) succeed(ctx context.Context, action, event string, activityAction models.ActivityAction, task *models.Task) {
	b.router.Emit(ctx, models.RoomUser(task.UserID), event, task)
	b.feed.Record(ctx, models.NewActivityItem(task.UserID, activityAction, task))
	if b.metrics != nil {
		b.metrics.TaskMutations.WithLabelValues(action, "success").Inc()
	}
}

// fail maps store errors onto stable codes. No broadcast, no activity
// record: other devices see nothing for a failed mutation.
func (b *Bridge) fail(span trace.Span, action string, err error) error {
	if b.metrics != nil {
		b.metrics.TaskMutations.WithLabelValues(action, "error").Inc()
	}
	span.RecordError(err)
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		return &Error{Code: CodeNotFound, Message: "task not found"}
	case errors.Is(err, tasks.ErrUnavailable):
		b.logger.Error("task store unavailable", "action", action, "error", err)
		return &Error{Code: CodeUnavailable, Message: "task store unavailable"}
	default:
		b.logger.Error("task mutation failed", "action", action, "error", err)
		return &Error{Code: CodeInternal, Message: "internal error"}
	}
}

func (b *Bridge) startSpan(ctx context.Context, action, userID string) (context.Context, trace.Span) {
	return b.tracer.Start(ctx, "bridge."+action,
		trace.WithAttributes(attribute.String("user.id", userID)))
}
