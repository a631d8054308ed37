// Package notify pushes notifications to a user's devices. Reminders
// are found by a recurring scan that may run concurrently on several
// instances; a TTL-bounded dedupe marker in the coordination store
// guarantees one delivery per (task, reminder timestamp). On-demand
// notifications bypass dedupe since each call is a distinct event.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/taskhub/internal/coord"
	"github.com/haasonsaas/taskhub/internal/observability"
	"github.com/haasonsaas/taskhub/internal/router"
	"github.com/haasonsaas/taskhub/internal/tasks"
	"github.com/haasonsaas/taskhub/pkg/models"
)

const dedupeKeyPrefix = "notify:sent:"

// Config tunes the reminder scan.
type Config struct {
	// ScanInterval is the period between scans. Defaults to 60s.
	ScanInterval time.Duration
	// Window is how far ahead reminders are picked up. Defaults to 5m.
	Window time.Duration
	// DedupeTTL is the lifetime of sent markers. Defaults to 1h.
	DedupeTTL time.Duration
}

// Dispatcher runs the reminder scan and delivers on-demand
// notifications.
type Dispatcher struct {
	store   tasks.Store
	coord   coord.Store
	router  *router.Router
	logger  *slog.Logger
	metrics *observability.Metrics
	config  Config
	now     func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	started bool
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithMetrics attaches scan and delivery metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = metrics }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// New creates a dispatcher. Zero config fields take defaults.
func New(store tasks.Store, coordStore coord.Store, rt *router.Router, config Config, opts ...Option) *Dispatcher {
	if config.ScanInterval <= 0 {
		config.ScanInterval = 60 * time.Second
	}
	if config.Window <= 0 {
		config.Window = 5 * time.Minute
	}
	if config.DedupeTTL <= 0 {
		config.DedupeTTL = time.Hour
	}
	d := &Dispatcher{
		store:  store,
		coord:  coordStore,
		router: rt,
		logger: slog.Default(),
		config: config,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start runs one scan immediately, then schedules the recurring scan.
// Scan failures are logged and retried on the next tick; the loop
// never terminates the process.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return nil
	}

	go d.safeScan(ctx)

	runner := cron.New()
	spec := fmt.Sprintf("@every %s", d.config.ScanInterval)
	if _, err := runner.AddFunc(spec, func() { d.safeScan(ctx) }); err != nil {
		return err
	}
	runner.Start()
	d.cron = runner
	d.started = true
	return nil
}

// Stop halts the recurring scan, waiting for an in-flight iteration.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cron != nil {
		<-d.cron.Stop().Done()
		d.cron = nil
	}
	d.started = false
}

// ScanNow runs a single reminder scan outside the recurring schedule,
// e.g. when a connection subscribes. Overlapping scans are safe: the
// dedupe marker still admits one delivery per reminder.
func (d *Dispatcher) ScanNow(ctx context.Context) {
	d.safeScan(ctx)
}

// Dispatch delivers an on-demand notification (export ready, task
// shared) to all of the user's connections. No connections online is
// not an error; the notification is simply not observed.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, notification *models.Notification) {
	d.router.Emit(ctx, models.RoomUser(userID), models.EventNotification, notification)
	if d.metrics != nil {
		d.metrics.Notifications.WithLabelValues(string(notification.Type), "sent").Inc()
	}
}

func (d *Dispatcher) safeScan(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in reminder scan", "panic", r)
		}
	}()
	if err := d.scan(ctx); err != nil {
		d.logger.Warn("reminder scan failed, retrying next tick", "error", err)
	}
}

// scan finds reminders due within the window and delivers each at most
// once per (task, reminder timestamp) across all instances.
func (d *Dispatcher) scan(ctx context.Context) error {
	start := d.now()
	defer func() {
		if d.metrics != nil {
			d.metrics.ReminderScanDuration.Observe(time.Since(start).Seconds())
		}
	}()

	due, err := d.store.FindDueReminders(ctx, start, start.Add(d.config.Window))
	if err != nil {
		return err
	}
	for _, task := range due {
		if task.ReminderAt == nil {
			continue
		}
		d.deliverReminder(ctx, task)
	}
	return nil
}

func (d *Dispatcher) deliverReminder(ctx context.Context, task *models.Task) {
	key := dedupeKey(task.ID, *task.ReminderAt)

	// SetNX is the claim: of any number of concurrent scans, exactly
	// one wins the marker and delivers.
	won, err := d.coord.SetNX(ctx, key, "1", d.config.DedupeTTL)
	if err != nil {
		// Degraded: deliver anyway rather than silently dropping the
		// reminder. Duplicates are possible only while the store is
		// down.
		d.logger.Warn("dedupe marker unavailable, delivering without dedupe",
			"task_id", task.ID, "error", err)
		if d.metrics != nil {
			d.metrics.CoordinationErrors.WithLabelValues("setnx").Inc()
		}
	} else if !won {
		if d.metrics != nil {
			d.metrics.Notifications.WithLabelValues(string(models.NotificationReminder), "deduped").Inc()
		}
		return
	}

	notification := models.NewReminderNotification(task)
	d.router.Emit(ctx, models.RoomUser(task.UserID), models.EventNotification, notification)
	if d.metrics != nil {
		d.metrics.Notifications.WithLabelValues(string(models.NotificationReminder), "sent").Inc()
	}
}

func dedupeKey(taskID string, reminderAt time.Time) string {
	return dedupeKeyPrefix + taskID + ":" + strconv.FormatInt(reminderAt.Unix(), 10)
}
