package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/taskhub/internal/coord"
	"github.com/haasonsaas/taskhub/internal/registry"
	"github.com/haasonsaas/taskhub/internal/router"
	"github.com/haasonsaas/taskhub/internal/tasks"
	"github.com/haasonsaas/taskhub/pkg/models"
)

type captureSender struct {
	mu     sync.Mutex
	events []*models.Notification
}

// SendEvent records notification events whether delivered locally
// (typed payload) or through the relay (raw JSON).
func (s *captureSender) SendEvent(event string, payload any) error {
	if event != models.EventNotification {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch p := payload.(type) {
	case *models.Notification:
		s.events = append(s.events, p)
	case json.RawMessage:
		var notification models.Notification
		if err := json.Unmarshal(p, &notification); err == nil {
			s.events = append(s.events, &notification)
		}
	}
	return nil
}

func (s *captureSender) notifications() []*models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Notification, len(s.events))
	copy(out, s.events)
	return out
}

func newDispatcher(t *testing.T, store tasks.Store, coordStore coord.Store, instanceID string) (*Dispatcher, *captureSender) {
	t.Helper()
	reg := registry.New()
	sender := &captureSender{}
	reg.Register("c-"+instanceID, "alice", sender)
	rt := router.New(reg, coordStore, instanceID, "events")
	if err := rt.Start(context.Background()); err != nil {
		t.Fatalf("router Start() error = %v", err)
	}
	t.Cleanup(rt.Stop)
	d := New(store, coordStore, rt, Config{Window: 5 * time.Minute, DedupeTTL: time.Hour})
	return d, sender
}

func createReminderTask(t *testing.T, store tasks.Store, title string, reminderAt time.Time) *models.Task {
	t.Helper()
	task, err := store.Create(context.Background(), "alice", tasks.CreateParams{
		Title:      title,
		ReminderAt: &reminderAt,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return task
}

func TestDispatcher_ScanDeliversDueReminder(t *testing.T) {
	store := tasks.NewMemory()
	coordStore := coord.NewMemory()
	d, sender := newDispatcher(t, store, coordStore, "i1")
	ctx := context.Background()

	task := createReminderTask(t, store, "standup", time.Now().Add(2*time.Minute))
	createReminderTask(t, store, "far future", time.Now().Add(2*time.Hour))

	if err := d.scan(ctx); err != nil {
		t.Fatalf("scan() error = %v", err)
	}

	got := sender.notifications()
	if len(got) != 1 {
		t.Fatalf("delivered %d notifications, want 1", len(got))
	}
	if got[0].Type != models.NotificationReminder {
		t.Errorf("type = %q, want reminder", got[0].Type)
	}
	if got[0].Message != "standup" {
		t.Errorf("message = %q, want standup", got[0].Message)
	}
	if got[0].Data["taskId"] != task.ID {
		t.Errorf("taskId = %v, want %s", got[0].Data["taskId"], task.ID)
	}
}

func TestDispatcher_RepeatedScansDeliverOnce(t *testing.T) {
	store := tasks.NewMemory()
	coordStore := coord.NewMemory()
	d, sender := newDispatcher(t, store, coordStore, "i1")
	ctx := context.Background()

	createReminderTask(t, store, "standup", time.Now().Add(2*time.Minute))

	for i := 0; i < 3; i++ {
		if err := d.scan(ctx); err != nil {
			t.Fatalf("scan() error = %v", err)
		}
	}

	if got := len(sender.notifications()); got != 1 {
		t.Errorf("delivered %d notifications over 3 scans, want 1", got)
	}
}

func TestDispatcher_ConcurrentInstancesDeliverOnce(t *testing.T) {
	// Two dispatchers sharing the task and coordination stores stand in
	// for two server instances scanning on the same schedule.
	store := tasks.NewMemory()
	coordStore := coord.NewMemory()
	d1, sender1 := newDispatcher(t, store, coordStore, "i1")
	d2, sender2 := newDispatcher(t, store, coordStore, "i2")
	ctx := context.Background()

	createReminderTask(t, store, "standup", time.Now().Add(2*time.Minute))

	if err := d1.scan(ctx); err != nil {
		t.Fatalf("scan(d1) error = %v", err)
	}
	if err := d2.scan(ctx); err != nil {
		t.Fatalf("scan(d2) error = %v", err)
	}

	// Cross-instance relay delivers the winner's notification to both
	// instances' connections, but each connection sees it exactly once.
	if got := len(sender1.notifications()); got != 1 {
		t.Errorf("instance 1 delivered %d notifications, want 1", got)
	}
	if got := len(sender2.notifications()); got != 1 {
		t.Errorf("instance 2 delivered %d notifications, want 1", got)
	}
}

func TestDispatcher_ChangedReminderFiresAgain(t *testing.T) {
	store := tasks.NewMemory()
	coordStore := coord.NewMemory()
	d, sender := newDispatcher(t, store, coordStore, "i1")
	ctx := context.Background()

	task := createReminderTask(t, store, "standup", time.Now().Add(time.Minute))
	if err := d.scan(ctx); err != nil {
		t.Fatalf("scan() error = %v", err)
	}

	// Moving the reminder produces a new (task, timestamp) pair, which
	// is a distinct delivery.
	moved := time.Now().Add(3 * time.Minute)
	if _, err := store.Update(ctx, "alice", task.ID, tasks.UpdateParams{ReminderAt: &moved}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := d.scan(ctx); err != nil {
		t.Fatalf("second scan() error = %v", err)
	}

	if got := len(sender.notifications()); got != 2 {
		t.Errorf("delivered %d notifications, want 2", got)
	}
}

func TestDispatcher_CompletedTaskSkipped(t *testing.T) {
	store := tasks.NewMemory()
	coordStore := coord.NewMemory()
	d, sender := newDispatcher(t, store, coordStore, "i1")
	ctx := context.Background()

	task := createReminderTask(t, store, "standup", time.Now().Add(time.Minute))
	done := true
	if _, err := store.Update(ctx, "alice", task.ID, tasks.UpdateParams{Completed: &done}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if err := d.scan(ctx); err != nil {
		t.Fatalf("scan() error = %v", err)
	}
	if got := len(sender.notifications()); got != 0 {
		t.Errorf("delivered %d notifications for a completed task, want 0", got)
	}
}

func TestDispatcher_ScanNowDeliversWithoutSchedule(t *testing.T) {
	store := tasks.NewMemory()
	coordStore := coord.NewMemory()
	d, sender := newDispatcher(t, store, coordStore, "i1")
	ctx := context.Background()

	createReminderTask(t, store, "standup", time.Now().Add(2*time.Minute))

	// A subscribe-triggered scan picks the reminder up before the next
	// scheduled tick; running it again stays deduped.
	d.ScanNow(ctx)
	d.ScanNow(ctx)

	if got := len(sender.notifications()); got != 1 {
		t.Errorf("delivered %d notifications over 2 immediate scans, want 1", got)
	}
}

func TestDispatcher_DispatchOnDemand(t *testing.T) {
	store := tasks.NewMemory()
	coordStore := coord.NewMemory()
	d, sender := newDispatcher(t, store, coordStore, "i1")
	ctx := context.Background()

	notification := models.NewExportReadyNotification("exp-1", "tasks.csv")
	d.Dispatch(ctx, "alice", notification)
	d.Dispatch(ctx, "alice", models.NewExportReadyNotification("exp-2", "tasks.json"))

	shared, err := store.Create(ctx, "bob", tasks.CreateParams{Title: "quarterly report"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	d.Dispatch(ctx, "alice", models.NewTaskSharedNotification(shared, "bob"))

	got := sender.notifications()
	if len(got) != 3 {
		t.Fatalf("delivered %d notifications, want 3 (no dedupe on demand)", len(got))
	}
	if got[0].Type != models.NotificationExportReady {
		t.Errorf("type = %q, want export_ready", got[0].Type)
	}
	if got[2].Type != models.NotificationTaskShared {
		t.Errorf("type = %q, want task_shared", got[2].Type)
	}
	if got[2].Data["sharedBy"] != "bob" {
		t.Errorf("sharedBy = %v, want bob", got[2].Data["sharedBy"])
	}
}
