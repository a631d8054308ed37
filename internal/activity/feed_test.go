package activity

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/taskhub/internal/coord"
	"github.com/haasonsaas/taskhub/internal/registry"
	"github.com/haasonsaas/taskhub/internal/router"
	"github.com/haasonsaas/taskhub/pkg/models"
)

type captureSender struct {
	mu     sync.Mutex
	events []string
}

func (s *captureSender) SendEvent(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSender) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == event {
			n++
		}
	}
	return n
}

func newTestFeed(t *testing.T, config Config) (*Feed, *captureSender, func(time.Time)) {
	t.Helper()
	store := coord.NewMemory()
	reg := registry.New()
	rt := router.New(reg, store, "test-instance", "events")
	sender := &captureSender{}
	reg.Register("c1", "alice", sender)

	feed := NewFeed(store, rt, config, nil)
	now := time.Now()
	var mu sync.Mutex
	feed.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	setNow := func(at time.Time) {
		mu.Lock()
		defer mu.Unlock()
		now = at
	}
	return feed, sender, setNow
}

func record(feed *Feed, userID, title string, at time.Time) {
	feed.Record(context.Background(), &models.ActivityItem{
		ID:          fmt.Sprintf("a-%d", at.UnixNano()),
		UserID:      userID,
		Action:      models.ActivityCreated,
		EntityTitle: title,
		Timestamp:   at,
	})
}

func TestFeed_RecordBroadcastsAndReplays(t *testing.T) {
	feed, sender, _ := newTestFeed(t, Config{})
	ctx := context.Background()

	feed.Record(ctx, models.NewActivityItem("alice", models.ActivityCreated, &models.Task{
		ID:     "t1",
		UserID: "alice",
		Title:  "write tests",
	}))

	if got := sender.count(models.EventActivityFeed); got != 1 {
		t.Errorf("broadcast count = %d, want 1", got)
	}

	items, err := feed.Recent(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Recent() = %d items, want 1", len(items))
	}
	if items[0].EntityTitle != "write tests" {
		t.Errorf("replayed title = %q, want %q", items[0].EntityTitle, "write tests")
	}
	if items[0].Action != models.ActivityCreated {
		t.Errorf("replayed action = %q, want created", items[0].Action)
	}
}

func TestFeed_RecentNewestFirst(t *testing.T) {
	feed, _, _ := newTestFeed(t, Config{})
	base := time.Now()

	for i := 0; i < 5; i++ {
		record(feed, "alice", fmt.Sprintf("task %d", i), base.Add(time.Duration(i)*time.Second))
	}

	items, err := feed.Recent(context.Background(), "alice", 3)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("Recent(3) = %d items, want 3", len(items))
	}
	for i, want := range []string{"task 4", "task 3", "task 2"} {
		if items[i].EntityTitle != want {
			t.Errorf("items[%d] = %q, want %q", i, items[i].EntityTitle, want)
		}
	}
}

func TestFeed_RankTrim(t *testing.T) {
	feed, _, _ := newTestFeed(t, Config{MaxEntries: 5})
	base := time.Now()

	for i := 0; i < 12; i++ {
		record(feed, "alice", fmt.Sprintf("task %d", i), base.Add(time.Duration(i)*time.Second))
	}

	items, err := feed.Recent(context.Background(), "alice", 100)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(items) != 5 {
		t.Fatalf("feed holds %d items, want cap 5", len(items))
	}
	if items[0].EntityTitle != "task 11" {
		t.Errorf("newest = %q, want task 11", items[0].EntityTitle)
	}
	if items[4].EntityTitle != "task 7" {
		t.Errorf("oldest kept = %q, want task 7", items[4].EntityTitle)
	}
}

func TestFeed_AgeTrimOnRead(t *testing.T) {
	feed, _, setNow := newTestFeed(t, Config{MaxAge: 24 * time.Hour})
	base := time.Now()

	record(feed, "alice", "stale", base.Add(-48*time.Hour))
	record(feed, "alice", "fresh", base)

	// Low-volume user: nothing new written, the stale entry must still
	// disappear once it passes MaxAge.
	setNow(base.Add(time.Minute))
	items, err := feed.Recent(context.Background(), "alice", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Recent() = %d items, want 1", len(items))
	}
	if items[0].EntityTitle != "fresh" {
		t.Errorf("kept item = %q, want fresh", items[0].EntityTitle)
	}
}

func TestFeed_PerUserIsolation(t *testing.T) {
	feed, _, _ := newTestFeed(t, Config{})
	base := time.Now()

	record(feed, "alice", "hers", base)
	record(feed, "bob", "his", base)

	items, err := feed.Recent(context.Background(), "alice", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(items) != 1 || items[0].EntityTitle != "hers" {
		t.Errorf("alice's feed = %+v, want only her item", items)
	}
}

func TestFeed_RecentLimitDefaults(t *testing.T) {
	feed, _, _ := newTestFeed(t, Config{MaxEntries: 100, ReplayLimit: 2})
	base := time.Now()
	for i := 0; i < 4; i++ {
		record(feed, "alice", fmt.Sprintf("task %d", i), base.Add(time.Duration(i)*time.Second))
	}

	// Zero and out-of-range limits fall back to the replay default.
	for _, limit := range []int{0, -1, 500} {
		items, err := feed.Recent(context.Background(), "alice", limit)
		if err != nil {
			t.Fatalf("Recent(%d) error = %v", limit, err)
		}
		if len(items) != 2 {
			t.Errorf("Recent(%d) = %d items, want replay default 2", limit, len(items))
		}
	}
}
