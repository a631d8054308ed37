package coord

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestMemory_SetGetDel(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Get(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}

	if err := m.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	value, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if value != "v" {
		t.Errorf("Get() = %q, want %q", value, "v")
	}

	if err := m.Del(ctx, "k"); err != nil {
		t.Fatalf("Del() error = %v", err)
	}
	if _, err := m.Get(ctx, "k"); err != ErrNotFound {
		t.Errorf("Get() after Del error = %v, want ErrNotFound", err)
	}
}

func TestMemory_TTLExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	now := time.Now()
	m.now = func() time.Time { return now }

	if err := m.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := m.Get(ctx, "k"); err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := m.Get(ctx, "k"); err != ErrNotFound {
		t.Errorf("Get() after expiry error = %v, want ErrNotFound", err)
	}
}

func TestMemory_SetNX(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	now := time.Now()
	m.now = func() time.Time { return now }

	won, err := m.SetNX(ctx, "lock", "a", time.Minute)
	if err != nil {
		t.Fatalf("SetNX() error = %v", err)
	}
	if !won {
		t.Fatal("first SetNX() = false, want true")
	}

	won, err = m.SetNX(ctx, "lock", "b", time.Minute)
	if err != nil {
		t.Fatalf("SetNX() error = %v", err)
	}
	if won {
		t.Fatal("second SetNX() = true, want false")
	}

	// After expiry the key is claimable again.
	now = now.Add(2 * time.Minute)
	won, err = m.SetNX(ctx, "lock", "c", time.Minute)
	if err != nil {
		t.Fatalf("SetNX() error = %v", err)
	}
	if !won {
		t.Fatal("SetNX() after expiry = false, want true")
	}
}

func TestMemory_Incr(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	count, err := m.Incr(ctx, "sessions", 1, time.Minute)
	if err != nil {
		t.Fatalf("Incr() error = %v", err)
	}
	if count != 1 {
		t.Errorf("Incr() = %d, want 1", count)
	}

	count, _ = m.Incr(ctx, "sessions", 1, time.Minute)
	if count != 2 {
		t.Errorf("Incr() = %d, want 2", count)
	}

	count, _ = m.Incr(ctx, "sessions", -1, time.Minute)
	if count != 1 {
		t.Errorf("Incr(-1) = %d, want 1", count)
	}

	// Zero delta refreshes without changing the value.
	count, _ = m.Incr(ctx, "sessions", 0, time.Minute)
	if count != 1 {
		t.Errorf("Incr(0) = %d, want 1", count)
	}
}

func TestMemory_ZRevRange(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i, member := range []string{"a", "b", "c", "d"} {
		if err := m.ZAdd(ctx, "feed", float64(i), member); err != nil {
			t.Fatalf("ZAdd() error = %v", err)
		}
	}

	tests := []struct {
		name        string
		start, stop int64
		want        []string
	}{
		{"full range", 0, -1, []string{"d", "c", "b", "a"}},
		{"first two", 0, 1, []string{"d", "c"}},
		{"stop past end", 0, 10, []string{"d", "c", "b", "a"}},
		{"start past end", 10, 20, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.ZRevRange(ctx, "feed", tt.start, tt.stop)
			if err != nil {
				t.Fatalf("ZRevRange() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ZRevRange(%d, %d) = %v, want %v", tt.start, tt.stop, got, tt.want)
			}
		})
	}
}

func TestMemory_ZRemRangeByRank(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i, member := range []string{"a", "b", "c", "d", "e"} {
		_ = m.ZAdd(ctx, "feed", float64(i), member)
	}

	// Keep the newest 2: remove ranks 0..-(2+1).
	if err := m.ZRemRangeByRank(ctx, "feed", 0, -3); err != nil {
		t.Fatalf("ZRemRangeByRank() error = %v", err)
	}
	got, err := m.ZRevRange(ctx, "feed", 0, -1)
	if err != nil {
		t.Fatalf("ZRevRange() error = %v", err)
	}
	want := []string{"e", "d"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("remaining members = %v, want %v", got, want)
	}
}

func TestMemory_ZRemRangeByScore(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i, member := range []string{"a", "b", "c", "d"} {
		_ = m.ZAdd(ctx, "feed", float64(i*10), member)
	}

	if err := m.ZRemRangeByScore(ctx, "feed", 0, 15); err != nil {
		t.Fatalf("ZRemRangeByScore() error = %v", err)
	}
	got, _ := m.ZRevRange(ctx, "feed", 0, -1)
	want := []string{"d", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("remaining members = %v, want %v", got, want)
	}
}

func TestMemory_PubSub(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	received := make([][]byte, 0)
	cancel, err := m.Subscribe(ctx, "events", func(payload []byte) {
		received = append(received, payload)
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := m.Publish(ctx, "events", []byte("one")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := m.Publish(ctx, "other", []byte("ignored")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(received) != 1 || string(received[0]) != "one" {
		t.Fatalf("received = %q, want [one]", received)
	}

	cancel()
	_ = m.Publish(ctx, "events", []byte("two"))
	if len(received) != 1 {
		t.Errorf("received %d messages after cancel, want 1", len(received))
	}
}

func TestMemory_SubscribeContextCancel(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	got := make(chan []byte, 1)
	if _, err := m.Subscribe(ctx, "events", func(payload []byte) {
		got <- payload
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	cancel()
	// The unsubscribe runs on a goroutine watching ctx; give it a beat.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		m.mu.RLock()
		remaining := len(m.subs["events"])
		m.mu.RUnlock()
		if remaining == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = m.Publish(context.Background(), "events", []byte("late"))
	select {
	case payload := <-got:
		t.Errorf("received %q after context cancel", payload)
	default:
	}
}
