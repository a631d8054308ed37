package presence

import (
	"context"
	"time"

	"github.com/haasonsaas/taskhub/pkg/models"
)

// StartTyping broadcasts a typing indicator for (user, item) and arms
// the auto-clear timer. A second start for the same pair restarts the
// timer, debouncing repeated keystroke events. Typing state never
// touches the coordination store; a restart correctly loses it.
func (t *Tracker) StartTyping(ctx context.Context, connID, userID, itemID string) {
	key := typingKey{userID: userID, itemID: itemID}

	t.mu.Lock()
	if existing, ok := t.typing[key]; ok {
		existing.timer.Stop()
	}
	entry := &typingEntry{connID: connID}
	entry.timer = time.AfterFunc(t.config.TypingTimeout, func() {
		t.expireTyping(key, entry)
	})
	t.typing[key] = entry
	t.mu.Unlock()

	t.router.Broadcast(ctx, models.EventPresenceTyping, &models.TypingIndicator{
		UserID:   userID,
		ItemID:   itemID,
		IsTyping: true,
	})
}

// StopTyping clears the indicator immediately on explicit client stop.
func (t *Tracker) StopTyping(ctx context.Context, userID, itemID string) {
	key := typingKey{userID: userID, itemID: itemID}

	t.mu.Lock()
	entry, ok := t.typing[key]
	if ok {
		entry.timer.Stop()
		delete(t.typing, key)
	}
	t.mu.Unlock()

	if !ok {
		return
	}
	t.broadcastTypingStopped(ctx, key)
}

// expireTyping fires when no start or stop arrived within the timeout.
// A restart can race a timer that is already past Stop: the entry
// identity check makes such a stale firing a no-op, so the freshly
// armed indicator survives.
func (t *Tracker) expireTyping(key typingKey, entry *typingEntry) {
	t.mu.Lock()
	ok := t.typing[key] == entry
	if ok {
		delete(t.typing, key)
	}
	t.mu.Unlock()

	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.broadcastTypingStopped(ctx, key)
}

// clearTypingForConnection cancels every typing timer the connection
// owns and broadcasts the cleared state, part of deterministic
// teardown on disconnect.
func (t *Tracker) clearTypingForConnection(ctx context.Context, connID string) {
	t.mu.Lock()
	cleared := make([]typingKey, 0)
	for key, entry := range t.typing {
		if entry.connID != connID {
			continue
		}
		entry.timer.Stop()
		delete(t.typing, key)
		cleared = append(cleared, key)
	}
	t.mu.Unlock()

	for _, key := range cleared {
		t.broadcastTypingStopped(ctx, key)
	}
}

func (t *Tracker) broadcastTypingStopped(ctx context.Context, key typingKey) {
	t.router.Broadcast(ctx, models.EventPresenceTyping, &models.TypingIndicator{
		UserID:   key.userID,
		ItemID:   key.itemID,
		IsTyping: false,
	})
}
