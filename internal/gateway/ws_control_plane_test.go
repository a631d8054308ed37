package gateway

import (
	"testing"

	"github.com/haasonsaas/taskhub/pkg/models"
)

func TestWSSession_SendEventAfterTeardown(t *testing.T) {
	s := &wsSession{send: make(chan []byte, 4)}

	if err := s.SendEvent("tick", map[string]any{"timestamp": 1}); err != nil {
		t.Fatalf("SendEvent() before teardown error = %v", err)
	}

	// A fan-out that snapshotted this connection before it unregistered
	// may still call SendEvent after teardown began. It must get an
	// error, not a panic.
	s.closed.Store(true)
	err := s.SendEvent(models.EventPresenceTyping, &models.TypingIndicator{
		UserID: "alice", ItemID: "task-1",
	})
	if err == nil {
		t.Error("SendEvent() after teardown succeeded, want error")
	}
}

func TestWSSession_EnqueueRejectsOversizedFrame(t *testing.T) {
	s := &wsSession{send: make(chan []byte, 1)}
	big := make([]byte, wsMaxPayloadBytes)
	if err := s.SendEvent("tick", map[string]any{"blob": string(big)}); err == nil {
		t.Error("SendEvent(oversized) succeeded, want error")
	}
}
