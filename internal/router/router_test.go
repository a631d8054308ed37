package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/haasonsaas/taskhub/internal/coord"
	"github.com/haasonsaas/taskhub/internal/registry"
	"github.com/haasonsaas/taskhub/pkg/models"
)

type capturedEvent struct {
	Event   string
	Payload any
}

type captureSender struct {
	mu     sync.Mutex
	events []capturedEvent
	fail   bool
}

func (s *captureSender) SendEvent(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("buffer full")
	}
	s.events = append(s.events, capturedEvent{Event: event, Payload: payload})
	return nil
}

func (s *captureSender) captured() []capturedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]capturedEvent, len(s.events))
	copy(out, s.events)
	return out
}

func TestRouter_EmitDeliversToRoomMembersOnly(t *testing.T) {
	reg := registry.New()
	alice := &captureSender{}
	bob := &captureSender{}
	reg.Register("c1", "alice", alice)
	reg.Register("c2", "bob", bob)

	rt := New(reg, coord.NewMemory(), "i1", "events")
	rt.Emit(context.Background(), models.RoomUser("alice"), "todo:created", map[string]any{"id": "t1"})

	if got := len(alice.captured()); got != 1 {
		t.Errorf("alice received %d events, want 1", got)
	}
	if got := len(bob.captured()); got != 0 {
		t.Errorf("bob received %d events, want 0", got)
	}
}

func TestRouter_BroadcastReachesEveryConnection(t *testing.T) {
	reg := registry.New()
	alice := &captureSender{}
	bob := &captureSender{}
	reg.Register("c1", "alice", alice)
	reg.Register("c2", "bob", bob)

	rt := New(reg, coord.NewMemory(), "i1", "events")
	rt.Broadcast(context.Background(), "presence:online", map[string]any{"userId": "alice"})

	if got := len(alice.captured()); got != 1 {
		t.Errorf("alice received %d events, want 1", got)
	}
	if got := len(bob.captured()); got != 1 {
		t.Errorf("bob received %d events, want 1", got)
	}
}

func TestRouter_CrossInstanceRelay(t *testing.T) {
	// Two routers on one store stand in for two server instances.
	store := coord.NewMemory()
	ctx := context.Background()

	regA := registry.New()
	regB := registry.New()
	local := &captureSender{}
	remote := &captureSender{}
	regA.Register("c1", "alice", local)
	regB.Register("c2", "alice", remote)

	rtA := New(regA, store, "instance-a", "events")
	rtB := New(regB, store, "instance-b", "events")
	if err := rtA.Start(ctx); err != nil {
		t.Fatalf("Start(A) error = %v", err)
	}
	defer rtA.Stop()
	if err := rtB.Start(ctx); err != nil {
		t.Fatalf("Start(B) error = %v", err)
	}
	defer rtB.Stop()

	rtA.Emit(ctx, models.RoomUser("alice"), "todo:updated", map[string]any{"id": "t1"})

	// Origin filtering: the local connection sees the event exactly
	// once even though instance A also receives its own relay frame.
	if got := len(local.captured()); got != 1 {
		t.Errorf("local connection received %d events, want 1", got)
	}
	remoteEvents := remote.captured()
	if len(remoteEvents) != 1 {
		t.Fatalf("remote connection received %d events, want 1", len(remoteEvents))
	}
	if remoteEvents[0].Event != "todo:updated" {
		t.Errorf("remote event = %q, want todo:updated", remoteEvents[0].Event)
	}
	raw, ok := remoteEvents[0].Payload.(json.RawMessage)
	if !ok {
		t.Fatalf("remote payload type = %T, want json.RawMessage", remoteEvents[0].Payload)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("remote payload undecodable: %v", err)
	}
	if payload["id"] != "t1" {
		t.Errorf("remote payload id = %v, want t1", payload["id"])
	}
}

func TestRouter_RelayedBroadcastReachesAllRemoteConnections(t *testing.T) {
	store := coord.NewMemory()
	ctx := context.Background()

	regA := registry.New()
	regB := registry.New()
	remoteBob := &captureSender{}
	regB.Register("c2", "bob", remoteBob)

	rtA := New(regA, store, "instance-a", "events")
	rtB := New(regB, store, "instance-b", "events")
	if err := rtB.Start(ctx); err != nil {
		t.Fatalf("Start(B) error = %v", err)
	}
	defer rtB.Stop()

	// Presence broadcasts carry no room; every remote connection gets
	// them.
	rtA.Broadcast(ctx, "presence:offline", map[string]any{"userId": "alice"})

	if got := len(remoteBob.captured()); got != 1 {
		t.Errorf("remote connection received %d events, want 1", got)
	}
}

type failingPublishStore struct {
	*coord.Memory
}

func (failingPublishStore) Publish(ctx context.Context, channel string, payload []byte) error {
	return errors.New("store down")
}

func TestRouter_LocalDeliverySurvivesRelayFailure(t *testing.T) {
	reg := registry.New()
	alice := &captureSender{}
	reg.Register("c1", "alice", alice)

	rt := New(reg, &failingPublishStore{Memory: coord.NewMemory()}, "i1", "events")
	rt.Emit(context.Background(), models.RoomUser("alice"), "todo:created", map[string]any{"id": "t1"})

	if got := len(alice.captured()); got != 1 {
		t.Errorf("local delivery dropped on relay failure: got %d events, want 1", got)
	}
}

func TestRouter_SlowConsumerDoesNotBlockOthers(t *testing.T) {
	reg := registry.New()
	slow := &captureSender{fail: true}
	healthy := &captureSender{}
	reg.Register("c1", "alice", slow)
	reg.Register("c2", "alice", healthy)

	rt := New(reg, coord.NewMemory(), "i1", "events")
	rt.Emit(context.Background(), models.RoomUser("alice"), "todo:created", map[string]any{"id": "t1"})

	if got := len(healthy.captured()); got != 1 {
		t.Errorf("healthy connection received %d events, want 1", got)
	}
}
