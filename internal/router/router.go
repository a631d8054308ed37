// Package router delivers typed events to a user's connections on this
// instance and relays them through the coordination store so every
// other instance can deliver to its own connections. Local delivery
// never depends on the relay: when the store is down, events still
// reach every local connection and the degradation is logged.
package router

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/haasonsaas/taskhub/internal/coord"
	"github.com/haasonsaas/taskhub/internal/observability"
	"github.com/haasonsaas/taskhub/internal/registry"
)

// envelope is the relay frame exchanged between instances. Origin lets
// an instance drop its own publishes, which it has already delivered
// locally.
type envelope struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room,omitempty"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Router fans events out to rooms.
type Router struct {
	registry   *registry.Registry
	store      coord.Store
	logger     *slog.Logger
	metrics    *observability.Metrics
	instanceID string
	channel    string
	cancelSub  func()
}

// Option configures the router.
type Option func(*Router)

// WithMetrics attaches delivery metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *Router) { r.metrics = metrics }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a router for this instance. instanceID must be unique
// across the deployment; channel is the coordination pub/sub channel.
func New(reg *registry.Registry, store coord.Store, instanceID, channel string, opts ...Option) *Router {
	r := &Router{
		registry:   reg,
		store:      store,
		logger:     slog.Default(),
		instanceID: instanceID,
		channel:    channel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start subscribes to the relay channel. Safe to skip in single-
// instance mode; Emit keeps working locally either way.
func (r *Router) Start(ctx context.Context) error {
	cancel, err := r.store.Subscribe(ctx, r.channel, r.handleRelay)
	if err != nil {
		return err
	}
	r.cancelSub = cancel
	return nil
}

// Stop tears down the relay subscription.
func (r *Router) Stop() {
	if r.cancelSub != nil {
		r.cancelSub()
		r.cancelSub = nil
	}
}

// Emit delivers an event to every connection subscribed to the room,
// here and on peer instances. Per-connection ordering is FIFO in call
// order; no cross-event ordering is guaranteed beyond that, which is
// why payloads carry full state rather than deltas.
func (r *Router) Emit(ctx context.Context, room, event string, payload any) {
	r.deliverLocal(r.registry.Members(room), event, payload, "local")
	r.relay(ctx, room, event, payload)
}

// Broadcast delivers an event to every connection on every instance.
// Used for presence, which any user may observe.
func (r *Router) Broadcast(ctx context.Context, event string, payload any) {
	r.deliverLocal(r.registry.All(), event, payload, "local")
	r.relay(ctx, "", event, payload)
}

func (r *Router) deliverLocal(conns []*registry.Connection, event string, payload any, path string) {
	for _, conn := range conns {
		if err := conn.Sender.SendEvent(event, payload); err != nil {
			r.logger.Warn("dropping event for connection",
				"event", event, "connection_id", conn.ID, "error", err)
			if r.metrics != nil {
				r.metrics.EventsDropped.WithLabelValues(event).Inc()
			}
			continue
		}
		if r.metrics != nil {
			r.metrics.EventsDelivered.WithLabelValues(event, path).Inc()
		}
	}
}

func (r *Router) relay(ctx context.Context, room, event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("failed to encode relay payload", "event", event, "error", err)
		return
	}
	frame, err := json.Marshal(envelope{
		Origin:  r.instanceID,
		Room:    room,
		Event:   event,
		Payload: raw,
	})
	if err != nil {
		r.logger.Error("failed to encode relay envelope", "event", event, "error", err)
		return
	}
	if err := r.store.Publish(ctx, r.channel, frame); err != nil {
		// Cross-instance fan-out is lost but local delivery already
		// happened; keep serving in single-instance mode.
		r.logger.Warn("relay publish failed, delivering locally only",
			"event", event, "error", err)
		if r.metrics != nil {
			r.metrics.CoordinationErrors.WithLabelValues("publish").Inc()
		}
	}
}

func (r *Router) handleRelay(payload []byte) {
	var frame envelope
	if err := json.Unmarshal(payload, &frame); err != nil {
		r.logger.Warn("discarding malformed relay frame", "error", err)
		return
	}
	if frame.Origin == r.instanceID {
		return
	}
	var conns []*registry.Connection
	if frame.Room == "" {
		conns = r.registry.All()
	} else {
		conns = r.registry.Members(frame.Room)
	}
	r.deliverLocal(conns, frame.Event, frame.Payload, "relay")
}
