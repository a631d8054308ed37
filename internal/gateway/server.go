// Package gateway exposes the collaboration core over HTTP: the
// websocket control plane at /ws, liveness at /healthz and Prometheus
// metrics at /metrics.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/taskhub/internal/activity"
	"github.com/haasonsaas/taskhub/internal/auth"
	"github.com/haasonsaas/taskhub/internal/bridge"
	"github.com/haasonsaas/taskhub/internal/config"
	"github.com/haasonsaas/taskhub/internal/coord"
	"github.com/haasonsaas/taskhub/internal/notify"
	"github.com/haasonsaas/taskhub/internal/observability"
	"github.com/haasonsaas/taskhub/internal/presence"
	"github.com/haasonsaas/taskhub/internal/registry"
	"github.com/haasonsaas/taskhub/internal/router"
)

// Deps are the wired collaborators the server serves. All fields are
// required except Metrics and Gatherer.
type Deps struct {
	Auth     *auth.Service
	Registry *registry.Registry
	Sessions *registry.SessionCounter
	Router   *router.Router
	Presence *presence.Tracker
	Feed     *activity.Feed
	Notify   *notify.Dispatcher
	Bridge   *bridge.Bridge
	Coord    coord.Store
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
}

// Server owns the HTTP listener and the websocket sessions it spawns.
type Server struct {
	config    *config.Config
	logger    *slog.Logger
	startTime time.Time

	auth     *auth.Service
	registry *registry.Registry
	sessions *registry.SessionCounter
	router   *router.Router
	presence *presence.Tracker
	feed     *activity.Feed
	notify   *notify.Dispatcher
	bridge   *bridge.Bridge
	coord    coord.Store
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer

	httpServer   *http.Server
	httpListener net.Listener
}

// NewServer assembles the gateway over already-constructed
// collaborators.
func NewServer(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    cfg,
		logger:    logger,
		startTime: time.Now(),
		auth:      deps.Auth,
		registry:  deps.Registry,
		sessions:  deps.Sessions,
		router:    deps.Router,
		presence:  deps.Presence,
		feed:      deps.Feed,
		notify:    deps.Notify,
		bridge:    deps.Bridge,
		coord:     deps.Coord,
		metrics:   deps.Metrics,
		gatherer:  deps.Gatherer,
	}
}

// Start begins listening. It returns once the listener is bound; serving
// continues in the background until Stop.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	mux := http.NewServeMux()

	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/ws", s.newWSControlPlane())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.httpServer = server
	s.httpListener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("starting gateway", "addr", addr, "instance_id", s.config.Server.InstanceID)
	return nil
}

// Stop shuts the listener down gracefully, then stops the presence
// timers so no broadcast fires against a closed registry.
func (s *Server) Stop(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	shutdownCtx := ctx
	var cancel context.CancelFunc
	if shutdownCtx == nil {
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
	}
	s.presence.Close()
	s.httpServer = nil
	s.httpListener = nil
}

// Addr returns the bound listen address, useful when port 0 was
// configured.
func (s *Server) Addr() string {
	if s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// handleHealthz always reports 200 while the process serves; the
// coordination field surfaces degraded single-instance mode without
// failing the check, since local service continues.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	coordination := "ok"
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.coord.Ping(ctx); err != nil {
		coordination = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"status":       "ok",
		"coordination": coordination,
		"connections":  s.registry.Len(),
		"uptimeMs":     time.Since(s.startTime).Milliseconds(),
	})
}
