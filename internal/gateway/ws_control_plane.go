package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/taskhub/internal/auth"
	"github.com/haasonsaas/taskhub/internal/bridge"
	"github.com/haasonsaas/taskhub/internal/tasks"
	"github.com/haasonsaas/taskhub/pkg/models"
)

const (
	wsProtocolVersion = 1
	wsMaxPayloadBytes = 1 << 20
	wsTickInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
)

type wsControlPlane struct {
	server   *Server
	auth     *auth.Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func (s *Server) newWSControlPlane() http.Handler {
	return &wsControlPlane{
		server: s,
		auth:   s.auth,
		logger: s.logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
}

type wsFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Event   string          `json:"event,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload any             `json:"payload,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
	Seq     *int64          `json:"seq,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsConnectParams struct {
	MinProtocol int            `json:"minProtocol"`
	MaxProtocol int            `json:"maxProtocol"`
	Client      wsClientInfo   `json:"client"`
	Auth        *wsAuthPayload `json:"auth,omitempty"`
	User        *wsUserInfo    `json:"user,omitempty"`
}

type wsClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
}

type wsAuthPayload struct {
	Token string `json:"token"`
}

// wsUserInfo is a self-declared identity, honored only when credential
// checks are disabled (development and tests).
type wsUserInfo struct {
	ID     string `json:"id"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	Device string `json:"device,omitempty"`
}

type wsTodoCreateParams struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	CategoryID  string   `json:"categoryId,omitempty"`
	ReminderAt  *string  `json:"reminderAt,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// wsTodoUpdateParams distinguishes "field absent" from "field null":
// reminderAt null clears the reminder, absent leaves it untouched.
type wsTodoUpdateParams struct {
	ID          string          `json:"id"`
	Title       *string         `json:"title,omitempty"`
	Description *string         `json:"description,omitempty"`
	CategoryID  *string         `json:"categoryId,omitempty"`
	Completed   *bool           `json:"completed,omitempty"`
	ReminderAt  json.RawMessage `json:"reminderAt,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
}

type wsTodoDeleteParams struct {
	ID string `json:"id"`
}

type wsTodoReorderParams struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

type wsTodoSubscribeParams struct {
	CategoryID string `json:"categoryId,omitempty"`
}

type wsPresenceUpdateParams struct {
	Status string `json:"status"`
	Device string `json:"device,omitempty"`
}

type wsPresenceGetParams struct {
	UserID string `json:"userId"`
}

type wsTypingParams struct {
	ItemID string `json:"itemId"`
}

type wsActivitySubscribeParams struct {
	Limit int `json:"limit,omitempty"`
}

type wsSession struct {
	control *wsControlPlane
	conn    *websocket.Conn
	send    chan []byte
	ctx     context.Context
	cancel  context.CancelFunc

	id         string
	connected  atomic.Bool
	closed     atomic.Bool
	seq        int64
	user       *models.User
	headerUser *models.User
}

func (h *wsControlPlane) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := &wsSession{
		control:    h,
		conn:       conn,
		send:       make(chan []byte, 64),
		ctx:        ctx,
		cancel:     cancel,
		id:         uuid.NewString(),
		headerUser: h.authenticateRequest(r),
	}
	session.run()
}

func (s *wsSession) run() {
	defer s.close()
	go s.writeLoop()
	s.readLoop()
}

// close tears the session down in deterministic order: the registry
// entry goes first so fan-outs and local session counts stop seeing
// this connection, then presence (whose broadcasts reach the remaining
// connections), then the socket. The send channel is never closed; a
// fan-out that snapshotted this connection before unregistering gets an
// enqueue error instead of a panic, and the write loop exits through
// the context.
func (s *wsSession) close() {
	s.closed.Store(true)
	if s.connected.Load() && s.user != nil {
		s.control.server.registry.Unregister(s.id)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		s.control.server.presence.HandleDisconnect(ctx, s.id, s.user.ID)
		cancel()
		if m := s.control.server.metrics; m != nil {
			m.ActiveConnections.Dec()
		}
	}
	s.cancel()
	_ = s.conn.Close()
}

func (s *wsSession) readLoop() {
	s.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait)) //nolint:errcheck
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := s.decodeFrame(data)
		if err != nil {
			s.sendError("", "invalid_frame", err.Error())
			continue
		}

		if !s.connected.Load() {
			if frame.Method != "connect" {
				s.sendError(frame.ID, "handshake_required", "first request must be connect")
				continue
			}
			if err := s.handleConnect(frame); err != nil {
				s.sendError(frame.ID, "connect_failed", err.Error())
				return
			}
			continue
		}

		if err := s.handleRequest(frame); err != nil {
			var clientErr *bridge.Error
			if errors.As(err, &clientErr) {
				s.sendError(frame.ID, clientErr.Code, clientErr.Message)
				continue
			}
			s.sendError(frame.ID, "request_failed", err.Error())
		}
	}
}

func (s *wsSession) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (s *wsSession) decodeFrame(raw []byte) (*wsFrame, error) {
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	if frame.Type == "" {
		frame.Type = "req"
	}
	if frame.Type != "req" {
		return nil, fmt.Errorf("unsupported frame type %q", frame.Type)
	}
	if err := validateWSRequestFrame(raw, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

func (s *wsSession) handleRequest(frame *wsFrame) error {
	switch frame.Method {
	case "ping":
		return s.sendResponse(frame.ID, true, map[string]any{"timestamp": time.Now().UnixMilli()}, nil)
	case "todo:create":
		return s.handleTodoCreate(frame)
	case "todo:update":
		return s.handleTodoUpdate(frame)
	case "todo:delete":
		return s.handleTodoDelete(frame)
	case "todo:reorder":
		return s.handleTodoReorder(frame)
	case "todo:subscribe":
		return s.handleTodoSubscribe(frame)
	case "todo:unsubscribe":
		return s.handleTodoUnsubscribe(frame)
	case "presence:update":
		return s.handlePresenceUpdate(frame)
	case "presence:get":
		return s.handlePresenceGet(frame)
	case "presence:typing:start":
		return s.handleTypingStart(frame)
	case "presence:typing:stop":
		return s.handleTypingStop(frame)
	case "activity:subscribe":
		return s.handleActivitySubscribe(frame)
	case "activity:unsubscribe":
		return s.sendResponse(frame.ID, true, map[string]any{"subscribed": false}, nil)
	default:
		return fmt.Errorf("unknown method %q", frame.Method)
	}
}

func (s *wsSession) handleConnect(frame *wsFrame) error {
	var params wsConnectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}

	minProtocol := params.MinProtocol
	maxProtocol := params.MaxProtocol
	if minProtocol <= 0 {
		minProtocol = wsProtocolVersion
	}
	if maxProtocol <= 0 {
		maxProtocol = wsProtocolVersion
	}
	if wsProtocolVersion < minProtocol || wsProtocolVersion > maxProtocol {
		return fmt.Errorf("unsupported protocol version")
	}

	user, err := s.resolveIdentity(&params)
	if err != nil {
		return err
	}
	if user.Device == "" {
		user.Device = params.Client.Platform
	}
	s.user = user

	// Registration order matters: the connection must be able to
	// receive before presence broadcasts the online transition, so that
	// the client observes its own presence event.
	s.control.server.registry.Register(s.id, user.ID, s)
	s.control.server.sessions.Connected(s.ctx, user.ID)
	s.connected.Store(true)
	if m := s.control.server.metrics; m != nil {
		m.ActiveConnections.Inc()
	}

	if err := s.sendResponse(frame.ID, true, s.buildHelloPayload(), nil); err != nil {
		return err
	}
	s.control.server.presence.HandleConnect(s.ctx, s.id, user)
	go s.startTicking()

	s.control.logger.Info("connection established",
		"connection_id", s.id, "user_id", user.ID, "device", user.Device)
	return nil
}

// resolveIdentity prefers the transport-level credential (header), then
// the handshake token, then, only with auth disabled, self-declared
// identity.
func (s *wsSession) resolveIdentity(params *wsConnectParams) (*models.User, error) {
	if s.control.auth.Enabled() {
		if s.headerUser != nil {
			return s.headerUser, nil
		}
		if params.Auth != nil {
			if user, err := s.control.auth.Authenticate(params.Auth.Token); err == nil {
				return user, nil
			}
		}
		return nil, fmt.Errorf("unauthorized")
	}
	if params.User == nil || strings.TrimSpace(params.User.ID) == "" {
		return nil, fmt.Errorf("user identity is required")
	}
	return &models.User{
		ID:     strings.TrimSpace(params.User.ID),
		Email:  params.User.Email,
		Name:   params.User.Name,
		Device: params.User.Device,
	}, nil
}

func (s *wsSession) handleTodoCreate(frame *wsFrame) error {
	var params wsTodoCreateParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	create := tasks.CreateParams{
		Title:       params.Title,
		Description: params.Description,
		CategoryID:  params.CategoryID,
		Tags:        params.Tags,
	}
	if params.ReminderAt != nil {
		at, err := time.Parse(time.RFC3339, *params.ReminderAt)
		if err != nil {
			return &bridge.Error{Code: bridge.CodeInvalidPayload, Message: "reminderAt must be RFC 3339"}
		}
		create.ReminderAt = &at
	}
	task, err := s.control.server.bridge.Create(s.ctx, s.user.ID, create)
	if err != nil {
		return err
	}
	return s.sendResponse(frame.ID, true, task, nil)
}

func (s *wsSession) handleTodoUpdate(frame *wsFrame) error {
	var params wsTodoUpdateParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	update := tasks.UpdateParams{
		Title:       params.Title,
		Description: params.Description,
		CategoryID:  params.CategoryID,
		Completed:   params.Completed,
		Tags:        params.Tags,
	}
	if len(params.ReminderAt) > 0 {
		if string(params.ReminderAt) == "null" {
			update.ClearReminder = true
		} else {
			var raw string
			if err := json.Unmarshal(params.ReminderAt, &raw); err != nil {
				return &bridge.Error{Code: bridge.CodeInvalidPayload, Message: "reminderAt must be RFC 3339 or null"}
			}
			at, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return &bridge.Error{Code: bridge.CodeInvalidPayload, Message: "reminderAt must be RFC 3339 or null"}
			}
			update.ReminderAt = &at
		}
	}
	task, err := s.control.server.bridge.Update(s.ctx, s.user.ID, params.ID, update)
	if err != nil {
		return err
	}
	return s.sendResponse(frame.ID, true, task, nil)
}

func (s *wsSession) handleTodoDelete(frame *wsFrame) error {
	var params wsTodoDeleteParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	task, err := s.control.server.bridge.Delete(s.ctx, s.user.ID, params.ID)
	if err != nil {
		return err
	}
	return s.sendResponse(frame.ID, true, task, nil)
}

func (s *wsSession) handleTodoReorder(frame *wsFrame) error {
	var params wsTodoReorderParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	task, err := s.control.server.bridge.Reorder(s.ctx, s.user.ID, params.ID, params.Position)
	if err != nil {
		return err
	}
	return s.sendResponse(frame.ID, true, task, nil)
}

func (s *wsSession) handleTodoSubscribe(frame *wsFrame) error {
	var params wsTodoSubscribeParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	room := models.RoomUser(s.user.ID)
	if params.CategoryID != "" {
		room = models.RoomUserCategory(s.user.ID, params.CategoryID)
		s.control.server.registry.Join(s.id, room)
	}
	// A fresh subscriber expects imminent reminders without waiting for
	// the next scheduled scan; dedupe makes the extra scan safe.
	if d := s.control.server.notify; d != nil {
		go d.ScanNow(s.ctx)
	}
	return s.sendResponse(frame.ID, true, map[string]any{"room": room}, nil)
}

func (s *wsSession) handleTodoUnsubscribe(frame *wsFrame) error {
	var params wsTodoSubscribeParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	if params.CategoryID != "" {
		s.control.server.registry.Leave(s.id, models.RoomUserCategory(s.user.ID, params.CategoryID))
	}
	return s.sendResponse(frame.ID, true, map[string]any{"subscribed": false}, nil)
}

func (s *wsSession) handlePresenceUpdate(frame *wsFrame) error {
	var params wsPresenceUpdateParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	device := params.Device
	if device == "" {
		device = s.user.Device
	}
	status, err := s.control.server.presence.UpdateStatus(
		s.ctx, s.user.ID, models.PresenceState(params.Status), device)
	if err != nil {
		return &bridge.Error{Code: bridge.CodeInvalidPayload, Message: err.Error()}
	}
	return s.sendResponse(frame.ID, true, status, nil)
}

func (s *wsSession) handlePresenceGet(frame *wsFrame) error {
	var params wsPresenceGetParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	status := s.control.server.presence.Status(s.ctx, params.UserID)
	return s.sendResponse(frame.ID, true, status, nil)
}

func (s *wsSession) handleTypingStart(frame *wsFrame) error {
	var params wsTypingParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	s.control.server.presence.StartTyping(s.ctx, s.id, s.user.ID, params.ItemID)
	return s.sendResponse(frame.ID, true, map[string]any{"typing": true}, nil)
}

func (s *wsSession) handleTypingStop(frame *wsFrame) error {
	var params wsTypingParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	s.control.server.presence.StopTyping(s.ctx, s.user.ID, params.ItemID)
	return s.sendResponse(frame.ID, true, map[string]any{"typing": false}, nil)
}

// handleActivitySubscribe acks, then replays recent feed items to this
// connection only, oldest first so the client can append in order. Live
// items keep arriving through the user room regardless.
func (s *wsSession) handleActivitySubscribe(frame *wsFrame) error {
	var params wsActivitySubscribeParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	items, err := s.control.server.feed.Recent(s.ctx, s.user.ID, params.Limit)
	if err != nil {
		return &bridge.Error{Code: bridge.CodeUnavailable, Message: "activity feed unavailable"}
	}
	if err := s.sendResponse(frame.ID, true, map[string]any{"subscribed": true, "count": len(items)}, nil); err != nil {
		return err
	}
	for i := len(items) - 1; i >= 0; i-- {
		if err := s.SendEvent(models.EventActivityFeed, items[i]); err != nil {
			return nil
		}
	}
	return nil
}

// SendEvent implements the registry sender contract; the router and the
// replay path both deliver through it. Per-connection FIFO comes from
// the single send channel drained by one write loop.
func (s *wsSession) SendEvent(event string, payload any) error {
	seq := atomic.AddInt64(&s.seq, 1)
	frame := wsFrame{
		Type:    "event",
		Event:   event,
		Payload: payload,
		Seq:     &seq,
	}
	return s.enqueue(frame)
}

func (s *wsSession) sendResponse(id string, ok bool, payload any, err *wsError) error {
	frame := wsFrame{
		Type:    "res",
		ID:      id,
		OK:      &ok,
		Payload: payload,
		Error:   err,
	}
	return s.enqueue(frame)
}

func (s *wsSession) sendError(id string, code string, message string) {
	_ = s.sendResponse(id, false, nil, &wsError{Code: code, Message: message}) //nolint:errcheck
}

func (s *wsSession) enqueue(frame wsFrame) error {
	if s.closed.Load() {
		return fmt.Errorf("connection closed")
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if len(data) > wsMaxPayloadBytes {
		return fmt.Errorf("payload too large")
	}
	select {
	case s.send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (s *wsSession) startTicking() {
	ticker := time.NewTicker(wsTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			_ = s.SendEvent("tick", map[string]any{"timestamp": time.Now().UnixMilli()}) //nolint:errcheck
		}
	}
}

func (s *wsSession) buildHelloPayload() map[string]any {
	return map[string]any{
		"type":     "hello-ok",
		"protocol": wsProtocolVersion,
		"connection": map[string]any{
			"id":     s.id,
			"userId": s.user.ID,
		},
		"features": map[string]any{
			"methods": supportedWSMethods(),
			"events":  supportedWSEvents(),
		},
		"policy": map[string]any{
			"maxPayloadBytes": wsMaxPayloadBytes,
			"tickIntervalMs":  wsTickInterval.Milliseconds(),
		},
	}
}

func (h *wsControlPlane) authenticateRequest(r *http.Request) *models.User {
	if !h.auth.Enabled() {
		return nil
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		if user, err := h.auth.Authenticate(strings.TrimSpace(authHeader[7:])); err == nil {
			return user
		}
	}
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		if user, err := h.auth.Authenticate(apiKey); err == nil {
			return user
		}
	}
	return nil
}

func supportedWSMethods() []string {
	return []string{
		"connect",
		"ping",
		"todo:create",
		"todo:update",
		"todo:delete",
		"todo:reorder",
		"todo:subscribe",
		"todo:unsubscribe",
		"presence:update",
		"presence:get",
		"presence:typing:start",
		"presence:typing:stop",
		"activity:subscribe",
		"activity:unsubscribe",
	}
}

func supportedWSEvents() []string {
	return []string{
		"tick",
		models.EventTaskCreated,
		models.EventTaskUpdated,
		models.EventTaskDeleted,
		models.EventTaskReordered,
		models.EventPresenceOnline,
		models.EventPresenceOffline,
		models.EventPresenceTyping,
		models.EventActivityFeed,
		models.EventNotification,
	}
}
