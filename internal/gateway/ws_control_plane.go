package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/talon-ai/talon/internal/auth"
	"github.com/talon-ai/talon/internal/eventbus"
	"github.com/talon-ai/talon/internal/sessions"
	"github.com/talon-ai/talon/pkg/models"
)

const (
	wsProtocolVersion  = 1
	wsMaxPayloadBytes  = 1 << 20
	wsMaxBufferedBytes = 1 << 20
	wsTickInterval      = 15 * time.Second
	wsPongWait          = 45 * time.Second
	wsWriteWait         = 10 * time.Second
)

// wsControlPlane serves the /ws admin control plane: a JSON request/response/
// event envelope over a websocket, per the wire schema in ws_schema.go.
// Every session must connect() before any other method is accepted.
type wsControlPlane struct {
	server   *Server
	auth     *auth.Service
	logger   *slog.Logger
	upgrader websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*wsSession]struct{}
}

func (s *Server) newWSControlPlane() *wsControlPlane {
	return &wsControlPlane{
		server:  s,
		auth:    s.authService,
		logger:  s.logger,
		clients: make(map[*wsSession]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
}

// broadcastEvent fans an event out to every connected control-plane client.
// Used to re-publish eventbus topics (session lifecycle, agent completion)
// onto the /ws wire so connected admin clients see them without polling.
func (h *wsControlPlane) broadcastEvent(event string, payload any) {
	h.clientsMu.Lock()
	sessions := make([]*wsSession, 0, len(h.clients))
	for s := range h.clients {
		sessions = append(sessions, s)
	}
	h.clientsMu.Unlock()

	for _, s := range sessions {
		if s.connected.Load() {
			_ = s.sendEvent(event, payload) //nolint:errcheck
		}
	}
}

func (h *wsControlPlane) registerClient(s *wsSession) {
	h.clientsMu.Lock()
	h.clients[s] = struct{}{}
	h.clientsMu.Unlock()
}

func (h *wsControlPlane) unregisterClient(s *wsSession) {
	h.clientsMu.Lock()
	delete(h.clients, s)
	h.clientsMu.Unlock()
}

func (h *wsControlPlane) clientCount() int {
	if h == nil {
		return 0
	}
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
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
	Caps        []string       `json:"caps,omitempty"`
	Locale      string         `json:"locale,omitempty"`
	UserAgent   string         `json:"userAgent,omitempty"`
}

type wsClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode,omitempty"`
}

type wsAuthPayload struct {
	Token string `json:"token"`
}

type wsChatSendParams struct {
	SessionID      string            `json:"sessionId,omitempty"`
	Content        string            `json:"content"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Attachments    []wsAttachment    `json:"attachments,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
}

type wsChatHistoryParams struct {
	SessionID string `json:"sessionId"`
	Limit     int    `json:"limit,omitempty"`
}

type wsChatAbortParams struct {
	SessionID string `json:"sessionId"`
}

type wsSessionsListParams struct {
	AgentID string `json:"agentId,omitempty"`
	Channel string `json:"channel,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

type wsSessionsPatchParams struct {
	SessionID string            `json:"sessionId"`
	Title     string            `json:"title,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type wsAttachment struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	URL      string `json:"url,omitempty"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

type wsSession struct {
	control *wsControlPlane
	conn    *websocket.Conn
	send    chan []byte
	ctx     context.Context
	cancel  context.CancelFunc

	id          string
	connected   atomic.Bool
	seq         int64
	user        *models.User
	headerUser  *models.User
	idempotency map[string]struct{}
	idemMu      sync.Mutex

	remoteHost  string
	remoteProto string
}

func (h *wsControlPlane) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	host := requestHostFromRequest(r)
	proto := forwardedProtoFromRequest(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	session := &wsSession{
		control:     h,
		conn:        conn,
		send:        make(chan []byte, 64),
		ctx:         ctx,
		cancel:      cancel,
		id:          uuid.NewString(),
		headerUser:  h.authenticateRequest(r),
		idempotency: make(map[string]struct{}),
		remoteHost:  host,
		remoteProto: proto,
	}
	h.registerClient(session)
	session.run()
}

func (s *wsSession) run() {
	defer s.close()
	defer s.control.unregisterClient(s)
	go s.writeLoop()
	s.readLoop()
}

func (s *wsSession) close() {
	s.cancel()
	close(s.send)
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
			s.sendError(frame.ID, "request_failed", err.Error())
		}
	}
}

func (s *wsSession) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-s.send:
			if !ok {
				return
			}
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
	case "health":
		return s.handleHealth(frame)
	case "ping":
		return s.sendResponse(frame.ID, true, map[string]any{"timestamp": time.Now().UnixMilli()}, nil)
	case "chat.send":
		return s.handleChatSend(frame)
	case "chat.history":
		return s.handleChatHistory(frame)
	case "chat.abort":
		return s.handleChatAbort(frame)
	case "sessions.list":
		return s.handleSessionsList(frame)
	case "sessions.patch":
		return s.handleSessionsPatch(frame)
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

	if s.control.auth != nil && s.control.auth.Enabled() {
		user := s.headerUser
		if user == nil && params.Auth != nil {
			user = s.authenticateToken(params.Auth.Token)
		}
		if user == nil {
			return fmt.Errorf("unauthorized")
		}
		s.user = user
	}

	payload := s.buildHelloPayload()
	if err := s.sendResponse(frame.ID, true, payload, nil); err != nil {
		return err
	}
	s.connected.Store(true)
	go s.startTicking()
	return nil
}

func (s *wsSession) handleHealth(frame *wsFrame) error {
	payload := s.buildHealthSnapshot()
	return s.sendResponse(frame.ID, true, payload, nil)
}

// handleChatSend drives an admin-originated chat turn directly through the
// agentic runtime, bypassing the channel-adapter pipeline in processing.go:
// the control plane is itself a channel (models.ChannelAPI), just one whose
// transport is this websocket instead of a platform adapter.
func (s *wsSession) handleChatSend(frame *wsFrame) error {
	srv := s.control.server
	if srv == nil {
		return errors.New("server unavailable")
	}
	var params wsChatSendParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	if strings.TrimSpace(params.Content) == "" {
		return errors.New("content is required")
	}
	if params.IdempotencyKey != "" && s.isIdempotencyDuplicate(params.IdempotencyKey) {
		return s.sendResponse(frame.ID, true, map[string]any{"status": "duplicate"}, nil)
	}

	session, err := s.resolveChatSession(params.SessionID)
	if err != nil {
		return err
	}

	metadata := make(map[string]any, len(params.Metadata))
	for k, v := range params.Metadata {
		metadata[k] = v
	}

	msg := &models.Message{
		SessionID: session.ID,
		Channel:   models.ChannelAPI,
		ChannelID: s.id,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   params.Content,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	if len(params.Attachments) > 0 {
		msg.Attachments = make([]models.Attachment, 0, len(params.Attachments))
		for _, att := range params.Attachments {
			msg.Attachments = append(msg.Attachments, models.Attachment{
				ID:       att.ID,
				Type:     att.Type,
				URL:      att.URL,
				Filename: att.Filename,
				MimeType: att.MimeType,
				Size:     att.Size,
			})
		}
	}

	runtime, err := srv.ensureRuntime(s.ctx)
	if err != nil {
		return err
	}

	if err := s.sendResponse(frame.ID, true, map[string]any{"status": "accepted", "sessionId": session.ID}, nil); err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(s.ctx, maxProcessingTime)
	runToken := srv.registerActiveRun(session.ID, cancel)
	go func() {
		defer func() {
			cancel()
			srv.finishActiveRun(session.ID, runToken)
		}()
		s.streamChatResponse(runCtx, runtime, session, msg, frame.ID)
	}()
	return nil
}

// streamChatResponse consumes the runtime's chunk stream and re-emits it as
// chat.chunk/tool.call events, followed by exactly one chat.complete (or one
// error event on failure) per turn.
func (s *wsSession) streamChatResponse(ctx context.Context, rt runtimeProcessor, session *models.Session, msg *models.Message, requestID string) {
	chunks, err := rt.Process(ctx, session, msg)
	if err != nil {
		_ = s.sendEvent("error", map[string]any{ //nolint:errcheck
			"requestId": requestID,
			"code":      "runtime_error",
			"message":   err.Error(),
		})
		s.publishAgentEvent(eventbus.TopicAgentError, session.ID, err)
		return
	}

	var response strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			_ = s.sendEvent("error", map[string]any{ //nolint:errcheck
				"requestId": requestID,
				"sessionId": session.ID,
				"code":      "stream_error",
				"message":   chunk.Error.Error(),
			})
			s.publishAgentEvent(eventbus.TopicAgentError, session.ID, chunk.Error)
			return
		}
		if chunk.Text != "" {
			response.WriteString(chunk.Text)
			_ = s.sendEvent("chat.chunk", map[string]any{ //nolint:errcheck
				"requestId": requestID,
				"sessionId": session.ID,
				"content":   chunk.Text,
			})
		}
		if chunk.ToolResult != nil {
			_ = s.sendEvent("tool.call", map[string]any{ //nolint:errcheck
				"requestId":  requestID,
				"sessionId":  session.ID,
				"toolCallId": chunk.ToolResult.ToolCallID,
				"content":    chunk.ToolResult.Content,
				"isError":    chunk.ToolResult.IsError,
			})
		}
	}

	_ = s.sendEvent("chat.complete", map[string]any{ //nolint:errcheck
		"requestId": requestID,
		"sessionId": session.ID,
		"content":   response.String(),
	})
	s.publishAgentEvent(eventbus.TopicAgentDone, session.ID, nil)
}

// publishAgentEvent re-publishes a per-turn outcome onto the event bus so any
// other subscriber (currently: the control plane's own session.event relay)
// observes it without coupling directly to the websocket layer.
func (s *wsSession) publishAgentEvent(topic eventbus.Topic, sessionID string, cause error) {
	srv := s.control.server
	if srv == nil || srv.eventBus == nil {
		return
	}
	payload := map[string]any{"sessionId": sessionID}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	_ = srv.eventBus.Publish(s.ctx, topic, payload) //nolint:errcheck
}

// resolveChatSession looks up an existing session by id, or creates a fresh
// one scoped to this websocket connection when the client omits sessionId.
func (s *wsSession) resolveChatSession(sessionID string) (*models.Session, error) {
	srv := s.control.server
	if srv == nil || srv.sessions == nil {
		return nil, errors.New("session store unavailable")
	}
	if sessionID != "" {
		return srv.sessions.Get(s.ctx, sessionID)
	}

	agentID := defaultAgentID
	if srv.config != nil && srv.config.Session.DefaultAgentID != "" {
		agentID = srv.config.Session.DefaultAgentID
	}
	channelID := uuid.NewString()
	key := sessions.SessionKey(agentID, models.ChannelAPI, channelID)
	session, err := srv.sessions.GetOrCreate(s.ctx, key, agentID, models.ChannelAPI, channelID)
	if err != nil {
		return nil, err
	}
	if srv.eventBus != nil {
		_ = srv.eventBus.Publish(s.ctx, eventbus.TopicSessionCreated, map[string]any{"sessionId": session.ID}) //nolint:errcheck
	}
	return session, nil
}

func (s *wsSession) handleChatHistory(frame *wsFrame) error {
	if s.control.server == nil || s.control.server.sessions == nil {
		return errors.New("session store unavailable")
	}
	var params wsChatHistoryParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	limit := params.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	msgs, err := s.control.server.sessions.GetHistory(s.ctx, params.SessionID, limit)
	if err != nil {
		return err
	}
	return s.sendResponse(frame.ID, true, map[string]any{"messages": msgs}, nil)
}

func (s *wsSession) handleChatAbort(frame *wsFrame) error {
	var params wsChatAbortParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	ok := false
	if s.control.server != nil {
		ok = s.control.server.cancelActiveRun(params.SessionID)
	}
	return s.sendResponse(frame.ID, true, map[string]any{"aborted": ok}, nil)
}

func (s *wsSession) handleSessionsList(frame *wsFrame) error {
	if s.control.server == nil || s.control.server.sessions == nil {
		return errors.New("session store unavailable")
	}
	var params wsSessionsListParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}

	agentID := strings.TrimSpace(params.AgentID)
	if agentID == "" && s.control.server.config != nil {
		agentID = s.control.server.config.Session.DefaultAgentID
	}
	if agentID == "" {
		agentID = defaultAgentID
	}

	opts := sessions.ListOptions{
		Limit:  params.Limit,
		Offset: params.Offset,
	}
	if opts.Limit <= 0 || opts.Limit > 500 {
		opts.Limit = 50
	}
	if params.Channel != "" {
		opts.Channel = models.ChannelType(params.Channel)
	}

	list, err := s.control.server.sessions.List(s.ctx, agentID, opts)
	if err != nil {
		return err
	}
	return s.sendResponse(frame.ID, true, map[string]any{"sessions": list}, nil)
}

func (s *wsSession) handleSessionsPatch(frame *wsFrame) error {
	if s.control.server == nil || s.control.server.sessions == nil {
		return errors.New("session store unavailable")
	}
	var params wsSessionsPatchParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	session, err := s.control.server.sessions.Get(s.ctx, params.SessionID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(params.Title) != "" {
		session.Title = params.Title
	}
	if params.Metadata != nil {
		if session.Metadata == nil {
			session.Metadata = map[string]any{}
		}
		for k, v := range params.Metadata {
			session.Metadata[k] = v
		}
	}
	if err := s.control.server.sessions.Update(s.ctx, session); err != nil {
		return err
	}
	return s.sendResponse(frame.ID, true, session, nil)
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

func (s *wsSession) sendEvent(event string, payload any) error {
	seq := atomic.AddInt64(&s.seq, 1)
	frame := wsFrame{
		Type:    "event",
		Event:   event,
		Payload: payload,
		Seq:     &seq,
	}
	return s.enqueue(frame)
}

func (s *wsSession) sendError(id string, code string, message string) {
	_ = s.sendResponse(id, false, nil, &wsError{Code: code, Message: message}) //nolint:errcheck
}

func (s *wsSession) enqueue(frame wsFrame) error {
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
			_ = s.sendEvent("tick", map[string]any{"timestamp": time.Now().UnixMilli()}) //nolint:errcheck
		}
	}
}

func (s *wsSession) buildHelloPayload() map[string]any {
	return map[string]any{
		"type":     "hello-ok",
		"protocol": wsProtocolVersion,
		"server": map[string]any{
			"id":    s.id,
			"host":  s.remoteHost,
			"proto": s.remoteProto,
		},
		"features": map[string]any{
			"methods": supportedWSMethods(),
			"events":  supportedWSEvents(),
		},
		"policy": map[string]any{
			"maxPayloadBytes":  wsMaxPayloadBytes,
			"maxBufferedBytes": wsMaxBufferedBytes,
			"tickIntervalMs":   wsTickInterval.Milliseconds(),
		},
		"snapshot": s.buildHealthSnapshot(),
	}
}

func (s *wsSession) buildHealthSnapshot() map[string]any {
	payload := map[string]any{
		"uptimeMs": time.Since(s.control.server.startTime).Milliseconds(),
		"health": map[string]any{
			"status": "ok",
		},
	}
	if s.control.server == nil {
		return payload
	}

	channelStatuses := make([]map[string]any, 0)
	for channel, adapter := range s.control.server.channels.HealthAdapters() {
		status := adapter.Status()
		channelStatuses = append(channelStatuses, map[string]any{
			"channel":   string(channel),
			"connected": status.Connected,
			"error":     status.Error,
			"lastPing":  status.LastPing,
		})
	}
	if len(channelStatuses) > 0 {
		payload["channels"] = channelStatuses
	}
	return payload
}

func (s *wsSession) authenticateToken(token string) *models.User {
	if s.control.auth == nil || !s.control.auth.Enabled() {
		return nil
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	if user, err := s.control.auth.ValidateJWT(token); err == nil {
		return user
	}
	if user, err := s.control.auth.ValidateAPIKey(token); err == nil {
		return user
	}
	return nil
}

func (h *wsControlPlane) authenticateRequest(r *http.Request) *models.User {
	if h.auth == nil || !h.auth.Enabled() {
		return nil
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[7:])
		if user, err := h.auth.ValidateJWT(token); err == nil {
			return user
		}
	}
	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		apiKey = r.Header.Get("Api-Key")
	}
	if apiKey != "" {
		if user, err := h.auth.ValidateAPIKey(apiKey); err == nil {
			return user
		}
	}
	return nil
}

func supportedWSMethods() []string {
	return []string{
		"connect",
		"health",
		"ping",
		"chat.send",
		"chat.history",
		"chat.abort",
		"sessions.list",
		"sessions.patch",
	}
}

func supportedWSEvents() []string {
	return []string{
		"tick",
		"chat.chunk",
		"chat.complete",
		"error",
		"tool.call",
		"session.event",
		"pong",
	}
}

// requestHostFromRequest returns the Host header from an incoming request,
// or "" for a nil request.
func requestHostFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	return r.Host
}

// forwardedProtoFromRequest returns the X-Forwarded-Proto header value, for
// reporting the client-facing scheme when the gateway sits behind a proxy.
func forwardedProtoFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	return r.Header.Get("X-Forwarded-Proto")
}

func (s *wsSession) isIdempotencyDuplicate(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	s.idemMu.Lock()
	defer s.idemMu.Unlock()
	if _, ok := s.idempotency[key]; ok {
		return true
	}
	s.idempotency[key] = struct{}{}
	return false
}
