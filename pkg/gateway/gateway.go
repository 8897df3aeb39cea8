// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gateway accepts client connections over a websocket, keyed by an
// opaque userId so a dropped connection can reconnect and inherit its prior
// session set. Each connection gets a reader goroutine and a writer
// goroutine; orchestration results stream back as JSON envelopes. Turns
// within one session are serialized: a chat envelope is not dispatched
// until the previous one's chat_complete has been emitted.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dr-jd-allen/axon/pkg/orchestrator"
)

const (
	outboundQueueSize = 64
	writeWait         = 10 * time.Second
	pongWait          = 45 * time.Second
	pingInterval      = 20 * time.Second
)

// Envelope is the bidirectional wire shape. Payload is left raw so each
// handler can unmarshal into its own concrete type.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type chatPayload struct {
	SessionID string               `json:"sessionId"`
	Message   string               `json:"message"`
	Agents    []orchestrator.Agent `json:"agents"`
	Settings  ChatSettings         `json:"settings"`
}

// ChatSettings mirrors the client-supplied per-turn orchestration knobs.
type ChatSettings struct {
	OrchestrationStrategy orchestrator.Strategy `json:"orchestrationStrategy"`
	EnableTools           bool                  `json:"enableTools,omitempty"`
	ConsensusThreshold    float64               `json:"consensusThreshold,omitempty"`
	CompetitiveTimeoutMs  int                   `json:"competitiveTimeoutMs,omitempty"`
	BreakOnError          bool                  `json:"breakOnError,omitempty"`
}

type startConversationPayload struct {
	SessionID string               `json:"sessionId"`
	Topic     string               `json:"topic"`
	Agents    []orchestrator.Agent `json:"agents"`
}

// Dispatcher runs one orchestration turn. The gateway never imports
// pkg/llmservice directly; it only knows orchestrator.Run's shape.
type Dispatcher interface {
	Run(ctx context.Context, sessionID string, agents []orchestrator.Agent, userMessage string, cfg orchestrator.Config, sink orchestrator.EventSink) (any, error)
}

// StatusProvider reports the snapshot fields a get-status envelope needs
// beyond what the gateway tracks itself (known agents, uptime).
type StatusProvider interface {
	KnownAgents() []string
	Uptime() time.Duration
}

// Server owns the userId -> connection map and the websocket upgrade.
type Server struct {
	mu          sync.Mutex
	connections map[string]*connection

	dispatcher Dispatcher
	status     StatusProvider
	logger     *zap.Logger
	upgrader   websocket.Upgrader
}

func New(dispatcher Dispatcher, status StatusProvider, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		connections: make(map[string]*connection),
		dispatcher:  dispatcher,
		status:      status,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := resolveUserID(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket_upgrade_failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		server:    s,
		userID:    userID,
		conn:      conn,
		outbound:  make(chan []byte, outboundQueueSize),
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]struct{}),
		logger:    s.logger.With(zap.String("user_id", userID)),
	}

	s.mu.Lock()
	existing, reconnect := s.connections[userID]
	if reconnect {
		c.sessions = existing.copySessions()
	}
	s.connections[userID] = c
	s.mu.Unlock()

	c.run(reconnect)
}

func resolveUserID(r *http.Request) string {
	if id := r.URL.Query().Get("userId"); id != "" {
		return id
	}
	if id := r.Header.Get("X-User-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}

// connection is one client's reader/writer pair and its session set.
type connection struct {
	server *Server
	userID string
	conn   *websocket.Conn

	outbound chan []byte
	ctx      context.Context
	cancel   context.CancelFunc

	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]struct{}
	turnLock sync.Mutex // serializes chat envelopes within this connection
}

func (c *connection) copySessions() map[string]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]struct{}, len(c.sessions))
	for k := range c.sessions {
		out[k] = struct{}{}
	}
	return out
}

func (c *connection) run(isReconnection bool) {
	defer c.close()
	go c.writeLoop()

	c.sendEnvelope("connected", map[string]any{
		"userId":         c.userID,
		"isReconnection": isReconnection,
		"agents":         c.server.status.KnownAgents(),
	})

	c.readLoop()
}

func (c *connection) close() {
	c.cancel()
	close(c.outbound)
	_ = c.conn.Close()

	c.server.mu.Lock()
	if c.server.connections[c.userID] == c {
		delete(c.server.connections, c.userID)
	}
	c.server.mu.Unlock()
}

func (c *connection) readLoop() {
	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError("malformed envelope", false)
			continue
		}

		c.handle(env)
	}
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg, ok := <-c.outbound:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func (c *connection) handle(env Envelope) {
	switch env.Type {
	case "chat":
		go c.handleChat(env.Payload)
	case "start-conversation":
		c.handleStartConversation(env.Payload)
	case "get-status":
		c.handleGetStatus()
	default:
		c.sendError("unknown message type", false)
	}
}

func (c *connection) handleChat(raw json.RawMessage) {
	c.turnLock.Lock()
	defer c.turnLock.Unlock()

	var payload chatPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.sendError("invalid chat payload", false)
		return
	}

	c.mu.Lock()
	c.sessions[payload.SessionID] = struct{}{}
	c.mu.Unlock()

	cfg := orchestrator.Config{
		Strategy:           payload.Settings.OrchestrationStrategy,
		EnableTools:        payload.Settings.EnableTools,
		BreakOnError:       payload.Settings.BreakOnError,
		ConsensusThreshold: payload.Settings.ConsensusThreshold,
	}
	if payload.Settings.CompetitiveTimeoutMs > 0 {
		cfg.CompetitiveTimeout = time.Duration(payload.Settings.CompetitiveTimeoutMs) * time.Millisecond
	}

	sink := func(ev orchestrator.Event) {
		switch ev.Type {
		case "agent_response":
			c.sendEnvelope("agent_response", map[string]any{"agent": ev.AgentID, "response": ev.Payload})
		case "agent_response_error":
			c.sendEnvelope("agent_response_error", map[string]any{"agent": ev.AgentID, "error": ev.Payload})
		case "pipeline_result":
			c.sendEnvelope("pipeline_result", ev.Payload)
		case "consensus_result":
			c.sendEnvelope("consensus_result", ev.Payload)
		}
	}

	result, err := c.server.dispatcher.Run(c.ctx, payload.SessionID, payload.Agents, payload.Message, cfg, sink)
	if err != nil {
		c.logger.Warn("orchestration_failed", zap.String("session_id", payload.SessionID), zap.Error(err))
		c.sendError(err.Error(), true)
		return
	}
	_ = result

	c.sendEnvelope("chat_complete", map[string]any{"strategy": payload.Settings.OrchestrationStrategy})
}

func (c *connection) handleStartConversation(raw json.RawMessage) {
	var payload startConversationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.sendError("invalid start-conversation payload", false)
		return
	}

	c.mu.Lock()
	c.sessions[payload.SessionID] = struct{}{}
	c.mu.Unlock()

	names := make([]string, 0, len(payload.Agents))
	for _, a := range payload.Agents {
		names = append(names, a.ID)
	}
	c.sendEnvelope("conversation-start", map[string]any{"sessionId": payload.SessionID, "agents": names})
}

func (c *connection) handleGetStatus() {
	c.mu.Lock()
	activeConversations := len(c.sessions)
	c.mu.Unlock()

	c.server.mu.Lock()
	connectedClients := len(c.server.connections)
	c.server.mu.Unlock()

	c.sendEnvelope("status", map[string]any{
		"agents":              c.server.status.KnownAgents(),
		"activeConversations": activeConversations,
		"connectedClients":    connectedClients,
		"uptime":              c.server.status.Uptime().String(),
	})
}

func (c *connection) sendEnvelope(typ string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("envelope_encode_failed", zap.String("type", typ), zap.Error(err))
		return
	}
	env := Envelope{Type: typ, Payload: data}
	raw, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("envelope_marshal_failed", zap.Error(err))
		return
	}
	c.enqueue(typ, raw)
}

func (c *connection) sendError(message string, recoverable bool) {
	c.sendEnvelope("error", map[string]any{"error": message, "recoverable": recoverable})
}

// enqueue applies the backpressure policy: drop non-essential
// metrics-update events first when the outbound queue is full; any other
// event type that cannot be delivered closes the connection, since a lost
// chat_complete would otherwise desynchronize per-session turn ordering.
func (c *connection) enqueue(typ string, data []byte) {
	select {
	case c.outbound <- data:
		return
	default:
	}

	if typ == "metrics-update" {
		c.logger.Debug("dropped_metrics_update_backpressure")
		return
	}

	select {
	case c.outbound <- data:
	default:
		c.logger.Warn("outbound_queue_full_closing_connection", zap.String("type", typ))
		c.cancel()
	}
}
