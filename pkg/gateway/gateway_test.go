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
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dr-jd-allen/axon/pkg/orchestrator"
)

type fakeDispatcher struct {
	run func(ctx context.Context, sessionID string, agents []orchestrator.Agent, userMessage string, cfg orchestrator.Config, sink orchestrator.EventSink) (any, error)
}

func (f *fakeDispatcher) Run(ctx context.Context, sessionID string, agents []orchestrator.Agent, userMessage string, cfg orchestrator.Config, sink orchestrator.EventSink) (any, error) {
	return f.run(ctx, sessionID, agents, userMessage, cfg, sink)
}

type fakeStatus struct {
	agents []string
}

func (f fakeStatus) KnownAgents() []string   { return f.agents }
func (f fakeStatus) Uptime() time.Duration   { return time.Minute }

func startTestServer(t *testing.T, dispatcher Dispatcher, status StatusProvider) (*httptest.Server, string) {
	t.Helper()
	srv := New(dispatcher, status, nil)
	ts := httptest.NewServer(http.HandlerFunc(srv.ServeHTTP))
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	return ts, wsURL
}

func dial(t *testing.T, wsURL, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?userId="+userID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestConnectSendsConnectedEnvelope(t *testing.T) {
	_, wsURL := startTestServer(t, &fakeDispatcher{}, fakeStatus{agents: []string{"a", "b"}})
	conn := dial(t, wsURL, "user1")

	env := readEnvelope(t, conn)
	assert.Equal(t, "connected", env.Type)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "user1", payload["userId"])
	assert.Equal(t, false, payload["isReconnection"])
}

func TestChatHappyPathEmitsResponsesThenComplete(t *testing.T) {
	dispatcher := &fakeDispatcher{
		run: func(ctx context.Context, sessionID string, agents []orchestrator.Agent, userMessage string, cfg orchestrator.Config, sink orchestrator.EventSink) (any, error) {
			sink(orchestrator.Event{Type: "agent_response", AgentID: "agent1", Payload: "hello back"})
			return nil, nil
		},
	}
	_, wsURL := startTestServer(t, dispatcher, fakeStatus{})
	conn := dial(t, wsURL, "user1")
	_ = readEnvelope(t, conn) // connected

	chatMsg, err := json.Marshal(map[string]any{
		"type": "chat",
		"payload": map[string]any{
			"sessionId": "s1",
			"message":   "hi",
			"agents":    []map[string]any{{"id": "agent1"}},
			"settings":  map[string]any{"orchestrationStrategy": "parallel"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, chatMsg))

	first := readEnvelope(t, conn)
	assert.Equal(t, "agent_response", first.Type)

	second := readEnvelope(t, conn)
	assert.Equal(t, "chat_complete", second.Type)
}

func TestChatDispatchErrorSendsErrorEnvelope(t *testing.T) {
	dispatcher := &fakeDispatcher{
		run: func(ctx context.Context, sessionID string, agents []orchestrator.Agent, userMessage string, cfg orchestrator.Config, sink orchestrator.EventSink) (any, error) {
			return nil, assertErr{}
		},
	}
	_, wsURL := startTestServer(t, dispatcher, fakeStatus{})
	conn := dial(t, wsURL, "user1")
	_ = readEnvelope(t, conn)

	chatMsg, _ := json.Marshal(map[string]any{
		"type": "chat",
		"payload": map[string]any{
			"sessionId": "s1",
			"message":   "hi",
			"settings":  map[string]any{"orchestrationStrategy": "parallel"},
		},
	})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, chatMsg))

	env := readEnvelope(t, conn)
	assert.Equal(t, "error", env.Type)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, true, payload["recoverable"])
}

type assertErr struct{}

func (assertErr) Error() string { return "dispatch failed" }

func TestUnknownEnvelopeTypeSendsNonRecoverableError(t *testing.T) {
	_, wsURL := startTestServer(t, &fakeDispatcher{}, fakeStatus{})
	conn := dial(t, wsURL, "user1")
	_ = readEnvelope(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)))

	env := readEnvelope(t, conn)
	assert.Equal(t, "error", env.Type)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, false, payload["recoverable"])
}

func TestGetStatusReportsActiveConversationsAndClients(t *testing.T) {
	dispatcher := &fakeDispatcher{
		run: func(ctx context.Context, sessionID string, agents []orchestrator.Agent, userMessage string, cfg orchestrator.Config, sink orchestrator.EventSink) (any, error) {
			return nil, nil
		},
	}
	_, wsURL := startTestServer(t, dispatcher, fakeStatus{agents: []string{"agent1"}})
	conn := dial(t, wsURL, "user1")
	_ = readEnvelope(t, conn)

	startMsg, _ := json.Marshal(map[string]any{
		"type":    "start-conversation",
		"payload": map[string]any{"sessionId": "s1", "topic": "t", "agents": []map[string]any{{"id": "agent1"}}},
	})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, startMsg))
	startEnv := readEnvelope(t, conn)
	require.Equal(t, "conversation-start", startEnv.Type)

	statusMsg, _ := json.Marshal(map[string]any{"type": "get-status"})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, statusMsg))

	env := readEnvelope(t, conn)
	require.Equal(t, "status", env.Type)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.EqualValues(t, 1, payload["activeConversations"])
	assert.EqualValues(t, 1, payload["connectedClients"])
}

func TestReconnectInheritsPriorSessions(t *testing.T) {
	srv := New(&fakeDispatcher{}, fakeStatus{}, nil)
	ts := httptest.NewServer(http.HandlerFunc(srv.ServeHTTP))
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")

	conn1 := dial(t, wsURL, "userA")
	_ = readEnvelope(t, conn1)

	startMsg, _ := json.Marshal(map[string]any{
		"type":    "start-conversation",
		"payload": map[string]any{"sessionId": "s1", "topic": "t", "agents": []map[string]any{}},
	})
	require.NoError(t, conn1.WriteMessage(websocket.TextMessage, startMsg))
	_ = readEnvelope(t, conn1)
	require.NoError(t, conn1.Close())

	time.Sleep(50 * time.Millisecond)

	conn2 := dial(t, wsURL, "userA")
	env := readEnvelope(t, conn2)
	assert.Equal(t, "connected", env.Type)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, true, payload["isReconnection"])

	statusMsg, _ := json.Marshal(map[string]any{"type": "get-status"})
	require.NoError(t, conn2.WriteMessage(websocket.TextMessage, statusMsg))
	statusEnv := readEnvelope(t, conn2)
	var statusPayload map[string]any
	require.NoError(t, json.Unmarshal(statusEnv.Payload, &statusPayload))
	assert.EqualValues(t, 1, statusPayload["activeConversations"], "reconnecting must inherit the prior connection's session set")
}
