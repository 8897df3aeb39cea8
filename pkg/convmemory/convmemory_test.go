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
package convmemory

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddMessageTracksParticipants(t *testing.T) {
	m := New("session1", nil)
	m.AddMessage("alice", "hello there")
	m.AddMessage("alice", "hello again")
	m.AddMessage("bob", "hi")

	participants := m.Participants()
	assert.Equal(t, 2, participants["alice"].MessageCount)
	assert.Equal(t, 1, participants["bob"].MessageCount)
}

func TestParticipantsAttributeTopicsAndHashtagsPerAgent(t *testing.T) {
	m := New("session1", nil)
	m.AddMessage("alice", "let's talk about #golang")
	m.AddMessage("bob", "I want to discuss database migrations today")
	m.AddMessage("bob", "still on #golang though")

	participants := m.Participants()

	alice := participants["alice"]
	assert.Equal(t, 1, alice.Hashtags["golang"])
	assert.Empty(t, alice.Topics)

	bob := participants["bob"]
	assert.Equal(t, 1, bob.Topics["database migrations"])
	assert.Equal(t, 1, bob.Hashtags["golang"])
	assert.Equal(t, 2, bob.MessageCount)
}

func TestAddMessageExtractsHashtagTopics(t *testing.T) {
	m := New("session1", nil)
	m.AddMessage("alice", "let's talk about #golang and #testing")

	topics := m.Topics()
	_, hasGo := topics["golang"]
	_, hasTest := topics["testing"]
	assert.True(t, hasGo)
	assert.True(t, hasTest)
}

func TestAddMessageExtractsCuedTopics(t *testing.T) {
	m := New("session1", nil)
	m.AddMessage("alice", "I want to discuss database migrations today")

	topics := m.Topics()
	_, ok := topics["database migrations"]
	assert.True(t, ok)
}

func TestAddMessageExtractsCapitalizedBigrams(t *testing.T) {
	m := New("session1", nil)
	m.AddMessage("alice", "We should use Apache Kafka for this")

	topics := m.Topics()
	_, ok := topics["apache_kafka"]
	assert.True(t, ok)
}

func TestContextWindowIsBoundedToDefaultLimit(t *testing.T) {
	m := New("session1", nil)
	for i := 0; i < DefaultContextWindow+5; i++ {
		m.AddMessage("alice", fmt.Sprintf("message %d", i))
	}

	ctx := m.GetContext(0)
	assert.Len(t, ctx.Window, DefaultContextWindow)
	assert.Equal(t, fmt.Sprintf("message %d", DefaultContextWindow+4), ctx.Window[len(ctx.Window)-1].Text)
}

func TestGetContextRespectsSmallerLimit(t *testing.T) {
	m := New("session1", nil)
	for i := 0; i < 10; i++ {
		m.AddMessage("alice", fmt.Sprintf("message %d", i))
	}

	ctx := m.GetContext(3)
	require.Len(t, ctx.Window, 3)
	assert.Equal(t, "message 9", ctx.Window[2].Text)
}

func TestShouldAvoidTopicAfterRepeatedMentions(t *testing.T) {
	m := New("session1", nil)
	assert.False(t, m.ShouldAvoidTopic("golang"))

	for i := 0; i < 4; i++ {
		m.AddMessage("alice", "let's talk about #golang")
	}

	assert.True(t, m.ShouldAvoidTopic("golang"), "a topic raised more than 3 times must be flagged even below the depth threshold")
}

func TestShouldAvoidTopicIsCaseInsensitive(t *testing.T) {
	m := New("session1", nil)
	for i := 0; i < 4; i++ {
		m.AddMessage("alice", "let's talk about #Golang")
	}
	assert.True(t, m.ShouldAvoidTopic("GOLANG"))
}

func TestTopicDepthAccumulatesAndCaps(t *testing.T) {
	m := New("session1", nil)
	for i := 0; i < 50; i++ {
		m.AddMessage("alice", "let's talk about #golang")
	}

	topics := m.Topics()
	topic := topics["golang"]
	assert.Equal(t, 50, topic.Count)
	assert.LessOrEqual(t, topic.Depth, 5.0)
}

func TestAvoidedTopicsSurfaceInContext(t *testing.T) {
	m := New("session1", nil)
	for i := 0; i < 50; i++ {
		m.AddMessage("alice", "let's talk about #golang")
	}

	ctx := m.GetContext(0)
	assert.Contains(t, ctx.AvoidedTopics, "golang")
}
