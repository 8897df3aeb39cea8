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

// Package convmemory tracks one session's conversation timeline:
// participants, topics with rising depth, a bounded recent-context
// window, and the topics the session has learned to avoid.
package convmemory

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultContextWindow = 20

var (
	hashtagPattern = regexp.MustCompile(`#(\w+)`)
	topicCuePattern = regexp.MustCompile(`(?i)\b(?:about|regarding|discuss|explore)\s+([a-zA-Z][\w-]*(?:\s+[a-zA-Z][\w-]*)?)`)
	capBigramPattern = regexp.MustCompile(`\b([A-Z][a-zA-Z]+)\s+([A-Z][a-zA-Z]+)\b`)
)

// Entry is one message appended to the timeline.
type Entry struct {
	AgentID   string
	Text      string
	Timestamp time.Time
}

// Topic tracks how often and how deeply a subject has come up.
type Topic struct {
	Count     int
	Depth     float64
	FirstSeen time.Time
	LastSeen  time.Time
}

// ParticipantStats is one agent's contribution to the session: how many
// messages it has sent and which topics/hashtags it has personally raised,
// each keyed by name with the count of times that agent raised it.
type ParticipantStats struct {
	MessageCount int
	Topics       map[string]int
	Hashtags     map[string]int
}

// Memory holds one session's conversational state.
type Memory struct {
	mu sync.Mutex

	SessionID string
	logger    *zap.Logger

	timeline      []Entry
	contextWindow []Entry
	participants  map[string]*ParticipantStats
	topics        map[string]*Topic
	avoidedTopics map[string]struct{}

	contextWindowLimit int
}

func New(sessionID string, logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		SessionID:          sessionID,
		logger:             logger,
		participants:       make(map[string]*ParticipantStats),
		topics:             make(map[string]*Topic),
		avoidedTopics:      make(map[string]struct{}),
		contextWindowLimit: DefaultContextWindow,
	}
}

// AddMessage extracts hashtags and topics from text, updates participant
// and topic bookkeeping, appends to the timeline and bounded context
// window, and recomputes the avoided-topic set.
func (m *Memory) AddMessage(agentID, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	entry := Entry{AgentID: agentID, Text: text, Timestamp: now}

	stats, ok := m.participants[agentID]
	if !ok {
		stats = &ParticipantStats{Topics: make(map[string]int), Hashtags: make(map[string]int)}
		m.participants[agentID] = stats
	}
	stats.MessageCount++

	hashtags := extractHashtags(text)
	cued := extractCuedTopics(text)
	for _, tag := range hashtags {
		stats.Hashtags[tag]++
	}
	for _, topic := range cued {
		stats.Topics[topic]++
	}

	for _, topic := range append(append([]string{}, hashtags...), cued...) {
		t, ok := m.topics[topic]
		if !ok {
			t = &Topic{FirstSeen: now}
			m.topics[topic] = t
		}
		t.Count++
		t.LastSeen = now
		t.Depth = min(5, t.Depth+0.2)
	}

	m.timeline = append(m.timeline, entry)

	m.contextWindow = append(m.contextWindow, entry)
	if len(m.contextWindow) > m.contextWindowLimit {
		m.contextWindow = m.contextWindow[len(m.contextWindow)-m.contextWindowLimit:]
	}

	for topic, t := range m.topics {
		if t.Count > 5 && t.Depth > 3 {
			m.avoidedTopics[topic] = struct{}{}
		}
	}

	m.logger.Debug("conversation_message_added",
		zap.String("session_id", m.SessionID),
		zap.String("agent_id", agentID),
		zap.Int("timeline_len", len(m.timeline)))
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// extractHashtags pulls "#word" hashtags out of a message, lowercased.
func extractHashtags(text string) []string {
	var tags []string
	for _, m := range hashtagPattern.FindAllStringSubmatch(text, -1) {
		tags = append(tags, strings.ToLower(m[1]))
	}
	return tags
}

// extractCuedTopics pulls cued topics ("about X", "discuss Y") and
// capitalized bigrams (normalized to snake_case) out of a message. Unlike
// hashtags, these aren't explicitly marked by the speaker — they're inferred
// from phrasing.
func extractCuedTopics(text string) []string {
	var topics []string

	for _, m := range topicCuePattern.FindAllStringSubmatch(text, -1) {
		topics = append(topics, strings.ToLower(strings.TrimSpace(m[1])))
	}

	for _, m := range capBigramPattern.FindAllStringSubmatch(text, -1) {
		topics = append(topics, strings.ToLower(m[1])+"_"+strings.ToLower(m[2]))
	}

	return topics
}

// extractTopics pulls hashtags, cued topics, and capitalized bigrams out of
// a message in one combined list, for callers that don't need the two
// extraction methods kept separate.
func extractTopics(text string) []string {
	return append(extractHashtags(text), extractCuedTopics(text)...)
}

// ShouldAvoidTopic reports true if topic is in the cumulative avoided set
// or has individually been raised more than 3 times, even if its depth
// hasn't crossed the threshold that would add it to avoidedTopics.
func (m *Memory) ShouldAvoidTopic(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(topic)
	if _, avoided := m.avoidedTopics[key]; avoided {
		return true
	}
	if t, ok := m.topics[key]; ok && t.Count > 3 {
		return true
	}
	return false
}

// Context is the snapshot GetContext returns: recent window entries,
// topics still active within the last 5 minutes, and the avoided set.
type Context struct {
	Window        []Entry
	RecentTopics  map[string]Topic
	AvoidedTopics []string
}

// GetContext returns up to limit of the most recent context-window
// entries (oldest first), the topics last seen within 5 minutes, and the
// current avoided-topic set.
func (m *Memory) GetContext(limit int) Context {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.contextWindow) {
		limit = len(m.contextWindow)
	}
	start := len(m.contextWindow) - limit
	window := make([]Entry, limit)
	copy(window, m.contextWindow[start:])

	cutoff := time.Now().Add(-5 * time.Minute)
	recent := make(map[string]Topic)
	for name, t := range m.topics {
		if t.LastSeen.After(cutoff) {
			recent[name] = *t
		}
	}

	avoided := make([]string, 0, len(m.avoidedTopics))
	for t := range m.avoidedTopics {
		avoided = append(avoided, t)
	}

	return Context{Window: window, RecentTopics: recent, AvoidedTopics: avoided}
}

// Participants returns a copy of each agent's message count and the
// topics/hashtags it has personally raised.
func (m *Memory) Participants() map[string]ParticipantStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]ParticipantStats, len(m.participants))
	for k, v := range m.participants {
		topics := make(map[string]int, len(v.Topics))
		for t, c := range v.Topics {
			topics[t] = c
		}
		hashtags := make(map[string]int, len(v.Hashtags))
		for t, c := range v.Hashtags {
			hashtags[t] = c
		}
		out[k] = ParticipantStats{MessageCount: v.MessageCount, Topics: topics, Hashtags: hashtags}
	}
	return out
}

// Topics returns a copy of the topic table.
func (m *Memory) Topics() map[string]Topic {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Topic, len(m.topics))
	for k, v := range m.topics {
		out[k] = *v
	}
	return out
}
