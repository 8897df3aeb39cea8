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

// Package modelmemory holds the per-agent personality state: traits,
// preferences, skills, emotions, and a Q-learning table reinforced by
// observed rewards. Everything here is scoped to one agent; conversation-
// and process-wide state live in pkg/convmemory and pkg/metamemory.
package modelmemory

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

const (
	DefaultLogLimit            = 100
	DefaultStructuredMemoryCap = 500
)

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Trait is a named personality attribute with a confidence in [0,1].
type Trait struct {
	Value      string
	Confidence float64
}

// Preference is a named inclination whose strength moves with
// reinforcement.
type Preference struct {
	Value    string
	Strength float64
	Context  string
}

// Event is one entry in the reward or punishment log.
type Event struct {
	Action    string
	Magnitude float64
	State     string
}

// StructuredEntry is one tagged entry in the bounded structured memory.
type StructuredEntry struct {
	Tag     string
	Content string
}

type stateAction struct {
	state  string
	action string
}

// Memory is one agent's personality and learning state. All exported
// methods are safe for concurrent use.
type Memory struct {
	mu sync.Mutex

	AgentID string

	traits      map[string]Trait
	preferences map[string]Preference
	skills      map[string]struct{}
	emotions    map[string]float64

	qTable map[stateAction]float64

	rewardLog     []Event
	punishmentLog []Event

	structuredMemory []StructuredEntry

	LearningRate    float64
	DiscountFactor  float64
	ExplorationRate float64

	logLimit    int
	structCap   int
	rngCounter  uint64 // deterministic pseudo-random cursor for selectAction exploration
}

// Config seeds the learning-rate triple and truncation bounds. Zero
// values fall back to the documented defaults.
type Config struct {
	LearningRate    float64
	DiscountFactor  float64
	ExplorationRate float64
	LogLimit        int
	StructuredCap   int
}

func New(agentID string, cfg Config) *Memory {
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.1
	}
	if cfg.DiscountFactor == 0 {
		cfg.DiscountFactor = 0.9
	}
	if cfg.LogLimit == 0 {
		cfg.LogLimit = DefaultLogLimit
	}
	if cfg.StructuredCap == 0 {
		cfg.StructuredCap = DefaultStructuredMemoryCap
	}
	return &Memory{
		AgentID:         agentID,
		traits:          make(map[string]Trait),
		preferences:     make(map[string]Preference),
		skills:          make(map[string]struct{}),
		emotions:        make(map[string]float64),
		qTable:          make(map[stateAction]float64),
		LearningRate:    cfg.LearningRate,
		DiscountFactor:  cfg.DiscountFactor,
		ExplorationRate: cfg.ExplorationRate,
		logLimit:        cfg.LogLimit,
		structCap:       cfg.StructuredCap,
	}
}

func (m *Memory) AddTrait(name, value string, confidence float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traits[name] = Trait{Value: value, Confidence: clamp01(confidence)}
}

func (m *Memory) AddPreference(name, value string, strengthDelta float64, context string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.preferences[name]
	m.preferences[name] = Preference{
		Value:    value,
		Strength: clamp01(existing.Strength + strengthDelta),
		Context:  context,
	}
}

func (m *Memory) AddSkill(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skills[name] = struct{}{}
}

// ApplyReinforcement folds an observed reward into the logs, the
// referenced preference (if action names one), the Q-table, and the
// emotion map, exactly per the documented update laws.
func (m *Memory) ApplyReinforcement(action string, reward float64, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev := Event{Action: action, Magnitude: math.Abs(reward), State: state}
	if reward > 0 {
		m.rewardLog = append(m.rewardLog, ev)
		if len(m.rewardLog) > m.logLimit {
			m.rewardLog = m.rewardLog[len(m.rewardLog)-m.logLimit:]
		}
	} else {
		m.punishmentLog = append(m.punishmentLog, ev)
		if len(m.punishmentLog) > m.logLimit {
			m.punishmentLog = m.punishmentLog[len(m.punishmentLog)-m.logLimit:]
		}
	}

	if pref, ok := m.preferences[action]; ok {
		pref.Strength = clamp01(pref.Strength + reward*m.LearningRate)
		m.preferences[action] = pref
	}

	sa := stateAction{state: state, action: action}
	maxNextQ := m.maxQForStateLocked(state)
	oldQ := m.qTable[sa]
	m.qTable[sa] = oldQ + m.LearningRate*(reward+m.DiscountFactor*maxNextQ-oldQ)

	delta := 0.5 * math.Abs(reward)
	emotionToBoost := "satisfaction"
	if reward < 0 {
		emotionToBoost = "frustration"
	}
	for name := range m.emotions {
		if name == emotionToBoost {
			continue
		}
		m.emotions[name] = clamp01(m.emotions[name] * 0.95)
	}
	m.emotions[emotionToBoost] = clamp01(m.emotions[emotionToBoost] + delta)
}

func (m *Memory) maxQForStateLocked(state string) float64 {
	best := 0.0
	found := false
	for sa, q := range m.qTable {
		if sa.state != state {
			continue
		}
		if !found || q > best {
			best = q
			found = true
		}
	}
	return best
}

// SelectAction is epsilon-greedy over the Q-table: with probability
// ExplorationRate pick uniformly from availableActions, otherwise pick the
// argmax action, breaking ties by list order.
func (m *Memory) SelectAction(state string, availableActions []string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(availableActions) == 0 {
		return ""
	}

	if m.explore() {
		idx := int(m.nextCursorLocked() % uint64(len(availableActions)))
		return availableActions[idx]
	}

	best := availableActions[0]
	bestQ := m.qTable[stateAction{state: state, action: best}]
	for _, a := range availableActions[1:] {
		q := m.qTable[stateAction{state: state, action: a}]
		if q > bestQ {
			bestQ = q
			best = a
		}
	}
	return best
}

func (m *Memory) explore() bool {
	if m.ExplorationRate <= 0 {
		return false
	}
	if m.ExplorationRate >= 1 {
		return true
	}
	cursor := m.nextCursorLocked()
	return float64(cursor%10000)/10000.0 < m.ExplorationRate
}

// nextCursorLocked advances a deterministic counter used in place of
// math/rand, so replayed reinforcement histories are reproducible.
func (m *Memory) nextCursorLocked() uint64 {
	m.rngCounter = m.rngCounter*6364136223846793005 + 1442695040888963407
	return m.rngCounter
}

// AppendStructuredMemory appends a tagged entry, truncating the oldest
// entries once structCap is exceeded.
func (m *Memory) AppendStructuredMemory(tag, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.structuredMemory = append(m.structuredMemory, StructuredEntry{Tag: tag, Content: content})
	if len(m.structuredMemory) > m.structCap {
		m.structuredMemory = m.structuredMemory[len(m.structuredMemory)-m.structCap:]
	}
}

// Summary renders a tagged textual snapshot of personality, emotions, and
// learning statistics, suitable for folding into a prompt assembly.
func (m *Memory) Summary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "[traits]\n")
	for _, name := range sortedKeys(m.traits) {
		t := m.traits[name]
		fmt.Fprintf(&b, "  %s=%s (confidence %.2f)\n", name, t.Value, t.Confidence)
	}
	fmt.Fprintf(&b, "[preferences]\n")
	for _, name := range sortedKeysPref(m.preferences) {
		p := m.preferences[name]
		fmt.Fprintf(&b, "  %s=%s (strength %.2f, %s)\n", name, p.Value, p.Strength, p.Context)
	}
	fmt.Fprintf(&b, "[skills]\n")
	skillNames := make([]string, 0, len(m.skills))
	for s := range m.skills {
		skillNames = append(skillNames, s)
	}
	sort.Strings(skillNames)
	for _, s := range skillNames {
		fmt.Fprintf(&b, "  %s\n", s)
	}
	fmt.Fprintf(&b, "[emotions]\n")
	for _, name := range sortedKeysFloat(m.emotions) {
		fmt.Fprintf(&b, "  %s=%.2f\n", name, m.emotions[name])
	}
	fmt.Fprintf(&b, "[learning]\n  rewards=%d punishments=%d qEntries=%d\n",
		len(m.rewardLog), len(m.punishmentLog), len(m.qTable))

	return b.String()
}

func sortedKeys(m map[string]Trait) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeysPref(m map[string]Preference) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeysFloat(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Snapshot is the gob/json-friendly persisted shape of a Memory.
type Snapshot struct {
	AgentID          string
	Traits           map[string]Trait
	Preferences      map[string]Preference
	Skills           []string
	Emotions         map[string]float64
	QTable           map[string]float64 // "state|action" -> value
	RewardLog        []Event
	PunishmentLog    []Event
	StructuredMemory []StructuredEntry
	LearningRate     float64
	DiscountFactor   float64
	ExplorationRate  float64
}

func (m *Memory) ToSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	skills := make([]string, 0, len(m.skills))
	for s := range m.skills {
		skills = append(skills, s)
	}
	sort.Strings(skills)

	qTable := make(map[string]float64, len(m.qTable))
	for sa, v := range m.qTable {
		qTable[sa.state+"|"+sa.action] = v
	}

	return Snapshot{
		AgentID:          m.AgentID,
		Traits:           copyTraits(m.traits),
		Preferences:      copyPreferences(m.preferences),
		Skills:           skills,
		Emotions:         copyFloats(m.emotions),
		QTable:           qTable,
		RewardLog:        append([]Event(nil), m.rewardLog...),
		PunishmentLog:    append([]Event(nil), m.punishmentLog...),
		StructuredMemory: append([]StructuredEntry(nil), m.structuredMemory...),
		LearningRate:     m.LearningRate,
		DiscountFactor:   m.DiscountFactor,
		ExplorationRate:  m.ExplorationRate,
	}
}

func FromSnapshot(s Snapshot, cfg Config) *Memory {
	m := New(s.AgentID, cfg)
	m.traits = copyTraits(s.Traits)
	m.preferences = copyPreferences(s.Preferences)
	for _, sk := range s.Skills {
		m.skills[sk] = struct{}{}
	}
	m.emotions = copyFloats(s.Emotions)
	for key, v := range s.QTable {
		parts := strings.SplitN(key, "|", 2)
		if len(parts) != 2 {
			continue
		}
		m.qTable[stateAction{state: parts[0], action: parts[1]}] = v
	}
	m.rewardLog = append([]Event(nil), s.RewardLog...)
	m.punishmentLog = append([]Event(nil), s.PunishmentLog...)
	m.structuredMemory = append([]StructuredEntry(nil), s.StructuredMemory...)
	m.LearningRate = s.LearningRate
	m.DiscountFactor = s.DiscountFactor
	m.ExplorationRate = s.ExplorationRate
	return m
}

func copyTraits(in map[string]Trait) map[string]Trait {
	out := make(map[string]Trait, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyPreferences(in map[string]Preference) map[string]Preference {
	out := make(map[string]Preference, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyFloats(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
