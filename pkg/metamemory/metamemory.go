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

// Package metamemory holds process-wide state shared across every agent
// and session: the user profile, goals, shared facts/concepts/decisions,
// and a running effectiveness score.
package metamemory

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Profile is the merged user profile. Patch fields are merged in,
// never replaced wholesale.
type Profile struct {
	Preferences map[string]string
	Goals       []string
	Highlights  []string
	Context     map[string]string
}

// ProfilePatch is what callers pass to UpdateUserProfile; nil maps/slices
// are treated as "nothing to merge" for that field.
type ProfilePatch struct {
	Preferences map[string]string
	Goals       []string
	Highlights  []string
	Context     map[string]string
}

// GoalScope distinguishes short-lived from standing goals.
type GoalScope string

const (
	ScopeShortTerm GoalScope = "shortTerm"
	ScopeLongTerm  GoalScope = "longTerm"
)

type Goal struct {
	ID          string
	Text        string
	Scope       GoalScope
	Progress    float64
	CreatedAt   time.Time
	CompletedAt *time.Time
}

type SharedFact struct {
	Text       string
	Confidence float64
	Sources    []string
	CreatedAt  time.Time
}

type SharedConcept struct {
	Name      string
	Def       string
	Examples  []string
	CreatedAt time.Time
}

type Decision struct {
	Text         string
	Participants []string
	Reasoning    string
	CreatedAt    time.Time
}

// EffectivenessInputs are the three weighted terms fed into the EMA.
type EffectivenessInputs struct {
	ConsensusRate         float64
	GoalProgress          float64
	ParticipationBalance  float64
}

// Memory is the single process-wide meta-memory instance.
type Memory struct {
	mu sync.Mutex

	profile Profile

	activeGoals    map[string]*Goal
	completedGoals []*Goal

	sharedFacts    []SharedFact
	sharedConcepts []SharedConcept
	decisions      []Decision

	effectiveness float64
}

func New() *Memory {
	return &Memory{
		profile: Profile{
			Preferences: make(map[string]string),
			Context:     make(map[string]string),
		},
		activeGoals: make(map[string]*Goal),
	}
}

// UpdateUserProfile merges preferences and context shallowly (patch keys
// win), and appends goals/highlights.
func (m *Memory) UpdateUserProfile(patch ProfilePatch) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range patch.Preferences {
		m.profile.Preferences[k] = v
	}
	for k, v := range patch.Context {
		m.profile.Context[k] = v
	}
	m.profile.Goals = append(m.profile.Goals, patch.Goals...)
	m.profile.Highlights = append(m.profile.Highlights, patch.Highlights...)
}

func (m *Memory) Profile() Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Profile{
		Preferences: copyStrMap(m.profile.Preferences),
		Goals:       append([]string(nil), m.profile.Goals...),
		Highlights:  append([]string(nil), m.profile.Highlights...),
		Context:     copyStrMap(m.profile.Context),
	}
}

func copyStrMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// AddGoal registers a new active goal at zero progress and returns its id.
func (m *Memory) AddGoal(text string, scope GoalScope) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	m.activeGoals[id] = &Goal{ID: id, Text: text, Scope: scope, CreatedAt: time.Now()}
	return id
}

// UpdateGoalProgress clamps percent to [0,100]. At 100, the goal moves
// from active to completed and is stamped with a completion time.
func (m *Memory) UpdateGoalProgress(id string, percent float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.activeGoals[id]
	if !ok {
		return fmt.Errorf("unknown goal %q", id)
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	g.Progress = percent

	if percent >= 100 {
		now := time.Now()
		g.CompletedAt = &now
		delete(m.activeGoals, id)
		m.completedGoals = append(m.completedGoals, g)
	}
	return nil
}

func (m *Memory) ActiveGoals() []Goal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Goal, 0, len(m.activeGoals))
	for _, g := range m.activeGoals {
		out = append(out, *g)
	}
	return out
}

func (m *Memory) CompletedGoals() []Goal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Goal, len(m.completedGoals))
	for i, g := range m.completedGoals {
		out[i] = *g
	}
	return out
}

func (m *Memory) AddSharedFact(text string, confidence float64, sources []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sharedFacts = append(m.sharedFacts, SharedFact{Text: text, Confidence: confidence, Sources: sources, CreatedAt: time.Now()})
}

func (m *Memory) AddSharedConcept(name, def string, examples []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sharedConcepts = append(m.sharedConcepts, SharedConcept{Name: name, Def: def, Examples: examples, CreatedAt: time.Now()})
}

func (m *Memory) AddDecision(text string, participants []string, reasoning string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, Decision{Text: text, Participants: participants, Reasoning: reasoning, CreatedAt: time.Now()})
}

func (m *Memory) SharedFacts() []SharedFact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SharedFact(nil), m.sharedFacts...)
}

// UpdateEffectiveness computes a weighted score from the three inputs and
// blends it into the running EMA: 0.7 old + 0.3 new.
func (m *Memory) UpdateEffectiveness(in EffectivenessInputs) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	score := 0.3*in.ConsensusRate + 0.4*in.GoalProgress + 0.3*in.ParticipationBalance
	m.effectiveness = 0.7*m.effectiveness + 0.3*score
	return m.effectiveness
}

func (m *Memory) Effectiveness() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.effectiveness
}

// Snapshot is the JSON-friendly persisted shape of a Memory.
type Snapshot struct {
	Profile        Profile
	ActiveGoals    []Goal
	CompletedGoals []Goal
	SharedFacts    []SharedFact
	SharedConcepts []SharedConcept
	Decisions      []Decision
	Effectiveness  float64
}

func (m *Memory) ToSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := make([]Goal, 0, len(m.activeGoals))
	for _, g := range m.activeGoals {
		active = append(active, *g)
	}

	return Snapshot{
		Profile: Profile{
			Preferences: copyStrMap(m.profile.Preferences),
			Goals:       append([]string(nil), m.profile.Goals...),
			Highlights:  append([]string(nil), m.profile.Highlights...),
			Context:     copyStrMap(m.profile.Context),
		},
		ActiveGoals:    active,
		CompletedGoals: append([]Goal(nil), toValues(m.completedGoals)...),
		SharedFacts:    append([]SharedFact(nil), m.sharedFacts...),
		SharedConcepts: append([]SharedConcept(nil), m.sharedConcepts...),
		Decisions:      append([]Decision(nil), m.decisions...),
		Effectiveness:  m.effectiveness,
	}
}

func toValues(goals []*Goal) []Goal {
	out := make([]Goal, len(goals))
	for i, g := range goals {
		out[i] = *g
	}
	return out
}

// FromSnapshot rebuilds a Memory from a previously saved Snapshot.
func FromSnapshot(s Snapshot) *Memory {
	m := New()
	m.profile = s.Profile
	if m.profile.Preferences == nil {
		m.profile.Preferences = make(map[string]string)
	}
	if m.profile.Context == nil {
		m.profile.Context = make(map[string]string)
	}
	for _, g := range s.ActiveGoals {
		g := g
		m.activeGoals[g.ID] = &g
	}
	m.completedGoals = make([]*Goal, len(s.CompletedGoals))
	for i, g := range s.CompletedGoals {
		g := g
		m.completedGoals[i] = &g
	}
	m.sharedFacts = append([]SharedFact(nil), s.SharedFacts...)
	m.sharedConcepts = append([]SharedConcept(nil), s.SharedConcepts...)
	m.decisions = append([]Decision(nil), s.Decisions...)
	m.effectiveness = s.Effectiveness
	return m
}
