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

// Package promptassembler builds an agent's final system prompt for a
// turn by concatenating the collective prompt, an optional scenario
// template, and the agent's individual prompt, substituting
// {{placeholder}} tokens from conversation/meta/model memory along the
// way. Assembled prompts are versioned per agent in an append-only
// history.
package promptassembler

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

const MaxPromptLength = 10_000

var placeholderPattern = regexp.MustCompile(`\{\{[a-zA-Z0-9_]+\}\}`)

// Scenario names the orchestrator may select for a turn.
type Scenario string

const (
	ScenarioConsensus     Scenario = "consensus"
	ScenarioCreativity    Scenario = "creativity"
	ScenarioAnalysis      Scenario = "analysis"
	ScenarioLearning      Scenario = "learning"
	ScenarioCollaboration Scenario = "collaboration"
)

// Vars holds every placeholder value assembly might need, keyed by bare
// name (no braces).
type Vars map[string]string

func interpolate(template string, vars Vars) string {
	out := placeholderPattern.ReplaceAllStringFunc(template, func(tok string) string {
		name := tok[2 : len(tok)-2]
		if v, ok := vars[name]; ok {
			return v
		}
		return ""
	})
	return out
}

// HistoryEntry is one append-only record of an assembled prompt.
type HistoryEntry struct {
	Version int
	Prompt  string
}

// Assembler builds and versions prompts per agent.
type Assembler struct {
	mu sync.Mutex

	collectiveTemplate string
	scenarioTemplates  map[Scenario]string

	history map[string][]HistoryEntry // agentID -> versions
}

func New(collectiveTemplate string, scenarioTemplates map[Scenario]string) *Assembler {
	return &Assembler{
		collectiveTemplate: collectiveTemplate,
		scenarioTemplates:  scenarioTemplates,
		history:            make(map[string][]HistoryEntry),
	}
}

// IndividualPrompt is the per-agent template plus the values pulled from
// that agent's Model Memory.
type IndividualPrompt struct {
	Template string
	Vars     Vars
}

// Assemble builds the final prompt for agentID: collective, then an
// optional scenario, then the individual prompt, each interpolated with
// its own variable set, concatenated with blank-line separators.
func (a *Assembler) Assemble(agentID string, collectiveVars Vars, scenario Scenario, individual IndividualPrompt) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var sections []string

	sections = append(sections, strings.TrimSpace(interpolate(a.collectiveTemplate, collectiveVars)))

	if scenario != "" {
		if tmpl, ok := a.scenarioTemplates[scenario]; ok {
			sections = append(sections, strings.TrimSpace(tmpl))
		}
	}

	sections = append(sections, strings.TrimSpace(interpolate(individual.Template, individual.Vars)))

	final := strings.TrimSpace(strings.Join(sections, "\n\n"))

	if err := validate(final); err != nil {
		return "", err
	}

	final = stripResidualPlaceholders(final)

	version := len(a.history[agentID]) + 1
	a.history[agentID] = append(a.history[agentID], HistoryEntry{Version: version, Prompt: final})

	return final, nil
}

func stripResidualPlaceholders(s string) string {
	return placeholderPattern.ReplaceAllString(s, "")
}

func validate(prompt string) error {
	if len(prompt) > MaxPromptLength {
		return fmt.Errorf("assembled prompt exceeds %d characters (%d)", MaxPromptLength, len(prompt))
	}
	if placeholderPattern.MatchString(prompt) {
		return fmt.Errorf("assembled prompt still contains unfilled placeholders")
	}
	return nil
}

// History returns the append-only version history for an agent.
func (a *Assembler) History(agentID string) []HistoryEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]HistoryEntry(nil), a.history[agentID]...)
}
