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
package modelmemory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddTraitClampsConfidence(t *testing.T) {
	m := New("agent1", Config{})
	m.AddTrait("curiosity", "high", 1.5)
	m.AddTrait("patience", "low", -0.5)

	summary := m.Summary()
	assert.Contains(t, summary, "curiosity=high (confidence 1.00)")
	assert.Contains(t, summary, "patience=low (confidence 0.00)")
}

func TestAddPreferenceAccumulatesStrength(t *testing.T) {
	m := New("agent1", Config{})
	m.AddPreference("verbosity", "concise", 0.3, "code review")
	m.AddPreference("verbosity", "concise", 0.3, "code review")

	summary := m.Summary()
	assert.Contains(t, summary, "verbosity=concise (strength 0.60, code review)")
}

func TestApplyReinforcementPositiveRewardLogsAndBoostsSatisfaction(t *testing.T) {
	m := New("agent1", Config{LearningRate: 0.5, DiscountFactor: 0.9})
	m.AddPreference("helpfulness", "proactive", 0, "")

	m.ApplyReinforcement("helpfulness", 1.0, "stateA")

	snap := m.ToSnapshot()
	require.Len(t, snap.RewardLog, 1)
	assert.Empty(t, snap.PunishmentLog)
	assert.InDelta(t, 0.5, snap.Preferences["helpfulness"].Strength, 1e-9)
	assert.InDelta(t, 0.5, snap.Emotions["satisfaction"], 1e-9)
}

func TestApplyReinforcementNegativeRewardLogsAndBoostsFrustration(t *testing.T) {
	m := New("agent1", Config{LearningRate: 0.5})
	m.ApplyReinforcement("retry", -1.0, "stateA")

	snap := m.ToSnapshot()
	assert.Empty(t, snap.RewardLog)
	require.Len(t, snap.PunishmentLog, 1)
	assert.InDelta(t, 1.0, snap.PunishmentLog[0].Magnitude, 1e-9)
	assert.InDelta(t, 0.5, snap.Emotions["frustration"], 1e-9)
}

func TestApplyReinforcementUpdatesQTable(t *testing.T) {
	m := New("agent1", Config{LearningRate: 0.5, DiscountFactor: 0.9})
	m.ApplyReinforcement("act1", 1.0, "stateA")

	snap := m.ToSnapshot()
	q, ok := snap.QTable["stateA|act1"]
	require.True(t, ok)
	assert.InDelta(t, 0.5, q, 1e-9, "first update from zero: oldQ=0, newQ = 0 + 0.5*(1+0.9*0-0) = 0.5")
}

func TestRewardLogTruncatesAtLogLimit(t *testing.T) {
	m := New("agent1", Config{LogLimit: 3})
	for i := 0; i < 5; i++ {
		m.ApplyReinforcement("act", 1.0, "s")
	}
	snap := m.ToSnapshot()
	assert.Len(t, snap.RewardLog, 3)
}

func TestSelectActionIsGreedyWhenExplorationDisabled(t *testing.T) {
	// A zero DiscountFactor falls back to the 0.9 default, which would lift
	// Q(bad) to 1+0.9*10 = 10 and tie it with Q(good); 0.1 keeps it at 2.
	m := New("agent1", Config{LearningRate: 1, DiscountFactor: 0.1, ExplorationRate: 0})
	m.ApplyReinforcement("good", 10, "stateA")
	m.ApplyReinforcement("bad", 1, "stateA")

	got := m.SelectAction("stateA", []string{"bad", "good", "neutral"})
	assert.Equal(t, "good", got)
}

func TestSelectActionBreaksTiesByListOrder(t *testing.T) {
	m := New("agent1", Config{ExplorationRate: 0})
	got := m.SelectAction("unseen-state", []string{"first", "second"})
	assert.Equal(t, "first", got)
}

func TestSelectActionEmptyActionsReturnsEmptyString(t *testing.T) {
	m := New("agent1", Config{})
	assert.Equal(t, "", m.SelectAction("s", nil))
}

func TestSelectActionAlwaysExploresWhenRateIsOne(t *testing.T) {
	m := New("agent1", Config{ExplorationRate: 1})
	m.ApplyReinforcement("good", 10, "stateA")
	m.ApplyReinforcement("bad", 1, "stateA")

	actions := []string{"bad", "good"}
	seenBad, seenGood := false, false
	for i := 0; i < 50; i++ {
		switch m.SelectAction("stateA", actions) {
		case "bad":
			seenBad = true
		case "good":
			seenGood = true
		}
	}
	assert.True(t, seenBad && seenGood, "exploration rate of 1 must eventually sample every action")
}

func TestAppendStructuredMemoryTruncatesAtCap(t *testing.T) {
	m := New("agent1", Config{StructuredCap: 2})
	m.AppendStructuredMemory("note", "first")
	m.AppendStructuredMemory("note", "second")
	m.AppendStructuredMemory("note", "third")

	snap := m.ToSnapshot()
	require.Len(t, snap.StructuredMemory, 2)
	assert.Equal(t, "second", snap.StructuredMemory[0].Content)
	assert.Equal(t, "third", snap.StructuredMemory[1].Content)
}

func TestSummaryListsSkillsSorted(t *testing.T) {
	m := New("agent1", Config{})
	m.AddSkill("zebra-taming")
	m.AddSkill("apple-picking")

	summary := m.Summary()
	appleIdx := strings.Index(summary, "apple-picking")
	zebraIdx := strings.Index(summary, "zebra-taming")
	require.NotEqual(t, -1, appleIdx)
	require.NotEqual(t, -1, zebraIdx)
	assert.Less(t, appleIdx, zebraIdx)
}

func TestSnapshotRoundTripsQTableAndLogs(t *testing.T) {
	m := New("agent1", Config{LearningRate: 0.5, DiscountFactor: 0.9})
	m.AddTrait("curiosity", "high", 0.8)
	m.AddSkill("go")
	m.ApplyReinforcement("act1", 1.0, "stateA")
	m.AppendStructuredMemory("note", "content")

	snap := m.ToSnapshot()
	restored := FromSnapshot(snap, Config{LearningRate: 0.5, DiscountFactor: 0.9})

	assert.Equal(t, snap, restored.ToSnapshot())
}

func TestFromSnapshotSkipsMalformedQTableKeys(t *testing.T) {
	snap := Snapshot{
		AgentID: "agent1",
		QTable:  map[string]float64{"malformed-without-separator": 1.0, "stateA|act1": 2.0},
	}
	restored := FromSnapshot(snap, Config{})

	got := restored.ToSnapshot()
	assert.Len(t, got.QTable, 1)
	assert.Equal(t, 2.0, got.QTable["stateA|act1"])
}
