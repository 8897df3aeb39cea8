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
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dr-jd-allen/axon/pkg/axonerr"
	"github.com/dr-jd-allen/axon/pkg/metamemory"
	"github.com/dr-jd-allen/axon/pkg/providers"
)

// fakeCaller maps an agent ID to a scripted reply function, so each test
// can give distinct agents distinct canned behavior.
type fakeCaller struct {
	mu      sync.Mutex
	byAgent map[string]func(ctx context.Context, messages []providers.Message) (*providers.LLMResponse, error)
	calls   int32
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{byAgent: make(map[string]func(context.Context, []providers.Message) (*providers.LLMResponse, error))}
}

func (f *fakeCaller) on(agentID string, fn func(ctx context.Context, messages []providers.Message) (*providers.LLMResponse, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byAgent[agentID] = fn
}

func (f *fakeCaller) Call(ctx context.Context, agent Agent, messages []providers.Message) (*providers.LLMResponse, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	fn, ok := f.byAgent[agent.ID]
	f.mu.Unlock()
	if !ok {
		return textResponse("unscripted"), nil
	}
	return fn(ctx, messages)
}

func textResponse(text string) *providers.LLMResponse {
	return &providers.LLMResponse{
		Message: providers.Message{Role: providers.RoleAssistant, Content: []providers.ContentBlock{{Type: "text", Text: text}}},
	}
}

func agent(id string) Agent { return Agent{ID: id, Name: id} }

func TestRunParallelIsolatesFailures(t *testing.T) {
	caller := newFakeCaller()
	caller.on("a", func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
		return textResponse("from a"), nil
	})
	caller.on("b", func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
		return nil, errors.New("boom")
	})

	o := New(caller, nil, nil)
	result, err := o.Run(context.Background(), "session1", []Agent{agent("a"), agent("b")}, "hi", Config{Strategy: StrategyParallel}, nil)
	require.NoError(t, err)

	outcomes, ok := result.([]AgentOutcome)
	require.True(t, ok)
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Success)
	assert.False(t, outcomes[1].Success)
}

func TestRunParallelEmitsEventsPerAgent(t *testing.T) {
	caller := newFakeCaller()
	caller.on("a", func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
		return textResponse("ok"), nil
	})

	var events []Event
	var mu sync.Mutex
	sink := func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}

	o := New(caller, nil, nil)
	_, err := o.Run(context.Background(), "s", []Agent{agent("a")}, "hi", Config{Strategy: StrategyParallel}, sink)
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, "agent_response", events[0].Type)
	assert.Equal(t, "a", events[0].AgentID)
}

func TestRunSequentialFeedsPriorTurnsForward(t *testing.T) {
	var secondCallMessages []providers.Message
	caller := newFakeCaller()
	caller.on("a", func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
		return textResponse("a said hi"), nil
	})
	caller.on("b", func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
		secondCallMessages = m
		return textResponse("b replied"), nil
	})

	o := New(caller, nil, nil)
	result, err := o.Run(context.Background(), "s", []Agent{agent("a"), agent("b")}, "hi", Config{Strategy: StrategySequential}, nil)
	require.NoError(t, err)

	outcomes := result.([]AgentOutcome)
	require.Len(t, outcomes, 2)
	require.Len(t, secondCallMessages, 2, "agent b must see the user turn plus a's tagged reply")
	assert.Contains(t, secondCallMessages[1].Text(), "[a]:")
	assert.Contains(t, secondCallMessages[1].Text(), "a said hi")
}

func TestRunSequentialBreaksOnErrorWhenConfigured(t *testing.T) {
	caller := newFakeCaller()
	caller.on("a", func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
		return nil, errors.New("a failed")
	})
	caller.on("b", func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
		return textResponse("b should not run"), nil
	})

	o := New(caller, nil, nil)
	result, err := o.Run(context.Background(), "s", []Agent{agent("a"), agent("b")}, "hi", Config{Strategy: StrategySequential, BreakOnError: true}, nil)
	require.NoError(t, err)

	outcomes := result.([]AgentOutcome)
	require.Len(t, outcomes, 1, "b must never run once a fails with BreakOnError set")
	assert.False(t, outcomes[0].Success)
}

func TestRunSequentialContinuesPastErrorByDefault(t *testing.T) {
	caller := newFakeCaller()
	caller.on("a", func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
		return nil, errors.New("a failed")
	})
	caller.on("b", func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
		return textResponse("b ran anyway"), nil
	})

	o := New(caller, nil, nil)
	result, err := o.Run(context.Background(), "s", []Agent{agent("a"), agent("b")}, "hi", Config{Strategy: StrategySequential}, nil)
	require.NoError(t, err)

	outcomes := result.([]AgentOutcome)
	require.Len(t, outcomes, 2)
	assert.False(t, outcomes[0].Success)
	assert.True(t, outcomes[1].Success)
}

func TestRunPipelineChainsOutputToNextInput(t *testing.T) {
	var stage2Input string
	caller := newFakeCaller()
	caller.on("stage1", func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
		return textResponse("stage1 output"), nil
	})
	caller.on("stage2", func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
		stage2Input = m[0].Text()
		return textResponse("stage2 output"), nil
	})

	o := New(caller, nil, nil)
	result, err := o.Run(context.Background(), "s", []Agent{agent("stage1"), agent("stage2")}, "seed", Config{Strategy: StrategyPipeline}, nil)
	require.NoError(t, err)

	pr := result.(PipelineResult)
	require.Len(t, pr.Stages, 2)
	assert.Equal(t, "seed", pr.Stages[0].Input)
	assert.Equal(t, "stage1 output", stage2Input)
	assert.Equal(t, "stage2 output", pr.FinalOutput)
}

func TestRunPipelineStopsOnErrorWhenConfigured(t *testing.T) {
	caller := newFakeCaller()
	caller.on("stage1", func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
		return textResponse("ok"), nil
	})
	caller.on("stage2", func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
		return nil, errors.New("stage2 failed")
	})
	caller.on("stage3", func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
		return textResponse("should not run"), nil
	})

	o := New(caller, nil, nil)
	result, err := o.Run(context.Background(), "s", []Agent{agent("stage1"), agent("stage2"), agent("stage3")}, "seed", Config{Strategy: StrategyPipeline, BreakOnError: true}, nil)
	require.NoError(t, err)

	pr := result.(PipelineResult)
	require.Len(t, pr.Stages, 2, "stage3 must never run once stage2 fails with BreakOnError set")
	assert.Equal(t, "ok", pr.FinalOutput, "final output falls back to the last successful stage")
}

func TestRunCompetitiveReturnsFirstSuccess(t *testing.T) {
	caller := newFakeCaller()
	caller.on("slow", func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
		}
		return textResponse("slow"), nil
	})
	caller.on("fast", func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
		return textResponse("fast"), nil
	})

	o := New(caller, nil, nil)
	result, err := o.Run(context.Background(), "s", []Agent{agent("slow"), agent("fast")}, "hi", Config{Strategy: StrategyCompetitive, CompetitiveTimeout: time.Second}, nil)
	require.NoError(t, err)

	outcome := result.(AgentOutcome)
	assert.Equal(t, "fast", outcome.Agent.ID)
	assert.True(t, outcome.Success)
}

func TestRunCompetitiveTimesOutWhenNoneSucceed(t *testing.T) {
	caller := newFakeCaller()
	caller.on("a", func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	o := New(caller, nil, nil)
	_, err := o.Run(context.Background(), "s", []Agent{agent("a")}, "hi", Config{Strategy: StrategyCompetitive, CompetitiveTimeout: 20 * time.Millisecond}, nil)
	require.Error(t, err)

	var classified *axonerr.ClassifiedError
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, axonerr.KindCompetitiveTimeout, classified.Kind)
}

func TestRunConsensusReachedOnEarlyAgreement(t *testing.T) {
	caller := newFakeCaller()
	for _, id := range []string{"a", "b", "c"} {
		caller.on(id, func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
			return textResponse("I agree with the consensus view here."), nil
		})
	}

	o := New(caller, nil, nil)
	result, err := o.Run(context.Background(), "s", []Agent{agent("a"), agent("b"), agent("c")}, "what do you think?", Config{Strategy: StrategyConsensus}, nil)
	require.NoError(t, err)

	cr := result.(ConsensusResult)
	assert.True(t, cr.Reached)
	assert.Equal(t, 1.0, cr.Confidence)
}

// TestRunConsensusRecordsSharedFactsOnFrequencyAgreement drives runConsensus
// past the early-agreement shortcut (no agreement phrases in any response)
// and into the frequency-counted key-point path: three of five agents give
// the exact same substantive sentence, crossing the ceil(0.6*successful)
// threshold, while the other two diverge.
func TestRunConsensusRecordsSharedFactsOnFrequencyAgreement(t *testing.T) {
	shared := "Performance bottlenecks stem from unindexed database queries."
	caller := newFakeCaller()
	for _, id := range []string{"a", "b", "c"} {
		caller.on(id, func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
			return textResponse(shared), nil
		})
	}
	caller.on("d", func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
		return textResponse("Caching would reduce the load on the primary replica."), nil
	})
	caller.on("e", func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
		return textResponse("Horizontal sharding is worth investigating further."), nil
	})

	meta := metamemory.New()
	o := New(caller, meta, nil)
	result, err := o.Run(context.Background(), "s", []Agent{agent("a"), agent("b"), agent("c"), agent("d"), agent("e")}, "why is the service slow?", Config{Strategy: StrategyConsensus, ConsensusThreshold: 0.6, MaxConsensusRounds: 1}, nil)
	require.NoError(t, err)

	cr := result.(ConsensusResult)
	require.True(t, cr.Reached, "3/5 identical key points must cross the frequency consensus threshold")
	require.Contains(t, cr.Points, strings.ToLower(strings.TrimSuffix(shared, ".")))

	facts := meta.SharedFacts()
	require.Len(t, facts, 1, "the frequency-counted path must record exactly the consensus point reached")
	assert.Equal(t, strings.ToLower(strings.TrimSuffix(shared, ".")), facts[0].Text)
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, facts[0].Sources)
}

func TestRunConsensusNotReachedWhenTooFewSucceed(t *testing.T) {
	caller := newFakeCaller()
	caller.on("a", func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
		return nil, errors.New("a failed")
	})
	caller.on("b", func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
		return nil, errors.New("b failed")
	})
	caller.on("c", func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
		return textResponse("lone success"), nil
	})

	o := New(caller, nil, nil)
	_, err := o.Run(context.Background(), "s", []Agent{agent("a"), agent("b"), agent("c")}, "hi", Config{Strategy: StrategyConsensus, ConsensusThreshold: 0.7}, nil)
	require.Error(t, err)

	var classified *axonerr.ClassifiedError
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, axonerr.KindConsensusNotReached, classified.Kind)
}

func TestRunConsensusDivergesAfterMaxRounds(t *testing.T) {
	caller := newFakeCaller()
	for i, id := range []string{"a", "b", "c"} {
		text := fmt.Sprintf("this is a fairly long and entirely distinct viewpoint number %d here.", i)
		caller.on(id, func(ctx context.Context, m []providers.Message) (*providers.LLMResponse, error) {
			return textResponse(text), nil
		})
	}

	o := New(caller, nil, nil)
	result, err := o.Run(context.Background(), "s", []Agent{agent("a"), agent("b"), agent("c")}, "hi", Config{Strategy: StrategyConsensus, MaxConsensusRounds: 1}, nil)
	require.NoError(t, err)

	cr := result.(ConsensusResult)
	assert.False(t, cr.Reached)
	assert.NotEmpty(t, cr.DivergentPoints)
}

func TestRunRejectsUnknownStrategy(t *testing.T) {
	o := New(newFakeCaller(), nil, nil)
	_, err := o.Run(context.Background(), "s", []Agent{agent("a")}, "hi", Config{Strategy: "bogus"}, nil)
	require.Error(t, err)

	var classified *axonerr.ClassifiedError
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, axonerr.KindValidation, classified.Kind)
}

func TestEarlyAgreementRequiresSeventyPercentMatch(t *testing.T) {
	assert.True(t, earlyAgreement([]string{"I agree", "consensus reached", "yes, aligned", "also agree"}))
	assert.False(t, earlyAgreement([]string{"I agree", "no opinion", "disagree entirely"}))
	assert.False(t, earlyAgreement(nil))
}

func TestExtractKeyPointsSkipsShortSentencesAndCapsAtThree(t *testing.T) {
	text := "Short. This sentence is long enough to count. Another long sentence goes here too. " +
		"A third one that also clears the bar. A fourth one that should be dropped for the cap."
	points := extractKeyPoints([]string{text})
	assert.Len(t, points, 3)
	for _, p := range points {
		assert.GreaterOrEqual(t, len(p), 20)
	}
}

func TestNormalizeSentenceLowercasesAndCollapsesWhitespace(t *testing.T) {
	got := normalizeSentence("  This   Has \n Odd   Spacing  ")
	assert.Equal(t, "this has odd spacing", got)
	assert.False(t, strings.Contains(got, "  "))
}
