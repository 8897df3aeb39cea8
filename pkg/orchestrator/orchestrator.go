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

// Package orchestrator coordinates a turn across a set of agents using
// one of five strategies: parallel, sequential, pipeline, competitive, or
// consensus. It calls out through a Caller for the actual model
// invocation, so it stays decoupled from provider wiring, caching, and
// retry — that's pkg/llmservice's job.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dr-jd-allen/axon/pkg/axonerr"
	"github.com/dr-jd-allen/axon/pkg/metamemory"
	"github.com/dr-jd-allen/axon/pkg/providers"
)

var tracer = otel.Tracer("github.com/dr-jd-allen/axon/pkg/orchestrator")

// Strategy names the five coordination modes.
type Strategy string

const (
	StrategyParallel    Strategy = "parallel"
	StrategySequential  Strategy = "sequential"
	StrategyPipeline    Strategy = "pipeline"
	StrategyCompetitive Strategy = "competitive"
	StrategyConsensus   Strategy = "consensus"
)

// Agent is the orchestrator's view of a participant: just enough to
// dispatch a call and label the result.
type Agent struct {
	ID             string
	Name           string
	Archetype      string
	Model          string // registry model name this agent is bound to
	SystemPrompt   string // fully assembled system prompt for this turn
	PipelinePrompt string // used by the pipeline strategy's individual prompt slot

	// CredentialRef optionally names the credential this agent should
	// call its model under, instead of the provider's default. Agents
	// sharing a model with distinct CredentialRefs get distinct,
	// independently-cached provider clients.
	CredentialRef string
}

// Caller dispatches one completion call for an agent, carrying whatever
// system prompt and tool wiring that agent needs. Implemented by
// pkg/llmservice.
type Caller interface {
	Call(ctx context.Context, agent Agent, messages []providers.Message) (*providers.LLMResponse, error)
}

// Event is emitted during orchestration for the gateway to forward to
// clients.
type Event struct {
	Type    string
	AgentID string
	Payload any
}

// EventSink receives orchestration events; nil is a valid no-op sink.
type EventSink func(Event)

func emit(sink EventSink, e Event) {
	if sink != nil {
		sink(e)
	}
}

// Config carries the per-turn orchestration settings.
type Config struct {
	Strategy             Strategy
	EnableTools          bool
	BreakOnError         bool
	ConsensusThreshold   float64 // default 0.7
	CompetitiveTimeout   time.Duration
	MaxConsensusRounds   int // default 5
}

func (c Config) withDefaults() Config {
	if c.ConsensusThreshold == 0 {
		c.ConsensusThreshold = 0.7
	}
	if c.CompetitiveTimeout == 0 {
		c.CompetitiveTimeout = 30 * time.Second
	}
	if c.MaxConsensusRounds == 0 {
		c.MaxConsensusRounds = 5
	}
	return c
}

// AgentOutcome is one agent's result within a strategy's response.
type AgentOutcome struct {
	Agent     Agent
	Success   bool
	Response  *providers.LLMResponse
	Error     error
}

// PipelineStage is one step of a pipeline run.
type PipelineStage struct {
	Agent  Agent
	Input  string
	Output string
	Err    error
}

// PipelineResult is the pipeline strategy's return shape.
type PipelineResult struct {
	Stages      []PipelineStage
	FinalOutput string
}

// ConsensusResult is the consensus strategy's return shape.
type ConsensusResult struct {
	Reached         bool
	Points          []string
	Confidence      float64
	Participants    []string
	DivergentPoints []string
}

// Orchestrator dispatches a turn to a set of agents per Config.Strategy.
type Orchestrator struct {
	caller Caller
	meta   *metamemory.Memory
	logger *zap.Logger
}

func New(caller Caller, meta *metamemory.Memory, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{caller: caller, meta: meta, logger: logger}
}

// Run dispatches sessionID's turn to agents per cfg.Strategy, returning a
// strategy-shaped result as `any`: []AgentOutcome for parallel and
// sequential, PipelineResult, AgentOutcome for competitive, or
// ConsensusResult.
func (o *Orchestrator) Run(ctx context.Context, sessionID string, agents []Agent, userMessage string, cfg Config, sink EventSink) (any, error) {
	cfg = cfg.withDefaults()

	ctx, span := tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(
		attribute.String("strategy", string(cfg.Strategy)),
		attribute.String("session_id", sessionID),
		attribute.Int("agent_count", len(agents)),
	))
	defer span.End()

	switch cfg.Strategy {
	case StrategyParallel:
		return o.runParallel(ctx, agents, userMessage, sink)
	case StrategySequential:
		return o.runSequential(ctx, agents, userMessage, cfg, sink)
	case StrategyPipeline:
		return o.runPipeline(ctx, agents, userMessage, cfg, sink)
	case StrategyCompetitive:
		return o.runCompetitive(ctx, agents, userMessage, cfg, sink)
	case StrategyConsensus:
		return o.runConsensus(ctx, agents, userMessage, cfg, sink)
	default:
		return nil, axonerr.Validation(fmt.Sprintf("unknown orchestration strategy %q", cfg.Strategy))
	}
}

func userTurn(text string) []providers.Message {
	return []providers.Message{{Role: providers.RoleUser, Content: []providers.ContentBlock{{Type: "text", Text: text}}}}
}

// runParallel dispatches one call per agent concurrently; agent failures
// are isolated and never cancel the others.
func (o *Orchestrator) runParallel(ctx context.Context, agents []Agent, userMessage string, sink EventSink) ([]AgentOutcome, error) {
	outcomes := make([]AgentOutcome, len(agents))

	// A plain errgroup (no WithContext, no limit) gives one goroutine per
	// agent and a clean Wait without letting one agent's failure cancel the rest -
	// each goroutine records its own outcome instead of returning an
	// error the group would propagate.
	var g errgroup.Group
	for i, a := range agents {
		idx, agent := i, a
		g.Go(func() error {
			ctx, span := tracer.Start(ctx, "orchestrator.parallel.agent", trace.WithAttributes(attribute.String("agent_id", agent.ID)))
			defer span.End()

			resp, err := o.caller.Call(ctx, agent, userTurn(userMessage))
			if err != nil {
				outcomes[idx] = AgentOutcome{Agent: agent, Success: false, Error: err}
				emit(sink, Event{Type: "agent_response_error", AgentID: agent.ID, Payload: err.Error()})
				return nil
			}
			outcomes[idx] = AgentOutcome{Agent: agent, Success: true, Response: resp}
			emit(sink, Event{Type: "agent_response", AgentID: agent.ID, Payload: resp})
			return nil
		})
	}
	_ = g.Wait()

	return outcomes, nil
}

// runSequential processes agents in order, feeding each the evolving
// message list seeded with the user's turn.
func (o *Orchestrator) runSequential(ctx context.Context, agents []Agent, userMessage string, cfg Config, sink EventSink) ([]AgentOutcome, error) {
	messages := userTurn(userMessage)
	outcomes := make([]AgentOutcome, 0, len(agents))

	for _, agent := range agents {
		ctx, span := tracer.Start(ctx, "orchestrator.sequential.agent", trace.WithAttributes(attribute.String("agent_id", agent.ID)))
		resp, err := o.caller.Call(ctx, agent, messages)
		span.End()

		if err != nil {
			outcomes = append(outcomes, AgentOutcome{Agent: agent, Success: false, Error: err})
			emit(sink, Event{Type: "agent_response_error", AgentID: agent.ID, Payload: err.Error()})
			if cfg.BreakOnError {
				break
			}
			continue
		}

		outcomes = append(outcomes, AgentOutcome{Agent: agent, Success: true, Response: resp})
		emit(sink, Event{Type: "agent_response", AgentID: agent.ID, Payload: resp})
		messages = append(messages, taggedAssistantTurn(agent.Name, resp))
	}

	return outcomes, nil
}

func taggedAssistantTurn(agentName string, resp *providers.LLMResponse) providers.Message {
	text := fmt.Sprintf("[%s]: %s", agentName, resp.Message.Text())
	return providers.Message{Role: providers.RoleAssistant, Content: []providers.ContentBlock{{Type: "text", Text: text}}}
}

// runPipeline processes agents in order; each receives only the current
// input as its user turn, and its output becomes the next input.
func (o *Orchestrator) runPipeline(ctx context.Context, agents []Agent, userMessage string, cfg Config, sink EventSink) (PipelineResult, error) {
	stages := make([]PipelineStage, 0, len(agents))
	currentInput := userMessage

	for _, agent := range agents {
		ctx, span := tracer.Start(ctx, "orchestrator.pipeline.stage", trace.WithAttributes(attribute.String("agent_id", agent.ID)))
		resp, err := o.caller.Call(ctx, agent, userTurn(currentInput))
		span.End()

		if err != nil {
			stages = append(stages, PipelineStage{Agent: agent, Input: currentInput, Err: err})
			emit(sink, Event{Type: "agent_response_error", AgentID: agent.ID, Payload: err.Error()})
			if !cfg.BreakOnError {
				continue
			}
			return PipelineResult{Stages: stages, FinalOutput: lastSuccessfulOutput(stages)}, nil
		}

		output := resp.Message.Text()
		stages = append(stages, PipelineStage{Agent: agent, Input: currentInput, Output: output})
		emit(sink, Event{Type: "agent_response", AgentID: agent.ID, Payload: resp})
		currentInput = output
	}

	result := PipelineResult{Stages: stages, FinalOutput: lastSuccessfulOutput(stages)}
	emit(sink, Event{Type: "pipeline_result", Payload: result})
	return result, nil
}

func lastSuccessfulOutput(stages []PipelineStage) string {
	for i := len(stages) - 1; i >= 0; i-- {
		if stages[i].Err == nil {
			return stages[i].Output
		}
	}
	return ""
}

// runCompetitive dispatches all agents concurrently; the first success
// wins and the rest are cancelled best-effort.
func (o *Orchestrator) runCompetitive(ctx context.Context, agents []Agent, userMessage string, cfg Config, sink EventSink) (AgentOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.CompetitiveTimeout)
	defer cancel()

	type raced struct {
		outcome AgentOutcome
	}
	results := make(chan raced, len(agents))

	for _, a := range agents {
		go func(agent Agent) {
			resp, err := o.caller.Call(ctx, agent, userTurn(userMessage))
			if err != nil {
				results <- raced{outcome: AgentOutcome{Agent: agent, Success: false, Error: err}}
				return
			}
			results <- raced{outcome: AgentOutcome{Agent: agent, Success: true, Response: resp}}
		}(a)
	}

	seen := 0
	for seen < len(agents) {
		select {
		case r := <-results:
			seen++
			if r.outcome.Success {
				cancel() // best-effort cancellation of the remaining in-flight calls
				emit(sink, Event{Type: "agent_response", AgentID: r.outcome.Agent.ID, Payload: r.outcome.Response})
				return r.outcome, nil
			}
			emit(sink, Event{Type: "agent_response_error", AgentID: r.outcome.Agent.ID, Payload: r.outcome.Error.Error()})
		case <-ctx.Done():
			return AgentOutcome{}, axonerr.CompetitiveTimeout()
		}
	}

	return AgentOutcome{}, axonerr.CompetitiveTimeout()
}

var agreementPhrases = []string{"agree", "consensus", "aligned", "same", "correct"}

// runConsensus runs a parallel dispatch, then iterates synthesis rounds
// until a consensus point emerges or maxIterations is exhausted.
func (o *Orchestrator) runConsensus(ctx context.Context, agents []Agent, userMessage string, cfg Config, sink EventSink) (ConsensusResult, error) {
	outcomes, _ := o.runParallel(ctx, agents, userMessage, sink)

	successful := successfulResponses(outcomes)
	required := int(math.Ceil(cfg.ConsensusThreshold * float64(len(agents))))
	if len(successful) < required {
		return ConsensusResult{}, axonerr.ConsensusNotReached(fmt.Sprintf("only %d/%d agents succeeded, need %d", len(successful), len(agents), required))
	}

	participants := participantNames(outcomes)
	currentMessage := userMessage

	for iteration := 0; iteration < cfg.MaxConsensusRounds; iteration++ {
		texts := responseTexts(successful)

		if earlyAgreement(texts) {
			return finalizeConsensus(o.meta, texts, participants, sink)
		}

		points := extractKeyPoints(texts)
		freq := countFrequency(points)
		required := int(math.Ceil(0.6 * float64(len(successful))))

		var consensusPoints []string
		for point, count := range freq {
			if count >= required {
				consensusPoints = append(consensusPoints, point)
			}
		}
		sort.Strings(consensusPoints)

		if len(consensusPoints) > 0 {
			confidence := float64(len(consensusPoints)) / float64(len(freq))
			result := ConsensusResult{Reached: true, Points: consensusPoints, Confidence: confidence, Participants: participants}
			if o.meta != nil {
				for _, p := range consensusPoints {
					o.meta.AddSharedFact(p, confidence, participants)
				}
			}
			emit(sink, Event{Type: "consensus_result", Payload: result})
			return result, nil
		}

		// No consensus point yet: synthesize a combined-viewpoint prompt and
		// re-dispatch for the next iteration.
		currentMessage = buildCombinedViewpointPrompt(currentMessage, texts)
		outcomes, _ = o.runParallel(ctx, agents, currentMessage, sink)
		successful = successfulResponses(outcomes)
		if len(successful) == 0 {
			break
		}
	}

	divergent := extractKeyPoints(responseTexts(successful))
	result := ConsensusResult{Reached: false, DivergentPoints: dedupe(divergent)}
	emit(sink, Event{Type: "consensus_result", Payload: result})
	return result, nil
}

func finalizeConsensus(meta *metamemory.Memory, texts []string, participants []string, sink EventSink) (ConsensusResult, error) {
	points := extractKeyPoints(texts)
	confidence := 1.0
	if meta != nil {
		for _, p := range points {
			meta.AddSharedFact(p, confidence, participants)
		}
	}
	result := ConsensusResult{Reached: true, Points: dedupe(points), Confidence: confidence, Participants: participants}
	emit(sink, Event{Type: "consensus_result", Payload: result})
	return result, nil
}

func successfulResponses(outcomes []AgentOutcome) []AgentOutcome {
	out := make([]AgentOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Success {
			out = append(out, o)
		}
	}
	return out
}

func participantNames(outcomes []AgentOutcome) []string {
	out := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, o.Agent.ID)
	}
	return out
}

func responseTexts(outcomes []AgentOutcome) []string {
	out := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, o.Response.Message.Text())
	}
	return out
}

// earlyAgreement declares consensus if at least 70% of responses contain
// any phrase from the agreement stop-list.
func earlyAgreement(texts []string) bool {
	if len(texts) == 0 {
		return false
	}
	matching := 0
	for _, t := range texts {
		lower := strings.ToLower(t)
		for _, phrase := range agreementPhrases {
			if strings.Contains(lower, phrase) {
				matching++
				break
			}
		}
	}
	return float64(matching)/float64(len(texts)) >= 0.7
}

// extractKeyPoints pulls the top-3 sentences of at least 20 characters
// from each response and normalizes them for frequency counting.
func extractKeyPoints(texts []string) []string {
	var points []string
	for _, text := range texts {
		sentences := splitSentences(text)
		taken := 0
		for _, s := range sentences {
			trimmed := strings.TrimSpace(s)
			if len(trimmed) < 20 {
				continue
			}
			points = append(points, normalizeSentence(trimmed))
			taken++
			if taken == 3 {
				break
			}
		}
	}
	return points
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
}

func normalizeSentence(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	return s
}

func countFrequency(points []string) map[string]int {
	freq := make(map[string]int, len(points))
	for _, p := range points {
		freq[p]++
	}
	return freq
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func buildCombinedViewpointPrompt(original string, texts []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The original question was: %s\n\n", original)
	b.WriteString("Independent responses so far:\n")
	for i, t := range texts {
		fmt.Fprintf(&b, "Response %d: %s\n", i+1, t)
	}
	b.WriteString("\nReconsider your position in light of the other viewpoints above and respond again, noting where you agree or disagree.")
	return b.String()
}
