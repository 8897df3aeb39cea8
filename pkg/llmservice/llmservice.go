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

// Package llmservice is the single call path for any chat generation:
// resolve the model, estimate tokens, acquire a rate-limit admission,
// check the response cache, run the call through the per-model circuit
// breaker with bounded retry, negotiate any tool calls, cache the
// result, and fall back to the next model in the chain on exhaustion.
// It implements orchestrator.Caller so the orchestrator never has to
// know about providers, caching, or retry directly.
package llmservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dr-jd-allen/axon/pkg/axonerr"
	"github.com/dr-jd-allen/axon/pkg/breaker"
	"github.com/dr-jd-allen/axon/pkg/cache"
	"github.com/dr-jd-allen/axon/pkg/orchestrator"
	"github.com/dr-jd-allen/axon/pkg/providers"
	"github.com/dr-jd-allen/axon/pkg/ratelimit"
	"github.com/dr-jd-allen/axon/pkg/registry"
	"github.com/dr-jd-allen/axon/pkg/toolnegotiator"
)

const (
	MaxRetries       = 3
	MaxFallbackDepth = 3
	charsPerToken    = 4
)

var retryBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// ProviderFactory builds the LLMProvider adapter for a resolved model.
// Satisfied by *providerfactory.Factory; accepting the interface here lets
// tests substitute a fake adapter without touching real credentials or
// network adapters.
type ProviderFactory interface {
	Build(ctx context.Context, mi registry.ModelInfo, credentialRef string) (providers.LLMProvider, error)
}

// FallbackEvent is emitted each time a fallback model is used in place of
// the originally requested one.
type FallbackEvent struct {
	FromModel string
	ToModel   string
	Reason    string
}

type FallbackSink func(FallbackEvent)

// Service implements orchestrator.Caller.
type Service struct {
	registry   *registry.Registry
	factory    ProviderFactory
	limiter    *ratelimit.Limiter
	cache      *cache.Cache
	breakers   *breaker.Registry
	negotiator *toolnegotiator.Negotiator
	logger     *zap.Logger

	sf singleflight.Group

	onFallback FallbackSink
}

type Config struct {
	Registry   *registry.Registry
	Factory    ProviderFactory
	Limiter    *ratelimit.Limiter
	Cache      *cache.Cache
	Breakers   *breaker.Registry
	Negotiator *toolnegotiator.Negotiator
	Logger     *zap.Logger
	OnFallback FallbackSink
}

func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Service{
		registry:   cfg.Registry,
		factory:    cfg.Factory,
		limiter:    cfg.Limiter,
		cache:      cfg.Cache,
		breakers:   cfg.Breakers,
		negotiator: cfg.Negotiator,
		logger:     cfg.Logger,
		onFallback: cfg.OnFallback,
	}
}

// Call resolves agent.Model and runs the full pipeline, satisfying
// orchestrator.Caller.
func (s *Service) Call(ctx context.Context, agent orchestrator.Agent, messages []providers.Message) (*providers.LLMResponse, error) {
	req := providers.CompletionRequest{
		Model:         agent.Model,
		Messages:      messages,
		System:        agent.SystemPrompt,
		CredentialRef: agent.CredentialRef,
	}
	if s.negotiator != nil {
		req.Tools = s.negotiator.Advertise(agent.Archetype)
	}
	return s.Complete(ctx, req, agent.Archetype, 0)
}

// Complete runs steps 1-7 of the call path for a single request,
// recursing into the fallback chain up to MaxFallbackDepth.
func (s *Service) Complete(ctx context.Context, req providers.CompletionRequest, archetype string, depth int) (*providers.LLMResponse, error) {
	modelInfo, err := s.registry.Resolve(req.Model)
	if err != nil {
		return nil, err
	}

	if estimated := estimateTokens(req); estimated > modelInfo.ContextWindowTokens {
		return nil, axonerr.ContextWindowExceeded(estimated, modelInfo.ContextWindowTokens)
	}

	if s.limiter != nil {
		if err := s.limiter.Admit(modelInfo.Provider); err != nil {
			return s.maybeFallback(ctx, req, archetype, depth, err)
		}
	}

	fingerprint := ""
	if s.cache != nil {
		fingerprint = cache.Fingerprint(modelInfo.Model, req.Messages, req.Sampling)
		if cached, ok := s.cache.Get(fingerprint); ok {
			return cached, nil
		}
	}

	resp, err := s.callWithBreakerAndRetry(ctx, modelInfo, req, archetype)
	if err != nil {
		return s.maybeFallback(ctx, req, archetype, depth, err)
	}

	if s.cache != nil {
		s.cache.Put(fingerprint, resp)
	}
	resp.ModelActuallyUsed = modelInfo.Model
	return resp, nil
}

func (s *Service) maybeFallback(ctx context.Context, req providers.CompletionRequest, archetype string, depth int, cause error) (*providers.LLMResponse, error) {
	if depth >= MaxFallbackDepth {
		return nil, cause
	}

	var classified *axonerr.ClassifiedError
	if !errors.As(cause, &classified) {
		return nil, cause
	}
	circuitOpen := classified.Kind == axonerr.KindCircuitOpen
	terminalNoResponse := !classified.Retryable && classified.Kind != axonerr.KindValidation && classified.Kind != axonerr.KindModelNotSupported && classified.Kind != axonerr.KindContextWindow
	if !circuitOpen && !terminalNoResponse {
		return nil, cause
	}

	chain := s.registry.FallbackChain(req.Model)
	if len(chain) == 0 {
		return nil, cause
	}

	nextModel := chain[0]
	if s.onFallback != nil {
		s.onFallback(FallbackEvent{FromModel: req.Model, ToModel: nextModel, Reason: cause.Error()})
	}

	fallbackReq := req
	fallbackReq.Model = nextModel
	return s.Complete(ctx, fallbackReq, archetype, depth+1)
}

// callWithBreakerAndRetry admits the call through the per-model circuit
// breaker, retries retryable errors with bounded exponential backoff, and
// handles one tool-call round trip before returning the final message.
func (s *Service) callWithBreakerAndRetry(ctx context.Context, mi registry.ModelInfo, req providers.CompletionRequest, archetype string) (*providers.LLMResponse, error) {
	var br *breaker.Breaker
	if s.breakers != nil {
		br = s.breakers.Get("model", mi.Model)
		if err := br.Allow(); err != nil {
			return nil, err
		}
	}

	provider, err := s.factory.Build(ctx, mi, req.CredentialRef)
	if err != nil {
		if br != nil {
			br.RecordFailure()
		}
		return nil, err
	}

	resp, err := s.callWithRetry(ctx, provider, req)
	if err != nil {
		if br != nil {
			br.RecordFailure()
		}
		return nil, err
	}
	if br != nil {
		br.RecordSuccess()
	}

	if len(resp.ToolCalls) > 0 && s.negotiator != nil {
		return s.completeToolRound(ctx, provider, req, resp, archetype)
	}

	return resp, nil
}

func (s *Service) callWithRetry(ctx context.Context, provider providers.LLMProvider, req providers.CompletionRequest) (*providers.LLMResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		resp, err := provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var classified *axonerr.ClassifiedError
		if !errors.As(err, &classified) || !classified.Retryable {
			return nil, err
		}
		if attempt == MaxRetries {
			break
		}

		wait := retryBackoff[attempt]
		s.logger.Debug("retrying_completion", zap.Int("attempt", attempt+1), zap.Duration("wait", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

// completeToolRound executes declared tools, appends their results as
// tool-role turns, and re-invokes the adapter exactly once for the final
// assistant message, accumulating usage across both calls.
func (s *Service) completeToolRound(ctx context.Context, provider providers.LLMProvider, req providers.CompletionRequest, first *providers.LLMResponse, archetype string) (*providers.LLMResponse, error) {
	messages := append(append([]providers.Message(nil), req.Messages...), first.Message)

	var toolResults []providers.ContentBlock
	for _, call := range first.ToolCalls {
		block, err := s.negotiator.Invoke(ctx, archetype, call)
		if err != nil {
			return nil, err
		}
		toolResults = append(toolResults, block)
	}
	messages = append(messages, providers.Message{Role: providers.RoleTool, Content: toolResults})

	followUp := req
	followUp.Messages = messages

	second, err := provider.Complete(ctx, followUp)
	if err != nil {
		return nil, err
	}

	second.Usage.PromptTokens += first.Usage.PromptTokens
	second.Usage.CompletionTokens += first.Usage.CompletionTokens
	second.Usage.TotalTokens += first.Usage.TotalTokens
	return second, nil
}

func estimateTokens(req providers.CompletionRequest) int {
	chars := len(req.System)
	for _, m := range req.Messages {
		chars += len(m.Text())
	}
	return (chars + charsPerToken - 1) / charsPerToken
}

// CompleteDeduped wraps Complete with singleflight so concurrent identical
// requests (same fingerprint) share one upstream call.
func (s *Service) CompleteDeduped(ctx context.Context, req providers.CompletionRequest, archetype string) (*providers.LLMResponse, error) {
	key := fmt.Sprintf("%s/%s", req.Model, cache.Fingerprint(req.Model, req.Messages, req.Sampling))
	v, err, _ := s.sf.Do(key, func() (any, error) {
		return s.Complete(ctx, req, archetype, 0)
	})
	if err != nil {
		return nil, err
	}
	return v.(*providers.LLMResponse), nil
}
