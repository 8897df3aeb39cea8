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

// Package registry holds the process-wide, read-only model table: which
// provider serves a model, its API name, its context window, and the
// fallback chain to walk when that model's calls keep failing.
package registry

import (
	"fmt"

	"github.com/dr-jd-allen/axon/pkg/axonerr"
)

// ModelInfo describes one registered model.
type ModelInfo struct {
	Model               string
	Provider            string
	APIName             string
	ContextWindowTokens int
}

// Registry is immutable after construction; concurrent reads need no lock.
type Registry struct {
	models    map[string]ModelInfo
	fallbacks map[string][]string
}

// New builds a registry from a fixed model table and fallback chain table.
// Both are provided wholesale rather than mutated incrementally, matching
// the process-wide, read-only nature the spec requires of the registry.
func New(models []ModelInfo, fallbacks map[string][]string) *Registry {
	m := make(map[string]ModelInfo, len(models))
	for _, mi := range models {
		m[mi.Model] = mi
	}
	return &Registry{models: m, fallbacks: fallbacks}
}

// Resolve looks up a model's provider binding.
func (r *Registry) Resolve(model string) (ModelInfo, error) {
	mi, ok := r.models[model]
	if !ok {
		return ModelInfo{}, axonerr.ModelNotSupported(model, r.KnownModels())
	}
	return mi, nil
}

// FallbackChain returns the ordered list of models to try after `model`
// fails, not including `model` itself.
func (r *Registry) FallbackChain(model string) []string {
	return r.fallbacks[model]
}

// KnownModels lists every registered model, for error messages and status
// reporting.
func (r *Registry) KnownModels() []string {
	out := make([]string, 0, len(r.models))
	for m := range r.models {
		out = append(out, m)
	}
	return out
}

// DefaultModels is the built-in table wiring Claude models across the
// anthropic and bedrock providers, plus the hand-rolled openai/gemini/
// ollama adapters.
func DefaultModels() []ModelInfo {
	return []ModelInfo{
		{Model: "claude-sonnet-4-5", Provider: "anthropic", APIName: "claude-sonnet-4-5-20250929", ContextWindowTokens: 200_000},
		{Model: "claude-3-5-sonnet", Provider: "anthropic", APIName: "claude-3-5-sonnet-20241022", ContextWindowTokens: 200_000},
		{Model: "claude-3-opus", Provider: "anthropic", APIName: "claude-3-opus-20240229", ContextWindowTokens: 200_000},
		{Model: "claude-sonnet-4-5-bedrock", Provider: "bedrock", APIName: "us.anthropic.claude-sonnet-4-5-20250929-v1:0", ContextWindowTokens: 200_000},
		{Model: "claude-haiku-4-5-bedrock", Provider: "bedrock", APIName: "us.anthropic.claude-haiku-4-5-20251001-v1:0", ContextWindowTokens: 200_000},
		{Model: "gpt-4o", Provider: "openai", APIName: "gpt-4o", ContextWindowTokens: 128_000},
		{Model: "gpt-4o-mini", Provider: "openai", APIName: "gpt-4o-mini", ContextWindowTokens: 128_000},
		{Model: "gemini-1.5-pro", Provider: "gemini", APIName: "gemini-1.5-pro", ContextWindowTokens: 2_000_000},
		{Model: "llama3.1-local", Provider: "ollama", APIName: "llama3.1", ContextWindowTokens: 128_000},
	}
}

// DefaultFallbacks sends claude-sonnet-4-5 first to the same model served
// from bedrock and then to claude-3-5-sonnet, claude-3-5-sonnet to
// claude-haiku-4-5 on bedrock, and gpt-4o to gpt-4o-mini.
func DefaultFallbacks() map[string][]string {
	return map[string][]string{
		"claude-sonnet-4-5": {"claude-sonnet-4-5-bedrock", "claude-3-5-sonnet"},
		"claude-3-5-sonnet": {"claude-haiku-4-5-bedrock"},
		"gpt-4o":            {"gpt-4o-mini"},
	}
}

func (mi ModelInfo) String() string {
	return fmt.Sprintf("%s (%s/%s, %dk ctx)", mi.Model, mi.Provider, mi.APIName, mi.ContextWindowTokens/1000)
}
