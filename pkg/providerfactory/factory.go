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

// Package providerfactory constructs concrete providers.LLMProvider
// adapters for a registry.ModelInfo binding, resolving credentials
// through the CredentialProvider rather than reading environment
// variables directly.
package providerfactory

import (
	"context"
	"fmt"

	"github.com/dr-jd-allen/axon/pkg/credentials"
	"github.com/dr-jd-allen/axon/pkg/providers"
	"github.com/dr-jd-allen/axon/pkg/providers/anthropic"
	"github.com/dr-jd-allen/axon/pkg/providers/bedrock"
	"github.com/dr-jd-allen/axon/pkg/providers/gemini"
	"github.com/dr-jd-allen/axon/pkg/providers/ollama"
	"github.com/dr-jd-allen/axon/pkg/providers/openai"
	"github.com/dr-jd-allen/axon/pkg/registry"
)

// Factory builds providers on demand and caches them per
// (provider, model, credentialRef).
type Factory struct {
	creds    credentials.Provider
	ollama   ollama.Config
	cache    map[string]providers.LLMProvider
}

func New(creds credentials.Provider, ollamaCfg ollama.Config) *Factory {
	return &Factory{creds: creds, ollama: ollamaCfg, cache: make(map[string]providers.LLMProvider)}
}

// Build returns the LLMProvider for a registered model, constructing and
// caching it on first use. credentialRef, when non-empty, scopes the
// cached client to that credential so agents sharing a model under
// different keys never share a client — a key going bad only recycles
// the client bound to it, not every client on that model.
func (f *Factory) Build(ctx context.Context, mi registry.ModelInfo, credentialRef string) (providers.LLMProvider, error) {
	key := mi.Provider + "/" + mi.APIName + "/" + credentialRef
	if p, ok := f.cache[key]; ok {
		return p, nil
	}

	p, err := f.build(ctx, mi, credentialRef)
	if err != nil {
		return nil, err
	}
	f.cache[key] = p
	return p, nil
}

func (f *Factory) build(ctx context.Context, mi registry.ModelInfo, credentialRef string) (providers.LLMProvider, error) {
	switch mi.Provider {
	case "anthropic":
		key, err := f.creds.Resolve(ctx, "anthropic", credentialRef)
		if err != nil {
			return nil, err
		}
		return anthropic.NewClient(anthropic.Config{APIKey: key, Model: mi.APIName}), nil

	case "bedrock":
		return bedrock.NewClient(ctx, bedrock.Config{ModelID: mi.APIName})

	case "openai":
		key, err := f.creds.Resolve(ctx, "openai", credentialRef)
		if err != nil {
			return nil, err
		}
		return openai.NewClient(openai.Config{APIKey: key, Model: mi.APIName}), nil

	case "gemini":
		key, err := f.creds.Resolve(ctx, "gemini", credentialRef)
		if err != nil {
			return nil, err
		}
		return gemini.NewClient(gemini.Config{APIKey: key, Model: mi.APIName}), nil

	case "ollama":
		cfg := f.ollama
		cfg.Model = mi.APIName
		return ollama.NewClient(cfg), nil

	default:
		return nil, fmt.Errorf("unsupported provider: %s", mi.Provider)
	}
}
