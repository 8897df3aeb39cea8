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
package providerfactory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dr-jd-allen/axon/pkg/providers/ollama"
	"github.com/dr-jd-allen/axon/pkg/registry"
)

type fakeCreds struct {
	keys map[string]string
	err  error
}

func (f fakeCreds) Resolve(ctx context.Context, provider, credentialRef string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if credentialRef != "" {
		return f.keys[credentialRef], nil
	}
	return f.keys[provider], nil
}

func TestBuildOllamaNeedsNoCredentials(t *testing.T) {
	f := New(fakeCreds{err: errors.New("should not be called")}, ollama.Config{Endpoint: "http://localhost:11434"})

	p, err := f.Build(context.Background(), registry.ModelInfo{Provider: "ollama", APIName: "llama3.1"}, "")
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())
}

func TestBuildAnthropicResolvesAPIKey(t *testing.T) {
	f := New(fakeCreds{keys: map[string]string{"anthropic": "sk-ant-test"}}, ollama.Config{})

	p, err := f.Build(context.Background(), registry.ModelInfo{Provider: "anthropic", APIName: "claude-3-5-sonnet-20241022"}, "")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
}

func TestBuildPropagatesCredentialResolutionError(t *testing.T) {
	f := New(fakeCreds{err: errors.New("no credential backends configured")}, ollama.Config{})

	_, err := f.Build(context.Background(), registry.ModelInfo{Provider: "openai", APIName: "gpt-4o"}, "")
	assert.Error(t, err)
}

func TestBuildUnsupportedProviderErrors(t *testing.T) {
	f := New(fakeCreds{}, ollama.Config{})
	_, err := f.Build(context.Background(), registry.ModelInfo{Provider: "does-not-exist", APIName: "x"}, "")
	assert.Error(t, err)
}

func TestBuildCachesProviderPerKey(t *testing.T) {
	f := New(fakeCreds{}, ollama.Config{Endpoint: "http://localhost:11434"})

	p1, err := f.Build(context.Background(), registry.ModelInfo{Provider: "ollama", APIName: "llama3.1"}, "")
	require.NoError(t, err)
	p2, err := f.Build(context.Background(), registry.ModelInfo{Provider: "ollama", APIName: "llama3.1"}, "")
	require.NoError(t, err)

	assert.Same(t, p1, p2, "Build must cache and reuse the same adapter for an identical (provider, model) key")
}

func TestBuildDoesNotCacheAcrossDifferentModels(t *testing.T) {
	f := New(fakeCreds{}, ollama.Config{Endpoint: "http://localhost:11434"})

	p1, err := f.Build(context.Background(), registry.ModelInfo{Provider: "ollama", APIName: "llama3.1"}, "")
	require.NoError(t, err)
	p2, err := f.Build(context.Background(), registry.ModelInfo{Provider: "ollama", APIName: "mistral"}, "")
	require.NoError(t, err)

	assert.NotSame(t, p1, p2)
}

func TestBuildDoesNotCacheAcrossDifferentCredentialRefs(t *testing.T) {
	f := New(fakeCreds{keys: map[string]string{"alice-key": "sk-alice", "bob-key": "sk-bob"}}, ollama.Config{})

	p1, err := f.Build(context.Background(), registry.ModelInfo{Provider: "anthropic", APIName: "claude-3-5-sonnet-20241022"}, "alice-key")
	require.NoError(t, err)
	p2, err := f.Build(context.Background(), registry.ModelInfo{Provider: "anthropic", APIName: "claude-3-5-sonnet-20241022"}, "bob-key")
	require.NoError(t, err)

	assert.NotSame(t, p1, p2, "distinct credential refs on the same model must not share a cached client")
}

func TestBuildOneBadCredentialRefDoesNotAffectAnother(t *testing.T) {
	f := New(fakeCreds{keys: map[string]string{"bob-key": "sk-bob"}}, ollama.Config{})

	_, err := f.Build(context.Background(), registry.ModelInfo{Provider: "anthropic", APIName: "claude-3-5-sonnet-20241022"}, "alice-key")
	assert.NoError(t, err, "fakeCreds returns an empty key rather than an error for an unknown ref, matching a real backend reporting 'not configured' only at call time")

	p, err := f.Build(context.Background(), registry.ModelInfo{Provider: "anthropic", APIName: "claude-3-5-sonnet-20241022"}, "bob-key")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
}
