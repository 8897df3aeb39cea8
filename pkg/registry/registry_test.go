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
package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dr-jd-allen/axon/pkg/axonerr"
)

func TestResolveKnownModel(t *testing.T) {
	r := New([]ModelInfo{
		{Model: "gpt-4o", Provider: "openai", APIName: "gpt-4o", ContextWindowTokens: 128_000},
	}, nil)

	mi, err := r.Resolve("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "openai", mi.Provider)
	assert.Equal(t, 128_000, mi.ContextWindowTokens)
}

func TestResolveUnknownModelReturnsClassifiedError(t *testing.T) {
	r := New([]ModelInfo{
		{Model: "gpt-4o", Provider: "openai"},
	}, nil)

	_, err := r.Resolve("does-not-exist")
	require.Error(t, err)

	var classified *axonerr.ClassifiedError
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, axonerr.KindModelNotSupported, classified.Kind)
	assert.False(t, classified.Retryable)
	assert.Contains(t, classified.KnownModels, "gpt-4o")
}

func TestFallbackChainReturnsOrderedList(t *testing.T) {
	r := New(DefaultModels(), DefaultFallbacks())

	chain := r.FallbackChain("claude-sonnet-4-5")
	require.Len(t, chain, 2)
	assert.Equal(t, "claude-sonnet-4-5-bedrock", chain[0])
	assert.Equal(t, "claude-3-5-sonnet", chain[1])
}

func TestFallbackChainEmptyForModelWithNone(t *testing.T) {
	r := New(DefaultModels(), DefaultFallbacks())
	assert.Empty(t, r.FallbackChain("gemini-1.5-pro"))
}

func TestKnownModelsListsEveryRegisteredModel(t *testing.T) {
	r := New(DefaultModels(), nil)
	known := r.KnownModels()
	assert.Len(t, known, len(DefaultModels()))
}

func TestDefaultModelsAreAllResolvable(t *testing.T) {
	r := New(DefaultModels(), DefaultFallbacks())
	for _, mi := range DefaultModels() {
		got, err := r.Resolve(mi.Model)
		require.NoError(t, err)
		assert.Equal(t, mi, got)
	}
}

func TestDefaultFallbacksOnlyReferenceRegisteredModels(t *testing.T) {
	r := New(DefaultModels(), DefaultFallbacks())
	for model, chain := range DefaultFallbacks() {
		_, err := r.Resolve(model)
		require.NoErrorf(t, err, "fallback source %q must itself be a registered model", model)
		for _, fallbackModel := range chain {
			_, err := r.Resolve(fallbackModel)
			require.NoErrorf(t, err, "fallback target %q must be a registered model", fallbackModel)
		}
	}
}
