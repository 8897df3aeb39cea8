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
package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dr-jd-allen/axon/pkg/providers"
)

func textMessages(text string) []providers.Message {
	return []providers.Message{
		{Role: providers.RoleUser, Content: []providers.ContentBlock{{Type: "text", Text: text}}},
	}
}

func TestFingerprintStableForIdenticalRequests(t *testing.T) {
	sampling := providers.SamplingParams{Temperature: 0.5, MaxTokens: 100}
	a := Fingerprint("claude-sonnet", textMessages("hello"), sampling)
	b := Fingerprint("claude-sonnet", textMessages("hello"), sampling)
	assert.Equal(t, a, b)
}

func TestFingerprintDiffersOnMessageContent(t *testing.T) {
	sampling := providers.SamplingParams{Temperature: 0.5}
	a := Fingerprint("claude-sonnet", textMessages("hello"), sampling)
	b := Fingerprint("claude-sonnet", textMessages("goodbye"), sampling)
	assert.NotEqual(t, a, b)
}

func TestFingerprintDiffersOnModel(t *testing.T) {
	sampling := providers.SamplingParams{}
	a := Fingerprint("claude-sonnet", textMessages("hello"), sampling)
	b := Fingerprint("gpt-4o", textMessages("hello"), sampling)
	assert.NotEqual(t, a, b)
}

func TestFingerprintIgnoresStopSequenceOrder(t *testing.T) {
	a := Fingerprint("m", textMessages("x"), providers.SamplingParams{StopSequences: []string{"b", "a"}})
	b := Fingerprint("m", textMessages("x"), providers.SamplingParams{StopSequences: []string{"a", "b"}})
	assert.Equal(t, a, b)
}

func TestGetMissOnEmptyCache(t *testing.T) {
	c := New(Config{Capacity: 10, TTL: time.Minute})
	defer c.Stop()

	_, ok := c.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Misses)
}

func TestPutThenGetHits(t *testing.T) {
	c := New(Config{Capacity: 10, TTL: time.Minute})
	defer c.Stop()

	resp := &providers.LLMResponse{Message: providers.Message{Role: providers.RoleAssistant}}
	c.Put("key1", resp)

	got, ok := c.Get("key1")
	require.True(t, ok)
	assert.Same(t, resp, got)
	assert.Equal(t, uint64(1), c.Stats().Hits)
}

func TestGetExpiresAfterTTL(t *testing.T) {
	c := New(Config{Capacity: 10, TTL: 10 * time.Millisecond})
	defer c.Stop()

	c.Put("key1", &providers.LLMResponse{})
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("key1")
	assert.False(t, ok)
}

func TestPutEvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	c := New(Config{Capacity: 2, TTL: time.Minute})
	defer c.Stop()

	c.Put("a", &providers.LLMResponse{})
	c.Put("b", &providers.LLMResponse{})
	// touch "a" so "b" becomes the least recently used.
	_, _ = c.Get("a")
	c.Put("c", &providers.LLMResponse{})

	_, aOK := c.Get("a")
	_, bOK := c.Get("b")
	_, cOK := c.Get("c")

	assert.True(t, aOK)
	assert.False(t, bOK)
	assert.True(t, cOK)
	assert.Equal(t, 2, c.Stats().Entries)
}

func TestDisableMakesCacheAPassThrough(t *testing.T) {
	c := New(Config{Capacity: 10, TTL: time.Minute})
	defer c.Stop()

	c.Put("key1", &providers.LLMResponse{})
	c.Disable()

	_, ok := c.Get("key1")
	assert.False(t, ok, "disabled cache must miss even on a previously stored key")

	c.Put("key2", &providers.LLMResponse{})
	c.Enable()
	_, ok = c.Get("key2")
	assert.False(t, ok, "Put while disabled must be a no-op")
}
