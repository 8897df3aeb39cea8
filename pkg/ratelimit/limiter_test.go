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
package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dr-jd-allen/axon/pkg/axonerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmitWithinCapacitySucceeds(t *testing.T) {
	l := NewLimiter(map[string]Config{
		"anthropic": {Capacity: 3, RefillRate: 1},
	}, DefaultConfig())

	for i := 0; i < 3; i++ {
		assert.NoError(t, l.Admit("anthropic"))
	}
}

func TestAdmitRejectsOnceExhausted(t *testing.T) {
	l := NewLimiter(map[string]Config{
		"anthropic": {Capacity: 1, RefillRate: 0.5},
	}, DefaultConfig())

	require.NoError(t, l.Admit("anthropic"))

	err := l.Admit("anthropic")
	require.Error(t, err)

	var classified *axonerr.ClassifiedError
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, axonerr.KindRateLimited, classified.Kind)
	assert.True(t, classified.Retryable)
	assert.Greater(t, classified.RetryAfter, time.Duration(0))
}

func TestAdmitRefillsOverTime(t *testing.T) {
	l := NewLimiter(map[string]Config{
		"openai": {Capacity: 1, RefillRate: 50}, // 1 token every 20ms
	}, DefaultConfig())

	require.NoError(t, l.Admit("openai"))
	require.Error(t, l.Admit("openai"))

	time.Sleep(30 * time.Millisecond)

	assert.NoError(t, l.Admit("openai"))
}

func TestAdmitUsesFallbackForUnknownProvider(t *testing.T) {
	l := NewLimiter(map[string]Config{}, Config{Capacity: 2, RefillRate: 1})

	assert.NoError(t, l.Admit("mystery-provider"))
	assert.NoError(t, l.Admit("mystery-provider"))
	assert.Error(t, l.Admit("mystery-provider"))
}

func TestBucketsAreIndependentPerProvider(t *testing.T) {
	l := NewLimiter(map[string]Config{
		"anthropic": {Capacity: 1, RefillRate: 1},
		"openai":    {Capacity: 1, RefillRate: 1},
	}, DefaultConfig())

	require.NoError(t, l.Admit("anthropic"))
	require.Error(t, l.Admit("anthropic"))

	// openai's bucket must still be full.
	assert.NoError(t, l.Admit("openai"))
}

func TestAdmitConcurrentAccess(t *testing.T) {
	l := NewLimiter(map[string]Config{
		"anthropic": {Capacity: 100, RefillRate: 10},
	}, DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Admit("anthropic")
		}()
	}
	wg.Wait()
}
