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

// Package ratelimit implements a per-provider token-bucket admission
// gate. Admission is a direct, synchronous check: callers either get a
// token now or a RateLimited error carrying a RetryAfter, never a queued
// wait behind a background goroutine.
package ratelimit

import (
	"sync"
	"time"

	"github.com/dr-jd-allen/axon/pkg/axonerr"
	"github.com/prometheus/client_golang/prometheus"
)

// Config describes one provider's bucket.
type Config struct {
	Capacity   float64 // max burst size, in tokens
	RefillRate float64 // tokens added per second
}

func DefaultConfig() Config {
	return Config{Capacity: 5, RefillRate: 2.0}
}

// bucket is a single provider's token bucket, refilled lazily on access.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

func newBucket(cfg Config) *bucket {
	return &bucket{tokens: cfg.Capacity, capacity: cfg.Capacity, refillRate: cfg.RefillRate, lastRefill: time.Now()}
}

func (b *bucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// tryAcquire admits a single call if a token is available now. When it is
// not, it returns the duration the caller must wait for the next token.
func (b *bucket) tryAcquire() (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true, 0
	}
	if b.refillRate <= 0 {
		return false, time.Hour
	}
	deficit := 1.0 - b.tokens
	wait := time.Duration(deficit/b.refillRate*1000) * time.Millisecond
	return false, wait
}

func (b *bucket) snapshot() (tokens, capacity float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens, b.capacity
}

// Limiter owns one bucket per provider name, created lazily from a
// provider -> Config table supplied at construction.
type Limiter struct {
	mu       sync.RWMutex
	buckets  map[string]*bucket
	configs  map[string]Config
	fallback Config
}

func NewLimiter(configs map[string]Config, fallback Config) *Limiter {
	return &Limiter{buckets: make(map[string]*bucket), configs: configs, fallback: fallback}
}

func (l *Limiter) bucketFor(provider string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[provider]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[provider]; ok {
		return b
	}
	cfg, ok := l.configs[provider]
	if !ok {
		cfg = l.fallback
	}
	b = newBucket(cfg)
	l.buckets[provider] = b
	bucketCapacityGauge.WithLabelValues(provider).Set(cfg.Capacity)
	return b
}

// Admit attempts to admit one call against the provider's bucket. On
// rejection it returns a RateLimited classified error carrying how long
// the caller should wait before retrying.
func (l *Limiter) Admit(provider string) error {
	b := l.bucketFor(provider)
	ok, wait := b.tryAcquire()
	tokens, capacity := b.snapshot()
	bucketTokensGauge.WithLabelValues(provider).Set(tokens)
	bucketCapacityGauge.WithLabelValues(provider).Set(capacity)
	if !ok {
		return axonerr.RateLimited(wait)
	}
	return nil
}

var (
	bucketTokensGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "axon_bucket_tokens",
		Help: "Tokens currently available in a provider's rate-limit bucket.",
	}, []string{"provider"})
	bucketCapacityGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "axon_bucket_capacity",
		Help: "Configured capacity of a provider's rate-limit bucket.",
	}, []string{"provider"})
)

func init() {
	prometheus.MustRegister(bucketTokensGauge, bucketCapacityGauge)
}
