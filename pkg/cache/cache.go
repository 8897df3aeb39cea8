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

// Package cache holds a TTL+LRU cache of completion responses, keyed by a
// deterministic fingerprint over the request shape. A background sweep,
// scheduled with robfig/cron, evicts expired entries between accesses.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dr-jd-allen/axon/pkg/providers"
)

const (
	DefaultTTL       = 10 * time.Minute
	DefaultCapacity  = 1000
	DefaultSweepCron = "@every 30s"
)

// Fingerprint derives a stable key over the parts of a completion request
// that determine its output: model, normalized messages, and sampling
// parameters. Nonces, user IDs, and timestamps must never be folded in by
// callers, so the cache only sees what it's given here.
func Fingerprint(model string, messages []providers.Message, sampling providers.SamplingParams) string {
	type normalizedBlock struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
		Tool string `json:"tool,omitempty"`
	}
	type normalizedMessage struct {
		Role   string            `json:"role"`
		Blocks []normalizedBlock `json:"blocks"`
	}

	norm := make([]normalizedMessage, 0, len(messages))
	for _, m := range messages {
		blocks := make([]normalizedBlock, 0, len(m.Content))
		for _, b := range m.Content {
			blocks = append(blocks, normalizedBlock{Type: b.Type, Text: b.Text, Tool: b.ToolName})
		}
		norm = append(norm, normalizedMessage{Role: string(m.Role), Blocks: blocks})
	}

	payload := struct {
		Model    string              `json:"model"`
		Messages []normalizedMessage `json:"messages"`
		Temp     float64             `json:"temp"`
		TopP     float64             `json:"top_p"`
		MaxTok   int                 `json:"max_tok"`
		RepPen   float64             `json:"rep_pen"`
		Stop     []string            `json:"stop"`
	}{
		Model:    model,
		Messages: norm,
		Temp:     sampling.Temperature,
		TopP:     sampling.TopP,
		MaxTok:   sampling.MaxTokens,
		RepPen:   sampling.RepetitionPenalty,
		Stop:     sortedCopy(sampling.StopSequences),
	}

	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

type entry struct {
	key       string
	value     *providers.LLMResponse
	expiresAt time.Time
	elem      *list.Element
}

// Cache is an LRU cache bounded by Capacity, with per-entry TTL expiry.
// Zero value is unusable; construct with New.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*entry
	order    *list.List // front = most recently used

	disabled bool

	cron *cron.Cron

	hits   uint64
	misses uint64
}

type Config struct {
	Capacity  int
	TTL       time.Duration
	SweepCron string // robfig/cron expression; empty uses DefaultSweepCron
}

func New(cfg Config) *Cache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	c := &Cache{
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		entries:  make(map[string]*entry),
		order:    list.New(),
	}

	sweepExpr := cfg.SweepCron
	if sweepExpr == "" {
		sweepExpr = DefaultSweepCron
	}
	c.cron = cron.New()
	c.cron.AddFunc(sweepExpr, c.sweep)
	c.cron.Start()

	return c
}

// Disable turns the cache into a pass-through: Get always misses and Put
// is a no-op, without losing already-scheduled state.
func (c *Cache) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled = true
}

func (c *Cache) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled = false
}

// Get returns a cached response for fingerprint, if present and unexpired.
func (c *Cache) Get(fingerprint string) (*providers.LLMResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disabled {
		return nil, false
	}

	e, ok := c.entries[fingerprint]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeLocked(e)
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(e.elem)
	c.hits++
	return e.value, true
}

// Put stores resp under fingerprint, evicting the least-recently-used
// entry if the cache is at capacity.
func (c *Cache) Put(fingerprint string, resp *providers.LLMResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disabled {
		return
	}

	if e, ok := c.entries[fingerprint]; ok {
		e.value = resp
		e.expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToFront(e.elem)
		return
	}

	e := &entry{key: fingerprint, value: resp, expiresAt: time.Now().Add(c.ttl)}
	e.elem = c.order.PushFront(e)
	c.entries[fingerprint] = e

	for len(c.entries) > c.capacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.removeLocked(back.Value.(*entry))
	}
}

func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			c.order.Remove(e.elem)
			delete(c.entries, k)
		}
	}
}

type Stats struct {
	Hits    uint64
	Misses  uint64
	Entries int
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: uint64(c.misses), Entries: len(c.entries)}
}

// Stop halts the background sweep. Call on shutdown.
func (c *Cache) Stop() {
	if c.cron != nil {
		c.cron.Stop()
	}
}
