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

// Package breaker implements per-(scope,name) circuit breakers guarding
// calls into providers and agents. Unlike a generic exponential-backoff
// breaker, re-opening after a half-open probe failure re-arms the same
// timeout rather than doubling it, matching the bounded-recovery
// semantics the orchestration core expects from a provider outage.
package breaker

import (
	"sync"
	"time"

	"github.com/dr-jd-allen/axon/pkg/axonerr"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// State is one of CLOSED, OPEN, HALF_OPEN.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config controls a single breaker's thresholds.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	Timeout          time.Duration // time spent open before a half-open probe is allowed
	Window           time.Duration // rolling window used for reporting only
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		Window:           5 * time.Minute,
	}
}

// event is one outcome recorded in the rolling reporting window.
type event struct {
	at      time.Time
	success bool
}

// Breaker is a single (scope,name) circuit breaker. A half-open probe that
// succeeds closes the circuit immediately; a single failure reopens it and
// re-arms the same Timeout (no doubling).
type Breaker struct {
	scope, name string
	cfg         Config
	logger      *zap.Logger

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	lastStateChange time.Time
	history         []event
	probeInFlight   bool // HALF_OPEN admits exactly one probe at a time
}

func newBreaker(scope, name string, cfg Config, logger *zap.Logger) *Breaker {
	return &Breaker{
		scope:           scope,
		name:            name,
		cfg:             cfg,
		logger:          logger,
		state:           Closed,
		lastStateChange: time.Now(),
	}
}

// Allow reports whether a call may proceed, transitioning OPEN->HALF_OPEN
// when the timeout has elapsed. It returns a CircuitOpen classified error
// when the call must be rejected.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case HalfOpen:
		if b.probeInFlight {
			return axonerr.CircuitOpen(b.scope, b.name, b.cfg.Timeout)
		}
		b.probeInFlight = true
		return nil
	case Open:
		elapsed := time.Since(b.lastFailureTime)
		if elapsed >= b.cfg.Timeout {
			b.setState(HalfOpen)
			b.probeInFlight = true
			return nil
		}
		return axonerr.CircuitOpen(b.scope, b.name, b.cfg.Timeout-elapsed)
	default:
		return nil
	}
}

// RecordSuccess zeroes the failure count in CLOSED and closes the circuit
// from HALF_OPEN; in OPEN it only records the outcome in the history.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.record(true)
	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.failureCount = 0
		b.probeInFlight = false
		b.setState(Closed)
	}
}

// RecordFailure increments the failure count (CLOSED) or immediately
// reopens the circuit (HALF_OPEN), re-arming the same Timeout.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.record(false)
	b.lastFailureTime = time.Now()

	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.setState(Open)
		}
	case HalfOpen:
		b.probeInFlight = false
		b.setState(Open)
	}
}

func (b *Breaker) record(success bool) {
	cutoff := time.Now().Add(-b.cfg.Window)
	b.history = append(b.history, event{at: time.Now(), success: success})
	kept := b.history[:0]
	for _, e := range b.history {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	b.history = kept
}

func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	from := b.state
	b.state = s
	b.lastStateChange = time.Now()
	breakerStateGauge.WithLabelValues(b.scope, b.name).Set(float64(s))
	b.logger.Info("breaker_state_change",
		zap.String("scope", b.scope),
		zap.String("name", b.name),
		zap.String("from", from.String()),
		zap.String("to", s.String()))
}

// Reset forces the breaker back to CLOSED, for manual operator recovery.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.probeInFlight = false
	b.setState(Closed)
}

// Stats is a point-in-time snapshot of a breaker's state for reporting.
type Stats struct {
	Scope            string
	Name             string
	State            State
	FailureCount     int
	SuccessesInWindow int
	FailuresInWindow  int
	LastStateChange  time.Time
}

func (b *Breaker) stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{Scope: b.scope, Name: b.name, State: b.state, FailureCount: b.failureCount, LastStateChange: b.lastStateChange}
	for _, e := range b.history {
		if e.success {
			s.SuccessesInWindow++
		} else {
			s.FailuresInWindow++
		}
	}
	return s
}

// Registry owns one Breaker per (scope,name) pair, created lazily.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config
	logger   *zap.Logger
}

func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{breakers: make(map[string]*Breaker), cfg: cfg, logger: logger}
}

func key(scope, name string) string { return scope + "/" + name }

// Get returns the breaker for (scope,name), creating it on first use.
func (r *Registry) Get(scope, name string) *Breaker {
	k := key(scope, name)

	r.mu.RLock()
	b, ok := r.breakers[k]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[k]; ok {
		return b
	}
	b = newBreaker(scope, name, r.cfg, r.logger)
	r.breakers[k] = b
	return b
}

// ListBreakers returns a stats snapshot for every breaker created so far.
func (r *Registry) ListBreakers() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Stats, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.stats())
	}
	return out
}

// ResetAll force-closes every breaker in the registry.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		b.Reset()
	}
}

var breakerStateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "axon_breaker_state",
	Help: "Circuit breaker state per (scope,name): 0=closed 1=open 2=half_open.",
}, []string{"scope", "name"})

func init() {
	prometheus.MustRegister(breakerStateGauge)
}
