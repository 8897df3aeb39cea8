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

// Package axonerr defines the error taxonomy shared by every layer of the
// orchestration core: providers classify failures into it, the LLM service
// propagates it, and the gateway serializes it onto the wire.
package axonerr

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies one of the taxonomy's error categories. Kinds are not Go
// types — callers compare Kind values, not error types, so a single
// ClassifiedError can travel through retry/fallback logic without type
// assertions at every hop.
type Kind string

const (
	KindRateLimited          Kind = "rate_limited"
	KindAuthentication       Kind = "authentication"
	KindModelNotSupported    Kind = "model_not_supported"
	KindContextWindow        Kind = "context_window_exceeded"
	KindValidation           Kind = "validation"
	KindProvider             Kind = "provider"
	KindCircuitOpen          Kind = "circuit_open"
	KindCompetitiveTimeout   Kind = "competitive_timeout"
	KindConsensusNotReached  Kind = "consensus_not_reached"
	KindOrchestrationTimeout Kind = "orchestration_timeout"
)

// ClassifiedError is the concrete error type returned across package
// boundaries. Fields beyond Kind are filled in where they carry meaning for
// that kind (e.g. RetryAfter only matters for KindRateLimited).
type ClassifiedError struct {
	Kind       Kind
	Retryable  bool
	Provider   string
	StatusCode int
	Message    string

	// RetryAfter is set for KindRateLimited.
	RetryAfter time.Duration
	// KnownModels is set for KindModelNotSupported.
	KnownModels []string
	// Estimated/Limit are set for KindContextWindow.
	EstimatedTokens int
	LimitTokens     int

	wrapped error
}

func (e *ClassifiedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.wrapped)
	}
	return string(e.Kind)
}

func (e *ClassifiedError) Unwrap() error { return e.wrapped }

// Is reports whether target names the same Kind, so callers can write
// errors.Is(err, axonerr.RateLimited(0)) or compare via Kind directly.
func (e *ClassifiedError) Is(target error) bool {
	var other *ClassifiedError
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

func RateLimited(retryAfter time.Duration) *ClassifiedError {
	return &ClassifiedError{Kind: KindRateLimited, Retryable: true, RetryAfter: retryAfter}
}

func Authentication(provider string, wrapped error) *ClassifiedError {
	return &ClassifiedError{Kind: KindAuthentication, Retryable: false, Provider: provider, wrapped: wrapped}
}

func ModelNotSupported(model string, known []string) *ClassifiedError {
	return &ClassifiedError{
		Kind:        KindModelNotSupported,
		Retryable:   false,
		Message:     fmt.Sprintf("unknown model %q", model),
		KnownModels: known,
	}
}

func ContextWindowExceeded(estimated, limit int) *ClassifiedError {
	return &ClassifiedError{
		Kind:            KindContextWindow,
		Retryable:       false,
		EstimatedTokens: estimated,
		LimitTokens:     limit,
		Message:         fmt.Sprintf("estimated %d tokens exceeds limit %d", estimated, limit),
	}
}

func Validation(message string) *ClassifiedError {
	return &ClassifiedError{Kind: KindValidation, Retryable: false, Message: message}
}

func Provider(provider string, statusCode int, retryable bool, wrapped error) *ClassifiedError {
	return &ClassifiedError{Kind: KindProvider, Retryable: retryable, Provider: provider, StatusCode: statusCode, wrapped: wrapped}
}

func CircuitOpen(scope, name string, retryAfter time.Duration) *ClassifiedError {
	return &ClassifiedError{
		Kind:       KindCircuitOpen,
		Retryable:  true,
		RetryAfter: retryAfter,
		Message:    fmt.Sprintf("circuit open for %s/%s", scope, name),
	}
}

func CompetitiveTimeout() *ClassifiedError {
	return &ClassifiedError{Kind: KindCompetitiveTimeout, Retryable: false, Message: "no agent succeeded before deadline"}
}

func ConsensusNotReached(reason string) *ClassifiedError {
	return &ClassifiedError{Kind: KindConsensusNotReached, Retryable: false, Message: reason}
}

func OrchestrationTimeout() *ClassifiedError {
	return &ClassifiedError{Kind: KindOrchestrationTimeout, Retryable: false, Message: "orchestration deadline expired"}
}

// IsRetryable classifies a raw transport/HTTP failure into the retryable
// bucket per spec §4.1: 429/500/502/503/504 and transport resets are
// retryable; everything else (auth, validation, not-found, context-window)
// is terminal.
func IsRetryable(statusCode int, transportErr bool) bool {
	if transportErr {
		return true
	}
	switch statusCode {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
