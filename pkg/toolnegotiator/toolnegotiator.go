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

// Package toolnegotiator holds the static tool registry and mediates the
// round trip between a provider's tool-call format and a tool's own
// execution contract: advertise what an agent's archetype may call,
// translate provider tool calls into invocations, validate arguments
// against each tool's JSON Schema, and format results back for the
// provider.
package toolnegotiator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dr-jd-allen/axon/pkg/axonerr"
	"github.com/dr-jd-allen/axon/pkg/providers"
)

// Tool is a single invocable capability. Input/output shapes are
// intentionally generic (map[string]any) since every tool carries its own
// JSON Schema for validation.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// Negotiator holds the static tool set plus a per-archetype allow-list.
type Negotiator struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	allowlist map[string][]string // archetype -> tool names; absent archetype means "all tools"
}

func New() *Negotiator {
	return &Negotiator{tools: make(map[string]Tool), allowlist: make(map[string][]string)}
}

// Register adds a tool to the static registry.
func (n *Negotiator) Register(t Tool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tools[t.Name()] = t
}

// SetAllowlist restricts which tools an archetype may see and call.
func (n *Negotiator) SetAllowlist(archetype string, toolNames []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.allowlist[archetype] = toolNames
}

// Advertise returns the ToolSpecs a given archetype may use, for inclusion
// in a CompletionRequest.
func (n *Negotiator) Advertise(archetype string) []providers.ToolSpec {
	n.mu.RLock()
	defer n.mu.RUnlock()

	allowed, restricted := n.allowlist[archetype]
	var names []string
	if restricted {
		names = allowed
	} else {
		for name := range n.tools {
			names = append(names, name)
		}
	}

	out := make([]providers.ToolSpec, 0, len(names))
	for _, name := range names {
		t, ok := n.tools[name]
		if !ok {
			continue
		}
		out = append(out, providers.ToolSpec{Name: t.Name(), Description: t.Description(), InputSchema: t.InputSchema()})
	}
	return out
}

// Invoke validates a tool call's arguments against the tool's schema, then
// executes it. Unknown tool names and schema violations both surface as
// axonerr.Validation.
func (n *Negotiator) Invoke(ctx context.Context, archetype string, call providers.ToolCall) (providers.ContentBlock, error) {
	n.mu.RLock()
	t, ok := n.tools[call.Name]
	allowed, restricted := n.allowlist[archetype]
	n.mu.RUnlock()

	if !ok {
		return providers.ContentBlock{}, axonerr.Validation(fmt.Sprintf("unknown tool %q", call.Name))
	}
	if restricted && !contains(allowed, call.Name) {
		return providers.ContentBlock{}, axonerr.Validation(fmt.Sprintf("tool %q not permitted for archetype %q", call.Name, archetype))
	}

	if err := validate(t.InputSchema(), call.Input); err != nil {
		return providers.ContentBlock{}, axonerr.Validation(fmt.Sprintf("tool %q arguments: %v", call.Name, err))
	}

	result, err := t.Invoke(ctx, call.Input)
	if err != nil {
		return formatResult(call, nil, err), nil
	}
	return formatResult(call, result, nil), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func validate(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}
	schemaLoader := gojsonschema.NewGoLoader(schema)
	docLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%v", msgs)
	}
	return nil
}

// formatResult converts a tool's raw invocation outcome into the
// ContentBlock shape providers expect for a tool_result message.
func formatResult(call providers.ToolCall, result any, invokeErr error) providers.ContentBlock {
	block := providers.ContentBlock{Type: "tool_result", ToolCallID: call.ID, ToolName: call.Name}
	if invokeErr != nil {
		block.ToolIsError = true
		block.ToolResult = invokeErr.Error()
		return block
	}

	switch v := result.(type) {
	case string:
		block.ToolResult = v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			block.ToolIsError = true
			block.ToolResult = fmt.Sprintf("failed to encode tool result: %v", err)
			return block
		}
		block.ToolResult = string(raw)
	}
	return block
}

// ParseToolCalls extracts the ToolCall entries a provider response carries,
// a thin passthrough kept here so callers only depend on this package for
// the full tool round trip rather than reaching into providers directly.
func ParseToolCalls(resp *providers.LLMResponse) []providers.ToolCall {
	if resp == nil {
		return nil
	}
	return resp.ToolCalls
}
