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
package toolnegotiator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dr-jd-allen/axon/pkg/axonerr"
	"github.com/dr-jd-allen/axon/pkg/providers"
)

type stubTool struct {
	name   string
	schema map[string]any
	result any
	err    error
}

func (s stubTool) Name() string                { return s.name }
func (s stubTool) Description() string         { return "stub tool " + s.name }
func (s stubTool) InputSchema() map[string]any { return s.schema }
func (s stubTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return s.result, s.err
}

func TestAdvertiseReturnsAllToolsWithNoAllowlist(t *testing.T) {
	n := New()
	n.Register(stubTool{name: "search"})
	n.Register(stubTool{name: "calc"})

	specs := n.Advertise("researcher")
	assert.Len(t, specs, 2)
}

func TestAdvertiseRespectsAllowlist(t *testing.T) {
	n := New()
	n.Register(stubTool{name: "search"})
	n.Register(stubTool{name: "calc"})
	n.SetAllowlist("researcher", []string{"search"})

	specs := n.Advertise("researcher")
	require.Len(t, specs, 1)
	assert.Equal(t, "search", specs[0].Name)
}

func TestInvokeUnknownToolIsValidationError(t *testing.T) {
	n := New()
	_, err := n.Invoke(context.Background(), "default", providers.ToolCall{Name: "missing"})
	require.Error(t, err)

	var classified *axonerr.ClassifiedError
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, axonerr.KindValidation, classified.Kind)
}

func TestInvokeRejectsToolOutsideAllowlist(t *testing.T) {
	n := New()
	n.Register(stubTool{name: "search"})
	n.SetAllowlist("restricted", []string{"calc"})

	_, err := n.Invoke(context.Background(), "restricted", providers.ToolCall{Name: "search"})
	require.Error(t, err)

	var classified *axonerr.ClassifiedError
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, axonerr.KindValidation, classified.Kind)
}

func TestInvokeValidatesArgumentsAgainstSchema(t *testing.T) {
	n := New()
	n.Register(stubTool{name: "search", schema: map[string]any{
		"type":     "object",
		"required": []any{"query"},
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
		},
	}})

	_, err := n.Invoke(context.Background(), "default", providers.ToolCall{Name: "search", Input: map[string]any{}})
	require.Error(t, err)

	var classified *axonerr.ClassifiedError
	require.True(t, errors.As(err, &classified))
	assert.Equal(t, axonerr.KindValidation, classified.Kind)
}

func TestInvokeSuccessFormatsStringResult(t *testing.T) {
	n := New()
	n.Register(stubTool{name: "search", result: "found it"})

	block, err := n.Invoke(context.Background(), "default", providers.ToolCall{ID: "call1", Name: "search", Input: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "tool_result", block.Type)
	assert.Equal(t, "call1", block.ToolCallID)
	assert.False(t, block.ToolIsError)
	assert.Equal(t, "found it", block.ToolResult)
}

func TestInvokeSuccessMarshalsStructuredResult(t *testing.T) {
	n := New()
	n.Register(stubTool{name: "search", result: map[string]any{"count": 3}})

	block, err := n.Invoke(context.Background(), "default", providers.ToolCall{Name: "search", Input: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, block.ToolIsError)
	assert.JSONEq(t, `{"count":3}`, block.ToolResult.(string))
}

func TestInvokeToolErrorIsReportedNotPropagated(t *testing.T) {
	n := New()
	n.Register(stubTool{name: "search", err: errors.New("upstream failure")})

	block, err := n.Invoke(context.Background(), "default", providers.ToolCall{Name: "search", Input: map[string]any{}})
	require.NoError(t, err, "tool invocation errors surface in the ContentBlock, not as a Go error")
	assert.True(t, block.ToolIsError)
	assert.Equal(t, "upstream failure", block.ToolResult)
}

func TestParseToolCallsPassesThroughResponse(t *testing.T) {
	calls := []providers.ToolCall{{ID: "1", Name: "search"}}
	resp := &providers.LLMResponse{ToolCalls: calls}
	assert.Equal(t, calls, ParseToolCalls(resp))
	assert.Nil(t, ParseToolCalls(nil))
}
