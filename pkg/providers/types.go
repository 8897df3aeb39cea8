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

// Package providers defines the normalized wire-independent LLM request/
// response shapes and the LLMProvider contract every adapter implements.
package providers

import "context"

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentBlock is one piece of a Message's content: plain text, a tool
// call the model wants executed, or a tool result being fed back in.
type ContentBlock struct {
	Type string `json:"type"` // "text", "tool_call", "tool_result"

	Text string `json:"text,omitempty"`

	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`

	ToolResult    any  `json:"tool_result,omitempty"`
	ToolIsError   bool `json:"tool_is_error,omitempty"`
}

// Message is one turn of a normalized conversation.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// Text returns the concatenated text blocks of a message, ignoring tool
// blocks. Convenient for callers that only care about plain prose.
func (m Message) Text() string {
	out := ""
	for _, b := range m.Content {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}

// ToolCall is a single tool invocation the model requested.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// Usage reports token accounting for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// SamplingParams carries the provider-agnostic sampling knobs. Not every
// provider understands every field; adapters translate what they can.
type SamplingParams struct {
	Temperature      float64
	TopP             float64
	MaxTokens        int
	RepetitionPenalty float64 // 1.0 means "no penalty"; adapters that want an
	                          // additive penalty instead translate to (RepetitionPenalty - 1).
	StopSequences    []string
}

// ToolSpec describes one tool available for the model to call, in the
// normalized shape; adapters translate it to their own wire format.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// CompletionRequest is everything an adapter needs to run one completion.
type CompletionRequest struct {
	Model    string
	Messages []Message
	System   string
	Tools    []ToolSpec
	Sampling SamplingParams

	// CredentialRef optionally names a specific credential to resolve
	// instead of the provider's default, so distinct agents sharing a
	// model can run under distinct API keys.
	CredentialRef string
}

// LLMResponse is a normalized completion result.
type LLMResponse struct {
	Message    Message
	ToolCalls  []ToolCall
	Usage      Usage
	StopReason string

	// ModelActuallyUsed records the model that produced this response,
	// which may differ from the originally requested model when a
	// fallback chain was followed.
	ModelActuallyUsed string
}

// TokenCallback receives incremental text as it streams in.
type TokenCallback func(delta string)

// LLMProvider is the contract every provider adapter implements.
type LLMProvider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*LLMResponse, error)
}

// StreamingLLMProvider is implemented by adapters that can stream partial
// text back to the caller via TokenCallback before returning the final
// normalized response.
type StreamingLLMProvider interface {
	LLMProvider
	CompleteStreaming(ctx context.Context, req CompletionRequest, onToken TokenCallback) (*LLMResponse, error)
}
