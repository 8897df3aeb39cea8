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

// Package anthropic adapts Claude models to the providers.LLMProvider
// contract using the official Anthropic SDK.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dr-jd-allen/axon/pkg/axonerr"
	"github.com/dr-jd-allen/axon/pkg/providers"
)

const (
	DefaultModel     = "claude-3-5-sonnet-20241022"
	DefaultMaxTokens = 4096
	DefaultTimeout   = 60 * time.Second
)

// Config configures a Client.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int64
	Timeout   time.Duration
}

// Client implements providers.StreamingLLMProvider for Anthropic's Messages API.
type Client struct {
	sdk       anthropicsdk.Client
	model     string
	maxTokens int64
}

func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	return &Client{
		sdk:       anthropicsdk.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

func (c *Client) Name() string { return "anthropic" }

func (c *Client) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.LLMResponse, error) {
	params, err := buildParams(c.model, c.maxTokens, req)
	if err != nil {
		return nil, err
	}

	message, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyError(err)
	}
	return convertResponse(message), nil
}

func (c *Client) CompleteStreaming(ctx context.Context, req providers.CompletionRequest, onToken providers.TokenCallback) (*providers.LLMResponse, error) {
	params, err := buildParams(c.model, c.maxTokens, req)
	if err != nil {
		return nil, err
	}

	stream := c.sdk.Messages.NewStreaming(ctx, params)

	var text strings.Builder
	var toolCalls []providers.ToolCall
	toolInputBuffers := make(map[int64]*strings.Builder)
	toolIndexByBlock := make(map[int64]int)
	var usage providers.Usage
	var stopReason string

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			if event.ContentBlock.Type == "tool_use" {
				idx := len(toolCalls)
				toolCalls = append(toolCalls, providers.ToolCall{
					ID:    event.ContentBlock.ID,
					Name:  event.ContentBlock.Name,
					Input: map[string]any{},
				})
				toolInputBuffers[event.Index] = &strings.Builder{}
				toolIndexByBlock[event.Index] = idx
			}
		case "content_block_delta":
			if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				text.WriteString(event.Delta.Text)
				if onToken != nil {
					onToken(event.Delta.Text)
				}
			}
			if event.Delta.Type == "input_json_delta" {
				if buf, ok := toolInputBuffers[event.Index]; ok {
					buf.WriteString(event.Delta.PartialJSON)
				}
			}
		case "content_block_stop":
			if buf, ok := toolInputBuffers[event.Index]; ok && buf.Len() > 0 {
				var input map[string]any
				if err := json.Unmarshal([]byte(buf.String()), &input); err == nil {
					toolCalls[toolIndexByBlock[event.Index]].Input = input
				}
			}
		case "message_delta":
			stopReason = string(event.Delta.StopReason)
			usage.CompletionTokens = int(event.Usage.OutputTokens)
		case "message_start":
			usage.PromptTokens = int(event.Message.Usage.InputTokens)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classifyError(err)
	}

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return &providers.LLMResponse{
		Message:    providers.Message{Role: providers.RoleAssistant, Content: []providers.ContentBlock{{Type: "text", Text: text.String()}}},
		ToolCalls:  toolCalls,
		Usage:      usage,
		StopReason: stopReason,
	}, nil
}

func buildParams(model string, maxTokens int64, req providers.CompletionRequest) (anthropicsdk.MessageNewParams, error) {
	if req.Model != "" {
		model = req.Model
	}
	if req.Sampling.MaxTokens > 0 {
		maxTokens = int64(req.Sampling.MaxTokens)
	}

	sdkMessages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropicsdk.MessageNewParams{}, err
	}
	if len(sdkMessages) == 0 {
		return anthropicsdk.MessageNewParams{}, axonerr.Validation("no messages to send")
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		Messages:  sdkMessages,
		MaxTokens: maxTokens,
	}
	if req.Sampling.Temperature > 0 {
		params.Temperature = anthropicsdk.Float(req.Sampling.Temperature)
	}
	if req.System != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.System}}
	}
	if len(req.Sampling.StopSequences) > 0 {
		params.StopSequences = req.Sampling.StopSequences
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	return params, nil
}

func convertMessages(msgs []providers.Message) ([]anthropicsdk.MessageParam, error) {
	var out []anthropicsdk.MessageParam
	for _, m := range msgs {
		switch m.Role {
		case providers.RoleSystem:
			continue // handled via params.System by the caller
		case providers.RoleUser:
			var blocks []anthropicsdk.ContentBlockParamUnion
			for _, b := range m.Content {
				switch b.Type {
				case "text":
					if b.Text != "" {
						blocks = append(blocks, anthropicsdk.NewTextBlock(b.Text))
					}
				case "tool_result":
					blocks = append(blocks, anthropicsdk.NewToolResultBlock(b.ToolCallID, fmt.Sprint(b.ToolResult), b.ToolIsError))
				}
			}
			if len(blocks) > 0 {
				out = append(out, anthropicsdk.NewUserMessage(blocks...))
			}
		case providers.RoleAssistant:
			var blocks []anthropicsdk.ContentBlockParamUnion
			for _, b := range m.Content {
				switch b.Type {
				case "text":
					if b.Text != "" {
						blocks = append(blocks, anthropicsdk.NewTextBlock(b.Text))
					}
				case "tool_call":
					input := b.ToolInput
					if input == nil {
						input = map[string]any{}
					}
					blocks = append(blocks, anthropicsdk.NewToolUseBlock(b.ToolCallID, input, b.ToolName))
				}
			}
			if len(blocks) > 0 {
				out = append(out, anthropicsdk.NewAssistantMessage(blocks...))
			}
		case providers.RoleTool:
			for _, b := range m.Content {
				out = append(out, anthropicsdk.NewUserMessage(
					anthropicsdk.NewToolResultBlock(b.ToolCallID, fmt.Sprint(b.ToolResult), b.ToolIsError),
				))
			}
		}
	}
	return out, nil
}

func convertTools(tools []providers.ToolSpec) []anthropicsdk.ToolUnionParam {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schemaJSON, _ := json.Marshal(t.InputSchema)
		var inputSchema anthropicsdk.ToolInputSchemaParam
		_ = json.Unmarshal(schemaJSON, &inputSchema)

		tool := anthropicsdk.ToolParam{
			Name:        t.Name,
			Description: anthropicsdk.String(t.Description),
			InputSchema: inputSchema,
		}
		out = append(out, anthropicsdk.ToolUnionParam{OfTool: &tool})
	}
	return out
}

func convertResponse(message *anthropicsdk.Message) *providers.LLMResponse {
	resp := &providers.LLMResponse{
		StopReason: string(message.StopReason),
		Usage: providers.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}

	var content []providers.ContentBlock
	var toolCalls []providers.ToolCall
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			content = append(content, providers.ContentBlock{Type: "text", Text: block.Text})
		case "tool_use":
			var input map[string]any
			if len(block.Input) > 0 {
				_ = json.Unmarshal(block.Input, &input)
			}
			if input == nil {
				input = map[string]any{}
			}
			toolCalls = append(toolCalls, providers.ToolCall{ID: block.ID, Name: block.Name, Input: input})
		}
	}
	resp.Message = providers.Message{Role: providers.RoleAssistant, Content: content}
	resp.ToolCalls = toolCalls
	return resp
}

// classifyError maps SDK errors to the shared taxonomy. The SDK surfaces
// HTTP status via its own error type; we pattern-match on the message
// text for the cases the SDK does not expose a typed status for.
func classifyError(err error) error {
	msg := err.Error()
	statusCode := 0
	switch {
	case strings.Contains(msg, "401"):
		return axonerr.Authentication("anthropic", err)
	case strings.Contains(msg, "429"):
		return axonerr.RateLimited(0)
	case strings.Contains(msg, "500"):
		statusCode = 500
	case strings.Contains(msg, "503"):
		statusCode = 503
	}
	return axonerr.Provider("anthropic", statusCode, axonerr.IsRetryable(statusCode, statusCode == 0), err)
}
