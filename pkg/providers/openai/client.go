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

// Package openai adapts OpenAI's chat completions API to the
// providers.LLMProvider contract via a hand-rolled HTTP client, matching
// the wire format OpenAI-compatible endpoints (OpenAI itself, many local
// gateways) expose.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dr-jd-allen/axon/pkg/axonerr"
	"github.com/dr-jd-allen/axon/pkg/providers"
	"github.com/dr-jd-allen/axon/pkg/providers/sseclient"
)

const (
	DefaultModel     = "gpt-4.1"
	DefaultEndpoint  = "https://api.openai.com/v1/chat/completions"
	DefaultTimeout   = 60 * time.Second
	DefaultMaxTokens = 4096
)

type Config struct {
	APIKey    string
	Model     string
	Endpoint  string
	Timeout   time.Duration
	MaxTokens int
}

type Client struct {
	apiKey     string
	model      string
	endpoint   string
	maxTokens  int
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &Client{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		endpoint:   cfg.Endpoint,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Name() string { return "openai" }

type chatMessage struct {
	Role      string     `json:"role"`
	Content   any        `json:"content,omitempty"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type toolDef struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type chatRequest struct {
	Model           string        `json:"model"`
	Messages        []chatMessage `json:"messages"`
	MaxTokens       int           `json:"max_tokens,omitempty"`
	Temperature     float64       `json:"temperature,omitempty"`
	PresencePenalty float64       `json:"presence_penalty,omitempty"`
	Tools           []toolDef     `json:"tools,omitempty"`
	ToolChoice      string        `json:"tool_choice,omitempty"`
	Stream          bool          `json:"stream,omitempty"`
}

// translatePenalty maps the normalized repetition penalty (1.0 = neutral)
// onto OpenAI's presence_penalty scale, where 0 is neutral.
func translatePenalty(p float64) float64 {
	if p == 0 || p == 1.0 {
		return 0
	}
	return p - 1
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	Delta        chatMessage `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *Client) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.LLMResponse, error) {
	body := c.buildRequest(req, false)
	resp, err := c.call(ctx, body)
	if err != nil {
		return nil, err
	}
	return convertResponse(resp), nil
}

func (c *Client) CompleteStreaming(ctx context.Context, req providers.CompletionRequest, onToken providers.TokenCallback) (*providers.LLMResponse, error) {
	body := c.buildRequest(req, true)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, axonerr.Validation(err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, axonerr.Provider("openai", 0, false, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, axonerr.Provider("openai", 0, true, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyStatus(httpResp.StatusCode, readBody(httpResp.Body))
	}

	var text strings.Builder
	var usage providers.Usage
	var stopReason string
	toolCallsByIndex := map[int]*providers.ToolCall{}
	toolArgsByIndex := map[int]*strings.Builder{}

	reader := sseclient.NewReader(httpResp.Body)
	for {
		ev, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, axonerr.Provider("openai", 0, true, err)
		}
		if ev.Done {
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			stopReason = choice.FinishReason
		}
		if s, ok := choice.Delta.Content.(string); ok && s != "" {
			text.WriteString(s)
			if onToken != nil {
				onToken(s)
			}
		}
		for i, tc := range choice.Delta.ToolCalls {
			idx := i
			if _, ok := toolCallsByIndex[idx]; !ok {
				toolCallsByIndex[idx] = &providers.ToolCall{ID: tc.ID, Name: tc.Function.Name}
				toolArgsByIndex[idx] = &strings.Builder{}
			}
			if tc.ID != "" {
				toolCallsByIndex[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCallsByIndex[idx].Name = tc.Function.Name
			}
			toolArgsByIndex[idx].WriteString(tc.Function.Arguments)
		}
		usage.PromptTokens = chunk.Usage.PromptTokens
		usage.CompletionTokens = chunk.Usage.CompletionTokens
		usage.TotalTokens = chunk.Usage.TotalTokens
	}

	var toolCalls []providers.ToolCall
	for i := 0; i < len(toolCallsByIndex); i++ {
		tc := toolCallsByIndex[i]
		if tc == nil {
			continue
		}
		var input map[string]any
		_ = json.Unmarshal([]byte(toolArgsByIndex[i].String()), &input)
		if input == nil {
			input = map[string]any{}
		}
		tc.Input = input
		toolCalls = append(toolCalls, *tc)
	}

	return &providers.LLMResponse{
		Message:    providers.Message{Role: providers.RoleAssistant, Content: []providers.ContentBlock{{Type: "text", Text: text.String()}}},
		ToolCalls:  toolCalls,
		Usage:      usage,
		StopReason: stopReason,
	}, nil
}

func (c *Client) buildRequest(req providers.CompletionRequest, stream bool) chatRequest {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := c.maxTokens
	if req.Sampling.MaxTokens > 0 {
		maxTokens = req.Sampling.MaxTokens
	}

	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	body := chatRequest{
		Model:           model,
		Messages:        messages,
		MaxTokens:       maxTokens,
		Temperature:     req.Sampling.Temperature,
		PresencePenalty: translatePenalty(req.Sampling.RepetitionPenalty),
		Stream:          stream,
	}
	if len(req.Tools) > 0 {
		body.Tools = convertTools(req.Tools)
		body.ToolChoice = "auto"
	}
	return body
}

func convertMessage(m providers.Message) chatMessage {
	switch m.Role {
	case providers.RoleTool:
		out := chatMessage{Role: "tool"}
		for _, b := range m.Content {
			out.ToolCallID = b.ToolCallID
			out.Content = fmt.Sprint(b.ToolResult)
		}
		return out
	case providers.RoleAssistant:
		out := chatMessage{Role: "assistant", Content: m.Text()}
		for _, b := range m.Content {
			if b.Type != "tool_call" {
				continue
			}
			args, _ := json.Marshal(b.ToolInput)
			tc := toolCall{ID: b.ToolCallID, Type: "function"}
			tc.Function.Name = b.ToolName
			tc.Function.Arguments = string(args)
			out.ToolCalls = append(out.ToolCalls, tc)
		}
		return out
	default:
		return chatMessage{Role: string(m.Role), Content: m.Text()}
	}
}

func convertTools(tools []providers.ToolSpec) []toolDef {
	out := make([]toolDef, 0, len(tools))
	for _, t := range tools {
		d := toolDef{Type: "function"}
		d.Function.Name = t.Name
		d.Function.Description = t.Description
		d.Function.Parameters = t.InputSchema
		out = append(out, d)
	}
	return out
}

func (c *Client) call(ctx context.Context, req chatRequest) (*chatResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, axonerr.Validation(err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, axonerr.Provider("openai", 0, false, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, axonerr.Provider("openai", 0, true, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, axonerr.Provider("openai", 0, true, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyStatus(httpResp.StatusCode, respBody)
	}

	// A misconfigured endpoint (e.g. a proxy returning an HTML error page
	// instead of JSON) fails content-type sniffing rather than silently
	// producing a zero-value response.
	if !json.Valid(respBody) || looksLikeHTML(respBody) {
		return nil, axonerr.Provider("openai", httpResp.StatusCode, false, fmt.Errorf("non-JSON response body"))
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, axonerr.Provider("openai", httpResp.StatusCode, false, err)
	}
	if resp.Error != nil {
		return nil, axonerr.Provider("openai", httpResp.StatusCode, false, fmt.Errorf("%s: %s", resp.Error.Type, resp.Error.Message))
	}
	return &resp, nil
}

func looksLikeHTML(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return bytes.HasPrefix(bytes.ToLower(trimmed), []byte("<!doctype")) || bytes.HasPrefix(bytes.ToLower(trimmed), []byte("<html"))
}

func readBody(r io.Reader) []byte {
	b, _ := io.ReadAll(r)
	return b
}

func classifyStatus(status int, body []byte) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return axonerr.Authentication("openai", fmt.Errorf("status %d: %s", status, body))
	}
	if status == http.StatusTooManyRequests {
		return axonerr.RateLimited(0)
	}
	return axonerr.Provider("openai", status, axonerr.IsRetryable(status, false), fmt.Errorf("status %d: %s", status, body))
}

func convertResponse(resp *chatResponse) *providers.LLMResponse {
	out := &providers.LLMResponse{
		Usage: providers.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.StopReason = choice.FinishReason

	var content []providers.ContentBlock
	if s, ok := choice.Message.Content.(string); ok && s != "" {
		content = append(content, providers.ContentBlock{Type: "text", Text: s})
	}
	var toolCalls []providers.ToolCall
	for _, tc := range choice.Message.ToolCalls {
		var input map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		if input == nil {
			input = map[string]any{}
		}
		toolCalls = append(toolCalls, providers.ToolCall{ID: tc.ID, Name: tc.Function.Name, Input: input})
	}
	out.Message = providers.Message{Role: providers.RoleAssistant, Content: content}
	out.ToolCalls = toolCalls
	return out
}
