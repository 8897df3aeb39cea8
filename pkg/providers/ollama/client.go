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

// Package ollama adapts a local Ollama daemon's /api/chat endpoint to
// the providers.LLMProvider contract.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dr-jd-allen/axon/pkg/axonerr"
	"github.com/dr-jd-allen/axon/pkg/providers"
)

const (
	DefaultEndpoint = "http://localhost:11434"
	DefaultModel    = "llama3.1"
	DefaultTimeout  = 120 * time.Second
)

type Config struct {
	Endpoint string
	Model    string
	Timeout  time.Duration
}

type Client struct {
	endpoint   string
	model      string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{endpoint: cfg.Endpoint, model: cfg.Model, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

func (c *Client) Name() string { return "ollama" }

type ollamaMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content,omitempty"`
	ToolCalls []ollamaCall   `json:"tool_calls,omitempty"`
}

type ollamaCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type ollamaOptions struct {
	Temperature   float64 `json:"temperature,omitempty"`
	TopP          float64 `json:"top_p,omitempty"`
	NumPredict    int     `json:"num_predict,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Options  ollamaOptions   `json:"options,omitempty"`
	Stream   bool            `json:"stream"`
}

type ollamaResponse struct {
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason"`
	PromptEvalCount int      `json:"prompt_eval_count"`
	EvalCount       int      `json:"eval_count"`
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

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, axonerr.Provider("ollama", 0, false, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, axonerr.Provider("ollama", 0, true, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, axonerr.Provider("ollama", httpResp.StatusCode, axonerr.IsRetryable(httpResp.StatusCode, false), fmt.Errorf("status %d", httpResp.StatusCode))
	}

	var text strings.Builder
	var last ollamaResponse
	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk ollamaResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Message.Content != "" {
			text.WriteString(chunk.Message.Content)
			if onToken != nil {
				onToken(chunk.Message.Content)
			}
		}
		last = chunk
		if chunk.Done {
			break
		}
	}

	return &providers.LLMResponse{
		Message:    providers.Message{Role: providers.RoleAssistant, Content: []providers.ContentBlock{{Type: "text", Text: text.String()}}},
		StopReason: last.DoneReason,
		Usage: providers.Usage{
			PromptTokens:     last.PromptEvalCount,
			CompletionTokens: last.EvalCount,
			TotalTokens:      last.PromptEvalCount + last.EvalCount,
		},
	}, nil
}

func (c *Client) buildRequest(req providers.CompletionRequest, stream bool) ollamaRequest {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	var messages []ollamaMessage
	if req.System != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	body := ollamaRequest{
		Model:    model,
		Messages: messages,
		Stream:   stream,
		Options: ollamaOptions{
			Temperature:   req.Sampling.Temperature,
			TopP:          req.Sampling.TopP,
			NumPredict:    req.Sampling.MaxTokens,
			RepeatPenalty: req.Sampling.RepetitionPenalty,
		},
	}
	if len(req.Tools) > 0 {
		body.Tools = convertTools(req.Tools)
	}
	return body
}

func convertMessage(m providers.Message) ollamaMessage {
	switch m.Role {
	case providers.RoleTool:
		return ollamaMessage{Role: "tool", Content: m.Text()}
	case providers.RoleAssistant:
		out := ollamaMessage{Role: "assistant", Content: m.Text()}
		for _, b := range m.Content {
			if b.Type != "tool_call" {
				continue
			}
			call := ollamaCall{}
			call.Function.Name = b.ToolName
			call.Function.Arguments = b.ToolInput
			out.ToolCalls = append(out.ToolCalls, call)
		}
		return out
	default:
		return ollamaMessage{Role: string(m.Role), Content: m.Text()}
	}
}

func convertTools(tools []providers.ToolSpec) []ollamaTool {
	out := make([]ollamaTool, 0, len(tools))
	for _, t := range tools {
		d := ollamaTool{Type: "function"}
		d.Function.Name = t.Name
		d.Function.Description = t.Description
		d.Function.Parameters = t.InputSchema
		out = append(out, d)
	}
	return out
}

func (c *Client) call(ctx context.Context, req ollamaRequest) (*ollamaResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, axonerr.Validation(err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, axonerr.Provider("ollama", 0, false, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, axonerr.Provider("ollama", 0, true, err)
	}
	defer httpResp.Body.Close()

	var resp ollamaResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, axonerr.Provider("ollama", httpResp.StatusCode, false, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, axonerr.Provider("ollama", httpResp.StatusCode, axonerr.IsRetryable(httpResp.StatusCode, false), fmt.Errorf("status %d", httpResp.StatusCode))
	}
	return &resp, nil
}

func convertResponse(resp *ollamaResponse) *providers.LLMResponse {
	var toolCalls []providers.ToolCall
	for _, tc := range resp.Message.ToolCalls {
		toolCalls = append(toolCalls, providers.ToolCall{Name: tc.Function.Name, Input: tc.Function.Arguments})
	}
	return &providers.LLMResponse{
		Message:    providers.Message{Role: providers.RoleAssistant, Content: []providers.ContentBlock{{Type: "text", Text: resp.Message.Content}}},
		ToolCalls:  toolCalls,
		StopReason: resp.DoneReason,
		Usage: providers.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}
}
