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

// Package gemini adapts Google's generateContent API to the
// providers.LLMProvider contract via a hand-rolled HTTP client.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dr-jd-allen/axon/pkg/axonerr"
	"github.com/dr-jd-allen/axon/pkg/providers"
)

const (
	DefaultModel    = "gemini-1.5-pro"
	DefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	DefaultTimeout  = 60 * time.Second
)

type Config struct {
	APIKey   string
	Model    string
	Endpoint string
	Timeout  time.Duration
}

type Client struct {
	apiKey     string
	model      string
	endpoint   string
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
	return &Client{apiKey: cfg.APIKey, model: cfg.Model, endpoint: cfg.Endpoint, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

func (c *Client) Name() string { return "gemini" }

type geminiPart struct {
	Text             string          `json:"text,omitempty"`
	FunctionCall     *geminiFuncCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFuncResp `json:"functionResponse,omitempty"`
}

type geminiFuncCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiFuncResp struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiFuncDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFuncDecl `json:"functionDeclarations"`
}

type geminiGenConfig struct {
	Temperature        float64  `json:"temperature,omitempty"`
	TopP               float64  `json:"topP,omitempty"`
	MaxOutputTokens    int      `json:"maxOutputTokens,omitempty"`
	PresencePenalty    float64  `json:"presencePenalty,omitempty"`
	StopSequences      []string `json:"stopSequences,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	Tools             []geminiTool     `json:"tools,omitempty"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (c *Client) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.LLMResponse, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}
	body := buildRequest(req)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, axonerr.Validation(err.Error())
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.endpoint, model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, axonerr.Provider("gemini", 0, false, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, axonerr.Provider("gemini", 0, true, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, axonerr.Provider("gemini", 0, true, err)
	}

	if httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden {
		return nil, axonerr.Authentication("gemini", fmt.Errorf("status %d", httpResp.StatusCode))
	}
	if httpResp.StatusCode == http.StatusTooManyRequests {
		return nil, axonerr.RateLimited(0)
	}

	var resp geminiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, axonerr.Provider("gemini", httpResp.StatusCode, false, err)
	}
	if resp.Error != nil {
		return nil, axonerr.Provider("gemini", resp.Error.Code, axonerr.IsRetryable(resp.Error.Code, false), fmt.Errorf("%s", resp.Error.Message))
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, axonerr.Provider("gemini", httpResp.StatusCode, axonerr.IsRetryable(httpResp.StatusCode, false), fmt.Errorf("status %d", httpResp.StatusCode))
	}

	return convertResponse(&resp), nil
}

func buildRequest(req providers.CompletionRequest) geminiRequest {
	body := geminiRequest{}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	for _, m := range req.Messages {
		body.Contents = append(body.Contents, convertMessage(m))
	}
	body.GenerationConfig = &geminiGenConfig{
		Temperature:     req.Sampling.Temperature,
		TopP:            req.Sampling.TopP,
		MaxOutputTokens: req.Sampling.MaxTokens,
		PresencePenalty: translatePenalty(req.Sampling.RepetitionPenalty),
		StopSequences:   req.Sampling.StopSequences,
	}
	if len(req.Tools) > 0 {
		body.Tools = []geminiTool{{FunctionDeclarations: convertTools(req.Tools)}}
	}
	return body
}

// translatePenalty maps the normalized repetition penalty (1.0 = neutral)
// onto Gemini's presencePenalty scale, where 0 is neutral.
func translatePenalty(p float64) float64 {
	if p == 0 || p == 1.0 {
		return 0
	}
	return p - 1
}

func convertMessage(m providers.Message) geminiContent {
	role := "user"
	if m.Role == providers.RoleAssistant {
		role = "model"
	}

	var parts []geminiPart
	for _, b := range m.Content {
		switch b.Type {
		case "text":
			if b.Text != "" {
				parts = append(parts, geminiPart{Text: b.Text})
			}
		case "tool_call":
			parts = append(parts, geminiPart{FunctionCall: &geminiFuncCall{Name: b.ToolName, Args: b.ToolInput}})
		case "tool_result":
			resp := map[string]any{"result": b.ToolResult}
			parts = append(parts, geminiPart{FunctionResponse: &geminiFuncResp{Name: b.ToolName, Response: resp}})
		}
	}
	return geminiContent{Role: role, Parts: parts}
}

func convertTools(tools []providers.ToolSpec) []geminiFuncDecl {
	out := make([]geminiFuncDecl, 0, len(tools))
	for _, t := range tools {
		out = append(out, geminiFuncDecl{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
	}
	return out
}

func convertResponse(resp *geminiResponse) *providers.LLMResponse {
	out := &providers.LLMResponse{
		Usage: providers.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		},
	}
	if len(resp.Candidates) == 0 {
		return out
	}
	cand := resp.Candidates[0]
	out.StopReason = cand.FinishReason

	var content []providers.ContentBlock
	var toolCalls []providers.ToolCall
	for _, p := range cand.Content.Parts {
		if p.Text != "" {
			content = append(content, providers.ContentBlock{Type: "text", Text: p.Text})
		}
		if p.FunctionCall != nil {
			toolCalls = append(toolCalls, providers.ToolCall{Name: p.FunctionCall.Name, Input: p.FunctionCall.Args})
		}
	}
	out.Message = providers.Message{Role: providers.RoleAssistant, Content: content}
	out.ToolCalls = toolCalls
	return out
}
