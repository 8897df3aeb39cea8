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

// Package bedrock adapts Anthropic-hosted models served through AWS
// Bedrock to the providers.LLMProvider contract. It is the model
// fallback's cross-provider hop: a Claude model on the anthropic
// provider can fall back to the same model served from Bedrock without
// the caller knowing the difference.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/dr-jd-allen/axon/pkg/axonerr"
	"github.com/dr-jd-allen/axon/pkg/providers"
)

const (
	DefaultModelID   = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	DefaultRegion    = "us-east-1"
	DefaultMaxTokens = 4096
)

// Config configures a Client.
type Config struct {
	ModelID         string
	Region          string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	MaxTokens       int64
}

// Client implements providers.LLMProvider over AWS Bedrock, using the
// Anthropic SDK's Bedrock transport so message conversion logic is
// shared with the anthropic adapter's wire shapes.
type Client struct {
	sdk       anthropicsdk.Client
	modelID   string
	maxTokens int64
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	var awsCfg aws.Config
	var err error
	switch {
	case cfg.AccessKeyID != "" && cfg.SecretAccessKey != "":
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)),
		)
	case cfg.Profile != "":
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region), config.WithSharedConfigProfile(cfg.Profile))
	default:
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Client{
		sdk:       anthropicsdk.NewClient(bedrock.WithConfig(awsCfg)),
		modelID:   cfg.ModelID,
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (c *Client) Name() string { return "bedrock" }

func (c *Client) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.LLMResponse, error) {
	model := c.modelID
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := c.maxTokens
	if req.Sampling.MaxTokens > 0 {
		maxTokens = int64(req.Sampling.MaxTokens)
	}

	sdkMessages := convertMessages(req.Messages)
	if len(sdkMessages) == 0 {
		return nil, axonerr.Validation("no messages to send")
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
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	message, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyError(err)
	}
	return convertResponse(message), nil
}

func convertMessages(msgs []providers.Message) []anthropicsdk.MessageParam {
	var out []anthropicsdk.MessageParam
	for _, m := range msgs {
		switch m.Role {
		case providers.RoleUser:
			var blocks []anthropicsdk.ContentBlockParamUnion
			for _, b := range m.Content {
				if b.Type == "text" && b.Text != "" {
					blocks = append(blocks, anthropicsdk.NewTextBlock(b.Text))
				}
				if b.Type == "tool_result" {
					blocks = append(blocks, anthropicsdk.NewToolResultBlock(b.ToolCallID, fmt.Sprint(b.ToolResult), b.ToolIsError))
				}
			}
			if len(blocks) > 0 {
				out = append(out, anthropicsdk.NewUserMessage(blocks...))
			}
		case providers.RoleAssistant:
			var blocks []anthropicsdk.ContentBlockParamUnion
			for _, b := range m.Content {
				if b.Type == "text" && b.Text != "" {
					blocks = append(blocks, anthropicsdk.NewTextBlock(b.Text))
				}
				if b.Type == "tool_call" {
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
				out = append(out, anthropicsdk.NewUserMessage(anthropicsdk.NewToolResultBlock(b.ToolCallID, fmt.Sprint(b.ToolResult), b.ToolIsError)))
			}
		}
	}
	return out
}

func convertTools(tools []providers.ToolSpec) []anthropicsdk.ToolUnionParam {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schemaJSON, _ := json.Marshal(t.InputSchema)
		var inputSchema anthropicsdk.ToolInputSchemaParam
		_ = json.Unmarshal(schemaJSON, &inputSchema)
		tool := anthropicsdk.ToolParam{Name: t.Name, Description: anthropicsdk.String(t.Description), InputSchema: inputSchema}
		out = append(out, anthropicsdk.ToolUnionParam{OfTool: &tool})
	}
	return out
}

func convertResponse(message *anthropicsdk.Message) *providers.LLMResponse {
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
	return &providers.LLMResponse{
		Message:    providers.Message{Role: providers.RoleAssistant, Content: content},
		ToolCalls:  toolCalls,
		StopReason: string(message.StopReason),
		Usage: providers.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}
}

func classifyError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "AccessDenied") || strings.Contains(msg, "UnrecognizedClient"):
		return axonerr.Authentication("bedrock", err)
	case strings.Contains(msg, "ThrottlingException") || strings.Contains(msg, "429"):
		return axonerr.RateLimited(0)
	default:
		return axonerr.Provider("bedrock", 0, axonerr.IsRetryable(0, true), err)
	}
}
