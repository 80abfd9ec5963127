/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package claudegen implements generator.Service with Anthropic's Claude
// models, reached directly or through Vertex AI.
package claudegen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/chainguard-dev/clog"

	"chainguard.dev/issuefix/genaimetrics"
	"chainguard.dev/issuefix/generator"
	"chainguard.dev/issuefix/llmjson"
)

const (
	// DefaultModel is used when WithModel is not given.
	DefaultModel = "claude-sonnet-4@20250514"
	// DefaultMaxTokens leaves room for several complete files.
	DefaultMaxTokens = 32000

	toolName = "submit_changes"
	provider = "anthropic"
)

// Service calls Claude once per Generate and forces the answer through the
// submit_changes tool so that it arrives as structured input.
type Service struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
	metrics     *genaimetrics.Recorder
	tool        anthropic.ToolParam
}

var _ generator.Service = (*Service)(nil)

// Option configures a Service.
type Option func(*Service) error

// WithModel overrides DefaultModel.
func WithModel(model string) Option {
	return func(s *Service) error {
		if !strings.HasPrefix(model, "claude-") {
			return fmt.Errorf("model %q does not appear to be a Claude model (expected claude-* format)", model)
		}
		s.model = model
		return nil
	}
}

// WithMaxTokens overrides DefaultMaxTokens.
func WithMaxTokens(tokens int64) Option {
	return func(s *Service) error {
		if tokens <= 0 || tokens > 64000 {
			return fmt.Errorf("max tokens must be in (0, 64000], got %d", tokens)
		}
		s.maxTokens = tokens
		return nil
	}
}

// WithTemperature sets the sampling temperature, between 0 and 1.
func WithTemperature(temp float64) Option {
	return func(s *Service) error {
		if temp < 0 || temp > 1 {
			return fmt.Errorf("temperature must be between 0.0 and 1.0, got %f", temp)
		}
		s.temperature = temp
		return nil
	}
}

// WithMetrics records token usage on r.
func WithMetrics(r *genaimetrics.Recorder) Option {
	return func(s *Service) error {
		s.metrics = r
		return nil
	}
}

// New returns a Service using client.
func New(client anthropic.Client, opts ...Option) (*Service, error) {
	schema, err := generator.ResultSchemaMap()
	if err != nil {
		return nil, err
	}
	required, _ := schema["required"].([]any)
	req := make([]string, 0, len(required))
	for _, r := range required {
		if s, ok := r.(string); ok {
			req = append(req, s)
		}
	}

	s := &Service{
		client:      client,
		model:       DefaultModel,
		maxTokens:   DefaultMaxTokens,
		temperature: 0.1,
		tool: anthropic.ToolParam{
			Name:        toolName,
			Description: anthropic.String("Submit the complete new contents of every file that must change to fix the issue."),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       constant.Object("object"),
				Properties: schema["properties"],
				Required:   req,
			},
		},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Generate implements generator.Service. The SDK's own retries are disabled
// so that each call is exactly one exchange.
func (s *Service) Generate(ctx context.Context, prompt generator.Prompt) (res *generator.Result, err error) {
	log := clog.FromContext(ctx).With("model", s.model)
	defer func() { s.metrics.RecordRequest(ctx, provider, s.model, err) }()

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(s.model),
		MaxTokens:   s.maxTokens,
		Temperature: anthropic.Float(s.temperature),
		System:      []anthropic.TextBlockParam{{Text: prompt.System}},
		Messages: []anthropic.MessageParam{{
			Role:    anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(prompt.User)},
		}},
		Tools:      []anthropic.ToolUnionParam{{OfTool: &s.tool}},
		ToolChoice: anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: toolName}},
	}

	stream := s.client.Messages.NewStreaming(ctx, params, option.WithMaxRetries(0))
	var msg anthropic.Message
	for stream.Next() {
		if err := msg.Accumulate(stream.Current()); err != nil {
			return nil, fmt.Errorf("accumulate event: %w", err)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("stream Claude response: %w", err)
	}

	s.metrics.RecordUsage(ctx, provider, s.model, msg.Usage.InputTokens, msg.Usage.OutputTokens)
	log.With("input_tokens", msg.Usage.InputTokens).
		With("output_tokens", msg.Usage.OutputTokens).
		With("stop_reason", string(msg.StopReason)).
		Info("Claude exchange complete")

	if msg.StopReason == anthropic.StopReasonMaxTokens {
		return nil, errors.New("response truncated at the max token limit")
	}
	return decode(msg)
}

// decode reads the submit_changes tool input, falling back to JSON in a text
// block for models that answer in prose.
func decode(msg anthropic.Message) (*generator.Result, error) {
	var text string
	for _, block := range msg.Content {
		switch block.Type {
		case "tool_use":
			if block.Name != toolName {
				continue
			}
			var res generator.Result
			if err := json.Unmarshal(block.Input, &res); err != nil {
				return nil, fmt.Errorf("decode %s input: %w", toolName, err)
			}
			return &res, nil
		case "text":
			text += block.Text
		}
	}
	if text == "" {
		return nil, errors.New("no content in Claude's response")
	}
	res, err := llmjson.Decode[generator.Result](text)
	if err != nil {
		return nil, err
	}
	return &res, nil
}
