/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package openaigen implements generator.Service with OpenAI chat completion
// models, or any endpoint compatible with that API.
package openaigen

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"chainguard.dev/issuefix/genaimetrics"
	"chainguard.dev/issuefix/generator"
	"chainguard.dev/issuefix/llmjson"
)

const (
	// DefaultModel is used when WithModel is not given.
	DefaultModel = "gpt-4.1"

	provider = "openai"
)

// Service asks for a response conforming to the result JSON schema.
type Service struct {
	client    openai.Client
	model     string
	maxTokens int64
	schema    map[string]any
	metrics   *genaimetrics.Recorder
}

var _ generator.Service = (*Service)(nil)

// Option configures a Service.
type Option func(*Service) error

// WithModel overrides DefaultModel.
func WithModel(model string) Option {
	return func(s *Service) error {
		if model == "" {
			return errors.New("model cannot be empty")
		}
		s.model = model
		return nil
	}
}

// WithMaxTokens caps completion tokens.
func WithMaxTokens(tokens int64) Option {
	return func(s *Service) error {
		if tokens <= 0 {
			return fmt.Errorf("max tokens must be positive, got %d", tokens)
		}
		s.maxTokens = tokens
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
func New(client openai.Client, opts ...Option) (*Service, error) {
	schema, err := generator.ResultSchemaMap()
	if err != nil {
		return nil, err
	}
	s := &Service{client: client, model: DefaultModel, schema: schema}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Generate implements generator.Service.
func (s *Service) Generate(ctx context.Context, prompt generator.Prompt) (res *generator.Result, err error) {
	defer func() { s.metrics.RecordRequest(ctx, provider, s.model, err) }()

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt.System),
			openai.UserMessage(prompt.User),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "file_changes",
					Description: openai.String("Complete replacement contents for the files that fix the issue"),
					Schema:      s.schema,
				},
			},
		},
	}
	if s.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(s.maxTokens)
	}

	completion, err := s.client.Chat.Completions.New(ctx, params, option.WithMaxRetries(0))
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	s.metrics.RecordUsage(ctx, provider, s.model, completion.Usage.PromptTokens, completion.Usage.CompletionTokens)

	if len(completion.Choices) == 0 {
		return nil, errors.New("no choices in completion")
	}
	choice := completion.Choices[0]
	clog.FromContext(ctx).With("model", s.model).With("finish_reason", choice.FinishReason).
		Info("OpenAI exchange complete")
	if choice.FinishReason == "length" {
		return nil, errors.New("response truncated at the max token limit")
	}
	if choice.Message.Refusal != "" {
		return nil, fmt.Errorf("model refused: %s", choice.Message.Refusal)
	}

	out, err := llmjson.Decode[generator.Result](choice.Message.Content)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
