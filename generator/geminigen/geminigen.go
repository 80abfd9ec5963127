/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package geminigen implements generator.Service with Google's Gemini models.
package geminigen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"
	"google.golang.org/genai"

	"chainguard.dev/issuefix/genaimetrics"
	"chainguard.dev/issuefix/generator"
	"chainguard.dev/issuefix/llmjson"
)

const (
	// DefaultModel is used when WithModel is not given.
	DefaultModel = "gemini-2.5-flash"
	// DefaultMaxOutputTokens leaves room for several complete files.
	DefaultMaxOutputTokens = 65536

	provider = "google"
)

// ContentGenerator is the part of *genai.Models the service uses.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Service asks Gemini for a JSON answer constrained by the result schema.
type Service struct {
	models      ContentGenerator
	model       string
	maxTokens   int32
	temperature float32
	schema      *genai.Schema
	metrics     *genaimetrics.Recorder
}

var _ generator.Service = (*Service)(nil)

// Option configures a Service.
type Option func(*Service) error

// WithModel overrides DefaultModel.
func WithModel(model string) Option {
	return func(s *Service) error {
		if !strings.HasPrefix(model, "gemini-") {
			return fmt.Errorf("model %q does not appear to be a Gemini model (expected gemini-* format)", model)
		}
		s.model = model
		return nil
	}
}

// WithMaxOutputTokens overrides DefaultMaxOutputTokens.
func WithMaxOutputTokens(tokens int32) Option {
	return func(s *Service) error {
		if tokens <= 0 {
			return fmt.Errorf("max output tokens must be positive, got %d", tokens)
		}
		s.maxTokens = tokens
		return nil
	}
}

// WithTemperature sets the sampling temperature, between 0 and 2.
func WithTemperature(temp float32) Option {
	return func(s *Service) error {
		if temp < 0 || temp > 2 {
			return fmt.Errorf("temperature must be between 0.0 and 2.0, got %f", temp)
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

// New returns a Service. Pass client.Models for a *genai.Client.
func New(models ContentGenerator, opts ...Option) (*Service, error) {
	m, err := generator.ResultSchemaMap()
	if err != nil {
		return nil, err
	}
	s := &Service{
		models:      models,
		model:       DefaultModel,
		maxTokens:   DefaultMaxOutputTokens,
		temperature: 0.1,
		schema:      toSchema(m),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Generate implements generator.Service.
func (s *Service) Generate(ctx context.Context, prompt generator.Prompt) (res *generator.Result, err error) {
	log := clog.FromContext(ctx).With("model", s.model)
	defer func() { s.metrics.RecordRequest(ctx, provider, s.model, err) }()

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(s.temperature),
		MaxOutputTokens: s.maxTokens,
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: prompt.System}},
		},
		ResponseMIMEType: "application/json",
		ResponseSchema:   s.schema,
	}
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt.User}},
	}}

	resp, err := s.models.GenerateContent(ctx, s.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	if resp.UsageMetadata != nil {
		s.metrics.RecordUsage(ctx, provider, s.model,
			int64(resp.UsageMetadata.PromptTokenCount), int64(resp.UsageMetadata.CandidatesTokenCount))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("no candidates in Gemini response")
	}

	cand := resp.Candidates[0]
	log.With("finish_reason", string(cand.FinishReason)).Info("Gemini exchange complete")
	if cand.FinishReason == genai.FinishReasonMaxTokens {
		return nil, errors.New("response truncated at the max token limit")
	}

	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if part.Thought {
			continue
		}
		text.WriteString(part.Text)
	}
	out, err := llmjson.Decode[generator.Result](text.String())
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// toSchema converts a JSON schema object into the subset genai understands.
func toSchema(m map[string]any) *genai.Schema {
	s := &genai.Schema{}
	switch m["type"] {
	case "object":
		s.Type = genai.TypeObject
	case "array":
		s.Type = genai.TypeArray
	case "string":
		s.Type = genai.TypeString
	case "integer":
		s.Type = genai.TypeInteger
	case "number":
		s.Type = genai.TypeNumber
	case "boolean":
		s.Type = genai.TypeBoolean
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = toSchema(pm)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = toSchema(items)
	}
	for _, r := range asSlice(m["required"]) {
		if str, ok := r.(string); ok {
			s.Required = append(s.Required, str)
		}
	}
	for _, e := range asSlice(m["enum"]) {
		if str, ok := e.(string); ok {
			s.Enum = append(s.Enum, str)
		}
	}
	return s
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}
