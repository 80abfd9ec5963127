/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package genaimetrics records token usage of generation services with
// OpenTelemetry counters.
package genaimetrics

import (
	"context"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MeterName is the instrumentation scope for every counter in this package.
const MeterName = "chainguard.dev/issuefix"

// Recorder holds the token counters. The zero value is not usable; call New.
type Recorder struct {
	prompt     metric.Int64Counter
	completion metric.Int64Counter
	requests   metric.Int64Counter
}

// New creates the counters on the global meter provider. Counters that cannot
// be created are replaced by no-ops so recording never fails.
func New(ctx context.Context) *Recorder {
	meter := otel.Meter(MeterName)
	return &Recorder{
		prompt:     counter(ctx, meter, "genai.token.prompt", "Prompt tokens sent to generation services", "{tokens}"),
		completion: counter(ctx, meter, "genai.token.completion", "Completion tokens returned by generation services", "{tokens}"),
		requests:   counter(ctx, meter, "genai.requests", "Generation requests by outcome", "{requests}"),
	}
}

func counter(ctx context.Context, meter metric.Meter, name, desc, unit string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		clog.FromContext(ctx).With("counter", name).With("error", err).Warn("Failed to create counter, using no-op")
		return noop.Int64Counter{}
	}
	return c
}

type attrsKey struct{}

// WithAttributes returns a context whose recordings carry attrs in addition
// to any attributes already attached to ctx.
func WithAttributes(ctx context.Context, attrs ...attribute.KeyValue) context.Context {
	prev, _ := ctx.Value(attrsKey{}).([]attribute.KeyValue)
	merged := make([]attribute.KeyValue, 0, len(prev)+len(attrs))
	merged = append(merged, prev...)
	merged = append(merged, attrs...)
	return context.WithValue(ctx, attrsKey{}, merged)
}

// Attributes returns the attributes attached to ctx by WithAttributes.
func Attributes(ctx context.Context) []attribute.KeyValue {
	attrs, _ := ctx.Value(attrsKey{}).([]attribute.KeyValue)
	return attrs
}

func (r *Recorder) attrs(ctx context.Context, provider, model string) metric.MeasurementOption {
	base := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("model", model),
	}
	return metric.WithAttributes(append(base, Attributes(ctx)...)...)
}

// RecordUsage adds token counts for one exchange. A nil Recorder is a no-op.
func (r *Recorder) RecordUsage(ctx context.Context, provider, model string, prompt, completion int64) {
	if r == nil {
		return
	}
	opt := r.attrs(ctx, provider, model)
	r.prompt.Add(ctx, prompt, opt)
	r.completion.Add(ctx, completion, opt)
}

// RecordRequest counts one exchange with its outcome. A nil Recorder is a
// no-op.
func (r *Recorder) RecordRequest(ctx context.Context, provider, model string, err error) {
	if r == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	base := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.String("outcome", outcome),
	}
	r.requests.Add(ctx, 1, metric.WithAttributes(append(base, Attributes(ctx)...)...))
}
