// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("aleutian.docgen.llm")
	meter  = otel.Meter("aleutian.docgen.llm")
)

// Instrumented wraps a ChatClient with an OpenTelemetry span per stream
// and request/size metrics.
type Instrumented struct {
	next     ChatClient
	provider string
	model    string

	requests metric.Int64Counter
	chars    metric.Int64Histogram
	duration metric.Float64Histogram
}

// Instrument wraps next. Metric registration errors fall back to no-op
// instruments.
func Instrument(next ChatClient, provider, model string) *Instrumented {
	requests, err := meter.Int64Counter("llm.requests",
		metric.WithDescription("LLM stream requests by provider, model and outcome"))
	if err != nil {
		requests, _ = noop.Meter{}.Int64Counter("llm.requests")
	}
	chars, err := meter.Int64Histogram("llm.response.chars",
		metric.WithDescription("Characters received per completed stream"))
	if err != nil {
		chars, _ = noop.Meter{}.Int64Histogram("llm.response.chars")
	}
	duration, err := meter.Float64Histogram("llm.stream.duration",
		metric.WithDescription("Wall time per stream"),
		metric.WithUnit("s"))
	if err != nil {
		duration, _ = noop.Meter{}.Float64Histogram("llm.stream.duration")
	}
	return &Instrumented{
		next:     next,
		provider: provider,
		model:    model,
		requests: requests,
		chars:    chars,
		duration: duration,
	}
}

// Stream starts a span that ends when the returned channel closes.
func (i *Instrumented) Stream(ctx context.Context, messages []Message, params GenerationParams) (<-chan Delta, error) {
	model := i.model
	if params.Model != "" {
		model = params.Model
	}
	attrs := []attribute.KeyValue{
		attribute.String("llm.provider", i.provider),
		attribute.String("llm.model", model),
	}
	ctx, span := tracer.Start(ctx, "llm.Stream", trace.WithAttributes(
		append(attrs, attribute.Int("llm.messages", len(messages)))...))
	start := time.Now()

	in, err := i.next.Stream(ctx, messages, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		i.requests.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("outcome", "error"))...))
		return nil, err
	}

	out := make(chan Delta)
	go func() {
		defer close(out)
		defer span.End()
		total := 0
		outcome := "success"
	loop:
		for d := range in {
			if d.Err != nil {
				outcome = "error"
				span.RecordError(d.Err)
				span.SetStatus(codes.Error, d.Err.Error())
			}
			total += len(d.Text)
			select {
			case out <- d:
			case <-ctx.Done():
				outcome = "cancelled"
				for range in {
				}
				break loop
			}
		}
		span.SetAttributes(attribute.Int("llm.response_chars", total))
		i.requests.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("outcome", outcome))...))
		i.chars.Record(ctx, int64(total), metric.WithAttributes(attrs...))
		i.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
	}()
	return out, nil
}
