// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps the OpenTelemetry tracer with broker-shaped span helpers.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	debug    *DebugExporter
}

// InitTracer builds a tracer from config and installs it as the global
// OpenTelemetry provider. Returns nil when tracing is disabled.
func InitTracer(ctx context.Context, cfg TracingConfig) (*Tracer, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.IsInsecure() {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithResource(res),
	}

	var debug *DebugExporter
	if cfg.IsDebugExporterEnabled() {
		debug = NewDebugExporter()
		providerOpts = append(providerOpts, sdktrace.WithSyncer(debug))
	}

	tp := sdktrace.NewTracerProvider(providerOpts...)
	otel.SetTracerProvider(tp)

	return &Tracer{
		tracer:   tp.Tracer(cfg.ServiceName),
		provider: tp,
		debug:    debug,
	}, nil
}

// Start opens a span. Nil-safe: a nil tracer returns the context unchanged
// with a non-recording span.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return noop.NewTracerProvider().Tracer("").Start(ctx, name)
	}
	return t.tracer.Start(ctx, name, opts...)
}

// StartRequest opens the top-level span for one brokered request.
func (t *Tracer) StartRequest(ctx context.Context, requestID string, category string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanRequest,
		trace.WithAttributes(
			attribute.String(AttrRequestID, requestID),
			attribute.String(AttrCategory, category),
		),
	)
}

// StartUpstreamCall opens a span around one provider call.
func (t *Tracer) StartUpstreamCall(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanUpstreamCall,
		trace.WithAttributes(
			attribute.String(AttrProvider, provider),
			attribute.String(AttrModel, model),
		),
	)
}

// AddUsage records token accounting on a span.
func (t *Tracer) AddUsage(span trace.Span, inputTokens, outputTokens int) {
	if t == nil || span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int(AttrTokensInput, inputTokens),
		attribute.Int(AttrTokensOutput, outputTokens),
	)
}

// RecordError marks a span as failed.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if t == nil || span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(attribute.String(AttrErrorType, fmt.Sprintf("%T", err)))
}

// DebugExporter returns the in-memory exporter, nil when disabled.
func (t *Tracer) DebugExporter() *DebugExporter {
	if t == nil {
		return nil
	}
	return t.debug
}

// Shutdown flushes and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
