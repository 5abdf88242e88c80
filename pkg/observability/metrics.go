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
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the broker's instruments, exported in Prometheus format.
type Metrics struct {
	routesTotal      metric.Int64Counter
	requestDuration  metric.Float64Histogram
	stageDuration    metric.Float64Histogram
	stageFailures    metric.Int64Counter
	upstreamTotal    metric.Int64Counter
	upstreamDuration metric.Float64Histogram
	tokensInput      metric.Int64Counter
	tokensOutput     metric.Int64Counter
	httpRequests     metric.Int64Counter
	httpDuration     metric.Float64Histogram
}

// NewMetrics builds the instrument set on a Prometheus-backed meter.
// Returns nil when metrics are disabled.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	exporter, err := otelprom.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)).Meter(cfg.Namespace)

	m := &Metrics{}
	prefix := cfg.Namespace

	if m.routesTotal, err = meter.Int64Counter(prefix+"_routes_total",
		metric.WithDescription("Routing decisions by category and provider")); err != nil {
		return nil, err
	}
	if m.requestDuration, err = meter.Float64Histogram(prefix+"_request_duration_seconds",
		metric.WithDescription("End-to-end brokered request duration")); err != nil {
		return nil, err
	}
	if m.stageDuration, err = meter.Float64Histogram(prefix+"_stage_duration_seconds",
		metric.WithDescription("Pipeline stage duration")); err != nil {
		return nil, err
	}
	if m.stageFailures, err = meter.Int64Counter(prefix+"_stage_failures_total",
		metric.WithDescription("Pipeline stages that failed and passed input through")); err != nil {
		return nil, err
	}
	if m.upstreamTotal, err = meter.Int64Counter(prefix+"_upstream_calls_total",
		metric.WithDescription("Upstream provider calls by status")); err != nil {
		return nil, err
	}
	if m.upstreamDuration, err = meter.Float64Histogram(prefix+"_upstream_duration_seconds",
		metric.WithDescription("Upstream provider call duration")); err != nil {
		return nil, err
	}
	if m.tokensInput, err = meter.Int64Counter(prefix+"_tokens_input_total",
		metric.WithDescription("Input tokens reported by providers")); err != nil {
		return nil, err
	}
	if m.tokensOutput, err = meter.Int64Counter(prefix+"_tokens_output_total",
		metric.WithDescription("Output tokens reported by providers")); err != nil {
		return nil, err
	}
	if m.httpRequests, err = meter.Int64Counter(prefix+"_http_requests_total",
		metric.WithDescription("HTTP requests by method, route, and status")); err != nil {
		return nil, err
	}
	if m.httpDuration, err = meter.Float64Histogram(prefix+"_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration")); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRoute counts one routing decision. Nil-safe, like every recorder.
func (m *Metrics) RecordRoute(category, provider string) {
	if m == nil || m.routesTotal == nil {
		return
	}
	m.routesTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("provider", provider),
	))
}

// RecordRequest observes one completed request.
func (m *Metrics) RecordRequest(category, provider string, duration time.Duration, failed bool) {
	if m == nil || m.requestDuration == nil {
		return
	}
	m.requestDuration.Record(context.Background(), duration.Seconds(), metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("provider", provider),
		attribute.Bool("failed", failed),
	))
}

// RecordStage observes one pipeline stage run.
func (m *Metrics) RecordStage(stage string, elapsed time.Duration, failed bool) {
	if m == nil || m.stageDuration == nil {
		return
	}
	ctx := context.Background()
	m.stageDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
	))
	if failed {
		m.stageFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", stage),
		))
	}
}

// RecordUpstreamCall counts one provider call with its HTTP status.
func (m *Metrics) RecordUpstreamCall(provider, model string, duration time.Duration, status int) {
	if m == nil || m.upstreamTotal == nil {
		return
	}
	ctx := context.Background()
	m.upstreamTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.Int("status", status),
	))
	m.upstreamDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
	))
}

// RecordTokens accumulates provider-reported token usage.
func (m *Metrics) RecordTokens(provider string, inputTokens, outputTokens int) {
	if m == nil || m.tokensInput == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("provider", provider))
	m.tokensInput.Add(ctx, int64(inputTokens), attrs)
	m.tokensOutput.Add(ctx, int64(outputTokens), attrs)
}

// RecordHTTPRequest observes one inbound HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, reqSize, respSize int64) {
	if m == nil || m.httpRequests == nil {
		return
	}
	ctx := context.Background()
	m.httpRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", statusCode),
	))
	m.httpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	))
}

// Handler serves the Prometheus exposition endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return NoopMetrics{}.Handler()
	}
	return promhttp.Handler()
}
