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

// Package observability wires OpenTelemetry tracing and Prometheus metrics
// into the broker: routing decisions, pipeline stage timings, upstream call
// outcomes, and the inbound HTTP surface.
package observability

import (
	"context"
	"sync"
)

// Manager owns the tracer and metrics lifecycles.
type Manager struct {
	config  Config
	tracer  *Tracer
	metrics *Metrics
	mu      sync.RWMutex
}

// NewManager builds an uninitialized manager.
func NewManager(cfg Config) *Manager {
	cfg.SetDefaults()
	return &Manager{config: cfg}
}

// NoopManager returns a manager with everything disabled.
func NoopManager() *Manager {
	return &Manager{}
}

// Initialize starts the configured exporters and installs the global
// recorder.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracer, err := InitTracer(ctx, m.config.Tracing)
	if err != nil {
		return err
	}
	m.tracer = tracer

	metrics, err := NewMetrics(m.config.Metrics)
	if err != nil {
		return err
	}
	m.metrics = metrics
	if metrics != nil {
		SetGlobalRecorder(metrics)
	}

	return nil
}

// Tracer returns the tracer, nil when tracing is disabled.
func (m *Manager) Tracer() *Tracer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tracer
}

// Metrics returns the metrics set, nil when disabled.
func (m *Manager) Metrics() *Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}

// Recorder returns the active recorder, never nil.
func (m *Manager) Recorder() Recorder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.metrics != nil {
		return m.metrics
	}
	return NoopMetrics{}
}

// Shutdown flushes exporters.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tracer != nil {
		return m.tracer.Shutdown(ctx)
	}
	return nil
}
