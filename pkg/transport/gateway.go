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

// Package transport is the inbound HTTP surface: the Anthropic messages
// endpoint, the OpenAI and Gemini funnels, the explicit proxy route, and the
// operational endpoints. Every response leaves in the format the caller's
// endpoint speaks, whatever protocol the upstream spoke.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/switchboard/pkg/credentials"
	"github.com/kadirpekel/switchboard/pkg/observability"
	"github.com/kadirpekel/switchboard/pkg/pipeline"
	"github.com/kadirpekel/switchboard/pkg/registry"
	"github.com/kadirpekel/switchboard/pkg/routing"
)

// gateways tracks every running gateway by listen address, for multi-port
// deployments and the status surface.
var gateways = registry.NewBaseRegistry[*Gateway]()

// Gateways returns the listen addresses of all registered gateways.
func Gateways() []string {
	return gateways.Names()
}

// LookupGateway returns the gateway bound to addr.
func LookupGateway(addr string) (*Gateway, bool) {
	return gateways.Get(addr)
}

// Gateway serves one listen address.
type Gateway struct {
	addr    string
	coord   *pipeline.Coordinator
	engine  *routing.Engine
	creds   *credentials.Store
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	version string
	started time.Time

	httpServer *http.Server
}

// Option configures the gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithCredentialStore exposes the store's cache on the status and admin
// surfaces.
func WithCredentialStore(store *credentials.Store) Option {
	return func(g *Gateway) { g.creds = store }
}

// WithMetrics attaches the metrics set; nil leaves metrics disabled.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithTracer attaches the tracer; nil leaves tracing disabled.
func WithTracer(t *observability.Tracer) Option {
	return func(g *Gateway) { g.tracer = t }
}

// WithVersion sets the version string reported by /status.
func WithVersion(version string) Option {
	return func(g *Gateway) { g.version = version }
}

// NewGateway builds a gateway and registers it by address.
func NewGateway(addr string, coord *pipeline.Coordinator, engine *routing.Engine, opts ...Option) (*Gateway, error) {
	if addr == "" {
		addr = ":8080"
	}
	g := &Gateway{
		addr:    addr,
		coord:   coord,
		engine:  engine,
		logger:  slog.Default(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(g)
	}
	if err := gateways.Register(addr, g); err != nil {
		return nil, fmt.Errorf("gateway address %s already in use: %w", addr, err)
	}
	return g, nil
}

// Router builds the route tree.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()

	// Order: logging -> observability -> cors.
	r.Use(g.loggingMiddleware)
	r.Use(observability.HTTPMiddleware(g.tracer, g.metrics))
	r.Use(corsMiddleware)

	r.Post("/v1/messages", g.handleMessages)
	r.Post("/v1/chat/completions", g.handleChatCompletions)

	// Gemini clients address models two ways: a path segment or the colon
	// form ("/v1beta/models/gemini-pro:generateContent"). chi's {model}
	// captures both since the colon is not a path separator.
	r.Post("/v1beta/models/{model}", g.handleGeminiGenerate)
	r.Post("/v1beta/models/{model}/generateContent", g.handleGeminiGenerate)

	r.Post("/v1/proxy/{provider}/{model}", g.handleProxy)

	r.Get("/health", g.handleHealth)
	r.Get("/status", g.handleStatus)
	r.Get("/metrics", g.metricsHandler().ServeHTTP)

	r.Route("/admin/providers/{id}", func(r chi.Router) {
		r.Post("/disable", g.handleDisableProvider)
		r.Post("/enable", g.handleEnableProvider)
	})
	r.Post("/admin/auth/clear-cache", g.handleClearAuthCache)

	return r
}

// Start serves until the listener fails or Stop is called.
func (g *Gateway) Start(ctx context.Context) error {
	g.started = time.Now()
	g.httpServer = &http.Server{
		Addr:    g.addr,
		Handler: g.Router(),
	}

	g.logger.Info("gateway listening", "addr", g.addr)
	if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and deregisters the gateway.
func (g *Gateway) Stop(ctx context.Context) error {
	gateways.Remove(g.addr)
	if g.httpServer == nil {
		return nil
	}

	g.logger.Info("gateway shutting down", "addr", g.addr)
	if err := g.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	return nil
}

func (g *Gateway) metricsHandler() http.Handler {
	if g.metrics != nil {
		return g.metrics.Handler()
	}
	return observability.NoopMetrics{}.Handler()
}

func (g *Gateway) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.logger.Debug("http request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Api-Key, Anthropic-Version")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
