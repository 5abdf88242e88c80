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

// Package routing decides, once per request, which provider and model serve
// it. The decision is immutable; everything downstream reads it and nothing
// rewrites it.
package routing

import (
	"sort"
	"sync"

	"github.com/kadirpekel/switchboard/pkg/apierror"
	"github.com/kadirpekel/switchboard/pkg/protocol/anthropic"
)

// Category is the routing class a request falls into.
type Category string

const (
	CategoryDefault     Category = "default"
	CategoryLongContext Category = "longcontext"
	CategoryBackground  Category = "background"
	CategoryThinking    Category = "thinking"
)

// LongContextThreshold is the total character count at which a request is
// classified longcontext.
const LongContextThreshold = 50000

// Wire protocols a provider can speak.
const (
	ProtocolAnthropic = "anthropic"
	ProtocolOpenAI    = "openai"
	ProtocolGemini    = "gemini"
)

// Provider describes one configured upstream.
type Provider struct {
	ID       string
	Protocol string
	Endpoint string

	// AuthRef names the credential: an auth file name for OAuth2 providers,
	// an api-key reference otherwise.
	AuthRef string

	// Profile pins a compatibility profile id; empty means auto-select.
	Profile string
}

// Target maps a category to its (provider, model) pair.
type Target struct {
	Provider string
	Model    string
}

// Config is the routing table, loaded once.
type Config struct {
	Providers map[string]Provider
	Routes    map[Category]Target
}

// Decision is the immutable routing outcome.
type Decision struct {
	Category Category
	Provider string
	Model    string
	Endpoint string
	AuthRef  string
	Protocol string
	Profile  string
}

// Recorder receives per-decision counters. The observability layer supplies
// the real one.
type Recorder interface {
	RecordRoute(category Category, provider string)
}

type noopRecorder struct{}

func (noopRecorder) RecordRoute(Category, string) {}

// Engine resolves requests to decisions. Safe for concurrent use; the only
// mutable state is the disabled-provider set.
type Engine struct {
	cfg Config
	rec Recorder

	mu       sync.Mutex
	disabled map[string]bool
}

// Option configures the engine.
type Option func(*Engine)

// WithRecorder attaches a decision recorder.
func WithRecorder(rec Recorder) Option {
	return func(e *Engine) {
		if rec != nil {
			e.rec = rec
		}
	}
}

// NewEngine builds an engine over a config snapshot.
func NewEngine(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		rec:      noopRecorder{},
		disabled: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Route categorizes the request and resolves the category to a decision.
func (e *Engine) Route(req *anthropic.Request) (*Decision, error) {
	category, err := Categorize(req)
	if err != nil {
		return nil, err
	}
	return e.Resolve(category)
}

// Categorize inspects the request's signals in strict order: explicit
// category, thinking flag, total content size, default. Pure function of the
// request.
func Categorize(req *anthropic.Request) (Category, error) {
	if req != nil && req.Metadata != nil {
		if explicit, ok := req.Metadata["category"].(string); ok && explicit != "" {
			switch c := Category(explicit); c {
			case CategoryDefault, CategoryLongContext, CategoryBackground, CategoryThinking:
				return c, nil
			default:
				return "", apierror.Newf(apierror.CodeUnknownCategory, "unknown routing category %q", explicit)
			}
		}
		if thinking, ok := req.Metadata["thinking"].(bool); ok && thinking {
			return CategoryThinking, nil
		}
	}

	if req != nil && contentChars(req) >= LongContextThreshold {
		return CategoryLongContext, nil
	}
	return CategoryDefault, nil
}

// Resolve maps a category to its configured target. Used directly by the
// token preprocessor when it redirects a request to longcontext.
func (e *Engine) Resolve(category Category) (*Decision, error) {
	target, ok := e.cfg.Routes[category]
	if !ok {
		return nil, apierror.Newf(apierror.CodeNoRoutingConfig, "no routing config for category %q", category)
	}

	provider, ok := e.cfg.Providers[target.Provider]
	if !ok {
		return nil, apierror.Newf(apierror.CodeNoProviderAvailable, "provider %q is not configured", target.Provider).
			WithProvider(target.Provider)
	}

	// A disabled provider fails the request outright; silent downgrades
	// would hide real outages.
	e.mu.Lock()
	disabled := e.disabled[provider.ID]
	e.mu.Unlock()
	if disabled {
		return nil, apierror.Newf(apierror.CodeNoProviderAvailable, "provider %q is temporarily disabled", provider.ID).
			WithProvider(provider.ID)
	}

	e.rec.RecordRoute(category, provider.ID)

	return &Decision{
		Category: category,
		Provider: provider.ID,
		Model:    target.Model,
		Endpoint: provider.Endpoint,
		AuthRef:  provider.AuthRef,
		Protocol: provider.Protocol,
		Profile:  provider.Profile,
	}, nil
}

// ResolveProvider builds a decision for an explicitly named target,
// bypassing category routing. The proxy surface uses it.
func (e *Engine) ResolveProvider(providerID, model string) (*Decision, error) {
	provider, ok := e.cfg.Providers[providerID]
	if !ok {
		return nil, apierror.Newf(apierror.CodeNoProviderAvailable, "provider %q is not configured", providerID).
			WithProvider(providerID)
	}

	e.mu.Lock()
	disabled := e.disabled[provider.ID]
	e.mu.Unlock()
	if disabled {
		return nil, apierror.Newf(apierror.CodeNoProviderAvailable, "provider %q is temporarily disabled", provider.ID).
			WithProvider(provider.ID)
	}

	return &Decision{
		Category: CategoryDefault,
		Provider: provider.ID,
		Model:    model,
		Endpoint: provider.Endpoint,
		AuthRef:  provider.AuthRef,
		Protocol: provider.Protocol,
		Profile:  provider.Profile,
	}, nil
}

// TemporarilyDisableProvider removes a provider from routing until the
// matching enable call.
func (e *Engine) TemporarilyDisableProvider(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disabled[id] = true
}

// EnableProvider restores a disabled provider.
func (e *Engine) EnableProvider(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.disabled, id)
}

// DisabledProviders returns the disabled ids, sorted, for the status surface.
func (e *Engine) DisabledProviders() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.disabled))
	for id := range e.disabled {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// contentChars sums the character count of every message's content.
func contentChars(req *anthropic.Request) int {
	total := 0
	for _, msg := range req.Messages {
		if msg.Content.IsText() {
			total += len(msg.Content.Text)
			continue
		}
		for _, block := range msg.Content.Blocks {
			total += len(block.Text)
			total += len(block.Content)
			for _, v := range block.Input {
				if s, ok := v.(string); ok {
					total += len(s)
				}
			}
		}
	}
	return total
}
