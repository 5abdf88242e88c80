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

// Package config loads and validates the broker configuration from a YAML
// file or a remote store (consul, etcd, zookeeper), with environment variable
// expansion and optional change watching.
package config

import (
	"fmt"

	"github.com/kadirpekel/switchboard/pkg/observability"
	"github.com/kadirpekel/switchboard/pkg/routing"
	"github.com/kadirpekel/switchboard/pkg/tokens"
)

// Config is the full broker configuration.
//
// Example:
//
//	server:
//	  host: 0.0.0.0
//	  port: 8080
//	providers:
//	  glm:
//	    protocol: openai
//	    endpoint: https://open.bigmodel.cn/api/paas/v4/chat/completions
//	    auth_ref: GLM_API_KEY
//	routing:
//	  default:
//	    provider: glm
//	    model: glm-4.6
type Config struct {
	Server        ServerConfig              `yaml:"server,omitempty"`
	Providers     map[string]ProviderConfig `yaml:"providers,omitempty"`
	Routing       map[string]RouteConfig    `yaml:"routing,omitempty"`
	Models        map[string]ModelConfig    `yaml:"models,omitempty"`
	Tokens        TokensConfig              `yaml:"tokens,omitempty"`
	Auth          AuthConfig                `yaml:"auth,omitempty"`
	Logger        LoggerConfig              `yaml:"logger,omitempty"`
	Observability observability.Config      `yaml:"observability,omitempty"`
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	// Host to bind to. Default: 0.0.0.0
	Host string `yaml:"host,omitempty"`

	// Port to listen on. Default: 8080
	Port int `yaml:"port,omitempty"`

	// ExtraPorts opens additional gateways on the same routing table, for
	// clients pinned to different ports.
	ExtraPorts []int `yaml:"extra_ports,omitempty"`
}

// Addr returns the primary listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SetDefaults applies default values to ServerConfig.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	for _, p := range c.ExtraPorts {
		if p < 1 || p > 65535 {
			return fmt.Errorf("extra port must be between 1 and 65535, got %d", p)
		}
		if p == c.Port {
			return fmt.Errorf("extra port %d duplicates the primary port", p)
		}
	}
	return nil
}

// ProviderConfig describes one configured upstream.
type ProviderConfig struct {
	// Protocol is the wire protocol the provider speaks: openai, gemini, or
	// anthropic. Default: openai
	Protocol string `yaml:"protocol,omitempty"`

	// Endpoint is the full URL of the provider's completion endpoint.
	Endpoint string `yaml:"endpoint,omitempty"`

	// AuthRef names the credential: a ".json" auth file under the auth
	// directory for OAuth2 providers, the name of an environment variable, or
	// a literal key.
	AuthRef string `yaml:"auth_ref,omitempty"`

	// Profile pins a compatibility profile; empty means auto-select by
	// provider id and model.
	Profile string `yaml:"profile,omitempty"`
}

// Validate checks one provider entry.
func (c *ProviderConfig) Validate(id string) error {
	switch c.Protocol {
	case routing.ProtocolOpenAI, routing.ProtocolGemini, routing.ProtocolAnthropic:
	default:
		return fmt.Errorf("provider %q: invalid protocol %q (valid: openai, gemini, anthropic)", id, c.Protocol)
	}
	if c.Endpoint == "" {
		return fmt.Errorf("provider %q: endpoint is required", id)
	}
	return nil
}

// RouteConfig maps a routing category to its target.
type RouteConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// ModelConfig carries per-model settings keyed "provider/model".
type ModelConfig struct {
	// ContextLimit is the model's token budget; 0 means unlimited.
	ContextLimit int `yaml:"context_limit,omitempty"`
}

// TokensConfig configures the token preprocessor.
type TokensConfig struct {
	// Ratio of the context limit to aim under. Default: 0.95
	Ratio float64 `yaml:"ratio,omitempty"`

	// RerouteThreshold redirects a request to longcontext when its estimate
	// reaches it. 0 disables rerouting.
	RerouteThreshold int `yaml:"reroute_threshold,omitempty"`

	// KeepRecent is how many trailing messages truncation preserves.
	KeepRecent int `yaml:"keep_recent,omitempty"`

	// Direction picks which removable messages go first: head, tail, middle.
	Direction string `yaml:"direction,omitempty"`

	// StubTools shrinks tool definitions during truncation.
	StubTools bool `yaml:"stub_tools,omitempty"`

	// Estimator selects the counting backend: "heuristic" (default) or
	// "tiktoken".
	Estimator string `yaml:"estimator,omitempty"`

	// EstimatorModel is the model name the tiktoken estimator loads an
	// encoding for. Default: gpt-4
	EstimatorModel string `yaml:"estimator_model,omitempty"`
}

// SetDefaults applies default values to TokensConfig.
func (c *TokensConfig) SetDefaults() {
	if c.Estimator == "" {
		c.Estimator = "heuristic"
	}
	if c.EstimatorModel == "" {
		c.EstimatorModel = "gpt-4"
	}
}

// Validate checks the tokens configuration.
func (c *TokensConfig) Validate() error {
	if c.Ratio < 0 || c.Ratio > 1 {
		return fmt.Errorf("tokens ratio must be between 0 and 1, got %f", c.Ratio)
	}
	switch c.Direction {
	case "", string(tokens.TruncateHead), string(tokens.TruncateTail), string(tokens.TruncateMiddle):
	default:
		return fmt.Errorf("invalid truncate direction %q (valid: head, tail, middle)", c.Direction)
	}
	switch c.Estimator {
	case "heuristic", "tiktoken":
	default:
		return fmt.Errorf("invalid estimator %q (valid: heuristic, tiktoken)", c.Estimator)
	}
	return nil
}

// AuthConfig configures the OAuth2 credential store.
type AuthConfig struct {
	// Dir holds the auth record files. Default: ~/.route-claudecode/auth
	Dir string `yaml:"dir,omitempty"`
}

// SetDefaults applies defaults to the whole config.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Tokens.SetDefaults()
	c.Logger.SetDefaults()
	c.Observability.SetDefaults()

	for id, p := range c.Providers {
		if p.Protocol == "" {
			p.Protocol = routing.ProtocolOpenAI
			c.Providers[id] = p
		}
	}
}

// Validate checks the whole config. Called after SetDefaults.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Tokens.Validate(); err != nil {
		return fmt.Errorf("tokens: %w", err)
	}
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability: %w", err)
	}

	for id, p := range c.Providers {
		if err := p.Validate(id); err != nil {
			return err
		}
	}

	for category, target := range c.Routing {
		switch routing.Category(category) {
		case routing.CategoryDefault, routing.CategoryLongContext,
			routing.CategoryBackground, routing.CategoryThinking:
		default:
			return fmt.Errorf("routing: unknown category %q", category)
		}
		if target.Provider == "" || target.Model == "" {
			return fmt.Errorf("routing: category %q needs both provider and model", category)
		}
		if _, ok := c.Providers[target.Provider]; !ok {
			return fmt.Errorf("routing: category %q targets unknown provider %q", category, target.Provider)
		}
	}

	if len(c.Routing) > 0 {
		if _, ok := c.Routing[string(routing.CategoryDefault)]; !ok {
			return fmt.Errorf("routing: a default route is required")
		}
	}
	return nil
}

// RoutingConfig converts the file shape into the routing engine's table.
func (c *Config) RoutingConfig() routing.Config {
	out := routing.Config{
		Providers: make(map[string]routing.Provider, len(c.Providers)),
		Routes:    make(map[routing.Category]routing.Target, len(c.Routing)),
	}
	for id, p := range c.Providers {
		out.Providers[id] = routing.Provider{
			ID:       id,
			Protocol: p.Protocol,
			Endpoint: p.Endpoint,
			AuthRef:  p.AuthRef,
			Profile:  p.Profile,
		}
	}
	for category, target := range c.Routing {
		out.Routes[routing.Category(category)] = routing.Target{
			Provider: target.Provider,
			Model:    target.Model,
		}
	}
	return out
}

// ModelLimits returns the per-model context budgets keyed "provider/model".
func (c *Config) ModelLimits() map[string]int {
	out := make(map[string]int, len(c.Models))
	for key, m := range c.Models {
		if m.ContextLimit > 0 {
			out[key] = m.ContextLimit
		}
	}
	return out
}

// TokenOptions converts the tokens section into preprocessor options.
func (c *Config) TokenOptions() tokens.Options {
	return tokens.Options{
		Ratio:            c.Tokens.Ratio,
		RerouteThreshold: c.Tokens.RerouteThreshold,
		KeepRecent:       c.Tokens.KeepRecent,
		Direction:        tokens.TruncateDirection(c.Tokens.Direction),
		StubTools:        c.Tokens.StubTools,
	}
}

// Estimator builds the configured token estimator.
func (c *Config) Estimator() (tokens.Estimator, error) {
	if c.Tokens.Estimator == "tiktoken" {
		return tokens.NewTiktokenEstimator(c.Tokens.EstimatorModel)
	}
	return tokens.HeuristicEstimator{}, nil
}
