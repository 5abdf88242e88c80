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

// Package compat is where the per-provider correctness work lives: the quirks
// each hosted model family has accumulated, expressed as profiles that adapt
// outbound requests, and a repair pass that normalizes the drifted response
// bodies those providers return.
package compat

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/switchboard/pkg/protocol/openai"
	"github.com/kadirpekel/switchboard/pkg/registry"
)

// Profile describes one (provider, model) class: how to recognize it and how
// to bend a request into the shape its endpoints actually accept.
type Profile struct {
	Name string

	// GeminiBacked marks OpenAI-protocol providers fronting a Gemini
	// service; their tool names must satisfy Gemini's naming rule.
	GeminiBacked bool

	matches func(providerID, model string) bool
	adapt   func(*openai.ChatRequest)
}

// Selector picks the first matching profile in registration order. The
// generic profile always matches and always comes last.
type Selector struct {
	reg   *registry.BaseRegistry[*Profile]
	order []string
}

// NewSelector builds a selector with the built-in profiles registered.
func NewSelector() *Selector {
	s := &Selector{reg: registry.NewBaseRegistry[*Profile]()}
	for _, p := range builtinProfiles() {
		// Built-in names are unique; Register cannot fail here.
		_ = s.Register(p)
	}
	return s
}

// Register appends a profile to the selection order.
func (s *Selector) Register(p *Profile) error {
	if p == nil || p.matches == nil {
		return fmt.Errorf("profile must have a match function")
	}
	if err := s.reg.Register(p.Name, p); err != nil {
		return err
	}
	s.order = append(s.order, p.Name)
	return nil
}

// Select returns the first profile matching (providerID, model). The generic
// fallback guarantees a non-nil result.
func (s *Selector) Select(providerID, model string) *Profile {
	for _, name := range s.order {
		p, ok := s.reg.Get(name)
		if ok && p.matches(providerID, model) {
			return p
		}
	}
	p, _ := s.reg.Get("generic")
	return p
}

// Named looks a profile up by its registered name, for configs that pin a
// provider to a profile explicitly.
func (s *Selector) Named(name string) (*Profile, bool) {
	return s.reg.Get(name)
}

// Names returns the registered profile names in selection order.
func (s *Selector) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func builtinProfiles() []*Profile {
	return []*Profile{
		{
			Name:    "glm",
			matches: containsMatcher("glm"),
			adapt: func(req *openai.ChatRequest) {
				defaultTemperature(req, 0.8)
			},
		},
		{
			Name:    "qwen3-coder",
			matches: containsMatcher("qwen3-coder"),
			adapt: func(req *openai.ChatRequest) {
				defaultTemperature(req, 0.7)
				for i := range req.Messages {
					if req.Messages[i].Role == "system" {
						req.Messages[i].Name = "system"
					}
				}
			},
		},
		{
			Name:    "lmstudio",
			matches: containsMatcher("lmstudio", "lm-studio", "lm_studio"),
			adapt:   func(*openai.ChatRequest) {},
		},
		{
			Name:         "gemini-backed",
			GeminiBacked: true,
			matches:      containsMatcher("shuaihong", "gemini", "google"),
			adapt:        func(*openai.ChatRequest) {},
		},
		{
			// ModelScope and similar hosts: some of their endpoints ignore
			// messages and read a flat prompt, so one is synthesized.
			Name:    "modelscope",
			matches: containsMatcher("modelscope"),
			adapt: func(req *openai.ChatRequest) {
				defaultTemperature(req, 0.7)
				if req.MaxTokens == nil {
					maxTokens := 4096
					req.MaxTokens = &maxTokens
				}
				if req.Stream == nil {
					stream := true
					req.Stream = &stream
				}
				req.Prompt = synthesizePrompt(req.Messages)
			},
		},
		{
			Name:    "generic",
			matches: func(string, string) bool { return true },
			adapt:   func(*openai.ChatRequest) {},
		},
	}
}

func containsMatcher(needles ...string) func(providerID, model string) bool {
	return func(providerID, model string) bool {
		id := strings.ToLower(providerID)
		m := strings.ToLower(model)
		for _, n := range needles {
			if strings.Contains(id, n) || strings.Contains(m, n) {
				return true
			}
		}
		return false
	}
}

func defaultTemperature(req *openai.ChatRequest, value float64) {
	if req.Temperature == nil {
		req.Temperature = &value
	}
}

// synthesizePrompt renders "<Role>: <content>" turns joined by blank lines.
func synthesizePrompt(messages []openai.ChatMessage) string {
	var turns []string
	for _, msg := range messages {
		text := msg.ContentText()
		if text == "" {
			continue
		}
		role := msg.Role
		if role != "" {
			role = strings.ToUpper(role[:1]) + role[1:]
		}
		turns = append(turns, role+": "+text)
	}
	return strings.Join(turns, "\n\n")
}
