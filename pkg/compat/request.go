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

package compat

import (
	"encoding/json"
	"fmt"

	"github.com/kadirpekel/switchboard/pkg/protocol/gemini"
	"github.com/kadirpekel/switchboard/pkg/protocol/openai"
)

// AdaptRequest applies the universal rules and then the profile's own tweaks
// to an outbound chat-completions request. The request is modified in place;
// warnings report what was bent.
func AdaptRequest(p *Profile, req *openai.ChatRequest) []string {
	var warnings []string

	normalizeContent(req)

	if p.GeminiBacked {
		warnings = append(warnings, sanitizeToolNames(req)...)
	}

	if p.adapt != nil {
		p.adapt(req)
	}

	return warnings
}

// normalizeContent flattens every non-nil, non-string message content to a
// string. OpenAI-compatible endpoints disagree wildly on what they accept;
// a plain string is the only shape all of them take. nil stays nil: it marks
// tool-call turns.
func normalizeContent(req *openai.ChatRequest) {
	for i := range req.Messages {
		switch content := req.Messages[i].Content.(type) {
		case nil, string:
		case map[string]any:
			// A lone object: unwrap only a real {type:"text"} block. Other
			// block kinds carrying a text key stay serialized.
			if t, ok := content["text"].(string); ok && content["type"] == "text" {
				req.Messages[i].Content = t
			} else {
				raw, _ := json.Marshal(content)
				req.Messages[i].Content = string(raw)
			}
		default:
			req.Messages[i].Content = openai.AnyContentText(content)
		}
	}
}

// sanitizeToolNames rewrites tool names to Gemini's rule for OpenAI-protocol
// providers backed by a Gemini service. Unsalvageable names drop the tool.
func sanitizeToolNames(req *openai.ChatRequest) []string {
	var warnings []string

	kept := req.Tools[:0]
	for _, tool := range req.Tools {
		name, ok := gemini.SanitizeToolName(tool.Function.Name)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("tool %q: name cannot be sanitized, dropped", tool.Function.Name))
			continue
		}
		if name != tool.Function.Name {
			warnings = append(warnings, fmt.Sprintf("tool %q renamed to %q", tool.Function.Name, name))
			tool.Function.Name = name
		}
		tool.Function.Parameters = gemini.StripSchema(tool.Function.Parameters)
		kept = append(kept, tool)
	}
	req.Tools = kept
	if len(req.Tools) == 0 {
		req.Tools = nil
	}
	return warnings
}
