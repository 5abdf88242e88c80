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

// Package gemini defines the Gemini wire envelope over the official
// google.golang.org/genai types, the JSON-Schema subset conversion Gemini
// accepts, and the tool-name rules Gemini-backed providers enforce.
package gemini

import (
	"regexp"
	"strings"

	"google.golang.org/genai"
)

// MaxOutputTokens is the hard ceiling Gemini enforces on max_tokens.
const MaxOutputTokens = 8192

// Request is the generateContent wire envelope. Content and tool types come
// from the genai SDK so the upstream layer can hand them to the client
// directly or marshal them onto the REST wire.
type Request struct {
	Contents          []*genai.Content  `json:"contents"`
	SystemInstruction *genai.Content    `json:"systemInstruction,omitempty"`
	Tools             []*genai.Tool     `json:"tools,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

// GenerationConfig mirrors the REST generationConfig object.
type GenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// GenaiConfig converts the envelope's tools and generation settings into the
// SDK's config object for client dispatch.
func (r *Request) GenaiConfig() *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: r.SystemInstruction,
		Tools:             r.Tools,
	}
	if gc := r.GenerationConfig; gc != nil {
		if gc.Temperature != nil {
			cfg.Temperature = genai.Ptr(float32(*gc.Temperature))
		}
		if gc.TopP != nil {
			cfg.TopP = genai.Ptr(float32(*gc.TopP))
		}
		if gc.TopK != nil {
			cfg.TopK = genai.Ptr(float32(*gc.TopK))
		}
		if gc.MaxOutputTokens > 0 {
			cfg.MaxOutputTokens = int32(gc.MaxOutputTokens)
		}
		cfg.StopSequences = gc.StopSequences
	}
	return cfg
}

// Response is the generateContent response envelope, decodable from the REST
// wire and convertible from the SDK's response type.
type Response struct {
	Candidates    []Candidate    `json:"candidates"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// Candidate is one response alternative; only index 0 is read.
type Candidate struct {
	Content      *genai.Content `json:"content,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
}

// UsageMetadata carries Gemini's token accounting.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// FromGenai converts an SDK response into the wire envelope so the response
// path handles REST and SDK traffic identically.
func FromGenai(resp *genai.GenerateContentResponse) *Response {
	if resp == nil {
		return &Response{}
	}
	out := &Response{}
	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		out.Candidates = append(out.Candidates, Candidate{
			Content:      cand.Content,
			FinishReason: string(cand.FinishReason),
		})
	}
	if um := resp.UsageMetadata; um != nil {
		out.UsageMetadata = &UsageMetadata{
			PromptTokenCount:     int(um.PromptTokenCount),
			CandidatesTokenCount: int(um.CandidatesTokenCount),
			TotalTokenCount:      int(um.TotalTokenCount),
		}
	}
	return out
}

// Gemini rejects several JSON-Schema keywords outright. They are removed
// recursively rather than passed through, because a 400 on the whole request
// is worse than a slightly looser schema.
var strippedSchemaFields = map[string]bool{
	"additionalProperties": true,
	"pattern":              true,
	"minLength":            true,
	"maxLength":            true,
	"format":               true,
	"const":                true,
	"enum":                 true,
	"anyOf":                true,
	"oneOf":                true,
	"allOf":                true,
	"not":                  true,
	"$schema":              true,
}

// ToSchema converts a JSON-Schema subset map into a genai.Schema, dropping
// the keywords Gemini does not accept.
func ToSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}

	s := &genai.Schema{}

	if t, ok := schema["type"].(string); ok {
		s.Type = mapSchemaType(t)
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				s.Properties[name] = ToSchema(propMap)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = ToSchema(items)
	}

	return s
}

// StripSchema returns a copy of schema with the unsupported keywords removed
// recursively, for code paths that keep schemas as maps.
func StripSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	out := make(map[string]any, len(schema))
	for key, value := range schema {
		if strippedSchemaFields[key] {
			continue
		}
		switch v := value.(type) {
		case map[string]any:
			out[key] = StripSchema(v)
		case []any:
			cleaned := make([]any, 0, len(v))
			for _, item := range v {
				if im, ok := item.(map[string]any); ok {
					cleaned = append(cleaned, StripSchema(im))
				} else {
					cleaned = append(cleaned, item)
				}
			}
			out[key] = cleaned
		default:
			out[key] = value
		}
	}
	return out
}

func mapSchemaType(t string) genai.Type {
	switch strings.ToLower(t) {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

var (
	validToolName    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,63}$`)
	invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_]`)
	underscoreRuns   = regexp.MustCompile(`_+`)
)

// ValidToolName reports whether name satisfies Gemini's function-name rule.
func ValidToolName(name string) bool {
	return validToolName.MatchString(name)
}

// SanitizeToolName rewrites name to satisfy Gemini's rule: invalid
// characters become underscores, runs collapse, and a `tool_` prefix is
// added when the first character is not alphabetic. Returns false when no
// valid name can be derived (an all-symbol name), in which case the tool
// must be dropped.
func SanitizeToolName(name string) (string, bool) {
	if ValidToolName(name) {
		return name, true
	}

	cleaned := invalidNameChars.ReplaceAllString(name, "_")
	cleaned = underscoreRuns.ReplaceAllString(cleaned, "_")

	if strings.Trim(cleaned, "_") == "" {
		return "", false
	}

	if cleaned[0] < 'A' || (cleaned[0] > 'Z' && cleaned[0] < 'a') || cleaned[0] > 'z' {
		cleaned = "tool_" + cleaned
	}
	if len(cleaned) > 64 {
		cleaned = cleaned[:64]
	}

	if !ValidToolName(cleaned) {
		return "", false
	}
	return cleaned, true
}
