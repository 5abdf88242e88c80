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

// Package openai defines the chat-completions wire format spoken by the
// OpenAI-compatible providers (OpenAI proper, Qwen, GLM, ModelScope, LM
// Studio). The structs are hand-rolled rather than taken from an SDK: the
// repair stages need raw control over bodies that drift from the published
// shape, and an SDK decoder would reject exactly the traffic this broker
// exists to fix.
package openai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Finish reasons on the chat-completions wire.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishToolCalls     = "tool_calls"
	FinishContentFilter = "content_filter"
)

// ChatRequest is an outbound /chat/completions request.
//
// Prompt is a non-standard fallback field: some ModelScope-hosted endpoints
// ignore messages entirely and read a flat prompt instead; the compatibility
// stage synthesizes it.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Tools       []Tool        `json:"tools,omitempty"`
	ToolChoice  any           `json:"tool_choice,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      *bool         `json:"stream,omitempty"`
	Prompt      string        `json:"prompt,omitempty"`
}

// ChatMessage is one wire message. Content is any because upstreams and
// clients disagree on its shape: string, null (tool-call turns), or an array
// of typed parts. The compatibility stage normalizes it to a string before
// dispatch.
type ChatMessage struct {
	Role       string     `json:"role"`
	Name       string     `json:"name,omitempty"`
	Content    any        `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ContentText extracts the textual content of a message, tolerating the
// string, null, part-array, and lone-object forms.
func (m ChatMessage) ContentText() string {
	return AnyContentText(m.Content)
}

// AnyContentText flattens any of the observed content shapes to a string.
func AnyContentText(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		var sb strings.Builder
		for _, part := range v {
			if pm, ok := part.(map[string]any); ok {
				if t, ok := pm["text"].(string); ok {
					sb.WriteString(t)
				}
			} else if s, ok := part.(string); ok {
				sb.WriteString(s)
			}
		}
		return sb.String()
	case map[string]any:
		if t, ok := v["text"].(string); ok {
			return t
		}
		raw, _ := json.Marshal(v)
		return string(raw)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Tool is an OpenAI function tool definition.
type Tool struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef is the function payload of a tool definition.
type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCall is a model-emitted function invocation. Index is only present on
// streaming deltas, where it attributes argument fragments to their call.
type ToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the invoked name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ParsedArguments decodes the arguments JSON. A parse failure keeps the
// call with empty input; the caller records the warning.
func (c ToolCall) ParsedArguments() (map[string]any, error) {
	if strings.TrimSpace(c.Function.Arguments) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(c.Function.Arguments), &args); err != nil {
		return map[string]any{}, fmt.Errorf("tool %s: unparseable arguments: %w", c.Function.Name, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// ChatResponse is an upstream /chat/completions response after repair.
type ChatResponse struct {
	ID      string    `json:"id,omitempty"`
	Object  string    `json:"object,omitempty"`
	Created int64     `json:"created,omitempty"`
	Model   string    `json:"model,omitempty"`
	Choices []Choice  `json:"choices"`
	Usage   *Usage    `json:"usage,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

// Choice is one completion alternative; the broker only ever reads index 0.
type Choice struct {
	Index        int          `json:"index"`
	Message      *ChatMessage `json:"message,omitempty"`
	Delta        *ChatMessage `json:"delta,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

// Usage carries the provider's token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// APIError is the error envelope OpenAI-compatible providers return.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    any    `json:"code,omitempty"`
}

// StreamChunk is one SSE data payload of a streaming completion.
type StreamChunk struct {
	ID      string   `json:"id,omitempty"`
	Object  string   `json:"object,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// DecodeResponse decodes a repaired body into the typed response. Repair
// runs first on the raw map; this is the final, strict-ish step.
func DecodeResponse(body map[string]any) (*ChatResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("re-encode response body: %w", err)
	}
	var resp ChatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	return &resp, nil
}
