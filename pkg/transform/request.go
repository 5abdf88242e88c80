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

// Package transform holds the bidirectional wire-format translations. Every
// function is a pure, total map over its inputs: no process-global reads, no
// logging; anything worth telling the caller comes back as a warning value.
package transform

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/kadirpekel/switchboard/pkg/protocol"
	"github.com/kadirpekel/switchboard/pkg/protocol/anthropic"
	"github.com/kadirpekel/switchboard/pkg/protocol/gemini"
	"github.com/kadirpekel/switchboard/pkg/protocol/openai"
)

const systemInstructionsPrefix = "[System Instructions]"

// AnthropicToOpenAI translates an Anthropic request into the
// chat-completions shape.
func AnthropicToOpenAI(req *anthropic.Request, model string) (*openai.ChatRequest, []string) {
	var warnings []string

	out := &openai.ChatRequest{
		Model:       model,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		out.MaxTokens = &maxTokens
	}
	if req.Stream {
		stream := true
		out.Stream = &stream
	}

	if req.System != "" {
		out.Messages = append(out.Messages, openai.ChatMessage{
			Role:    "system",
			Content: req.System,
		})
	}

	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, convertMessageToOpenAI(msg)...)
	}

	tools, toolWarnings := protocol.ParseToolDefinitions(req.Tools)
	warnings = append(warnings, toolWarnings...)
	for _, t := range tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: "function",
			Function: openai.FunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	return out, warnings
}

// convertMessageToOpenAI expands one Anthropic message into its OpenAI
// equivalents: text collapses into the message content, tool_use blocks ride
// as assistant tool_calls, and tool_result blocks become their own role=tool
// messages.
func convertMessageToOpenAI(msg anthropic.Message) []openai.ChatMessage {
	if msg.Content.IsText() {
		return []openai.ChatMessage{{Role: msg.Role, Content: msg.Content.Text}}
	}

	var (
		texts       []string
		toolCalls   []openai.ToolCall
		toolResults []openai.ChatMessage
	)

	for _, block := range msg.Content.Blocks {
		switch block.Type {
		case anthropic.BlockText:
			texts = append(texts, block.Text)
		case anthropic.BlockToolUse:
			args, _ := json.Marshal(block.Input)
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: openai.FunctionCall{
					Name:      block.Name,
					Arguments: string(args),
				},
			})
		case anthropic.BlockToolResult:
			toolResults = append(toolResults, openai.ChatMessage{
				Role:       "tool",
				ToolCallID: block.ToolUseID,
				Content:    block.ResultText(),
			})
		}
	}

	var out []openai.ChatMessage
	if len(texts) > 0 || len(toolCalls) > 0 {
		m := openai.ChatMessage{Role: msg.Role, Content: strings.Join(texts, "")}
		if len(toolCalls) > 0 {
			m.Role = anthropic.RoleAssistant
			m.ToolCalls = toolCalls
			if len(texts) == 0 {
				m.Content = nil
			}
		}
		out = append(out, m)
	}
	return append(out, toolResults...)
}

// AnthropicToGemini translates an Anthropic request into the generateContent
// envelope. Tool names that cannot be sanitized are dropped with a warning;
// max_tokens and temperature are clamped to Gemini's accepted ranges.
func AnthropicToGemini(req *anthropic.Request, model string) (*gemini.Request, []string) {
	var warnings []string
	_ = model

	out := &gemini.Request{}

	if req.System != "" {
		out.Contents = append(out.Contents, &genai.Content{
			Role:  "user",
			Parts: []*genai.Part{{Text: systemInstructionsPrefix + "\n" + req.System}},
		})
	}

	for _, msg := range req.Messages {
		content := convertMessageToGemini(msg)
		if content != nil {
			out.Contents = append(out.Contents, content)
		}
	}

	tools, toolWarnings := protocol.ParseToolDefinitions(req.Tools)
	warnings = append(warnings, toolWarnings...)
	var decls []*genai.FunctionDeclaration
	for _, t := range tools {
		name, ok := gemini.SanitizeToolName(t.Name)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("tool %q: name cannot be sanitized for Gemini, dropped", t.Name))
			continue
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        name,
			Description: t.Description,
			Parameters:  gemini.ToSchema(t.Parameters),
		})
	}
	if len(decls) > 0 {
		out.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	gc := &gemini.GenerationConfig{StopSequences: req.StopSequences}
	if req.MaxTokens > 0 {
		gc.MaxOutputTokens = req.MaxTokens
		if gc.MaxOutputTokens > gemini.MaxOutputTokens {
			gc.MaxOutputTokens = gemini.MaxOutputTokens
		}
	}
	if req.Temperature != nil {
		temp := *req.Temperature
		if temp < 0 {
			temp = 0
		}
		if temp > 2 {
			temp = 2
		}
		gc.Temperature = &temp
	}
	if req.TopP != nil {
		gc.TopP = req.TopP
	}
	if req.TopK != nil {
		gc.TopK = req.TopK
	}
	out.GenerationConfig = gc

	return out, warnings
}

func convertMessageToGemini(msg anthropic.Message) *genai.Content {
	role := "user"
	if msg.Role == anthropic.RoleAssistant {
		role = "model"
	}

	if msg.Content.IsText() {
		if msg.Content.Text == "" {
			return nil
		}
		return &genai.Content{Role: role, Parts: []*genai.Part{{Text: msg.Content.Text}}}
	}

	var parts []*genai.Part
	for _, block := range msg.Content.Blocks {
		switch block.Type {
		case anthropic.BlockText:
			if block.Text != "" {
				parts = append(parts, &genai.Part{Text: block.Text})
			}
		case anthropic.BlockToolUse:
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   block.ID,
					Name: block.Name,
					Args: block.Input,
				},
			})
		case anthropic.BlockToolResult:
			parts = append(parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       block.ToolUseID,
					Response: map[string]any{"result": block.ResultText()},
				},
			})
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return &genai.Content{Role: role, Parts: parts}
}

// OpenAIRequestToAnthropic funnels a chat-completions request into the
// Anthropic shape so every inbound format runs the same pipeline.
func OpenAIRequestToAnthropic(req *openai.ChatRequest) (*anthropic.Request, []string) {
	var warnings []string

	out := &anthropic.Request{
		Model:         req.Model,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	if req.Stream != nil {
		out.Stream = *req.Stream
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			if out.System == "" {
				out.System = msg.ContentText()
			} else {
				out.System += "\n" + msg.ContentText()
			}
		case "tool":
			out.Messages = append(out.Messages, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: anthropic.BlockContent(anthropic.ToolResultBlock(msg.ToolCallID, msg.ContentText())),
			})
		case "assistant":
			var blocks []anthropic.ContentBlock
			if text := msg.ContentText(); text != "" {
				blocks = append(blocks, anthropic.TextBlock(text))
			}
			for _, tc := range msg.ToolCalls {
				args, err := tc.ParsedArguments()
				if err != nil {
					warnings = append(warnings, err.Error())
				}
				id := tc.ID
				if id == "" {
					id = anthropic.NewToolUseID()
				}
				blocks = append(blocks, anthropic.ToolUseBlock(id, tc.Function.Name, args))
			}
			if len(blocks) > 0 {
				out.Messages = append(out.Messages, anthropic.Message{
					Role:    anthropic.RoleAssistant,
					Content: anthropic.BlockContent(blocks...),
				})
			}
		default:
			out.Messages = append(out.Messages, anthropic.Message{
				Role:    anthropic.RoleUser,
				Content: anthropic.TextContent(msg.ContentText()),
			})
		}
	}

	for _, tool := range req.Tools {
		raw, err := json.Marshal(map[string]any{
			"name":         tool.Function.Name,
			"description":  tool.Function.Description,
			"input_schema": tool.Function.Parameters,
		})
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("tool %q: %v", tool.Function.Name, err))
			continue
		}
		out.Tools = append(out.Tools, raw)
	}

	return out, warnings
}

// GeminiRequestToAnthropic funnels a generateContent request into the
// Anthropic shape.
func GeminiRequestToAnthropic(model string, req *gemini.Request) (*anthropic.Request, []string) {
	var warnings []string

	out := &anthropic.Request{Model: model}

	if si := req.SystemInstruction; si != nil {
		var sb strings.Builder
		for _, part := range si.Parts {
			sb.WriteString(part.Text)
		}
		out.System = sb.String()
	}

	for _, content := range req.Contents {
		if content == nil {
			continue
		}
		role := anthropic.RoleUser
		if content.Role == "model" {
			role = anthropic.RoleAssistant
		}
		var blocks []anthropic.ContentBlock
		for _, part := range content.Parts {
			switch {
			case part.Text != "":
				blocks = append(blocks, anthropic.TextBlock(part.Text))
			case part.FunctionCall != nil:
				id := part.FunctionCall.ID
				if id == "" {
					id = anthropic.NewToolUseID()
				}
				blocks = append(blocks, anthropic.ToolUseBlock(id, part.FunctionCall.Name, part.FunctionCall.Args))
			case part.FunctionResponse != nil:
				payload, _ := json.Marshal(part.FunctionResponse.Response)
				blocks = append(blocks, anthropic.ToolResultBlock(part.FunctionResponse.ID, string(payload)))
			}
		}
		if len(blocks) > 0 {
			out.Messages = append(out.Messages, anthropic.Message{
				Role:    role,
				Content: anthropic.BlockContent(blocks...),
			})
		}
	}

	for _, tool := range req.Tools {
		if tool == nil {
			continue
		}
		for _, decl := range tool.FunctionDeclarations {
			params, err := schemaToMap(decl.Parameters)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("tool %q: %v", decl.Name, err))
			}
			raw, _ := json.Marshal(map[string]any{
				"name":         decl.Name,
				"description":  decl.Description,
				"input_schema": params,
			})
			out.Tools = append(out.Tools, raw)
		}
	}

	if gc := req.GenerationConfig; gc != nil {
		out.MaxTokens = gc.MaxOutputTokens
		out.Temperature = gc.Temperature
		out.TopP = gc.TopP
		out.TopK = gc.TopK
		out.StopSequences = gc.StopSequences
	}

	return out, warnings
}

func schemaToMap(schema *genai.Schema) (map[string]any, error) {
	if schema == nil {
		return nil, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
