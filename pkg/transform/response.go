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

package transform

import (
	"encoding/json"
	"strings"

	"google.golang.org/genai"

	"github.com/kadirpekel/switchboard/pkg/protocol/anthropic"
	"github.com/kadirpekel/switchboard/pkg/protocol/gemini"
	"github.com/kadirpekel/switchboard/pkg/protocol/openai"
)

// OpenAIResponseToAnthropic translates a chat-completions response into the
// Anthropic envelope. Tool calls with unparseable arguments are kept with
// empty input and a warning; the caller decides what to do with it.
func OpenAIResponseToAnthropic(resp *openai.ChatResponse, model string) (*anthropic.Response, []string) {
	var warnings []string

	out := anthropic.NewResponse(model)
	if resp.ID != "" {
		out.ID = resp.ID
	}
	if resp.Model != "" {
		out.Model = resp.Model
	}

	if resp.Usage != nil {
		out.Usage = anthropic.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	if len(resp.Choices) == 0 {
		out.StopReason = anthropic.StopEndTurn
		return out, append(warnings, "response has no choices")
	}

	choice := resp.Choices[0]
	out.StopReason = OpenAIFinishToStop(choice.FinishReason)

	msg := choice.Message
	if msg == nil {
		msg = choice.Delta
	}
	if msg != nil {
		if text := msg.ContentText(); text != "" {
			out.Content = append(out.Content, anthropic.TextBlock(text))
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
			out.Content = append(out.Content, anthropic.ToolUseBlock(id, tc.Function.Name, args))
		}
	}

	if out.HasToolUse() {
		out.StopReason = anthropic.StopToolUse
	}

	return out, warnings
}

// GeminiResponseToAnthropic translates a generateContent response into the
// Anthropic envelope. Text parts concatenate into one text block; function
// calls become tool_use blocks with synthesized ids when Gemini omits them.
func GeminiResponseToAnthropic(resp *gemini.Response, model string) (*anthropic.Response, []string) {
	var warnings []string

	out := anthropic.NewResponse(model)

	if um := resp.UsageMetadata; um != nil {
		out.Usage = anthropic.Usage{
			InputTokens:  um.PromptTokenCount,
			OutputTokens: um.CandidatesTokenCount,
		}
	}

	if len(resp.Candidates) == 0 {
		out.StopReason = anthropic.StopEndTurn
		return out, append(warnings, "response has no candidates")
	}

	cand := resp.Candidates[0]
	out.StopReason = GeminiFinishToStop(cand.FinishReason)

	if cand.Content != nil {
		var text strings.Builder
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				text.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				id := part.FunctionCall.ID
				if id == "" {
					id = anthropic.NewToolUseID()
				}
				out.Content = append(out.Content, anthropic.ToolUseBlock(id, part.FunctionCall.Name, part.FunctionCall.Args))
			}
		}
		if text.Len() > 0 {
			// The single text block leads, tool_use blocks follow.
			out.Content = append([]anthropic.ContentBlock{anthropic.TextBlock(text.String())}, out.Content...)
		}
	}

	if out.HasToolUse() {
		out.StopReason = anthropic.StopToolUse
	}

	return out, warnings
}

// AnthropicResponseToOpenAI renders the normalized response back into the
// chat-completions shape for OpenAI-format callers.
func AnthropicResponseToOpenAI(resp *anthropic.Response) *openai.ChatResponse {
	msg := &openai.ChatMessage{Role: "assistant"}

	var texts []string
	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.BlockText:
			texts = append(texts, block.Text)
		case anthropic.BlockToolUse:
			args, _ := json.Marshal(block.Input)
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: openai.FunctionCall{
					Name:      block.Name,
					Arguments: string(args),
				},
			})
		}
	}
	if len(msg.ToolCalls) > 0 && len(texts) == 0 {
		msg.Content = nil
	} else {
		msg.Content = strings.Join(texts, "")
	}

	out := &openai.ChatResponse{
		ID:     resp.ID,
		Object: "chat.completion",
		Model:  resp.Model,
		Choices: []openai.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: StopToOpenAIFinish(resp.StopReason),
		}},
	}
	out.Usage = &openai.Usage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
	return out
}

// AnthropicResponseToGemini renders the normalized response back into the
// generateContent shape for Gemini-format callers.
func AnthropicResponseToGemini(resp *anthropic.Response) *gemini.Response {
	var parts []*genai.Part
	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.BlockText:
			parts = append(parts, &genai.Part{Text: block.Text})
		case anthropic.BlockToolUse:
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   block.ID,
					Name: block.Name,
					Args: block.Input,
				},
			})
		}
	}

	return &gemini.Response{
		Candidates: []gemini.Candidate{{
			Content:      &genai.Content{Role: "model", Parts: parts},
			FinishReason: StopToGeminiFinish(resp.StopReason),
		}},
		UsageMetadata: &gemini.UsageMetadata{
			PromptTokenCount:     resp.Usage.InputTokens,
			CandidatesTokenCount: resp.Usage.OutputTokens,
			TotalTokenCount:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}
