package transform

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/kadirpekel/switchboard/pkg/protocol/anthropic"
	"github.com/kadirpekel/switchboard/pkg/protocol/gemini"
	"github.com/kadirpekel/switchboard/pkg/protocol/openai"
)

func floatPtr(f float64) *float64 { return &f }

func TestAnthropicToOpenAITextOnly(t *testing.T) {
	req := &anthropic.Request{
		Model:  "claude-3-5-sonnet",
		System: "You are terse.",
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: anthropic.TextContent("hello")},
			{Role: anthropic.RoleAssistant, Content: anthropic.TextContent("hi")},
			{Role: anthropic.RoleUser, Content: anthropic.TextContent("continue")},
		},
		MaxTokens:   1024,
		Temperature: floatPtr(0.5),
	}

	out, warnings := AnthropicToOpenAI(req, "qwen3-coder-plus")
	require.Empty(t, warnings)

	assert.Equal(t, "qwen3-coder-plus", out.Model)
	require.Len(t, out.Messages, 4)
	assert.Equal(t, "system", out.Messages[0].Role)
	assert.Equal(t, "You are terse.", out.Messages[0].Content)
	assert.Equal(t, "user", out.Messages[1].Role)
	assert.Equal(t, "hello", out.Messages[1].Content)
	require.NotNil(t, out.MaxTokens)
	assert.Equal(t, 1024, *out.MaxTokens)
	require.NotNil(t, out.Temperature)
	assert.Equal(t, 0.5, *out.Temperature)
}

func TestAnthropicToOpenAIToolBlocks(t *testing.T) {
	req := &anthropic.Request{
		Model: "claude-3-5-sonnet",
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: anthropic.TextContent("read main.go")},
			{Role: anthropic.RoleAssistant, Content: anthropic.BlockContent(
				anthropic.ToolUseBlock("toolu_1", "Read", map[string]any{"path": "main.go"}),
			)},
			{Role: anthropic.RoleUser, Content: anthropic.BlockContent(
				anthropic.ToolResultBlock("toolu_1", "package main"),
			)},
		},
		Tools: []json.RawMessage{
			json.RawMessage(`{"name":"Read","description":"read a file","input_schema":{"type":"object"}}`),
		},
	}

	out, warnings := AnthropicToOpenAI(req, "m")
	require.Empty(t, warnings)
	require.Len(t, out.Messages, 3)

	assistant := out.Messages[1]
	assert.Equal(t, "assistant", assistant.Role)
	assert.Nil(t, assistant.Content)
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "toolu_1", assistant.ToolCalls[0].ID)
	assert.Equal(t, "Read", assistant.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"path":"main.go"}`, assistant.ToolCalls[0].Function.Arguments)

	toolMsg := out.Messages[2]
	assert.Equal(t, "tool", toolMsg.Role)
	assert.Equal(t, "toolu_1", toolMsg.ToolCallID)
	assert.Equal(t, "package main", toolMsg.ContentText())

	require.Len(t, out.Tools, 1)
	assert.Equal(t, "Read", out.Tools[0].Function.Name)
}

// A text-only conversation must survive the round trip through the
// chat-completions shape unchanged.
func TestOpenAIRoundTripPreservesText(t *testing.T) {
	orig := &anthropic.Request{
		Model:  "claude-3-5-sonnet",
		System: "stay brief",
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: anthropic.TextContent("first")},
			{Role: anthropic.RoleAssistant, Content: anthropic.TextContent("second")},
			{Role: anthropic.RoleUser, Content: anthropic.TextContent("third")},
		},
	}

	chat, warnings := AnthropicToOpenAI(orig, "m")
	require.Empty(t, warnings)
	back, warnings := OpenAIRequestToAnthropic(chat)
	require.Empty(t, warnings)

	assert.Equal(t, orig.System, back.System)
	require.Len(t, back.Messages, len(orig.Messages))
	for i := range orig.Messages {
		assert.Equal(t, orig.Messages[i].Role, back.Messages[i].Role)
		assert.Equal(t, orig.Messages[i].Content.PlainText(), back.Messages[i].Content.PlainText())
	}
}

func TestAnthropicToGeminiSystemAndClamps(t *testing.T) {
	req := &anthropic.Request{
		Model:       "claude-3-5-sonnet",
		System:      "be careful",
		Messages:    []anthropic.Message{{Role: anthropic.RoleUser, Content: anthropic.TextContent("hi")}},
		MaxTokens:   100000,
		Temperature: floatPtr(3.5),
	}

	out, warnings := AnthropicToGemini(req, "gemini-2.0-flash")
	require.Empty(t, warnings)

	require.Len(t, out.Contents, 2)
	assert.Equal(t, "user", out.Contents[0].Role)
	assert.Contains(t, out.Contents[0].Parts[0].Text, "[System Instructions]")
	assert.Contains(t, out.Contents[0].Parts[0].Text, "be careful")

	require.NotNil(t, out.GenerationConfig)
	assert.Equal(t, gemini.MaxOutputTokens, out.GenerationConfig.MaxOutputTokens)
	require.NotNil(t, out.GenerationConfig.Temperature)
	assert.Equal(t, 2.0, *out.GenerationConfig.Temperature)
}

func TestAnthropicToGeminiToolSanitization(t *testing.T) {
	req := &anthropic.Request{
		Model:    "claude-3-5-sonnet",
		Messages: []anthropic.Message{{Role: anthropic.RoleUser, Content: anthropic.TextContent("hi")}},
		Tools: []json.RawMessage{
			json.RawMessage(`{"name":"fs.read-file","input_schema":{"type":"object"}}`),
			json.RawMessage(`{"name":"!!!","input_schema":{"type":"object"}}`),
		},
	}

	out, warnings := AnthropicToGemini(req, "gemini-2.0-flash")
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "!!!")

	require.Len(t, out.Tools, 1)
	require.Len(t, out.Tools[0].FunctionDeclarations, 1)
	assert.Equal(t, "fs_read_file", out.Tools[0].FunctionDeclarations[0].Name)
}

func TestOpenAIResponseToAnthropic(t *testing.T) {
	resp := &openai.ChatResponse{
		ID:    "chatcmpl-1",
		Model: "qwen3-coder-plus",
		Choices: []openai.Choice{{
			Message: &openai.ChatMessage{
				Role:    "assistant",
				Content: "done",
			},
			FinishReason: openai.FinishStop,
		}},
		Usage: &openai.Usage{PromptTokens: 12, CompletionTokens: 5, TotalTokens: 17},
	}

	out, warnings := OpenAIResponseToAnthropic(resp, "claude-3-5-sonnet")
	require.Empty(t, warnings)

	assert.Equal(t, "chatcmpl-1", out.ID)
	assert.Equal(t, anthropic.StopEndTurn, out.StopReason)
	require.Len(t, out.Content, 1)
	assert.Equal(t, anthropic.BlockText, out.Content[0].Type)
	assert.Equal(t, "done", out.Content[0].Text)
	assert.Equal(t, 12, out.Usage.InputTokens)
	assert.Equal(t, 5, out.Usage.OutputTokens)
}

func TestOpenAIResponseToolCallParseFailure(t *testing.T) {
	resp := &openai.ChatResponse{
		Choices: []openai.Choice{{
			Message: &openai.ChatMessage{
				Role: "assistant",
				ToolCalls: []openai.ToolCall{{
					ID:   "call_1",
					Type: "function",
					Function: openai.FunctionCall{
						Name:      "Read",
						Arguments: `{"path": unclosed`,
					},
				}},
			},
			FinishReason: openai.FinishToolCalls,
		}},
	}

	out, warnings := OpenAIResponseToAnthropic(resp, "m")
	require.Len(t, warnings, 1)

	require.Len(t, out.Content, 1)
	block := out.Content[0]
	assert.Equal(t, anthropic.BlockToolUse, block.Type)
	assert.Equal(t, "Read", block.Name)
	assert.Empty(t, block.Input)
	assert.Equal(t, anthropic.StopToolUse, out.StopReason)
}

func TestGeminiResponseToAnthropic(t *testing.T) {
	resp := &gemini.Response{
		Candidates: []gemini.Candidate{{
			Content: &genai.Content{
				Role: "model",
				Parts: []*genai.Part{
					{Text: "first "},
					{Text: "second"},
					{FunctionCall: &genai.FunctionCall{Name: "Read", Args: map[string]any{"path": "a"}}},
				},
			},
			FinishReason: "STOP",
		}},
		UsageMetadata: &gemini.UsageMetadata{PromptTokenCount: 7, CandidatesTokenCount: 3},
	}

	out, warnings := GeminiResponseToAnthropic(resp, "claude-3-5-sonnet")
	require.Empty(t, warnings)

	// Text parts collapse into a single leading text block.
	require.Len(t, out.Content, 2)
	assert.Equal(t, anthropic.BlockText, out.Content[0].Type)
	assert.Equal(t, "first second", out.Content[0].Text)
	assert.Equal(t, anthropic.BlockToolUse, out.Content[1].Type)
	assert.NotEmpty(t, out.Content[1].ID, "missing ids must be synthesized")
	assert.Equal(t, anthropic.StopToolUse, out.StopReason)
	assert.Equal(t, 7, out.Usage.InputTokens)
	assert.Equal(t, 3, out.Usage.OutputTokens)
}

func TestGeminiFinishSafetyMapsToStopSequence(t *testing.T) {
	resp := &gemini.Response{
		Candidates: []gemini.Candidate{{
			Content:      &genai.Content{Role: "model", Parts: []*genai.Part{{Text: "cut"}}},
			FinishReason: "SAFETY",
		}},
	}
	out, _ := GeminiResponseToAnthropic(resp, "m")
	assert.Equal(t, anthropic.StopStopSequence, out.StopReason)
}

func TestAnthropicResponseToOpenAI(t *testing.T) {
	resp := anthropic.NewResponse("claude-3-5-sonnet")
	resp.Content = []anthropic.ContentBlock{
		anthropic.TextBlock("hello"),
		anthropic.ToolUseBlock("toolu_1", "Write", map[string]any{"path": "b"}),
	}
	resp.StopReason = anthropic.StopToolUse
	resp.Usage = anthropic.Usage{InputTokens: 4, OutputTokens: 2}

	out := AnthropicResponseToOpenAI(resp)
	require.Len(t, out.Choices, 1)
	choice := out.Choices[0]
	assert.Equal(t, openai.FinishToolCalls, choice.FinishReason)
	assert.Equal(t, "hello", choice.Message.ContentText())
	require.Len(t, choice.Message.ToolCalls, 1)
	assert.JSONEq(t, `{"path":"b"}`, choice.Message.ToolCalls[0].Function.Arguments)
	require.NotNil(t, out.Usage)
	assert.Equal(t, 4, out.Usage.PromptTokens)
	assert.Equal(t, 2, out.Usage.CompletionTokens)
	assert.Equal(t, 6, out.Usage.TotalTokens)
}

func TestAnthropicResponseToGemini(t *testing.T) {
	resp := anthropic.NewResponse("claude-3-5-sonnet")
	resp.Content = []anthropic.ContentBlock{anthropic.TextBlock("ok")}
	resp.StopReason = anthropic.StopMaxTokens
	resp.Usage = anthropic.Usage{InputTokens: 10, OutputTokens: 20}

	out := AnthropicResponseToGemini(resp)
	require.Len(t, out.Candidates, 1)
	assert.Equal(t, "MAX_TOKENS", out.Candidates[0].FinishReason)
	require.Len(t, out.Candidates[0].Content.Parts, 1)
	assert.Equal(t, "ok", out.Candidates[0].Content.Parts[0].Text)
	require.NotNil(t, out.UsageMetadata)
	assert.Equal(t, 30, out.UsageMetadata.TotalTokenCount)
}

func TestGeminiRequestToAnthropic(t *testing.T) {
	req := &gemini.Request{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: "be safe"}}},
		Contents: []*genai.Content{
			{Role: "user", Parts: []*genai.Part{{Text: "hi"}}},
			{Role: "model", Parts: []*genai.Part{{Text: "hello"}}},
		},
		GenerationConfig: &gemini.GenerationConfig{MaxOutputTokens: 512},
	}

	out, warnings := GeminiRequestToAnthropic("gemini-2.0-flash", req)
	require.Empty(t, warnings)
	assert.Equal(t, "be safe", out.System)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, anthropic.RoleUser, out.Messages[0].Role)
	assert.Equal(t, anthropic.RoleAssistant, out.Messages[1].Role)
	assert.Equal(t, 512, out.MaxTokens)
}

func TestFinishReasonDefaults(t *testing.T) {
	assert.Equal(t, anthropic.StopEndTurn, OpenAIFinishToStop(""))
	assert.Equal(t, anthropic.StopEndTurn, OpenAIFinishToStop("weird"))
	assert.Equal(t, anthropic.StopEndTurn, GeminiFinishToStop(""))
	assert.Equal(t, openai.FinishStop, StopToOpenAIFinish(anthropic.StopEndTurn))
}
