package openai

import (
	"encoding/json"
	"testing"
)

func TestAnyContentText(t *testing.T) {
	tests := []struct {
		name    string
		content any
		want    string
	}{
		{"nil", nil, ""},
		{"string", "hello", "hello"},
		{"part array", []any{
			map[string]any{"type": "text", "text": "a"},
			map[string]any{"type": "text", "text": "b"},
		}, "ab"},
		{"lone object", map[string]any{"type": "text", "text": "solo"}, "solo"},
		{"string parts", []any{"x", "y"}, "xy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AnyContentText(tt.content); got != tt.want {
				t.Errorf("AnyContentText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParsedArguments(t *testing.T) {
	tc := ToolCall{ID: "call_1", Type: "function", Function: FunctionCall{
		Name: "Edit", Arguments: `{"file_path":"/a","text":"hi"}`,
	}}
	args, err := tc.ParsedArguments()
	if err != nil {
		t.Fatalf("ParsedArguments: %v", err)
	}
	if args["file_path"] != "/a" {
		t.Errorf("args = %v", args)
	}

	broken := ToolCall{Function: FunctionCall{Name: "Edit", Arguments: `{not json`}}
	args, err = broken.ParsedArguments()
	if err == nil {
		t.Error("expected parse error")
	}
	if args == nil || len(args) != 0 {
		t.Errorf("broken arguments should yield empty input, got %v", args)
	}

	empty := ToolCall{Function: FunctionCall{Name: "Edit"}}
	args, err = empty.ParsedArguments()
	if err != nil || len(args) != 0 {
		t.Errorf("empty arguments: args=%v err=%v", args, err)
	}
}

func TestDecodeResponse(t *testing.T) {
	body := map[string]any{
		"id":    "chatcmpl-1",
		"model": "glm-4",
		"choices": []any{map[string]any{
			"index": 0,
			"message": map[string]any{
				"role":    "assistant",
				"content": "hello",
			},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5},
	}
	resp, err := DecodeResponse(body)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.ContentText() != "hello" {
		t.Errorf("choices = %+v", resp.Choices)
	}
	if resp.Usage.PromptTokens != 3 || resp.Usage.CompletionTokens != 2 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestStreamChunkDecode(t *testing.T) {
	data := `{"id":"c1","choices":[{"index":0,"delta":{"content":"hi"},"finish_reason":null}]}`
	var chunk StreamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if chunk.Choices[0].Delta.ContentText() != "hi" {
		t.Errorf("delta = %+v", chunk.Choices[0].Delta)
	}
}
