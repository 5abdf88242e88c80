package gemini

import (
	"encoding/json"
	"testing"

	"google.golang.org/genai"
)

func TestSanitizeToolName(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"Read", "Read", true},
		{"fs.read-file", "fs_read_file", true},
		{"9fs.read", "tool_9fs_read", true},
		{"!!!", "", false},
		{"___", "", false},
		{"a.b.c", "a_b_c", true},
		{"with  spaces", "with_spaces", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := SanitizeToolName(tt.in)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("SanitizeToolName(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
			}
			if ok && !ValidToolName(got) {
				t.Errorf("sanitized name %q still invalid", got)
			}
		})
	}
}

func TestSanitizeToolNameLength(t *testing.T) {
	long := "a"
	for i := 0; i < 100; i++ {
		long += ".x"
	}
	got, ok := SanitizeToolName(long)
	if !ok {
		t.Fatal("long name dropped")
	}
	if len(got) > 64 || !ValidToolName(got) {
		t.Errorf("sanitized long name invalid: %q (len %d)", got, len(got))
	}
}

func TestToSchemaStripsUnsupported(t *testing.T) {
	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"path": map[string]any{
				"type":      "string",
				"pattern":   "^/",
				"minLength": float64(1),
				"format":    "uri",
				"enum":      []any{"a", "b"},
			},
			"count": map[string]any{"type": "integer"},
		},
		"required": []any{"path"},
	}

	s := ToSchema(schema)
	if s.Type != genai.TypeObject {
		t.Errorf("type = %v", s.Type)
	}
	path := s.Properties["path"]
	if path == nil || path.Type != genai.TypeString {
		t.Fatalf("path schema = %+v", path)
	}
	if len(path.Enum) != 0 {
		t.Error("enum should be stripped")
	}
	if len(s.Required) != 1 || s.Required[0] != "path" {
		t.Errorf("required = %v", s.Required)
	}
	if s.Properties["count"].Type != genai.TypeInteger {
		t.Errorf("count type = %v", s.Properties["count"].Type)
	}
}

func TestStripSchema(t *testing.T) {
	schema := map[string]any{
		"type":    "object",
		"pattern": "x",
		"anyOf":   []any{map[string]any{"type": "string"}},
		"properties": map[string]any{
			"a": map[string]any{"type": "string", "const": "v", "maxLength": float64(3)},
		},
	}
	out := StripSchema(schema)
	if _, ok := out["pattern"]; ok {
		t.Error("pattern survived")
	}
	if _, ok := out["anyOf"]; ok {
		t.Error("anyOf survived")
	}
	prop := out["properties"].(map[string]any)["a"].(map[string]any)
	if _, ok := prop["const"]; ok {
		t.Error("nested const survived")
	}
	if prop["type"] != "string" {
		t.Errorf("nested type lost: %v", prop)
	}
}

func TestResponseDecode(t *testing.T) {
	body := `{
		"candidates": [{
			"content": {"role":"model","parts":[{"text":"hi"},{"functionCall":{"name":"Read","args":{"path":"/x"}}}]},
			"finishReason": "STOP"
		}],
		"usageMetadata": {"promptTokenCount":7,"candidatesTokenCount":4,"totalTokenCount":11}
	}`
	var resp Response
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Candidates) != 1 || resp.Candidates[0].FinishReason != "STOP" {
		t.Fatalf("candidates = %+v", resp.Candidates)
	}
	parts := resp.Candidates[0].Content.Parts
	if len(parts) != 2 || parts[0].Text != "hi" || parts[1].FunctionCall.Name != "Read" {
		t.Errorf("parts = %+v", parts)
	}
	if resp.UsageMetadata.PromptTokenCount != 7 {
		t.Errorf("usage = %+v", resp.UsageMetadata)
	}
}

func TestFromGenai(t *testing.T) {
	sdk := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Role: "model", Parts: []*genai.Part{{Text: "ok"}}},
			FinishReason: genai.FinishReasonMaxTokens,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount: 2, CandidatesTokenCount: 1, TotalTokenCount: 3,
		},
	}
	resp := FromGenai(sdk)
	if resp.Candidates[0].FinishReason != "MAX_TOKENS" {
		t.Errorf("finish = %q", resp.Candidates[0].FinishReason)
	}
	if resp.UsageMetadata.TotalTokenCount != 3 {
		t.Errorf("usage = %+v", resp.UsageMetadata)
	}
}
