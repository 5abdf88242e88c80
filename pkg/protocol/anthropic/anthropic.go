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

// Package anthropic defines the Anthropic "messages" wire format: the inbound
// request the broker accepts, the response it always answers with, and the SSE
// event vocabulary for streaming. The unmarshalers are deliberately lenient —
// message content arrives as a plain string, a block array, or (from drifted
// clients) a lone object — because the broker's job is to absorb that drift,
// not reject it.
package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Message roles accepted on the wire. System prompts arrive via the
// top-level field; tool results arrive as user-role tool_result blocks.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// StopReason is the normalized termination vocabulary every provider's
// finish reason is mapped into.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopToolUse      StopReason = "tool_use"
	StopStopSequence StopReason = "stop_sequence"
)

// Content block kinds.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Request is the inbound Anthropic-format request.
//
// Tools stay raw until the compatibility stage parses them: real traffic
// contains tool arrays with junk entries (strings, numbers, half-translated
// OpenAI shapes) that must be repaired, not decode-rejected.
type Request struct {
	Model         string            `json:"model"`
	Messages      []Message         `json:"messages"`
	System        string            `json:"system,omitempty"`
	Tools         []json.RawMessage `json:"tools,omitempty"`
	MaxTokens     int               `json:"max_tokens,omitempty"`
	Temperature   *float64          `json:"temperature,omitempty"`
	TopP          *float64          `json:"top_p,omitempty"`
	TopK          *int              `json:"top_k,omitempty"`
	StopSequences []string          `json:"stop_sequences,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// MessageContent is either a plain string or an ordered block sequence.
// Blocks==nil means the string form was used (including the empty string).
type MessageContent struct {
	Text   string
	Blocks []ContentBlock
}

// IsText reports whether the content arrived in (or collapsed to) the
// string form.
func (c MessageContent) IsText() bool {
	return c.Blocks == nil
}

// PlainText joins the textual content of the message: the string form
// as-is, or the concatenation of all text blocks.
func (c MessageContent) PlainText() string {
	if c.Blocks == nil {
		return c.Text
	}
	var sb strings.Builder
	for _, b := range c.Blocks {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*c = MessageContent{}
		return nil
	}

	switch trimmed[0] {
	case '"':
		return json.Unmarshal(data, &c.Text)
	case '[':
		return json.Unmarshal(data, &c.Blocks)
	case '{':
		// A lone object is drift from clients that forgot the array. A
		// {type:"text"} object unwraps to its text; anything else is kept
		// verbatim as the serialized string.
		var block ContentBlock
		if err := json.Unmarshal(data, &block); err == nil && block.Type == BlockText {
			c.Text = block.Text
			return nil
		}
		c.Text = trimmed
		return nil
	default:
		return fmt.Errorf("unsupported content shape: %s", previewOf(trimmed))
	}
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Blocks == nil {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Blocks)
}

// TextContent builds the string form.
func TextContent(text string) MessageContent {
	return MessageContent{Text: text}
}

// BlockContent builds the block-array form.
func BlockContent(blocks ...ContentBlock) MessageContent {
	if blocks == nil {
		blocks = []ContentBlock{}
	}
	return MessageContent{Blocks: blocks}
}

// ContentBlock is the tagged variant text | tool_use | tool_result.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result; Content mirrors the message-content leniency (string
	// or nested blocks), kept raw for pass-through.
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ResultText extracts the textual payload of a tool_result block.
func (b ContentBlock) ResultText() string {
	if len(b.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(b.Content, &blocks); err == nil {
		var sb strings.Builder
		for _, nested := range blocks {
			if nested.Type == BlockText {
				sb.WriteString(nested.Text)
			}
		}
		return sb.String()
	}
	return string(b.Content)
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool_use content block.
func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	if input == nil {
		input = map[string]any{}
	}
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool_result block with a string payload.
func ToolResultBlock(toolUseID, content string) ContentBlock {
	raw, _ := json.Marshal(content)
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: raw}
}

// NewToolUseID synthesizes a tool_use id for providers that do not send one.
func NewToolUseID() string {
	return "toolu_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Response is the Anthropic-shaped response the caller always observes.
type Response struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Model        string         `json:"model,omitempty"`
	Content      []ContentBlock `json:"content"`
	StopReason   StopReason     `json:"stop_reason,omitempty"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// Usage carries normalized token counts.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// NewResponse builds an empty assistant response envelope.
func NewResponse(model string) *Response {
	return &Response{
		ID:    "msg_" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		Type:  "message",
		Role:  RoleAssistant,
		Model: model,
	}
}

// HasToolUse reports whether any content block is a tool_use.
func (r *Response) HasToolUse() bool {
	for _, b := range r.Content {
		if b.Type == BlockToolUse {
			return true
		}
	}
	return false
}

// Validate enforces the inbound invariants: at least one message, known
// roles, and every tool_result referencing a previously emitted tool_use id.
func Validate(req *Request) error {
	if req == nil {
		return fmt.Errorf("request is nil")
	}
	if len(req.Messages) == 0 {
		return fmt.Errorf("messages must be present and non-empty")
	}

	seenToolUse := make(map[string]bool)
	for i, msg := range req.Messages {
		switch msg.Role {
		case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		default:
			return fmt.Errorf("message %d: invalid role %q", i, msg.Role)
		}
		for _, b := range msg.Content.Blocks {
			switch b.Type {
			case BlockText:
			case BlockToolUse:
				if b.ID != "" {
					seenToolUse[b.ID] = true
				}
			case BlockToolResult:
				if b.ToolUseID == "" {
					return fmt.Errorf("message %d: tool_result missing tool_use_id", i)
				}
				if !seenToolUse[b.ToolUseID] {
					return fmt.Errorf("message %d: tool_result references unknown tool_use id %q", i, b.ToolUseID)
				}
			default:
				return fmt.Errorf("message %d: unknown content block type %q", i, b.Type)
			}
		}
	}
	return nil
}

func previewOf(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}
