// Package protocol identifies which of the three wire formats a body is in
// and parses tool definitions leniently. Detection is a total function over a
// tagged set of formats: a body matching more than one format is rejected as
// ambiguous rather than resolved by iteration order.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Format tags one of the supported wire formats.
type Format string

const (
	FormatUnknown   Format = ""
	FormatAnthropic Format = "anthropic"
	FormatOpenAI    Format = "openai"
	FormatGemini    Format = "gemini"
)

// ErrAmbiguousFormat is returned when a body satisfies more than one
// format's detector.
var ErrAmbiguousFormat = fmt.Errorf("body matches more than one wire format")

// ErrUnknownFormat is returned when a body satisfies none.
var ErrUnknownFormat = fmt.Errorf("body matches no known wire format")

// DetectRequest classifies a request body.
//
// Signals: Gemini requests carry `contents`; Anthropic requests carry
// `max_tokens`+`messages` or messages with block-array content; OpenAI
// requests carry `messages` with string content. A messages array alone is
// shared between Anthropic and OpenAI, so the tie-break inspects content
// shape and the fields unique to each.
func DetectRequest(body map[string]any) (Format, error) {
	var matches []Format

	if _, ok := body["contents"]; ok {
		matches = append(matches, FormatGemini)
	}

	if _, ok := body["messages"]; ok {
		if isAnthropicRequest(body) {
			matches = append(matches, FormatAnthropic)
		} else {
			matches = append(matches, FormatOpenAI)
		}
	}

	switch len(matches) {
	case 0:
		return FormatUnknown, ErrUnknownFormat
	case 1:
		return matches[0], nil
	default:
		return FormatUnknown, ErrAmbiguousFormat
	}
}

// isAnthropicRequest separates the two messages-carrying formats. Anthropic
// bodies carry a top-level `system` string, an Anthropic tool shape
// (name+input_schema), or block-array message content with Anthropic types.
func isAnthropicRequest(body map[string]any) bool {
	if _, ok := body["system"].(string); ok {
		return true
	}

	if tools, ok := body["tools"].([]any); ok && len(tools) > 0 {
		if tm, ok := tools[0].(map[string]any); ok {
			if _, hasSchema := tm["input_schema"]; hasSchema {
				return true
			}
			if _, hasFn := tm["function"]; hasFn {
				return false
			}
		}
	}

	messages, _ := body["messages"].([]any)
	for _, m := range messages {
		mm, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if _, isTool := mm["tool_call_id"]; isTool {
			return false
		}
		if _, hasCalls := mm["tool_calls"]; hasCalls {
			return false
		}
		if blocks, ok := mm["content"].([]any); ok {
			for _, b := range blocks {
				bm, ok := b.(map[string]any)
				if !ok {
					continue
				}
				switch bm["type"] {
				case "tool_use", "tool_result":
					return true
				}
			}
		}
	}

	return false
}

// DetectResponse classifies a response body. Exactly one of `choices`
// (OpenAI), `candidates` (Gemini), or `content`+role=assistant (Anthropic)
// must match.
func DetectResponse(body map[string]any) (Format, error) {
	var matches []Format

	if _, ok := body["choices"]; ok {
		matches = append(matches, FormatOpenAI)
	}
	if _, ok := body["candidates"]; ok {
		matches = append(matches, FormatGemini)
	}
	if _, ok := body["content"]; ok {
		if role, _ := body["role"].(string); role == "assistant" || body["stop_reason"] != nil {
			matches = append(matches, FormatAnthropic)
		}
	}

	switch len(matches) {
	case 0:
		return FormatUnknown, ErrUnknownFormat
	case 1:
		return matches[0], nil
	default:
		return FormatUnknown, ErrAmbiguousFormat
	}
}

// DecodeBody unmarshals raw bytes into the generic map the detectors and
// repairers work over.
func DecodeBody(raw []byte) (map[string]any, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return body, nil
}
