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
	"strings"

	"github.com/google/uuid"

	"github.com/kadirpekel/switchboard/pkg/apierror"
	"github.com/kadirpekel/switchboard/pkg/extract"
	"github.com/kadirpekel/switchboard/pkg/protocol/openai"
)

// Abnormal-response kinds, carried in the error's details.
const (
	AbnormalAPIError      = "api_error"
	AbnormalEmpty         = "empty_response"
	AbnormalConnection    = "connection_error"
	AbnormalMissingFinish = "missing_finish_reason"
)

// DetectAbnormal classifies a response body before any repair touches it.
// Returns nil when the body looks like something worth repairing.
func DetectAbnormal(body map[string]any, status int) *apierror.Error {
	if errObj, ok := body["error"]; ok && errObj != nil {
		e := apierror.New(apierror.CodeAbnormalResponse, "upstream returned an error body").
			WithDetail("kind", AbnormalAPIError)
		if em, ok := errObj.(map[string]any); ok {
			if msg, ok := em["message"].(string); ok {
				e.Message = msg
			}
			if t, ok := em["type"].(string); ok {
				e.WithDetail("error_type", t)
			}
		}
		if status >= 400 {
			e.WithStatus(status)
		}
		return e
	}
	if status >= 400 {
		return apierror.Newf(apierror.CodeAbnormalResponse, "upstream answered status %d", status).
			WithDetail("kind", AbnormalAPIError).
			WithStatus(status)
	}
	if len(body) == 0 {
		return apierror.New(apierror.CodeAbnormalResponse, "upstream returned an empty body").
			WithDetail("kind", AbnormalEmpty)
	}
	return nil
}

// ConnectionError wraps a transport-level failure as an abnormal response.
func ConnectionError(err error) *apierror.Error {
	return apierror.Wrap(apierror.CodeAbnormalResponse, err, "upstream connection failed").
		WithDetail("kind", AbnormalConnection)
}

// MissingFinish flags a stream that produced output but never sent a finish
// reason.
func MissingFinish(outputTokens int, finishReason string) *apierror.Error {
	if outputTokens <= 0 || finishReason != "" {
		return nil
	}
	return apierror.New(apierror.CodeAbnormalResponse, "stream ended without a finish reason").
		WithDetail("kind", AbnormalMissingFinish).
		WithDetail("output_tokens", outputTokens)
}

// RepairResponse runs the repair pass over a raw OpenAI-protocol response
// body. The body is repaired in place and returned; warnings describe every
// repair applied. The only error condition is strict mode hitting an
// explicit "unknown" finish reason.
//
// Repairs run in a fixed order: synthesize missing choices, wrap incomplete
// choice entries, peel LM Studio channel markers, extract text-embedded tool
// calls, then settle finish reasons.
func RepairResponse(body map[string]any, set Settings) (map[string]any, []string, error) {
	if body == nil {
		body = map[string]any{}
	}
	var warnings []string

	if set.PatchEnabled(PatchMissingChoices) {
		warnings = append(warnings, repairMissingChoices(body)...)
	}
	if set.PatchEnabled(PatchIncompleteChoices) {
		warnings = append(warnings, repairIncompleteChoices(body)...)
	}

	// Extraction belongs to the unified pass; with it off only the
	// structural repairs above run.
	if set.UnifiedPreprocessing {
		if set.PatchEnabled(PatchLMStudio) {
			warnings = append(warnings, extractFromChoices(body, "lmstudio", lmStudioExtractor)...)
		}
		if set.PatchEnabled(PatchTextTools) {
			warnings = append(warnings, extractFromChoices(body, "text", textExtractor)...)
		}
	}

	if set.StrictFinishReason {
		if err := rejectUnknownFinish(body); err != nil {
			return body, warnings, err
		}
	}
	if set.PatchEnabled(PatchFinishOverride) {
		settleFinishReasons(body)
	}

	return body, warnings, nil
}

// Fields scavenged, in order, when a body arrives without choices.
var contentFallbacks = []string{"content", "message", "text", "response", "output"}

func repairMissingChoices(body map[string]any) []string {
	if choices, ok := body["choices"].([]any); ok && len(choices) > 0 {
		return nil
	}

	msg, source := scavengeMessage(body)
	if msg == nil {
		return nil
	}

	choice := map[string]any{
		"index":   0,
		"message": msg,
	}
	if finish := scavengeFinish(body); finish != "" {
		choice["finish_reason"] = finish
	}
	body["choices"] = []any{choice}
	return []string{fmt.Sprintf("synthesized choices from %q", source)}
}

// scavengeMessage builds an assistant message from whatever field the
// provider hid the content in.
func scavengeMessage(body map[string]any) (map[string]any, string) {
	for _, field := range contentFallbacks {
		value, ok := body[field]
		if !ok || value == nil {
			continue
		}
		// A message-shaped object is adopted wholesale.
		if vm, ok := value.(map[string]any); ok {
			if _, hasContent := vm["content"]; hasContent {
				if _, hasRole := vm["role"]; !hasRole {
					vm["role"] = "assistant"
				}
				return vm, field
			}
		}
		if text := openai.AnyContentText(value); text != "" {
			return map[string]any{"role": "assistant", "content": text}, field
		}
	}
	for _, outer := range []string{"result", "data"} {
		if om, ok := body[outer].(map[string]any); ok {
			if text := openai.AnyContentText(om["content"]); text != "" {
				return map[string]any{"role": "assistant", "content": text}, outer + ".content"
			}
		}
	}
	return nil, ""
}

func scavengeFinish(body map[string]any) string {
	for _, field := range []string{"finish_reason", "stop_reason", "finishReason", "status"} {
		if s, ok := body[field].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func repairIncompleteChoices(body map[string]any) []string {
	choices, ok := body["choices"].([]any)
	if !ok {
		return nil
	}

	var warnings []string
	for i, entry := range choices {
		choice, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if _, hasMessage := choice["message"]; hasMessage {
			continue
		}

		msg := map[string]any{"role": "assistant", "content": nil}
		for _, field := range []string{"delta", "text", "content"} {
			value, ok := choice[field]
			if !ok || value == nil {
				continue
			}
			if vm, ok := value.(map[string]any); ok && field == "delta" {
				msg = vm
				if _, hasRole := msg["role"]; !hasRole {
					msg["role"] = "assistant"
				}
			} else if text := openai.AnyContentText(value); text != "" {
				msg["content"] = text
			}
			delete(choice, field)
			break
		}
		choice["message"] = msg
		warnings = append(warnings, fmt.Sprintf("wrapped incomplete choice %d", i))
	}
	return warnings
}

type extractorFunc func(text string) ([]extract.Call, string, bool)

func lmStudioExtractor(text string) ([]extract.Call, string, bool) {
	if !extract.HasLMStudioMarkers(text) {
		return nil, text, false
	}
	calls, rest := extract.FromLMStudio(text)
	return calls, rest, len(calls) > 0
}

func textExtractor(text string) ([]extract.Call, string, bool) {
	calls, rest := extract.FromText(text)
	return calls, rest, len(calls) > 0
}

// extractFromChoices runs one extractor over every choice's message content
// and rewrites recovered calls as real tool_calls.
func extractFromChoices(body map[string]any, kind string, fn extractorFunc) []string {
	choices, ok := body["choices"].([]any)
	if !ok {
		return nil
	}

	var warnings []string
	for i, entry := range choices {
		choice, _ := entry.(map[string]any)
		if choice == nil {
			continue
		}
		msg, _ := choice["message"].(map[string]any)
		if msg == nil {
			continue
		}
		text, _ := msg["content"].(string)
		if text == "" {
			continue
		}

		calls, rest, found := fn(text)
		if !found {
			continue
		}

		existing, _ := msg["tool_calls"].([]any)
		msg["tool_calls"] = append(existing, toolCallMaps(calls)...)
		if rest == "" {
			msg["content"] = nil
		} else {
			msg["content"] = rest
		}
		choice["finish_reason"] = openai.FinishToolCalls
		warnings = append(warnings, fmt.Sprintf("choice %d: recovered %d %s-embedded tool call(s)", i, len(calls), kind))
	}
	return warnings
}

func toolCallMaps(calls []extract.Call) []any {
	out := make([]any, 0, len(calls))
	for _, c := range calls {
		args, _ := json.Marshal(c.Input)
		out = append(out, map[string]any{
			"id":   "call_" + strings.ReplaceAll(uuid.New().String(), "-", ""),
			"type": "function",
			"function": map[string]any{
				"name":      c.Name,
				"arguments": string(args),
			},
		})
	}
	return out
}

func rejectUnknownFinish(body map[string]any) error {
	choices, _ := body["choices"].([]any)
	for i, entry := range choices {
		choice, _ := entry.(map[string]any)
		if choice == nil {
			continue
		}
		if fr, _ := choice["finish_reason"].(string); fr == "unknown" {
			return apierror.Newf(apierror.CodeAbnormalResponse, "choice %d has explicit unknown finish reason", i).
				WithDetail("kind", AbnormalMissingFinish)
		}
	}
	return nil
}

// settleFinishReasons forces tool_calls when tool calls are present and
// defaults an absent finish reason to stop. Content collapses to null when
// only tool calls remain.
func settleFinishReasons(body map[string]any) {
	choices, _ := body["choices"].([]any)
	for _, entry := range choices {
		choice, _ := entry.(map[string]any)
		if choice == nil {
			continue
		}
		msg, _ := choice["message"].(map[string]any)

		hasToolCalls := false
		if msg != nil {
			if tc, ok := msg["tool_calls"].([]any); ok && len(tc) > 0 {
				hasToolCalls = true
			}
		}

		if hasToolCalls {
			choice["finish_reason"] = openai.FinishToolCalls
			if s, ok := msg["content"].(string); ok && s == "" {
				msg["content"] = nil
			}
		} else if fr, _ := choice["finish_reason"].(string); fr == "" || fr == "unknown" {
			choice["finish_reason"] = openai.FinishStop
		}
	}
}
