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

// Package extract recovers tool calls that models emit as plain text instead
// of structured tool_calls. Several hosted models (GLM, LM Studio builds,
// some ModelScope deployments) narrate their calls into the content field;
// this package scans that text and turns the narration back into real calls.
//
// Scanning runs over a sliding window (500 units, 100 overlap) so large text
// blocks stay linear. Pattern starts are located inside the window; the
// brace-aware capture then runs on the full text from the absolute offset, so
// a call larger than a window is still captured whole.
package extract

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

const (
	windowSize    = 500
	windowOverlap = 100
)

// Call is one tool invocation recovered from text. Start/End are byte offsets
// of the matched span in the original text.
type Call struct {
	Name  string
	Input map[string]any
	Start int
	End   int
}

// Identifier-like names that are almost certainly code snippets, not tool
// calls, when seen in the bare NAME({...}) form.
var reservedNames = map[string]bool{
	"console": true,
	"json":    true,
	"object":  true,
	"array":   true,
	"string":  true,
	"math":    true,
	"date":    true,
}

var (
	toolCallPrefixRe = regexp.MustCompile(`Tool call:\s*([A-Za-z_][A-Za-z0-9_.\-]*)\s*\(`)
	toolUseJSONRe    = regexp.MustCompile(`\{\s*"type"\s*:\s*"tool_use"`)
	directCallRe     = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*\(\s*\{`)
	functionCallRe   = regexp.MustCompile(`"function_call"\s*:\s*\{`)
)

// FromText scans text for embedded tool calls and returns them in
// left-to-right order of their starting positions, together with the text
// with the matched spans removed. Overlapping matches deduplicate to the
// earliest-starting one.
func FromText(text string) ([]Call, string) {
	var calls []Call

	seen := make(map[int]bool)
	forEachWindow(text, func(base int, window string) {
		for _, c := range scanWindow(text, base, window) {
			if !seen[c.Start] {
				seen[c.Start] = true
				calls = append(calls, c)
			}
		}
	})

	sort.Slice(calls, func(i, j int) bool { return calls[i].Start < calls[j].Start })
	calls = dropOverlaps(calls)

	return calls, removeSpans(text, calls)
}

func forEachWindow(text string, fn func(base int, window string)) {
	if text == "" {
		return
	}
	step := windowSize - windowOverlap
	for start := 0; ; start += step {
		end := start + windowSize
		if end > len(text) {
			end = len(text)
		}
		fn(start, text[start:end])
		if end == len(text) {
			return
		}
	}
}

// scanWindow locates pattern starts inside one window. Captures run on the
// full text so spans may extend past the window's end.
func scanWindow(text string, base int, window string) []Call {
	var calls []Call

	for _, m := range toolCallPrefixRe.FindAllStringSubmatchIndex(window, -1) {
		name := window[m[2]:m[3]]
		if c, ok := captureParenCall(text, base+m[0], base+m[1], name); ok {
			calls = append(calls, c)
		}
	}

	for _, m := range toolUseJSONRe.FindAllStringIndex(window, -1) {
		if c, ok := captureToolUseObject(text, base+m[0]); ok {
			calls = append(calls, c)
		}
	}

	for _, m := range directCallRe.FindAllStringSubmatchIndex(window, -1) {
		name := window[m[2]:m[3]]
		if reservedNames[strings.ToLower(name)] {
			continue
		}
		// The capture consumed the opening brace; back up so the JSON
		// scanner sees it.
		jsonStart := base + m[1] - 1
		if c, ok := captureParenCall(text, base+m[0], jsonStart, name); ok {
			calls = append(calls, c)
		}
	}

	for _, m := range functionCallRe.FindAllStringIndex(window, -1) {
		if c, ok := captureFunctionCall(text, base+m[0], base+m[1]-1); ok {
			calls = append(calls, c)
		}
	}

	return calls
}

// captureParenCall finishes a NAME( ... match: a brace-delimited JSON object
// followed by the closing parenthesis.
func captureParenCall(text string, start, afterOpen int, name string) (Call, bool) {
	jsonStart := skipSpaces(text, afterOpen)
	if jsonStart >= len(text) || text[jsonStart] != '{' {
		return Call{}, false
	}
	jsonEnd, ok := scanJSONObject(text, jsonStart)
	if !ok {
		return Call{}, false
	}

	var input map[string]any
	if err := json.Unmarshal([]byte(text[jsonStart:jsonEnd]), &input); err != nil {
		return Call{}, false
	}

	end := skipSpaces(text, jsonEnd)
	if end < len(text) && text[end] == ')' {
		end++
	}
	return Call{Name: name, Input: input, Start: start, End: end}, true
}

func captureToolUseObject(text string, start int) (Call, bool) {
	objStart := strings.IndexByte(text[start:], '{') + start
	end, ok := scanJSONObject(text, objStart)
	if !ok {
		return Call{}, false
	}

	var obj struct {
		Type  string         `json:"type"`
		Name  string         `json:"name"`
		Input map[string]any `json:"input"`
	}
	if err := json.Unmarshal([]byte(text[objStart:end]), &obj); err != nil {
		return Call{}, false
	}
	if obj.Type != "tool_use" || obj.Name == "" {
		return Call{}, false
	}
	if obj.Input == nil {
		obj.Input = map[string]any{}
	}
	return Call{Name: obj.Name, Input: obj.Input, Start: start, End: end}, true
}

func captureFunctionCall(text string, start, objStart int) (Call, bool) {
	end, ok := scanJSONObject(text, objStart)
	if !ok {
		return Call{}, false
	}

	var obj struct {
		Name      string `json:"name"`
		Arguments any    `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(text[objStart:end]), &obj); err != nil {
		return Call{}, false
	}
	if obj.Name == "" {
		return Call{}, false
	}

	input := map[string]any{}
	switch args := obj.Arguments.(type) {
	case map[string]any:
		input = args
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(args), &m); err == nil && m != nil {
			input = m
		}
	}
	return Call{Name: obj.Name, Input: input, Start: start, End: end}, true
}

// scanJSONObject walks a brace-delimited object starting at text[start]=='{',
// tracking string and escape state, and returns the offset one past the
// matching close brace.
func scanJSONObject(text string, start int) (int, bool) {
	if start < 0 || start >= len(text) || text[start] != '{' {
		return 0, false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

func skipSpaces(text string, i int) int {
	for i < len(text) && (text[i] == ' ' || text[i] == '\t' || text[i] == '\n' || text[i] == '\r') {
		i++
	}
	return i
}

// dropOverlaps keeps the earliest-starting match of any overlapping group.
// The input must be sorted by Start.
func dropOverlaps(calls []Call) []Call {
	out := calls[:0]
	lastEnd := -1
	for _, c := range calls {
		if c.Start < lastEnd {
			continue
		}
		out = append(out, c)
		lastEnd = c.End
	}
	return out
}

// removeSpans deletes the matched spans from text. The calls must be sorted
// and non-overlapping.
func removeSpans(text string, calls []Call) string {
	if len(calls) == 0 {
		return text
	}
	var sb strings.Builder
	prev := 0
	for _, c := range calls {
		sb.WriteString(text[prev:c.Start])
		prev = c.End
	}
	sb.WriteString(text[prev:])
	return strings.TrimSpace(sb.String())
}
