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

package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

// LM Studio's harmony-style channel markers leak into content verbatim when
// the server fails to parse them itself:
//
//	<|start|>assistant<|channel|>commentary to=functions.NAME <|constrain|>JSON<|message|>{...}
//
// The JSON payload runs to the matching close brace or the next marker.
var lmStudioMarkerRe = regexp.MustCompile(
	`<\|start\|>assistant<\|channel\|>commentary to=functions\.([A-Za-z0-9_.\-]+)\s*(?:<\|constrain\|>JSON)?\s*<\|message\|>`)

// HasLMStudioMarkers reports whether text carries the channel-marker syntax.
func HasLMStudioMarkers(text string) bool {
	return strings.Contains(text, "<|channel|>")
}

// FromLMStudio peels channel-marked tool calls out of text. Returns the
// recovered calls in order and the remaining text with the marked spans
// removed.
func FromLMStudio(text string) ([]Call, string) {
	var calls []Call

	for _, m := range lmStudioMarkerRe.FindAllStringSubmatchIndex(text, -1) {
		name := text[m[2]:m[3]]

		jsonStart := skipSpaces(text, m[1])
		if jsonStart >= len(text) || text[jsonStart] != '{' {
			continue
		}
		jsonEnd, ok := scanJSONObject(text, jsonStart)
		if !ok {
			continue
		}

		var input map[string]any
		if err := json.Unmarshal([]byte(text[jsonStart:jsonEnd]), &input); err != nil {
			continue
		}

		calls = append(calls, Call{
			Name:  name,
			Input: input,
			Start: m[0],
			End:   jsonEnd,
		})
	}

	return calls, removeSpans(text, calls)
}
