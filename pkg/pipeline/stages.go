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

package pipeline

import (
	"time"

	"github.com/kadirpekel/switchboard/pkg/extract"
	"github.com/kadirpekel/switchboard/pkg/protocol/anthropic"
)

// StageRecorder receives one elapsed-time sample per stage run.
type StageRecorder interface {
	RecordStage(stage string, elapsed time.Duration, failed bool)
}

type noopStageRecorder struct{}

func (noopStageRecorder) RecordStage(string, time.Duration, bool) {}

// responseStage is one step of the post-upstream chain over the normalized
// response.
type responseStage func(*anthropic.Response) (*anthropic.Response, error)

// runResponseStage times one stage. A failing stage logs and passes its
// input through; a broken repair must not take the whole response with it.
func (c *Coordinator) runResponseStage(rc *RequestContext, name string, resp *anthropic.Response, fn responseStage) *anthropic.Response {
	rc.SetStage(name)
	start := time.Now()

	out, err := fn(resp)
	c.rec.RecordStage(name, time.Since(start), err != nil)
	if err != nil {
		rc.Logger.Error("pipeline stage failed, passing input through",
			"stage", name, "error", err)
		return resp
	}
	return out
}

// postprocessResponse is the final repair pass on the Anthropic-shaped
// response: recover tool calls still narrated inside text blocks, drop empty
// text blocks, and enforce tool-use finality on the stop reason.
func postprocessResponse(resp *anthropic.Response) (*anthropic.Response, error) {
	var content []anthropic.ContentBlock

	for _, block := range resp.Content {
		if block.Type != anthropic.BlockText {
			content = append(content, block)
			continue
		}

		text := block.Text
		var calls []extract.Call
		if extract.HasLMStudioMarkers(text) {
			calls, text = extract.FromLMStudio(text)
		}
		moreCalls, text := extract.FromText(text)
		calls = append(calls, moreCalls...)

		if text != "" {
			content = append(content, anthropic.TextBlock(text))
		}
		for _, call := range calls {
			content = append(content, anthropic.ToolUseBlock(anthropic.NewToolUseID(), call.Name, call.Input))
		}
	}

	resp.Content = content
	if resp.Content == nil {
		resp.Content = []anthropic.ContentBlock{}
	}
	if resp.HasToolUse() {
		resp.StopReason = anthropic.StopToolUse
	}
	return resp, nil
}
