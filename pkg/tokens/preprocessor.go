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

package tokens

import (
	"encoding/json"

	"github.com/kadirpekel/switchboard/pkg/protocol/anthropic"
	"github.com/kadirpekel/switchboard/pkg/routing"
)

// Strategy names, recorded in the applied list.
const (
	StrategyReroute  = "reroute"
	StrategyTruncate = "truncate"
	StrategyCompress = "compress"
)

// TruncateDirection says which part of the removable history goes first.
type TruncateDirection string

const (
	TruncateHead   TruncateDirection = "head"
	TruncateTail   TruncateDirection = "tail"
	TruncateMiddle TruncateDirection = "middle"
)

// DefaultRatio is the fraction of the limit the preprocessor aims under.
const DefaultRatio = 0.95

const stubDescriptionLimit = 100

// Options configures the preprocessor.
type Options struct {
	// Ratio of the limit to aim under; 0 means DefaultRatio.
	Ratio float64

	// RerouteThreshold redirects the request to longcontext when the
	// estimate reaches it. 0 disables rerouting.
	RerouteThreshold int

	// KeepRecent is how many trailing messages truncation always preserves.
	// 0 means the default of 2.
	KeepRecent int

	// Direction picks which removable messages truncation drops first.
	Direction TruncateDirection

	// StubTools replaces tool definitions with minimal stubs during
	// truncation.
	StubTools bool

	// Compress hands the request to an external compressor. Out of core;
	// nil means the strategy is skipped.
	Compress func(*anthropic.Request) (*anthropic.Request, error)
}

// Result is the preprocessor's outcome.
type Result struct {
	Request  *anthropic.Request
	Applied  []string
	Redirect routing.Category
	Estimate int
}

// Preprocessor rewrites requests that exceed their model's budget.
type Preprocessor struct {
	est  Estimator
	opts Options
}

// NewPreprocessor builds a preprocessor. A nil estimator falls back to the
// heuristic.
func NewPreprocessor(est Estimator, opts Options) *Preprocessor {
	if est == nil {
		est = HeuristicEstimator{}
	}
	if opts.Ratio <= 0 || opts.Ratio > 1 {
		opts.Ratio = DefaultRatio
	}
	if opts.KeepRecent <= 0 {
		opts.KeepRecent = 2
	}
	if opts.Direction == "" {
		opts.Direction = TruncateHead
	}
	return &Preprocessor{est: est, opts: opts}
}

// Process applies strategies in ascending priority until the estimate fits
// under limit·ratio. A request already under budget passes through untouched.
func (p *Preprocessor) Process(req *anthropic.Request, limit int) *Result {
	res := &Result{Request: req, Estimate: EstimateRequest(p.est, req)}
	if limit <= 0 {
		return res
	}

	budget := int(float64(limit) * p.opts.Ratio)
	if res.Estimate <= budget {
		return res
	}

	if p.opts.RerouteThreshold > 0 && res.Estimate >= p.opts.RerouteThreshold {
		res.Redirect = routing.CategoryLongContext
		res.Applied = append(res.Applied, StrategyReroute)
		return res
	}

	res.Request = p.truncate(cloneRequest(req), budget)
	res.Applied = append(res.Applied, StrategyTruncate)
	res.Estimate = EstimateRequest(p.est, res.Request)
	if res.Estimate <= budget {
		return res
	}

	if p.opts.Compress != nil {
		if compressed, err := p.opts.Compress(res.Request); err == nil && compressed != nil {
			res.Request = compressed
			res.Applied = append(res.Applied, StrategyCompress)
			res.Estimate = EstimateRequest(p.est, res.Request)
		}
	}
	return res
}

// truncate drops removable messages until the request fits. System-role
// messages and the trailing KeepRecent messages always survive.
func (p *Preprocessor) truncate(req *anthropic.Request, budget int) *anthropic.Request {
	if p.opts.StubTools {
		stubTools(req)
	}

	for EstimateRequest(p.est, req) > budget {
		idx := p.removableIndex(req.Messages)
		if idx < 0 {
			return req
		}
		req.Messages = append(req.Messages[:idx], req.Messages[idx+1:]...)
	}
	return req
}

// removableIndex picks the next message to drop, or -1 when nothing may go.
func (p *Preprocessor) removableIndex(messages []anthropic.Message) int {
	keepFrom := len(messages) - p.opts.KeepRecent
	if keepFrom < 0 {
		keepFrom = 0
	}

	var candidates []int
	for i := 0; i < keepFrom; i++ {
		if messages[i].Role != anthropic.RoleSystem {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return -1
	}

	switch p.opts.Direction {
	case TruncateTail:
		return candidates[len(candidates)-1]
	case TruncateMiddle:
		return candidates[len(candidates)/2]
	default:
		return candidates[0]
	}
}

// stubTools shrinks each tool definition to name, a clipped description, and
// string-typed parameters.
func stubTools(req *anthropic.Request) {
	for i, raw := range req.Tools {
		var tool struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"input_schema"`
		}
		if err := json.Unmarshal(raw, &tool); err != nil || tool.Name == "" {
			continue
		}

		if len(tool.Description) > stubDescriptionLimit {
			tool.Description = tool.Description[:stubDescriptionLimit]
		}

		schema := map[string]any{"type": "object"}
		if props, ok := tool.InputSchema["properties"].(map[string]any); ok {
			stubbed := make(map[string]any, len(props))
			for name := range props {
				stubbed[name] = map[string]any{"type": "string"}
			}
			schema["properties"] = stubbed
		}

		stub, err := json.Marshal(map[string]any{
			"name":         tool.Name,
			"description":  tool.Description,
			"input_schema": schema,
		})
		if err != nil {
			continue
		}
		req.Tools[i] = stub
	}
}

func cloneRequest(req *anthropic.Request) *anthropic.Request {
	clone := *req
	clone.Messages = append([]anthropic.Message(nil), req.Messages...)
	clone.Tools = append([]json.RawMessage(nil), req.Tools...)
	return &clone
}
