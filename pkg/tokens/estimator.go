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

// Package tokens estimates request size and rewrites requests that exceed a
// model's context budget.
package tokens

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kadirpekel/switchboard/pkg/protocol/anthropic"
)

// Estimator counts tokens in a piece of text.
type Estimator interface {
	Estimate(text string) int
}

// HeuristicEstimator divides length by four, rounded up. Cheap and
// intentionally pessimistic; it is the default because it never needs an
// encoding download.
type HeuristicEstimator struct{}

func (HeuristicEstimator) Estimate(text string) int {
	return (len(text) + 3) / 4
}

var (
	encodingCache   = make(map[string]*tiktoken.Tiktoken)
	encodingCacheMu sync.RWMutex
)

// TiktokenEstimator counts with a real BPE encoding. Encodings are cached
// per model; unknown models fall back to cl100k_base.
type TiktokenEstimator struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenEstimator builds an estimator for model.
func NewTiktokenEstimator(model string) (*TiktokenEstimator, error) {
	encodingCacheMu.RLock()
	cached, ok := encodingCache[model]
	encodingCacheMu.RUnlock()
	if ok {
		return &TiktokenEstimator{encoding: cached}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get encoding for %s: %w", model, err)
		}
	}

	encodingCacheMu.Lock()
	encodingCache[model] = encoding
	encodingCacheMu.Unlock()

	return &TiktokenEstimator{encoding: encoding}, nil
}

func (e *TiktokenEstimator) Estimate(text string) int {
	return len(e.encoding.Encode(text, nil, nil))
}

// EstimateRequest sums the estimate over every message content, the system
// prompt, and the serialized tool definitions.
func EstimateRequest(est Estimator, req *anthropic.Request) int {
	if req == nil {
		return 0
	}
	total := est.Estimate(req.System)
	for _, msg := range req.Messages {
		total += est.Estimate(serializedContent(msg.Content))
	}
	for _, tool := range req.Tools {
		total += est.Estimate(string(tool))
	}
	return total
}

func serializedContent(content anthropic.MessageContent) string {
	if content.IsText() {
		return content.Text
	}
	raw, err := json.Marshal(content.Blocks)
	if err != nil {
		return content.PlainText()
	}
	return string(raw)
}
