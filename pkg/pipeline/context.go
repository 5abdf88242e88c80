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

// Package pipeline wires a request through its stages: routing, token
// preprocessing, translation, compatibility adaptation, the upstream call,
// and the response repair chain. The coordinator owns the request context;
// stages borrow it.
package pipeline

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/switchboard/pkg/routing"
)

// Stage tags, stamped on the context and on errors.
const (
	StageValidate    = "validate"
	StageRoute       = "route"
	StageTokens      = "tokens"
	StageTransform   = "transform"
	StageCompat      = "compat"
	StageUpstream    = "upstream"
	StagePreprocess  = "preprocess"
	StageStreaming   = "streaming"
	StageTranslate   = "translate"
	StagePostprocess = "postprocess"
)

// RequestContext travels with one request from acceptance to response. The
// coordinator creates it; stages read it and may write metadata.
type RequestContext struct {
	ID     string
	Start  time.Time
	Logger *slog.Logger

	mu       sync.RWMutex
	decision *routing.Decision
	metadata map[string]any
	stage    string
}

// NewRequestContext creates a context with a fresh request id.
func NewRequestContext(logger *slog.Logger) *RequestContext {
	if logger == nil {
		logger = slog.Default()
	}
	id := "req_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	return &RequestContext{
		ID:       id,
		Start:    time.Now(),
		Logger:   logger.With("requestId", id),
		metadata: make(map[string]any),
	}
}

// SetDecision records the routing decision; it is written once.
func (rc *RequestContext) SetDecision(dec *routing.Decision) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.decision == nil {
		rc.decision = dec
	}
}

// Decision returns the routing decision, nil before routing ran.
func (rc *RequestContext) Decision() *routing.Decision {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.decision
}

// SetStage stamps the current stage tag.
func (rc *RequestContext) SetStage(stage string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.stage = stage
}

// Stage returns the current stage tag.
func (rc *RequestContext) Stage() string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.stage
}

// SetMetadata writes one metadata entry.
func (rc *RequestContext) SetMetadata(key string, value any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.metadata[key] = value
}

// Metadata reads one metadata entry.
func (rc *RequestContext) Metadata(key string) (any, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	v, ok := rc.metadata[key]
	return v, ok
}

// Elapsed is the time since acceptance.
func (rc *RequestContext) Elapsed() time.Duration {
	return time.Since(rc.Start)
}
