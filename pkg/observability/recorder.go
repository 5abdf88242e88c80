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

package observability

import (
	"sync"
	"time"

	"github.com/kadirpekel/switchboard/pkg/routing"
)

// Recorder is the instrument surface the rest of the broker records through.
// Allows dependency injection and easier testing.
type Recorder interface {
	RecordRoute(category, provider string)
	RecordRequest(category, provider string, duration time.Duration, failed bool)
	RecordStage(stage string, elapsed time.Duration, failed bool)
	RecordUpstreamCall(provider, model string, duration time.Duration, status int)
	RecordTokens(provider string, inputTokens, outputTokens int)
	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, reqSize, respSize int64)
}

var (
	globalRecorder Recorder = NoopMetrics{}
	recorderMu     sync.RWMutex
)

// SetGlobalRecorder installs the process-wide recorder.
func SetGlobalRecorder(r Recorder) {
	if r == nil {
		return
	}
	recorderMu.Lock()
	defer recorderMu.Unlock()
	globalRecorder = r
}

// GlobalRecorder returns the process-wide recorder, never nil.
func GlobalRecorder() Recorder {
	recorderMu.RLock()
	defer recorderMu.RUnlock()
	return globalRecorder
}

// RouteRecorder adapts a Recorder to the routing engine's counter hook.
type RouteRecorder struct {
	Recorder Recorder
}

func (r RouteRecorder) RecordRoute(category routing.Category, provider string) {
	rec := r.Recorder
	if rec == nil {
		rec = GlobalRecorder()
	}
	rec.RecordRoute(string(category), provider)
}

// StageRecorder adapts a Recorder to the pipeline's stage-timing hook.
type StageRecorder struct {
	Recorder Recorder
}

func (r StageRecorder) RecordStage(stage string, elapsed time.Duration, failed bool) {
	rec := r.Recorder
	if rec == nil {
		rec = GlobalRecorder()
	}
	rec.RecordStage(stage, elapsed, failed)
}

// Ensure implementations satisfy the interface.
var (
	_ Recorder = (*Metrics)(nil)
	_ Recorder = NoopMetrics{}
)
