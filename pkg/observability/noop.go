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
	"net/http"
	"time"
)

// NoopMetrics is a metrics implementation that does nothing. It is the
// default recorder until a real one is installed.
type NoopMetrics struct{}

func (NoopMetrics) RecordRoute(_, _ string)                                             {}
func (NoopMetrics) RecordRequest(_, _ string, _ time.Duration, _ bool)                  {}
func (NoopMetrics) RecordStage(_ string, _ time.Duration, _ bool)                       {}
func (NoopMetrics) RecordUpstreamCall(_, _ string, _ time.Duration, _ int)              {}
func (NoopMetrics) RecordTokens(_ string, _, _ int)                                     {}
func (NoopMetrics) RecordHTTPRequest(_, _ string, _ int, _ time.Duration, _, _ int64)   {}

// Handler returns a handler that answers 503 Service Unavailable.
func (NoopMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("metrics not enabled"))
	})
}
