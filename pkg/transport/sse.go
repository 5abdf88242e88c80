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

package transport

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kadirpekel/switchboard/pkg/protocol/anthropic"
)

// sseWriter emits Anthropic streaming events as SSE frames.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, flusher: flusher}, nil
}

// WriteEvent writes one named event frame and flushes it.
func (s *sseWriter) WriteEvent(ev anthropic.StreamEvent) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, ev.Encode()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteError writes a terminal error frame. Used once the stream has
// started and a plain HTTP error is no longer possible.
func (s *sseWriter) WriteError(err error) {
	_, envelope := errorEnvelopeOf(err)
	data, _ := json.Marshal(envelope)
	fmt.Fprintf(s.w, "event: error\ndata: %s\n\n", data)
	s.flusher.Flush()
}
