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

package upstream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/kadirpekel/switchboard/pkg/protocol/openai"
)

const sseDonePayload = "[DONE]"

// ChunkStream reads a chat-completions SSE stream chunk by chunk.
type ChunkStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
	done   bool
}

func newChunkStream(body io.ReadCloser) *ChunkStream {
	return &ChunkStream{body: body, reader: bufio.NewReader(body)}
}

// Next returns the next chunk, or io.EOF after the [DONE] sentinel or end of
// stream. Malformed data lines are skipped rather than fatal: providers
// interleave keep-alive noise with real payloads.
func (s *ChunkStream) Next() (*openai.StreamChunk, error) {
	if s.done {
		return nil, io.EOF
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				s.done = true
				if payload, ok := dataPayload(line); ok && payload != sseDonePayload {
					var chunk openai.StreamChunk
					if jsonErr := json.Unmarshal([]byte(payload), &chunk); jsonErr == nil {
						return &chunk, nil
					}
				}
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read stream: %w", err)
		}

		payload, ok := dataPayload(line)
		if !ok {
			continue
		}
		if payload == sseDonePayload {
			s.done = true
			return nil, io.EOF
		}

		var chunk openai.StreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		return &chunk, nil
	}
}

// Close releases the underlying connection.
func (s *ChunkStream) Close() error {
	s.done = true
	return s.body.Close()
}

func dataPayload(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}
