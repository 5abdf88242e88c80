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
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kadirpekel/switchboard/pkg/apierror"
	"github.com/kadirpekel/switchboard/pkg/protocol"
	"github.com/kadirpekel/switchboard/pkg/protocol/anthropic"
	"github.com/kadirpekel/switchboard/pkg/protocol/gemini"
	"github.com/kadirpekel/switchboard/pkg/protocol/openai"
	"github.com/kadirpekel/switchboard/pkg/transform"
)

// handleMessages is the native surface: Anthropic format in, Anthropic
// format out, streaming when requested.
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req anthropic.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierror.Wrap(apierror.CodeValidation, err, "request body is not valid JSON"))
		return
	}

	if !req.Stream {
		resp, err := g.coord.Handle(r.Context(), &req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, apierror.Wrap(apierror.CodePipelineStage, err, err.Error()))
		return
	}

	// Once the first event is written the HTTP status is committed, so
	// later failures become terminal error frames.
	emitted := false
	streamErr := g.coord.HandleStream(r.Context(), &req, func(ev anthropic.StreamEvent) error {
		emitted = true
		return sse.WriteEvent(ev)
	})
	if streamErr != nil {
		if emitted {
			sse.WriteError(streamErr)
			return
		}
		writeError(w, streamErr)
	}
}

// handleChatCompletions is the OpenAI funnel: a chat-completions request is
// translated to the native format, brokered, and answered in the
// chat-completions shape.
func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var chatReq openai.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&chatReq); err != nil {
		writeError(w, apierror.Wrap(apierror.CodeValidation, err, "request body is not valid JSON"))
		return
	}

	req, warnings := transform.OpenAIRequestToAnthropic(&chatReq)
	g.logWarnings(warnings)

	resp, err := g.coord.Handle(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transform.AnthropicResponseToOpenAI(resp))
}

// handleGeminiGenerate is the Gemini funnel. The model comes from the URL,
// either as a segment or in the colon form.
func (g *Gateway) handleGeminiGenerate(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	if idx := strings.IndexByte(model, ':'); idx >= 0 {
		model = model[:idx]
	}
	if model == "" {
		writeError(w, apierror.New(apierror.CodeValidation, "model is required in the path"))
		return
	}

	var gemReq gemini.Request
	if err := json.NewDecoder(r.Body).Decode(&gemReq); err != nil {
		writeError(w, apierror.Wrap(apierror.CodeValidation, err, "request body is not valid JSON"))
		return
	}

	req, warnings := transform.GeminiRequestToAnthropic(model, &gemReq)
	g.logWarnings(warnings)

	resp, err := g.coord.Handle(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transform.AnthropicResponseToGemini(resp))
}

// handleProxy addresses an explicit (provider, model) pair. The body may be
// in any of the three formats; the response leaves in the same format it
// arrived in.
func (g *Gateway) handleProxy(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider")
	model := chi.URLParam(r, "model")

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apierror.Wrap(apierror.CodeValidation, err, "read request body"))
		return
	}

	body, err := protocol.DecodeBody(raw)
	if err != nil {
		writeError(w, apierror.Wrap(apierror.CodeValidation, err, "request body is not valid JSON"))
		return
	}
	format, err := protocol.DetectRequest(body)
	if err != nil {
		writeError(w, apierror.Wrap(apierror.CodeValidation, err, err.Error()))
		return
	}

	req, err := decodeAs(format, raw)
	if err != nil {
		writeError(w, err)
		return
	}

	dec, err := g.engine.ResolveProvider(providerID, model)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := g.coord.HandleDirect(r.Context(), dec, req)
	if err != nil {
		writeError(w, err)
		return
	}

	switch format {
	case protocol.FormatOpenAI:
		writeJSON(w, http.StatusOK, transform.AnthropicResponseToOpenAI(resp))
	case protocol.FormatGemini:
		writeJSON(w, http.StatusOK, transform.AnthropicResponseToGemini(resp))
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

// decodeAs parses raw into the native request according to its detected
// format.
func decodeAs(format protocol.Format, raw []byte) (*anthropic.Request, error) {
	switch format {
	case protocol.FormatOpenAI:
		var chatReq openai.ChatRequest
		if err := json.Unmarshal(raw, &chatReq); err != nil {
			return nil, apierror.Wrap(apierror.CodeValidation, err, "decode chat-completions request")
		}
		req, _ := transform.OpenAIRequestToAnthropic(&chatReq)
		return req, nil
	case protocol.FormatGemini:
		var gemReq gemini.Request
		if err := json.Unmarshal(raw, &gemReq); err != nil {
			return nil, apierror.Wrap(apierror.CodeValidation, err, "decode generateContent request")
		}
		req, _ := transform.GeminiRequestToAnthropic("", &gemReq)
		return req, nil
	default:
		var req anthropic.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, apierror.Wrap(apierror.CodeValidation, err, "decode messages request")
		}
		return &req, nil
	}
}

func (g *Gateway) logWarnings(warnings []string) {
	if len(warnings) == 0 {
		return
	}
	g.logger.Debug("translation warnings", "warnings", strings.Join(warnings, "; "))
}
