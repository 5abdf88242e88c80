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
	"net/http"

	"github.com/kadirpekel/switchboard/pkg/apierror"
)

// errorEnvelope is the Anthropic-style error body every endpoint answers
// with. Details carry stage and provider coordinates, never secrets.
type errorEnvelope struct {
	Type  string    `json:"type"`
	Error errorBody `json:"error"`
}

type errorBody struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Provider  string         `json:"provider,omitempty"`
	Model     string         `json:"model,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Stage     string         `json:"stage,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

func errorEnvelopeOf(err error) (int, errorEnvelope) {
	apiErr, ok := apierror.AsError(err)
	if !ok {
		apiErr = apierror.Wrap(apierror.CodePipelineStage, err, err.Error())
	}
	return apiErr.HTTPStatus(), errorEnvelope{
		Type: "error",
		Error: errorBody{
			Type:      string(apiErr.Code),
			Message:   apiErr.Message,
			Provider:  apiErr.Provider,
			Model:     apiErr.Model,
			RequestID: apiErr.RequestID,
			Stage:     apiErr.Stage,
			Details:   apiErr.Details,
		},
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, envelope := errorEnvelopeOf(err)
	writeJSON(w, status, envelope)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
