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
	"context"
	"sync"

	"google.golang.org/genai"

	"github.com/kadirpekel/switchboard/pkg/apierror"
	"github.com/kadirpekel/switchboard/pkg/protocol/gemini"
	"github.com/kadirpekel/switchboard/pkg/routing"
)

// geminiClients caches one SDK client per (api key, endpoint) pair.
type geminiClients struct {
	mu      sync.Mutex
	clients map[string]*genai.Client
}

func newGeminiClients() *geminiClients {
	return &geminiClients{clients: make(map[string]*genai.Client)}
}

func (p *geminiClients) get(ctx context.Context, apiKey, endpoint string) (*genai.Client, error) {
	key := apiKey + "\x00" + endpoint
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[key]; ok {
		return client, nil
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if endpoint != "" {
		cfg.HTTPOptions.BaseURL = endpoint
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.clients[key] = client
	return client, nil
}

// CallGemini dispatches a generateContent request through the genai SDK.
func (c *Client) CallGemini(ctx context.Context, dec *routing.Decision, req *gemini.Request) (*gemini.Response, error) {
	a, err := c.authorize(ctx, dec)
	if err != nil {
		return nil, err
	}

	client, err := c.gemini.get(ctx, a.token, dec.Endpoint)
	if err != nil {
		return nil, upstreamErr(dec, err, "create gemini client")
	}

	resp, err := client.Models.GenerateContent(ctx, dec.Model, req.Contents, req.GenaiConfig())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, upstreamErr(dec, err, "gemini generation failed")
	}

	out := gemini.FromGenai(resp)
	if len(out.Candidates) == 0 {
		return nil, apierror.New(apierror.CodeAbnormalResponse, "gemini returned no candidates").
			WithProvider(dec.Provider).
			WithModel(dec.Model)
	}
	return out, nil
}
