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

// Package upstream performs the outbound provider calls: request signing,
// base-url derivation, protocol dispatch, and SSE consumption. Bodies come
// back raw (as maps) so the compatibility stage can repair them before any
// strict decoding happens.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/kadirpekel/switchboard/pkg/apierror"
	"github.com/kadirpekel/switchboard/pkg/credentials"
	"github.com/kadirpekel/switchboard/pkg/httpclient"
	"github.com/kadirpekel/switchboard/pkg/protocol/openai"
	"github.com/kadirpekel/switchboard/pkg/routing"
)

// QwenDefaultBaseURL is the portal endpoint used when a credential carries no
// resource url.
const QwenDefaultBaseURL = "https://portal.qwen.ai/v1"

// Headers the Qwen portal expects on every call.
var qwenHeaders = map[string]string{
	"User-Agent":      "google-api-nodejs-client/9.15.1",
	"X-Goog-Api-Client": "gl-node/22.17.0",
	"Client-Metadata": "ideType=IDE_UNSPECIFIED,platform=PLATFORM_UNSPECIFIED,pluginType=GEMINI",
	"Accept":          "application/json",
}

// auth is a resolved credential for one call.
type auth struct {
	token       string
	resourceURL string
	oauth       bool
}

// Client dispatches requests to providers. Each wire protocol gets its own
// retrying HTTP client so rate-limit headers are parsed in the provider's
// dialect and Retry-After hints drive the backoff.
type Client struct {
	clients map[string]*httpclient.Client
	creds   *credentials.Store
	gemini  *geminiClients
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the retrying HTTP client for every protocol.
func WithHTTPClient(hc *httpclient.Client) Option {
	return func(c *Client) {
		for protocol := range c.clients {
			c.clients[protocol] = hc
		}
	}
}

// WithCredentialStore attaches the OAuth2 credential store.
func WithCredentialStore(store *credentials.Store) Option {
	return func(c *Client) { c.creds = store }
}

// New builds an upstream client.
func New(opts ...Option) *Client {
	c := &Client{
		clients: map[string]*httpclient.Client{
			routing.ProtocolOpenAI: httpclient.New(
				httpclient.WithHeaderParser(httpclient.ParserForProtocol(routing.ProtocolOpenAI))),
			routing.ProtocolAnthropic: httpclient.New(
				httpclient.WithHeaderParser(httpclient.ParserForProtocol(routing.ProtocolAnthropic))),
		},
		gemini: newGeminiClients(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// httpFor picks the client for a decision's protocol. The OpenAI dialect is
// the fallback; the Qwen portal and every compatible endpoint speak it.
func (c *Client) httpFor(protocol string) *httpclient.Client {
	if hc, ok := c.clients[protocol]; ok {
		return hc
	}
	return c.clients[routing.ProtocolOpenAI]
}

// Result is one upstream answer, raw.
type Result struct {
	Body   map[string]any
	Status int
}

// CallOpenAI posts a chat-completions request and returns the raw body. HTTP
// error statuses come back as a Result, not an error; the compatibility
// stage classifies them. Only transport-level failures error out.
func (c *Client) CallOpenAI(ctx context.Context, dec *routing.Decision, req *openai.ChatRequest) (*Result, error) {
	a, err := c.authorize(ctx, dec)
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, dec, a, "/chat/completions", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, upstreamErr(dec, err, "read response body")
	}

	body := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, apierror.Wrap(apierror.CodeAbnormalResponse, err, "upstream body is not JSON").
				WithProvider(dec.Provider).
				WithModel(dec.Model).
				WithDetail("status", resp.StatusCode)
		}
	}
	return &Result{Body: body, Status: resp.StatusCode}, nil
}

// StreamOpenAI posts a streaming chat-completions request and returns the
// chunk stream. The caller owns Close.
func (c *Client) StreamOpenAI(ctx context.Context, dec *routing.Decision, req *openai.ChatRequest) (*ChunkStream, error) {
	a, err := c.authorize(ctx, dec)
	if err != nil {
		return nil, err
	}

	stream := true
	req.Stream = &stream

	resp, err := c.post(ctx, dec, a, "/chat/completions", req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, apierror.Newf(apierror.CodeUpstream, "stream request failed with status %d", resp.StatusCode).
			WithProvider(dec.Provider).
			WithModel(dec.Model).
			WithStatus(http.StatusBadGateway).
			WithDetail("upstream_status", resp.StatusCode).
			WithDetail("body_preview", clip(string(raw), 500))
	}
	return newChunkStream(resp.Body), nil
}

// post signs and sends one JSON request.
func (c *Client) post(ctx context.Context, dec *routing.Decision, a *auth, path string, payload any) (*http.Response, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, upstreamErr(dec, err, "encode request")
	}

	url := baseURL(dec, a) + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, upstreamErr(dec, err, "build request")
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.token)
	if a.oauth {
		for k, v := range qwenHeaders {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpFor(dec.Protocol).Do(req)
	if err != nil && resp == nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, upstreamErr(dec, err, "upstream call failed")
	}
	return resp, nil
}

// authorize resolves the decision's auth reference. Names ending in .json go
// through the OAuth2 store; anything else is an environment variable name,
// falling back to a literal key.
func (c *Client) authorize(ctx context.Context, dec *routing.Decision) (*auth, error) {
	ref := dec.AuthRef
	if ref == "" {
		return &auth{}, nil
	}

	if strings.HasSuffix(ref, ".json") {
		if c.creds == nil {
			return nil, apierror.New(apierror.CodeAuth, "no credential store configured").
				WithProvider(dec.Provider)
		}
		rec, err := c.creds.Resolve(ctx, strings.TrimSuffix(ref, ".json"))
		if err != nil {
			return nil, err
		}
		return &auth{token: rec.AccessToken, resourceURL: rec.ResourceURL, oauth: true}, nil
	}

	if v := os.Getenv(ref); v != "" {
		return &auth{token: v}, nil
	}
	return &auth{token: ref}, nil
}

// baseURL picks the call's base: an explicit endpoint wins; OAuth providers
// derive it from the credential's resource url.
func baseURL(dec *routing.Decision, a *auth) string {
	if dec.Endpoint != "" {
		return strings.TrimRight(dec.Endpoint, "/")
	}
	if a.resourceURL != "" {
		return "https://" + strings.TrimRight(a.resourceURL, "/") + "/v1"
	}
	return QwenDefaultBaseURL
}

func upstreamErr(dec *routing.Decision, err error, message string) *apierror.Error {
	return apierror.Wrap(apierror.CodeUpstream, err, message).
		WithProvider(dec.Provider).
		WithModel(dec.Model)
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
