package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/switchboard/pkg/credentials"
	"github.com/kadirpekel/switchboard/pkg/pipeline"
	"github.com/kadirpekel/switchboard/pkg/routing"
	"github.com/kadirpekel/switchboard/pkg/upstream"
)

func newTestGateway(t *testing.T, endpoint string) (*Gateway, *httptest.Server) {
	t.Helper()

	engine := routing.NewEngine(routing.Config{
		Providers: map[string]routing.Provider{
			"test-openai": {
				ID:       "test-openai",
				Protocol: routing.ProtocolOpenAI,
				Endpoint: endpoint,
				AuthRef:  "test-key",
			},
		},
		Routes: map[routing.Category]routing.Target{
			routing.CategoryDefault: {Provider: "test-openai", Model: "test-model-v1"},
		},
	})

	coord := pipeline.New(engine, upstream.New())
	g, err := NewGateway("test-"+t.Name(), coord, engine)
	require.NoError(t, err)
	t.Cleanup(func() { gateways.Remove(g.addr) })

	srv := httptest.NewServer(g.Router())
	t.Cleanup(srv.Close)
	return g, srv
}

func upstreamCompletion(t *testing.T, content, finish string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"choices": []any{
				map[string]any{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": content},
					"finish_reason": finish,
				},
			},
			"usage": map[string]any{"prompt_tokens": 5, "completion_tokens": 3},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestMessagesEndpoint(t *testing.T) {
	up := upstreamCompletion(t, "Hello from upstream.", "stop")
	_, srv := newTestGateway(t, up.URL)

	resp, body := postJSON(t, srv.URL+"/v1/messages",
		`{"model":"claude-3-5-sonnet","messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "claude-3-5-sonnet", body["model"])
	assert.Equal(t, "end_turn", body["stop_reason"])

	content, ok := body["content"].([]any)
	require.True(t, ok)
	require.Len(t, content, 1)
	block := content[0].(map[string]any)
	assert.Equal(t, "text", block["type"])
	assert.Equal(t, "Hello from upstream.", block["text"])
}

func TestMessagesStreaming(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w,
			"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\",\"content\":\"Hi\"}}]}\n\n",
			"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":2,\"completion_tokens\":1}}\n\n",
			"data: [DONE]\n\n")
	}))
	t.Cleanup(up.Close)
	_, srv := newTestGateway(t, up.URL)

	resp, err := http.Post(srv.URL+"/v1/messages", "application/json",
		strings.NewReader(`{"model":"m","stream":true,"messages":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(raw)

	assert.Contains(t, out, "event: message_start")
	assert.Contains(t, out, "event: content_block_delta")
	assert.Contains(t, out, `"text":"Hi"`)
	assert.Contains(t, out, "event: message_stop")

	// Frames arrive in protocol order.
	assert.Less(t, strings.Index(out, "message_start"), strings.Index(out, "message_stop"))
}

func TestChatCompletionsFunnel(t *testing.T) {
	up := upstreamCompletion(t, "funneled", "stop")
	_, srv := newTestGateway(t, up.URL)

	resp, body := postJSON(t, srv.URL+"/v1/chat/completions",
		`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	choices, ok := body["choices"].([]any)
	require.True(t, ok)
	require.Len(t, choices, 1)
	msg := choices[0].(map[string]any)["message"].(map[string]any)
	assert.Equal(t, "assistant", msg["role"])
	assert.Equal(t, "funneled", msg["content"])
	assert.Equal(t, "stop", choices[0].(map[string]any)["finish_reason"])
}

func TestGeminiGenerateColonForm(t *testing.T) {
	up := upstreamCompletion(t, "gemini answer", "stop")
	_, srv := newTestGateway(t, up.URL)

	resp, body := postJSON(t, srv.URL+"/v1beta/models/gemini-pro:generateContent",
		`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	candidates, ok := body["candidates"].([]any)
	require.True(t, ok)
	require.Len(t, candidates, 1)
}

func TestGeminiGenerateMissingModel(t *testing.T) {
	up := upstreamCompletion(t, "x", "stop")
	_, srv := newTestGateway(t, up.URL)

	resp, body := postJSON(t, srv.URL+"/v1beta/models/:generateContent",
		`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`)

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "validation-error", errBody["type"])
}

func TestProxyKeepsInboundFormat(t *testing.T) {
	up := upstreamCompletion(t, "proxied", "stop")
	_, srv := newTestGateway(t, up.URL)

	// OpenAI-shaped body in, OpenAI-shaped body out.
	resp, body := postJSON(t, srv.URL+"/v1/proxy/test-openai/test-model-v1",
		`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}],"tools":[{"type":"function","function":{"name":"f"}}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, hasChoices := body["choices"]
	assert.True(t, hasChoices)

	// Anthropic-shaped body answers in Anthropic shape.
	resp, body = postJSON(t, srv.URL+"/v1/proxy/test-openai/test-model-v1",
		`{"model":"claude-3-5-sonnet","system":"be nice","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, hasContent := body["content"]
	assert.True(t, hasContent)
	assert.Equal(t, "end_turn", body["stop_reason"])
}

func TestProxyUnknownProvider(t *testing.T) {
	up := upstreamCompletion(t, "x", "stop")
	_, srv := newTestGateway(t, up.URL)

	resp, body := postJSON(t, srv.URL+"/v1/proxy/nope/some-model",
		`{"model":"claude-3-5-sonnet","system":"s","messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "no-provider-available", errBody["type"])
}

func TestAdminDisableEnable(t *testing.T) {
	up := upstreamCompletion(t, "back online", "stop")
	g, srv := newTestGateway(t, up.URL)

	resp, body := postJSON(t, srv.URL+"/admin/providers/test-openai/disable", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["disabled"])
	assert.Contains(t, g.engine.DisabledProviders(), "test-openai")

	resp, body = postJSON(t, srv.URL+"/v1/messages",
		`{"model":"m","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "no-provider-available", errBody["type"])

	resp, _ = postJSON(t, srv.URL+"/admin/providers/test-openai/enable", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = postJSON(t, srv.URL+"/v1/messages",
		`{"model":"m","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, body["content"])
}

func TestHealthAndStatus(t *testing.T) {
	up := upstreamCompletion(t, "x", "stop")
	_, srv := newTestGateway(t, up.URL)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])

	statusResp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer statusResp.Body.Close()
	require.Equal(t, http.StatusOK, statusResp.StatusCode)

	var status map[string]any
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&status))
	assert.Equal(t, "dev", status["version"])
	assert.Contains(t, status, "uptime_seconds")
	assert.Contains(t, status, "disabled_providers")
}

func TestAuthCacheAdmin(t *testing.T) {
	up := upstreamCompletion(t, "x", "stop")
	g, srv := newTestGateway(t, up.URL)

	// No store wired: nothing to clear.
	resp, body := postJSON(t, srv.URL+"/admin/auth/clear-cache", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "validation-error", errBody["type"])

	g.creds = credentials.NewStore(t.TempDir())

	statusResp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer statusResp.Body.Close()
	var status map[string]any
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&status))
	assert.Contains(t, status, "auth_cache")

	resp, body = postJSON(t, srv.URL+"/admin/auth/clear-cache", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cleared", body["status"])
}

func TestErrorEnvelopeShape(t *testing.T) {
	up := upstreamCompletion(t, "x", "stop")
	_, srv := newTestGateway(t, up.URL)

	resp, body := postJSON(t, srv.URL+"/v1/messages", `{not json`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, "error", body["type"])
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "validation-error", errBody["type"])
	assert.NotEmpty(t, errBody["message"])
}

func TestCORSPreflight(t *testing.T) {
	up := upstreamCompletion(t, "x", "stop")
	_, srv := newTestGateway(t, up.URL)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/v1/messages", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestDuplicateGatewayAddress(t *testing.T) {
	up := upstreamCompletion(t, "x", "stop")
	g, _ := newTestGateway(t, up.URL)

	_, err := NewGateway(g.addr, g.coord, g.engine)
	require.Error(t, err)
}
