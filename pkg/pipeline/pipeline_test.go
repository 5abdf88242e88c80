package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/switchboard/pkg/apierror"
	"github.com/kadirpekel/switchboard/pkg/protocol/anthropic"
	"github.com/kadirpekel/switchboard/pkg/routing"
	"github.com/kadirpekel/switchboard/pkg/upstream"
)

func testEngine(endpoint string) *routing.Engine {
	return routing.NewEngine(routing.Config{
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
}

func userRequest(text string) *anthropic.Request {
	return &anthropic.Request{
		Model: "claude-3-5-sonnet",
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: anthropic.TextContent(text)},
		},
	}
}

func completionBody(content any, finish string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"choices": []any{
			map[string]any{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": finish,
			},
		},
		"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 7},
	}
}

func TestHandleEndToEnd(t *testing.T) {
	var gotAuth, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel, _ = req["model"].(string)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionBody("Hello there.", "stop"))
	}))
	defer srv.Close()

	coord := New(testEngine(srv.URL), upstream.New())
	resp, err := coord.Handle(context.Background(), userRequest("hi"))
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "test-model-v1", gotModel)
	// The caller sees its own model name, not the upstream's.
	assert.Equal(t, "claude-3-5-sonnet", resp.Model)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "Hello there.", resp.Content[0].Text)
	assert.Equal(t, anthropic.StopEndTurn, resp.StopReason)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 7, resp.Usage.OutputTokens)
}

func TestHandleTextEmbeddedToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionBody(
			`Let me check. Tool call: get_weather({"city": "Paris"})`, "stop"))
	}))
	defer srv.Close()

	coord := New(testEngine(srv.URL), upstream.New())
	resp, err := coord.Handle(context.Background(), userRequest("weather in paris?"))
	require.NoError(t, err)

	require.True(t, resp.HasToolUse())
	assert.Equal(t, anthropic.StopToolUse, resp.StopReason)

	var tool *anthropic.ContentBlock
	for i := range resp.Content {
		if resp.Content[i].Type == anthropic.BlockToolUse {
			tool = &resp.Content[i]
		}
	}
	require.NotNil(t, tool)
	assert.Equal(t, "get_weather", tool.Name)
	assert.Equal(t, "Paris", tool.Input["city"])
	assert.NotEmpty(t, tool.ID)
}

func TestHandleRepairsMissingChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// Drifted provider shape: no choices array at all.
		json.NewEncoder(w).Encode(map[string]any{"content": "recovered text"})
	}))
	defer srv.Close()

	coord := New(testEngine(srv.URL), upstream.New())
	resp, err := coord.Handle(context.Background(), userRequest("hi"))
	require.NoError(t, err)

	require.Len(t, resp.Content, 1)
	assert.Equal(t, "recovered text", resp.Content[0].Text)
	assert.Equal(t, anthropic.StopEndTurn, resp.StopReason)
}

func TestHandleValidationError(t *testing.T) {
	coord := New(testEngine("http://unused.invalid"), upstream.New())
	_, err := coord.Handle(context.Background(), &anthropic.Request{Model: "m"})
	require.Error(t, err)

	apiErr, ok := apierror.AsError(err)
	require.True(t, ok)
	assert.Equal(t, apierror.CodeValidation, apiErr.Code)
	assert.Equal(t, StageValidate, apiErr.Stage)
	assert.NotEmpty(t, apiErr.RequestID)
}

func TestHandleDisabledProvider(t *testing.T) {
	engine := testEngine("http://unused.invalid")
	engine.TemporarilyDisableProvider("test-openai")

	coord := New(engine, upstream.New())
	_, err := coord.Handle(context.Background(), userRequest("hi"))
	require.Error(t, err)
	assert.Equal(t, apierror.CodeNoProviderAvailable, apierror.CodeOf(err))
}

func TestHandleUpstreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "model overloaded"},
		})
	}))
	defer srv.Close()

	coord := New(testEngine(srv.URL), upstream.New())
	_, err := coord.Handle(context.Background(), userRequest("hi"))
	require.Error(t, err)

	apiErr, ok := apierror.AsError(err)
	require.True(t, ok)
	assert.Equal(t, apierror.CodeAbnormalResponse, apiErr.Code)
	assert.Equal(t, "test-openai", apiErr.Provider)
	assert.Equal(t, "test-model-v1", apiErr.Model)
	assert.NotEmpty(t, apiErr.RequestID)
}

func TestHandleRepairCache(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionBody("cached answer", "stop"))
	}))
	defer srv.Close()

	cache := NewCache(10)
	coord := New(testEngine(srv.URL), upstream.New(), WithCache(cache))

	first, err := coord.Handle(context.Background(), userRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())

	second, err := coord.Handle(context.Background(), userRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, first.Content[0].Text, second.Content[0].Text)
}

func TestHandlePinnedProfile(t *testing.T) {
	var gotTemp float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotTemp, _ = req["temperature"].(float64)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionBody("ok", "stop"))
	}))
	defer srv.Close()

	engine := routing.NewEngine(routing.Config{
		Providers: map[string]routing.Provider{
			"custom": {
				ID:       "custom",
				Protocol: routing.ProtocolOpenAI,
				Endpoint: srv.URL,
				AuthRef:  "k",
				Profile:  "glm",
			},
		},
		Routes: map[routing.Category]routing.Target{
			routing.CategoryDefault: {Provider: "custom", Model: "some-model"},
		},
	})

	coord := New(engine, upstream.New())
	_, err := coord.Handle(context.Background(), userRequest("hi"))
	require.NoError(t, err)
	assert.InDelta(t, 0.8, gotTemp, 1e-9)
}

type countingStageRecorder struct {
	stages []string
	failed bool
}

func (r *countingStageRecorder) RecordStage(stage string, _ time.Duration, failed bool) {
	r.stages = append(r.stages, stage)
	r.failed = r.failed || failed
}

func TestStageRecorderReceivesPostprocess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionBody("ok", "stop"))
	}))
	defer srv.Close()

	rec := &countingStageRecorder{}
	coord := New(testEngine(srv.URL), upstream.New(), WithStageRecorder(rec))
	_, err := coord.Handle(context.Background(), userRequest("hi"))
	require.NoError(t, err)

	require.NotEmpty(t, rec.stages)
	assert.Contains(t, rec.stages, StagePostprocess)
	assert.False(t, rec.failed)
}

func sseLines(payloads ...string) string {
	out := ""
	for _, p := range payloads {
		out += "data: " + p + "\n\n"
	}
	return out + "data: [DONE]\n\n"
}

func TestHandleStreamText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, true, req["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseLines(
			`{"choices":[{"delta":{"role":"assistant","content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":4,"completion_tokens":2}}`,
		))
	}))
	defer srv.Close()

	coord := New(testEngine(srv.URL), upstream.New())

	var events []anthropic.StreamEvent
	err := coord.HandleStream(context.Background(), userRequest("hi"), func(ev anthropic.StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)

	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	assert.Equal(t, []string{
		anthropic.EventMessageStart,
		anthropic.EventContentBlockStart,
		anthropic.EventContentBlockDelta,
		anthropic.EventContentBlockDelta,
		anthropic.EventContentBlockStop,
		anthropic.EventMessageDelta,
		anthropic.EventMessageStop,
	}, types)

	assert.Equal(t, "Hel", events[2].Delta.Text)
	assert.Equal(t, "lo", events[3].Delta.Text)

	final := events[5]
	assert.Equal(t, anthropic.StopEndTurn, final.Delta.StopReason)
	require.NotNil(t, final.Usage)
	assert.Equal(t, 4, final.Usage.InputTokens)
	assert.Equal(t, 2, final.Usage.OutputTokens)
}

func TestHandleStreamStructuredToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseLines(
			`{"choices":[{"delta":{"tool_calls":[{"id":"call_1","type":"function","function":{"name":"lookup","arguments":""}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"function":{"arguments":"{\"q\":"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"function":{"arguments":"\"go\"}"}}]}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":9,"completion_tokens":5}}`,
		))
	}))
	defer srv.Close()

	coord := New(testEngine(srv.URL), upstream.New())

	var events []anthropic.StreamEvent
	err := coord.HandleStream(context.Background(), userRequest("hi"), func(ev anthropic.StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)

	var start *anthropic.StreamEvent
	var args string
	for i := range events {
		ev := events[i]
		if ev.Type == anthropic.EventContentBlockStart && ev.ContentBlock != nil &&
			ev.ContentBlock.Type == anthropic.BlockToolUse {
			start = &events[i]
		}
		if ev.Type == anthropic.EventContentBlockDelta && ev.Delta != nil &&
			ev.Delta.Type == anthropic.DeltaInputJSON {
			args += ev.Delta.PartialJSON
		}
	}
	require.NotNil(t, start)
	assert.Equal(t, "call_1", start.ContentBlock.ID)
	assert.Equal(t, "lookup", start.ContentBlock.Name)
	assert.JSONEq(t, `{"q":"go"}`, args)

	final := events[len(events)-2]
	require.Equal(t, anthropic.EventMessageDelta, final.Type)
	assert.Equal(t, anthropic.StopToolUse, final.Delta.StopReason)
}

// Parallel tool calls interleave their argument fragments across chunks;
// the delta's index decides which call a fragment belongs to.
func TestHandleStreamParallelToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseLines(
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"read","arguments":""}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"write","arguments":""}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"path\":\"a\"}"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":1,"function":{"arguments":"{\"path\":\"b\"}"}}]}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		))
	}))
	defer srv.Close()

	coord := New(testEngine(srv.URL), upstream.New())

	var events []anthropic.StreamEvent
	err := coord.HandleStream(context.Background(), userRequest("hi"), func(ev anthropic.StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)

	args := map[string]string{}
	var current string
	for _, ev := range events {
		if ev.Type == anthropic.EventContentBlockStart && ev.ContentBlock != nil &&
			ev.ContentBlock.Type == anthropic.BlockToolUse {
			current = ev.ContentBlock.Name
		}
		if ev.Type == anthropic.EventContentBlockDelta && ev.Delta != nil &&
			ev.Delta.Type == anthropic.DeltaInputJSON {
			args[current] += ev.Delta.PartialJSON
		}
	}
	require.Len(t, args, 2)
	assert.JSONEq(t, `{"path":"a"}`, args["read"])
	assert.JSONEq(t, `{"path":"b"}`, args["write"])
}

func TestHandleStreamExtractsTextToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseLines(
			`{"choices":[{"delta":{"content":"Tool call: ping({\"host\": \"example.com\"})"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		))
	}))
	defer srv.Close()

	coord := New(testEngine(srv.URL), upstream.New())

	var events []anthropic.StreamEvent
	err := coord.HandleStream(context.Background(), userRequest("hi"), func(ev anthropic.StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)

	var toolStart *anthropic.ContentBlock
	for _, ev := range events {
		if ev.Type == anthropic.EventContentBlockStart && ev.ContentBlock != nil &&
			ev.ContentBlock.Type == anthropic.BlockToolUse {
			toolStart = ev.ContentBlock
		}
	}
	require.NotNil(t, toolStart)
	assert.Equal(t, "ping", toolStart.Name)
	assert.NotEmpty(t, toolStart.ID)

	final := events[len(events)-2]
	assert.Equal(t, anthropic.StopToolUse, final.Delta.StopReason)
}

func TestHandleStreamUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"message":"no such model"}}`)
	}))
	defer srv.Close()

	coord := New(testEngine(srv.URL), upstream.New())
	err := coord.HandleStream(context.Background(), userRequest("hi"), func(anthropic.StreamEvent) error {
		t.Fatal("no events expected")
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, apierror.CodeUpstream, apierror.CodeOf(err))
}

func TestCacheEviction(t *testing.T) {
	c := NewCache(2)
	c.Put("a", []byte("1"))
	c.Put("b", []byte("2"))
	c.Put("c", []byte("3"))

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should have been evicted")
	v, ok := c.Get("c")
	require.True(t, ok)
	assert.Equal(t, []byte("3"), v)
}

func TestCacheKeyPrefixBound(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	k1 := CacheKey("preprocess", "p", "m", long)
	long[400] = 'y'
	k2 := CacheKey("preprocess", "p", "m", long)
	assert.Equal(t, k1, k2, "bytes past the prefix must not affect the key")

	long[50] = 'z'
	k3 := CacheKey("preprocess", "p", "m", long)
	assert.NotEqual(t, k1, k3)
}
