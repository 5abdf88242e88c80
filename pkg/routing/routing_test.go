package routing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/switchboard/pkg/apierror"
	"github.com/kadirpekel/switchboard/pkg/protocol/anthropic"
)

func testConfig() Config {
	return Config{
		Providers: map[string]Provider{
			"qwen-main": {
				ID:       "qwen-main",
				Protocol: ProtocolOpenAI,
				Endpoint: "https://portal.qwen.ai/v1",
				AuthRef:  "qwen-main.json",
			},
			"shuaihong-openai": {
				ID:       "shuaihong-openai",
				Protocol: ProtocolOpenAI,
				Endpoint: "https://ai.shuaihong.fun/v1",
				AuthRef:  "SHUAIHONG_API_KEY",
			},
		},
		Routes: map[Category]Target{
			CategoryDefault:     {Provider: "qwen-main", Model: "qwen3-coder-plus"},
			CategoryLongContext: {Provider: "shuaihong-openai", Model: "gemini-2-pro"},
			CategoryThinking:    {Provider: "qwen-main", Model: "qwen3-coder-plus"},
		},
	}
}

func textRequest(text string) *anthropic.Request {
	return &anthropic.Request{
		Model:    "claude-3-5-sonnet",
		Messages: []anthropic.Message{{Role: anthropic.RoleUser, Content: anthropic.TextContent(text)}},
	}
}

func TestLongContextReroute(t *testing.T) {
	engine := NewEngine(testConfig())
	req := textRequest(strings.Repeat("x", 60000))

	decision, err := engine.Route(req)
	require.NoError(t, err)
	assert.Equal(t, CategoryLongContext, decision.Category)
	assert.Equal(t, "shuaihong-openai", decision.Provider)
	assert.Equal(t, "gemini-2-pro", decision.Model)
}

func TestCategorySignalOrder(t *testing.T) {
	long := strings.Repeat("x", 60000)

	tests := []struct {
		name     string
		req      *anthropic.Request
		want     Category
		wantCode apierror.Code
	}{
		{"default", textRequest("hi"), CategoryDefault, ""},
		{"threshold boundary", textRequest(strings.Repeat("x", LongContextThreshold)), CategoryLongContext, ""},
		{"below threshold", textRequest(strings.Repeat("x", LongContextThreshold-1)), CategoryDefault, ""},
		{"empty messages", &anthropic.Request{}, CategoryDefault, ""},
		{
			"explicit category wins over size",
			&anthropic.Request{
				Messages: []anthropic.Message{{Role: anthropic.RoleUser, Content: anthropic.TextContent(long)}},
				Metadata: map[string]any{"category": "default"},
			},
			CategoryDefault, "",
		},
		{
			"thinking flag wins over size",
			&anthropic.Request{
				Messages: []anthropic.Message{{Role: anthropic.RoleUser, Content: anthropic.TextContent(long)}},
				Metadata: map[string]any{"thinking": true},
			},
			CategoryThinking, "",
		},
		{
			"unknown explicit category",
			&anthropic.Request{
				Messages: []anthropic.Message{{Role: anthropic.RoleUser, Content: anthropic.TextContent("hi")}},
				Metadata: map[string]any{"category": "turbo"},
			},
			"", apierror.CodeUnknownCategory,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Categorize(tt.req)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, apierror.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBlockContentCountsTowardThreshold(t *testing.T) {
	req := &anthropic.Request{
		Messages: []anthropic.Message{{
			Role: anthropic.RoleUser,
			Content: anthropic.BlockContent(
				anthropic.TextBlock(strings.Repeat("x", LongContextThreshold)),
			),
		}},
	}
	got, err := Categorize(req)
	require.NoError(t, err)
	assert.Equal(t, CategoryLongContext, got)
}

func TestRouteDeterminism(t *testing.T) {
	engine := NewEngine(testConfig())
	req := textRequest("the same request")

	first, err := engine.Route(req)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := engine.Route(req)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestDisabledProviderFailsHard(t *testing.T) {
	engine := NewEngine(testConfig())
	engine.TemporarilyDisableProvider("qwen-main")

	_, err := engine.Route(textRequest("hi"))
	require.Error(t, err)
	assert.Equal(t, apierror.CodeNoProviderAvailable, apierror.CodeOf(err))

	assert.Equal(t, []string{"qwen-main"}, engine.DisabledProviders())

	engine.EnableProvider("qwen-main")
	_, err = engine.Route(textRequest("hi"))
	require.NoError(t, err)
	assert.Empty(t, engine.DisabledProviders())
}

func TestMissingRouteAndProvider(t *testing.T) {
	engine := NewEngine(testConfig())

	_, err := engine.Resolve(CategoryBackground)
	require.Error(t, err)
	assert.Equal(t, apierror.CodeNoRoutingConfig, apierror.CodeOf(err))

	cfg := testConfig()
	cfg.Routes[CategoryBackground] = Target{Provider: "ghost", Model: "m"}
	engine = NewEngine(cfg)
	_, err = engine.Resolve(CategoryBackground)
	require.Error(t, err)
	assert.Equal(t, apierror.CodeNoProviderAvailable, apierror.CodeOf(err))
}

type countingRecorder struct {
	routes map[string]int
}

func (r *countingRecorder) RecordRoute(category Category, provider string) {
	if r.routes == nil {
		r.routes = make(map[string]int)
	}
	r.routes[string(category)+"/"+provider]++
}

func TestRecorderReceivesDecisions(t *testing.T) {
	rec := &countingRecorder{}
	engine := NewEngine(testConfig(), WithRecorder(rec))

	_, err := engine.Route(textRequest("hi"))
	require.NoError(t, err)
	_, err = engine.Route(textRequest(strings.Repeat("x", 60000)))
	require.NoError(t, err)

	assert.Equal(t, 1, rec.routes["default/qwen-main"])
	assert.Equal(t, 1, rec.routes["longcontext/shuaihong-openai"])
}
