package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/switchboard/pkg/routing"
	"github.com/kadirpekel/switchboard/pkg/tokens"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validYAML = `
server:
  port: 9090
providers:
  glm:
    protocol: openai
    endpoint: https://open.bigmodel.cn/api/paas/v4/chat/completions
    auth_ref: GLM_API_KEY
  qwen:
    endpoint: https://portal.qwen.ai/v1/chat/completions
    auth_ref: qwen-main.json
routing:
  default:
    provider: glm
    model: glm-4.6
  longcontext:
    provider: qwen
    model: qwen3-coder-plus
models:
  glm/glm-4.6:
    context_limit: 200000
tokens:
  ratio: 0.9
  keep_recent: 4
  direction: head
`

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfigFile(t, validYAML)

	cfg, err := LoadConfig(LoaderOptions{Path: path})
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())

	require.Contains(t, cfg.Providers, "glm")
	assert.Equal(t, "openai", cfg.Providers["glm"].Protocol)
	// Protocol defaults to openai when omitted.
	assert.Equal(t, "openai", cfg.Providers["qwen"].Protocol)
}

func TestRoutingConfigConversion(t *testing.T) {
	path := writeConfigFile(t, validYAML)
	cfg, err := LoadConfig(LoaderOptions{Path: path})
	require.NoError(t, err)

	rc := cfg.RoutingConfig()
	require.Contains(t, rc.Providers, "glm")
	assert.Equal(t, "glm", rc.Providers["glm"].ID)
	assert.Equal(t, "GLM_API_KEY", rc.Providers["glm"].AuthRef)

	target, ok := rc.Routes[routing.CategoryLongContext]
	require.True(t, ok)
	assert.Equal(t, "qwen", target.Provider)
	assert.Equal(t, "qwen3-coder-plus", target.Model)
}

func TestModelLimitsAndTokenOptions(t *testing.T) {
	path := writeConfigFile(t, validYAML)
	cfg, err := LoadConfig(LoaderOptions{Path: path})
	require.NoError(t, err)

	limits := cfg.ModelLimits()
	assert.Equal(t, 200000, limits["glm/glm-4.6"])

	opts := cfg.TokenOptions()
	assert.InDelta(t, 0.9, opts.Ratio, 1e-9)
	assert.Equal(t, 4, opts.KeepRecent)
	assert.Equal(t, tokens.TruncateHead, opts.Direction)
}

func TestEnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_SWITCHBOARD_ENDPOINT", "https://example.com/v1/chat/completions")
	t.Setenv("TEST_SWITCHBOARD_PORT", "8099")

	path := writeConfigFile(t, `
server:
  port: ${TEST_SWITCHBOARD_PORT}
providers:
  p1:
    endpoint: ${TEST_SWITCHBOARD_ENDPOINT}
routing:
  default:
    provider: p1
    model: m1
`)

	cfg, err := LoadConfig(LoaderOptions{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 8099, cfg.Server.Port)
	assert.Equal(t, "https://example.com/v1/chat/completions", cfg.Providers["p1"].Endpoint)
}

func TestEnvVarDefaultValue(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: ${UNSET_SWITCHBOARD_PORT:-8123}
`)

	cfg, err := LoadConfig(LoaderOptions{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.Server.Port)
}

func TestValidateRejectsUnknownCategory(t *testing.T) {
	path := writeConfigFile(t, `
providers:
  p1:
    endpoint: https://example.com
routing:
  nonsense:
    provider: p1
    model: m1
`)

	_, err := LoadConfig(LoaderOptions{Path: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown category")
}

func TestValidateRequiresDefaultRoute(t *testing.T) {
	path := writeConfigFile(t, `
providers:
  p1:
    endpoint: https://example.com
routing:
  longcontext:
    provider: p1
    model: m1
`)

	_, err := LoadConfig(LoaderOptions{Path: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default route is required")
}

func TestValidateRejectsUnknownRouteProvider(t *testing.T) {
	path := writeConfigFile(t, `
providers:
  p1:
    endpoint: https://example.com
routing:
  default:
    provider: missing
    model: m1
`)

	_, err := LoadConfig(LoaderOptions{Path: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestValidateRejectsBadProtocol(t *testing.T) {
	path := writeConfigFile(t, `
providers:
  p1:
    protocol: smtp
    endpoint: https://example.com
`)

	_, err := LoadConfig(LoaderOptions{Path: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid protocol")
}

func TestValidateRejectsBadEstimator(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	cfg.Tokens.Estimator = "abacus"
	require.Error(t, cfg.Validate())
}

func TestEstimatorSelection(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	est, err := cfg.Estimator()
	require.NoError(t, err)
	assert.IsType(t, tokens.HeuristicEstimator{}, est)
}

func TestParseConfigType(t *testing.T) {
	for input, want := range map[string]ConfigType{
		"file":      ConfigTypeFile,
		"consul":    ConfigTypeConsul,
		"etcd":      ConfigTypeEtcd,
		"zookeeper": ConfigTypeZookeeper,
		"zk":        ConfigTypeZookeeper,
		" File ":    ConfigTypeFile,
	} {
		got, err := ParseConfigType(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got)
	}

	_, err := ParseConfigType("redis")
	require.Error(t, err)
}

func TestLoaderRequiresPath(t *testing.T) {
	_, err := NewLoader(LoaderOptions{})
	require.Error(t, err)
}
