// Package switchboard is a multi-provider LLM request router and format broker.
//
// Switchboard accepts requests in the Anthropic "messages" wire format on a
// local HTTP endpoint and dispatches them to one of several upstream LLM
// providers (OpenAI-compatible endpoints, Google Gemini, Qwen OAuth2
// services, LM Studio local endpoints, ModelScope/GLM variants). Wire
// formats are translated in both directions and provider-specific quirks are
// normalized so that the caller always observes a stable Anthropic-shaped
// response.
//
// # Quick Start
//
// Install switchboard:
//
//	go install github.com/kadirpekel/switchboard/cmd/switchboard@latest
//
// Create a routing configuration:
//
//	providers:
//	  glm-openai:
//	    protocol: "openai"
//	    endpoint: "https://open.bigmodel.cn/api/paas/v4/chat/completions"
//	    auth_ref: "GLM_API_KEY"
//	  qwen-portal:
//	    protocol: "openai"
//	    endpoint: "https://portal.qwen.ai/v1/chat/completions"
//	    auth_ref: "qwen-auth-1.json"
//
//	routing:
//	  default:     { provider: "glm-openai", model: "glm-4.6" }
//	  longcontext: { provider: "qwen-portal", model: "qwen3-coder-plus" }
//
// Start the server:
//
//	switchboard serve --config switchboard.yaml
//
// # Using as Go Library
//
// Import specific packages:
//
//	import (
//	    "github.com/kadirpekel/switchboard/pkg/routing"
//	    "github.com/kadirpekel/switchboard/pkg/transform"
//	    "github.com/kadirpekel/switchboard/pkg/pipeline"
//	)
//
// # Key Features
//
//   - **Anthropic in, anything out**: OpenAI, Gemini, and Anthropic upstreams
//   - **Category routing**: default / longcontext / background / thinking
//   - **Compatibility repair**: missing choices, tool shape drift, embedded
//     tool-call extraction, finish-reason normalization
//   - **Qwen OAuth2**: file-backed credentials with single-flight refresh
//   - **Streaming**: SSE in both directions with on-the-fly translation
//
// # Architecture
//
// Requests flow through six stages:
//
//	Client → Routing → Token Preprocess → Transform → Compatibility →
//	Upstream → Response Pipeline → Client
//
// Every stage is a pure function over its input wherever possible; state is
// confined to the credential store, the provider disable set, and the
// optional preprocessing cache.
package switchboard
