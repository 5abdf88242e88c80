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

package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// ParserForProtocol returns the rate-limit header parser matching an
// upstream protocol ("anthropic", "openai", "gemini"). Qwen portal and
// every other OpenAI-compatible endpoint use the OpenAI headers.
func ParserForProtocol(protocol string) RateLimitHeaderParser {
	switch protocol {
	case "anthropic":
		return ParseAnthropicHeaders
	case "gemini":
		return ParseGeminiHeaders
	default:
		return ParseOpenAIHeaders
	}
}

// ParseAnthropicHeaders reads the anthropic-ratelimit-* family. Reset times
// arrive as RFC3339; the first one present wins.
func ParseAnthropicHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{RetryAfter: retryAfterSeconds(headers)}

	for _, name := range []string{
		"anthropic-ratelimit-input-tokens-reset",
		"anthropic-ratelimit-output-tokens-reset",
		"anthropic-ratelimit-requests-reset",
	} {
		if v := headers.Get(name); v != "" {
			if reset, err := time.Parse(time.RFC3339, v); err == nil {
				info.ResetTime = reset.Unix()
				break
			}
		}
	}

	info.RequestsRemaining = headerInt(headers, "anthropic-ratelimit-requests-remaining")
	info.InputTokensRemaining = headerInt(headers, "anthropic-ratelimit-input-tokens-remaining")
	info.OutputTokensRemaining = headerInt(headers, "anthropic-ratelimit-output-tokens-remaining")
	return info
}

// ParseOpenAIHeaders reads the x-ratelimit-* family used by OpenAI, GLM,
// ModelScope, Qwen portal and LM Studio. Reset times are unix seconds.
func ParseOpenAIHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{RetryAfter: retryAfterSeconds(headers)}

	for _, name := range []string{
		"x-ratelimit-reset-tokens",
		"x-ratelimit-reset-requests",
	} {
		if v := headers.Get(name); v != "" {
			if reset, err := strconv.ParseInt(v, 10, 64); err == nil {
				info.ResetTime = reset
				break
			}
		}
	}

	info.RequestsRemaining = headerInt(headers, "x-ratelimit-remaining-requests")
	info.TokensRemaining = headerInt(headers, "x-ratelimit-remaining-tokens")
	return info
}

// ParseGeminiHeaders reads Gemini rate-limit headers. The API exposes only
// Retry-After; quota detail lives in the error body instead.
func ParseGeminiHeaders(headers http.Header) RateLimitInfo {
	return RateLimitInfo{RetryAfter: retryAfterSeconds(headers)}
}

func retryAfterSeconds(headers http.Header) time.Duration {
	v := headers.Get("Retry-After")
	if v == "" {
		return 0
	}
	seconds, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func headerInt(headers http.Header, name string) int {
	n, err := strconv.Atoi(headers.Get(name))
	if err != nil {
		return 0
	}
	return n
}
