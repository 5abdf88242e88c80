package transform

import (
	"github.com/kadirpekel/switchboard/pkg/protocol/anthropic"
	"github.com/kadirpekel/switchboard/pkg/protocol/openai"
)

// Gemini finish-reason tags as they appear on the wire.
const (
	geminiFinishStop       = "STOP"
	geminiFinishMaxTokens  = "MAX_TOKENS"
	geminiFinishSafety     = "SAFETY"
	geminiFinishRecitation = "RECITATION"
	geminiFinishOther      = "OTHER"
)

// OpenAIFinishToStop maps a chat-completions finish reason into the
// Anthropic stop vocabulary.
func OpenAIFinishToStop(reason string) anthropic.StopReason {
	switch reason {
	case openai.FinishStop:
		return anthropic.StopEndTurn
	case openai.FinishLength:
		return anthropic.StopMaxTokens
	case openai.FinishToolCalls:
		return anthropic.StopToolUse
	case openai.FinishContentFilter:
		return anthropic.StopStopSequence
	default:
		return anthropic.StopEndTurn
	}
}

// StopToOpenAIFinish is the reverse map, for OpenAI-format callers.
func StopToOpenAIFinish(stop anthropic.StopReason) string {
	switch stop {
	case anthropic.StopMaxTokens:
		return openai.FinishLength
	case anthropic.StopToolUse:
		return openai.FinishToolCalls
	case anthropic.StopStopSequence:
		return openai.FinishContentFilter
	default:
		return openai.FinishStop
	}
}

// GeminiFinishToStop maps a Gemini finish reason into the Anthropic stop
// vocabulary. Safety and recitation stops surface as stop_sequence, the
// closest normalized analog of a content filter.
func GeminiFinishToStop(reason string) anthropic.StopReason {
	switch reason {
	case geminiFinishStop:
		return anthropic.StopEndTurn
	case geminiFinishMaxTokens:
		return anthropic.StopMaxTokens
	case geminiFinishSafety, geminiFinishRecitation:
		return anthropic.StopStopSequence
	case geminiFinishOther:
		return anthropic.StopEndTurn
	default:
		return anthropic.StopEndTurn
	}
}

// StopToGeminiFinish is the reverse map, for Gemini-format callers.
func StopToGeminiFinish(stop anthropic.StopReason) string {
	switch stop {
	case anthropic.StopMaxTokens:
		return geminiFinishMaxTokens
	case anthropic.StopStopSequence:
		return geminiFinishSafety
	default:
		return geminiFinishStop
	}
}
