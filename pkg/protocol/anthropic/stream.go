package anthropic

import "encoding/json"

// SSE event types for the streaming surface. The coordinator synthesizes
// this event sequence regardless of which protocol the upstream spoke.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
)

// StreamEvent is one SSE event on the Anthropic streaming wire.
type StreamEvent struct {
	Type         string        `json:"type"`
	Index        int           `json:"index,omitempty"`
	Message      *Response     `json:"message,omitempty"`
	ContentBlock *ContentBlock `json:"content_block,omitempty"`
	Delta        *Delta        `json:"delta,omitempty"`
	Usage        *Usage        `json:"usage,omitempty"`
}

// Delta carries the incremental payload of a content_block_delta or
// message_delta event.
type Delta struct {
	Type        string     `json:"type,omitempty"`
	Text        string     `json:"text,omitempty"`
	PartialJSON string     `json:"partial_json,omitempty"`
	StopReason  StopReason `json:"stop_reason,omitempty"`
}

// Delta kinds.
const (
	DeltaText      = "text_delta"
	DeltaInputJSON = "input_json_delta"
)

// MessageStartEvent opens a stream with the response envelope.
func MessageStartEvent(resp *Response) StreamEvent {
	// The start event carries the envelope without content; blocks arrive
	// as their own events.
	envelope := *resp
	envelope.Content = []ContentBlock{}
	return StreamEvent{Type: EventMessageStart, Message: &envelope}
}

// TextStartEvent opens a text content block at index.
func TextStartEvent(index int) StreamEvent {
	block := TextBlock("")
	return StreamEvent{Type: EventContentBlockStart, Index: index, ContentBlock: &block}
}

// TextDeltaEvent carries one text increment.
func TextDeltaEvent(index int, text string) StreamEvent {
	return StreamEvent{
		Type:  EventContentBlockDelta,
		Index: index,
		Delta: &Delta{Type: DeltaText, Text: text},
	}
}

// ToolUseStartEvent opens a tool_use block; input streams as JSON deltas.
func ToolUseStartEvent(index int, id, name string) StreamEvent {
	block := ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: map[string]any{}}
	return StreamEvent{Type: EventContentBlockStart, Index: index, ContentBlock: &block}
}

// InputJSONDeltaEvent carries one tool-input JSON fragment.
func InputJSONDeltaEvent(index int, partial string) StreamEvent {
	return StreamEvent{
		Type:  EventContentBlockDelta,
		Index: index,
		Delta: &Delta{Type: DeltaInputJSON, PartialJSON: partial},
	}
}

// BlockStopEvent closes the block at index.
func BlockStopEvent(index int) StreamEvent {
	return StreamEvent{Type: EventContentBlockStop, Index: index}
}

// MessageDeltaEvent carries the terminal stop reason and usage.
func MessageDeltaEvent(stop StopReason, usage Usage) StreamEvent {
	return StreamEvent{
		Type:  EventMessageDelta,
		Delta: &Delta{StopReason: stop},
		Usage: &usage,
	}
}

// MessageStopEvent terminates the stream.
func MessageStopEvent() StreamEvent {
	return StreamEvent{Type: EventMessageStop}
}

// Encode serializes the event payload for the SSE data line.
func (e StreamEvent) Encode() []byte {
	data, _ := json.Marshal(e)
	return data
}
