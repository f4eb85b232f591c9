package claude

import "encoding/json"

// Stream event names for the outbound SSE sequence. The same payload shapes
// are used when parsing the native upstream dialect.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
	EventError             = "error"
)

// StreamEvent is the parsed form of one SSE data payload in the native
// dialect. Only the fields relevant to the event type are populated.
type StreamEvent struct {
	Type         string        `json:"type"`
	Index        int           `json:"index,omitempty"`
	Message      *MessagesResponse `json:"message,omitempty"`
	ContentBlock *ContentBlock `json:"content_block,omitempty"`
	Delta        *StreamDelta  `json:"delta,omitempty"`
	Usage        *Usage        `json:"usage,omitempty"`
	Error        *ErrorDetail  `json:"error,omitempty"`
}

// StreamDelta carries the delta payload for content_block_delta and
// message_delta events.
type StreamDelta struct {
	Type        string  `json:"type,omitempty"`
	Text        string  `json:"text,omitempty"`
	Thinking    string  `json:"thinking,omitempty"`
	PartialJSON string  `json:"partial_json,omitempty"`
	StopReason  *string `json:"stop_reason,omitempty"`
}

// Payload builders for the outbound event stream. Each returns the JSON body
// written after the "data:" prefix.

func MessageStartPayload(id, model string) []byte {
	b, _ := json.Marshal(map[string]any{
		"type": EventMessageStart,
		"message": map[string]any{
			"id":      id,
			"type":    "message",
			"role":    "assistant",
			"model":   model,
			"content": []any{},
			"usage":   Usage{},
		},
	})
	return b
}

func BlockStartPayload(index int, block ContentBlock) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":          EventContentBlockStart,
		"index":         index,
		"content_block": block,
	})
	return b
}

func TextDeltaPayload(index int, text string) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":  EventContentBlockDelta,
		"index": index,
		"delta": map[string]string{"type": "text_delta", "text": text},
	})
	return b
}

func ThinkingDeltaPayload(index int, thinking string) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":  EventContentBlockDelta,
		"index": index,
		"delta": map[string]string{"type": "thinking_delta", "thinking": thinking},
	})
	return b
}

func InputJSONDeltaPayload(index int, partial string) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":  EventContentBlockDelta,
		"index": index,
		"delta": map[string]string{"type": "input_json_delta", "partial_json": partial},
	})
	return b
}

func BlockStopPayload(index int) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":  EventContentBlockStop,
		"index": index,
	})
	return b
}

func MessageDeltaPayload(stopReason string, usage Usage) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":  EventMessageDelta,
		"delta": map[string]string{"stop_reason": stopReason},
		"usage": usage,
	})
	return b
}

func MessageStopPayload() []byte {
	b, _ := json.Marshal(map[string]string{"type": EventMessageStop})
	return b
}

func ErrorPayload(errType, message string) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":  EventError,
		"error": ErrorDetail{Type: errType, Message: message},
	})
	return b
}
