package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/relaywing/relaywing/internal/claude"
	"github.com/relaywing/relaywing/internal/openai"
	"github.com/relaywing/relaywing/internal/reasoning"
)

// FromChatResponse converts a chat-completions reply back into the inbound
// response shape. Reasoning on the dedicated field becomes a thinking block
// ahead of text. Marker recovery from content runs only when parseTags is
// set, that is when the reasoning directive was injected into the request,
// and only if the backend produced no dedicated reasoning field; otherwise
// markers in content are ordinary client text and pass through untouched.
// Tool calls become tool_use blocks regardless of classification; callers
// that hand the response to a client strip internal ones with
// StripInternalToolUse first.
func FromChatResponse(resp *openai.ChatCompletionResponse, requestModel string, parseTags bool) *claude.MessagesResponse {
	out := &claude.MessagesResponse{
		ID:    resp.ID,
		Type:  "message",
		Role:  "assistant",
		Model: requestModel,
		Usage: claude.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if out.ID == "" {
		out.ID = "msg_" + uuid.NewString()
	}

	finish := ""
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		finish = choice.FinishReason
		msg := choice.Message

		if r := msg.ReasoningText(); r != "" {
			out.Content = append(out.Content, claude.ThinkingBlock(r))
			parseTags = false
		}
		if parseTags {
			out.Content = append(out.Content, splitContent(msg.Content)...)
		} else if msg.Content != "" {
			out.Content = append(out.Content, claude.TextBlock(msg.Content))
		}

		for _, tc := range msg.ToolCalls {
			out.Content = append(out.Content, toolUseBlock(tc))
		}
	}

	out.StopReason = MapFinishReason(finish, hasToolUse(out.Content))
	return out
}

// splitContent runs backend text through the reasoning splitter and returns
// the resulting thinking and text blocks in order.
func splitContent(text string) []claude.ContentBlock {
	if text == "" {
		return nil
	}
	var s reasoning.Splitter
	segs := s.ProcessChunk(text)
	segs = append(segs, s.Flush()...)
	var blocks []claude.ContentBlock
	for _, seg := range segs {
		if seg.Kind == reasoning.SegmentThinking {
			blocks = append(blocks, claude.ThinkingBlock(seg.Text))
		} else {
			blocks = append(blocks, claude.TextBlock(seg.Text))
		}
	}
	return blocks
}

// toolUseBlock converts one completed tool call. Arguments that fail to parse
// yield a nil input; the orchestrator reports those back to the model as an
// error result rather than failing the request.
func toolUseBlock(tc openai.ToolCall) claude.ContentBlock {
	blk := claude.ContentBlock{
		Type: claude.BlockToolUse,
		ID:   tc.ID,
		Name: tc.Function.Name,
	}
	if blk.ID == "" {
		blk.ID = "toolu_" + uuid.NewString()
	}
	if input, err := ParseToolInput(tc.Function.Arguments); err == nil {
		blk.Input = input
	}
	return blk
}

// ParseToolInput decodes a tool call's raw JSON arguments. Empty arguments
// decode to an empty object.
func ParseToolInput(arguments string) (map[string]any, error) {
	if arguments == "" {
		return map[string]any{}, nil
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(arguments), &input); err != nil {
		return nil, fmt.Errorf("tool arguments are not valid JSON: %w", err)
	}
	if input == nil {
		input = map[string]any{}
	}
	return input, nil
}

// SanitizeResponse removes content blocks of types the inbound protocol does
// not define for responses. A foreign block carrying visible text is
// down-converted to a text block rather than dropped.
func SanitizeResponse(resp *claude.MessagesResponse) {
	kept := resp.Content[:0]
	for _, blk := range resp.Content {
		switch blk.Type {
		case claude.BlockText, claude.BlockThinking, claude.BlockToolUse:
			kept = append(kept, blk)
		default:
			if blk.Text != "" {
				kept = append(kept, claude.TextBlock(blk.Text))
			}
		}
	}
	resp.Content = kept
}

// StripInternalToolUse removes gateway-handled tool_use blocks before a
// response leaves for the client, then recomputes the stop reason from what
// remains.
func StripInternalToolUse(resp *claude.MessagesResponse, isInternal func(name string) bool) {
	kept := resp.Content[:0]
	for _, blk := range resp.Content {
		if blk.Type == claude.BlockToolUse && isInternal(blk.Name) {
			continue
		}
		kept = append(kept, blk)
	}
	resp.Content = kept
	if resp.StopReason == claude.StopToolUse && !hasToolUse(resp.Content) {
		resp.StopReason = claude.StopEndTurn
	}
}

func hasToolUse(blocks []claude.ContentBlock) bool {
	for _, blk := range blocks {
		if blk.Type == claude.BlockToolUse {
			return true
		}
	}
	return false
}

// MapFinishReason maps a finish_reason onto a stop reason. Truncation always
// wins; otherwise the presence of surviving tool_use blocks forces tool_use.
func MapFinishReason(finish string, toolUsePresent bool) string {
	if finish == "length" {
		return claude.StopMaxTokens
	}
	if toolUsePresent {
		return claude.StopToolUse
	}
	switch finish {
	case "tool_calls", "function_call":
		return claude.StopToolUse
	case "stop", "content_filter":
		return claude.StopEndTurn
	default:
		return claude.StopEndTurn
	}
}
