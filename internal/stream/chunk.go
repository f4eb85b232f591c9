package stream

import (
	"strings"

	"github.com/relaywing/relaywing/internal/claude"
	"github.com/relaywing/relaywing/internal/openai"
)

// ChunkAdapter folds delta chunks into the outbound event stream. Tool calls
// the gateway will execute itself are withheld from the client and collected
// for the caller; client-facing tool calls stream through as tool_use blocks.
type ChunkAdapter struct {
	w          *Writer
	isInternal func(name string) bool

	calls   []*chunkToolCall
	byIndex map[int]*chunkToolCall

	finish string
	usage  *openai.UsageBreakdown
}

type chunkToolCall struct {
	id         string
	name       string
	args       strings.Builder
	internal   bool
	blockIndex int // outbound index, -1 while withheld
}

// NewChunkAdapter builds an adapter over the shared writer.
func NewChunkAdapter(w *Writer, isInternal func(name string) bool) *ChunkAdapter {
	if isInternal == nil {
		isInternal = func(string) bool { return false }
	}
	return &ChunkAdapter{
		w:          w,
		isInternal: isInternal,
		byIndex:    make(map[int]*chunkToolCall),
	}
}

// Apply folds one chunk into the stream.
func (a *ChunkAdapter) Apply(chunk *openai.ChatCompletionChunk) error {
	if chunk.Usage != nil {
		a.usage = chunk.Usage
	}
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]
	if choice.FinishReason != nil && *choice.FinishReason != "" {
		a.finish = *choice.FinishReason
	}

	if r := choice.Delta.ReasoningText(); r != "" {
		if err := a.w.WriteThinking(r); err != nil {
			return err
		}
	}
	if choice.Delta.Content != "" {
		if err := a.w.WriteContent(choice.Delta.Content); err != nil {
			return err
		}
	}
	for _, tc := range choice.Delta.ToolCalls {
		if err := a.applyToolDelta(tc); err != nil {
			return err
		}
	}
	return nil
}

func (a *ChunkAdapter) applyToolDelta(tc openai.ToolCallDelta) error {
	call, ok := a.byIndex[tc.Index]
	if !ok {
		call = &chunkToolCall{blockIndex: -1}
		a.byIndex[tc.Index] = call
		a.calls = append(a.calls, call)
	}
	if tc.ID != "" {
		call.id = tc.ID
	}
	if tc.Function != nil && tc.Function.Name != "" && call.name == "" {
		call.name = tc.Function.Name
		call.internal = a.isInternal(call.name)
		if !call.internal {
			idx, err := a.w.OpenToolBlock(call.id, call.name)
			if err != nil {
				return err
			}
			call.blockIndex = idx
		}
	}
	if tc.Function != nil && tc.Function.Arguments != "" {
		call.args.WriteString(tc.Function.Arguments)
		if call.blockIndex >= 0 {
			if err := a.w.WriteToolArgs(call.blockIndex, tc.Function.Arguments); err != nil {
				return err
			}
		}
	}
	return nil
}

// Finalize flushes held-back content at end of the backend stream.
func (a *ChunkAdapter) Finalize() error {
	return a.w.FlushContent()
}

// FinishReason returns the last finish_reason seen.
func (a *ChunkAdapter) FinishReason() string { return a.finish }

// Usage returns the stream's token accounting, zero-valued if the backend
// sent none.
func (a *ChunkAdapter) Usage() claude.Usage {
	if a.usage == nil {
		return claude.Usage{}
	}
	return claude.Usage{
		InputTokens:  a.usage.PromptTokens,
		OutputTokens: a.usage.CompletionTokens,
	}
}

// ToolCalls returns every completed tool call in arrival order.
func (a *ChunkAdapter) ToolCalls() []openai.ToolCall {
	out := make([]openai.ToolCall, 0, len(a.calls))
	for _, c := range a.calls {
		if c.name == "" {
			continue
		}
		out = append(out, openai.ToolCall{
			ID:   c.id,
			Type: "function",
			Function: openai.FunctionCall{
				Name:      c.name,
				Arguments: c.args.String(),
			},
		})
	}
	return out
}

// HasClientToolCalls reports whether any collected call belongs to the client.
func (a *ChunkAdapter) HasClientToolCalls() bool {
	for _, c := range a.calls {
		if c.name != "" && !c.internal {
			return true
		}
	}
	return false
}

// HasInternalToolCalls reports whether any collected call is gateway-handled.
func (a *ChunkAdapter) HasInternalToolCalls() bool {
	for _, c := range a.calls {
		if c.internal {
			return true
		}
	}
	return false
}
