package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywing/relaywing/internal/claude"
	"github.com/relaywing/relaywing/internal/openai"
)

func contentChunk(content, reasoning string) *openai.ChatCompletionChunk {
	return &openai.ChatCompletionChunk{Choices: []openai.ChatCompletionChunkChoice{{
		Delta: openai.ChatMessageDelta{Content: content, ReasoningContent: reasoning},
	}}}
}

func toolChunk(index int, id, name, args string) *openai.ChatCompletionChunk {
	d := openai.ToolCallDelta{Index: index, ID: id}
	if name != "" || args != "" {
		d.Function = &openai.ToolFunctionPart{Name: name, Arguments: args}
	}
	return &openai.ChatCompletionChunk{Choices: []openai.ChatCompletionChunkChoice{{
		Delta: openai.ChatMessageDelta{ToolCalls: []openai.ToolCallDelta{d}},
	}}}
}

func finishChunk(reason string) *openai.ChatCompletionChunk {
	return &openai.ChatCompletionChunk{Choices: []openai.ChatCompletionChunkChoice{{
		FinishReason: &reason,
	}}}
}

func TestChunkAdapterReasoningThenContent(t *testing.T) {
	var c Collector
	w := NewWriter(&c, "msg_1", "m")
	a := NewChunkAdapter(w, nil)

	require.NoError(t, a.Apply(contentChunk("", "because")))
	require.NoError(t, a.Apply(contentChunk("answer", "")))
	require.NoError(t, a.Apply(finishChunk("stop")))
	require.NoError(t, a.Finalize())

	assert.Equal(t, "stop", a.FinishReason())
	assert.Equal(t, []string{
		claude.EventMessageStart,
		claude.EventContentBlockStart,
		claude.EventContentBlockDelta,
		claude.EventContentBlockStop,
		claude.EventContentBlockStart,
		claude.EventContentBlockDelta,
	}, eventNames(&c))
}

func TestChunkAdapterAltReasoningField(t *testing.T) {
	var c Collector
	w := NewWriter(&c, "msg_1", "m")
	a := NewChunkAdapter(w, nil)

	chunk := &openai.ChatCompletionChunk{Choices: []openai.ChatCompletionChunkChoice{{
		Delta: openai.ChatMessageDelta{Reasoning: "alt thought"},
	}}}
	require.NoError(t, a.Apply(chunk))

	delta := payloadAt(t, &c, 2)["delta"].(map[string]any)
	assert.Equal(t, "thinking_delta", delta["type"])
	assert.Equal(t, "alt thought", delta["thinking"])
}

func TestChunkAdapterWithholdsInternalToolCalls(t *testing.T) {
	var c Collector
	w := NewWriter(&c, "msg_1", "m")
	a := NewChunkAdapter(w, func(name string) bool { return name == "web_search" })

	require.NoError(t, a.Apply(toolChunk(0, "call_1", "web_search", "")))
	require.NoError(t, a.Apply(toolChunk(0, "", "", `{"query":"go"}`)))
	require.NoError(t, a.Apply(finishChunk("tool_calls")))

	// Nothing streamed to the client for a gateway-handled call.
	assert.Empty(t, c.Events)
	assert.True(t, a.HasInternalToolCalls())
	assert.False(t, a.HasClientToolCalls())

	calls := a.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "web_search", calls[0].Function.Name)
	assert.Equal(t, `{"query":"go"}`, calls[0].Function.Arguments)
}

func TestChunkAdapterStreamsClientToolCalls(t *testing.T) {
	var c Collector
	w := NewWriter(&c, "msg_1", "m")
	a := NewChunkAdapter(w, func(name string) bool { return name == "web_search" })

	require.NoError(t, a.Apply(contentChunk("let me check", "")))
	require.NoError(t, a.Apply(toolChunk(0, "call_1", "get_weather", "")))
	require.NoError(t, a.Apply(toolChunk(0, "", "", `{"city":`)))
	require.NoError(t, a.Apply(toolChunk(0, "", "", `"Oslo"}`)))
	require.NoError(t, a.Apply(finishChunk("tool_calls")))

	assert.True(t, a.HasClientToolCalls())

	var sawStart bool
	var args string
	for i, e := range c.Events {
		if e.Event == claude.EventContentBlockStart {
			p := payloadAt(t, &c, i)
			blk := p["content_block"].(map[string]any)
			if blk["type"] == claude.BlockToolUse {
				sawStart = true
				assert.Equal(t, "get_weather", blk["name"])
				assert.Equal(t, "call_1", blk["id"])
			}
		}
		if e.Event == claude.EventContentBlockDelta {
			delta := payloadAt(t, &c, i)["delta"].(map[string]any)
			if delta["type"] == "input_json_delta" {
				args += delta["partial_json"].(string)
			}
		}
	}
	assert.True(t, sawStart)
	assert.Equal(t, `{"city":"Oslo"}`, args)
}

func TestChunkAdapterUsage(t *testing.T) {
	var c Collector
	a := NewChunkAdapter(NewWriter(&c, "msg_1", "m"), nil)

	require.NoError(t, a.Apply(&openai.ChatCompletionChunk{
		Usage: &openai.UsageBreakdown{PromptTokens: 7, CompletionTokens: 3},
	}))
	assert.Equal(t, claude.Usage{InputTokens: 7, OutputTokens: 3}, a.Usage())
}
