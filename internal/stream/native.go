package stream

import (
	"strings"

	"github.com/relaywing/relaywing/internal/claude"
	"github.com/relaywing/relaywing/internal/openai"
)

// NativeAdapter folds events from the native upstream dialect into the
// outbound stream. Upstream block indices are remapped onto the writer's own
// numbering; blocks of types the inbound protocol does not define, and
// tool calls the gateway executes itself, are filtered out.
type NativeAdapter struct {
	w          *Writer
	isInternal func(name string) bool

	blocks map[int]*nativeBlock
	calls  []*nativeToolCall

	stopReason string
	usage      claude.Usage
	done       bool
	upErr      *claude.ErrorDetail
}

type nativeBlock struct {
	kind string // text | thinking | tool_use | skipped
	call *nativeToolCall
	out  int // outbound tool block index, -1 otherwise
}

type nativeToolCall struct {
	id       string
	name     string
	args     strings.Builder
	internal bool
	out      int
}

// NewNativeAdapter builds an adapter over the shared writer.
func NewNativeAdapter(w *Writer, isInternal func(name string) bool) *NativeAdapter {
	if isInternal == nil {
		isInternal = func(string) bool { return false }
	}
	return &NativeAdapter{
		w:          w,
		isInternal: isInternal,
		blocks:     make(map[int]*nativeBlock),
	}
}

// Apply folds one upstream event into the stream.
func (a *NativeAdapter) Apply(evt *claude.StreamEvent) error {
	switch evt.Type {
	case claude.EventMessageStart:
		if evt.Message != nil {
			a.usage.InputTokens = evt.Message.Usage.InputTokens
		}
		return nil
	case claude.EventContentBlockStart:
		return a.applyBlockStart(evt)
	case claude.EventContentBlockDelta:
		return a.applyBlockDelta(evt)
	case claude.EventContentBlockStop:
		return a.applyBlockStop(evt)
	case claude.EventMessageDelta:
		if evt.Delta != nil && evt.Delta.StopReason != nil {
			a.stopReason = *evt.Delta.StopReason
		}
		if evt.Usage != nil {
			a.usage.OutputTokens = evt.Usage.OutputTokens
			if evt.Usage.InputTokens > 0 {
				a.usage.InputTokens = evt.Usage.InputTokens
			}
		}
		return nil
	case claude.EventMessageStop:
		a.done = true
		return nil
	case claude.EventError:
		a.upErr = evt.Error
		return nil
	default:
		// Unknown event types are skipped rather than failing the stream.
		return nil
	}
}

func (a *NativeAdapter) applyBlockStart(evt *claude.StreamEvent) error {
	if evt.ContentBlock == nil {
		a.blocks[evt.Index] = &nativeBlock{kind: "skipped", out: -1}
		return nil
	}
	blk := evt.ContentBlock
	switch blk.Type {
	case claude.BlockText:
		a.blocks[evt.Index] = &nativeBlock{kind: claude.BlockText, out: -1}
		if blk.Text != "" {
			return a.w.WriteContent(blk.Text)
		}
	case claude.BlockThinking:
		a.blocks[evt.Index] = &nativeBlock{kind: claude.BlockThinking, out: -1}
		if blk.Thinking != "" {
			return a.w.WriteThinking(blk.Thinking)
		}
	case claude.BlockToolUse:
		call := &nativeToolCall{
			id:       blk.ID,
			name:     blk.Name,
			internal: a.isInternal(blk.Name),
			out:      -1,
		}
		a.calls = append(a.calls, call)
		if !call.internal {
			idx, err := a.w.OpenToolBlock(call.id, call.name)
			if err != nil {
				return err
			}
			call.out = idx
		}
		a.blocks[evt.Index] = &nativeBlock{kind: claude.BlockToolUse, call: call, out: call.out}
	default:
		// Foreign block type: filter it and everything addressed to its index.
		a.blocks[evt.Index] = &nativeBlock{kind: "skipped", out: -1}
	}
	return nil
}

func (a *NativeAdapter) applyBlockDelta(evt *claude.StreamEvent) error {
	if evt.Delta == nil {
		return nil
	}
	blk, ok := a.blocks[evt.Index]
	if !ok {
		// Delta without a start; route by delta type so content is not lost.
		blk = &nativeBlock{kind: claude.BlockText, out: -1}
		a.blocks[evt.Index] = blk
	}
	if blk.kind == "skipped" {
		return nil
	}
	switch evt.Delta.Type {
	case "text_delta":
		return a.w.WriteContent(evt.Delta.Text)
	case "thinking_delta":
		return a.w.WriteThinking(evt.Delta.Thinking)
	case "input_json_delta":
		if blk.call == nil {
			return nil
		}
		blk.call.args.WriteString(evt.Delta.PartialJSON)
		if blk.call.out >= 0 {
			return a.w.WriteToolArgs(blk.call.out, evt.Delta.PartialJSON)
		}
	}
	return nil
}

func (a *NativeAdapter) applyBlockStop(evt *claude.StreamEvent) error {
	blk, ok := a.blocks[evt.Index]
	if !ok {
		return nil
	}
	delete(a.blocks, evt.Index)
	if blk.call != nil && blk.call.out >= 0 {
		return a.w.CloseToolBlock(blk.call.out)
	}
	return nil
}

// Finalize flushes held-back splitter content.
func (a *NativeAdapter) Finalize() error {
	return a.w.FlushContent()
}

// Done reports whether message_stop arrived.
func (a *NativeAdapter) Done() bool { return a.done }

// UpstreamError returns the upstream error event, if any.
func (a *NativeAdapter) UpstreamError() *claude.ErrorDetail { return a.upErr }

// StopReason returns the upstream stop reason, empty if none arrived.
func (a *NativeAdapter) StopReason() string { return a.stopReason }

// Usage returns accumulated token accounting.
func (a *NativeAdapter) Usage() claude.Usage { return a.usage }

// ToolCalls returns every collected tool call in arrival order, in the
// chat-dialect shape shared with the chunk adapter.
func (a *NativeAdapter) ToolCalls() []openai.ToolCall {
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
func (a *NativeAdapter) HasClientToolCalls() bool {
	for _, c := range a.calls {
		if !c.internal {
			return true
		}
	}
	return false
}

// HasInternalToolCalls reports whether any collected call is gateway-handled.
func (a *NativeAdapter) HasInternalToolCalls() bool {
	for _, c := range a.calls {
		if c.internal {
			return true
		}
	}
	return false
}
