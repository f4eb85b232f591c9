package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywing/relaywing/internal/backend"
	"github.com/relaywing/relaywing/internal/bridge"
	"github.com/relaywing/relaywing/internal/claude"
	"github.com/relaywing/relaywing/internal/openai"
	"github.com/relaywing/relaywing/internal/stream"
	"github.com/relaywing/relaywing/internal/tools"
)

type scriptStep struct {
	resp   *openai.ChatCompletionResponse
	chunks []*openai.ChatCompletionChunk
	err    error
}

type fakeChat struct {
	script   []scriptStep
	requests []*openai.ChatCompletionRequest
}

func (f *fakeChat) step() scriptStep {
	if len(f.script) == 0 {
		panic("fakeChat: no scripted step left")
	}
	s := f.script[0]
	f.script = f.script[1:]
	return s
}

func (f *fakeChat) Create(ctx context.Context, req *openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error) {
	f.requests = append(f.requests, req)
	s := f.step()
	return s.resp, s.err
}

func (f *fakeChat) Stream(ctx context.Context, req *openai.ChatCompletionRequest) (ChunkSource, error) {
	f.requests = append(f.requests, req)
	s := f.step()
	if s.err != nil {
		return nil, s.err
	}
	return &fakeChunkSource{chunks: s.chunks}, nil
}

type fakeChunkSource struct {
	chunks []*openai.ChatCompletionChunk
	i      int
}

func (f *fakeChunkSource) Recv() (*openai.ChatCompletionChunk, error) {
	if f.i >= len(f.chunks) {
		return nil, io.EOF
	}
	c := f.chunks[f.i]
	f.i++
	return c, nil
}

func (f *fakeChunkSource) Close() error { return nil }

type echoTool struct {
	name   string
	result string
	err    error
	calls  int
}

func (e *echoTool) Name() string { return e.name }
func (e *echoTool) Execute(ctx context.Context, input map[string]any) (string, error) {
	e.calls++
	return e.result, e.err
}

func textResponse(text, finish string) *openai.ChatCompletionResponse {
	return &openai.ChatCompletionResponse{
		ID: "chatcmpl-x",
		Choices: []openai.ChatCompletionChoice{{
			FinishReason: finish,
			Message:      openai.ResponseMessage{Role: "assistant", Content: text},
		}},
		Usage: openai.UsageBreakdown{PromptTokens: 10, CompletionTokens: 5},
	}
}

func toolResponse(name, args string) *openai.ChatCompletionResponse {
	return &openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			FinishReason: "tool_calls",
			Message: openai.ResponseMessage{
				Role: "assistant",
				ToolCalls: []openai.ToolCall{{
					ID:       "call_1",
					Type:     "function",
					Function: openai.FunctionCall{Name: name, Arguments: args},
				}},
			},
		}},
		Usage: openai.UsageBreakdown{PromptTokens: 10, CompletionTokens: 5},
	}
}

func newTestOrchestrator(cfg Config, chat *fakeChat, registry *tools.Registry) *Orchestrator {
	br := bridge.New(bridge.Config{Mode: "openai", TextModel: "text-model", VisionModel: "vision-model"})
	if registry == nil {
		registry = tools.NewRegistry()
	}
	return New(cfg, br, registry, Backends{OpenAI: chat})
}

func simpleRequest(prompt string) *claude.MessagesRequest {
	return &claude.MessagesRequest{
		Model: "claude-model",
		Messages: []claude.Message{{
			Role:    "user",
			Content: claude.Content{Blocks: []claude.ContentBlock{claude.TextBlock(prompt)}},
		}},
	}
}

func TestCompleteSimple(t *testing.T) {
	chat := &fakeChat{script: []scriptStep{{resp: textResponse("Hi there", "stop")}}}
	o := newTestOrchestrator(Config{}, chat, nil)

	resp, err := o.Complete(context.Background(), simpleRequest("Hello"))
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "Hi there", resp.Content[0].Text)
	assert.Equal(t, claude.StopEndTurn, resp.StopReason)
	assert.Equal(t, "claude-model", resp.Model)
	assert.Len(t, chat.requests, 1)
}

func TestCompleteInternalToolLoop(t *testing.T) {
	registry := tools.NewRegistry()
	tool := &echoTool{name: "web_search", result: "three results about gophers"}
	registry.Register(tool)

	chat := &fakeChat{script: []scriptStep{
		{resp: toolResponse("web_search", `{"query":"gophers"}`)},
		{resp: textResponse("Gophers are rodents.", "stop")},
	}}
	o := newTestOrchestrator(Config{}, chat, registry)

	resp, err := o.Complete(context.Background(), simpleRequest("search for gophers"))
	require.NoError(t, err)
	assert.Equal(t, 1, tool.calls)
	require.Len(t, chat.requests, 2)

	// The continuation carries the tool exchange back to the backend.
	second := chat.requests[1]
	var sawToolRole bool
	for _, m := range second.Messages {
		if m.Role == "tool" {
			sawToolRole = true
			assert.Equal(t, "call_1", m.ToolCallID)
			assert.Equal(t, "three results about gophers", m.Content.PlainText())
		}
	}
	assert.True(t, sawToolRole)

	// Internal tool_use never reaches the client.
	for _, blk := range resp.Content {
		assert.NotEqual(t, claude.BlockToolUse, blk.Type)
	}
	assert.Equal(t, claude.StopEndTurn, resp.StopReason)
	assert.Equal(t, claude.Usage{InputTokens: 20, OutputTokens: 10}, resp.Usage)
}

func TestCompleteForcedFinalConverges(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&echoTool{name: "web_search", result: "r"})

	chat := &fakeChat{script: []scriptStep{
		{resp: toolResponse("web_search", `{"query":"q"}`)},
		{resp: textResponse("final answer", "stop")},
	}}
	o := newTestOrchestrator(Config{MaxConsecutiveInternal: 1}, chat, registry)

	resp, err := o.Complete(context.Background(), simpleRequest("q"))
	require.NoError(t, err)
	require.Len(t, chat.requests, 2, "one tool round then one forced final call")
	assert.Nil(t, chat.requests[1].Tools, "forced final call carries no tools")
	assert.Equal(t, "final answer", resp.Content[len(resp.Content)-1].Text)
}

func TestCompleteIterationCap(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&echoTool{name: "web_search", result: "r"})

	script := make([]scriptStep, 0, 3)
	for i := 0; i < 3; i++ {
		script = append(script, scriptStep{resp: toolResponse("web_search", `{"query":"q"}`)})
	}
	chat := &fakeChat{script: script}
	o := newTestOrchestrator(Config{MaxToolIterations: 2, MaxConsecutiveInternal: 10}, chat, registry)

	_, err := o.Complete(context.Background(), simpleRequest("q"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolLoopExceeded)
	assert.Len(t, chat.requests, 3)
}

func TestCompleteClientToolReturned(t *testing.T) {
	chat := &fakeChat{script: []scriptStep{
		{resp: toolResponse("get_weather", `{"city":"Oslo"}`)},
	}}
	o := newTestOrchestrator(Config{}, chat, nil)

	resp, err := o.Complete(context.Background(), simpleRequest("weather in Oslo?"))
	require.NoError(t, err)
	require.Len(t, chat.requests, 1, "client tool calls return immediately")
	require.Len(t, resp.Content, 1)
	assert.Equal(t, claude.BlockToolUse, resp.Content[0].Type)
	assert.Equal(t, "get_weather", resp.Content[0].Name)
	assert.Equal(t, claude.StopToolUse, resp.StopReason)
}

func TestCompleteMalformedToolArguments(t *testing.T) {
	registry := tools.NewRegistry()
	tool := &echoTool{name: "web_search", result: "unused"}
	registry.Register(tool)

	chat := &fakeChat{script: []scriptStep{
		{resp: toolResponse("web_search", `{"query": not json`)},
		{resp: textResponse("recovered", "stop")},
	}}
	o := newTestOrchestrator(Config{}, chat, registry)

	_, err := o.Complete(context.Background(), simpleRequest("q"))
	require.NoError(t, err)
	assert.Equal(t, 0, tool.calls, "malformed arguments never reach the executor")

	second := chat.requests[1]
	var errResult string
	for _, m := range second.Messages {
		if m.Role == "tool" {
			errResult = m.Content.PlainText()
		}
	}
	assert.Contains(t, errResult, "not valid JSON")
}

func TestCompleteContextRecovery(t *testing.T) {
	ctxErr := &backend.Error{Kind: backend.KindContextLimit, Status: 400, Message: "maximum context length exceeded"}
	chat := &fakeChat{script: []scriptStep{
		{err: ctxErr},
		{resp: textResponse("they discussed gopher habitats", "stop")}, // summarization call
		{resp: textResponse("done", "stop")},
	}}
	o := newTestOrchestrator(Config{}, chat, nil)

	req := &claude.MessagesRequest{
		Model: "claude-model",
		Messages: []claude.Message{
			{Role: "user", Content: claude.Content{Blocks: []claude.ContentBlock{claude.TextBlock("tell me about gophers")}}},
			{Role: "assistant", Content: claude.Content{Blocks: []claude.ContentBlock{claude.TextBlock("gophers are...")}}},
			{Role: "user", Content: claude.Content{Blocks: []claude.ContentBlock{claude.TextBlock("and their habitats?")}}},
		},
	}
	resp, err := o.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content[0].Text)
	require.Len(t, chat.requests, 3)

	// The retry sees the condensed history: summary turn plus the final
	// user message.
	retry := chat.requests[2]
	require.Len(t, retry.Messages, 2)
	assert.Equal(t, "assistant", retry.Messages[0].Role)
	assert.Equal(t, "they discussed gopher habitats", retry.Messages[0].Content.PlainText())
	assert.Equal(t, "and their habitats?", retry.Messages[1].Content.PlainText())
}

func TestCompleteContextRecoveryFallbackSummary(t *testing.T) {
	ctxErr := &backend.Error{Kind: backend.KindContextLimit, Status: 400, Message: "prompt is too long"}
	chat := &fakeChat{script: []scriptStep{
		{err: ctxErr},
		{err: ctxErr}, // summarization fails too
		{resp: textResponse("done", "stop")},
	}}
	o := newTestOrchestrator(Config{}, chat, nil)

	req := &claude.MessagesRequest{
		Model: "claude-model",
		Messages: []claude.Message{
			{Role: "user", Content: claude.Content{Blocks: []claude.ContentBlock{claude.TextBlock("a")}}},
			{Role: "assistant", Content: claude.Content{Blocks: []claude.ContentBlock{claude.TextBlock("b")}}},
			{Role: "user", Content: claude.Content{Blocks: []claude.ContentBlock{claude.TextBlock("c")}}},
		},
	}
	_, err := o.Complete(context.Background(), req)
	require.NoError(t, err)

	retry := chat.requests[2]
	assert.Equal(t, "2 prior messages, summarization failed", retry.Messages[0].Content.PlainText())
}

func TestCompleteContextRecoveryRunsOnce(t *testing.T) {
	ctxErr := &backend.Error{Kind: backend.KindContextLimit, Status: 400, Message: "context window exceeded"}
	chat := &fakeChat{script: []scriptStep{
		{err: ctxErr},
		{resp: textResponse("summary", "stop")},
		{err: ctxErr}, // retry fails the same way
	}}
	o := newTestOrchestrator(Config{}, chat, nil)

	req := &claude.MessagesRequest{
		Model: "claude-model",
		Messages: []claude.Message{
			{Role: "user", Content: claude.Content{Blocks: []claude.ContentBlock{claude.TextBlock("a")}}},
			{Role: "assistant", Content: claude.Content{Blocks: []claude.ContentBlock{claude.TextBlock("b")}}},
			{Role: "user", Content: claude.Content{Blocks: []claude.ContentBlock{claude.TextBlock("c")}}},
		},
	}
	_, err := o.Complete(context.Background(), req)
	require.Error(t, err)
	assert.True(t, backend.IsContextLimit(err))
	assert.Len(t, chat.requests, 3)
}

type fakeNative struct {
	responses []*claude.MessagesResponse
	requests  []*claude.MessagesRequest
}

func (f *fakeNative) Create(ctx context.Context, req *claude.MessagesRequest) (*claude.MessagesResponse, error) {
	f.requests = append(f.requests, req)
	if len(f.responses) == 0 {
		panic("fakeNative: no scripted response left")
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *fakeNative) Stream(ctx context.Context, req *claude.MessagesRequest) (EventSource, error) {
	return nil, errors.New("fakeNative: streaming not scripted")
}

type recordingObserver struct {
	NopObserver
	injections [][]bridge.Injection
}

func (r *recordingObserver) InjectionsApplied(injections []bridge.Injection) {
	r.injections = append(r.injections, injections)
}

func TestCompleteNativeForeignBlocksSanitized(t *testing.T) {
	native := &fakeNative{responses: []*claude.MessagesResponse{{
		ID:   "msg_up",
		Type: "message",
		Role: "assistant",
		Content: []claude.ContentBlock{
			claude.TextBlock("Here is what I found. "),
			{Type: "server_tool_use", ID: "srv_1", Name: "web_search", Input: map[string]any{"query": "gophers"}},
			{Type: "web_search_tool_result", Text: "gophers live underground"},
		},
		StopReason: claude.StopEndTurn,
		Usage:      claude.Usage{InputTokens: 7, OutputTokens: 3},
	}}}
	br := bridge.New(bridge.Config{Mode: "native", TextModel: "text-model", VisionModel: "vision-model"})
	o := New(Config{}, br, tools.NewRegistry(), Backends{Native: native})

	resp, err := o.Complete(context.Background(), simpleRequest("search for gophers"))
	require.NoError(t, err)
	require.Len(t, resp.Content, 2)
	assert.Equal(t, claude.BlockText, resp.Content[0].Type)
	assert.Equal(t, "Here is what I found. ", resp.Content[0].Text)
	assert.Equal(t, claude.BlockText, resp.Content[1].Type)
	assert.Equal(t, "gophers live underground", resp.Content[1].Text)
}

func TestCompleteMarkersLiteralWithoutDirective(t *testing.T) {
	chat := &fakeChat{script: []scriptStep{
		{resp: textResponse("wrap it like <reasoning_content>this</reasoning_content> in your prompt", "stop")},
	}}
	o := newTestOrchestrator(Config{}, chat, nil)

	resp, err := o.Complete(context.Background(), simpleRequest("how do I tag reasoning?"))
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, claude.BlockText, resp.Content[0].Type)
	assert.Equal(t, "wrap it like <reasoning_content>this</reasoning_content> in your prompt", resp.Content[0].Text)
}

func TestCompleteDirectiveRecoversMarkers(t *testing.T) {
	chat := &fakeChat{script: []scriptStep{
		{resp: textResponse("<reasoning_content>steps</reasoning_content>answer", "stop")},
	}}
	br := bridge.New(bridge.Config{Mode: "openai", TextModel: "text-model", ForceReasoning: true})
	o := New(Config{}, br, tools.NewRegistry(), Backends{OpenAI: chat})

	resp, err := o.Complete(context.Background(), simpleRequest("q"))
	require.NoError(t, err)
	require.Len(t, resp.Content, 2)
	assert.Equal(t, "steps", resp.Content[0].Thinking)
	assert.Equal(t, "answer", resp.Content[1].Text)
}

func TestCompleteReportsInjections(t *testing.T) {
	chat := &fakeChat{script: []scriptStep{{resp: textResponse("ok", "stop")}}}
	br := bridge.New(bridge.Config{Mode: "openai", TextModel: "text-model", ForceReasoning: true})
	obs := &recordingObserver{}
	o := New(Config{}, br, tools.NewRegistry(), Backends{OpenAI: chat}, WithObserver(obs))

	_, err := o.Complete(context.Background(), simpleRequest("q"))
	require.NoError(t, err)
	require.Len(t, obs.injections, 1)
	require.Len(t, obs.injections[0], 1)
	assert.Equal(t, bridge.InjectionReasoning, obs.injections[0][0].Kind)
}

func TestCompleteRecoverySkippedWithNothingToCondense(t *testing.T) {
	ctxErr := &backend.Error{Kind: backend.KindContextLimit, Status: 400, Message: "prompt is too long"}
	chat := &fakeChat{script: []scriptStep{{err: ctxErr}}}
	o := newTestOrchestrator(Config{}, chat, nil)

	_, err := o.Complete(context.Background(), simpleRequest("one enormous message"))
	require.Error(t, err)
	assert.True(t, backend.IsContextLimit(err))
	assert.Len(t, chat.requests, 1, "no prior turns to condense, so no retry")
}

func TestStreamInternalToolLoop(t *testing.T) {
	registry := tools.NewRegistry()
	tool := &echoTool{name: "web_search", result: "found it"}
	registry.Register(tool)

	finishTool := "tool_calls"
	finishStop := "stop"
	chat := &fakeChat{script: []scriptStep{
		{chunks: []*openai.ChatCompletionChunk{
			{Choices: []openai.ChatCompletionChunkChoice{{Delta: openai.ChatMessageDelta{ToolCalls: []openai.ToolCallDelta{{
				Index: 0, ID: "call_1", Function: &openai.ToolFunctionPart{Name: "web_search", Arguments: `{"query":"x"}`},
			}}}}}},
			{Choices: []openai.ChatCompletionChunkChoice{{FinishReason: &finishTool}}},
		}},
		{chunks: []*openai.ChatCompletionChunk{
			{Choices: []openai.ChatCompletionChunkChoice{{Delta: openai.ChatMessageDelta{Content: "the answer"}}}},
			{Choices: []openai.ChatCompletionChunkChoice{{FinishReason: &finishStop}}},
		}},
	}}
	o := newTestOrchestrator(Config{}, chat, registry)

	var c stream.Collector
	w := stream.NewWriter(&c, "msg_1", "claude-model")
	err := o.Stream(context.Background(), simpleRequest("find x"), w)
	require.NoError(t, err)
	require.Len(t, chat.requests, 2)
	assert.Equal(t, 1, tool.calls)

	names := make([]string, len(c.Events))
	for i, e := range c.Events {
		names[i] = e.Event
	}
	assert.Equal(t, []string{
		claude.EventMessageStart,
		claude.EventContentBlockStart,
		claude.EventContentBlockDelta,
		claude.EventContentBlockStop,
		claude.EventMessageDelta,
		claude.EventMessageStop,
	}, names, "internal round leaves no trace in the client stream")
}

func TestStreamClientToolFinishes(t *testing.T) {
	finishTool := "tool_calls"
	chat := &fakeChat{script: []scriptStep{
		{chunks: []*openai.ChatCompletionChunk{
			{Choices: []openai.ChatCompletionChunkChoice{{Delta: openai.ChatMessageDelta{ToolCalls: []openai.ToolCallDelta{{
				Index: 0, ID: "call_9", Function: &openai.ToolFunctionPart{Name: "get_weather", Arguments: `{}`},
			}}}}}},
			{Choices: []openai.ChatCompletionChunkChoice{{FinishReason: &finishTool}}},
		}},
	}}
	o := newTestOrchestrator(Config{}, chat, nil)

	var c stream.Collector
	w := stream.NewWriter(&c, "msg_1", "claude-model")
	require.NoError(t, o.Stream(context.Background(), simpleRequest("weather"), w))
	require.Len(t, chat.requests, 1)

	last := c.Events[len(c.Events)-1]
	assert.Equal(t, claude.EventMessageStop, last.Event)
	assert.Contains(t, c.Events[len(c.Events)-2].Payload, claude.StopToolUse)
}

func TestStreamForcedFinalDowngradesStopReason(t *testing.T) {
	registry := tools.NewRegistry()
	registry.Register(&echoTool{name: "web_search", result: "r"})

	finishTool := "tool_calls"
	internalRound := scriptStep{chunks: []*openai.ChatCompletionChunk{
		{Choices: []openai.ChatCompletionChunkChoice{{Delta: openai.ChatMessageDelta{ToolCalls: []openai.ToolCallDelta{{
			Index: 0, ID: "call_1", Function: &openai.ToolFunctionPart{Name: "web_search", Arguments: `{"query":"x"}`},
		}}}}}},
		{Choices: []openai.ChatCompletionChunkChoice{{FinishReason: &finishTool}}},
	}}
	// The backend keeps asking for the internal tool even on the final call
	// where tools were withheld.
	chat := &fakeChat{script: []scriptStep{internalRound, internalRound}}
	o := newTestOrchestrator(Config{MaxConsecutiveInternal: 1}, chat, registry)

	var c stream.Collector
	w := stream.NewWriter(&c, "msg_1", "claude-model")
	require.NoError(t, o.Stream(context.Background(), simpleRequest("find x"), w))
	require.Len(t, chat.requests, 2)
	assert.Nil(t, chat.requests[1].Tools)

	// No tool_use block reached the client, so the stop reason must not
	// promise one.
	for _, e := range c.Events {
		assert.NotEqual(t, claude.EventContentBlockStart, e.Event)
	}
	delta := c.Events[len(c.Events)-2]
	assert.Equal(t, claude.EventMessageDelta, delta.Event)
	assert.Contains(t, delta.Payload, claude.StopEndTurn)
	assert.NotContains(t, delta.Payload, claude.StopToolUse)
}

func TestStreamBackendFailureEmitsError(t *testing.T) {
	chat := &fakeChat{script: []scriptStep{
		{err: &backend.Error{Kind: backend.KindUpstreamStatus, Status: 503, Message: "overloaded"}},
	}}
	o := newTestOrchestrator(Config{}, chat, nil)

	var c stream.Collector
	w := stream.NewWriter(&c, "msg_1", "claude-model")
	err := o.Stream(context.Background(), simpleRequest("hi"), w)
	require.Error(t, err)

	last := c.Events[len(c.Events)-1]
	assert.Equal(t, claude.EventError, last.Event)
	assert.Contains(t, last.Payload, "overloaded_error")
	for _, e := range c.Events {
		assert.NotEqual(t, claude.EventMessageStop, e.Event)
	}
}

func TestErrorTypeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&backend.Error{Kind: backend.KindTimeout, Message: "t"}, "timeout_error"},
		{&backend.Error{Kind: backend.KindUpstreamStatus, Status: 429, Message: "r"}, "rate_limit_error"},
		{&backend.Error{Kind: backend.KindUpstreamStatus, Status: 502, Message: "o"}, "overloaded_error"},
		{&backend.Error{Kind: backend.KindUpstreamStatus, Status: 404, Message: "n"}, "api_error"},
		{&backend.Error{Kind: backend.KindContextLimit, Status: 400, Message: "c"}, "invalid_request_error"},
		{fmt.Errorf("wrapped: %w", ErrToolLoopExceeded), "api_error"},
		{errors.New("anything"), "api_error"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ErrorType(tc.err))
	}
}
