package orchestrator

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/relaywing/relaywing/internal/backend"
	"github.com/relaywing/relaywing/internal/bridge"
	"github.com/relaywing/relaywing/internal/claude"
	"github.com/relaywing/relaywing/internal/openai"
	"github.com/relaywing/relaywing/internal/stream"
)

// streamRound is the outcome of one upstream stream pass.
type streamRound struct {
	toolCalls  []openai.ToolCall
	hasClient  bool
	stopReason string
	usage      claude.Usage
}

// Stream serves one streaming request. The writer is shared across every
// continuation so the client sees a single uninterrupted message.
func (o *Orchestrator) Stream(ctx context.Context, req *claude.MessagesRequest, w *stream.Writer) error {
	route := o.bridge.Route(req)
	state := newLoopState(o.cfg, req)

	for {
		round, err := o.streamOnce(ctx, route, state, w)
		if err != nil {
			if backend.IsContextLimit(err) && !w.StartSent() && state.tryRecovery() && o.recoverHistory(ctx, route, state) {
				continue
			}
			w.Fail(ErrorType(err), ErrorMessage(err))
			return err
		}

		state.addUsage(round.usage)
		internal, hasClient := o.classifyCalls(round.toolCalls)
		hasClient = hasClient || round.hasClient

		if hasClient || len(internal) == 0 || state.toolsDisabled {
			stop := round.stopReason
			if stop == claude.StopToolUse && !hasClient {
				// Every tool_use block was withheld from the stream, so the
				// advertised stop reason must not promise one.
				stop = claude.StopEndTurn
			}
			return w.Finish(stop, state.usage)
		}

		if err := state.advance(); err != nil {
			w.Fail("api_error", err.Error())
			return err
		}
		results := o.executeInternal(ctx, internal)
		state.pushExchange(assistantBlocks(internal), results)
	}
}

func (o *Orchestrator) streamOnce(ctx context.Context, route bridge.Route, state *loopState, w *stream.Writer) (*streamRound, error) {
	if route.Backend == bridge.BackendNative {
		return o.streamNative(ctx, route, state, w)
	}
	return o.streamChat(ctx, route, state, w)
}

func (o *Orchestrator) streamChat(ctx context.Context, route bridge.Route, state *loopState, w *stream.Writer) (*streamRound, error) {
	be, err := o.chatBackend(route)
	if err != nil {
		return nil, err
	}
	creq, injections := o.bridge.ToChatRequest(state.request(), route, o.serverToolDefs(state))
	if state.toolsDisabled {
		creq.Tools = nil
	}
	o.noteInjections(injections)
	if bridge.HasReasoningInjection(injections) {
		w.EnableTagParsing()
	}

	start := time.Now()
	src, err := be.Stream(ctx, creq)
	o.observer.BackendCall(route.Backend, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	adapter := stream.NewChunkAdapter(w, o.registry.IsInternal)
	for {
		chunk, err := src.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := adapter.Apply(chunk); err != nil {
			return nil, err
		}
	}
	if err := adapter.Finalize(); err != nil {
		return nil, err
	}

	return &streamRound{
		toolCalls:  adapter.ToolCalls(),
		hasClient:  adapter.HasClientToolCalls(),
		stopReason: bridge.MapFinishReason(adapter.FinishReason(), adapter.HasClientToolCalls()),
		usage:      adapter.Usage(),
	}, nil
}

func (o *Orchestrator) streamNative(ctx context.Context, route bridge.Route, state *loopState, w *stream.Writer) (*streamRound, error) {
	if o.backends.Native == nil {
		return nil, errors.New("native backend not configured")
	}
	nreq, injections := o.bridge.PrepareNative(state.request(), route, o.serverToolDefs(state))
	if state.toolsDisabled {
		nreq.Tools = nil
	}
	o.noteInjections(injections)
	if bridge.HasReasoningInjection(injections) {
		w.EnableTagParsing()
	}

	start := time.Now()
	src, err := o.backends.Native.Stream(ctx, nreq)
	o.observer.BackendCall(route.Backend, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	adapter := stream.NewNativeAdapter(w, o.registry.IsInternal)
	for {
		evt, err := src.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := adapter.Apply(evt); err != nil {
			return nil, err
		}
		if adapter.Done() {
			break
		}
	}
	if err := adapter.Finalize(); err != nil {
		return nil, err
	}
	if upErr := adapter.UpstreamError(); upErr != nil {
		return nil, &backend.Error{Kind: backend.KindUpstreamStatus, Message: upErr.Message}
	}

	stopReason := adapter.StopReason()
	if stopReason == "" {
		stopReason = claude.StopEndTurn
	}
	if adapter.HasClientToolCalls() {
		stopReason = claude.StopToolUse
	}
	return &streamRound{
		toolCalls:  adapter.ToolCalls(),
		hasClient:  adapter.HasClientToolCalls(),
		stopReason: stopReason,
		usage:      adapter.Usage(),
	}, nil
}

// ErrorType maps an internal failure onto the wire error taxonomy.
func ErrorType(err error) string {
	var be *backend.Error
	if errors.As(err, &be) {
		switch be.Kind {
		case backend.KindTimeout:
			return "timeout_error"
		case backend.KindContextLimit:
			return "invalid_request_error"
		case backend.KindUpstreamStatus:
			if be.Status == 429 {
				return "rate_limit_error"
			}
			if be.Status >= 500 {
				return "overloaded_error"
			}
			return "api_error"
		}
	}
	if errors.Is(err, ErrToolLoopExceeded) {
		return "api_error"
	}
	return "api_error"
}

// ErrorMessage returns a caller-safe description.
func ErrorMessage(err error) string {
	var be *backend.Error
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}
