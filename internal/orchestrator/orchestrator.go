package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/relaywing/relaywing/internal/backend"
	"github.com/relaywing/relaywing/internal/bridge"
	"github.com/relaywing/relaywing/internal/claude"
	"github.com/relaywing/relaywing/internal/openai"
	"github.com/relaywing/relaywing/internal/tools"
)

// Config bounds the tool loop.
type Config struct {
	MaxToolIterations      int
	MaxConsecutiveInternal int
	ToolCallTimeout        time.Duration
}

func (c *Config) defaults() {
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = 8
	}
	if c.MaxConsecutiveInternal <= 0 {
		c.MaxConsecutiveInternal = 3
	}
	if c.ToolCallTimeout <= 0 {
		c.ToolCallTimeout = 30 * time.Second
	}
}

// ErrToolLoopExceeded terminates conversations whose tool loop never
// converges within the iteration budget.
var ErrToolLoopExceeded = errors.New("tool loop exceeded maximum iterations")

// ChunkSource yields delta chunks until io.EOF.
type ChunkSource interface {
	Recv() (*openai.ChatCompletionChunk, error)
	Close() error
}

// EventSource yields native stream events until io.EOF.
type EventSource interface {
	Recv() (*claude.StreamEvent, error)
	Close() error
}

// ChatBackend is a chat-completions endpoint.
type ChatBackend interface {
	Create(ctx context.Context, req *openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error)
	Stream(ctx context.Context, req *openai.ChatCompletionRequest) (ChunkSource, error)
}

// NativeBackend is a block-structured endpoint.
type NativeBackend interface {
	Create(ctx context.Context, req *claude.MessagesRequest) (*claude.MessagesResponse, error)
	Stream(ctx context.Context, req *claude.MessagesRequest) (EventSource, error)
}

// WrapChatClient adapts the HTTP client to the ChatBackend interface.
func WrapChatClient(c *backend.ChatClient) ChatBackend { return chatClientBackend{c} }

type chatClientBackend struct{ c *backend.ChatClient }

func (b chatClientBackend) Create(ctx context.Context, req *openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error) {
	return b.c.CreateChatCompletion(ctx, req)
}

func (b chatClientBackend) Stream(ctx context.Context, req *openai.ChatCompletionRequest) (ChunkSource, error) {
	return b.c.StreamChatCompletion(ctx, req)
}

// WrapNativeClient adapts the HTTP client to the NativeBackend interface.
func WrapNativeClient(c *backend.NativeClient) NativeBackend { return nativeClientBackend{c} }

type nativeClientBackend struct{ c *backend.NativeClient }

func (b nativeClientBackend) Create(ctx context.Context, req *claude.MessagesRequest) (*claude.MessagesResponse, error) {
	return b.c.CreateMessage(ctx, req)
}

func (b nativeClientBackend) Stream(ctx context.Context, req *claude.MessagesRequest) (EventSource, error) {
	return b.c.StreamMessage(ctx, req)
}

// Backends maps route names onto live clients.
type Backends struct {
	OpenAI ChatBackend
	Alt    ChatBackend
	Native NativeBackend
}

// Orchestrator drives the request loop: backend call, internal tool
// execution, continuation, and context recovery.
type Orchestrator struct {
	cfg      Config
	bridge   *bridge.Bridge
	registry *tools.Registry
	backends Backends
	observer Observer
	log      *log.Logger

	// serverTools supplies the definitions exported by external tool servers.
	serverTools func() []openai.Tool
}

// New builds an Orchestrator.
func New(cfg Config, br *bridge.Bridge, registry *tools.Registry, backends Backends, opts ...Option) *Orchestrator {
	cfg.defaults()
	o := &Orchestrator{
		cfg:         cfg,
		bridge:      br,
		registry:    registry,
		backends:    backends,
		observer:    NopObserver{},
		log:         log.Default(),
		serverTools: func() []openai.Tool { return nil },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithObserver wires an observer for tool, backend, and recovery activity.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithServerTools supplies external tool definitions for injection.
func WithServerTools(fn func() []openai.Tool) Option {
	return func(o *Orchestrator) { o.serverTools = fn }
}

func (o *Orchestrator) chatBackend(route bridge.Route) (ChatBackend, error) {
	switch route.Backend {
	case bridge.BackendOpenAI:
		if o.backends.OpenAI == nil {
			return nil, fmt.Errorf("openai backend not configured")
		}
		return o.backends.OpenAI, nil
	case bridge.BackendAlt:
		if o.backends.Alt == nil {
			return nil, fmt.Errorf("alt backend not configured")
		}
		return o.backends.Alt, nil
	default:
		return nil, fmt.Errorf("no chat backend for route %q", route.Backend)
	}
}

// Complete serves one buffered request, running the tool loop to completion.
func (o *Orchestrator) Complete(ctx context.Context, req *claude.MessagesRequest) (*claude.MessagesResponse, error) {
	route := o.bridge.Route(req)
	state := newLoopState(o.cfg, req)

	for {
		resp, err := o.callBuffered(ctx, route, state)
		if err != nil {
			if backend.IsContextLimit(err) && state.tryRecovery() && o.recoverHistory(ctx, route, state) {
				continue
			}
			return nil, err
		}

		state.addUsage(resp.Usage)
		internal, hasClient := o.classify(resp.Content)

		if hasClient || len(internal) == 0 || state.toolsDisabled {
			bridge.SanitizeResponse(resp)
			bridge.StripInternalToolUse(resp, o.registry.IsInternal)
			resp.Usage = state.usage
			resp.Model = req.Model
			return resp, nil
		}

		if err := state.advance(); err != nil {
			return nil, err
		}
		results := o.executeInternal(ctx, internal)
		state.pushExchange(resp.Content, results)
	}
}

func (o *Orchestrator) callBuffered(ctx context.Context, route bridge.Route, state *loopState) (*claude.MessagesResponse, error) {
	start := time.Now()
	var resp *claude.MessagesResponse
	var err error

	if route.Backend == bridge.BackendNative {
		nreq, injections := o.bridge.PrepareNative(state.request(), route, o.serverToolDefs(state))
		if state.toolsDisabled {
			nreq.Tools = nil
		}
		o.noteInjections(injections)
		if o.backends.Native == nil {
			return nil, fmt.Errorf("native backend not configured")
		}
		resp, err = o.backends.Native.Create(ctx, nreq)
	} else {
		be, berr := o.chatBackend(route)
		if berr != nil {
			return nil, berr
		}
		creq, injections := o.bridge.ToChatRequest(state.request(), route, o.serverToolDefs(state))
		if state.toolsDisabled {
			creq.Tools = nil
		}
		o.noteInjections(injections)
		var chatResp *openai.ChatCompletionResponse
		chatResp, err = be.Create(ctx, creq)
		if err == nil {
			resp = bridge.FromChatResponse(chatResp, route.Model, bridge.HasReasoningInjection(injections))
		}
	}

	o.observer.BackendCall(route.Backend, time.Since(start), err)
	return resp, err
}

// noteInjections reports request modifications to the observer so they reach
// metrics and the event sink.
func (o *Orchestrator) noteInjections(injections []bridge.Injection) {
	if len(injections) > 0 {
		o.observer.InjectionsApplied(injections)
	}
}

func (o *Orchestrator) serverToolDefs(state *loopState) []openai.Tool {
	if state.toolsDisabled {
		return nil
	}
	return o.serverTools()
}
