package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaywing/relaywing/internal/bridge"
	"github.com/relaywing/relaywing/internal/claude"
	"github.com/relaywing/relaywing/internal/openai"
)

// loopState carries the conversation through tool loop continuations.
type loopState struct {
	cfg  Config
	base *claude.MessagesRequest

	messages            []claude.Message
	iterations          int
	consecutiveInternal int
	toolsDisabled       bool
	recovered           bool
	usage               claude.Usage
}

func newLoopState(cfg Config, req *claude.MessagesRequest) *loopState {
	messages := make([]claude.Message, len(req.Messages))
	copy(messages, req.Messages)
	return &loopState{cfg: cfg, base: req, messages: messages}
}

// request materializes the current history as a request.
func (s *loopState) request() *claude.MessagesRequest {
	req := *s.base
	req.Messages = s.messages
	return &req
}

func (s *loopState) addUsage(u claude.Usage) {
	s.usage.InputTokens += u.InputTokens
	s.usage.OutputTokens += u.OutputTokens
}

// tryRecovery reports whether context recovery may run; it runs at most once
// per request.
func (s *loopState) tryRecovery() bool {
	if s.recovered {
		return false
	}
	s.recovered = true
	return true
}

// advance counts one internal tool round against the loop budgets. Hitting
// the consecutive-internal cap disables tools for the next backend call so
// the model is forced to answer.
func (s *loopState) advance() error {
	s.iterations++
	if s.iterations > s.cfg.MaxToolIterations {
		return fmt.Errorf("%w after %d iterations", ErrToolLoopExceeded, s.iterations-1)
	}
	s.consecutiveInternal++
	if s.consecutiveInternal >= s.cfg.MaxConsecutiveInternal {
		s.toolsDisabled = true
	}
	return nil
}

// pushExchange appends the assistant turn and its tool results to history.
// Thinking blocks are not replayed.
func (s *loopState) pushExchange(assistantBlocks, results []claude.ContentBlock) {
	var kept []claude.ContentBlock
	for _, blk := range assistantBlocks {
		if blk.Type == claude.BlockText || blk.Type == claude.BlockToolUse {
			kept = append(kept, blk)
		}
	}
	s.messages = append(s.messages,
		claude.Message{Role: "assistant", Content: claude.Content{Blocks: kept}},
		claude.Message{Role: "user", Content: claude.Content{Blocks: results}},
	)
}

// invocation is one internal tool call ready to execute.
type invocation struct {
	id        string
	name      string
	input     map[string]any
	malformed bool
}

// classify splits a buffered response's tool_use blocks into internal
// invocations and reports whether any client-facing call is present.
func (o *Orchestrator) classify(blocks []claude.ContentBlock) ([]invocation, bool) {
	var internal []invocation
	hasClient := false
	for _, blk := range blocks {
		if blk.Type != claude.BlockToolUse {
			continue
		}
		if !o.registry.IsInternal(blk.Name) {
			hasClient = true
			continue
		}
		internal = append(internal, invocation{
			id:        blk.ID,
			name:      blk.Name,
			input:     blk.Input,
			malformed: blk.Input == nil,
		})
	}
	return internal, hasClient
}

// classifyCalls does the same for tool calls collected off a stream.
func (o *Orchestrator) classifyCalls(calls []openai.ToolCall) ([]invocation, bool) {
	var internal []invocation
	hasClient := false
	for _, tc := range calls {
		if !o.registry.IsInternal(tc.Function.Name) {
			hasClient = true
			continue
		}
		inv := invocation{id: tc.ID, name: tc.Function.Name}
		input, err := bridge.ParseToolInput(tc.Function.Arguments)
		if err != nil {
			inv.malformed = true
		} else {
			inv.input = input
		}
		internal = append(internal, inv)
	}
	return internal, hasClient
}

// assistantBlocks rebuilds the tool_use blocks for history continuation.
func assistantBlocks(invs []invocation) []claude.ContentBlock {
	blocks := make([]claude.ContentBlock, 0, len(invs))
	for _, inv := range invs {
		input := inv.input
		if input == nil {
			input = map[string]any{}
		}
		blocks = append(blocks, claude.ContentBlock{
			Type:  claude.BlockToolUse,
			ID:    inv.id,
			Name:  inv.name,
			Input: input,
		})
	}
	return blocks
}

// executeInternal runs every invocation concurrently, each under its own
// timeout. A failed call becomes an error result; the rest still complete so
// the model sees every outcome.
func (o *Orchestrator) executeInternal(ctx context.Context, invs []invocation) []claude.ContentBlock {
	results := make([]claude.ContentBlock, len(invs))
	var wg sync.WaitGroup
	for i, inv := range invs {
		wg.Add(1)
		go func(i int, inv invocation) {
			defer wg.Done()
			results[i] = o.executeOne(ctx, inv)
		}(i, inv)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) executeOne(ctx context.Context, inv invocation) claude.ContentBlock {
	if inv.malformed {
		return claude.ToolResultBlock(inv.id, "tool arguments were not valid JSON", true)
	}
	executor, ok := o.registry.Lookup(inv.name)
	if !ok {
		return claude.ToolResultBlock(inv.id, fmt.Sprintf("tool %q is not available", inv.name), true)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.ToolCallTimeout)
	defer cancel()

	start := time.Now()
	out, err := executor.Execute(callCtx, inv.input)
	o.observer.ToolExecuted(inv.name, time.Since(start), err)
	if err != nil {
		o.log.Printf("[WARN] tool %q failed: %v", inv.name, err)
		return claude.ToolResultBlock(inv.id, err.Error(), true)
	}
	return claude.ToolResultBlock(inv.id, out, false)
}
