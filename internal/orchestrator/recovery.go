package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/relaywing/relaywing/internal/bridge"
	"github.com/relaywing/relaywing/internal/claude"
)

const summarizePrompt = "Summarize the conversation so far in a compact form. " +
	"Preserve every fact, decision, and open question needed to continue it. " +
	"Reply with the summary only."

// recoverHistory handles a context-window overflow by condensing the prior
// conversation into a single assistant summary and keeping only the turns
// from the last user message onward. Runs at most once per request; if the
// summarization call itself fails, a placeholder summary goes in so the
// retry still shrinks the prompt. Returns false when the history has no
// condensable prefix, in which case retrying is pointless and the caller
// surfaces the original error.
func (o *Orchestrator) recoverHistory(ctx context.Context, route bridge.Route, state *loopState) bool {
	tail := len(state.messages) - 1
	for tail > 0 && state.messages[tail].Role != "user" {
		tail--
	}
	prior := state.messages[:tail]
	if len(prior) == 0 {
		o.observer.RecoveryAttempt(false)
		return false
	}

	summary, ok := o.summarize(ctx, route, prior)
	if !ok {
		summary = fmt.Sprintf("%d prior messages, summarization failed", len(prior))
	}
	o.observer.RecoveryAttempt(ok)
	o.log.Printf("[INFO] context recovery condensed %d messages (summarized=%v)", len(prior), ok)

	rebuilt := make([]claude.Message, 0, len(state.messages)-tail+1)
	rebuilt = append(rebuilt, claude.Message{
		Role:    "assistant",
		Content: claude.Content{Blocks: []claude.ContentBlock{claude.TextBlock(summary)}},
	})
	rebuilt = append(rebuilt, state.messages[tail:]...)
	state.messages = rebuilt
	return true
}

// summarize produces the condensed history through the same backend the
// failing request used.
func (o *Orchestrator) summarize(ctx context.Context, route bridge.Route, prior []claude.Message) (string, bool) {
	messages := make([]claude.Message, 0, len(prior)+1)
	messages = append(messages, prior...)
	if messages[len(messages)-1].Role == "user" {
		// Keep alternation valid before appending the summarize turn.
		messages = append(messages, claude.Message{
			Role:    "assistant",
			Content: claude.Content{Blocks: []claude.ContentBlock{claude.TextBlock("...")}},
		})
	}
	messages = append(messages, claude.Message{
		Role:    "user",
		Content: claude.Content{Blocks: []claude.ContentBlock{claude.TextBlock(summarizePrompt)}},
	})

	req := &claude.MessagesRequest{
		Model:     route.Model,
		Messages:  messages,
		MaxTokens: 1024,
	}
	tmp := newLoopState(o.cfg, req)
	tmp.toolsDisabled = true

	resp, err := o.callBuffered(ctx, route, tmp)
	if err != nil {
		return "", false
	}
	var b strings.Builder
	for _, blk := range resp.Content {
		if blk.Type == claude.BlockText {
			b.WriteString(blk.Text)
		}
	}
	summary := strings.TrimSpace(b.String())
	if summary == "" {
		return "", false
	}
	return summary, true
}
