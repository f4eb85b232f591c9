package bridge

import (
	"strings"

	"github.com/relaywing/relaywing/internal/claude"
	"github.com/relaywing/relaywing/internal/openai"
)

// Injection records one modification applied to an outbound request so the
// caller can log and audit what the gateway added on the client's behalf.
type Injection struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

const (
	InjectionReasoning = "reasoning_directive"
	InjectionWebTools  = "web_tools"
)

// reasoningDirective nudges backends without a native reasoning channel into
// emitting tagged reasoning that the splitter can recover.
const reasoningDirective = "Before answering, think through the problem step by step. " +
	"Write your reasoning between <reasoning_content> and </reasoning_content> markers, " +
	"then give your final answer after the closing marker."

const reasoningAck = "Understood. I will reason inside <reasoning_content> markers before answering."

// webTriggerKeywords gates web tool injection; the scan runs over the most
// recent user message only.
var webTriggerKeywords = []string{
	"search",
	"look up",
	"lookup",
	"latest",
	"current",
	"today",
	"news",
	"recent",
	"browse",
	"website",
	"url",
	"http://",
	"https://",
}

func reasoningInjection() Injection {
	return Injection{Kind: InjectionReasoning, Detail: "step-by-step reasoning directive"}
}

// HasReasoningInjection reports whether the reasoning directive was applied,
// which is what arms marker recovery on the response path.
func HasReasoningInjection(injections []Injection) bool {
	for _, inj := range injections {
		if inj.Kind == InjectionReasoning {
			return true
		}
	}
	return false
}

func webToolInjection() Injection {
	return Injection{Kind: InjectionWebTools, Detail: "web_search and web_read definitions"}
}

// injectReasoningExchange inserts the directive as a user/assistant pair
// immediately before the final user message, preserving role alternation.
func injectReasoningExchange(messages []claude.Message) []claude.Message {
	last := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			last = i
			break
		}
	}
	if last < 0 {
		return messages
	}
	pair := []claude.Message{
		{Role: "user", Content: claude.Content{Blocks: []claude.ContentBlock{claude.TextBlock(reasoningDirective)}}},
		{Role: "assistant", Content: claude.Content{Blocks: []claude.ContentBlock{claude.TextBlock(reasoningAck)}}},
	}
	out := make([]claude.Message, 0, len(messages)+2)
	out = append(out, messages[:last]...)
	out = append(out, pair...)
	out = append(out, messages[last:]...)
	return out
}

// shouldInjectWebTools requires both the feature flag and a keyword hit in
// the latest user message.
func (b *Bridge) shouldInjectWebTools(req *claude.MessagesRequest) bool {
	if !b.cfg.WebToolsEnabled {
		return false
	}
	var lastUser string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			lastUser = strings.ToLower(req.Messages[i].PlainText())
			break
		}
	}
	if lastUser == "" {
		return false
	}
	for _, kw := range webTriggerKeywords {
		if strings.Contains(lastUser, kw) {
			return true
		}
	}
	return false
}

// WebToolDefinitions returns the function schemas for the built-in web tools.
func WebToolDefinitions() []openai.Tool {
	return []openai.Tool{
		{
			Type: "function",
			Function: openai.ToolFunction{
				Name:        "web_search",
				Description: "Search the web and return a list of result titles, URLs, and snippets.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{
							"type":        "string",
							"description": "The search query.",
						},
					},
					"required": []string{"query"},
				},
			},
		},
		{
			Type: "function",
			Function: openai.ToolFunction{
				Name:        "web_read",
				Description: "Fetch a URL and return its readable text content.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"url": map[string]any{
							"type":        "string",
							"description": "The URL to fetch.",
						},
					},
					"required": []string{"url"},
				},
			},
		},
	}
}
