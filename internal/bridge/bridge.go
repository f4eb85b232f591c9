package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relaywing/relaywing/internal/claude"
	"github.com/relaywing/relaywing/internal/openai"
)

// Backend names used for routing.
const (
	BackendNative = "native"
	BackendOpenAI = "openai"
	BackendAlt    = "alt"
)

// Config carries the bridge's routing and injection settings.
type Config struct {
	Mode           string // native | openai | alt
	FallbackMode   string // used when Mode is not recognized
	TextModel      string
	VisionModel    string
	ForceReasoning bool
	WebToolsEnabled bool
	DefaultMaxTokens int
}

// Bridge converts conversations, tools, and responses between the inbound
// protocol and the chat-completions dialects, and routes each request to the
// right backend variant.
type Bridge struct {
	cfg Config
}

// New builds a Bridge.
func New(cfg Config) *Bridge {
	if cfg.FallbackMode == "" {
		cfg.FallbackMode = BackendOpenAI
	}
	if cfg.DefaultMaxTokens == 0 {
		cfg.DefaultMaxTokens = 4096
	}
	return &Bridge{cfg: cfg}
}

// Route selects the backend variant and model for one request. Only the most
// recent message is scanned for media so prior images in history do not pin
// the conversation to the vision model.
type Route struct {
	Backend string
	Model   string
}

// Route decides the backend variant for the request.
func (b *Bridge) Route(req *claude.MessagesRequest) Route {
	if len(req.Messages) > 0 && req.Messages[len(req.Messages)-1].HasMedia() {
		return Route{Backend: BackendOpenAI, Model: b.cfg.VisionModel}
	}
	switch b.cfg.Mode {
	case BackendNative:
		return Route{Backend: BackendNative, Model: b.cfg.TextModel}
	case BackendOpenAI:
		return Route{Backend: BackendOpenAI, Model: b.cfg.TextModel}
	case BackendAlt:
		return Route{Backend: BackendAlt, Model: b.cfg.TextModel}
	default:
		return Route{Backend: b.cfg.FallbackMode, Model: b.cfg.TextModel}
	}
}

// ToChatRequest converts an inbound request into the chat-completions dialect
// and applies the configured injections. serverTools are definitions exported
// by registered tool backends; they ride along unconditionally.
func (b *Bridge) ToChatRequest(req *claude.MessagesRequest, route Route, serverTools []openai.Tool) (*openai.ChatCompletionRequest, []Injection) {
	injections := []Injection{}

	messages := make([]claude.Message, len(req.Messages))
	copy(messages, req.Messages)

	if b.cfg.ForceReasoning {
		messages = injectReasoningExchange(messages)
		injections = append(injections, reasoningInjection())
	}

	out := &openai.ChatCompletionRequest{
		Model:       route.Model,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.StopSequences,
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = b.cfg.DefaultMaxTokens
	}
	out.MaxTokens = &maxTokens

	if system := req.System.Flatten(); strings.TrimSpace(system) != "" {
		out.Messages = append(out.Messages, openai.ChatMessage{
			Role:    "system",
			Content: openai.TextContent(system),
		})
	}
	for _, msg := range messages {
		out.Messages = append(out.Messages, convertMessage(msg)...)
	}

	out.Tools = convertTools(req.Tools)
	if b.shouldInjectWebTools(req) {
		out.Tools = append(out.Tools, WebToolDefinitions()...)
		injections = append(injections, webToolInjection())
	}
	out.Tools = append(out.Tools, serverTools...)
	if len(out.Tools) == 0 {
		out.Tools = nil
	}

	return out, injections
}

// PrepareNative applies the same injections to a request headed for the
// native dialect, which needs no structural conversion.
func (b *Bridge) PrepareNative(req *claude.MessagesRequest, route Route, serverTools []openai.Tool) (*claude.MessagesRequest, []Injection) {
	injections := []Injection{}

	out := *req
	out.Model = route.Model
	out.Messages = make([]claude.Message, len(req.Messages))
	copy(out.Messages, req.Messages)
	if out.MaxTokens <= 0 {
		out.MaxTokens = b.cfg.DefaultMaxTokens
	}

	if b.cfg.ForceReasoning {
		out.Messages = injectReasoningExchange(out.Messages)
		injections = append(injections, reasoningInjection())
	}

	out.Tools = append([]claude.Tool(nil), req.Tools...)
	if b.shouldInjectWebTools(req) {
		for _, t := range WebToolDefinitions() {
			out.Tools = append(out.Tools, claude.Tool{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				InputSchema: t.Function.Parameters,
			})
		}
		injections = append(injections, webToolInjection())
	}
	for _, t := range serverTools {
		out.Tools = append(out.Tools, claude.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	return &out, injections
}

// convertMessage expands one inbound message into one or more chat messages.
// Multi-part tool results split into one tool-role entry per result since the
// chat dialect has no multi-result-per-message concept.
func convertMessage(msg claude.Message) []openai.ChatMessage {
	switch msg.Role {
	case "assistant":
		return convertAssistantMessage(msg)
	default:
		return convertUserMessage(msg)
	}
}

func convertUserMessage(msg claude.Message) []openai.ChatMessage {
	var out []openai.ChatMessage
	var parts []openai.ContentPart
	for _, blk := range msg.Content.Blocks {
		switch blk.Type {
		case claude.BlockText:
			parts = append(parts, openai.ContentPart{Type: "text", Text: blk.Text})
		case claude.BlockImage:
			if url := mediaURL(blk.Source); url != "" {
				parts = append(parts, openai.ContentPart{Type: "image_url", ImageURL: &openai.MediaURL{URL: url}})
			}
		case claude.BlockVideo:
			if url := mediaURL(blk.Source); url != "" {
				parts = append(parts, openai.ContentPart{Type: "video_url", VideoURL: &openai.MediaURL{URL: url}})
			}
		case claude.BlockToolResult:
			out = append(out, openai.ChatMessage{
				Role:       "tool",
				Content:    openai.TextContent(flattenToolResult(blk)),
				ToolCallID: blk.ToolUseID,
			})
		}
	}
	if len(parts) > 0 {
		content := openai.MessageContent{Parts: parts}
		if len(parts) == 1 && parts[0].Type == "text" {
			content = openai.TextContent(parts[0].Text)
		}
		out = append(out, openai.ChatMessage{Role: "user", Content: content})
	}
	return out
}

func convertAssistantMessage(msg claude.Message) []openai.ChatMessage {
	var texts []string
	var toolCalls []openai.ToolCall
	for _, blk := range msg.Content.Blocks {
		switch blk.Type {
		case claude.BlockText:
			if blk.Text != "" {
				texts = append(texts, blk.Text)
			}
		case claude.BlockToolUse:
			args := "{}"
			if blk.Input != nil {
				if raw, err := json.Marshal(blk.Input); err == nil {
					args = string(raw)
				}
			}
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   blk.ID,
				Type: "function",
				Function: openai.FunctionCall{
					Name:      blk.Name,
					Arguments: args,
				},
			})
		case claude.BlockThinking:
			// History thinking is not replayed to the backend.
		}
	}
	if len(texts) == 0 && len(toolCalls) == 0 {
		return nil
	}
	m := openai.ChatMessage{Role: "assistant"}
	if len(texts) > 0 {
		m.Content = openai.TextContent(strings.Join(texts, "\n\n"))
	}
	m.ToolCalls = toolCalls
	return []openai.ChatMessage{m}
}

func flattenToolResult(blk claude.ContentBlock) string {
	var b strings.Builder
	for _, inner := range blk.Content {
		if inner.Type == claude.BlockText {
			b.WriteString(inner.Text)
		}
	}
	if blk.IsError && b.Len() == 0 {
		b.WriteString("tool execution failed")
	}
	return b.String()
}

func mediaURL(src *claude.MediaSource) string {
	if src == nil {
		return ""
	}
	if src.URL != "" {
		return src.URL
	}
	if src.Data != "" {
		mediaType := src.MediaType
		if mediaType == "" {
			mediaType = "application/octet-stream"
		}
		return fmt.Sprintf("data:%s;base64,%s", mediaType, src.Data)
	}
	return ""
}

func convertTools(tools []claude.Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		if strings.TrimSpace(t.Name) == "" {
			continue
		}
		out = append(out, openai.Tool{
			Type: "function",
			Function: openai.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}
