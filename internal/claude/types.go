package claude

import (
	"encoding/json"
	"strings"
)

// Block type tags used on the wire.
const (
	BlockText       = "text"
	BlockThinking   = "thinking"
	BlockImage      = "image"
	BlockVideo      = "video"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Message is one conversation turn. Content accepts either a bare string or an
// array of content blocks on the wire.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Content wraps the string-or-block-array content shape.
type Content struct {
	Blocks []ContentBlock
}

// ContentBlock is the tagged union of block kinds. Type decides which fields
// are populated; anything with an unrecognized Type is carried as-is so callers
// can decide whether to down-convert or drop it.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// image / video
	Source *MediaSource `json:"source,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string         `json:"tool_use_id,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
	Content   []ContentBlock `json:"content,omitempty"`
}

// MediaSource carries image/video payloads, either inline base64 or by URL.
type MediaSource struct {
	Type      string `json:"type"` // base64 | url
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// TextBlock builds a plain text block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ThinkingBlock builds a thinking block.
func ThinkingBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockThinking, Thinking: text}
}

// ToolResultBlock builds a tool_result block carrying plain text.
func ToolResultBlock(toolUseID, text string, isError bool) ContentBlock {
	return ContentBlock{
		Type:      BlockToolResult,
		ToolUseID: toolUseID,
		IsError:   isError,
		Content:   []ContentBlock{{Type: BlockText, Text: text}},
	}
}

// PlainText flattens the message content to text, ignoring non-text blocks.
func (m Message) PlainText() string {
	var b strings.Builder
	for _, blk := range m.Content.Blocks {
		if blk.Type == BlockText {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

// HasMedia reports whether any block in the message carries image or video
// content.
func (m Message) HasMedia() bool {
	for _, blk := range m.Content.Blocks {
		if blk.Type == BlockImage || blk.Type == BlockVideo {
			return true
		}
	}
	return false
}

// MarshalJSON always encodes content as an array of blocks.
func (c Content) MarshalJSON() ([]byte, error) {
	if len(c.Blocks) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Blocks)
}

// UnmarshalJSON accepts a bare string, a single block object, or a block array.
func (c *Content) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		c.Blocks = []ContentBlock{TextBlock(s)}
		return nil
	}
	if trimmed[0] == '{' {
		var one ContentBlock
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		c.Blocks = []ContentBlock{one}
		return nil
	}
	var arr []ContentBlock
	if err := json.Unmarshal(b, &arr); err != nil {
		return err
	}
	c.Blocks = arr
	return nil
}

// UnmarshalJSON tolerates tool_result content arriving as a bare string.
func (blk *ContentBlock) UnmarshalJSON(data []byte) error {
	type alias ContentBlock
	var a struct {
		alias
		RawContent json.RawMessage `json:"content,omitempty"`
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*blk = ContentBlock(a.alias)
	blk.Content = nil
	raw := strings.TrimSpace(string(a.RawContent))
	if raw == "" || raw == "null" {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(a.RawContent, &s); err != nil {
			return err
		}
		blk.Content = []ContentBlock{TextBlock(s)}
		return nil
	}
	var arr []ContentBlock
	if err := json.Unmarshal(a.RawContent, &arr); err != nil {
		return err
	}
	blk.Content = arr
	return nil
}

// SystemField accepts a string or an array of text blocks.
type SystemField struct {
	Text   string
	Blocks []ContentBlock
}

// Flatten returns the system prompt as plain text.
func (s SystemField) Flatten() string {
	if strings.TrimSpace(s.Text) != "" {
		return s.Text
	}
	var b strings.Builder
	for _, blk := range s.Blocks {
		if blk.Type == BlockText {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

// MarshalJSON encodes the system field in its simplest valid form.
func (s SystemField) MarshalJSON() ([]byte, error) {
	if len(s.Blocks) > 0 {
		return json.Marshal(s.Blocks)
	}
	return json.Marshal(s.Text)
}

// UnmarshalJSON accepts string or block-array shapes.
func (s *SystemField) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	if trimmed[0] == '"' {
		return json.Unmarshal(b, &s.Text)
	}
	return json.Unmarshal(b, &s.Blocks)
}
