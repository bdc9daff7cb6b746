// Package anthropic models the subset of the Anthropic Messages API wire
// format that the proxy needs to speak to Xcode: requests, the tagged-union
// content block model, and the Server-Sent Events emitted by the streaming
// transform.
package anthropic

import (
	"encoding/json"
	"fmt"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// BlockType identifies the kind of a ContentBlock.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one tagged-union element of a Message's content array.
// Exactly the fields relevant to its Type are populated.
type ContentBlock struct {
	Type BlockType

	// Text: populated for Type == text.
	Text string

	// ToolUse: populated for Type == tool_use.
	ToolUseID   string
	ToolUseName string
	ToolInput   json.RawMessage

	// ToolResult: populated for Type == tool_result.
	ToolResultUseID string
	ToolResult      any // string or []any, as received
	ToolResultError bool
}

// rawBlock mirrors the wire shape for (de)serialization.
type rawBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   any             `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// UnmarshalJSON decodes a single content block by its "type" tag.
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var raw rawBlock
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.Type = BlockType(raw.Type)
	switch b.Type {
	case BlockText:
		b.Text = raw.Text
	case BlockToolUse:
		b.ToolUseID = raw.ID
		b.ToolUseName = raw.Name
		b.ToolInput = raw.Input
	case BlockToolResult:
		b.ToolResultUseID = raw.ToolUseID
		b.ToolResult = raw.Content
		b.ToolResultError = raw.IsError
	}
	return nil
}

// MarshalJSON encodes a content block back to its wire shape.
func (b ContentBlock) MarshalJSON() ([]byte, error) {
	switch b.Type {
	case BlockText:
		return json.Marshal(rawBlock{Type: string(BlockText), Text: b.Text})
	case BlockToolUse:
		return json.Marshal(rawBlock{
			Type: string(BlockToolUse), ID: b.ToolUseID, Name: b.ToolUseName, Input: b.ToolInput,
		})
	case BlockToolResult:
		return json.Marshal(rawBlock{
			Type: string(BlockToolResult), ToolUseID: b.ToolResultUseID,
			Content: b.ToolResult, IsError: b.ToolResultError,
		})
	default:
		return nil, fmt.Errorf("anthropic: unknown content block type %q", b.Type)
	}
}

// ToolResultText returns the tool_result content as a flat string, the way
// most tool results are delivered. It handles both the plain-string and the
// content-block-array shapes Xcode may send.
func (b ContentBlock) ToolResultText() string {
	switch v := b.ToolResult.(type) {
	case string:
		return v
	case []any:
		out := ""
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if t, _ := m["text"].(string); t != "" {
				out += t
			}
		}
		return out
	default:
		return ""
	}
}

// Content is a Message's content: either a plain string or an ordered list
// of ContentBlock. This is the tagged variant called for in the design
// notes ("Dynamic union content (string | blocks[])").
type Content struct {
	IsString bool
	Str      string
	Blocks   []ContentBlock
}

// UnmarshalJSON decodes either a JSON string or a JSON array of blocks.
func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.IsString = true
		c.Str = s
		c.Blocks = nil
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return fmt.Errorf("anthropic: content is neither a string nor a block array: %w", err)
	}
	c.IsString = false
	c.Blocks = blocks
	return nil
}

// MarshalJSON re-encodes the content in whichever shape it was decoded from.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsString {
		return json.Marshal(c.Str)
	}
	return json.Marshal(c.Blocks)
}

// Message is one turn in a Messages API request.
type Message struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// ToolResultBlocks returns the tool_result blocks in this message's content,
// in order. Returns nil if Content is a plain string.
func (m Message) ToolResultBlocks() []ContentBlock {
	if m.Content.IsString {
		return nil
	}
	var out []ContentBlock
	for _, b := range m.Content.Blocks {
		if b.Type == BlockToolResult {
			out = append(out, b)
		}
	}
	return out
}

// ToolInputSchema is the JSON-schema-shaped object describing a tool's
// accepted arguments.
type ToolInputSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties,omitempty"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes one property of a ToolInputSchema.
type SchemaProperty struct {
	Type string   `json:"type,omitempty"`
	Enum []string `json:"enum,omitempty"`
}

// ToolDefinition is the {name, description, input_schema} tool shape.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema ToolInputSchema `json:"input_schema"`
}

// MessagesRequest is the body of POST /v1/messages.
type MessagesRequest struct {
	Model     string           `json:"model"`
	MaxTokens int              `json:"max_tokens"`
	Messages  []Message        `json:"messages"`
	System    string           `json:"system,omitempty"`
	Tools     []ToolDefinition `json:"tools,omitempty"`
}

// ErrorBody is the {type, error:{type, message}} envelope for error responses.
type ErrorBody struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the nested error object of ErrorBody.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewInvalidRequestError builds the standard 400 error body.
func NewInvalidRequestError(message string) ErrorBody {
	return ErrorBody{
		Type:  "error",
		Error: ErrorDetail{Type: "invalid_request_error", Message: message},
	}
}

// ModelInfo is one entry of GET /v1/models.
type ModelInfo struct {
	ID                      string `json:"id"`
	DisplayName             string `json:"display_name,omitempty"`
	SupportsReasoningEffort bool   `json:"supports_reasoning_effort,omitempty"`
}
