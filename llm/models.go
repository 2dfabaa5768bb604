// Package llm provides shared data models for LLM providers.
package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRole is returned when a message carries a role outside the
// recognised set. It signals corrupt persisted data or a provider contract
// violation and is never recovered from.
var ErrUnknownRole = errors.New("unknown message role")

// Role identifies who produced a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleTool carries a tool result. It lives in memory only.
	RoleTool Role = "tool"
)

// String returns the wire representation of the role.
func (r Role) String() string {
	return string(r)
}

// Persistable reports whether messages with this role are written to
// conversation storage.
func (r Role) Persistable() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Validate returns ErrUnknownRole if r is not one of the defined roles.
func (r Role) Validate() error {
	_, err := ParseRole(string(r))
	return err
}

// ParseRole parses a role name. Matching is exact: persisted roles are
// written lower-case and anything else is treated as corruption.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// ChatMessage represents a chat message with role and content.
type ChatMessage struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`         // Producing agent or tool, display only
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // For assistant messages with tool calls
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool result messages
}

// HasToolCalls reports whether the message requests tool invocations.
func (m ChatMessage) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// ToolCall represents a tool call from the LLM.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition defines a tool that the LLM can call.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema
}

// SystemMessage creates a system message.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{
		Role:    RoleSystem,
		Content: content,
	}
}

// UserMessage creates a user message.
func UserMessage(content string) ChatMessage {
	return ChatMessage{
		Role:    RoleUser,
		Content: content,
	}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) ChatMessage {
	return ChatMessage{
		Role:    RoleAssistant,
		Content: content,
	}
}

// ToolMessage creates a tool result message answering the given call.
func ToolMessage(callID, name, content string) ChatMessage {
	return ChatMessage{
		Role:       RoleTool,
		Content:    content,
		Name:       name,
		ToolCallID: callID,
	}
}

// LLMResponse represents a response from an LLM provider.
type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall // Tool calls requested by the LLM
	Usage     *TokenUsage
}

// Message converts the response into an assistant message.
func (r LLMResponse) Message() ChatMessage {
	return ChatMessage{
		Role:      RoleAssistant,
		Content:   r.Content,
		ToolCalls: r.ToolCalls,
	}
}

// TokenUsage contains token usage statistics.
type TokenUsage struct {
	PromptTokens     uint32
	CompletionTokens uint32
	TotalTokens      uint32
}

// Add accumulates other into u. A nil other is ignored.
func (u *TokenUsage) Add(other *TokenUsage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ResponseFormatType defines the type of response format.
type ResponseFormatType string

const (
	ResponseFormatText       ResponseFormatType = "text"
	ResponseFormatJSONObject ResponseFormatType = "json_object"
	ResponseFormatJSONSchema ResponseFormatType = "json_schema"
)

// ResponseFormat specifies how the LLM should format its response.
type ResponseFormat struct {
	Type       ResponseFormatType `json:"type"`
	JSONSchema *JSONSchemaFormat  `json:"json_schema,omitempty"`
}

// JSONSchemaFormat defines a JSON schema for structured outputs.
type JSONSchemaFormat struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema"`
	Strict      bool            `json:"strict"`
}

// NewTextFormat creates a text response format.
func NewTextFormat() *ResponseFormat {
	return &ResponseFormat{Type: ResponseFormatText}
}

// NewJSONObjectFormat creates a JSON object response format.
func NewJSONObjectFormat() *ResponseFormat {
	return &ResponseFormat{Type: ResponseFormatJSONObject}
}

// NewJSONSchemaFormat creates a JSON schema response format.
func NewJSONSchemaFormat(name string, schema json.RawMessage) *ResponseFormat {
	return &ResponseFormat{
		Type: ResponseFormatJSONSchema,
		JSONSchema: &JSONSchemaFormat{
			Name:   name,
			Schema: schema,
			Strict: true,
		},
	}
}

// schemaInstruction renders a schema format as a prompt suffix for providers
// without native structured output support.
func schemaInstruction(format *ResponseFormat) string {
	if format == nil || format.Type == ResponseFormatText {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nRespond with a single JSON object and nothing else.")
	if format.JSONSchema != nil && len(format.JSONSchema.Schema) > 0 {
		b.WriteString(" The object must match this JSON schema:\n")
		b.Write(format.JSONSchema.Schema)
	}
	return b.String()
}
