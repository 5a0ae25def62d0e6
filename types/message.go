package types

import (
	"encoding/json"
	"strings"
)

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ToolCall represents a tool invocation request from the LLM.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message represents a conversation message.
// Messages are values: copy, never mutate one that is already part of a conversation.
type Message struct {
	Role       Role       `json:"role" yaml:"role"`
	Content    string     `json:"content,omitempty" yaml:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty" yaml:"-"`
	ToolCallID string     `json:"tool_call_id,omitempty" yaml:"-"`
}

// NewMessage creates a new message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// NewToolMessage creates a new tool result message.
func NewToolMessage(toolCallID, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: toolCallID,
	}
}

// WithToolCalls returns a copy of the message carrying calls.
func (m Message) WithToolCalls(calls []ToolCall) Message {
	m.ToolCalls = append([]ToolCall(nil), calls...)
	return m
}

// HasToolCalls reports whether the message requests at least one tool call.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	if m.ToolCalls != nil {
		calls := make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			calls[i] = tc
			if tc.Arguments != nil {
				calls[i].Arguments = append(json.RawMessage(nil), tc.Arguments...)
			}
		}
		m.ToolCalls = calls
	}
	return m
}

// Transcript renders the message as "[role]: content". Tool results carry
// their call id in the role label; each tool call is appended on its own line.
func (m Message) Transcript() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(m.Role))
	if m.Role == RoleTool && m.ToolCallID != "" {
		b.WriteString(":")
		b.WriteString(m.ToolCallID)
	}
	b.WriteString("]: ")
	b.WriteString(m.Content)
	for _, tc := range m.ToolCalls {
		b.WriteString("\n>[tool_call:")
		b.WriteString(tc.Name)
		b.WriteString(":")
		b.WriteString(tc.ID)
		b.WriteString("]: ")
		b.Write(tc.Arguments)
	}
	return b.String()
}
