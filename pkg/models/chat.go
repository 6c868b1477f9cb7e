// Package models holds the chat data model shared by the orchestrator's
// HTTP surface, turn runner, and stores.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage is one message in a conversation.
type ChatMessage struct {
	ID              string           `json:"id"`
	Role            string           `json:"role"`
	Content         string           `json:"content"`
	Timestamp       time.Time        `json:"timestamp"`
	ConversationID  string           `json:"conversation_id,omitempty"`
	ToolCalls       []ToolCall       `json:"tool_calls,omitempty"`
	ToolCallResults []ToolCallResult `json:"tool_call_results,omitempty"`
}

// NewChatMessage builds a message with a fresh id and timestamp.
func NewChatMessage(role, content string) *ChatMessage {
	return &ChatMessage{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// Clone returns a deep copy so stored messages can't be mutated by callers.
func (m *ChatMessage) Clone() *ChatMessage {
	if m == nil {
		return nil
	}
	cp := *m
	if m.ToolCalls != nil {
		cp.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		copy(cp.ToolCalls, m.ToolCalls)
	}
	if m.ToolCallResults != nil {
		cp.ToolCallResults = make([]ToolCallResult, len(m.ToolCallResults))
		copy(cp.ToolCallResults, m.ToolCallResults)
	}
	return &cp
}

// ChatRequest is the body of POST /api/chat/message. Pointer fields
// distinguish "absent" from zero values.
type ChatRequest struct {
	Message        string   `json:"message"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Model          string   `json:"model,omitempty"`
	EnableTools    *bool    `json:"enable_tools,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	MaxTokens      *int     `json:"max_tokens,omitempty"`
}

// ToolsEnabled reports the request's tool switch, defaulting to true.
func (r *ChatRequest) ToolsEnabled() bool {
	return r.EnableTools == nil || *r.EnableTools
}

// ChatResponse is the body returned by POST /api/chat/message.
type ChatResponse struct {
	Message          *ChatMessage     `json:"message"`
	ConversationID   string           `json:"conversation_id"`
	ModelUsed        string           `json:"model_used"`
	ToolCallsMade    []ToolCallResult `json:"tool_calls_made,omitempty"`
	ProcessingTimeMs int64            `json:"processing_time_ms"`
	Timestamp        time.Time        `json:"timestamp"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

// ToolCallResult is the outcome of one tool call, success or failure.
type ToolCallResult struct {
	ID       string `json:"id"`
	ToolName string `json:"tool_name"`
	Success  bool   `json:"success"`
	Result   any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}
