// Package model talks to an Ollama-compatible inference endpoint: chat
// completions with function calling at POST /api/chat and model discovery
// at GET /api/tags.
package model

import "encoding/json"

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Tools    []Tool    `json:"tools,omitempty"`
	Stream   bool      `json:"stream"`
	Options  Options   `json:"options"`
}

// Options are sampling parameters.
type Options struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

// Message is one chat-completion message on the wire.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []ToolCallData `json:"tool_calls,omitempty"`
}

// ToolCallData wraps one function call in a model response.
type ToolCallData struct {
	Function FunctionCall `json:"function"`
}

// FunctionCall names a function and its arguments. Arguments arrive either
// as a JSON object or as a JSON-encoded string; it is kept raw here and
// decoded leniently by ParseToolCalls.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Tool is one advertised function.
type Tool struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// Function describes a callable function with JSON-schema parameters.
type Function struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatResponse is the body returned by POST /api/chat.
type ChatResponse struct {
	Model     string   `json:"model"`
	CreatedAt string   `json:"created_at"`
	Message   *Message `json:"message"`
	Done      bool     `json:"done"`

	TotalDuration      int64 `json:"total_duration,omitempty"`
	LoadDuration       int64 `json:"load_duration,omitempty"`
	PromptEvalCount    int   `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64 `json:"prompt_eval_duration,omitempty"`
	EvalCount          int   `json:"eval_count,omitempty"`
	EvalDuration       int64 `json:"eval_duration,omitempty"`
}

// TagsResponse is the body returned by GET /api/tags.
type TagsResponse struct {
	Models []ModelInfo `json:"models"`
}

// ModelInfo is one installed model in the tags listing.
type ModelInfo struct {
	Name string `json:"name"`
}
