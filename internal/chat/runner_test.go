package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/opsrelay/opsrelay/internal/conversation"
	"github.com/opsrelay/opsrelay/internal/model"
	"github.com/opsrelay/opsrelay/pkg/models"
)

type fakeModel struct {
	mu        sync.Mutex
	calls     []modelCall
	responses []*model.ChatResponse
	err       error
	healthy   bool
	models    []string
	modelsErr error
}

type modelCall struct {
	messages []model.Message
	tools    []model.Tool
	name     string
}

func (f *fakeModel) Chat(_ context.Context, messages []model.Message, tools []model.Tool, name string, _ *float64, _ *int) (*model.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, modelCall{messages: messages, tools: tools, name: name})
	if f.err != nil {
		return nil, f.err
	}
	resp := f.responses[len(f.calls)-1]
	return resp, nil
}

func (f *fakeModel) Models(context.Context) ([]string, error) { return f.models, f.modelsErr }
func (f *fakeModel) Healthy(context.Context) bool             { return f.healthy }

type fakeTools struct {
	mu       sync.Mutex
	executed []models.ToolCall
	results  map[string]models.ToolCallResult
	healthy  bool
	catalog  map[string]any
	catErr   error
}

func (f *fakeTools) ExecuteToolCall(_ context.Context, call models.ToolCall) models.ToolCallResult {
	f.mu.Lock()
	f.executed = append(f.executed, call)
	f.mu.Unlock()
	if res, ok := f.results[call.Name]; ok {
		res.ID = call.ID
		return res
	}
	return models.ToolCallResult{ID: call.ID, ToolName: call.Name, Success: true, Result: "ok"}
}

func (f *fakeTools) Operations(context.Context) (map[string]any, error) { return f.catalog, f.catErr }
func (f *fakeTools) Healthy(context.Context) bool                       { return f.healthy }
func (f *fakeTools) HomeDir() string                                    { return "/Users/chris" }

func assistantReply(content string) *model.ChatResponse {
	return &model.ChatResponse{
		Model:   "llama3.2",
		Message: &model.Message{Role: "assistant", Content: content},
		Done:    true,
	}
}

func toolArgs(name string) json.RawMessage {
	switch name {
	case "grep":
		return json.RawMessage(`{"pattern":"x","path":"/tmp"}`)
	case "create_file", "edit_file", "append_file":
		return json.RawMessage(`{"path":"/tmp/x","content":"y"}`)
	case "execute_command":
		return json.RawMessage(`{"command":"echo hi"}`)
	default:
		return json.RawMessage(`{"path":"/tmp"}`)
	}
}

func toolCallReply(names ...string) *model.ChatResponse {
	msg := &model.Message{Role: "assistant"}
	for _, name := range names {
		msg.ToolCalls = append(msg.ToolCalls, model.ToolCallData{
			Function: model.FunctionCall{Name: name, Arguments: toolArgs(name)},
		})
	}
	return &model.ChatResponse{Model: "llama3.2", Message: msg, Done: true}
}

func newTestRunner(fm *fakeModel, ft *fakeTools, cfg Config) *Runner {
	return NewRunner(conversation.NewStore(nil, nil), fm, ft, cfg, nil, nil)
}

func TestProcessChatSimpleReply(t *testing.T) {
	fm := &fakeModel{responses: []*model.ChatResponse{assistantReply("hello there")}}
	ft := &fakeTools{}
	runner := newTestRunner(fm, ft, Config{ToolsEnabled: true})

	resp, err := runner.ProcessChat(context.Background(), &models.ChatRequest{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message.Content != "hello there" || resp.Message.Role != models.RoleAssistant {
		t.Fatalf("message = %+v", resp.Message)
	}
	if resp.ModelUsed != "llama3.2" {
		t.Fatalf("model used = %q", resp.ModelUsed)
	}
	if resp.ConversationID == "" {
		t.Fatal("conversation id not minted")
	}
	if len(resp.ToolCallsMade) != 0 {
		t.Fatalf("tool calls = %v", resp.ToolCallsMade)
	}

	// system + user + assistant persisted.
	history := runner.Store().History(resp.ConversationID)
	if len(history) != 3 {
		t.Fatalf("history length = %d", len(history))
	}
	if history[0].Role != models.RoleSystem || !strings.Contains(history[0].Content, "/Users/chris") {
		t.Fatalf("system message = %+v", history[0])
	}
	if history[1].Role != models.RoleUser || history[1].Content != "hi" {
		t.Fatalf("user message = %+v", history[1])
	}

	if len(fm.calls) != 1 {
		t.Fatalf("model calls = %d", len(fm.calls))
	}
	if len(fm.calls[0].tools) != 7 {
		t.Fatalf("tool catalog size = %d", len(fm.calls[0].tools))
	}
}

func TestProcessChatToolRoundTrip(t *testing.T) {
	fm := &fakeModel{responses: []*model.ChatResponse{
		toolCallReply("list_directory"),
		assistantReply("here are your files"),
	}}
	ft := &fakeTools{results: map[string]models.ToolCallResult{
		"list_directory": {ToolName: "list_directory", Success: true, Result: "a.txt b.txt"},
	}}
	runner := newTestRunner(fm, ft, Config{ToolsEnabled: true})

	resp, err := runner.ProcessChat(context.Background(), &models.ChatRequest{Message: "list my files"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message.Content != "here are your files" {
		t.Fatalf("content = %q", resp.Message.Content)
	}
	if len(resp.ToolCallsMade) != 1 || !resp.ToolCallsMade[0].Success {
		t.Fatalf("tool calls made = %+v", resp.ToolCallsMade)
	}
	if len(resp.Message.ToolCallResults) != 1 {
		t.Fatalf("assistant results = %+v", resp.Message.ToolCallResults)
	}

	if len(fm.calls) != 2 {
		t.Fatalf("model calls = %d", len(fm.calls))
	}
	// Second call carries the synthesized tool message and no tool catalog.
	if fm.calls[1].tools != nil {
		t.Fatal("second model call advertised tools")
	}
	second := fm.calls[1].messages
	last := second[len(second)-1]
	if last.Role != models.RoleTool || !strings.Contains(last.Content, "list_directory: SUCCESS - a.txt b.txt") {
		t.Fatalf("tool message = %+v", last)
	}
}

func TestProcessChatTruncatesToolCalls(t *testing.T) {
	fm := &fakeModel{responses: []*model.ChatResponse{
		toolCallReply("list_directory", "read_file", "grep", "execute_command"),
		assistantReply("done"),
	}}
	ft := &fakeTools{}
	runner := newTestRunner(fm, ft, Config{ToolsEnabled: true, MaxCallsPerTurn: 2})

	resp, err := runner.ProcessChat(context.Background(), &models.ChatRequest{Message: "go"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolCallsMade) != 2 {
		t.Fatalf("results = %d, want 2", len(resp.ToolCallsMade))
	}
	// Truncation keeps the leading calls in order.
	if resp.ToolCallsMade[0].ToolName != "list_directory" || resp.ToolCallsMade[1].ToolName != "read_file" {
		t.Fatalf("results = %+v", resp.ToolCallsMade)
	}
	if len(ft.executed) != 2 {
		t.Fatalf("executed = %d", len(ft.executed))
	}
}

func TestProcessChatFanOutPreservesOrder(t *testing.T) {
	fm := &fakeModel{responses: []*model.ChatResponse{
		toolCallReply("list_directory", "read_file", "grep", "create_file", "append_file"),
		assistantReply("done"),
	}}
	ft := &fakeTools{}
	runner := newTestRunner(fm, ft, Config{ToolsEnabled: true})

	resp, err := runner.ProcessChat(context.Background(), &models.ChatRequest{Message: "go"})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"list_directory", "read_file", "grep", "create_file", "append_file"}
	if len(resp.ToolCallsMade) != len(want) {
		t.Fatalf("results = %d", len(resp.ToolCallsMade))
	}
	for i, name := range want {
		if resp.ToolCallsMade[i].ToolName != name {
			t.Fatalf("result[%d] = %q, want %q", i, resp.ToolCallsMade[i].ToolName, name)
		}
	}
}

func TestProcessChatSkipsSchemaInvalidToolCalls(t *testing.T) {
	invalid := &model.ChatResponse{
		Model: "llama3.2",
		Message: &model.Message{
			Role: "assistant",
			ToolCalls: []model.ToolCallData{
				// Missing required pattern.
				{Function: model.FunctionCall{Name: "grep", Arguments: json.RawMessage(`{"path":"/tmp"}`)}},
				// Name not in the catalog.
				{Function: model.FunctionCall{Name: "drop_table", Arguments: json.RawMessage(`{"path":"/tmp"}`)}},
				{Function: model.FunctionCall{Name: "read_file", Arguments: json.RawMessage(`{"path":"/tmp/x"}`)}},
			},
		},
		Done: true,
	}
	fm := &fakeModel{responses: []*model.ChatResponse{invalid, assistantReply("done")}}
	ft := &fakeTools{}
	runner := newTestRunner(fm, ft, Config{ToolsEnabled: true})

	resp, err := runner.ProcessChat(context.Background(), &models.ChatRequest{Message: "go"})
	if err != nil {
		t.Fatal(err)
	}
	// Only the well-formed call reaches the tool client.
	if len(ft.executed) != 1 || ft.executed[0].Name != "read_file" {
		t.Fatalf("executed = %+v", ft.executed)
	}
	if len(resp.ToolCallsMade) != 1 || resp.ToolCallsMade[0].ToolName != "read_file" {
		t.Fatalf("results = %+v", resp.ToolCallsMade)
	}
}

func TestProcessChatToolsDisabledGlobally(t *testing.T) {
	fm := &fakeModel{responses: []*model.ChatResponse{toolCallReply("list_directory")}}
	ft := &fakeTools{}
	runner := newTestRunner(fm, ft, Config{ToolsEnabled: false})

	resp, err := runner.ProcessChat(context.Background(), &models.ChatRequest{Message: "list"})
	if err != nil {
		t.Fatal(err)
	}
	if fm.calls[0].tools != nil {
		t.Fatal("catalog advertised while tools disabled")
	}
	// Tool calls in the reply are ignored when tools are off.
	if len(ft.executed) != 0 {
		t.Fatalf("executed = %+v", ft.executed)
	}
	if len(resp.ToolCallsMade) != 0 {
		t.Fatalf("tool calls made = %+v", resp.ToolCallsMade)
	}
}

func TestProcessChatToolsDisabledPerRequest(t *testing.T) {
	fm := &fakeModel{responses: []*model.ChatResponse{assistantReply("ok")}}
	ft := &fakeTools{}
	runner := newTestRunner(fm, ft, Config{ToolsEnabled: true})

	off := false
	_, err := runner.ProcessChat(context.Background(), &models.ChatRequest{Message: "hi", EnableTools: &off})
	if err != nil {
		t.Fatal(err)
	}
	if fm.calls[0].tools != nil {
		t.Fatal("catalog advertised despite per-request opt-out")
	}
}

func TestProcessChatApologyWhenNoMessage(t *testing.T) {
	fm := &fakeModel{responses: []*model.ChatResponse{{Model: "llama3.2", Done: true}}}
	runner := newTestRunner(fm, &fakeTools{}, Config{ToolsEnabled: true})

	resp, err := runner.ProcessChat(context.Background(), &models.ChatRequest{Message: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message.Content != "I apologize, but I couldn't generate a response." {
		t.Fatalf("content = %q", resp.Message.Content)
	}
}

func TestProcessChatApologyAfterToolResults(t *testing.T) {
	fm := &fakeModel{responses: []*model.ChatResponse{
		toolCallReply("list_directory"),
		{Model: "llama3.2", Done: true},
	}}
	runner := newTestRunner(fm, &fakeTools{}, Config{ToolsEnabled: true})

	resp, err := runner.ProcessChat(context.Background(), &models.ChatRequest{Message: "list"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message.Content != "I apologize, but I couldn't process the tool results properly." {
		t.Fatalf("content = %q", resp.Message.Content)
	}
	if len(resp.ToolCallsMade) != 1 {
		t.Fatalf("tool calls made = %+v", resp.ToolCallsMade)
	}
}

func TestProcessChatModelFailure(t *testing.T) {
	fm := &fakeModel{err: errors.New("connection refused")}
	runner := newTestRunner(fm, &fakeTools{}, Config{ToolsEnabled: true})

	if _, err := runner.ProcessChat(context.Background(), &models.ChatRequest{Message: "hi"}); err == nil {
		t.Fatal("model failure not surfaced")
	}
}

func TestProcessChatReusesConversation(t *testing.T) {
	fm := &fakeModel{responses: []*model.ChatResponse{
		assistantReply("first"),
		assistantReply("second"),
	}}
	runner := newTestRunner(fm, &fakeTools{}, Config{ToolsEnabled: true})

	resp1, err := runner.ProcessChat(context.Background(), &models.ChatRequest{Message: "one"})
	if err != nil {
		t.Fatal(err)
	}
	resp2, err := runner.ProcessChat(context.Background(), &models.ChatRequest{Message: "two", ConversationID: resp1.ConversationID})
	if err != nil {
		t.Fatal(err)
	}
	if resp2.ConversationID != resp1.ConversationID {
		t.Fatal("conversation id changed")
	}
	// system + (user, assistant) x 2; the system message is not re-added.
	history := runner.Store().History(resp1.ConversationID)
	if len(history) != 5 {
		t.Fatalf("history length = %d", len(history))
	}
	if history[0].Role != models.RoleSystem || history[3].Content != "two" {
		t.Fatalf("history = %+v", history)
	}
	// The second model call sees the whole prior exchange.
	if got := len(fm.calls[1].messages); got != 4 {
		t.Fatalf("second call messages = %d", got)
	}
}

func TestHealth(t *testing.T) {
	runner := newTestRunner(&fakeModel{healthy: true}, &fakeTools{healthy: true}, Config{ToolsEnabled: true})
	payload, healthy := runner.Health(context.Background())
	if !healthy || payload["status"] != "healthy" {
		t.Fatalf("payload = %v healthy = %v", payload, healthy)
	}
	services := payload["services"].(map[string]any)
	if !services["ollama"].(map[string]any)["healthy"].(bool) {
		t.Fatalf("services = %v", services)
	}

	runner = newTestRunner(&fakeModel{healthy: true}, &fakeTools{healthy: false}, Config{ToolsEnabled: true})
	payload, healthy = runner.Health(context.Background())
	if healthy || payload["status"] != "degraded" {
		t.Fatalf("payload = %v healthy = %v", payload, healthy)
	}
}

func TestCapabilities(t *testing.T) {
	fm := &fakeModel{models: []string{"llama3.2", "qwen2.5"}}
	ft := &fakeTools{catalog: map[string]any{"read_file": map[string]any{}}}
	runner := newTestRunner(fm, ft, Config{ToolsEnabled: true, MaxCallsPerTurn: 5})

	caps := runner.Capabilities(context.Background())
	if got := caps["models"].([]string); len(got) != 2 {
		t.Fatalf("models = %v", got)
	}
	if caps["tools_enabled"] != true || caps["max_tool_calls_per_turn"] != 5 {
		t.Fatalf("caps = %v", caps)
	}
	if _, ok := caps["mcp_operations"].(map[string]any); !ok {
		t.Fatalf("mcp_operations = %v", caps["mcp_operations"])
	}
}

func TestCapabilitiesDegraded(t *testing.T) {
	fm := &fakeModel{modelsErr: errors.New("down")}
	ft := &fakeTools{catErr: errors.New("down")}
	runner := newTestRunner(fm, ft, Config{ToolsEnabled: true})

	caps := runner.Capabilities(context.Background())
	if got := caps["models"].([]string); len(got) != 0 {
		t.Fatalf("models = %v", got)
	}
	if caps["mcp_operations"] != "unavailable" {
		t.Fatalf("mcp_operations = %v", caps["mcp_operations"])
	}
}
