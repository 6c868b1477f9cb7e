package model

import (
	"encoding/json"
	"testing"

	"github.com/opsrelay/opsrelay/pkg/models"
)

func TestToolCatalog(t *testing.T) {
	tools := ToolCatalog()
	if len(tools) != 7 {
		t.Fatalf("catalog has %d tools, want 7", len(tools))
	}
	names := map[string]bool{}
	for _, tool := range tools {
		if tool.Type != "function" {
			t.Fatalf("tool type = %q", tool.Type)
		}
		if tool.Function.Parameters["type"] != "object" {
			t.Fatalf("%s parameters = %v", tool.Function.Name, tool.Function.Parameters)
		}
		names[tool.Function.Name] = true
	}
	for _, want := range []string{
		"list_directory", "read_file", "create_file", "edit_file",
		"append_file", "execute_command", "grep",
	} {
		if !names[want] {
			t.Fatalf("catalog missing %s", want)
		}
	}
}

func TestValidateToolArguments(t *testing.T) {
	if err := ValidateToolArguments("read_file", map[string]any{"path": "/tmp/x"}); err != nil {
		t.Fatalf("valid arguments rejected: %v", err)
	}
	if err := ValidateToolArguments("read_file", map[string]any{}); err == nil {
		t.Fatal("missing required path must fail")
	}
	if err := ValidateToolArguments("create_file", map[string]any{"path": "/tmp/x", "content": float64(42)}); err == nil {
		t.Fatal("non-string content must fail")
	}
	if err := ValidateToolArguments("no_such_tool", nil); err == nil {
		t.Fatal("unknown tool must fail")
	}
}

func TestParseToolCallsObjectArguments(t *testing.T) {
	msg := &Message{
		Role: "assistant",
		ToolCalls: []ToolCallData{
			{Function: FunctionCall{Name: "read_file", Arguments: json.RawMessage(`{"path":"/tmp/x"}`)}},
		},
	}
	calls := ParseToolCalls(nil, msg)
	if len(calls) != 1 {
		t.Fatalf("got %d calls", len(calls))
	}
	if calls[0].Name != "read_file" || calls[0].Parameters["path"] != "/tmp/x" {
		t.Fatalf("call = %+v", calls[0])
	}
	if calls[0].ID == "" {
		t.Fatal("call id not minted")
	}
}

func TestParseToolCallsStringArguments(t *testing.T) {
	msg := &Message{
		ToolCalls: []ToolCallData{
			{Function: FunctionCall{Name: "grep", Arguments: json.RawMessage(`"{\"pattern\":\"x\",\"path\":\".\"}"`)}},
		},
	}
	calls := ParseToolCalls(nil, msg)
	if len(calls) != 1 {
		t.Fatalf("got %d calls", len(calls))
	}
	if calls[0].Parameters["pattern"] != "x" || calls[0].Parameters["path"] != "." {
		t.Fatalf("parameters = %v", calls[0].Parameters)
	}
}

func TestParseToolCallsSkipsUndecodable(t *testing.T) {
	msg := &Message{
		ToolCalls: []ToolCallData{
			{Function: FunctionCall{Name: "grep", Arguments: json.RawMessage(`"{not json"`)}},
			{Function: FunctionCall{Name: "read_file", Arguments: json.RawMessage(`{"path":"/x"}`)}},
		},
	}
	calls := ParseToolCalls(nil, msg)
	if len(calls) != 1 || calls[0].Name != "read_file" {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestParseToolCallsRejectsSchemaInvalid(t *testing.T) {
	msg := &Message{
		ToolCalls: []ToolCallData{
			// Tool name never advertised in the catalog.
			{Function: FunctionCall{Name: "delete_everything", Arguments: json.RawMessage(`{"path":"/"}`)}},
			// Missing required pattern.
			{Function: FunctionCall{Name: "grep", Arguments: json.RawMessage(`{"path":"/tmp"}`)}},
			// Wrong type for recursive.
			{Function: FunctionCall{Name: "grep", Arguments: json.RawMessage(`{"pattern":"x","path":"/tmp","recursive":"yes"}`)}},
			{Function: FunctionCall{Name: "grep", Arguments: json.RawMessage(`{"pattern":"x","path":"/tmp"}`)}},
		},
	}
	calls := ParseToolCalls(nil, msg)
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1: %+v", len(calls), calls)
	}
	if calls[0].Parameters["pattern"] != "x" {
		t.Fatalf("kept call = %+v", calls[0])
	}
}

func TestParseToolCallsDegenerateArguments(t *testing.T) {
	// Degenerate argument payloads decode to no arguments, which then fail
	// required-parameter validation for every catalog tool.
	msg := &Message{
		ToolCalls: []ToolCallData{
			{Function: FunctionCall{Name: "read_file", Arguments: json.RawMessage(`42`)}},
			{Function: FunctionCall{Name: "read_file", Arguments: nil}},
			{Function: FunctionCall{Name: "read_file", Arguments: json.RawMessage(`null`)}},
		},
	}
	if calls := ParseToolCalls(nil, msg); len(calls) != 0 {
		t.Fatalf("got %d calls, want 0: %+v", len(calls), calls)
	}
}

func TestParseToolCallsEmptyMessage(t *testing.T) {
	if calls := ParseToolCalls(nil, nil); calls != nil {
		t.Fatalf("nil message produced %v", calls)
	}
	if calls := ParseToolCalls(nil, &Message{Role: "assistant"}); calls != nil {
		t.Fatalf("no tool calls produced %v", calls)
	}
}

func TestToolResultMessage(t *testing.T) {
	results := []models.ToolCallResult{
		{ToolName: "read_file", Success: true, Result: "contents"},
		{ToolName: "grep", Success: false, Error: "PATH_NOT_FOUND"},
		{ToolName: "list_directory", Success: true, Result: nil},
	}
	msg := ToolResultMessage(results)
	if msg.Role != models.RoleTool {
		t.Fatalf("role = %q", msg.Role)
	}
	want := "Tool execution results:\n" +
		"- read_file: SUCCESS - contents\n" +
		"- grep: ERROR - PATH_NOT_FOUND\n" +
		"- list_directory: SUCCESS - \n"
	if msg.Content != want {
		t.Fatalf("content = %q", msg.Content)
	}
}
