package model

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/opsrelay/opsrelay/pkg/models"
)

// ParseToolCalls extracts the tool calls from a model message. Arguments
// arriving as a JSON object or a JSON-encoded object string are both
// accepted. Calls whose arguments cannot be decoded, or that fail schema
// validation against the advertised catalog, are logged and skipped rather
// than failing the turn.
func ParseToolCalls(logger *slog.Logger, msg *Message) []models.ToolCall {
	if logger == nil {
		logger = slog.Default()
	}
	if msg == nil || len(msg.ToolCalls) == 0 {
		return nil
	}

	calls := make([]models.ToolCall, 0, len(msg.ToolCalls))
	for _, data := range msg.ToolCalls {
		params, err := decodeArguments(data.Function.Arguments)
		if err != nil {
			logger.Error("failed to parse tool call", "tool", data.Function.Name, "error", err)
			continue
		}
		if err := ValidateToolArguments(data.Function.Name, params); err != nil {
			logger.Warn("rejecting tool call with invalid arguments",
				"tool", data.Function.Name, "error", err)
			continue
		}
		calls = append(calls, models.ToolCall{
			ID:         uuid.NewString(),
			Name:       data.Function.Name,
			Parameters: params,
		})
	}
	return calls
}

// decodeArguments accepts an object, a string containing JSON, or anything
// else (which degrades to no arguments).
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj == nil {
			obj = map[string]any{}
		}
		return obj, nil
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		if strings.TrimSpace(encoded) == "" {
			return map[string]any{}, nil
		}
		if err := json.Unmarshal([]byte(encoded), &obj); err != nil {
			return nil, fmt.Errorf("arguments string is not valid JSON: %w", err)
		}
		if obj == nil {
			obj = map[string]any{}
		}
		return obj, nil
	}

	return map[string]any{}, nil
}

// ToolResultMessage folds all tool outcomes of one turn into a single
// tool-role message for the second model call. One line per call:
// "- <name>: SUCCESS - <result>" or "- <name>: ERROR - <error>".
func ToolResultMessage(results []models.ToolCallResult) Message {
	var b strings.Builder
	b.WriteString("Tool execution results:\n")
	for _, res := range results {
		fmt.Fprintf(&b, "- %s: ", res.ToolName)
		if res.Success {
			b.WriteString("SUCCESS - ")
			if res.Result != nil {
				fmt.Fprintf(&b, "%v", res.Result)
			}
		} else {
			b.WriteString("ERROR - ")
			b.WriteString(res.Error)
		}
		b.WriteString("\n")
	}
	return Message{Role: models.RoleTool, Content: b.String()}
}
