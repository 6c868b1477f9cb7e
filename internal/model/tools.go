package model

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// toolSpec pairs a function-calling tool with the JSON schema of its
// arguments. The same schema text is advertised to the model and compiled
// for validating the arguments it sends back.
type toolSpec struct {
	name        string
	description string
	schema      string
}

var toolSpecs = []toolSpec{
	{
		name:        "list_directory",
		description: "List files and directories in a given path",
		schema: `{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "The directory path to list"}
			},
			"required": ["path"]
		}`,
	},
	{
		name:        "read_file",
		description: "Read the contents of a file",
		schema: `{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "The file path to read"}
			},
			"required": ["path"]
		}`,
	},
	{
		name:        "create_file",
		description: "Create a new file with specified content",
		schema: `{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "The file path to create"},
				"content": {"type": "string", "description": "The content to write to the file"}
			},
			"required": ["path", "content"]
		}`,
	},
	{
		name:        "edit_file",
		description: "Edit an existing file by replacing its content",
		schema: `{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "The file path to edit"},
				"content": {"type": "string", "description": "The new content for the file"}
			},
			"required": ["path", "content"]
		}`,
	},
	{
		name:        "append_file",
		description: "Append content to an existing file",
		schema: `{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "The file path to append to"},
				"content": {"type": "string", "description": "The content to append"}
			},
			"required": ["path", "content"]
		}`,
	},
	{
		name:        "execute_command",
		description: "Execute a system command",
		schema: `{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "The command to execute"},
				"working_directory": {"type": "string", "description": "The working directory (optional, defaults to current directory)"}
			},
			"required": ["command"]
		}`,
	},
	{
		name:        "grep",
		description: "Search for patterns in files or directories",
		schema: `{
			"type": "object",
			"properties": {
				"pattern": {"type": "string", "description": "The search pattern (regex)"},
				"path": {"type": "string", "description": "The file or directory path to search in"},
				"recursive": {"type": "boolean", "description": "Whether to search recursively"}
			},
			"required": ["pattern", "path"]
		}`,
	},
}

// ToolCatalog returns the fixed function-calling catalog advertised on the
// first model call of a turn. The catalog is independent of the downstream
// service's discovery endpoint; drift surfaces as tool-execution errors.
func ToolCatalog() []Tool {
	tools := make([]Tool, 0, len(toolSpecs))
	for _, spec := range toolSpecs {
		var params map[string]any
		if err := json.Unmarshal([]byte(spec.schema), &params); err != nil {
			panic(fmt.Sprintf("invalid tool schema for %s: %v", spec.name, err))
		}
		tools = append(tools, Tool{
			Type: "function",
			Function: Function{
				Name:        spec.name,
				Description: spec.description,
				Parameters:  params,
			},
		})
	}
	return tools
}

type toolSchemaRegistry struct {
	once    sync.Once
	initErr error
	schemas map[string]*jsonschema.Schema
}

var toolSchemas toolSchemaRegistry

func initToolSchemas() error {
	toolSchemas.once.Do(func() {
		toolSchemas.schemas = make(map[string]*jsonschema.Schema, len(toolSpecs))
		for _, spec := range toolSpecs {
			compiled, err := jsonschema.CompileString("tool_"+spec.name, spec.schema)
			if err != nil {
				toolSchemas.initErr = err
				return
			}
			toolSchemas.schemas[spec.name] = compiled
		}
	})
	return toolSchemas.initErr
}

// ValidateToolArguments checks model-supplied arguments against the tool's
// schema. Unknown tool names fail.
func ValidateToolArguments(name string, args map[string]any) error {
	if err := initToolSchemas(); err != nil {
		return err
	}
	schema, ok := toolSchemas.schemas[name]
	if !ok {
		return fmt.Errorf("unknown tool: %s", name)
	}
	if args == nil {
		args = map[string]any{}
	}
	var payload any = args
	return schema.Validate(payload)
}
