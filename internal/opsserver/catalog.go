package opsserver

// OperationInfo documents one operation for the discovery endpoint.
type OperationInfo struct {
	Description string            `json:"description"`
	Parameters  map[string]string `json:"parameters"`
	Streaming   bool              `json:"supports_streaming"`
}

// Catalog returns the operation catalog served by GET /api/mcp/operations.
// The map is rebuilt per call so handlers can't mutate shared state.
func Catalog() map[string]OperationInfo {
	return map[string]OperationInfo{
		"list_directory": {
			Description: "Lists files and directories in a path",
			Parameters: map[string]string{
				"path": "string - directory path to list",
			},
			Streaming: true,
		},
		"read_file": {
			Description: "Reads content of a file",
			Parameters: map[string]string{
				"path": "string - file path to read",
			},
			Streaming: true,
		},
		"create_file": {
			Description: "Creates a new file with content",
			Parameters: map[string]string{
				"path":    "string - file path to create",
				"content": "string - file content",
			},
			Streaming: false,
		},
		"edit_file": {
			Description: "Edits (overwrites) a file with new content",
			Parameters: map[string]string{
				"path":    "string - file path to edit",
				"content": "string - new file content",
			},
			Streaming: false,
		},
		"append_file": {
			Description: "Appends content to an existing file",
			Parameters: map[string]string{
				"path":    "string - file path to append to",
				"content": "string - content to append",
			},
			Streaming: false,
		},
		"grep": {
			Description: "Searches for patterns in files",
			Parameters: map[string]string{
				"pattern":        "string - regex pattern to search for",
				"path":           "string - file or directory path to search",
				"recursive":      "boolean - search recursively (default: false)",
				"case_sensitive": "boolean - case sensitive search (default: true)",
			},
			Streaming: true,
		},
		"execute_command": {
			Description: "Executes a system command",
			Parameters: map[string]string{
				"command":           "string - command to execute",
				"working_directory": "string - working directory (optional)",
				"timeout_seconds":   "integer - timeout in seconds (optional)",
			},
			Streaming: true,
		},
	}
}
