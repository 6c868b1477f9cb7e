package toolclient

import (
	"regexp"
	"strings"
)

var homePrefixRe = regexp.MustCompile(`^/home/[^/]*`)

// TranslateParameters returns a copy of params with any "path" value
// rewritten through TranslatePath. The input map is not modified.
func TranslateParameters(params map[string]any, homeDir string) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	translated := make(map[string]any, len(params))
	for k, v := range params {
		translated[k] = v
	}
	if raw, ok := translated["path"]; ok {
		if path, ok := raw.(string); ok {
			translated["path"] = TranslatePath(path, homeDir)
		}
	}
	return translated
}

// TranslatePath rewrites common home-directory aliases so models can use
// generic Linux-style paths regardless of where the service actually runs:
// a bare /home (or /home/) becomes the home directory, /home/<name>/... has
// its first two segments replaced by it, and a leading ~ is expanded.
func TranslatePath(path, homeDir string) string {
	if path == "" {
		return "."
	}
	if path == "/home" || path == "/home/" {
		return homeDir
	}
	if strings.HasPrefix(path, "/home/") {
		return homePrefixRe.ReplaceAllString(path, homeDir)
	}
	return ExpandTilde(path, homeDir)
}

// ExpandTilde resolves a leading ~ or ~/ against homeDir. Paths without a
// leading tilde pass through unchanged.
func ExpandTilde(path, homeDir string) string {
	if path == "~" || path == "~/" {
		return homeDir
	}
	if strings.HasPrefix(path, "~/") {
		return homeDir + "/" + strings.TrimPrefix(path, "~/")
	}
	return path
}
