// Package fileops implements the file engine: directory enumeration, whole
// and chunked file reads, and create/edit/append writes.
//
// Preconditions are checked before any I/O and surface as typed protocol
// errors. Paths are cleaned (`.` and `..` removed) before access; symbolic
// links are resolved for listings only.
package fileops

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"unicode/utf8"

	"github.com/opsrelay/opsrelay/internal/protocol"
)

// StreamChunkSize is the window size, in runes, of streamed file reads.
const StreamChunkSize = 1024

// FileInfo describes one directory entry.
type FileInfo struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	Type         string `json:"type"`
	Size         int64  `json:"size"`
	LastModified string `json:"last_modified"`
	Permissions  string `json:"permissions"`
}

// DirectoryListing is the aggregate result of list_directory.
type DirectoryListing struct {
	Path       string     `json:"path"`
	Files      []FileInfo `json:"files"`
	TotalCount int        `json:"total_count"`
}

// FileContent is the result of a whole-file read. Size is the rune count of
// the decoded content, not the byte length.
type FileContent struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Size     int    `json:"size"`
	Encoding string `json:"encoding"`
}

// Modification reports the outcome of a write operation.
type Modification struct {
	Path         string `json:"path"`
	Operation    string `json:"operation"`
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	BytesWritten int64  `json:"bytes_written"`
}

// Engine performs filesystem operations. It holds no state between
// requests.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates a file engine logging through logger.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// ListDirectory enumerates the immediate children of path. Entry order is
// undefined; callers must not depend on it.
func (e *Engine) ListDirectory(path string) (*DirectoryListing, error) {
	dir := filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, protocol.E(protocol.PathNotFound, "directory does not exist: %s", path)
	}
	if !info.IsDir() {
		return nil, protocol.E(protocol.NotADirectory, "path is not a directory: %s", path)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list directory %s: %w", dir, err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		fi, err := e.describe(dir, entry)
		if err != nil {
			e.logger.Warn("skipping unreadable entry", "path", filepath.Join(dir, entry.Name()), "error", err)
			continue
		}
		files = append(files, fi)
	}

	return &DirectoryListing{Path: dir, Files: files, TotalCount: len(files)}, nil
}

// StreamDirectory emits one FileInfo per entry through emit. Emission is
// synchronous, so a slow consumer pauses the walk.
func (e *Engine) StreamDirectory(ctx context.Context, path string, emit func(FileInfo) error) error {
	listing, err := e.ListDirectory(path)
	if err != nil {
		return err
	}
	for _, fi := range listing.Files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(fi); err != nil {
			return err
		}
	}
	return nil
}

// ReadFile reads the whole file at path as UTF-8.
func (e *Engine) ReadFile(path string) (*FileContent, error) {
	file := filepath.Clean(path)
	if err := requireFile(file, path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}
	content := string(data)
	return &FileContent{
		Path:     file,
		Content:  content,
		Size:     utf8.RuneCountInString(content),
		Encoding: "UTF-8",
	}, nil
}

// StreamFile emits the file content as fixed windows of StreamChunkSize
// runes, in order. Empty files emit nothing.
func (e *Engine) StreamFile(ctx context.Context, path string, emit func(string) error) error {
	fc, err := e.ReadFile(path)
	if err != nil {
		return err
	}
	runes := []rune(fc.Content)
	for i := 0; i < len(runes); i += StreamChunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := i + StreamChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		if err := emit(string(runes[i:end])); err != nil {
			return err
		}
	}
	return nil
}

// CreateFile writes a new file, materializing missing parent directories.
// It fails with FILE_EXISTS when the target already exists.
func (e *Engine) CreateFile(path, content string) (*Modification, error) {
	file := filepath.Clean(path)
	if _, err := os.Stat(file); err == nil {
		return nil, protocol.E(protocol.FileExists, "file already exists: %s", path)
	}
	if parent := filepath.Dir(file); parent != "" {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, fmt.Errorf("create parent directories for %s: %w", path, err)
		}
	}
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("create file %s: %w", path, err)
	}
	return &Modification{
		Path:         file,
		Operation:    "create",
		Success:      true,
		Message:      "File created successfully",
		BytesWritten: int64(len(content)),
	}, nil
}

// EditFile overwrites an existing file.
func (e *Engine) EditFile(path, content string) (*Modification, error) {
	file := filepath.Clean(path)
	if err := requireFile(file, path); err != nil {
		return nil, err
	}
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("edit file %s: %w", path, err)
	}
	return &Modification{
		Path:         file,
		Operation:    "edit",
		Success:      true,
		Message:      "File edited successfully",
		BytesWritten: int64(len(content)),
	}, nil
}

// AppendFile appends content to an existing file.
func (e *Engine) AppendFile(path, content string) (*Modification, error) {
	file := filepath.Clean(path)
	if err := requireFile(file, path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(file, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s for append: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return nil, fmt.Errorf("append to %s: %w", path, err)
	}
	return &Modification{
		Path:         file,
		Operation:    "append",
		Success:      true,
		Message:      "Content appended successfully",
		BytesWritten: int64(len(content)),
	}, nil
}

func requireFile(cleaned, original string) error {
	info, err := os.Stat(cleaned)
	if err != nil {
		return protocol.E(protocol.PathNotFound, "file does not exist: %s", original)
	}
	if info.IsDir() {
		return protocol.E(protocol.NotAFile, "path is a directory, not a file: %s", original)
	}
	return nil
}

func (e *Engine) describe(dir string, entry fs.DirEntry) (FileInfo, error) {
	full := filepath.Join(dir, entry.Name())
	info, err := entry.Info()
	if err != nil {
		return FileInfo{}, err
	}
	kind := "file"
	if info.IsDir() {
		kind = "directory"
	}
	return FileInfo{
		Name:         entry.Name(),
		Path:         full,
		Type:         kind,
		Size:         info.Size(),
		LastModified: info.ModTime().UTC().Format("2006-01-02T15:04:05Z07:00"),
		Permissions:  permissionString(full, info),
	}, nil
}

// permissionString renders a POSIX nine-character permission triple where
// the platform supports it, falling back to a probed r/w/x triple.
func permissionString(path string, info fs.FileInfo) string {
	if runtime.GOOS != "windows" {
		// Mode().String() yields e.g. "drwxr-xr-x"; strip the type rune.
		s := info.Mode().Perm().String()
		if len(s) == 10 {
			return s[1:]
		}
		return s
	}
	r, w, x := "-", "-", "-"
	if f, err := os.Open(path); err == nil {
		r = "r"
		f.Close()
	}
	if info.Mode().Perm()&0o200 != 0 {
		w = "w"
	}
	if info.Mode().Perm()&0o100 != 0 {
		x = "x"
	}
	return r + w + x
}
