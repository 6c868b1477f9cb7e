// Package search implements regex search over files and directory trees
// with bounded recursion and a binary-content heuristic.
package search

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"

	"github.com/opsrelay/opsrelay/internal/protocol"
)

// MaxSearchDepth bounds recursive directory walks. Subtrees beyond this
// depth are skipped and logged, not treated as errors.
const MaxSearchDepth = 10

// binarySampleSize is how many leading bytes are sampled when deciding
// whether a file is binary.
const binarySampleSize = 512

// Match is one regex hit. Line numbers are 1-based; offsets are byte
// positions within the line.
type Match struct {
	File       string `json:"file"`
	LineNum    int    `json:"line_number"`
	Line       string `json:"line"`
	MatchStart int    `json:"match_start"`
	MatchEnd   int    `json:"match_end"`
	Matched    string `json:"matched_text"`
}

// Result is the aggregate outcome of a non-streaming grep.
type Result struct {
	Pattern       string  `json:"pattern"`
	Path          string  `json:"path"`
	Recursive     bool    `json:"recursive"`
	Matches       []Match `json:"matches"`
	TotalMatches  int     `json:"total_matches"`
	FilesSearched int     `json:"files_searched"`
}

// Engine performs regex searches. It is stateless and safe for concurrent
// use.
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates a search engine logging through logger.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Grep searches path for pattern and aggregates all matches.
func (e *Engine) Grep(ctx context.Context, pattern, path string, recursive, caseSensitive bool) (*Result, error) {
	var matches []Match
	var filesSearched int64
	err := e.run(ctx, pattern, path, recursive, caseSensitive, &filesSearched, func(m Match) error {
		matches = append(matches, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if matches == nil {
		matches = []Match{}
	}
	return &Result{
		Pattern:       pattern,
		Path:          path,
		Recursive:     recursive,
		Matches:       matches,
		TotalMatches:  len(matches),
		FilesSearched: int(filesSearched),
	}, nil
}

// Stream searches path for pattern, emitting one Match at a time. Emission
// is synchronous so slow consumers apply backpressure to the walk.
func (e *Engine) Stream(ctx context.Context, pattern, path string, recursive, caseSensitive bool, emit func(Match) error) error {
	var filesSearched int64
	return e.run(ctx, pattern, path, recursive, caseSensitive, &filesSearched, emit)
}

func (e *Engine) run(ctx context.Context, pattern, path string, recursive, caseSensitive bool, filesSearched *int64, emit func(Match) error) error {
	target := filepath.Clean(path)
	info, err := os.Stat(target)
	if err != nil {
		return protocol.E(protocol.PathNotFound, "path does not exist: %s", path)
	}

	re, err := compile(pattern, caseSensitive)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		atomic.AddInt64(filesSearched, 1)
		return e.searchFile(ctx, target, re, emit)
	}
	if recursive {
		return e.searchDirRecursive(ctx, target, re, filesSearched, 0, emit)
	}
	return e.searchDir(ctx, target, re, filesSearched, emit)
}

func compile(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	expr := pattern
	if !caseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, protocol.E(protocol.InvalidPattern, "invalid regex pattern: %s", pattern)
	}
	return re, nil
}

func (e *Engine) searchDir(ctx context.Context, dir string, re *regexp.Regexp, filesSearched *int64, emit func(Match) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		e.logger.Warn("error listing directory", "path", dir, "error", err)
		return nil
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !entry.Type().IsRegular() {
			continue
		}
		atomic.AddInt64(filesSearched, 1)
		if err := e.searchFile(ctx, filepath.Join(dir, entry.Name()), re, emit); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) searchDirRecursive(ctx context.Context, dir string, re *regexp.Regexp, filesSearched *int64, depth int, emit func(Match) error) error {
	if depth > MaxSearchDepth {
		e.logger.Warn("maximum search depth exceeded", "path", dir, "depth", depth)
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		e.logger.Warn("error listing directory", "path", dir, "error", err)
		return nil
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		full := filepath.Join(dir, entry.Name())
		switch {
		case entry.Type().IsRegular():
			atomic.AddInt64(filesSearched, 1)
			if err := e.searchFile(ctx, full, re, emit); err != nil {
				return err
			}
		case entry.IsDir():
			if err := e.searchDirRecursive(ctx, full, re, filesSearched, depth+1, emit); err != nil {
				return err
			}
		}
	}
	return nil
}

// searchFile scans one file line by line, emitting every non-overlapping
// match in line-then-column order. Binary files are skipped.
func (e *Engine) searchFile(ctx context.Context, path string, re *regexp.Regexp, emit func(Match) error) error {
	isText, err := looksLikeText(path)
	if err != nil {
		e.logger.Warn("error probing file", "path", path, "error", err)
		return nil
	}
	if !isText {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		e.logger.Warn("error reading file", "path", path, "error", err)
		return nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lineNum++
		line := scanner.Text()
		for _, loc := range re.FindAllStringIndex(line, -1) {
			m := Match{
				File:       path,
				LineNum:    lineNum,
				Line:       line,
				MatchStart: loc[0],
				MatchEnd:   loc[1],
				Matched:    line[loc[0]:loc[1]],
			}
			if err := emit(m); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		e.logger.Warn("error scanning file", "path", path, "error", err)
	}
	return nil
}

// looksLikeText samples the first 512 bytes and treats the file as binary
// when at least 1% of the sample is zero bytes. Empty files count as text.
func looksLikeText(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, binarySampleSize)
	n, err := f.Read(buf)
	if n == 0 {
		return true, nil
	}
	if err != nil && n <= 0 {
		return false, err
	}
	sample := buf[:n]
	zeros := 0
	for _, b := range sample {
		if b == 0 {
			zeros++
		}
	}
	return float64(zeros)/float64(len(sample)) < 0.01, nil
}
