// Package command implements shell command execution with a deny-list,
// timeouts, and line-oriented output streaming.
//
// Validation is a conservative heuristic, not a sandbox: it blocks the
// obvious destructive commands and privilege escalation but makes no
// attempt to contain a determined caller.
package command

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/opsrelay/opsrelay/internal/protocol"
)

// DefaultTimeout bounds non-streaming executions unless overridden per
// request.
const DefaultTimeout = 5 * time.Minute

// denyList holds command tokens that are refused outright when they appear
// as the first whitespace-separated token.
var denyList = []string{
	"rm", "rmdir", "del", "format", "fdisk", "mkfs", "dd", "shutdown", "reboot", "halt",
}

// Execution is the complete result of a non-streaming command run.
type Execution struct {
	Command         string `json:"command"`
	ExitCode        int    `json:"exit_code"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	Success         bool   `json:"success"`
}

// Engine spawns shell-interpreted child processes. Process handles live
// only for the duration of a request.
type Engine struct {
	logger  *slog.Logger
	timeout time.Duration
}

// NewEngine creates a command engine logging through logger.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger, timeout: DefaultTimeout}
}

// SetDefaultTimeout replaces the fallback timeout used when a request
// names none. Non-positive values are ignored.
func (e *Engine) SetDefaultTimeout(d time.Duration) {
	if d > 0 {
		e.timeout = d
	}
}

// Validate rejects commands whose first token is deny-listed or that
// contain privilege-escalation or device-write substrings. The substring
// checks are deliberately blunt and can false-positive on benign strings.
func Validate(command string) error {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return protocol.E(protocol.InvalidParameter, "command cannot be empty")
	}
	lower := strings.ToLower(trimmed)

	for _, tok := range denyList {
		if lower == tok || strings.HasPrefix(lower, tok+" ") {
			return protocol.E(protocol.ForbiddenCommand, "dangerous command not allowed: %s", tok)
		}
	}
	if strings.Contains(lower, "sudo") || strings.Contains(lower, "su ") {
		return protocol.E(protocol.ForbiddenCommand, "privilege escalation commands not allowed")
	}
	if strings.Contains(lower, ">/dev/") || strings.Contains(lower, ">/proc/") {
		return protocol.E(protocol.ForbiddenCommand, "writing to system devices not allowed")
	}
	return nil
}

// Execute runs command through the host shell, capturing both output
// streams in full. On timeout the child is killed and COMMAND_TIMEOUT is
// returned.
func (e *Engine) Execute(ctx context.Context, command, workingDir string, timeout time.Duration) (*Execution, error) {
	if err := Validate(command); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = e.timeout
	}
	e.logger.Info("executing command", "command", command, "timeout", timeout)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := shellCommand(runCtx, command, workingDir)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, protocol.E(protocol.CommandTimeout, "command timed out after %dms", timeout.Milliseconds())
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("error executing command: %w", err)
		}
	}

	return &Execution{
		Command:         command,
		ExitCode:        exitCode,
		Stdout:          strings.TrimSpace(stdout.String()),
		Stderr:          strings.TrimSpace(stderr.String()),
		ExecutionTimeMs: elapsed.Milliseconds(),
		Success:         exitCode == 0,
	}, nil
}

// Stream runs command and emits each stdout line prefixed "STDOUT: " and,
// when includeStderr is set, each stderr line prefixed "STDERR: ". The last
// emission is "EXIT_CODE: <n>". Emission is synchronous; a slow consumer
// pauses the pipe readers rather than dropping lines. Cancelling ctx kills
// the child.
func (e *Engine) Stream(ctx context.Context, command, workingDir string, includeStderr bool, emit func(string) error) error {
	if err := Validate(command); err != nil {
		return err
	}
	e.logger.Info("streaming command", "command", command, "include_stderr", includeStderr)

	cmd := shellCommand(ctx, command, workingDir)
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	// Unbuffered: readers block until the consumer takes each line.
	lines := make(chan string)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdoutPipe)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- "STDOUT: " + scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderrPipe)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if !includeStderr {
				continue
			}
			select {
			case lines <- "STDERR: " + scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(lines)
	}()

	var emitErr error
	for line := range lines {
		if emitErr != nil {
			continue // drain so the readers can finish
		}
		if err := emit(line); err != nil {
			emitErr = err
			_ = cmd.Process.Kill()
		}
	}

	waitErr := cmd.Wait()
	if emitErr != nil {
		return emitErr
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return protocol.E(protocol.StreamError, "command execution failed: %v", waitErr)
		}
	}
	return emit(fmt.Sprintf("EXIT_CODE: %d", exitCode))
}

// shellCommand builds the host-shell invocation for command.
func shellCommand(ctx context.Context, command, workingDir string) *exec.Cmd {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd.exe", "/c", command)
	} else {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", command)
	}
	if strings.TrimSpace(workingDir) != "" {
		cmd.Dir = workingDir
	}
	return cmd
}
