// Package opsserver exposes the file, search, and command engines over the
// envelope protocol on four transports: unary HTTP, NDJSON, SSE, and
// WebSocket.
package opsserver

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opsrelay/opsrelay/internal/command"
	"github.com/opsrelay/opsrelay/internal/fileops"
	"github.com/opsrelay/opsrelay/internal/observability"
	"github.com/opsrelay/opsrelay/internal/protocol"
	"github.com/opsrelay/opsrelay/internal/search"
)

// Handler dispatches decoded request envelopes to the engines and wraps
// results back into envelopes. It is transport-agnostic; each transport
// supplies its own send function for streamed messages.
type Handler struct {
	files    *fileops.Engine
	search   *search.Engine
	commands *command.Engine
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewHandler wires the three engines behind one dispatcher.
func NewHandler(logger *slog.Logger, metrics *observability.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}
	return &Handler{
		files:    fileops.NewEngine(logger),
		search:   search.NewEngine(logger),
		commands: command.NewEngine(logger),
		logger:   logger,
		metrics:  metrics,
	}
}

// SetCommandTimeout replaces the default execute_command timeout.
func (h *Handler) SetCommandTimeout(d time.Duration) {
	h.commands.SetDefaultTimeout(d)
}

// Execute runs one non-streaming request and returns exactly one envelope:
// a success response or an error correlated to the request id.
func (h *Handler) Execute(ctx context.Context, req *protocol.Request, transport string) protocol.Message {
	start := time.Now()
	log := observability.ContextLogger(ctx, h.logger)
	log.Info("handling request", "operation", req.Operation, "stream", false, "transport", transport)

	result, err := h.dispatch(ctx, req)
	if err != nil {
		code := protocol.CodeOf(err)
		log.Warn("operation failed", "operation", req.Operation, "code", code, "error", err)
		h.metrics.RecordError("operations", string(code))
		h.metrics.RecordOperation(req.Operation, transport, "error", time.Since(start).Seconds())
		return protocol.NewErrorFrom(req.ID, err)
	}
	h.metrics.RecordOperation(req.Operation, transport, "success", time.Since(start).Seconds())
	return protocol.NewResponse(req.ID, result)
}

// ExecuteStream runs one streaming request, emitting chunk envelopes with
// 1-based sequence numbers through send and terminating with either the
// sentinel final chunk or an error envelope. Emission is synchronous; a slow
// transport pauses the producing engine.
func (h *Handler) ExecuteStream(ctx context.Context, req *protocol.Request, transport string, send func(protocol.Message) error) error {
	start := time.Now()
	log := observability.ContextLogger(ctx, h.logger)
	log.Info("handling request", "operation", req.Operation, "stream", true, "transport", transport)

	var seq int64
	emit := func(data any) error {
		seq++
		h.metrics.RecordStreamChunk(req.Operation, transport)
		return send(protocol.NewStreamChunk(req.ID, seq, data))
	}

	if err := h.dispatchStream(ctx, req, emit); err != nil {
		code := protocol.CodeOf(err)
		log.Warn("streaming operation failed", "operation", req.Operation, "code", code, "error", err)
		h.metrics.RecordError("operations", string(code))
		h.metrics.RecordOperation(req.Operation, transport, "error", time.Since(start).Seconds())
		return send(protocol.NewErrorFrom(req.ID, err))
	}

	seq++
	h.metrics.RecordOperation(req.Operation, transport, "success", time.Since(start).Seconds())
	return send(protocol.NewFinalChunk(req.ID, seq))
}

func (h *Handler) dispatch(ctx context.Context, req *protocol.Request) (any, error) {
	p := req.Parameters
	switch req.Operation {
	case "list_directory":
		path, err := p.StringDefault("path", ".")
		if err != nil {
			return nil, err
		}
		return h.files.ListDirectory(path)

	case "read_file":
		path, err := p.String("path")
		if err != nil {
			return nil, err
		}
		return h.files.ReadFile(path)

	case "create_file":
		path, err := p.String("path")
		if err != nil {
			return nil, err
		}
		content, err := p.StringDefault("content", "")
		if err != nil {
			return nil, err
		}
		return h.files.CreateFile(path, content)

	case "edit_file":
		path, err := p.String("path")
		if err != nil {
			return nil, err
		}
		content, err := p.String("content")
		if err != nil {
			return nil, err
		}
		return h.files.EditFile(path, content)

	case "append_file":
		path, err := p.String("path")
		if err != nil {
			return nil, err
		}
		content, err := p.String("content")
		if err != nil {
			return nil, err
		}
		return h.files.AppendFile(path, content)

	case "grep":
		pattern, path, recursive, caseSensitive, err := grepParams(p)
		if err != nil {
			return nil, err
		}
		return h.search.Grep(ctx, pattern, path, recursive, caseSensitive)

	case "execute_command":
		cmdStr, err := p.String("command")
		if err != nil {
			return nil, err
		}
		workingDir, err := p.StringDefault("working_directory", "")
		if err != nil {
			return nil, err
		}
		timeoutSeconds, err := p.Int("timeout_seconds", 0)
		if err != nil {
			return nil, err
		}
		return h.commands.Execute(ctx, cmdStr, workingDir, time.Duration(timeoutSeconds)*time.Second)

	default:
		return nil, protocol.E(protocol.UnknownOperation, "unknown operation: %s", req.Operation)
	}
}

func (h *Handler) dispatchStream(ctx context.Context, req *protocol.Request, emit func(any) error) error {
	p := req.Parameters
	switch req.Operation {
	case "list_directory":
		path, err := p.StringDefault("path", ".")
		if err != nil {
			return err
		}
		return h.files.StreamDirectory(ctx, path, func(fi fileops.FileInfo) error {
			return emit(fi)
		})

	case "read_file":
		path, err := p.String("path")
		if err != nil {
			return err
		}
		return h.files.StreamFile(ctx, path, func(window string) error {
			return emit(window)
		})

	case "grep":
		pattern, path, recursive, caseSensitive, err := grepParams(p)
		if err != nil {
			return err
		}
		return h.search.Stream(ctx, pattern, path, recursive, caseSensitive, func(m search.Match) error {
			return emit(m)
		})

	case "execute_command":
		cmdStr, err := p.String("command")
		if err != nil {
			return err
		}
		workingDir, err := p.StringDefault("working_directory", "")
		if err != nil {
			return err
		}
		includeStderr, err := p.Bool("include_stderr", true)
		if err != nil {
			return err
		}
		return h.commands.Stream(ctx, cmdStr, workingDir, includeStderr, func(line string) error {
			return emit(line)
		})

	default:
		return protocol.E(protocol.UnknownOperation, "unknown streaming operation: %s", req.Operation)
	}
}

func grepParams(p protocol.Params) (pattern, path string, recursive, caseSensitive bool, err error) {
	pattern, err = p.String("pattern")
	if err != nil {
		return
	}
	path, err = p.StringDefault("path", ".")
	if err != nil {
		return
	}
	recursive, err = p.Bool("recursive", false)
	if err != nil {
		return
	}
	caseSensitive, err = p.Bool("case_sensitive", true)
	return
}
