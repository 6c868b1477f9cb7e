package opsserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opsrelay/opsrelay/internal/observability"
	"github.com/opsrelay/opsrelay/internal/protocol"
)

const (
	// ServiceName identifies this service in health responses.
	ServiceName = "MCP Streaming Service"

	// ServiceVersion is reported by the health and catalog endpoints.
	ServiceVersion = "1.0.0"

	maxRequestBytes = 10 << 20
)

// Server is the HTTP surface of the operations service.
type Server struct {
	handler *Handler
	logger  *slog.Logger
	metrics *observability.Metrics
	mux     *http.ServeMux
	httpSrv *http.Server
}

// NewServer builds the server around handler. All four transports plus the
// catalog, health, and metrics endpoints are registered on an internal mux.
func NewServer(handler *Handler, logger *slog.Logger, metrics *observability.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		handler: handler,
		logger:  logger,
		metrics: metrics,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/mcp/request", s.instrument("/api/mcp/request", s.handleUnary))
	s.mux.HandleFunc("/api/mcp/stream", s.instrument("/api/mcp/stream", s.handleNDJSON))
	s.mux.HandleFunc("/api/mcp/sse-stream", s.instrument("/api/mcp/sse-stream", s.handleSSE))
	s.mux.HandleFunc("/api/mcp/operations", s.instrument("/api/mcp/operations", s.handleOperations))
	s.mux.HandleFunc("/api/mcp/health", s.instrument("/api/mcp/health", s.handleHealth))
	s.mux.HandleFunc("/ws/mcp", s.handleWebSocket)
	s.mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns the routed http.Handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe starts serving on addr and blocks until ctx is cancelled or
// the listener fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("operations service listening", "addr", addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handleUnary serves POST /api/mcp/request: one envelope in, one envelope
// out. Streaming requests get the placeholder streaming response; clients
// must reconnect on a streaming transport for the actual chunks.
func (s *Server) handleUnary(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	ctx := observability.AddRequestID(r.Context(), req.ID)

	var msg protocol.Message
	if req.Stream {
		resp := protocol.NewStreamingResponse(req.ID, "Stream initiated")
		msg = resp
	} else {
		msg = s.handler.Execute(ctx, req, "unary")
	}
	writeEnvelope(w, msg)
}

// handleNDJSON serves POST /api/mcp/stream: one envelope per line,
// flushed as produced.
func (s *Server) handleNDJSON(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	ctx := observability.AddRequestID(r.Context(), req.ID)

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, canFlush := w.(http.Flusher)
	enc := json.NewEncoder(w)
	send := func(m protocol.Message) error {
		if err := enc.Encode(m); err != nil {
			return err
		}
		if canFlush {
			flusher.Flush()
		}
		return nil
	}

	var err error
	if req.Stream {
		err = s.handler.ExecuteStream(ctx, req, "ndjson", send)
	} else {
		err = send(s.handler.Execute(ctx, req, "ndjson"))
	}
	if err != nil {
		s.logger.Warn("ndjson stream aborted", "request_id", req.ID, "error", err)
	}
}

// handleSSE serves POST /api/mcp/sse-stream. Event names mirror envelope
// kinds: response, stream-chunk, stream-complete, error.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeRequest(w, r)
	if !ok {
		return
	}
	ctx := observability.AddRequestID(r.Context(), req.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, canFlush := w.(http.Flusher)

	send := func(m protocol.Message) error {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", m.MessageID(), sseEventName(m), data); err != nil {
			return err
		}
		if canFlush {
			flusher.Flush()
		}
		return nil
	}

	var err error
	if req.Stream {
		err = s.handler.ExecuteStream(ctx, req, "sse", send)
	} else {
		err = send(s.handler.Execute(ctx, req, "sse"))
	}
	if err != nil {
		s.logger.Warn("sse stream aborted", "request_id", req.ID, "error", err)
	}
}

func sseEventName(m protocol.Message) string {
	switch msg := m.(type) {
	case *protocol.Response:
		return "response"
	case *protocol.StreamChunk:
		if msg.IsFinal {
			return "stream-complete"
		}
		return "stream-chunk"
	case *protocol.ErrorMessage:
		return "error"
	default:
		return "message"
	}
}

// handleOperations serves the discovery catalog.
func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":    ServiceName,
		"version":    ServiceVersion,
		"operations": Catalog(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "UP",
		"service": ServiceName,
		"version": ServiceVersion,
	})
}

// decodeRequest parses the body of a POST transport endpoint. Malformed
// envelopes produce an in-band REQUEST_ERROR envelope with HTTP 200, keeping
// error reporting uniform across transports.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request) (*protocol.Request, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		writeEnvelope(w, protocol.NewError("", protocol.RequestError, "error reading request body: "+err.Error()))
		return nil, false
	}
	req, err := protocol.DecodeRequest(body)
	if err != nil {
		writeEnvelope(w, protocol.NewError("", protocol.RequestError, "error processing request: "+err.Error()))
		return nil, false
	}
	return req, true
}

func writeEnvelope(w http.ResponseWriter, m protocol.Message) {
	writeJSON(w, http.StatusOK, m)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// instrument records request count and latency per route.
func (s *Server) instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.RecordHTTPRequest(r.Method, path, strconv.Itoa(rec.status), time.Since(start).Seconds())
	}
}

// statusRecorder captures the response status for metrics while passing
// Flusher through for the streaming transports.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
