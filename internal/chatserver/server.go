// Package chatserver is the HTTP surface of the chat orchestrator.
package chatserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opsrelay/opsrelay/internal/chat"
	"github.com/opsrelay/opsrelay/internal/observability"
	"github.com/opsrelay/opsrelay/pkg/models"
)

const maxRequestBytes = 1 << 20

// Server routes chat endpoints onto a turn runner.
type Server struct {
	runner  *chat.Runner
	logger  *slog.Logger
	metrics *observability.Metrics
	mux     *http.ServeMux
	httpSrv *http.Server
}

// NewServer builds the chat HTTP server. metrics may be nil.
func NewServer(runner *chat.Runner, logger *slog.Logger, metrics *observability.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		runner:  runner,
		logger:  logger,
		metrics: metrics,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/chat/message", s.instrument("/api/chat/message", s.handleMessage))
	s.mux.HandleFunc("/api/chat/conversation/", s.instrument("/api/chat/conversation", s.handleConversation))
	s.mux.HandleFunc("/api/chat/conversations", s.instrument("/api/chat/conversations", s.handleConversations))
	s.mux.HandleFunc("/api/chat/health", s.instrument("/api/chat/health", s.handleHealth))
	s.mux.HandleFunc("/api/chat/capabilities", s.instrument("/api/chat/capabilities", s.handleCapabilities))
	s.mux.HandleFunc("/api/chat/ping", s.instrument("/api/chat/ping", s.handlePing))
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
		s.logger.Info("chat service listening", "addr", addr)
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

// handleMessage serves POST /api/chat/message: one user message in, one
// assistant reply out.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "error reading request body: "+err.Error())
		return
	}
	var req models.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	resp, err := s.runner.ProcessChat(r.Context(), &req)
	if err != nil {
		s.logger.Error("chat turn failed", "error", err)
		writeError(w, http.StatusInternalServerError, "chat processing failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleConversation serves GET /api/chat/conversation/{id}/history and
// DELETE /api/chat/conversation/{id}.
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/chat/conversation/")

	switch r.Method {
	case http.MethodGet:
		id, ok := strings.CutSuffix(rest, "/history")
		if !ok || id == "" || strings.Contains(id, "/") {
			http.NotFound(w, r)
			return
		}
		if !s.runner.Store().Exists(id) {
			writeError(w, http.StatusNotFound, "conversation not found: "+id)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"conversation_id": id,
			"messages":        s.runner.Store().History(id),
			"message_count":   s.runner.Store().Count(id),
		})

	case http.MethodDelete:
		id := rest
		if id == "" || strings.Contains(id, "/") {
			http.NotFound(w, r)
			return
		}
		// Clearing an unknown conversation is a no-op, not an error.
		s.runner.Store().Clear(id)
		writeJSON(w, http.StatusOK, map[string]any{
			"message":         "Conversation cleared successfully",
			"conversation_id": id,
		})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ids := s.runner.Store().IDs()
	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": ids,
		"count":         len(ids),
	})
}

// handleHealth aggregates downstream health; a degraded orchestrator
// answers 503 so load balancers can rotate it out.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	payload, healthy := s.runner.Health(r.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, payload)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.runner.Capabilities(r.Context()))
}

// handlePing is a liveness probe that touches no downstream service.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Chat service is running",
		"timestamp": time.Now().UnixMilli(),
		"service":   "llama-chat-service",
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
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

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
