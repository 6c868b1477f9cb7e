// Package chat implements the orchestrator's turn runner: one user message
// in, up to two model calls and a bounded tool fan-out, one assistant
// message out.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opsrelay/opsrelay/internal/conversation"
	"github.com/opsrelay/opsrelay/internal/model"
	"github.com/opsrelay/opsrelay/internal/observability"
	"github.com/opsrelay/opsrelay/pkg/models"
)

// Fixed fallback replies when the model yields no message.
const (
	apologyNoResponse  = "I apologize, but I couldn't generate a response."
	apologyToolResults = "I apologize, but I couldn't process the tool results properly."
)

// ModelClient is the inference endpoint surface the runner needs.
type ModelClient interface {
	Chat(ctx context.Context, messages []model.Message, tools []model.Tool, modelName string, temperature *float64, maxTokens *int) (*model.ChatResponse, error)
	Models(ctx context.Context) ([]string, error)
	Healthy(ctx context.Context) bool
}

// ToolClient is the operations-service surface the runner needs.
type ToolClient interface {
	ExecuteToolCall(ctx context.Context, call models.ToolCall) models.ToolCallResult
	Operations(ctx context.Context) (map[string]any, error)
	Healthy(ctx context.Context) bool
	HomeDir() string
}

// Config holds turn-runner settings.
type Config struct {
	// ToolsEnabled is the master switch; when false no catalog is ever
	// advertised regardless of per-request flags.
	ToolsEnabled bool

	// MaxCallsPerTurn bounds the tool fan-out of one turn (default 5).
	MaxCallsPerTurn int
}

// Runner executes chat turns.
type Runner struct {
	store   *conversation.Store
	model   ModelClient
	tools   ToolClient
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRunner wires a turn runner. metrics may be nil.
func NewRunner(store *conversation.Store, modelClient ModelClient, toolClient ToolClient, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxCallsPerTurn <= 0 {
		cfg.MaxCallsPerTurn = 5
	}
	return &Runner{
		store:   store,
		model:   modelClient,
		tools:   toolClient,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Store exposes the conversation store for the HTTP surface.
func (r *Runner) Store() *conversation.Store { return r.store }

// Config returns the runner settings.
func (r *Runner) Config() Config { return r.cfg }

// ProcessChat runs one turn. The user message is persisted before the
// first model call; the assistant message is persisted after the last.
func (r *Runner) ProcessChat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	start := time.Now()

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = conversation.NewID()
	}
	ctx = observability.AddConversationID(ctx, conversationID)
	log := observability.ContextLogger(ctx, r.logger)
	log.Info("processing chat request")

	// New conversations open with the system-context message so the model
	// knows the caller's real home directory.
	if !r.store.Exists(conversationID) {
		r.store.Append(conversationID, models.NewChatMessage(models.RoleSystem, systemContext(r.tools.HomeDir())))
	}
	r.store.Append(conversationID, models.NewChatMessage(models.RoleUser, req.Message))

	wireMessages := toWireMessages(r.store.History(conversationID))

	useTools := r.cfg.ToolsEnabled && req.ToolsEnabled()
	var catalog []model.Tool
	if useTools {
		catalog = model.ToolCatalog()
	}

	first, err := r.model.Chat(ctx, wireMessages, catalog, req.Model, req.Temperature, req.MaxTokens)
	if err != nil {
		r.recordError("model_call")
		return nil, fmt.Errorf("model call failed: %w", err)
	}

	var toolCalls []models.ToolCall
	if useTools {
		toolCalls = model.ParseToolCalls(log, first.Message)
	}

	var content string
	var results []models.ToolCallResult
	if len(toolCalls) == 0 {
		content = contentOrApology(first.Message, apologyNoResponse)
	} else {
		if len(toolCalls) > r.cfg.MaxCallsPerTurn {
			log.Warn("too many tool calls requested",
				"requested", len(toolCalls), "limit", r.cfg.MaxCallsPerTurn)
			toolCalls = toolCalls[:r.cfg.MaxCallsPerTurn]
		}
		log.Info("executing tool calls", "count", len(toolCalls))
		results = r.fanOut(ctx, toolCalls)

		second, err := r.model.Chat(ctx, append(wireMessages, model.ToolResultMessage(results)), nil, req.Model, req.Temperature, req.MaxTokens)
		if err != nil {
			r.recordError("model_call")
			return nil, fmt.Errorf("model call failed: %w", err)
		}
		content = contentOrApology(second.Message, apologyToolResults)
	}

	assistant := models.NewChatMessage(models.RoleAssistant, content)
	assistant.ConversationID = conversationID
	assistant.ToolCallResults = results
	r.store.Append(conversationID, assistant)

	elapsed := time.Since(start)
	log.Info("chat processing completed", "elapsed_ms", elapsed.Milliseconds(), "tool_calls", len(results))

	return &models.ChatResponse{
		Message:          assistant,
		ConversationID:   conversationID,
		ModelUsed:        first.Model,
		ToolCallsMade:    results,
		ProcessingTimeMs: elapsed.Milliseconds(),
		Timestamp:        time.Now().UTC(),
	}, nil
}

// fanOut executes tool calls in parallel and returns results in the
// original call order, failures included.
func (r *Runner) fanOut(ctx context.Context, calls []models.ToolCall) []models.ToolCallResult {
	results := make([]models.ToolCallResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call models.ToolCall) {
			defer wg.Done()
			results[i] = r.tools.ExecuteToolCall(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

// Health aggregates downstream health. The boolean is false when either
// dependency is down, which the HTTP surface maps to 503.
func (r *Runner) Health(ctx context.Context) (map[string]any, bool) {
	var modelHealthy, toolsHealthy bool
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		modelHealthy = r.model.Healthy(ctx)
	}()
	go func() {
		defer wg.Done()
		toolsHealthy = r.tools.Healthy(ctx)
	}()
	wg.Wait()

	healthy := modelHealthy && toolsHealthy
	status := "healthy"
	if !healthy {
		status = "degraded"
	}
	return map[string]any{
		"status": status,
		"services": map[string]any{
			"ollama": map[string]any{"healthy": modelHealthy},
			"mcp":    map[string]any{"healthy": toolsHealthy},
		},
		"tools_enabled": r.cfg.ToolsEnabled,
	}, healthy
}

// Capabilities reports installed models and the downstream operation
// catalog. Failures degrade to empty models and "unavailable" operations.
func (r *Runner) Capabilities(ctx context.Context) map[string]any {
	modelNames, err := r.model.Models(ctx)
	if err != nil {
		r.logger.Warn("failed to list models", "error", err)
		modelNames = []string{}
	}
	var operations any = "unavailable"
	if catalog, err := r.tools.Operations(ctx); err == nil {
		operations = catalog
	} else {
		r.logger.Warn("failed to fetch operations catalog", "error", err)
	}
	return map[string]any{
		"models":                  modelNames,
		"tools_enabled":           r.cfg.ToolsEnabled,
		"mcp_operations":          operations,
		"max_tool_calls_per_turn": r.cfg.MaxCallsPerTurn,
	}
}

func (r *Runner) recordError(code string) {
	if r.metrics != nil {
		r.metrics.RecordError("chat", code)
	}
}

func contentOrApology(msg *model.Message, apology string) string {
	if msg == nil {
		return apology
	}
	return msg.Content
}

func toWireMessages(history []*models.ChatMessage) []model.Message {
	out := make([]model.Message, 0, len(history))
	for _, m := range history {
		out = append(out, model.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// systemContext is the opening system message of every conversation. It
// pins the caller's real home directory and steers the model toward
// absolute paths.
func systemContext(homeDir string) string {
	return "You are an AI assistant with access to powerful tools for file operations and system commands. " +
		"Important system context: " +
		"- The current user's home directory is " + homeDir + " " +
		"- Use absolute paths when possible " +
		"- When users ask for 'my home directory' or 'home directory', use " + homeDir + " " +
		"- Common paths: /Applications for apps, /tmp for temp files, " + homeDir + " for user home " +
		"Always use the available tools to help users with file operations, system commands, and information gathering."
}
