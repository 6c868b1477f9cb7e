// Package toolclient turns model-requested tool calls into unary requests
// against the operations service and classifies the envelopes that come
// back.
package toolclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/opsrelay/opsrelay/internal/observability"
	"github.com/opsrelay/opsrelay/internal/protocol"
	"github.com/opsrelay/opsrelay/internal/retry"
	"github.com/opsrelay/opsrelay/pkg/models"
)

// Config holds tool client settings.
type Config struct {
	// BaseURL is the operations service root, e.g. http://localhost:8080.
	BaseURL string

	// Timeout bounds each attempt (default 30s).
	Timeout time.Duration

	// MaxRetries is the number of additional attempts after the first
	// failure (default 3). Retries apply to transport failures only.
	MaxRetries int

	// RetryDelay is the fixed delay between attempts (default 1s).
	RetryDelay time.Duration

	// HomeDir overrides the home directory used for path alias
	// translation. Defaults to the process owner's home.
	HomeDir string
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.HomeDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.HomeDir = home
		}
	}
}

// Client executes tool calls against the operations service.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient builds a tool client. metrics may be nil.
func NewClient(cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logger,
		metrics:    metrics,
	}
}

// HomeDir returns the home directory used for path alias translation.
func (c *Client) HomeDir() string { return c.cfg.HomeDir }

// ExecuteToolCall runs one tool call as a unary operation request. It never
// returns an error: every failure mode degrades to an unsuccessful
// ToolCallResult so one bad call can't abort a whole turn.
func (c *Client) ExecuteToolCall(ctx context.Context, call models.ToolCall) models.ToolCallResult {
	c.logger.Info("executing tool call", "tool", call.Name, "parameters", call.Parameters)
	start := time.Now()

	params := TranslateParameters(call.Parameters, c.cfg.HomeDir)
	req := protocol.NewRequest(call.Name, params, false)

	policy := retry.Linear(c.cfg.MaxRetries+1, c.cfg.RetryDelay)
	envelope, res := retry.DoWithValue(ctx, policy, func() (map[string]any, error) {
		return c.postRequest(ctx, req)
	})
	if res.Err != nil {
		c.logger.Error("tool call failed", "tool", call.Name, "attempts", res.Attempts, "error", res.Err)
		c.recordToolCall(call.Name, "error", start)
		return models.ToolCallResult{
			ID:       call.ID,
			ToolName: call.Name,
			Error:    "Tool call failed due to service error",
		}
	}

	result := c.classify(call, envelope)
	status := "error"
	if result.Success {
		status = "success"
	}
	c.recordToolCall(call.Name, status, start)
	c.logger.Info("tool call completed", "tool", call.Name, "success", result.Success)
	return result
}

// Operations fetches the downstream operation catalog.
func (c *Client) Operations(ctx context.Context) (map[string]any, error) {
	var catalog map[string]any
	err := c.getJSON(ctx, "/api/mcp/operations", c.cfg.Timeout, &catalog)
	return catalog, err
}

// Healthy probes the operations service health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	var payload map[string]any
	if err := c.getJSON(ctx, "/api/mcp/health", 10*time.Second, &payload); err != nil {
		c.logger.Warn("operations service health check failed", "error", err)
		return false
	}
	status, _ := payload["status"].(string)
	return status == "UP" || status == "healthy"
}

// classify maps one response envelope to a tool result: a response with
// status success carries the result; everything else is a failure.
func (c *Client) classify(call models.ToolCall, envelope map[string]any) models.ToolCallResult {
	failure := func(msg string) models.ToolCallResult {
		return models.ToolCallResult{ID: call.ID, ToolName: call.Name, Error: msg}
	}

	switch envelope["type"] {
	case string(protocol.TypeResponse):
		if envelope["status"] == protocol.StatusSuccess {
			return models.ToolCallResult{
				ID:       call.ID,
				ToolName: call.Name,
				Success:  true,
				Result:   envelope["result"],
			}
		}
		if msg, ok := envelope["error_message"].(string); ok && msg != "" {
			return failure(msg)
		}
		return failure("MCP operation failed")

	case string(protocol.TypeError):
		if msg, ok := envelope["error_message"].(string); ok && msg != "" {
			return failure(msg)
		}
		return failure("MCP error occurred")

	default:
		c.logger.Warn("unexpected response format", "tool", call.Name, "envelope", envelope)
		return failure("Unexpected response format from MCP service")
	}
}

func (c *Client) postRequest(ctx context.Context, req *protocol.Request) (map[string]any, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("encode request: %w", err))
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/mcp/request", bytes.NewReader(payload))
	if err != nil {
		return nil, retry.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("operations service returned %d: %s", resp.StatusCode, snippet)
	}

	var envelope map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return envelope, nil
}

func (c *Client) getJSON(ctx context.Context, path string, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("operations service returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) recordToolCall(tool, status string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordToolCall(tool, status, time.Since(start).Seconds())
	}
}
