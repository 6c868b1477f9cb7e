package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/opsrelay/opsrelay/internal/observability"
)

// Config holds client settings and the sampling defaults applied when a
// chat request does not override them.
type Config struct {
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	Temperature  float64
	MaxTokens    int
}

// Client is an HTTP client for an Ollama-compatible endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient builds a model client. metrics may be nil.
func NewClient(cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logger,
		metrics:    metrics,
	}
}

// Chat sends one non-streaming completion request. modelName, temperature,
// and maxTokens fall back to the configured defaults when absent.
func (c *Client) Chat(ctx context.Context, messages []Message, tools []Tool, modelName string, temperature *float64, maxTokens *int) (*ChatResponse, error) {
	if modelName == "" {
		modelName = c.cfg.DefaultModel
	}
	opts := Options{Temperature: c.cfg.Temperature, NumPredict: c.cfg.MaxTokens}
	if temperature != nil {
		opts.Temperature = *temperature
	}
	if maxTokens != nil {
		opts.NumPredict = *maxTokens
	}

	c.logger.Info("generating chat response", "model", modelName, "messages", len(messages), "tools", len(tools))

	reqBody := ChatRequest{
		Model:    modelName,
		Messages: messages,
		Tools:    tools,
		Stream:   false,
		Options:  opts,
	}

	start := time.Now()
	var resp ChatResponse
	err := c.postJSON(ctx, "/api/chat", c.cfg.Timeout, reqBody, &resp)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordLLMRequest(modelName, "error", time.Since(start).Seconds())
		}
		c.logger.Error("failed to generate chat response", "model", modelName, "error", err)
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.RecordLLMRequest(modelName, "success", time.Since(start).Seconds())
	}
	return &resp, nil
}

// Models lists the installed model names from GET /api/tags.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	var tags TagsResponse
	if err := c.getJSON(ctx, "/api/tags", 10*time.Second, &tags); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Healthy reports whether the model endpoint answers the tags probe.
func (c *Client) Healthy(ctx context.Context) bool {
	_, err := c.Models(ctx)
	if err != nil {
		c.logger.Warn("model endpoint health check failed", "error", err)
		return false
	}
	return true
}

func (c *Client) postJSON(ctx context.Context, path string, timeout time.Duration, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("model endpoint returned %d: %s", resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
