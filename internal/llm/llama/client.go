// Package llama is the on-premises provider, talking to an Ollama-compatible
// /api/generate endpoint.
package llama

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joseph-ayodele/medsummary/internal/llm"
)

// ProviderName is the registry key for this provider.
const ProviderName = "llama"

type Config struct {
	BaseURL string // default http://localhost:11434
	Model   string // default "llama3"
	Timeout time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: logger.With("provider", ProviderName)}
}

func (c *Client) Name() string  { return ProviderName }
func (c *Client) Model() string { return c.cfg.Model }

// Analyze asks the local model for JSON. Local models often wrap the object in
// prose, so the first balanced object is recovered; when none decodes, the
// baseline is returned as a fallback result instead of an error.
func (c *Client) Analyze(ctx context.Context, req llm.Request) (llm.RawResult, error) {
	start := time.Now()
	body := map[string]any{
		"model":  c.cfg.Model,
		"system": llm.BuildSystemPrompt(),
		"prompt": llm.BuildUserPrompt(req.Text, req.Baseline),
		"format": "json",
		"stream": false,
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/api/generate"
	raw, err := llm.PostJSON(ctx, c.http, endpoint, body, nil, c.log)
	if err != nil {
		return llm.RawResult{}, fmt.Errorf("llama request: %w", err)
	}

	var gen struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(raw, &gen); err != nil {
		return llm.RawResult{}, fmt.Errorf("decode llama response: %w", err)
	}

	fields, err := llm.RecoverObject(gen.Response)
	if err != nil {
		c.log.Warn("llm.llama.fallback", "error", err, "response_len", len(gen.Response))
		return llm.Fallback(ProviderName, c.cfg.Model, req.Baseline, ""), nil
	}
	c.log.Info("llm.llama.ok", "fields", len(fields), "elapsed_ms", time.Since(start).Milliseconds())
	return llm.RawResult{Provider: ProviderName, Model: c.cfg.Model, Fields: fields}, nil
}
