// Package gemini is the external Google Gemini provider.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/joseph-ayodele/medsummary/internal/llm"
)

// ProviderName is the registry key for this provider.
const ProviderName = "gemini"

type Config struct {
	APIKey      string
	Model       string // default "gemini-1.5-flash"
	Temperature float32
}

type Client struct {
	client *genai.Client
	cfg    Config
	log    *slog.Logger
}

// NewClient dials the Gemini API. An empty key is rejected so an unconfigured
// provider never reaches the registry.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if logger == nil {
		logger = slog.Default()
	}
	gc, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{client: gc, cfg: cfg, log: logger.With("provider", ProviderName)}, nil
}

func (c *Client) Name() string  { return ProviderName }
func (c *Client) Model() string { return c.cfg.Model }

func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Analyze requests JSON output and validates it against the analysis schema.
func (c *Client) Analyze(ctx context.Context, req llm.Request) (llm.RawResult, error) {
	start := time.Now()
	model := c.client.GenerativeModel(c.cfg.Model)
	model.SetTemperature(c.cfg.Temperature)
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = genai.NewUserContent(genai.Text(llm.BuildSystemPrompt()))

	resp, err := model.GenerateContent(ctx, genai.Text(llm.BuildUserPrompt(req.Text, req.Baseline)))
	if err != nil {
		return llm.RawResult{}, fmt.Errorf("gemini generate: %w", err)
	}
	text, err := ResponseText(resp)
	if err != nil {
		return llm.RawResult{}, err
	}
	fields, err := llm.ValidateAnalysis([]byte(llm.CleanJSONBlock(text)))
	if err != nil {
		c.log.Error("llm.gemini.schema_validation_failed", "error", err, "content_len", len(text))
		return llm.RawResult{}, err
	}
	c.log.Info("llm.gemini.ok", "elapsed_ms", time.Since(start).Milliseconds())
	return llm.RawResult{Provider: ProviderName, Model: c.cfg.Model, Fields: fields}, nil
}

// ResponseText joins the text parts of the first candidate.
func ResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("no candidates in gemini response")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		return "", errors.New("no content in gemini response")
	}
	var parts []string
	for _, p := range cand.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			parts = append(parts, string(t))
		}
	}
	if len(parts) == 0 {
		return "", errors.New("no text parts in gemini response")
	}
	return strings.Join(parts, ""), nil
}
