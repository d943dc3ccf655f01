// Package openai is the external chat/completions provider.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joseph-ayodele/medsummary/internal/llm"
)

// ProviderName is the registry key for this provider.
const ProviderName = "openai"

func (c *Client) Name() string  { return ProviderName }
func (c *Client) Model() string { return c.cfg.Model }

// Analyze sends the document in JSON mode. Output that does not satisfy the
// analysis schema is an error; external providers get no prose fallback.
func (c *Client) Analyze(ctx context.Context, req llm.Request) (llm.RawResult, error) {
	start := time.Now()
	c.log.Info("llm.openai.start", "model", c.cfg.Model, "text_len", len(req.Text))

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildSystemPrompt()},
			{"role": "user", "content": llm.BuildUserPrompt(req.Text, req.Baseline)},
		},
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	raw, err := llm.PostJSON(ctx, c.http, endpoint, body, headers, c.log)
	if err != nil {
		return llm.RawResult{}, fmt.Errorf("openai request: %w", err)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return llm.RawResult{}, fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return llm.RawResult{}, fmt.Errorf("no choices in openai response")
	}

	content := llm.CleanJSONBlock(cc.Choices[0].Message.Content)
	fields, err := llm.ValidateAnalysis([]byte(content))
	if err != nil {
		c.log.Error("llm.openai.schema_validation_failed", "error", err, "content_len", len(content))
		return llm.RawResult{}, err
	}

	c.log.Info("llm.openai.ok", "elapsed_ms", time.Since(start).Milliseconds())
	return llm.RawResult{Provider: ProviderName, Model: c.cfg.Model, Fields: fields}, nil
}
