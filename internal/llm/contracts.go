// Package llm sends extracted document text to a model provider and returns
// its raw structured analysis.
package llm

import (
	"context"

	"github.com/joseph-ayodele/medsummary/internal/entity"
)

// Provider is one model backend. Implementations are selected by name from the Client's table.
type Provider interface {
	Name() string
	Model() string
	Analyze(ctx context.Context, req Request) (RawResult, error)
}

// Request is the input shared by every provider.
type Request struct {
	Text     string
	Baseline entity.BaselineRecord
}

// RawResult is a provider's decoded JSON object, not yet reconciled.
type RawResult struct {
	Provider string
	Model    string
	Fields   map[string]any
	// Fallback is set when Fields was synthesised from the baseline because the model output was unusable.
	Fallback bool
}

// Clearance is the policy snapshot captured when analysis was submitted.
type Clearance struct {
	AllowExternal bool
	Consent       bool
}
