package llm

import (
	"encoding/json"

	"github.com/joseph-ayodele/medsummary/internal/entity"
)

const (
	// FallbackNote discloses that the model output could not be used.
	FallbackNote = "Model output could not be parsed as JSON; medications, labs and diagnoses are from rule-based extraction only."

	fallbackImpression = "Automated model analysis was unavailable for this document. Review the extracted findings against the source."
	fallbackSummary    = "We could not produce a detailed summary of this document automatically. The items listed were found by simple text matching and may be incomplete."
)

// Fallback builds a result from the baseline alone. reason is appended to the notes when non-empty.
func Fallback(provider, model string, baseline entity.BaselineRecord, reason string) RawResult {
	fields := map[string]any{}
	if b, err := json.Marshal(baseline); err == nil {
		_ = json.Unmarshal(b, &fields)
	}
	notes := []any{FallbackNote}
	if reason != "" {
		notes = append(notes, reason)
	}
	fields["impression"] = fallbackImpression
	fields["patient_summary"] = fallbackSummary + " " + Disclaimer
	fields["recommendations"] = []any{}
	fields["notes"] = notes
	return RawResult{Provider: provider, Model: model, Fields: fields, Fallback: true}
}
