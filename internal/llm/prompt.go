package llm

import (
	"encoding/json"
	"strings"

	"github.com/joseph-ayodele/medsummary/internal/entity"
)

// BuildSystemPrompt constrains the model to the analysis schema and the conservatism rules.
func BuildSystemPrompt() string {
	parts := []string{
		"You are a clinical document summarizer. Return ONLY a single JSON object that matches the JSON Schema below.",
		"Top-level keys: patient, medications, diagnoses, labs, impression, recommendations, confidence_overall, source_pages, timestamps, notes, patient_summary.",
		"Be conservative:",
		"- Never invent identifiers, names, dates or record numbers. If a value is not in the document, use null.",
		"- When a value is ambiguous, set it to null and add a short explanation to notes.",
		"- Mark a recommendation urgency as \"urgent\" only when the document uses explicit danger language (e.g. critical value, emergency, immediately). Otherwise use \"non-urgent\".",
		"- Dates must be ISO-8601 (YYYY-MM-DD). Lab values must be numbers. Confidences are numbers between 0 and 1.",
		"- patient_summary is plain language for the patient and must end with: \"" + Disclaimer + "\"",
		"- The baseline JSON was produced by simple pattern matching. Use it as grounding, correct it when the text disagrees, and keep items it found unless they are clearly wrong.",
		"JSON Schema:",
		string(mustJSON(AnalysisSchema())),
	}
	return strings.Join(parts, "\n")
}

// BuildUserPrompt embeds the full document text and the baseline extraction.
func BuildUserPrompt(text string, baseline entity.BaselineRecord) string {
	var b strings.Builder
	b.WriteString("Document text:\n<<<\n")
	b.WriteString(text)
	b.WriteString("\n>>>\n\nBaseline extraction (JSON):\n")
	b.Write(mustJSON(baseline))
	b.WriteString("\n\nReturn ONLY JSON.")
	return b.String()
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
