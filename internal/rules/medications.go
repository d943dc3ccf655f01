package rules

import (
	"regexp"
	"strings"

	"github.com/joseph-ayodele/medsummary/internal/entity"
)

const (
	doseUnit = `[ \t]*((?i:mcg|mg|µg|meq|ml|units?|iu|g))\b`
	// medTail is the rest of the clause after the dose, up to a separator or line end.
	medTail = `([^\n,;]*)`
)

// Route vocabulary in precedence order.
var routes = []string{"oral", "iv", "im", "sc", "topical", "inhalation"}

var (
	reRoute     = regexp.MustCompile(`(?i)\b(oral|iv|im|sc|topical|inhalation)\b`)
	reFrequency = regexp.MustCompile(`(?i)\b(once daily|twice daily|three times daily|four times daily|every other day|every \d+ hours?|q\d+h|bid|tid|qid|qd|qhs|qam|qpm|prn|daily|nightly|weekly)\b`)
	reDuration  = regexp.MustCompile(`(?i)\b(?:for|x)[ \t]*(\d+[ \t]*(?:days?|weeks?|months?))\b`)
)

var medicationRules = []rule[entity.Medication]{
	// Labeled: "Rx: Amoxicillin 500 mg ...", "Medications: ..."
	{
		re:    regexp.MustCompile(`(?i:\b(?:rx|medications?|meds|prescribed|prescription))[ \t]*[:\-][ \t]*(([A-Za-z][A-Za-z\-]{2,})[ \t]+(\d+(?:\.\d+)?)` + doseUnit + medTail + `)`),
		apply: medicationFrom,
	},
	// Common generic-name endings.
	{
		re:    regexp.MustCompile(`\b(([A-Za-z]+(?i:cillin|mycin|azole|olol|pril|sartan|statin|prazole|oxetine|dipine|tidine|cycline|floxacin|formin|lukast|vir))[ \t]+(\d+(?:\.\d+)?)` + doseUnit + medTail + `)`),
		apply: medicationFrom,
	},
	// Bare capitalised name followed by a dose.
	{
		re:    regexp.MustCompile(`\b(([A-Z][a-z]{3,})[ \t]+(\d+(?:\.\d+)?)` + doseUnit + medTail + `)`),
		apply: medicationFrom,
	},
}

// medicationFrom expects groups: 1 span, 2 name, 3 amount, 4 unit, 5 tail.
func medicationFrom(m []string) (entity.Medication, bool) {
	span, name, amount, unit, tail := m[1], m[2], m[3], m[4], m[5]
	if name == "" || amount == "" {
		return entity.Medication{}, false
	}
	// "110 mg/dL" is a concentration, not a dose.
	if strings.HasPrefix(strings.TrimSpace(tail), "/") {
		return entity.Medication{}, false
	}
	med := entity.Medication{
		Name:       name,
		Dose:       amount + " " + strings.ToLower(unit),
		RawText:    strings.TrimSpace(m[0]),
		Confidence: MedicationConfidence,
	}
	if f := reFrequency.FindStringSubmatch(tail); f != nil {
		med.Frequency = f[1]
	}
	if d := reDuration.FindStringSubmatch(tail); d != nil {
		med.Duration = d[1]
	}
	med.Route = inferRoute(span)
	return med, true
}

// inferRoute returns the first vocabulary route present in span.
func inferRoute(span string) string {
	found := map[string]bool{}
	for _, r := range reRoute.FindAllString(span, -1) {
		found[strings.ToLower(r)] = true
	}
	for _, r := range routes {
		if found[r] {
			return r
		}
	}
	return ""
}

func extractMedications(text string) []entity.Medication {
	seen := map[string]struct{}{}
	out := []entity.Medication{}
	for _, med := range all(text, medicationRules) {
		key := strings.ToLower(med.Name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, med)
	}
	return out
}
