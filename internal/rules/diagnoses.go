package rules

import (
	"regexp"
	"strings"

	"github.com/joseph-ayodele/medsummary/internal/entity"
)

var diagnosisRules = []rule[entity.Diagnosis]{
	{
		re: regexp.MustCompile(`(?i:\b(?:diagnos(?:is|es)|dx|impression|assessment))[ \t]*:[ \t]*([A-Z][^\n;]{2,120})`),
		apply: func(m []string) (entity.Diagnosis, bool) {
			text := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(m[1]), "."))
			if text == "" {
				return entity.Diagnosis{}, false
			}
			return entity.Diagnosis{Text: text, Confidence: DiagnosisConfidence}, true
		},
	},
}

func extractDiagnoses(text string) []entity.Diagnosis {
	seen := map[string]struct{}{}
	out := []entity.Diagnosis{}
	for _, d := range all(text, diagnosisRules) {
		key := strings.ToLower(d.Text)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}
	return out
}
