package rules

import (
	"regexp"
	"strings"

	"github.com/joseph-ayodele/medsummary/internal/entity"
)

const dobLabel = `(?i:\bdob|\bd\.o\.b\.?|date[ \t]+of[ \t]+birth|birth[ \t]*date)[ \t]*[:#]?[ \t]*`

var nameRules = []rule[string]{
	{
		re:    regexp.MustCompile(`(?i:\bpatient(?:[ \t]+name)?)[ \t]*:[ \t]*([A-Z][A-Za-z'\-]+(?:[ \t]+[A-Z][A-Za-z'\-]+){0,3})`),
		apply: cleanName,
	},
	{
		re:    regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Miss|Dr)\.?[ \t]+([A-Z][a-z]+(?:[ \t]+[A-Z][a-z]+){0,2})`),
		apply: cleanName,
	},
}

// nameStopWords are labels that commonly follow a name on the same line.
var nameStopWords = map[string]struct{}{
	"DOB": {}, "MRN": {}, "ID": {}, "SEX": {}, "AGE": {}, "GENDER": {}, "DATE": {},
}

func cleanName(m []string) (string, bool) {
	words := strings.Fields(m[1])
	kept := words[:0]
	for _, w := range words {
		if _, stop := nameStopWords[strings.ToUpper(strings.TrimRight(w, ":"))]; stop {
			break
		}
		kept = append(kept, w)
	}
	if len(kept) == 0 {
		return "", false
	}
	return strings.Join(kept, " "), true
}

var dobRules = []rule[string]{
	{
		re:    regexp.MustCompile(dobLabel + `(\d{4})-(\d{1,2})-(\d{1,2})\b`),
		apply: func(m []string) (string, bool) { return isoDate(m[1], m[2], m[3]) },
	},
	{
		re:    regexp.MustCompile(dobLabel + `(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{4}|\d{2})\b`),
		apply: func(m []string) (string, bool) { return isoDate(m[3], m[1], m[2]) },
	},
	{
		re: regexp.MustCompile(dobLabel + `([A-Za-z]{3,9})\.?[ \t]+(\d{1,2}),?[ \t]+(\d{4})\b`),
		apply: func(m []string) (string, bool) {
			mon, ok := monthNumber(m[1])
			if !ok {
				return "", false
			}
			return isoDate(m[3], mon, m[2])
		},
	},
	{
		re: regexp.MustCompile(dobLabel + `(\d{1,2})[ \t]+([A-Za-z]{3,9})\.?,?[ \t]+(\d{4})\b`),
		apply: func(m []string) (string, bool) {
			mon, ok := monthNumber(m[2])
			if !ok {
				return "", false
			}
			return isoDate(m[3], mon, m[1])
		},
	},
}

var sexRules = []rule[string]{
	{
		re: regexp.MustCompile(`(?i:\b(?:sex|gender))[ \t]*[:#]?[ \t]*([A-Za-z]+)`),
		apply: func(m []string) (string, bool) {
			switch strings.ToUpper(m[1][:1]) {
			case "M":
				return "M", true
			case "F":
				return "F", true
			}
			return "", false
		},
	},
}

var idRules = []rule[string]{
	{
		re: regexp.MustCompile(`(?i:\b(?:mrn|medical[ \t]+record[ \t]+(?:number|no\.?|#)|patient[ \t]+id|id)\b)[ \t]*[:#]?[ \t]*([A-Za-z0-9\-]*\d[A-Za-z0-9\-]*)`),
		apply: func(m []string) (string, bool) {
			id := strings.Trim(m[1], "-")
			return id, len(id) >= 3
		},
	},
}

func extractPatient(text string) entity.Patient {
	var p entity.Patient
	if v, ok := first(text, nameRules); ok {
		p.Name = ptr(v)
	}
	if v, ok := first(text, dobRules); ok {
		p.DOB = ptr(v)
	}
	if v, ok := first(text, sexRules); ok {
		p.Sex = ptr(v)
	}
	if v, ok := first(text, idRules); ok {
		p.ID = ptr(v)
	}
	return p
}
