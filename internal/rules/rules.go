// Package rules is the deterministic baseline extractor. Every field is an
// ordered cascade of patterns: singular fields take the first rule that
// matches, list fields scan the whole text with each rule in order.
package rules

import (
	"regexp"

	"github.com/joseph-ayodele/medsummary/internal/entity"
)

// Fixed per-category confidences.
const (
	MedicationConfidence = 0.8
	LabConfidence        = 0.85
	DiagnosisConfidence  = 0.7
	OverallConfidence    = 0.75
)

// rule pairs a pattern with the function that turns a submatch into a value.
// apply returns false to reject a match and let the cascade continue.
type rule[T any] struct {
	re    *regexp.Regexp
	apply func(m []string) (T, bool)
}

// first returns the value of the first rule whose first match is accepted.
func first[T any](text string, rules []rule[T]) (T, bool) {
	for _, r := range rules {
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if v, ok := r.apply(m); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// all runs every rule over every match in order and keeps accepted values.
func all[T any](text string, rules []rule[T]) []T {
	var out []T
	for _, r := range rules {
		for _, m := range r.re.FindAllStringSubmatch(text, -1) {
			if v, ok := r.apply(m); ok {
				out = append(out, v)
			}
		}
	}
	return out
}

// Extract builds a BaselineRecord from text. It never fails; unmatched fields stay empty.
func Extract(text string) entity.BaselineRecord {
	rec := entity.NewBaselineRecord()
	if text == "" {
		return rec
	}
	rec.Patient = extractPatient(text)
	rec.Medications = extractMedications(text)
	rec.Labs = extractLabs(text)
	rec.Diagnoses = extractDiagnoses(text)
	rec.Vitals = extractVitals(text)
	return rec
}

func ptr[T any](v T) *T { return &v }
