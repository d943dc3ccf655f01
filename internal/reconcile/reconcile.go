// Package reconcile merges model output with the rule baseline into the
// canonical analysis result. Merge is total: every field of the result is
// populated with a safe value whatever the inputs look like.
package reconcile

import (
	"strings"

	"github.com/joseph-ayodele/medsummary/constants"
	"github.com/joseph-ayodele/medsummary/internal/entity"
	"github.com/joseph-ayodele/medsummary/internal/llm"
	"github.com/joseph-ayodele/medsummary/internal/rules"
)

// DefaultSummary is used when the model produced no patient summary.
const DefaultSummary = "A plain-language summary could not be generated for this document."

// Merge resolves each field from raw, then baseline, then a neutral default.
func Merge(raw llm.RawResult, baseline entity.BaselineRecord) entity.AnalysisResult {
	f := raw.Fields
	if f == nil {
		f = map[string]any{}
	}

	out := entity.AnalysisResult{
		Patient:           mergePatient(f["patient"], baseline.Patient),
		Medications:       mergeMedications(f["medications"], baseline.Medications),
		Diagnoses:         mergeDiagnoses(f["diagnoses"], baseline.Diagnoses),
		Labs:              mergeLabs(f["labs"], baseline.Labs),
		Vitals:            mergeVitals(f["vitals"], baseline.Vitals),
		Recommendations:   recommendations(f["recommendations"]),
		ConfidenceOverall: confidence(f["confidence_overall"], rules.OverallConfidence),
		SourcePages:       sourcePages(f["source_pages"]),
		Timestamps:        asStrings(f["timestamps"]),
		Notes:             asStrings(f["notes"]),
		PatientSummary:    summary(f["patient_summary"]),
		LLMProvider:       raw.Provider,
		LLMModel:          raw.Model,
	}
	out.Impression, _ = asString(f["impression"])
	return out
}

func summary(v any) string {
	s, ok := asString(v)
	if !ok {
		s = DefaultSummary
	}
	if strings.HasSuffix(s, llm.Disclaimer) {
		return s
	}
	return s + " " + llm.Disclaimer
}

func mergePatient(v any, base entity.Patient) entity.Patient {
	out := entity.Patient{
		Name: clone(base.Name),
		DOB:  clone(base.DOB),
		Sex:  clone(base.Sex),
		ID:   clone(base.ID),
	}
	m, ok := asObject(v)
	if !ok {
		return out
	}
	if s := asOptString(m["name"]); s != nil {
		out.Name = s
	}
	if s := asOptString(m["dob"]); s != nil {
		out.DOB = s
	}
	if s := normalizeSex(m["sex"]); s != nil {
		out.Sex = s
	}
	if s := asOptString(m["id"]); s != nil {
		out.ID = s
	}
	return out
}

func normalizeSex(v any) *string {
	s, ok := asString(v)
	if !ok {
		return nil
	}
	var letter string
	switch strings.ToUpper(s[:1]) {
	case "M":
		letter = "M"
	case "F":
		letter = "F"
	default:
		return nil
	}
	return &letter
}

func mergeMedications(v any, base []entity.Medication) []entity.Medication {
	if items, ok := asItems(v); ok {
		out := make([]entity.Medication, 0, len(items))
		for _, it := range items {
			m, ok := asObject(it)
			if !ok {
				continue
			}
			name, ok := asString(m["name"])
			if !ok {
				continue
			}
			med := entity.Medication{Name: name, Confidence: confidence(m["confidence"], rules.MedicationConfidence)}
			med.Dose, _ = asString(m["dose"])
			med.Frequency, _ = asString(m["frequency"])
			med.Route, _ = asString(m["route"])
			med.Duration, _ = asString(m["duration"])
			med.RawText, _ = asString(m["raw_text"])
			out = append(out, med)
		}
		if len(out) > 0 {
			return out
		}
	}
	out := make([]entity.Medication, len(base))
	for i, m := range base {
		m.Confidence = Clamp(m.Confidence)
		out[i] = m
	}
	return out
}

func mergeDiagnoses(v any, base []entity.Diagnosis) []entity.Diagnosis {
	if items, ok := asItems(v); ok {
		out := make([]entity.Diagnosis, 0, len(items))
		for _, it := range items {
			m, ok := asObject(it)
			if !ok {
				continue
			}
			text, ok := asString(m["text"])
			if !ok {
				continue
			}
			out = append(out, entity.Diagnosis{
				Text:       text,
				ICD10:      asOptString(m["icd10"]),
				Confidence: confidence(m["confidence"], rules.DiagnosisConfidence),
			})
		}
		if len(out) > 0 {
			return out
		}
	}
	out := make([]entity.Diagnosis, len(base))
	for i, d := range base {
		d.ICD10 = clone(d.ICD10)
		d.Confidence = Clamp(d.Confidence)
		out[i] = d
	}
	return out
}

func mergeLabs(v any, base []entity.Lab) []entity.Lab {
	if items, ok := asItems(v); ok {
		out := make([]entity.Lab, 0, len(items))
		for _, it := range items {
			m, ok := asObject(it)
			if !ok {
				continue
			}
			name, ok := asString(m["name"])
			if !ok {
				continue
			}
			value, ok := asNumber(m["value"])
			if !ok {
				continue
			}
			lab := entity.Lab{Name: name, Value: value, Confidence: confidence(m["confidence"], rules.LabConfidence)}
			lab.Units, _ = asString(m["units"])
			lab.RefRange, _ = asString(m["ref_range"])
			lab.Flag = labFlag(m["flag"], value, lab.RefRange)
			out = append(out, lab)
		}
		if len(out) > 0 {
			return out
		}
	}
	out := make([]entity.Lab, len(base))
	for i, l := range base {
		l.Confidence = Clamp(l.Confidence)
		out[i] = l
	}
	return out
}

// labFlag keeps a recognised model flag and otherwise derives it from the range.
func labFlag(v any, value float64, ref string) string {
	if s, ok := asString(v); ok {
		switch f := strings.ToLower(s); f {
		case constants.LabFlagLow, constants.LabFlagHigh, constants.LabFlagNormal:
			return f
		}
	}
	return rules.LabFlag(value, ref)
}

func mergeVitals(v any, base entity.Vitals) entity.Vitals {
	out := entity.Vitals{
		Temperature:      clone(base.Temperature),
		BloodPressure:    clone(base.BloodPressure),
		HeartRate:        clone(base.HeartRate),
		RespiratoryRate:  clone(base.RespiratoryRate),
		OxygenSaturation: clone(base.OxygenSaturation),
	}
	m, ok := asObject(v)
	if !ok {
		return out
	}
	if t, ok := temperature(m["temperature"]); ok {
		out.Temperature = &t
	}
	if bp, ok := bloodPressure(m["bloodPressure"]); ok {
		out.BloodPressure = &bp
	}
	if n, ok := asInt(m["heartRate"]); ok {
		out.HeartRate = &n
	}
	if n, ok := asInt(m["respiratoryRate"]); ok {
		out.RespiratoryRate = &n
	}
	if n, ok := asInt(m["oxygenSaturation"]); ok {
		out.OxygenSaturation = &n
	}
	return out
}

func temperature(v any) (entity.Temperature, bool) {
	if f, ok := asNumber(v); ok {
		return entity.Temperature{Value: f, Unit: rules.TemperatureUnit(f)}, true
	}
	m, ok := asObject(v)
	if !ok {
		return entity.Temperature{}, false
	}
	f, ok := asNumber(m["value"])
	if !ok {
		return entity.Temperature{}, false
	}
	unit, _ := asString(m["unit"])
	unit = strings.ToUpper(strings.TrimPrefix(unit, "°"))
	if unit != "C" && unit != "F" {
		unit = rules.TemperatureUnit(f)
	}
	return entity.Temperature{Value: f, Unit: unit}, true
}

func bloodPressure(v any) (entity.BloodPressure, bool) {
	m, ok := asObject(v)
	if !ok {
		return entity.BloodPressure{}, false
	}
	sys, ok1 := asInt(m["systolic"])
	dia, ok2 := asInt(m["diastolic"])
	if !ok1 || !ok2 {
		return entity.BloodPressure{}, false
	}
	return entity.BloodPressure{Systolic: sys, Diastolic: dia}, true
}

func recommendations(v any) []entity.Recommendation {
	items, _ := v.([]any)
	out := make([]entity.Recommendation, 0, len(items))
	for _, it := range items {
		var text, urgency string
		if s, ok := asString(it); ok {
			text = s
		} else if m, ok := asObject(it); ok {
			text, _ = asString(m["text"])
			urgency, _ = asString(m["urgency"])
		}
		if text == "" {
			continue
		}
		u := constants.UrgencyNonUrgent
		if strings.EqualFold(urgency, string(constants.UrgencyUrgent)) {
			u = constants.UrgencyUrgent
		}
		out = append(out, entity.Recommendation{Text: text, Urgency: u})
	}
	return out
}

func sourcePages(v any) []int {
	items, _ := v.([]any)
	out := make([]int, 0, len(items))
	for _, it := range items {
		if n, ok := asInt(it); ok && n > 0 {
			out = append(out, n)
		}
	}
	return out
}

func clone[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
