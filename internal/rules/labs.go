package rules

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/medsummary/constants"
	"github.com/joseph-ayodele/medsummary/internal/entity"
)

const (
	labUnits = `(?i:mg/dl|g/dl|mg/l|ng/ml|ng/dl|pg/ml|µg/dl|ug/dl|mmol/l|µmol/l|umol/l|meq/l|miu/l|uiu/ml|iu/l|u/l|k/µl|k/ul|x10\^\d+/[uµ]l|10\^\d+/[uµ]l|cells/[uµ]l|mm/hr|fl|pg|seconds|sec|%)`
	labRange = `(?:[ \t]*\(?[ \t]*(?i:ref(?:erence)?(?:[ \t]+range)?|range|normal)?[ \t]*:?[ \t]*(\d+(?:\.\d+)?[ \t]*[-–][ \t]*\d+(?:\.\d+)?)\)?)?`
)

var reRefRange = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)\s*[-–]\s*(\d+(?:\.\d+)?)\s*$`)

// vitalLabels are line labels that look like labs but belong to vitals.
var vitalLabels = map[string]struct{}{
	"spo2": {}, "o2 sat": {}, "oxygen saturation": {}, "sat": {}, "bp": {}, "blood pressure": {},
	"hr": {}, "heart rate": {}, "pulse": {}, "temp": {}, "temperature": {}, "rr": {}, "respiratory rate": {},
}

var labRules = []rule[entity.Lab]{
	// "Name: value unit (ref low-high)" at the start of a line.
	{
		re:    regexp.MustCompile(`(?m)^[ \t]*([A-Za-z][A-Za-z0-9 ,()\-]{0,40}?)[ \t]*[:=]?[ \t]+(-?\d+(?:\.\d+)?)[ \t]*(` + labUnits + `)` + labRange),
		apply: labFrom,
	},
	// Well-known analytes anywhere in the text; unit optional.
	{
		re:    regexp.MustCompile(`(?i)\b(hemoglobin a1c|hba1c|a1c|glucose|hemoglobin|hgb|hematocrit|hct|wbc|rbc|platelets?|plt|sodium|potassium|chloride|bicarbonate|creatinine|bun|calcium|magnesium|alt|ast|alkaline phosphatase|bilirubin|albumin|cholesterol|ldl|hdl|triglycerides|tsh|inr|troponin|crp|esr|ferritin)\b[ \t]*[:=]?[ \t]*(-?\d+(?:\.\d+)?)[ \t]*(` + labUnits + `)?` + labRange),
		apply: labFrom,
	},
}

// labFrom expects groups: 1 name, 2 value, 3 unit, 4 reference range.
func labFrom(m []string) (entity.Lab, bool) {
	name := strings.TrimSpace(strings.TrimRight(m[1], " ,(-"))
	if name == "" {
		return entity.Lab{}, false
	}
	if _, vital := vitalLabels[strings.ToLower(name)]; vital {
		return entity.Lab{}, false
	}
	v, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return entity.Lab{}, false
	}
	ref := strings.TrimSpace(m[4])
	return entity.Lab{
		Name:       name,
		Value:      v,
		Units:      m[3],
		RefRange:   ref,
		Flag:       LabFlag(v, ref),
		Confidence: LabConfidence,
	}, true
}

// LabFlag compares value against a "low-high" range. Anything unparseable is normal.
func LabFlag(value float64, refRange string) string {
	m := reRefRange.FindStringSubmatch(refRange)
	if m == nil {
		return constants.LabFlagNormal
	}
	low, err1 := strconv.ParseFloat(m[1], 64)
	high, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return constants.LabFlagNormal
	}
	switch {
	case value < low:
		return constants.LabFlagLow
	case value > high:
		return constants.LabFlagHigh
	default:
		return constants.LabFlagNormal
	}
}

func extractLabs(text string) []entity.Lab {
	out := []entity.Lab{}
	for _, lab := range all(text, labRules) {
		if duplicateLab(out, lab) {
			continue
		}
		out = append(out, lab)
	}
	return out
}

// duplicateLab reports whether an already accepted lab names the same analyte with the same value.
func duplicateLab(have []entity.Lab, lab entity.Lab) bool {
	name := strings.ToLower(lab.Name)
	for _, h := range have {
		hn := strings.ToLower(h.Name)
		if hn == name {
			return true
		}
		if h.Value == lab.Value && strings.Contains(hn, name) {
			return true
		}
	}
	return false
}
