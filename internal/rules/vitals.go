package rules

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/medsummary/internal/entity"
)

var (
	reTemperature = regexp.MustCompile(`(?i)\btemp(?:erature)?[ \t]*[:=]?[ \t]*(\d{2,3}(?:\.\d+)?)[ \t]*°?[ \t]*([cf])?\b`)
	reBloodPress  = regexp.MustCompile(`(?i)\b(?:bp|blood[ \t]+pressure)[ \t]*[:=]?[ \t]*(\d{2,3})[ \t]*/[ \t]*(\d{2,3})\b`)
	reHeartRate   = regexp.MustCompile(`(?i)\b(?:hr|heart[ \t]+rate|pulse)[ \t]*[:=]?[ \t]*(\d{2,3})\b`)
	reRespRate    = regexp.MustCompile(`(?i)\b(?:rr|resp(?:iratory)?(?:[ \t]+rate)?)[ \t]*[:=]?[ \t]*(\d{1,2})\b`)
	reOxygenSat   = regexp.MustCompile(`(?i)\b(?:spo2|o2[ \t]*sat(?:uration)?|oxygen[ \t]+saturation)[ \t]*[:=]?[ \t]*(\d{2,3})[ \t]*%?`)
)

func extractVitals(text string) entity.Vitals {
	var v entity.Vitals
	if m := reTemperature.FindStringSubmatch(text); m != nil {
		if val, err := strconv.ParseFloat(m[1], 64); err == nil {
			unit := strings.ToUpper(m[2])
			if unit == "" {
				unit = TemperatureUnit(val)
			}
			v.Temperature = &entity.Temperature{Value: val, Unit: unit}
		}
	}
	if m := reBloodPress.FindStringSubmatch(text); m != nil {
		sys, _ := strconv.Atoi(m[1])
		dia, _ := strconv.Atoi(m[2])
		v.BloodPressure = &entity.BloodPressure{Systolic: sys, Diastolic: dia}
	}
	if m := reHeartRate.FindStringSubmatch(text); m != nil {
		v.HeartRate = atoiPtr(m[1])
	}
	if m := reRespRate.FindStringSubmatch(text); m != nil {
		v.RespiratoryRate = atoiPtr(m[1])
	}
	if m := reOxygenSat.FindStringSubmatch(text); m != nil {
		v.OxygenSaturation = atoiPtr(m[1])
	}
	return v
}

// TemperatureUnit guesses the scale of an unlabelled body temperature.
// Readings above 50 can only be Fahrenheit.
func TemperatureUnit(val float64) string {
	if val > 50 {
		return "F"
	}
	return "C"
}

func atoiPtr(s string) *int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}
