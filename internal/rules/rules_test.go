package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/medsummary/constants"
)

func TestExtract_EmptyInputIsTotal(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\n", "no clinical content here", "%%%///123"} {
		rec := Extract(in)
		assert.NotNil(t, rec.Medications, in)
		assert.NotNil(t, rec.Labs, in)
		assert.NotNil(t, rec.Diagnoses, in)
		assert.Nil(t, rec.Patient.Name, in)
	}
}

func TestExtract_EndToEndSample(t *testing.T) {
	rec := Extract("Patient: John Doe\nDOB: 01/15/1980\nMedications: Amoxicillin 500mg TID")

	require.NotNil(t, rec.Patient.Name)
	assert.Equal(t, "John Doe", *rec.Patient.Name)
	require.NotNil(t, rec.Patient.DOB)
	assert.Equal(t, "1980-01-15", *rec.Patient.DOB)

	require.Len(t, rec.Medications, 1)
	med := rec.Medications[0]
	assert.Contains(t, med.Name, "Amoxicillin")
	assert.Equal(t, "500 mg", med.Dose)
	assert.Equal(t, "TID", med.Frequency)
	assert.Equal(t, MedicationConfidence, med.Confidence)
	assert.Empty(t, rec.Labs)
}

func TestPatientRules(t *testing.T) {
	tests := []struct {
		name string
		text string
		who  string
		dob  string
		sex  string
		id   string
	}{
		{"labeled wins over title", "Dr. Gregory House\nPatient Name: Jane Roe DOB: 1975-03-02", "Jane Roe", "1975-03-02", "", ""},
		{"titled fallback", "Seen today: Mrs. Ada Lovelace\nSex: Female\nMRN: A12345", "Ada Lovelace", "", "F", "A12345"},
		{"two digit year", "Patient: Sam Poe\nDate of Birth: 3/7/05\nGender: male", "Sam Poe", "2005-03-07", "M", ""},
		{"month name", "Patient: Li Wei\nDOB: March 9, 1962\nPatient ID: 99-1234", "Li Wei", "1962-03-09", "", "99-1234"},
		{"invalid date ignored", "Patient: Al Bo\nDOB: 13/45/1990", "Al Bo", "", "", ""},
		{"unknown sex", "Patient: Ro Ze\nSex: unknown", "Ro Ze", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Extract(tt.text).Patient
			assertOpt(t, tt.who, p.Name)
			assertOpt(t, tt.dob, p.DOB)
			assertOpt(t, tt.sex, p.Sex)
			assertOpt(t, tt.id, p.ID)
		})
	}
}

func assertOpt(t *testing.T, want string, got *string) {
	t.Helper()
	if want == "" {
		assert.Nil(t, got)
		return
	}
	require.NotNil(t, got)
	assert.Equal(t, want, *got)
}

func TestMedicationRules(t *testing.T) {
	text := "Rx: Lisinopril 10 mg oral daily for 30 days\n" +
		"Continue metoprolol 25mg BID\n" +
		"Also Prednisone 20 mg x 5 days, Albuterol 2.5 mg inhalation q4h\n" +
		"Glucose 110 mg/dL\n" +
		"Rx: Lisinopril 10 mg daily"
	meds := Extract(text).Medications
	require.Len(t, meds, 4)

	byName := map[string]int{}
	for i, m := range meds {
		byName[m.Name] = i
		assert.Equal(t, MedicationConfidence, m.Confidence)
	}

	l := meds[byName["Lisinopril"]]
	assert.Equal(t, "10 mg", l.Dose)
	assert.Equal(t, "oral", l.Route)
	assert.Equal(t, "daily", l.Frequency)
	assert.Equal(t, "30 days", l.Duration)

	mp := meds[byName["metoprolol"]]
	assert.Equal(t, "25 mg", mp.Dose)
	assert.Equal(t, "BID", mp.Frequency)

	p := meds[byName["Prednisone"]]
	assert.Equal(t, "5 days", p.Duration)

	a := meds[byName["Albuterol"]]
	assert.Equal(t, "2.5 mg", a.Dose)
	assert.Equal(t, "inhalation", a.Route)
	assert.Equal(t, "q4h", a.Frequency)

	_, glucose := byName["Glucose"]
	assert.False(t, glucose, "concentrations are not doses")
}

func TestMedicationRequiresDose(t *testing.T) {
	assert.Empty(t, Extract("Medications: Amoxicillin as needed").Medications)
}

func TestLabFlag(t *testing.T) {
	tests := []struct {
		value float64
		ref   string
		want  string
	}{
		{65, "70-100", constants.LabFlagLow},
		{150, "70-100", constants.LabFlagHigh},
		{70, "70-100", constants.LabFlagNormal},
		{100, "70 – 100", constants.LabFlagNormal},
		{5, "", constants.LabFlagNormal},
		{500, "<200", constants.LabFlagNormal},
		{500, "abc", constants.LabFlagNormal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LabFlag(tt.value, tt.ref), "%v in %q", tt.value, tt.ref)
	}
}

func TestLabRules(t *testing.T) {
	text := "Glucose: 182 mg/dL (ref 70-99)\n" +
		"Hemoglobin A1c: 6.1 % (4.0-5.6)\n" +
		"WBC 7.2 K/uL\n" +
		"SpO2: 97%\n" +
		"Comment: potassium 3.1 mmol/L noted"
	labs := Extract(text).Labs

	byName := map[string]int{}
	for i, l := range labs {
		byName[l.Name] = i
		assert.Equal(t, LabConfidence, l.Confidence)
	}
	require.Contains(t, byName, "Glucose")
	g := labs[byName["Glucose"]]
	assert.Equal(t, 182.0, g.Value)
	assert.Equal(t, "mg/dL", g.Units)
	assert.Equal(t, "70-99", g.RefRange)
	assert.Equal(t, constants.LabFlagHigh, g.Flag)

	require.Contains(t, byName, "Hemoglobin A1c")
	assert.Equal(t, constants.LabFlagHigh, labs[byName["Hemoglobin A1c"]].Flag)

	require.Contains(t, byName, "WBC")
	assert.Equal(t, constants.LabFlagNormal, labs[byName["WBC"]].Flag)

	require.Contains(t, byName, "potassium")
	assert.Equal(t, 3.1, labs[byName["potassium"]].Value)

	assert.NotContains(t, byName, "SpO2")
	assert.Len(t, labs, 4)
}

func TestDiagnosisRules(t *testing.T) {
	diags := Extract("Diagnosis: Type 2 diabetes mellitus.\nImpression: Community acquired pneumonia\ndiagnosis: Type 2 diabetes mellitus\nAssessment: stable").Diagnoses
	require.Len(t, diags, 2)
	assert.Equal(t, "Type 2 diabetes mellitus", diags[0].Text)
	assert.Equal(t, "Community acquired pneumonia", diags[1].Text)
	for _, d := range diags {
		assert.Nil(t, d.ICD10)
		assert.Equal(t, DiagnosisConfidence, d.Confidence)
	}
}

func TestVitalRules(t *testing.T) {
	v := Extract("Temp: 101.2 F  BP: 142/91  HR 88\nRR: 18, SpO2 95%").Vitals
	require.NotNil(t, v.Temperature)
	assert.Equal(t, 101.2, v.Temperature.Value)
	assert.Equal(t, "F", v.Temperature.Unit)
	require.NotNil(t, v.BloodPressure)
	assert.Equal(t, 142, v.BloodPressure.Systolic)
	assert.Equal(t, 91, v.BloodPressure.Diastolic)
	require.NotNil(t, v.HeartRate)
	assert.Equal(t, 88, *v.HeartRate)
	require.NotNil(t, v.RespiratoryRate)
	assert.Equal(t, 18, *v.RespiratoryRate)
	require.NotNil(t, v.OxygenSaturation)
	assert.Equal(t, 95, *v.OxygenSaturation)

	celsius := Extract("Temperature 37.4").Vitals
	require.NotNil(t, celsius.Temperature)
	assert.Equal(t, "C", celsius.Temperature.Unit)

	assert.Nil(t, Extract("nothing measured").Vitals.HeartRate)
}
