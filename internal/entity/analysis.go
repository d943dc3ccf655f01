package entity

import "github.com/joseph-ayodele/medsummary/constants"

// Patient holds demographic fields; nil means not found.
type Patient struct {
	Name *string `json:"name"`
	DOB  *string `json:"dob"`
	Sex  *string `json:"sex"`
	ID   *string `json:"id"`
}

type Medication struct {
	Name       string  `json:"name"`
	Dose       string  `json:"dose"`
	Frequency  string  `json:"frequency"`
	Route      string  `json:"route"`
	Duration   string  `json:"duration"`
	RawText    string  `json:"raw_text"`
	Confidence float64 `json:"confidence"`
}

type Diagnosis struct {
	Text       string  `json:"text"`
	ICD10      *string `json:"icd10"`
	Confidence float64 `json:"confidence"`
}

type Lab struct {
	Name       string  `json:"name"`
	Value      float64 `json:"value"`
	Units      string  `json:"units"`
	RefRange   string  `json:"ref_range"`
	Flag       string  `json:"flag"`
	Confidence float64 `json:"confidence"`
}

type Temperature struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

type BloodPressure struct {
	Systolic  int `json:"systolic"`
	Diastolic int `json:"diastolic"`
}

// Vitals fields are each optional.
type Vitals struct {
	Temperature      *Temperature   `json:"temperature,omitempty"`
	BloodPressure    *BloodPressure `json:"bloodPressure,omitempty"`
	HeartRate        *int           `json:"heartRate,omitempty"`
	RespiratoryRate  *int           `json:"respiratoryRate,omitempty"`
	OxygenSaturation *int           `json:"oxygenSaturation,omitempty"`
}

// BaselineRecord is the rule-based extraction result.
type BaselineRecord struct {
	Patient     Patient      `json:"patient"`
	Medications []Medication `json:"medications"`
	Diagnoses   []Diagnosis  `json:"diagnoses"`
	Labs        []Lab        `json:"labs"`
	Vitals      Vitals       `json:"vitals"`
}

// NewBaselineRecord returns a record with every list present and empty.
func NewBaselineRecord() BaselineRecord {
	return BaselineRecord{
		Medications: []Medication{},
		Diagnoses:   []Diagnosis{},
		Labs:        []Lab{},
	}
}

type Recommendation struct {
	Text    string            `json:"text"`
	Urgency constants.Urgency `json:"urgency"`
}

// AnalysisResult is the canonical, always well-formed job output.
type AnalysisResult struct {
	Patient           Patient                    `json:"patient"`
	Medications       []Medication               `json:"medications"`
	Diagnoses         []Diagnosis                `json:"diagnoses"`
	Labs              []Lab                      `json:"labs"`
	Vitals            Vitals                     `json:"vitals"`
	Impression        string                     `json:"impression"`
	Recommendations   []Recommendation           `json:"recommendations"`
	ConfidenceOverall float64                    `json:"confidence_overall"`
	SourcePages       []int                      `json:"source_pages"`
	Timestamps        []string                   `json:"timestamps"`
	Notes             []string                   `json:"notes"`
	PatientSummary    string                     `json:"patient_summary"`
	LLMProvider       string                     `json:"llm_provider"`
	LLMModel          string                     `json:"llm_model"`
	ExtractionMethod  constants.ExtractionMethod `json:"extraction_method"`
}

// Clone deep-copies the result.
func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Patient = Patient{
		Name: clonePtr(r.Patient.Name),
		DOB:  clonePtr(r.Patient.DOB),
		Sex:  clonePtr(r.Patient.Sex),
		ID:   clonePtr(r.Patient.ID),
	}
	c.Medications = append([]Medication{}, r.Medications...)
	c.Diagnoses = make([]Diagnosis, len(r.Diagnoses))
	for i, d := range r.Diagnoses {
		d.ICD10 = clonePtr(d.ICD10)
		c.Diagnoses[i] = d
	}
	c.Labs = append([]Lab{}, r.Labs...)
	c.Vitals = Vitals{
		Temperature:      clonePtr(r.Vitals.Temperature),
		BloodPressure:    clonePtr(r.Vitals.BloodPressure),
		HeartRate:        clonePtr(r.Vitals.HeartRate),
		RespiratoryRate:  clonePtr(r.Vitals.RespiratoryRate),
		OxygenSaturation: clonePtr(r.Vitals.OxygenSaturation),
	}
	c.Recommendations = append([]Recommendation{}, r.Recommendations...)
	c.SourcePages = append([]int{}, r.SourcePages...)
	c.Timestamps = append([]string{}, r.Timestamps...)
	c.Notes = append([]string{}, r.Notes...)
	return &c
}
