package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/medsummary/constants"
	"github.com/joseph-ayodele/medsummary/internal/common"
	"github.com/joseph-ayodele/medsummary/internal/entity"
)

func completedJob() *entity.Job {
	name := "John Doe"
	hr := 88
	return &entity.Job{
		ID:               uuid.New(),
		Status:           constants.JobStatusCompleted,
		OriginalFilename: "visit.pdf",
		UploadedAt:       time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC),
		Result: &entity.AnalysisResult{
			Patient:         entity.Patient{Name: &name},
			Medications:     []entity.Medication{{Name: "Amoxicillin", Dose: "500 mg", Frequency: "TID", Confidence: 0.8}},
			Labs:            []entity.Lab{{Name: "Glucose", Value: 182, Units: "mg/dL", RefRange: "70-99", Flag: constants.LabFlagHigh, Confidence: 0.85}},
			Diagnoses:       []entity.Diagnosis{},
			Vitals:          entity.Vitals{HeartRate: &hr},
			Recommendations: []entity.Recommendation{{Text: "Recheck glucose", Urgency: constants.UrgencyNonUrgent}},
			Notes:           []string{"Model output could not be parsed"},
			SourcePages:     []int{1, 2},
			Impression:      "Hyperglycemia",
		},
	}
}

func TestAnalysisXLSX(t *testing.T) {
	b, err := NewService(nil).AnalysisXLSX(completedJob())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetSummary, SheetMedications, SheetLabs, SheetDiagnoses, SheetRecommendations, SheetNotes}, f.GetSheetList())

	meds, err := f.GetRows(SheetMedications)
	require.NoError(t, err)
	require.Len(t, meds, 2)
	assert.Equal(t, "Amoxicillin", meds[1][0])
	assert.Equal(t, "500 mg", meds[1][1])

	labs, err := f.GetRows(SheetLabs)
	require.NoError(t, err)
	require.Len(t, labs, 2)
	assert.Equal(t, "high", labs[1][4])

	diags, err := f.GetRows(SheetDiagnoses)
	require.NoError(t, err)
	assert.Len(t, diags, 1, "header only")

	summary, err := f.GetRows(SheetSummary)
	require.NoError(t, err)
	found := map[string]string{}
	for _, row := range summary {
		if len(row) == 2 {
			found[row[0]] = row[1]
		}
	}
	assert.Equal(t, "John Doe", found["Patient"])
	assert.Equal(t, "Hyperglycemia", found["Impression"])
	assert.Equal(t, "1, 2", found["Source pages"])
	assert.Equal(t, "88", found["Heart rate"])
}

func TestAnalysisXLSX_RequiresCompleted(t *testing.T) {
	job := completedJob()
	job.Status = constants.JobStatusProcessing
	_, err := NewService(nil).AnalysisXLSX(job)
	assert.ErrorIs(t, err, common.ErrInvalidStatus)
}
