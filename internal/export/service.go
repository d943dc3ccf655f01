// Package export renders completed analyses as XLSX workbooks.
package export

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/medsummary/constants"
	"github.com/joseph-ayodele/medsummary/internal/common"
	"github.com/joseph-ayodele/medsummary/internal/entity"
)

const (
	SheetSummary         = "Summary"
	SheetMedications     = "Medications"
	SheetLabs            = "Labs"
	SheetDiagnoses       = "Diagnoses"
	SheetRecommendations = "Recommendations"
	SheetNotes           = "Notes"
)

type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// AnalysisXLSX returns the workbook for a completed job.
func (s *Service) AnalysisXLSX(job *entity.Job) ([]byte, error) {
	if job == nil {
		return nil, fmt.Errorf("%w: nil job", common.ErrInvalidInput)
	}
	if job.Status != constants.JobStatusCompleted || job.Result == nil {
		return nil, common.NewAppError("INVALID_STATUS",
			fmt.Sprintf("job %s is %s; reports exist only for completed jobs", job.ID, job.Status), common.ErrInvalidStatus)
	}
	start := time.Now()
	res := job.Result

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, fmt.Errorf("xlsx rename sheet: %w", err)
	}
	for _, name := range []string{SheetMedications, SheetLabs, SheetDiagnoses, SheetRecommendations, SheetNotes} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("xlsx new sheet %s: %w", name, err)
		}
	}

	summary := [][]any{
		{"Field", "Value"},
		{"Job ID", job.ID.String()},
		{"File", job.OriginalFilename},
		{"Uploaded", job.UploadedAt.UTC().Format(time.RFC3339)},
		{"Patient", deref(res.Patient.Name)},
		{"Date of birth", deref(res.Patient.DOB)},
		{"Sex", deref(res.Patient.Sex)},
		{"Patient ID", deref(res.Patient.ID)},
		{"Impression", res.Impression},
		{"Overall confidence", res.ConfidenceOverall},
		{"Patient summary", res.PatientSummary},
		{"Provider", res.LLMProvider},
		{"Model", res.LLMModel},
		{"Extraction method", string(res.ExtractionMethod)},
		{"Source pages", joinInts(res.SourcePages)},
	}
	summary = append(summary, vitalsRows(res.Vitals)...)
	if job.CompletedAt != nil {
		summary = append(summary, []any{"Completed", job.CompletedAt.UTC().Format(time.RFC3339)})
	}

	meds := [][]any{{"Name", "Dose", "Frequency", "Route", "Duration", "Confidence", "Source text"}}
	for _, m := range res.Medications {
		meds = append(meds, []any{m.Name, m.Dose, m.Frequency, m.Route, m.Duration, m.Confidence, m.RawText})
	}
	labs := [][]any{{"Name", "Value", "Units", "Reference range", "Flag", "Confidence"}}
	for _, l := range res.Labs {
		labs = append(labs, []any{l.Name, l.Value, l.Units, l.RefRange, l.Flag, l.Confidence})
	}
	diags := [][]any{{"Diagnosis", "ICD-10", "Confidence"}}
	for _, d := range res.Diagnoses {
		diags = append(diags, []any{d.Text, deref(d.ICD10), d.Confidence})
	}
	recs := [][]any{{"Recommendation", "Urgency"}}
	for _, r := range res.Recommendations {
		recs = append(recs, []any{r.Text, string(r.Urgency)})
	}
	notes := [][]any{{"Note"}}
	for _, n := range res.Notes {
		notes = append(notes, []any{n})
	}

	for sheet, rows := range map[string][][]any{
		SheetSummary:         summary,
		SheetMedications:     meds,
		SheetLabs:            labs,
		SheetDiagnoses:       diags,
		SheetRecommendations: recs,
		SheetNotes:           notes,
	} {
		if err := writeRows(f, sheet, rows); err != nil {
			return nil, err
		}
	}

	_ = f.SetColWidth(SheetSummary, "A", "A", 20)
	_ = f.SetColWidth(SheetSummary, "B", "B", 80)
	_ = f.SetColWidth(SheetMedications, "A", "A", 24)
	_ = f.SetColWidth(SheetMedications, "G", "G", 48)
	_ = f.SetColWidth(SheetLabs, "A", "A", 24)
	_ = f.SetColWidth(SheetDiagnoses, "A", "A", 48)
	_ = f.SetColWidth(SheetRecommendations, "A", "A", 64)
	_ = f.SetColWidth(SheetNotes, "A", "A", 96)
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"job_id", job.ID.String(),
		"medications", len(res.Medications),
		"labs", len(res.Labs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("xlsx write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func vitalsRows(v entity.Vitals) [][]any {
	var rows [][]any
	if v.Temperature != nil {
		rows = append(rows, []any{"Temperature", fmt.Sprintf("%g %s", v.Temperature.Value, v.Temperature.Unit)})
	}
	if v.BloodPressure != nil {
		rows = append(rows, []any{"Blood pressure", fmt.Sprintf("%d/%d", v.BloodPressure.Systolic, v.BloodPressure.Diastolic)})
	}
	if v.HeartRate != nil {
		rows = append(rows, []any{"Heart rate", *v.HeartRate})
	}
	if v.RespiratoryRate != nil {
		rows = append(rows, []any{"Respiratory rate", *v.RespiratoryRate})
	}
	if v.OxygenSaturation != nil {
		rows = append(rows, []any{"Oxygen saturation", *v.OxygenSaturation})
	}
	return rows
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, ", ")
}
