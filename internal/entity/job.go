package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/medsummary/constants"
)

// AnalysisOptions are the per-submission switches persisted with the job.
type AnalysisOptions struct {
	OCR        bool `json:"ocr"`
	Embeddings bool `json:"embeddings"`
}

// Job represents an analysis job for data transfer between layers.
type Job struct {
	ID                  uuid.UUID           `json:"id"`
	Status              constants.JobStatus `json:"status"`
	OriginalFilename    string              `json:"original_filename"`
	UploadedAt          time.Time           `json:"uploaded_at"`
	FileSize            int64               `json:"file_size"`
	ContentHash         string              `json:"content_hash"`
	ConsentGiven        bool                `json:"consent_given"`
	SelectedProvider    *string             `json:"selected_provider,omitempty"`
	AnalysisOptions     AnalysisOptions     `json:"analysis_options"`
	ProcessingStartedAt *time.Time          `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time          `json:"completed_at,omitempty"`
	FailedAt            *time.Time          `json:"failed_at,omitempty"`
	Result              *AnalysisResult     `json:"result,omitempty"`
	Error               *string             `json:"error,omitempty"`
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.SelectedProvider = clonePtr(j.SelectedProvider)
	c.ProcessingStartedAt = clonePtr(j.ProcessingStartedAt)
	c.CompletedAt = clonePtr(j.CompletedAt)
	c.FailedAt = clonePtr(j.FailedAt)
	c.Error = clonePtr(j.Error)
	if j.Result != nil {
		c.Result = j.Result.Clone()
	}
	return &c
}

// Projection is the read model returned to API callers.
func (j *Job) Projection() JobProjection {
	return JobProjection{
		ID:                  j.ID.String(),
		Status:              j.Status,
		UploadedAt:          j.UploadedAt,
		Filename:            j.OriginalFilename,
		Provider:            j.SelectedProvider,
		Result:              j.Result,
		Error:               j.Error,
		ProcessingStartedAt: j.ProcessingStartedAt,
	}
}

// JobProjection is the externally visible view of a job.
type JobProjection struct {
	ID                  string              `json:"id"`
	Status              constants.JobStatus `json:"status"`
	UploadedAt          time.Time           `json:"uploadedAt"`
	Filename            string              `json:"filename"`
	Provider            *string             `json:"provider,omitempty"`
	Result              *AnalysisResult     `json:"result,omitempty"`
	Error               *string             `json:"error,omitempty"`
	ProcessingStartedAt *time.Time          `json:"processingStartedAt,omitempty"`
}

// ProviderInfo describes a configured model provider and whether the current policy lets it run.
type ProviderInfo struct {
	Name            string `json:"name"`
	Model           string `json:"model"`
	Locality        string `json:"locality"`
	RequiresConsent bool   `json:"requires_consent"`
	Usable          bool   `json:"usable"`
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
