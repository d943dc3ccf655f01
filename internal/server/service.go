// Package server exposes the analysis pipeline over HTTP and gRPC.
package server

import (
	"context"

	"github.com/joseph-ayodele/medsummary/internal/entity"
	"github.com/joseph-ayodele/medsummary/internal/pipeline"
)

// Jobs is the pipeline surface both transports serve.
type Jobs interface {
	Upload(ctx context.Context, req pipeline.UploadRequest) (*entity.Job, error)
	SubmitAnalysis(ctx context.Context, jobID string, req pipeline.SubmitRequest) (*entity.Job, error)
	GetJob(ctx context.Context, jobID string) (*entity.Job, error)
	ListJobs(ctx context.Context, limit int) ([]*entity.Job, error)
	ListProviders() []entity.ProviderInfo
}

// Reporter renders a completed job as a workbook.
type Reporter interface {
	AnalysisXLSX(job *entity.Job) ([]byte, error)
}

func projections(jobs []*entity.Job) []entity.JobProjection {
	out := make([]entity.JobProjection, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Projection())
	}
	return out
}
