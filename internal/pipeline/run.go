package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/medsummary/internal/common"
	"github.com/joseph-ayodele/medsummary/internal/entity"
	"github.com/joseph-ayodele/medsummary/internal/llm"
	"github.com/joseph-ayodele/medsummary/internal/reconcile"
	"github.com/joseph-ayodele/medsummary/internal/rules"
)

// run executes the stages strictly in order. Every error ends in fail; no
// partial result is written.
func (s *Service) run(ctx context.Context, job *entity.Job, cl llm.Clearance) {
	ctx = common.WithJobID(ctx, job.ID.String())
	log := common.LoggerWith(ctx, s.logger)
	start := time.Now()

	result, err := s.analyze(ctx, job, cl)
	if err != nil {
		log.Error("pipeline.run.failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		s.fail(job.ID, err)
		return
	}

	done, err := s.repo.Complete(ctx, job.ID, result, s.now().UTC())
	if err != nil {
		log.Error("pipeline.complete.failed", "error", err)
		s.fail(job.ID, err)
		return
	}
	log.Info("pipeline.run.ok",
		"provider", result.LLMProvider,
		"method", result.ExtractionMethod,
		"medications", len(result.Medications),
		"labs", len(result.Labs),
		"diagnoses", len(result.Diagnoses),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	s.notifier.JobUpdated(done)
}

func (s *Service) analyze(ctx context.Context, job *entity.Job, cl llm.Clearance) (*entity.AnalysisResult, error) {
	path, release, err := s.files.Acquire(ctx, job.ID)
	defer release()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}

	text, err := s.extractor.Extract(ctx, path, job.AnalysisOptions.OCR)
	if err != nil {
		return nil, err
	}
	baseline := rules.Extract(text.Text)

	provider := ""
	if job.SelectedProvider != nil {
		provider = *job.SelectedProvider
	}
	raw, err := s.models.Analyze(ctx, provider, llm.Request{Text: text.Text, Baseline: baseline}, cl)
	if err != nil {
		return nil, err
	}

	result := reconcile.Merge(raw, baseline)
	result.ExtractionMethod = text.Method
	if len(result.SourcePages) == 0 {
		for p := 1; p <= text.PageCount; p++ {
			result.SourcePages = append(result.SourcePages, p)
		}
	}
	for _, w := range text.Warnings {
		result.Notes = append(result.Notes, "Text extraction: "+w)
	}
	return &result, nil
}

// fail records err on the job. It uses a fresh context so a cancelled run can still be closed out.
func (s *Service) fail(id uuid.UUID, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	job, err := s.repo.Fail(ctx, id, failureMessage(cause), s.now().UTC())
	if err != nil {
		s.logger.Error("pipeline.fail.persist_failed", "job_id", id, "cause", cause, "error", err)
		return
	}
	s.notifier.JobUpdated(job)
}

// failureMessage turns a pipeline error into text safe to show the user.
func failureMessage(err error) string {
	switch {
	case errors.Is(err, common.ErrExtraction):
		return "Could not extract text from the document: " + err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "Model provider timed out: " + err.Error()
	case errors.Is(err, common.ErrProviderCallFailed):
		return "Model provider call failed: " + err.Error()
	default:
		return "Analysis failed: " + err.Error()
	}
}
