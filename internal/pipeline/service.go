// Package pipeline owns the job lifecycle: upload, policy-checked submission,
// and the background run that takes a job to completed or failed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/medsummary/constants"
	"github.com/joseph-ayodele/medsummary/internal/async"
	"github.com/joseph-ayodele/medsummary/internal/common"
	"github.com/joseph-ayodele/medsummary/internal/entity"
	"github.com/joseph-ayodele/medsummary/internal/extract"
	"github.com/joseph-ayodele/medsummary/internal/filestore"
	"github.com/joseph-ayodele/medsummary/internal/llm"
	"github.com/joseph-ayodele/medsummary/internal/repository"
)

type TextExtractor interface {
	Extract(ctx context.Context, path string, forceOCR bool) (extract.ExtractedText, error)
}

type ModelClient interface {
	Authorize(provider string, cl llm.Clearance) error
	Analyze(ctx context.Context, provider string, req llm.Request, cl llm.Clearance) (llm.RawResult, error)
	Providers(allowExternal bool) []entity.ProviderInfo
}

type FileStore interface {
	Save(ctx context.Context, id uuid.UUID, r io.Reader) (filestore.Stored, error)
	Acquire(ctx context.Context, id uuid.UUID) (string, func(), error)
	Delete(id uuid.UUID) error
}

// Notifier is told about every persisted transition.
type Notifier interface {
	JobUpdated(job *entity.Job)
}

type noopNotifier struct{}

func (noopNotifier) JobUpdated(*entity.Job) {}

type Config struct {
	AllowExternalProcessing bool
	MaxConcurrent           int64
}

type UploadRequest struct {
	Filename string `validate:"required"`
	Consent  bool
	Body     io.Reader `validate:"required"`
}

type SubmitRequest struct {
	Provider string `validate:"required,max=64"`
	Options  entity.AnalysisOptions
}

type Service struct {
	repo       repository.JobRepository
	files      FileStore
	extractor  TextExtractor
	models     ModelClient
	notifier   Notifier
	dispatcher *async.Dispatcher
	logger     *slog.Logger
	now        func() time.Time

	allowExternal atomic.Bool
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(repo repository.JobRepository, files FileStore, extractor TextExtractor, models ModelClient, cfg Config, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:       repo,
		files:      files,
		extractor:  extractor,
		models:     models,
		notifier:   noopNotifier{},
		dispatcher: async.NewDispatcher(logger, async.WithMaxConcurrent(cfg.MaxConcurrent)),
		logger:     logger,
		now:        time.Now,
	}
	s.allowExternal.Store(cfg.AllowExternalProcessing)
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetAllowExternal changes the deployment flag for future submissions.
// Jobs already running keep the clearance captured when they were submitted.
func (s *Service) SetAllowExternal(v bool) { s.allowExternal.Store(v) }

func (s *Service) AllowExternal() bool { return s.allowExternal.Load() }

// Upload stores a PDF and records a new job in the uploaded state.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*entity.Job, error) {
	if err := common.ValidateStruct(req); err != nil {
		return nil, err
	}
	name := filepath.Base(strings.TrimSpace(req.Filename))
	if !constants.IsAllowedExt(filepath.Ext(name)) {
		return nil, common.NewAppError("INVALID_FILE_TYPE", fmt.Sprintf("%q is not a PDF", name), common.ErrInvalidInput)
	}

	id := uuid.New()
	stored, err := s.files.Save(ctx, id, req.Body)
	if err != nil {
		return nil, err
	}
	job := &entity.Job{
		ID:               id,
		Status:           constants.JobStatusUploaded,
		OriginalFilename: name,
		UploadedAt:       s.now().UTC(),
		FileSize:         stored.Size,
		ContentHash:      stored.SHA256,
		ConsentGiven:     req.Consent,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		if derr := s.files.Delete(id); derr != nil {
			s.logger.Warn("pipeline.upload.cleanup_failed", "job_id", id, "error", derr)
		}
		return nil, err
	}
	s.logger.Info("pipeline.upload.ok", "job_id", id, "bytes", stored.Size, "consent", req.Consent)
	s.notifier.JobUpdated(job)
	return job.Clone(), nil
}

// SubmitAnalysis validates the request against the job and the PHI policy,
// moves the job to processing and starts the run in the background. Policy
// and status errors leave the job uploaded.
func (s *Service) SubmitAnalysis(ctx context.Context, rawID string, req SubmitRequest) (*entity.Job, error) {
	id, err := common.ParseJobID(rawID)
	if err != nil {
		return nil, err
	}
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	if err := common.ValidateStruct(req); err != nil {
		return nil, err
	}
	log := common.LoggerWith(common.WithJobID(ctx, id.String()), s.logger)

	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != constants.JobStatusUploaded {
		return nil, common.NewAppError("INVALID_STATUS",
			fmt.Sprintf("job %s is %s; analysis can only start from %s", id, job.Status, constants.JobStatusUploaded),
			common.ErrInvalidStatus)
	}

	clearance := llm.Clearance{AllowExternal: s.AllowExternal(), Consent: job.ConsentGiven}
	if err := s.models.Authorize(req.Provider, clearance); err != nil {
		log.Warn("pipeline.submit.denied", "provider", req.Provider, "error", err)
		return nil, err
	}

	started, err := s.repo.StartProcessing(ctx, id, repository.StartParams{
		Provider: req.Provider,
		Options:  req.Options,
		At:       s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	log.Info("pipeline.submit.ok", "provider", req.Provider, "force_ocr", req.Options.OCR)
	s.notifier.JobUpdated(started)

	run := started.Clone()
	err = s.dispatcher.Go(id, func(ctx context.Context) {
		s.run(ctx, run, clearance)
	}, func(perr error) {
		s.fail(id, fmt.Errorf("%w: %v", common.ErrInternal, perr))
	})
	if err != nil {
		s.fail(id, err)
		return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	return started, nil
}

func (s *Service) GetJob(ctx context.Context, rawID string) (*entity.Job, error) {
	id, err := common.ParseJobID(rawID)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// ListJobs returns jobs newest first.
func (s *Service) ListJobs(ctx context.Context, limit int) ([]*entity.Job, error) {
	if limit < 0 {
		return nil, common.NewAppError("INVALID_LIMIT", "limit must not be negative", common.ErrInvalidInput)
	}
	return s.repo.List(ctx, limit)
}

// ListProviders reports configured providers and whether the current policy lets them run.
func (s *Service) ListProviders() []entity.ProviderInfo {
	return s.models.Providers(s.AllowExternal())
}

// Wait polls until the job reaches a terminal state or ctx ends.
func (s *Service) Wait(ctx context.Context, rawID string, every time.Duration) (*entity.Job, error) {
	if every <= 0 {
		every = 200 * time.Millisecond
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		job, err := s.GetJob(ctx, rawID)
		if err != nil {
			return nil, err
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-t.C:
		}
	}
}

// Shutdown refuses new submissions and waits for running jobs to finish.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.dispatcher.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger.Warn("pipeline.shutdown.incomplete", "error", err)
	}
	return err
}
