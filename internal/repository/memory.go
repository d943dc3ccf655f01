package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/medsummary/constants"
	"github.com/joseph-ayodele/medsummary/internal/common"
	"github.com/joseph-ayodele/medsummary/internal/entity"
)

// MemoryJobRepository keeps jobs in a map. Every read and write copies the
// job so callers never alias stored state.
type MemoryJobRepository struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*entity.Job
}

func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: map[uuid.UUID]*entity.Job{}}
}

func (r *MemoryJobRepository) Create(_ context.Context, job *entity.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return common.NewAppError("DUPLICATE_JOB", fmt.Sprintf("job %s already exists", job.ID), common.ErrInvalidInput)
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

func (r *MemoryJobRepository) Get(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, notFound(id)
	}
	return j.Clone(), nil
}

func (r *MemoryJobRepository) List(_ context.Context, limit int) ([]*entity.Job, error) {
	r.mu.Lock()
	out := make([]*entity.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.Clone())
	}
	r.mu.Unlock()

	sort.Slice(out, func(a, b int) bool { return out[a].UploadedAt.After(out[b].UploadedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryJobRepository) StartProcessing(_ context.Context, id uuid.UUID, p StartParams) (*entity.Job, error) {
	return r.transition(id, constants.JobStatusUploaded, func(j *entity.Job) {
		j.Status = constants.JobStatusProcessing
		provider := p.Provider
		j.SelectedProvider = &provider
		j.AnalysisOptions = p.Options
		at := p.At
		j.ProcessingStartedAt = &at
	})
}

func (r *MemoryJobRepository) Complete(_ context.Context, id uuid.UUID, result *entity.AnalysisResult, at time.Time) (*entity.Job, error) {
	return r.transition(id, constants.JobStatusProcessing, func(j *entity.Job) {
		j.Status = constants.JobStatusCompleted
		j.Result = result.Clone()
		j.CompletedAt = &at
	})
}

func (r *MemoryJobRepository) Fail(_ context.Context, id uuid.UUID, message string, at time.Time) (*entity.Job, error) {
	return r.transition(id, constants.JobStatusProcessing, func(j *entity.Job) {
		j.Status = constants.JobStatusFailed
		j.Error = &message
		j.FailedAt = &at
	})
}

func (r *MemoryJobRepository) transition(id uuid.UUID, from constants.JobStatus, apply func(*entity.Job)) (*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, notFound(id)
	}
	if j.Status != from {
		return nil, invalidStatus(id, j.Status, from)
	}
	next := j.Clone()
	apply(next)
	r.jobs[id] = next
	return next.Clone(), nil
}

func (r *MemoryJobRepository) Close() error { return nil }

func notFound(id uuid.UUID) error {
	return common.NewAppError("JOB_NOT_FOUND", fmt.Sprintf("job %s not found", id), common.ErrNotFound)
}

func invalidStatus(id uuid.UUID, have, want constants.JobStatus) error {
	return common.NewAppError("INVALID_STATUS",
		fmt.Sprintf("job %s is %s, expected %s", id, have, want), common.ErrInvalidStatus)
}
