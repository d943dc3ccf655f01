// Package repository persists analysis jobs. Status transitions are
// compare-and-swap updates so at most one caller can move a job forward.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/medsummary/internal/entity"
)

// StartParams is what a job carries into processing.
type StartParams struct {
	Provider string
	Options  entity.AnalysisOptions
	At       time.Time
}

type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	Get(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	// List returns jobs newest first; limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]*entity.Job, error)
	// StartProcessing moves uploaded -> processing. Any other current status yields common.ErrInvalidStatus.
	StartProcessing(ctx context.Context, id uuid.UUID, p StartParams) (*entity.Job, error)
	// Complete moves processing -> completed with result.
	Complete(ctx context.Context, id uuid.UUID, result *entity.AnalysisResult, at time.Time) (*entity.Job, error)
	// Fail moves processing -> failed with a message. The last persisted result, if any, is left untouched.
	Fail(ctx context.Context, id uuid.UUID, message string, at time.Time) (*entity.Job, error)
	Close() error
}
