// Package ingest turns PDFs dropped into an inbox directory into analysis jobs.
package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joseph-ayodele/medsummary/internal/entity"
	"github.com/joseph-ayodele/medsummary/internal/pipeline"
)

// Submitter is the part of the pipeline service the inbox drives.
type Submitter interface {
	Upload(ctx context.Context, req pipeline.UploadRequest) (*entity.Job, error)
	SubmitAnalysis(ctx context.Context, jobID string, req pipeline.SubmitRequest) (*entity.Job, error)
}

type Config struct {
	Dir string
	// Consent is recorded on every job created from the inbox.
	Consent bool
	// AutoProvider, when set, starts analysis right after upload.
	AutoProvider string
	ForceOCR     bool
}

// FileResult is the per-file ingest outcome.
type FileResult struct {
	Path         string
	JobID        string
	Deduplicated bool
	HashHex      string
	Err          string
}

type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

type Inbox struct {
	svc    Submitter
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]string // content hash -> job id
}

func NewInbox(svc Submitter, cfg Config, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.AutoProvider = strings.ToLower(strings.TrimSpace(cfg.AutoProvider))
	return &Inbox{svc: svc, cfg: cfg, logger: logger, seen: map[string]string{}}
}

// IngestPath uploads one file. Content already ingested by this inbox is skipped.
func (i *Inbox) IngestPath(ctx context.Context, path string) (FileResult, error) {
	out := FileResult{Path: path}
	if !AllowedExt(path) {
		return out, fmt.Errorf("unsupported extension: %q", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return out, fmt.Errorf("read: %w", err)
	}
	sum := sha256.Sum256(data)
	out.HashHex = hex.EncodeToString(sum[:])

	i.mu.Lock()
	if id, ok := i.seen[out.HashHex]; ok {
		i.mu.Unlock()
		out.JobID, out.Deduplicated = id, true
		i.logger.Info("ingest.file.deduplicated", "path", path, "job_id", id)
		return out, nil
	}
	i.mu.Unlock()

	job, err := i.svc.Upload(ctx, pipeline.UploadRequest{
		Filename: filepath.Base(path),
		Consent:  i.cfg.Consent,
		Body:     bytes.NewReader(data),
	})
	if err != nil {
		return out, err
	}
	out.JobID = job.ID.String()

	i.mu.Lock()
	i.seen[out.HashHex] = out.JobID
	i.mu.Unlock()
	i.logger.Info("ingest.file.uploaded", "path", path, "job_id", out.JobID)

	if i.cfg.AutoProvider != "" {
		if _, err := i.svc.SubmitAnalysis(ctx, out.JobID, pipeline.SubmitRequest{
			Provider: i.cfg.AutoProvider,
			Options:  entity.AnalysisOptions{OCR: i.cfg.ForceOCR},
		}); err != nil {
			return out, fmt.Errorf("submit analysis: %w", err)
		}
	}
	return out, nil
}

// IngestDirectory walks root, skipping hidden entries, and ingests every PDF.
// Per-file failures are collected, not returned.
func (i *Inbox) IngestDirectory(ctx context.Context, root string) ([]FileResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}
	var (
		results []FileResult
		stats   DirStats
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !AllowedExt(path) {
			return nil
		}
		stats.Matched++
		res, err := i.IngestPath(ctx, path)
		if err != nil {
			res.Err = err.Error()
			stats.Failed++
		} else {
			stats.Succeeded++
			if res.Deduplicated {
				stats.Deduplicated++
			}
		}
		results = append(results, res)
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}

// Run watches the inbox until ctx ends, ingesting each new PDF.
func (i *Inbox) Run(ctx context.Context, watch WatchConfig) error {
	if len(watch.Roots) == 0 {
		watch.Roots = []string{i.cfg.Dir}
	}
	events, errs, err := StartWatcher(ctx, watch, i.logger)
	if err != nil {
		return err
	}
	i.logger.Info("ingest.inbox.started", "dir", watch.Roots, "auto_provider", i.cfg.AutoProvider)
	for {
		select {
		case path, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			if _, err := i.IngestPath(ctx, path); err != nil {
				i.logger.Warn("ingest.file.failed", "path", path, "error", err)
			}
		case err, ok := <-errs:
			if ok && err != nil {
				i.logger.Warn("ingest.inbox.watch_error", "error", err)
			}
			if !ok {
				errs = nil
			}
		}
	}
}
