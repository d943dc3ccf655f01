package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/medsummary/constants"
	"github.com/joseph-ayodele/medsummary/internal/common"
	"github.com/joseph-ayodele/medsummary/internal/entity"
)

const jobsTable = "jobs"

var jobColumns = []string{
	"id", "status", "original_filename", "uploaded_at", "file_size", "content_hash",
	"consent_given", "selected_provider", "analysis_options",
	"processing_started_at", "completed_at", "failed_at", "result", "error",
}

// SQLJobRepository stores jobs in Postgres or SQLite. Queries are built with
// ent's dialect-aware SQL builder so placeholders and quoting follow the driver.
type SQLJobRepository struct {
	drv     *entsql.Driver
	db      *sql.DB
	dialect string
	log     *slog.Logger
	onClose func()
}

func NewSQLJobRepository(drv *entsql.Driver, logger *slog.Logger) *SQLJobRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLJobRepository{drv: drv, db: drv.DB(), dialect: drv.Dialect(), log: logger}
}

func (r *SQLJobRepository) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.dialect)
}

// Migrate creates the jobs table and its listing index when missing.
func (r *SQLJobRepository) Migrate(ctx context.Context) error {
	b := r.builder()
	tsType, boolType := "timestamptz", "boolean"
	if r.dialect == dialect.SQLite {
		tsType = "text"
	}
	table, targs := b.CreateTable(jobsTable).IfNotExists().
		Columns(
			b.Column("id").Type("varchar(36)").Attr("NOT NULL"),
			b.Column("status").Type("varchar(16)").Attr("NOT NULL"),
			b.Column("original_filename").Type("text").Attr("NOT NULL"),
			b.Column("uploaded_at").Type(tsType).Attr("NOT NULL"),
			b.Column("file_size").Type("bigint").Attr("NOT NULL"),
			b.Column("content_hash").Type("varchar(64)").Attr("NOT NULL"),
			b.Column("consent_given").Type(boolType).Attr("NOT NULL"),
			b.Column("selected_provider").Type("varchar(64)"),
			b.Column("analysis_options").Type("text").Attr("NOT NULL"),
			b.Column("processing_started_at").Type(tsType),
			b.Column("completed_at").Type(tsType),
			b.Column("failed_at").Type(tsType),
			b.Column("result").Type("text"),
			b.Column("error").Type("text"),
		).
		PrimaryKey("id").
		Query()
	if _, err := r.db.ExecContext(ctx, table, targs...); err != nil {
		r.log.Error("db.migrate.failed", "table", jobsTable, "error", err)
		return fmt.Errorf("%w: create %s: %v", common.ErrDatabase, jobsTable, err)
	}

	idx, iargs := b.CreateIndex("jobs_uploaded_at").IfNotExists().Table(jobsTable).Columns("uploaded_at").Query()
	if _, err := r.db.ExecContext(ctx, idx, iargs...); err != nil {
		return fmt.Errorf("%w: create index: %v", common.ErrDatabase, err)
	}
	r.log.Info("db.migrate.ok", "table", jobsTable, "dialect", r.dialect)
	return nil
}

func (r *SQLJobRepository) Create(ctx context.Context, job *entity.Job) error {
	opts, err := json.Marshal(job.AnalysisOptions)
	if err != nil {
		return fmt.Errorf("encode analysis options: %w", err)
	}
	result, err := encodeResult(job.Result)
	if err != nil {
		return err
	}
	q, args := r.builder().Insert(jobsTable).
		Columns(jobColumns...).
		Values(
			job.ID.String(), string(job.Status), job.OriginalFilename, r.timeArg(job.UploadedAt),
			job.FileSize, job.ContentHash, job.ConsentGiven, nullString(job.SelectedProvider), string(opts),
			r.optTimeArg(job.ProcessingStartedAt), r.optTimeArg(job.CompletedAt), r.optTimeArg(job.FailedAt),
			result, nullString(job.Error),
		).
		Query()
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		r.log.Error("db.job.create.failed", "job_id", job.ID, "error", err)
		return fmt.Errorf("%w: insert job: %v", common.ErrDatabase, err)
	}
	return nil
}

func (r *SQLJobRepository) Get(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	q, args := r.builder().Select(jobColumns...).
		From(entsql.Table(jobsTable)).
		Where(entsql.EQ("id", id.String())).
		Query()
	job, err := scanJob(r.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get job: %v", common.ErrDatabase, err)
	}
	return job, nil
}

func (r *SQLJobRepository) List(ctx context.Context, limit int) ([]*entity.Job, error) {
	sel := r.builder().Select(jobColumns...).
		From(entsql.Table(jobsTable)).
		OrderBy(entsql.Desc("uploaded_at"))
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	q, args := sel.Query()
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list jobs: %v", common.ErrDatabase, err)
	}
	defer rows.Close()

	out := make([]*entity.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan job: %v", common.ErrDatabase, err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list jobs: %v", common.ErrDatabase, err)
	}
	return out, nil
}

func (r *SQLJobRepository) StartProcessing(ctx context.Context, id uuid.UUID, p StartParams) (*entity.Job, error) {
	opts, err := json.Marshal(p.Options)
	if err != nil {
		return nil, fmt.Errorf("encode analysis options: %w", err)
	}
	return r.transition(ctx, id, constants.JobStatusUploaded, map[string]any{
		"status":                string(constants.JobStatusProcessing),
		"selected_provider":     p.Provider,
		"analysis_options":      string(opts),
		"processing_started_at": r.timeArg(p.At),
	})
}

func (r *SQLJobRepository) Complete(ctx context.Context, id uuid.UUID, result *entity.AnalysisResult, at time.Time) (*entity.Job, error) {
	enc, err := encodeResult(result)
	if err != nil {
		return nil, err
	}
	return r.transition(ctx, id, constants.JobStatusProcessing, map[string]any{
		"status":       string(constants.JobStatusCompleted),
		"result":       enc,
		"completed_at": r.timeArg(at),
	})
}

func (r *SQLJobRepository) Fail(ctx context.Context, id uuid.UUID, message string, at time.Time) (*entity.Job, error) {
	return r.transition(ctx, id, constants.JobStatusProcessing, map[string]any{
		"status":    string(constants.JobStatusFailed),
		"error":     message,
		"failed_at": r.timeArg(at),
	})
}

// transition is a single conditional UPDATE; zero affected rows means the job
// is missing or another caller already moved it.
func (r *SQLJobRepository) transition(ctx context.Context, id uuid.UUID, from constants.JobStatus, set map[string]any) (*entity.Job, error) {
	upd := r.builder().Update(jobsTable)
	for _, col := range jobColumns {
		if v, ok := set[col]; ok {
			upd = upd.Set(col, v)
		}
	}
	q, args := upd.Where(entsql.And(
		entsql.EQ("id", id.String()),
		entsql.EQ("status", string(from)),
	)).Query()

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		r.log.Error("db.job.transition.failed", "job_id", id, "from", from, "error", err)
		return nil, fmt.Errorf("%w: update job: %v", common.ErrDatabase, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: rows affected: %v", common.ErrDatabase, err)
	}
	if n == 0 {
		cur, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, invalidStatus(id, cur.Status, from)
	}
	return r.Get(ctx, id)
}

func (r *SQLJobRepository) Close() error {
	err := r.drv.Close()
	if r.onClose != nil {
		r.onClose()
	}
	return err
}

// SQLite has no native timestamp type; times are stored as RFC 3339 text there.
func (r *SQLJobRepository) timeArg(t time.Time) any {
	t = t.UTC()
	if r.dialect == dialect.SQLite {
		return t.Format(time.RFC3339Nano)
	}
	return t
}

func (r *SQLJobRepository) optTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return r.timeArg(*t)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.Job, error) {
	var (
		id, status, filename, hash, opts string
		provider, result, errMsg         sql.NullString
		uploaded                         dbTime
		started, completed, failed       dbTime
		j                                entity.Job
	)
	if err := row.Scan(&id, &status, &filename, &uploaded, &j.FileSize, &hash,
		&j.ConsentGiven, &provider, &opts, &started, &completed, &failed, &result, &errMsg); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("stored job id %q: %w", id, err)
	}
	j.ID = parsed
	j.Status = constants.JobStatus(status)
	j.OriginalFilename = filename
	j.ContentHash = hash
	j.UploadedAt = uploaded.Time
	j.SelectedProvider = optString(provider)
	j.Error = optString(errMsg)
	j.ProcessingStartedAt = started.ptr()
	j.CompletedAt = completed.ptr()
	j.FailedAt = failed.ptr()
	if err := json.Unmarshal([]byte(opts), &j.AnalysisOptions); err != nil {
		return nil, fmt.Errorf("decode analysis options: %w", err)
	}
	if result.Valid && result.String != "" {
		var ar entity.AnalysisResult
		if err := json.Unmarshal([]byte(result.String), &ar); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		j.Result = &ar
	}
	return &j, nil
}

func encodeResult(r *entity.AnalysisResult) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode result: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func optString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// dbTime scans both native timestamps and the RFC 3339 text used on SQLite.
type dbTime struct {
	Time  time.Time
	Valid bool
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = dbTime{}
	case time.Time:
		*t = dbTime{Time: v.UTC(), Valid: true}
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
	return nil
}

func (t *dbTime) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parse time %q: %w", s, err)
	}
	*t = dbTime{Time: parsed.UTC(), Valid: true}
	return nil
}

func (t dbTime) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
