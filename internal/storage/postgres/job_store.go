package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/serial-archiver/internal/novel"
)

const jobColumns = `id, user_id, platform, work_id, format, status, completed, total, title,
	artifact_path, artifact_sink_uri, artifact_size, artifact_sha256, artifact_duration_ms,
	error_text, submitted_at, started_at, finished_at`

// JobStore persists job records in Postgres.
type JobStore struct {
	pool  Pool
	table string
}

// NewJobStore wraps an existing pool. table defaults to "archive_jobs".
func NewJobStore(pool Pool, table string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableOrDefault(table, "archive_jobs")
	if err != nil {
		return nil, err
	}
	return &JobStore{pool: pool, table: table}, nil
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job novel.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if job.Status == "" {
		job.Status = novel.JobStatusPending
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, user_id, platform, work_id, format, status, submitted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, s.table)
	_, err := s.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		string(job.Work.Platform),
		job.Work.WorkID,
		string(job.Format),
		string(job.Status),
		job.Submitted,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob loads a job by id.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (novel.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, jobColumns, s.table)
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		return novel.Job{}, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// FindJob returns the latest job for a (user, work, format) tuple.
func (s *JobStore) FindJob(ctx context.Context, userID string, ref novel.WorkRef, format novel.Format) (novel.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
WHERE user_id = $1 AND platform = $2 AND work_id = $3 AND format = $4
ORDER BY submitted_at DESC LIMIT 1`, jobColumns, s.table)
	job, err := scanJob(s.pool.QueryRow(ctx, query, userID, string(ref.Platform), ref.WorkID, string(format)))
	if err != nil {
		return novel.Job{}, fmt.Errorf("find job: %w", err)
	}
	return job, nil
}

// MarkDownloading moves a job into the downloading state.
func (s *JobStore) MarkDownloading(ctx context.Context, jobID string, title string, started time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $2, title = $3, started_at = $4 WHERE id = $1`, s.table)
	return s.exec(ctx, "mark downloading", query, jobID, string(novel.JobStatusDownloading), title, started)
}

// UpdateProgress records the running completed/total counters.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, completed, total int) error {
	query := fmt.Sprintf(`UPDATE %s SET completed = $2, total = $3 WHERE id = $1`, s.table)
	return s.exec(ctx, "update progress", query, jobID, completed, total)
}

// CompleteJob stores the artifact descriptor and marks the job completed.
func (s *JobStore) CompleteJob(ctx context.Context, jobID string, artifact novel.Artifact, finished time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $2, artifact_path = $3, artifact_sink_uri = $4,
	artifact_size = $5, artifact_sha256 = $6, artifact_duration_ms = $7, error_text = '', finished_at = $8
WHERE id = $1`, s.table)
	return s.exec(ctx, "complete job", query,
		jobID,
		string(novel.JobStatusCompleted),
		artifact.Path,
		artifact.SinkURI,
		artifact.SizeBytes,
		artifact.SHA256,
		artifact.Duration.Milliseconds(),
		finished,
	)
}

// FailJob marks the job failed and keeps the error text.
func (s *JobStore) FailJob(ctx context.Context, jobID string, errText string, finished time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $2, error_text = $3, finished_at = $4 WHERE id = $1`, s.table)
	return s.exec(ctx, "fail job", query, jobID, string(novel.JobStatusFailed), errText, finished)
}

// ResetJob returns a job to pending and clears its previous outcome.
func (s *JobStore) ResetJob(ctx context.Context, jobID string, submitted time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $2, completed = 0, total = 0, artifact_path = '',
	artifact_sink_uri = '', artifact_size = 0, artifact_sha256 = '', artifact_duration_ms = 0,
	error_text = '', submitted_at = $3, started_at = NULL, finished_at = NULL
WHERE id = $1`, s.table)
	return s.exec(ctx, "reset job", query, jobID, string(novel.JobStatusPending), submitted)
}

func (s *JobStore) exec(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %v: %w", op, args[0], novel.ErrJobNotFound)
	}
	return nil
}

func scanJob(row pgx.Row) (novel.Job, error) {
	var (
		job                novel.Job
		platform, format   string
		status             string
		artifactPath       string
		artifactSinkURI    string
		artifactSize       int64
		artifactSHA        string
		artifactDurationMS int64
		started, finished  *time.Time
	)
	err := row.Scan(
		&job.ID,
		&job.UserID,
		&platform,
		&job.Work.WorkID,
		&format,
		&status,
		&job.Completed,
		&job.Total,
		&job.Title,
		&artifactPath,
		&artifactSinkURI,
		&artifactSize,
		&artifactSHA,
		&artifactDurationMS,
		&job.ErrorText,
		&job.Submitted,
		&started,
		&finished,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return novel.Job{}, novel.ErrJobNotFound
	}
	if err != nil {
		return novel.Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.Work.Platform = novel.Platform(platform)
	job.Format = novel.Format(format)
	job.Status = novel.JobStatus(status)
	job.Started = started
	job.Finished = finished
	if artifactPath != "" {
		job.Artifact = &novel.Artifact{
			Path:      artifactPath,
			SinkURI:   artifactSinkURI,
			SizeBytes: artifactSize,
			SHA256:    artifactSHA,
			Duration:  time.Duration(artifactDurationMS) * time.Millisecond,
		}
	}
	return job, nil
}
