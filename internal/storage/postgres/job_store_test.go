package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/serial-archiver/internal/novel"
)

var jobColumnNames = []string{
	"id", "user_id", "platform", "work_id", "format", "status", "completed", "total", "title",
	"artifact_path", "artifact_sink_uri", "artifact_size", "artifact_sha256", "artifact_duration_ms",
	"error_text", "submitted_at", "started_at", "finished_at",
}

func newMockJobStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewJobStore(mock, "")
	require.NoError(t, err)
	return store, mock
}

func TestNewJobStoreRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewJobStore(mock, "jobs; DROP TABLE x")
	require.Error(t, err)
	_, err = NewJobStore(nil, "")
	require.Error(t, err)
}

func TestJobStoreCreateJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	submitted := time.Unix(1700000000, 0).UTC()
	job := novel.Job{
		ID:        "job-1",
		UserID:    "user-1",
		Work:      novel.WorkRef{Platform: novel.PlatformNovelpia, WorkID: "42"},
		Format:    novel.FormatEPUB,
		Submitted: submitted,
	}

	mock.ExpectExec("INSERT INTO archive_jobs").
		WithArgs("job-1", "user-1", "novelpia", "42", "epub", "pending", submitted).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreGetJobScansArtifact(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	submitted := time.Unix(1700000000, 0).UTC()
	started := submitted.Add(time.Second)
	finished := submitted.Add(time.Minute)

	rows := pgxmock.NewRows(jobColumnNames).AddRow(
		"job-1", "user-1", "munpia", "abc", "txt", "completed", 10, 10, "Iron Blood",
		"/data/job-1/iron-blood.txt", "gs://bucket/job-1/iron-blood.txt", int64(2048), "deadbeef", int64(1500),
		"", submitted, &started, &finished,
	)
	mock.ExpectQuery("SELECT (.+) FROM archive_jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, novel.JobStatusCompleted, job.Status)
	require.Equal(t, novel.WorkRef{Platform: novel.PlatformMunpia, WorkID: "abc"}, job.Work)
	require.Equal(t, novel.FormatText, job.Format)
	require.Equal(t, 10, job.Completed)
	require.NotNil(t, job.Artifact)
	require.Equal(t, int64(2048), job.Artifact.SizeBytes)
	require.Equal(t, 1500*time.Millisecond, job.Artifact.Duration)
	require.Equal(t, started, *job.Started)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreGetJobNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	mock.ExpectQuery("SELECT (.+) FROM archive_jobs WHERE id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(jobColumnNames))

	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, novel.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreUpdateProgressMissingRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	mock.ExpectExec("UPDATE archive_jobs SET completed").
		WithArgs("job-1", 3, 10).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE archive_jobs SET completed").
		WithArgs("gone", 1, 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.UpdateProgress(context.Background(), "job-1", 3, 10))
	require.ErrorIs(t, store.UpdateProgress(context.Background(), "gone", 1, 1), novel.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreCompleteAndFail(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	finished := time.Unix(1700000100, 0).UTC()
	artifact := novel.Artifact{
		Path:      "/data/a.epub",
		SinkURI:   "s3://bucket/a.epub",
		SizeBytes: 10,
		SHA256:    "abc",
		Duration:  2 * time.Second,
	}

	mock.ExpectExec("UPDATE archive_jobs SET status").
		WithArgs("job-1", "completed", "/data/a.epub", "s3://bucket/a.epub", int64(10), "abc", int64(2000), finished).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE archive_jobs SET status").
		WithArgs("job-2", "failed", "listing failed", finished).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE archive_jobs SET status").
		WithArgs("job-2", "pending", finished).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.CompleteJob(context.Background(), "job-1", artifact, finished))
	require.NoError(t, store.FailJob(context.Background(), "job-2", "listing failed", finished))
	require.NoError(t, store.ResetJob(context.Background(), "job-2", finished))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJobStoreExecError(t *testing.T) {
	t.Parallel()

	store, mock := newMockJobStore(t)
	started := time.Unix(1, 0)
	mock.ExpectExec("UPDATE archive_jobs SET status").
		WithArgs("job-1", "downloading", "T", started).
		WillReturnError(errors.New("connection reset"))

	err := store.MarkDownloading(context.Background(), "job-1", "T", started)
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS archive_jobs").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS archive_jobs_tuple_idx").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS unit_cache").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, Migrate(context.Background(), mock, "archive_jobs", "unit_cache"))
	require.NoError(t, mock.ExpectationsWereMet())

	require.Error(t, Migrate(context.Background(), mock, "bad name", "unit_cache"))
}
