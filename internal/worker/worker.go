// Package worker runs queued archive jobs end to end.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/JakeFAU/serial-archiver/internal/acquire"
	"github.com/JakeFAU/serial-archiver/internal/metrics"
	"github.com/JakeFAU/serial-archiver/internal/novel"
	"github.com/JakeFAU/serial-archiver/internal/progress"
)

// Config controls Worker behavior.
type Config struct {
	// OutputDir is the local directory artifacts are written under, one
	// subdirectory per job.
	OutputDir string
	// Concurrency overrides the coordinator's per-job pool size when > 0.
	Concurrency int
}

// Packager renders acquired units into a document on disk.
type Packager interface {
	Package(ctx context.Context, format novel.Format, work novel.Work, units []novel.AcquiredUnit, dir string) (string, error)
}

// Deps groups the collaborators a Worker needs.
type Deps struct {
	Queue       novel.Queue
	JobStore    novel.JobStore
	Fetcher     novel.Fetcher
	Coordinator *acquire.Coordinator
	Packager    Packager
	BlobStore   novel.BlobStore
	Publisher   novel.Publisher
	Hasher      novel.Hasher
	Clock       novel.Clock
	Progress    progress.Emitter
}

// Report is the outcome of one ProcessJob call.
type Report struct {
	Job   novel.Job
	Units []novel.AcquiredUnit
}

// Worker consumes queue items and executes the archive pipeline.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Progress == nil {
		deps.Progress = progress.Nop{}
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "output"
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}
}

// Run blocks, consuming queue items until the context finishes or the
// queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("queue dequeue failed, worker stopping", zap.Error(err))
			return
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		metrics.IncActiveWorkers()
		w.ProcessJob(ctx, item.JobID)
		metrics.DecActiveWorkers()
	}
}

// ProcessJob runs one job to a final state. Failures are recorded on the
// job rather than returned; the report carries the final record.
func (w *Worker) ProcessJob(ctx context.Context, jobID string) Report {
	job, err := w.deps.JobStore.GetJob(ctx, jobID)
	if err != nil {
		w.logger.Error("load job failed", zap.String("job_id", jobID), zap.Error(err))
		return Report{Job: novel.Job{ID: jobID}}
	}
	if job.Status != novel.JobStatusPending {
		w.logger.Info("skipping job that is not pending",
			zap.String("job_id", jobID),
			zap.String("status", string(job.Status)),
		)
		return Report{Job: job}
	}

	started := w.deps.Clock.Now()
	logger := w.logger.With(zap.String("job_id", job.ID), zap.String("work", job.Work.String()))
	w.emit(progress.Event{JobID: job.ID, Stage: progress.StageJobStart, Work: job.Work.String()})

	// In-flight fetches are not canceled by shutdown; the job runs to a final state.
	runCtx := context.WithoutCancel(ctx)
	artifact, units, err := w.run(runCtx, &job, started, logger)
	finished := w.deps.Clock.Now()
	if err != nil {
		return Report{Job: w.fail(runCtx, job, err, started, finished, logger), Units: units}
	}

	if err := w.deps.JobStore.CompleteJob(runCtx, job.ID, artifact, finished); err != nil {
		logger.Error("complete job failed", zap.Error(err))
		return Report{Job: job, Units: units}
	}
	job.Status = novel.JobStatusCompleted
	job.Completed = job.Total
	job.Artifact = &artifact
	job.Finished = &finished
	metrics.ObserveArtifact(string(job.Format), artifact.SizeBytes)
	w.emit(progress.Event{
		JobID:     job.ID,
		Stage:     progress.StageJobDone,
		Work:      job.Work.String(),
		Completed: job.Total,
		Total:     job.Total,
		Dur:       finished.Sub(started),
	})
	w.notify(runCtx, job, finished, logger)
	logger.Info("job completed",
		zap.String("path", artifact.Path),
		zap.String("sink_uri", artifact.SinkURI),
		zap.String("size", humanize.Bytes(uint64(artifact.SizeBytes))),
		zap.Duration("took", artifact.Duration),
	)
	return Report{Job: job, Units: units}
}

func (w *Worker) run(ctx context.Context, job *novel.Job, started time.Time, logger *zap.Logger) (novel.Artifact, []novel.AcquiredUnit, error) {
	work, err := w.deps.Fetcher.FetchWorkDetail(ctx, job.Work)
	if err != nil {
		return novel.Artifact{}, nil, fmt.Errorf("work detail: %w", err)
	}
	if work.Degraded {
		logger.Warn("work detail degraded", zap.String("note", work.ErrorNote))
	}
	job.Title = work.Title
	if err := w.deps.JobStore.MarkDownloading(ctx, job.ID, work.Title, started); err != nil {
		return novel.Artifact{}, nil, fmt.Errorf("mark downloading: %w", err)
	}

	units, err := w.deps.Coordinator.FetchListing(ctx, job.Work, work.TotalUnits)
	if err != nil {
		return novel.Artifact{}, nil, fmt.Errorf("listing: %w", err)
	}
	job.Total = len(units)
	if err := w.deps.JobStore.UpdateProgress(ctx, job.ID, 0, job.Total); err != nil {
		return novel.Artifact{}, nil, fmt.Errorf("record total: %w", err)
	}

	acquired := w.deps.Coordinator.RunJob(ctx, job.Work, units, w.cfg.Concurrency, func(completed, total int) {
		w.onProgress(ctx, job, completed, total, logger)
	})
	summary := acquire.Summarize(acquired)
	logger.Info("units acquired",
		zap.Int("fetched", summary.Fetched),
		zap.Int("cached", summary.Cached),
		zap.Int("not_subscribed", summary.NotSubscribed),
		zap.Int("failed", summary.Failed),
	)

	dir := filepath.Join(w.cfg.OutputDir, job.ID)
	path, err := w.deps.Packager.Package(ctx, job.Format, work, acquired, dir)
	if err != nil {
		return novel.Artifact{}, acquired, fmt.Errorf("package: %w", err)
	}
	artifact, err := w.store(ctx, job, path)
	if err != nil {
		return novel.Artifact{}, acquired, err
	}
	artifact.Duration = w.deps.Clock.Now().Sub(started)
	return artifact, acquired, nil
}

func (w *Worker) onProgress(ctx context.Context, job *novel.Job, completed, total int, logger *zap.Logger) {
	if err := w.deps.JobStore.UpdateProgress(ctx, job.ID, completed, total); err != nil {
		logger.Warn("persist progress failed", zap.Int("completed", completed), zap.Error(err))
	}
	w.emit(progress.Event{
		JobID:     job.ID,
		Stage:     progress.StageUnitDone,
		Work:      job.Work.String(),
		Completed: completed,
		Total:     total,
	})
}

// store hashes the packaged file and uploads it to the blob store.
func (w *Worker) store(ctx context.Context, job *novel.Job, path string) (novel.Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return novel.Artifact{}, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	info, err := f.Stat()
	if err != nil {
		return novel.Artifact{}, fmt.Errorf("stat artifact: %w", err)
	}
	digest, err := w.deps.Hasher.Hash(f)
	if err != nil {
		return novel.Artifact{}, fmt.Errorf("hash artifact: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return novel.Artifact{}, fmt.Errorf("rewind artifact: %w", err)
	}

	artifact := novel.Artifact{Path: path, SizeBytes: info.Size(), SHA256: digest}
	if w.deps.BlobStore == nil {
		return artifact, nil
	}
	blobPath := job.ID + "/" + filepath.Base(path)
	uri, err := w.deps.BlobStore.PutObject(ctx, blobPath, job.Format.ContentType(), f)
	if err != nil {
		return novel.Artifact{}, fmt.Errorf("put object: %w", err)
	}
	artifact.SinkURI = uri
	return artifact, nil
}

func (w *Worker) fail(ctx context.Context, job novel.Job, cause error, started, finished time.Time, logger *zap.Logger) novel.Job {
	logger.Error("job failed", zap.Error(cause))
	if err := w.deps.JobStore.FailJob(ctx, job.ID, cause.Error(), finished); err != nil {
		logger.Error("fail job status update", zap.Error(err))
		return job
	}
	job.Status = novel.JobStatusFailed
	job.ErrorText = cause.Error()
	job.Finished = &finished
	w.emit(progress.Event{
		JobID: job.ID,
		Stage: progress.StageJobError,
		Work:  job.Work.String(),
		Dur:   finished.Sub(started),
		Note:  failureNote(cause),
	})
	w.notify(ctx, job, finished, logger)
	return job
}

func (w *Worker) notify(ctx context.Context, job novel.Job, at time.Time, logger *zap.Logger) {
	if w.deps.Publisher == nil {
		return
	}
	n := novel.NotificationFor(job, at)
	id, err := w.deps.Publisher.Publish(ctx, n.Event, n)
	if err != nil {
		logger.Warn("publish notification failed", zap.String("event", n.Event), zap.Error(err))
		return
	}
	logger.Debug("notification published", zap.String("event", n.Event), zap.String("message_id", id))
}

func (w *Worker) emit(evt progress.Event) {
	evt.TS = w.deps.Clock.Now()
	w.deps.Progress.Emit(evt)
}

func failureNote(err error) string {
	var fe *novel.FetchError
	if errors.As(err, &fe) {
		return fmt.Sprintf("%s: %s", fe.Op, fe.Kind)
	}
	return err.Error()
}
