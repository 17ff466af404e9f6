// Package jobs implements the job submission and query surface shared by the
// HTTP API and the CLI.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/serial-archiver/internal/metrics"
	"github.com/JakeFAU/serial-archiver/internal/novel"
	"github.com/JakeFAU/serial-archiver/internal/platform"
)

var (
	// ErrArtifactNotReady is returned while a job has not completed.
	ErrArtifactNotReady = errors.New("artifact not ready")
	// ErrInvalidRequest wraps submission validation failures.
	ErrInvalidRequest = errors.New("invalid request")
)

// Submission results recorded by metrics.ObserveJobSubmission.
const (
	SubmissionCreated     = "created"
	SubmissionResubmitted = "resubmitted"
	SubmissionExisting    = "existing"
)

// Enqueuer hands a job to the workers; dispatcher.Dispatcher satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, item novel.QueueItem) error
}

// Service creates, resubmits and reports on archive jobs.
type Service struct {
	store        novel.JobStore
	queue        Enqueuer
	ids          novel.IDGenerator
	clock        novel.Clock
	logger       *zap.Logger
	queueTimeout time.Duration
}

// NewService wires a Service.
func NewService(store novel.JobStore, queue Enqueuer, ids novel.IDGenerator, clock novel.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:        store,
		queue:        queue,
		ids:          ids,
		clock:        clock,
		logger:       logger,
		queueTimeout: 5 * time.Second,
	}
}

// SubmitJob requests an archive of ref in format for userID. An active job
// for the same tuple is returned as is; a finished or failed one is reset
// and queued again.
func (s *Service) SubmitJob(ctx context.Context, userID string, ref novel.WorkRef, format novel.Format) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	strategy, err := platform.Lookup(ref.Platform)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := strategy.ValidateID(ref.WorkID); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if _, err := novel.ParseFormat(string(format)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	now := s.clock.Now()
	existing, err := s.store.FindJob(ctx, userID, ref, format)
	switch {
	case err == nil && existing.Status.Active():
		metrics.ObserveJobSubmission(SubmissionExisting)
		s.logger.Debug("job already active", zap.String("job_id", existing.ID))
		return existing.ID, nil
	case err == nil:
		if err := s.store.ResetJob(ctx, existing.ID, now); err != nil {
			return "", fmt.Errorf("reset job: %w", err)
		}
		if err := s.enqueue(ctx, existing.ID, now); err != nil {
			return "", err
		}
		metrics.ObserveJobSubmission(SubmissionResubmitted)
		s.logger.Info("job resubmitted", zap.String("job_id", existing.ID), zap.String("work", ref.String()))
		return existing.ID, nil
	case !errors.Is(err, novel.ErrJobNotFound):
		return "", fmt.Errorf("find job: %w", err)
	}

	jobID, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	job := novel.Job{
		ID:        jobID,
		UserID:    userID,
		Work:      ref,
		Format:    format,
		Status:    novel.JobStatusPending,
		Submitted: now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	if err := s.enqueue(ctx, jobID, now); err != nil {
		return "", err
	}
	metrics.ObserveJobSubmission(SubmissionCreated)
	s.logger.Info("job submitted",
		zap.String("job_id", jobID),
		zap.String("user_id", userID),
		zap.String("work", ref.String()),
		zap.String("format", string(format)),
	)
	return jobID, nil
}

func (s *Service) enqueue(ctx context.Context, jobID string, now time.Time) error {
	queueCtx, cancel := context.WithTimeout(ctx, s.queueTimeout)
	defer cancel()
	item := novel.QueueItem{JobID: jobID, Attempt: 1, Submitted: now.Unix()}
	if err := s.queue.Enqueue(queueCtx, item); err != nil {
		if failErr := s.store.FailJob(context.WithoutCancel(ctx), jobID, "enqueue failed: "+err.Error(), s.clock.Now()); failErr != nil {
			s.logger.Warn("mark unqueued job failed", zap.String("job_id", jobID), zap.Error(failErr))
		}
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// GetJobStatus returns the job record.
func (s *Service) GetJobStatus(ctx context.Context, jobID string) (novel.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return novel.Job{}, fmt.Errorf("job status: %w", err)
	}
	return job, nil
}

// GetFinishedArtifact returns the artifact of a completed job, or
// ErrArtifactNotReady.
func (s *Service) GetFinishedArtifact(ctx context.Context, jobID string) (novel.Artifact, error) {
	job, err := s.GetJobStatus(ctx, jobID)
	if err != nil {
		return novel.Artifact{}, err
	}
	if job.Status != novel.JobStatusCompleted || job.Artifact == nil {
		return novel.Artifact{}, fmt.Errorf("job %s is %s: %w", jobID, job.Status, ErrArtifactNotReady)
	}
	return *job.Artifact, nil
}
