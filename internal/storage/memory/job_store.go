package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/serial-archiver/internal/novel"
)

// JobStore provides an in-memory implementation for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]novel.Job
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]novel.Job),
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job novel.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	if job.Status == "" {
		job.Status = novel.JobStatusPending
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (novel.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return novel.Job{}, fmt.Errorf("job %s: %w", jobID, novel.ErrJobNotFound)
	}
	return copyJob(job), nil
}

// FindJob returns the most recently submitted job for the tuple.
func (s *JobStore) FindJob(_ context.Context, userID string, ref novel.WorkRef, format novel.Format) (novel.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		found novel.Job
		ok    bool
	)
	for _, job := range s.jobs {
		if job.UserID != userID || job.Work != ref || job.Format != format {
			continue
		}
		if !ok || job.Submitted.After(found.Submitted) {
			found, ok = job, true
		}
	}
	if !ok {
		return novel.Job{}, novel.ErrJobNotFound
	}
	return copyJob(found), nil
}

// MarkDownloading moves a job into the downloading state.
func (s *JobStore) MarkDownloading(_ context.Context, jobID string, title string, started time.Time) error {
	return s.update(jobID, func(job *novel.Job) {
		job.Status = novel.JobStatusDownloading
		job.Title = title
		job.Started = pointerTime(started)
	})
}

// UpdateProgress records the running completed/total counters.
func (s *JobStore) UpdateProgress(_ context.Context, jobID string, completed, total int) error {
	return s.update(jobID, func(job *novel.Job) {
		job.Completed = completed
		job.Total = total
	})
}

// CompleteJob stores the artifact and marks the job completed.
func (s *JobStore) CompleteJob(_ context.Context, jobID string, artifact novel.Artifact, finished time.Time) error {
	return s.update(jobID, func(job *novel.Job) {
		job.Status = novel.JobStatusCompleted
		job.Artifact = &artifact
		job.ErrorText = ""
		job.Finished = pointerTime(finished)
	})
}

// FailJob marks the job failed and keeps the error text.
func (s *JobStore) FailJob(_ context.Context, jobID string, errText string, finished time.Time) error {
	return s.update(jobID, func(job *novel.Job) {
		job.Status = novel.JobStatusFailed
		job.ErrorText = errText
		job.Finished = pointerTime(finished)
	})
}

// ResetJob returns a finished job to pending for resubmission.
func (s *JobStore) ResetJob(_ context.Context, jobID string, submitted time.Time) error {
	return s.update(jobID, func(job *novel.Job) {
		job.Status = novel.JobStatusPending
		job.Completed = 0
		job.Total = 0
		job.Artifact = nil
		job.ErrorText = ""
		job.Submitted = submitted
		job.Started = nil
		job.Finished = nil
	})
}

func (s *JobStore) update(jobID string, mutate func(job *novel.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, novel.ErrJobNotFound)
	}
	mutate(&job)
	s.jobs[jobID] = job
	return nil
}

func copyJob(job novel.Job) novel.Job {
	if job.Artifact != nil {
		a := *job.Artifact
		job.Artifact = &a
	}
	return job
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
