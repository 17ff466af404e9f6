package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/serial-archiver/internal/progress"
)

// PrometheusSink exports job lifecycle metrics: started and finished jobs,
// the running gauge, job wall time and the per-job unit count.
type PrometheusSink struct {
	jobsStarted  prometheus.Counter
	jobsFinished *prometheus.CounterVec
	jobsRunning  prometheus.Gauge
	jobRuntime   *prometheus.HistogramVec
	jobUnits     prometheus.Histogram
	unitProgress *prometheus.GaugeVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archiver_jobs_started_total",
			Help: "Total jobs that have started acquisition.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_jobs_finished_total",
			Help: "Total jobs finished, partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "archiver_jobs_running",
			Help: "Current number of running jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archiver_job_runtime_seconds",
			Help:    "Wall time per finished job.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"result"}),
		jobUnits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "archiver_job_units",
			Help:    "Units per completed job.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 9),
		}),
		unitProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "archiver_job_progress_ratio",
			Help: "Completed fraction of each running job.",
		}, []string{"job_id"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsFinished,
		s.jobsRunning,
		s.jobRuntime,
		s.jobUnits,
		s.unitProgress,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageJobStart:
			s.jobsStarted.Inc()
			if s.tracker.start(evt.JobID) {
				s.jobsRunning.Inc()
			}
		case progress.StageUnitDone:
			if s.tracker.running(evt.JobID) {
				s.unitProgress.WithLabelValues(evt.JobID).Set(evt.Fraction())
			}
		case progress.StageJobDone:
			s.finish(evt, "success")
			s.jobUnits.Observe(float64(evt.Total))
		case progress.StageJobError:
			s.finish(evt, "error")
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.jobsFinished.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
	s.unitProgress.DeleteLabelValues(evt.JobID)
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu   sync.Mutex
	jobs map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{jobs: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[id]; ok {
		return false
	}
	t.jobs[id] = struct{}{}
	return true
}

func (t *jobTracker) running(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.jobs[id]
	return ok
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[id]; !ok {
		return false
	}
	delete(t.jobs, id)
	return true
}
