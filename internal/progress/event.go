package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart Stage = "JOB_START"
	StageUnitDone Stage = "UNIT_DONE"
	StageJobDone  Stage = "JOB_DONE"
	StageJobError Stage = "JOB_ERROR"
)

// Event captures one step of a job.
type Event struct {
	// JobID identifies the job the event belongs to.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Work is the platform/work id label of the job.
	Work string
	// Completed and Total are the running unit counters for UNIT_DONE and the
	// final counters for JOB_DONE.
	Completed int
	Total     int
	// Outcome is the unit outcome for UNIT_DONE events.
	Outcome string
	// Dur is the job wall time for JOB_DONE and JOB_ERROR.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError:
	case StageUnitDone:
		if e.Total <= 0 || e.Completed < 1 || e.Completed > e.Total {
			return fmt.Errorf("unit progress %d/%d out of range", e.Completed, e.Total)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Fraction returns Completed/Total, or 0 when Total is unknown.
func (e Event) Fraction() float64 {
	if e.Total <= 0 {
		return 0
	}
	return float64(e.Completed) / float64(e.Total)
}
