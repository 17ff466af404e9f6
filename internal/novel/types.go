package novel

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies the remote site a work is hosted on.
type Platform string

// Supported platforms.
const (
	PlatformNovelpia Platform = "novelpia"
	PlatformMunpia   Platform = "munpia"
)

// Platforms lists every supported platform in a stable order.
func Platforms() []Platform {
	return []Platform{PlatformNovelpia, PlatformMunpia}
}

// ParsePlatform normalizes and validates a platform tag.
func ParsePlatform(raw string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Platforms() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q", raw)
}

// Format is the requested output representation.
type Format string

// Output formats.
const (
	FormatText Format = "txt"
	FormatHTML Format = "html"
	FormatEPUB Format = "epub"
)

// ParseFormat validates a requested output format.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case FormatText, FormatHTML, FormatEPUB:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q", raw)
	}
}

// Extension returns the file extension (with dot) for the format.
func (f Format) Extension() string {
	return "." + string(f)
}

// ContentType returns the MIME type of an artifact in this format.
func (f Format) ContentType() string {
	switch f {
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatEPUB:
		return "application/epub+zip"
	default:
		return "text/plain; charset=utf-8"
	}
}

// WorkStatus is the serialization lifecycle of a work.
type WorkStatus string

// Work lifecycle values.
const (
	WorkStatusOngoing   WorkStatus = "ongoing"
	WorkStatusCompleted WorkStatus = "completed"
	WorkStatusUnknown   WorkStatus = "unknown"
)

// WorkRef is the immutable identity of a work.
type WorkRef struct {
	Platform Platform `json:"platform"`
	WorkID   string   `json:"work_id"`
}

func (r WorkRef) String() string {
	return string(r.Platform) + "/" + r.WorkID
}

// Work holds the metadata scraped from a work's detail page. A Work with
// Degraded set is a stub returned after the detail fetch gave up.
type Work struct {
	WorkRef
	Title          string     `json:"title"`
	Author         string     `json:"author"`
	Tags           []string   `json:"tags,omitempty"`
	TotalUnits     int        `json:"total_units"`
	FreeUnits      int        `json:"free_units"`
	PaidUnits      int        `json:"paid_units"`
	WordCount      int        `json:"word_count"`
	Status         WorkStatus `json:"status"`
	LatestUnitName string     `json:"latest_unit_name,omitempty"`
	LatestUnitDate string     `json:"latest_unit_date,omitempty"`
	Views          int        `json:"views"`
	Likes          int        `json:"likes"`
	Degraded       bool       `json:"degraded,omitempty"`
	ErrorNote      string     `json:"error_note,omitempty"`
	FetchedAt      time.Time  `json:"fetched_at"`
}

// DegradedStub builds the minimal Work returned when detail retrieval is exhausted.
func DegradedStub(ref WorkRef, note string, now time.Time) Work {
	return Work{
		WorkRef:   ref,
		Title:     ref.WorkID,
		Status:    WorkStatusUnknown,
		Degraded:  true,
		ErrorNote: note,
		FetchedAt: now,
	}
}

// Unit is one chapter of a work as it appears in the listing. Index is only
// meaningful after all listing pages have been merged.
type Unit struct {
	WorkID    string `json:"work_id"`
	ID        string `json:"unit_id"`
	Title     string `json:"title"`
	Index     int    `json:"index"`
	Paid      bool   `json:"paid"`
	Purchased bool   `json:"purchased"`
	Locked    bool   `json:"locked"`
}

// Entitled reports whether the session may read the unit.
func (u Unit) Entitled() bool {
	if u.Locked {
		return false
	}
	return !u.Paid || u.Purchased
}

// UnitContent is the body of a unit in both representations.
type UnitContent struct {
	Title  string `json:"title"`
	Markup string `json:"markup,omitempty"`
	Text   string `json:"text,omitempty"`
}

// CacheEntry is the shared, ownerless cached copy of one unit.
type CacheEntry struct {
	WorkID    string    `json:"work_id"`
	UnitID    string    `json:"unit_id"`
	Title     string    `json:"title"`
	Markup    string    `json:"markup"`
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Content returns the cached body as UnitContent.
func (e CacheEntry) Content() UnitContent {
	return UnitContent{Title: e.Title, Markup: e.Markup, Text: e.Text}
}

// Outcome records how a unit was resolved during a job.
type Outcome string

// Unit outcomes.
const (
	OutcomeFetched       Outcome = "fetched"
	OutcomeCached        Outcome = "cached"
	OutcomeNotSubscribed Outcome = "not_subscribed"
	OutcomeFailed        Outcome = "failed"
)

// Sentinel bodies recorded in place of content.
const (
	SentinelNotSubscribed = "This chapter is not available: it has not been purchased or is locked."
	SentinelFailed        = "This chapter could not be downloaded."
)

// AcquiredUnit is a unit plus the content resolved for it.
type AcquiredUnit struct {
	Unit
	Content UnitContent `json:"content"`
	Outcome Outcome     `json:"outcome"`
	Err     string      `json:"error,omitempty"`
}

// HasContent reports whether the unit carries real chapter content.
func (a AcquiredUnit) HasContent() bool {
	return a.Outcome == OutcomeFetched || a.Outcome == OutcomeCached
}

// DisplayTitle prefers the fetched title and falls back to the listing title.
func (a AcquiredUnit) DisplayTitle() string {
	if t := strings.TrimSpace(a.Content.Title); t != "" {
		return t
	}
	if t := strings.TrimSpace(a.Title); t != "" {
		return t
	}
	return fmt.Sprintf("Chapter %d", a.Index+1)
}

// JobStatus represents the lifecycle state of an acquisition job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending     JobStatus = "pending"
	JobStatusDownloading JobStatus = "downloading"
	JobStatusCompleted   JobStatus = "completed"
	JobStatusFailed      JobStatus = "failed"
)

// Active reports whether the job is still queued or running.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusDownloading
}

// Artifact describes the finished document of a job.
type Artifact struct {
	Path      string        `json:"path"`
	SinkURI   string        `json:"sink_uri,omitempty"`
	SizeBytes int64         `json:"size_bytes"`
	SHA256    string        `json:"sha256,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Job is one user's request for one work in one format.
type Job struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Work      WorkRef    `json:"work"`
	Format    Format     `json:"format"`
	Status    JobStatus  `json:"status"`
	Completed int        `json:"completed"`
	Total     int        `json:"total"`
	Title     string     `json:"title,omitempty"`
	Artifact  *Artifact  `json:"artifact,omitempty"`
	ErrorText string     `json:"error_text,omitempty"`
	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Attempt   int
	Submitted int64
}

// Job notification events.
const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

// JobNotification is the payload published when a job reaches a final state.
type JobNotification struct {
	Event     string    `json:"event"`
	JobID     string    `json:"job_id"`
	UserID    string    `json:"user_id"`
	Work      WorkRef   `json:"work"`
	Format    Format    `json:"format"`
	Title     string    `json:"title,omitempty"`
	SinkURI   string    `json:"sink_uri,omitempty"`
	SHA256    string    `json:"sha256,omitempty"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// NotificationFor builds the final-state notification for a job.
func NotificationFor(job Job, at time.Time) JobNotification {
	n := JobNotification{
		Event:  EventJobCompleted,
		JobID:  job.ID,
		UserID: job.UserID,
		Work:   job.Work,
		Format: job.Format,
		Title:  job.Title,
		Error:  job.ErrorText,
		At:     at,
	}
	if job.Status == JobStatusFailed {
		n.Event = EventJobFailed
	}
	if job.Artifact != nil {
		n.SinkURI = job.Artifact.SinkURI
		n.SHA256 = job.Artifact.SHA256
		n.SizeBytes = job.Artifact.SizeBytes
	}
	return n
}
