package novel

import (
	"context"
	"io"
	"time"
)

// JobStore persists job records.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	FindJob(ctx context.Context, userID string, ref WorkRef, format Format) (Job, error)
	MarkDownloading(ctx context.Context, jobID string, title string, started time.Time) error
	UpdateProgress(ctx context.Context, jobID string, completed, total int) error
	CompleteJob(ctx context.Context, jobID string, artifact Artifact, finished time.Time) error
	FailJob(ctx context.Context, jobID string, errText string, finished time.Time) error
	ResetJob(ctx context.Context, jobID string, submitted time.Time) error
}

// UnitCache is the shared store of previously fetched units.
type UnitCache interface {
	Get(ctx context.Context, workID, unitID string) (CacheEntry, error)
	Put(ctx context.Context, entry CacheEntry) error
	Exists(ctx context.Context, workID, unitID string) (bool, error)
	GetAllForWork(ctx context.Context, workID string) ([]CacheEntry, error)
}

// Fetcher retrieves work metadata, listings and unit content from a platform.
type Fetcher interface {
	FetchWorkDetail(ctx context.Context, ref WorkRef) (Work, error)
	FetchUnitListingPage(ctx context.Context, ref WorkRef, page int) ([]Unit, error)
	FetchUnitContent(ctx context.Context, ref WorkRef, unitID string) (UnitContent, error)
	ListingPageSize(p Platform) int
}

// ImageFetcher downloads embedded images. It returns the bytes and the
// reported content type.
type ImageFetcher interface {
	FetchImage(ctx context.Context, url string) ([]byte, string, error)
}

// BlobStore writes finished artifacts to an external sink and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, body io.Reader) (string, error)
}

// Publisher pushes job lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for artifact integrity.
type Hasher interface {
	Hash(r io.Reader) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
