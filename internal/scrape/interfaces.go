package scrape

import (
	"context"
	"io"
	"time"
)

// OwnerStore reads and atomically mutates the per-owner quota ledger.
type OwnerStore interface {
	Get(ctx context.Context, ownerID string) (Owner, error)
	// Reserve debits points quota points and parallel concurrency slots in
	// a single atomic read-modify-write. It returns ErrPreconditionFailed
	// without debiting anything when either balance is insufficient.
	Reserve(ctx context.Context, ownerID string, points, parallel int) error
	// Refund credits the ledger back. A refund never fails a precondition.
	Refund(ctx context.Context, ownerID string, points, parallel int) error
}

// JobStore persists job records.
type JobStore interface {
	Create(ctx context.Context, job Job) error
	Update(ctx context.Context, job Job) error
	Get(ctx context.Context, jobID string) (Job, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Job, error)
}

// Fetcher performs a single fetch attempt for one URL through one proxy.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor turns raw HTML into structured content. Implementations are
// pure and degrade best-effort on malformed input; they never fail.
type Extractor interface {
	Parse(url string, rawHTML []byte) Content
}

// Notifier delivers a completion summary to the owner. Delivery is
// best-effort; the caller logs errors and never fails the job on them.
type Notifier interface {
	Notify(ctx context.Context, owner Owner, summary Summary) error
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Queue provides enqueue/dequeue semantics for reserved job runs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// JobIDs produces per-owner, time-sortable job identifiers.
type JobIDs interface {
	Next(ownerID string) string
}

// QueueItem wraps a job that has passed validation and reservation and is
// ready to run.
type QueueItem struct {
	Job       Job
	Submitted int64
}
