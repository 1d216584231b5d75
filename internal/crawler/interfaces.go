package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoWork is returned by claim operations when nothing is eligible.
	ErrNoWork = errors.New("no work available")
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// LanguageDetector guesses the content language of an HTML document.
// An empty code means the language could not be determined.
type LanguageDetector interface {
	Detect(html string) (string, float64)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Hasher computes digests for content addressing.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces primary keys.
type IDGenerator interface {
	NewID() (uuid.UUID, error)
}

// ResultClaim holds a row lock on one FetchResult until it is completed,
// failed or released.
type ResultClaim interface {
	Result() ClaimedResult
	// Complete writes the snapshot and marks the result processed atomically.
	Complete(ctx context.Context, snapshot Snapshot) error
	// Fail marks the result failed, keeping its HTML for replay.
	Fail(ctx context.Context, reason string) error
	// Release drops the lock without changing the row.
	Release(ctx context.Context)
}

// SnapshotClaim holds a lock on the newest unchecked snapshot of a listing.
type SnapshotClaim interface {
	ListingID() string
	Latest() Snapshot
	Previous() Snapshot
	// Commit writes the change records and flags the latest snapshot as checked.
	Commit(ctx context.Context, records []ChangeRecord) error
	Release(ctx context.Context)
}
