// Package audit defines the domain types and collaborator contracts shared by
// the audit pipeline.
package audit

import (
	"context"
	"io"
	"time"
)

// Store persists audit jobs. The pipeline is the only writer of status and
// summary while a run is active.
type Store interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateStatus(ctx context.Context, jobID string, status Status, errText string, summary *Summary) error
	GetJob(ctx context.Context, jobID string) (Job, error)
}

// Fetcher retrieves a single URL. Implementations never retry.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Analyzer runs the SEO and accessibility rule families against a page.
type Analyzer interface {
	Analyze(ctx context.Context, page FetchResponse) (Analysis, error)
}

// ContentGapAnalyzer asks an external service for missing-content suggestions.
type ContentGapAnalyzer interface {
	AnalyzeContentGaps(ctx context.Context, pages []PageDigest) ([]ContentGap, error)
}

// BlobStore writes report artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RobotsPolicy decides whether a URL may be fetched.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// RateLimiter paces requests per host.
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Hasher computes content fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Queue hands run requests from the API to background workers.
type Queue interface {
	Enqueue(ctx context.Context, req RunRequest) error
	Dequeue(ctx context.Context) (RunRequest, error)
}
