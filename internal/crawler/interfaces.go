package crawler

import (
	"context"
	"time"
)

// Session is one remote browsing session. All navigation passes through it.
type Session interface {
	// EnsureReady starts the session if needed. It is idempotent and wraps
	// launch failures with ErrSessionInit.
	EnsureReady(ctx context.Context) error
	// IsReady is a non-blocking readiness probe.
	IsReady() bool
	// Close releases all session resources. Safe to call repeatedly.
	Close() error
	// Navigate loads url and waits for it to settle within the session's
	// navigation timeout, failing with ErrNavigationTimeout otherwise.
	Navigate(ctx context.Context, url string) error
	// Reveal performs one incremental content-reveal action.
	Reveal(ctx context.Context) error
	// Snapshot returns the current document markup.
	Snapshot(ctx context.Context) (string, error)
}

// RunStore owns all Run and ResultSet state. Mutations are atomic with
// respect to concurrent readers.
type RunStore interface {
	CreateRun(ctx context.Context, runID string, total int, label string) (Run, error)
	StartRun(ctx context.Context, runID string) error
	UpdateProgress(ctx context.Context, runID string, current, found int) error
	Complete(ctx context.Context, runID string, result ResultSet) error
	Fail(ctx context.Context, runID string, message string) error
	GetProgress(ctx context.Context, runID string) (Run, error)
	GetResult(ctx context.Context, resultID string) (ResultSet, error)
	GetResultByRun(ctx context.Context, runID string) (ResultSet, error)
	// SubscribeProgress yields a snapshot whenever the run's observable
	// fields change and closes the channel after the terminal snapshot or
	// when ctx ends.
	SubscribeProgress(ctx context.Context, runID string) (<-chan Run, error)
}

// ResultArchive is the durable backing store for completed result sets.
type ResultArchive interface {
	SaveResult(ctx context.Context, result ResultSet) error
	LoadResult(ctx context.Context, resultID string) (ResultSet, error)
	LoadResultByRun(ctx context.Context, runID string) (ResultSet, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Estimator supplies reach metrics for a candidate.
type Estimator interface {
	Estimate(candidate CandidateRecord) Estimates
}

// LandingAnalyzer summarizes a destination page.
type LandingAnalyzer interface {
	Analyze(ctx context.Context, url string) (LandingPage, error)
}

// MLService is the prediction/training collaborator.
type MLService interface {
	Predict(ctx context.Context, features Features) (Prediction, error)
	Train(ctx context.Context, records []Features) (TrainReport, error)
}

// Queue provides enqueue/dequeue semantics for queued runs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem wraps a run waiting for an execution slot.
type QueueItem struct {
	RunID     string
	Request   JobRequest
	Submitted time.Time
}

// CompletionEvent is published after a run reaches Done.
type CompletionEvent struct {
	RunID       string    `json:"run_id"`
	ResultID    string    `json:"result_id"`
	Label       string    `json:"label"`
	Records     int       `json:"records"`
	CompletedAt time.Time `json:"completed_at"`
}
