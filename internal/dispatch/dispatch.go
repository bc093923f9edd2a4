// Package dispatch owns the server-side processing queue. Each media item has
// at most one row; workers take rows with ClaimNext, which hands a given row
// to exactly one caller.
package dispatch

import (
	"context"
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// DefaultMaxAttempts is applied to newly inserted rows.
const DefaultMaxAttempts = 3

// Row mirrors a video_processing_queue record.
type Row struct {
	ID          string     `json:"id"`
	MediaID     string     `json:"mediaId"`
	Status      Status     `json:"status"`
	Priority    int        `json:"priority"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"maxAttempts"`
	LastError   *string    `json:"lastError,omitempty"`
	QueuedAt    time.Time  `json:"queuedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Claim identifies a row a worker now owns. Attempts already counts this
// attempt.
type Claim struct {
	ID          string
	MediaID     string
	Attempts    int
	MaxAttempts int
}

// HasAttemptsLeft reports whether a failure on this claim may be retried.
func (c *Claim) HasAttemptsLeft() bool {
	return c.Attempts < c.MaxAttempts
}

type Stats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

func (s *Stats) add(status Status, n int) {
	switch status {
	case StatusQueued:
		s.Queued += n
	case StatusProcessing:
		s.Processing += n
	case StatusCompleted:
		s.Completed += n
	case StatusFailed:
		s.Failed += n
	}
}

// Store is the queue contract shared by the Postgres and in-memory backends.
type Store interface {
	// Enqueue inserts a queued row or resets the existing one to queued with
	// zero attempts, keeping the higher priority.
	Enqueue(ctx context.Context, mediaID string, priority int) error
	// ClaimNext returns nil when no row is eligible.
	ClaimNext(ctx context.Context) (*Claim, error)
	Complete(ctx context.Context, mediaID string) error
	// Fail parks the row as failed; only RetryFailed or Enqueue revive it.
	Fail(ctx context.Context, mediaID, message string) error
	// Requeue puts a processing row back to queued, keeping its attempts. The
	// row goes to the back of its priority band.
	Requeue(ctx context.Context, mediaID, message string) error
	RetryFailed(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
	Get(ctx context.Context, mediaID string) (*Row, error)
}
