package domain

import (
	"context"
	"time"
)

// JobRecord is the persisted view of a job: enough to report its last known
// state and to resume polling after the originating caller is gone.
type JobRecord struct {
	JobID       string
	Kind        JobKind
	Provider    string
	Context     JobContext
	Status      EventStatus
	Attempt     int
	MaxAttempts int
	Progress    *int
	Message     string
	PrimaryURL  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// JobRepository persists job records. It is an observer of the event stream,
// never a source of truth for the polling loop.
type JobRepository interface {
	Create(ctx context.Context, rec *JobRecord) error
	ApplyEvent(ctx context.Context, ev ProgressEvent) error
	SetResult(ctx context.Context, jobID, primaryURL string, raw []byte) error
	GetByID(ctx context.Context, jobID string) (*JobRecord, error)
	ClaimStale(ctx context.Context, olderThan time.Duration, limit int) ([]JobRecord, error)
}
