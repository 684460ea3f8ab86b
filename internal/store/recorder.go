package store

import (
	"context"
	"time"

	"asyncgen/internal/domain"
	"asyncgen/internal/events"
	"asyncgen/internal/infra"
)

const recorderBuffer = 512

// Recorder copies the event stream into a JobRepository. Writes happen on
// the recorder's own goroutine so a slow database never stalls a poll loop.
type Recorder struct {
	repo   domain.JobRepository
	logger infra.Logger
}

// NewRecorder creates a recorder writing to repo.
func NewRecorder(repo domain.JobRepository, logger infra.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// Run subscribes to pub and applies events until ctx is done.
func (r *Recorder) Run(ctx context.Context, pub *events.Publisher) {
	ch, unsubscribe := pub.SubscribeChan(recorderBuffer, nil)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.apply(ctx, ev)
		}
	}
}

func (r *Recorder) apply(ctx context.Context, ev domain.ProgressEvent) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.repo.ApplyEvent(ctx, ev); err != nil {
		r.logger.Warn().Err(err).Str("job_id", ev.JobID).Str("status", string(ev.Status)).Msg("store: failed to record event")
	}
}
