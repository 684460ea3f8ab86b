package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"asyncgen/internal/domain"
	"asyncgen/internal/events"
)

type applyRecorder struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
	done   chan struct{}
	want   int
}

func (a *applyRecorder) Create(ctx context.Context, rec *domain.JobRecord) error { return nil }

func (a *applyRecorder) ApplyEvent(ctx context.Context, ev domain.ProgressEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	if len(a.events) == a.want {
		close(a.done)
	}
	return nil
}

func (a *applyRecorder) SetResult(ctx context.Context, jobID, primaryURL string, raw []byte) error {
	return nil
}

func (a *applyRecorder) GetByID(ctx context.Context, jobID string) (*domain.JobRecord, error) {
	return nil, domain.ErrNotFound
}

func (a *applyRecorder) ClaimStale(ctx context.Context, olderThan time.Duration, limit int) ([]domain.JobRecord, error) {
	return nil, nil
}

func TestRecorderAppliesEventsInOrder(t *testing.T) {
	pub := events.NewPublisher(nil)
	repo := &applyRecorder{done: make(chan struct{}), want: 3}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		NewRecorder(repo, zerolog.Nop()).Run(ctx, pub)
		close(stopped)
	}()
	// Wait for the subscription before publishing.
	for pub.Stats().Subscribers == 0 {
		time.Sleep(time.Millisecond)
	}

	for _, st := range []domain.EventStatus{domain.EventSubmitted, domain.EventPolling, domain.EventSuccess} {
		pub.Publish(domain.ProgressEvent{JobID: "j1", Status: st})
	}
	select {
	case <-repo.done:
	case <-time.After(2 * time.Second):
		t.Fatal("events not applied")
	}
	if repo.events[2].Status != domain.EventSuccess {
		t.Fatalf("events = %+v", repo.events)
	}

	cancel()
	<-stopped
	if pub.Stats().Subscribers != 0 {
		t.Fatal("recorder did not unsubscribe")
	}
}
