package jobs

import (
	"context"
	"encoding/json"

	"asyncgen/internal/domain"
)

// QueryResponse is the envelope of one status query as the provider returned
// it, before classification. OK is false when the provider answered but the
// answer is not a usable status report.
type QueryResponse struct {
	OK      bool
	Status  string
	Percent *float64
	Message string
	Payload json.RawMessage
}

// Provider is the create/query capability a remote compute backend exposes.
// QueryJob returns an error wrapped with ErrTransport when no response was
// received; any other error is treated as a broken integration.
type Provider interface {
	Name() string
	CreateJob(ctx context.Context, kind domain.JobKind, input json.RawMessage) (string, error)
	QueryJob(ctx context.Context, jobID string) (*QueryResponse, error)
}

// EventSink receives progress events. Publish must not block the caller for
// long; it is invoked from the polling loop.
type EventSink interface {
	Publish(ev domain.ProgressEvent)
}
