package domain

import "time"

// EventStatus enumerates observable job transitions.
type EventStatus string

const (
	EventSubmitted    EventStatus = "submitted"
	EventPolling      EventStatus = "polling"
	EventNetworkRetry EventStatus = "network-retry"
	EventResuming     EventStatus = "resuming"
	EventSuccess      EventStatus = "success"
	EventFailed       EventStatus = "failed"
	EventTimedOut     EventStatus = "timed-out"
)

// IsTerminal reports whether no further events follow this one for the job.
func (s EventStatus) IsTerminal() bool {
	switch s {
	case EventSuccess, EventFailed, EventTimedOut:
		return true
	default:
		return false
	}
}

// ProgressEvent is one observable transition of a job. Progress is nil when
// the completion percentage is unknown.
type ProgressEvent struct {
	JobID     string      `json:"job_id"`
	Status    EventStatus `json:"status"`
	Progress  *int        `json:"progress,omitempty"`
	Attempt   int         `json:"attempt"`
	Max       int         `json:"max"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ProgressValue returns the progress percentage and whether it is known.
func (e ProgressEvent) ProgressValue() (int, bool) {
	if e.Progress == nil {
		return 0, false
	}
	return *e.Progress, true
}

// Percent is a helper for building events with a known progress value.
func Percent(v int) *int {
	return &v
}
