package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// JobKind enumerates supported generation job categories.
type JobKind string

const (
	JobKindImage JobKind = "image"
	JobKindVideo JobKind = "video"
	JobKindAudio JobKind = "audio"
)

// ParseJobKind normalizes free-form input into a supported kind.
func ParseJobKind(raw string) (JobKind, bool) {
	switch JobKind(strings.ToLower(strings.TrimSpace(raw))) {
	case JobKindImage:
		return JobKindImage, true
	case JobKindVideo:
		return JobKindVideo, true
	case JobKindAudio:
		return JobKindAudio, true
	default:
		return "", false
	}
}

// Resolution is the output resolution class used to size a job's budget.
type Resolution string

const (
	Resolution720p  Resolution = "720p"
	Resolution1080p Resolution = "1080p"
	Resolution4K    Resolution = "4k"
)

// DefaultDurationSeconds is assumed when a caller leaves the duration unset.
const DefaultDurationSeconds = 5

// JobContext carries the job characteristics that size the retry budget.
type JobContext struct {
	DurationSeconds float64    `json:"duration_seconds"`
	Resolution      Resolution `json:"resolution"`
}

// WithDefaults returns a copy with the zero duration replaced by the default.
func (c JobContext) WithDefaults() JobContext {
	if c.DurationSeconds <= 0 {
		c.DurationSeconds = DefaultDurationSeconds
	}
	c.Resolution = Resolution(strings.ToLower(strings.TrimSpace(string(c.Resolution))))
	if c.Resolution == "" {
		c.Resolution = Resolution720p
	}
	return c
}

// JobDescriptor identifies one outstanding remote job. It lives only as long
// as the polling loop that owns it; AttemptCount is advanced by that loop alone.
type JobDescriptor struct {
	JobID        string
	Kind         JobKind
	SubmittedAt  time.Time
	Context      JobContext
	AttemptCount int
	MaxAttempts  int
}

// Exhausted reports whether the query budget has been spent.
func (d *JobDescriptor) Exhausted() bool {
	return d.AttemptCount >= d.MaxAttempts
}

// NormalizedResult is the caller-facing shape of a successful job.
type NormalizedResult struct {
	JobID      string          `json:"job_id"`
	PrimaryURL string          `json:"primary_url,omitempty"`
	RawPayload json.RawMessage `json:"raw_payload,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}
