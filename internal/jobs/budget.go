package jobs

import (
	"math"
	"time"

	"asyncgen/internal/domain"
)

const (
	// BasePollInterval is the unit both the budget and the delay schedule are
	// expressed in.
	BasePollInterval = 5 * time.Second
	// MaxPollInterval caps the delay between two status queries.
	MaxPollInterval = 15 * time.Second

	// minExpectedSeconds is observed queueing latency, independent of render time.
	minExpectedSeconds = 180
	// renderSecondsPerOutputSecond is the server-side cost of one second of
	// 720p output.
	renderSecondsPerOutputSecond = 18
	// delayStepAttempts is how many queries share one delay step.
	delayStepAttempts = 6
)

func resolutionMultiplier(r domain.Resolution) float64 {
	switch r {
	case domain.Resolution1080p:
		return 1.8
	case domain.Resolution4K:
		return 3.0
	default:
		return 1.0
	}
}

// ComputeMaxAttempts converts job characteristics into the number of status
// queries allotted before the job is declared timed out. It is pure and
// always returns at least 1.
func ComputeMaxAttempts(c domain.JobContext) int {
	c = c.WithDefaults()
	expected := c.DurationSeconds * renderSecondsPerOutputSecond * resolutionMultiplier(c.Resolution)
	if math.IsNaN(expected) || expected < minExpectedSeconds {
		expected = minExpectedSeconds
	}
	if math.IsInf(expected, 1) {
		return math.MaxInt32
	}
	n := math.Ceil(expected / BasePollInterval.Seconds())
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	if n < 1 {
		return 1
	}
	return int(n)
}

// PollDelay returns how long to wait before the next query, given the number
// of queries already issued. The cadence slows one step every six queries.
func PollDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	steps := (attempt+delayStepAttempts-1)/delayStepAttempts + 1
	d := BasePollInterval * time.Duration(steps)
	if d > MaxPollInterval {
		return MaxPollInterval
	}
	return d
}
