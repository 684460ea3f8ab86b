package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/rs/zerolog"

	"asyncgen/internal/domain"
	"asyncgen/internal/infra"
)

// Sleeper suspends the calling goroutine for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// maxEstimatedProgress is the ceiling of the attempt-based approximation;
// only a confirmed success reports 100.
const maxEstimatedProgress = 95

// PollerOptions configures a Poller.
type PollerOptions struct {
	Provider Provider
	Events   EventSink
	Logger   *infra.Logger
	Sleep    Sleeper
	Clock    func() time.Time
}

// Poller drives a single job to a terminal state or until its budget is spent.
// One Poller is shared by every in-flight job; all per-job state lives in the
// JobDescriptor passed to Poll.
type Poller struct {
	provider Provider
	events   EventSink
	logger   *infra.Logger
	sleep    Sleeper
	now      func() time.Time
}

// NewPoller validates the options and fills defaults.
func NewPoller(opts PollerOptions) (*Poller, error) {
	if opts.Provider == nil {
		return nil, errors.New("jobs: provider is required")
	}
	events := opts.Events
	if events == nil {
		events = discardSink{}
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Poller{
		provider: opts.Provider,
		events:   events,
		logger:   logger,
		sleep:    sleep,
		now:      now,
	}, nil
}

// Poll runs the suspend/query/classify loop for desc. It returns a
// *JobError for every caller-visible failure. When ctx is cancelled the loop
// is abandoned locally, no terminal event is published and ctx's error is
// returned; the job stays resumable.
func (p *Poller) Poll(ctx context.Context, desc *domain.JobDescriptor) (*domain.NormalizedResult, error) {
	if desc == nil || desc.JobID == "" {
		return nil, fmt.Errorf("jobs: %w: job id is required", domain.ErrInvalidJob)
	}
	if desc.MaxAttempts < 1 {
		desc.MaxAttempts = 1
	}
	log := p.logger.With().
		Str("job_id", desc.JobID).
		Str("provider", p.provider.Name()).
		Int("max_attempts", desc.MaxAttempts).
		Logger()

	lastProgress := -1
	lastStatus := ""
	for !desc.Exhausted() {
		if err := p.sleep(ctx, PollDelay(desc.AttemptCount)); err != nil {
			return nil, abandoned(desc, err)
		}

		desc.AttemptCount++
		resp, qerr := p.provider.QueryJob(ctx, desc.JobID)
		out := ClassifyQuery(resp, qerr)
		if out.RawStatus != "" {
			lastStatus = out.RawStatus
		}

		switch out.Kind {
		case OutcomeTransport:
			if ctx.Err() != nil {
				return nil, abandoned(desc, ctx.Err())
			}
			log.Warn().Err(out.Err).Int("attempt", desc.AttemptCount).Msg("jobs: status query got no response; retrying")
			p.publish(desc, domain.EventNetworkRetry, knownProgress(lastProgress), "network error, retrying")

		case OutcomeMalformed:
			jerr := newJobError(KindPolling, desc, lastStatus, out.Message, out.Err)
			log.Error().Err(jerr).Msg("jobs: malformed status response")
			p.publish(desc, domain.EventFailed, knownProgress(lastProgress), out.Message)
			return nil, jerr

		case OutcomeFailure:
			jerr := newJobError(KindProviderFailure, desc, lastStatus, out.Message, nil)
			log.Info().Str("status", out.RawStatus).Str("message", out.Message).Msg("jobs: provider reported failure")
			p.publish(desc, domain.EventFailed, knownProgress(lastProgress), out.Message)
			return nil, jerr

		case OutcomeSuccess:
			res := Normalize(desc.JobID, out.Payload)
			log.Info().Int("attempt", desc.AttemptCount).Str("url", res.PrimaryURL).Msg("jobs: job succeeded")
			p.publish(desc, domain.EventSuccess, domain.Percent(100), "completed")
			return &res, nil

		default:
			progress := estimateProgress(out.Percent, desc.AttemptCount, desc.MaxAttempts)
			if progress < lastProgress {
				progress = lastProgress
			}
			lastProgress = progress
			log.Debug().Int("attempt", desc.AttemptCount).Str("status", out.RawStatus).Int("progress", progress).Msg("jobs: job still running")
			p.publish(desc, domain.EventPolling, domain.Percent(progress), out.RawStatus)
		}
	}

	jerr := newJobError(KindTimedOut, desc, lastStatus, "attempt budget exhausted", nil)
	log.Warn().Str("status", lastStatus).Msg("jobs: job timed out")
	p.publish(desc, domain.EventTimedOut, knownProgress(lastProgress), jerr.Message)
	return nil, jerr
}

func (p *Poller) publish(desc *domain.JobDescriptor, status domain.EventStatus, progress *int, message string) {
	p.events.Publish(domain.ProgressEvent{
		JobID:     desc.JobID,
		Status:    status,
		Progress:  progress,
		Attempt:   desc.AttemptCount,
		Max:       desc.MaxAttempts,
		Message:   message,
		Timestamp: p.now().UTC(),
	})
}

// estimateProgress prefers the provider's own figure and otherwise
// approximates from the share of the budget already spent.
func estimateProgress(reported *int, attempt, maxAttempts int) int {
	if reported != nil {
		if *reported > 99 {
			return 99
		}
		return *reported
	}
	if maxAttempts <= 0 {
		return 0
	}
	return int(math.Round(float64(attempt) / float64(maxAttempts) * maxEstimatedProgress))
}

func knownProgress(v int) *int {
	if v < 0 {
		return nil
	}
	return domain.Percent(v)
}

func abandoned(desc *domain.JobDescriptor, err error) error {
	return fmt.Errorf("jobs: polling %s abandoned after %d/%d attempts: %w", desc.JobID, desc.AttemptCount, desc.MaxAttempts, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type discardSink struct{}

func (discardSink) Publish(domain.ProgressEvent) {}
