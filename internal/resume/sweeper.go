// Package resume re-attaches polling loops to jobs whose originating process
// stopped reporting on them.
package resume

import (
	"context"
	"errors"
	"time"

	"asyncgen/internal/domain"
	"asyncgen/internal/infra"
	"asyncgen/internal/jobs"
)

// Resumer is the part of jobs.Manager the sweeper needs. ResumeAsync must
// return jobs.ErrAlreadyActive for a job that is already being polled.
type Resumer interface {
	ResumeAsync(ctx context.Context, jobID string, jc domain.JobContext) error
}

// Claimer hands out stale, non-terminal job records.
type Claimer interface {
	ClaimStale(ctx context.Context, olderThan time.Duration, limit int) ([]domain.JobRecord, error)
}

// Options configures a Sweeper.
type Options struct {
	Claimer    Claimer
	Resumer    Resumer
	Logger     infra.Logger
	StaleAfter time.Duration
	Interval   time.Duration
	BatchSize  int
}

// Sweeper periodically resumes jobs of unknown outcome. Resuming is
// speculative: a job that already finished on the provider side costs one
// status query.
type Sweeper struct {
	claimer    Claimer
	resumer    Resumer
	logger     infra.Logger
	staleAfter time.Duration
	interval   time.Duration
	batch      int
}

// NewSweeper validates options and applies defaults.
func NewSweeper(opts Options) (*Sweeper, error) {
	if opts.Claimer == nil || opts.Resumer == nil {
		return nil, errors.New("resume: claimer and resumer are required")
	}
	s := &Sweeper{
		claimer:    opts.Claimer,
		resumer:    opts.Resumer,
		logger:     opts.Logger,
		staleAfter: opts.StaleAfter,
		interval:   opts.Interval,
		batch:      opts.BatchSize,
	}
	if s.staleAfter <= 0 {
		s.staleAfter = 2 * time.Minute
	}
	if s.interval <= 0 {
		s.interval = 30 * time.Second
	}
	if s.batch <= 0 {
		s.batch = 20
	}
	return s, nil
}

// Run sweeps immediately and then on every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info().Dur("stale_after", s.staleAfter).Dur("interval", s.interval).Msg("resume: sweeper started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("resume: sweep failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SweepOnce claims one batch of stale jobs and resumes each of them. It
// returns the number of loops started.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	records, err := s.claimer.ClaimStale(ctx, s.staleAfter, s.batch)
	if err != nil {
		return 0, err
	}
	started := 0
	for _, rec := range records {
		if err := s.resumer.ResumeAsync(ctx, rec.JobID, rec.Context); err != nil {
			if errors.Is(err, jobs.ErrAlreadyActive) {
				continue
			}
			s.logger.Warn().Err(err).Str("job_id", rec.JobID).Msg("resume: failed to resume job")
			continue
		}
		s.logger.Info().
			Str("job_id", rec.JobID).
			Str("last_status", string(rec.Status)).
			Int("last_attempt", rec.Attempt).
			Msg("resume: job resumed")
		started++
	}
	return started, nil
}
