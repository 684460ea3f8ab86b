package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"asyncgen/internal/domain"
	"asyncgen/internal/infra"
)

// Options configures a Manager.
type Options struct {
	Provider Provider
	Events   EventSink
	Logger   *infra.Logger
	Sleep    Sleeper
	Clock    func() time.Time
	// Records, when set, is told about every created or resumed job and every
	// successful result. Failures to record are logged, never returned.
	Records domain.JobRepository
	// BaseContext bounds the loops started by SubmitAsync and ResumeAsync.
	// Defaults to context.Background().
	BaseContext context.Context
}

// Manager submits jobs to a provider and drives them to completion. It is
// safe for concurrent use; every job runs its own independent loop.
type Manager struct {
	provider Provider
	poller   *Poller
	events   EventSink
	logger   *infra.Logger
	now      func() time.Time
	records  domain.JobRepository
	baseCtx  context.Context

	wg     sync.WaitGroup
	mu     sync.Mutex
	active map[string]struct{}
}

// LoopOutcome is the result of a loop started with SubmitDetached or
// ResumeDetached.
type LoopOutcome struct {
	Result *domain.NormalizedResult
	Err    error
}

// NewManager builds a Manager around one provider capability.
func NewManager(opts Options) (*Manager, error) {
	poller, err := NewPoller(PollerOptions{
		Provider: opts.Provider,
		Events:   opts.Events,
		Logger:   opts.Logger,
		Sleep:    opts.Sleep,
		Clock:    opts.Clock,
	})
	if err != nil {
		return nil, err
	}
	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}
	return &Manager{
		provider: opts.Provider,
		poller:   poller,
		events:   poller.events,
		logger:   poller.logger,
		now:      poller.now,
		records:  opts.Records,
		baseCtx:  base,
		active:   make(map[string]struct{}),
	}, nil
}

// Provider returns the name of the bound provider.
func (m *Manager) Provider() string {
	return m.provider.Name()
}

// Submit creates a remote job and blocks until it reaches a terminal state
// or its budget is spent.
func (m *Manager) Submit(ctx context.Context, kind domain.JobKind, input json.RawMessage, jc domain.JobContext) (*domain.NormalizedResult, error) {
	desc, err := m.create(ctx, kind, input, jc)
	if err != nil {
		return nil, err
	}
	defer m.release(desc.JobID)
	return m.poll(ctx, desc)
}

// SubmitAsync creates a remote job and returns its id as soon as the provider
// accepted it. Polling continues in the background under the Manager's base
// context, so the caller losing interest does not stop the loop.
func (m *Manager) SubmitAsync(ctx context.Context, kind domain.JobKind, input json.RawMessage, jc domain.JobContext) (string, error) {
	jobID, _, err := m.SubmitDetached(ctx, kind, input, jc)
	return jobID, err
}

// SubmitDetached is SubmitAsync that also hands back a channel receiving the
// loop's outcome exactly once. Callers may stop listening at any time.
func (m *Manager) SubmitDetached(ctx context.Context, kind domain.JobKind, input json.RawMessage, jc domain.JobContext) (string, <-chan LoopOutcome, error) {
	desc, err := m.create(ctx, kind, input, jc)
	if err != nil {
		return "", nil, err
	}
	return desc.JobID, m.background(desc), nil
}

// Resume re-attaches a polling loop to a previously submitted job. The budget
// is rebuilt from jc and the attempt counter restarts at zero. Resuming a
// job that is already terminal on the provider returns after one query.
// A job already polled in this process yields ErrAlreadyActive.
func (m *Manager) Resume(ctx context.Context, jobID string, jc domain.JobContext) (*domain.NormalizedResult, error) {
	desc, err := m.prepareResume(ctx, jobID, jc)
	if err != nil {
		return nil, err
	}
	defer m.release(desc.JobID)
	return m.poll(ctx, desc)
}

// ResumeAsync is Resume without waiting for the outcome.
func (m *Manager) ResumeAsync(ctx context.Context, jobID string, jc domain.JobContext) error {
	_, err := m.ResumeDetached(ctx, jobID, jc)
	return err
}

// ResumeDetached is ResumeAsync that also returns the outcome channel.
func (m *Manager) ResumeDetached(ctx context.Context, jobID string, jc domain.JobContext) (<-chan LoopOutcome, error) {
	desc, err := m.prepareResume(ctx, jobID, jc)
	if err != nil {
		return nil, err
	}
	return m.background(desc), nil
}

// Active reports whether a polling loop for jobID is running in this process.
func (m *Manager) Active(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[jobID]
	return ok
}

// ActiveCount reports how many jobs have a polling loop in this process.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Wait blocks until every loop started by SubmitAsync or ResumeAsync returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) create(ctx context.Context, kind domain.JobKind, input json.RawMessage, jc domain.JobContext) (*domain.JobDescriptor, error) {
	if _, ok := domain.ParseJobKind(string(kind)); !ok {
		return nil, &JobError{Kind: KindSubmission, Message: fmt.Sprintf("unsupported job kind %q", kind), Err: domain.ErrInvalidJob}
	}
	jc = jc.WithDefaults()
	jobID, err := m.provider.CreateJob(ctx, kind, input)
	if err == nil && strings.TrimSpace(jobID) == "" {
		err = errors.New("provider returned an empty job id")
	}
	if err != nil {
		m.logger.Error().Err(err).Str("provider", m.provider.Name()).Str("kind", string(kind)).Msg("jobs: submission failed")
		return nil, &JobError{Kind: KindSubmission, Message: "create job", Err: err}
	}
	if !m.claim(jobID) {
		return nil, fmt.Errorf("jobs: provider reused job id %s: %w", jobID, ErrAlreadyActive)
	}

	desc := &domain.JobDescriptor{
		JobID:       jobID,
		Kind:        kind,
		SubmittedAt: m.now().UTC(),
		Context:     jc,
		MaxAttempts: ComputeMaxAttempts(jc),
	}
	m.record(ctx, desc)
	m.logger.Info().
		Str("job_id", jobID).
		Str("kind", string(kind)).
		Int("max_attempts", desc.MaxAttempts).
		Msg("jobs: job submitted")
	m.emit(desc, domain.EventSubmitted, "submitted")
	return desc, nil
}

func (m *Manager) prepareResume(ctx context.Context, jobID string, jc domain.JobContext) (*domain.JobDescriptor, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, fmt.Errorf("jobs: %w: job id is required", domain.ErrInvalidJob)
	}
	if !m.claim(jobID) {
		return nil, fmt.Errorf("jobs: resume %s: %w", jobID, ErrAlreadyActive)
	}
	jc = jc.WithDefaults()
	desc := &domain.JobDescriptor{
		JobID:       jobID,
		SubmittedAt: m.now().UTC(),
		Context:     jc,
		MaxAttempts: ComputeMaxAttempts(jc),
	}
	m.record(ctx, desc)
	m.logger.Info().Str("job_id", jobID).Int("max_attempts", desc.MaxAttempts).Msg("jobs: resuming job")
	m.emit(desc, domain.EventResuming, "resuming")
	return desc, nil
}

func (m *Manager) poll(ctx context.Context, desc *domain.JobDescriptor) (*domain.NormalizedResult, error) {
	res, err := m.poller.Poll(ctx, desc)
	if err != nil {
		return nil, err
	}
	if m.records != nil {
		if rerr := m.records.SetResult(ctx, res.JobID, res.PrimaryURL, res.RawPayload); rerr != nil {
			m.logger.Warn().Err(rerr).Str("job_id", res.JobID).Msg("jobs: failed to record result")
		}
	}
	return res, nil
}

// claim registers jobID as polled by this process. It fails when a loop for
// the job is already registered, so one job never has two loops here.
func (m *Manager) claim(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[jobID]; ok {
		return false
	}
	m.active[jobID] = struct{}{}
	return true
}

func (m *Manager) release(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, jobID)
}

// background runs an already claimed job under the base context.
func (m *Manager) background(desc *domain.JobDescriptor) <-chan LoopOutcome {
	out := make(chan LoopOutcome, 1)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		res, err := m.poll(m.baseCtx, desc)
		m.release(desc.JobID)
		if err != nil {
			m.logger.Debug().Err(err).Str("job_id", desc.JobID).Msg("jobs: background job finished with error")
		}
		out <- LoopOutcome{Result: res, Err: err}
	}()
	return out
}

func (m *Manager) record(ctx context.Context, desc *domain.JobDescriptor) {
	if m.records == nil {
		return
	}
	rec := &domain.JobRecord{
		JobID:       desc.JobID,
		Kind:        desc.Kind,
		Provider:    m.provider.Name(),
		Context:     desc.Context,
		MaxAttempts: desc.MaxAttempts,
		CreatedAt:   desc.SubmittedAt,
		UpdatedAt:   desc.SubmittedAt,
	}
	if err := m.records.Create(ctx, rec); err != nil {
		m.logger.Warn().Err(err).Str("job_id", desc.JobID).Msg("jobs: failed to record job")
	}
}

func (m *Manager) emit(desc *domain.JobDescriptor, status domain.EventStatus, message string) {
	m.events.Publish(domain.ProgressEvent{
		JobID:     desc.JobID,
		Status:    status,
		Attempt:   desc.AttemptCount,
		Max:       desc.MaxAttempts,
		Message:   message,
		Timestamp: m.now().UTC(),
	})
}
