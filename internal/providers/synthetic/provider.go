// Package synthetic simulates an asynchronous generation backend. It keeps
// the whole submit/poll pipeline exercisable in local and CI environments
// where no provider credentials exist.
package synthetic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/rs/zerolog"

	"asyncgen/internal/domain"
	"asyncgen/internal/infra"
	"asyncgen/internal/jobs"
)

const (
	providerName = "synthetic"
	maxNameLen   = 40
)

// Options controls how the simulated jobs behave.
type Options struct {
	// Steps is the number of status queries after which a job succeeds.
	Steps int
	// BaseURL prefixes the synthetic asset URLs.
	BaseURL string
	Logger  *infra.Logger
}

type simulatedJob struct {
	kind    domain.JobKind
	seed    string
	name    string
	queries int
	steps   int
	failure string
}

type simulatedInput struct {
	Prompt   string `json:"prompt"`
	Steps    int    `json:"steps"`
	Simulate string `json:"simulate"`
}

// Provider implements jobs.Provider with in-memory, deterministic jobs.
// Input may set "steps" to override the default and "simulate": "fail" to
// make the job end in a provider-reported failure.
type Provider struct {
	mu      sync.Mutex
	jobs    map[string]*simulatedJob
	steps   int
	baseURL string
	logger  *infra.Logger
}

// New constructs a synthetic provider.
func New(opts Options) *Provider {
	steps := opts.Steps
	if steps <= 0 {
		steps = 4
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:8080/static"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Provider{
		jobs:    make(map[string]*simulatedJob),
		steps:   steps,
		baseURL: baseURL,
		logger:  logger,
	}
}

// Name implements jobs.Provider.
func (p *Provider) Name() string {
	return providerName
}

// CreateJob registers a simulated job.
func (p *Provider) CreateJob(ctx context.Context, kind domain.JobKind, input json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var in simulatedInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return "", fmt.Errorf("synthetic: decode input: %w", err)
		}
	}
	steps := p.steps
	if in.Steps > 0 {
		steps = in.Steps
	}
	jobID := uuid.NewString()
	job := &simulatedJob{
		kind:  kind,
		seed:  deterministicSeed(jobID, kind, in.Prompt),
		name:  assetName(in.Prompt),
		steps: steps,
	}
	if strings.EqualFold(strings.TrimSpace(in.Simulate), "fail") {
		job.failure = "synthetic: simulated generation failure"
	}

	p.mu.Lock()
	p.jobs[jobID] = job
	p.mu.Unlock()

	p.logger.Debug().Str("job_id", jobID).Str("kind", string(kind)).Int("steps", steps).Msg("synthetic: job created")
	return jobID, nil
}

// QueryJob advances the simulated job by one step and reports its status.
func (p *Provider) QueryJob(ctx context.Context, jobID string) (*jobs.QueryResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, jobs.TransportError(err)
	}
	p.mu.Lock()
	job, ok := p.jobs[jobID]
	if ok {
		job.queries++
	}
	var snapshot simulatedJob
	if ok {
		snapshot = *job
	}
	p.mu.Unlock()

	if !ok {
		return &jobs.QueryResponse{OK: false, Message: fmt.Sprintf("synthetic: task %s not found", jobID)}, nil
	}

	if snapshot.queries < snapshot.steps {
		percent := float64(snapshot.queries) / float64(snapshot.steps) * 100
		status := "RUNNING"
		if snapshot.queries == 1 {
			status = "PENDING"
		}
		return &jobs.QueryResponse{OK: true, Status: status, Percent: &percent}, nil
	}
	if snapshot.failure != "" {
		return &jobs.QueryResponse{OK: true, Status: "FAILED", Message: snapshot.failure}, nil
	}

	payload, err := json.Marshal(map[string]any{
		"output": map[string]any{
			"task_id":     jobID,
			"task_status": "SUCCEEDED",
			"results":     []map[string]string{{"url": p.assetURL(snapshot)}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("synthetic: encode payload: %w", err)
	}
	return &jobs.QueryResponse{OK: true, Status: "SUCCEEDED", Payload: payload}, nil
}

func (p *Provider) assetURL(job simulatedJob) string {
	file := job.seed
	if job.name != "" {
		file = job.name + "-" + job.seed
	}
	return fmt.Sprintf("%s/synthetic/%s/%s.%s", p.baseURL, url.PathEscape(string(job.kind)), file, extensionFor(job.kind))
}

// assetName turns the prompt into a short URL-safe file name prefix.
func assetName(prompt string) string {
	name := slug.Make(prompt)
	if len(name) > maxNameLen {
		name = strings.TrimRight(name[:maxNameLen], "-")
	}
	return name
}

func extensionFor(kind domain.JobKind) string {
	switch kind {
	case domain.JobKindVideo:
		return "mp4"
	case domain.JobKindAudio:
		return "wav"
	default:
		return "png"
	}
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write([]byte(fmt.Sprintf("%v", part)))
		hasher.Write([]byte{'|'})
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

var _ jobs.Provider = (*Provider)(nil)
