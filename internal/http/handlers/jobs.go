package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"asyncgen/internal/domain"
	"asyncgen/internal/jobs"
)

const (
	maxBodyBytes   = 1 << 20
	sseBuffer      = 64
	sseKeepAlive   = 20 * time.Second
	defaultJobKind = domain.JobKindVideo
)

type jobContextPayload struct {
	DurationSeconds float64 `json:"duration_seconds"`
	Resolution      string  `json:"resolution"`
}

func (p *jobContextPayload) toDomain() domain.JobContext {
	if p == nil {
		return domain.JobContext{}
	}
	return domain.JobContext{
		DurationSeconds: p.DurationSeconds,
		Resolution:      domain.Resolution(p.Resolution),
	}
}

type submitRequest struct {
	Kind    string             `json:"kind"`
	Input   json.RawMessage    `json:"input"`
	Context *jobContextPayload `json:"context"`
	Wait    bool               `json:"wait"`
}

type resumeRequest struct {
	Context *jobContextPayload `json:"context"`
	Wait    bool               `json:"wait"`
}

type acceptedResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	MaxAttempts int    `json:"max_attempts"`
	EventsURL   string `json:"events_url"`
}

type jobStatusResponse struct {
	JobID       string    `json:"job_id"`
	Kind        string    `json:"kind,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	Status      string    `json:"status"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	Progress    *int      `json:"progress,omitempty"`
	Message     string    `json:"message,omitempty"`
	PrimaryURL  string    `json:"primary_url,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SubmitJob creates a remote job. With "wait": true the request blocks until
// the job is terminal; otherwise it returns 202 with the job id.
func (a *App) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	kind := defaultJobKind
	if strings.TrimSpace(req.Kind) != "" {
		parsed, ok := domain.ParseJobKind(req.Kind)
		if !ok {
			a.error(w, http.StatusBadRequest, "bad_request", "unsupported job kind")
			return
		}
		kind = parsed
	}
	if len(req.Input) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "input is required")
		return
	}
	jc := req.Context.toDomain().WithDefaults()

	if req.Wait {
		jobID, done, err := a.Jobs.SubmitDetached(r.Context(), kind, req.Input, jc)
		if err != nil {
			a.jobError(w, err)
			return
		}
		a.awaitOutcome(w, r, jobID, done)
		return
	}

	jobID, err := a.Jobs.SubmitAsync(r.Context(), kind, req.Input, jc)
	if err != nil {
		a.jobError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, acceptedResponse{
		JobID:       jobID,
		Status:      string(domain.EventSubmitted),
		MaxAttempts: jobs.ComputeMaxAttempts(jc),
		EventsURL:   fmt.Sprintf("/v1/jobs/%s/events", jobID),
	})
}

// ResumeJob re-attaches a polling loop to a previously submitted job.
func (a *App) ResumeJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if strings.TrimSpace(jobID) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	var req resumeRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	jc := req.Context.toDomain()
	if req.Context == nil && a.Store != nil {
		if rec, err := a.Store.GetByID(r.Context(), jobID); err == nil {
			jc = rec.Context
		}
	}
	jc = jc.WithDefaults()

	if req.Wait {
		done, err := a.Jobs.ResumeDetached(r.Context(), jobID, jc)
		if err != nil {
			a.jobError(w, err)
			return
		}
		a.awaitOutcome(w, r, jobID, done)
		return
	}
	if err := a.Jobs.ResumeAsync(r.Context(), jobID, jc); err != nil {
		a.jobError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, acceptedResponse{
		JobID:       jobID,
		Status:      string(domain.EventResuming),
		MaxAttempts: jobs.ComputeMaxAttempts(jc),
		EventsURL:   fmt.Sprintf("/v1/jobs/%s/events", jobID),
	})
}

// awaitOutcome blocks until the job's loop finishes or the client leaves. The
// loop runs on the manager's context and is unaffected by the latter.
func (a *App) awaitOutcome(w http.ResponseWriter, r *http.Request, jobID string, done <-chan jobs.LoopOutcome) {
	select {
	case out := <-done:
		if out.Err != nil {
			a.jobError(w, out.Err)
			return
		}
		a.json(w, http.StatusOK, out.Result)
	case <-r.Context().Done():
		a.Logger.Debug().Str("job_id", jobID).Msg("handlers: client left before job finished")
	}
}

// JobStatus reports the last recorded state of a job.
func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	if a.Store == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "job store is not configured")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	rec, err := a.Store.GetByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("handlers: load job failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job")
		return
	}
	a.json(w, http.StatusOK, jobStatusResponse{
		JobID:       rec.JobID,
		Kind:        string(rec.Kind),
		Provider:    rec.Provider,
		Status:      string(rec.Status),
		Attempt:     rec.Attempt,
		MaxAttempts: rec.MaxAttempts,
		Progress:    rec.Progress,
		Message:     rec.Message,
		PrimaryURL:  rec.PrimaryURL,
		Active:      a.Jobs.Active(rec.JobID),
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	})
}

// JobEvents streams a job's progress events as server-sent events. The
// stream ends after the terminal event or when the client goes away; the
// job's loop keeps running either way.
func (a *App) JobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}
	ch, unsubscribe := a.Events.SubscribeChan(sseBuffer, func(ev domain.ProgressEvent) bool {
		return ev.JobID == jobID
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// A job that already finished gets its recorded terminal state once.
	if ev, ok := a.recordedTerminal(r, jobID); ok {
		_ = writeEvent(w, ev)
		flusher.Flush()
		return
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
			if ev.Status.IsTerminal() {
				return
			}
		}
	}
}

// recordedTerminal returns the stored terminal state of jobID when the job is
// not being polled here and its record says it already finished.
func (a *App) recordedTerminal(r *http.Request, jobID string) (domain.ProgressEvent, bool) {
	if a.Store == nil || a.Jobs.Active(jobID) {
		return domain.ProgressEvent{}, false
	}
	rec, err := a.Store.GetByID(r.Context(), jobID)
	if err != nil || !rec.Status.IsTerminal() {
		return domain.ProgressEvent{}, false
	}
	return domain.ProgressEvent{
		JobID:     rec.JobID,
		Status:    rec.Status,
		Progress:  rec.Progress,
		Attempt:   rec.Attempt,
		Max:       rec.MaxAttempts,
		Message:   rec.Message,
		Timestamp: rec.UpdatedAt,
	}, true
}

func writeEvent(w io.Writer, ev domain.ProgressEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Status, data)
	return err
}

func (a *App) jobError(w http.ResponseWriter, err error) {
	if errors.Is(err, jobs.ErrAlreadyActive) {
		a.error(w, http.StatusConflict, "conflict", "job is already being polled")
		return
	}
	kind, ok := jobs.KindOf(err)
	if !ok {
		if errors.Is(err, domain.ErrInvalidJob) {
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		a.Logger.Error().Err(err).Msg("handlers: job request failed")
		a.error(w, http.StatusInternalServerError, "internal", "job request failed")
		return
	}
	switch kind {
	case jobs.KindSubmission:
		if errors.Is(err, domain.ErrInvalidJob) {
			a.error(w, http.StatusBadRequest, string(kind), err.Error())
			return
		}
		a.error(w, http.StatusBadGateway, string(kind), err.Error())
	case jobs.KindPolling:
		a.error(w, http.StatusBadGateway, string(kind), err.Error())
	case jobs.KindProviderFailure:
		a.error(w, http.StatusUnprocessableEntity, string(kind), err.Error())
	default:
		a.error(w, http.StatusGatewayTimeout, string(kind), err.Error())
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return dec.Decode(v)
}
