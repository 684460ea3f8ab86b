// Package store records job state in PostgreSQL so jobs of unknown outcome
// can be found and resumed after the process that submitted them is gone.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"asyncgen/internal/domain"
	"asyncgen/internal/infra"
	"asyncgen/internal/sqlinline"
)

// JobStore implements domain.JobRepository on top of the audited SQL runner.
type JobStore struct {
	sql infra.SQLExecutor
}

// NewJobStore creates a job store backed by sql.
func NewJobStore(sql infra.SQLExecutor) *JobStore {
	return &JobStore{sql: sql}
}

// Migrate creates the tables the store and the credentials store rely on.
func (s *JobStore) Migrate(ctx context.Context) error {
	for _, q := range []string{sqlinline.QCreateJobsTable, sqlinline.QCreateIntegrationTokensTable} {
		if _, err := s.sql.Exec(ctx, q); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// Create inserts a job record, or refreshes its budget when the job is resumed.
func (s *JobStore) Create(ctx context.Context, rec *domain.JobRecord) error {
	if rec == nil || strings.TrimSpace(rec.JobID) == "" {
		return fmt.Errorf("store: %w: job id is required", domain.ErrInvalidJob)
	}
	jc := rec.Context.WithDefaults()
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.sql.Exec(ctx, sqlinline.QUpsertJob,
		rec.JobID,
		string(rec.Kind),
		rec.Provider,
		jc.DurationSeconds,
		string(jc.Resolution),
		rec.MaxAttempts,
		created,
	)
	return err
}

// ApplyEvent stores the latest observed transition of a job.
func (s *JobStore) ApplyEvent(ctx context.Context, ev domain.ProgressEvent) error {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.sql.Exec(ctx, sqlinline.QApplyJobEvent,
		ev.JobID,
		string(ev.Status),
		ev.Attempt,
		ev.Max,
		ev.Progress,
		ev.Message,
		ts,
	)
	return err
}

// SetResult stores the normalized result of a successful job.
func (s *JobStore) SetResult(ctx context.Context, jobID, primaryURL string, raw []byte) error {
	var payload any
	if len(raw) > 0 && json.Valid(raw) {
		payload = json.RawMessage(raw)
	}
	_, err := s.sql.Exec(ctx, sqlinline.QSetJobResult, jobID, primaryURL, payload)
	return err
}

// GetByID fetches a job by its identifier.
func (s *JobStore) GetByID(ctx context.Context, jobID string) (*domain.JobRecord, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectJob, jobID)
	rec, err := scanRecord(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// ClaimStale returns non-terminal jobs whose last event is older than
// olderThan, touching them so concurrent sweepers skip them.
func (s *JobStore) ClaimStale(ctx context.Context, olderThan time.Duration, limit int) ([]domain.JobRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.sql.Query(ctx, sqlinline.QClaimStaleJobs, olderThan.Seconds(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.JobRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*domain.JobRecord, error) {
	var (
		rec        domain.JobRecord
		kind       string
		resolution string
		status     string
		progress   *int
	)
	if err := row.Scan(
		&rec.JobID,
		&kind,
		&rec.Provider,
		&rec.Context.DurationSeconds,
		&resolution,
		&status,
		&rec.Attempt,
		&rec.MaxAttempts,
		&progress,
		&rec.Message,
		&rec.PrimaryURL,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.Kind = domain.JobKind(kind)
	rec.Context.Resolution = domain.Resolution(resolution)
	rec.Status = domain.EventStatus(status)
	rec.Progress = progress
	return &rec, nil
}

var _ domain.JobRepository = (*JobStore)(nil)
