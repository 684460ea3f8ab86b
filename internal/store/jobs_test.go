package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"asyncgen/internal/domain"
	"asyncgen/internal/sqlinline"
)

type execCall struct {
	query string
	args  []any
}

type stubExecutor struct {
	calls []execCall
	rows  []domain.JobRecord
	err   error
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.calls = append(s.calls, execCall{query: query, args: args})
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.calls = append(s.calls, execCall{query: query, args: args})
	if s.err != nil {
		return stubRow{err: s.err}
	}
	if len(s.rows) == 0 {
		return stubRow{err: pgx.ErrNoRows}
	}
	return stubRow{rec: s.rows[0]}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	s.calls = append(s.calls, execCall{query: query, args: args})
	if s.err != nil {
		return nil, s.err
	}
	return &stubRows{recs: s.rows, idx: -1}, nil
}

type stubRow struct {
	rec domain.JobRecord
	err error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return fillRecord(r.rec, dest)
}

type stubRows struct {
	recs []domain.JobRecord
	idx  int
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error)                       { return nil, nil }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	r.idx++
	return r.idx < len(r.recs)
}

func (r *stubRows) Scan(dest ...any) error {
	return fillRecord(r.recs[r.idx], dest)
}

func fillRecord(rec domain.JobRecord, dest []any) error {
	if len(dest) != 13 {
		return errors.New("unexpected column count")
	}
	*dest[0].(*string) = rec.JobID
	*dest[1].(*string) = string(rec.Kind)
	*dest[2].(*string) = rec.Provider
	*dest[3].(*float64) = rec.Context.DurationSeconds
	*dest[4].(*string) = string(rec.Context.Resolution)
	*dest[5].(*string) = string(rec.Status)
	*dest[6].(*int) = rec.Attempt
	*dest[7].(*int) = rec.MaxAttempts
	*dest[8].(**int) = rec.Progress
	*dest[9].(*string) = rec.Message
	*dest[10].(*string) = rec.PrimaryURL
	*dest[11].(*time.Time) = rec.CreatedAt
	*dest[12].(*time.Time) = rec.UpdatedAt
	return nil
}

func TestCreateUpsertsJob(t *testing.T) {
	exec := &stubExecutor{}
	s := NewJobStore(exec)
	rec := &domain.JobRecord{
		JobID:       "task-1",
		Kind:        domain.JobKindVideo,
		Provider:    "dashscope",
		Context:     domain.JobContext{DurationSeconds: 10, Resolution: "1080P"},
		MaxAttempts: 65,
	}
	if err := s.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	call := exec.calls[0]
	if call.query != sqlinline.QUpsertJob {
		t.Fatal("unexpected query")
	}
	if call.args[0] != "task-1" || call.args[1] != "video" || call.args[3] != float64(10) || call.args[4] != "1080p" || call.args[5] != 65 {
		t.Fatalf("args = %v", call.args)
	}
	if created, ok := call.args[6].(time.Time); !ok || created.IsZero() {
		t.Fatalf("created_at = %v", call.args[6])
	}
}

func TestCreateRequiresJobID(t *testing.T) {
	s := NewJobStore(&stubExecutor{})
	if err := s.Create(context.Background(), &domain.JobRecord{}); !errors.Is(err, domain.ErrInvalidJob) {
		t.Fatalf("err = %v", err)
	}
}

func TestApplyEvent(t *testing.T) {
	exec := &stubExecutor{}
	s := NewJobStore(exec)
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ev := domain.ProgressEvent{JobID: "task-1", Status: domain.EventPolling, Progress: domain.Percent(40), Attempt: 3, Max: 36, Message: "RUNNING", Timestamp: ts}
	if err := s.ApplyEvent(context.Background(), ev); err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	args := exec.calls[0].args
	if args[1] != "polling" || args[2] != 3 || args[3] != 36 || args[5] != "RUNNING" || args[6] != ts {
		t.Fatalf("args = %v", args)
	}
	if p, ok := args[4].(*int); !ok || *p != 40 {
		t.Fatalf("progress arg = %v", args[4])
	}
}

func TestSetResultDropsInvalidJSON(t *testing.T) {
	exec := &stubExecutor{}
	s := NewJobStore(exec)
	if err := s.SetResult(context.Background(), "task-1", "", []byte("<html>")); err != nil {
		t.Fatalf("SetResult: %v", err)
	}
	if exec.calls[0].args[2] != nil {
		t.Fatalf("payload = %v, want nil", exec.calls[0].args[2])
	}
}

func TestGetByID(t *testing.T) {
	now := time.Now().UTC()
	exec := &stubExecutor{rows: []domain.JobRecord{{
		JobID: "task-1", Kind: domain.JobKindImage, Provider: "synthetic",
		Context: domain.JobContext{DurationSeconds: 5, Resolution: domain.Resolution720p},
		Status:  domain.EventPolling, Attempt: 2, MaxAttempts: 36, Progress: domain.Percent(12),
		CreatedAt: now, UpdatedAt: now,
	}}}
	rec, err := NewJobStore(exec).GetByID(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rec.Status != domain.EventPolling || rec.Kind != domain.JobKindImage || *rec.Progress != 12 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestGetByIDNotFound(t *testing.T) {
	_, err := NewJobStore(&stubExecutor{}).GetByID(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestClaimStale(t *testing.T) {
	exec := &stubExecutor{rows: []domain.JobRecord{
		{JobID: "a", Status: domain.EventPolling},
		{JobID: "b", Status: domain.EventNetworkRetry},
	}}
	recs, err := NewJobStore(exec).ClaimStale(context.Background(), 90*time.Second, 0)
	if err != nil {
		t.Fatalf("ClaimStale: %v", err)
	}
	if len(recs) != 2 || recs[1].JobID != "b" {
		t.Fatalf("records = %+v", recs)
	}
	args := exec.calls[0].args
	if args[0] != float64(90) || args[1] != 20 {
		t.Fatalf("args = %v", args)
	}
	if !strings.Contains(exec.calls[0].query, "for update skip locked") {
		t.Fatal("claim must skip locked rows")
	}
}

func TestMigrate(t *testing.T) {
	exec := &stubExecutor{}
	if err := NewJobStore(exec).Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if len(exec.calls) != 2 {
		t.Fatalf("calls = %d", len(exec.calls))
	}
	failing := &stubExecutor{err: errors.New("permission denied")}
	if err := NewJobStore(failing).Migrate(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
