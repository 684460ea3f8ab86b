package jobs

import (
	"errors"
	"fmt"
	"strings"

	"asyncgen/internal/domain"
)

// ErrorKind names the caller-visible failure classes.
type ErrorKind string

const (
	KindSubmission      ErrorKind = "submission_error"
	KindPolling         ErrorKind = "provider_polling_error"
	KindProviderFailure ErrorKind = "provider_failure"
	KindTimedOut        ErrorKind = "timed_out"
)

var (
	ErrSubmission      = errors.New("job submission failed")
	ErrPolling         = errors.New("provider polling error")
	ErrProviderFailure = domain.ErrProviderFailure
	ErrTimedOut        = errors.New("job timed out")

	// ErrAlreadyActive rejects a second loop for a job this process is
	// already polling.
	ErrAlreadyActive = errors.New("job is already being polled")

	// ErrTransport marks a query that got no response at all. It is absorbed
	// by the poller and never returned to callers.
	ErrTransport = errors.New("provider transport error")
)

// TransportError marks err as a transport-level hiccup. Providers wrap
// network failures with it so the poller retries instead of failing.
func TransportError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

// JobError is returned by Submit and Resume. It carries enough context to
// diagnose the failure without consulting the event stream.
type JobError struct {
	Kind        ErrorKind
	JobID       string
	Attempt     int
	MaxAttempts int
	LastStatus  string
	Message     string
	Err         error
}

func (e *JobError) Error() string {
	var b strings.Builder
	b.WriteString("jobs: ")
	b.WriteString(string(e.Kind))
	if e.JobID != "" {
		fmt.Fprintf(&b, " job=%s", e.JobID)
	}
	if e.MaxAttempts > 0 {
		fmt.Fprintf(&b, " attempt=%d/%d", e.Attempt, e.MaxAttempts)
	}
	if e.LastStatus != "" {
		fmt.Fprintf(&b, " status=%s", e.LastStatus)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *JobError) Unwrap() []error {
	var errs []error
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindSubmission:
		return ErrSubmission
	case KindPolling:
		return ErrPolling
	case KindProviderFailure:
		return ErrProviderFailure
	case KindTimedOut:
		return ErrTimedOut
	default:
		return nil
	}
}

// KindOf extracts the failure class of err, if it is a JobError.
func KindOf(err error) (ErrorKind, bool) {
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind, true
	}
	return "", false
}

func newJobError(kind ErrorKind, desc *domain.JobDescriptor, lastStatus, message string, cause error) *JobError {
	je := &JobError{
		Kind:       kind,
		LastStatus: lastStatus,
		Message:    message,
		Err:        cause,
	}
	if desc != nil {
		je.JobID = desc.JobID
		je.Attempt = desc.AttemptCount
		je.MaxAttempts = desc.MaxAttempts
	}
	return je
}
