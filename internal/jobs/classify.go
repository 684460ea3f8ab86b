package jobs

import (
	"encoding/json"
	"errors"
	"math"
	"strings"

	"golang.org/x/text/cases"
)

// OutcomeKind tags the result of one status query.
type OutcomeKind int

const (
	OutcomeNonTerminal OutcomeKind = iota
	OutcomeSuccess
	OutcomeFailure
	OutcomeTransport
	OutcomeMalformed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "terminal-success"
	case OutcomeFailure:
		return "terminal-failure"
	case OutcomeTransport:
		return "transport"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "non-terminal"
	}
}

// Outcome is a classified status query. Downstream logic switches on Kind
// and never inspects raw provider strings.
type Outcome struct {
	Kind      OutcomeKind
	RawStatus string
	Percent   *int
	Message   string
	Payload   json.RawMessage
	Err       error
}

var (
	successStatuses = map[string]struct{}{
		"succeeded": {},
		"success":   {},
		"completed": {},
		"complete":  {},
		"done":      {},
		"finished":  {},
	}
	failureStatuses = map[string]struct{}{
		"failed":    {},
		"failure":   {},
		"error":     {},
		"errored":   {},
		"canceled":  {},
		"cancelled": {},
		"rejected":  {},
	}
)

// ClassifyQuery turns one provider answer into an Outcome. Unrecognized status
// strings are non-terminal so vocabulary drift never breaks a loop.
func ClassifyQuery(resp *QueryResponse, err error) Outcome {
	if err != nil {
		if errors.Is(err, ErrTransport) {
			return Outcome{Kind: OutcomeTransport, Err: err, Message: err.Error()}
		}
		return Outcome{Kind: OutcomeMalformed, Err: err, Message: err.Error()}
	}
	if resp == nil {
		return Outcome{Kind: OutcomeMalformed, Message: "empty status response"}
	}
	raw := strings.TrimSpace(resp.Status)
	if !resp.OK {
		msg := strings.TrimSpace(resp.Message)
		if msg == "" {
			msg = "provider rejected status query"
		}
		return Outcome{Kind: OutcomeMalformed, RawStatus: raw, Message: msg}
	}
	if raw == "" {
		return Outcome{Kind: OutcomeMalformed, Message: "status field missing"}
	}

	folded := cases.Fold().String(raw)
	if _, ok := successStatuses[folded]; ok {
		return Outcome{Kind: OutcomeSuccess, RawStatus: raw, Message: resp.Message, Payload: resp.Payload}
	}
	if _, ok := failureStatuses[folded]; ok {
		msg := strings.TrimSpace(resp.Message)
		if msg == "" {
			msg = "provider reported " + raw
		}
		return Outcome{Kind: OutcomeFailure, RawStatus: raw, Message: msg, Payload: resp.Payload}
	}
	return Outcome{
		Kind:      OutcomeNonTerminal,
		RawStatus: raw,
		Percent:   clampPercent(resp.Percent),
		Message:   resp.Message,
	}
}

// clampPercent maps the provider's optional percent field into [0,100]. An
// absent or non-numeric value stays unknown rather than becoming zero.
func clampPercent(p *float64) *int {
	if p == nil || math.IsNaN(*p) {
		return nil
	}
	v := math.Round(*p)
	switch {
	case v < 0:
		v = 0
	case v > 100:
		v = 100
	}
	out := int(v)
	return &out
}
