// Package feedback persists user verdicts on generated queries and promotes
// them into retrievable context items.
package feedback

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Verdict string

const (
	VerdictGood Verdict = "good"
	VerdictBad  Verdict = "bad"
)

// ErrInvalidRecord is returned by Validate and by Ledger.Append for records
// that cannot be stored.
var ErrInvalidRecord = errors.New("invalid feedback record")

// ParseVerdict accepts "good" or "bad" in any case.
func ParseVerdict(s string) (Verdict, error) {
	switch v := Verdict(strings.ToLower(strings.TrimSpace(s))); v {
	case VerdictGood, VerdictBad:
		return v, nil
	}
	return "", fmt.Errorf("%w: verdict must be good or bad, got %q", ErrInvalidRecord, s)
}

// Score is the signed value a verdict contributes when promoted.
func (v Verdict) Score() float64 {
	if v == VerdictBad {
		return -1
	}
	return 1
}

// Record is one row of the feedback ledger.
type Record struct {
	Input     string    `json:"input"`
	Query     string    `json:"query"`
	Verdict   Verdict   `json:"verdict"`
	Comment   string    `json:"comment,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (r Record) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Input) == "" {
		errs = append(errs, errors.New("input is required"))
	}
	if strings.TrimSpace(r.Query) == "" {
		errs = append(errs, errors.New("query is required"))
	}
	if _, err := ParseVerdict(string(r.Verdict)); err != nil {
		errs = append(errs, fmt.Errorf("verdict must be good or bad, got %q", r.Verdict))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, errors.Join(errs...))
	}
	return nil
}
