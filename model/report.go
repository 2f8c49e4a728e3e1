package model

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Check verdict strings as they appear in the report file.
const (
	StatusPass = "pass"
	StatusFail = "fail"
)

// TestResult is the report entry for one test. The named check outcomes
// (PreviousCompare, NDayCompare, ...) are flattened into the top level of
// the JSON object alongside the fixed fields, which is the shape the report
// consumers expect.
type TestResult struct {
	TestFile string
	Status   string
	Start    float64
	End      float64
	Checks   map[string]string
	LogRaw   string
}

func (r TestResult) MarshalJSON() ([]byte, error) {
	flat := map[string]interface{}{
		"test_file": r.TestFile,
		"status":    r.Status,
		"start":     r.Start,
		"end":       r.End,
		"exit_code": exitCodeFor(r.Status),
	}
	if r.LogRaw != "" {
		flat["log_raw"] = r.LogRaw
	}
	for name, outcome := range r.Checks {
		flat[name] = outcome
	}

	out, err := json.Marshal(flat)
	return out, errors.Wrapf(err, "problem marshaling result for %s", r.TestFile)
}

func exitCodeFor(status string) int {
	if status == StatusFail {
		return 1
	}
	return 0
}

// Failed reports whether any individual check failed.
func (r *TestResult) Failed() bool {
	if r.Status == StatusFail {
		return true
	}
	for _, outcome := range r.Checks {
		if outcome == StatusFail {
			return true
		}
	}

	return false
}

// Report is the top-level JSON report produced by one regression check run.
type Report struct {
	Failures int          `json:"failures"`
	Results  []TestResult `json:"results"`
}

// AddResult appends a test result, recomputing its status from the
// individual check outcomes and bumping the failure count when needed.
func (r *Report) AddResult(result TestResult) {
	if result.Failed() {
		result.Status = StatusFail
		r.Failures++
	} else if result.Status == "" {
		result.Status = StatusPass
	}

	r.Results = append(r.Results, result)
}
