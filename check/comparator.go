package check

import (
	"github.com/evergreen-ci/perfcheck/model"
)

// Verdict is the outcome of one comparison.
type Verdict int

const (
	Pass Verdict = iota
	Fail
)

func (v Verdict) String() string {
	if v == Fail {
		return model.StatusFail
	}
	return model.StatusPass
}

// maxLevel is the pseudo thread level for the max-throughput comparison.
const maxLevel = "max"

// Comparison records one failing comparison level for the summary table.
type Comparison struct {
	Test        string
	Label       string
	Reference   string
	ThreadLevel string
	Target      float64
	Achieved    float64
	PercentDiff float64
}

// CompareThroughputs classifies a current result against a reference. A nil
// reference is a pass: with no baseline there is no regression to claim. A
// level fails when the relative throughput drop meets or exceeds the
// configured threshold fraction; the max level uses Threshold and every
// individual thread level uses ThreadThreshold. The returned comparisons
// describe each failing level for the human summary.
func CompareThroughputs(current, reference *model.HistoryRecord, label string, thresholds model.Thresholds) (Verdict, []Comparison) {
	if reference == nil {
		return Pass, nil
	}

	refName := referenceName(reference)

	verdict := Pass
	failures := []Comparison{}

	if dropExceeds(current.MaxOpsPerSec(), reference.MaxOpsPerSec(), thresholds.Threshold) {
		verdict = Fail
		failures = append(failures, Comparison{
			Test:        current.TestName,
			Label:       label,
			Reference:   refName,
			ThreadLevel: maxLevel,
			Target:      reference.MaxOpsPerSec(),
			Achieved:    current.MaxOpsPerSec(),
			PercentDiff: percentDiff(current.MaxOpsPerSec(), reference.MaxOpsPerSec()),
		})
	}

	for _, level := range current.ThreadLevels() {
		refResult, ok := reference.Results[level]
		if !ok {
			continue
		}
		curResult := current.Results[level]

		if dropExceeds(curResult.OpsPerSec, refResult.OpsPerSec, thresholds.ThreadThreshold) {
			verdict = Fail
			failures = append(failures, Comparison{
				Test:        current.TestName,
				Label:       label,
				Reference:   refName,
				ThreadLevel: level,
				Target:      refResult.OpsPerSec,
				Achieved:    curResult.OpsPerSec,
				PercentDiff: percentDiff(curResult.OpsPerSec, refResult.OpsPerSec),
			})
		}
	}

	return verdict, failures
}

// dropExceeds reports whether the drop from reference to current meets or
// exceeds the threshold fraction of the reference. A zero reference value
// is treated as a ratio of one, never as a division error.
func dropExceeds(current, reference, threshold float64) bool {
	if reference == 0 {
		return false
	}

	return reference-current >= threshold*reference
}

func percentDiff(current, reference float64) float64 {
	if reference == 0 {
		return 0
	}

	return 100 * (current - reference) / reference
}

func referenceName(reference *model.HistoryRecord) string {
	if reference.Tag != "" {
		return reference.Tag
	}
	if len(reference.Revision) > 8 {
		return reference.Revision[:8]
	}

	return reference.Revision
}
