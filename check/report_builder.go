package check

import (
	"github.com/evergreen-ci/perfcheck/model"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// ReportBuilder drives one regression check run: every test in the history
// is checked with the rule set registered for the project and variant, and
// the verdicts are aggregated into a report plus the data for the human
// summaries.
type ReportBuilder struct {
	History      *model.HistorySeries
	TagHistory   *model.HistorySeries
	Overrides    *model.OverrideStore
	Thresholds   model.ThresholdConfig
	ProjectID    string
	Variant      string
	TaskName     string
	Revision     string
	ReferenceTag string
	NDays        int
}

// Run evaluates every test and returns the report and summary data. Errors
// here are configuration problems that must abort the run; per-test data
// gaps never surface as errors.
func (b *ReportBuilder) Run() (*model.Report, *Summary, error) {
	rules, err := RuleSetFor(b.ProjectID, b.Variant)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}

	thresholds, err := b.Thresholds.Resolve(b.ProjectID, b.Variant)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}

	ndays := b.NDays
	if ndays <= 0 {
		ndays = DefaultNDays
	}

	ctx := &Context{
		History:      b.History,
		TagHistory:   b.TagHistory,
		Overrides:    b.Overrides,
		ProjectID:    b.ProjectID,
		Variant:      b.Variant,
		Revision:     b.Revision,
		ReferenceTag: b.ReferenceTag,
		Thresholds:   thresholds,
		NDays:        ndays,
	}

	report := &model.Report{Results: []model.TestResult{}}
	for _, test := range b.History.TestNames() {
		current := b.History.SeriesAtRevision(test, b.Revision)
		if current == nil {
			grip.Infof("test %s has no result at revision %s, skipping", test, b.Revision)
			continue
		}

		outcomes := rules.Evaluate(ctx, current)
		result := model.TestResult{
			TestFile: test,
			Status:   model.StatusPass,
			Start:    current.Start,
			End:      current.End,
			Checks:   outcomes,
		}

		if result.Failed() {
			grip.Warning(message.Fields{
				"message":  "test failed regression check",
				"test":     test,
				"variant":  b.Variant,
				"task":     b.TaskName,
				"revision": b.Revision,
				"noise":    b.History.NoiseLevels(test),
				"rules":    rules.Name(),
			})
		}

		report.AddResult(result)
	}

	return report, &Summary{Regressions: ctx.Regressions, Lag: ctx.LagSummaries}, nil
}
