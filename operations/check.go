package operations

import (
	"os"

	"github.com/evergreen-ci/perfcheck/check"
	"github.com/evergreen-ci/perfcheck/model"
	"github.com/evergreen-ci/perfcheck/util"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// Check returns the perfcheck check sub-command, which runs the throughput
// regression rules over a history file and writes the JSON report.
func Check() cli.Command {
	return cli.Command{
		Name:  "check",
		Usage: "check benchmark results for throughput regressions",
		Flags: addOutputFlag(projectFlags(historyFlags()...)...),
		Before: mergeBeforeFuncs(
			requireStringFlag(projectIDFlag),
			requireStringFlag(variantFlag),
			requireStringFlag(taskNameFlag),
			requireStringFlag(revisionFlag),
			requireStringFlag(historyFlagName),
			requireFileExists(historyFlagName, false),
			requireFileExists(tagFileFlagName, true),
			requireFileExists(overrideFileFlag, true),
			requireFileExists(thresholdsFlag, true),
		),
		Action: func(c *cli.Context) error {
			builder, err := buildReportBuilder(c)
			if err != nil {
				return errors.WithStack(err)
			}

			report, summary, err := builder.Run()
			if err != nil {
				return errors.Wrap(err, "problem running regression checks")
			}

			summary.RenderRegressions(os.Stderr)
			summary.RenderLag(os.Stderr)

			if err := util.WriteJSON(c.String(outputFlagName), report); err != nil {
				return errors.Wrap(err, "problem writing report")
			}

			if report.Failures > 0 {
				return errors.Errorf("%d tests failed regression checks", report.Failures)
			}

			grip.Infof("all %d tests passed regression checks", len(report.Results))
			return nil
		},
	}
}

func buildReportBuilder(c *cli.Context) (*check.ReportBuilder, error) {
	history, err := model.LoadHistory(c.String(historyFlagName))
	if err != nil {
		return nil, errors.Wrap(err, "problem loading history")
	}

	var tagHistory *model.HistorySeries
	if path := c.String(tagFileFlagName); path != "" {
		tagHistory, err = model.LoadHistory(path)
		if err != nil {
			return nil, errors.Wrap(err, "problem loading tag history")
		}
	} else {
		grip.Info("no tag history file given; baseline comparisons will pass")
	}

	overrides, err := model.LoadOverrides(c.String(overrideFileFlag))
	if err != nil {
		return nil, errors.Wrap(err, "problem loading overrides")
	}

	thresholds, err := model.LoadThresholdConfig(c.String(thresholdsFlag))
	if err != nil {
		return nil, errors.Wrap(err, "problem loading threshold configuration")
	}

	return &check.ReportBuilder{
		History:      history,
		TagHistory:   tagHistory,
		Overrides:    overrides,
		Thresholds:   thresholds,
		ProjectID:    c.String(projectIDFlag),
		Variant:      c.String(variantFlag),
		TaskName:     c.String(taskNameFlag),
		Revision:     c.String(revisionFlag),
		ReferenceTag: c.String(refTagFlag),
		NDays:        c.Int(ndaysFlag),
	}, nil
}
