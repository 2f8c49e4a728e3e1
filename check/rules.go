package check

import (
	"github.com/evergreen-ci/perfcheck/model"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// Named check outcomes as they appear in the report.
const (
	previousCompareName  = "PreviousCompare"
	ndayCompareName      = "NDayCompare"
	baselineCompareName  = "BaselineCompare"
	dashboardCompareName = "DashboardCompare"
	replicaLagCheckName  = "Replica_lag_check"
)

// DefaultNDays is the age of the n-days-back reference point.
const DefaultNDays = 7

// defaultLagThresholdSecs bounds the acceptable replica lag reported by the
// workload itself.
const defaultLagThresholdSecs = 10.0

// Context carries the inputs of one regression check run plus the summary
// buffers the checks append to. It is owned by a single ReportBuilder call
// and never shared.
type Context struct {
	History      *model.HistorySeries
	TagHistory   *model.HistorySeries
	Overrides    *model.OverrideStore
	ProjectID    string
	Variant      string
	Revision     string
	ReferenceTag string
	Thresholds   model.Thresholds
	NDays        int

	Regressions  []Comparison
	LagSummaries []LagSummary
}

// LagSummary is one row of the replica lag summary table.
type LagSummary struct {
	Test         string
	Thread       string
	AvgLag       float64
	MaxLag       float64
	EndOfTestLag float64
}

// thresholdsFor resolves the thresholds for one test: a per-test override
// supersedes the variant-level configuration.
func (ctx *Context) thresholdsFor(test string) model.Thresholds {
	if ctx.Overrides == nil {
		return ctx.Thresholds
	}

	override := ctx.Overrides.Threshold(ctx.Variant, test)
	if override == nil {
		return ctx.Thresholds
	}

	grip.Info(message.Fields{
		"message": "using threshold override",
		"test":    test,
		"variant": ctx.Variant,
		"tickets": override.Ticket,
	})

	return model.Thresholds{
		Threshold:       override.Threshold,
		ThreadThreshold: override.ThreadThreshold,
	}
}

type checkFunc func(ctx *Context, current *model.HistoryRecord) (string, Verdict)

// compareToPrevious compares against the record one position back in commit
// order.
func compareToPrevious(ctx *Context, current *model.HistoryRecord) (string, Verdict) {
	reference := ctx.History.SeriesAtNBefore(current.TestName, ctx.Revision, 1)
	if reference == nil {
		grip.Infof("no previous revision for test %s, skipping comparison", current.TestName)
	}

	return previousCompareName, ctx.runComparison(current, reference, "Previous")
}

// compareToNDays compares against the n-days-back reference point, which an
// ndays override may substitute.
func compareToNDays(ctx *Context, current *model.HistoryRecord) (string, Verdict) {
	reference := ctx.History.SeriesAtNDaysBefore(current.TestName, ctx.Revision, ctx.NDays)
	if ctx.Overrides != nil {
		if override := ctx.Overrides.NDays(ctx.Variant, current.TestName); override != nil {
			grip.Info(message.Fields{
				"message": "using ndays override",
				"test":    current.TestName,
				"variant": ctx.Variant,
				"tickets": override.Ticket,
			})
			reference = override.Record(current.TestName)
		}
	}
	if reference == nil {
		grip.Infof("no %d-days-old revision for test %s, skipping comparison", ctx.NDays, current.TestName)
	}

	return ndayCompareName, ctx.runComparison(current, reference, "NDays")
}

// compareToTag compares against the tagged baseline build, which a
// reference override may substitute.
func compareToTag(ctx *Context, current *model.HistoryRecord) (string, Verdict) {
	var reference *model.HistoryRecord
	if ctx.TagHistory != nil {
		reference = ctx.TagHistory.SeriesAtTag(current.TestName, ctx.ReferenceTag)
	}
	if ctx.Overrides != nil {
		if override := ctx.Overrides.Reference(ctx.Variant, current.TestName); override != nil {
			grip.Info(message.Fields{
				"message": "using reference override",
				"test":    current.TestName,
				"variant": ctx.Variant,
				"tickets": override.Ticket,
			})
			reference = override.Record(current.TestName)
		}
	}
	if reference == nil {
		grip.Infof("no tagged baseline for test %s, skipping comparison", current.TestName)
	}

	return baselineCompareName, ctx.runComparison(current, reference, "Baseline")
}

// compareToDashboardBaseline classifies against the tagged baseline at the
// dashboard's two severities. A drop past the unacceptable thresholds fails
// the check; a drop past only the undesired thresholds keeps the check
// passing but is logged and recorded for the summary table.
func compareToDashboardBaseline(ctx *Context, current *model.HistoryRecord) (string, Verdict) {
	var reference *model.HistoryRecord
	if ctx.TagHistory != nil {
		reference = ctx.TagHistory.SeriesAtTag(current.TestName, ctx.ReferenceTag)
	}
	if ctx.Overrides != nil {
		if override := ctx.Overrides.Reference(ctx.Variant, current.TestName); override != nil {
			grip.Info(message.Fields{
				"message": "using reference override",
				"test":    current.TestName,
				"variant": ctx.Variant,
				"tickets": override.Ticket,
			})
			reference = override.Record(current.TestName)
		}
	}
	if reference == nil {
		grip.Infof("no tagged baseline for test %s, skipping comparison", current.TestName)
		return dashboardCompareName, Pass
	}

	unacceptable := model.Thresholds{
		Threshold:       ctx.Thresholds.Unacceptable,
		ThreadThreshold: ctx.Thresholds.ThreadUnacceptable,
	}
	verdict, failures := CompareThroughputs(current, reference, "Unacceptable", unacceptable)
	if verdict == Fail {
		ctx.Regressions = append(ctx.Regressions, failures...)
		return dashboardCompareName, Fail
	}

	undesired := model.Thresholds{
		Threshold:       ctx.Thresholds.Undesired,
		ThreadThreshold: ctx.Thresholds.ThreadUndesired,
	}
	if v, tolerated := CompareThroughputs(current, reference, "Undesired", undesired); v == Fail {
		grip.Warning(message.Fields{
			"message": "throughput dropped to undesired levels against the baseline",
			"test":    current.TestName,
			"variant": ctx.Variant,
		})
		ctx.Regressions = append(ctx.Regressions, tolerated...)
	}

	return dashboardCompareName, Pass
}

func (ctx *Context) runComparison(current, reference *model.HistoryRecord, label string) Verdict {
	verdict, failures := CompareThroughputs(current, reference, label, ctx.thresholdsFor(current.TestName))
	ctx.Regressions = append(ctx.Regressions, failures...)

	return verdict
}

// replicaLagCheck inspects the lag values the workload recorded per thread
// level and fails when any max lag exceeds the threshold. It also feeds the
// lag summary table for every level that reported lag at all.
func replicaLagCheck(threshold float64) checkFunc {
	return func(ctx *Context, current *model.HistoryRecord) (string, Verdict) {
		verdict := Pass
		for _, level := range current.ThreadLevels() {
			result := current.Results[level]
			if result.ReplicaMaxLag == nil {
				continue
			}

			summary := LagSummary{
				Test:   current.TestName,
				Thread: level,
				MaxLag: *result.ReplicaMaxLag,
			}
			if result.ReplicaAvgLag != nil {
				summary.AvgLag = *result.ReplicaAvgLag
			}
			if result.ReplicaEndOfTestLag != nil {
				summary.EndOfTestLag = *result.ReplicaEndOfTestLag
			}
			ctx.LagSummaries = append(ctx.LagSummaries, summary)

			if *result.ReplicaMaxLag > threshold {
				verdict = Fail
			}
		}

		return replicaLagCheckName, verdict
	}
}

// RuleSet is the closed set of checks applied to every test of one
// (project, variant) combination.
type RuleSet interface {
	Name() string
	Evaluate(ctx *Context, current *model.HistoryRecord) map[string]string
}

type ruleSet struct {
	name   string
	checks []checkFunc
}

func (r *ruleSet) Name() string { return r.name }

func (r *ruleSet) Evaluate(ctx *Context, current *model.HistoryRecord) map[string]string {
	outcomes := map[string]string{}
	for _, check := range r.checks {
		name, verdict := check(ctx, current)
		outcomes[name] = verdict.String()
	}

	return outcomes
}

var (
	sysSingle = &ruleSet{
		name:   "sys_single",
		checks: []checkFunc{compareToPrevious, compareToNDays, compareToTag},
	}
	sysReplica = &ruleSet{
		name: "sys_replica",
		checks: []checkFunc{
			compareToPrevious, compareToNDays, compareToTag,
			replicaLagCheck(defaultLagThresholdSecs),
		},
	}
	sysShard = &ruleSet{
		name: "sys_shard",
		checks: []checkFunc{
			compareToPrevious, compareToNDays, compareToTag,
			replicaLagCheck(defaultLagThresholdSecs),
		},
	}
	longevityShard = &ruleSet{
		name: "longevity_shard",
		checks: []checkFunc{
			compareToPrevious, compareToNDays, compareToTag,
			replicaLagCheck(defaultLagThresholdSecs),
		},
	}
	dashboardBaseline = &ruleSet{
		name:   "dashboard_baseline",
		checks: []checkFunc{compareToDashboardBaseline},
	}
)

// checkRules is the closed dispatch table of variant handlers. There is
// deliberately no default entry: an unknown combination is a configuration
// error, not a test to silently skip.
var checkRules = map[string]map[string]RuleSet{
	"sys-perf": {
		"linux-standalone":                 sysSingle,
		"linux-1-node-replSet":             sysSingle,
		"linux-oplog-compare":              sysSingle,
		"linux-3-node-replSet":             sysReplica,
		"linux-3-node-replSet-initialsync": sysReplica,
		"linux-3-shard":                    sysShard,
	},
	"performance": {
		"linux-wt-standalone":   sysSingle,
		"linux-mmap-standalone": sysSingle,
		"linux-wt-repl":         sysReplica,
		"linux-mmap-repl":       sysReplica,
	},
	"longevity": {
		"linux-wt-shard":     longevityShard,
		"linux-mmapv1-shard": longevityShard,
	},
	"dashboard": {
		"linux-standalone":     dashboardBaseline,
		"linux-1-node-replSet": dashboardBaseline,
		"linux-3-node-replSet": dashboardBaseline,
		"linux-3-shard":        dashboardBaseline,
	},
}

// RuleSetFor returns the rule set registered for a project and variant. The
// error aborts the entire run.
func RuleSetFor(project, variant string) (RuleSet, error) {
	variants, ok := checkRules[project]
	if !ok {
		return nil, errors.Errorf("project '%s' has no registered check rules", project)
	}

	rules, ok := variants[variant]
	if !ok {
		return nil, errors.Errorf("variant '%s' of project '%s' has no registered check rules", variant, project)
	}

	return rules, nil
}
