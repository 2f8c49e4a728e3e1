package resource

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mongodb/ftdc"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
)

// summaryCoverage is the share of task runtime past which a failure's
// timestamps are summarized as a duration instead of listed one by one.
const summaryCoverage = 0.10

// ruleProfile is the rule configuration for one (project, variant)
// combination.
type ruleProfile struct {
	chunkRules []ChunkRule
	fileRules  []FileRule
}

var (
	standaloneProfile = &ruleProfile{
		chunkRules: []ChunkRule{
			belowConfiguredCacheSize{},
			compareHeapCacheSizes{},
			maxConnections{},
		},
	}
	replicaProfile = &ruleProfile{
		chunkRules: []ChunkRule{
			belowConfiguredCacheSize{},
			compareHeapCacheSizes{},
			belowConfiguredOplogSize{},
			maxConnections{},
			replMemberState{},
		},
		fileRules: []FileRule{&ReplicaLagRule{}},
	}
)

const defaultProfileKey = "default"

// resourceProfiles maps project and variant to a rule profile, with a
// default at both levels.
var resourceProfiles = map[string]map[string]*ruleProfile{
	"sys-perf": {
		"linux-3-node-replSet":             replicaProfile,
		"linux-3-node-replSet-initialsync": replicaProfile,
		"linux-3-shard":                    replicaProfile,
		"linux-1-node-replSet":             replicaProfile,
		defaultProfileKey:                  standaloneProfile,
	},
	"longevity": {
		defaultProfileKey: replicaProfile,
	},
	defaultProfileKey: {
		defaultProfileKey: standaloneProfile,
	},
}

func profileFor(project, variant string) *ruleProfile {
	variants, ok := resourceProfiles[project]
	if !ok {
		variants = resourceProfiles[defaultProfileKey]
	}
	if profile, ok := variants[variant]; ok {
		return profile
	}

	return variants[defaultProfileKey]
}

// FileResult is the outcome of evaluating one diagnostic file. A malformed
// file fails its own checks without aborting the rest of the run.
type FileResult struct {
	Path   string
	Passed bool
	Log    string
}

// Engine drives the resource rules over FTDC diagnostic files.
type Engine struct {
	profile        *ruleProfile
	maxThreadLevel int
}

// NewEngine builds an engine for the project and variant, falling back to
// the default rule profile for unconfigured combinations. MaxThreadLevel
// bounds the connection count check; zero disables it until discovered.
func NewEngine(project, variant string, maxThreadLevel int) *Engine {
	return &Engine{
		profile:        profileFor(project, variant),
		maxThreadLevel: maxThreadLevel,
	}
}

// EvaluateFile runs every configured rule over one diagnostic file. The
// discovered rule constants are scoped to the file: each file describes one
// node, and one node's configuration must not stand in for another's.
func (e *Engine) EvaluateFile(ctx context.Context, path string) *FileResult {
	constants := &Constants{MaxThreadLevel: e.maxThreadLevel}
	results, span, err := e.runChunkRules(ctx, path, constants)
	if err != nil {
		grip.Warningf("diagnostic file %s failed validation: %v", path, err)
		return &FileResult{
			Path: path,
			Log:  fmt.Sprintf("failed to process %s: %v", path, err),
		}
	}

	for _, rule := range e.profile.fileRules {
		result, err := rule.EvaluateFile(ctx, path)
		if err != nil {
			grip.Warningf("rule %s failed on %s: %v", rule.Name(), path, err)
			return &FileResult{
				Path: path,
				Log:  fmt.Sprintf("failed to process %s: %v", path, err),
			}
		}
		results[rule.Name()] = result
	}

	passed := true
	messages := []string{}
	for _, name := range sortedRuleNames(results) {
		result := results[name]
		if result.OK() {
			continue
		}
		passed = false
		messages = append(messages, formatFailure(name, result, span))
	}

	return &FileResult{Path: path, Passed: passed, Log: strings.Join(messages, "\n")}
}

// runChunkRules streams the file once, observing constants and applying
// every chunk rule, and reports the observed time span of the file.
func (e *Engine) runChunkRules(ctx context.Context, path string, constants *Constants) (map[string]*RuleResult, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "problem opening diagnostic file %s", path)
	}
	defer file.Close()

	results := map[string]*RuleResult{}
	var firstTime, lastTime int64

	iter := ftdc.ReadChunks(ctx, file)
	defer iter.Close()
	for iter.Next() {
		chunk, err := NewMetricChunk(ctx, iter.Chunk())
		if err != nil {
			return nil, 0, errors.WithStack(err)
		}

		if firstTime == 0 {
			firstTime = chunk.Times[0]
		}
		lastTime = chunk.Times[len(chunk.Times)-1]

		constants.Observe(chunk)

		for _, rule := range e.profile.chunkRules {
			result := rule.Evaluate(chunk, constants)
			if result == nil {
				continue
			}
			if _, ok := results[rule.Name()]; !ok {
				results[rule.Name()] = &RuleResult{}
			}
			results[rule.Name()].Merge(result)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "problem reading chunks")
	}

	return results, lastTime - firstTime, nil
}

// EvaluateAll evaluates every file, continuing past per-file failures, and
// reports the combined outcome. Zero files is a pass: no diagnostic data
// means nothing to check, not an error.
func (e *Engine) EvaluateAll(ctx context.Context, paths []string) (bool, string) {
	if len(paths) == 0 {
		return true, "no diagnostic data files found; resource checks skipped"
	}

	passed := true
	logs := []string{}
	for _, path := range paths {
		result := e.EvaluateFile(ctx, path)
		if !result.Passed {
			passed = false
		}
		if result.Log != "" {
			logs = append(logs, result.Log)
		}
	}
	if passed {
		logs = append(logs, fmt.Sprintf("passed resource checks for %d diagnostic files", len(paths)))
	}

	return passed, strings.Join(logs, "\n")
}

func sortedRuleNames(results map[string]*RuleResult) []string {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// formatFailure renders one rule's failures. The first failing sample is
// always shown with its compared values; the full timestamp list is
// replaced by a duration summary when the failures cover more than a tenth
// of the task's runtime, to bound the message size.
func formatFailure(name string, result *RuleResult, spanMS int64) string {
	lines := []string{fmt.Sprintf("rule %s failed:", name)}

	if !result.Flat.Empty() {
		lines = append(lines, formatFlatFailure(result.Flat, spanMS, "  "))
	}
	for _, member := range sortedMembers(result.Members) {
		failure := result.Members[member]
		if failure.Empty() {
			continue
		}
		lines = append(lines, fmt.Sprintf("  member %s:", member))
		lines = append(lines, formatFlatFailure(failure, spanMS, "    "))
	}
	for _, key := range sortedKeys(result.Additional) {
		lines = append(lines, fmt.Sprintf("  %s: %v", key, result.Additional[key]))
	}

	return strings.Join(lines, "\n")
}

func formatFlatFailure(failure *Failure, spanMS int64, indent string) string {
	lines := []string{
		fmt.Sprintf("%sfirst failure at %s: %s", indent, formatTimestamp(failure.Times[0]), formatValues(failure.Labels, failure.Values[0])),
	}

	failSpan := failure.Times[len(failure.Times)-1] - failure.Times[0]
	if spanMS > 0 && float64(failSpan) > summaryCoverage*float64(spanMS) {
		lines = append(lines, fmt.Sprintf("%s%d failing samples over %s of a %s task",
			indent, len(failure.Times),
			time.Duration(failSpan)*time.Millisecond,
			time.Duration(spanMS)*time.Millisecond))
	} else {
		stamps := make([]string, 0, len(failure.Times))
		for _, ts := range failure.Times {
			stamps = append(stamps, formatTimestamp(ts))
		}
		lines = append(lines, fmt.Sprintf("%sfailures at: %s", indent, strings.Join(stamps, ", ")))
	}

	return strings.Join(lines, "\n")
}

func formatValues(labels []string, values []float64) string {
	parts := make([]string, 0, len(values))
	for i, value := range values {
		label := "value"
		if i < len(labels) {
			label = labels[i]
		}
		parts = append(parts, fmt.Sprintf("%s=%.2f", label, value))
	}

	return strings.Join(parts, ", ")
}

func formatTimestamp(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func sortedMembers(members map[string]*Failure) []string {
	out := make([]string, 0, len(members))
	for member := range members {
		out = append(out, member)
	}
	sort.Strings(out)

	return out
}

func sortedKeys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for key := range m {
		out = append(out, key)
	}
	sort.Strings(out)

	return out
}
