package model

import (
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// createTimeFormats covers the timestamp layouts the result harness has
// produced over time. The first match wins.
var createTimeFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ThreadResult holds the measurements taken at one thread level. The lag
// fields are only present for replica set variants; a nil pointer means the
// harness did not report that value.
type ThreadResult struct {
	OpsPerSec           float64   `json:"ops_per_sec"`
	OpsPerSecValues     []float64 `json:"ops_per_sec_values,omitempty"`
	ReplicaAvgLag       *float64  `json:"replica_avg_lag,omitempty"`
	ReplicaMaxLag       *float64  `json:"replica_max_lag,omitempty"`
	ReplicaEndOfTestLag *float64  `json:"replica_end_of_test_lag,omitempty"`
}

// ThreadResults maps a thread level (e.g. "1", "8", "16") to its
// measurements. History files historically mixed scalar bookkeeping values
// into the same mapping, so unmarshaling keeps only the entries whose value
// is an object.
type ThreadResults map[string]ThreadResult

func (r *ThreadResults) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "problem reading thread results")
	}

	out := ThreadResults{}
	for level, msg := range raw {
		if len(msg) == 0 || msg[0] != '{' {
			continue
		}

		tr := ThreadResult{}
		if err := json.Unmarshal(msg, &tr); err != nil {
			return errors.Wrapf(err, "problem reading results for thread level %s", level)
		}
		out[level] = tr
	}

	*r = out
	return nil
}

// HistoryRecord is one benchmark result for one test at one commit. Records
// are immutable once loaded; the derived max and thread level values are
// computed on first access and cached.
type HistoryRecord struct {
	TestName   string
	Revision   string
	Tag        string
	Order      int
	CreateTime time.Time
	TaskName   string
	Start      float64
	End        float64
	Results    ThreadResults

	maxComputed  bool
	maxOpsPerSec float64
	threadLevels []string
}

// MaxOpsPerSec returns the maximum throughput across all thread levels, or
// zero when the record has no results.
func (r *HistoryRecord) MaxOpsPerSec() float64 {
	r.computeDerived()
	return r.maxOpsPerSec
}

// ThreadLevels returns the record's thread levels in sorted order.
func (r *HistoryRecord) ThreadLevels() []string {
	r.computeDerived()
	return r.threadLevels
}

func (r *HistoryRecord) computeDerived() {
	if r.maxComputed {
		return
	}

	levels := make([]string, 0, len(r.Results))
	max := 0.0
	for level, result := range r.Results {
		levels = append(levels, level)
		if result.OpsPerSec > max {
			max = result.OpsPerSec
		}
	}
	sort.Strings(levels)

	r.threadLevels = levels
	r.maxOpsPerSec = max
	r.maxComputed = true
}

// rawCommit mirrors the on-disk shape of one entry in a history file, which
// groups the results of every test run at one commit.
type rawCommit struct {
	Revision   string `json:"revision"`
	Tag        string `json:"tag"`
	Order      int    `json:"order"`
	CreateTime string `json:"create_time"`
	TaskName   string `json:"task_name"`
	Data       struct {
		Results []rawTestResult `json:"results"`
	} `json:"data"`
}

type rawTestResult struct {
	Name    string        `json:"name"`
	Start   float64       `json:"start"`
	End     float64       `json:"end"`
	Results ThreadResults `json:"results"`
}

// HistorySeries owns the per-test ordered result series loaded from one
// history file. All lookups return nil when no matching record exists;
// missing data is never an error at this layer.
type HistorySeries struct {
	tests map[string][]*HistoryRecord
	noise map[string]map[string]float64
}

// LoadHistory reads and indexes a history JSON file.
func LoadHistory(path string) (*HistorySeries, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "problem reading history file %s", path)
	}

	return NewHistorySeries(data)
}

// NewHistorySeries builds a series from raw history JSON.
func NewHistorySeries(data []byte) (*HistorySeries, error) {
	commits := []rawCommit{}
	if err := json.Unmarshal(data, &commits); err != nil {
		return nil, errors.Wrap(err, "problem parsing history data")
	}

	series := &HistorySeries{
		tests: map[string][]*HistoryRecord{},
		noise: map[string]map[string]float64{},
	}

	for _, commit := range commits {
		createTime, err := parseCreateTime(commit.CreateTime)
		if err != nil {
			return nil, errors.Wrapf(err, "problem parsing create time for revision %s", commit.Revision)
		}

		for _, result := range commit.Data.Results {
			record := &HistoryRecord{
				TestName:   result.Name,
				Revision:   commit.Revision,
				Tag:        commit.Tag,
				Order:      commit.Order,
				CreateTime: createTime,
				TaskName:   commit.TaskName,
				Start:      result.Start,
				End:        result.End,
				Results:    result.Results,
			}
			series.tests[result.Name] = append(series.tests[result.Name], record)
		}
	}

	for name := range series.tests {
		records := series.tests[name]
		sort.SliceStable(records, func(i, j int) bool { return records[i].Order < records[j].Order })
	}

	return series, nil
}

func parseCreateTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}

	for _, format := range createTimeFormats {
		if ts, err := time.Parse(format, value); err == nil {
			return ts, nil
		}
	}

	return time.Time{}, errors.Errorf("unrecognized timestamp '%s'", value)
}

// TestNames returns the names of every test in the series, sorted.
func (h *HistorySeries) TestNames() []string {
	names := make([]string, 0, len(h.tests))
	for name := range h.tests {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// SeriesAtRevision returns the record for a test at an exact revision.
func (h *HistorySeries) SeriesAtRevision(test, revision string) *HistoryRecord {
	for _, record := range h.tests[test] {
		if record.Revision == revision {
			return record
		}
	}

	return nil
}

// SeriesAtTag returns the record for a test carrying the given tag.
func (h *HistorySeries) SeriesAtTag(test, tag string) *HistoryRecord {
	if tag == "" {
		return nil
	}

	for _, record := range h.tests[test] {
		if record.Tag == tag {
			return record
		}
	}

	return nil
}

// SeriesAtNBefore returns the record exactly n positions before the record
// at the given revision in commit order, or nil when fewer than n records
// precede it.
func (h *HistorySeries) SeriesAtNBefore(test, revision string, n int) *HistoryRecord {
	records := h.tests[test]
	for idx, record := range records {
		if record.Revision == revision {
			if idx-n < 0 {
				return nil
			}
			return records[idx-n]
		}
	}

	return nil
}

// SeriesAtNDaysBefore returns the newest record whose create time is
// strictly older than n days before the given revision's create time. Among
// all records outside the window this picks the least stale one, which is
// the established comparison semantics for the n-days reference point.
func (h *HistorySeries) SeriesAtNDaysBefore(test, revision string, n int) *HistoryRecord {
	current := h.SeriesAtRevision(test, revision)
	if current == nil {
		return nil
	}

	cutoff := current.CreateTime.AddDate(0, 0, -n)

	var newest *HistoryRecord
	for _, record := range h.tests[test] {
		if !record.CreateTime.Before(cutoff) {
			continue
		}
		if newest == nil || record.CreateTime.After(newest.CreateTime) {
			newest = record
		}
	}

	return newest
}

// NoiseLevels reports, per thread level, the average spread of the repeated
// throughput samples across the test's history. Computed once per test and
// cached.
func (h *HistorySeries) NoiseLevels(test string) map[string]float64 {
	if cached, ok := h.noise[test]; ok {
		return cached
	}

	ranges := map[string][]float64{}
	for _, record := range h.tests[test] {
		for level, result := range record.Results {
			if len(result.OpsPerSecValues) == 0 {
				continue
			}

			max, err := stats.Max(result.OpsPerSecValues)
			if err != nil {
				continue
			}
			min, err := stats.Min(result.OpsPerSecValues)
			if err != nil {
				continue
			}
			ranges[level] = append(ranges[level], max-min)
		}
	}

	noise := map[string]float64{}
	for level, spread := range ranges {
		mean, err := stats.Mean(spread)
		if err != nil {
			continue
		}
		noise[level] = mean
	}

	h.noise[test] = noise
	return noise
}
