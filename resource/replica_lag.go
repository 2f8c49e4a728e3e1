package resource

import (
	"context"
	"os"

	"github.com/mongodb/ftdc"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
)

// DefaultLagThresholdMS is the replication lag above which a secondary is
// considered to have fallen behind.
const DefaultLagThresholdMS = 10 * 1000

const primaryState = 1

// FileRule checks an invariant that needs the whole metric stream rather
// than a single chunk.
type FileRule interface {
	Name() string
	EvaluateFile(ctx context.Context, path string) (*RuleResult, error)
}

// ReplicaLagRule flags sustained replication lag past the threshold while
// tolerating transient spikes. It tracks primary elections: lag is only
// meaningful within one primary's tenure, so each election closes out the
// data accumulated for the previous primary.
type ReplicaLagRule struct {
	ThresholdMS int64
}

func (r *ReplicaLagRule) Name() string { return "replica_lag" }

func (r *ReplicaLagRule) EvaluateFile(ctx context.Context, path string) (*RuleResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "problem opening diagnostic file %s", path)
	}
	defer file.Close()

	scanner := newLagScanner(r.threshold())

	iter := ftdc.ReadChunks(ctx, file)
	defer iter.Close()
	for iter.Next() {
		chunk, err := NewMetricChunk(ctx, iter.Chunk())
		if err != nil {
			return nil, errors.Wrapf(err, "malformed chunk in %s", path)
		}
		scanner.observe(chunk)
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrapf(err, "problem reading chunks from %s", path)
	}

	return scanner.finish(), nil
}

func (r *ReplicaLagRule) threshold() int64 {
	if r.ThresholdMS > 0 {
		return r.ThresholdMS
	}
	return DefaultLagThresholdMS
}

// lagWindow accumulates the lag data observed during one primary's tenure.
type lagWindow struct {
	primary string
	times   []int64
	lags    map[string][]int64
}

func newLagWindow(primary string) *lagWindow {
	return &lagWindow{primary: primary, lags: map[string][]int64{}}
}

// lagScanner walks the chunk stream, detecting elections and computing
// per-secondary lag from the members' optime dates.
type lagScanner struct {
	thresholdMS int64
	members     []string
	window      *lagWindow
	closed      []*lagWindow
}

func newLagScanner(thresholdMS int64) *lagScanner {
	return &lagScanner{thresholdMS: thresholdMS}
}

func (s *lagScanner) observe(chunk *MetricChunk) {
	if len(s.members) == 0 {
		s.members = discoverMembers(chunk)
		if len(s.members) == 0 {
			return
		}
	}

	primary := s.findPrimary(chunk)
	if primary == "" {
		return
	}

	if s.window != nil && s.window.primary != primary {
		grip.Infof("detected election: primary changed from member %s to member %s", s.window.primary, primary)
		s.closed = append(s.closed, s.window)
		s.window = nil
	}
	if s.window == nil {
		s.window = newLagWindow(primary)
	}

	primaryOptime := chunk.Series(memberOptimeDateKey(primary))
	if primaryOptime == nil {
		return
	}

	// lag data for a chunk is all or nothing: a chunk where any
	// secondary is missing optime data is discarded entirely
	lags := map[string][]int64{}
	for _, member := range s.members {
		if member == primary {
			continue
		}
		secondaryOptime := chunk.Series(memberOptimeDateKey(member))
		if secondaryOptime == nil {
			return
		}

		lag := make([]int64, len(primaryOptime))
		for i := range primaryOptime {
			lag[i] = primaryOptime[i] - secondaryOptime[i]
		}
		lags[member] = lag
	}

	s.window.times = append(s.window.times, chunk.Times...)
	for member, lag := range lags {
		s.window.lags[member] = append(s.window.lags[member], lag...)
	}
}

// findPrimary returns the member whose state is PRIMARY for the entire
// chunk, or "" when none is. A member whose state changes mid-chunk is in
// transition and is skipped for this chunk.
func (s *lagScanner) findPrimary(chunk *MetricChunk) string {
	for _, member := range s.members {
		states := chunk.Series(memberStateKey(member))
		if len(states) == 0 {
			continue
		}

		transitioned := false
		for _, state := range states {
			if state != states[0] {
				transitioned = true
				break
			}
		}
		if transitioned {
			grip.Debugf("member %s changed state mid-chunk, skipping it for this chunk", member)
			continue
		}

		if states[0] == primaryState {
			return member
		}
	}

	return ""
}

// finish flushes the last window and merges every primary tenure's
// failures into one result.
func (s *lagScanner) finish() *RuleResult {
	if s.window != nil {
		s.closed = append(s.closed, s.window)
		s.window = nil
	}

	merged := &RuleResult{}
	for _, window := range s.closed {
		merged.Merge(s.classify(window))
	}

	return merged
}

func (s *lagScanner) classify(window *lagWindow) *RuleResult {
	result := &RuleResult{Members: map[string]*Failure{}}
	for member, lags := range window.lags {
		failure := flagUnacceptableLag(window.times, lags, s.thresholdMS)
		if !failure.Empty() {
			result.Members[member] = failure
		}
	}

	if len(result.Members) == 0 {
		return nil
	}

	result.Additional = map[string]interface{}{
		"lag threshold (ms)": s.thresholdMS,
		"primary member":     window.primary,
	}

	return result
}

// lagSample is one (timestamp, lag) observation.
type lagSample struct {
	time int64
	lag  int64
}

// flagUnacceptableLag classifies one secondary's lag series for one primary
// tenure. Windows with at most one sample are skipped outright; a single
// observation is not enough to distinguish lag from a startup transient.
//
// The classifier keeps a false-positive marker. Lag that grows faster than
// wall-clock time is physically impossible for real replication, so such a
// jump re-arms the marker instead of flagging. While a marker is armed, lag
// only flags once it exceeds the marker's lag plus the elapsed time since
// the marker was set, i.e. the marker decays linearly. The marker clears as
// soon as lag drops back below it.
func flagUnacceptableLag(times []int64, lags []int64, thresholdMS int64) *Failure {
	failure := &Failure{Labels: []string{"replication lag (ms)"}}
	if len(lags) <= 1 {
		return failure
	}

	var marker *lagSample
	previous := lagSample{time: times[0], lag: lags[0]}
	if previous.lag > thresholdMS {
		marker = &lagSample{time: previous.time, lag: previous.lag}
	}

	for i := 1; i < len(lags); i++ {
		current := lagSample{time: times[i], lag: lags[i]}

		if marker != nil && current.lag < marker.lag {
			marker = nil
		}

		if current.lag > thresholdMS {
			switch {
			case current.lag-previous.lag > current.time-previous.time:
				marker = &lagSample{time: current.time, lag: current.lag}
			case marker != nil:
				if current.lag > marker.lag+(current.time-marker.time) {
					failure.Append(current.time, float64(current.lag))
				}
			default:
				failure.Append(current.time, float64(current.lag))
			}
		}

		previous = current
	}

	return failure
}
