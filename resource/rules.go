package resource

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

// Metric paths the chunk rules read. These match the server's diagnostic
// data layout.
const (
	cacheSizeKey   = "serverStatus.wiredTiger.cache.bytes currently in the cache"
	cacheMaxKey    = "serverStatus.wiredTiger.cache.maximum bytes configured"
	heapSizeKey    = "serverStatus.tcmalloc.generic.heap_size"
	oplogSizeKey   = "local.oplog.rs.stats.size"
	oplogMaxKey    = "local.oplog.rs.stats.maxSize"
	connectionsKey = "serverStatus.connections.current"
)

// Tolerance factors applied before a resource bound counts as violated.
const (
	cacheSizeTolerance = 1.08
	oplogSizeTolerance = 1.10
)

var memberKeyPattern = regexp.MustCompile(`^replSetGetStatus\.members\.(\d+)\.`)

func memberStateKey(member string) string {
	return fmt.Sprintf("replSetGetStatus.members.%s.state", member)
}

func memberOptimeDateKey(member string) string {
	return fmt.Sprintf("replSetGetStatus.members.%s.optimeDate", member)
}

// badMemberStates are the replica set member state codes that indicate a
// degraded member.
var badMemberStates = map[int64]string{
	3:  "RECOVERING",
	6:  "UNKNOWN",
	8:  "DOWN",
	9:  "ROLLBACK",
	10: "REMOVED",
}

// Constants holds the rule parameters that are either supplied by the
// caller or discovered from the metric stream as chunks go by. A rule whose
// parameter has not been resolved yet is skipped for that chunk; later
// chunks may supply it.
type Constants struct {
	MaxThreadLevel int

	cacheSize int64
	oplogSize int64
	members   []string
}

// Observe updates the discovered constants from a chunk. Each constant
// keeps the first value seen.
func (c *Constants) Observe(chunk *MetricChunk) {
	if c.cacheSize == 0 {
		if series := chunk.Series(cacheMaxKey); len(series) > 0 {
			c.cacheSize = series[0]
		}
	}
	if c.oplogSize == 0 {
		if series := chunk.Series(oplogMaxKey); len(series) > 0 {
			c.oplogSize = series[0]
		}
	}
	if len(c.members) == 0 {
		c.members = discoverMembers(chunk)
	}
}

// Members returns the replica set member ids discovered so far, sorted
// numerically. Empty for standalone nodes.
func (c *Constants) Members() []string { return c.members }

func discoverMembers(chunk *MetricChunk) []string {
	seen := map[string]struct{}{}
	for key := range chunk.Metrics {
		if match := memberKeyPattern.FindStringSubmatch(key); match != nil {
			seen[match[1]] = struct{}{}
		}
	}

	members := make([]string, 0, len(seen))
	for member := range seen {
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool {
		a, _ := strconv.Atoi(members[i])
		b, _ := strconv.Atoi(members[j])
		return a < b
	})

	return members
}

// ChunkRule checks one invariant over one chunk. A nil result means the
// rule could not run (missing metric or unresolved parameter), which is not
// a failure.
type ChunkRule interface {
	Name() string
	Evaluate(chunk *MetricChunk, constants *Constants) *RuleResult
}

// belowConfiguredCacheSize fails wherever the WiredTiger cache grows past
// the configured maximum plus tolerance.
type belowConfiguredCacheSize struct{}

func (belowConfiguredCacheSize) Name() string { return "below_configured_cache_size" }

func (belowConfiguredCacheSize) Evaluate(chunk *MetricChunk, constants *Constants) *RuleResult {
	if constants.cacheSize == 0 {
		return nil
	}
	series := chunk.Series(cacheSizeKey)
	if series == nil {
		return nil
	}

	bound := cacheSizeTolerance * float64(constants.cacheSize)
	failure := &Failure{Labels: []string{"cache size (bytes)", "configured cache size (bytes)"}}
	for i, value := range series {
		if float64(value) > bound {
			failure.Append(chunk.Times[i], float64(value), float64(constants.cacheSize))
		}
	}

	return &RuleResult{Flat: failure}
}

// compareHeapCacheSizes fails wherever the cache has grown to the allocated
// heap size or beyond, within tolerance.
type compareHeapCacheSizes struct{}

func (compareHeapCacheSizes) Name() string { return "compare_heap_cache_sizes" }

func (compareHeapCacheSizes) Evaluate(chunk *MetricChunk, constants *Constants) *RuleResult {
	cache := chunk.Series(cacheSizeKey)
	heap := chunk.Series(heapSizeKey)
	if cache == nil || heap == nil {
		return nil
	}

	failure := &Failure{Labels: []string{"cache size (bytes)", "heap size (bytes)"}}
	for i, value := range cache {
		if float64(value) >= cacheSizeTolerance*float64(heap[i]) {
			failure.Append(chunk.Times[i], float64(value), float64(heap[i]))
		}
	}

	return &RuleResult{Flat: failure}
}

// belowConfiguredOplogSize fails wherever the oplog exceeds its configured
// maximum plus tolerance.
type belowConfiguredOplogSize struct{}

func (belowConfiguredOplogSize) Name() string { return "below_configured_oplog_size" }

func (belowConfiguredOplogSize) Evaluate(chunk *MetricChunk, constants *Constants) *RuleResult {
	if constants.oplogSize == 0 {
		return nil
	}
	series := chunk.Series(oplogSizeKey)
	if series == nil {
		return nil
	}

	bound := float64(constants.oplogSize) * oplogSizeTolerance
	failure := &Failure{Labels: []string{"oplog size (mb)", "configured oplog size (mb)"}}
	for i, value := range series {
		if float64(value) > bound {
			failure.Append(chunk.Times[i], float64(value), float64(constants.oplogSize))
		}
	}

	return &RuleResult{Flat: failure}
}

// maxConnections fails wherever the connection count exceeds what the
// workload's thread level and the replica set topology can account for.
type maxConnections struct{}

func (maxConnections) Name() string { return "max_connections" }

func (maxConnections) Evaluate(chunk *MetricChunk, constants *Constants) *RuleResult {
	if constants.MaxThreadLevel <= 0 {
		return nil
	}
	series := chunk.Series(connectionsKey)
	if series == nil {
		return nil
	}

	// 2 connections per worker thread, 2 for monitoring, 2 per repl
	// member for heartbeats and sync
	bound := int64(2*constants.MaxThreadLevel + 2 + 2*len(constants.members))
	failure := &Failure{Labels: []string{"connections", "bound"}}
	for i, value := range series {
		if value > bound {
			failure.Append(chunk.Times[i], float64(value), float64(bound))
		}
	}

	return &RuleResult{Flat: failure}
}

// replMemberState fails whenever any member reports a degraded state code.
// The result is member-scoped.
type replMemberState struct{}

func (replMemberState) Name() string { return "repl_member_state" }

func (replMemberState) Evaluate(chunk *MetricChunk, constants *Constants) *RuleResult {
	if len(constants.members) == 0 {
		return nil
	}

	result := &RuleResult{Members: map[string]*Failure{}}
	for _, member := range constants.members {
		series := chunk.Series(memberStateKey(member))
		if series == nil {
			continue
		}

		failure := &Failure{Labels: []string{"member state code"}}
		for i, state := range series {
			if _, bad := badMemberStates[state]; bad {
				failure.Append(chunk.Times[i], float64(state))
			}
		}
		if !failure.Empty() {
			result.Members[member] = failure
		}
	}

	return result
}
