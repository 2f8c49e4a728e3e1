package resource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/evergreen-ci/birch"
	"github.com/mongodb/ftdc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDiagnostics(t *testing.T, docs []*birch.Document) string {
	collector := ftdc.NewDynamicCollector(len(docs))
	for _, doc := range docs {
		require.NoError(t, collector.Add(doc))
	}
	data, err := collector.Resolve()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "metrics.ftdc")
	require.NoError(t, os.WriteFile(path, data, 0600))

	return path
}

func standaloneDoc(ts, cache, configured, heap, connections int64) *birch.Document {
	return birch.NewDocument(
		birch.EC.Int64("start", ts),
		birch.EC.SubDocument("serverStatus", birch.NewDocument(
			birch.EC.SubDocument("wiredTiger", birch.NewDocument(
				birch.EC.SubDocument("cache", birch.NewDocument(
					birch.EC.Int64("bytes currently in the cache", cache),
					birch.EC.Int64("maximum bytes configured", configured),
				)),
			)),
			birch.EC.SubDocument("tcmalloc", birch.NewDocument(
				birch.EC.SubDocument("generic", birch.NewDocument(
					birch.EC.Int64("heap_size", heap),
				)),
			)),
			birch.EC.SubDocument("connections", birch.NewDocument(
				birch.EC.Int64("current", connections),
			)),
		)),
	)
}

func replicaDoc(ts int64, states, optimes []int64) *birch.Document {
	members := birch.NewDocument()
	for i := range states {
		members.Append(birch.EC.SubDocument(
			// member ids are document keys in replSetGetStatus
			fmtMember(i),
			birch.NewDocument(
				birch.EC.Int64("state", states[i]),
				birch.EC.Int64("optimeDate", optimes[i]),
			),
		))
	}

	return birch.NewDocument(
		birch.EC.Int64("start", ts),
		birch.EC.SubDocument("replSetGetStatus", birch.NewDocument(
			birch.EC.SubDocument("members", members),
		)),
	)
}

func fmtMember(i int) string { return string(rune('0' + i)) }

const configuredCache = 8589934592 // 8GB

func TestEvaluateFilePasses(t *testing.T) {
	docs := make([]*birch.Document, 10)
	for i := range docs {
		docs[i] = standaloneDoc(int64(1000*(i+1)), 6e9, configuredCache, 10e9, 20)
	}
	path := writeDiagnostics(t, docs)

	engine := NewEngine("sys-perf", "linux-standalone", 64)
	result := engine.EvaluateFile(context.Background(), path)
	assert.True(t, result.Passed)
	assert.Empty(t, result.Log)
	assert.Equal(t, path, result.Path)
}

func TestEvaluateFileFlagsCacheGrowth(t *testing.T) {
	docs := []*birch.Document{
		standaloneDoc(1000, 6e9, configuredCache, 12e9, 20),
		standaloneDoc(2000, 9.5e9, configuredCache, 12e9, 20),
		standaloneDoc(3000, 6e9, configuredCache, 12e9, 20),
	}
	path := writeDiagnostics(t, docs)

	engine := NewEngine("sys-perf", "linux-standalone", 64)
	result := engine.EvaluateFile(context.Background(), path)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Log, "rule below_configured_cache_size failed")
	assert.Contains(t, result.Log, "first failure at")
	assert.Contains(t, result.Log, "cache size (bytes)")
}

func TestEvaluateFileReplicaHealthy(t *testing.T) {
	docs := make([]*birch.Document, 10)
	for i := range docs {
		ts := int64(10000 * (i + 1))
		docs[i] = replicaDoc(ts, []int64{1, 2, 2}, []int64{ts, ts - 500, ts - 200})
	}
	path := writeDiagnostics(t, docs)

	engine := NewEngine("sys-perf", "linux-3-node-replSet", 32)
	result := engine.EvaluateFile(context.Background(), path)
	assert.True(t, result.Passed)
	assert.Empty(t, result.Log)
}

func TestEvaluateFileFlagsDegradedMember(t *testing.T) {
	docs := make([]*birch.Document, 4)
	for i := range docs {
		ts := int64(10000 * (i + 1))
		states := []int64{1, 2, 2}
		if i >= 2 {
			states[2] = 8 // DOWN
		}
		docs[i] = replicaDoc(ts, states, []int64{ts, ts, ts})
	}
	path := writeDiagnostics(t, docs)

	engine := NewEngine("sys-perf", "linux-3-node-replSet", 32)
	result := engine.EvaluateFile(context.Background(), path)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Log, "rule repl_member_state failed")
	assert.Contains(t, result.Log, "member 2:")
}

func TestEvaluateFileScopesConstantsPerFile(t *testing.T) {
	// cache growth bounded by the first file's configured maximum
	withConfig := writeDiagnostics(t, []*birch.Document{
		standaloneDoc(1000, 6e9, configuredCache, 12e9, 20),
		standaloneDoc(2000, 6e9, configuredCache, 12e9, 20),
	})
	// a second node that never reports a configured maximum; its cache
	// rule must stay unresolved rather than borrow the first node's
	withoutConfig := writeDiagnostics(t, []*birch.Document{
		birch.NewDocument(
			birch.EC.Int64("start", 1000),
			birch.EC.SubDocument("serverStatus", birch.NewDocument(
				birch.EC.SubDocument("wiredTiger", birch.NewDocument(
					birch.EC.SubDocument("cache", birch.NewDocument(
						birch.EC.Int64("bytes currently in the cache", 20e9),
					)),
				)),
			)),
		),
	})

	engine := NewEngine("sys-perf", "linux-standalone", 64)
	passed, log := engine.EvaluateAll(context.Background(), []string{withConfig, withoutConfig})
	assert.True(t, passed)
	assert.Contains(t, log, "passed resource checks for 2 diagnostic files")
}

func TestEvaluateFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.ftdc")
	require.NoError(t, os.WriteFile(path, []byte("this is not diagnostic data"), 0600))

	engine := NewEngine("sys-perf", "linux-standalone", 64)
	result := engine.EvaluateFile(context.Background(), path)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Log, "failed to process")
}

func TestEvaluateAll(t *testing.T) {
	ctx := context.Background()

	t.Run("NoFilesPasses", func(t *testing.T) {
		engine := NewEngine("sys-perf", "linux-standalone", 64)
		passed, log := engine.EvaluateAll(ctx, nil)
		assert.True(t, passed)
		assert.Equal(t, "no diagnostic data files found; resource checks skipped", log)
	})

	t.Run("ContinuesPastFailure", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.ftdc")
		require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0600))
		good := writeDiagnostics(t, []*birch.Document{
			standaloneDoc(1000, 6e9, configuredCache, 10e9, 20),
			standaloneDoc(2000, 6e9, configuredCache, 10e9, 20),
		})

		engine := NewEngine("sys-perf", "linux-standalone", 64)
		passed, log := engine.EvaluateAll(ctx, []string{bad, good})
		assert.False(t, passed)
		assert.Contains(t, log, "failed to process")
		assert.NotContains(t, log, "passed resource checks")
	})

	t.Run("AllPass", func(t *testing.T) {
		good := writeDiagnostics(t, []*birch.Document{
			standaloneDoc(1000, 6e9, configuredCache, 10e9, 20),
			standaloneDoc(2000, 6e9, configuredCache, 10e9, 20),
		})

		engine := NewEngine("sys-perf", "linux-standalone", 64)
		passed, log := engine.EvaluateAll(ctx, []string{good})
		assert.True(t, passed)
		assert.Contains(t, log, "passed resource checks for 1 diagnostic files")
	})
}

func TestProfileFor(t *testing.T) {
	for _, test := range []struct {
		name     string
		project  string
		variant  string
		expected *ruleProfile
	}{
		{name: "SysPerfReplica", project: "sys-perf", variant: "linux-3-node-replSet", expected: replicaProfile},
		{name: "SysPerfFallback", project: "sys-perf", variant: "linux-standalone", expected: standaloneProfile},
		{name: "LongevityDefault", project: "longevity", variant: "linux-wt-shard", expected: replicaProfile},
		{name: "UnknownProject", project: "something-else", variant: "whatever", expected: standaloneProfile},
	} {
		t.Run(test.name, func(t *testing.T) {
			assert.Same(t, test.expected, profileFor(test.project, test.variant))
		})
	}
}

func TestFormatFlatFailure(t *testing.T) {
	t.Run("ShortSpanListsTimestamps", func(t *testing.T) {
		failure := &Failure{
			Times:  []int64{1000, 2000},
			Values: [][]float64{{10, 5}, {11, 5}},
			Labels: []string{"observed", "bound"},
		}
		out := formatFlatFailure(failure, 600000, "  ")
		assert.Contains(t, out, "first failure at 1970-01-01T00:00:01Z: observed=10.00, bound=5.00")
		assert.Contains(t, out, "failures at: 1970-01-01T00:00:01Z, 1970-01-01T00:00:02Z")
	})

	t.Run("LongSpanSummarizes", func(t *testing.T) {
		failure := &Failure{
			Times:  []int64{1000, 100000},
			Values: [][]float64{{10}, {11}},
			Labels: []string{"observed"},
		}
		out := formatFlatFailure(failure, 600000, "  ")
		assert.Contains(t, out, "2 failing samples over")
		assert.NotContains(t, out, "failures at:")
	})
}
