package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkOf(times []int64, metrics map[string][]int64) *MetricChunk {
	if metrics == nil {
		metrics = map[string][]int64{}
	}
	metrics["serverStatus.localTime"] = times

	return &MetricChunk{Times: times, Metrics: metrics}
}

func TestBelowConfiguredCacheSize(t *testing.T) {
	const configured = 8589934592 // 8GB

	for _, test := range []struct {
		name     string
		observed int64
		fails    bool
	}{
		{name: "UnderConfigured", observed: 8e9},
		{name: "WithinTolerance", observed: 9e9},
		{name: "PastTolerance", observed: 9.5e9, fails: true},
	} {
		t.Run(test.name, func(t *testing.T) {
			chunk := chunkOf([]int64{1000}, map[string][]int64{
				cacheSizeKey: {test.observed},
			})
			constants := &Constants{}
			constants.cacheSize = configured

			result := belowConfiguredCacheSize{}.Evaluate(chunk, constants)
			require.NotNil(t, result)
			if test.fails {
				assert.False(t, result.OK())
				require.Len(t, result.Flat.Values, 1)
				assert.Equal(t, []float64{float64(test.observed), float64(configured)}, result.Flat.Values[0])
				assert.Equal(t, []int64{1000}, result.Flat.Times)
			} else {
				assert.True(t, result.OK())
			}
		})
	}
}

func TestBelowConfiguredCacheSizeSkipsWithoutConstant(t *testing.T) {
	chunk := chunkOf([]int64{1000}, map[string][]int64{cacheSizeKey: {9e9}})
	assert.Nil(t, belowConfiguredCacheSize{}.Evaluate(chunk, &Constants{}))
}

func TestCompareHeapCacheSizes(t *testing.T) {
	chunk := chunkOf([]int64{1000, 2000}, map[string][]int64{
		cacheSizeKey: {5e9, 11e9},
		heapSizeKey:  {10e9, 10e9},
	})

	result := compareHeapCacheSizes{}.Evaluate(chunk, &Constants{})
	require.NotNil(t, result)
	assert.False(t, result.OK())
	require.Len(t, result.Flat.Times, 1)
	assert.Equal(t, int64(2000), result.Flat.Times[0])
}

func TestBelowConfiguredOplogSize(t *testing.T) {
	constants := &Constants{}
	constants.oplogSize = 1000

	chunk := chunkOf([]int64{1000, 2000, 3000}, map[string][]int64{
		oplogSizeKey: {900, 1050, 1200},
	})

	result := belowConfiguredOplogSize{}.Evaluate(chunk, constants)
	require.NotNil(t, result)
	// 1050 is within the 10% tolerance, 1200 is not
	require.Len(t, result.Flat.Times, 1)
	assert.Equal(t, int64(3000), result.Flat.Times[0])
}

func TestMaxConnections(t *testing.T) {
	chunk := chunkOf([]int64{1000, 2000}, map[string][]int64{
		connectionsKey: {70, 71},
	})

	t.Run("Replica", func(t *testing.T) {
		constants := &Constants{MaxThreadLevel: 32}
		constants.members = []string{"0", "1", "2"}

		// bound is 2*32 + 2 + 2*3 = 72
		result := maxConnections{}.Evaluate(chunk, constants)
		require.NotNil(t, result)
		assert.True(t, result.OK())
	})

	t.Run("Standalone", func(t *testing.T) {
		// without members the bound tightens to 66
		constants := &Constants{MaxThreadLevel: 32}

		result := maxConnections{}.Evaluate(chunk, constants)
		require.NotNil(t, result)
		assert.False(t, result.OK())
		assert.Len(t, result.Flat.Times, 2)
	})

	t.Run("UnresolvedThreadLevel", func(t *testing.T) {
		assert.Nil(t, maxConnections{}.Evaluate(chunk, &Constants{}))
	})
}

func TestReplMemberState(t *testing.T) {
	constants := &Constants{}
	constants.members = []string{"0", "1", "2"}

	chunk := chunkOf([]int64{1000, 2000}, map[string][]int64{
		memberStateKey("0"): {1, 1},
		memberStateKey("1"): {2, 8},
		memberStateKey("2"): {2, 2},
	})

	result := replMemberState{}.Evaluate(chunk, constants)
	require.NotNil(t, result)
	assert.False(t, result.OK())
	require.Contains(t, result.Members, "1")
	assert.NotContains(t, result.Members, "0")
	assert.NotContains(t, result.Members, "2")
	assert.Equal(t, []int64{2000}, result.Members["1"].Times)
	assert.Equal(t, [][]float64{{8}}, result.Members["1"].Values)
}

func TestConstantsObserve(t *testing.T) {
	constants := &Constants{}

	constants.Observe(chunkOf([]int64{1000}, map[string][]int64{
		cacheMaxKey: {8589934592},
	}))
	assert.Equal(t, int64(8589934592), constants.cacheSize)
	assert.Empty(t, constants.Members())

	constants.Observe(chunkOf([]int64{2000}, map[string][]int64{
		// the first observed value wins
		cacheMaxKey:              {1},
		oplogMaxKey:              {1000},
		memberStateKey("10"):     {1},
		memberStateKey("2"):      {2},
		memberOptimeDateKey("0"): {5},
		connectionsKey:           {4},
	}))
	assert.Equal(t, int64(8589934592), constants.cacheSize)
	assert.Equal(t, int64(1000), constants.oplogSize)
	// numeric, not lexical, member ordering
	assert.Equal(t, []string{"0", "2", "10"}, constants.Members())
}

func TestRuleResultMerge(t *testing.T) {
	first := &RuleResult{Flat: &Failure{Times: []int64{1}, Values: [][]float64{{10}}, Labels: []string{"v"}}}
	second := &RuleResult{Flat: &Failure{Times: []int64{2}, Values: [][]float64{{20}}}}

	first.Merge(second)
	assert.Equal(t, []int64{1, 2}, first.Flat.Times)
	assert.Equal(t, [][]float64{{10}, {20}}, first.Flat.Values)
	assert.Equal(t, []string{"v"}, first.Flat.Labels)

	members := &RuleResult{}
	members.Merge(&RuleResult{Members: map[string]*Failure{"1": {Times: []int64{1}, Values: [][]float64{{3}}}}})
	members.Merge(&RuleResult{
		Members:    map[string]*Failure{"1": {Times: []int64{2}, Values: [][]float64{{6}}}},
		Additional: map[string]interface{}{"primary member": "0"},
	})
	assert.Equal(t, []int64{1, 2}, members.Members["1"].Times)
	assert.Equal(t, "0", members.Additional["primary member"])
}
