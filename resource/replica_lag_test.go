package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func replChunk(times []int64, states map[string][]int64, optimes map[string][]int64) *MetricChunk {
	metrics := map[string][]int64{}
	for member, series := range states {
		metrics[memberStateKey(member)] = series
	}
	for member, series := range optimes {
		metrics[memberOptimeDateKey(member)] = series
	}

	return chunkOf(times, metrics)
}

func TestFlagUnacceptableLag(t *testing.T) {
	const threshold = 10000

	t.Run("SingleSampleSkipped", func(t *testing.T) {
		failure := flagUnacceptableLag([]int64{0}, []int64{50000}, threshold)
		assert.True(t, failure.Empty())
	})

	t.Run("LagBelowThreshold", func(t *testing.T) {
		failure := flagUnacceptableLag(
			[]int64{0, 10000, 20000},
			[]int64{2000, 5000, 8000},
			threshold,
		)
		assert.True(t, failure.Empty())
	})

	t.Run("SustainedLagFlagged", func(t *testing.T) {
		failure := flagUnacceptableLag(
			[]int64{0, 10000, 20000, 30000},
			[]int64{5000, 12000, 15000, 16000},
			threshold,
		)
		require.False(t, failure.Empty())
		assert.Equal(t, []int64{10000, 20000, 30000}, failure.Times)
		assert.Equal(t, [][]float64{{12000}, {15000}, {16000}}, failure.Values)
		assert.Equal(t, []string{"replication lag (ms)"}, failure.Labels)
	})

	t.Run("SpikeArtifactSuppressed", func(t *testing.T) {
		// lag jumping faster than wall-clock time cannot be real
		// replication lag, and the plateau after it decays under the
		// marker
		failure := flagUnacceptableLag(
			[]int64{0, 1000, 2000, 3000},
			[]int64{0, 50000, 50500, 0},
			threshold,
		)
		assert.True(t, failure.Empty())
	})

	t.Run("MarkerClearsWhenLagDrops", func(t *testing.T) {
		// the spike arms the marker, but once lag falls below it the
		// remaining above-threshold samples flag normally
		failure := flagUnacceptableLag(
			[]int64{0, 1000, 2000, 3000, 4000},
			[]int64{0, 50000, 20000, 20500, 21000},
			threshold,
		)
		require.False(t, failure.Empty())
		assert.Equal(t, []int64{2000, 3000, 4000}, failure.Times)
	})

	t.Run("InitialLagArmsMarker", func(t *testing.T) {
		// lag already past the threshold at the start of a tenure is
		// treated as a pre-existing condition until it decays away
		failure := flagUnacceptableLag(
			[]int64{0, 10000, 20000},
			[]int64{20000, 26000, 35000},
			threshold,
		)
		assert.True(t, failure.Empty())
	})
}

func TestLagScannerComputesSecondaryLag(t *testing.T) {
	times := []int64{0, 10000, 20000, 30000}
	scanner := newLagScanner(DefaultLagThresholdMS)

	scanner.observe(replChunk(times,
		map[string][]int64{"0": {1, 1, 1, 1}, "1": {2, 2, 2, 2}, "2": {2, 2, 2, 2}},
		map[string][]int64{
			"0": {0, 10000, 20000, 30000},
			"1": {-5000, -2000, 5000, 14000},
			"2": {0, 10000, 20000, 30000},
		},
	))

	result := scanner.finish()
	require.NotNil(t, result)
	assert.False(t, result.OK())
	require.Contains(t, result.Members, "1")
	assert.NotContains(t, result.Members, "2")
	// lag is 5000, 12000, 15000, 16000; the first sample is under the
	// threshold
	assert.Equal(t, []int64{10000, 20000, 30000}, result.Members["1"].Times)
	assert.Equal(t, "0", result.Additional["primary member"])
	assert.Equal(t, int64(DefaultLagThresholdMS), result.Additional["lag threshold (ms)"])
}

func TestLagScannerElectionClosesWindow(t *testing.T) {
	scanner := newLagScanner(DefaultLagThresholdMS)

	// member 0 is primary, member 1 falls behind
	scanner.observe(replChunk([]int64{0, 10000},
		map[string][]int64{"0": {1, 1}, "1": {2, 2}},
		map[string][]int64{"0": {0, 10000}, "1": {-11000, -2000}},
	))
	// member 1 wins an election; its huge lag under the old primary is
	// only one accumulated sample per tenure boundary and must not leak
	// into the new window
	scanner.observe(replChunk([]int64{20000, 30000},
		map[string][]int64{"0": {2, 2}, "1": {1, 1}},
		map[string][]int64{"0": {19000, 29000}, "1": {20000, 30000}},
	))

	result := scanner.finish()
	require.NotNil(t, result)
	// first window: lags 11000 then 12000, but the 11000 arrives as the
	// first sample and arms the marker, and 12000 stays under its decay;
	// second window: member 0 lags only 1000
	assert.True(t, result.OK())
}

func TestLagScannerDiscardsPartialChunk(t *testing.T) {
	scanner := newLagScanner(DefaultLagThresholdMS)

	// member 2 has no optime data, so the whole chunk is discarded even
	// though member 1 shows enormous lag
	scanner.observe(replChunk([]int64{0, 10000},
		map[string][]int64{"0": {1, 1}, "1": {2, 2}, "2": {2, 2}},
		map[string][]int64{"0": {0, 10000}, "1": {-500000, -500000}},
	))

	result := scanner.finish()
	require.NotNil(t, result)
	assert.True(t, result.OK())
}

func TestLagScannerSkipsChunkWithoutPrimary(t *testing.T) {
	scanner := newLagScanner(DefaultLagThresholdMS)

	// member 0 transitions mid-chunk and member 1 never reaches PRIMARY,
	// so no window opens
	scanner.observe(replChunk([]int64{0, 10000},
		map[string][]int64{"0": {1, 2}, "1": {2, 2}},
		map[string][]int64{"0": {0, 10000}, "1": {0, 10000}},
	))

	result := scanner.finish()
	require.NotNil(t, result)
	assert.True(t, result.OK())
	assert.Nil(t, scanner.window)
}

func TestReplicaLagRuleThreshold(t *testing.T) {
	assert.Equal(t, int64(DefaultLagThresholdMS), (&ReplicaLagRule{}).threshold())
	assert.Equal(t, int64(5000), (&ReplicaLagRule{ThresholdMS: 5000}).threshold())
}
