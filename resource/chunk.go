package resource

import (
	"context"
	"fmt"

	"github.com/evergreen-ci/birch"
	"github.com/evergreen-ci/birch/bsontype"
	"github.com/mongodb/ftdc"
	"github.com/pkg/errors"
)

// timeKeys are the metric paths that can serve as a chunk's sample clock,
// in preference order. Values are milliseconds since the epoch.
var timeKeys = []string{
	"serverStatus.localTime",
	"start",
}

// MetricChunk is one decoded FTDC batch: a mapping from dotted metric path
// to its sample sequence, plus the shared sample timestamps. Every sequence
// in a valid chunk has the same non-zero length as Times.
type MetricChunk struct {
	Times   []int64
	Metrics map[string][]int64
}

// NewMetricChunk adapts a decoded ftdc chunk. Metric.Key() flattens a
// nested path down to its top-level and leaf components, which collapses
// distinct metrics (every replica member's state, for one) onto the same
// key. The structured sample documents keep the original nesting and visit
// metric leaves in the same order as chunk.Metrics, so the full dotted
// paths are rebuilt from the first sample and paired with the metric value
// sequences positionally. Validation failures are file-level errors: the
// caller abandons the file, not the run.
func NewMetricChunk(ctx context.Context, chunk *ftdc.Chunk) (*MetricChunk, error) {
	iter := chunk.StructuredIterator(ctx)
	defer iter.Close()
	if !iter.Next() {
		return nil, errors.New("chunk is empty")
	}

	keys := documentKeys("", iter.Document(), nil)
	if len(keys) != len(chunk.Metrics) {
		return nil, errors.Errorf("sample has %d metric paths, chunk has %d metrics", len(keys), len(chunk.Metrics))
	}

	metrics := map[string][]int64{}
	for i, metric := range chunk.Metrics {
		metrics[keys[i]] = metric.Values
	}

	var times []int64
	for _, key := range timeKeys {
		if series, ok := metrics[key]; ok {
			times = series
			break
		}
	}
	if times == nil {
		return nil, errors.New("chunk has no time series")
	}
	if len(times) == 0 {
		return nil, errors.New("chunk is empty")
	}

	for key, series := range metrics {
		if len(series) != len(times) {
			return nil, errors.Errorf("metric %s has %d samples, expected %d", key, len(series), len(times))
		}
	}

	return &MetricChunk{Times: times, Metrics: metrics}, nil
}

// documentKeys appends the dotted path of every metric leaf under doc in
// document order, which is the order the decoder emits chunk.Metrics in.
func documentKeys(prefix string, doc *birch.Document, out []string) []string {
	iter := doc.Iterator()
	for iter.Next() {
		elem := iter.Element()
		key := elem.Key()
		if prefix != "" {
			key = prefix + "." + key
		}
		out = valueKeys(key, elem.Value(), out)
	}

	return out
}

func valueKeys(key string, val *birch.Value, out []string) []string {
	switch val.Type() {
	case bsontype.EmbeddedDocument:
		return documentKeys(key, val.MutableDocument(), out)
	case bsontype.Array:
		iter := val.MutableArray().Iterator()
		for idx := 0; iter.Next(); idx++ {
			out = valueKeys(fmt.Sprintf("%s.%d", key, idx), iter.Value(), out)
		}
		return out
	case bsontype.Timestamp:
		// a timestamp decodes as two metrics
		return append(out, key, key+".inc")
	default:
		return append(out, key)
	}
}

// Series returns the samples for a metric path, or nil when the chunk does
// not carry it.
func (c *MetricChunk) Series(key string) []int64 { return c.Metrics[key] }
