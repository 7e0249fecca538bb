// Package stats provides a unified interface for collecting metrics.
package stats

// Metric names used throughout the library.
const (
	// Cached store metrics, labelled by store_id.
	MetricHits        = "chunkcache_hits_total"
	MetricMisses      = "chunkcache_misses_total"
	MetricHitSeconds  = "chunkcache_hit_seconds"
	MetricMissSeconds = "chunkcache_miss_seconds"

	// Cache storage metrics.
	MetricEvictions           = "chunkcache_evictions_total"
	MetricConsistencyWarnings = "chunkcache_consistency_warnings_total"
	MetricOversizeRejections  = "chunkcache_oversize_rejections_total"
	MetricCacheBytes          = "chunkcache_cache_bytes"
	MetricOpenStores          = "chunkcache_open_stores"

	// Timing decorator metric, labelled by op.
	MetricStorageSeconds = "chunkcache_storage_seconds"
)

// Label names.
const (
	LabelStoreID = "store_id"
	LabelOp      = "op"
)

// Label is a metric dimension.
type Label struct {
	Name  string
	Value string
}

// StoreLabel returns the store_id label for storeID.
func StoreLabel(storeID string) Label {
	return Label{Name: LabelStoreID, Value: storeID}
}

// OpLabel returns the op label for a storage operation.
func OpLabel(op string) Label {
	return Label{Name: LabelOp, Value: op}
}

// Collector defines the interface for collecting metrics.
// A metric name must always be used with the same label names.
type Collector interface {
	// IncCounter increments a counter metric by delta.
	IncCounter(name string, delta int64, labels ...Label)

	// SetGauge sets a gauge metric to value.
	SetGauge(name string, value int64, labels ...Label)

	// ObserveHistogram records a value in a histogram metric.
	ObserveHistogram(name string, value float64, labels ...Label)
}
