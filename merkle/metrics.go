package merkle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsSet is the process-wide set of Prometheus collectors shared
// by every open Tree. Grounded on the domain-stack decision to surface
// flush/clone/update activity the way an operator dashboard would want
// it (SPEC_FULL.md §2 ambient metrics row).
type metricsSet struct {
	puts                     prometheus.Counter
	treesCloned              prometheus.Counter
	treesUpdatedWithoutClone prometheus.Counter
	flushDuration            prometheus.Histogram
	pendingQueueDepth        prometheus.Gauge
	poisoned                 prometheus.Counter
}

func newMetricsSet() *metricsSet {
	return &metricsSet{
		puts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "merkletree",
			Name:      "puts_total",
			Help:      "Number of key/value pairs accepted via Put.",
		}),
		treesCloned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "merkletree",
			Name:      "trees_cloned_total",
			Help:      "Number of successful Clone operations.",
		}),
		treesUpdatedWithoutClone: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "merkletree",
			Name:      "trees_updated_without_clone_total",
			Help:      "Number of Update calls serviced by the cache-copy fast path.",
		}),
		flushDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "merkletree",
			Name:      "flush_duration_seconds",
			Help:      "Wall-clock time spent inside Flush's atomic batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		pendingQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "merkletree",
			Name:      "pending_queue_depth",
			Help:      "Writes accepted by Put but not yet folded into the tree by the commit worker.",
		}),
		poisoned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "merkletree",
			Name:      "poisoned_total",
			Help:      "Number of trees poisoned by a failed commit-worker item.",
		}),
	}
}

// globalMetrics is shared across every Tree in the process, mirroring
// how a single Prometheus registry serves a whole binary.
var globalMetrics = newMetricsSet()
