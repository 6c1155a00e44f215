// Package metrics exposes Prometheus counters and gauges for the
// transaction, bitmap, and node layers, registered against the default
// registry the way client_golang's promauto helpers are documented to be
// used.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransactionCommitsTotal counts committed transactions.
	TransactionCommitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "blockfs",
		Subsystem: "txn",
		Name:      "commits_total",
		Help:      "Total number of transactions committed to the device.",
	})

	// TransactionAbortsTotal counts transactions discarded without commit.
	TransactionAbortsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "blockfs",
		Subsystem: "txn",
		Name:      "aborts_total",
		Help:      "Total number of transactions discarded without a commit.",
	})

	// BlocksAllocatedTotal counts data blocks handed out by the block map.
	BlocksAllocatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "blockfs",
		Subsystem: "bitmap",
		Name:      "blocks_allocated_total",
		Help:      "Total number of data blocks allocated from the block map.",
	})

	// BlocksFreedTotal counts data blocks returned to the block map.
	BlocksFreedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "blockfs",
		Subsystem: "bitmap",
		Name:      "blocks_freed_total",
		Help:      "Total number of data blocks returned to the block map.",
	})

	// NodesAllocatedTotal counts node-table slots handed out.
	NodesAllocatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "blockfs",
		Subsystem: "nodemap",
		Name:      "nodes_allocated_total",
		Help:      "Total number of node-table slots allocated.",
	})

	// NodesFreedTotal counts node-table slots returned.
	NodesFreedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "blockfs",
		Subsystem: "nodemap",
		Name:      "nodes_freed_total",
		Help:      "Total number of node-table slots freed.",
	})

	// AllocationFailuresTotal counts ErrOutOfSpace/ErrOutOfExtents
	// failures, labeled by the resource that was exhausted.
	AllocationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockfs",
		Subsystem: "alloc",
		Name:      "failures_total",
		Help:      "Total number of allocation failures, by exhausted resource.",
	}, []string{"resource"})

	// FreeBlocksGauge reports the current free-block count at each commit.
	FreeBlocksGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "blockfs",
		Subsystem: "bitmap",
		Name:      "free_blocks",
		Help:      "Number of free data blocks as of the last commit.",
	})

	// FreeNodesGauge reports the current free node-table slot count.
	FreeNodesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "blockfs",
		Subsystem: "nodemap",
		Name:      "free_nodes",
		Help:      "Number of free node-table slots as of the last commit.",
	})
)
