package graphstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts store operations.
	// Labels: operation, result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "learnloop",
			Subsystem: "graphstore",
			Name:      "operations_total",
			Help:      "Total number of graph store operations",
		},
		[]string{"operation", "result"},
	)

	// OperationDuration tracks store operation latency.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "learnloop",
			Subsystem: "graphstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of graph store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// TxnConflictsTotal counts badger transaction conflicts that were retried.
	TxnConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "learnloop",
			Subsystem: "graphstore",
			Name:      "txn_conflicts_total",
			Help:      "Total number of retried transaction conflicts",
		},
	)

	// VectorResults tracks how many hits similarity searches return.
	VectorResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "learnloop",
			Subsystem: "graphstore",
			Name:      "vector_search_results",
			Help:      "Number of results returned per vector search",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 25},
		},
		[]string{"index"},
	)
)

func observe(operation string, seconds float64, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(operation, result).Inc()
	OperationDuration.WithLabelValues(operation).Observe(seconds)
}
