// Package metrics provides job metrics collection and reporting.
//
// Metrics collects statistics about job latency, success/failure counts,
// queue admissions and throughput (RPS). It is thread-safe and optimized for
// high-concurrency use: the worker pool records every job it runs, and the
// load generator records every request it sends.
//
// # Basic Usage
//
//	m := metrics.New()
//
//	// Record jobs
//	start := time.Now()
//	// ... do work ...
//	m.RecordSuccess(time.Since(start))
//
//	// Get statistics
//	fmt.Printf("Total: %d, RPS: %.2f, P99: %v\n",
//	    m.TotalRequests(), m.RPS(), m.P99Latency())
//
//	// Get a snapshot
//	snap := m.Snapshot()
//
// # Configuration
//
// Use NewWithConfig for custom settings:
//
//	config := metrics.Config{
//	    MaxLatencySamples: 5000, // More samples for P99 accuracy
//	}
//	m := metrics.NewWithConfig(config)
//
// # Prometheus
//
// NewCollector adapts a Metrics to prometheus.Collector:
//
//	reg := prometheus.NewRegistry()
//	reg.MustRegister(metrics.NewCollector(m, "poolserve"))
//
// # Thread Safety
//
// All operations use atomic counters and are safe for concurrent access.
package metrics
