package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector exposes a Metrics instance to Prometheus.
//
// Values are read from the atomic counters at scrape time, so the pool never
// touches Prometheus on its hot path.
type Collector struct {
	m *Metrics

	submitted *prometheus.Desc
	rejected  *prometheus.Desc
	completed *prometheus.Desc
	inFlight  *prometheus.Desc
	avgLat    *prometheus.Desc
	p99Lat    *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for m. namespace prefixes every metric
// name (e.g. "poolserve_jobs_submitted_total").
func NewCollector(m *Metrics, namespace string) *Collector {
	name := func(n string) string {
		return prometheus.BuildFQName(namespace, "jobs", n)
	}
	return &Collector{
		m:         m,
		submitted: prometheus.NewDesc(name("submitted_total"), "Jobs accepted into the queue.", nil, nil),
		rejected:  prometheus.NewDesc(name("rejected_total"), "Jobs refused because the pool was shut down or the queue was full.", nil, nil),
		completed: prometheus.NewDesc(name("completed_total"), "Jobs that finished, by outcome.", []string{"outcome"}, nil),
		inFlight:  prometheus.NewDesc(name("in_flight"), "Jobs currently executing.", nil, nil),
		avgLat:    prometheus.NewDesc(name("latency_avg_seconds"), "Average job execution time.", nil, nil),
		p99Lat:    prometheus.NewDesc(name("latency_p99_seconds"), "Sampled 99th percentile job execution time.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.submitted
	ch <- c.rejected
	ch <- c.completed
	ch <- c.inFlight
	ch <- c.avgLat
	ch <- c.p99Lat
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.submitted, prometheus.CounterValue, float64(c.m.Submitted()))
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(c.m.Rejected()))
	ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, float64(c.m.SuccessRequests()), "success")
	ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, float64(c.m.FailedRequests()), "failure")
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(c.m.InFlight()))
	ch <- prometheus.MustNewConstMetric(c.avgLat, prometheus.GaugeValue, c.m.AverageLatency().Seconds())
	ch <- prometheus.MustNewConstMetric(c.p99Lat, prometheus.GaugeValue, c.m.P99Latency().Seconds())
}
