package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCount(t *testing.T) {
	c := NewCollector(New(), "poolserve")

	// completed は outcome ごとに2系列
	if n := testutil.CollectAndCount(c); n != 7 {
		t.Errorf("expected 7 metrics, got %d", n)
	}
}

func TestCollectorValues(t *testing.T) {
	m := New()
	m.RecordSubmitted()
	m.RecordSubmitted()
	m.RecordSubmitted()
	m.RecordRejected()
	m.RecordSuccess(5 * time.Millisecond)
	m.RecordFailure(5 * time.Millisecond)

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(m, "poolserve"))

	expected := `
# HELP poolserve_jobs_submitted_total Jobs accepted into the queue.
# TYPE poolserve_jobs_submitted_total counter
poolserve_jobs_submitted_total 3
# HELP poolserve_jobs_rejected_total Jobs refused because the pool was shut down or the queue was full.
# TYPE poolserve_jobs_rejected_total counter
poolserve_jobs_rejected_total 1
# HELP poolserve_jobs_completed_total Jobs that finished, by outcome.
# TYPE poolserve_jobs_completed_total counter
poolserve_jobs_completed_total{outcome="failure"} 1
poolserve_jobs_completed_total{outcome="success"} 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"poolserve_jobs_submitted_total",
		"poolserve_jobs_rejected_total",
		"poolserve_jobs_completed_total",
	)
	if err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
}
