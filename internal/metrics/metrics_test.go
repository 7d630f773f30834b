package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestNewMetrics(t *testing.T) {
	m := New()

	if m.TotalRequests() != 0 {
		t.Errorf("expected 0 total jobs, got %d", m.TotalRequests())
	}
	if m.InFlight() != 0 {
		t.Errorf("expected 0 in flight, got %d", m.InFlight())
	}
}

func TestNewWithConfigInvalidSamples(t *testing.T) {
	m := NewWithConfig(Config{MaxLatencySamples: -1})
	if m.maxLatencySamples != DefaultConfig().MaxLatencySamples {
		t.Errorf("expected default sample size, got %d", m.maxLatencySamples)
	}
}

func TestMetricsRecordSuccessAndFailure(t *testing.T) {
	m := New()

	m.RecordSuccess(10 * time.Millisecond)
	m.RecordSuccess(20 * time.Millisecond)
	m.RecordFailure(30 * time.Millisecond)

	if m.TotalRequests() != 3 {
		t.Errorf("expected 3 total jobs, got %d", m.TotalRequests())
	}
	if m.SuccessRequests() != 2 {
		t.Errorf("expected 2 successful jobs, got %d", m.SuccessRequests())
	}
	if m.FailedRequests() != 1 {
		t.Errorf("expected 1 failed job, got %d", m.FailedRequests())
	}
}

func TestMetricsAdmission(t *testing.T) {
	m := New()

	m.RecordSubmitted()
	m.RecordSubmitted()
	m.RecordRejected()

	if m.Submitted() != 2 {
		t.Errorf("expected 2 submitted, got %d", m.Submitted())
	}
	if m.Rejected() != 1 {
		t.Errorf("expected 1 rejected, got %d", m.Rejected())
	}
}

func TestMetricsInFlight(t *testing.T) {
	m := New()

	m.Begin()
	m.Begin()
	if m.InFlight() != 2 {
		t.Errorf("expected 2 in flight, got %d", m.InFlight())
	}

	m.End()
	m.End()
	if m.InFlight() != 0 {
		t.Errorf("expected 0 in flight, got %d", m.InFlight())
	}
}

func TestMetricsAverageLatency(t *testing.T) {
	m := New()

	m.RecordSuccess(10 * time.Millisecond)
	m.RecordSuccess(20 * time.Millisecond)
	m.RecordSuccess(30 * time.Millisecond)

	if avg := m.AverageLatency(); avg != 20*time.Millisecond {
		t.Errorf("expected average latency 20ms, got %v", avg)
	}
}

func TestMetricsErrorRate(t *testing.T) {
	m := New()

	if m.ErrorRate() != 0 {
		t.Errorf("expected error rate 0 with no jobs, got %f", m.ErrorRate())
	}

	m.RecordSuccess(10 * time.Millisecond)
	m.RecordFailure(10 * time.Millisecond)

	if rate := m.ErrorRate(); rate != 0.5 {
		t.Errorf("expected error rate 0.5, got %f", rate)
	}
}

func TestMetricsP99Latency(t *testing.T) {
	m := New()

	for i := 1; i <= 100; i++ {
		m.RecordSuccess(time.Duration(i) * time.Millisecond)
	}

	p99 := m.P99Latency()
	if p99 < 99*time.Millisecond || p99 > 100*time.Millisecond {
		t.Errorf("expected P99 around 99-100ms, got %v", p99)
	}
}

func TestMetricsReset(t *testing.T) {
	m := New()

	m.RecordSuccess(10 * time.Millisecond)
	m.RecordSuccess(20 * time.Millisecond)

	m.Reset()

	if m.RPS() != 0 {
		t.Errorf("expected RPS 0 after reset, got %f", m.RPS())
	}
	if m.TotalRequests() != 2 {
		t.Errorf("expected total 2 after reset, got %d", m.TotalRequests())
	}
}

func TestMetricsConcurrent(t *testing.T) {
	m := New()
	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				m.Begin()
				m.RecordSuccess(time.Millisecond)
				m.End()
			}
		}()
	}

	wg.Wait()

	if m.TotalRequests() != 10000 {
		t.Errorf("expected 10000 jobs, got %d", m.TotalRequests())
	}
	if m.InFlight() != 0 {
		t.Errorf("expected 0 in flight, got %d", m.InFlight())
	}
}

func TestMetricsSnapshot(t *testing.T) {
	m := New()

	m.RecordSubmitted()
	m.RecordSubmitted()
	m.RecordSuccess(10 * time.Millisecond)
	m.RecordFailure(20 * time.Millisecond)

	snap := m.Snapshot()

	if snap.Submitted != 2 {
		t.Errorf("expected 2 submitted, got %d", snap.Submitted)
	}
	if snap.TotalRequests != 2 {
		t.Errorf("expected 2 total, got %d", snap.TotalRequests)
	}
	if snap.SuccessRequests != 1 {
		t.Errorf("expected 1 success, got %d", snap.SuccessRequests)
	}
	if snap.FailedRequests != 1 {
		t.Errorf("expected 1 failed, got %d", snap.FailedRequests)
	}
}
