package jobs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordEnqueued(t *testing.T) {
	m := NewMetrics()
	m.RecordEnqueued("default")
	m.RecordEnqueued("default")

	got := testutil.ToFloat64(m.enqueued.WithLabelValues("default"))
	if got != 2 {
		t.Errorf("enqueued count = %v, want 2", got)
	}
}

func TestMetrics_RecordCompleted(t *testing.T) {
	m := NewMetrics()
	m.RecordCompleted("default", "my_job", 50*time.Millisecond)

	got := testutil.ToFloat64(m.completed.WithLabelValues("default"))
	if got != 1 {
		t.Errorf("completed count = %v, want 1", got)
	}
}

func TestMetrics_RecordFailed_WithRetry(t *testing.T) {
	m := NewMetrics()
	m.RecordFailed("default", true)

	if got := testutil.ToFloat64(m.failed.WithLabelValues("default")); got != 1 {
		t.Errorf("failed count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.retried.WithLabelValues("default")); got != 1 {
		t.Errorf("retried count = %v, want 1", got)
	}
}

func TestMetrics_RecordFailed_NoRetry(t *testing.T) {
	m := NewMetrics()
	m.RecordFailed("default", false)

	if got := testutil.ToFloat64(m.retried.WithLabelValues("default")); got != 0 {
		t.Errorf("retried count = %v, want 0", got)
	}
}

func TestMetrics_SetGauges(t *testing.T) {
	m := NewMetrics()
	m.SetPending("default", 5)
	m.SetActive("default", 2)
	m.SetActiveWorkers(3)

	if got := testutil.ToFloat64(m.pending.WithLabelValues("default")); got != 5 {
		t.Errorf("pending = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.active.WithLabelValues("default")); got != 2 {
		t.Errorf("active = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.workers); got != 3 {
		t.Errorf("workers = %v, want 3", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	if m.Handler() == nil {
		t.Fatal("Handler() returned nil")
	}
}
