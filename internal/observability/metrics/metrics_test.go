package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/iotflow/iotflow-core/internal/status"
)

func TestRecordWrite(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordWrite(true)
	m.RecordWrite(true)
	m.RecordWrite(false)

	if got := testutil.ToFloat64(m.writeTotal.WithLabelValues(resultSuccess)); got != 2 {
		t.Errorf("success writes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.writeTotal.WithLabelValues(resultError)); got != 1 {
		t.Errorf("error writes = %v, want 1", got)
	}
}

func TestRecordTransition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordTransition(status.StatusUnknown, status.StatusOnline)
	m.RecordTransition(status.StatusOnline, status.StatusOffline)
	m.RecordTransition(status.StatusOffline, status.StatusOnline)

	if got := testutil.ToFloat64(m.transitions.WithLabelValues("online")); got != 2 {
		t.Errorf("online transitions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("offline")); got != 1 {
		t.Errorf("offline transitions = %v, want 1", got)
	}
}

func TestRecordQueryAndIngest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordQuery()
	m.RecordAggregate()
	m.RecordIngest(true)
	m.RecordIngest(false)
	m.SetTrackedDevices(7)

	if got := testutil.ToFloat64(m.queryTotal); got != 1 {
		t.Errorf("queries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ingestTotal.WithLabelValues(resultError)); got != 1 {
		t.Errorf("ingest errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.devicesKnown); got != 7 {
		t.Errorf("devices gauge = %v, want 7", got)
	}
}

func TestSetBackendAvailable(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetBackendAvailable(true)
	if got := testutil.ToFloat64(m.backendUp); got != 1 {
		t.Errorf("backend gauge = %v, want 1", got)
	}
	m.SetBackendAvailable(false)
	if got := testutil.ToFloat64(m.backendUp); got != 0 {
		t.Errorf("backend gauge = %v, want 0", got)
	}
}
