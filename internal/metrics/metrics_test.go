package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IndexRefresh(nil, 3)
	m.VersionRefresh(errors.New("x"))
	m.Statement(true)
	m.BatchChunk("get")
	m.BatchKeyFailures("get", 2)
}

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IndexRefresh(nil, 4)
	m.IndexRefresh(errors.New("unreachable"), 0)
	m.VersionRefresh(nil)
	m.Statement(true)
	m.Statement(false)
	m.Statement(false)
	m.BatchChunk("delete")
	m.BatchKeyFailures("delete", 3)
	m.BatchKeyFailures("delete", 0)

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"refresh ok", m.indexRefresh.WithLabelValues(ResultOK), 1},
		{"refresh error", m.indexRefresh.WithLabelValues(ResultError), 1},
		{"indexes gauge keeps last good size", m.indexes, 4},
		{"version ok", m.versionRefresh.WithLabelValues(ResultOK), 1},
		{"index plans", m.statements.WithLabelValues(PlanIndex), 1},
		{"scan plans", m.statements.WithLabelValues(PlanScan), 2},
		{"chunks", m.batchChunks.WithLabelValues("delete"), 1},
		{"key failures", m.batchKeyFailures.WithLabelValues("delete"), 3},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.c); got != c.want {
			t.Errorf("%s = %v, want %v", c.name, got, c.want)
		}
	}

	n, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n == 0 {
		t.Error("no metrics registered")
	}
}
