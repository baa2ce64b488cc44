package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSubProcess_ObserveExit(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSubProcess(reg)

	m.Spawned.WithLabelValues("echo").Inc()
	m.ObserveExit("echo", 0)
	m.ObserveExit("echo", 0)
	m.ObserveExit("echo", 78)

	if v := testutil.ToFloat64(m.Spawned.WithLabelValues("echo")); v != 1 {
		t.Errorf("spawned = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.Exited.WithLabelValues("echo", "0")); v != 2 {
		t.Errorf("exited{code=0} = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.Exited.WithLabelValues("echo", "78")); v != 1 {
		t.Errorf("exited{code=78} = %v, want 1", v)
	}

	if n, err := testutil.GatherAndCount(reg); err != nil || n != 3 {
		t.Errorf("GatherAndCount() = %d, %v; want 3 series", n, err)
	}
}

func TestNewSubProcess_NilRegisterer(t *testing.T) {
	m := NewSubProcess(nil)
	m.ObserveExit("x", 1)
	if v := testutil.ToFloat64(m.Exited.WithLabelValues("x", "1")); v != 1 {
		t.Errorf("exited = %v, want 1", v)
	}
}
