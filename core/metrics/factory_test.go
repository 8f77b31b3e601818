package metrics_test

import (
	"testing"

	"github.com/kilianp07/parlock/core/factory"
	metrics "github.com/kilianp07/parlock/core/metrics"
	_ "github.com/kilianp07/parlock/infra/metrics"
)

/*
TestMetricsFactory_Builtins verifies registration via infra/metrics/factory.go.

	Cases:
	- instantiate builtin nop sink
	- unknown type returns error
*/
func TestMetricsFactory_Builtins(t *testing.T) {
	s, err := metrics.NewSink([]factory.ModuleConfig{{Type: "nop"}})
	if err != nil {
		t.Fatalf("create nop: %v", err)
	}
	if s == nil {
		t.Fatal("expected sink instance")
	}
	if _, err := metrics.NewSink([]factory.ModuleConfig{{Type: "missing"}}); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestNewSink_Multi(t *testing.T) {
	s, err := metrics.NewSink(nil)
	if err != nil {
		t.Fatalf("nil config: %v", err)
	}
	if _, ok := s.(metrics.NopSink); !ok {
		t.Fatalf("expected NopSink, got %T", s)
	}
	s, err = metrics.NewSink([]factory.ModuleConfig{{Type: "nop"}, {Type: "nop"}})
	if err != nil {
		t.Fatalf("multi: %v", err)
	}
	m, ok := s.(*metrics.MultiSink)
	if !ok || len(m.Sinks) != 2 {
		t.Fatalf("expected MultiSink with two sinks, got %T", s)
	}
}
