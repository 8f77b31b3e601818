package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/parlock/core/metrics"
)

// PromSink records scan events in Prometheus metrics.
type PromSink struct {
	scans    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	units    *prometheus.GaugeVec
	distance prometheus.Gauge
}

// NewPromSink registers scan metrics on the default Prometheus registerer.
// The HTTP endpoint is started separately with StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	scans := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parlock_scans_total",
		Help: "Scans by transaction kind, outcome and last state",
	}, []string{"kind", "outcome", "state"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "parlock_scan_duration_seconds",
		Help:    "Time from trigger to the end of a scan",
		Buckets: []float64{0.5, 1, 2, 5, 10, 15, 20, 30, 60},
	}, []string{"kind", "outcome"})
	units := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "parlock_units",
		Help: "Registered locker units",
	}, []string{"state"})
	distance := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parlock_ranging_distance_mm",
		Help: "Last ranging reading",
	})

	var err error
	if scans, err = register(reg, scans); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if units, err = register(reg, units); err != nil {
		return nil, err
	}
	if distance, err = register(reg, distance); err != nil {
		return nil, err
	}
	return &PromSink{scans: scans, duration: duration, units: units, distance: distance}, nil
}

// register returns the already registered collector when one with the same
// descriptor exists.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return c, err
		}
		exist, ok := are.ExistingCollector.(C)
		if !ok {
			return c, err
		}
		return exist, nil
	}
	return c, nil
}

// RecordScan increments the scan counter and observes its duration.
func (s *PromSink) RecordScan(ev coremetrics.ScanEvent) error {
	s.scans.WithLabelValues(ev.Kind, ev.Outcome, ev.State).Inc()
	if ev.Duration > 0 {
		s.duration.WithLabelValues(ev.Kind, ev.Outcome).Observe(ev.Duration.Seconds())
	}
	return nil
}

// RecordUnits sets the inventory gauges.
func (s *PromSink) RecordUnits(total, available int) error {
	s.units.WithLabelValues("total").Set(float64(total))
	s.units.WithLabelValues("available").Set(float64(available))
	return nil
}

// RecordDistance sets the last reading gauge.
func (s *PromSink) RecordDistance(mm float64, _ time.Time) error {
	s.distance.Set(mm)
	return nil
}
