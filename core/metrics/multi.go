package metrics

import (
	"errors"
	"time"
)

// MultiSink fans events out to several sinks. Every sink is called even when
// an earlier one fails; the errors are joined.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordScan(ev ScanEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordScan(ev))
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordUnits(total, available int) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(UnitsRecorder); ok {
			errs = append(errs, rec.RecordUnits(total, available))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordDistance(mm float64, t time.Time) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(DistanceRecorder); ok {
			errs = append(errs, rec.RecordDistance(mm, t))
		}
	}
	return errors.Join(errs...)
}
