package metrics

import (
	"time"

	"github.com/kilianp07/parlock/core/model"
)

// Scan outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeIdle      = "idle"
)

// ScanEvent summarises one traversal of the scan state machine.
type ScanEvent struct {
	TransactionID string
	Kind          string
	Outcome       string
	// State is the last state reached before completing or failing.
	State      string
	UnitID     string
	Dimensions model.Dimensions
	Duration   time.Duration
	Error      string
	Time       time.Time
}

// Sink records scan events for observability purposes.
type Sink interface {
	RecordScan(ev ScanEvent) error
}

// UnitsRecorder records the size of the unit inventory.
type UnitsRecorder interface {
	RecordUnits(total, available int) error
}

// DistanceRecorder records ranging readings.
type DistanceRecorder interface {
	RecordDistance(mm float64, t time.Time) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordScan(ScanEvent) error              { return nil }
func (NopSink) RecordUnits(int, int) error              { return nil }
func (NopSink) RecordDistance(float64, time.Time) error { return nil }
