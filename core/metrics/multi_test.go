package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recSink struct {
	scans []ScanEvent
	units [][2]int
	err   error
}

func (r *recSink) RecordScan(ev ScanEvent) error {
	r.scans = append(r.scans, ev)
	return r.err
}

func (r *recSink) RecordUnits(total, available int) error {
	r.units = append(r.units, [2]int{total, available})
	return nil
}

type scanOnly struct{ n int }

func (s *scanOnly) RecordScan(ScanEvent) error { s.n++; return nil }

func TestMultiSinkFanOut(t *testing.T) {
	failing := &recSink{err: errors.New("down")}
	ok := &recSink{}
	plain := &scanOnly{}
	m := NewMultiSink(failing, ok, plain)

	err := m.RecordScan(ScanEvent{Outcome: OutcomeCompleted, Time: time.Now()})
	assert.Error(t, err)
	assert.Len(t, ok.scans, 1)
	assert.Equal(t, 1, plain.n)

	assert.NoError(t, m.RecordUnits(3, 1))
	assert.Equal(t, [][2]int{{3, 1}}, ok.units)
	assert.NoError(t, m.RecordDistance(200, time.Now()))
}
