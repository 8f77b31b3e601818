package ranging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSensor struct {
	readings []float64
	errs     []error
	calls    int
}

func (s *scriptedSensor) Sample(context.Context) (float64, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return 0, s.errs[i]
	}
	if i < len(s.readings) {
		return s.readings[i], nil
	}
	return 0, ErrTimeout
}

func TestMeasureDistanceMedianOfSurvivors(t *testing.T) {
	s := &scriptedSensor{
		readings: []float64{300, 301, 0, 299, 2000, 0, 300, 302, 298},
		errs:     []error{nil, nil, ErrTimeout, nil, nil, ErrTimeout, nil, nil, nil},
	}
	e := NewEstimator(s)
	d, err := e.MeasureDistance(context.Background())
	require.NoError(t, err)
	// survivors: 298 299 300 300 301 302 2000 -> median 300
	assert.Equal(t, 300.0, d)
	assert.Equal(t, DefaultSamples, s.calls)
}

func TestMeasureDistanceEvenSurvivors(t *testing.T) {
	s := &scriptedSensor{
		readings: []float64{100, 0, 110, 120, 130},
		errs:     []error{nil, ErrTimeout, nil, nil, nil},
	}
	e := NewEstimator(s, WithSamples(5))
	d, err := e.MeasureDistance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 115.0, d)
}

func TestMeasureDistanceAllTimeouts(t *testing.T) {
	s := &scriptedSensor{}
	e := NewEstimator(s)
	_, err := e.MeasureDistance(context.Background())
	assert.ErrorIs(t, err, ErrSensorUnavailable)
	assert.Equal(t, DefaultSamples, s.calls)
}

func TestMeasureDistanceHardError(t *testing.T) {
	boom := errors.New("bus fault")
	s := &scriptedSensor{readings: []float64{10}, errs: []error{nil, boom}}
	e := NewEstimator(s)
	_, err := e.MeasureDistance(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrSensorUnavailable)
}

func TestMeasureDistanceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEstimator(&scriptedSensor{}).MeasureDistance(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalibrate(t *testing.T) {
	s := &scriptedSensor{readings: []float64{300, 300, 300}}
	cal, err := NewEstimator(s, WithSamples(3)).Calibrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 300.0, cal.FullDistance)

	_, err = NewEstimator(&scriptedSensor{}, WithSamples(3)).Calibrate(context.Background())
	assert.ErrorIs(t, err, ErrSensorUnavailable)
}

func TestTriggered(t *testing.T) {
	assert.False(t, Triggered(300, 300, 0.85))
	assert.True(t, Triggered(250, 300, 0.85))
	assert.False(t, Triggered(255, 300, 0.85))
}

type fixedPulser time.Duration

func (f fixedPulser) Pulse(context.Context) (time.Duration, error) { return time.Duration(f), nil }

func TestPulseSensor(t *testing.T) {
	// 2ms round trip at 343 m/s is 343mm one way
	v, err := PulseSensor{Pulser: fixedPulser(2 * time.Millisecond)}.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 343.0, v, 1e-9)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, Median(nil))
	assert.Equal(t, 2.0, Median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))
}
