package ranging

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/parlock/core/logger"
	"github.com/kilianp07/parlock/core/model"
)

// DefaultSamples is the number of cycles aggregated into one reading.
const DefaultSamples = 9

// Estimator aggregates several sensor cycles into one robust reading.
type Estimator struct {
	sensor  Sensor
	samples int
	settle  time.Duration
	log     logger.Logger
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithSamples overrides the number of cycles per reading.
func WithSamples(n int) Option {
	return func(e *Estimator) {
		if n > 0 {
			e.samples = n
		}
	}
}

// WithSettle sets a pause between two consecutive cycles so that residual
// echoes fade out.
func WithSettle(d time.Duration) Option {
	return func(e *Estimator) { e.settle = d }
}

// WithLogger sets the logger used for per-cycle diagnostics.
func WithLogger(l logger.Logger) Option {
	return func(e *Estimator) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEstimator wraps sensor into an Estimator.
func NewEstimator(sensor Sensor, opts ...Option) *Estimator {
	e := &Estimator{sensor: sensor, samples: DefaultSamples, log: logger.NopLogger{}}
	for _, o := range opts {
		o(e)
	}
	return e
}

// MeasureDistance runs the configured number of cycles, discards timeouts and
// returns the median of the remaining samples in millimetres. When every
// cycle times out ErrSensorUnavailable is returned. Any other sensor error
// aborts the measurement.
func (e *Estimator) MeasureDistance(ctx context.Context) (float64, error) {
	readings := make([]float64, 0, e.samples)
	timeouts := 0
	for i := 0; i < e.samples; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if i > 0 && e.settle > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(e.settle):
			}
		}
		v, err := e.sensor.Sample(ctx)
		if errors.Is(err, ErrTimeout) {
			timeouts++
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("ranging cycle %d: %w", i, err)
		}
		readings = append(readings, v)
	}
	if len(readings) == 0 {
		return 0, fmt.Errorf("%d cycles timed out: %w", timeouts, ErrSensorUnavailable)
	}
	if timeouts > 0 {
		e.log.Debugw("ranging timeouts discarded", map[string]any{"timeouts": timeouts, "kept": len(readings)})
	}
	return Median(readings), nil
}

// Calibrate captures the distance to the empty platform.
func (e *Estimator) Calibrate(ctx context.Context) (model.Calibration, error) {
	full, err := e.MeasureDistance(ctx)
	if err != nil {
		return model.Calibration{}, fmt.Errorf("calibrate full distance: %w", err)
	}
	cal := model.Calibration{FullDistance: full}
	if err := cal.Validate(); err != nil {
		return model.Calibration{}, err
	}
	e.log.Infof("calibrated full distance %.1fmm", full)
	return cal, nil
}

// Median returns the middle value of v. For an even count it returns the mean
// of the two middle values. v is sorted in place.
func Median(v []float64) float64 {
	n := len(v)
	if n == 0 {
		return 0
	}
	sort.Float64s(v)
	if n%2 == 1 {
		return v[n/2]
	}
	return stat.Mean(v[n/2-1:n/2+1], nil)
}
