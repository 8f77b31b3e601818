package ranging

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned by a sensor when no echo arrives within its
	// pulse window.
	ErrTimeout = errors.New("ranging timeout")
	// ErrSensorUnavailable is returned when every cycle of a measurement
	// timed out.
	ErrSensorUnavailable = errors.New("ranging sensor unavailable")
)

// SpeedOfSound is the propagation speed in air in metres per second.
const SpeedOfSound = 343.0

// Sensor performs a single pulse/echo cycle and returns the raw distance in
// millimetres. A cycle without echo returns ErrTimeout.
type Sensor interface {
	Sample(ctx context.Context) (float64, error)
}

// Pulser performs a single pulse/echo cycle and returns the echo pulse
// duration. A cycle without echo returns ErrTimeout.
type Pulser interface {
	Pulse(ctx context.Context) (time.Duration, error)
}

// EchoDistance converts a round-trip echo duration into a one-way distance in
// millimetres.
func EchoDistance(d time.Duration) float64 {
	return d.Seconds() * SpeedOfSound * 1000 / 2
}

// PulseSensor adapts a Pulser to the Sensor interface.
type PulseSensor struct {
	Pulser Pulser
}

// Sample implements Sensor.
func (p PulseSensor) Sample(ctx context.Context) (float64, error) {
	d, err := p.Pulser.Pulse(ctx)
	if err != nil {
		return 0, err
	}
	return EchoDistance(d), nil
}

// Triggered reports whether reading is strictly below fraction of full.
func Triggered(reading, full, fraction float64) bool {
	return reading < fraction*full
}
