package ranging

import (
	"context"
	"sync"

	"github.com/kilianp07/parlock/core/ranging"
)

// StaticConfig lists the readings returned in turn by a StaticSensor. A
// negative value stands for a cycle without echo.
type StaticConfig struct {
	Readings []float64 `json:"readings"`
}

// StaticSensor replays a fixed list of readings forever. It backs dry runs
// and the simulator when no ranging hardware is attached.
type StaticSensor struct {
	mu       sync.Mutex
	readings []float64
	next     int
}

// NewStatic returns a sensor cycling over cfg.Readings.
func NewStatic(cfg StaticConfig) *StaticSensor {
	r := cfg.Readings
	if len(r) == 0 {
		r = []float64{-1}
	}
	return &StaticSensor{readings: append([]float64(nil), r...)}
}

// Set replaces the replayed readings.
func (s *StaticSensor) Set(readings ...float64) {
	s.mu.Lock()
	s.readings = append([]float64(nil), readings...)
	s.next = 0
	s.mu.Unlock()
}

// Sample implements ranging.Sensor.
func (s *StaticSensor) Sample(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.readings) == 0 {
		return 0, ranging.ErrTimeout
	}
	v := s.readings[s.next%len(s.readings)]
	s.next++
	if v < 0 {
		return 0, ranging.ErrTimeout
	}
	return v, nil
}
