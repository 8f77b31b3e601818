package ranging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/kilianp07/parlock/core/ranging"
)

// GPIOConfig configures an HC-SR04 style trigger/echo sensor.
type GPIOConfig struct {
	TriggerPin    string        `json:"trigger_pin"`
	EchoPin       string        `json:"echo_pin"`
	Timeout       time.Duration `json:"timeout"`
	MaxIterations int           `json:"max_iterations"`
}

func (c *GPIOConfig) setDefaults() {
	if c.TriggerPin == "" {
		c.TriggerPin = "GPIO23"
	}
	if c.EchoPin == "" {
		c.EchoPin = "GPIO24"
	}
	if c.Timeout <= 0 {
		c.Timeout = 40 * time.Millisecond
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 100000
	}
}

const triggerWidth = 10 * time.Microsecond

type outPin interface {
	Out(l gpio.Level) error
}

type inPin interface {
	Read() gpio.Level
}

// GPIOSensor drives the trigger pin and times the echo pulse by polling the
// echo pin. Each wait is bounded both by an iteration count and by a
// deadline so a disconnected sensor cannot block the caller.
type GPIOSensor struct {
	mu      sync.Mutex
	trig    outPin
	echo    inPin
	clock   clock.Clock
	timeout time.Duration
	maxIter int
}

// NewGPIO initialises the host drivers and claims both pins.
func NewGPIO(cfg GPIOConfig) (*GPIOSensor, error) {
	cfg.setDefaults()
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	trig := gpioreg.ByName(cfg.TriggerPin)
	if trig == nil {
		return nil, fmt.Errorf("trigger pin %s not found", cfg.TriggerPin)
	}
	echo := gpioreg.ByName(cfg.EchoPin)
	if echo == nil {
		return nil, fmt.Errorf("echo pin %s not found", cfg.EchoPin)
	}
	if err := trig.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("trigger pin low: %w", err)
	}
	if err := echo.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("echo pin input: %w", err)
	}
	return newGPIOSensor(trig, echo, clock.New(), cfg), nil
}

func newGPIOSensor(trig outPin, echo inPin, clk clock.Clock, cfg GPIOConfig) *GPIOSensor {
	cfg.setDefaults()
	return &GPIOSensor{trig: trig, echo: echo, clock: clk, timeout: cfg.Timeout, maxIter: cfg.MaxIterations}
}

// Pulse implements ranging.Pulser.
func (s *GPIOSensor) Pulse(ctx context.Context) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.trig.Out(gpio.High); err != nil {
		return 0, fmt.Errorf("trigger high: %w", err)
	}
	time.Sleep(triggerWidth)
	if err := s.trig.Out(gpio.Low); err != nil {
		return 0, fmt.Errorf("trigger low: %w", err)
	}
	start, ok := s.waitLevel(gpio.High)
	if !ok {
		return 0, fmt.Errorf("waiting for echo start: %w", ranging.ErrTimeout)
	}
	end, ok := s.waitLevel(gpio.Low)
	if !ok {
		return 0, fmt.Errorf("waiting for echo end: %w", ranging.ErrTimeout)
	}
	return end.Sub(start), nil
}

// Sample implements ranging.Sensor.
func (s *GPIOSensor) Sample(ctx context.Context) (float64, error) {
	return ranging.PulseSensor{Pulser: s}.Sample(ctx)
}

func (s *GPIOSensor) waitLevel(want gpio.Level) (time.Time, bool) {
	deadline := s.clock.Now().Add(s.timeout)
	for i := 0; i < s.maxIter; i++ {
		if s.echo.Read() == want {
			return s.clock.Now(), true
		}
		if s.clock.Now().After(deadline) {
			return time.Time{}, false
		}
	}
	return time.Time{}, false
}
