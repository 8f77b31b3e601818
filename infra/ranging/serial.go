package ranging

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/kilianp07/parlock/core/ranging"
)

// SerialConfig configures a UART ultrasonic module that streams
// 0xFF,H,L,SUM frames (A02YYUW family).
type SerialConfig struct {
	Port        string        `json:"port"`
	BaudRate    int           `json:"baud_rate"`
	ReadTimeout time.Duration `json:"read_timeout"`
	// MaxBytes bounds how many bytes are consumed while hunting for a valid
	// frame before the cycle counts as a timeout.
	MaxBytes int `json:"max_bytes"`
}

func (c *SerialConfig) setDefaults() {
	if c.Port == "" {
		c.Port = "/dev/ttyS0"
	}
	if c.BaudRate <= 0 {
		c.BaudRate = 9600
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 200 * time.Millisecond
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 64
	}
}

const frameHeader = 0xFF

type serialPort interface {
	io.ReadCloser
	SetReadTimeout(t time.Duration) error
}

// openPort is swapped in tests.
var openPort = func(name string, mode *serial.Mode) (serialPort, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SerialSensor reads distance frames from a UART module.
type SerialSensor struct {
	mu       sync.Mutex
	port     serialPort
	maxBytes int
}

// NewSerial opens the configured port in 8N1 mode.
func NewSerial(cfg SerialConfig) (*SerialSensor, error) {
	cfg.setDefaults()
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := openPort(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Port, err)
	}
	if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return &SerialSensor{port: p, maxBytes: cfg.MaxBytes}, nil
}

// Sample implements ranging.Sensor. Frames with a bad checksum are skipped.
func (s *SerialSensor) Sample(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		frame [4]byte
		n     int
		buf   [1]byte
	)
	for consumed := 0; consumed < s.maxBytes; consumed++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		r, err := s.port.Read(buf[:])
		if err != nil {
			return 0, fmt.Errorf("serial read: %w", err)
		}
		if r == 0 {
			return 0, ranging.ErrTimeout
		}
		b := buf[0]
		if n == 0 && b != frameHeader {
			continue
		}
		frame[n] = b
		n++
		if n < len(frame) {
			continue
		}
		n = 0
		if sum := byte(int(frame[0]) + int(frame[1]) + int(frame[2])); sum != frame[3] {
			continue
		}
		return float64(int(frame[1])<<8 | int(frame[2])), nil
	}
	return 0, ranging.ErrTimeout
}

// Close releases the port.
func (s *SerialSensor) Close() error {
	return s.port.Close()
}
