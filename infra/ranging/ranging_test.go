package ranging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"periph.io/x/conn/v3/gpio"

	"github.com/kilianp07/parlock/core/factory"
	"github.com/kilianp07/parlock/core/ranging"
)

type fakeTrigger struct{ levels []gpio.Level }

func (f *fakeTrigger) Out(l gpio.Level) error {
	f.levels = append(f.levels, l)
	return nil
}

type fakeEcho struct {
	clk    *clock.Mock
	step   time.Duration
	script []gpio.Level
	reads  int
}

func (f *fakeEcho) Read() gpio.Level {
	if f.step > 0 {
		f.clk.Add(f.step)
	}
	i := f.reads
	f.reads++
	if i < len(f.script) {
		return f.script[i]
	}
	return gpio.Low
}

func levels(low1, high, low2 int) []gpio.Level {
	var out []gpio.Level
	for i := 0; i < low1; i++ {
		out = append(out, gpio.Low)
	}
	for i := 0; i < high; i++ {
		out = append(out, gpio.High)
	}
	for i := 0; i < low2; i++ {
		out = append(out, gpio.Low)
	}
	return out
}

func TestGPIOSensorPulse(t *testing.T) {
	clk := clock.NewMock()
	trig := &fakeTrigger{}
	echo := &fakeEcho{clk: clk, step: 100 * time.Microsecond, script: levels(3, 10, 1)}
	s := newGPIOSensor(trig, echo, clk, GPIOConfig{})

	d, err := s.Pulse(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, d)
	assert.Equal(t, []gpio.Level{gpio.High, gpio.Low}, trig.levels)
}

func TestGPIOSensorSampleDistance(t *testing.T) {
	clk := clock.NewMock()
	echo := &fakeEcho{clk: clk, step: 100 * time.Microsecond, script: levels(1, 20, 1)}
	s := newGPIOSensor(&fakeTrigger{}, echo, clk, GPIOConfig{})

	mm, err := s.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 343.0, mm, 1e-6)
}

func TestGPIOSensorDeadline(t *testing.T) {
	clk := clock.NewMock()
	echo := &fakeEcho{clk: clk, step: 100 * time.Microsecond}
	s := newGPIOSensor(&fakeTrigger{}, echo, clk, GPIOConfig{Timeout: time.Millisecond})

	_, err := s.Pulse(context.Background())
	assert.ErrorIs(t, err, ranging.ErrTimeout)
	assert.LessOrEqual(t, echo.reads, 12)
}

func TestGPIOSensorIterationBound(t *testing.T) {
	clk := clock.NewMock()
	echo := &fakeEcho{clk: clk}
	s := newGPIOSensor(&fakeTrigger{}, echo, clk, GPIOConfig{MaxIterations: 50})

	_, err := s.Pulse(context.Background())
	assert.ErrorIs(t, err, ranging.ErrTimeout)
	assert.Equal(t, 50, echo.reads)
}

type fakePort struct {
	data   []byte
	closed bool
	to     time.Duration
}

func (p *fakePort) Read(b []byte) (int, error) {
	if len(p.data) == 0 {
		return 0, nil
	}
	n := copy(b, p.data)
	p.data = p.data[n:]
	return n, nil
}

func (p *fakePort) Close() error                         { p.closed = true; return nil }
func (p *fakePort) SetReadTimeout(t time.Duration) error { p.to = t; return nil }

func withPort(t *testing.T, p *fakePort) {
	t.Helper()
	orig := openPort
	openPort = func(string, *serial.Mode) (serialPort, error) { return p, nil }
	t.Cleanup(func() { openPort = orig })
}

func frame(mm int) []byte {
	h, l := byte(mm>>8), byte(mm&0xFF)
	return []byte{0xFF, h, l, byte(0xFF + int(h) + int(l))}
}

func TestSerialSensorFrames(t *testing.T) {
	data := []byte{0x12, 0x34}
	data = append(data, 0xFF, 0x01, 0x2C, 0x00) // bad checksum
	data = append(data, frame(300)...)
	data = append(data, frame(1234)...)
	p := &fakePort{data: data}
	withPort(t, p)

	s, err := NewSerial(SerialConfig{})
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, p.to)

	v, err := s.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 300.0, v)
	v, err = s.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1234.0, v)

	_, err = s.Sample(context.Background())
	assert.ErrorIs(t, err, ranging.ErrTimeout)
	require.NoError(t, s.Close())
	assert.True(t, p.closed)
}

func TestSerialSensorGarbageBounded(t *testing.T) {
	data := make([]byte, 100)
	withPort(t, &fakePort{data: data})
	s, err := NewSerial(SerialConfig{MaxBytes: 16})
	require.NoError(t, err)
	_, err = s.Sample(context.Background())
	assert.ErrorIs(t, err, ranging.ErrTimeout)
}

func TestSerialOpenError(t *testing.T) {
	orig := openPort
	openPort = func(string, *serial.Mode) (serialPort, error) { return nil, errors.New("no such port") }
	defer func() { openPort = orig }()
	_, err := NewSerial(SerialConfig{Port: "/dev/null0"})
	assert.Error(t, err)
}

func TestStaticSensor(t *testing.T) {
	s := NewStatic(StaticConfig{Readings: []float64{300, -1}})
	v, err := s.Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 300.0, v)
	_, err = s.Sample(context.Background())
	assert.ErrorIs(t, err, ranging.ErrTimeout)
	s.Set(250)
	v, _ = s.Sample(context.Background())
	assert.Equal(t, 250.0, v)
}

func TestRegistryStatic(t *testing.T) {
	sensor, err := Registry.Create(factory.ModuleConfig{Type: "static", Conf: map[string]any{"readings": []any{280.0}}})
	require.NoError(t, err)
	est := ranging.NewEstimator(sensor, ranging.WithSamples(3))
	d, err := est.MeasureDistance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 280.0, d)
	assert.Equal(t, []string{"gpio", "serial", "static"}, Registry.Names())
}
