package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/parlock/core/audit"
	"github.com/kilianp07/parlock/core/ledger"
	"github.com/kilianp07/parlock/core/model"
	"github.com/kilianp07/parlock/core/unitbus"
	"github.com/kilianp07/parlock/core/vision"
)

// journal records calls across fakes so tests can assert their order.
type journal struct {
	mu    sync.Mutex
	calls []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	j.calls = append(j.calls, fmt.Sprintf(format, args...))
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.calls...)
}

type reading struct {
	mm  float64
	err error
}

type fakeRanger struct {
	mu       sync.Mutex
	readings []reading
	next     int
	cal      model.Calibration
	calErr   error
}

func (f *fakeRanger) MeasureDistance(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.readings) == 0 {
		return f.cal.FullDistance, nil
	}
	r := f.readings[min(f.next, len(f.readings)-1)]
	f.next++
	return r.mm, r.err
}

func (f *fakeRanger) Calibrate(context.Context) (model.Calibration, error) {
	return f.cal, f.calErr
}

type fakeCamera struct {
	err   error
	shots int
}

func (c *fakeCamera) Capture(context.Context) (vision.Frame, error) {
	c.shots++
	return vision.Frame{Data: []byte{0xff, 0xd8}, Format: "jpg", CapturedAt: time.Unix(0, 0)}, c.err
}

type fakeQR struct {
	payload string
	err     error
}

func (q fakeQR) Decode(context.Context, vision.Frame) (string, error) { return q.payload, q.err }

type fakeVision struct {
	dims   model.Dimensions
	err    error
	ppm    float64
	depth  float64
	policy vision.Policy
}

func (v *fakeVision) Estimate(_ context.Context, _ vision.Frame, _ model.Calibration, depth float64, p vision.Policy) (vision.Measurement, error) {
	v.depth, v.policy = depth, p
	if v.err != nil {
		return vision.Measurement{}, v.err
	}
	return vision.Measurement{Dimensions: v.dims, Policy: p}, nil
}

func (v *fakeVision) CalibrateFrame(_ context.Context, _ vision.Frame, cal model.Calibration) (model.Calibration, error) {
	if v.ppm == 0 {
		return cal, vision.ErrAmbiguousFiducial
	}
	cal.PixelsPerMetric = v.ppm
	return cal, nil
}

type fakeLedger struct {
	j        *journal
	units    map[string]model.Dimensions
	resolve  map[string]string
	fail     map[string]error
	code     string
	mu       sync.Mutex
	register int
}

func (l *fakeLedger) err(key string) error {
	if l.fail == nil {
		return nil
	}
	return l.fail[key]
}

func (l *fakeLedger) Notify(_ context.Context, a ledger.Activity) error {
	l.j.add("ledger %s", a)
	return l.err(string(a))
}

func (l *fakeLedger) RegisterUnit(_ context.Context, id string) (model.LockerUnit, error) {
	l.mu.Lock()
	l.register++
	l.mu.Unlock()
	l.j.add("ledger register %s", id)
	d, ok := l.units[id]
	if !ok {
		return model.LockerUnit{}, ledger.ErrRejected
	}
	return model.LockerUnit{Dimensions: d, Available: true}, nil
}

func (l *fakeLedger) VerifyParcel(_ context.Context, tracking string) error {
	l.j.add("ledger parcel %s", tracking)
	return l.err("parcel")
}

func (l *fakeLedger) ReportDimensions(_ context.Context, tracking string, _ model.Dimensions) error {
	l.j.add("ledger scandim %s", tracking)
	return l.err("scandim")
}

func (l *fakeLedger) ResolveWithdrawal(_ context.Context, code string) (string, error) {
	l.j.add("ledger withdraw-qr %s", code)
	id, ok := l.resolve[code]
	if !ok {
		return "", ledger.ErrRejected
	}
	return id, nil
}

func (l *fakeLedger) Report(_ context.Context, tx ledger.Transaction) error {
	l.j.add("ledger %s %s complete=%t", tx.Activity, tx.UnitID, tx.Complete)
	return l.err(fmt.Sprintf("%s:%t", tx.Activity, tx.Complete))
}

func (l *fakeLedger) ChangeVerificationCode(context.Context) (string, error) {
	l.j.add("ledger change")
	return l.code, l.err("change")
}

type fakeBus struct {
	j          *journal
	units      []string
	onRegister func(string)
	failUnlock bool
	// failLocks is the number of lock commands left to time out.
	failLocks int
	locks     int
	closed    bool
}

func (b *fakeBus) QueryRegister(context.Context) error {
	b.j.add("bus register")
	for _, id := range b.units {
		b.onRegister(id)
	}
	return nil
}

func (b *fakeBus) Unlock(_ context.Context, id string) error {
	if b.failUnlock {
		return fmt.Errorf("broker down")
	}
	b.j.add("bus unlock %s", id)
	return nil
}

func (b *fakeBus) Lock(_ context.Context, id string) error {
	b.j.add("bus lock %s", id)
	b.locks++
	if b.failLocks > 0 {
		b.failLocks--
		return unitbus.ErrAckTimeout
	}
	return nil
}

func (b *fakeBus) OnRegister(fn func(string)) { b.onRegister = fn }

func (b *fakeBus) Close() error {
	b.closed = true
	return nil
}

// closedDoors reports every door closed as soon as it is awaited.
type closedDoors struct{ j *journal }

func (d closedDoors) WaitClosed(_ context.Context, id string) error {
	d.j.add("door closed %s", id)
	return nil
}

type memAudit struct {
	mu   sync.Mutex
	recs []audit.Record
}

func (m *memAudit) Append(_ context.Context, r audit.Record) error {
	m.mu.Lock()
	m.recs = append(m.recs, r)
	m.mu.Unlock()
	return nil
}

func (m *memAudit) Query(context.Context, audit.Query) ([]audit.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Record(nil), m.recs...), nil
}

func (m *memAudit) Close() error { return nil }

type codeFile struct{ saved []string }

func (c *codeFile) SaveVerificationCode(code string) error {
	c.saved = append(c.saved, code)
	return nil
}

type captureMonitor struct {
	mu   sync.Mutex
	tags []map[string]string
}

func (c *captureMonitor) CaptureException(_ error, tags map[string]string) {
	c.mu.Lock()
	c.tags = append(c.tags, tags)
	c.mu.Unlock()
}
func (c *captureMonitor) CapturePanic(any)    {}
func (c *captureMonitor) Flush(time.Duration) {}
