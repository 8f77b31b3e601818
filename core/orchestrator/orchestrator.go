// Package orchestrator drives one object at a time through the scan state
// machine: detect, identify, verify, unlock, wait, lock and report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/kilianp07/parlock/core/audit"
	"github.com/kilianp07/parlock/core/fit"
	"github.com/kilianp07/parlock/core/inventory"
	"github.com/kilianp07/parlock/core/ledger"
	"github.com/kilianp07/parlock/core/logger"
	"github.com/kilianp07/parlock/core/metrics"
	"github.com/kilianp07/parlock/core/model"
	"github.com/kilianp07/parlock/core/monitoring"
	"github.com/kilianp07/parlock/core/ranging"
	"github.com/kilianp07/parlock/core/unitbus"
	"github.com/kilianp07/parlock/core/vision"
	"github.com/kilianp07/parlock/internal/eventbus"
)

// ErrNoFit is returned when no available unit can hold the parcel.
var ErrNoFit = errors.New("no available unit fits the parcel")

// Ranger measures the distance to whatever lies on the platform.
type Ranger interface {
	MeasureDistance(ctx context.Context) (float64, error)
	Calibrate(ctx context.Context) (model.Calibration, error)
}

// DimensionEstimator measures the parcel visible in a frame.
type DimensionEstimator interface {
	Estimate(ctx context.Context, f vision.Frame, cal model.Calibration, depth float64, p vision.Policy) (vision.Measurement, error)
	CalibrateFrame(ctx context.Context, f vision.Frame, cal model.Calibration) (model.Calibration, error)
}

// CodeStore persists a rotated verification code.
type CodeStore interface {
	SaveVerificationCode(code string) error
}

// Deps groups the collaborators of an Orchestrator. Doors, Audit, Metrics,
// Events, Codes, Clock and Log are optional.
type Deps struct {
	Ranging   Ranger
	Camera    vision.Camera
	QR        vision.QRDecoder
	Vision    DimensionEstimator
	Ledger    ledger.Ledger
	Bus       unitbus.Bus
	Doors     unitbus.DoorSensor
	Inventory inventory.Store
	Audit     audit.Store
	Metrics   metrics.Sink
	Events    *eventbus.TypedBus[Transition]
	Codes     CodeStore
	Clock     clock.Clock
	Log       logger.Logger
}

func (d *Deps) validate() error {
	switch {
	case d.Ranging == nil:
		return errors.New("orchestrator: ranging is required")
	case d.Camera == nil:
		return errors.New("orchestrator: camera is required")
	case d.QR == nil:
		return errors.New("orchestrator: qr decoder is required")
	case d.Vision == nil:
		return errors.New("orchestrator: dimension estimator is required")
	case d.Ledger == nil:
		return errors.New("orchestrator: ledger is required")
	case d.Bus == nil:
		return errors.New("orchestrator: unit bus is required")
	case d.Inventory == nil:
		return errors.New("orchestrator: inventory is required")
	}
	if d.Audit == nil {
		d.Audit = audit.NopStore{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NopSink{}
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	d.Log = logger.OrNop(d.Log)
	return nil
}

// Orchestrator owns the calibration context and serialises scans.
type Orchestrator struct {
	cfg  Config
	deps Deps
	fit  fit.Tester

	// mu is held for a whole traversal so scans never overlap.
	mu sync.Mutex

	stateMu sync.RWMutex
	state   State
	cal     model.Calibration

	// sensorDown is set after a ranging failure was reported and cleared by
	// the next good reading. Guarded by mu.
	sensorDown bool
}

// New validates cfg and deps and returns an idle Orchestrator. Startup or
// SetCalibration must be called before scanning.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{
		cfg:   cfg,
		deps:  deps,
		fit:   fit.Tester{Margin: cfg.SafetyMargin},
		state: Idle,
	}, nil
}

// State returns the current state of the machine.
func (o *Orchestrator) State() State {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.state
}

// Calibration returns the calibration context in use.
func (o *Orchestrator) Calibration() model.Calibration {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.cal
}

// SetCalibration installs a calibration computed elsewhere.
func (o *Orchestrator) SetCalibration(cal model.Calibration) error {
	if err := cal.Validate(); err != nil {
		return err
	}
	o.stateMu.Lock()
	o.cal = cal
	o.stateMu.Unlock()
	return nil
}

// Startup calibrates the platform, announces the installation and asks every
// unit to register. Only a calibration failure is returned: the loop must not
// start without a baseline.
func (o *Orchestrator) Startup(ctx context.Context) error {
	cal, err := o.deps.Ranging.Calibrate(ctx)
	if err != nil {
		return fmt.Errorf("startup calibration: %w", err)
	}
	if frame, err := o.deps.Camera.Capture(ctx); err != nil {
		o.deps.Log.Warnf("calibration still failed: %v", err)
	} else if withPPM, err := o.deps.Vision.CalibrateFrame(ctx, frame, cal); err != nil {
		o.deps.Log.Warnf("fiducial calibration failed: %v", err)
	} else {
		cal = withPPM
	}
	if err := o.SetCalibration(cal); err != nil {
		return fmt.Errorf("startup calibration: %w", err)
	}
	o.deps.Log.Infof("calibrated: full distance %.1fmm, %.3f px/mm", cal.FullDistance, cal.PixelsPerMetric)

	if err := o.deps.Ledger.Notify(ctx, ledger.Online); err != nil {
		o.deps.Log.Warnf("ledger online notification failed: %v", err)
	}
	o.deps.Bus.OnRegister(o.HandleRegistration)
	if err := o.deps.Bus.QueryRegister(ctx); err != nil {
		o.deps.Log.Warnf("register query failed: %v", err)
	}
	return nil
}

// Shutdown tells the ledger the installation goes offline and closes the bus.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var errs []error
	if err := o.deps.Ledger.Notify(ctx, ledger.Offline); err != nil {
		errs = append(errs, fmt.Errorf("ledger offline: %w", err))
	}
	if err := o.deps.Bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bus: %w", err))
	}
	return errors.Join(errs...)
}

// Run scans until ctx is canceled. A processed scan, successful or not, is
// followed by the reset pause; an empty platform is probed every poll
// interval.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Calibration().Validate(); err != nil {
		return fmt.Errorf("run without calibration: %w", err)
	}
	for {
		// failures are logged and audited by ScanOnce
		out, _ := o.ScanOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		wait := o.cfg.PollInterval
		if out.Status != StatusIdle {
			wait = o.cfg.ResetPause
		}
		select {
		case <-ctx.Done():
			return nil
		case <-o.deps.Clock.After(wait):
		}
	}
}

// scan carries the bookkeeping of one traversal.
type scan struct {
	out     Outcome
	trigger float64
	frame   vision.Frame
}

func (o *Orchestrator) newScan() *scan {
	return &scan{out: Outcome{
		TransactionID: uuid.NewString(),
		Status:        StatusIdle,
		State:         Idle,
		Started:       o.deps.Clock.Now(),
	}}
}

// ScanOnce performs one traversal of the state machine. It returns with
// StatusIdle when nothing is on the platform or no code can be read. Once
// an object triggered the scan, cancellation of ctx no longer interrupts it.
func (o *Orchestrator) ScanOnce(ctx context.Context) (Outcome, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	cal := o.Calibration()
	sc := o.newScan()

	reading, err := o.deps.Ranging.MeasureDistance(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return sc.out, ctx.Err()
		}
		return o.sensorFailed(ctx, sc, fmt.Errorf("measure distance: %w", err))
	}
	if o.sensorDown {
		o.sensorDown = false
		o.deps.Log.Infof("ranging sensor recovered at %.1fmm", reading)
	}
	o.recordDistance(reading)
	if !ranging.Triggered(reading, cal.FullDistance, o.cfg.TriggerFraction) {
		return sc.out, nil
	}
	sc.trigger = reading
	ctx = context.WithoutCancel(ctx)
	o.transition(sc, Triggered, nil)

	frame, err := o.deps.Camera.Capture(ctx)
	if err != nil {
		return o.fail(ctx, sc, fmt.Errorf("capture: %w", err))
	}
	sc.frame = frame
	raw, err := o.deps.QR.Decode(ctx, frame)
	if errors.Is(err, vision.ErrNoQRCode) {
		o.deps.Log.Debugf("object at %.1fmm without readable code", reading)
		return o.idle(sc), nil
	}
	if err != nil {
		return o.fail(ctx, sc, fmt.Errorf("decode qr: %w", err))
	}
	o.transition(sc, Captured, nil)

	payload, err := model.ParseQR(raw)
	if errors.Is(err, model.ErrEmptyPayload) {
		return o.idle(sc), nil
	}
	if err != nil {
		return o.fail(ctx, sc, err)
	}

	var tx ledger.Transaction
	switch p := payload.(type) {
	case model.Withdrawal:
		tx, err = o.identifyRecipient(ctx, sc, p)
	case model.Tracking:
		tx, err = o.identifyParcel(ctx, sc, cal, p)
	default:
		err = fmt.Errorf("unsupported payload %T", payload)
	}
	if err != nil {
		return o.fail(ctx, sc, err)
	}
	o.transition(sc, Verified, nil)

	if err := o.deliver(ctx, sc, tx); err != nil {
		return o.fail(ctx, sc, err)
	}

	o.transition(sc, Reported, nil)
	sc.out.Status = StatusCompleted
	o.finish(ctx, sc)
	o.transition(sc, Idle, nil)
	return sc.out, nil
}

// identifyRecipient resolves a withdrawal code to the unit holding the parcel.
func (o *Orchestrator) identifyRecipient(ctx context.Context, sc *scan, p model.Withdrawal) (ledger.Transaction, error) {
	sc.out.Kind = KindWithdrawal
	o.transition(sc, IdentifiedRecipient, nil)
	unitID, err := o.deps.Ledger.ResolveWithdrawal(ctx, p.Code)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("resolve withdrawal code: %w", err)
	}
	if _, ok := o.deps.Inventory.Get(unitID); !ok {
		return ledger.Transaction{}, fmt.Errorf("withdrawal unit %q: %w", unitID, inventory.ErrUnknownUnit)
	}
	sc.out.UnitID = unitID
	return ledger.Transaction{Activity: ledger.Withdraw, UnitID: unitID, QRData: p.Code}, nil
}

// identifyParcel verifies the tracking number, measures the parcel and picks
// the first unit it fits in.
func (o *Orchestrator) identifyParcel(ctx context.Context, sc *scan, cal model.Calibration, p model.Tracking) (ledger.Transaction, error) {
	sc.out.Kind = KindDeposit
	sc.out.TrackingNumber = p.Number
	o.transition(sc, IdentifiedParcel, nil)
	if err := o.deps.Ledger.VerifyParcel(ctx, p.Number); err != nil {
		return ledger.Transaction{}, fmt.Errorf("verify parcel %s: %w", p.Number, err)
	}

	policy := o.cfg.Policy
	depth, err := o.deps.Ranging.MeasureDistance(ctx)
	if err != nil {
		o.deps.Log.Warnf("depth reading failed, falling back to flat ratio: %v", err)
		policy = vision.FlatRatio
		depth = sc.trigger
	}
	m, err := o.deps.Vision.Estimate(ctx, sc.frame, cal, depth, policy)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("estimate dimensions: %w", err)
	}
	sc.out.Dimensions = m.Dimensions
	o.deps.Log.Infof("parcel %s measured %s (%s)", p.Number, m.Dimensions, m.Policy)
	if err := o.deps.Ledger.ReportDimensions(ctx, p.Number, m.Dimensions); err != nil {
		o.deps.Log.Warnf("dimension report for %s failed: %v", p.Number, err)
	}

	unit, ok := o.fit.FirstFit(m.Dimensions, o.deps.Inventory.List(inventory.Filter{AvailableOnly: true}))
	if !ok {
		return ledger.Transaction{}, fmt.Errorf("parcel %s: %w", m.Dimensions, ErrNoFit)
	}
	sc.out.UnitID = unit.ID
	return ledger.Transaction{Activity: ledger.Deposit, UnitID: unit.ID, TrackingNumber: p.Number}, nil
}

// deliver runs the physical part of a verified transaction. The unit is only
// unlocked once the ledger acknowledged the incomplete step.
func (o *Orchestrator) deliver(ctx context.Context, sc *scan, tx ledger.Transaction) error {
	tx.Complete = false
	if err := o.deps.Ledger.Report(ctx, tx); err != nil {
		return fmt.Errorf("ledger %s pending: %w", tx.Activity, err)
	}
	if err := o.deps.Bus.Unlock(ctx, tx.UnitID); err != nil {
		return fmt.Errorf("unlock %s: %w", tx.UnitID, err)
	}
	o.transition(sc, UnitUnlocked, nil)

	o.transition(sc, AwaitingUser, nil)
	o.awaitUser(ctx, tx.UnitID)

	if err := o.lock(ctx, tx.UnitID); err != nil {
		// The unit holds or lost a parcel and may stand open: keep it out
		// of allocation until it registers again.
		if serr := o.deps.Inventory.SetAvailable(tx.UnitID, false); serr != nil {
			o.deps.Log.Errorf("availability of %s: %v", tx.UnitID, serr)
		}
		o.recordUnits()
		return fmt.Errorf("lock %s: %w", tx.UnitID, err)
	}
	o.transition(sc, UnitLocked, nil)

	// The physical state changed: availability follows it even when the
	// completion report is lost.
	available := tx.Activity == ledger.Withdraw
	if err := o.deps.Inventory.SetAvailable(tx.UnitID, available); err != nil {
		o.deps.Log.Errorf("availability of %s: %v", tx.UnitID, err)
	}
	o.recordUnits()

	tx.Complete = true
	if err := o.deps.Ledger.Report(ctx, tx); err != nil {
		return fmt.Errorf("ledger %s complete: %w", tx.Activity, err)
	}
	return nil
}

// lock sends the lock command up to LockAttempts times. Locking a locked
// unit is a no-op on the firmware side.
func (o *Orchestrator) lock(ctx context.Context, unitID string) error {
	var err error
	for attempt := 1; attempt <= o.cfg.LockAttempts; attempt++ {
		if err = o.deps.Bus.Lock(ctx, unitID); err == nil {
			return nil
		}
		o.deps.Log.Warnf("lock %s attempt %d/%d: %v", unitID, attempt, o.cfg.LockAttempts, err)
	}
	return err
}

// awaitUser returns when the door of unitID reports closed or the grace
// period elapsed, whichever comes first.
func (o *Orchestrator) awaitUser(ctx context.Context, unitID string) {
	timer := o.deps.Clock.Timer(o.cfg.Grace)
	defer timer.Stop()
	if o.deps.Doors == nil {
		<-timer.C
		return
	}
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	closed := make(chan error, 1)
	go func() { closed <- o.deps.Doors.WaitClosed(wctx, unitID) }()
	select {
	case err := <-closed:
		if err == nil {
			o.deps.Log.Debugf("door of %s closed", unitID)
			return
		}
		o.deps.Log.Warnf("door sensor of %s: %v", unitID, err)
		<-timer.C
	case <-timer.C:
		o.deps.Log.Debugf("grace period for %s elapsed", unitID)
	}
}

// HandleRegistration is the command bus callback for register replies.
func (o *Orchestrator) HandleRegistration(unitID string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.RemoteTimeout)
	defer cancel()
	added, err := o.Register(ctx, unitID)
	if err != nil {
		o.deps.Log.Errorf("register unit %s: %v", unitID, err)
		monitoring.CaptureException(err, map[string]string{"module": "orchestrator", "unit_id": unitID})
		return
	}
	if added {
		o.deps.Log.Infof("unit %s registered", unitID)
	}
}

// Register adds unitID to the inventory with the description held by the
// ledger. It reports false without contacting the ledger when the unit is
// already known.
func (o *Orchestrator) Register(ctx context.Context, unitID string) (bool, error) {
	if unitID == "" {
		return false, errors.New("empty unit id")
	}
	if o.deps.Inventory.Contains(unitID) {
		o.deps.Log.Debugf("duplicate register reply from %s", unitID)
		return false, nil
	}
	u, err := o.deps.Ledger.RegisterUnit(ctx, unitID)
	if err != nil {
		return false, err
	}
	u.ID = unitID
	if !u.Dimensions.Valid() {
		return false, fmt.Errorf("unit %s has invalid dimensions %s", unitID, u.Dimensions)
	}
	added := o.deps.Inventory.Add(u)
	if added {
		o.recordUnits()
	}
	return added, nil
}

// RotateVerificationCode asks the ledger for a new shared code and persists
// it. It waits for any running scan to finish.
func (o *Orchestrator) RotateVerificationCode(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	code, err := o.deps.Ledger.ChangeVerificationCode(ctx)
	if err != nil {
		return "", fmt.Errorf("change verification code: %w", err)
	}
	if o.deps.Codes != nil {
		if err := o.deps.Codes.SaveVerificationCode(code); err != nil {
			return code, fmt.Errorf("persist verification code: %w", err)
		}
	}
	o.deps.Log.Infof("verification code rotated")
	return code, nil
}

func (o *Orchestrator) transition(sc *scan, to State, err error) {
	from := sc.out.State
	if to != Failed && to != Idle {
		sc.out.State = to
	}
	o.stateMu.Lock()
	o.state = to
	o.stateMu.Unlock()
	o.deps.Log.Debugw("state transition", map[string]any{
		"transaction_id": sc.out.TransactionID,
		"from":           string(from),
		"to":             string(to),
		"unit_id":        sc.out.UnitID,
	})
	if o.deps.Events != nil {
		o.deps.Events.Publish(Transition{
			TransactionID: sc.out.TransactionID,
			From:          from,
			To:            to,
			UnitID:        sc.out.UnitID,
			At:            o.deps.Clock.Now(),
			Err:           err,
		})
	}
}

// idle returns a triggered scan to IDLE without an error.
func (o *Orchestrator) idle(sc *scan) Outcome {
	sc.out.Finished = o.deps.Clock.Now()
	o.recordScan(sc.out)
	o.transition(sc, Idle, nil)
	return sc.out
}

// sensorFailed reports the first of a run of ranging failures like any
// failed scan. Later ones only reach the metrics until a reading succeeds.
func (o *Orchestrator) sensorFailed(ctx context.Context, sc *scan, err error) (Outcome, error) {
	if !o.sensorDown {
		o.sensorDown = true
		return o.fail(ctx, sc, err)
	}
	sc.out.Status = StatusFailed
	sc.out.Err = err
	sc.out.Finished = o.deps.Clock.Now()
	o.deps.Log.Debugf("ranging sensor still unavailable: %v", err)
	o.recordScan(sc.out)
	return sc.out, err
}

// fail moves the scan through FAILED back to IDLE and reports err.
func (o *Orchestrator) fail(ctx context.Context, sc *scan, err error) (Outcome, error) {
	sc.out.Status = StatusFailed
	sc.out.Err = err
	o.transition(sc, Failed, err)
	o.deps.Log.Errorf("scan %s failed in %s: %v", sc.out.TransactionID, sc.out.State, err)
	monitoring.CaptureException(err, map[string]string{
		"module":  "orchestrator",
		"state":   string(sc.out.State),
		"unit_id": sc.out.UnitID,
	})
	o.finish(context.WithoutCancel(ctx), sc)
	o.transition(sc, Idle, nil)
	return sc.out, err
}

// finish records the outcome in the audit trail and the metrics sinks.
func (o *Orchestrator) finish(ctx context.Context, sc *scan) {
	sc.out.Finished = o.deps.Clock.Now()
	rec := audit.Record{
		TransactionID:  sc.out.TransactionID,
		Timestamp:      sc.out.Finished,
		Kind:           string(sc.out.Kind),
		Outcome:        string(sc.out.Status),
		State:          string(sc.out.State),
		UnitID:         sc.out.UnitID,
		TrackingNumber: sc.out.TrackingNumber,
		Dimensions:     sc.out.Dimensions,
		DurationMS:     sc.out.Duration().Milliseconds(),
	}
	if sc.out.Err != nil {
		rec.Error = sc.out.Err.Error()
	}
	if err := o.deps.Audit.Append(ctx, rec); err != nil {
		o.deps.Log.Errorf("audit append: %v", err)
	}
	o.recordScan(sc.out)
}

func (o *Orchestrator) recordScan(out Outcome) {
	ev := metrics.ScanEvent{
		TransactionID: out.TransactionID,
		Kind:          string(out.Kind),
		Outcome:       string(out.Status),
		State:         string(out.State),
		UnitID:        out.UnitID,
		Dimensions:    out.Dimensions,
		Duration:      out.Duration(),
		Time:          out.Finished,
	}
	if out.Err != nil {
		ev.Error = out.Err.Error()
	}
	if err := o.deps.Metrics.RecordScan(ev); err != nil {
		o.deps.Log.Warnf("record scan metrics: %v", err)
	}
}

func (o *Orchestrator) recordUnits() {
	rec, ok := o.deps.Metrics.(metrics.UnitsRecorder)
	if !ok {
		return
	}
	total := o.deps.Inventory.Len()
	available := len(o.deps.Inventory.List(inventory.Filter{AvailableOnly: true}))
	if err := rec.RecordUnits(total, available); err != nil {
		o.deps.Log.Warnf("record unit metrics: %v", err)
	}
}

func (o *Orchestrator) recordDistance(mm float64) {
	if rec, ok := o.deps.Metrics.(metrics.DistanceRecorder); ok {
		if err := rec.RecordDistance(mm, o.deps.Clock.Now()); err != nil {
			o.deps.Log.Warnf("record distance: %v", err)
		}
	}
}

var (
	_ Ranger             = (*ranging.Estimator)(nil)
	_ DimensionEstimator = (*vision.Estimator)(nil)
	_ inventory.Store    = (*inventory.MemoryStore)(nil)
)
