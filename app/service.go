package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	auditapi "github.com/kilianp07/parlock/api/audit"
	"github.com/kilianp07/parlock/config"
	"github.com/kilianp07/parlock/core/audit"
	"github.com/kilianp07/parlock/core/inventory"
	"github.com/kilianp07/parlock/core/ledger"
	coremetrics "github.com/kilianp07/parlock/core/metrics"
	coremon "github.com/kilianp07/parlock/core/monitoring"
	"github.com/kilianp07/parlock/core/orchestrator"
	"github.com/kilianp07/parlock/core/unitbus"
	corevision "github.com/kilianp07/parlock/core/vision"
	infraaudit "github.com/kilianp07/parlock/infra/audit"
	infraledger "github.com/kilianp07/parlock/infra/ledger"
	"github.com/kilianp07/parlock/infra/logger"
	"github.com/kilianp07/parlock/infra/metrics"
	inframon "github.com/kilianp07/parlock/infra/monitoring"
	"github.com/kilianp07/parlock/infra/mqtt"
	"github.com/kilianp07/parlock/internal/eventbus"
)

const shutdownTimeout = 10 * time.Second

// Options overrides components built from the configuration. Zero fields
// are built from the config.
type Options struct {
	// ConfigPath receives rotated verification codes. Empty disables
	// persistence.
	ConfigPath string
	Hardware   *Hardware
	Ledger     ledger.Ledger
	Bus        unitbus.Bus
}

// Service wires the locker base: platform hardware, ledger, unit bus and the
// scan state machine.
type Service struct {
	Orchestrator *orchestrator.Orchestrator
	Inventory    *inventory.MemoryStore

	cfg      *config.Config
	events   *eventbus.TypedBus[orchestrator.Transition]
	audit    audit.Store
	closers  []io.Closer
	log      logger.Logger
	promAddr string
}

// New creates a Service from the configuration.
func New(cfg *config.Config, opts Options) (*Service, error) {
	if !logger.SetLevel(cfg.Logging.Level) {
		logger.New("service").Warnf("unknown log level %q", cfg.Logging.Level)
	}
	logg := logger.New("service")
	svc := &Service{cfg: cfg, log: logg, promAddr: cfg.Metrics.PrometheusAddr}

	if cfg.Sentry.Enabled() {
		mon, err := inframon.NewSentryMonitor(cfg.Sentry, cfg.Locker.ID)
		if err != nil {
			return nil, fmt.Errorf("sentry: %w", err)
		}
		coremon.Init(mon)
	}

	sink, err := coremetrics.NewSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	svc.addSinkClosers(sink)

	store, err := infraaudit.New(cfg.Audit)
	if err != nil {
		svc.closeAll()
		return nil, fmt.Errorf("audit store: %w", err)
	}
	svc.audit = store
	svc.closers = append(svc.closers, store)

	hw := opts.Hardware
	if hw == nil {
		if hw, err = OpenHardware(cfg); err != nil {
			svc.closeAll()
			return nil, err
		}
	}
	svc.closers = append(svc.closers, hw)

	led := opts.Ledger
	if led == nil {
		led = infraledger.NewClient(infraledger.Config{
			Address:          cfg.Ledger.Address,
			LockerID:         cfg.Locker.ID,
			VerificationCode: cfg.Locker.VerificationCode,
			Timeout:          cfg.Ledger.Timeout(),
		}, logger.New("ledger"))
	}

	bus := opts.Bus
	if bus == nil {
		ub, err := mqtt.NewUnitBus(cfg.MQTT, logger.New("mqtt"))
		if err != nil {
			svc.closeAll()
			return nil, fmt.Errorf("mqtt unit bus: %w", err)
		}
		bus = ub
	}
	var doors unitbus.DoorSensor
	if ds, ok := bus.(unitbus.DoorSensor); ok {
		doors = ds
	}

	policy, _ := corevision.ParsePolicy(cfg.Vision.Policy)
	svc.Inventory = inventory.NewMemoryStore()
	svc.events = eventbus.NewTyped[orchestrator.Transition]()
	var codes orchestrator.CodeStore
	if opts.ConfigPath != "" {
		codes = config.CodeFile{Path: opts.ConfigPath}
	}
	orch, err := orchestrator.New(cfg.Orchestrator.Core(policy), orchestrator.Deps{
		Ranging:   hw.Ranging,
		Camera:    hw.Camera,
		QR:        hw.QR,
		Vision:    hw.Estimator,
		Ledger:    led,
		Bus:       bus,
		Doors:     doors,
		Inventory: svc.Inventory,
		Audit:     store,
		Metrics:   sink,
		Events:    svc.events,
		Codes:     codes,
		Log:       logger.New("orchestrator"),
	})
	if err != nil {
		svc.closeAll()
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	svc.Orchestrator = orch
	return svc, nil
}

func (s *Service) addSinkClosers(sink coremetrics.Sink) {
	sinks := []coremetrics.Sink{sink}
	if multi, ok := sink.(*coremetrics.MultiSink); ok {
		sinks = multi.Sinks
	}
	for _, sk := range sinks {
		if influx, ok := sk.(*metrics.InfluxSink); ok {
			s.closers = append(s.closers, closerFunc(func() error {
				influx.Close()
				return nil
			}))
		}
	}
}

// Run calibrates, announces the installation and scans until ctx is
// canceled. The ledger is told the locker goes offline on the way out.
func (s *Service) Run(ctx context.Context) error {
	defer coremon.Recover()

	transitions := s.events.Subscribe()
	go s.logTransitions(transitions)

	if s.promAddr != "" {
		go func() {
			route := metrics.Route{Pattern: auditapi.Path, Handler: auditapi.NewHandler(s.audit, s.cfg.Metrics.AuditToken)}
			if err := metrics.StartPromServer(ctx, s.promAddr, logger.New("metrics"), route); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	if err := s.Orchestrator.Startup(ctx); err != nil {
		return err
	}
	s.log.Infof("locker %s online with %d units", s.cfg.Locker.ID, s.Inventory.Len())
	runErr := s.Orchestrator.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Orchestrator.Shutdown(shutdownCtx); err != nil {
		s.log.Warnf("shutdown: %v", err)
	}
	return runErr
}

func (s *Service) logTransitions(ch <-chan orchestrator.Transition) {
	for t := range ch {
		fields := map[string]any{
			"transaction_id": t.TransactionID,
			"from":           string(t.From),
			"to":             string(t.To),
		}
		if t.UnitID != "" {
			fields["unit_id"] = t.UnitID
		}
		if t.Err != nil {
			fields["error"] = t.Err.Error()
		}
		s.log.Debugw("transition", fields)
	}
}

// Rotate asks the ledger for a new verification code and persists it.
func (s *Service) Rotate(ctx context.Context) error {
	_, err := s.Orchestrator.RotateVerificationCode(ctx)
	return err
}

// Audit returns the store holding transaction records.
func (s *Service) Audit() audit.Store { return s.audit }

func (s *Service) closeAll() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i].Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.events != nil {
		s.events.Close()
	}
	err := s.closeAll()
	coremon.Flush(2 * time.Second)
	return err
}
