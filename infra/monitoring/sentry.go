package monitoring

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/kilianp07/parlock/config"
	coremon "github.com/kilianp07/parlock/core/monitoring"
)

// NewSentryMonitor initializes Sentry using the provided configuration and
// returns a Monitor implementation. An empty DSN disables reporting.
func NewSentryMonitor(cfg config.SentryConfig, lockerID string) (coremon.Monitor, error) {
	if cfg.DSN == "" {
		return coremon.NopMonitor{}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		TracesSampleRate: cfg.TracesSampleRate,
		Release:          cfg.Release,
		ServerName:       lockerID,
	})
	if err != nil {
		return nil, err
	}
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("locker_id", lockerID)
	})
	return &sentryMonitor{}, nil
}

type sentryMonitor struct{}

func (s *sentryMonitor) CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	if len(tags) == 0 {
		sentry.CaptureException(err)
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

func (s *sentryMonitor) CapturePanic(v any) {
	if err, ok := v.(error); ok {
		sentry.CurrentHub().Recover(err)
		return
	}
	sentry.CurrentHub().Recover(fmt.Sprint(v))
}

func (s *sentryMonitor) Flush(timeout time.Duration) { sentry.Flush(timeout) }
