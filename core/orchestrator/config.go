package orchestrator

import (
	"fmt"
	"time"

	"github.com/kilianp07/parlock/core/fit"
	"github.com/kilianp07/parlock/core/vision"
)

const (
	DefaultTriggerFraction = 0.85
	DefaultGrace           = 10 * time.Second
	DefaultResetPause      = 2 * time.Second
	DefaultPollInterval    = 250 * time.Millisecond
	DefaultRemoteTimeout   = 15 * time.Second
	DefaultLockAttempts    = 3
)

// Config tunes the scan loop.
type Config struct {
	// TriggerFraction of the full distance below which an object is present.
	TriggerFraction float64
	// Grace bounds the wait for the user between unlock and lock.
	Grace time.Duration
	// ResetPause separates two processed scans.
	ResetPause time.Duration
	// PollInterval separates two ranging probes of an empty platform.
	PollInterval time.Duration
	SafetyMargin float64
	Policy       vision.Policy
	// RemoteTimeout bounds ledger calls made from the registration handler.
	RemoteTimeout time.Duration
	// LockAttempts bounds how often a lock command is sent before the unit
	// is taken out of service.
	LockAttempts int
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.TriggerFraction == 0 {
		c.TriggerFraction = DefaultTriggerFraction
	}
	if c.Grace == 0 {
		c.Grace = DefaultGrace
	}
	if c.ResetPause == 0 {
		c.ResetPause = DefaultResetPause
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SafetyMargin == 0 {
		c.SafetyMargin = fit.SafetyMargin
	}
	if c.RemoteTimeout == 0 {
		c.RemoteTimeout = DefaultRemoteTimeout
	}
	if c.LockAttempts == 0 {
		c.LockAttempts = DefaultLockAttempts
	}
}

// Validate checks ranges.
func (c Config) Validate() error {
	if c.TriggerFraction <= 0 || c.TriggerFraction >= 1 {
		return fmt.Errorf("trigger fraction must be in (0,1), got %.2f", c.TriggerFraction)
	}
	if c.SafetyMargin < 0 || c.SafetyMargin >= 1 {
		return fmt.Errorf("safety margin must be in [0,1), got %.2f", c.SafetyMargin)
	}
	if c.LockAttempts < 0 {
		return fmt.Errorf("lock attempts must not be negative, got %d", c.LockAttempts)
	}
	if c.Grace < 0 || c.ResetPause < 0 || c.PollInterval < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}
