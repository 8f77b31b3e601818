package main

import (
	"errors"
	"time"
)

// Config holds parameters for the simulator.
type Config struct {
	Broker     string
	Units      []string
	QueryRoot  string
	ReplyRoot  string
	AckLatency time.Duration
	DropRate   float64
	// DoorDelay is how long a door stays open after an unlock. Zero keeps
	// doors open until locked.
	DoorDelay time.Duration
	Verbose   bool
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Broker == "" {
		return errors.New("broker is required")
	}
	if len(c.Units) == 0 {
		return errors.New("at least one unit is required")
	}
	if c.DropRate < 0 || c.DropRate > 1 {
		return errors.New("drop-rate must be in [0,1]")
	}
	if c.AckLatency < 0 || c.DoorDelay < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}
