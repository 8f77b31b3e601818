package main

import (
	"context"
	"math/rand"
	"time"
)

// AckStrategy decides whether and when a unit confirms a command. send
// publishes the confirmation.
type AckStrategy interface {
	Ack(ctx context.Context, send func())
}

// AutoAck confirms after an optional fixed delay.
type AutoAck struct {
	Delay time.Duration
}

// Ack implements AckStrategy.
func (a AutoAck) Ack(ctx context.Context, send func()) {
	if !sleep(ctx, a.Delay) {
		return
	}
	send()
}

// RandomAck drops confirmations with the configured probability and waits
// for the specified delay before sending.
type RandomAck struct {
	Delay    time.Duration
	DropRate float64
}

// Ack implements AckStrategy.
func (r RandomAck) Ack(ctx context.Context, send func()) {
	if r.DropRate > 0 && rand.Float64() < r.DropRate {
		return
	}
	if !sleep(ctx, r.Delay) {
		return
	}
	send()
}

// sleep waits d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
