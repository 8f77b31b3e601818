// Package audit defines the local trail of scan transactions.
package audit

import (
	"context"
	"time"

	"github.com/kilianp07/parlock/core/model"
)

// Record describes one finished traversal of the scan state machine.
type Record struct {
	TransactionID  string           `json:"transaction_id"`
	Timestamp      time.Time        `json:"timestamp"`
	Kind           string           `json:"kind"`
	Outcome        string           `json:"outcome"`
	State          string           `json:"state"`
	UnitID         string           `json:"unit_id,omitempty"`
	TrackingNumber string           `json:"tracking_number,omitempty"`
	Dimensions     model.Dimensions `json:"dimensions"`
	DurationMS     int64            `json:"duration_ms"`
	Error          string           `json:"error,omitempty"`
}

// Query filters records. Zero values match everything.
type Query struct {
	Start  time.Time
	End    time.Time
	UnitID string
}

// Match reports whether r satisfies q.
func (q Query) Match(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	return q.UnitID == "" || r.UnitID == q.UnitID
}

// Store persists records.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// NopStore drops every record.
type NopStore struct{}

func (NopStore) Append(context.Context, Record) error          { return nil }
func (NopStore) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (NopStore) Close() error                                   { return nil }
