package orchestrator

import (
	"time"

	"github.com/kilianp07/parlock/core/model"
)

// State is one node of the scan state machine.
type State string

const (
	Idle                State = "IDLE"
	Triggered           State = "TRIGGERED"
	Captured            State = "CAPTURED"
	IdentifiedRecipient State = "IDENTIFIED_RECIPIENT"
	IdentifiedParcel    State = "IDENTIFIED_PARCEL"
	Verified            State = "VERIFIED"
	UnitUnlocked        State = "UNIT_UNLOCKED"
	AwaitingUser        State = "AWAITING_USER"
	UnitLocked          State = "UNIT_LOCKED"
	Reported            State = "REPORTED"
	Failed              State = "FAILED"
)

// Kind tells deposits from withdrawals.
type Kind string

const (
	KindNone       Kind = ""
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
)

// Status summarises how a scan ended.
type Status string

const (
	// StatusIdle means nothing was processed: no object on the platform or
	// no readable code.
	StatusIdle      Status = "idle"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Transition is published on the event bus for every state change.
type Transition struct {
	TransactionID string
	From          State
	To            State
	UnitID        string
	At            time.Time
	Err           error
}

// Outcome is the result of one ScanOnce call.
type Outcome struct {
	TransactionID string
	Kind          Kind
	Status        Status
	// State is the last state reached before the scan reported or failed.
	State          State
	UnitID         string
	TrackingNumber string
	Dimensions     model.Dimensions
	Started        time.Time
	Finished       time.Time
	Err            error
}

// Duration returns the time spent in the scan.
func (o Outcome) Duration() time.Duration {
	if o.Finished.Before(o.Started) {
		return 0
	}
	return o.Finished.Sub(o.Started)
}
