package ledger

import (
	"context"
	"errors"

	"github.com/kilianp07/parlock/core/model"
)

var (
	// ErrRemoteUnavailable covers transport failures, server errors and
	// unreadable responses.
	ErrRemoteUnavailable = errors.New("ledger unavailable")
	// ErrRejected is returned when the ledger answered but refused the
	// request.
	ErrRejected = errors.New("ledger rejected request")
)

// Activity names one ledger endpoint.
type Activity string

const (
	Online           Activity = "online"
	Offline          Activity = "offline"
	Register         Activity = "register"
	ScanParcel       Activity = "parcel"
	ScanDimensions   Activity = "scandim"
	Deposit          Activity = "deposit"
	Withdraw         Activity = "withdraw"
	ScanRecipient    Activity = "withdraw-qr"
	ChangeVerifyCode Activity = "change"
)

// Valid reports whether a is a known activity.
func (a Activity) Valid() bool {
	switch a {
	case Online, Offline, Register, ScanParcel, ScanDimensions, Deposit, Withdraw, ScanRecipient, ChangeVerifyCode:
		return true
	}
	return false
}

// Transaction is one deposit or withdrawal notification. The ledger receives
// it twice per transaction: first with Complete false once the ledger must
// authorise the unlock, then with Complete true after the unit is locked.
type Transaction struct {
	Activity       Activity
	UnitID         string
	TrackingNumber string
	QRData         string
	Complete       bool
}

// Ledger is the remote system of record for locker activity.
type Ledger interface {
	// Notify reports a status activity carrying no payload (online, offline).
	Notify(ctx context.Context, a Activity) error
	// RegisterUnit asks the ledger for the stored description of a unit.
	RegisterUnit(ctx context.Context, unitID string) (model.LockerUnit, error)
	// VerifyParcel checks that a tracking number is expected here.
	VerifyParcel(ctx context.Context, tracking string) error
	// ReportDimensions records the measured size of a parcel.
	ReportDimensions(ctx context.Context, tracking string, d model.Dimensions) error
	// ResolveWithdrawal maps a recipient code to the unit holding the parcel.
	ResolveWithdrawal(ctx context.Context, code string) (string, error)
	// Report records a deposit or withdrawal step.
	Report(ctx context.Context, tx Transaction) error
	// ChangeVerificationCode rotates the shared secret and returns the new one.
	ChangeVerificationCode(ctx context.Context) (string, error)
}
