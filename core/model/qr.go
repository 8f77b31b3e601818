package model

import (
	"errors"
	"strings"
)

// WithdrawalPrefix marks QR payloads generated by the ledger for recipients.
const WithdrawalPrefix = "withdraw_"

// ErrEmptyPayload is returned when a decoded QR code carries no data.
var ErrEmptyPayload = errors.New("empty qr payload")

// QRPayload is either a Withdrawal or a Tracking value.
type QRPayload interface {
	Raw() string
	qrPayload()
}

// Withdrawal is a recipient identification code issued by the ledger.
type Withdrawal struct {
	Code string
}

// Tracking is a parcel tracking number.
type Tracking struct {
	Number string
}

func (w Withdrawal) Raw() string { return w.Code }
func (t Tracking) Raw() string   { return t.Number }

func (Withdrawal) qrPayload() {}
func (Tracking) qrPayload()   {}

// ParseQR classifies decoded QR data. Payloads starting with WithdrawalPrefix,
// in any letter case, are withdrawal codes; anything else is a tracking number.
func ParseQR(data string) (QRPayload, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, ErrEmptyPayload
	}
	if strings.HasPrefix(strings.ToLower(data), WithdrawalPrefix) {
		return Withdrawal{Code: data}, nil
	}
	return Tracking{Number: data}, nil
}
