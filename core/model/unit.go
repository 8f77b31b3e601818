package model

// LockerUnit is one lockable compartment addressed over the command bus.
// Units are created when they answer a register query and the ledger accepts
// them. Availability only changes through an explicit deposit or withdrawal.
type LockerUnit struct {
	ID         string     `json:"id"`
	Dimensions Dimensions `json:"dimensions"`
	Available  bool       `json:"is_available"`
}
