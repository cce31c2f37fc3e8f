package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EscrowStatus is the custody state of a per-ride escrow record.
// Transitions are one-way: locked -> released, locked -> held -> {released, refunded},
// locked -> refunded. released and refunded are terminal.
type EscrowStatus string

const (
	EscrowLocked   EscrowStatus = "locked"
	EscrowHeld     EscrowStatus = "held"
	EscrowReleased EscrowStatus = "released"
	EscrowRefunded EscrowStatus = "refunded"
)

// Terminal reports whether no further transition may leave this status.
func (s EscrowStatus) Terminal() bool {
	return s == EscrowReleased || s == EscrowRefunded
}

// Escrow holds funds provisionally locked for a single ride until the trip
// completes, is refunded, or a dispute resolves. Records are never deleted.
type Escrow struct {
	ID                string          `json:"id" db:"id"`
	RideID            string          `json:"ride_id" db:"ride_id"`
	RiderID           string          `json:"rider_id" db:"rider_id"`
	Amount            decimal.Decimal `json:"amount" db:"amount"`
	Currency          string          `json:"currency" db:"currency"`
	Status            EscrowStatus    `json:"status" db:"status"`
	DisputeID         string          `json:"dispute_id,omitempty" db:"dispute_id"`
	ReleaseToDriverID string          `json:"release_to_driver_id,omitempty" db:"release_to_driver_id"`
	ReleaseAmount     decimal.Decimal `json:"release_amount" db:"release_amount"`
	PlatformAmount    decimal.Decimal `json:"platform_amount" db:"platform_amount"`
	LockedAt          time.Time       `json:"locked_at" db:"locked_at"`
	HeldAt            *time.Time      `json:"held_at,omitempty" db:"held_at"`
	ReleasedAt        *time.Time      `json:"released_at,omitempty" db:"released_at"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}
