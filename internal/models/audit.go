package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Actor roles recorded on audit entries.
const (
	ActorRider  = "RIDER"
	ActorDriver = "DRIVER"
	ActorSystem = "SYSTEM"
)

// Audit event types for fund-affecting operations.
const (
	EventEscrowLock    = "ESCROW_LOCK"
	EventEscrowRelease = "ESCROW_RELEASE"
	EventEscrowHold    = "ESCROW_HOLD"
	EventRefund        = "REFUND"
	EventCommission    = "COMMISSION"
	EventTransfer      = "TRANSFER"
)

// AuditLogEntry is one immutable row in the financial audit ledger. Entries are
// appended in the same database transaction as the mutation they describe and
// are never updated or deleted.
type AuditLogEntry struct {
	ID          int             `json:"id" db:"id"`
	RideID      string          `json:"ride_id" db:"ride_id"`
	UserID      string          `json:"user_id" db:"user_id"`
	ActorRole   string          `json:"actor_role" db:"actor_role"`
	EventType   string          `json:"event_type" db:"event_type"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Currency    string          `json:"currency" db:"currency"`
	Description string          `json:"description" db:"description"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// RiderHistoryEntry mirrors fund movements into the rider-facing transaction
// history feed.
type RiderHistoryEntry struct {
	ID          int             `json:"id" db:"id"`
	RiderID     string          `json:"rider_id" db:"rider_id"`
	Type        string          `json:"type" db:"type"` // hold, release, refund
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Source      string          `json:"source" db:"source"`
	ReferenceID string          `json:"reference_id" db:"reference_id"`
	Description string          `json:"description" db:"description"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
