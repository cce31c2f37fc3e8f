package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferStatus is the canonical payout status vocabulary. Provider-specific
// statuses are mapped into this set at the provider boundary.
type TransferStatus string

const (
	TransferPending  TransferStatus = "pending"
	TransferSuccess  TransferStatus = "success"
	TransferFailed   TransferStatus = "failed"
	TransferReversed TransferStatus = "reversed"
)

// Terminal reports whether the status can no longer change. A settled
// transfer is not terminal because the provider can still reverse it; failed
// and reversed are final, and a failed transfer is retried under a fresh
// reference.
func (s TransferStatus) Terminal() bool {
	return s == TransferFailed || s == TransferReversed
}

// Transfer is one payout attempt toward a driver's bank account. Reference is
// the caller-generated idempotency key and the correlation key across retries,
// webhooks and status polls.
type Transfer struct {
	Reference         string          `json:"reference" db:"reference"`
	DriverID          string          `json:"driver_id" db:"driver_id"`
	Provider          string          `json:"provider" db:"provider"`
	BankCode          string          `json:"bank_code" db:"bank_code"`
	AccountNumber     string          `json:"account_number" db:"account_number"`
	AccountName       string          `json:"account_name" db:"account_name"`
	Amount            decimal.Decimal `json:"amount" db:"amount"`
	Currency          string          `json:"currency" db:"currency"`
	Status            TransferStatus  `json:"status" db:"status"`
	ProviderReference string          `json:"provider_reference,omitempty" db:"provider_reference"`
	Narration         string          `json:"narration,omitempty" db:"narration"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}
