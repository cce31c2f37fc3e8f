package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiderWallet is the custody record for a rider's prepaid funds.
// Balance and LockedBalance never go negative; the amount available for a new
// escrow lock is Balance - LockedBalance. Tester-flagged riders operate against
// SimulationBalance only and never move real money.
type RiderWallet struct {
	UserID            string          `json:"user_id" db:"user_id"`
	Balance           decimal.Decimal `json:"balance" db:"balance"`
	LockedBalance     decimal.Decimal `json:"locked_balance" db:"locked_balance"`
	SimulationBalance decimal.Decimal `json:"simulation_balance" db:"simulation_balance"`
	IsTester          bool            `json:"is_tester" db:"is_tester"`
	Currency          string          `json:"currency" db:"currency"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// Available is the portion of the balance not locked in an active escrow.
func (w *RiderWallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.LockedBalance)
}

// DriverWallet tracks driver earnings. Pending holds earnings from released
// escrows that are not yet eligible for payout; Withdrawable is eligible for a
// bank transfer; Balance totals the funds currently on the books. Booking a
// payout debits Withdrawable and Balance together, and a failed or reversed
// transfer credits them back.
type DriverWallet struct {
	UserID              string          `json:"user_id" db:"user_id"`
	PendingBalance      decimal.Decimal `json:"pending_balance" db:"pending_balance"`
	WithdrawableBalance decimal.Decimal `json:"withdrawable_balance" db:"withdrawable_balance"`
	Balance             decimal.Decimal `json:"balance" db:"balance"`
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
}

// PlatformWallet is the single row accumulating platform commission. It is
// read and mutated under the same row-locking discipline as any other wallet.
type PlatformWallet struct {
	ID                int             `json:"id" db:"id"`
	CommissionBalance decimal.Decimal `json:"commission_balance" db:"commission_balance"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}
