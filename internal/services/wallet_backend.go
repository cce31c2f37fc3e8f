package services

import (
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/zibana/backend/internal/models"
)

// walletBackend is the ledger mode for one rider: real funds or the isolated
// simulation balance used by tester accounts. Selecting the backend once per
// operation keeps the tester bypass out of the escrow state machine itself.
type walletBackend interface {
	// canLock reports whether the wallet can cover a new escrow lock.
	canLock(w *models.RiderWallet, amount decimal.Decimal) bool
	// escrowAmount is the amount actually held on the escrow record.
	escrowAmount(amount decimal.Decimal) decimal.Decimal
	// checkSettle validates the final fare against the escrowed amount.
	checkSettle(escrowAmount, finalFare decimal.Decimal) error
	lock(tx *sql.Tx, riderID string, amount decimal.Decimal) error
	settle(tx *sql.Tx, riderID string, finalFare, lockedAmount decimal.Decimal) error
	unlock(tx *sql.Tx, riderID string, lockedAmount decimal.Decimal) error
	// describe annotates audit descriptions for this mode.
	describe(desc string) string
}

func backendFor(w *models.RiderWallet) walletBackend {
	if w.IsTester {
		return simulationWalletBackend{}
	}
	return realWalletBackend{}
}

// realWalletBackend moves actual rider funds between the available and locked
// balances.
type realWalletBackend struct{}

func (realWalletBackend) canLock(w *models.RiderWallet, amount decimal.Decimal) bool {
	return w.Available().GreaterThanOrEqual(amount)
}

func (realWalletBackend) escrowAmount(amount decimal.Decimal) decimal.Decimal {
	return amount
}

func (realWalletBackend) checkSettle(escrowAmount, finalFare decimal.Decimal) error {
	// A final fare above the original hold would drive locked_balance
	// negative; the two inputs are reconciled by the caller, not assumed
	// equal.
	if finalFare.GreaterThan(escrowAmount) {
		return fmt.Errorf("final fare %s exceeds escrowed amount %s", finalFare, escrowAmount)
	}
	return nil
}

func (realWalletBackend) lock(tx *sql.Tx, riderID string, amount decimal.Decimal) error {
	_, err := tx.Exec(`
		UPDATE rider_wallets
		SET locked_balance = locked_balance + $1, updated_at = NOW()
		WHERE user_id = $2`, amount, riderID)
	return err
}

func (realWalletBackend) settle(tx *sql.Tx, riderID string, finalFare, lockedAmount decimal.Decimal) error {
	_, err := tx.Exec(`
		UPDATE rider_wallets
		SET balance = balance - $1, locked_balance = locked_balance - $2, updated_at = NOW()
		WHERE user_id = $3`, finalFare, lockedAmount, riderID)
	return err
}

func (realWalletBackend) unlock(tx *sql.Tx, riderID string, lockedAmount decimal.Decimal) error {
	_, err := tx.Exec(`
		UPDATE rider_wallets
		SET locked_balance = locked_balance - $1, updated_at = NOW()
		WHERE user_id = $2`, lockedAmount, riderID)
	return err
}

func (realWalletBackend) describe(desc string) string { return desc }

// simulationWalletBackend serves tester-flagged riders. Real balance columns
// are never touched: locks are skipped (zero-amount escrow), settlement
// debits the simulation balance only, and audit entries carry a bypass
// marker. Environment isolation, not a shortcut.
type simulationWalletBackend struct{}

func (simulationWalletBackend) canLock(*models.RiderWallet, decimal.Decimal) bool { return true }

func (simulationWalletBackend) escrowAmount(decimal.Decimal) decimal.Decimal {
	return decimal.Zero
}

func (simulationWalletBackend) checkSettle(_, _ decimal.Decimal) error { return nil }

func (simulationWalletBackend) lock(*sql.Tx, string, decimal.Decimal) error { return nil }

func (simulationWalletBackend) settle(tx *sql.Tx, riderID string, finalFare, _ decimal.Decimal) error {
	_, err := tx.Exec(`
		UPDATE rider_wallets
		SET simulation_balance = simulation_balance - $1, updated_at = NOW()
		WHERE user_id = $2`, finalFare, riderID)
	return err
}

func (simulationWalletBackend) unlock(*sql.Tx, string, decimal.Decimal) error { return nil }

func (simulationWalletBackend) describe(desc string) string {
	return desc + " (test wallet bypass)"
}
