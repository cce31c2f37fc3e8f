package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/zibana/backend/internal/models"
)

// WalletStore owns all balance arithmetic. No other component mutates wallet
// rows directly; every debit and credit flows through the escrow operations.
type WalletStore struct {
	db *sql.DB
}

func NewWalletStore(db *sql.DB) *WalletStore {
	return &WalletStore{db: db}
}

// RiderWalletForUpdateTx loads a rider wallet under a row lock, creating it
// with zero balances on first use.
func (s *WalletStore) RiderWalletForUpdateTx(tx *sql.Tx, riderID, currency string) (*models.RiderWallet, error) {
	wallet, err := scanRiderWallet(tx.QueryRow(selectRiderWalletForUpdate, riderID))
	if err == nil {
		return wallet, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	if _, err := tx.Exec(`
		INSERT INTO rider_wallets (user_id, currency)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING`, riderID, currency); err != nil {
		return nil, fmt.Errorf("create rider wallet: %w", err)
	}

	return scanRiderWallet(tx.QueryRow(selectRiderWalletForUpdate, riderID))
}

// DriverWalletForUpdateTx loads a driver wallet under a row lock, creating it
// with zero balances on first use.
func (s *WalletStore) DriverWalletForUpdateTx(tx *sql.Tx, driverID string) (*models.DriverWallet, error) {
	wallet, err := scanDriverWallet(tx.QueryRow(selectDriverWalletForUpdate, driverID))
	if err == nil {
		return wallet, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	if _, err := tx.Exec(`
		INSERT INTO driver_wallets (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING`, driverID); err != nil {
		return nil, fmt.Errorf("create driver wallet: %w", err)
	}

	return scanDriverWallet(tx.QueryRow(selectDriverWalletForUpdate, driverID))
}

// DriverWalletForUpdateStrictTx is like DriverWalletForUpdateTx but reports
// ErrWalletNotFound instead of creating a missing wallet. Used by withdrawal
// paths where an absent wallet means there is nothing to pay out.
func (s *WalletStore) DriverWalletForUpdateStrictTx(tx *sql.Tx, driverID string) (*models.DriverWallet, error) {
	wallet, err := scanDriverWallet(tx.QueryRow(selectDriverWalletForUpdate, driverID))
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	return wallet, err
}

// CreditDriverPendingTx adds a released escrow earning to the driver's
// pending balance. The caller must already hold the driver wallet row lock.
func (s *WalletStore) CreditDriverPendingTx(tx *sql.Tx, driverID string, amount decimal.Decimal) error {
	_, err := tx.Exec(`
		UPDATE driver_wallets
		SET pending_balance = pending_balance + $1, updated_at = NOW()
		WHERE user_id = $2`, amount, driverID)
	return err
}

// MoveDriverPendingTx moves the driver's entire pending balance into the
// withdrawable and total balances.
func (s *WalletStore) MoveDriverPendingTx(tx *sql.Tx, driverID string, pending decimal.Decimal) error {
	_, err := tx.Exec(`
		UPDATE driver_wallets
		SET pending_balance = 0,
		    withdrawable_balance = withdrawable_balance + $1,
		    balance = balance + $1,
		    updated_at = NOW()
		WHERE user_id = $2`, pending, driverID)
	return err
}

// DebitDriverWithdrawableTx books funds into an outbound transfer by removing
// them from the driver's withdrawable and total balances. The caller must
// already hold the driver wallet row lock.
func (s *WalletStore) DebitDriverWithdrawableTx(tx *sql.Tx, driverID string, amount decimal.Decimal) error {
	_, err := tx.Exec(`
		UPDATE driver_wallets
		SET withdrawable_balance = withdrawable_balance - $1,
		    balance = balance - $1,
		    updated_at = NOW()
		WHERE user_id = $2`, amount, driverID)
	return err
}

// CreditDriverWithdrawableTx returns booked funds to the driver's withdrawable
// and total balances after a transfer fails or is reversed.
func (s *WalletStore) CreditDriverWithdrawableTx(tx *sql.Tx, driverID string, amount decimal.Decimal) error {
	_, err := tx.Exec(`
		UPDATE driver_wallets
		SET withdrawable_balance = withdrawable_balance + $1,
		    balance = balance + $1,
		    updated_at = NOW()
		WHERE user_id = $2`, amount, driverID)
	return err
}

// CreditPlatformCommissionTx adds commission to the platform wallet. The
// platform wallet is a single row created on first use and guarded by the
// same transactional discipline as any other wallet, not in-process state.
func (s *WalletStore) CreditPlatformCommissionTx(tx *sql.Tx, amount decimal.Decimal) error {
	if _, err := tx.Exec(`
		INSERT INTO platform_wallet (id)
		VALUES (1)
		ON CONFLICT (id) DO NOTHING`); err != nil {
		return fmt.Errorf("create platform wallet: %w", err)
	}
	_, err := tx.Exec(`
		UPDATE platform_wallet
		SET commission_balance = commission_balance + $1, updated_at = NOW()
		WHERE id = 1`, amount)
	return err
}

// GetRiderWallet is a read-only lookup with no locking.
func (s *WalletStore) GetRiderWallet(ctx context.Context, riderID string) (*models.RiderWallet, error) {
	wallet, err := scanRiderWallet(s.db.QueryRowContext(ctx, `
		SELECT user_id, balance, locked_balance, simulation_balance, is_tester, currency, updated_at
		FROM rider_wallets
		WHERE user_id = $1`, riderID))
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	return wallet, err
}

const selectRiderWalletForUpdate = `
	SELECT user_id, balance, locked_balance, simulation_balance, is_tester, currency, updated_at
	FROM rider_wallets
	WHERE user_id = $1
	FOR UPDATE`

const selectDriverWalletForUpdate = `
	SELECT user_id, pending_balance, withdrawable_balance, balance, updated_at
	FROM driver_wallets
	WHERE user_id = $1
	FOR UPDATE`

func scanRiderWallet(row *sql.Row) (*models.RiderWallet, error) {
	var w models.RiderWallet
	err := row.Scan(&w.UserID, &w.Balance, &w.LockedBalance, &w.SimulationBalance,
		&w.IsTester, &w.Currency, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func scanDriverWallet(row *sql.Row) (*models.DriverWallet, error) {
	var w models.DriverWallet
	err := row.Scan(&w.UserID, &w.PendingBalance, &w.WithdrawableBalance, &w.Balance, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}
