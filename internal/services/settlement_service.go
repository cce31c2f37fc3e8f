package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"github.com/zibana/backend/internal/models"
	"github.com/zibana/backend/internal/payout"
)

// reconcileQueueKey is the Redis list of transfer references awaiting a
// status poll against their provider.
const reconcileQueueKey = "payout_reconcile_queue"

// SettlementService sequences escrow and payout calls in response to trip,
// dispute and withdrawal lifecycle events. It owns the transfer records that
// correlate payout attempts across retries, polls and webhooks.
type SettlementService struct {
	db      *sql.DB
	redis   *redis.Client
	escrow  *EscrowService
	payouts *payout.Selector
	wallets *WalletStore
	audit   *AuditService
}

func NewSettlementService(db *sql.DB, redisClient *redis.Client, escrow *EscrowService, payouts *payout.Selector) *SettlementService {
	return &SettlementService{
		db:      db,
		redis:   redisClient,
		escrow:  escrow,
		payouts: payouts,
		wallets: NewWalletStore(db),
		audit:   NewAuditService(db),
	}
}

// OnTripRequested locks custody funds for a newly requested ride.
func (s *SettlementService) OnTripRequested(ctx context.Context, rideID, riderID string, amount decimal.Decimal, currency string) (string, error) {
	return s.escrow.LockFunds(ctx, rideID, riderID, amount, currency)
}

// OnTripCompleted releases the ride's escrow to the driver and the platform.
func (s *SettlementService) OnTripCompleted(ctx context.Context, rideID, driverID string, finalFare, platformCommission decimal.Decimal) error {
	escrow, err := s.escrow.GetEscrowByRideID(ctx, rideID)
	if err != nil {
		return err
	}
	if escrow == nil {
		return ErrInvalidEscrowState
	}
	return s.escrow.ReleaseFunds(ctx, escrow.ID, driverID, finalFare, platformCommission)
}

// OnDisputeOpened holds the ride's escrow until the dispute resolves.
func (s *SettlementService) OnDisputeOpened(ctx context.Context, rideID, disputeID string) error {
	escrow, err := s.escrow.GetEscrowByRideID(ctx, rideID)
	if err != nil {
		return err
	}
	if escrow == nil {
		return ErrInvalidEscrowState
	}
	return s.escrow.HoldForDispute(ctx, escrow.ID, disputeID)
}

// OnDisputeResolved settles a held escrow: refund to the rider, or release to
// the driver at the adjudicated fare.
func (s *SettlementService) OnDisputeResolved(ctx context.Context, rideID string, refundRider bool, driverID string, finalFare, platformCommission decimal.Decimal) error {
	escrow, err := s.escrow.GetEscrowByRideID(ctx, rideID)
	if err != nil {
		return err
	}
	if escrow == nil {
		return ErrInvalidEscrowState
	}
	if refundRider {
		return s.escrow.RefundToRider(ctx, escrow.ID)
	}
	return s.escrow.ReleaseFunds(ctx, escrow.ID, driverID, finalFare, platformCommission)
}

// WithdrawalRequest asks for the driver's pending earnings to be made
// withdrawable and paid out to a bank account.
type WithdrawalRequest struct {
	DriverID      string `json:"driverId" validate:"required"`
	CountryCode   string `json:"countryCode" validate:"required,len=2"`
	BankCode      string `json:"bankCode" validate:"required,min=3,max=6"`
	AccountNumber string `json:"accountNumber" validate:"required,min=10,max=20"`
	Narration     string `json:"narration" validate:"max=200"`
}

// RequestWithdrawal verifies the destination account, sweeps the driver's
// pending earnings into withdrawable, books the full withdrawable balance
// into a pending transfer under a fresh idempotency reference and submits it
// to the selected provider. Booking debits the wallet up front; the funds
// come back only if the transfer fails or is reversed. A provider outage
// leaves the record pending with its reference queued for reconciliation; a
// rejection marks it failed.
func (s *SettlementService) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (*models.Transfer, error) {
	if _, known := payout.BankName(req.BankCode); !known {
		return nil, fmt.Errorf("unknown bank code %s", req.BankCode)
	}

	provider := s.payouts.ForCountry(req.CountryCode)

	verification, err := provider.VerifyBankAccount(ctx, req.BankCode, req.AccountNumber)
	if err != nil {
		return nil, err
	}

	reference := payout.GenerateReference()
	amount, err := s.bookWithdrawal(ctx, req, provider.Name(), verification.AccountName, reference)
	if err != nil {
		return nil, err
	}

	transfer := &models.Transfer{
		Reference:     reference,
		DriverID:      req.DriverID,
		Provider:      provider.Name(),
		BankCode:      req.BankCode,
		AccountNumber: req.AccountNumber,
		AccountName:   verification.AccountName,
		Amount:        amount,
		Currency:      "NGN",
		Status:        models.TransferPending,
		Narration:     req.Narration,
	}

	result, err := provider.InitiateTransfer(ctx, payout.TransferParams{
		Amount:        amount,
		BankCode:      req.BankCode,
		AccountNumber: req.AccountNumber,
		AccountName:   verification.AccountName,
		Reference:     reference,
		Narration:     req.Narration,
	})
	if err != nil {
		if errors.Is(err, payout.ErrUnavailable) {
			// The provider may still have accepted the transfer; keep the
			// record pending and let reconciliation find out.
			s.queueReconciliation(reference)
			return transfer, err
		}
		if applyErr := s.ApplyProviderStatus(ctx, reference, models.TransferFailed, ""); applyErr != nil {
			log.Printf("[SETTLEMENT] Failed to mark transfer %s failed: %v", reference, applyErr)
		}
		transfer.Status = models.TransferFailed
		return transfer, err
	}

	if applyErr := s.ApplyProviderStatus(ctx, reference, result.Status, result.ProviderReference); applyErr != nil {
		log.Printf("[SETTLEMENT] Failed to store provider result for %s: %v", reference, applyErr)
	}
	transfer.Status = result.Status
	transfer.ProviderReference = result.ProviderReference

	if result.Status == models.TransferPending {
		s.queueReconciliation(reference)
	}

	log.Printf("[SETTLEMENT] Withdrawal %s for driver %s: %s %s via %s, status %s",
		reference, req.DriverID, amount, transfer.Currency, provider.Name(), transfer.Status)
	return transfer, nil
}

// bookWithdrawal sweeps the driver's pending earnings into withdrawable,
// debits the full withdrawable balance and records a pending transfer for it,
// all under one wallet row lock. The debited amount is returned.
func (s *SettlementService) bookWithdrawal(ctx context.Context, req WithdrawalRequest, provider, accountName, reference string) (decimal.Decimal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("[SETTLEMENT] Failed to begin withdrawal for driver %s: %v", req.DriverID, err)
		return decimal.Zero, errors.New("failed to record transfer")
	}
	defer tx.Rollback()

	wallet, err := s.wallets.DriverWalletForUpdateStrictTx(tx, req.DriverID)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return decimal.Zero, err
		}
		log.Printf("[SETTLEMENT] Failed to fetch wallet for driver %s: %v", req.DriverID, err)
		return decimal.Zero, errors.New("failed to record transfer")
	}

	if wallet.PendingBalance.IsPositive() {
		if err := s.wallets.MoveDriverPendingTx(tx, req.DriverID, wallet.PendingBalance); err != nil {
			log.Printf("[SETTLEMENT] Failed to move pending for driver %s: %v", req.DriverID, err)
			return decimal.Zero, errors.New("failed to record transfer")
		}
	}

	amount := wallet.WithdrawableBalance.Add(wallet.PendingBalance)
	if !amount.IsPositive() {
		return decimal.Zero, ErrNothingPending
	}

	if err := s.wallets.DebitDriverWithdrawableTx(tx, req.DriverID, amount); err != nil {
		log.Printf("[SETTLEMENT] Failed to debit wallet for driver %s: %v", req.DriverID, err)
		return decimal.Zero, errors.New("failed to record transfer")
	}

	if _, err := tx.Exec(`
		INSERT INTO transfers (reference, driver_id, provider, bank_code, account_number, account_name, amount, currency, status, narration, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', $9, NOW(), NOW())`,
		reference, req.DriverID, provider, req.BankCode, req.AccountNumber,
		accountName, amount, "NGN", req.Narration); err != nil {
		log.Printf("[SETTLEMENT] Failed to record transfer %s: %v", reference, err)
		return decimal.Zero, errors.New("failed to record transfer")
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[SETTLEMENT] Failed to commit withdrawal %s: %v", reference, err)
		return decimal.Zero, errors.New("failed to record transfer")
	}
	return amount, nil
}

// ApplyProviderStatus records a provider-reported status for a transfer.
// Failed and reversed records are never regressed and a settled record only
// moves to reversed, so late or duplicated webhooks and polls are safe to
// apply. A transfer entering failed or reversed returns its booked amount to
// the driver's withdrawable balance.
func (s *SettlementService) ApplyProviderStatus(ctx context.Context, reference string, status models.TransferStatus, providerReference string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to update transfer: %w", err)
	}
	defer tx.Rollback()

	current, err := s.transferForUpdateTx(tx, reference)
	if err != nil {
		return err
	}
	if current.Status.Terminal() || current.Status == status {
		return nil
	}
	if current.Status == models.TransferSuccess && status != models.TransferReversed {
		return nil
	}

	if _, err := tx.Exec(`
		UPDATE transfers
		SET status = $2, provider_reference = COALESCE(NULLIF($3, ''), provider_reference), updated_at = NOW()
		WHERE reference = $1`, reference, status, providerReference); err != nil {
		log.Printf("[SETTLEMENT] Failed to update transfer %s: %v", reference, err)
		return errors.New("failed to update transfer")
	}

	if status == models.TransferFailed || status == models.TransferReversed {
		// The payout did not happen, or the provider clawed it back. Put the
		// booked funds back where a fresh withdrawal can pick them up.
		if err := s.wallets.CreditDriverWithdrawableTx(tx, current.DriverID, current.Amount); err != nil {
			log.Printf("[SETTLEMENT] Failed to refund wallet for transfer %s: %v", reference, err)
			return errors.New("failed to update transfer")
		}
	}

	if err := s.audit.LogEventTx(tx, entry("", current.DriverID, models.ActorSystem, models.EventTransfer,
		current.Amount, current.Currency,
		fmt.Sprintf("Transfer %s status %s via %s", reference, status, current.Provider))); err != nil {
		log.Printf("[SETTLEMENT] Failed to audit transfer %s: %v", reference, err)
		return errors.New("failed to update transfer")
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[SETTLEMENT] Failed to commit transfer update %s: %v", reference, err)
		return errors.New("failed to update transfer")
	}

	log.Printf("[SETTLEMENT] Transfer %s -> %s", reference, status)
	return nil
}

// ReconcileTransfer polls the originating provider for a non-terminal
// transfer and applies the result.
func (s *SettlementService) ReconcileTransfer(ctx context.Context, reference string) error {
	transfer, err := s.GetTransfer(ctx, reference)
	if err != nil {
		return err
	}
	if transfer.Status.Terminal() {
		return nil
	}

	provider := s.payouts.ByName(transfer.Provider)
	status, err := provider.GetTransferStatus(ctx, reference)
	if err != nil {
		return err
	}
	return s.ApplyProviderStatus(ctx, reference, status.Status, "")
}

// ProcessReconcileQueue drains the reconciliation queue once. References that
// fail with a provider outage are requeued; the count of successfully
// reconciled transfers is returned.
func (s *SettlementService) ProcessReconcileQueue(ctx context.Context) int {
	if s.redis == nil {
		return 0
	}

	processed := 0
	for {
		reference, err := s.redis.LPop(ctx, reconcileQueueKey).Result()
		if err == redis.Nil {
			return processed
		}
		if err != nil {
			log.Printf("[SETTLEMENT] Reconcile queue read failed: %v", err)
			return processed
		}

		if err := s.ReconcileTransfer(ctx, reference); err != nil {
			log.Printf("[SETTLEMENT] Reconcile %s failed: %v", reference, err)
			if errors.Is(err, payout.ErrUnavailable) {
				s.queueReconciliation(reference)
			}
			continue
		}
		processed++
	}
}

// GetTransfer returns the stored record for one payout attempt.
func (s *SettlementService) GetTransfer(ctx context.Context, reference string) (*models.Transfer, error) {
	transfer, err := scanTransfer(s.db.QueryRowContext(ctx, selectTransfer+` WHERE reference = $1`, reference))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transfer %s not found", reference)
	}
	if err != nil {
		log.Printf("[SETTLEMENT] Failed to fetch transfer %s: %v", reference, err)
		return nil, errors.New("failed to fetch transfer")
	}
	return transfer, nil
}

func (s *SettlementService) transferForUpdateTx(tx *sql.Tx, reference string) (*models.Transfer, error) {
	transfer, err := scanTransfer(tx.QueryRow(selectTransfer+` WHERE reference = $1 FOR UPDATE`, reference))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transfer %s not found", reference)
	}
	if err != nil {
		log.Printf("[SETTLEMENT] Failed to fetch transfer %s: %v", reference, err)
		return nil, errors.New("failed to fetch transfer")
	}
	return transfer, nil
}

func (s *SettlementService) queueReconciliation(reference string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.RPush(context.Background(), reconcileQueueKey, reference).Err(); err != nil {
		log.Printf("[SETTLEMENT] Failed to queue %s for reconciliation: %v", reference, err)
	}
}

const selectTransfer = `
	SELECT reference, driver_id, provider, bank_code, account_number, account_name,
	       amount, currency, status, COALESCE(provider_reference, ''), COALESCE(narration, ''),
	       created_at, updated_at
	FROM transfers`

func scanTransfer(row *sql.Row) (*models.Transfer, error) {
	var t models.Transfer
	err := row.Scan(&t.Reference, &t.DriverID, &t.Provider, &t.BankCode, &t.AccountNumber,
		&t.AccountName, &t.Amount, &t.Currency, &t.Status, &t.ProviderReference,
		&t.Narration, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
