package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zibana/backend/internal/models"
)

// EscrowService is the fund-custody state machine. Every operation executes
// as one database transaction over the escrow row, the affected wallet rows
// and the audit ledger: concurrent callers are serialized by row locks on the
// escrow record, and the status flip is a compare-and-set checked through
// RowsAffected so a transition can never apply twice.
type EscrowService struct {
	db      *sql.DB
	wallets *WalletStore
	audit   *AuditService
}

func NewEscrowService(db *sql.DB) *EscrowService {
	return &EscrowService{
		db:      db,
		wallets: NewWalletStore(db),
		audit:   NewAuditService(db),
	}
}

// Wallets exposes the wallet store for read-only callers.
func (s *EscrowService) Wallets() *WalletStore {
	return s.wallets
}

// LockFunds creates a locked escrow for a ride and moves the amount into the
// rider's locked balance. The rider wallet is created lazily. On success
// exactly one escrow record and two audit entries exist; on failure nothing
// is left behind.
func (s *EscrowService) LockFunds(ctx context.Context, rideID, riderID string, amount decimal.Decimal, currency string) (string, error) {
	if !amount.IsPositive() {
		return "", errors.New("amount must be positive")
	}
	if currency == "" {
		currency = "NGN"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", s.fail("lock funds", err)
	}
	defer tx.Rollback()

	wallet, err := s.wallets.RiderWalletForUpdateTx(tx, riderID, currency)
	if err != nil {
		return "", s.fail("lock funds", err)
	}

	backend := backendFor(wallet)
	if !backend.canLock(wallet, amount) {
		return "", ErrInsufficientFunds
	}

	if err := backend.lock(tx, riderID, amount); err != nil {
		return "", s.fail("lock funds", err)
	}

	escrowID := uuid.NewString()
	if _, err := tx.Exec(`
		INSERT INTO escrows (id, ride_id, rider_id, amount, currency, status, locked_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'locked', NOW(), NOW(), NOW())`,
		escrowID, rideID, riderID, backend.escrowAmount(amount), currency); err != nil {
		return "", s.fail("lock funds", err)
	}

	desc := backend.describe(fmt.Sprintf("Escrow locked for ride %s", rideID))
	if err := s.audit.LogEventTx(tx, entry(rideID, riderID, models.ActorRider, models.EventEscrowLock, amount, currency, desc)); err != nil {
		return "", s.fail("lock funds", err)
	}
	if err := s.audit.AddRiderHistoryTx(tx, &models.RiderHistoryEntry{
		RiderID:     riderID,
		Type:        "hold",
		Amount:      amount,
		Source:      "trip",
		ReferenceID: rideID,
		Description: backend.describe("Escrow locked for ride"),
	}); err != nil {
		return "", s.fail("lock funds", err)
	}

	if err := tx.Commit(); err != nil {
		return "", s.fail("lock funds", err)
	}

	log.Printf("[ESCROW] Locked %s %s for ride %s (escrow %s)", amount, currency, rideID, escrowID)
	return escrowID, nil
}

// ReleaseFunds settles a locked or held escrow: the rider pays the final
// fare, the driver's pending balance receives fare minus commission, and the
// platform wallet receives the commission. A second release of the same
// escrow observes ErrInvalidEscrowState and changes nothing.
func (s *EscrowService) ReleaseFunds(ctx context.Context, escrowID, driverID string, finalFare, platformCommission decimal.Decimal) error {
	if !finalFare.IsPositive() {
		return errors.New("final fare must be positive")
	}
	if platformCommission.IsNegative() {
		return errors.New("platform commission must not be negative")
	}
	earning := finalFare.Sub(platformCommission)
	if earning.IsNegative() {
		return errors.New("platform commission exceeds final fare")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail("release funds", err)
	}
	defer tx.Rollback()

	escrow, err := s.escrowForUpdateTx(tx, escrowID)
	if err != nil {
		return err
	}
	if escrow.Status != models.EscrowLocked && escrow.Status != models.EscrowHeld {
		return ErrInvalidEscrowState
	}

	wallet, err := s.wallets.RiderWalletForUpdateTx(tx, escrow.RiderID, escrow.Currency)
	if err != nil {
		return s.fail("release funds", err)
	}
	backend := backendFor(wallet)

	if err := backend.checkSettle(escrow.Amount, finalFare); err != nil {
		return err
	}
	if err := backend.settle(tx, escrow.RiderID, finalFare, escrow.Amount); err != nil {
		return s.fail("release funds", err)
	}

	if _, err := s.wallets.DriverWalletForUpdateTx(tx, driverID); err != nil {
		return s.fail("release funds", err)
	}
	if err := s.wallets.CreditDriverPendingTx(tx, driverID, earning); err != nil {
		return s.fail("release funds", err)
	}

	if err := s.wallets.CreditPlatformCommissionTx(tx, platformCommission); err != nil {
		return s.fail("release funds", err)
	}

	// The status flip is the final mutation and the commit point of the
	// whole release.
	res, err := tx.Exec(`
		UPDATE escrows
		SET status = 'released', released_at = NOW(), release_to_driver_id = $2,
		    release_amount = $3, platform_amount = $4, updated_at = NOW()
		WHERE id = $1 AND status IN ('locked', 'held')`,
		escrowID, driverID, earning, platformCommission)
	if err != nil {
		return s.fail("release funds", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrInvalidEscrowState
	}

	desc := backend.describe(fmt.Sprintf("Escrow released: driver earning %s", earning))
	if err := s.audit.LogEventTx(tx, entry(escrow.RideID, driverID, models.ActorSystem, models.EventEscrowRelease, earning, escrow.Currency, desc)); err != nil {
		return s.fail("release funds", err)
	}
	if err := s.audit.LogEventTx(tx, entry(escrow.RideID, "ZIBANA", models.ActorSystem, models.EventCommission, platformCommission, escrow.Currency,
		fmt.Sprintf("Platform commission %s", platformCommission))); err != nil {
		return s.fail("release funds", err)
	}

	if err := tx.Commit(); err != nil {
		return s.fail("release funds", err)
	}

	log.Printf("[ESCROW] Released escrow %s: driver %s earns %s, commission %s", escrowID, driverID, earning, platformCommission)
	return nil
}

// HoldForDispute moves a locked escrow to held and records the dispute. No
// money moves. A repeat call with the same dispute id succeeds without
// re-applying the transition.
func (s *EscrowService) HoldForDispute(ctx context.Context, escrowID, disputeID string) error {
	if disputeID == "" {
		return errors.New("dispute id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail("hold funds", err)
	}
	defer tx.Rollback()

	escrow, err := s.escrowForUpdateTx(tx, escrowID)
	if err != nil {
		return err
	}
	if escrow.Status == models.EscrowHeld && escrow.DisputeID == disputeID {
		return nil
	}
	if escrow.Status != models.EscrowLocked {
		return ErrInvalidEscrowState
	}

	res, err := tx.Exec(`
		UPDATE escrows
		SET status = 'held', held_at = NOW(), dispute_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'locked'`, escrowID, disputeID)
	if err != nil {
		return s.fail("hold funds", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrInvalidEscrowState
	}

	if err := s.audit.LogEventTx(tx, entry(escrow.RideID, escrow.RiderID, models.ActorSystem, models.EventEscrowHold, escrow.Amount, escrow.Currency,
		fmt.Sprintf("Escrow held for dispute %s", disputeID))); err != nil {
		return s.fail("hold funds", err)
	}

	if err := tx.Commit(); err != nil {
		return s.fail("hold funds", err)
	}

	log.Printf("[ESCROW] Held escrow %s for dispute %s", escrowID, disputeID)
	return nil
}

// RefundToRider returns a locked or held escrow to the rider by unlocking the
// escrowed amount. Driver and platform wallets are untouched; commission
// already taken is deliberately not reversed here.
func (s *EscrowService) RefundToRider(ctx context.Context, escrowID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.fail("refund", err)
	}
	defer tx.Rollback()

	escrow, err := s.escrowForUpdateTx(tx, escrowID)
	if err != nil {
		return err
	}
	if escrow.Status != models.EscrowLocked && escrow.Status != models.EscrowHeld {
		return ErrInvalidEscrowState
	}

	wallet, err := s.wallets.RiderWalletForUpdateTx(tx, escrow.RiderID, escrow.Currency)
	if err != nil {
		return s.fail("refund", err)
	}
	backend := backendFor(wallet)

	if err := backend.unlock(tx, escrow.RiderID, escrow.Amount); err != nil {
		return s.fail("refund", err)
	}

	res, err := tx.Exec(`
		UPDATE escrows
		SET status = 'refunded', released_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('locked', 'held')`, escrowID)
	if err != nil {
		return s.fail("refund", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrInvalidEscrowState
	}

	desc := backend.describe("Full refund to rider")
	if err := s.audit.LogEventTx(tx, entry(escrow.RideID, escrow.RiderID, models.ActorSystem, models.EventRefund, escrow.Amount, escrow.Currency, desc)); err != nil {
		return s.fail("refund", err)
	}
	if err := s.audit.AddRiderHistoryTx(tx, &models.RiderHistoryEntry{
		RiderID:     escrow.RiderID,
		Type:        "refund",
		Amount:      escrow.Amount,
		Source:      "refund",
		ReferenceID: escrow.RideID,
		Description: desc,
	}); err != nil {
		return s.fail("refund", err)
	}

	if err := tx.Commit(); err != nil {
		return s.fail("refund", err)
	}

	log.Printf("[ESCROW] Refunded escrow %s to rider %s", escrowID, escrow.RiderID)
	return nil
}

// MoveToWithdrawable moves the driver's entire pending balance into the
// withdrawable and total balances and returns the amount moved.
func (s *EscrowService) MoveToWithdrawable(ctx context.Context, driverID string) (decimal.Decimal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, s.fail("move pending balance", err)
	}
	defer tx.Rollback()

	wallet, err := s.wallets.DriverWalletForUpdateStrictTx(tx, driverID)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return decimal.Zero, err
		}
		return decimal.Zero, s.fail("move pending balance", err)
	}

	if !wallet.PendingBalance.IsPositive() {
		return decimal.Zero, ErrNothingPending
	}

	if err := s.wallets.MoveDriverPendingTx(tx, driverID, wallet.PendingBalance); err != nil {
		return decimal.Zero, s.fail("move pending balance", err)
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, s.fail("move pending balance", err)
	}

	log.Printf("[ESCROW] Moved %s pending to withdrawable for driver %s", wallet.PendingBalance, driverID)
	return wallet.PendingBalance, nil
}

// GetEscrowByRideID is a read-only lookup. Returns (nil, nil) when no escrow
// exists for the ride.
func (s *EscrowService) GetEscrowByRideID(ctx context.Context, rideID string) (*models.Escrow, error) {
	escrow, err := scanEscrow(s.db.QueryRowContext(ctx, `
		SELECT id, ride_id, rider_id, amount, currency, status,
		       COALESCE(dispute_id, ''), COALESCE(release_to_driver_id, ''),
		       COALESCE(release_amount, 0), COALESCE(platform_amount, 0),
		       locked_at, held_at, released_at, created_at, updated_at
		FROM escrows
		WHERE ride_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, rideID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail("fetch escrow", err)
	}
	return escrow, nil
}

func (s *EscrowService) escrowForUpdateTx(tx *sql.Tx, escrowID string) (*models.Escrow, error) {
	escrow, err := scanEscrow(tx.QueryRow(`
		SELECT id, ride_id, rider_id, amount, currency, status,
		       COALESCE(dispute_id, ''), COALESCE(release_to_driver_id, ''),
		       COALESCE(release_amount, 0), COALESCE(platform_amount, 0),
		       locked_at, held_at, released_at, created_at, updated_at
		FROM escrows
		WHERE id = $1
		FOR UPDATE`, escrowID))
	if err == sql.ErrNoRows {
		return nil, ErrInvalidEscrowState
	}
	if err != nil {
		return nil, s.fail("fetch escrow", err)
	}
	return escrow, nil
}

func scanEscrow(row *sql.Row) (*models.Escrow, error) {
	var e models.Escrow
	err := row.Scan(&e.ID, &e.RideID, &e.RiderID, &e.Amount, &e.Currency, &e.Status,
		&e.DisputeID, &e.ReleaseToDriverID, &e.ReleaseAmount, &e.PlatformAmount,
		&e.LockedAt, &e.HeldAt, &e.ReleasedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// fail logs the technical cause server-side and hands the caller a generic
// failure so retry policy stays with the coordinator.
func (s *EscrowService) fail(verb string, err error) error {
	log.Printf("[ESCROW] Failed to %s: %v", verb, err)
	return fmt.Errorf("failed to %s", verb)
}
