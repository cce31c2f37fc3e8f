package services

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"github.com/zibana/backend/internal/models"
)

// AuditService appends to the financial audit ledger and the rider-facing
// transaction history. Writes go through the caller's transaction so an audit
// row commits with the mutation it describes, never without it.
type AuditService struct {
	db *sql.DB
}

func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// LogEventTx appends one audit entry inside tx.
func (a *AuditService) LogEventTx(tx *sql.Tx, e *models.AuditLogEntry) error {
	currency := e.Currency
	if currency == "" {
		currency = "NGN"
	}
	_, err := tx.Exec(`
		INSERT INTO financial_audit_logs (ride_id, user_id, actor_role, event_type, amount, currency, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		e.RideID, e.UserID, e.ActorRole, e.EventType, e.Amount, currency, e.Description)
	return err
}

// AddRiderHistoryTx appends one rider transaction-history entry inside tx.
func (a *AuditService) AddRiderHistoryTx(tx *sql.Tx, e *models.RiderHistoryEntry) error {
	_, err := tx.Exec(`
		INSERT INTO rider_transaction_history (rider_id, type, amount, source, reference_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		e.RiderID, e.Type, e.Amount, e.Source, e.ReferenceID, e.Description)
	return err
}

// RideEvents returns the audit trail for one ride, oldest first.
func (a *AuditService) RideEvents(ctx context.Context, rideID string) ([]models.AuditLogEntry, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, ride_id, user_id, actor_role, event_type, amount, currency, description, created_at
		FROM financial_audit_logs
		WHERE ride_id = $1
		ORDER BY created_at ASC, id ASC`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.AuditLogEntry{}
	for rows.Next() {
		var e models.AuditLogEntry
		if err := rows.Scan(&e.ID, &e.RideID, &e.UserID, &e.ActorRole, &e.EventType,
			&e.Amount, &e.Currency, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// entry is a shorthand constructor used by the escrow and settlement paths.
func entry(rideID, userID, role, eventType string, amount decimal.Decimal, currency, description string) *models.AuditLogEntry {
	return &models.AuditLogEntry{
		RideID:      rideID,
		UserID:      userID,
		ActorRole:   role,
		EventType:   eventType,
		Amount:      amount,
		Currency:    currency,
		Description: description,
	}
}
